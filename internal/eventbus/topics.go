package eventbus

import (
	"context"
)

// TopicDef binds a Topic string to a payload type T at compile time.
// Use with Publish for type-safe messaging.
type TopicDef[T any] struct{ topic Topic }

// NewTopicDef creates a typed topic descriptor for the given topic string.
func NewTopicDef[T any](topic Topic) TopicDef[T] { return TopicDef[T]{topic: topic} }

// Topic returns the underlying topic string.
func (d TopicDef[T]) Topic() Topic { return d.topic }

// Destinations groups registry-facing topic descriptors.
var Destinations = struct {
	Changed TopicDef[DestinationsChangedEvent]
	Active  TopicDef[ActiveDestinationEvent]
}{
	Changed: NewTopicDef[DestinationsChangedEvent](TopicDestinationsChanged),
	Active:  NewTopicDef[ActiveDestinationEvent](TopicDestinationActive),
}

// Switch groups handshake topic descriptors.
var Switch = struct {
	Pending TopicDef[SwitchPendingEvent]
}{
	Pending: NewTopicDef[SwitchPendingEvent](TopicSwitchPending),
}

// Notify groups user-notification topic descriptors.
var Notify = struct {
	User TopicDef[UserNoticeEvent]
}{
	User: NewTopicDef[UserNoticeEvent](TopicNotifyUser),
}

// Publish sends a typed payload on the bus using the topic descriptor.
// The compiler enforces that payload matches the type bound to the descriptor.
// If bus is nil the call is a no-op.
func Publish[T any](ctx context.Context, bus *Bus, td TopicDef[T], source Source, payload T) {
	if bus == nil {
		return
	}
	bus.publish(ctx, Envelope{
		Topic:   td.topic,
		Source:  source,
		Payload: payload,
	})
}
