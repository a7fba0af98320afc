package eventbus

import (
	"time"
)

// Topic identifies a logical channel on the bus.
type Topic string

const (
	TopicDestinationsChanged Topic = "destinations.changed"
	TopicDestinationActive   Topic = "destination.active"
	TopicSwitchPending       Topic = "switch.pending"
	TopicNotifyUser          Topic = "notify.user"
)

// Source describes which component produced an event.
type Source string

const (
	SourceSwitchboard Source = "switchboard"
	SourceRegistry    Source = "registry"
	SourceServer      Source = "server"
	SourceUnknown     Source = "unknown"
)

// Envelope wraps every message published on the bus.
type Envelope struct {
	Topic     Topic
	Timestamp time.Time
	Source    Source
	Payload   any
}

// DestinationSummary is the observer-safe view of a destination.
// Credential material never appears here.
type DestinationSummary struct {
	ID        string `json:"id"`
	Label     string `json:"label"`
	Protected bool   `json:"protected"`
}

// DestinationsChangedEvent carries the full ordered destination list after
// a registry edit or an applied switch.
type DestinationsChangedEvent struct {
	Destinations []DestinationSummary `json:"destinations"`
	ActiveID     string               `json:"activeId"`
}

// ActiveDestinationEvent announces the currently active destination.
type ActiveDestinationEvent struct {
	ID string `json:"id"`
}

// SwitchPendingEvent asks a single observer to collect a password for a
// protected target. The hub delivers it only to the named observer.
type SwitchPendingEvent struct {
	ObserverID string `json:"observerId"`
	TargetID   string `json:"targetId"`
}

// UserNoticeEvent relays a user-facing notification to observers.
type UserNoticeEvent struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}
