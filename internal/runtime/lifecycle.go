package runtime

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
)

// Service is one unit of the daemon hosted by the ServiceHost.
type Service interface {
	Start(ctx context.Context) error
	Shutdown(ctx context.Context) error
}

// Lifecycle fans a single shutdown signal out to everything blocked on Done.
// Shutdown is idempotent.
type Lifecycle struct {
	shutdownOnce sync.Once
	shutdownChan chan struct{}
}

func NewLifecycle() *Lifecycle {
	return &Lifecycle{shutdownChan: make(chan struct{})}
}

// Done returns a channel closed once shutdown has been requested.
func (l *Lifecycle) Done() <-chan struct{} {
	return l.shutdownChan
}

// Shutdown requests termination. Safe to call more than once.
func (l *Lifecycle) Shutdown() {
	l.shutdownOnce.Do(func() { close(l.shutdownChan) })
}

// WritePIDFile records pid at pidFile, creating the parent directory. The
// file is owner-only: it gates the single-instance check.
func WritePIDFile(pidFile string, pid int) error {
	if pidFile == "" {
		return fmt.Errorf("pid file path is empty")
	}

	if err := os.MkdirAll(filepath.Dir(pidFile), 0o755); err != nil {
		return fmt.Errorf("failed to create pid directory: %w", err)
	}

	if err := os.WriteFile(pidFile, []byte(strconv.Itoa(pid)), 0o600); err != nil {
		return fmt.Errorf("failed to write pid file: %w", err)
	}

	return nil
}

// RemovePIDFile deletes the pid file, ignoring a missing one.
func RemovePIDFile(pidFile string) {
	if pidFile == "" {
		return
	}
	_ = os.Remove(pidFile)
}
