// Package notifier delivers confirmed alerts. Sends are fire-and-forget
// from the scan loop's point of view: failures are logged, never fatal.
package notifier

import (
	"context"
	"log"
)

// Notifier sends one formatted alert message.
type Notifier interface {
	Name() string
	Send(ctx context.Context, title, message string) error
}

// Multi fans a message out to every configured notifier.
type Multi struct {
	notifiers []Notifier
}

// NewMulti drops nil entries.
func NewMulti(notifiers ...Notifier) *Multi {
	m := &Multi{}
	for _, n := range notifiers {
		if n != nil {
			m.notifiers = append(m.notifiers, n)
		}
	}
	return m
}

// Enabled reports whether any transport is configured.
func (m *Multi) Enabled() bool { return len(m.notifiers) > 0 }

// Send delivers to all transports, logging per-transport failures.
func (m *Multi) Send(ctx context.Context, title, message string) {
	for _, n := range m.notifiers {
		if err := n.Send(ctx, title, message); err != nil {
			log.Printf("[ERROR] %s notify: %v", n.Name(), err)
		}
	}
}
