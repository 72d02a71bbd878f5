// Package notify is the fire-and-forget notification collaborator.
// Delivery failure is logged and never rolls back a business transition.
package notify

import (
	"log"
	"time"
)

// Event is the payload delivered to a recipient group.
type Event struct {
	Type       string    `json:"type"`
	EntityKind string    `json:"entity_kind"`
	EntityID   uint      `json:"entity_id"`
	MemberNo   string    `json:"member_no,omitempty"`
	Message    string    `json:"message,omitempty"`
	At         time.Time `json:"at"`
}

// Notifier dispatches events to a recipient group.
type Notifier interface {
	Notify(group string, event Event) error
}

// Fire dispatches best-effort: a nil notifier is a no-op and errors only
// get logged.
func Fire(n Notifier, group string, event Event) {
	if n == nil {
		return
	}
	if event.At.IsZero() {
		event.At = time.Now()
	}
	if err := n.Notify(group, event); err != nil {
		log.Printf("notify %s %s: %v", group, event.Type, err)
	}
}

// Nop discards all events. Used by tests and dev mode without brokers.
type Nop struct{}

// Notify implements Notifier.
func (Nop) Notify(string, Event) error { return nil }
