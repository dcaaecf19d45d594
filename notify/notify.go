// Package notify emits notification intents. An intent records that someone
// should be told about an incident transition; actual delivery (push, chat,
// email) is owned by downstream consumers reading the queue, not by this
// process.
package notify

import (
	"context"
	"time"
)

// Intent kinds, one per incident transition worth telling a human about.
const (
	KindIncidentCreated      = "incident_created"
	KindIncidentAssigned     = "incident_assigned"
	KindIncidentEscalated    = "incident_escalated"
	KindIncidentAcknowledged = "incident_acknowledged"
	KindIncidentResolved     = "incident_resolved"
)

// Intent is the queued record handed to notification consumers.
type Intent struct {
	Kind         string    `json:"kind"`
	IncidentID   string    `json:"incident_id"`
	TargetUserID string    `json:"target_user_id,omitempty"`
	Title        string    `json:"title,omitempty"`
	Severity     string    `json:"severity,omitempty"`
	Urgency      string    `json:"urgency,omitempty"`
	Level        int       `json:"level,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Emitter hands an intent to a delivery channel. Implementations must be safe
// for concurrent use.
type Emitter interface {
	Emit(ctx context.Context, intent Intent) error
}

// Multi fans one intent out to several emitters. Every emitter is attempted;
// the first error is returned after the fan-out finishes.
func Multi(emitters ...Emitter) Emitter {
	return multi(emitters)
}

type multi []Emitter

func (m multi) Emit(ctx context.Context, intent Intent) error {
	var firstErr error
	for _, e := range m {
		if err := e.Emit(ctx, intent); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Nop discards intents. Used where a deployment runs without a queue.
type Nop struct{}

func (Nop) Emit(context.Context, Intent) error { return nil }
