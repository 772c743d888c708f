// Package events publishes swap lifecycle events.
package events

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Swap lifecycle event types.
const (
	SwapCreated   = "swap.created"
	SwapAccepted  = "swap.accepted"
	SwapDeclined  = "swap.declined"
	SwapCompleted = "swap.completed"
	SwapCancelled = "swap.cancelled"
	SwapExpired   = "swap.expired"
)

// Event describes one state change of a swap request.
type Event struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	SwapID     int64     `json:"swapId"`
	ItemID     int64     `json:"itemId,omitempty"`
	ActorID    int64     `json:"actorId,omitempty"`
	Status     string    `json:"status"`
	Points     int       `json:"points,omitempty"`
	OccurredAt time.Time `json:"occurredAt"`
}

// New returns an event with a fresh ID.
func New(typ string, swapID int64, status string, at time.Time) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       typ,
		SwapID:     swapID,
		Status:     status,
		OccurredAt: at,
	}
}

// Publisher delivers events to interested consumers.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

// LogPublisher writes events to the log. It is used when no broker is
// configured.
type LogPublisher struct {
	Log zerolog.Logger
}

func (p LogPublisher) Publish(_ context.Context, e Event) error {
	p.Log.Info().
		Str("event", e.Type).
		Str("event_id", e.ID).
		Int64("swap_id", e.SwapID).
		Int64("actor_id", e.ActorID).
		Str("status", e.Status).
		Msg("swap event")
	return nil
}

func (LogPublisher) Close() error { return nil }

// Recorder keeps published events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Publish(_ context.Context, e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *Recorder) Close() error { return nil }

// Events returns a copy of everything published so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Types returns the types of everything published so far, in order.
func (r *Recorder) Types() []string {
	var types []string
	for _, e := range r.Events() {
		types = append(types, e.Type)
	}
	return types
}
