// Package notify delivers swap lifecycle events to members. Delivery is best
// effort and happens after the state change has been committed.
package notify

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"

	"github.com/erazemk/menjalnica/internal/store"
)

// Event is a single message for one member about a related record.
type Event struct {
	RecipientID string
	Type        string
	RelatedID   string
}

// Sink receives events.
type Sink interface {
	Notify(ctx context.Context, e Event) error
}

// StoreSink persists events as in-app notifications.
type StoreSink struct {
	DB *sql.DB
}

func (s StoreSink) Notify(ctx context.Context, e Event) error {
	_, err := store.CreateNotification(ctx, s.DB, e.RecipientID, e.Type, e.RelatedID)
	return err
}

// LogSink writes events to a structured logger. A nil Logger uses slog.Default.
type LogSink struct {
	Logger *slog.Logger
}

func (s LogSink) Notify(ctx context.Context, e Event) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "notification",
		"recipient", e.RecipientID,
		"type", e.Type,
		"related", e.RelatedID,
	)
	return nil
}

// Multi fans an event out to several sinks. Every sink is tried; the errors
// are joined.
type Multi []Sink

func (m Multi) Notify(ctx context.Context, e Event) error {
	var errs []error
	for _, s := range m {
		if err := s.Notify(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Discard drops every event.
type Discard struct{}

func (Discard) Notify(context.Context, Event) error { return nil }

// Deliver sends each event to sink. Failures are logged and never returned:
// the caller's operation has already committed.
func Deliver(ctx context.Context, sink Sink, events ...Event) {
	if sink == nil {
		return
	}
	for _, e := range events {
		if err := sink.Notify(ctx, e); err != nil {
			slog.WarnContext(ctx, "notification delivery failed",
				"recipient", e.RecipientID,
				"type", e.Type,
				"related", e.RelatedID,
				"error", err,
			)
		}
	}
}
