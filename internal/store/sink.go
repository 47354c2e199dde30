package store

import (
	"context"

	"github.com/darkistan/routerbot/internal/notify"
)

// Sink adapts an AuditStore to the notifier's sink interface, so the
// dispatcher records attempts without knowing about the database.
type Sink struct {
	Store AuditStore
}

// Name identifies the sink in delivery-failure logs.
func (s Sink) Name() string { return "audit-db" }

// Send is a no-op: the database sink only consumes structured records.
func (s Sink) Send(ctx context.Context, text string) error { return nil }

// Record persists the attempt.
func (s Sink) Record(ctx context.Context, a notify.Attempt) error {
	return s.Store.RecordAttempt(ctx, &a)
}
