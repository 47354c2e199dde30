// Package store persists the execution audit trail. The bot works
// without it (audit is emit-only at the core); the store is wired in
// as one more notification sink when a database path is configured.
package store

import (
	"context"

	"github.com/darkistan/routerbot/internal/notify"
)

// AuditStore is the persistence interface for execution attempts.
type AuditStore interface {
	RecordAttempt(ctx context.Context, a *notify.Attempt) error
	ListAttempts(ctx context.Context, limit int) ([]*notify.Attempt, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
