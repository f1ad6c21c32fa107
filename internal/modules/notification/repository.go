package notification

import (
	"context"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/campuskit/notify/internal/database"
	"github.com/jackc/pgx/v5/pgxpool"
)

// FeedFilter narrows the recipient-facing notification feed.
type FeedFilter struct {
	Status     *Status
	Category   *Category
	UnreadOnly bool
	Limit      int
	Offset     int
}

// Repository defines the database operations for the notification module.
// This abstraction keeps the service layer independent of the database
// implementation and lets tests substitute an in-memory fake.
type Repository interface {
	// Preferences
	GetPreference(ctx context.Context, userID string) (*Preference, error)
	UpsertPreference(ctx context.Context, pref *Preference) error

	// Templates
	CreateTemplate(ctx context.Context, tpl *Template) error
	GetTemplateByName(ctx context.Context, name string) (*Template, error)
	GetActiveTemplate(ctx context.Context, name string) (*Template, error)
	UpdateTemplate(ctx context.Context, tpl *Template) error
	ListTemplates(ctx context.Context, category *Category) ([]*Template, error)

	// Notifications
	CreateNotification(ctx context.Context, n *Notification) error
	GetNotification(ctx context.Context, id string) (*Notification, error)
	// UpdateStatus persists the state machine fields conditionally on the
	// status the caller read, so two workers can't both finalize the same
	// record. Returns false when the row was concurrently transitioned.
	UpdateStatus(ctx context.Context, n *Notification, prev Status) (bool, error)
	ListByRecipient(ctx context.Context, recipientID string, f FeedFilter) ([]*Notification, error)
	CountUnread(ctx context.Context, recipientID string) (int, error)
	// DueScheduled returns ids of pending, non-expired records whose
	// scheduled or retry time has passed. Expired records are excluded, not
	// mutated: the sweeper never moves a record out of pending.
	DueScheduled(ctx context.Context, now time.Time, limit int) ([]string, error)

	// Batches
	CreateBatch(ctx context.Context, b *Batch) error
	GetBatch(ctx context.Context, id string) (*Batch, error)
	UpdateBatch(ctx context.Context, b *Batch) error
	ListBatchNotificationIDs(ctx context.Context, batchID string) ([]string, error)
	CountBatchStatuses(ctx context.Context, batchID string) (map[Status]int, error)

	// Delivery log (append-only)
	AppendLog(ctx context.Context, entry *LogEntry) error
	ListLogs(ctx context.Context, notificationID string) ([]*LogEntry, error)

	// WithTx runs fn against a repository bound to a single transaction.
	WithTx(ctx context.Context, fn func(Repository) error) error
}

// repository implements the Repository interface using pgx and squirrel.
type repository struct {
	db   database.DBTX
	pool *pgxpool.Pool
	psql squirrel.StatementBuilderType
}

// NewRepository creates a new notification repository on the given pool.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{
		db:   pool,
		pool: pool,
		psql: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

// WithTx begins a transaction and runs fn with a repository bound to it.
// Nested calls reuse the already-open transaction.
func (r *repository) WithTx(ctx context.Context, fn func(Repository) error) error {
	if r.pool == nil {
		return fn(r)
	}
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	txRepo := &repository{db: tx, psql: r.psql}
	if err := fn(txRepo); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}
