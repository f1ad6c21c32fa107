package notification

import (
	"context"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/google/uuid"
)

var logColumns = []string{
	"id", "notification_id", "action", "details", "error_message",
	"provider_id", "provider_response", "timestamp",
}

// AppendLog inserts one delivery log entry. The table is append-only: there
// are no update or delete operations anywhere in the module.
func (r *repository) AppendLog(ctx context.Context, entry *LogEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}

	query, args, err := r.psql.Insert("notification_logs").
		Columns(logColumns...).
		Values(
			entry.ID, entry.NotificationID, entry.Action, entry.Details,
			entry.ErrorMessage, entry.ProviderID, entry.ProviderResponse,
			entry.Timestamp,
		).
		ToSql()
	if err != nil {
		return err
	}

	_, err = r.db.Exec(ctx, query, args...)
	return err
}

// ListLogs returns a record's attempt history, newest first.
func (r *repository) ListLogs(ctx context.Context, notificationID string) ([]*LogEntry, error) {
	query, args, err := r.psql.Select(logColumns...).
		From("notification_logs").
		Where(squirrel.Eq{"notification_id": notificationID}).
		OrderBy("timestamp DESC").
		ToSql()
	if err != nil {
		return nil, err
	}

	var entries []*LogEntry
	if err := pgxscan.Select(ctx, r.db, &entries, query, args...); err != nil {
		return nil, err
	}
	return entries, nil
}
