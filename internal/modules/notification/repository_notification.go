package notification

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

type notificationRow struct {
	ID            string     `db:"id"`
	RecipientID   string     `db:"recipient_id"`
	SenderID      *string    `db:"sender_id"`
	Title         string     `db:"title"`
	Message       string     `db:"message"`
	Category      string     `db:"category"`
	Priority      string     `db:"priority"`
	Channel       string     `db:"channel"`
	Status        string     `db:"status"`
	Metadata      []byte     `db:"metadata"`
	RelatedType   *string    `db:"related_type"`
	RelatedID     *string    `db:"related_id"`
	BatchID       *string    `db:"batch_id"`
	Attempts      int        `db:"attempts"`
	CreatedAt     time.Time  `db:"created_at"`
	ScheduledFor  *time.Time `db:"scheduled_for"`
	NextAttemptAt *time.Time `db:"next_attempt_at"`
	SentAt        *time.Time `db:"sent_at"`
	DeliveredAt   *time.Time `db:"delivered_at"`
	ReadAt        *time.Time `db:"read_at"`
	ExpiresAt     *time.Time `db:"expires_at"`
}

var notificationColumns = []string{
	"id", "recipient_id", "sender_id", "title", "message", "category",
	"priority", "channel", "status", "metadata", "related_type", "related_id",
	"batch_id", "attempts", "created_at", "scheduled_for", "next_attempt_at",
	"sent_at", "delivered_at", "read_at", "expires_at",
}

func (row *notificationRow) toEntity() (*Notification, error) {
	var md map[string]string
	if len(row.Metadata) > 0 {
		if err := json.Unmarshal(row.Metadata, &md); err != nil {
			return nil, err
		}
	}
	return &Notification{
		ID:            row.ID,
		RecipientID:   row.RecipientID,
		SenderID:      row.SenderID,
		Title:         row.Title,
		Message:       row.Message,
		Category:      Category(row.Category),
		Priority:      Priority(row.Priority),
		Channel:       Channel(row.Channel),
		Status:        Status(row.Status),
		Metadata:      md,
		RelatedType:   row.RelatedType,
		RelatedID:     row.RelatedID,
		BatchID:       row.BatchID,
		Attempts:      row.Attempts,
		CreatedAt:     row.CreatedAt,
		ScheduledFor:  row.ScheduledFor,
		NextAttemptAt: row.NextAttemptAt,
		SentAt:        row.SentAt,
		DeliveredAt:   row.DeliveredAt,
		ReadAt:        row.ReadAt,
		ExpiresAt:     row.ExpiresAt,
	}, nil
}

// CreateNotification inserts a new delivery record. A zero ID and status are
// filled with a fresh uuid and pending.
func (r *repository) CreateNotification(ctx context.Context, n *Notification) error {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	if n.Status == "" {
		n.Status = StatusPending
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}

	md, err := json.Marshal(n.Metadata)
	if err != nil {
		return err
	}

	query, args, err := r.psql.Insert("notifications").
		Columns(notificationColumns...).
		Values(
			n.ID, n.RecipientID, n.SenderID, n.Title, n.Message, string(n.Category),
			string(n.Priority), string(n.Channel), string(n.Status), md,
			n.RelatedType, n.RelatedID, n.BatchID, n.Attempts, n.CreatedAt,
			n.ScheduledFor, n.NextAttemptAt, n.SentAt, n.DeliveredAt, n.ReadAt, n.ExpiresAt,
		).
		ToSql()
	if err != nil {
		return err
	}

	_, err = r.db.Exec(ctx, query, args...)
	return err
}

// GetNotification retrieves one delivery record by id.
func (r *repository) GetNotification(ctx context.Context, id string) (*Notification, error) {
	query, args, err := r.psql.Select(notificationColumns...).
		From("notifications").
		Where(squirrel.Eq{"id": id}).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, err
	}

	var row notificationRow
	if err := pgxscan.Get(ctx, r.db, &row, query, args...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound.WithCause(err)
		}
		return nil, err
	}
	return row.toEntity()
}

// UpdateStatus writes the record's state machine fields, guarded by the
// status the caller observed. A false return means another worker got there
// first and this transition should be treated as a no-op.
func (r *repository) UpdateStatus(ctx context.Context, n *Notification, prev Status) (bool, error) {
	query, args, err := r.psql.Update("notifications").
		Set("status", string(n.Status)).
		Set("attempts", n.Attempts).
		Set("next_attempt_at", n.NextAttemptAt).
		Set("sent_at", n.SentAt).
		Set("delivered_at", n.DeliveredAt).
		Set("read_at", n.ReadAt).
		Where(squirrel.Eq{"id": n.ID, "status": string(prev)}).
		ToSql()
	if err != nil {
		return false, err
	}

	ct, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() > 0, nil
}

// ListByRecipient returns a recipient's notification feed, newest first.
func (r *repository) ListByRecipient(ctx context.Context, recipientID string, f FeedFilter) ([]*Notification, error) {
	builder := r.psql.Select(notificationColumns...).
		From("notifications").
		Where(squirrel.Eq{"recipient_id": recipientID}).
		OrderBy("created_at DESC")

	if f.Status != nil {
		builder = builder.Where(squirrel.Eq{"status": string(*f.Status)})
	}
	if f.Category != nil {
		builder = builder.Where(squirrel.Eq{"category": string(*f.Category)})
	}
	if f.UnreadOnly {
		builder = builder.Where(squirrel.NotEq{"status": string(StatusRead)})
	}
	if f.Limit > 0 {
		builder = builder.Limit(uint64(f.Limit))
	}
	if f.Offset > 0 {
		builder = builder.Offset(uint64(f.Offset))
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, err
	}

	var rows []*notificationRow
	if err := pgxscan.Select(ctx, r.db, &rows, query, args...); err != nil {
		return nil, err
	}

	out := make([]*Notification, 0, len(rows))
	for _, row := range rows {
		n, err := row.toEntity()
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

// CountUnread counts the in-app records a recipient has not read yet.
func (r *repository) CountUnread(ctx context.Context, recipientID string) (int, error) {
	query, args, err := r.psql.Select("COUNT(*)").
		From("notifications").
		Where(squirrel.Eq{"recipient_id": recipientID, "channel": string(ChannelInApp)}).
		Where(squirrel.NotEq{"status": string(StatusRead)}).
		ToSql()
	if err != nil {
		return 0, err
	}

	var count int
	if err := r.db.QueryRow(ctx, query, args...).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// DueScheduled selects pending records whose scheduled time or retry time
// has passed and whose expiry has not, oldest first.
func (r *repository) DueScheduled(ctx context.Context, now time.Time, limit int) ([]string, error) {
	builder := r.psql.Select("id").
		From("notifications").
		Where(squirrel.Eq{"status": string(StatusPending)}).
		Where(squirrel.Or{
			squirrel.And{
				squirrel.NotEq{"next_attempt_at": nil},
				squirrel.LtOrEq{"next_attempt_at": now},
			},
			squirrel.And{
				squirrel.Eq{"next_attempt_at": nil},
				squirrel.NotEq{"scheduled_for": nil},
				squirrel.LtOrEq{"scheduled_for": now},
			},
		}).
		Where(squirrel.Or{
			squirrel.Eq{"expires_at": nil},
			squirrel.Gt{"expires_at": now},
		}).
		OrderBy("COALESCE(next_attempt_at, scheduled_for) ASC")
	if limit > 0 {
		builder = builder.Limit(uint64(limit))
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, err
	}

	var ids []string
	if err := pgxscan.Select(ctx, r.db, &ids, query, args...); err != nil {
		return nil, err
	}
	return ids, nil
}
