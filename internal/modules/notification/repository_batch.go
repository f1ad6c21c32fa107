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

type batchRow struct {
	ID                  string     `db:"id"`
	Name                string     `db:"name"`
	TemplateName        string     `db:"template_name"`
	RecipientQuery      []byte     `db:"recipient_query"`
	Channels            []byte     `db:"channels"`
	Priority            string     `db:"priority"`
	Status              string     `db:"status"`
	EstimatedRecipients int        `db:"estimated_recipients"`
	ActualRecipients    int        `db:"actual_recipients"`
	SentCount           int        `db:"sent_count"`
	DeliveredCount      int        `db:"delivered_count"`
	FailedCount         int        `db:"failed_count"`
	CreatedBy           string     `db:"created_by"`
	CreatedAt           time.Time  `db:"created_at"`
	ScheduledFor        *time.Time `db:"scheduled_for"`
	StartedAt           *time.Time `db:"started_at"`
	CompletedAt         *time.Time `db:"completed_at"`
}

var batchColumns = []string{
	"id", "name", "template_name", "recipient_query", "channels", "priority",
	"status", "estimated_recipients", "actual_recipients", "sent_count",
	"delivered_count", "failed_count", "created_by", "created_at",
	"scheduled_for", "started_at", "completed_at",
}

func (row *batchRow) toEntity() (*Batch, error) {
	var query RecipientQuery
	if len(row.RecipientQuery) > 0 {
		if err := json.Unmarshal(row.RecipientQuery, &query); err != nil {
			return nil, err
		}
	}
	var channels []Channel
	if len(row.Channels) > 0 {
		if err := json.Unmarshal(row.Channels, &channels); err != nil {
			return nil, err
		}
	}
	return &Batch{
		ID:                  row.ID,
		Name:                row.Name,
		TemplateName:        row.TemplateName,
		RecipientQuery:      query,
		Channels:            channels,
		Priority:            Priority(row.Priority),
		Status:              BatchStatus(row.Status),
		EstimatedRecipients: row.EstimatedRecipients,
		ActualRecipients:    row.ActualRecipients,
		SentCount:           row.SentCount,
		DeliveredCount:      row.DeliveredCount,
		FailedCount:         row.FailedCount,
		CreatedBy:           row.CreatedBy,
		CreatedAt:           row.CreatedAt,
		ScheduledFor:        row.ScheduledFor,
		StartedAt:           row.StartedAt,
		CompletedAt:         row.CompletedAt,
	}, nil
}

// CreateBatch inserts a new batch in draft state.
func (r *repository) CreateBatch(ctx context.Context, b *Batch) error {
	if b.ID == "" {
		b.ID = uuid.New().String()
	}
	if b.Status == "" {
		b.Status = BatchDraft
	}
	b.CreatedAt = time.Now()

	query, err := json.Marshal(b.RecipientQuery)
	if err != nil {
		return err
	}
	channels, err := json.Marshal(b.Channels)
	if err != nil {
		return err
	}

	sql, args, err := r.psql.Insert("notification_batches").
		Columns(batchColumns...).
		Values(
			b.ID, b.Name, b.TemplateName, query, channels, string(b.Priority),
			string(b.Status), b.EstimatedRecipients, b.ActualRecipients,
			b.SentCount, b.DeliveredCount, b.FailedCount, b.CreatedBy,
			b.CreatedAt, b.ScheduledFor, b.StartedAt, b.CompletedAt,
		).
		ToSql()
	if err != nil {
		return err
	}

	_, err = r.db.Exec(ctx, sql, args...)
	return err
}

// GetBatch retrieves a batch by id.
func (r *repository) GetBatch(ctx context.Context, id string) (*Batch, error) {
	sql, args, err := r.psql.Select(batchColumns...).
		From("notification_batches").
		Where(squirrel.Eq{"id": id}).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, err
	}

	var row batchRow
	if err := pgxscan.Get(ctx, r.db, &row, sql, args...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrBatchNotFound.WithCause(err)
		}
		return nil, err
	}
	return row.toEntity()
}

// UpdateBatch rewrites a batch's mutable fields: status, counters and
// timing. Name, template and query are fixed at creation.
func (r *repository) UpdateBatch(ctx context.Context, b *Batch) error {
	sql, args, err := r.psql.Update("notification_batches").
		Set("status", string(b.Status)).
		Set("estimated_recipients", b.EstimatedRecipients).
		Set("actual_recipients", b.ActualRecipients).
		Set("sent_count", b.SentCount).
		Set("delivered_count", b.DeliveredCount).
		Set("failed_count", b.FailedCount).
		Set("scheduled_for", b.ScheduledFor).
		Set("started_at", b.StartedAt).
		Set("completed_at", b.CompletedAt).
		Where(squirrel.Eq{"id": b.ID}).
		ToSql()
	if err != nil {
		return err
	}

	ct, err := r.db.Exec(ctx, sql, args...)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return ErrBatchNotFound
	}
	return nil
}

// ListBatchNotificationIDs returns every record id created for a batch.
func (r *repository) ListBatchNotificationIDs(ctx context.Context, batchID string) ([]string, error) {
	sql, args, err := r.psql.Select("id").
		From("notifications").
		Where(squirrel.Eq{"batch_id": batchID}).
		OrderBy("created_at ASC").
		ToSql()
	if err != nil {
		return nil, err
	}

	var ids []string
	if err := pgxscan.Select(ctx, r.db, &ids, sql, args...); err != nil {
		return nil, err
	}
	return ids, nil
}

// CountBatchStatuses aggregates a batch's records by status for progress
// reporting.
func (r *repository) CountBatchStatuses(ctx context.Context, batchID string) (map[Status]int, error) {
	sql, args, err := r.psql.Select("status", "COUNT(*)").
		From("notifications").
		Where(squirrel.Eq{"batch_id": batchID}).
		GroupBy("status").
		ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := r.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[Status]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		counts[Status(status)] = count
	}
	return counts, rows.Err()
}
