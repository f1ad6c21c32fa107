package notification

import (
	"context"
	"log/slog"
	"time"
)

// Directory resolves recipient-selection queries against the portal's user
// store. The store itself is an external collaborator; the engine only
// consumes ids.
type Directory interface {
	CountRecipients(ctx context.Context, q RecipientQuery) (int, error)
	FindRecipients(ctx context.Context, q RecipientQuery) ([]string, error)
}

// BatchService expands one template across a recipient query into many
// notification records and tracks aggregate batch progress.
type BatchService interface {
	Create(ctx context.Context, b *Batch) error
	Schedule(ctx context.Context, id string, at time.Time) (*Batch, error)
	// Expand creates one pending record per (recipient, channel) inside a
	// single transaction, so ActualRecipients is exact.
	Expand(ctx context.Context, id string) (*Batch, error)
	// Dispatch enqueues every record of an expanded batch on the worker pool.
	Dispatch(ctx context.Context, id string) (*Batch, error)
	// Progress refreshes the batch's aggregate counters from its records.
	Progress(ctx context.Context, id string) (*Batch, error)
	Get(ctx context.Context, id string) (*Batch, error)
}

type batchService struct {
	repo       Repository
	directory  Directory
	dispatcher *Dispatcher
	logger     *slog.Logger
}

// NewBatchService creates the batch processor.
func NewBatchService(repo Repository, directory Directory, dispatcher *Dispatcher, logger *slog.Logger) BatchService {
	return &batchService{
		repo:       repo,
		directory:  directory,
		dispatcher: dispatcher,
		logger:     logger,
	}
}

// Create validates the batch definition and stores it as a draft with an
// estimated recipient count for consistency checking after expansion.
func (s *batchService) Create(ctx context.Context, b *Batch) error {
	if _, err := s.repo.GetActiveTemplate(ctx, b.TemplateName); err != nil {
		return err
	}

	b.Channels = DedupeChannels(b.Channels)
	if len(b.Channels) == 0 {
		return ErrInvalidChannel.WithDetail("a batch needs at least one valid channel")
	}
	if b.Priority == "" {
		b.Priority = PriorityNormal
	}

	estimated, err := s.directory.CountRecipients(ctx, b.RecipientQuery)
	if err != nil {
		return err
	}
	b.EstimatedRecipients = estimated
	b.Status = BatchDraft

	return s.repo.CreateBatch(ctx, b)
}

// Schedule moves a draft to scheduled with a target time.
func (s *batchService) Schedule(ctx context.Context, id string, at time.Time) (*Batch, error) {
	b, err := s.repo.GetBatch(ctx, id)
	if err != nil {
		return nil, err
	}
	if b.Status != BatchDraft {
		return nil, ErrBatchState.WithDetail("only a draft batch can be scheduled")
	}

	b.Status = BatchScheduled
	b.ScheduledFor = &at
	if err := s.repo.UpdateBatch(ctx, b); err != nil {
		return nil, err
	}
	return b, nil
}

// Expand materializes the batch: one pending record per (recipient,
// channel), all inside one transaction. Content is rendered once per
// channel since a batch has no per-recipient context.
func (s *batchService) Expand(ctx context.Context, id string) (*Batch, error) {
	b, err := s.repo.GetBatch(ctx, id)
	if err != nil {
		return nil, err
	}
	if b.Status != BatchDraft && b.Status != BatchScheduled {
		return nil, ErrBatchState.WithDetail("batch is already expanded")
	}

	tpl, err := s.repo.GetActiveTemplate(ctx, b.TemplateName)
	if err != nil {
		return nil, err
	}

	recipients, err := s.directory.FindRecipients(ctx, b.RecipientQuery)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	rendered := make(map[Channel]Content, len(b.Channels))
	for _, ch := range b.Channels {
		rendered[ch] = Render(tpl, ch, nil)
	}

	txErr := s.repo.WithTx(ctx, func(tx Repository) error {
		created := 0
		for _, recipientID := range recipients {
			for _, ch := range b.Channels {
				content := rendered[ch]
				metadata := map[string]string{"batch": b.ID}
				if ch == ChannelEmail && content.HTMLBody != "" {
					metadata[htmlBodyKey] = content.HTMLBody
				}
				n := &Notification{
					RecipientID:  recipientID,
					Title:        content.Title,
					Message:      content.Body,
					Category:     tpl.Category,
					Priority:     b.Priority,
					Channel:      ch,
					Status:       StatusPending,
					Metadata:     metadata,
					BatchID:      &b.ID,
					ScheduledFor: b.ScheduledFor,
				}
				if err := tx.CreateNotification(ctx, n); err != nil {
					return err
				}
				created++
			}
		}

		b.ActualRecipients = len(recipients)
		b.Status = BatchSending
		b.StartedAt = &now
		s.logger.Info("batch expanded", "batch_id", b.ID,
			"recipients", len(recipients), "records", created)
		return tx.UpdateBatch(ctx, b)
	})
	if txErr != nil {
		b.Status = BatchFailed
		if err := s.repo.UpdateBatch(ctx, b); err != nil {
			s.logger.Error("failed to mark batch failed", "batch_id", b.ID, "error", err)
		}
		return nil, txErr
	}
	return b, nil
}

// Dispatch enqueues every record of the batch, then refreshes progress.
// Records scheduled for the future are left alone for the sweeper.
func (s *batchService) Dispatch(ctx context.Context, id string) (*Batch, error) {
	b, err := s.repo.GetBatch(ctx, id)
	if err != nil {
		return nil, err
	}
	if b.Status != BatchSending {
		return nil, ErrBatchState.WithDetail("batch has not been expanded yet")
	}
	if b.ScheduledFor != nil && b.ScheduledFor.After(time.Now()) {
		// The sweeper will fire the records when they come due.
		return b, nil
	}

	ids, err := s.repo.ListBatchNotificationIDs(ctx, b.ID)
	if err != nil {
		return nil, err
	}
	for _, nid := range ids {
		if err := s.dispatcher.Enqueue(ctx, nid); err != nil {
			s.logger.Error("failed to enqueue batch record", "batch_id", b.ID, "notification_id", nid, "error", err)
		}
	}
	return s.Progress(ctx, b.ID)
}

// Progress re-aggregates the batch counters from its records and closes the
// batch when no record is left pending.
func (s *batchService) Progress(ctx context.Context, id string) (*Batch, error) {
	b, err := s.repo.GetBatch(ctx, id)
	if err != nil {
		return nil, err
	}

	counts, err := s.repo.CountBatchStatuses(ctx, b.ID)
	if err != nil {
		return nil, err
	}

	total := 0
	for _, c := range counts {
		total += c
	}
	b.SentCount = counts[StatusSent] + counts[StatusDelivered] + counts[StatusRead]
	b.DeliveredCount = counts[StatusDelivered] + counts[StatusRead]
	b.FailedCount = counts[StatusFailed]

	if b.Status == BatchSending && total > 0 && counts[StatusPending] == 0 {
		now := time.Now()
		b.CompletedAt = &now
		if b.FailedCount == total {
			b.Status = BatchFailed
		} else {
			b.Status = BatchCompleted
		}
	}

	if err := s.repo.UpdateBatch(ctx, b); err != nil {
		return nil, err
	}
	return b, nil
}

func (s *batchService) Get(ctx context.Context, id string) (*Batch, error) {
	return s.repo.GetBatch(ctx, id)
}
