package notification

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/campuskit/notify/internal/channel"
	"github.com/campuskit/notify/internal/metrics"
)

// DispatcherConfig tunes the worker pool and the retry policy.
type DispatcherConfig struct {
	Workers     int
	QueueSize   int
	MaxAttempts int
	BackoffBase time.Duration
}

func (c *DispatcherConfig) defaults() {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 1024
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = time.Minute
	}
}

// Dispatcher owns the worker pool that moves pending records through their
// channel adapters. Units of work are notification ids; each unit is safe to
// process concurrently because dispatch is conditioned on the record still
// being pending, so re-dispatch of a finished record is a no-op.
type Dispatcher struct {
	repo     Repository
	adapters map[Channel]channel.Adapter
	cfg      DispatcherConfig
	logger   *slog.Logger
	metrics  *metrics.Metrics

	queue chan string
	wg    sync.WaitGroup
}

// NewDispatcher creates a dispatcher over the given adapters. Every channel
// the engine can route to should have an adapter; unconfigured transports
// are represented by channel.NewDisabledAdapter, not by absence.
func NewDispatcher(repo Repository, adapters []channel.Adapter, cfg DispatcherConfig, logger *slog.Logger, m *metrics.Metrics) *Dispatcher {
	cfg.defaults()
	byChannel := make(map[Channel]channel.Adapter, len(adapters))
	for _, a := range adapters {
		byChannel[Channel(a.Name())] = a
	}
	return &Dispatcher{
		repo:     repo,
		adapters: byChannel,
		cfg:      cfg,
		logger:   logger,
		metrics:  m,
		queue:    make(chan string, cfg.QueueSize),
	}
}

// Start launches the worker pool. Workers exit when ctx is cancelled.
func (d *Dispatcher) Start(ctx context.Context) {
	for i := 0; i < d.cfg.Workers; i++ {
		d.wg.Add(1)
		go d.worker(ctx)
	}
	d.logger.Info("dispatcher started", "workers", d.cfg.Workers)
}

// Wait blocks until every worker has drained.
func (d *Dispatcher) Wait() { d.wg.Wait() }

// Enqueue hands a notification id to the pool. It blocks when the queue is
// full, which applies backpressure to callers rather than dropping work.
func (d *Dispatcher) Enqueue(ctx context.Context, id string) error {
	select {
	case d.queue <- id:
		d.metrics.QueueDepth.Inc()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) worker(ctx context.Context) {
	defer d.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case id, ok := <-d.queue:
			if !ok {
				return
			}
			d.metrics.QueueDepth.Dec()
			d.process(ctx, id)
		}
	}
}

// process runs one dispatch attempt for one record. Transport panics and
// errors stay inside this method: the record is failed or rescheduled and
// the outcome logged, never propagated.
func (d *Dispatcher) process(ctx context.Context, id string) {
	defer func() {
		if rec := recover(); rec != nil {
			d.logger.Error("panic while dispatching notification", "notification_id", id, "panic", rec)
		}
	}()

	now := time.Now()
	n, err := d.repo.GetNotification(ctx, id)
	if err != nil {
		d.logger.Error("failed to load notification for dispatch", "notification_id", id, "error", err)
		return
	}

	if !n.Dispatchable(now) {
		// Already handled by another worker, or expired before we got here.
		d.metrics.DispatchTotal.WithLabelValues(string(n.Channel), "skipped").Inc()
		d.logger.Debug("notification not dispatchable, skipping", "notification_id", id, "status", n.Status)
		return
	}

	adapter, ok := d.adapters[n.Channel]
	if !ok {
		d.fail(ctx, n, now, string(n.Channel)+"_failed", channel.Permanent("no adapter for channel "+string(n.Channel)))
		return
	}

	pref := d.preference(ctx, n.RecipientID)
	delivery := channel.Delivery{
		NotificationID: n.ID,
		RecipientID:    n.RecipientID,
		Title:          n.Title,
		Body:           n.Message,
		EmailAddress:   pref.Email,
		PhoneNumber:    pref.PhoneNumber,
		PushToken:      pref.PushToken,
		Data:           n.Metadata,
		Priority:       string(n.Priority),
	}
	// Email records stash their rendered HTML alternative under a reserved
	// metadata key; it is not part of the push data payload.
	if html, ok := n.Metadata[htmlBodyKey]; ok {
		delivery.HTMLBody = html
		delete(delivery.Data, htmlBodyKey)
	}

	n.Attempts++
	result, err := d.send(ctx, adapter, delivery)
	if err != nil {
		d.handleFailure(ctx, n, now, err)
		return
	}

	n.MarkSent(now)
	action := string(n.Channel) + "_sent"
	if n.Channel == ChannelInApp {
		// The stored record is the delivery; there is no provider to wait on.
		n.MarkDelivered(now)
		action = "in_app_created"
	}
	n.NextAttemptAt = nil

	applied, err := d.repo.UpdateStatus(ctx, n, StatusPending)
	if err != nil {
		d.logger.Error("failed to persist sent status", "notification_id", n.ID, "error", err)
		return
	}
	if !applied {
		d.logger.Warn("notification concurrently transitioned, send outcome discarded", "notification_id", n.ID)
		return
	}

	d.metrics.DispatchTotal.WithLabelValues(string(n.Channel), "sent").Inc()
	d.appendLog(ctx, &LogEntry{
		NotificationID:   n.ID,
		Action:           action,
		Details:          "dispatched via " + string(n.Channel),
		ProviderID:       result.ProviderID,
		ProviderResponse: result.ProviderResponse,
	})
}

// send isolates the adapter call so a panicking transport library is
// converted into an ordinary error.
func (d *Dispatcher) send(ctx context.Context, adapter channel.Adapter, delivery channel.Delivery) (result channel.Result, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("transport panic: %v", rec)
		}
	}()
	return adapter.Send(ctx, delivery)
}

// handleFailure applies the retry policy: permanent errors and exhausted
// attempts fail the record; anything else stays pending with an exponential
// backoff for the sweeper to pick up.
func (d *Dispatcher) handleFailure(ctx context.Context, n *Notification, now time.Time, sendErr error) {
	action := string(n.Channel) + "_failed"

	if channel.IsPermanent(sendErr) || n.Attempts >= d.cfg.MaxAttempts {
		d.fail(ctx, n, now, action, sendErr)
		return
	}

	backoff := d.cfg.BackoffBase << (n.Attempts - 1)
	next := now.Add(backoff)
	n.NextAttemptAt = &next

	applied, err := d.repo.UpdateStatus(ctx, n, StatusPending)
	if err != nil || !applied {
		d.logger.Error("failed to schedule retry", "notification_id", n.ID, "error", err)
		return
	}

	d.metrics.DispatchTotal.WithLabelValues(string(n.Channel), "retried").Inc()
	d.appendLog(ctx, &LogEntry{
		NotificationID: n.ID,
		Action:         "retry_scheduled",
		Details:        fmt.Sprintf("attempt %d/%d, next attempt at %s", n.Attempts, d.cfg.MaxAttempts, next.Format(time.RFC3339)),
		ErrorMessage:   sendErr.Error(),
	})
}

func (d *Dispatcher) fail(ctx context.Context, n *Notification, now time.Time, action string, sendErr error) {
	n.MarkFailed(now)
	n.NextAttemptAt = nil

	applied, err := d.repo.UpdateStatus(ctx, n, StatusPending)
	if err != nil {
		d.logger.Error("failed to persist failed status", "notification_id", n.ID, "error", err)
		return
	}
	if !applied {
		return
	}

	d.metrics.DispatchTotal.WithLabelValues(string(n.Channel), "failed").Inc()
	d.logger.Error("notification dispatch failed", "notification_id", n.ID, "channel", n.Channel, "error", sendErr)
	d.appendLog(ctx, &LogEntry{
		NotificationID: n.ID,
		Action:         action,
		ErrorMessage:   sendErr.Error(),
	})
}

// preference loads the recipient's contact fields, falling back to the
// defaults (which carry no contacts) when no row exists yet.
func (d *Dispatcher) preference(ctx context.Context, userID string) *Preference {
	pref, err := d.repo.GetPreference(ctx, userID)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			d.logger.Error("failed to load preference for dispatch", "user_id", userID, "error", err)
		}
		return DefaultPreference(userID)
	}
	return pref
}

func (d *Dispatcher) appendLog(ctx context.Context, entry *LogEntry) {
	if err := d.repo.AppendLog(ctx, entry); err != nil {
		d.logger.Error("failed to append delivery log entry", "notification_id", entry.NotificationID, "error", err)
	}
}
