package notification

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/campuskit/notify/internal/channel"
	"github.com/campuskit/notify/internal/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubAdapter records deliveries and returns a canned outcome.
type stubAdapter struct {
	name   string
	result channel.Result
	err    error
	calls  []channel.Delivery
}

func (a *stubAdapter) Name() string { return a.name }

func (a *stubAdapter) Send(ctx context.Context, d channel.Delivery) (channel.Result, error) {
	a.calls = append(a.calls, d)
	return a.result, a.err
}

func newTestDispatcher(repo Repository, adapters ...channel.Adapter) *Dispatcher {
	return NewDispatcher(repo, adapters, DispatcherConfig{
		QueueSize:   64,
		MaxAttempts: 3,
		BackoffBase: time.Minute,
	}, testLogger(), metrics.NewNop())
}

func pendingRecord(t *testing.T, repo *fakeRepo, ch Channel) *Notification {
	t.Helper()
	n := &Notification{
		RecipientID: "u-1",
		Title:       "Grade posted",
		Message:     "Math: A",
		Category:    CategoryGrade,
		Priority:    PriorityNormal,
		Channel:     ch,
		Status:      StatusPending,
	}
	require.NoError(t, repo.CreateNotification(context.Background(), n))
	return n
}

func TestDispatchSuccess(t *testing.T) {
	ctx := context.Background()
	repo := newFakeRepo()
	pref := DefaultPreference("u-1")
	pref.Email = "ada@example.org"
	require.NoError(t, repo.UpsertPreference(ctx, pref))

	email := &stubAdapter{name: string(ChannelEmail), result: channel.Result{ProviderID: "msg-1"}}
	d := newTestDispatcher(repo, email)

	n := pendingRecord(t, repo, ChannelEmail)
	d.process(ctx, n.ID)

	require.Len(t, email.calls, 1)
	assert.Equal(t, "ada@example.org", email.calls[0].EmailAddress)
	assert.Equal(t, "Grade posted", email.calls[0].Title)

	stored, err := repo.GetNotification(ctx, n.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusSent, stored.Status)
	assert.Equal(t, 1, stored.Attempts)
	assert.NotNil(t, stored.SentAt)
	assert.Equal(t, []string{"email_sent"}, repo.logActions(n.ID))

	logs, err := repo.ListLogs(ctx, n.ID)
	require.NoError(t, err)
	assert.Equal(t, "msg-1", logs[0].ProviderID)
}

func TestDispatchInAppMarksDelivered(t *testing.T) {
	ctx := context.Background()
	repo := newFakeRepo()
	inApp := &stubAdapter{name: string(ChannelInApp), result: channel.Result{ProviderResponse: "stored"}}
	d := newTestDispatcher(repo, inApp)

	n := pendingRecord(t, repo, ChannelInApp)
	d.process(ctx, n.ID)

	stored, err := repo.GetNotification(ctx, n.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusDelivered, stored.Status)
	assert.NotNil(t, stored.DeliveredAt)
	assert.Equal(t, []string{"in_app_created"}, repo.logActions(n.ID))
}

func TestDispatchPermanentFailure(t *testing.T) {
	ctx := context.Background()
	repo := newFakeRepo()
	sms := &stubAdapter{name: string(ChannelSMS), err: channel.Permanent("no phone number configured")}
	d := newTestDispatcher(repo, sms)

	n := pendingRecord(t, repo, ChannelSMS)
	d.process(ctx, n.ID)

	stored, err := repo.GetNotification(ctx, n.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, stored.Status)
	assert.Equal(t, 1, stored.Attempts)
	assert.Equal(t, []string{"sms_failed"}, repo.logActions(n.ID))

	logs, err := repo.ListLogs(ctx, n.ID)
	require.NoError(t, err)
	assert.Equal(t, "no phone number configured", logs[0].ErrorMessage)
}

func TestDispatchRetryBackoff(t *testing.T) {
	ctx := context.Background()
	repo := newFakeRepo()
	push := &stubAdapter{name: string(ChannelPush), err: errors.New("gateway timeout")}
	d := newTestDispatcher(repo, push)

	n := pendingRecord(t, repo, ChannelPush)

	// First attempt: stays pending with a one-minute backoff.
	before := time.Now()
	d.process(ctx, n.ID)
	stored, err := repo.GetNotification(ctx, n.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, stored.Status)
	assert.Equal(t, 1, stored.Attempts)
	require.NotNil(t, stored.NextAttemptAt)
	assert.WithinDuration(t, before.Add(time.Minute), *stored.NextAttemptAt, 5*time.Second)
	assert.Equal(t, []string{"retry_scheduled"}, repo.logActions(n.ID))

	// Second attempt doubles the backoff.
	before = time.Now()
	d.process(ctx, n.ID)
	stored, err = repo.GetNotification(ctx, n.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, stored.Status)
	assert.Equal(t, 2, stored.Attempts)
	assert.WithinDuration(t, before.Add(2*time.Minute), *stored.NextAttemptAt, 5*time.Second)

	// The third attempt is the last one allowed, so the record dead-letters.
	d.process(ctx, n.ID)
	stored, err = repo.GetNotification(ctx, n.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, stored.Status)
	assert.Equal(t, 3, stored.Attempts)
	assert.Equal(t, []string{"retry_scheduled", "retry_scheduled", "push_failed"}, repo.logActions(n.ID))
	assert.Len(t, push.calls, 3)
}

func TestDispatchSkipsNonPending(t *testing.T) {
	ctx := context.Background()
	repo := newFakeRepo()
	email := &stubAdapter{name: string(ChannelEmail)}
	d := newTestDispatcher(repo, email)

	n := pendingRecord(t, repo, ChannelEmail)
	now := time.Now()
	n.MarkSent(now)
	_, err := repo.UpdateStatus(ctx, n, StatusPending)
	require.NoError(t, err)

	d.process(ctx, n.ID)
	assert.Empty(t, email.calls)
	assert.Empty(t, repo.logActions(n.ID))
}

func TestDispatchSkipsExpired(t *testing.T) {
	ctx := context.Background()
	repo := newFakeRepo()
	email := &stubAdapter{name: string(ChannelEmail)}
	d := newTestDispatcher(repo, email)

	past := time.Now().Add(-time.Hour)
	n := &Notification{RecipientID: "u-1", Channel: ChannelEmail, Status: StatusPending, ExpiresAt: &past}
	require.NoError(t, repo.CreateNotification(ctx, n))

	d.process(ctx, n.ID)
	assert.Empty(t, email.calls)

	stored, err := repo.GetNotification(ctx, n.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, stored.Status)
}

func TestDispatchMissingAdapterFails(t *testing.T) {
	ctx := context.Background()
	repo := newFakeRepo()
	d := newTestDispatcher(repo) // no adapters at all

	n := pendingRecord(t, repo, ChannelSMS)
	d.process(ctx, n.ID)

	stored, err := repo.GetNotification(ctx, n.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, stored.Status)
}

// conflictRepo simulates another worker winning the conditional update.
type conflictRepo struct{ *fakeRepo }

func (r *conflictRepo) UpdateStatus(ctx context.Context, n *Notification, prev Status) (bool, error) {
	return false, nil
}

func TestDispatchDiscardsLostClaim(t *testing.T) {
	ctx := context.Background()
	base := newFakeRepo()
	email := &stubAdapter{name: string(ChannelEmail), result: channel.Result{ProviderID: "msg-1"}}
	d := newTestDispatcher(&conflictRepo{base}, email)

	n := pendingRecord(t, base, ChannelEmail)
	d.process(ctx, n.ID)

	// The send happened, but the outcome was not persisted or logged.
	assert.Len(t, email.calls, 1)
	stored, err := base.GetNotification(ctx, n.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, stored.Status)
	assert.Empty(t, base.logActions(n.ID))
}

func TestDispatchStripsHTMLCarrier(t *testing.T) {
	ctx := context.Background()
	repo := newFakeRepo()
	email := &stubAdapter{name: string(ChannelEmail)}
	d := newTestDispatcher(repo, email)

	n := &Notification{
		RecipientID: "u-1",
		Channel:     ChannelEmail,
		Status:      StatusPending,
		Metadata:    map[string]string{"_html_body": "<p>hi</p>", "course": "Math"},
	}
	require.NoError(t, repo.CreateNotification(ctx, n))

	d.process(ctx, n.ID)

	require.Len(t, email.calls, 1)
	assert.Equal(t, "<p>hi</p>", email.calls[0].HTMLBody)
	assert.Equal(t, map[string]string{"course": "Math"}, email.calls[0].Data)
}
