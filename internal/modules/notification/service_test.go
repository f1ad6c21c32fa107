package notification

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/campuskit/notify/internal/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger { return slog.New(slog.DiscardHandler) }

// newIdleDispatcher returns a dispatcher whose workers are never started, so
// tests can inspect what was enqueued without anything being processed.
func newIdleDispatcher(repo Repository) *Dispatcher {
	return NewDispatcher(repo, nil, DispatcherConfig{QueueSize: 64}, testLogger(), metrics.NewNop())
}

func newTestService(repo Repository, d *Dispatcher) Service {
	return NewService(&Config{Repo: repo, Dispatcher: d, Logger: testLogger()})
}

func gradeTemplate() *Template {
	return &Template{
		Name:          "grade_posted",
		Category:      CategoryGrade,
		EmailSubject:  "Grade posted for {{course}}",
		EmailBody:     "{{name}}, your grade for {{course}} is {{grade}}.",
		EmailHTMLBody: "<p>{{name}}, your grade is {{grade}}.</p>",
		SMSBody:       "Grade for {{course}}: {{grade}}",
		PushTitle:     "Grade posted",
		PushBody:      "{{course}}: {{grade}}",
		Active:        true,
	}
}

func TestServiceSend(t *testing.T) {
	ctx := context.Background()

	t.Run("fans out per resolved channel", func(t *testing.T) {
		repo := newFakeRepo()
		require.NoError(t, repo.CreateTemplate(ctx, gradeTemplate()))
		d := newIdleDispatcher(repo)
		svc := newTestService(repo, d)

		created, err := svc.Send(ctx, SendRequest{
			RecipientID:  "u-1",
			TemplateName: "grade_posted",
			Context:      map[string]string{"course": "Math", "grade": "A", "name": "Ada"},
		})
		require.NoError(t, err)

		// Default grade preference is email_push.
		require.Len(t, created, 2)
		assert.Equal(t, ChannelEmail, created[0].Channel)
		assert.Equal(t, ChannelPush, created[1].Channel)
		for _, n := range created {
			assert.Equal(t, StatusPending, n.Status)
			assert.Equal(t, CategoryGrade, n.Category)
			assert.Equal(t, []string{"created"}, repo.logActions(n.ID))
		}

		// The email record carries the HTML alternative; the push one doesn't.
		assert.Contains(t, created[0].Metadata, "_html_body")
		assert.NotContains(t, created[1].Metadata, "_html_body")
		assert.Equal(t, "Grade posted for Math", created[0].Title)
		assert.Equal(t, "Ada, your grade for Math is A.", created[0].Message)

		// Both were enqueued for immediate dispatch.
		assert.Equal(t, 2, len(d.queue))
	})

	t.Run("disabled preference creates nothing", func(t *testing.T) {
		repo := newFakeRepo()
		require.NoError(t, repo.CreateTemplate(ctx, gradeTemplate()))
		pref := DefaultPreference("u-2")
		pref.Grade = CategorySetting{FrequencyDisabled, DeliverEmail}
		require.NoError(t, repo.UpsertPreference(ctx, pref))

		d := newIdleDispatcher(repo)
		svc := newTestService(repo, d)

		created, err := svc.Send(ctx, SendRequest{RecipientID: "u-2", TemplateName: "grade_posted"})
		require.NoError(t, err)
		assert.Empty(t, created)
		assert.Zero(t, len(d.queue))
	})

	t.Run("explicit channels bypass preferences", func(t *testing.T) {
		repo := newFakeRepo()
		require.NoError(t, repo.CreateTemplate(ctx, gradeTemplate()))
		pref := DefaultPreference("u-3")
		pref.Grade = CategorySetting{FrequencyDisabled, DeliverEmail}
		require.NoError(t, repo.UpsertPreference(ctx, pref))

		svc := newTestService(repo, newIdleDispatcher(repo))
		created, err := svc.Send(ctx, SendRequest{
			RecipientID:  "u-3",
			TemplateName: "grade_posted",
			Channels:     []Channel{ChannelInApp, ChannelSMS, ChannelInApp},
			Priority:     PriorityEmergency,
		})
		require.NoError(t, err)
		require.Len(t, created, 2)
		assert.Equal(t, ChannelInApp, created[0].Channel)
		assert.Equal(t, ChannelSMS, created[1].Channel)
		assert.Equal(t, PriorityEmergency, created[0].Priority)
	})

	t.Run("emergency broadcast creates one record per recipient and channel", func(t *testing.T) {
		repo := newFakeRepo()
		require.NoError(t, repo.CreateTemplate(ctx, gradeTemplate()))

		// Stored preferences vary across the recipients and must not matter
		// when channels are forced.
		disabled := DefaultPreference("u-8")
		disabled.Grade = CategorySetting{FrequencyDisabled, DeliverEmail}
		require.NoError(t, repo.UpsertPreference(ctx, disabled))
		emailOnly := DefaultPreference("u-9")
		emailOnly.Grade = CategorySetting{FrequencyImmediate, DeliverEmail}
		require.NoError(t, repo.UpsertPreference(ctx, emailOnly))

		d := newIdleDispatcher(repo)
		svc := newTestService(repo, d)

		total := 0
		for _, recipient := range []string{"u-8", "u-9", "u-10"} {
			created, err := svc.Send(ctx, SendRequest{
				RecipientID:  recipient,
				TemplateName: "grade_posted",
				Channels:     []Channel{ChannelEmail, ChannelSMS, ChannelPush},
				Priority:     PriorityEmergency,
			})
			require.NoError(t, err)
			require.Len(t, created, 3)
			total += len(created)
		}

		assert.Equal(t, 9, total)
		assert.Equal(t, 9, len(d.queue))
	})

	t.Run("missing template aborts the whole call", func(t *testing.T) {
		repo := newFakeRepo()
		svc := newTestService(repo, newIdleDispatcher(repo))

		created, err := svc.Send(ctx, SendRequest{RecipientID: "u-4", TemplateName: "nope"})
		assert.ErrorIs(t, err, ErrTemplateNotFound)
		assert.Empty(t, created)
	})

	t.Run("inactive template is not sendable", func(t *testing.T) {
		repo := newFakeRepo()
		tpl := gradeTemplate()
		tpl.Active = false
		require.NoError(t, repo.CreateTemplate(ctx, tpl))
		svc := newTestService(repo, newIdleDispatcher(repo))

		_, err := svc.Send(ctx, SendRequest{RecipientID: "u-5", TemplateName: "grade_posted"})
		assert.ErrorIs(t, err, ErrTemplateNotFound)
	})

	t.Run("oversized context is rejected", func(t *testing.T) {
		repo := newFakeRepo()
		require.NoError(t, repo.CreateTemplate(ctx, gradeTemplate()))
		svc := newTestService(repo, newIdleDispatcher(repo))

		big := make(map[string]string)
		for i := 0; i < 40; i++ {
			big[string(rune('a'+i))] = "v"
		}
		_, err := svc.Send(ctx, SendRequest{RecipientID: "u-6", TemplateName: "grade_posted", Context: big})
		assert.ErrorIs(t, err, ErrMetadataTooLarge)
	})

	t.Run("scheduled sends are not enqueued", func(t *testing.T) {
		repo := newFakeRepo()
		require.NoError(t, repo.CreateTemplate(ctx, gradeTemplate()))
		d := newIdleDispatcher(repo)
		svc := newTestService(repo, d)

		later := time.Now().Add(time.Hour)
		created, err := svc.Send(ctx, SendRequest{
			RecipientID:  "u-7",
			TemplateName: "grade_posted",
			ScheduleFor:  &later,
		})
		require.NoError(t, err)
		require.NotEmpty(t, created)
		assert.Zero(t, len(d.queue))
		assert.Equal(t, later, *created[0].ScheduledFor)
	})

	t.Run("first send auto-provisions default preferences", func(t *testing.T) {
		repo := newFakeRepo()
		require.NoError(t, repo.CreateTemplate(ctx, gradeTemplate()))
		svc := newTestService(repo, newIdleDispatcher(repo))

		_, err := svc.Send(ctx, SendRequest{RecipientID: "u-new", TemplateName: "grade_posted"})
		require.NoError(t, err)

		pref, err := repo.GetPreference(ctx, "u-new")
		require.NoError(t, err)
		assert.Equal(t, DeliverEmailPush, pref.Grade.Delivery)
	})
}

func TestServiceMarkRead(t *testing.T) {
	ctx := context.Background()
	repo := newFakeRepo()
	svc := newTestService(repo, newIdleDispatcher(repo))

	n := &Notification{RecipientID: "u-1", Channel: ChannelInApp, Category: CategoryMessage, Status: StatusSent}
	require.NoError(t, repo.CreateNotification(ctx, n))

	got, err := svc.MarkRead(ctx, "u-1", n.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusRead, got.Status)
	assert.NotNil(t, got.ReadAt)

	// Idempotent.
	again, err := svc.MarkRead(ctx, "u-1", n.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusRead, again.Status)

	// Only the recipient may mark their records.
	_, err = svc.MarkRead(ctx, "u-2", n.ID)
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestServiceUnreadCount(t *testing.T) {
	ctx := context.Background()
	repo := newFakeRepo()
	svc := newTestService(repo, newIdleDispatcher(repo))

	for i := 0; i < 3; i++ {
		require.NoError(t, repo.CreateNotification(ctx, &Notification{
			RecipientID: "u-1", Channel: ChannelInApp, Status: StatusDelivered,
		}))
	}
	// Email records never count toward the in-app badge.
	require.NoError(t, repo.CreateNotification(ctx, &Notification{
		RecipientID: "u-1", Channel: ChannelEmail, Status: StatusSent,
	}))

	count, err := svc.UnreadCount(ctx, "u-1")
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestServiceTemplates(t *testing.T) {
	ctx := context.Background()
	repo := newFakeRepo()
	svc := newTestService(repo, newIdleDispatcher(repo))

	tpl := gradeTemplate()
	require.NoError(t, svc.CreateTemplate(ctx, tpl))

	// Duplicate names are rejected.
	assert.ErrorIs(t, svc.CreateTemplate(ctx, gradeTemplate()), ErrTemplateExists)

	// Content updates are fine.
	update := gradeTemplate()
	update.EmailSubject = "Updated subject"
	require.NoError(t, svc.UpdateTemplate(ctx, update))

	// Category is immutable after creation.
	recat := gradeTemplate()
	recat.Category = CategoryMessage
	assert.ErrorIs(t, svc.UpdateTemplate(ctx, recat), ErrCategoryImmutable)

	got, err := svc.GetTemplate(ctx, "grade_posted")
	require.NoError(t, err)
	assert.Equal(t, "Updated subject", got.EmailSubject)
	assert.Equal(t, CategoryGrade, got.Category)
}
