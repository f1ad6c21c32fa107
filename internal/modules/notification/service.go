package notification

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// htmlBodyKey is the reserved metadata key email records use to carry their
// rendered HTML alternative from creation to dispatch.
const htmlBodyKey = "_html_body"

const unreadCacheTTL = 5 * time.Minute

// SendRequest is the input to the delivery orchestrator: one recipient, one
// template, one context map, fanned out across the resolved channels.
type SendRequest struct {
	RecipientID string
	SenderID    *string

	TemplateName string
	Context      map[string]string

	// Channels, when non-empty, bypasses the preference resolver. Used for
	// forced broadcasts (emergencies) where stored preferences must not
	// suppress delivery.
	Channels []Channel

	Priority    Priority
	RelatedType *string
	RelatedID   *string

	// ScheduleFor defers dispatch to the sweeper. Empty means immediate.
	ScheduleFor *time.Time
	ExpiresAt   *time.Time
}

// Service is the notification module's entry point: the delivery
// orchestrator plus the recipient- and admin-facing operations.
type Service interface {
	// Send resolves channels, renders content, creates one pending record
	// per channel and dispatches immediately unless scheduled.
	Send(ctx context.Context, req SendRequest) ([]*Notification, error)

	// Recipient-facing
	Feed(ctx context.Context, recipientID string, f FeedFilter) ([]*Notification, error)
	GetNotification(ctx context.Context, recipientID, id string) (*Notification, error)
	MarkRead(ctx context.Context, recipientID, id string) (*Notification, error)
	UnreadCount(ctx context.Context, recipientID string) (int, error)
	Logs(ctx context.Context, id string) ([]*LogEntry, error)

	// Preferences
	GetPreferences(ctx context.Context, userID string) (*Preference, error)
	UpdatePreferences(ctx context.Context, pref *Preference) error

	// Template administration
	CreateTemplate(ctx context.Context, tpl *Template) error
	UpdateTemplate(ctx context.Context, tpl *Template) error
	GetTemplate(ctx context.Context, name string) (*Template, error)
	ListTemplates(ctx context.Context, category *Category) ([]*Template, error)
}

// service implements the Service interface.
type service struct {
	repo       Repository
	dispatcher *Dispatcher
	cache      *redis.Client
	logger     *slog.Logger
}

// Config holds the dependencies for the notification service.
type Config struct {
	Repo       Repository
	Dispatcher *Dispatcher
	Cache      *redis.Client
	Logger     *slog.Logger
}

// NewService creates a new notification service with the given dependencies.
func NewService(cfg *Config) Service {
	return &service{
		repo:       cfg.Repo,
		dispatcher: cfg.Dispatcher,
		cache:      cfg.Cache,
		logger:     cfg.Logger,
	}
}

// Send implements the delivery orchestrator. Failure isolation is per
// (recipient, channel): a channel whose record cannot be created is logged
// and skipped without affecting its siblings. Only a missing template, a
// configuration error, aborts the whole call.
func (s *service) Send(ctx context.Context, req SendRequest) ([]*Notification, error) {
	if err := ValidateMetadata(req.Context); err != nil {
		return nil, err
	}

	tpl, err := s.repo.GetActiveTemplate(ctx, req.TemplateName)
	if err != nil {
		s.logger.Error("template lookup failed", "template", req.TemplateName, "error", err)
		return nil, err
	}

	pref, err := s.preferencesFor(ctx, req.RecipientID)
	if err != nil {
		return nil, err
	}

	channels := DedupeChannels(req.Channels)
	if len(channels) == 0 {
		channels = ChannelsFor(pref, tpl.Category)
	}
	if len(channels) == 0 {
		// Disabled preference: no records are created downstream.
		s.logger.Info("notifications disabled for category, nothing to send",
			"recipient_id", req.RecipientID, "category", tpl.Category)
		return nil, nil
	}

	priority := req.Priority
	if priority == "" {
		priority = PriorityNormal
	}

	var created []*Notification
	for _, ch := range channels {
		n, err := s.createRecord(ctx, req, tpl, ch, priority)
		if err != nil {
			// One channel's failure never blocks its siblings.
			s.logger.Error("failed to create notification record",
				"recipient_id", req.RecipientID, "channel", ch, "error", err)
			continue
		}
		created = append(created, n)

		if ch == ChannelInApp {
			s.invalidateUnread(ctx, req.RecipientID)
		}

		if req.ScheduleFor == nil {
			if err := s.dispatcher.Enqueue(ctx, n.ID); err != nil {
				s.logger.Error("failed to enqueue notification", "notification_id", n.ID, "error", err)
			}
		}
	}
	return created, nil
}

func (s *service) createRecord(ctx context.Context, req SendRequest, tpl *Template, ch Channel, priority Priority) (*Notification, error) {
	content := Render(tpl, ch, req.Context)

	metadata := make(map[string]string, len(req.Context)+1)
	for k, v := range req.Context {
		metadata[k] = v
	}
	if ch == ChannelEmail && content.HTMLBody != "" {
		metadata[htmlBodyKey] = content.HTMLBody
	}

	n := &Notification{
		RecipientID:  req.RecipientID,
		SenderID:     req.SenderID,
		Title:        content.Title,
		Message:      content.Body,
		Category:     tpl.Category,
		Priority:     priority,
		Channel:      ch,
		Status:       StatusPending,
		Metadata:     metadata,
		RelatedType:  req.RelatedType,
		RelatedID:    req.RelatedID,
		ScheduledFor: req.ScheduleFor,
		ExpiresAt:    req.ExpiresAt,
	}
	if err := s.repo.CreateNotification(ctx, n); err != nil {
		return nil, err
	}

	if err := s.repo.AppendLog(ctx, &LogEntry{
		NotificationID: n.ID,
		Action:         "created",
		Details:        "record created from template " + tpl.Name,
	}); err != nil {
		s.logger.Error("failed to log record creation", "notification_id", n.ID, "error", err)
	}
	return n, nil
}

// preferencesFor loads the user's preference row, auto-provisioning the
// defaults on first use.
func (s *service) preferencesFor(ctx context.Context, userID string) (*Preference, error) {
	pref, err := s.repo.GetPreference(ctx, userID)
	if err == nil {
		return pref, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	pref = DefaultPreference(userID)
	if err := s.repo.UpsertPreference(ctx, pref); err != nil {
		return nil, err
	}
	s.logger.Info("auto-provisioned default notification preferences", "user_id", userID)
	return pref, nil
}

func (s *service) Feed(ctx context.Context, recipientID string, f FeedFilter) ([]*Notification, error) {
	if f.Limit <= 0 || f.Limit > 100 {
		f.Limit = 50
	}
	return s.repo.ListByRecipient(ctx, recipientID, f)
}

func (s *service) GetNotification(ctx context.Context, recipientID, id string) (*Notification, error) {
	n, err := s.repo.GetNotification(ctx, id)
	if err != nil {
		return nil, err
	}
	if n.RecipientID != recipientID {
		return nil, ErrForbidden
	}
	return n, nil
}

// MarkRead transitions a record to read on behalf of its recipient. Marking
// an already-read record again is an idempotent no-op.
func (s *service) MarkRead(ctx context.Context, recipientID, id string) (*Notification, error) {
	n, err := s.GetNotification(ctx, recipientID, id)
	if err != nil {
		return nil, err
	}

	prev := n.Status
	if !n.MarkRead(time.Now()) {
		return n, nil
	}

	if _, err := s.repo.UpdateStatus(ctx, n, prev); err != nil {
		return nil, err
	}
	s.invalidateUnread(ctx, recipientID)
	return n, nil
}

// UnreadCount returns the recipient's unread in-app count, served from the
// redis cache when warm.
func (s *service) UnreadCount(ctx context.Context, recipientID string) (int, error) {
	key := unreadKey(recipientID)
	if s.cache != nil {
		if cached, err := s.cache.Get(ctx, key).Result(); err == nil {
			if count, convErr := strconv.Atoi(cached); convErr == nil {
				return count, nil
			}
		}
	}

	count, err := s.repo.CountUnread(ctx, recipientID)
	if err != nil {
		return 0, err
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, key, count, unreadCacheTTL).Err(); err != nil {
			s.logger.Warn("failed to cache unread count", "user_id", recipientID, "error", err)
		}
	}
	return count, nil
}

func (s *service) invalidateUnread(ctx context.Context, recipientID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Del(ctx, unreadKey(recipientID)).Err(); err != nil {
		s.logger.Warn("failed to invalidate unread count cache", "user_id", recipientID, "error", err)
	}
}

func unreadKey(recipientID string) string { return "notify:unread:" + recipientID }

func (s *service) Logs(ctx context.Context, id string) ([]*LogEntry, error) {
	if _, err := s.repo.GetNotification(ctx, id); err != nil {
		return nil, err
	}
	return s.repo.ListLogs(ctx, id)
}

func (s *service) GetPreferences(ctx context.Context, userID string) (*Preference, error) {
	return s.preferencesFor(ctx, userID)
}

func (s *service) UpdatePreferences(ctx context.Context, pref *Preference) error {
	return s.repo.UpsertPreference(ctx, pref)
}

func (s *service) CreateTemplate(ctx context.Context, tpl *Template) error {
	if err := ValidateTemplate(tpl); err != nil {
		return err
	}
	return s.repo.CreateTemplate(ctx, tpl)
}

// UpdateTemplate rewrites a template's content. The category is immutable
// after creation; an attempt to change it is rejected.
func (s *service) UpdateTemplate(ctx context.Context, tpl *Template) error {
	if err := ValidateTemplate(tpl); err != nil {
		return err
	}
	existing, err := s.repo.GetTemplateByName(ctx, tpl.Name)
	if err != nil {
		return err
	}
	if tpl.Category != "" && tpl.Category != existing.Category {
		return ErrCategoryImmutable
	}
	return s.repo.UpdateTemplate(ctx, tpl)
}

func (s *service) GetTemplate(ctx context.Context, name string) (*Template, error) {
	return s.repo.GetTemplateByName(ctx, name)
}

func (s *service) ListTemplates(ctx context.Context, category *Category) ([]*Template, error) {
	return s.repo.ListTemplates(ctx, category)
}
