package notification

import (
	"time"
)

// --- Enumerations ---

type Category string

const (
	CategoryGrade        Category = "grade"
	CategoryAttendance   Category = "attendance"
	CategoryAssignment   Category = "assignment"
	CategoryEmergency    Category = "emergency"
	CategoryAnnouncement Category = "announcement"
	CategoryMessage      Category = "message"
	CategoryReminder     Category = "reminder"
	CategoryConference   Category = "conference"
)

// Channel is one delivery medium for a single notification record.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
	ChannelPush  Channel = "push"
	ChannelInApp Channel = "in_app"
)

// DeliveryMethod is the stored preference value selecting which channel
// subset a category maps to.
type DeliveryMethod string

const (
	DeliverEmail     DeliveryMethod = "email"
	DeliverSMS       DeliveryMethod = "sms"
	DeliverPush      DeliveryMethod = "push"
	DeliverEmailSMS  DeliveryMethod = "email_sms"
	DeliverEmailPush DeliveryMethod = "email_push"
	DeliverSMSPush   DeliveryMethod = "sms_push"
	DeliverAll       DeliveryMethod = "all"
)

type Frequency string

const (
	FrequencyImmediate Frequency = "immediate"
	FrequencyDaily     Frequency = "daily"
	FrequencyWeekly    Frequency = "weekly"
	FrequencyDisabled  Frequency = "disabled"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusSent      Status = "sent"
	StatusDelivered Status = "delivered"
	StatusFailed    Status = "failed"
	StatusRead      Status = "read"
)

type Priority string

const (
	PriorityLow       Priority = "low"
	PriorityNormal    Priority = "normal"
	PriorityHigh      Priority = "high"
	PriorityEmergency Priority = "emergency"
)

type BatchStatus string

const (
	BatchDraft     BatchStatus = "draft"
	BatchScheduled BatchStatus = "scheduled"
	BatchSending   BatchStatus = "sending"
	BatchCompleted BatchStatus = "completed"
	BatchFailed    BatchStatus = "failed"
)

// Metadata bounds. Records carry a small, flat string map rather than an
// arbitrary JSON blob so downstream renderers can't grow a hidden schema.
const (
	maxMetadataKeys     = 32
	maxMetadataValueLen = 1024
)

// --- Entities ---

// CategorySetting is the (frequency, delivery method) pair a user stores
// for one notification category.
type CategorySetting struct {
	Frequency Frequency      `json:"frequency"`
	Delivery  DeliveryMethod `json:"delivery"`
}

// Preference holds one user's notification preferences plus the contact
// fields the channel adapters need. Exactly one row per user.
type Preference struct {
	UserID       string          `db:"user_id"`
	Grade        CategorySetting `db:"-"`
	Attendance   CategorySetting `db:"-"`
	Assignment   CategorySetting `db:"-"`
	Emergency    CategorySetting `db:"-"`
	Announcement CategorySetting `db:"-"`
	Message      CategorySetting `db:"-"`
	Email        string          `db:"email"`
	PhoneNumber  string          `db:"phone_number"`
	PushToken    string          `db:"push_token"`
	CreatedAt    time.Time       `db:"created_at"`
	UpdatedAt    time.Time       `db:"updated_at"`
}

// DefaultPreference returns the preference row auto-provisioned the first
// time a user is notified.
func DefaultPreference(userID string) *Preference {
	now := time.Now()
	return &Preference{
		UserID:       userID,
		Grade:        CategorySetting{FrequencyImmediate, DeliverEmailPush},
		Attendance:   CategorySetting{FrequencyImmediate, DeliverEmailSMS},
		Assignment:   CategorySetting{FrequencyDaily, DeliverEmail},
		Emergency:    CategorySetting{FrequencyImmediate, DeliverAll},
		Announcement: CategorySetting{FrequencyDaily, DeliverEmail},
		Message:      CategorySetting{FrequencyImmediate, DeliverEmailPush},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// Setting returns the stored (frequency, delivery) pair for a category.
// Categories without a dedicated preference column (reminder, conference)
// fall back to immediate email.
func (p *Preference) Setting(category Category) CategorySetting {
	switch category {
	case CategoryGrade:
		return p.Grade
	case CategoryAttendance:
		return p.Attendance
	case CategoryAssignment:
		return p.Assignment
	case CategoryEmergency:
		return p.Emergency
	case CategoryAnnouncement:
		return p.Announcement
	case CategoryMessage:
		return p.Message
	default:
		return CategorySetting{FrequencyImmediate, DeliverEmail}
	}
}

// Template is a reusable, category-tagged notification template with
// per-channel content fields.
type Template struct {
	ID            string    `db:"id"`
	Name          string    `db:"name"`
	Category      Category  `db:"category"`
	EmailSubject  string    `db:"email_subject"`
	EmailBody     string    `db:"email_body"`
	EmailHTMLBody string    `db:"email_html_body"`
	SMSBody       string    `db:"sms_body"`
	PushTitle     string    `db:"push_title"`
	PushBody      string    `db:"push_body"`
	Variables     []string  `db:"variables"`
	Active        bool      `db:"active"`
	CreatedAt     time.Time `db:"created_at"`
	UpdatedAt     time.Time `db:"updated_at"`
}

// Notification is one delivery record: a single (recipient, channel) unit
// of work tracked through the status state machine.
type Notification struct {
	ID          string            `db:"id"`
	RecipientID string            `db:"recipient_id"`
	SenderID    *string           `db:"sender_id"`
	Title       string            `db:"title"`
	Message     string            `db:"message"`
	Category    Category          `db:"category"`
	Priority    Priority          `db:"priority"`
	Channel     Channel           `db:"channel"`
	Status      Status            `db:"status"`
	Metadata    map[string]string `db:"metadata"`
	RelatedType *string           `db:"related_type"`
	RelatedID   *string           `db:"related_id"`
	BatchID     *string           `db:"batch_id"`
	Attempts    int               `db:"attempts"`

	CreatedAt     time.Time  `db:"created_at"`
	ScheduledFor  *time.Time `db:"scheduled_for"`
	NextAttemptAt *time.Time `db:"next_attempt_at"`
	SentAt        *time.Time `db:"sent_at"`
	DeliveredAt   *time.Time `db:"delivered_at"`
	ReadAt        *time.Time `db:"read_at"`
	ExpiresAt     *time.Time `db:"expires_at"`
}

// statusRank orders the forward path of the state machine. Failed is
// terminal and handled separately.
func statusRank(s Status) int {
	switch s {
	case StatusPending:
		return 0
	case StatusSent:
		return 1
	case StatusDelivered:
		return 2
	case StatusRead:
		return 3
	default: // failed
		return -1
	}
}

func terminal(s Status) bool { return s == StatusFailed || s == StatusRead }

// MarkSent transitions pending -> sent and stamps SentAt. A record already
// at or past sent is left untouched.
func (n *Notification) MarkSent(now time.Time) bool {
	if terminal(n.Status) || statusRank(n.Status) >= statusRank(StatusSent) {
		return false
	}
	n.Status = StatusSent
	n.SentAt = &now
	return true
}

// MarkDelivered transitions sent -> delivered and stamps DeliveredAt.
func (n *Notification) MarkDelivered(now time.Time) bool {
	if terminal(n.Status) || statusRank(n.Status) >= statusRank(StatusDelivered) {
		return false
	}
	if n.Status == StatusPending {
		// Delivery implies the send happened; stamp both.
		n.MarkSent(now)
	}
	n.Status = StatusDelivered
	n.DeliveredAt = &now
	return true
}

// MarkRead transitions delivered -> read and stamps ReadAt.
func (n *Notification) MarkRead(now time.Time) bool {
	if terminal(n.Status) {
		return false
	}
	if n.Status != StatusDelivered {
		// A transport error can still arrive for sent records, but once the
		// recipient has seen the content the record is delivered by definition.
		if !n.MarkDelivered(now) {
			return false
		}
	}
	n.Status = StatusRead
	n.ReadAt = &now
	return true
}

// MarkFailed transitions any non-terminal state to failed. The reason is
// recorded by the caller in the delivery log, not on the record itself.
func (n *Notification) MarkFailed(now time.Time) bool {
	if terminal(n.Status) {
		return false
	}
	n.Status = StatusFailed
	return true
}

// IsExpired reports whether the record's expiry has passed. Pure check, no
// side effects.
func (n *Notification) IsExpired(now time.Time) bool {
	return n.ExpiresAt != nil && now.After(*n.ExpiresAt)
}

// Dispatchable reports whether the record is currently eligible for a
// dispatch attempt. Re-dispatching anything else is a no-op.
func (n *Notification) Dispatchable(now time.Time) bool {
	return n.Status == StatusPending && !n.IsExpired(now)
}

// RecipientQuery is the typed recipient-selection query a batch expands.
// Resolution against the portal's user store happens in the directory
// collaborator; the engine only persists and forwards it.
type RecipientQuery struct {
	Roles      []string `json:"roles,omitempty"`
	UserIDs    []string `json:"userIds,omitempty"`
	GradeLevel string   `json:"gradeLevel,omitempty"`
}

// Batch is a bulk dispatch job expanding one template across a recipient
// query into many Notification records.
type Batch struct {
	ID                  string         `db:"id"`
	Name                string         `db:"name"`
	TemplateName        string         `db:"template_name"`
	RecipientQuery      RecipientQuery `db:"recipient_query"`
	Channels            []Channel      `db:"channels"`
	Priority            Priority       `db:"priority"`
	Status              BatchStatus    `db:"status"`
	EstimatedRecipients int            `db:"estimated_recipients"`
	ActualRecipients    int            `db:"actual_recipients"`
	SentCount           int            `db:"sent_count"`
	DeliveredCount      int            `db:"delivered_count"`
	FailedCount         int            `db:"failed_count"`
	CreatedBy           string         `db:"created_by"`
	CreatedAt           time.Time      `db:"created_at"`
	ScheduledFor        *time.Time     `db:"scheduled_for"`
	StartedAt           *time.Time     `db:"started_at"`
	CompletedAt         *time.Time     `db:"completed_at"`
}

// LogEntry is one append-only delivery log record. Entries are never
// mutated or deleted; they are the audit trail for every attempt.
type LogEntry struct {
	ID               string    `db:"id"`
	NotificationID   string    `db:"notification_id"`
	Action           string    `db:"action"`
	Details          string    `db:"details"`
	ErrorMessage     string    `db:"error_message"`
	ProviderID       string    `db:"provider_id"`
	ProviderResponse string    `db:"provider_response"`
	Timestamp        time.Time `db:"timestamp"`
}

// ValidateMetadata enforces the bounded key-value shape of record metadata.
func ValidateMetadata(md map[string]string) error {
	if len(md) > maxMetadataKeys {
		return ErrMetadataTooLarge.WithDetail("metadata exceeds 32 keys")
	}
	for k, v := range md {
		if len(v) > maxMetadataValueLen {
			return ErrMetadataTooLarge.WithDetail("metadata value for " + k + " exceeds 1024 bytes")
		}
	}
	return nil
}

// ValidCategory reports whether c is a known category value.
func ValidCategory(c Category) bool {
	switch c {
	case CategoryGrade, CategoryAttendance, CategoryAssignment, CategoryEmergency,
		CategoryAnnouncement, CategoryMessage, CategoryReminder, CategoryConference:
		return true
	}
	return false
}

// ValidChannel reports whether ch is a known channel value.
func ValidChannel(ch Channel) bool {
	switch ch {
	case ChannelEmail, ChannelSMS, ChannelPush, ChannelInApp:
		return true
	}
	return false
}
