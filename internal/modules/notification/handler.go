package notification

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/campuskit/notify/internal/httpx"
	"github.com/campuskit/notify/internal/validation"
	"github.com/danielgtaylor/huma/v2"
)

// Handler holds the dependencies for the notification module's HTTP handlers.
type Handler struct {
	service Service
	batches BatchService
	logger  *slog.Logger
}

// NewHandler creates a new handler for the notification module.
func NewHandler(service Service, batches BatchService, logger *slog.Logger) *Handler {
	return &Handler{
		service: service,
		batches: batches,
		logger:  logger,
	}
}

// RegisterRoutes sets up the routing for the notification module.
func (h *Handler) RegisterRoutes(api huma.API) {
	// --- Dispatch ---
	huma.Register(api, huma.Operation{
		Method:  http.MethodPost,
		Path:    "/notifications/send",
		Summary: "Send a notification to one recipient",
	}, h.SendHandler)

	// --- Recipient feed ---
	huma.Register(api, huma.Operation{
		Method:  http.MethodGet,
		Path:    "/users/{userID}/notifications",
		Summary: "List a recipient's notifications",
	}, h.FeedHandler)

	huma.Register(api, huma.Operation{
		Method:  http.MethodGet,
		Path:    "/users/{userID}/notifications/unread-count",
		Summary: "Count a recipient's unread in-app notifications",
	}, h.UnreadCountHandler)

	huma.Register(api, huma.Operation{
		Method:  http.MethodGet,
		Path:    "/users/{userID}/notifications/{id}",
		Summary: "Get one of a recipient's notifications",
	}, h.GetNotificationHandler)

	huma.Register(api, huma.Operation{
		Method:  http.MethodPost,
		Path:    "/users/{userID}/notifications/{id}/read",
		Summary: "Mark a notification as read",
	}, h.MarkReadHandler)

	huma.Register(api, huma.Operation{
		Method:  http.MethodGet,
		Path:    "/notifications/{id}/logs",
		Summary: "List a notification's delivery log",
	}, h.LogsHandler)

	// --- Preferences ---
	huma.Register(api, huma.Operation{
		Method:  http.MethodGet,
		Path:    "/users/{userID}/preferences",
		Summary: "Get a user's notification preferences",
	}, h.GetPreferencesHandler)

	huma.Register(api, huma.Operation{
		Method:  http.MethodPut,
		Path:    "/users/{userID}/preferences",
		Summary: "Replace a user's notification preferences",
	}, h.UpdatePreferencesHandler)

	// --- Templates ---
	huma.Register(api, huma.Operation{
		Method:  http.MethodPost,
		Path:    "/templates",
		Summary: "Create a notification template",
	}, h.CreateTemplateHandler)

	huma.Register(api, huma.Operation{
		Method:  http.MethodGet,
		Path:    "/templates",
		Summary: "List notification templates",
	}, h.ListTemplatesHandler)

	huma.Register(api, huma.Operation{
		Method:  http.MethodGet,
		Path:    "/templates/{name}",
		Summary: "Get a notification template",
	}, h.GetTemplateHandler)

	huma.Register(api, huma.Operation{
		Method:  http.MethodPut,
		Path:    "/templates/{name}",
		Summary: "Update a notification template",
	}, h.UpdateTemplateHandler)

	// --- Batches ---
	huma.Register(api, huma.Operation{
		Method:  http.MethodPost,
		Path:    "/batches",
		Summary: "Create a notification batch",
	}, h.CreateBatchHandler)

	huma.Register(api, huma.Operation{
		Method:  http.MethodGet,
		Path:    "/batches/{id}",
		Summary: "Get a batch with refreshed progress",
	}, h.GetBatchHandler)

	huma.Register(api, huma.Operation{
		Method:  http.MethodPost,
		Path:    "/batches/{id}/schedule",
		Summary: "Schedule a draft batch",
	}, h.ScheduleBatchHandler)

	huma.Register(api, huma.Operation{
		Method:  http.MethodPost,
		Path:    "/batches/{id}/send",
		Summary: "Expand and dispatch a batch",
	}, h.SendBatchHandler)
}

// --- DTOs & Mappers ---

// NotificationDTO is the wire shape of one delivery record.
type NotificationDTO struct {
	ID           string            `json:"id"`
	RecipientID  string            `json:"recipientId"`
	SenderID     *string           `json:"senderId,omitempty"`
	Title        string            `json:"title"`
	Message      string            `json:"message"`
	Category     Category          `json:"category"`
	Priority     Priority          `json:"priority"`
	Channel      Channel           `json:"channel"`
	Status       Status            `json:"status"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	CreatedAt    time.Time         `json:"createdAt"`
	ScheduledFor *time.Time        `json:"scheduledFor,omitempty"`
	SentAt       *time.Time        `json:"sentAt,omitempty"`
	DeliveredAt  *time.Time        `json:"deliveredAt,omitempty"`
	ReadAt       *time.Time        `json:"readAt,omitempty"`
	ExpiresAt    *time.Time        `json:"expiresAt,omitempty"`
}

func toNotificationDTO(n *Notification) NotificationDTO {
	md := n.Metadata
	if md != nil {
		// The HTML alternative is an internal carrier, not API surface.
		cp := make(map[string]string, len(md))
		for k, v := range md {
			if k == htmlBodyKey {
				continue
			}
			cp[k] = v
		}
		md = cp
	}
	return NotificationDTO{
		ID:           n.ID,
		RecipientID:  n.RecipientID,
		SenderID:     n.SenderID,
		Title:        n.Title,
		Message:      n.Message,
		Category:     n.Category,
		Priority:     n.Priority,
		Channel:      n.Channel,
		Status:       n.Status,
		Metadata:     md,
		CreatedAt:    n.CreatedAt,
		ScheduledFor: n.ScheduledFor,
		SentAt:       n.SentAt,
		DeliveredAt:  n.DeliveredAt,
		ReadAt:       n.ReadAt,
		ExpiresAt:    n.ExpiresAt,
	}
}

type SendInput struct {
	Body struct {
		RecipientID  string            `json:"recipientId" validate:"required"`
		SenderID     *string           `json:"senderId,omitempty"`
		TemplateName string            `json:"templateName" validate:"required"`
		Context      map[string]string `json:"context,omitempty"`
		Channels     []Channel         `json:"channels,omitempty"`
		Priority     Priority          `json:"priority,omitempty"`
		RelatedType  *string           `json:"relatedType,omitempty"`
		RelatedID    *string           `json:"relatedId,omitempty"`
		ScheduleFor  *time.Time        `json:"scheduleFor,omitempty"`
		ExpiresAt    *time.Time        `json:"expiresAt,omitempty"`
	}
}

type NotificationsResponse struct {
	Body struct {
		Notifications []NotificationDTO `json:"notifications"`
	}
}

// SendHandler is the orchestrator entry point.
func (h *Handler) SendHandler(ctx context.Context, input *SendInput) (*NotificationsResponse, error) {
	if err := validation.ValidateStruct(input.Body); err != nil {
		return nil, httpx.ToProblem(ctx, err)
	}

	created, err := h.service.Send(ctx, SendRequest{
		RecipientID:  input.Body.RecipientID,
		SenderID:     input.Body.SenderID,
		TemplateName: input.Body.TemplateName,
		Context:      input.Body.Context,
		Channels:     input.Body.Channels,
		Priority:     input.Body.Priority,
		RelatedType:  input.Body.RelatedType,
		RelatedID:    input.Body.RelatedID,
		ScheduleFor:  input.Body.ScheduleFor,
		ExpiresAt:    input.Body.ExpiresAt,
	})
	if err != nil {
		return nil, httpx.ToProblem(ctx, err)
	}

	resp := &NotificationsResponse{}
	resp.Body.Notifications = make([]NotificationDTO, 0, len(created))
	for _, n := range created {
		resp.Body.Notifications = append(resp.Body.Notifications, toNotificationDTO(n))
	}
	return resp, nil
}

type FeedInput struct {
	UserID     string `path:"userID"`
	Status     string `query:"status"`
	Category   string `query:"category"`
	UnreadOnly bool   `query:"unread"`
	Limit      int    `query:"limit"`
	Offset     int    `query:"offset"`
}

func (h *Handler) FeedHandler(ctx context.Context, input *FeedInput) (*NotificationsResponse, error) {
	filter := FeedFilter{UnreadOnly: input.UnreadOnly, Limit: input.Limit, Offset: input.Offset}
	if input.Status != "" {
		st := Status(input.Status)
		filter.Status = &st
	}
	if input.Category != "" {
		cat := Category(input.Category)
		if !ValidCategory(cat) {
			return nil, httpx.ToProblem(ctx, ErrInvalidCategory)
		}
		filter.Category = &cat
	}

	list, err := h.service.Feed(ctx, input.UserID, filter)
	if err != nil {
		return nil, httpx.ToProblem(ctx, err)
	}

	resp := &NotificationsResponse{}
	resp.Body.Notifications = make([]NotificationDTO, 0, len(list))
	for _, n := range list {
		resp.Body.Notifications = append(resp.Body.Notifications, toNotificationDTO(n))
	}
	return resp, nil
}

type UnreadCountResponse struct {
	Body struct {
		Unread int `json:"unread"`
	}
}

func (h *Handler) UnreadCountHandler(ctx context.Context, input *struct {
	UserID string `path:"userID"`
}) (*UnreadCountResponse, error) {
	count, err := h.service.UnreadCount(ctx, input.UserID)
	if err != nil {
		return nil, httpx.ToProblem(ctx, err)
	}
	resp := &UnreadCountResponse{}
	resp.Body.Unread = count
	return resp, nil
}

type NotificationResponse struct {
	Body NotificationDTO
}

func (h *Handler) GetNotificationHandler(ctx context.Context, input *struct {
	UserID string `path:"userID"`
	ID     string `path:"id"`
}) (*NotificationResponse, error) {
	n, err := h.service.GetNotification(ctx, input.UserID, input.ID)
	if err != nil {
		return nil, httpx.ToProblem(ctx, err)
	}
	return &NotificationResponse{Body: toNotificationDTO(n)}, nil
}

func (h *Handler) MarkReadHandler(ctx context.Context, input *struct {
	UserID string `path:"userID"`
	ID     string `path:"id"`
}) (*NotificationResponse, error) {
	n, err := h.service.MarkRead(ctx, input.UserID, input.ID)
	if err != nil {
		return nil, httpx.ToProblem(ctx, err)
	}
	return &NotificationResponse{Body: toNotificationDTO(n)}, nil
}

type LogDTO struct {
	Action           string    `json:"action"`
	Details          string    `json:"details,omitempty"`
	ErrorMessage     string    `json:"errorMessage,omitempty"`
	ProviderID       string    `json:"providerId,omitempty"`
	ProviderResponse string    `json:"providerResponse,omitempty"`
	Timestamp        time.Time `json:"timestamp"`
}

type LogsResponse struct {
	Body struct {
		Logs []LogDTO `json:"logs"`
	}
}

func (h *Handler) LogsHandler(ctx context.Context, input *struct {
	ID string `path:"id"`
}) (*LogsResponse, error) {
	entries, err := h.service.Logs(ctx, input.ID)
	if err != nil {
		return nil, httpx.ToProblem(ctx, err)
	}

	resp := &LogsResponse{}
	resp.Body.Logs = make([]LogDTO, 0, len(entries))
	for _, e := range entries {
		resp.Body.Logs = append(resp.Body.Logs, LogDTO{
			Action:           e.Action,
			Details:          e.Details,
			ErrorMessage:     e.ErrorMessage,
			ProviderID:       e.ProviderID,
			ProviderResponse: e.ProviderResponse,
			Timestamp:        e.Timestamp,
		})
	}
	return resp, nil
}

// --- Preferences ---

type CategorySettingDTO struct {
	Frequency Frequency      `json:"frequency" validate:"required,oneof=immediate daily weekly disabled"`
	Delivery  DeliveryMethod `json:"delivery" validate:"required,oneof=email sms push email_sms email_push sms_push all"`
}

type PreferencesBody struct {
	Grade        CategorySettingDTO `json:"grade"`
	Attendance   CategorySettingDTO `json:"attendance"`
	Assignment   CategorySettingDTO `json:"assignment"`
	Emergency    CategorySettingDTO `json:"emergency"`
	Announcement CategorySettingDTO `json:"announcement"`
	Message      CategorySettingDTO `json:"message"`
	Email        string             `json:"email" validate:"omitempty,email"`
	PhoneNumber  string             `json:"phoneNumber"`
	PushToken    string             `json:"pushToken"`
}

type PreferencesResponse struct {
	Body PreferencesBody
}

func toPreferencesBody(p *Preference) PreferencesBody {
	setting := func(s CategorySetting) CategorySettingDTO {
		return CategorySettingDTO{Frequency: s.Frequency, Delivery: s.Delivery}
	}
	return PreferencesBody{
		Grade:        setting(p.Grade),
		Attendance:   setting(p.Attendance),
		Assignment:   setting(p.Assignment),
		Emergency:    setting(p.Emergency),
		Announcement: setting(p.Announcement),
		Message:      setting(p.Message),
		Email:        p.Email,
		PhoneNumber:  p.PhoneNumber,
		PushToken:    p.PushToken,
	}
}

func (h *Handler) GetPreferencesHandler(ctx context.Context, input *struct {
	UserID string `path:"userID"`
}) (*PreferencesResponse, error) {
	pref, err := h.service.GetPreferences(ctx, input.UserID)
	if err != nil {
		return nil, httpx.ToProblem(ctx, err)
	}
	return &PreferencesResponse{Body: toPreferencesBody(pref)}, nil
}

type UpdatePreferencesInput struct {
	UserID string `path:"userID"`
	Body   PreferencesBody
}

func (h *Handler) UpdatePreferencesHandler(ctx context.Context, input *UpdatePreferencesInput) (*PreferencesResponse, error) {
	if err := validation.ValidateStruct(input.Body); err != nil {
		return nil, httpx.ToProblem(ctx, err)
	}

	setting := func(s CategorySettingDTO) CategorySetting {
		return CategorySetting{Frequency: s.Frequency, Delivery: s.Delivery}
	}
	pref := &Preference{
		UserID:       input.UserID,
		Grade:        setting(input.Body.Grade),
		Attendance:   setting(input.Body.Attendance),
		Assignment:   setting(input.Body.Assignment),
		Emergency:    setting(input.Body.Emergency),
		Announcement: setting(input.Body.Announcement),
		Message:      setting(input.Body.Message),
		Email:        input.Body.Email,
		PhoneNumber:  input.Body.PhoneNumber,
		PushToken:    input.Body.PushToken,
	}
	if err := h.service.UpdatePreferences(ctx, pref); err != nil {
		return nil, httpx.ToProblem(ctx, err)
	}
	return &PreferencesResponse{Body: toPreferencesBody(pref)}, nil
}

// --- Templates ---

type TemplateBody struct {
	Name          string   `json:"name" validate:"required,min=1,max=100"`
	Category      Category `json:"category" validate:"required"`
	EmailSubject  string   `json:"emailSubject"`
	EmailBody     string   `json:"emailBody"`
	EmailHTMLBody string   `json:"emailHtmlBody,omitempty"`
	SMSBody       string   `json:"smsBody" validate:"max=160"`
	PushTitle     string   `json:"pushTitle"`
	PushBody      string   `json:"pushBody"`
	Variables     []string `json:"variables,omitempty"`
	Active        bool     `json:"active"`
}

type TemplateResponse struct {
	Body TemplateBody
}

func toTemplateBody(t *Template) TemplateBody {
	return TemplateBody{
		Name:          t.Name,
		Category:      t.Category,
		EmailSubject:  t.EmailSubject,
		EmailBody:     t.EmailBody,
		EmailHTMLBody: t.EmailHTMLBody,
		SMSBody:       t.SMSBody,
		PushTitle:     t.PushTitle,
		PushBody:      t.PushBody,
		Variables:     t.Variables,
		Active:        t.Active,
	}
}

func templateFromBody(b TemplateBody) *Template {
	return &Template{
		Name:          b.Name,
		Category:      b.Category,
		EmailSubject:  b.EmailSubject,
		EmailBody:     b.EmailBody,
		EmailHTMLBody: b.EmailHTMLBody,
		SMSBody:       b.SMSBody,
		PushTitle:     b.PushTitle,
		PushBody:      b.PushBody,
		Variables:     b.Variables,
		Active:        b.Active,
	}
}

func (h *Handler) CreateTemplateHandler(ctx context.Context, input *struct {
	Body TemplateBody
}) (*TemplateResponse, error) {
	if err := validation.ValidateStruct(input.Body); err != nil {
		return nil, httpx.ToProblem(ctx, err)
	}
	tpl := templateFromBody(input.Body)
	if err := h.service.CreateTemplate(ctx, tpl); err != nil {
		return nil, httpx.ToProblem(ctx, err)
	}
	return &TemplateResponse{Body: toTemplateBody(tpl)}, nil
}

type ListTemplatesResponse struct {
	Body struct {
		Templates []TemplateBody `json:"templates"`
	}
}

func (h *Handler) ListTemplatesHandler(ctx context.Context, input *struct {
	Category string `query:"category"`
}) (*ListTemplatesResponse, error) {
	var category *Category
	if input.Category != "" {
		cat := Category(input.Category)
		if !ValidCategory(cat) {
			return nil, httpx.ToProblem(ctx, ErrInvalidCategory)
		}
		category = &cat
	}

	list, err := h.service.ListTemplates(ctx, category)
	if err != nil {
		return nil, httpx.ToProblem(ctx, err)
	}

	resp := &ListTemplatesResponse{}
	resp.Body.Templates = make([]TemplateBody, 0, len(list))
	for _, t := range list {
		resp.Body.Templates = append(resp.Body.Templates, toTemplateBody(t))
	}
	return resp, nil
}

func (h *Handler) GetTemplateHandler(ctx context.Context, input *struct {
	Name string `path:"name"`
}) (*TemplateResponse, error) {
	tpl, err := h.service.GetTemplate(ctx, input.Name)
	if err != nil {
		return nil, httpx.ToProblem(ctx, err)
	}
	return &TemplateResponse{Body: toTemplateBody(tpl)}, nil
}

func (h *Handler) UpdateTemplateHandler(ctx context.Context, input *struct {
	Name string `path:"name"`
	Body TemplateBody
}) (*TemplateResponse, error) {
	if err := validation.ValidateStruct(input.Body); err != nil {
		return nil, httpx.ToProblem(ctx, err)
	}
	tpl := templateFromBody(input.Body)
	tpl.Name = input.Name
	if err := h.service.UpdateTemplate(ctx, tpl); err != nil {
		return nil, httpx.ToProblem(ctx, err)
	}
	return &TemplateResponse{Body: toTemplateBody(tpl)}, nil
}

// --- Batches ---

type BatchDTO struct {
	ID                  string         `json:"id"`
	Name                string         `json:"name"`
	TemplateName        string         `json:"templateName"`
	RecipientQuery      RecipientQuery `json:"recipientQuery"`
	Channels            []Channel      `json:"channels"`
	Priority            Priority       `json:"priority"`
	Status              BatchStatus    `json:"status"`
	EstimatedRecipients int            `json:"estimatedRecipients"`
	ActualRecipients    int            `json:"actualRecipients"`
	SentCount           int            `json:"sentCount"`
	DeliveredCount      int            `json:"deliveredCount"`
	FailedCount         int            `json:"failedCount"`
	CreatedAt           time.Time      `json:"createdAt"`
	ScheduledFor        *time.Time     `json:"scheduledFor,omitempty"`
	StartedAt           *time.Time     `json:"startedAt,omitempty"`
	CompletedAt         *time.Time     `json:"completedAt,omitempty"`
}

func toBatchDTO(b *Batch) BatchDTO {
	return BatchDTO{
		ID:                  b.ID,
		Name:                b.Name,
		TemplateName:        b.TemplateName,
		RecipientQuery:      b.RecipientQuery,
		Channels:            b.Channels,
		Priority:            b.Priority,
		Status:              b.Status,
		EstimatedRecipients: b.EstimatedRecipients,
		ActualRecipients:    b.ActualRecipients,
		SentCount:           b.SentCount,
		DeliveredCount:      b.DeliveredCount,
		FailedCount:         b.FailedCount,
		CreatedAt:           b.CreatedAt,
		ScheduledFor:        b.ScheduledFor,
		StartedAt:           b.StartedAt,
		CompletedAt:         b.CompletedAt,
	}
}

type BatchResponse struct {
	Body BatchDTO
}

type CreateBatchInput struct {
	Body struct {
		Name           string         `json:"name" validate:"required,min=1,max=200"`
		TemplateName   string         `json:"templateName" validate:"required"`
		RecipientQuery RecipientQuery `json:"recipientQuery"`
		Channels       []Channel      `json:"channels" validate:"required,min=1"`
		Priority       Priority       `json:"priority,omitempty"`
		CreatedBy      string         `json:"createdBy" validate:"required"`
	}
}

func (h *Handler) CreateBatchHandler(ctx context.Context, input *CreateBatchInput) (*BatchResponse, error) {
	if err := validation.ValidateStruct(input.Body); err != nil {
		return nil, httpx.ToProblem(ctx, err)
	}

	b := &Batch{
		Name:           input.Body.Name,
		TemplateName:   input.Body.TemplateName,
		RecipientQuery: input.Body.RecipientQuery,
		Channels:       input.Body.Channels,
		Priority:       input.Body.Priority,
		CreatedBy:      input.Body.CreatedBy,
	}
	if err := h.batches.Create(ctx, b); err != nil {
		return nil, httpx.ToProblem(ctx, err)
	}
	return &BatchResponse{Body: toBatchDTO(b)}, nil
}

func (h *Handler) GetBatchHandler(ctx context.Context, input *struct {
	ID string `path:"id"`
}) (*BatchResponse, error) {
	b, err := h.batches.Progress(ctx, input.ID)
	if err != nil {
		return nil, httpx.ToProblem(ctx, err)
	}
	return &BatchResponse{Body: toBatchDTO(b)}, nil
}

func (h *Handler) ScheduleBatchHandler(ctx context.Context, input *struct {
	ID   string `path:"id"`
	Body struct {
		ScheduleFor time.Time `json:"scheduleFor" validate:"required"`
	}
}) (*BatchResponse, error) {
	b, err := h.batches.Schedule(ctx, input.ID, input.Body.ScheduleFor)
	if err != nil {
		return nil, httpx.ToProblem(ctx, err)
	}
	return &BatchResponse{Body: toBatchDTO(b)}, nil
}

// SendBatchHandler expands the batch inside one transaction and then
// dispatches every created record through the worker pool.
func (h *Handler) SendBatchHandler(ctx context.Context, input *struct {
	ID string `path:"id"`
}) (*BatchResponse, error) {
	if _, err := h.batches.Expand(ctx, input.ID); err != nil {
		return nil, httpx.ToProblem(ctx, err)
	}
	b, err := h.batches.Dispatch(ctx, input.ID)
	if err != nil {
		return nil, httpx.ToProblem(ctx, err)
	}
	return &BatchResponse{Body: toBatchDTO(b)}, nil
}
