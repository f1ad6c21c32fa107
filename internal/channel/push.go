package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// pushAdapter posts to an FCM-compatible push gateway. The gateway owns all
// real-time infrastructure; this adapter only hands over (token, title,
// body, data) and interprets the acknowledgment.
type pushAdapter struct {
	client    *http.Client
	endpoint  string
	serverKey string
	log       *slog.Logger
}

// NewPushAdapter creates the push channel adapter.
func NewPushAdapter(endpoint, serverKey string, log *slog.Logger) Adapter {
	return &pushAdapter{
		client:    &http.Client{Timeout: 10 * time.Second},
		endpoint:  endpoint,
		serverKey: serverKey,
		log:       log,
	}
}

func (a *pushAdapter) Name() string { return Push }

type pushPayload struct {
	To           string            `json:"to"`
	Notification pushNotification  `json:"notification"`
	Data         map[string]string `json:"data,omitempty"`
	Priority     string            `json:"priority,omitempty"`
}

type pushNotification struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

func (a *pushAdapter) Send(ctx context.Context, d Delivery) (Result, error) {
	if d.PushToken == "" {
		return Result{}, Permanent("no push token configured")
	}

	payload := pushPayload{
		To:           d.PushToken,
		Notification: pushNotification{Title: d.Title, Body: d.Body},
		Data:         d.Data,
	}
	if d.Priority == "high" || d.Priority == "emergency" {
		payload.Priority = "high"
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return Result{}, fmt.Errorf("encode push payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint, bytes.NewReader(raw))
	if err != nil {
		return Result{}, fmt.Errorf("build push request: %w", err)
	}
	req.Header.Set("Authorization", "key="+a.serverKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("push gateway: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Result{}, fmt.Errorf("push gateway returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var parsed struct {
		Success int `json:"success"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Success == 0 {
		return Result{}, fmt.Errorf("push gateway rejected message: %s", strings.TrimSpace(string(body)))
	}

	a.log.Info("push notification sent", "notification_id", d.NotificationID)
	return Result{ProviderResponse: string(body)}, nil
}
