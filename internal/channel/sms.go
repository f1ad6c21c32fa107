package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// smsAdapter speaks the gateway's REST surface directly: one form-encoded
// POST per message, basic auth with the account credentials. The provider
// answers with a JSON body carrying the message SID.
type smsAdapter struct {
	client     *http.Client
	baseURL    string
	accountSID string
	authToken  string
	from       string
	log        *slog.Logger
}

// NewSMSAdapter creates the SMS channel adapter for a Twilio-compatible
// message gateway.
func NewSMSAdapter(baseURL, accountSID, authToken, from string, log *slog.Logger) Adapter {
	return &smsAdapter{
		client:     &http.Client{Timeout: 10 * time.Second},
		baseURL:    strings.TrimRight(baseURL, "/"),
		accountSID: accountSID,
		authToken:  authToken,
		from:       from,
		log:        log,
	}
}

func (a *smsAdapter) Name() string { return SMS }

func (a *smsAdapter) Send(ctx context.Context, d Delivery) (Result, error) {
	// Missing phone number is a local configuration failure; no transport
	// call is attempted.
	if d.PhoneNumber == "" {
		return Result{}, Permanent("no phone number configured")
	}

	form := url.Values{}
	form.Set("To", d.PhoneNumber)
	form.Set("From", a.from)
	form.Set("Body", d.Body)

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", a.baseURL, a.accountSID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return Result{}, fmt.Errorf("build sms request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(a.accountSID, a.authToken)

	resp, err := a.client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("sms gateway: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Result{}, fmt.Errorf("sms gateway returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var parsed struct {
		SID string `json:"sid"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		// The message went out; a malformed body only costs us the SID.
		a.log.Warn("sms gateway response not parseable", "error", err)
	}

	a.log.Info("sms sent", "to", d.PhoneNumber, "sid", parsed.SID, "notification_id", d.NotificationID)
	return Result{ProviderID: parsed.SID, ProviderResponse: string(body)}, nil
}
