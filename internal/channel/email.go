package channel

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	mail "github.com/xhit/go-simple-mail/v2"
)

// emailAdapter sends through an SMTP server. The engine never manages
// TLS/SMTP details beyond this constructor; everything else is the
// transport's problem.
type emailAdapter struct {
	server *mail.SMTPServer
	from   string
	log    *slog.Logger
}

// NewEmailAdapter creates the email channel adapter over SMTP.
func NewEmailAdapter(host string, port int, username, password, from string, log *slog.Logger) Adapter {
	server := mail.NewSMTPClient()
	server.Host = host
	server.Port = port
	server.Username = username
	server.Password = password
	server.Encryption = mail.EncryptionSTARTTLS
	server.KeepAlive = false
	server.ConnectTimeout = 10 * time.Second
	server.SendTimeout = 10 * time.Second

	return &emailAdapter{server: server, from: from, log: log}
}

func (a *emailAdapter) Name() string { return Email }

func (a *emailAdapter) Send(ctx context.Context, d Delivery) (Result, error) {
	if d.EmailAddress == "" {
		return Result{}, Permanent("no email address configured")
	}

	client, err := a.server.Connect()
	if err != nil {
		return Result{}, fmt.Errorf("connect to smtp server: %w", err)
	}

	msg := mail.NewMSG()
	msg.SetFrom(a.from).AddTo(d.EmailAddress).SetSubject(d.Title)
	msg.SetBody(mail.TextPlain, d.Body)
	if d.HTMLBody != "" {
		msg.AddAlternative(mail.TextHTML, d.HTMLBody)
	}

	if err := msg.Send(client); err != nil {
		return Result{}, fmt.Errorf("send email: %w", err)
	}

	a.log.Info("email sent via smtp", "to", d.EmailAddress, "notification_id", d.NotificationID)
	return Result{ProviderResponse: "smtp accepted"}, nil
}
