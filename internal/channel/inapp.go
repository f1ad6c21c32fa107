package channel

import (
	"context"
	"log/slog"
)

// inAppAdapter is the no-op transport: the persisted notification record is
// itself the delivery, so sending always succeeds.
type inAppAdapter struct {
	log *slog.Logger
}

// NewInAppAdapter creates the in-app channel adapter.
func NewInAppAdapter(log *slog.Logger) Adapter {
	return &inAppAdapter{log: log}
}

func (a *inAppAdapter) Name() string { return InApp }

func (a *inAppAdapter) Send(ctx context.Context, d Delivery) (Result, error) {
	a.log.Debug("in-app notification stored", "notification_id", d.NotificationID)
	return Result{ProviderResponse: "stored"}, nil
}
