package channel

import (
	"context"
)

// disabledAdapter stands in for a transport whose credentials are absent at
// startup. Substituting it keeps the dispatch path free of nil checks: a
// send through an unconfigured channel is an ordinary permanent failure.
type disabledAdapter struct {
	name   string
	reason string
}

// NewDisabledAdapter returns an adapter for name that fails every send with
// the given reason.
func NewDisabledAdapter(name, reason string) Adapter {
	return &disabledAdapter{name: name, reason: reason}
}

func (a *disabledAdapter) Name() string { return a.name }

func (a *disabledAdapter) Send(ctx context.Context, d Delivery) (Result, error) {
	return Result{}, Permanent(a.reason)
}
