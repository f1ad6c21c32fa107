package channel

import (
	"context"
	"errors"
)

// Channel labels. These mirror the delivery record's channel column; the
// dispatcher matches records to adapters by this name.
const (
	Email = "email"
	SMS   = "sms"
	Push  = "push"
	InApp = "in_app"
)

// Delivery is the unit of work handed to an adapter: a snapshot of one
// notification record plus the recipient contact fields resolved from their
// preference row and the rendered content for this channel.
type Delivery struct {
	NotificationID string
	RecipientID    string

	Title    string
	Body     string
	HTMLBody string

	EmailAddress string
	PhoneNumber  string
	PushToken    string

	// Data rides along on push payloads so the client app can deep-link.
	Data map[string]string

	Priority string
}

// Result carries whatever the external provider returned for a successful
// attempt, for the delivery log.
type Result struct {
	ProviderID       string
	ProviderResponse string
}

// Adapter wraps one external transport. Implementations trap transport
// errors and return them; they never panic outward and never mutate the
// notification record themselves.
type Adapter interface {
	// Name returns the channel label this adapter serves.
	Name() string

	Send(ctx context.Context, d Delivery) (Result, error)
}

// PermanentError marks a failure that retrying cannot fix: a missing
// contact field on the recipient or a transport that was never configured.
// The dispatcher fails the record immediately instead of backing off.
type PermanentError struct {
	Reason string
}

func (e *PermanentError) Error() string { return e.Reason }

// Permanent wraps a reason string as a non-retryable failure.
func Permanent(reason string) error { return &PermanentError{Reason: reason} }

// IsPermanent reports whether err (or anything it wraps) is a PermanentError.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}
