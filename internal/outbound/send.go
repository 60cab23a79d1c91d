package outbound

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/zulandar/orderbot/internal/catalog"
)

// Sender delivers one message to one recipient on a messaging provider.
// Failures should be returned as *SendError so the dispatcher can classify
// them; any other error is treated as retryable.
type Sender interface {
	Send(ctx context.Context, tenant catalog.Tenant, recipient string, msg Message) error
}

// ErrorKind classifies a send failure.
type ErrorKind int

const (
	// Retryable failures are retried with backoff.
	Retryable ErrorKind = iota
	// RateLimited failures are retried after RetryAfter or the cooldown.
	RateLimited
	// WindowClosed means the provider refused a message outside the
	// reactive window; the message is stored as pending.
	WindowClosed
	// Permanent failures are logged and dropped.
	Permanent
)

func (k ErrorKind) String() string {
	switch k {
	case Retryable:
		return "retryable"
	case RateLimited:
		return "rate_limited"
	case WindowClosed:
		return "window_closed"
	case Permanent:
		return "permanent"
	}
	return "unknown"
}

// SendError is a classified provider failure.
type SendError struct {
	Kind       ErrorKind
	RetryAfter time.Duration // RateLimited only; zero means use the cooldown
	Err        error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("outbound: send %s: %v", e.Kind, e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }

// Classify returns the kind of err. Unclassified errors are retryable,
// except context cancellation which is permanent.
func Classify(err error) ErrorKind {
	var se *SendError
	if errors.As(err, &se) {
		return se.Kind
	}
	if errors.Is(err, context.Canceled) {
		return Permanent
	}
	return Retryable
}

func retryAfter(err error) time.Duration {
	var se *SendError
	if errors.As(err, &se) {
		return se.RetryAfter
	}
	return 0
}
