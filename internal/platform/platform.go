// Package platform defines what the webhook gateway needs from a messaging
// provider. Each provider verifies request signatures, normalizes webhook
// bodies into conversation events and sends rendered messages.
package platform

import (
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/zulandar/orderbot/internal/conversation"
	"github.com/zulandar/orderbot/internal/outbound"
)

var (
	// ErrNoSecret is returned by Verify when no signing secret is configured.
	// The gateway logs it once and accepts the request.
	ErrNoSecret = errors.New("platform: signing secret not configured")
	// ErrBadSignature is returned by Verify when a signature does not match.
	ErrBadSignature = errors.New("platform: bad signature")
)

// Inbound is one normalized chat event from one sender.
type Inbound struct {
	EventID   string // provider message id; used for deduplication
	SenderID  string
	Event     conversation.Event
	Timestamp time.Time
}

// Batch is the result of parsing one webhook body. Providers may deliver
// several events per request.
type Batch struct {
	Events []Inbound
	// Challenge is echoed as the response body when non-empty (Slack URL
	// verification).
	Challenge string
	// Dropped counts echoes and unsupported events.
	Dropped int
}

// Provider is the inbound side of a messaging platform.
type Provider interface {
	// Name is the channel name used in session keys and URLs.
	Name() string
	Verify(header http.Header, body []byte) error
	Parse(header http.Header, body []byte) (Batch, error)
}

// Handshaker is implemented by providers that confirm webhook subscriptions
// with a GET request.
type Handshaker interface {
	Handshake(query url.Values) (challenge string, ok bool)
}

// Platform bundles a provider with its sender and reactive window. A zero
// Window means the platform has none.
type Platform struct {
	Provider Provider
	Sender   outbound.Sender
	Window   time.Duration
}
