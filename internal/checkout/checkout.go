// Package checkout drives tenant-configured form collection and final order
// submission.
package checkout

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/zulandar/orderbot/internal/cart"
	"github.com/zulandar/orderbot/internal/catalog"
)

// ErrUnknownOrderType is returned when an order type id is not configured.
var ErrUnknownOrderType = errors.New("checkout: unknown order type")

// State is the checkout progress held in a conversation session.
type State struct {
	OrderTypeID       string            `json:"order_type_id,omitempty"`
	CollectedFields   map[string]string `json:"collected_fields,omitempty"`
	CurrentField      string            `json:"current_field,omitempty"`
	PaymentMethodID   string            `json:"payment_method_id,omitempty"`
	DeliveryFee       cart.Money        `json:"delivery_fee,omitempty"`
	QuoteRef          string            `json:"quote_ref,omitempty"`
	QuoteExpiresAt    time.Time         `json:"quote_expires_at,omitempty"`
	IdempotencyKey    string            `json:"idempotency_key,omitempty"`
	ManualDeliveryFee bool              `json:"manual_delivery_fee,omitempty"`
}

// Clone returns a deep copy.
func (s State) Clone() State {
	if s.CollectedFields != nil {
		m := make(map[string]string, len(s.CollectedFields))
		for k, v := range s.CollectedFields {
			m[k] = v
		}
		s.CollectedFields = m
	}
	return s
}

// ClearQuote drops any delivery quote and fee.
func (s *State) ClearQuote() {
	s.DeliveryFee = 0
	s.QuoteRef = ""
	s.QuoteExpiresAt = time.Time{}
	s.ManualDeliveryFee = false
}

// QuoteExpired reports whether a stored quote is past its expiry at now.
// A quote without an expiry never expires.
func (s State) QuoteExpired(now time.Time) bool {
	return s.QuoteRef != "" && !s.QuoteExpiresAt.IsZero() && !now.Before(s.QuoteExpiresAt)
}

// RequiredFields returns the ordered checkout form for an order type,
// optional fields included.
func RequiredFields(snap *catalog.Snapshot, orderTypeID string) ([]catalog.Field, error) {
	ot, ok := snap.OrderType(orderTypeID)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownOrderType, orderTypeID)
	}
	return ot.Fields, nil
}

func answered(f catalog.Field, st State) bool {
	v, ok := st.CollectedFields[f.ID]
	if !ok {
		return false
	}
	return v != "" || !f.Required
}

// NextUnansweredField returns the first field without an acceptable answer.
func NextUnansweredField(fields []catalog.Field, st State) (catalog.Field, bool) {
	for _, f := range fields {
		if !answered(f, st) {
			return f, true
		}
	}
	return catalog.Field{}, false
}

// Complete reports whether every required field has a non-empty answer.
func Complete(fields []catalog.Field, st State) bool {
	for _, f := range fields {
		if f.Required && st.CollectedFields[f.ID] == "" {
			return false
		}
	}
	return true
}

var keyNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("orderbot:idempotency"))

// IdempotencyKey derives a deterministic order key from the conversation key,
// the session epoch and the session version at which confirmation was
// entered. A retried submission of the same confirmation reuses the key. The
// epoch changes whenever a session is recreated, so versions that restart at
// zero after a reset or purge never repeat a key.
func IdempotencyKey(tenantID, channel, senderID, epoch string, version int64) string {
	name := fmt.Sprintf("%s\x00%s\x00%s\x00%s\x00%d", tenantID, channel, senderID, epoch, version)
	return uuid.NewSHA1(keyNamespace, []byte(name)).String()
}
