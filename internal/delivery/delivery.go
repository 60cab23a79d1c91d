// Package delivery talks to courier services: fee quotes before checkout
// and courier bookings after an order is confirmed.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/zulandar/orderbot/internal/cart"
	"github.com/zulandar/orderbot/internal/catalog"
	"github.com/zulandar/orderbot/internal/config"
)

var (
	// ErrUnserviceable is returned when the courier cannot deliver to the
	// drop-off.
	ErrUnserviceable = errors.New("delivery: address not serviceable")
	// ErrNoBooking is returned by providers without courier booking; the
	// restaurant dispatches its own riders.
	ErrNoBooking = errors.New("delivery: courier booking not supported")
)

// Place is a pickup or drop-off. Address is free text; Lat/Lng are set when
// known.
type Place struct {
	Address string  `json:"address,omitempty"`
	Lat     float64 `json:"lat,omitempty"`
	Lng     float64 `json:"lng,omitempty"`
}

// QuoteRequest asks for a delivery fee.
type QuoteRequest struct {
	TenantID string
	Pickup   Place
	Dropoff  Place
	Subtotal cart.Money
	Currency string
}

// Quote is a priced delivery offer, valid until ExpiresAt.
type Quote struct {
	Fee       cart.Money
	Ref       string
	ExpiresAt time.Time
}

// BookingRequest books a courier for a confirmed order.
type BookingRequest struct {
	TenantID string
	OrderRef string
	QuoteRef string
	Pickup   Place
	Dropoff  Place
	Contact  map[string]string // checkout answers, e.g. name and phone
}

// Booking is a booked courier.
type Booking struct {
	Ref string
}

// QuoteProvider prices deliveries.
type QuoteProvider interface {
	Quote(ctx context.Context, req QuoteRequest) (Quote, error)
}

// DeliveryOrderProvider books couriers.
type DeliveryOrderProvider interface {
	Book(ctx context.Context, req BookingRequest) (Booking, error)
}

// PickupOf returns the tenant's pickup place.
func PickupOf(t catalog.Tenant) Place {
	return Place{Address: t.PickupAddress, Lat: t.PickupLat, Lng: t.PickupLng}
}

// ParsePlace reads a checkout answer: a shared pin stored as "lat,lng", or
// a typed address.
func ParsePlace(answer string) Place {
	answer = strings.TrimSpace(answer)
	if a, b, ok := strings.Cut(answer, ","); ok {
		lat, err1 := strconv.ParseFloat(strings.TrimSpace(a), 64)
		lng, err2 := strconv.ParseFloat(strings.TrimSpace(b), 64)
		if err1 == nil && err2 == nil && lat >= -90 && lat <= 90 && lng >= -180 && lng <= 180 {
			return Place{Lat: lat, Lng: lng}
		}
	}
	return Place{Address: answer}
}

// New builds the providers selected by cfg. The "none" provider returns nil
// for both.
func New(cfg config.DeliveryConfig) (QuoteProvider, DeliveryOrderProvider, error) {
	switch cfg.Provider {
	case "", "none":
		return nil, nil, nil
	case "flat":
		f := &Flat{Fee: cart.Money(cfg.FlatFee)}
		return f, f, nil
	case "http":
		c, err := NewClient(ClientOpts{
			BaseURL:      cfg.BaseURL,
			TokenURL:     cfg.TokenURL,
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Timeout:      time.Duration(cfg.TimeoutSec) * time.Second,
		})
		if err != nil {
			return nil, nil, err
		}
		return c, c, nil
	}
	return nil, nil, fmt.Errorf("delivery: unknown provider %q", cfg.Provider)
}

// flatQuoteTTL bounds how long a flat quote is honored.
const flatQuoteTTL = 30 * time.Minute

// Flat charges a fixed fee everywhere and leaves dispatch to the restaurant.
type Flat struct {
	Fee cart.Money
	Now func() time.Time
}

// Quote implements QuoteProvider.
func (f *Flat) Quote(_ context.Context, req QuoteRequest) (Quote, error) {
	if req.Dropoff.Address == "" && req.Dropoff.Lat == 0 && req.Dropoff.Lng == 0 {
		return Quote{}, fmt.Errorf("%w: empty drop-off", ErrUnserviceable)
	}
	now := time.Now
	if f.Now != nil {
		now = f.Now
	}
	return Quote{Fee: f.Fee, Ref: "flat-" + uuid.NewString(), ExpiresAt: now().Add(flatQuoteTTL)}, nil
}

// Book implements DeliveryOrderProvider.
func (f *Flat) Book(context.Context, BookingRequest) (Booking, error) {
	return Booking{}, ErrNoBooking
}
