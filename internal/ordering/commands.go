package ordering

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/zulandar/orderbot/internal/catalog"
	"github.com/zulandar/orderbot/internal/checkout"
	"github.com/zulandar/orderbot/internal/conversation"
	"github.com/zulandar/orderbot/internal/delivery"
)

// Order outcomes recorded in metrics.
const (
	orderPlaced    = "placed"
	orderReplayed  = "replayed"
	orderFailed    = "failed"
	orderFollowUp  = "follow_up"
	deliveryBooked = "booked"
	deliveryFailed = "failed"
)

// execute runs one command against s and returns the event that reports its
// outcome. Failures become failure events; they never abort the transition.
func (e *Engine) execute(ctx context.Context, s *conversation.Session, cmd conversation.Command, snap *catalog.Snapshot, now time.Time) conversation.Event {
	ctx, cancel := context.WithTimeout(ctx, e.cmdTimeout)
	defer cancel()

	switch c := cmd.(type) {
	case conversation.RequestQuote:
		return e.requestQuote(ctx, s, c, snap)
	case conversation.SubmitOrder:
		return e.submitOrder(ctx, s, c, snap)
	case conversation.BookDelivery:
		return e.bookDelivery(ctx, s, c, snap)
	}
	log.Printf("ordering: %s: unknown command %T", s.Key(), cmd)
	return conversation.OrderFailed{Reason: fmt.Sprintf("unknown command %T", cmd)}
}

func (e *Engine) requestQuote(ctx context.Context, s *conversation.Session, c conversation.RequestQuote, snap *catalog.Snapshot) conversation.Event {
	if e.quotes == nil {
		e.metrics.Delivery("none", "quote_failed")
		return conversation.QuoteFailed{Reason: "no delivery provider configured"}
	}
	q, err := e.quotes.Quote(ctx, delivery.QuoteRequest{
		TenantID: snap.Tenant.ID,
		Pickup:   delivery.PickupOf(snap.Tenant),
		Dropoff:  delivery.ParsePlace(c.Dropoff),
		Subtotal: c.Subtotal,
		Currency: snap.Tenant.Currency,
	})
	if err != nil {
		log.Printf("ordering: %s: quote: %v", s.Key(), err)
		e.metrics.Delivery(providerName(e.quotes), "quote_failed")
		reason := "delivery quote unavailable"
		if errors.Is(err, delivery.ErrUnserviceable) {
			reason = "address is outside the delivery area"
		}
		return conversation.QuoteFailed{Reason: reason}
	}
	e.metrics.Delivery(providerName(e.quotes), "quoted")
	return conversation.QuoteReady{Fee: q.Fee, QuoteRef: q.Ref, ExpiresAt: q.ExpiresAt}
}

func (e *Engine) submitOrder(ctx context.Context, s *conversation.Session, c conversation.SubmitOrder, snap *catalog.Snapshot) conversation.Event {
	st := s.Checkout
	st.IdempotencyKey = c.IdempotencyKey
	req := checkout.NewOrderRequest(s.TenantID, s.Channel, s.SenderID, snap.Tenant.Currency, s.Cart, st)
	ref, err := e.orders.SubmitOrder(ctx, req)
	if err != nil {
		log.Printf("ordering: %s: submit order: %v", s.Key(), err)
		e.metrics.Order(orderFailed)
		return conversation.OrderFailed{Reason: err.Error()}
	}
	if ref.Created {
		log.Printf("ordering: %s: placed order %s total %d", s.Key(), ref.Ref, ref.Total)
		e.metrics.Order(orderPlaced)
	} else {
		e.metrics.Order(orderReplayed)
	}
	return conversation.OrderSubmitted{Ref: ref.Ref, Total: ref.Total}
}

// bookDelivery books a courier. An order that cannot be booked is flagged
// for the restaurant to dispatch by hand.
func (e *Engine) bookDelivery(ctx context.Context, s *conversation.Session, c conversation.BookDelivery, snap *catalog.Snapshot) conversation.Event {
	reason := "no courier provider configured"
	if e.couriers != nil {
		b, err := e.couriers.Book(ctx, delivery.BookingRequest{
			TenantID: snap.Tenant.ID,
			OrderRef: c.OrderRef,
			QuoteRef: c.QuoteRef,
			Pickup:   delivery.PickupOf(snap.Tenant),
			Dropoff:  delivery.ParsePlace(c.Dropoff),
			Contact:  c.Fields,
		})
		if err == nil {
			e.metrics.Delivery(providerName(e.couriers), deliveryBooked)
			if err := e.orders.RecordDelivery(ctx, snap.Tenant.ID, c.OrderRef, b.Ref); err != nil {
				log.Printf("ordering: %s: %v", s.Key(), err)
			}
			return conversation.DeliveryBooked{DeliveryRef: b.Ref}
		}
		log.Printf("ordering: %s: book delivery for %s: %v", s.Key(), c.OrderRef, err)
		e.metrics.Delivery(providerName(e.couriers), deliveryFailed)
		reason = err.Error()
		if errors.Is(err, delivery.ErrNoBooking) {
			reason = "courier booking handled by the restaurant"
		}
	}
	if err := e.orders.FlagFollowUp(ctx, snap.Tenant.ID, c.OrderRef, reason); err != nil {
		log.Printf("ordering: %s: %v", s.Key(), err)
	}
	e.metrics.Order(orderFollowUp)
	return conversation.DeliveryFailed{Reason: reason}
}

func providerName(p any) string {
	switch p.(type) {
	case *delivery.Flat:
		return "flat"
	case *delivery.Client:
		return "http"
	}
	return fmt.Sprintf("%T", p)
}
