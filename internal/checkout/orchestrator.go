package checkout

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/zulandar/orderbot/internal/cart"
)

// ErrInvalidOrder is returned when a submission is internally inconsistent.
var ErrInvalidOrder = errors.New("checkout: invalid order")

// OrderRequest is everything the ledger needs to record an order.
type OrderRequest struct {
	TenantID          string
	Channel           string
	SenderID          string
	IdempotencyKey    string
	OrderTypeID       string
	PaymentMethodID   string
	Fields            map[string]string
	Lines             []cart.Line
	Currency          string
	Subtotal          cart.Money
	DeliveryFee       cart.Money
	Total             cart.Money
	QuoteRef          string
	ManualDeliveryFee bool
}

// OrderRef identifies a recorded order. Created is false when an earlier
// submission with the same idempotency key already produced the order.
type OrderRef struct {
	Ref     string
	Total   cart.Money
	Created bool
}

// Ledger is the order store owned by the admin side. PlaceOrder must be
// idempotent on (TenantID, IdempotencyKey).
type Ledger interface {
	PlaceOrder(ctx context.Context, req OrderRequest) (OrderRef, error)
	RecordDelivery(ctx context.Context, tenantID, ref, deliveryRef string) error
	FlagFollowUp(ctx context.Context, tenantID, ref, reason string) error
}

// NewOrderRequest builds a submission from a cart and checkout state.
// Totals are derived from the cart lines, never from stored values.
func NewOrderRequest(tenantID, channel, senderID, currency string, c cart.Cart, st State) OrderRequest {
	c = cart.Recompute(c)
	sub := cart.Total(c)
	fields := st.Clone().CollectedFields
	if fields == nil {
		fields = map[string]string{}
	}
	return OrderRequest{
		TenantID:          tenantID,
		Channel:           channel,
		SenderID:          senderID,
		IdempotencyKey:    st.IdempotencyKey,
		OrderTypeID:       st.OrderTypeID,
		PaymentMethodID:   st.PaymentMethodID,
		Fields:            fields,
		Lines:             c.Lines,
		Currency:          currency,
		Subtotal:          sub,
		DeliveryFee:       st.DeliveryFee,
		Total:             sub + st.DeliveryFee,
		QuoteRef:          st.QuoteRef,
		ManualDeliveryFee: st.ManualDeliveryFee,
	}
}

// OrchestratorOpts configures an Orchestrator.
type OrchestratorOpts struct {
	Ledger Ledger
}

// Orchestrator submits orders and records their delivery outcome.
type Orchestrator struct {
	ledger Ledger
}

// NewOrchestrator returns an Orchestrator writing to opts.Ledger.
func NewOrchestrator(opts OrchestratorOpts) (*Orchestrator, error) {
	if opts.Ledger == nil {
		return nil, fmt.Errorf("checkout: orchestrator: ledger is required")
	}
	return &Orchestrator{ledger: opts.Ledger}, nil
}

func (req OrderRequest) check() error {
	switch {
	case req.TenantID == "":
		return fmt.Errorf("%w: tenant is required", ErrInvalidOrder)
	case req.IdempotencyKey == "":
		return fmt.Errorf("%w: idempotency key is required", ErrInvalidOrder)
	case len(req.Lines) == 0:
		return fmt.Errorf("%w: cart is empty", ErrInvalidOrder)
	case req.OrderTypeID == "" || req.PaymentMethodID == "":
		return fmt.Errorf("%w: order type and payment method are required", ErrInvalidOrder)
	}
	if got := cart.Total(cart.Cart{Lines: req.Lines}); got != req.Subtotal {
		return fmt.Errorf("%w: subtotal %d does not match lines %d", ErrInvalidOrder, req.Subtotal, got)
	}
	if req.Total != req.Subtotal+req.DeliveryFee {
		return fmt.Errorf("%w: total %d != subtotal %d + fee %d", ErrInvalidOrder, req.Total, req.Subtotal, req.DeliveryFee)
	}
	return nil
}

// SubmitOrder records the order. Resubmitting the same idempotency key
// returns the original OrderRef.
func (o *Orchestrator) SubmitOrder(ctx context.Context, req OrderRequest) (OrderRef, error) {
	if err := req.check(); err != nil {
		return OrderRef{}, err
	}
	ref, err := o.ledger.PlaceOrder(ctx, req)
	if err != nil {
		return OrderRef{}, fmt.Errorf("checkout: submit order: %w", err)
	}
	if !ref.Created {
		log.Printf("checkout: order %s already placed for key %s", ref.Ref, req.IdempotencyKey)
	}
	if req.ManualDeliveryFee {
		if err := o.ledger.FlagFollowUp(ctx, req.TenantID, ref.Ref, "delivery fee to be confirmed by staff"); err != nil {
			log.Printf("checkout: flag follow-up for %s: %v", ref.Ref, err)
		}
	}
	return ref, nil
}

// RecordDelivery stores the delivery booking for an order.
func (o *Orchestrator) RecordDelivery(ctx context.Context, tenantID, ref, deliveryRef string) error {
	if err := o.ledger.RecordDelivery(ctx, tenantID, ref, deliveryRef); err != nil {
		return fmt.Errorf("checkout: record delivery for %s: %w", ref, err)
	}
	return nil
}

// FlagFollowUp marks an order for manual handling by staff.
func (o *Orchestrator) FlagFollowUp(ctx context.Context, tenantID, ref, reason string) error {
	if err := o.ledger.FlagFollowUp(ctx, tenantID, ref, reason); err != nil {
		return fmt.Errorf("checkout: flag follow-up for %s: %w", ref, err)
	}
	return nil
}
