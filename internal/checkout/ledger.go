package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/zulandar/orderbot/internal/cart"
	"github.com/zulandar/orderbot/internal/models"
	"gorm.io/gorm"
)

// ErrOrderNotFound is returned when an order ref does not exist.
var ErrOrderNotFound = errors.New("checkout: order not found")

// SQLLedger is a Ledger backed by the orders table.
type SQLLedger struct {
	db *gorm.DB
}

// NewSQLLedger returns a ledger writing to db.
func NewSQLLedger(db *gorm.DB) (*SQLLedger, error) {
	if db == nil {
		return nil, fmt.Errorf("checkout: sql ledger: db is required")
	}
	return &SQLLedger{db: db}, nil
}

// NewOrderRef returns a short human-friendly order reference.
func NewOrderRef() string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return "OB-" + strings.ToUpper(id[:12])
}

func (l *SQLLedger) findByKey(tx *gorm.DB, tenantID, key string) (*models.Order, error) {
	var o models.Order
	err := tx.Where("tenant_id = ? AND idempotency_key = ?", tenantID, key).First(&o).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}

// PlaceOrder inserts the order and its lines unless an order with the same
// idempotency key exists, in which case that order is returned.
func (l *SQLLedger) PlaceOrder(ctx context.Context, req OrderRequest) (OrderRef, error) {
	fields, err := json.Marshal(req.Fields)
	if err != nil {
		return OrderRef{}, fmt.Errorf("checkout: marshal fields: %w", err)
	}

	var out OrderRef
	err = l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := l.findByKey(tx, req.TenantID, req.IdempotencyKey)
		if err != nil {
			return err
		}
		if existing != nil {
			out = OrderRef{Ref: existing.Ref, Total: cart.Money(existing.Total)}
			return nil
		}

		order := models.Order{
			Ref:             NewOrderRef(),
			TenantID:        req.TenantID,
			IdempotencyKey:  req.IdempotencyKey,
			Channel:         req.Channel,
			SenderID:        req.SenderID,
			OrderTypeID:     req.OrderTypeID,
			PaymentMethodID: req.PaymentMethodID,
			Fields:          string(fields),
			Currency:        req.Currency,
			Subtotal:        int64(req.Subtotal),
			DeliveryFee:     int64(req.DeliveryFee),
			Total:           int64(req.Total),
			QuoteRef:        req.QuoteRef,
			Status:          "placed",
		}
		for _, ln := range req.Lines {
			order.Lines = append(order.Lines, models.OrderLine{
				MenuItemID: ln.MenuItemID,
				Name:       ln.Name,
				Options:    LineOptions(ln),
				Quantity:   ln.Quantity,
				UnitPrice:  int64(ln.UnitPrice),
				Subtotal:   int64(ln.Subtotal),
			})
		}
		if err := tx.Create(&order).Error; err != nil {
			return err
		}
		out = OrderRef{Ref: order.Ref, Total: req.Total, Created: true}
		return nil
	})
	if err != nil {
		// A concurrent writer may have won the unique index race.
		if existing, ferr := l.findByKey(l.db.WithContext(ctx), req.TenantID, req.IdempotencyKey); ferr == nil && existing != nil {
			return OrderRef{Ref: existing.Ref, Total: cart.Money(existing.Total)}, nil
		}
		return OrderRef{}, fmt.Errorf("checkout: place order: %w", err)
	}
	return out, nil
}

// RecordDelivery stores the delivery provider's reference on the order.
func (l *SQLLedger) RecordDelivery(ctx context.Context, tenantID, ref, deliveryRef string) error {
	res := l.db.WithContext(ctx).Model(&models.Order{}).
		Where("tenant_id = ? AND ref = ?", tenantID, ref).
		Update("delivery_ref", deliveryRef)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrOrderNotFound, ref)
	}
	return nil
}

// FlagFollowUp marks an order for staff attention.
func (l *SQLLedger) FlagFollowUp(ctx context.Context, tenantID, ref, reason string) error {
	res := l.db.WithContext(ctx).Model(&models.Order{}).
		Where("tenant_id = ? AND ref = ?", tenantID, ref).
		Updates(map[string]interface{}{"needs_follow_up": true, "follow_up_reason": reason})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrOrderNotFound, ref)
	}
	return nil
}

// Get loads an order with its lines.
func (l *SQLLedger) Get(ctx context.Context, tenantID, ref string) (*models.Order, error) {
	var o models.Order
	err := l.db.WithContext(ctx).Preload("Lines").
		Where("tenant_id = ? AND ref = ?", tenantID, ref).First(&o).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrOrderNotFound, ref)
	}
	if err != nil {
		return nil, fmt.Errorf("checkout: get order %s: %w", ref, err)
	}
	return &o, nil
}

// LineOptions summarizes a line's variations and add-ons, e.g.
// "Medium, + Extra cheese".
func LineOptions(ln cart.Line) string {
	var parts []string
	for _, v := range ln.Variations {
		name := v.OptionName
		if name == "" {
			name = v.OptionID
		}
		parts = append(parts, name)
	}
	for _, a := range ln.Addons {
		name := a.Name
		if name == "" {
			name = a.ID
		}
		parts = append(parts, "+ "+name)
	}
	return strings.Join(parts, ", ")
}
