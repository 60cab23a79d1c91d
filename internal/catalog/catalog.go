// Package catalog is the read side of tenant configuration: menu, order
// types, checkout fields and payment methods. The conversation engine works
// against an immutable Snapshot loaded once per inbound event.
package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/zulandar/orderbot/internal/cart"
)

// ErrTenantNotFound is returned when a tenant id is unknown or inactive.
var ErrTenantNotFound = errors.New("catalog: tenant not found")

// Tenant is the tenant profile.
type Tenant struct {
	ID            string  `json:"id"`
	Name          string  `json:"name"`
	Currency      string  `json:"currency"`
	PickupAddress string  `json:"pickup_address,omitempty"`
	PickupLat     float64 `json:"pickup_lat,omitempty"`
	PickupLng     float64 `json:"pickup_lng,omitempty"`
	QuoteFallback string  `json:"quote_fallback"`

	MessengerPageID    string `json:"-"`
	MessengerPageToken string `json:"-"`
	SlackBotToken      string `json:"-"`
}

// ManualQuoteFallback reports whether a failed delivery quote should let the
// order proceed with the fee settled by staff.
func (t Tenant) ManualQuoteFallback() bool { return t.QuoteFallback == "manual" }

// Category groups menu items.
type Category struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Items []Item `json:"items"`
}

// Item is a menu item.
type Item struct {
	ID          string           `json:"id"`
	CategoryID  string           `json:"category_id"`
	Name        string           `json:"name"`
	Description string           `json:"description,omitempty"`
	Price       cart.Money       `json:"price"`
	Available   bool             `json:"available"`
	Groups      []VariationGroup `json:"groups,omitempty"`
	Addons      []Addon          `json:"addons,omitempty"`
}

// Group returns the variation group with the given id.
func (it Item) Group(id string) (VariationGroup, bool) {
	for _, g := range it.Groups {
		if g.ID == id {
			return g, true
		}
	}
	return VariationGroup{}, false
}

// Addon returns the add-on with the given id.
func (it Item) Addon(id string) (Addon, bool) {
	for _, a := range it.Addons {
		if a.ID == id {
			return a, true
		}
	}
	return Addon{}, false
}

// VariationGroup is a one-of choice on an item.
type VariationGroup struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	Options []Option `json:"options"`
}

// Option returns the option with the given id.
func (g VariationGroup) Option(id string) (Option, bool) {
	for _, o := range g.Options {
		if o.ID == id {
			return o, true
		}
	}
	return Option{}, false
}

// Option is a variation choice.
type Option struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	PriceModifier cart.Money `json:"price_modifier"`
}

// Addon is an optional extra.
type Addon struct {
	ID    string     `json:"id"`
	Name  string     `json:"name"`
	Price cart.Money `json:"price"`
}

// OrderType is a fulfilment mode and its checkout form.
type OrderType struct {
	ID               string  `json:"id"`
	Name             string  `json:"name"`
	RequiresDelivery bool    `json:"requires_delivery"`
	Fields           []Field `json:"fields"`
}

// Field is a checkout question.
type Field struct {
	ID       string   `json:"id"`
	Label    string   `json:"label"`
	Kind     string   `json:"kind"`
	Required bool     `json:"required"`
	Choices  []string `json:"choices,omitempty"`
}

// PaymentMethod is a payment option. An empty OrderTypes list means the
// method is offered for every order type.
type PaymentMethod struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Instructions string   `json:"instructions,omitempty"`
	OrderTypes   []string `json:"order_types,omitempty"`
}

// Snapshot is everything the conversation needs about one tenant.
type Snapshot struct {
	Tenant         Tenant          `json:"tenant"`
	Categories     []Category      `json:"categories"`
	OrderTypes     []OrderType     `json:"order_types"`
	PaymentMethods []PaymentMethod `json:"payment_methods"`
}

// Category returns the category with the given id.
func (s *Snapshot) Category(id string) (Category, bool) {
	for _, c := range s.Categories {
		if c.ID == id {
			return c, true
		}
	}
	return Category{}, false
}

// Item returns the menu item with the given id from any category.
func (s *Snapshot) Item(id string) (Item, bool) {
	for _, c := range s.Categories {
		for _, it := range c.Items {
			if it.ID == id {
				return it, true
			}
		}
	}
	return Item{}, false
}

// OrderType returns the order type with the given id.
func (s *Snapshot) OrderType(id string) (OrderType, bool) {
	for _, ot := range s.OrderTypes {
		if ot.ID == id {
			return ot, true
		}
	}
	return OrderType{}, false
}

// PaymentMethod returns the payment method with the given id.
func (s *Snapshot) PaymentMethod(id string) (PaymentMethod, bool) {
	for _, pm := range s.PaymentMethods {
		if pm.ID == id {
			return pm, true
		}
	}
	return PaymentMethod{}, false
}

// PaymentMethodsFor returns the payment methods offered for an order type.
func (s *Snapshot) PaymentMethodsFor(orderTypeID string) []PaymentMethod {
	var out []PaymentMethod
	for _, pm := range s.PaymentMethods {
		if len(pm.OrderTypes) == 0 {
			out = append(out, pm)
			continue
		}
		for _, ot := range pm.OrderTypes {
			if ot == orderTypeID {
				out = append(out, pm)
				break
			}
		}
	}
	return out
}

// Source is the tenant configuration read interface. Implementations are
// expected to be backed by the admin dashboard's storage.
type Source interface {
	GetTenant(ctx context.Context, tenantID string) (Tenant, error)
	GetCatalog(ctx context.Context, tenantID string) ([]Category, error)
	GetOrderTypes(ctx context.Context, tenantID string) ([]OrderType, error)
	GetRequiredFields(ctx context.Context, tenantID, orderTypeID string) ([]Field, error)
	GetPaymentMethods(ctx context.Context, tenantID string) ([]PaymentMethod, error)
}

// Load assembles a Snapshot for one tenant from a Source.
func Load(ctx context.Context, src Source, tenantID string) (*Snapshot, error) {
	t, err := src.GetTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	cats, err := src.GetCatalog(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("catalog: load menu for %s: %w", tenantID, err)
	}
	otypes, err := src.GetOrderTypes(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("catalog: load order types for %s: %w", tenantID, err)
	}
	for i := range otypes {
		fields, err := src.GetRequiredFields(ctx, tenantID, otypes[i].ID)
		if err != nil {
			return nil, fmt.Errorf("catalog: load fields for %s/%s: %w", tenantID, otypes[i].ID, err)
		}
		otypes[i].Fields = fields
	}
	pms, err := src.GetPaymentMethods(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("catalog: load payment methods for %s: %w", tenantID, err)
	}
	return &Snapshot{Tenant: t, Categories: cats, OrderTypes: otypes, PaymentMethods: pms}, nil
}
