package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Field kinds accepted in tenant checkout forms.
const (
	FieldText     = "text"
	FieldPhone    = "phone"
	FieldNumeric  = "numeric"
	FieldEmail    = "email"
	FieldChoice   = "choice"
	FieldLocation = "location"
)

// LegacyVariationGroup is the group id given to catalogs that declare a flat
// "variations" list instead of variation groups.
const LegacyVariationGroup = "variation"

// Tenant is one restaurant's catalog and checkout configuration, loaded from
// a tenant YAML file and seeded into the database.
type Tenant struct {
	ID             string          `yaml:"id"`
	Name           string          `yaml:"name"`
	Currency       string          `yaml:"currency"`
	Pickup         Pickup          `yaml:"pickup"`
	QuoteFallback  string          `yaml:"quote_fallback"` // "reject" or "manual"
	Messenger      TenantMessenger `yaml:"messenger"`
	Slack          TenantSlack     `yaml:"slack"`
	Categories     []Category      `yaml:"categories"`
	OrderTypes     []OrderType     `yaml:"order_types"`
	PaymentMethods []PaymentMethod `yaml:"payment_methods"`
}

// Pickup is where delivery couriers collect orders.
type Pickup struct {
	Address string  `yaml:"address"`
	Lat     float64 `yaml:"lat"`
	Lng     float64 `yaml:"lng"`
}

// TenantMessenger holds the tenant's connected Facebook page.
type TenantMessenger struct {
	PageID          string `yaml:"page_id"`
	PageAccessToken string `yaml:"page_access_token"`
}

// TenantSlack holds the tenant's Slack bot token.
type TenantSlack struct {
	BotToken string `yaml:"bot_token"`
}

// Category groups menu items.
type Category struct {
	ID    string `yaml:"id"`
	Name  string `yaml:"name"`
	Items []Item `yaml:"items"`
}

// Item is a sellable menu item. Prices are in minor units.
type Item struct {
	ID          string           `yaml:"id"`
	Name        string           `yaml:"name"`
	Description string           `yaml:"description"`
	Price       int64            `yaml:"price"`
	Available   *bool            `yaml:"available"`
	Groups      []VariationGroup `yaml:"variation_groups"`
	Variations  []Option         `yaml:"variations"` // legacy single-group form
	Addons      []Addon          `yaml:"addons"`
}

// IsAvailable reports whether the item can be ordered. Unset means available.
func (it Item) IsAvailable() bool {
	return it.Available == nil || *it.Available
}

// VariationGroup is a one-of choice such as size.
type VariationGroup struct {
	ID      string   `yaml:"id"`
	Name    string   `yaml:"name"`
	Options []Option `yaml:"options"`
}

// Option is one choice in a variation group.
type Option struct {
	ID            string `yaml:"id"`
	Name          string `yaml:"name"`
	PriceModifier int64  `yaml:"price_modifier"`
}

// Addon is an optional extra.
type Addon struct {
	ID    string `yaml:"id"`
	Name  string `yaml:"name"`
	Price int64  `yaml:"price"`
}

// OrderType is a fulfilment mode with its checkout form.
type OrderType struct {
	ID               string  `yaml:"id"`
	Name             string  `yaml:"name"`
	RequiresDelivery bool    `yaml:"requires_delivery"`
	Fields           []Field `yaml:"fields"`
}

// Field is one checkout question.
type Field struct {
	ID       string   `yaml:"id"`
	Label    string   `yaml:"label"`
	Kind     string   `yaml:"kind"`
	Required *bool    `yaml:"required"`
	Choices  []string `yaml:"choices"`
}

// IsRequired reports whether the field must be answered. Unset means required.
func (f Field) IsRequired() bool {
	return f.Required == nil || *f.Required
}

// PaymentMethod is a payment option offered at checkout.
type PaymentMethod struct {
	ID           string   `yaml:"id"`
	Name         string   `yaml:"name"`
	Instructions string   `yaml:"instructions"`
	OrderTypes   []string `yaml:"order_types"` // empty means all order types
}

// LoadTenant reads and validates a tenant YAML file.
func LoadTenant(path string) (*Tenant, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read tenant %s: %w", path, err)
	}
	t, err := ParseTenant(data)
	if err != nil {
		return nil, fmt.Errorf("%w (file %s)", err, path)
	}
	return t, nil
}

// ParseTenant unmarshals tenant YAML, normalizes legacy variations into a
// single group, and validates the result.
func ParseTenant(data []byte) (*Tenant, error) {
	var t Tenant
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("config: parse tenant: %w", err)
	}
	t.normalize()
	if err := t.validate(); err != nil {
		return nil, err
	}
	return &t, nil
}

func (t *Tenant) normalize() {
	t.Currency = strings.ToUpper(strings.TrimSpace(t.Currency))
	if t.Currency == "" {
		t.Currency = "USD"
	}
	if t.QuoteFallback == "" {
		t.QuoteFallback = "reject"
	}
	for ci := range t.Categories {
		items := t.Categories[ci].Items
		for ii := range items {
			if len(items[ii].Variations) > 0 && len(items[ii].Groups) == 0 {
				items[ii].Groups = []VariationGroup{{
					ID:      LegacyVariationGroup,
					Name:    "Variation",
					Options: items[ii].Variations,
				}}
			}
			items[ii].Variations = nil
		}
	}
	for oi := range t.OrderTypes {
		fields := t.OrderTypes[oi].Fields
		for fi := range fields {
			if fields[fi].Kind == "" {
				fields[fi].Kind = FieldText
			}
		}
	}
}

func (t *Tenant) validate() error {
	var errs []string
	if t.ID == "" {
		errs = append(errs, "id is required")
	}
	if t.Name == "" {
		errs = append(errs, "name is required")
	}
	if len(t.Currency) != 3 {
		errs = append(errs, fmt.Sprintf("currency %q must be a 3-letter ISO code", t.Currency))
	}
	if t.QuoteFallback != "reject" && t.QuoteFallback != "manual" {
		errs = append(errs, fmt.Sprintf("quote_fallback %q must be reject or manual", t.QuoteFallback))
	}

	cats := map[string]bool{}
	items := map[string]bool{}
	for _, c := range t.Categories {
		if c.ID == "" || cats[c.ID] {
			errs = append(errs, fmt.Sprintf("category id %q is empty or duplicated", c.ID))
		}
		cats[c.ID] = true
		for _, it := range c.Items {
			if it.ID == "" || items[it.ID] {
				errs = append(errs, fmt.Sprintf("item id %q is empty or duplicated", it.ID))
			}
			items[it.ID] = true
			if it.Price < 0 {
				errs = append(errs, fmt.Sprintf("item %s: price must not be negative", it.ID))
			}
			for _, g := range it.Groups {
				if g.ID == "" || len(g.Options) == 0 {
					errs = append(errs, fmt.Sprintf("item %s: variation group %q needs an id and options", it.ID, g.ID))
				}
			}
		}
	}

	otypes := map[string]bool{}
	for _, ot := range t.OrderTypes {
		if ot.ID == "" || otypes[ot.ID] {
			errs = append(errs, fmt.Sprintf("order type id %q is empty or duplicated", ot.ID))
		}
		otypes[ot.ID] = true
		hasLocation := false
		for _, f := range ot.Fields {
			switch f.Kind {
			case FieldText, FieldPhone, FieldNumeric, FieldEmail, FieldLocation:
			case FieldChoice:
				if len(f.Choices) == 0 {
					errs = append(errs, fmt.Sprintf("order type %s: choice field %s has no choices", ot.ID, f.ID))
				}
			default:
				errs = append(errs, fmt.Sprintf("order type %s: field %s has unknown kind %q", ot.ID, f.ID, f.Kind))
			}
			if f.Kind == FieldLocation {
				hasLocation = true
			}
			if f.ID == "" || f.Label == "" {
				errs = append(errs, fmt.Sprintf("order type %s: field needs an id and label", ot.ID))
			}
		}
		if ot.RequiresDelivery && !hasLocation {
			errs = append(errs, fmt.Sprintf("order type %s: delivery requires a location field", ot.ID))
		}
	}

	for _, pm := range t.PaymentMethods {
		if pm.ID == "" {
			errs = append(errs, "payment method id is required")
		}
		for _, ot := range pm.OrderTypes {
			if !otypes[ot] {
				errs = append(errs, fmt.Sprintf("payment method %s: unknown order type %q", pm.ID, ot))
			}
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: tenant validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
