package models

// Tenant is a restaurant using the ordering bot. Catalog rows below are keyed
// by (TenantID, Key) so tenant YAML keys stay stable across re-seeds.
type Tenant struct {
	ID                 string  `gorm:"primaryKey;size:64"`
	Name               string  `gorm:"size:128;not null"`
	Currency           string  `gorm:"size:3;not null;default:USD"`
	PickupAddress      string  `gorm:"type:text"`
	PickupLat          float64
	PickupLng          float64
	QuoteFallback      string `gorm:"size:16;default:reject"` // "reject" or "manual"
	MessengerPageID    string `gorm:"size:64;index"`
	MessengerPageToken string `gorm:"type:text"`
	SlackBotToken      string `gorm:"type:text"`
	Active             bool   `gorm:"default:true"`
}

// Category groups menu items.
type Category struct {
	TenantID string `gorm:"primaryKey;size:64"`
	Key      string `gorm:"primaryKey;size:64"`
	Name     string `gorm:"size:128;not null"`
	Position int
}

// MenuItem is a sellable item. BasePrice is in minor units.
type MenuItem struct {
	TenantID    string `gorm:"primaryKey;size:64"`
	Key         string `gorm:"primaryKey;size:64"`
	CategoryKey string `gorm:"size:64;index"`
	Name        string `gorm:"size:128;not null"`
	Description string `gorm:"type:text"`
	BasePrice   int64  `gorm:"not null"`
	Available   bool   `gorm:"default:true"`
	Position    int
}

// VariationGroup is a required one-of choice on an item (e.g. size).
type VariationGroup struct {
	TenantID string `gorm:"primaryKey;size:64"`
	ItemKey  string `gorm:"primaryKey;size:64"`
	Key      string `gorm:"primaryKey;size:64"`
	Name     string `gorm:"size:128;not null"`
	Position int
}

// VariationOption is one choice within a VariationGroup.
type VariationOption struct {
	TenantID      string `gorm:"primaryKey;size:64"`
	ItemKey       string `gorm:"primaryKey;size:64"`
	GroupKey      string `gorm:"primaryKey;size:64"`
	Key           string `gorm:"primaryKey;size:64"`
	Name          string `gorm:"size:128;not null"`
	PriceModifier int64
	Position      int
}

// Addon is an optional extra on an item.
type Addon struct {
	TenantID string `gorm:"primaryKey;size:64"`
	ItemKey  string `gorm:"primaryKey;size:64"`
	Key      string `gorm:"primaryKey;size:64"`
	Name     string `gorm:"size:128;not null"`
	Price    int64
	Position int
}

// OrderType is a fulfilment mode such as pickup or delivery.
type OrderType struct {
	TenantID         string `gorm:"primaryKey;size:64"`
	Key              string `gorm:"primaryKey;size:64"`
	Name             string `gorm:"size:128;not null"`
	RequiresDelivery bool   `gorm:"default:false"`
	Position         int
}

// FormField is a checkout question asked for an order type.
type FormField struct {
	TenantID     string `gorm:"primaryKey;size:64"`
	OrderTypeKey string `gorm:"primaryKey;size:64"`
	Key          string `gorm:"primaryKey;size:64"`
	Label        string `gorm:"size:256;not null"`
	Required     bool   `gorm:"default:true"`
	Kind         string `gorm:"size:16;default:text"` // text, phone, numeric, email, choice, location
	Choices      string `gorm:"type:json"`            // JSON array for choice fields
	Position     int
}

// PaymentMethod is a selectable (not captured) payment option.
type PaymentMethod struct {
	TenantID     string `gorm:"primaryKey;size:64"`
	Key          string `gorm:"primaryKey;size:64"`
	Name         string `gorm:"size:128;not null"`
	Instructions string `gorm:"type:text"`
	OrderTypes   string `gorm:"type:json"` // JSON array of order type keys; empty means all
	Position     int
}
