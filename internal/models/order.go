package models

import "time"

// Order is a submitted chat order. (TenantID, IdempotencyKey) is unique so a
// retried submission resolves to the original row.
type Order struct {
	ID              uint   `gorm:"primaryKey;autoIncrement"`
	Ref             string `gorm:"size:36;not null;uniqueIndex"`
	TenantID        string `gorm:"size:64;not null;uniqueIndex:idx_order_idem;index"`
	IdempotencyKey  string `gorm:"size:64;not null;uniqueIndex:idx_order_idem"`
	Channel         string `gorm:"size:16"`
	SenderID        string `gorm:"size:128;index"`
	OrderTypeID     string `gorm:"size:64"`
	PaymentMethodID string `gorm:"size:64"`
	Fields          string `gorm:"type:json"` // collected checkout answers
	Currency        string `gorm:"size:3"`
	Subtotal        int64
	DeliveryFee     int64
	Total           int64
	QuoteRef        string `gorm:"size:128"`
	DeliveryRef     string `gorm:"size:128"`
	NeedsFollowUp   bool   `gorm:"default:false;index"`
	FollowUpReason  string `gorm:"type:text"`
	Status          string `gorm:"size:16;default:placed;index"`
	CreatedAt       time.Time
	UpdatedAt       time.Time

	Lines []OrderLine `gorm:"foreignKey:OrderID"`
}

// OrderLine is a priced cart line copied into an order.
type OrderLine struct {
	ID         uint   `gorm:"primaryKey;autoIncrement"`
	OrderID    uint   `gorm:"not null;index"`
	MenuItemID string `gorm:"size:64"`
	Name       string `gorm:"size:128"`
	Options    string `gorm:"type:text"` // human-readable variation/add-on summary
	Quantity   int
	UnitPrice  int64
	Subtotal   int64
}
