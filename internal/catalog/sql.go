package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/zulandar/orderbot/internal/cart"
	"github.com/zulandar/orderbot/internal/models"
	"gorm.io/gorm"
)

// SQLSource reads tenant configuration seeded by the db package.
type SQLSource struct {
	db *gorm.DB
}

// NewSQLSource returns a Source backed by db.
func NewSQLSource(db *gorm.DB) (*SQLSource, error) {
	if db == nil {
		return nil, fmt.Errorf("catalog: sql source: db is required")
	}
	return &SQLSource{db: db}, nil
}

// GetTenant returns the tenant profile. Inactive tenants are not found.
func (s *SQLSource) GetTenant(ctx context.Context, tenantID string) (Tenant, error) {
	var row models.Tenant
	err := s.db.WithContext(ctx).Where("id = ? AND active = ?", tenantID, true).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Tenant{}, fmt.Errorf("%w: %s", ErrTenantNotFound, tenantID)
	}
	if err != nil {
		return Tenant{}, fmt.Errorf("catalog: get tenant %s: %w", tenantID, err)
	}
	return Tenant{
		ID:                 row.ID,
		Name:               row.Name,
		Currency:           row.Currency,
		PickupAddress:      row.PickupAddress,
		PickupLat:          row.PickupLat,
		PickupLng:          row.PickupLng,
		QuoteFallback:      row.QuoteFallback,
		MessengerPageID:    row.MessengerPageID,
		MessengerPageToken: row.MessengerPageToken,
		SlackBotToken:      row.SlackBotToken,
	}, nil
}

// GetCatalog returns categories with their items, variation groups and
// add-ons, in seeded order.
func (s *SQLSource) GetCatalog(ctx context.Context, tenantID string) ([]Category, error) {
	db := s.db.WithContext(ctx)

	var cats []models.Category
	if err := db.Where("tenant_id = ?", tenantID).Order("position").Find(&cats).Error; err != nil {
		return nil, err
	}
	var items []models.MenuItem
	if err := db.Where("tenant_id = ?", tenantID).Order("position").Find(&items).Error; err != nil {
		return nil, err
	}
	var groups []models.VariationGroup
	if err := db.Where("tenant_id = ?", tenantID).Order("position").Find(&groups).Error; err != nil {
		return nil, err
	}
	var opts []models.VariationOption
	if err := db.Where("tenant_id = ?", tenantID).Order("position").Find(&opts).Error; err != nil {
		return nil, err
	}
	var addons []models.Addon
	if err := db.Where("tenant_id = ?", tenantID).Order("position").Find(&addons).Error; err != nil {
		return nil, err
	}

	optsByGroup := map[string][]Option{}
	for _, o := range opts {
		k := o.ItemKey + "/" + o.GroupKey
		optsByGroup[k] = append(optsByGroup[k], Option{ID: o.Key, Name: o.Name, PriceModifier: cart.Money(o.PriceModifier)})
	}
	groupsByItem := map[string][]VariationGroup{}
	for _, g := range groups {
		groupsByItem[g.ItemKey] = append(groupsByItem[g.ItemKey], VariationGroup{
			ID:      g.Key,
			Name:    g.Name,
			Options: optsByGroup[g.ItemKey+"/"+g.Key],
		})
	}
	addonsByItem := map[string][]Addon{}
	for _, a := range addons {
		addonsByItem[a.ItemKey] = append(addonsByItem[a.ItemKey], Addon{ID: a.Key, Name: a.Name, Price: cart.Money(a.Price)})
	}
	itemsByCat := map[string][]Item{}
	for _, it := range items {
		itemsByCat[it.CategoryKey] = append(itemsByCat[it.CategoryKey], Item{
			ID:          it.Key,
			CategoryID:  it.CategoryKey,
			Name:        it.Name,
			Description: it.Description,
			Price:       cart.Money(it.BasePrice),
			Available:   it.Available,
			Groups:      groupsByItem[it.Key],
			Addons:      addonsByItem[it.Key],
		})
	}

	out := make([]Category, 0, len(cats))
	for _, c := range cats {
		out = append(out, Category{ID: c.Key, Name: c.Name, Items: itemsByCat[c.Key]})
	}
	return out, nil
}

// GetOrderTypes returns the tenant's order types without fields.
func (s *SQLSource) GetOrderTypes(ctx context.Context, tenantID string) ([]OrderType, error) {
	var rows []models.OrderType
	if err := s.db.WithContext(ctx).Where("tenant_id = ?", tenantID).Order("position").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]OrderType, 0, len(rows))
	for _, r := range rows {
		out = append(out, OrderType{ID: r.Key, Name: r.Name, RequiresDelivery: r.RequiresDelivery})
	}
	return out, nil
}

// GetRequiredFields returns the checkout form for an order type, optional
// fields included.
func (s *SQLSource) GetRequiredFields(ctx context.Context, tenantID, orderTypeID string) ([]Field, error) {
	var rows []models.FormField
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND order_type_key = ?", tenantID, orderTypeID).
		Order("position").Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]Field, 0, len(rows))
	for _, r := range rows {
		f := Field{ID: r.Key, Label: r.Label, Kind: r.Kind, Required: r.Required}
		if err := unmarshalList(r.Choices, &f.Choices); err != nil {
			return nil, fmt.Errorf("field %s choices: %w", r.Key, err)
		}
		out = append(out, f)
	}
	return out, nil
}

// GetPaymentMethods returns every payment method of the tenant.
func (s *SQLSource) GetPaymentMethods(ctx context.Context, tenantID string) ([]PaymentMethod, error) {
	var rows []models.PaymentMethod
	if err := s.db.WithContext(ctx).Where("tenant_id = ?", tenantID).Order("position").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]PaymentMethod, 0, len(rows))
	for _, r := range rows {
		pm := PaymentMethod{ID: r.Key, Name: r.Name, Instructions: r.Instructions}
		if err := unmarshalList(r.OrderTypes, &pm.OrderTypes); err != nil {
			return nil, fmt.Errorf("payment method %s order types: %w", r.Key, err)
		}
		out = append(out, pm)
	}
	return out, nil
}

func unmarshalList(raw string, dst *[]string) error {
	if raw == "" || raw == "null" {
		return nil
	}
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		return err
	}
	if len(*dst) == 0 {
		*dst = nil
	}
	return nil
}
