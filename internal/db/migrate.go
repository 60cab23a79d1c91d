package db

import (
	"encoding/json"
	"fmt"

	"github.com/zulandar/orderbot/internal/config"
	"github.com/zulandar/orderbot/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AllModels returns every GORM model for migration.
func AllModels() []interface{} {
	return []interface{}{
		&models.Tenant{},
		&models.Category{},
		&models.MenuItem{},
		&models.VariationGroup{},
		&models.VariationOption{},
		&models.Addon{},
		&models.OrderType{},
		&models.FormField{},
		&models.PaymentMethod{},
		&models.ConversationSession{},
		&models.ProcessedEvent{},
		&models.PendingOutbound{},
		&models.Order{},
		&models.OrderLine{},
	}
}

// AutoMigrate creates or updates all tables.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("db: auto-migrate: %w", err)
	}
	return nil
}

// catalogModels are the per-tenant rows replaced wholesale on every seed.
var catalogModels = []interface{}{
	&models.Category{},
	&models.MenuItem{},
	&models.VariationGroup{},
	&models.VariationOption{},
	&models.Addon{},
	&models.OrderType{},
	&models.FormField{},
	&models.PaymentMethod{},
}

// SeedTenant upserts the tenant row and replaces its catalog, order types
// and payment methods in one transaction.
func SeedTenant(db *gorm.DB, t *config.Tenant) error {
	return db.Transaction(func(tx *gorm.DB) error {
		row := models.Tenant{
			ID:                 t.ID,
			Name:               t.Name,
			Currency:           t.Currency,
			PickupAddress:      t.Pickup.Address,
			PickupLat:          t.Pickup.Lat,
			PickupLng:          t.Pickup.Lng,
			QuoteFallback:      t.QuoteFallback,
			MessengerPageID:    t.Messenger.PageID,
			MessengerPageToken: t.Messenger.PageAccessToken,
			SlackBotToken:      t.Slack.BotToken,
			Active:             true,
		}
		result := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"name", "currency", "pickup_address", "pickup_lat", "pickup_lng",
				"quote_fallback", "messenger_page_id", "messenger_page_token",
				"slack_bot_token", "active",
			}),
		}).Create(&row)
		if result.Error != nil {
			return fmt.Errorf("db: seed tenant %q: %w", t.ID, result.Error)
		}

		for _, m := range catalogModels {
			if err := tx.Where("tenant_id = ?", t.ID).Delete(m).Error; err != nil {
				return fmt.Errorf("db: clear catalog for tenant %q: %w", t.ID, err)
			}
		}

		if err := seedMenu(tx, t); err != nil {
			return err
		}
		return seedCheckout(tx, t)
	})
}

func seedMenu(tx *gorm.DB, t *config.Tenant) error {
	for ci, c := range t.Categories {
		cat := models.Category{TenantID: t.ID, Key: c.ID, Name: c.Name, Position: ci}
		if err := tx.Create(&cat).Error; err != nil {
			return fmt.Errorf("db: seed category %q: %w", c.ID, err)
		}
		for ii, it := range c.Items {
			item := models.MenuItem{
				TenantID:    t.ID,
				Key:         it.ID,
				CategoryKey: c.ID,
				Name:        it.Name,
				Description: it.Description,
				BasePrice:   it.Price,
				Available:   it.IsAvailable(),
				Position:    ii,
			}
			// Available has a default tag, so a false value is written explicitly.
			if err := tx.Select("*").Create(&item).Error; err != nil {
				return fmt.Errorf("db: seed item %q: %w", it.ID, err)
			}
			for gi, g := range it.Groups {
				group := models.VariationGroup{TenantID: t.ID, ItemKey: it.ID, Key: g.ID, Name: g.Name, Position: gi}
				if err := tx.Create(&group).Error; err != nil {
					return fmt.Errorf("db: seed variation group %s/%s: %w", it.ID, g.ID, err)
				}
				for oi, o := range g.Options {
					opt := models.VariationOption{
						TenantID:      t.ID,
						ItemKey:       it.ID,
						GroupKey:      g.ID,
						Key:           o.ID,
						Name:          o.Name,
						PriceModifier: o.PriceModifier,
						Position:      oi,
					}
					if err := tx.Create(&opt).Error; err != nil {
						return fmt.Errorf("db: seed variation option %s/%s/%s: %w", it.ID, g.ID, o.ID, err)
					}
				}
			}
			for ai, a := range it.Addons {
				addon := models.Addon{TenantID: t.ID, ItemKey: it.ID, Key: a.ID, Name: a.Name, Price: a.Price, Position: ai}
				if err := tx.Create(&addon).Error; err != nil {
					return fmt.Errorf("db: seed addon %s/%s: %w", it.ID, a.ID, err)
				}
			}
		}
	}
	return nil
}

func seedCheckout(tx *gorm.DB, t *config.Tenant) error {
	for oi, ot := range t.OrderTypes {
		row := models.OrderType{
			TenantID:         t.ID,
			Key:              ot.ID,
			Name:             ot.Name,
			RequiresDelivery: ot.RequiresDelivery,
			Position:         oi,
		}
		if err := tx.Create(&row).Error; err != nil {
			return fmt.Errorf("db: seed order type %q: %w", ot.ID, err)
		}
		for fi, f := range ot.Fields {
			choices, err := marshalJSON(f.Choices)
			if err != nil {
				return fmt.Errorf("db: marshal choices for field %q: %w", f.ID, err)
			}
			field := models.FormField{
				TenantID:     t.ID,
				OrderTypeKey: ot.ID,
				Key:          f.ID,
				Label:        f.Label,
				Required:     f.IsRequired(),
				Kind:         f.Kind,
				Choices:      choices,
				Position:     fi,
			}
			if err := tx.Select("*").Create(&field).Error; err != nil {
				return fmt.Errorf("db: seed field %s/%s: %w", ot.ID, f.ID, err)
			}
		}
	}
	for pi, pm := range t.PaymentMethods {
		otypes, err := marshalJSON(pm.OrderTypes)
		if err != nil {
			return fmt.Errorf("db: marshal order_types for payment method %q: %w", pm.ID, err)
		}
		row := models.PaymentMethod{
			TenantID:     t.ID,
			Key:          pm.ID,
			Name:         pm.Name,
			Instructions: pm.Instructions,
			OrderTypes:   otypes,
			Position:     pi,
		}
		if err := tx.Create(&row).Error; err != nil {
			return fmt.Errorf("db: seed payment method %q: %w", pm.ID, err)
		}
	}
	return nil
}

// marshalJSON marshals a string slice to a JSON array, using "[]" for nil.
func marshalJSON(v []string) (string, error) {
	if v == nil {
		return "[]", nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
