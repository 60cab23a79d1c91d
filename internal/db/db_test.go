package db

import (
	"strings"
	"testing"

	"github.com/zulandar/orderbot/internal/config"
	"github.com/zulandar/orderbot/internal/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := AutoMigrate(db); err != nil {
		t.Fatalf("AutoMigrate: %v", err)
	}
	return db
}

func testTenant(t *testing.T) *config.Tenant {
	t.Helper()
	tn, err := config.ParseTenant([]byte(`
id: luigis
name: Luigi's
currency: PHP
categories:
  - id: pizza
    name: Pizzas
    items:
      - id: margherita
        name: Margherita
        price: 150
        variation_groups:
          - id: size
            name: Size
            options:
              - {id: small, name: Small}
              - {id: medium, name: Medium, price_modifier: 20}
        addons:
          - {id: cheese, name: Extra cheese, price: 10}
      - id: calzone
        name: Calzone
        price: 180
        available: false
order_types:
  - id: pickup
    name: Pickup
    fields:
      - {id: name, label: Name}
      - {id: notes, label: Notes, required: false}
payment_methods:
  - {id: cash, name: Cash}
`))
	if err != nil {
		t.Fatalf("ParseTenant: %v", err)
	}
	return tn
}

func TestDSN(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.DatabaseConfig
		want string
	}{
		{
			name: "local",
			cfg:  config.DatabaseConfig{Host: "127.0.0.1", Port: 3306, User: "root", Name: "orderbot"},
			want: "root@tcp(127.0.0.1:3306)/orderbot?",
		},
		{
			name: "with password",
			cfg:  config.DatabaseConfig{Host: "db.internal", Port: 3307, User: "ob", Password: "pw", Name: "orders"},
			want: "ob:pw@tcp(db.internal:3307)/orders?",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DSN(tt.cfg)
			if !strings.HasPrefix(got, tt.want) {
				t.Errorf("DSN() = %q, want prefix %q", got, tt.want)
			}
			if !strings.Contains(got, "parseTime=true") {
				t.Errorf("DSN missing parseTime=true: %s", got)
			}
		})
	}
}

func TestConnect_UnknownDriver(t *testing.T) {
	_, err := Connect(config.DatabaseConfig{Driver: "oracle"})
	if err == nil {
		t.Fatal("expected error for unknown driver")
	}
	if !strings.Contains(err.Error(), "db: unknown driver") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestConnect_SQLite(t *testing.T) {
	db, err := Connect(config.DatabaseConfig{Driver: "sqlite", Path: ":memory:"})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := AutoMigrate(db); err != nil {
		t.Fatalf("AutoMigrate: %v", err)
	}
}

func TestAllModels_Count(t *testing.T) {
	if got := len(AllModels()); got != 14 {
		t.Errorf("AllModels() returned %d models, want 14", got)
	}
}

func TestAutoMigrate_CreatesTables(t *testing.T) {
	db := testDB(t)
	for _, m := range AllModels() {
		if !db.Migrator().HasTable(m) {
			t.Errorf("table for %T not created", m)
		}
	}
}

func TestSeedTenant(t *testing.T) {
	db := testDB(t)
	if err := SeedTenant(db, testTenant(t)); err != nil {
		t.Fatalf("SeedTenant: %v", err)
	}

	var tn models.Tenant
	if err := db.First(&tn, "id = ?", "luigis").Error; err != nil {
		t.Fatalf("load tenant: %v", err)
	}
	if tn.Currency != "PHP" || !tn.Active {
		t.Errorf("tenant = %+v", tn)
	}

	var items []models.MenuItem
	db.Where("tenant_id = ?", "luigis").Order("position").Find(&items)
	if len(items) != 2 {
		t.Fatalf("len(items) = %d, want 2", len(items))
	}
	if items[1].Available {
		t.Error("calzone should be stored as unavailable")
	}

	var opts []models.VariationOption
	db.Where("tenant_id = ? AND item_key = ?", "luigis", "margherita").Find(&opts)
	if len(opts) != 2 {
		t.Errorf("len(options) = %d, want 2", len(opts))
	}

	var notes models.FormField
	db.First(&notes, "tenant_id = ? AND key = ?", "luigis", "notes")
	if notes.Required {
		t.Error("notes field should be stored as optional")
	}
	if notes.Choices != "[]" {
		t.Errorf("Choices = %q, want []", notes.Choices)
	}
}

func TestSeedTenant_ReseedReplacesCatalog(t *testing.T) {
	db := testDB(t)
	tn := testTenant(t)
	if err := SeedTenant(db, tn); err != nil {
		t.Fatalf("first seed: %v", err)
	}

	tn.Name = "Luigi's Trattoria"
	tn.Categories[0].Items = tn.Categories[0].Items[:1]
	if err := SeedTenant(db, tn); err != nil {
		t.Fatalf("second seed: %v", err)
	}

	var count int64
	db.Model(&models.Tenant{}).Count(&count)
	if count != 1 {
		t.Errorf("tenant rows = %d, want 1", count)
	}
	var row models.Tenant
	db.First(&row, "id = ?", "luigis")
	if row.Name != "Luigi's Trattoria" {
		t.Errorf("Name = %q, want updated", row.Name)
	}
	db.Model(&models.MenuItem{}).Where("tenant_id = ?", "luigis").Count(&count)
	if count != 1 {
		t.Errorf("menu items = %d, want 1 after reseed", count)
	}
}
