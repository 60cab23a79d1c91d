package checkout

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/zulandar/orderbot/internal/cart"
	"github.com/zulandar/orderbot/internal/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func testLedger(t *testing.T) (*SQLLedger, *gorm.DB) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&models.Order{}, &models.OrderLine{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	l, err := NewSQLLedger(db)
	if err != nil {
		t.Fatalf("NewSQLLedger: %v", err)
	}
	return l, db
}

func testCart(t *testing.T) cart.Cart {
	t.Helper()
	c, err := cart.AddOrMergeLine(cart.Cart{}, cart.ItemSpec{
		MenuItemID: "margherita",
		Name:       "Margherita",
		BasePrice:  150,
		Variations: map[string]cart.VariationChoice{"size": {OptionID: "medium", OptionName: "Medium", PriceModifier: 20}},
		Addons:     []cart.AddonChoice{{ID: "cheese", Name: "Extra cheese", Price: 10}},
		Quantity:   3,
	})
	if err != nil {
		t.Fatalf("AddOrMergeLine: %v", err)
	}
	return c
}

func testRequest(t *testing.T) OrderRequest {
	st := State{
		OrderTypeID:     "delivery",
		PaymentMethodID: "cash",
		CollectedFields: map[string]string{"name": "Ana"},
		DeliveryFee:     60,
		QuoteRef:        "q-1",
		IdempotencyKey:  IdempotencyKey("luigis", "messenger", "psid-1", "e1", 4),
	}
	return NewOrderRequest("luigis", "messenger", "psid-1", "PHP", testCart(t), st)
}

// ---------------------------------------------------------------------------
// NewOrderRequest
// ---------------------------------------------------------------------------

func TestNewOrderRequest_DerivesTotals(t *testing.T) {
	req := testRequest(t)
	if req.Subtotal != 540 {
		t.Errorf("Subtotal = %d, want 540", req.Subtotal)
	}
	if req.Total != 600 {
		t.Errorf("Total = %d, want 600", req.Total)
	}
}

func TestNewOrderRequest_IgnoresTamperedSubtotals(t *testing.T) {
	c := testCart(t)
	c.Lines[0].Subtotal = 1
	req := NewOrderRequest("luigis", "messenger", "psid-1", "PHP", c, State{IdempotencyKey: "k"})
	if req.Subtotal != 540 || req.Lines[0].Subtotal != 540 {
		t.Errorf("Subtotal = %d, line = %d, want 540", req.Subtotal, req.Lines[0].Subtotal)
	}
}

// ---------------------------------------------------------------------------
// Orchestrator
// ---------------------------------------------------------------------------

func TestNewOrchestrator_RequiresLedger(t *testing.T) {
	if _, err := NewOrchestrator(OrchestratorOpts{}); err == nil {
		t.Fatal("expected error for missing ledger")
	}
}

func TestSubmitOrder_RejectsInconsistentRequest(t *testing.T) {
	l, _ := testLedger(t)
	o, _ := NewOrchestrator(OrchestratorOpts{Ledger: l})

	tests := []struct {
		name   string
		mutate func(*OrderRequest)
	}{
		{"missing key", func(r *OrderRequest) { r.IdempotencyKey = "" }},
		{"empty cart", func(r *OrderRequest) { r.Lines = nil; r.Subtotal = 0; r.Total = r.DeliveryFee }},
		{"bad subtotal", func(r *OrderRequest) { r.Subtotal = 1 }},
		{"bad total", func(r *OrderRequest) { r.Total = 1 }},
		{"no payment", func(r *OrderRequest) { r.PaymentMethodID = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := testRequest(t)
			tt.mutate(&req)
			if _, err := o.SubmitOrder(context.Background(), req); !errors.Is(err, ErrInvalidOrder) {
				t.Errorf("err = %v, want ErrInvalidOrder", err)
			}
		})
	}
}

func TestSubmitOrder_IdempotentPerKey(t *testing.T) {
	l, db := testLedger(t)
	o, _ := NewOrchestrator(OrchestratorOpts{Ledger: l})
	ctx := context.Background()

	first, err := o.SubmitOrder(ctx, testRequest(t))
	if err != nil {
		t.Fatalf("first submit: %v", err)
	}
	if !first.Created {
		t.Error("first submission should create the order")
	}
	if !strings.HasPrefix(first.Ref, "OB-") {
		t.Errorf("Ref = %q, want OB- prefix", first.Ref)
	}

	second, err := o.SubmitOrder(ctx, testRequest(t))
	if err != nil {
		t.Fatalf("second submit: %v", err)
	}
	if second.Ref != first.Ref {
		t.Errorf("second Ref = %q, want %q", second.Ref, first.Ref)
	}
	if second.Created {
		t.Error("second submission should not create an order")
	}
	if second.Total != 600 {
		t.Errorf("second Total = %d, want 600", second.Total)
	}

	var count int64
	db.Model(&models.Order{}).Count(&count)
	if count != 1 {
		t.Errorf("orders = %d, want 1", count)
	}
}

func TestSubmitOrder_NewKeyNewOrder(t *testing.T) {
	l, db := testLedger(t)
	o, _ := NewOrchestrator(OrchestratorOpts{Ledger: l})
	ctx := context.Background()

	req := testRequest(t)
	if _, err := o.SubmitOrder(ctx, req); err != nil {
		t.Fatal(err)
	}
	req.IdempotencyKey = IdempotencyKey("luigis", "messenger", "psid-1", "e1", 9)
	if _, err := o.SubmitOrder(ctx, req); err != nil {
		t.Fatal(err)
	}
	var count int64
	db.Model(&models.Order{}).Count(&count)
	if count != 2 {
		t.Errorf("orders = %d, want 2", count)
	}
}

func TestSubmitOrder_ManualFeeFlagsFollowUp(t *testing.T) {
	l, _ := testLedger(t)
	o, _ := NewOrchestrator(OrchestratorOpts{Ledger: l})
	ctx := context.Background()

	req := testRequest(t)
	req.DeliveryFee = 0
	req.Total = req.Subtotal
	req.ManualDeliveryFee = true
	ref, err := o.SubmitOrder(ctx, req)
	if err != nil {
		t.Fatalf("SubmitOrder: %v", err)
	}
	order, err := l.Get(ctx, "luigis", ref.Ref)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !order.NeedsFollowUp || order.FollowUpReason == "" {
		t.Errorf("order = %+v, want follow-up flag", order)
	}
}

// ---------------------------------------------------------------------------
// SQLLedger
// ---------------------------------------------------------------------------

func TestSQLLedger_StoresLines(t *testing.T) {
	l, _ := testLedger(t)
	ctx := context.Background()
	ref, err := l.PlaceOrder(ctx, testRequest(t))
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	order, err := l.Get(ctx, "luigis", ref.Ref)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(order.Lines) != 1 {
		t.Fatalf("len(Lines) = %d, want 1", len(order.Lines))
	}
	ln := order.Lines[0]
	if ln.Quantity != 3 || ln.UnitPrice != 180 || ln.Subtotal != 540 {
		t.Errorf("line = %+v", ln)
	}
	if ln.Options != "Medium, + Extra cheese" {
		t.Errorf("Options = %q", ln.Options)
	}
	if order.Fields != `{"name":"Ana"}` {
		t.Errorf("Fields = %q", order.Fields)
	}
}

func TestSQLLedger_RecordDelivery(t *testing.T) {
	l, _ := testLedger(t)
	ctx := context.Background()
	ref, _ := l.PlaceOrder(ctx, testRequest(t))

	if err := l.RecordDelivery(ctx, "luigis", ref.Ref, "dlv-77"); err != nil {
		t.Fatalf("RecordDelivery: %v", err)
	}
	order, _ := l.Get(ctx, "luigis", ref.Ref)
	if order.DeliveryRef != "dlv-77" {
		t.Errorf("DeliveryRef = %q, want dlv-77", order.DeliveryRef)
	}

	if err := l.RecordDelivery(ctx, "luigis", "OB-MISSING", "x"); !errors.Is(err, ErrOrderNotFound) {
		t.Errorf("err = %v, want ErrOrderNotFound", err)
	}
	if _, err := l.Get(ctx, "marios", ref.Ref); !errors.Is(err, ErrOrderNotFound) {
		t.Errorf("cross-tenant Get err = %v, want ErrOrderNotFound", err)
	}
}
