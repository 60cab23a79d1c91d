package ordering

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/zulandar/orderbot/internal/cart"
	"github.com/zulandar/orderbot/internal/catalog"
	"github.com/zulandar/orderbot/internal/checkout"
	"github.com/zulandar/orderbot/internal/config"
	"github.com/zulandar/orderbot/internal/conversation"
	"github.com/zulandar/orderbot/internal/db"
	"github.com/zulandar/orderbot/internal/delivery"
	"github.com/zulandar/orderbot/internal/metrics"
	"github.com/zulandar/orderbot/internal/models"
	"github.com/zulandar/orderbot/internal/outbound"
	"github.com/zulandar/orderbot/internal/platform"
	"github.com/zulandar/orderbot/internal/session"
)

var (
	start  = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	psid   = "psid-1"
	aliceK = conversation.Key{TenantID: "luigis", Channel: "messenger", SenderID: psid}
)

func testSnapshot(fallback string) *catalog.Snapshot {
	return &catalog.Snapshot{
		Tenant: catalog.Tenant{
			ID: "luigis", Name: "Luigi's", Currency: "PHP", QuoteFallback: fallback,
			PickupAddress: "1 Pizza St",
		},
		Categories: []catalog.Category{
			{ID: "pizza", Name: "Pizza", Items: []catalog.Item{{
				ID: "margherita", CategoryID: "pizza", Name: "Margherita", Price: 15000, Available: true,
				Groups: []catalog.VariationGroup{{ID: "size", Name: "Size", Options: []catalog.Option{
					{ID: "small", Name: "Small"},
					{ID: "medium", Name: "Medium", PriceModifier: 2000},
				}}},
				Addons: []catalog.Addon{{ID: "cheese", Name: "Extra cheese", Price: 1000}},
			}}},
		},
		OrderTypes: []catalog.OrderType{
			{ID: "pickup", Name: "Pickup", Fields: []catalog.Field{
				{ID: "name", Label: "Name", Kind: config.FieldText, Required: true},
			}},
			{ID: "delivery", Name: "Delivery", RequiresDelivery: true, Fields: []catalog.Field{
				{ID: "name", Label: "Name", Kind: config.FieldText, Required: true},
				{ID: "drop", Label: "Drop-off", Kind: config.FieldLocation, Required: true},
			}},
		},
		PaymentMethods: []catalog.PaymentMethod{{ID: "cash", Name: "Cash"}},
	}
}

// ---------------------------------------------------------------------------
// Fakes
// ---------------------------------------------------------------------------

type fakeSender struct {
	mu   sync.Mutex
	sent []string
}

func (f *fakeSender) Send(_ context.Context, _ catalog.Tenant, _ string, msg outbound.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, msg.Text)
	return nil
}

func (f *fakeSender) texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

func (f *fakeSender) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = nil
}

type fakeQuotes struct {
	mu    sync.Mutex
	calls int
	last  delivery.QuoteRequest
	err   error
}

func (f *fakeQuotes) Quote(_ context.Context, req delivery.QuoteRequest) (delivery.Quote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.last = req
	if f.err != nil {
		return delivery.Quote{}, f.err
	}
	return delivery.Quote{Fee: 6000, Ref: "qt-1", ExpiresAt: start.Add(time.Hour)}, nil
}

type fakeCouriers struct {
	mu    sync.Mutex
	calls int
	last  delivery.BookingRequest
	err   error
}

func (f *fakeCouriers) Book(_ context.Context, req delivery.BookingRequest) (delivery.Booking, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.last = req
	if f.err != nil {
		return delivery.Booking{}, f.err
	}
	return delivery.Booking{Ref: "dlv-9"}, nil
}

// racingStore simulates another process writing the session right before
// the engine's swap.
type racingStore struct {
	session.Store
	interfere int
	always    bool
}

func (r *racingStore) CompareAndSwap(ctx context.Context, s *conversation.Session, expected int64) error {
	if r.always {
		return session.ErrConflict
	}
	if r.interfere > 0 {
		r.interfere--
		other, err := r.Store.Load(ctx, s.Key())
		if err != nil {
			return err
		}
		other.LastEventID = ""
		if err := r.Store.CompareAndSwap(ctx, other, other.Version); err != nil {
			return err
		}
	}
	return r.Store.CompareAndSwap(ctx, s, expected)
}

// ---------------------------------------------------------------------------
// Harness
// ---------------------------------------------------------------------------

type harness struct {
	engine   *Engine
	db       *gorm.DB
	store    *racingStore
	sender   *fakeSender
	quotes   *fakeQuotes
	couriers *fakeCouriers
	metrics  *metrics.Metrics

	seq int

	mu  sync.Mutex
	now time.Time
}

func (h *harness) clock() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.now
}

func (h *harness) advance(d time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.now = h.now.Add(d)
}

type harnessOpt func(*EngineOpts)

func withoutDelivery(o *EngineOpts) { o.Quotes, o.Couriers = nil, nil }

func newHarness(t *testing.T, fallback string, opts ...harnessOpt) *harness {
	t.Helper()
	gdb, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(gdb); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	h := &harness{
		db:       gdb,
		sender:   &fakeSender{},
		quotes:   &fakeQuotes{},
		couriers: &fakeCouriers{},
		metrics:  metrics.New(),
		now:      start,
	}
	sessions, err := session.NewSQLStore(session.SQLStoreOpts{DB: gdb, TTL: 24 * time.Hour, Now: h.clock})
	if err != nil {
		t.Fatal(err)
	}
	h.store = &racingStore{Store: sessions}
	ledger, err := checkout.NewSQLLedger(gdb)
	if err != nil {
		t.Fatal(err)
	}
	orders, err := checkout.NewOrchestrator(checkout.OrchestratorOpts{Ledger: ledger})
	if err != nil {
		t.Fatal(err)
	}
	pending, err := outbound.NewSQLPending(gdb)
	if err != nil {
		t.Fatal(err)
	}
	dispatcher, err := outbound.NewDispatcher(outbound.DispatcherOpts{
		Senders:     map[string]outbound.Sender{"messenger": h.sender},
		Pending:     pending,
		Windows:     map[string]time.Duration{"messenger": 24 * time.Hour},
		BaseBackoff: time.Millisecond,
		Metrics:     h.metrics,
		Now:         h.clock,
	})
	if err != nil {
		t.Fatal(err)
	}

	eo := EngineOpts{
		Sessions:   h.store,
		Catalog:    catalog.NewStaticSource(testSnapshot(fallback)),
		Orders:     orders,
		Dispatcher: dispatcher,
		Quotes:     h.quotes,
		Couriers:   h.couriers,
		Metrics:    h.metrics,
		Now:        h.clock,
	}
	for _, o := range opts {
		o(&eo)
	}
	h.engine, err = NewEngine(eo)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return h
}

// send handles ev under a fresh event id.
func (h *harness) send(t *testing.T, ev conversation.Event) {
	t.Helper()
	h.seq++
	h.sendID(t, fmt.Sprintf("mid.%d", h.seq), ev)
}

func (h *harness) sendID(t *testing.T, id string, ev conversation.Event) {
	t.Helper()
	in := platform.Inbound{EventID: id, SenderID: psid, Event: ev, Timestamp: h.clock()}
	if err := h.engine.Handle(context.Background(), "luigis", "messenger", in); err != nil {
		t.Fatalf("Handle(%#v): %v", ev, err)
	}
}

func (h *harness) session(t *testing.T) *conversation.Session {
	t.Helper()
	s, err := h.engine.Session(context.Background(), aliceK)
	if err != nil {
		t.Fatalf("Session: %v", err)
	}
	return s
}

func (h *harness) lastText(t *testing.T) string {
	t.Helper()
	texts := h.sender.texts()
	if len(texts) == 0 {
		t.Fatal("nothing was sent")
	}
	return texts[len(texts)-1]
}

func press(p string) conversation.Event { return conversation.QuickReplyOrButton{Payload: p} }

func say(text string) conversation.Event { return conversation.TextMessage{Text: text} }

func (h *harness) fillCart(t *testing.T) {
	t.Helper()
	for _, ev := range []conversation.Event{
		press("ITEM:margherita"), press("VAR:size:medium"), press("ADDON:cheese"),
		press("ADDONS_DONE"), press("QTY:3"),
	} {
		h.send(t, ev)
	}
}

func (h *harness) toDeliveryPayment(t *testing.T) {
	t.Helper()
	h.fillCart(t)
	h.send(t, press("CHECKOUT"))
	h.send(t, press("OTYPE:delivery"))
	h.send(t, say("Ana"))
	h.send(t, conversation.LocationAttachment{Lat: 14.5995, Lng: 120.9842})
}

func (h *harness) onlyOrder(t *testing.T) models.Order {
	t.Helper()
	var orders []models.Order
	if err := h.db.Find(&orders).Error; err != nil {
		t.Fatal(err)
	}
	if len(orders) != 1 {
		t.Fatalf("orders = %d, want 1", len(orders))
	}
	return orders[0]
}

// ---------------------------------------------------------------------------
// Construction
// ---------------------------------------------------------------------------

func TestNewEngine_Requirements(t *testing.T) {
	full := newHarness(t, "reject")
	base := EngineOpts{
		Sessions:   full.engine.sessions,
		Catalog:    full.engine.catalog,
		Orders:     full.engine.orders,
		Dispatcher: full.engine.dispatcher,
	}
	tests := []struct {
		name string
		edit func(*EngineOpts)
	}{
		{"no sessions", func(o *EngineOpts) { o.Sessions = nil }},
		{"no catalog", func(o *EngineOpts) { o.Catalog = nil }},
		{"no orders", func(o *EngineOpts) { o.Orders = nil }},
		{"no dispatcher", func(o *EngineOpts) { o.Dispatcher = nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := base
			tt.edit(&o)
			if _, err := NewEngine(o); err == nil {
				t.Error("expected error")
			}
		})
	}
	e, err := NewEngine(base)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	if e.maxRetries != defaultMaxRetries || e.cmdTimeout != defaultCommandTimeout || e.now == nil {
		t.Errorf("defaults not applied: %+v", e)
	}
}

// ---------------------------------------------------------------------------
// Scenarios
// ---------------------------------------------------------------------------

func TestHandle_SubtotalScenario(t *testing.T) {
	h := newHarness(t, "reject")
	h.fillCart(t)

	s := h.session(t)
	if s.State != conversation.StateCart {
		t.Fatalf("State = %s, want cart", s.State)
	}
	if got := cart.Total(s.Cart); got != 54000 {
		t.Errorf("Total = %d, want 54000", got)
	}
	if s.Version != 5 {
		t.Errorf("Version = %d, want 5", s.Version)
	}
	if !s.LastInboundAt.Equal(start) {
		t.Errorf("LastInboundAt = %v", s.LastInboundAt)
	}

	texts := h.sender.texts()
	if len(texts) != 6 {
		t.Fatalf("sent %d messages, want 6: %q", len(texts), texts)
	}
	if !strings.HasPrefix(texts[4], "Added 3 × Margherita") {
		t.Errorf("notice = %q", texts[4])
	}
	if !strings.Contains(texts[5], "Total: PHP 540.00") {
		t.Errorf("cart prompt = %q", texts[5])
	}
	if got := testutil.ToFloat64(h.metrics.Events.WithLabelValues(OutcomeApplied)); got != 5 {
		t.Errorf("applied events = %v, want 5", got)
	}
}

func TestHandle_SameItemTwiceMerges(t *testing.T) {
	h := newHarness(t, "reject")
	for i := 0; i < 2; i++ {
		h.send(t, press("CAT:pizza"))
		h.send(t, press("ITEM:margherita"))
		h.send(t, press("VAR:size:medium"))
		h.send(t, press("ADDONS_DONE"))
		h.send(t, press("QTY:1"))
		h.send(t, press("MENU"))
	}
	s := h.session(t)
	if len(s.Cart.Lines) != 1 || s.Cart.Lines[0].Quantity != 2 {
		t.Fatalf("Lines = %+v, want one line of 2", s.Cart.Lines)
	}
	if got := cart.Total(s.Cart); got != 34000 {
		t.Errorf("Total = %d, want 34000", got)
	}
}

func TestHandle_RedeliveryIsAbsorbed(t *testing.T) {
	h := newHarness(t, "reject")
	h.sendID(t, "mid.1", press("ITEM:margherita"))
	h.sender.reset()

	h.sendID(t, "mid.1", press("ITEM:margherita"))

	if got := h.sender.texts(); len(got) != 0 {
		t.Errorf("redelivery sent %q", got)
	}
	if v := h.session(t).Version; v != 1 {
		t.Errorf("Version = %d, want 1", v)
	}
	if got := testutil.ToFloat64(h.metrics.Events.WithLabelValues(OutcomeDuplicate)); got != 1 {
		t.Errorf("duplicate events = %v, want 1", got)
	}
}

// A platform redelivers an event while the first delivery is still being
// processed because the ack was slow. Exactly one is applied.
func TestHandle_ConcurrentRedeliveryAfterSlowAck(t *testing.T) {
	h := newHarness(t, "reject")
	h.fillCart(t)
	s := h.session(t)
	before, lineID := s.Version, s.Cart.Lines[0].ID
	h.sender.reset()

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			in := platform.Inbound{EventID: "mid.slow", SenderID: psid, Event: press("INC:" + lineID)}
			errs <- h.engine.Handle(context.Background(), "luigis", "messenger", in)
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("Handle: %v", err)
		}
	}

	s = h.session(t)
	if s.Version != before+1 {
		t.Errorf("Version = %d, want %d", s.Version, before+1)
	}
	if s.Cart.Lines[0].Quantity != 4 {
		t.Errorf("Quantity = %d, want 4", s.Cart.Lines[0].Quantity)
	}
	prompts := 0
	for _, text := range h.sender.texts() {
		if strings.HasPrefix(text, "Your cart:") {
			prompts++
		}
	}
	if prompts > 1 {
		t.Errorf("cart prompt sent %d times", prompts)
	}
}

func TestHandle_ConflictReloadsAndReapplies(t *testing.T) {
	h := newHarness(t, "reject")
	h.store.interfere = 1
	h.send(t, press("ITEM:margherita"))

	s := h.session(t)
	if s.State != conversation.StateSelectingVariation {
		t.Errorf("State = %s, want selecting_variation", s.State)
	}
	if s.Version != 2 {
		t.Errorf("Version = %d, want 2", s.Version)
	}
	if got := testutil.ToFloat64(h.metrics.Conflicts); got != 1 {
		t.Errorf("conflicts = %v, want 1", got)
	}
	if got := len(h.sender.texts()); got != 1 {
		t.Errorf("sent %d messages, want 1", got)
	}
}

func TestHandle_ConflictRetriesExhausted(t *testing.T) {
	h := newHarness(t, "reject")
	h.store.always = true

	in := platform.Inbound{EventID: "mid.1", SenderID: psid, Event: press("ITEM:margherita")}
	err := h.engine.Handle(context.Background(), "luigis", "messenger", in)
	if !errors.Is(err, ErrRetriesExhausted) {
		t.Fatalf("err = %v, want ErrRetriesExhausted", err)
	}
	if got := len(h.sender.texts()); got != 0 {
		t.Errorf("sent %d messages, want none", got)
	}
	if got := testutil.ToFloat64(h.metrics.Conflicts); got != defaultMaxRetries {
		t.Errorf("conflicts = %v, want %d", got, defaultMaxRetries)
	}
}

func TestHandle_UnknownTenant(t *testing.T) {
	h := newHarness(t, "reject")
	in := platform.Inbound{EventID: "mid.1", SenderID: psid, Event: say("hi")}
	if err := h.engine.Handle(context.Background(), "nobody", "messenger", in); !errors.Is(err, catalog.ErrTenantNotFound) {
		t.Errorf("err = %v, want ErrTenantNotFound", err)
	}
}

func TestHandle_GeneratesEventIDs(t *testing.T) {
	h := newHarness(t, "reject")
	for i := 0; i < 2; i++ {
		in := platform.Inbound{SenderID: psid, Event: say("hi")}
		if err := h.engine.Handle(context.Background(), "luigis", "messenger", in); err != nil {
			t.Fatal(err)
		}
	}
	s := h.session(t)
	if s.Version != 2 || !strings.HasPrefix(s.LastEventID, "local-") {
		t.Errorf("Version = %d, LastEventID = %q", s.Version, s.LastEventID)
	}
}

// ---------------------------------------------------------------------------
// Commands
// ---------------------------------------------------------------------------

func TestHandle_DeliveryQuoteSubmitAndBook(t *testing.T) {
	h := newHarness(t, "reject")
	h.toDeliveryPayment(t)

	h.send(t, press("PAY:cash"))
	s := h.session(t)
	if s.State != conversation.StateCheckoutConfirm {
		t.Fatalf("State = %s, want checkout_confirm", s.State)
	}
	if s.Checkout.DeliveryFee != 6000 || s.Checkout.QuoteRef != "qt-1" {
		t.Errorf("Checkout = %+v", s.Checkout)
	}
	if h.quotes.last.Subtotal != 54000 || h.quotes.last.Dropoff.Lat != 14.5995 || h.quotes.last.Pickup.Address != "1 Pizza St" {
		t.Errorf("quote request = %+v", h.quotes.last)
	}
	confirm := h.lastText(t)
	for _, want := range []string{"Delivery fee: PHP 60.00", "Grand total: PHP 600.00"} {
		if !strings.Contains(confirm, want) {
			t.Errorf("confirm prompt missing %q:\n%s", want, confirm)
		}
	}

	h.sender.reset()
	h.send(t, press("CONFIRM"))

	order := h.onlyOrder(t)
	if order.Total != 60000 || order.DeliveryFee != 6000 || order.DeliveryRef != "dlv-9" {
		t.Errorf("order = %+v", order)
	}
	if h.couriers.last.OrderRef != order.Ref || h.couriers.last.QuoteRef != "qt-1" || h.couriers.last.Contact["name"] != "Ana" {
		t.Errorf("booking request = %+v", h.couriers.last)
	}

	s = h.session(t)
	if s.State != conversation.StateOrderConfirmed || s.LastOrder == nil || s.LastOrder.Ref != order.Ref {
		t.Errorf("session = %s %+v", s.State, s.LastOrder)
	}
	texts := h.sender.texts()
	if len(texts) != 2 {
		t.Fatalf("sent %q, want confirmation and booking notice", texts)
	}
	if !strings.Contains(texts[0], "Order "+order.Ref+" is confirmed. Total: PHP 600.00") {
		t.Errorf("confirmation = %q", texts[0])
	}
	if texts[1] != "A rider has been booked for your order." {
		t.Errorf("booking notice = %q", texts[1])
	}
	if got := testutil.ToFloat64(h.metrics.Orders.WithLabelValues(orderPlaced)); got != 1 {
		t.Errorf("placed orders = %v, want 1", got)
	}
}

func TestHandle_QuoteIsNotRepeatedOnConflict(t *testing.T) {
	h := newHarness(t, "reject")
	h.toDeliveryPayment(t)

	h.store.interfere = 1
	h.send(t, press("PAY:cash"))

	if h.quotes.calls != 1 {
		t.Errorf("quote calls = %d, want 1", h.quotes.calls)
	}
	if s := h.session(t); s.State != conversation.StateCheckoutConfirm {
		t.Errorf("State = %s, want checkout_confirm", s.State)
	}
}

func TestHandle_QuoteFailureRejects(t *testing.T) {
	h := newHarness(t, "reject")
	h.quotes.err = delivery.ErrUnserviceable
	h.toDeliveryPayment(t)

	h.sender.reset()
	h.send(t, press("PAY:cash"))

	s := h.session(t)
	if s.State != conversation.StateCheckoutPayment || s.Checkout.PaymentMethodID != "" {
		t.Errorf("session = %s %+v", s.State, s.Checkout)
	}
	texts := h.sender.texts()
	if len(texts) != 2 || !strings.HasPrefix(texts[0], "We couldn't get a delivery fee") || !strings.HasPrefix(texts[1], "How will you pay?") {
		t.Errorf("sent %q", texts)
	}
}

func TestHandle_NoProvidersFallsBackToManual(t *testing.T) {
	h := newHarness(t, "manual", withoutDelivery)
	h.toDeliveryPayment(t)

	h.send(t, press("PAY:cash"))
	s := h.session(t)
	if s.State != conversation.StateCheckoutConfirm || !s.Checkout.ManualDeliveryFee {
		t.Fatalf("session = %s %+v", s.State, s.Checkout)
	}
	if !strings.Contains(h.lastText(t), "Delivery fee: to be confirmed") {
		t.Errorf("confirm = %q", h.lastText(t))
	}

	h.send(t, press("CONFIRM"))
	order := h.onlyOrder(t)
	if !order.NeedsFollowUp || order.DeliveryRef != "" {
		t.Errorf("order = %+v, want follow-up without booking", order)
	}
	if h.couriers.calls != 0 {
		t.Errorf("courier calls = %d, want 0", h.couriers.calls)
	}
}

func TestHandle_BookingFailureFlagsFollowUp(t *testing.T) {
	h := newHarness(t, "reject")
	h.couriers.err = errors.New("courier API down")
	h.toDeliveryPayment(t)
	h.send(t, press("PAY:cash"))

	h.sender.reset()
	h.send(t, press("CONFIRM"))

	order := h.onlyOrder(t)
	if !order.NeedsFollowUp || !strings.Contains(order.FollowUpReason, "courier API down") {
		t.Errorf("order = %+v", order)
	}
	texts := h.sender.texts()
	if len(texts) != 2 || !strings.HasPrefix(texts[1], "We couldn't book a rider") {
		t.Errorf("sent %q", texts)
	}
	if s := h.session(t); s.State != conversation.StateOrderConfirmed {
		t.Errorf("State = %s, want order_confirmed", s.State)
	}
}

func TestHandle_PickupOrderSkipsDelivery(t *testing.T) {
	h := newHarness(t, "reject")
	h.fillCart(t)
	h.send(t, press("CHECKOUT"))
	h.send(t, press("OTYPE:pickup"))
	h.send(t, say("Ana"))
	h.send(t, press("PAY:cash"))
	h.send(t, press("CONFIRM"))

	order := h.onlyOrder(t)
	if order.Total != 54000 || order.NeedsFollowUp {
		t.Errorf("order = %+v", order)
	}
	if h.quotes.calls != 0 || h.couriers.calls != 0 {
		t.Errorf("quote calls = %d, courier calls = %d", h.quotes.calls, h.couriers.calls)
	}
}

func TestHandle_ConfirmTwiceSubmitsOnce(t *testing.T) {
	h := newHarness(t, "reject")
	h.fillCart(t)
	h.send(t, press("CHECKOUT"))
	h.send(t, press("OTYPE:pickup"))
	h.send(t, say("Ana"))
	h.send(t, press("PAY:cash"))

	// The first confirmation is applied but its swap loses to a concurrent
	// write, so the submission is replayed from the reloaded session.
	h.store.interfere = 1
	h.send(t, press("CONFIRM"))

	h.onlyOrder(t)
	if got := testutil.ToFloat64(h.metrics.Orders.WithLabelValues(orderPlaced)); got != 1 {
		t.Errorf("placed orders = %v, want 1", got)
	}
}

func TestCollapsePrompts(t *testing.T) {
	prompt := conversation.Reply{Kind: conversation.ReplyPrompt}
	notice := func(n conversation.Notice) conversation.Reply {
		return conversation.Reply{Kind: conversation.ReplyNotice, Notice: n}
	}
	got := collapsePrompts([]conversation.Reply{
		notice(conversation.NoticeQuoteRefreshed), prompt, notice(conversation.NoticeDeliveryBooked), prompt,
	})
	want := []conversation.Reply{notice(conversation.NoticeQuoteRefreshed), notice(conversation.NoticeDeliveryBooked), prompt}
	if len(got) != len(want) {
		t.Fatalf("got %+v, want %+v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("[%d] = %+v, want %+v", i, got[i], want[i])
		}
	}
}

// ---------------------------------------------------------------------------
// Operator operations
// ---------------------------------------------------------------------------

func TestNotify_HeldUntilNextInbound(t *testing.T) {
	h := newHarness(t, "reject")

	sent, err := h.engine.Notify(context.Background(), aliceK, "We open at 10am today.")
	if err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if sent || len(h.sender.texts()) != 0 {
		t.Fatalf("sent = %v, texts = %q; want held", sent, h.sender.texts())
	}

	h.send(t, say("hi"))
	texts := h.sender.texts()
	if len(texts) != 2 || texts[0] != "We open at 10am today." || !strings.HasPrefix(texts[1], "Welcome to Luigi's") {
		t.Errorf("sent %q, want held notice then welcome", texts)
	}

	h.sender.reset()
	h.advance(time.Hour)
	sent, err = h.engine.Notify(context.Background(), aliceK, "Your rider is outside.")
	if err != nil || !sent {
		t.Fatalf("Notify in window = %v, %v", sent, err)
	}
	if got := h.sender.texts(); len(got) != 1 {
		t.Errorf("sent %q", got)
	}

	if _, err := h.engine.Notify(context.Background(), aliceK, ""); err == nil {
		t.Error("expected error for empty text")
	}
}

func TestNotify_WindowClosedAfterInactivity(t *testing.T) {
	h := newHarness(t, "reject")
	h.send(t, say("hi"))
	h.sender.reset()

	h.advance(25 * time.Hour)
	sent, err := h.engine.Notify(context.Background(), aliceK, "Still hungry?")
	if err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if sent || len(h.sender.texts()) != 0 {
		t.Errorf("sent = %v, texts = %q; want held", sent, h.sender.texts())
	}
}

func TestReset(t *testing.T) {
	h := newHarness(t, "reject")
	h.fillCart(t)
	before := h.session(t).Epoch

	if err := h.engine.Reset(context.Background(), aliceK); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	s := h.session(t)
	if s.State != conversation.StateMenu || !s.Cart.Empty() {
		t.Errorf("session after reset = %s %+v", s.State, s.Cart)
	}

	h.send(t, say("hi"))
	after := h.session(t)
	if after.Version != 1 {
		t.Errorf("Version = %d, want 1", after.Version)
	}
	if after.Epoch == "" || after.Epoch == before {
		t.Errorf("Epoch = %q after reset, want a new one (was %q)", after.Epoch, before)
	}
}

func (h *harness) orderPickup(t *testing.T) {
	t.Helper()
	h.fillCart(t)
	h.send(t, press("CHECKOUT"))
	h.send(t, press("OTYPE:pickup"))
	h.send(t, say("Ana"))
	h.send(t, press("PAY:cash"))
	h.send(t, press("CONFIRM"))
}

func TestReset_LaterOrderIsNotDeduplicated(t *testing.T) {
	h := newHarness(t, "reject")
	h.orderPickup(t)
	first := h.onlyOrder(t)

	if err := h.engine.Reset(context.Background(), aliceK); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	// The same steps land on the same session version as the first order.
	h.orderPickup(t)

	var orders []models.Order
	if err := h.db.Order("id").Find(&orders).Error; err != nil {
		t.Fatal(err)
	}
	if len(orders) != 2 {
		t.Fatalf("orders = %d, want 2", len(orders))
	}
	if orders[1].Ref == first.Ref || orders[1].IdempotencyKey == first.IdempotencyKey {
		t.Errorf("second order reused %s (key %s)", first.Ref, first.IdempotencyKey)
	}
	if sent := strings.Join(h.sender.texts(), "\n"); !strings.Contains(sent, orders[1].Ref) {
		t.Errorf("second order %s was never confirmed:\n%s", orders[1].Ref, sent)
	}
}
