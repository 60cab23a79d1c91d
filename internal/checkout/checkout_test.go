package checkout

import (
	"errors"
	"testing"
	"time"

	"github.com/zulandar/orderbot/internal/catalog"
)

func deliverySnapshot() *catalog.Snapshot {
	return &catalog.Snapshot{
		Tenant: catalog.Tenant{ID: "luigis", Currency: "PHP"},
		OrderTypes: []catalog.OrderType{
			{
				ID:               "delivery",
				Name:             "Delivery",
				RequiresDelivery: true,
				Fields: []catalog.Field{
					{ID: "name", Label: "Name", Kind: "text", Required: true},
					{ID: "notes", Label: "Notes", Kind: "text", Required: false},
					{ID: "phone", Label: "Phone", Kind: "phone", Required: true},
				},
			},
		},
	}
}

func TestRequiredFields(t *testing.T) {
	fields, err := RequiredFields(deliverySnapshot(), "delivery")
	if err != nil {
		t.Fatalf("RequiredFields: %v", err)
	}
	if len(fields) != 3 || fields[0].ID != "name" || fields[2].ID != "phone" {
		t.Errorf("fields = %+v", fields)
	}

	if _, err := RequiredFields(deliverySnapshot(), "dinein"); !errors.Is(err, ErrUnknownOrderType) {
		t.Errorf("err = %v, want ErrUnknownOrderType", err)
	}
}

func TestNextUnansweredField(t *testing.T) {
	fields, _ := RequiredFields(deliverySnapshot(), "delivery")

	tests := []struct {
		name      string
		collected map[string]string
		want      string
		wantOK    bool
	}{
		{"nothing answered", nil, "name", true},
		{"name answered", map[string]string{"name": "Ana"}, "notes", true},
		{"optional skipped", map[string]string{"name": "Ana", "notes": ""}, "phone", true},
		{"required empty", map[string]string{"name": "", "notes": ""}, "name", true},
		{"all answered", map[string]string{"name": "Ana", "notes": "", "phone": "09171234567"}, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, ok := NextUnansweredField(fields, State{CollectedFields: tt.collected})
			if ok != tt.wantOK || f.ID != tt.want {
				t.Errorf("NextUnansweredField = (%q, %v), want (%q, %v)", f.ID, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestComplete(t *testing.T) {
	fields, _ := RequiredFields(deliverySnapshot(), "delivery")
	if Complete(fields, State{CollectedFields: map[string]string{"name": "Ana"}}) {
		t.Error("Complete should be false without phone")
	}
	if !Complete(fields, State{CollectedFields: map[string]string{"name": "Ana", "phone": "+639171234567"}}) {
		t.Error("Complete should be true when required fields are answered")
	}
}

func TestState_CloneIsDeep(t *testing.T) {
	st := State{CollectedFields: map[string]string{"name": "Ana"}}
	c := st.Clone()
	c.CollectedFields["name"] = "Ben"
	if st.CollectedFields["name"] != "Ana" {
		t.Error("Clone shares the answers map")
	}
}

func TestState_QuoteExpired(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name string
		st   State
		want bool
	}{
		{"no quote", State{}, false},
		{"no expiry", State{QuoteRef: "q1"}, false},
		{"future", State{QuoteRef: "q1", QuoteExpiresAt: now.Add(time.Minute)}, false},
		{"past", State{QuoteRef: "q1", QuoteExpiresAt: now.Add(-time.Second)}, true},
		{"exactly now", State{QuoteRef: "q1", QuoteExpiresAt: now}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.st.QuoteExpired(now); got != tt.want {
				t.Errorf("QuoteExpired = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIdempotencyKey(t *testing.T) {
	a := IdempotencyKey("luigis", "messenger", "psid-1", "e1", 7)
	if a != IdempotencyKey("luigis", "messenger", "psid-1", "e1", 7) {
		t.Error("IdempotencyKey is not deterministic")
	}
	for _, other := range []string{
		IdempotencyKey("luigis", "messenger", "psid-1", "e1", 8),
		IdempotencyKey("luigis", "messenger", "psid-1", "e2", 7),
		IdempotencyKey("luigis", "slack", "psid-1", "e1", 7),
		IdempotencyKey("luigis", "messenger", "psid-2", "e1", 7),
		IdempotencyKey("marios", "messenger", "psid-1", "e1", 7),
	} {
		if other == a {
			t.Errorf("IdempotencyKey collision: %s", other)
		}
	}
	if len(a) != 36 {
		t.Errorf("len(key) = %d, want 36", len(a))
	}
}
