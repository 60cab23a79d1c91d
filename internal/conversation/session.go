// Package conversation is the pure ordering state machine. Transition takes a
// session snapshot and one normalized chat event and returns the next
// snapshot, the replies to render and the side-effect commands for the
// caller to execute. It performs no I/O.
package conversation

import (
	"time"

	"github.com/google/uuid"
	"github.com/zulandar/orderbot/internal/cart"
	"github.com/zulandar/orderbot/internal/checkout"
)

// State is a conversation step.
type State string

const (
	StateMenu               State = "menu"
	StateSelectingItem      State = "selecting_item"
	StateSelectingVariation State = "selecting_variation"
	StateSelectingAddons    State = "selecting_addons"
	StateSelectingQuantity  State = "selecting_quantity"
	StateCart               State = "cart"
	StateCheckoutOrderType  State = "checkout_order_type"
	StateCheckoutCustomer   State = "checkout_customer"
	StateCheckoutPayment    State = "checkout_payment"
	StateCheckoutConfirm    State = "checkout_confirm"
	StateOrderConfirmed     State = "order_confirmed"
)

// AllStates lists every state.
var AllStates = []State{
	StateMenu, StateSelectingItem, StateSelectingVariation, StateSelectingAddons,
	StateSelectingQuantity, StateCart, StateCheckoutOrderType, StateCheckoutCustomer,
	StateCheckoutPayment, StateCheckoutConfirm, StateOrderConfirmed,
}

// Valid reports whether s is a known state.
func (s State) Valid() bool {
	for _, v := range AllStates {
		if v == s {
			return true
		}
	}
	return false
}

// Key identifies one conversation. Channel is the messaging provider, so the
// same sender id on two providers never collides.
type Key struct {
	TenantID string `json:"tenant_id"`
	Channel  string `json:"channel"`
	SenderID string `json:"sender_id"`
}

func (k Key) String() string {
	return k.TenantID + "/" + k.Channel + "/" + k.SenderID
}

// Pending is an item being configured before it enters the cart.
type Pending struct {
	ItemID     string            `json:"item_id"`
	Variations map[string]string `json:"variations,omitempty"` // group id -> option id
	Addons     []string          `json:"addons,omitempty"`
}

func (p *Pending) clone() *Pending {
	if p == nil {
		return nil
	}
	out := &Pending{ItemID: p.ItemID}
	if p.Variations != nil {
		out.Variations = make(map[string]string, len(p.Variations))
		for k, v := range p.Variations {
			out.Variations[k] = v
		}
	}
	if p.Addons != nil {
		out.Addons = append([]string(nil), p.Addons...)
	}
	return out
}

// HasAddon reports whether add-on id is selected.
func (p *Pending) HasAddon(id string) bool {
	for _, a := range p.Addons {
		if a == id {
			return true
		}
	}
	return false
}

// LastOrder is the order just confirmed in this conversation.
type LastOrder struct {
	Ref   string     `json:"ref"`
	Total cart.Money `json:"total"`
}

// Session is one customer's conversation snapshot. Version is owned by the
// session store and only compared, never changed, by the state machine.
// Epoch identifies this session's lifetime; it survives in-chat resets but
// not deletion, so a recreated session starts a new epoch.
type Session struct {
	TenantID       string         `json:"tenant_id"`
	Channel        string         `json:"channel"`
	SenderID       string         `json:"sender_id"`
	Epoch          string         `json:"epoch,omitempty"`
	State          State          `json:"state"`
	Cart           cart.Cart      `json:"cart"`
	Checkout       checkout.State `json:"checkout"`
	Pending        *Pending       `json:"pending,omitempty"`
	BrowseCategory string         `json:"browse_category,omitempty"`
	LastOrder      *LastOrder     `json:"last_order,omitempty"`
	LastEventID    string         `json:"last_event_id,omitempty"`
	LastInboundAt  time.Time      `json:"last_inbound_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
	Version        int64          `json:"version"`
}

// NewSession returns a fresh session in the menu state with a new epoch.
func NewSession(key Key, now time.Time) *Session {
	return &Session{
		TenantID:  key.TenantID,
		Channel:   key.Channel,
		SenderID:  key.SenderID,
		Epoch:     uuid.NewString(),
		State:     StateMenu,
		UpdatedAt: now,
	}
}

// Key returns the session's conversation key.
func (s *Session) Key() Key {
	return Key{TenantID: s.TenantID, Channel: s.Channel, SenderID: s.SenderID}
}

// Clone returns a deep copy.
func (s *Session) Clone() *Session {
	out := *s
	if s.Cart.Lines != nil {
		out.Cart = cart.Cart{Lines: make([]cart.Line, len(s.Cart.Lines))}
		for i, l := range s.Cart.Lines {
			if l.Variations != nil {
				l.Variations = append(make([]cart.VariationChoice, 0, len(l.Variations)), l.Variations...)
			}
			if l.Addons != nil {
				l.Addons = append(make([]cart.AddonChoice, 0, len(l.Addons)), l.Addons...)
			}
			out.Cart.Lines[i] = l
		}
	}
	out.Checkout = s.Checkout.Clone()
	out.Pending = s.Pending.clone()
	if s.LastOrder != nil {
		lo := *s.LastOrder
		out.LastOrder = &lo
	}
	return &out
}

// Reset clears the cart, checkout and selection and returns to the menu.
// Identity, version and event bookkeeping are kept.
func (s *Session) Reset() {
	s.State = StateMenu
	s.Cart = cart.Cart{}
	s.Checkout = checkout.State{}
	s.Pending = nil
	s.BrowseCategory = ""
}
