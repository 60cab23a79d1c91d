package conversation

import (
	"strconv"

	"github.com/zulandar/orderbot/internal/cart"
	"github.com/zulandar/orderbot/internal/catalog"
	"github.com/zulandar/orderbot/internal/checkout"
	"github.com/zulandar/orderbot/internal/config"
)

// Payload verbs.
const (
	PayloadCategory   = "CAT"
	PayloadItem       = "ITEM"
	PayloadVariation  = "VAR"
	PayloadAddon      = "ADDON"
	PayloadAddonsDone = "ADDONS_DONE"
	PayloadQuantity   = "QTY"
	PayloadMenu       = "MENU"
	PayloadCart       = "CART"
	PayloadCheckout   = "CHECKOUT"
	PayloadIncrement  = "INC"
	PayloadDecrement  = "DEC"
	PayloadRemove     = "REMOVE"
	PayloadClearCart  = "CLEAR_CART"
	PayloadOrderType  = "OTYPE"
	PayloadAnswer     = "ANSWER"
	PayloadSkip       = "SKIP"
	PayloadPay        = "PAY"
	PayloadConfirm    = "CONFIRM"
	PayloadBack       = "BACK"
	PayloadStartOver  = "START_OVER"
	PayloadCancel     = "CANCEL"
)

// QuickQuantities are the quantities offered as buttons. Any quantity up to
// cart.MaxLineQuantity may be typed.
var QuickQuantities = []int{1, 2, 3, 4, 5}

// Option is one selectable choice of a prompt. Typing its 1-based position
// is equivalent to pressing it.
type Option struct {
	Payload    string
	Label      string
	Amount     cart.Money
	ShowAmount bool
	Selected   bool
}

func opt(payload, label string) Option { return Option{Payload: payload, Label: label} }

func priced(payload, label string, amount cart.Money) Option {
	return Option{Payload: payload, Label: label, Amount: amount, ShowAmount: true}
}

// CurrentGroup returns the first variation group of the pending item that
// has no chosen option.
func CurrentGroup(s *Session, snap *catalog.Snapshot) (catalog.VariationGroup, bool) {
	if s.Pending == nil {
		return catalog.VariationGroup{}, false
	}
	item, ok := snap.Item(s.Pending.ItemID)
	if !ok {
		return catalog.VariationGroup{}, false
	}
	for _, g := range item.Groups {
		if _, done := s.Pending.Variations[g.ID]; !done {
			return g, true
		}
	}
	return catalog.VariationGroup{}, false
}

// CurrentField returns the checkout field being asked.
func CurrentField(s *Session, snap *catalog.Snapshot) (catalog.Field, bool) {
	fields, err := checkout.RequiredFields(snap, s.Checkout.OrderTypeID)
	if err != nil {
		return catalog.Field{}, false
	}
	for _, f := range fields {
		if f.ID == s.Checkout.CurrentField {
			return f, true
		}
	}
	return catalog.Field{}, false
}

// Options lists the choices offered by the prompt of the session's state.
func Options(s *Session, snap *catalog.Snapshot) []Option {
	var out []Option
	switch s.State {
	case StateMenu:
		for _, c := range snap.Categories {
			out = append(out, opt(PayloadCategory+":"+c.ID, c.Name))
		}
		if !s.Cart.Empty() {
			out = append(out, opt(PayloadCart, "View cart"))
		}

	case StateSelectingItem:
		if c, ok := snap.Category(s.BrowseCategory); ok {
			for _, it := range c.Items {
				if it.Available {
					out = append(out, priced(PayloadItem+":"+it.ID, it.Name, it.Price))
				}
			}
		}
		out = append(out, opt(PayloadBack, "Back to menu"))

	case StateSelectingVariation:
		if g, ok := CurrentGroup(s, snap); ok {
			for _, o := range g.Options {
				out = append(out, priced(PayloadVariation+":"+g.ID+":"+o.ID, o.Name, o.PriceModifier))
			}
		}
		out = append(out, opt(PayloadBack, "Back"))

	case StateSelectingAddons:
		if s.Pending != nil {
			if item, ok := snap.Item(s.Pending.ItemID); ok {
				for _, a := range item.Addons {
					o := priced(PayloadAddon+":"+a.ID, a.Name, a.Price)
					o.Selected = s.Pending.HasAddon(a.ID)
					out = append(out, o)
				}
			}
		}
		out = append(out, opt(PayloadAddonsDone, "Done"), opt(PayloadBack, "Back"))

	case StateSelectingQuantity:
		for _, q := range QuickQuantities {
			n := strconv.Itoa(q)
			out = append(out, opt(PayloadQuantity+":"+n, n))
		}
		out = append(out, opt(PayloadBack, "Back"))

	case StateCart:
		if !s.Cart.Empty() {
			out = append(out, opt(PayloadCheckout, "Checkout"))
		}
		out = append(out, opt(PayloadMenu, "Add more items"))
		for _, l := range s.Cart.Lines {
			out = append(out,
				opt(PayloadIncrement+":"+l.ID, "+1 "+l.Name),
				opt(PayloadDecrement+":"+l.ID, "-1 "+l.Name),
			)
		}
		if !s.Cart.Empty() {
			out = append(out, opt(PayloadClearCart, "Clear cart"))
		}

	case StateCheckoutOrderType:
		for _, ot := range snap.OrderTypes {
			out = append(out, opt(PayloadOrderType+":"+ot.ID, ot.Name))
		}
		out = append(out, opt(PayloadBack, "Back to cart"))

	case StateCheckoutCustomer:
		if f, ok := CurrentField(s, snap); ok {
			if f.Kind == config.FieldChoice {
				for _, c := range f.Choices {
					out = append(out, opt(PayloadAnswer+":"+c, c))
				}
			}
			if !f.Required {
				out = append(out, opt(PayloadSkip, "Skip"))
			}
		}
		out = append(out, opt(PayloadBack, "Back"))

	case StateCheckoutPayment:
		for _, pm := range snap.PaymentMethodsFor(s.Checkout.OrderTypeID) {
			out = append(out, opt(PayloadPay+":"+pm.ID, pm.Name))
		}
		out = append(out, opt(PayloadBack, "Back"))

	case StateCheckoutConfirm:
		out = append(out,
			opt(PayloadConfirm, "Place order"),
			opt(PayloadBack, "Change payment"),
			opt(PayloadCancel, "Cancel order"),
		)

	case StateOrderConfirmed:
		out = append(out, opt(PayloadMenu, "Order again"))
	}
	return out
}
