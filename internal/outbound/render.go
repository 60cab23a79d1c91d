// Package outbound turns conversation replies into chat messages and
// delivers them through provider senders, honoring the reactive messaging
// window, retry budgets and a process-wide send rate.
package outbound

import (
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/zulandar/orderbot/internal/cart"
	"github.com/zulandar/orderbot/internal/catalog"
	"github.com/zulandar/orderbot/internal/checkout"
	"github.com/zulandar/orderbot/internal/config"
	"github.com/zulandar/orderbot/internal/conversation"
)

// Message is a rendered chat message: text plus tappable choices.
type Message struct {
	Text    string       `json:"text"`
	Choices []QuickReply `json:"choices,omitempty"`
}

// QuickReply is a tappable choice. Payload is sent back verbatim.
type QuickReply struct {
	Label   string `json:"label"`
	Payload string `json:"payload"`
}

var printer = message.NewPrinter(language.English)

// FormatMoney renders minor units in the currency's standard scale, for
// example "PHP 1,234.50" or "JPY 1,200".
func FormatMoney(amount cart.Money, code string) string {
	code = strings.ToUpper(code)
	scale := scaleOf(code)
	sign := ""
	if amount < 0 {
		sign = "-"
		amount = -amount
	}
	if scale == 0 {
		return printer.Sprintf("%s %s%d", code, sign, int64(amount))
	}
	pow := int64(1)
	for i := 0; i < scale; i++ {
		pow *= 10
	}
	major, minor := int64(amount)/pow, int64(amount)%pow
	return printer.Sprintf("%s %s%d", code, sign, major) + "." + fmt.Sprintf("%0*d", scale, minor)
}

// scaleOf returns the number of minor-unit digits of an ISO currency code.
// Unknown codes use two.
func scaleOf(code string) int {
	unit, err := currency.ParseISO(strings.ToUpper(code))
	if err != nil {
		return 2
	}
	scale, _ := currency.Standard.Rounding(unit)
	return scale
}

// Decimal renders minor units as a plain major-unit decimal such as
// "1234.50", the form delivery APIs expect.
func Decimal(amount cart.Money, code string) string {
	scale := scaleOf(code)
	v := int64(amount)
	sign := ""
	if v < 0 {
		sign = "-"
		v = -v
	}
	s := strconv.FormatInt(v, 10)
	if scale == 0 {
		return sign + s
	}
	if len(s) <= scale {
		s = strings.Repeat("0", scale-len(s)+1) + s
	}
	return sign + s[:len(s)-scale] + "." + s[len(s)-scale:]
}

func money(snap *catalog.Snapshot, m cart.Money) string {
	return FormatMoney(m, snap.Tenant.Currency)
}

// RenderReply renders one reply. Prompts render the question of the
// session's current state.
func RenderReply(r conversation.Reply, s *conversation.Session, snap *catalog.Snapshot) Message {
	if r.Kind == conversation.ReplyPrompt {
		return Render(s, snap)
	}
	return Message{Text: noticeText(r, s, snap)}
}

// RenderAll renders replies in order.
func RenderAll(replies []conversation.Reply, s *conversation.Session, snap *catalog.Snapshot) []Message {
	out := make([]Message, 0, len(replies))
	for _, r := range replies {
		out = append(out, RenderReply(r, s, snap))
	}
	return out
}

func noticeText(r conversation.Reply, s *conversation.Session, snap *catalog.Snapshot) string {
	switch r.Notice {
	case conversation.NoticeHelp:
		return "Sorry, I didn't catch that. Tap one of the options or type its number."
	case conversation.NoticeStartOver:
		return "No problem, let's start over."
	case conversation.NoticeItemUnavailable:
		return fmt.Sprintf("Sorry, %s is not available right now.", r.Detail)
	case conversation.NoticeAdded:
		return fmt.Sprintf("Added %s to your cart.", r.Detail)
	case conversation.NoticeQuantityLimit:
		return fmt.Sprintf("You can order at most %s of the same item.", r.Detail)
	case conversation.NoticeCartEmpty:
		return "Your cart is empty."
	case conversation.NoticeCartUpdated:
		return "Cart updated."
	case conversation.NoticeInvalidAnswer:
		return "That doesn't look right: " + r.Detail + "."
	case conversation.NoticeAnswerRequired:
		return fmt.Sprintf("%s is required.", r.Detail)
	case conversation.NoticeNoOrderTypes:
		return "Online ordering is not set up yet. Please contact the restaurant."
	case conversation.NoticeNoPaymentMethods:
		return "That option has no payment methods set up. Please choose another."
	case conversation.NoticeQuoteFailed:
		return "We couldn't get a delivery fee for that address. Please pick a payment method to try again, or go back and change the address."
	case conversation.NoticeQuoteManual:
		return "We couldn't calculate the delivery fee. The restaurant will confirm it with you."
	case conversation.NoticeQuoteRefreshed:
		return "The delivery fee was updated to " + money(snap, s.Checkout.DeliveryFee) + "."
	case conversation.NoticeOrderFailed:
		return "We couldn't place your order. Tap Place order to try again."
	case conversation.NoticeDeliveryBooked:
		return "A rider has been booked for your order."
	case conversation.NoticeDeliveryFailed:
		return "We couldn't book a rider automatically. The restaurant will arrange delivery."
	}
	return string(r.Notice)
}

// Render renders the prompt of the session's state. The numbered list
// matches the option order, so typed digits select the same choice.
func Render(s *conversation.Session, snap *catalog.Snapshot) Message {
	opts := conversation.Options(s, snap)
	var b strings.Builder
	b.WriteString(promptHeader(s, snap))

	if len(opts) > 0 {
		b.WriteString("\n")
	}
	choices := make([]QuickReply, 0, len(opts))
	for i, o := range opts {
		label := o.Label
		if o.Selected {
			label = "✓ " + label
		}
		line := label
		if o.ShowAmount && o.Amount != 0 {
			if s.State == conversation.StateSelectingVariation || s.State == conversation.StateSelectingAddons {
				line += " (+" + money(snap, o.Amount) + ")"
			} else {
				line += " " + money(snap, o.Amount)
			}
		}
		fmt.Fprintf(&b, "\n%d. %s", i+1, line)
		choices = append(choices, QuickReply{Label: label, Payload: o.Payload})
	}
	return Message{Text: b.String(), Choices: choices}
}

func promptHeader(s *conversation.Session, snap *catalog.Snapshot) string {
	switch s.State {
	case conversation.StateMenu:
		name := snap.Tenant.Name
		if name == "" {
			name = "us"
		}
		return fmt.Sprintf("Welcome to %s! What would you like to order?", name)

	case conversation.StateSelectingItem:
		if c, ok := snap.Category(s.BrowseCategory); ok {
			return c.Name + ": pick an item."
		}
		return "Pick an item."

	case conversation.StateSelectingVariation:
		g, _ := conversation.CurrentGroup(s, snap)
		return fmt.Sprintf("%s: choose a %s.", pendingName(s, snap), strings.ToLower(g.Name))

	case conversation.StateSelectingAddons:
		return fmt.Sprintf("Any add-ons for %s? Tap to add or remove, then Done.", pendingName(s, snap))

	case conversation.StateSelectingQuantity:
		return fmt.Sprintf("How many %s? Tap or type a number up to %d.", pendingName(s, snap), cart.MaxLineQuantity)

	case conversation.StateCart:
		return "Your cart:\n" + cartSummary(s, snap)

	case conversation.StateCheckoutOrderType:
		return "How would you like to get your order?"

	case conversation.StateCheckoutCustomer:
		f, ok := conversation.CurrentField(s, snap)
		if !ok {
			return "A few details for your order."
		}
		q := f.Label
		if f.Kind == config.FieldLocation {
			q += " (share your location or type the address)"
		}
		if !f.Required {
			q += " (optional)"
		}
		return q + "?"

	case conversation.StateCheckoutPayment:
		return "How will you pay?"

	case conversation.StateCheckoutConfirm:
		return confirmSummary(s, snap)

	case conversation.StateOrderConfirmed:
		if s.LastOrder == nil {
			return "Thank you for your order!"
		}
		return fmt.Sprintf("Thank you! Order %s is confirmed. Total: %s.", s.LastOrder.Ref, money(snap, s.LastOrder.Total))
	}
	return ""
}

func pendingName(s *conversation.Session, snap *catalog.Snapshot) string {
	if s.Pending != nil {
		if it, ok := snap.Item(s.Pending.ItemID); ok {
			return it.Name
		}
	}
	return "this item"
}

func cartSummary(s *conversation.Session, snap *catalog.Snapshot) string {
	var b strings.Builder
	for _, l := range s.Cart.Lines {
		fmt.Fprintf(&b, "%d × %s", l.Quantity, l.Name)
		if opts := checkout.LineOptions(l); opts != "" {
			b.WriteString(" (" + opts + ")")
		}
		b.WriteString("  " + money(snap, l.Subtotal) + "\n")
	}
	b.WriteString("Total: " + money(snap, cart.Total(s.Cart)))
	return b.String()
}

func confirmSummary(s *conversation.Session, snap *catalog.Snapshot) string {
	st := s.Checkout
	subtotal := cart.Total(s.Cart)

	var b strings.Builder
	b.WriteString("Please review your order:\n")
	b.WriteString(cartSummary(s, snap))

	ot, _ := snap.OrderType(st.OrderTypeID)
	b.WriteString("\n" + ot.Name)
	if ot.RequiresDelivery {
		if st.ManualDeliveryFee {
			b.WriteString("\nDelivery fee: to be confirmed")
		} else {
			b.WriteString("\nDelivery fee: " + money(snap, st.DeliveryFee))
		}
		b.WriteString("\nGrand total: " + money(snap, subtotal+st.DeliveryFee))
	}
	for _, f := range ot.Fields {
		if v := st.CollectedFields[f.ID]; v != "" {
			fmt.Fprintf(&b, "\n%s: %s", f.Label, v)
		}
	}
	if pm, ok := snap.PaymentMethod(st.PaymentMethodID); ok {
		b.WriteString("\nPayment: " + pm.Name)
		if pm.Instructions != "" {
			b.WriteString("\n" + pm.Instructions)
		}
	}
	return b.String()
}

// ParseMoney parses a major-unit amount such as "12.50" into minor units of
// the currency.
func ParseMoney(s, code string) (cart.Money, error) {
	scale := scaleOf(code)
	whole, frac, _ := strings.Cut(strings.TrimSpace(s), ".")
	if len(frac) > scale {
		return 0, fmt.Errorf("outbound: parse money %q: too many decimals for %s", s, code)
	}
	frac += strings.Repeat("0", scale-len(frac))
	v, err := strconv.ParseInt(whole+frac, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("outbound: parse money %q: %w", s, err)
	}
	return cart.Money(v), nil
}
