package conversation

import (
	"time"

	"github.com/zulandar/orderbot/internal/cart"
)

// Event is an input to Transition: a normalized chat event, or the outcome
// of a Command fed back by the caller.
type Event interface {
	isEvent()
}

// TextMessage is free text typed by the customer.
type TextMessage struct {
	Text string
}

// QuickReplyOrButton is a structured payload from a quick reply, postback
// or interactive button.
type QuickReplyOrButton struct {
	Payload string
}

// LocationAttachment is a shared location pin.
type LocationAttachment struct {
	Lat float64
	Lng float64
}

// QuoteReady reports a delivery quote.
type QuoteReady struct {
	Fee       cart.Money
	QuoteRef  string
	ExpiresAt time.Time
}

// QuoteFailed reports that no delivery quote could be obtained.
type QuoteFailed struct {
	Reason string
}

// OrderSubmitted reports that the ledger accepted the order.
type OrderSubmitted struct {
	Ref   string
	Total cart.Money
}

// OrderFailed reports that the ledger rejected or could not be reached.
type OrderFailed struct {
	Reason string
}

// DeliveryBooked reports a booked courier.
type DeliveryBooked struct {
	DeliveryRef string
}

// DeliveryFailed reports that courier booking failed.
type DeliveryFailed struct {
	Reason string
}

func (TextMessage) isEvent()        {}
func (QuickReplyOrButton) isEvent() {}
func (LocationAttachment) isEvent() {}
func (QuoteReady) isEvent()         {}
func (QuoteFailed) isEvent()        {}
func (OrderSubmitted) isEvent()     {}
func (OrderFailed) isEvent()        {}
func (DeliveryBooked) isEvent()     {}
func (DeliveryFailed) isEvent()     {}

// IsCommandResult reports whether ev is the outcome of a Command rather than
// customer input.
func IsCommandResult(ev Event) bool {
	switch ev.(type) {
	case QuoteReady, QuoteFailed, OrderSubmitted, OrderFailed, DeliveryBooked, DeliveryFailed:
		return true
	}
	return false
}

// Command is a side effect requested by Transition.
type Command interface {
	isCommand()
}

// RequestQuote asks the delivery provider for a fee to Dropoff. The caller
// answers with QuoteReady or QuoteFailed.
type RequestQuote struct {
	OrderTypeID string
	Dropoff     string
	Subtotal    cart.Money
}

// SubmitOrder records the session's cart and checkout in the ledger under
// IdempotencyKey. The caller answers with OrderSubmitted or OrderFailed.
type SubmitOrder struct {
	IdempotencyKey string
}

// BookDelivery books a courier for a confirmed order. The caller answers
// with DeliveryBooked or DeliveryFailed.
type BookDelivery struct {
	OrderRef string
	QuoteRef string
	Dropoff  string
	Fields   map[string]string
}

func (RequestQuote) isCommand() {}
func (SubmitOrder) isCommand()  {}
func (BookDelivery) isCommand() {}

// ReplyKind distinguishes notices from state prompts.
type ReplyKind int

const (
	// ReplyNotice is a one-off message.
	ReplyNotice ReplyKind = iota
	// ReplyPrompt asks the question of the resulting session's state.
	ReplyPrompt
)

// Notice identifies a one-off message. Rendering to text happens in the
// outbound package.
type Notice string

const (
	NoticeHelp             Notice = "help"
	NoticeStartOver        Notice = "start_over"
	NoticeItemUnavailable  Notice = "item_unavailable"
	NoticeAdded            Notice = "added"
	NoticeQuantityLimit    Notice = "quantity_limit"
	NoticeCartEmpty        Notice = "cart_empty"
	NoticeCartUpdated      Notice = "cart_updated"
	NoticeInvalidAnswer    Notice = "invalid_answer"
	NoticeAnswerRequired   Notice = "answer_required"
	NoticeNoOrderTypes     Notice = "no_order_types"
	NoticeNoPaymentMethods Notice = "no_payment_methods"
	NoticeQuoteFailed      Notice = "quote_failed"
	NoticeQuoteManual      Notice = "quote_manual"
	NoticeQuoteRefreshed   Notice = "quote_refreshed"
	NoticeOrderFailed      Notice = "order_failed"
	NoticeDeliveryBooked   Notice = "delivery_booked"
	NoticeDeliveryFailed   Notice = "delivery_failed"
)

// Reply is one outbound intent.
type Reply struct {
	Kind   ReplyKind
	Notice Notice
	Detail string
}

// Result is the outcome of one Transition.
type Result struct {
	Session  *Session
	Replies  []Reply
	Commands []Command
}
