package conversation

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/zulandar/orderbot/internal/cart"
	"github.com/zulandar/orderbot/internal/catalog"
	"github.com/zulandar/orderbot/internal/checkout"
	"github.com/zulandar/orderbot/internal/config"
)

var greetings = map[string]bool{"menu": true, "hi": true, "hello": true, "hey": true, "start": true}

var startOverWords = map[string]bool{"cancel": true, "start over": true, "restart": true}

// Transition applies one event to a session. The input session is never
// modified. Input that does not fit the current state produces a help notice
// and the current prompt, with the session unchanged.
func Transition(in *Session, ev Event, snap *catalog.Snapshot, now time.Time) (res Result) {
	if in == nil {
		in = NewSession(Key{}, now)
	}
	if snap == nil {
		snap = &catalog.Snapshot{}
	}
	defer func() {
		if r := recover(); r != nil {
			res = Result{Session: in.Clone(), Replies: helpReplies()}
		}
	}()

	s := in.Clone()
	if !s.State.Valid() {
		s.Reset()
	}
	if s.State == StateOrderConfirmed && !IsCommandResult(ev) {
		s.Reset()
	}
	m := &machine{base: s.Clone(), s: s, snap: snap, now: now}
	m.handle(ev)
	return Result{Session: m.s, Replies: m.replies, Commands: m.cmds}
}

func helpReplies() []Reply {
	return []Reply{{Kind: ReplyNotice, Notice: NoticeHelp}, {Kind: ReplyPrompt}}
}

type machine struct {
	base    *Session
	s       *Session
	snap    *catalog.Snapshot
	now     time.Time
	replies []Reply
	cmds    []Command
}

func (m *machine) notice(n Notice, detail string) {
	m.replies = append(m.replies, Reply{Kind: ReplyNotice, Notice: n, Detail: detail})
}

func (m *machine) prompt() {
	m.replies = append(m.replies, Reply{Kind: ReplyPrompt})
}

// help discards any change and re-asks the current question.
func (m *machine) help() {
	m.s = m.base.Clone()
	m.replies = helpReplies()
	m.cmds = nil
}

func (m *machine) handle(ev Event) {
	switch e := ev.(type) {
	case TextMessage:
		m.text(e.Text)
	case QuickReplyOrButton:
		m.payload(e.Payload)
	case LocationAttachment:
		if m.s.State != StateCheckoutCustomer || !m.locationAnswer(e.Lat, e.Lng) {
			m.help()
		}
	case QuoteReady:
		m.quoteReady(e)
	case QuoteFailed:
		m.quoteFailed(e)
	case OrderSubmitted:
		m.orderSubmitted(e)
	case OrderFailed:
		if m.s.State == StateCheckoutConfirm {
			m.notice(NoticeOrderFailed, e.Reason)
			m.prompt()
		}
	case DeliveryBooked:
		if m.s.State == StateOrderConfirmed {
			m.notice(NoticeDeliveryBooked, e.DeliveryRef)
		}
	case DeliveryFailed:
		if m.s.State == StateOrderConfirmed {
			m.notice(NoticeDeliveryFailed, e.Reason)
		}
	default:
		m.help()
	}
}

func (m *machine) text(raw string) {
	norm := strings.ToLower(strings.Join(strings.Fields(raw), " "))
	if startOverWords[norm] {
		m.startOver()
		return
	}

	if m.s.State == StateCheckoutCustomer {
		if f, ok := CurrentField(m.s, m.snap); ok && f.Kind != config.FieldChoice {
			switch {
			case norm == "back":
				m.payload(PayloadBack)
			case norm == "skip" && !f.Required:
				m.payload(PayloadSkip)
			default:
				m.answer(raw)
			}
			return
		}
	}

	if norm == "back" {
		m.payload(PayloadBack)
		return
	}
	if m.s.State == StateMenu && greetings[norm] {
		m.prompt()
		return
	}

	if n, err := strconv.Atoi(norm); err == nil {
		if m.s.State == StateSelectingQuantity {
			m.payload(PayloadQuantity + ":" + norm)
			return
		}
		opts := Options(m.s, m.snap)
		if n >= 1 && n <= len(opts) {
			m.payload(opts[n-1].Payload)
			return
		}
		m.help()
		return
	}

	for _, o := range Options(m.s, m.snap) {
		if strings.EqualFold(o.Label, norm) {
			m.payload(o.Payload)
			return
		}
	}
	if m.s.State == StateCheckoutCustomer {
		m.answer(raw)
		return
	}
	if norm == "menu" {
		m.payload(PayloadMenu)
		return
	}
	m.help()
}

func splitPayload(p string) (verb, arg string) {
	verb, arg, _ = strings.Cut(strings.TrimSpace(p), ":")
	return strings.ToUpper(verb), arg
}

func (m *machine) payload(p string) {
	verb, arg := splitPayload(p)
	switch verb {
	case PayloadStartOver, PayloadCancel:
		m.startOver()
		return
	case PayloadMenu:
		m.goMenu()
		return
	case PayloadCart:
		m.showCart()
		return
	}

	var ok bool
	switch m.s.State {
	case StateMenu:
		ok = m.browse(verb, arg)
	case StateSelectingItem:
		ok = m.selectingItem(verb, arg)
	case StateSelectingVariation:
		ok = m.selectingVariation(verb, arg)
	case StateSelectingAddons:
		ok = m.selectingAddons(verb, arg)
	case StateSelectingQuantity:
		ok = m.selectingQuantity(verb, arg)
	case StateCart:
		ok = m.cartAction(verb, arg)
	case StateCheckoutOrderType:
		ok = m.orderType(verb, arg)
	case StateCheckoutCustomer:
		ok = m.customer(verb, arg)
	case StateCheckoutPayment:
		ok = m.payment(verb, arg)
	case StateCheckoutConfirm:
		ok = m.confirm(verb)
	}
	if !ok {
		m.help()
	}
}

// ---------------------------------------------------------------------------
// Navigation
// ---------------------------------------------------------------------------

func (m *machine) startOver() {
	m.s.Reset()
	m.notice(NoticeStartOver, "")
	m.prompt()
}

func (m *machine) goMenu() {
	m.s.State = StateMenu
	m.s.Pending = nil
	m.s.BrowseCategory = ""
	m.s.Checkout = checkout.State{}
	m.prompt()
}

func (m *machine) showCart() {
	if m.s.Cart.Empty() {
		m.notice(NoticeCartEmpty, "")
		m.prompt()
		return
	}
	m.s.State = StateCart
	m.s.Pending = nil
	m.s.Checkout = checkout.State{}
	m.prompt()
}

func (m *machine) showCategory(id string) bool {
	if _, ok := m.snap.Category(id); !ok {
		return false
	}
	m.s.State = StateSelectingItem
	m.s.BrowseCategory = id
	m.s.Pending = nil
	m.prompt()
	return true
}

// browse handles the actions available wherever the menu is on screen.
func (m *machine) browse(verb, arg string) bool {
	switch verb {
	case PayloadCategory:
		return m.showCategory(arg)
	case PayloadItem:
		return m.selectItem(arg)
	case PayloadCheckout:
		if m.s.Cart.Empty() {
			return false
		}
		m.beginCheckout()
		return true
	}
	return false
}

// ---------------------------------------------------------------------------
// Item configuration
// ---------------------------------------------------------------------------

func (m *machine) selectItem(id string) bool {
	item, ok := m.snap.Item(id)
	if !ok {
		return false
	}
	if !item.Available {
		m.notice(NoticeItemUnavailable, item.Name)
		m.prompt()
		return true
	}
	m.s.Pending = &Pending{ItemID: item.ID, Variations: map[string]string{}}
	m.s.BrowseCategory = item.CategoryID
	m.advanceSelection(item)
	m.prompt()
	return true
}

func (m *machine) advanceSelection(item catalog.Item) {
	switch {
	case hasOpenGroup(item, m.s.Pending):
		m.s.State = StateSelectingVariation
	case len(item.Addons) > 0:
		m.s.State = StateSelectingAddons
	default:
		m.s.State = StateSelectingQuantity
	}
}

func hasOpenGroup(item catalog.Item, p *Pending) bool {
	for _, g := range item.Groups {
		if _, done := p.Variations[g.ID]; !done {
			return true
		}
	}
	return false
}

// pendingItem returns the item being configured. When it has disappeared
// from the catalog or become unavailable the selection is abandoned.
func (m *machine) pendingItem() (catalog.Item, bool) {
	if m.s.Pending == nil {
		m.backToBrowse()
		return catalog.Item{}, false
	}
	item, ok := m.snap.Item(m.s.Pending.ItemID)
	if ok && item.Available {
		if m.s.Pending.Variations == nil {
			m.s.Pending.Variations = map[string]string{}
		}
		return item, true
	}
	name := m.s.Pending.ItemID
	if ok {
		name = item.Name
	}
	m.notice(NoticeItemUnavailable, name)
	m.backToBrowse()
	return catalog.Item{}, false
}

// backToBrowse drops the selection and lists the current category, or the
// menu when there is none.
func (m *machine) backToBrowse() {
	m.s.Pending = nil
	if _, ok := m.snap.Category(m.s.BrowseCategory); ok {
		m.s.State = StateSelectingItem
	} else {
		m.s.State = StateMenu
		m.s.BrowseCategory = ""
	}
	m.prompt()
}

// dropLastVariation un-answers the last answered variation group.
func (m *machine) dropLastVariation(item catalog.Item) bool {
	for i := len(item.Groups) - 1; i >= 0; i-- {
		gid := item.Groups[i].ID
		if _, done := m.s.Pending.Variations[gid]; done {
			delete(m.s.Pending.Variations, gid)
			return true
		}
	}
	return false
}

func (m *machine) backToItems() {
	m.s.Pending = nil
	m.s.State = StateSelectingItem
	m.prompt()
}

func (m *machine) selectingItem(verb, arg string) bool {
	if verb == PayloadBack {
		m.goMenu()
		return true
	}
	return m.browse(verb, arg)
}

func (m *machine) selectingVariation(verb, arg string) bool {
	if verb == PayloadCategory {
		return m.showCategory(arg)
	}
	item, ok := m.pendingItem()
	if !ok {
		return true
	}
	switch verb {
	case PayloadVariation:
		gid, oid, found := strings.Cut(arg, ":")
		if !found {
			return false
		}
		g, ok := item.Group(gid)
		if !ok {
			return false
		}
		if _, ok := g.Option(oid); !ok {
			return false
		}
		m.s.Pending.Variations[gid] = oid
		m.advanceSelection(item)
		m.prompt()
		return true
	case PayloadBack:
		if m.dropLastVariation(item) {
			m.prompt()
			return true
		}
		m.backToItems()
		return true
	}
	return false
}

func (m *machine) selectingAddons(verb, arg string) bool {
	if verb == PayloadCategory {
		return m.showCategory(arg)
	}
	item, ok := m.pendingItem()
	if !ok {
		return true
	}
	switch verb {
	case PayloadAddon:
		if _, ok := item.Addon(arg); !ok {
			return false
		}
		p := m.s.Pending
		if p.HasAddon(arg) {
			kept := p.Addons[:0]
			for _, a := range p.Addons {
				if a != arg {
					kept = append(kept, a)
				}
			}
			p.Addons = kept
		} else {
			p.Addons = append(p.Addons, arg)
		}
		m.prompt()
		return true
	case PayloadAddonsDone:
		m.s.State = StateSelectingQuantity
		m.prompt()
		return true
	case PayloadBack:
		m.s.Pending.Addons = nil
		if m.dropLastVariation(item) {
			m.s.State = StateSelectingVariation
			m.prompt()
			return true
		}
		m.backToItems()
		return true
	}
	return false
}

func (m *machine) selectingQuantity(verb, arg string) bool {
	if verb == PayloadCategory {
		return m.showCategory(arg)
	}
	item, ok := m.pendingItem()
	if !ok {
		return true
	}
	switch verb {
	case PayloadQuantity:
		n, err := strconv.Atoi(arg)
		if err != nil || n < 1 {
			return false
		}
		if n > cart.MaxLineQuantity {
			m.notice(NoticeQuantityLimit, strconv.Itoa(cart.MaxLineQuantity))
			m.prompt()
			return true
		}
		return m.addPending(item, n)
	case PayloadBack:
		switch {
		case len(item.Addons) > 0:
			m.s.State = StateSelectingAddons
		case m.dropLastVariation(item):
			m.s.State = StateSelectingVariation
		default:
			m.backToItems()
			return true
		}
		m.prompt()
		return true
	}
	return false
}

func (m *machine) addPending(item catalog.Item, qty int) bool {
	spec := cart.ItemSpec{
		MenuItemID: item.ID,
		Name:       item.Name,
		BasePrice:  item.Price,
		Variations: map[string]cart.VariationChoice{},
		Quantity:   qty,
	}
	var names []string
	for _, g := range item.Groups {
		oid, done := m.s.Pending.Variations[g.ID]
		if !done {
			return false
		}
		o, ok := g.Option(oid)
		if !ok {
			return false
		}
		spec.Variations[g.ID] = cart.VariationChoice{
			GroupID:       g.ID,
			GroupName:     g.Name,
			OptionID:      o.ID,
			OptionName:    o.Name,
			PriceModifier: o.PriceModifier,
		}
		names = append(names, o.Name)
	}
	for _, id := range m.s.Pending.Addons {
		if a, ok := item.Addon(id); ok {
			spec.Addons = append(spec.Addons, cart.AddonChoice{ID: a.ID, Name: a.Name, Price: a.Price})
		}
	}

	c, err := cart.AddOrMergeLine(m.s.Cart, spec)
	if errors.Is(err, cart.ErrQuantityLimit) {
		m.notice(NoticeQuantityLimit, strconv.Itoa(cart.MaxLineQuantity))
		m.prompt()
		return true
	}
	if err != nil {
		return false
	}
	label := item.Name
	if len(names) > 0 {
		label += " (" + strings.Join(names, ", ") + ")"
	}
	m.s.Cart = c
	m.s.Pending = nil
	m.s.State = StateCart
	m.notice(NoticeAdded, fmt.Sprintf("%d × %s", qty, label))
	m.prompt()
	return true
}

// ---------------------------------------------------------------------------
// Cart
// ---------------------------------------------------------------------------

func (m *machine) cartAction(verb, arg string) bool {
	switch verb {
	case PayloadCheckout:
		if m.s.Cart.Empty() {
			return false
		}
		m.beginCheckout()
		return true
	case PayloadCategory:
		return m.showCategory(arg)
	case PayloadIncrement, PayloadDecrement, PayloadRemove:
		l, ok := m.s.Cart.Find(arg)
		if !ok {
			return false
		}
		qty := 0
		switch verb {
		case PayloadIncrement:
			qty = l.Quantity + 1
		case PayloadDecrement:
			qty = l.Quantity - 1
		}
		c, err := cart.UpdateQuantity(m.s.Cart, l.ID, qty)
		if errors.Is(err, cart.ErrQuantityLimit) {
			m.notice(NoticeQuantityLimit, strconv.Itoa(cart.MaxLineQuantity))
			m.prompt()
			return true
		}
		if err != nil {
			return false
		}
		m.s.Cart = c
		m.afterCartChange()
		return true
	case PayloadClearCart:
		m.s.Cart = cart.Cart{}
		m.afterCartChange()
		return true
	}
	return false
}

func (m *machine) afterCartChange() {
	if m.s.Cart.Empty() {
		m.s.State = StateMenu
		m.notice(NoticeCartEmpty, "")
		m.prompt()
		return
	}
	m.notice(NoticeCartUpdated, "")
	m.prompt()
}

// ---------------------------------------------------------------------------
// Checkout
// ---------------------------------------------------------------------------

func (m *machine) beginCheckout() {
	if len(m.snap.OrderTypes) == 0 {
		m.notice(NoticeNoOrderTypes, "")
		m.prompt()
		return
	}
	m.s.State = StateCheckoutOrderType
	m.s.Pending = nil
	m.s.Checkout = checkout.State{}
	m.prompt()
}

func (m *machine) orderType(verb, arg string) bool {
	switch verb {
	case PayloadOrderType:
		if _, ok := m.snap.OrderType(arg); !ok {
			return false
		}
		if len(m.snap.PaymentMethodsFor(arg)) == 0 {
			m.notice(NoticeNoPaymentMethods, "")
			m.prompt()
			return true
		}
		m.s.Checkout = checkout.State{OrderTypeID: arg, CollectedFields: map[string]string{}}
		m.nextField()
		return true
	case PayloadBack:
		m.s.Checkout = checkout.State{}
		m.s.State = StateCart
		m.prompt()
		return true
	}
	return false
}

// nextField asks the next unanswered field, or moves to payment once every
// field has an answer.
func (m *machine) nextField() {
	fields, _ := checkout.RequiredFields(m.snap, m.s.Checkout.OrderTypeID)
	if f, ok := checkout.NextUnansweredField(fields, m.s.Checkout); ok {
		m.s.State = StateCheckoutCustomer
		m.s.Checkout.CurrentField = f.ID
		m.prompt()
		return
	}
	m.s.Checkout.CurrentField = ""
	m.s.State = StateCheckoutPayment
	m.prompt()
}

func (m *machine) store(fieldID, value string) {
	if m.s.Checkout.CollectedFields == nil {
		m.s.Checkout.CollectedFields = map[string]string{}
	}
	m.s.Checkout.CollectedFields[fieldID] = value
	m.nextField()
}

func (m *machine) answer(raw string) {
	f, ok := CurrentField(m.s, m.snap)
	if !ok {
		m.nextField()
		return
	}
	v, err := checkout.Validate(f, raw)
	if err != nil {
		reason := err.Error()
		var ve *checkout.ValidationError
		if errors.As(err, &ve) {
			reason = ve.Reason
		}
		m.notice(NoticeInvalidAnswer, reason)
		m.prompt()
		return
	}
	m.store(f.ID, v)
}

func (m *machine) locationAnswer(lat, lng float64) bool {
	f, ok := CurrentField(m.s, m.snap)
	if !ok || f.Kind != config.FieldLocation {
		return false
	}
	v, err := checkout.ValidateLocation(f, lat, lng)
	if err != nil {
		var ve *checkout.ValidationError
		if errors.As(err, &ve) {
			m.notice(NoticeInvalidAnswer, ve.Reason)
			m.prompt()
			return true
		}
		return false
	}
	m.store(f.ID, v)
	return true
}

// askField clears the answer to fieldID and asks it again.
func (m *machine) askField(fieldID string) {
	delete(m.s.Checkout.CollectedFields, fieldID)
	m.s.Checkout.CurrentField = fieldID
	m.s.State = StateCheckoutCustomer
	m.prompt()
}

func (m *machine) backToOrderType() {
	m.s.Checkout = checkout.State{}
	m.s.State = StateCheckoutOrderType
	m.prompt()
}

func (m *machine) customer(verb, arg string) bool {
	f, ok := CurrentField(m.s, m.snap)
	if !ok {
		m.nextField()
		return true
	}
	switch verb {
	case PayloadAnswer:
		m.answer(arg)
		return true
	case PayloadSkip:
		if f.Required {
			m.notice(NoticeAnswerRequired, f.Label)
			m.prompt()
			return true
		}
		m.store(f.ID, "")
		return true
	case PayloadBack:
		fields, _ := checkout.RequiredFields(m.snap, m.s.Checkout.OrderTypeID)
		for i, ff := range fields {
			if ff.ID == f.ID && i > 0 {
				m.askField(fields[i-1].ID)
				return true
			}
		}
		m.backToOrderType()
		return true
	}
	return false
}

func (m *machine) payment(verb, arg string) bool {
	switch verb {
	case PayloadPay:
		var found bool
		for _, pm := range m.snap.PaymentMethodsFor(m.s.Checkout.OrderTypeID) {
			found = found || pm.ID == arg
		}
		if !found {
			return false
		}
		fields, _ := checkout.RequiredFields(m.snap, m.s.Checkout.OrderTypeID)
		if !checkout.Complete(fields, m.s.Checkout) {
			m.nextField()
			return true
		}
		m.s.Checkout.PaymentMethodID = arg
		m.s.Checkout.ClearQuote()
		if m.requiresDelivery() {
			m.cmds = append(m.cmds, m.quoteRequest())
			return true
		}
		m.enterConfirm()
		return true
	case PayloadBack:
		fields, _ := checkout.RequiredFields(m.snap, m.s.Checkout.OrderTypeID)
		if len(fields) == 0 {
			m.backToOrderType()
			return true
		}
		m.askField(fields[len(fields)-1].ID)
		return true
	}
	return false
}

func (m *machine) requiresDelivery() bool {
	ot, ok := m.snap.OrderType(m.s.Checkout.OrderTypeID)
	return ok && ot.RequiresDelivery
}

// dropoff returns the answer of the first location field.
func (m *machine) dropoff() string {
	fields, _ := checkout.RequiredFields(m.snap, m.s.Checkout.OrderTypeID)
	for _, f := range fields {
		if f.Kind == config.FieldLocation {
			return m.s.Checkout.CollectedFields[f.ID]
		}
	}
	return ""
}

func (m *machine) quoteRequest() RequestQuote {
	return RequestQuote{
		OrderTypeID: m.s.Checkout.OrderTypeID,
		Dropoff:     m.dropoff(),
		Subtotal:    cart.Total(m.s.Cart),
	}
}

// enterConfirm moves to checkout_confirm. A re-quote while already confirming
// keeps the order key, since an earlier submit may have committed.
func (m *machine) enterConfirm() {
	if m.s.State != StateCheckoutConfirm || m.s.Checkout.IdempotencyKey == "" {
		m.s.Checkout.IdempotencyKey = m.orderKey()
	}
	m.s.State = StateCheckoutConfirm
	m.prompt()
}

func (m *machine) orderKey() string {
	return checkout.IdempotencyKey(m.s.TenantID, m.s.Channel, m.s.SenderID, m.s.Epoch, m.s.Version)
}

func (m *machine) awaitingQuote() bool {
	switch m.s.State {
	case StateCheckoutPayment:
		return m.s.Checkout.PaymentMethodID != ""
	case StateCheckoutConfirm:
		return true
	}
	return false
}

func (m *machine) quoteReady(e QuoteReady) {
	if !m.awaitingQuote() {
		return
	}
	requote := m.s.State == StateCheckoutConfirm
	m.s.Checkout.ManualDeliveryFee = false
	m.s.Checkout.DeliveryFee = e.Fee
	m.s.Checkout.QuoteRef = e.QuoteRef
	m.s.Checkout.QuoteExpiresAt = e.ExpiresAt
	if requote {
		m.notice(NoticeQuoteRefreshed, "")
	}
	m.enterConfirm()
}

func (m *machine) quoteFailed(e QuoteFailed) {
	if !m.awaitingQuote() {
		return
	}
	m.s.Checkout.ClearQuote()
	if m.snap.Tenant.ManualQuoteFallback() {
		m.s.Checkout.ManualDeliveryFee = true
		m.notice(NoticeQuoteManual, e.Reason)
		m.enterConfirm()
		return
	}
	m.s.Checkout.PaymentMethodID = ""
	m.s.Checkout.IdempotencyKey = ""
	m.s.State = StateCheckoutPayment
	m.notice(NoticeQuoteFailed, e.Reason)
	m.prompt()
}

func (m *machine) confirm(verb string) bool {
	switch verb {
	case PayloadConfirm:
		if m.s.Cart.Empty() {
			m.s.Reset()
			m.notice(NoticeCartEmpty, "")
			m.prompt()
			return true
		}
		fields, _ := checkout.RequiredFields(m.snap, m.s.Checkout.OrderTypeID)
		if !checkout.Complete(fields, m.s.Checkout) {
			m.nextField()
			return true
		}
		if m.requiresDelivery() && m.s.Checkout.QuoteExpired(m.now) {
			m.s.Checkout.ClearQuote()
			m.cmds = append(m.cmds, m.quoteRequest())
			return true
		}
		if m.s.Checkout.IdempotencyKey == "" {
			m.s.Checkout.IdempotencyKey = m.orderKey()
		}
		m.cmds = append(m.cmds, SubmitOrder{IdempotencyKey: m.s.Checkout.IdempotencyKey})
		return true
	case PayloadBack:
		m.s.Checkout.PaymentMethodID = ""
		m.s.Checkout.IdempotencyKey = ""
		m.s.Checkout.ClearQuote()
		m.s.State = StateCheckoutPayment
		m.prompt()
		return true
	}
	return false
}

func (m *machine) orderSubmitted(e OrderSubmitted) {
	if m.s.State != StateCheckoutConfirm {
		return
	}
	st := m.s.Checkout
	book := m.requiresDelivery() && !st.ManualDeliveryFee && st.QuoteRef != ""
	cmd := BookDelivery{
		OrderRef: e.Ref,
		QuoteRef: st.QuoteRef,
		Dropoff:  m.dropoff(),
		Fields:   st.Clone().CollectedFields,
	}

	m.s.LastOrder = &LastOrder{Ref: e.Ref, Total: e.Total}
	m.s.Cart = cart.Cart{}
	m.s.Checkout = checkout.State{}
	m.s.Pending = nil
	m.s.BrowseCategory = ""
	m.s.State = StateOrderConfirmed
	m.prompt()
	if book {
		m.cmds = append(m.cmds, cmd)
	}
}
