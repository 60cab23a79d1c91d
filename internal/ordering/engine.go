// Package ordering is the imperative shell around the conversation state
// machine. For each inbound chat event it loads the sender's session, runs
// the transition, executes the requested side effects (delivery quotes,
// order submission, courier booking) feeding their outcomes back in, swaps
// the new session in with optimistic concurrency, and hands the replies to
// the outbound dispatcher.
package ordering

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/zulandar/orderbot/internal/catalog"
	"github.com/zulandar/orderbot/internal/checkout"
	"github.com/zulandar/orderbot/internal/conversation"
	"github.com/zulandar/orderbot/internal/delivery"
	"github.com/zulandar/orderbot/internal/metrics"
	"github.com/zulandar/orderbot/internal/outbound"
	"github.com/zulandar/orderbot/internal/platform"
	"github.com/zulandar/orderbot/internal/session"
)

const (
	defaultMaxRetries     = 5
	defaultCommandTimeout = 10 * time.Second
	// maxCommandRounds bounds command chains such as
	// SubmitOrder -> OrderSubmitted -> BookDelivery -> DeliveryBooked.
	maxCommandRounds = 4
)

// ErrRetriesExhausted is returned when every CAS attempt conflicted.
var ErrRetriesExhausted = errors.New("ordering: session conflict retries exhausted")

// Event outcomes recorded in metrics.
const (
	OutcomeApplied   = "applied"
	OutcomeDuplicate = "duplicate"
	OutcomeConflict  = "conflict_exhausted"
	OutcomeError     = "error"
)

// EngineOpts configures an Engine.
type EngineOpts struct {
	Sessions   session.Store
	Catalog    catalog.Source
	Orders     *checkout.Orchestrator
	Dispatcher *outbound.Dispatcher
	// Quotes prices deliveries. Nil fails every quote, which the tenant's
	// quote fallback then handles.
	Quotes delivery.QuoteProvider
	// Couriers books deliveries. Nil flags delivery orders for follow-up.
	Couriers       delivery.DeliveryOrderProvider
	Metrics        *metrics.Metrics
	MaxRetries     int
	CommandTimeout time.Duration
	Now            func() time.Time
}

// Engine processes normalized chat events. It is safe for concurrent use;
// callers serialize events of one sender to keep their order.
type Engine struct {
	sessions   session.Store
	catalog    catalog.Source
	orders     *checkout.Orchestrator
	dispatcher *outbound.Dispatcher
	quotes     delivery.QuoteProvider
	couriers   delivery.DeliveryOrderProvider
	metrics    *metrics.Metrics
	maxRetries int
	cmdTimeout time.Duration
	now        func() time.Time
}

// NewEngine returns an Engine.
func NewEngine(opts EngineOpts) (*Engine, error) {
	if opts.Sessions == nil {
		return nil, fmt.Errorf("ordering: engine: session store is required")
	}
	if opts.Catalog == nil {
		return nil, fmt.Errorf("ordering: engine: catalog source is required")
	}
	if opts.Orders == nil {
		return nil, fmt.Errorf("ordering: engine: order orchestrator is required")
	}
	if opts.Dispatcher == nil {
		return nil, fmt.Errorf("ordering: engine: dispatcher is required")
	}
	e := &Engine{
		sessions:   opts.Sessions,
		catalog:    opts.Catalog,
		orders:     opts.Orders,
		dispatcher: opts.Dispatcher,
		quotes:     opts.Quotes,
		couriers:   opts.Couriers,
		metrics:    opts.Metrics,
		maxRetries: opts.MaxRetries,
		cmdTimeout: opts.CommandTimeout,
		now:        opts.Now,
	}
	if e.maxRetries <= 0 {
		e.maxRetries = defaultMaxRetries
	}
	if e.cmdTimeout <= 0 {
		e.cmdTimeout = defaultCommandTimeout
	}
	if e.now == nil {
		e.now = time.Now
	}
	return e, nil
}

// Handle applies one inbound event from channel for tenantID. A redelivered
// event that was already applied is absorbed without replies.
func (e *Engine) Handle(ctx context.Context, tenantID, channel string, in platform.Inbound) error {
	key := conversation.Key{TenantID: tenantID, Channel: channel, SenderID: in.SenderID}
	if in.EventID == "" {
		in.EventID = "local-" + uuid.NewString()
	}

	seen, err := e.sessions.Seen(ctx, key, in.EventID)
	if err != nil {
		e.metrics.Event(OutcomeError)
		return fmt.Errorf("ordering: %s: %w", key, err)
	}
	if seen {
		log.Printf("ordering: %s: event %s already applied", key, in.EventID)
		e.metrics.Event(OutcomeDuplicate)
		return nil
	}

	snap, err := catalog.Load(ctx, e.catalog, tenantID)
	if err != nil {
		e.metrics.Event(OutcomeError)
		return fmt.Errorf("ordering: %s: %w", key, err)
	}

	memo := map[string]conversation.Event{}
	var res conversation.Result
	var now time.Time
	applied := false
	for attempt := 0; attempt < e.maxRetries; attempt++ {
		s, err := e.sessions.Load(ctx, key)
		if err != nil {
			e.metrics.Event(OutcomeError)
			return fmt.Errorf("ordering: %s: %w", key, err)
		}
		expected := s.Version
		now = e.now()

		res = e.apply(ctx, s, in.Event, snap, now, memo)
		next := res.Session
		next.LastEventID = in.EventID
		next.LastInboundAt = now
		next.UpdatedAt = now

		err = e.sessions.CompareAndSwap(ctx, next, expected)
		switch {
		case err == nil:
			applied = true
		case errors.Is(err, session.ErrDuplicate):
			// Another worker applied the same event first.
			e.metrics.Event(OutcomeDuplicate)
			return nil
		case errors.Is(err, session.ErrConflict):
			e.metrics.Conflict()
			log.Printf("ordering: %s: version %d is stale (attempt %d/%d), reloading", key, expected, attempt+1, e.maxRetries)
			continue
		default:
			e.metrics.Event(OutcomeError)
			return fmt.Errorf("ordering: %s: %w", key, err)
		}
		break
	}
	if !applied {
		e.metrics.Event(OutcomeConflict)
		return fmt.Errorf("ordering: %s: %w", key, ErrRetriesExhausted)
	}
	e.metrics.Event(OutcomeApplied)

	// Replies go out only after the session is durable. Held messages go
	// first so the sender sees them in order.
	if _, err := e.dispatcher.Flush(ctx, snap.Tenant, key, now); err != nil {
		log.Printf("ordering: %s: flush pending: %v", key, err)
	}
	msgs := outbound.RenderAll(res.Replies, res.Session, snap)
	batch := make([]outbound.Outbound, 0, len(msgs))
	for _, m := range msgs {
		batch = append(batch, outbound.Outbound{Recipient: key, Message: m, RequiresWindow: true})
	}
	if err := e.dispatcher.Deliver(ctx, snap.Tenant, now, batch); err != nil {
		return fmt.Errorf("ordering: %s: %w", key, err)
	}
	return nil
}

// apply runs the transition and executes its commands, feeding each outcome
// back into the machine. memo carries command outcomes across CAS retries
// so a reapplied event does not repeat side effects.
func (e *Engine) apply(ctx context.Context, s *conversation.Session, ev conversation.Event, snap *catalog.Snapshot, now time.Time, memo map[string]conversation.Event) conversation.Result {
	res := conversation.Transition(s, ev, snap, now)
	cur := res.Session
	replies := res.Replies
	cmds := res.Commands

	for round := 0; len(cmds) > 0; round++ {
		if round == maxCommandRounds {
			log.Printf("ordering: %s: dropping %d commands past round %d", cur.Key(), len(cmds), maxCommandRounds)
			break
		}
		var next []conversation.Command
		for _, cmd := range cmds {
			id := commandID(cmd)
			out, ok := memo[id]
			if !ok {
				out = e.execute(ctx, cur, cmd, snap, now)
				memo[id] = out
			}
			r := conversation.Transition(cur, out, snap, now)
			cur = r.Session
			replies = append(replies, r.Replies...)
			next = append(next, r.Commands...)
		}
		cmds = next
	}
	return conversation.Result{Session: cur, Replies: collapsePrompts(replies)}
}

// collapsePrompts keeps only the last prompt. Prompts render the final
// session, so earlier ones would repeat it.
func collapsePrompts(replies []conversation.Reply) []conversation.Reply {
	last := -1
	for i, r := range replies {
		if r.Kind == conversation.ReplyPrompt {
			last = i
		}
	}
	out := make([]conversation.Reply, 0, len(replies))
	for i, r := range replies {
		if r.Kind == conversation.ReplyPrompt && i != last {
			continue
		}
		out = append(out, r)
	}
	return out
}

func commandID(cmd conversation.Command) string {
	switch c := cmd.(type) {
	case conversation.RequestQuote:
		return fmt.Sprintf("quote:%s:%s:%d", c.OrderTypeID, c.Dropoff, c.Subtotal)
	case conversation.SubmitOrder:
		return "submit:" + c.IdempotencyKey
	case conversation.BookDelivery:
		return "book:" + c.OrderRef
	}
	return fmt.Sprintf("%T:%v", cmd, cmd)
}
