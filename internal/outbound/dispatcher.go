package outbound

import (
	"context"
	"fmt"
	"log"
	"math"
	"time"

	"golang.org/x/time/rate"

	"github.com/zulandar/orderbot/internal/catalog"
	"github.com/zulandar/orderbot/internal/conversation"
	"github.com/zulandar/orderbot/internal/metrics"
)

const (
	defaultMaxAttempts = 3
	defaultBaseBackoff = 500 * time.Millisecond
	defaultCooldown    = 5 * time.Second
	maxBackoff         = 30 * time.Second
)

// Outbound is one message bound for one conversation. RequiresWindow marks
// messages the provider only accepts inside the reactive window.
type Outbound struct {
	Recipient      conversation.Key
	Message        Message
	RequiresWindow bool
}

// DispatcherOpts configures a Dispatcher.
type DispatcherOpts struct {
	Senders map[string]Sender // by channel
	Pending PendingStore
	// Windows is the reactive window per channel. Channels without an
	// entry have no window.
	Windows           map[string]time.Duration
	MaxAttempts       int
	BaseBackoff       time.Duration
	RateLimitCooldown time.Duration
	Limiter           *rate.Limiter // nil sends unthrottled
	Metrics           *metrics.Metrics
	Now               func() time.Time
}

// Dispatcher sends rendered messages. Sends to one recipient happen in
// order; once a message is held as pending, later messages to that
// recipient are held behind it until Flush drains the queue.
type Dispatcher struct {
	senders     map[string]Sender
	pending     PendingStore
	windows     map[string]time.Duration
	maxAttempts int
	backoff     time.Duration
	cooldown    time.Duration
	limiter     *rate.Limiter
	metrics     *metrics.Metrics
	now         func() time.Time
}

// NewDispatcher returns a Dispatcher.
func NewDispatcher(opts DispatcherOpts) (*Dispatcher, error) {
	if len(opts.Senders) == 0 {
		return nil, fmt.Errorf("outbound: dispatcher: at least one sender is required")
	}
	if opts.Pending == nil {
		return nil, fmt.Errorf("outbound: dispatcher: pending store is required")
	}
	d := &Dispatcher{
		senders:     opts.Senders,
		pending:     opts.Pending,
		windows:     opts.Windows,
		maxAttempts: opts.MaxAttempts,
		backoff:     opts.BaseBackoff,
		cooldown:    opts.RateLimitCooldown,
		limiter:     opts.Limiter,
		metrics:     opts.Metrics,
		now:         opts.Now,
	}
	if d.maxAttempts <= 0 {
		d.maxAttempts = defaultMaxAttempts
	}
	if d.backoff <= 0 {
		d.backoff = defaultBaseBackoff
	}
	if d.cooldown <= 0 {
		d.cooldown = defaultCooldown
	}
	if d.now == nil {
		d.now = time.Now
	}
	return d, nil
}

// WindowOpen reports whether a message may be sent on channel to a sender
// whose last inbound message arrived at lastInbound.
func (d *Dispatcher) WindowOpen(channel string, lastInbound time.Time) bool {
	w, ok := d.windows[channel]
	if !ok || w <= 0 {
		return true
	}
	return !lastInbound.IsZero() && d.now().Sub(lastInbound) <= w
}

// Deliver sends msgs in order. Messages that cannot be sent now are held as
// pending; only pending-store failures are returned. A recipient that already
// has held messages gets the whole batch queued behind them.
func (d *Dispatcher) Deliver(ctx context.Context, tenant catalog.Tenant, lastInbound time.Time, msgs []Outbound) error {
	held := map[conversation.Key]bool{}
	checked := map[conversation.Key]bool{}
	for _, o := range msgs {
		key := o.Recipient
		if !checked[key] {
			checked[key] = true
			waiting, err := d.pending.List(ctx, key)
			if err != nil {
				return err
			}
			if len(waiting) > 0 {
				held[key] = true
				if err := d.hold(ctx, key, o.Message, ReasonQueued); err != nil {
					return err
				}
				continue
			}
		}
		if held[key] {
			if err := d.hold(ctx, key, o.Message, ReasonRetriesExhausted); err != nil {
				return err
			}
			continue
		}
		if o.RequiresWindow && !d.WindowOpen(key.Channel, lastInbound) {
			held[key] = true
			if err := d.hold(ctx, key, o.Message, ReasonWindowClosed); err != nil {
				return err
			}
			continue
		}

		err := d.send(ctx, tenant, key, o.Message)
		if err == nil {
			continue
		}
		reason := ReasonRetriesExhausted
		switch Classify(err) {
		case Permanent:
			log.Printf("outbound: dropping message to %s: %v", key, err)
			continue
		case WindowClosed:
			reason = ReasonWindowClosed
		}
		held[key] = true
		if err := d.hold(ctx, key, o.Message, reason); err != nil {
			return err
		}
	}
	return nil
}

// Flush sends the messages held for key, oldest first, and stops at the
// first one that still cannot be sent. It returns how many were sent.
func (d *Dispatcher) Flush(ctx context.Context, tenant catalog.Tenant, key conversation.Key, lastInbound time.Time) (int, error) {
	if !d.WindowOpen(key.Channel, lastInbound) {
		return 0, nil
	}
	held, err := d.pending.List(ctx, key)
	if err != nil {
		return 0, err
	}
	sent := 0
	for _, p := range held {
		err := d.send(ctx, tenant, key, p.Message)
		if err != nil && Classify(err) != Permanent {
			if terr := d.pending.Touch(ctx, p.ID); terr != nil {
				log.Printf("outbound: %v", terr)
			}
			return sent, nil
		}
		if err != nil {
			log.Printf("outbound: dropping held message %d to %s: %v", p.ID, key, err)
		} else {
			sent++
		}
		if err := d.pending.Remove(ctx, p.ID); err != nil {
			return sent, err
		}
	}
	return sent, nil
}

func (d *Dispatcher) hold(ctx context.Context, key conversation.Key, msg Message, reason string) error {
	d.metrics.Send(key.Channel, "held")
	// Held messages must be stored even when the caller gave up.
	if err := d.pending.Add(context.WithoutCancel(ctx), key, msg, reason); err != nil {
		return fmt.Errorf("outbound: hold message for %s: %w", key, err)
	}
	return nil
}

// send delivers one message with bounded retries. The returned error is nil
// or the last failure.
func (d *Dispatcher) send(ctx context.Context, tenant catalog.Tenant, key conversation.Key, msg Message) error {
	sender, ok := d.senders[key.Channel]
	if !ok {
		return &SendError{Kind: Permanent, Err: fmt.Errorf("no sender for channel %q", key.Channel)}
	}

	var err error
	for attempt := 0; attempt < d.maxAttempts; attempt++ {
		if d.limiter != nil {
			if werr := d.limiter.Wait(ctx); werr != nil {
				return &SendError{Kind: Retryable, Err: werr}
			}
		}
		err = sender.Send(ctx, tenant, key.SenderID, msg)
		kind := Classify(err)
		if err == nil {
			d.metrics.Send(key.Channel, "ok")
			return nil
		}
		d.metrics.Send(key.Channel, kind.String())
		if kind == Permanent || kind == WindowClosed {
			return err
		}
		if attempt == d.maxAttempts-1 {
			break
		}

		wait := time.Duration(math.Pow(2, float64(attempt))) * d.backoff
		if kind == RateLimited {
			wait = retryAfter(err)
			if wait <= 0 {
				wait = d.cooldown
			}
		}
		if wait > maxBackoff {
			wait = maxBackoff
		}
		log.Printf("outbound: send to %s failed (attempt %d/%d): %v, retrying in %v",
			key, attempt+1, d.maxAttempts, err, wait)
		select {
		case <-ctx.Done():
			return &SendError{Kind: Retryable, Err: ctx.Err()}
		case <-time.After(wait):
		}
	}
	return err
}
