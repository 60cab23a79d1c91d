package ordering

import (
	"context"
	"fmt"
	"log"

	"github.com/zulandar/orderbot/internal/catalog"
	"github.com/zulandar/orderbot/internal/conversation"
	"github.com/zulandar/orderbot/internal/outbound"
)

// Session returns the stored session for key, or a fresh one.
func (e *Engine) Session(ctx context.Context, key conversation.Key) (*conversation.Session, error) {
	s, err := e.sessions.Load(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("ordering: show %s: %w", key, err)
	}
	return s, nil
}

// Reset deletes the stored session for key. The next event starts at the
// menu.
func (e *Engine) Reset(ctx context.Context, key conversation.Key) error {
	if err := e.sessions.Delete(ctx, key); err != nil {
		return fmt.Errorf("ordering: reset %s: %w", key, err)
	}
	return nil
}

// Notify sends an operator message to key. Outside the channel's reactive
// window the message is held until the customer writes again. It reports
// whether the message went out immediately.
func (e *Engine) Notify(ctx context.Context, key conversation.Key, text string) (bool, error) {
	if text == "" {
		return false, fmt.Errorf("ordering: notify %s: text is required", key)
	}
	snap, err := catalog.Load(ctx, e.catalog, key.TenantID)
	if err != nil {
		return false, fmt.Errorf("ordering: notify %s: %w", key, err)
	}
	s, err := e.sessions.Load(ctx, key)
	if err != nil {
		return false, fmt.Errorf("ordering: notify %s: %w", key, err)
	}
	open := !s.LastInboundAt.IsZero() && e.dispatcher.WindowOpen(key.Channel, s.LastInboundAt)
	if open {
		if _, err := e.dispatcher.Flush(ctx, snap.Tenant, key, s.LastInboundAt); err != nil {
			log.Printf("ordering: %s: flush pending: %v", key, err)
		}
	}
	msg := outbound.Outbound{Recipient: key, Message: outbound.Message{Text: text}, RequiresWindow: true}
	if err := e.dispatcher.Deliver(ctx, snap.Tenant, s.LastInboundAt, []outbound.Outbound{msg}); err != nil {
		return false, fmt.Errorf("ordering: notify %s: %w", key, err)
	}
	return open, nil
}
