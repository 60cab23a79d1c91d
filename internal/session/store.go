// Package session persists conversation snapshots with optimistic
// concurrency. Every write names the version it read; a stale write fails
// with ErrConflict and the caller reloads and reapplies its event. The
// processed-event record is written in the same atomic step, so a provider
// redelivery of an already applied event fails with ErrDuplicate.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/zulandar/orderbot/internal/cart"
	"github.com/zulandar/orderbot/internal/conversation"
)

var (
	// ErrConflict means the stored version moved since the session was read.
	ErrConflict = errors.New("session: version conflict")
	// ErrDuplicate means the session's LastEventID was already applied.
	ErrDuplicate = errors.New("session: duplicate event")
)

// Store is the session persistence interface.
type Store interface {
	// Load returns the stored session, or a fresh menu session when none
	// exists or the stored one is past its TTL.
	Load(ctx context.Context, key conversation.Key) (*conversation.Session, error)
	// CompareAndSwap writes s if the stored version equals expected and
	// records s.LastEventID as processed. On success s.Version is
	// expected+1.
	CompareAndSwap(ctx context.Context, s *conversation.Session, expected int64) error
	// Seen reports whether eventID was already applied for key.
	Seen(ctx context.Context, key conversation.Key, eventID string) (bool, error)
	// Delete removes a session. Processed-event records are kept.
	Delete(ctx context.Context, key conversation.Key) error
	// Purge removes sessions not updated since olderThan.
	Purge(ctx context.Context, olderThan time.Time) (int64, error)
	// PruneEvents removes processed-event records created before olderThan.
	PruneEvents(ctx context.Context, olderThan time.Time) (int64, error)
	Close() error
}

// DefaultTTL is the inactivity period after which a session starts over.
const DefaultTTL = 24 * time.Hour

func encode(s *conversation.Session) ([]byte, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("session: encode %s: %w", s.Key(), err)
	}
	return b, nil
}

func decode(key conversation.Key, data []byte) (*conversation.Session, error) {
	var s conversation.Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("session: decode %s: %w", key, err)
	}
	s.TenantID, s.Channel, s.SenderID = key.TenantID, key.Channel, key.SenderID
	s.Cart = cart.Recompute(s.Cart)
	return &s, nil
}

// expire replaces a session idle for longer than ttl with a fresh one that
// keeps the stored version, so the next write still compares correctly.
func expire(s *conversation.Session, ttl time.Duration, now time.Time) *conversation.Session {
	if ttl <= 0 || now.Sub(s.UpdatedAt) <= ttl {
		return s
	}
	fresh := conversation.NewSession(s.Key(), now)
	fresh.Version = s.Version
	if s.Epoch != "" {
		fresh.Epoch = s.Epoch
	}
	fresh.LastInboundAt = s.LastInboundAt
	fresh.LastEventID = s.LastEventID
	return fresh
}
