package outbound

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/zulandar/orderbot/internal/conversation"
	"github.com/zulandar/orderbot/internal/models"
	"gorm.io/gorm"
)

// Reasons a message is held as pending.
const (
	ReasonWindowClosed     = "window_closed"
	ReasonRetriesExhausted = "retries_exhausted"
	ReasonQueued           = "queued_behind_held"
)

// PendingMessage is a held outbound message.
type PendingMessage struct {
	ID        uint
	Key       conversation.Key
	Message   Message
	Reason    string
	Attempts  int
	CreatedAt time.Time
}

// PendingStore holds messages that could not be sent yet.
type PendingStore interface {
	Add(ctx context.Context, key conversation.Key, msg Message, reason string) error
	// List returns the held messages for key, oldest first.
	List(ctx context.Context, key conversation.Key) ([]PendingMessage, error)
	Remove(ctx context.Context, id uint) error
	Touch(ctx context.Context, id uint) error
	// Expire drops messages held since before olderThan.
	Expire(ctx context.Context, olderThan time.Time) (int64, error)
}

// SQLPending stores pending messages in the pending_outbounds table.
type SQLPending struct {
	db  *gorm.DB
	now func() time.Time
}

// NewSQLPending returns a SQLPending backed by db.
func NewSQLPending(db *gorm.DB) (*SQLPending, error) {
	if db == nil {
		return nil, fmt.Errorf("outbound: pending store: db is required")
	}
	return &SQLPending{db: db, now: time.Now}, nil
}

// Add implements PendingStore.
func (p *SQLPending) Add(ctx context.Context, key conversation.Key, msg Message, reason string) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("outbound: encode pending: %w", err)
	}
	row := models.PendingOutbound{
		TenantID:  key.TenantID,
		Channel:   key.Channel,
		SenderID:  key.SenderID,
		Payload:   string(payload),
		Reason:    reason,
		CreatedAt: p.now(),
	}
	if err := p.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("outbound: add pending for %s: %w", key, err)
	}
	return nil
}

// List implements PendingStore.
func (p *SQLPending) List(ctx context.Context, key conversation.Key) ([]PendingMessage, error) {
	var rows []models.PendingOutbound
	err := p.db.WithContext(ctx).
		Where("tenant_id = ? AND channel = ? AND sender_id = ?", key.TenantID, key.Channel, key.SenderID).
		Order("id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("outbound: list pending for %s: %w", key, err)
	}
	out := make([]PendingMessage, 0, len(rows))
	for _, r := range rows {
		var msg Message
		if err := json.Unmarshal([]byte(r.Payload), &msg); err != nil {
			return nil, fmt.Errorf("outbound: decode pending %d: %w", r.ID, err)
		}
		out = append(out, PendingMessage{
			ID:        r.ID,
			Key:       key,
			Message:   msg,
			Reason:    r.Reason,
			Attempts:  r.Attempts,
			CreatedAt: r.CreatedAt,
		})
	}
	return out, nil
}

// Remove implements PendingStore.
func (p *SQLPending) Remove(ctx context.Context, id uint) error {
	if err := p.db.WithContext(ctx).Delete(&models.PendingOutbound{}, id).Error; err != nil {
		return fmt.Errorf("outbound: remove pending %d: %w", id, err)
	}
	return nil
}

// Touch records a failed flush attempt.
func (p *SQLPending) Touch(ctx context.Context, id uint) error {
	err := p.db.WithContext(ctx).Model(&models.PendingOutbound{}).
		Where("id = ?", id).
		UpdateColumn("attempts", gorm.Expr("attempts + 1")).Error
	if err != nil {
		return fmt.Errorf("outbound: touch pending %d: %w", id, err)
	}
	return nil
}

// Expire implements PendingStore.
func (p *SQLPending) Expire(ctx context.Context, olderThan time.Time) (int64, error) {
	res := p.db.WithContext(ctx).Where("created_at < ?", olderThan).Delete(&models.PendingOutbound{})
	if res.Error != nil {
		return 0, fmt.Errorf("outbound: expire pending: %w", res.Error)
	}
	return res.RowsAffected, nil
}
