package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/zulandar/orderbot/internal/conversation"
	"github.com/zulandar/orderbot/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SQLStoreOpts configures a SQLStore.
type SQLStoreOpts struct {
	DB  *gorm.DB
	TTL time.Duration
	Now func() time.Time // defaults to time.Now
}

// SQLStore keeps sessions in the conversation_sessions table. The version
// check is an UPDATE ... WHERE version = ?; the processed-event insert is
// guarded by a unique index and shares the transaction.
type SQLStore struct {
	db  *gorm.DB
	ttl time.Duration
	now func() time.Time
}

// NewSQLStore returns a SQLStore. The tables must already be migrated.
func NewSQLStore(opts SQLStoreOpts) (*SQLStore, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("session: sql store: db is required")
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &SQLStore{db: opts.DB, ttl: opts.TTL, now: opts.Now}, nil
}

func keyScope(key conversation.Key) func(*gorm.DB) *gorm.DB {
	return func(tx *gorm.DB) *gorm.DB {
		return tx.Where("tenant_id = ? AND channel = ? AND sender_id = ?", key.TenantID, key.Channel, key.SenderID)
	}
}

// Load implements Store.
func (s *SQLStore) Load(ctx context.Context, key conversation.Key) (*conversation.Session, error) {
	now := s.now()
	var row models.ConversationSession
	err := s.db.WithContext(ctx).Scopes(keyScope(key)).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return conversation.NewSession(key, now), nil
	}
	if err != nil {
		return nil, fmt.Errorf("session: load %s: %w", key, err)
	}
	sess, err := decode(key, []byte(row.Snapshot))
	if err != nil {
		return nil, err
	}
	sess.Version = row.Version
	return expire(sess, s.ttl, now), nil
}

// CompareAndSwap implements Store.
func (s *SQLStore) CompareAndSwap(ctx context.Context, sess *conversation.Session, expected int64) error {
	key := sess.Key()
	now := s.now()

	next := sess.Clone()
	next.Version = expected + 1
	next.UpdatedAt = now
	data, err := encode(next)
	if err != nil {
		return err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if sess.LastEventID != "" {
			ev := models.ProcessedEvent{
				TenantID:  key.TenantID,
				Channel:   key.Channel,
				SenderID:  key.SenderID,
				EventID:   sess.LastEventID,
				CreatedAt: now,
			}
			res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&ev)
			if res.Error != nil {
				return fmt.Errorf("record event: %w", res.Error)
			}
			if res.RowsAffected == 0 {
				return ErrDuplicate
			}
		}

		if expected == 0 {
			row := models.ConversationSession{
				TenantID:      key.TenantID,
				Channel:       key.Channel,
				SenderID:      key.SenderID,
				State:         string(next.State),
				Snapshot:      string(data),
				LastEventID:   next.LastEventID,
				Version:       next.Version,
				LastInboundAt: next.LastInboundAt,
				CreatedAt:     now,
				UpdatedAt:     now,
			}
			res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
			if res.Error != nil {
				return fmt.Errorf("insert: %w", res.Error)
			}
			if res.RowsAffected == 0 {
				return ErrConflict
			}
			return nil
		}

		res := tx.Model(&models.ConversationSession{}).
			Scopes(keyScope(key)).
			Where("version = ?", expected).
			Updates(map[string]interface{}{
				"state":           string(next.State),
				"snapshot":        string(data),
				"last_event_id":   next.LastEventID,
				"version":         next.Version,
				"last_inbound_at": next.LastInboundAt,
				"updated_at":      now,
			})
		if res.Error != nil {
			return fmt.Errorf("update: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrConflict
		}
		return nil
	})
	switch {
	case err == nil:
		sess.Version = next.Version
		sess.UpdatedAt = now
		return nil
	case errors.Is(err, ErrConflict), errors.Is(err, ErrDuplicate):
		return err
	default:
		return fmt.Errorf("session: swap %s: %w", key, err)
	}
}

// Seen implements Store.
func (s *SQLStore) Seen(ctx context.Context, key conversation.Key, eventID string) (bool, error) {
	if eventID == "" {
		return false, nil
	}
	var count int64
	err := s.db.WithContext(ctx).Model(&models.ProcessedEvent{}).
		Scopes(keyScope(key)).
		Where("event_id = ?", eventID).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("session: seen %s: %w", key, err)
	}
	return count > 0, nil
}

// Delete implements Store.
func (s *SQLStore) Delete(ctx context.Context, key conversation.Key) error {
	if err := s.db.WithContext(ctx).Scopes(keyScope(key)).Delete(&models.ConversationSession{}).Error; err != nil {
		return fmt.Errorf("session: delete %s: %w", key, err)
	}
	return nil
}

// Purge implements Store.
func (s *SQLStore) Purge(ctx context.Context, olderThan time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Where("updated_at < ?", olderThan).Delete(&models.ConversationSession{})
	if res.Error != nil {
		return 0, fmt.Errorf("session: purge: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// PruneEvents implements Store.
func (s *SQLStore) PruneEvents(ctx context.Context, olderThan time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Where("created_at < ?", olderThan).Delete(&models.ProcessedEvent{})
	if res.Error != nil {
		return 0, fmt.Errorf("session: prune events: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// Close is a no-op; the database handle belongs to the caller.
func (s *SQLStore) Close() error { return nil }
