package models

import "time"

// ConversationSession is the persisted conversation snapshot for one chat
// sender of one tenant. Version backs optimistic concurrency: every write
// must match the version it read.
type ConversationSession struct {
	ID            uint      `gorm:"primaryKey;autoIncrement"`
	TenantID      string    `gorm:"size:64;not null;uniqueIndex:idx_session_key"`
	Channel       string    `gorm:"size:16;not null;uniqueIndex:idx_session_key"`
	SenderID      string    `gorm:"size:128;not null;uniqueIndex:idx_session_key"`
	State         string    `gorm:"size:32;not null"`
	Snapshot      string    `gorm:"type:mediumtext;not null"`
	LastEventID   string    `gorm:"size:191"`
	Version       int64     `gorm:"not null;default:0"`
	LastInboundAt time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time `gorm:"index"`
}

// ProcessedEvent records a provider delivery id that has been applied, so a
// redelivery of the same id is absorbed.
type ProcessedEvent struct {
	ID        uint      `gorm:"primaryKey;autoIncrement"`
	TenantID  string    `gorm:"size:64;not null;uniqueIndex:idx_processed_event"`
	Channel   string    `gorm:"size:16;not null;uniqueIndex:idx_processed_event"`
	SenderID  string    `gorm:"size:128;not null;uniqueIndex:idx_processed_event"`
	EventID   string    `gorm:"size:191;not null;uniqueIndex:idx_processed_event"`
	CreatedAt time.Time `gorm:"index"`
}

// PendingOutbound is a rendered message that could not be sent yet, either
// because the sender's reactive window was closed or retries ran out. It is
// flushed on the sender's next inbound event.
type PendingOutbound struct {
	ID        uint      `gorm:"primaryKey;autoIncrement"`
	TenantID  string    `gorm:"size:64;not null;index:idx_pending_recipient"`
	Channel   string    `gorm:"size:16;not null;index:idx_pending_recipient"`
	SenderID  string    `gorm:"size:128;not null;index:idx_pending_recipient"`
	Payload   string    `gorm:"type:text;not null"` // JSON-encoded outbound message
	Reason    string    `gorm:"size:32"`            // "window_closed", "retries_exhausted"
	Attempts  int       `gorm:"default:0"`
	CreatedAt time.Time `gorm:"index"`
}
