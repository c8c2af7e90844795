package database

import (
	"time"

	"gorm.io/gorm"
)

type SecurityEventKind string

const (
	EventBearerRejected    SecurityEventKind = "bearer_rejected"
	EventRateLimited       SecurityEventKind = "rate_limited"
	EventSuspiciousInput   SecurityEventKind = "suspicious_input"
	EventLoginFailed       SecurityEventKind = "login_failed"
	EventPermissionDenied  SecurityEventKind = "permission_denied"
	EventDecryptionFailure SecurityEventKind = "decryption_failure"
)

// SecurityEvent is an audit row for a rejected or suspicious request.
type SecurityEvent struct {
	ID         uint              `gorm:"primaryKey" json:"-"`
	CreatedAt  time.Time         `json:"created_at" gorm:"index"`
	Kind       SecurityEventKind `json:"kind" gorm:"type:varchar(32);index"`
	RemoteAddr string            `json:"remote_addr"`
	Path       string            `json:"path"`
	UserID     *uint             `json:"-"`
	Detail     string            `json:"detail"`
}

func RecordSecurityEvent(DB *gorm.DB, event SecurityEvent) error {
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	return DB.Create(&event).Error
}

func RecentSecurityEvents(DB *gorm.DB, limit int) ([]SecurityEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	var events []SecurityEvent
	err := DB.Order("created_at DESC, id DESC").Limit(limit).Find(&events).Error
	return events, err
}
