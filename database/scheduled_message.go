package database

import (
	"errors"
	"time"

	"gorm.io/gorm"
)

type MessageStatus string

const (
	StatusPending MessageStatus = "pending"
	// StatusSending marks a message claimed by a dispatch tick.
	StatusSending   MessageStatus = "sending"
	StatusSent      MessageStatus = "sent"
	StatusFailed    MessageStatus = "failed"
	StatusCancelled MessageStatus = "cancelled"
)

func (s MessageStatus) Valid() bool {
	switch s {
	case StatusPending, StatusSending, StatusSent, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

var ErrInvalidMessage = errors.New("invalid scheduled message")

// ScheduledMessage is one unit of future delivery.
// SentAt is set only when sent, Error only when failed.
type ScheduledMessage struct {
	Model
	UserID          uint                `json:"-" gorm:"index;not null"`
	User            User                `json:"-" gorm:"foreignKey:UserID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE;"`
	ConnectionID    uint                `json:"-" gorm:"index;not null"`
	Connection      WorkspaceConnection `json:"-" gorm:"foreignKey:ConnectionID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE;"`
	ChannelID       string              `json:"channel_id"`
	ChannelName     string              `json:"channel_name,omitempty"`
	Text            string              `json:"text" gorm:"type:text"`
	ScheduledFor    time.Time           `json:"scheduled_for" gorm:"index:idx_scheduled_messages_due,priority:2"`
	Status          MessageStatus       `json:"status" gorm:"type:varchar(16);index:idx_scheduled_messages_due,priority:1"`
	SentAt          *time.Time          `json:"sent_at"`
	Error           *string             `json:"error"`
	RemoteMessageID *string             `json:"remote_message_id,omitempty"`
	ClaimedAt       *time.Time          `json:"-"`
	Attempts        int                 `json:"attempts"`
}

func (m *ScheduledMessage) BeforeSave(tx *gorm.DB) error {
	if !m.ScheduledFor.IsZero() {
		m.ScheduledFor = m.ScheduledFor.UTC()
	}
	return nil
}

// Target is the channel identifier handed to the remote workspace.
func (m *ScheduledMessage) Target() string {
	if m.ChannelID != "" {
		return m.ChannelID
	}
	if m.ChannelName != "" && m.ChannelName[0] != '#' && m.ChannelName[0] != '@' {
		return "#" + m.ChannelName
	}
	return m.ChannelName
}

// ScheduleMessage stores a new pending message on a live connection.
func ScheduleMessage(DB *gorm.DB, msg *ScheduledMessage) error {
	if msg.UserID == 0 || msg.ConnectionID == 0 || (msg.ChannelID == "" && msg.ChannelName == "") || msg.ScheduledFor.IsZero() {
		return ErrInvalidMessage
	}

	conn, err := FindConnectionByID(DB, msg.ConnectionID)
	if err != nil {
		return err
	}
	if conn.IsArchived {
		return ErrConnectionArchived
	}

	msg.Status = StatusPending
	msg.SentAt = nil
	msg.Error = nil
	return DB.Create(msg).Error
}

func FindMessageByUUID(DB *gorm.DB, uuid string) (*ScheduledMessage, error) {
	var msg ScheduledMessage
	if err := DB.First(&msg, "uuid = ?", uuid).Error; err != nil {
		return nil, err
	}
	return &msg, nil
}

func FindMessageByID(DB *gorm.DB, id uint) (*ScheduledMessage, error) {
	var msg ScheduledMessage
	if err := DB.First(&msg, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &msg, nil
}

// DueMessages selects pending messages scheduled at or before now.
func DueMessages(DB *gorm.DB, now time.Time, limit int) ([]ScheduledMessage, error) {
	var msgs []ScheduledMessage
	err := DB.Where("status = ? AND scheduled_for <= ?", StatusPending, now.UTC()).
		Order("scheduled_for, id").
		Limit(limit).
		Find(&msgs).Error
	return msgs, err
}

// ClaimMessage moves a due message from pending to sending. Only one caller
// can win the claim; the others get false.
func ClaimMessage(DB *gorm.DB, id uint, now time.Time) (bool, error) {
	now = now.UTC()
	result := DB.Model(&ScheduledMessage{}).
		Where("id = ? AND status = ? AND scheduled_for <= ?", id, StatusPending, now).
		Updates(map[string]interface{}{
			"status":     StatusSending,
			"claimed_at": now,
			"attempts":   gorm.Expr("attempts + 1"),
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func MarkSent(DB *gorm.DB, id uint, remoteMessageID string, now time.Time) error {
	updates := map[string]interface{}{
		"status":     StatusSent,
		"sent_at":    now.UTC(),
		"error":      nil,
		"claimed_at": nil,
	}
	if remoteMessageID != "" {
		updates["remote_message_id"] = remoteMessageID
	}
	return finishClaim(DB, id, updates)
}

func MarkFailed(DB *gorm.DB, id uint, reason string) error {
	return finishClaim(DB, id, map[string]interface{}{
		"status":     StatusFailed,
		"sent_at":    nil,
		"error":      reason,
		"claimed_at": nil,
	})
}

func MarkCancelled(DB *gorm.DB, id uint) error {
	return finishClaim(DB, id, map[string]interface{}{
		"status":     StatusCancelled,
		"sent_at":    nil,
		"error":      nil,
		"claimed_at": nil,
	})
}

var ErrNotClaimed = errors.New("message is not claimed")

func finishClaim(DB *gorm.DB, id uint, updates map[string]interface{}) error {
	result := DB.Model(&ScheduledMessage{}).
		Where("id = ? AND status = ?", id, StatusSending).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotClaimed
	}
	return nil
}

// RetryMessage moves a failed message back to pending. It reports false
// when the message was not failed.
func RetryMessage(DB *gorm.DB, id uint, scheduledFor time.Time) (bool, error) {
	result := DB.Model(&ScheduledMessage{}).
		Where("id = ? AND status = ?", id, StatusFailed).
		Updates(map[string]interface{}{
			"status":        StatusPending,
			"scheduled_for": scheduledFor.UTC(),
			"error":         nil,
			"sent_at":       nil,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func cancelPendingForConnection(tx *gorm.DB, connectionID uint) (int64, error) {
	result := tx.Model(&ScheduledMessage{}).
		Where("connection_id = ? AND status = ?", connectionID, StatusPending).
		Updates(map[string]interface{}{
			"status": StatusCancelled,
			"error":  nil,
		})
	return result.RowsAffected, result.Error
}

// RecoverStaleClaims fails messages left in sending since before staleBefore,
// e.g. after a crash mid-delivery. They are not re-queued because the remote
// side may already have accepted them.
func RecoverStaleClaims(DB *gorm.DB, staleBefore time.Time, reason string) (int64, error) {
	result := DB.Model(&ScheduledMessage{}).
		Where("status = ? AND claimed_at < ?", StatusSending, staleBefore.UTC()).
		Updates(map[string]interface{}{
			"status":     StatusFailed,
			"error":      reason,
			"sent_at":    nil,
			"claimed_at": nil,
		})
	return result.RowsAffected, result.Error
}

type MessageFilter struct {
	UserID *uint
	Status MessageStatus
	Limit  int
}

func ListMessages(DB *gorm.DB, f MessageFilter) ([]ScheduledMessage, error) {
	q := DB.Model(&ScheduledMessage{})
	if f.UserID != nil {
		q = q.Where("user_id = ?", *f.UserID)
	}
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	var msgs []ScheduledMessage
	err := q.Order("scheduled_for DESC, id DESC").Limit(limit).Find(&msgs).Error
	return msgs, err
}

// CountMessagesByStatus returns the number of messages per status. Statuses
// without messages are present with zero.
func CountMessagesByStatus(DB *gorm.DB) (map[MessageStatus]int64, error) {
	var rows []struct {
		Status MessageStatus
		Count  int64
	}
	err := DB.Model(&ScheduledMessage{}).
		Select("status, count(*) as count").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	counts := map[MessageStatus]int64{
		StatusPending:   0,
		StatusSending:   0,
		StatusSent:      0,
		StatusFailed:    0,
		StatusCancelled: 0,
	}
	for _, row := range rows {
		counts[row.Status] = row.Count
	}
	return counts, nil
}
