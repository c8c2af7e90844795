package database

import (
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
)

var (
	ErrPartialSession      = errors.New("session token and remote user id must be set together")
	ErrDuplicateConnection = errors.New("a connection to this workspace already exists")
	ErrConnectionArchived  = errors.New("connection is archived")
)

// WorkspaceConnection binds one principal to one remote workspace.
// EncryptedPassword holds a vault blob; the plaintext is never persisted.
type WorkspaceConnection struct {
	Model
	UserID            uint       `json:"-" gorm:"index;not null"`
	User              User       `json:"-" gorm:"foreignKey:UserID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE;"`
	Name              string     `json:"name"`
	BaseURL           string     `json:"base_url" gorm:"not null"`
	NormalizedURL     string     `json:"-" gorm:"index;not null"`
	Username          string     `json:"username" gorm:"not null"`
	EncryptedPassword string     `json:"-" gorm:"type:text;not null"`
	AuthToken         *string    `json:"-"`
	RemoteUserID      *string    `json:"remote_user_id,omitempty"`
	IsActive          bool       `json:"is_active"`
	LastCheckedAt     *time.Time `json:"last_checked_at,omitempty"`
	IsArchived        bool       `json:"is_archived" gorm:"index"`
	ArchivedAt        *time.Time `json:"archived_at,omitempty"`
	ArchiveDeleteAt   *time.Time `json:"archive_delete_at,omitempty"`
}

// NormalizeWorkspaceURL lower-cases the url and strips trailing slashes so
// two spellings of the same workspace compare equal.
func NormalizeWorkspaceURL(raw string) string {
	return strings.TrimRight(strings.ToLower(strings.TrimSpace(raw)), "/")
}

func (c *WorkspaceConnection) BeforeSave(tx *gorm.DB) error {
	if c.BaseURL != "" {
		c.NormalizedURL = NormalizeWorkspaceURL(c.BaseURL)
	}
	if (c.AuthToken == nil) != (c.RemoteUserID == nil) {
		return ErrPartialSession
	}
	return nil
}

// HasSession reports whether a cached remote session is present.
func (c *WorkspaceConnection) HasSession() bool {
	return c.AuthToken != nil && c.RemoteUserID != nil && *c.AuthToken != "" && *c.RemoteUserID != ""
}

// SessionCredentials returns the cached token and remote user id, or empty
// strings when there is no session.
func (c *WorkspaceConnection) SessionCredentials() (token string, remoteUserID string) {
	if !c.HasSession() {
		return "", ""
	}
	return *c.AuthToken, *c.RemoteUserID
}

func CreateConnection(DB *gorm.DB, conn *WorkspaceConnection) error {
	conn.NormalizedURL = NormalizeWorkspaceURL(conn.BaseURL)

	var count int64
	if err := DB.Model(&WorkspaceConnection{}).
		Where("user_id = ? AND normalized_url = ? AND username = ? AND is_archived = ?", conn.UserID, conn.NormalizedURL, conn.Username, false).
		Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return ErrDuplicateConnection
	}
	return DB.Create(conn).Error
}

func FindConnectionByID(DB *gorm.DB, id uint) (*WorkspaceConnection, error) {
	var conn WorkspaceConnection
	if err := DB.First(&conn, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &conn, nil
}

func FindConnectionByUUID(DB *gorm.DB, uuid string) (*WorkspaceConnection, error) {
	var conn WorkspaceConnection
	if err := DB.First(&conn, "uuid = ?", uuid).Error; err != nil {
		return nil, err
	}
	return &conn, nil
}

// OwnConnectionsByURL lists the non-archived connections userID owns for the
// given normalized workspace url.
func OwnConnectionsByURL(DB *gorm.DB, userID uint, normalizedURL string) ([]WorkspaceConnection, error) {
	var conns []WorkspaceConnection
	err := DB.Where("user_id = ? AND normalized_url = ? AND is_archived = ?", userID, normalizedURL, false).
		Order("id").
		Find(&conns).Error
	return conns, err
}

// ConnectionsVisibleTo lists connections owned by or assigned to userID.
func ConnectionsVisibleTo(DB *gorm.DB, userID uint, includeArchived bool) ([]WorkspaceConnection, error) {
	assigned := DB.Model(&WorkspaceAssignment{}).Select("connection_id").Where("user_id = ?", userID)

	q := DB.Where("user_id = ? OR id IN (?)", userID, assigned)
	if !includeArchived {
		q = q.Where("is_archived = ?", false)
	}

	var conns []WorkspaceConnection
	err := q.Order("id").Find(&conns).Error
	return conns, err
}

// AllConnections lists every connection, for principals that may view any.
func AllConnections(DB *gorm.DB, includeArchived bool) ([]WorkspaceConnection, error) {
	q := DB.Model(&WorkspaceConnection{})
	if !includeArchived {
		q = q.Where("is_archived = ?", false)
	}

	var conns []WorkspaceConnection
	err := q.Order("id").Find(&conns).Error
	return conns, err
}

// ActiveSessions lists non-archived connections with a cached session.
func ActiveSessions(DB *gorm.DB) ([]WorkspaceConnection, error) {
	var conns []WorkspaceConnection
	err := DB.Where("is_archived = ? AND auth_token IS NOT NULL AND remote_user_id IS NOT NULL", false).
		Order("id").
		Find(&conns).Error
	return conns, err
}

// SaveSession stores a fresh session and marks the connection live.
// Concurrent writers race; the last one wins.
func SaveSession(DB *gorm.DB, conn *WorkspaceConnection, token, remoteUserID string, now time.Time) error {
	now = now.UTC()
	err := DB.Model(&WorkspaceConnection{}).Where("id = ?", conn.ID).Updates(map[string]interface{}{
		"auth_token":      token,
		"remote_user_id":  remoteUserID,
		"is_active":       true,
		"last_checked_at": now,
	}).Error
	if err != nil {
		return err
	}
	conn.AuthToken = &token
	conn.RemoteUserID = &remoteUserID
	conn.IsActive = true
	conn.LastCheckedAt = &now
	return nil
}

// ClearSession drops the cached session and the liveness flag so the next
// use has to log in again.
func ClearSession(DB *gorm.DB, conn *WorkspaceConnection, now time.Time) error {
	now = now.UTC()
	err := DB.Model(&WorkspaceConnection{}).Where("id = ?", conn.ID).Updates(map[string]interface{}{
		"auth_token":      nil,
		"remote_user_id":  nil,
		"is_active":       false,
		"last_checked_at": now,
	}).Error
	if err != nil {
		return err
	}
	conn.AuthToken = nil
	conn.RemoteUserID = nil
	conn.IsActive = false
	conn.LastCheckedAt = &now
	return nil
}

// MarkInactive clears only the liveness flag; the session stays cached.
func MarkInactive(DB *gorm.DB, conn *WorkspaceConnection, now time.Time) error {
	now = now.UTC()
	err := DB.Model(&WorkspaceConnection{}).Where("id = ?", conn.ID).Updates(map[string]interface{}{
		"is_active":       false,
		"last_checked_at": now,
	}).Error
	if err != nil {
		return err
	}
	conn.IsActive = false
	conn.LastCheckedAt = &now
	return nil
}

// ConnectionArchived reads the archive flag straight from the store. A
// deleted connection counts as archived.
func ConnectionArchived(DB *gorm.DB, id uint) (bool, error) {
	var rows []bool
	if err := DB.Model(&WorkspaceConnection{}).Where("id = ?", id).Pluck("is_archived", &rows).Error; err != nil {
		return false, err
	}
	return len(rows) == 0 || rows[0], nil
}

// ArchiveConnection archives a connection and cancels its pending messages
// in one transaction. It returns how many messages were cancelled.
func ArchiveConnection(DB *gorm.DB, connectionID uint, now time.Time, retention time.Duration) (int64, error) {
	var cancelled int64
	err := DB.Transaction(func(tx *gorm.DB) error {
		n, err := archiveConnection(tx, connectionID, now, retention)
		cancelled = n
		return err
	})
	return cancelled, err
}

func archiveConnection(tx *gorm.DB, connectionID uint, now time.Time, retention time.Duration) (int64, error) {
	now = now.UTC()
	deleteAt := now.Add(retention)

	result := tx.Model(&WorkspaceConnection{}).
		Where("id = ? AND is_archived = ?", connectionID, false).
		Updates(map[string]interface{}{
			"is_archived":       true,
			"archived_at":       now,
			"archive_delete_at": deleteAt,
			"is_active":         false,
			"auth_token":        nil,
			"remote_user_id":    nil,
		})
	if result.Error != nil {
		return 0, result.Error
	}
	if result.RowsAffected == 0 {
		return 0, ErrConnectionArchived
	}

	return cancelPendingForConnection(tx, connectionID)
}

// PurgeArchivedConnections hard-deletes connections whose retention window
// has passed, together with their messages and assignments.
func PurgeArchivedConnections(DB *gorm.DB, now time.Time) (int64, error) {
	var purged int64
	err := DB.Transaction(func(tx *gorm.DB) error {
		var ids []uint
		if err := tx.Model(&WorkspaceConnection{}).
			Where("is_archived = ? AND archive_delete_at IS NOT NULL AND archive_delete_at <= ?", true, now.UTC()).
			Pluck("id", &ids).Error; err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}
		if err := tx.Unscoped().Where("connection_id IN ?", ids).Delete(&ScheduledMessage{}).Error; err != nil {
			return err
		}
		if err := tx.Unscoped().Where("connection_id IN ?", ids).Delete(&WorkspaceAssignment{}).Error; err != nil {
			return err
		}
		result := tx.Unscoped().Where("id IN ?", ids).Delete(&WorkspaceConnection{})
		purged = result.RowsAffected
		return result.Error
	})
	return purged, err
}

// MarkActive records a successful liveness check.
func MarkActive(DB *gorm.DB, conn *WorkspaceConnection, now time.Time) error {
	now = now.UTC()
	err := DB.Model(&WorkspaceConnection{}).Where("id = ?", conn.ID).Updates(map[string]interface{}{
		"is_active":       true,
		"last_checked_at": now,
	}).Error
	if err != nil {
		return err
	}
	conn.IsActive = true
	conn.LastCheckedAt = &now
	return nil
}
