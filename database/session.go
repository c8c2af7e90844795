package database

import (
	"time"

	"gorm.io/gorm"
)

// Session is a local login session for the http api.
type Session struct {
	gorm.Model
	UserId uint      `json:"UserId" gorm:"index"`
	User   User      `json:"User" gorm:"foreignKey:UserId;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE;"`
	Token  string    `gorm:"column:token;uniqueIndex;type:varchar(64)"`
	Expiry time.Time `gorm:"column:expiry;index"`
}

func CreateSession(DB *gorm.DB, userID uint, token string, expiry time.Time) (*Session, error) {
	session := Session{
		UserId: userID,
		Token:  token,
		Expiry: expiry.UTC(),
	}
	if err := DB.Create(&session).Error; err != nil {
		return nil, err
	}
	return &session, nil
}

// SessionUser returns the non-blocked user behind an unexpired token.
func SessionUser(DB *gorm.DB, token string, now time.Time) (*User, error) {
	var session Session
	q := DB.Preload("User").
		Where("token = ? AND expiry > ?", token, now.UTC()).
		First(&session)
	if q.Error != nil {
		return nil, q.Error
	}
	if session.User.IsBlocked {
		return nil, gorm.ErrRecordNotFound
	}
	return &session.User, nil
}

func DeleteSession(DB *gorm.DB, token string) error {
	return DB.Unscoped().Where("token = ?", token).Delete(&Session{}).Error
}

func PruneExpiredSessions(DB *gorm.DB, now time.Time) (int64, error) {
	result := DB.Unscoped().Where("expiry < ?", now.UTC()).Delete(&Session{})
	return result.RowsAffected, result.Error
}

func DeleteUserSessions(DB *gorm.DB, userID uint) error {
	return DB.Unscoped().Where("user_id = ?", userID).Delete(&Session{}).Error
}
