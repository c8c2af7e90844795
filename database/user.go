package database

import (
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/Programmerfd54/rocket-shelduer-sub002/access"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// User is a local principal: the operator who owns connections and messages.
type User struct {
	Model
	Name         string      `json:"name"`
	Email        string      `json:"email" gorm:"unique"`
	PasswordHash string      `json:"-"`
	Role         access.Role `json:"role" gorm:"type:varchar(16);default:user"`
	IsBlocked    bool        `json:"is_blocked"`
}

func (u *User) Can(capability access.Capability) bool {
	return !u.IsBlocked && access.Can(u.Role, capability)
}

func RegisterUser(
	DB *gorm.DB,
	name string,
	email string,
	password []byte,
	role access.Role,
) (*User, error) {
	if !role.Valid() {
		return nil, fmt.Errorf("invalid role %q", role)
	}

	if _, err := mail.ParseAddress(email); err != nil {
		return nil, fmt.Errorf("invalid email: %w", err)
	}

	hashedPassword, err := bcrypt.GenerateFromPassword(password, bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	user := User{
		Name:         name,
		Email:        strings.ToLower(email),
		PasswordHash: string(hashedPassword),
		Role:         role,
	}

	if err := DB.Create(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// Authenticate checks email and password of a non-blocked user.
func Authenticate(DB *gorm.DB, email string, password string) (*User, error) {
	var user User
	if err := DB.First(&user, "email = ?", strings.ToLower(email)).Error; err != nil {
		return nil, err
	}
	if user.IsBlocked {
		return nil, fmt.Errorf("user is blocked")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, err
	}
	return &user, nil
}

func FindUserByUUID(DB *gorm.DB, uuid string) (*User, error) {
	var user User
	if err := DB.First(&user, "uuid = ?", uuid).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// BlockUser blocks a principal and archives every connection they own, which
// cancels their pending messages.
func BlockUser(DB *gorm.DB, userID uint, now time.Time, retention time.Duration) (int64, error) {
	var cancelled int64
	err := DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&User{}).Where("id = ?", userID).Update("is_blocked", true).Error; err != nil {
			return err
		}
		var ids []uint
		if err := tx.Model(&WorkspaceConnection{}).
			Where("user_id = ? AND is_archived = ?", userID, false).
			Pluck("id", &ids).Error; err != nil {
			return err
		}
		for _, id := range ids {
			n, err := archiveConnection(tx, id, now, retention)
			if err != nil {
				return err
			}
			cancelled += n
		}
		return nil
	})
	return cancelled, err
}
