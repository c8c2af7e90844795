// Package dbtest opens throwaway sqlite databases for tests.
package dbtest

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/Programmerfd54/rocket-shelduer-sub002/access"
	"github.com/Programmerfd54/rocket-shelduer-sub002/database"
	"gorm.io/gorm"
)

// Open returns a migrated database backed by a file in t.TempDir.
func Open(t testing.TB) *gorm.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := database.SetupDatabase("sqlite", path, "", false)
	if err != nil {
		t.Fatalf("setup database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	return db
}

func User(t testing.TB, db *gorm.DB, email string, role access.Role) *database.User {
	t.Helper()
	u, err := database.RegisterUser(db, email, email, []byte("password"), role)
	if err != nil {
		t.Fatalf("register %s: %v", email, err)
	}
	return u
}

// Connection stores a connection owned by owner. encrypted is stored as-is.
func Connection(t testing.TB, db *gorm.DB, owner *database.User, baseURL, username, encrypted string) *database.WorkspaceConnection {
	t.Helper()
	conn := &database.WorkspaceConnection{
		UserID:            owner.ID,
		Name:              username + "@" + baseURL,
		BaseURL:           baseURL,
		Username:          username,
		EncryptedPassword: encrypted,
		IsActive:          true,
	}
	if err := database.CreateConnection(db, conn); err != nil {
		t.Fatalf("create connection: %v", err)
	}
	return conn
}

func Message(t testing.TB, db *gorm.DB, conn *database.WorkspaceConnection, channel, text string, at time.Time) *database.ScheduledMessage {
	t.Helper()
	msg := &database.ScheduledMessage{
		UserID:       conn.UserID,
		ConnectionID: conn.ID,
		ChannelID:    channel,
		Text:         text,
		ScheduledFor: at,
	}
	if err := database.ScheduleMessage(db, msg); err != nil {
		t.Fatalf("schedule message: %v", err)
	}
	return msg
}
