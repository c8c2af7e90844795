package workspace

import (
	"context"
	"time"

	"github.com/Programmerfd54/rocket-shelduer-sub002/database"
	"github.com/Programmerfd54/rocket-shelduer-sub002/rocketchat"
	"gorm.io/gorm"
)

// Tester is the liveness part of the workspace client.
type Tester interface {
	TestConnection(ctx context.Context, s rocketchat.Session) (bool, error)
}

// CheckLiveness checks the cached session of conn and records the outcome. A
// rejected session is cleared; transport errors are returned and leave the
// stored state untouched.
func CheckLiveness(ctx context.Context, DB *gorm.DB, conn *database.WorkspaceConnection, tester Tester, now time.Time) (bool, error) {
	if !conn.HasSession() {
		return false, database.MarkInactive(DB, conn, now)
	}

	token, userID := conn.SessionCredentials()
	live, err := tester.TestConnection(ctx, rocketchat.Session{Token: token, UserID: userID})
	if err != nil {
		return false, err
	}
	if !live {
		return false, database.ClearSession(DB, conn, now)
	}
	return true, database.MarkActive(DB, conn, now)
}
