// Package workspace decides which stored connection a principal may use for
// remote calls against a workspace.
package workspace

import (
	"context"

	"github.com/Programmerfd54/rocket-shelduer-sub002/access"
	"github.com/Programmerfd54/rocket-shelduer-sub002/database"
	"gorm.io/gorm"
)

// NormalizeURL lower-cases the url and strips whitespace and trailing slashes.
func NormalizeURL(raw string) string {
	return database.NormalizeWorkspaceURL(raw)
}

// Resolve looks up the target connection and returns the connection whose
// session principalID may use against the same workspace. The boolean is
// false when there is none; a session of another principal is never
// returned, even when principalID is assigned to the target.
func Resolve(ctx context.Context, DB *gorm.DB, principalID uint, connectionID uint) (*database.WorkspaceConnection, bool, error) {
	target, err := database.FindConnectionByID(DB.WithContext(ctx), connectionID)
	if err != nil {
		if database.IsNotFound(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return ResolveTarget(ctx, DB, principalID, target)
}

// ResolveTarget is Resolve for an already loaded target.
func ResolveTarget(ctx context.Context, DB *gorm.DB, principalID uint, target *database.WorkspaceConnection) (*database.WorkspaceConnection, bool, error) {
	if target.IsArchived {
		return nil, false, nil
	}
	if target.UserID == principalID && target.HasSession() {
		return target, true, nil
	}

	own, err := database.OwnConnectionsByURL(DB.WithContext(ctx), principalID, NormalizeURL(target.BaseURL))
	if err != nil {
		return nil, false, err
	}
	for i := range own {
		if own[i].HasSession() {
			return &own[i], true, nil
		}
	}
	return nil, false, nil
}

// CanAccess reports whether user may act on conn at all: as its owner, as an
// assignee, or through a role that can see every connection.
func CanAccess(DB *gorm.DB, user *database.User, conn *database.WorkspaceConnection) (bool, error) {
	if user.IsBlocked {
		return false, nil
	}
	if conn.UserID == user.ID || user.Can(access.CapViewAnyConnection) {
		return true, nil
	}
	return database.IsAssigned(DB, conn.ID, user.ID)
}

// CanArchive reports whether user may archive conn.
func CanArchive(user *database.User, conn *database.WorkspaceConnection) bool {
	if conn.UserID == user.ID {
		return user.Can(access.CapManageOwnConnections)
	}
	return user.Can(access.CapArchiveAnyConnection)
}
