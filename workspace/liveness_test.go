package workspace_test

import (
	"context"
	"testing"
	"time"

	"github.com/Programmerfd54/rocket-shelduer-sub002/access"
	"github.com/Programmerfd54/rocket-shelduer-sub002/database"
	"github.com/Programmerfd54/rocket-shelduer-sub002/database/dbtest"
	"github.com/Programmerfd54/rocket-shelduer-sub002/rocketchat"
	"github.com/Programmerfd54/rocket-shelduer-sub002/rocketchat/rctest"
	"github.com/Programmerfd54/rocket-shelduer-sub002/workspace"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLiveness(t *testing.T) {
	ws := rctest.NewServer()
	defer ws.Close()
	ws.AddAccount("bot", "pw")

	db := dbtest.Open(t)
	owner := dbtest.User(t, db, "owner@example.com", access.RoleUser)
	conn := dbtest.Connection(t, db, owner, ws.URL, "bot", "blob")
	token, rid := ws.IssueToken("bot")
	require.NoError(t, database.SaveSession(db, conn, token, rid, time.Now()))
	client := rocketchat.NewClient(ws.URL)

	live, err := workspace.CheckLiveness(context.Background(), db, conn, client, time.Now())
	require.NoError(t, err)
	assert.True(t, live)

	ws.ExpireSessions()
	live, err = workspace.CheckLiveness(context.Background(), db, conn, client, time.Now())
	require.NoError(t, err)
	assert.False(t, live)

	stored, err := database.FindConnectionByID(db, conn.ID)
	require.NoError(t, err)
	assert.False(t, stored.HasSession())
	assert.False(t, stored.IsActive)
}

func TestLivenessUnreachableKeepsSession(t *testing.T) {
	ws := rctest.NewServer()
	ws.AddAccount("bot", "pw")
	token, rid := ws.IssueToken("bot")
	url := ws.URL
	ws.Close()

	db := dbtest.Open(t)
	owner := dbtest.User(t, db, "owner@example.com", access.RoleUser)
	conn := dbtest.Connection(t, db, owner, url, "bot", "blob")
	require.NoError(t, database.SaveSession(db, conn, token, rid, time.Now()))

	_, err := workspace.CheckLiveness(context.Background(), db, conn, rocketchat.NewClient(url), time.Now())
	assert.True(t, rocketchat.IsTransport(err))

	stored, err := database.FindConnectionByID(db, conn.ID)
	require.NoError(t, err)
	assert.True(t, stored.HasSession())
}
