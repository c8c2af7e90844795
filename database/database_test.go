package database_test

import (
	"sync"
	"testing"
	"time"

	"github.com/Programmerfd54/rocket-shelduer-sub002/access"
	"github.com/Programmerfd54/rocket-shelduer-sub002/database"
	"github.com/Programmerfd54/rocket-shelduer-sub002/database/dbtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeWorkspaceURL(t *testing.T) {
	assert.Equal(t, "https://chat.example.com", database.NormalizeWorkspaceURL("HTTPS://Chat.Example.com//"))
	assert.Equal(t, "https://chat.example.com", database.NormalizeWorkspaceURL(" https://chat.example.com "))
}

func TestRegisterAndAuthenticate(t *testing.T) {
	db := dbtest.Open(t)

	u, err := database.RegisterUser(db, "Ann", "Ann@Example.com", []byte("secret"), access.RoleSupport)
	require.NoError(t, err)
	assert.Equal(t, "ann@example.com", u.Email)
	assert.NotEmpty(t, u.UUID)

	got, err := database.Authenticate(db, "ann@example.com", "secret")
	require.NoError(t, err)
	assert.Equal(t, access.RoleSupport, got.Role)

	_, err = database.Authenticate(db, "ann@example.com", "wrong")
	assert.Error(t, err)

	_, err = database.RegisterUser(db, "x", "not-an-email", []byte("x"), access.RoleUser)
	assert.Error(t, err)
	_, err = database.RegisterUser(db, "x", "x@example.com", []byte("x"), access.Role("root"))
	assert.Error(t, err)
}

func TestCreateConnectionRejectsDuplicate(t *testing.T) {
	db := dbtest.Open(t)
	u := dbtest.User(t, db, "a@example.com", access.RoleUser)

	dbtest.Connection(t, db, u, "https://chat.example.com", "bot", "blob")
	err := database.CreateConnection(db, &database.WorkspaceConnection{
		UserID:            u.ID,
		BaseURL:           "https://CHAT.example.com/",
		Username:          "bot",
		EncryptedPassword: "blob",
	})
	assert.ErrorIs(t, err, database.ErrDuplicateConnection)
}

func TestPartialSessionRejected(t *testing.T) {
	db := dbtest.Open(t)
	u := dbtest.User(t, db, "a@example.com", access.RoleUser)
	conn := dbtest.Connection(t, db, u, "https://chat.example.com", "bot", "blob")

	token := "tok"
	conn.AuthToken = &token
	err := db.Save(conn).Error
	assert.ErrorIs(t, err, database.ErrPartialSession)
}

func TestSessionLifecycle(t *testing.T) {
	db := dbtest.Open(t)
	u := dbtest.User(t, db, "a@example.com", access.RoleUser)
	conn := dbtest.Connection(t, db, u, "https://chat.example.com", "bot", "blob")
	now := time.Now()

	require.NoError(t, database.SaveSession(db, conn, "tok", "rid", now))
	stored, err := database.FindConnectionByID(db, conn.ID)
	require.NoError(t, err)
	assert.True(t, stored.HasSession())
	token, rid := stored.SessionCredentials()
	assert.Equal(t, "tok", token)
	assert.Equal(t, "rid", rid)

	require.NoError(t, database.ClearSession(db, stored, now))
	stored, err = database.FindConnectionByID(db, conn.ID)
	require.NoError(t, err)
	assert.False(t, stored.HasSession())
	assert.False(t, stored.IsActive)
	assert.NotNil(t, stored.LastCheckedAt)
}

func TestDueMessagesBoundary(t *testing.T) {
	db := dbtest.Open(t)
	u := dbtest.User(t, db, "a@example.com", access.RoleUser)
	conn := dbtest.Connection(t, db, u, "https://chat.example.com", "bot", "blob")
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	exact := dbtest.Message(t, db, conn, "room", "exact", now)
	dbtest.Message(t, db, conn, "room", "later", now.Add(time.Millisecond))
	early := dbtest.Message(t, db, conn, "room", "early", now.Add(-time.Hour))

	due, err := database.DueMessages(db, now, 10)
	require.NoError(t, err)
	require.Len(t, due, 2)
	assert.Equal(t, early.ID, due[0].ID)
	assert.Equal(t, exact.ID, due[1].ID)
}

func TestDueMessagesAcrossTimezones(t *testing.T) {
	db := dbtest.Open(t)
	u := dbtest.User(t, db, "a@example.com", access.RoleUser)
	conn := dbtest.Connection(t, db, u, "https://chat.example.com", "bot", "blob")

	zone := time.FixedZone("UTC+3", 3*60*60)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	// 14:30 in UTC+3 is 11:30 UTC and therefore due.
	dbtest.Message(t, db, conn, "room", "due", time.Date(2026, 3, 1, 14, 30, 0, 0, zone))

	due, err := database.DueMessages(db, now, 10)
	require.NoError(t, err)
	assert.Len(t, due, 1)
}

func TestClaimMessageOnlyOnce(t *testing.T) {
	db := dbtest.Open(t)
	u := dbtest.User(t, db, "a@example.com", access.RoleUser)
	conn := dbtest.Connection(t, db, u, "https://chat.example.com", "bot", "blob")
	now := time.Now()
	msg := dbtest.Message(t, db, conn, "room", "hi", now.Add(-time.Minute))

	var wins int
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := database.ClaimMessage(db, msg.ID, now)
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)

	stored, err := database.FindMessageByID(db, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, database.StatusSending, stored.Status)
	assert.Equal(t, 1, stored.Attempts)
}

func TestMarkOutcomes(t *testing.T) {
	db := dbtest.Open(t)
	u := dbtest.User(t, db, "a@example.com", access.RoleUser)
	conn := dbtest.Connection(t, db, u, "https://chat.example.com", "bot", "blob")
	now := time.Now()

	sent := dbtest.Message(t, db, conn, "room", "a", now.Add(-time.Minute))
	failed := dbtest.Message(t, db, conn, "room", "b", now.Add(-time.Minute))

	// Finishing without a claim is refused.
	assert.ErrorIs(t, database.MarkSent(db, sent.ID, "", now), database.ErrNotClaimed)

	for _, id := range []uint{sent.ID, failed.ID} {
		ok, err := database.ClaimMessage(db, id, now)
		require.NoError(t, err)
		require.True(t, ok)
	}
	require.NoError(t, database.MarkSent(db, sent.ID, "remote-1", now))
	require.NoError(t, database.MarkFailed(db, failed.ID, "workspace unreachable"))

	s, err := database.FindMessageByID(db, sent.ID)
	require.NoError(t, err)
	assert.Equal(t, database.StatusSent, s.Status)
	assert.NotNil(t, s.SentAt)
	assert.Nil(t, s.Error)
	require.NotNil(t, s.RemoteMessageID)
	assert.Equal(t, "remote-1", *s.RemoteMessageID)

	f, err := database.FindMessageByID(db, failed.ID)
	require.NoError(t, err)
	assert.Equal(t, database.StatusFailed, f.Status)
	assert.Nil(t, f.SentAt)
	require.NotNil(t, f.Error)
	assert.Equal(t, "workspace unreachable", *f.Error)
}

func TestRetryMessageOnlyFromFailed(t *testing.T) {
	db := dbtest.Open(t)
	u := dbtest.User(t, db, "a@example.com", access.RoleUser)
	conn := dbtest.Connection(t, db, u, "https://chat.example.com", "bot", "blob")
	now := time.Now()
	msg := dbtest.Message(t, db, conn, "room", "a", now.Add(-time.Minute))

	ok, err := database.RetryMessage(db, msg.ID, now.Add(time.Minute))
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = database.ClaimMessage(db, msg.ID, now)
	require.NoError(t, err)
	require.NoError(t, database.MarkFailed(db, msg.ID, "boom"))

	ok, err = database.RetryMessage(db, msg.ID, now.Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, ok)

	stored, err := database.FindMessageByID(db, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, database.StatusPending, stored.Status)
	assert.Nil(t, stored.Error)
	assert.WithinDuration(t, now.Add(time.Minute), stored.ScheduledFor, time.Second)
}

func TestArchiveCancelsPendingOnly(t *testing.T) {
	db := dbtest.Open(t)
	u := dbtest.User(t, db, "a@example.com", access.RoleUser)
	conn := dbtest.Connection(t, db, u, "https://chat.example.com", "bot", "blob")
	other := dbtest.Connection(t, db, u, "https://other.example.com", "bot", "blob")
	now := time.Now()

	pending := dbtest.Message(t, db, conn, "room", "pending", now.Add(time.Hour))
	done := dbtest.Message(t, db, conn, "room", "done", now.Add(-time.Minute))
	untouched := dbtest.Message(t, db, other, "room", "other", now.Add(time.Hour))
	_, err := database.ClaimMessage(db, done.ID, now)
	require.NoError(t, err)
	require.NoError(t, database.MarkSent(db, done.ID, "", now))

	require.NoError(t, database.SaveSession(db, conn, "tok", "rid", now))

	cancelled, err := database.ArchiveConnection(db, conn.ID, now, 7*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), cancelled)

	p, _ := database.FindMessageByID(db, pending.ID)
	assert.Equal(t, database.StatusCancelled, p.Status)
	d, _ := database.FindMessageByID(db, done.ID)
	assert.Equal(t, database.StatusSent, d.Status)
	o, _ := database.FindMessageByID(db, untouched.ID)
	assert.Equal(t, database.StatusPending, o.Status)

	c, err := database.FindConnectionByID(db, conn.ID)
	require.NoError(t, err)
	assert.True(t, c.IsArchived)
	assert.False(t, c.HasSession())
	require.NotNil(t, c.ArchiveDeleteAt)

	_, err = database.ArchiveConnection(db, conn.ID, now, time.Hour)
	assert.ErrorIs(t, err, database.ErrConnectionArchived)

	err = database.ScheduleMessage(db, &database.ScheduledMessage{
		UserID: u.ID, ConnectionID: conn.ID, ChannelID: "room", Text: "x", ScheduledFor: now,
	})
	assert.ErrorIs(t, err, database.ErrConnectionArchived)
}

func TestPurgeArchivedConnections(t *testing.T) {
	db := dbtest.Open(t)
	u := dbtest.User(t, db, "a@example.com", access.RoleUser)
	conn := dbtest.Connection(t, db, u, "https://chat.example.com", "bot", "blob")
	now := time.Now()
	msg := dbtest.Message(t, db, conn, "room", "pending", now.Add(time.Hour))

	_, err := database.ArchiveConnection(db, conn.ID, now, time.Hour)
	require.NoError(t, err)

	purged, err := database.PurgeArchivedConnections(db, now)
	require.NoError(t, err)
	assert.Zero(t, purged)

	purged, err = database.PurgeArchivedConnections(db, now.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), purged)

	_, err = database.FindConnectionByID(db, conn.ID)
	assert.True(t, database.IsNotFound(err))
	_, err = database.FindMessageByID(db, msg.ID)
	assert.True(t, database.IsNotFound(err))
}

func TestBlockUserArchivesConnections(t *testing.T) {
	db := dbtest.Open(t)
	u := dbtest.User(t, db, "a@example.com", access.RoleUser)
	conn := dbtest.Connection(t, db, u, "https://chat.example.com", "bot", "blob")
	now := time.Now()
	dbtest.Message(t, db, conn, "room", "a", now.Add(time.Hour))
	dbtest.Message(t, db, conn, "room", "b", now.Add(2*time.Hour))

	cancelled, err := database.BlockUser(db, u.ID, now, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(2), cancelled)

	_, err = database.Authenticate(db, "a@example.com", "password")
	assert.Error(t, err)

	c, err := database.FindConnectionByID(db, conn.ID)
	require.NoError(t, err)
	assert.True(t, c.IsArchived)
}

func TestRecoverStaleClaims(t *testing.T) {
	db := dbtest.Open(t)
	u := dbtest.User(t, db, "a@example.com", access.RoleUser)
	conn := dbtest.Connection(t, db, u, "https://chat.example.com", "bot", "blob")
	now := time.Now()
	msg := dbtest.Message(t, db, conn, "room", "a", now.Add(-time.Hour))

	_, err := database.ClaimMessage(db, msg.ID, now.Add(-30*time.Minute))
	require.NoError(t, err)

	n, err := database.RecoverStaleClaims(db, now.Add(-time.Hour), "delivery interrupted")
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = database.RecoverStaleClaims(db, now.Add(-10*time.Minute), "delivery interrupted")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	stored, _ := database.FindMessageByID(db, msg.ID)
	assert.Equal(t, database.StatusFailed, stored.Status)
	require.NotNil(t, stored.Error)
	assert.Equal(t, "delivery interrupted", *stored.Error)
}

func TestConnectionsVisibleTo(t *testing.T) {
	db := dbtest.Open(t)
	owner := dbtest.User(t, db, "owner@example.com", access.RoleUser)
	other := dbtest.User(t, db, "other@example.com", access.RoleUser)
	admin := dbtest.User(t, db, "admin@example.com", access.RoleAdmin)
	conn := dbtest.Connection(t, db, owner, "https://chat.example.com", "bot", "blob")

	visible, err := database.ConnectionsVisibleTo(db, other.ID, false)
	require.NoError(t, err)
	assert.Empty(t, visible)

	assert.ErrorIs(t, database.AssignConnection(db, conn, owner.ID, admin.ID), database.ErrSelfAssignment)
	require.NoError(t, database.AssignConnection(db, conn, other.ID, admin.ID))
	require.NoError(t, database.AssignConnection(db, conn, other.ID, admin.ID))

	visible, err = database.ConnectionsVisibleTo(db, other.ID, false)
	require.NoError(t, err)
	require.Len(t, visible, 1)
	assert.Equal(t, conn.ID, visible[0].ID)

	ok, err := database.IsAssigned(db, conn.ID, other.ID)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSessions(t *testing.T) {
	db := dbtest.Open(t)
	u := dbtest.User(t, db, "a@example.com", access.RoleUser)
	now := time.Now()

	_, err := database.CreateSession(db, u.ID, "live", now.Add(time.Hour))
	require.NoError(t, err)
	_, err = database.CreateSession(db, u.ID, "old", now.Add(-time.Hour))
	require.NoError(t, err)

	got, err := database.SessionUser(db, "live", now)
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)

	_, err = database.SessionUser(db, "old", now)
	assert.True(t, database.IsNotFound(err))

	n, err := database.PruneExpiredSessions(db, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = database.BlockUser(db, u.ID, now, time.Hour)
	require.NoError(t, err)
	_, err = database.SessionUser(db, "live", now)
	assert.True(t, database.IsNotFound(err))
}
