package dispatch_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/Programmerfd54/rocket-shelduer-sub002/access"
	"github.com/Programmerfd54/rocket-shelduer-sub002/database"
	"github.com/Programmerfd54/rocket-shelduer-sub002/database/dbtest"
	"github.com/Programmerfd54/rocket-shelduer-sub002/dispatch"
	"github.com/Programmerfd54/rocket-shelduer-sub002/rocketchat"
	"github.com/Programmerfd54/rocket-shelduer-sub002/vault"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func failedMessage(t *testing.T, f *fixture, conn *database.WorkspaceConnection) *database.ScheduledMessage {
	t.Helper()
	now := time.Now()
	msg := dbtest.Message(t, f.db, conn, "room-0", "x", now.Add(-time.Minute))
	ok, err := database.ClaimMessage(f.db, msg.ID, now)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, database.MarkFailed(f.db, msg.ID, dispatch.MsgUnreachable))
	return msg
}

func TestRetryFailedMessage(t *testing.T) {
	f := newFixture(t)
	conn := dbtest.Connection(t, f.db, f.owner, "https://chat.example.com", "bot", "blob")
	msg := failedMessage(t, f, conn)

	now := time.Now()
	got, err := dispatch.Retry(context.Background(), f.db, f.owner, msg.UUID, now)
	require.NoError(t, err)
	assert.Equal(t, database.StatusPending, got.Status)
	assert.Nil(t, got.Error)
	assert.Nil(t, got.SentAt)
	assert.WithinDuration(t, now.Add(dispatch.RetryDelay), got.ScheduledFor, time.Second)

	_, err = dispatch.Retry(context.Background(), f.db, f.owner, msg.UUID, now)
	assert.ErrorIs(t, err, dispatch.ErrNotRetryable)
}

func TestRetryRejectsNonFailed(t *testing.T) {
	f := newFixture(t)
	conn := dbtest.Connection(t, f.db, f.owner, "https://chat.example.com", "bot", "blob")
	msg := dbtest.Message(t, f.db, conn, "room-0", "x", time.Now().Add(time.Hour))

	_, err := dispatch.Retry(context.Background(), f.db, f.owner, msg.UUID, time.Now())
	assert.ErrorIs(t, err, dispatch.ErrNotRetryable)
}

func TestRetryCapabilities(t *testing.T) {
	f := newFixture(t)
	conn := dbtest.Connection(t, f.db, f.owner, "https://chat.example.com", "bot", "blob")
	msg := failedMessage(t, f, conn)

	stranger := dbtest.User(t, f.db, "stranger@example.com", access.RoleUser)
	_, err := dispatch.Retry(context.Background(), f.db, stranger, msg.UUID, time.Now())
	assert.ErrorIs(t, err, dispatch.ErrForbidden)

	support := dbtest.User(t, f.db, "support@example.com", access.RoleSupport)
	got, err := dispatch.Retry(context.Background(), f.db, support, msg.UUID, time.Now())
	require.NoError(t, err)
	assert.Equal(t, database.StatusPending, got.Status)
}

func TestRetryOnArchivedConnection(t *testing.T) {
	f := newFixture(t)
	conn := dbtest.Connection(t, f.db, f.owner, "https://chat.example.com", "bot", "blob")
	msg := failedMessage(t, f, conn)
	_, err := database.ArchiveConnection(f.db, conn.ID, time.Now(), time.Hour)
	require.NoError(t, err)

	_, err = dispatch.Retry(context.Background(), f.db, f.owner, msg.UUID, time.Now())
	assert.ErrorIs(t, err, dispatch.ErrNotRetryable)
}

func TestRetryUnknownMessage(t *testing.T) {
	f := newFixture(t)
	_, err := dispatch.Retry(context.Background(), f.db, f.owner, "00000000-0000-0000-0000-000000000000", time.Now())
	assert.True(t, database.IsNotFound(err))
}

func TestClassify(t *testing.T) {
	for _, tc := range []struct {
		err  error
		kind dispatch.Kind
		msg  string
	}{
		{&rocketchat.Error{Kind: rocketchat.KindTransport}, dispatch.KindUnreachable, dispatch.MsgUnreachable},
		{&rocketchat.Error{Kind: rocketchat.KindAuth}, dispatch.KindAuth, dispatch.MsgAuthFailed},
		{fmt.Errorf("post: %w", &rocketchat.Error{Kind: rocketchat.KindSemantic, Message: "secret detail"}), dispatch.KindRejected, dispatch.MsgRejected},
		{vault.ErrDecryptionFailed, dispatch.KindCredentials, dispatch.MsgCredentials},
		{dispatch.ErrConnectionUnavailable, dispatch.KindInternal, dispatch.MsgConnectionUnavailable},
		{context.DeadlineExceeded, dispatch.KindUnreachable, dispatch.MsgUnreachable},
		{errors.New("password=hunter2"), dispatch.KindInternal, dispatch.MsgInternal},
	} {
		kind, msg := dispatch.Classify(tc.err)
		assert.Equal(t, tc.kind, kind, tc.err.Error())
		assert.Equal(t, tc.msg, msg)
	}
}
