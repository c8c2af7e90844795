package rocketchat_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Programmerfd54/rocket-shelduer-sub002/rocketchat"
	"github.com/Programmerfd54/rocket-shelduer-sub002/rocketchat/rctest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newWorkspace(t *testing.T) (*rctest.Server, *rocketchat.Client) {
	t.Helper()
	srv := rctest.NewServer()
	t.Cleanup(srv.Close)
	srv.AddAccount("alice", "correct horse")
	return srv, rocketchat.NewClient(srv.URL+"/", rocketchat.WithTimeout(2*time.Second))
}

func TestLogin(t *testing.T) {
	_, c := newWorkspace(t)
	ctx := context.Background()

	s, err := c.Login(ctx, "alice", "correct horse")
	require.NoError(t, err)
	assert.True(t, s.Valid())
	assert.Equal(t, "uid-alice", s.UserID)

	_, err = c.Login(ctx, "alice", "wrong")
	require.Error(t, err)
	assert.True(t, rocketchat.IsAuth(err))
	assert.NotContains(t, err.Error(), "wrong")
}

func TestLoginBadRequestIsAuthFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"status":"error","error":"totp-required"}`))
	}))
	defer srv.Close()

	_, err := rocketchat.NewClient(srv.URL).Login(context.Background(), "bob", "pw")
	assert.True(t, rocketchat.IsAuth(err))
}

func TestTestConnection(t *testing.T) {
	srv, c := newWorkspace(t)
	ctx := context.Background()

	s, err := c.Login(ctx, "alice", "correct horse")
	require.NoError(t, err)

	ok, err := c.TestConnection(ctx, s)
	require.NoError(t, err)
	assert.True(t, ok)

	srv.ExpireSessions()
	ok, err = c.TestConnection(ctx, s)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = c.TestConnection(ctx, rocketchat.Session{})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTestConnectionUnreachableRaises(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	ok, err := rocketchat.NewClient(url).TestConnection(context.Background(), rocketchat.Session{Token: "t", UserID: "u"})
	require.Error(t, err)
	assert.False(t, ok)
	assert.True(t, rocketchat.IsTransport(err))
}

func TestPostMessage(t *testing.T) {
	srv, c := newWorkspace(t)
	ctx := context.Background()
	s, err := c.Login(ctx, "alice", "correct horse")
	require.NoError(t, err)

	posted, err := c.PostMessage(ctx, s, "room-1", "hello")
	require.NoError(t, err)
	assert.NotEmpty(t, posted.ID)
	assert.Equal(t, "room-1", posted.RoomID)

	_, err = c.PostMessage(ctx, s, "#general", "by name")
	require.NoError(t, err)

	sent := srv.Posted()
	require.Len(t, sent, 2)
	assert.Equal(t, "room-1", sent[0].RoomID)
	assert.Equal(t, "#general", sent[1].Channel)
	assert.Equal(t, "uid-alice", sent[0].UserID)
}

func TestPostMessageFailureKinds(t *testing.T) {
	srv, c := newWorkspace(t)
	ctx := context.Background()
	s, err := c.Login(ctx, "alice", "correct horse")
	require.NoError(t, err)

	srv.UnknownRooms["gone"] = true
	_, err = c.PostMessage(ctx, s, "gone", "hi")
	assert.True(t, rocketchat.IsSemantic(err))

	_, err = c.PostMessage(ctx, s, "  ", "hi")
	assert.True(t, rocketchat.IsSemantic(err))

	srv.ExpireSessions()
	_, err = c.PostMessage(ctx, s, "room-1", "hi")
	require.Error(t, err)
	assert.True(t, rocketchat.IsAuth(err))
	assert.NotContains(t, err.Error(), s.Token)
}

func TestServerErrorIsTransport(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := rocketchat.NewClient(srv.URL).PostMessage(context.Background(), rocketchat.Session{Token: "t", UserID: "u"}, "room", "x")

	var rcErr *rocketchat.Error
	require.True(t, errors.As(err, &rcErr))
	assert.Equal(t, rocketchat.KindTransport, rcErr.Kind)
	assert.Equal(t, http.StatusBadGateway, rcErr.Status)
}

func TestCallTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	start := time.Now()
	_, err := rocketchat.NewClient(srv.URL, rocketchat.WithTimeout(100*time.Millisecond)).
		PostMessage(context.Background(), rocketchat.Session{Token: "t", UserID: "u"}, "room", "x")

	require.Error(t, err)
	assert.True(t, rocketchat.IsTransport(err))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestRemoteMessageIsTruncated(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"success":false,"error":"` + strings.Repeat("a", 1000) + `"}`))
	}))
	defer srv.Close()

	_, err := rocketchat.NewClient(srv.URL).GetEmojis(context.Background(), rocketchat.Session{Token: "t", UserID: "u"})
	require.Error(t, err)
	assert.Less(t, len(err.Error()), 400)
}

func TestGetChannelsPaginatesAndCaps(t *testing.T) {
	srv, _ := newWorkspace(t)
	ctx := context.Background()
	srv.SetChannelCount(25)

	c := rocketchat.NewClient(srv.URL, rocketchat.WithPageSize(10))
	s, err := c.Login(ctx, "alice", "correct horse")
	require.NoError(t, err)

	channels, err := c.GetChannels(ctx, s)
	require.NoError(t, err)
	assert.Len(t, channels, 25)

	capped := rocketchat.NewClient(srv.URL, rocketchat.WithPageSize(10), rocketchat.WithMaxPages(2))
	channels, err = capped.GetChannels(ctx, s)
	require.NoError(t, err)
	assert.Len(t, channels, 20)
}

func TestSecondaryCalls(t *testing.T) {
	srv, c := newWorkspace(t)
	ctx := context.Background()
	s, err := c.Login(ctx, "alice", "correct horse")
	require.NoError(t, err)

	emojis, err := c.GetEmojis(ctx, s)
	require.NoError(t, err)
	require.Len(t, emojis, 1)
	assert.Equal(t, "shipit", emojis[0].Name)

	roles, err := c.ListRoles(ctx, s)
	require.NoError(t, err)
	assert.Len(t, roles, 3)

	created, err := c.CreateUser(ctx, s, rocketchat.NewUser{Name: "Bob", Username: "bob", Email: "bob@example.com", Password: "pw", Active: true})
	require.NoError(t, err)
	assert.Equal(t, "uid-bob", created.ID)

	_, err = c.CreateUser(ctx, s, rocketchat.NewUser{Name: "Bob", Username: "bob", Email: "bob@example.com", Password: "pw"})
	assert.True(t, rocketchat.IsSemantic(err))

	_, err = c.CreateUser(ctx, s, rocketchat.NewUser{Username: "nobody"})
	assert.True(t, rocketchat.IsSemantic(err))

	users, err := c.ListUsers(ctx, s)
	require.NoError(t, err)
	assert.Len(t, users, 2)

	info, err := c.GetUserInfo(ctx, s, "uid-bob")
	require.NoError(t, err)
	assert.Equal(t, "bob", info.Username)

	require.NoError(t, c.InviteUserToRoom(ctx, s, "room-0", "uid-bob"))
	assert.Equal(t, [][2]string{{"room-0", "uid-bob"}}, srv.Invites())

	require.NoError(t, c.AddUserToRole(ctx, s, "moderator", "bob"))
	assert.Equal(t, [][2]string{{"moderator", "bob"}}, srv.Granted())

	err = c.AddUserToRole(ctx, s, "moderator", "ghost")
	assert.True(t, rocketchat.IsSemantic(err))
}

func TestSessionIsNotShared(t *testing.T) {
	srv, c := newWorkspace(t)
	srv.AddAccount("carol", "pw2")
	ctx := context.Background()

	alice, err := c.Login(ctx, "alice", "correct horse")
	require.NoError(t, err)
	carol, err := c.Login(ctx, "carol", "pw2")
	require.NoError(t, err)

	_, err = c.PostMessage(ctx, alice, "room-0", "from alice")
	require.NoError(t, err)
	_, err = c.PostMessage(ctx, carol, "room-0", "from carol")
	require.NoError(t, err)

	posted := srv.Posted()
	require.Len(t, posted, 2)
	assert.Equal(t, "uid-alice", posted[0].UserID)
	assert.Equal(t, "uid-carol", posted[1].UserID)
}

func TestForbiddenIsSemantic(t *testing.T) {
	srv, c := newWorkspace(t)
	ctx := context.Background()
	s, err := c.Login(ctx, "alice", "correct horse")
	require.NoError(t, err)

	srv.ForbiddenRooms["locked"] = true
	_, err = c.PostMessage(ctx, s, "locked", "hi")

	var rcErr *rocketchat.Error
	require.True(t, errors.As(err, &rcErr))
	assert.Equal(t, rocketchat.KindSemantic, rcErr.Kind)
	assert.Equal(t, http.StatusForbidden, rcErr.Status)
	assert.Equal(t, "error-not-allowed", rcErr.Message)
}

func TestTestConnectionForbiddenKeepsSession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"success":false,"error":"error-not-allowed"}`))
	}))
	defer srv.Close()

	ok, err := rocketchat.NewClient(srv.URL).TestConnection(context.Background(), rocketchat.Session{Token: "t", UserID: "u"})
	require.Error(t, err)
	assert.False(t, ok)
	assert.True(t, rocketchat.IsSemantic(err))
}

func TestCrossHostRedirectIsRefused(t *testing.T) {
	var leaked []string
	other := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		leaked = append(leaked, r.Header.Get("X-Auth-Token"))
		w.Write([]byte(`{"_id":"u"}`))
	}))
	defer other.Close()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, strings.Replace(other.URL, "127.0.0.1", "localhost", 1)+r.URL.Path, http.StatusFound)
	}))
	defer srv.Close()

	_, err := rocketchat.NewClient(srv.URL).TestConnection(context.Background(), rocketchat.Session{Token: "secret-token", UserID: "u"})
	require.Error(t, err)
	assert.True(t, rocketchat.IsTransport(err))
	assert.Empty(t, leaked)
}
