package guard_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Programmerfd54/rocket-shelduer-sub002/database"
	"github.com/Programmerfd54/rocket-shelduer-sub002/database/dbtest"
	"github.com/Programmerfd54/rocket-shelduer-sub002/guard"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var ok = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func TestRequireBearer(t *testing.T) {
	db := dbtest.Open(t)
	g := guard.New(db, "s3cret", 30, guard.WithLogger(zap.NewNop()))
	h := g.RequireBearer(ok)

	for _, tc := range []struct {
		header string
		want   int
	}{
		{"", http.StatusUnauthorized},
		{"Bearer wrong", http.StatusUnauthorized},
		{"Basic s3cret", http.StatusUnauthorized},
		{"Bearer s3cret", http.StatusOK},
		{"bearer s3cret", http.StatusOK},
	} {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/dispatch/run", nil)
		if tc.header != "" {
			req.Header.Set("Authorization", tc.header)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, tc.want, rec.Code, tc.header)
	}

	events, err := database.RecentSecurityEvents(db, 10)
	require.NoError(t, err)
	assert.Len(t, events, 3)
	for _, e := range events {
		assert.Equal(t, database.EventBearerRejected, e.Kind)
		assert.NotContains(t, e.Detail, "wrong")
	}
}

func TestRequireBearerDisabledWithoutSecret(t *testing.T) {
	g := guard.New(nil, "", 30, guard.WithLogger(zap.NewNop()))
	req := httptest.NewRequest(http.MethodGet, "/api/v1/dispatch/run", nil)
	req.Header.Set("Authorization", "Bearer ")
	rec := httptest.NewRecorder()
	g.RequireBearer(ok).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.False(t, g.HasBearer(req))
}

func TestRateLimit(t *testing.T) {
	db := dbtest.Open(t)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	g := guard.New(db, "x", 3, guard.WithLogger(zap.NewNop()), guard.WithClock(func() time.Time { return now }))
	h := g.RateLimit(ok)

	do := func(addr string) int {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/messages/x/retry", nil)
		req.RemoteAddr = addr
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusOK, do("10.0.0.1:1234"))
	}
	assert.Equal(t, http.StatusTooManyRequests, do("10.0.0.1:5555"))
	assert.Equal(t, http.StatusOK, do("10.0.0.2:1234"))

	now = now.Add(time.Minute)
	assert.Equal(t, http.StatusOK, do("10.0.0.1:1234"))

	events, err := database.RecentSecurityEvents(db, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, database.EventRateLimited, events[0].Kind)
	assert.Equal(t, "10.0.0.1", events[0].RemoteAddr)
}

func TestInspectCredentials(t *testing.T) {
	db := dbtest.Open(t)
	g := guard.New(db, "x", 30, guard.WithLogger(zap.NewNop()))
	req := httptest.NewRequest(http.MethodPost, "/api/v1/connections", nil)

	assert.NoError(t, g.InspectCredentials(req, "bot", "correct horse"))
	assert.NoError(t, g.InspectCredentials(req, "bot.user@example.com", "p4$$word"))

	for _, tc := range []struct{ user, pass string }{
		{"", "pw"},
		{"bot", ""},
		{strings.Repeat("a", 300), "pw"},
		{"bot", strings.Repeat("a", 2000)},
		{"bot\x00", "pw"},
		{"$ne", "pw"},
		{`{"$gt": ""}`, "pw"},
		{"admin' OR 1=1 --", "pw"},
	} {
		assert.ErrorIs(t, g.InspectCredentials(req, tc.user, tc.pass), guard.ErrSuspiciousInput, tc.user)
	}

	events, err := database.RecentSecurityEvents(db, 20)
	require.NoError(t, err)
	assert.Len(t, events, 8)
	for _, e := range events {
		assert.NotContains(t, e.Detail, "OR 1=1")
	}
}
