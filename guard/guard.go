// Package guard gates the endpoints that trigger dispatch or accept
// workspace credentials.
package guard

import (
	"crypto/subtle"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/Programmerfd54/rocket-shelduer-sub002/database"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"gorm.io/gorm"
)

const (
	maxUsernameLength = 256
	maxPasswordLength = 1024
	limiterIdleAfter  = 10 * time.Minute
)

var ErrSuspiciousInput = errors.New("suspicious credential input")

// Markers of injection attempts against the remote login.
var suspiciousMarkers = []string{
	"$ne", "$gt", "$lt", "$regex", "$where", "$or", "$and", "$exists",
	"' or ", "\" or ", "--", "/*", ";drop ", "union select", "<script",
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

type Guard struct {
	db             *gorm.DB
	dispatchSecret string
	perMinute      int
	logger         *zap.Logger
	now            func() time.Time

	mu        sync.Mutex
	visitors  map[string]*visitor
	lastSweep time.Time
}

type Option func(*Guard)

func WithLogger(l *zap.Logger) Option {
	return func(g *Guard) { g.logger = l }
}

func WithClock(now func() time.Time) Option {
	return func(g *Guard) { g.now = now }
}

// New returns a guard allowing perMinute requests per client address on
// rate limited routes. An empty dispatchSecret disables the bearer routes.
func New(db *gorm.DB, dispatchSecret string, perMinute int, opts ...Option) *Guard {
	if perMinute <= 0 {
		perMinute = 30
	}
	g := &Guard{
		db:             db,
		dispatchSecret: dispatchSecret,
		perMinute:      perMinute,
		logger:         zap.L(),
		now:            time.Now,
		visitors:       make(map[string]*visitor),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// RequireBearer admits requests carrying the dispatch secret as a bearer token.
func (g *Guard) RequireBearer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if g.dispatchSecret == "" {
			http.Error(w, "Dispatch trigger is not configured", http.StatusServiceUnavailable)
			return
		}

		token, ok := bearerToken(r)
		if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(g.dispatchSecret)) != 1 {
			detail := "mismatched bearer token"
			if !ok {
				detail = "missing bearer token"
			}
			g.Record(r, database.EventBearerRejected, detail, nil)
			w.Header().Set("WWW-Authenticate", "Bearer")
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// HasBearer reports whether r carries the dispatch secret. Used where a
// route accepts either the secret or a session.
func (g *Guard) HasBearer(r *http.Request) bool {
	token, ok := bearerToken(r)
	return ok && g.dispatchSecret != "" && subtle.ConstantTimeCompare([]byte(token), []byte(g.dispatchSecret)) == 1
}

// RateLimit applies the per address token bucket.
func (g *Guard) RateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !g.Allow(ClientIP(r)) {
			g.Record(r, database.EventRateLimited, "", nil)
			w.Header().Set("Retry-After", "60")
			http.Error(w, "Too many requests", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (g *Guard) Allow(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if now.Sub(g.lastSweep) > time.Minute {
		g.sweepLocked(now)
	}

	v, ok := g.visitors[key]
	if !ok {
		every := time.Minute / time.Duration(g.perMinute)
		v = &visitor{limiter: rate.NewLimiter(rate.Every(every), g.perMinute)}
		g.visitors[key] = v
	}
	v.lastSeen = now
	return v.limiter.AllowN(now, 1)
}

func (g *Guard) sweepLocked(now time.Time) {
	for key, v := range g.visitors {
		if now.Sub(v.lastSeen) > limiterIdleAfter {
			delete(g.visitors, key)
		}
	}
	g.lastSweep = now
}

// InspectCredentials rejects credential input that is oversized, carries
// control characters or looks like an injection attempt. Rejections are
// recorded without the input itself.
func (g *Guard) InspectCredentials(r *http.Request, username, password string) error {
	reason := inspect(username, password)
	if reason == "" {
		return nil
	}
	g.Record(r, database.EventSuspiciousInput, reason, nil)
	return ErrSuspiciousInput
}

func inspect(username, password string) string {
	switch {
	case username == "" || password == "":
		return "empty credentials"
	case len(username) > maxUsernameLength:
		return "oversized username"
	case len(password) > maxPasswordLength:
		return "oversized password"
	case hasControl(username) || hasControl(password):
		return "control characters"
	case strings.HasPrefix(username, "$") || strings.HasPrefix(username, "{"):
		return "operator in username"
	}
	lower := strings.ToLower(username)
	for _, marker := range suspiciousMarkers {
		if strings.Contains(lower, marker) {
			return "injection marker in username"
		}
	}
	return ""
}

func hasControl(s string) bool {
	for _, r := range s {
		if unicode.IsControl(r) {
			return true
		}
	}
	return false
}

// Record logs and persists a security event. Storage errors are only logged.
func (g *Guard) Record(r *http.Request, kind database.SecurityEventKind, detail string, userID *uint) {
	ip := ClientIP(r)
	g.logger.Warn("security event",
		zap.String("kind", string(kind)),
		zap.String("remote", ip),
		zap.String("path", r.URL.Path),
		zap.String("detail", detail),
	)
	if g.db == nil {
		return
	}
	err := database.RecordSecurityEvent(g.db.WithContext(r.Context()), database.SecurityEvent{
		CreatedAt:  g.now().UTC(),
		Kind:       kind,
		RemoteAddr: ip,
		Path:       r.URL.Path,
		UserID:     userID,
		Detail:     detail,
	})
	if err != nil {
		g.logger.Error("record security event", zap.Error(err))
	}
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if len(header) < 7 || !strings.EqualFold(header[:7], "bearer ") {
		return "", false
	}
	token := strings.TrimSpace(header[7:])
	return token, token != ""
}

// ClientIP is the host part of the request's remote address.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
