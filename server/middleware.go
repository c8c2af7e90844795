package server

// Some stuff stolen from 'https://github.com/dreamsofcode-io/nethttp'
import (
	"net/http"
	"time"

	"github.com/Programmerfd54/rocket-shelduer-sub002/access"
	"github.com/Programmerfd54/rocket-shelduer-sub002/api"
	"github.com/Programmerfd54/rocket-shelduer-sub002/database"
	"github.com/Programmerfd54/rocket-shelduer-sub002/guard"
	"github.com/Programmerfd54/rocket-shelduer-sub002/server/util"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Middleware func(http.Handler) http.Handler

func CreateStack(xs ...Middleware) Middleware {
	return func(next http.Handler) http.Handler {
		for i := len(xs) - 1; i >= 0; i-- {
			x := xs[i]
			next = x(next)
		}

		return next
	}
}

type wrappedWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *wrappedWriter) WriteHeader(statusCode int) {
	w.ResponseWriter.WriteHeader(statusCode)
	w.statusCode = statusCode
}

// Unwrap lets http.ResponseController reach the hijacker for websockets.
func (w *wrappedWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

func Logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapped := &wrappedWriter{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		next.ServeHTTP(wrapped, r)

		zap.L().Info("request",
			zap.Int("status", wrapped.statusCode),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Duration("latency", time.Since(start)))
	})
}

func DBMiddleware(DB *gorm.DB) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(util.WithDB(r.Context(), DB)))
		})
	}
}

// AuthMiddleware resolves the session token to a non-blocked user. Requests
// without a valid session are rejected.
func AuthMiddleware(DB *gorm.DB) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := api.SessionTokenFromRequest(r)
			if token == "" {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			user, err := database.SessionUser(DB.WithContext(r.Context()), token, time.Now())
			if err != nil {
				if !database.IsNotFound(err) {
					zap.L().Error("session lookup", zap.Error(err))
				}
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			ctx := util.WithDB(r.Context(), DB)
			ctx = util.WithUser(ctx, user)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// DispatchTriggerMiddleware admits the dispatch bearer secret, or a session
// whose user may trigger dispatch. Anything else gets the bearer check's
// answer.
func DispatchTriggerMiddleware(DB *gorm.DB, g *guard.Guard) Middleware {
	return func(next http.Handler) http.Handler {
		bearer := g.RequireBearer(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if g.HasBearer(r) {
				next.ServeHTTP(w, r)
				return
			}

			token := api.SessionTokenFromRequest(r)
			if token == "" {
				bearer.ServeHTTP(w, r)
				return
			}

			user, err := database.SessionUser(DB.WithContext(r.Context()), token, time.Now())
			if err != nil {
				if !database.IsNotFound(err) {
					zap.L().Error("session lookup", zap.Error(err))
				}
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			if !user.Can(access.CapTriggerDispatch) {
				g.Record(r, database.EventPermissionDenied, "dispatch trigger", &user.ID)
				http.Error(w, "Not allowed to trigger dispatch", http.StatusForbidden)
				return
			}

			ctx := util.WithDB(r.Context(), DB)
			ctx = util.WithUser(ctx, user)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
