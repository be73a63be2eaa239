package handlers

import (
	"context"
	"net/http"
	"sync"
	"time"

	"mcp-chat/internal/auth"
	"mcp-chat/internal/config"
	"mcp-chat/internal/logger"
	"mcp-chat/internal/service/session"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

type contextKey string

const sessionContextKey contextKey = "session"

const limiterIdleTTL = 10 * time.Minute

// EnableCORS adds permissive CORS headers and answers preflight requests
func EnableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Recover turns a panic in a handler into a generic 500
func Recover(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				logger.Log.WithFields(logrus.Fields{
					"method": r.Method,
					"path":   r.URL.Path,
					"panic":  rec,
				}).Error("Panic recovered")
				sendError(w, http.StatusInternalServerError, "Internal server error", nil)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// RequireSession authenticates the request and attaches the user's running
// session, starting it if the server has none yet.
func RequireSession(authenticator *auth.Authenticator, manager *session.Manager) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return authenticator.Middleware(func(w http.ResponseWriter, r *http.Request) {
			identity := auth.IdentityFromContext(r.Context())
			state, err := manager.Start(r.Context(), identity)
			if err != nil {
				sendError(w, http.StatusServiceUnavailable, "Session unavailable", err)
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), sessionContextKey, state)))
		})
	}
}

func sessionFromContext(ctx context.Context) *session.State {
	state, _ := ctx.Value(sessionContextKey).(*session.State)
	return state
}

type userLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter keeps one token bucket per user
type RateLimiter struct {
	perSecond rate.Limit
	burst     int

	mu          sync.Mutex
	users       map[string]*userLimiter
	lastCleanup time.Time
}

func NewRateLimiter(cfg config.RateLimitConfig) *RateLimiter {
	return &RateLimiter{
		perSecond: rate.Limit(cfg.PerSecond),
		burst:     cfg.Burst,
		users:     make(map[string]*userLimiter),
	}
}

// Allow reports whether userID may make another request now
func (l *RateLimiter) Allow(userID string) bool {
	now := time.Now()

	l.mu.Lock()
	u, ok := l.users[userID]
	if !ok {
		u = &userLimiter{limiter: rate.NewLimiter(l.perSecond, l.burst)}
		l.users[userID] = u
	}
	u.lastSeen = now

	if now.Sub(l.lastCleanup) > limiterIdleTTL {
		for id, entry := range l.users {
			if now.Sub(entry.lastSeen) > limiterIdleTTL {
				delete(l.users, id)
			}
		}
		l.lastCleanup = now
	}
	l.mu.Unlock()

	return u.limiter.AllowN(now, 1)
}

// Limit rejects requests over the user's rate with 429. It must run after authentication.
func (l *RateLimiter) Limit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity := auth.IdentityFromContext(r.Context())
		if !l.Allow(identity.UserID) {
			logger.ForUser(identity.UserID).WithField("path", r.URL.Path).Warn("Rate limit exceeded")
			w.Header().Set("Retry-After", "1")
			sendError(w, http.StatusTooManyRequests, "Too many requests", nil)
			return
		}
		next.ServeHTTP(w, r)
	}
}
