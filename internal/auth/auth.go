package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"mcp-chat/internal/config"
	"mcp-chat/internal/logger"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

type contextKey string

const identityContextKey contextKey = "identity"

// Status is the authentication state of a session
type Status string

const (
	StatusLoading         Status = "loading"
	StatusAuthenticated   Status = "authenticated"
	StatusUnauthenticated Status = "unauthenticated"
	StatusError           Status = "error"
)

// Identity is the authenticated user of a session
type Identity struct {
	UserID string `json:"userId"`
	Status Status `json:"status"`
}

// Authenticated reports whether store operations may run for this identity
func (i Identity) Authenticated() bool {
	return i.Status == StatusAuthenticated && i.UserID != ""
}

type Claims struct {
	jwt.RegisteredClaims
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// sendError sends a standardized JSON error response
func sendError(w http.ResponseWriter, status int, message string, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	errResp := ErrorResponse{
		Code:    status,
		Message: message,
	}
	if err != nil {
		errResp.Error = err.Error()
	}
	json.NewEncoder(w).Encode(errResp)
}

// Authenticator issues and validates session tokens
type Authenticator struct {
	secret     []byte
	expiration time.Duration
	now        func() time.Time
}

func NewAuthenticator(cfg config.AuthConfig) *Authenticator {
	return &Authenticator{
		secret:     cfg.JWTSecret,
		expiration: cfg.TokenExpiration,
		now:        time.Now,
	}
}

func (a *Authenticator) GenerateToken(userID string) (string, error) {
	now := a.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(now.Add(a.expiration)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

func (a *Authenticator) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(a.now))

	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		if claims.Subject == "" {
			return nil, errors.New("token has no subject")
		}
		return claims, nil
	}

	return nil, jwt.ErrSignatureInvalid
}

// SignIn returns an authenticated identity and a fresh token. A still valid
// token keeps its user; anything else signs in a new anonymous user.
func (a *Authenticator) SignIn(existingToken string) (Identity, string, error) {
	userID := ""
	if existingToken != "" {
		if claims, err := a.ValidateToken(existingToken); err == nil {
			userID = claims.Subject
		} else {
			logger.Log.WithError(err).Info("Ignoring invalid token on sign-in")
		}
	}
	if userID == "" {
		userID = uuid.New().String()
	}

	token, err := a.GenerateToken(userID)
	if err != nil {
		return Identity{Status: StatusError}, "", err
	}

	logger.ForUser(userID).Info("User signed in")
	return Identity{UserID: userID, Status: StatusAuthenticated}, token, nil
}

// BearerToken extracts the token from an Authorization header, or "" if absent
func BearerToken(r *http.Request) string {
	parts := strings.Split(r.Header.Get("Authorization"), " ")
	if len(parts) != 2 || parts[0] != "Bearer" {
		return ""
	}
	return parts[1]
}

func (a *Authenticator) Middleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			sendError(w, http.StatusUnauthorized, "Missing authorization header", nil)
			return
		}

		token := BearerToken(r)
		if token == "" {
			sendError(w, http.StatusUnauthorized, "Invalid authorization header format", nil)
			return
		}

		claims, err := a.ValidateToken(token)
		if err != nil {
			sendError(w, http.StatusUnauthorized, "Invalid token", err)
			return
		}

		identity := Identity{UserID: claims.Subject, Status: StatusAuthenticated}
		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
	}
}

func WithIdentity(ctx context.Context, identity Identity) context.Context {
	return context.WithValue(ctx, identityContextKey, identity)
}

// IdentityFromContext returns an unauthenticated identity when none is set
func IdentityFromContext(ctx context.Context) Identity {
	if identity, ok := ctx.Value(identityContextKey).(Identity); ok {
		return identity
	}
	return Identity{Status: StatusUnauthenticated}
}
