package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"

	"delivery-backend/internal/apperr"
	"delivery-backend/internal/auth"
	"delivery-backend/internal/models"
	"delivery-backend/pkg/utils"
)

type contextKey string

const (
	callerKey    contextKey = "caller"
	requestIDKey contextKey = "request_id"
)

type TokenValidator interface {
	ValidateToken(token string) (*auth.Claims, error)
}

// CallerResolver loads the current role and branch for a token subject.
type CallerResolver interface {
	Caller(ctx context.Context, userID int) (models.Caller, error)
}

type AuthMiddleware struct {
	tokens TokenValidator
	users  CallerResolver
	log    logrus.FieldLogger
}

func NewAuthMiddleware(tokens TokenValidator, users CallerResolver, log logrus.FieldLogger) *AuthMiddleware {
	return &AuthMiddleware{tokens: tokens, users: users, log: log.WithField("component", "auth")}
}

// Authenticate validates the bearer token and stores the resolved caller in
// the request context. Role and branch are read from the store so permission
// changes apply immediately.
func (m *AuthMiddleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			utils.Error(w, m.log, apperr.Authentication("authorization header required"))
			return
		}

		claims, err := m.tokens.ValidateToken(token)
		if err != nil {
			utils.Error(w, m.log, apperr.Authentication("invalid or expired token"))
			return
		}

		caller, err := m.users.Caller(r.Context(), claims.UserID)
		if err != nil {
			utils.Error(w, m.log, err)
			return
		}

		next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), caller)))
	})
}

// bearerToken reads "Authorization: Bearer <token>". Websocket handshakes
// cannot set headers from a browser, so they may pass ?token= instead.
func bearerToken(r *http.Request) (string, bool) {
	if header := r.Header.Get("Authorization"); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
			return "", false
		}
		return parts[1], true
	}
	if strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
		if token := r.URL.Query().Get("token"); token != "" {
			return token, true
		}
	}
	return "", false
}

func WithCaller(ctx context.Context, caller models.Caller) context.Context {
	return context.WithValue(ctx, callerKey, caller)
}

// CallerFromContext returns the authenticated caller.
func CallerFromContext(ctx context.Context) (models.Caller, bool) {
	caller, ok := ctx.Value(callerKey).(models.Caller)
	return caller, ok
}
