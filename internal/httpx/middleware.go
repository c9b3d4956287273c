package httpx

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/ariefcatur/go-order-fulfillment/internal/access"
	"github.com/ariefcatur/go-order-fulfillment/internal/logging"
	"github.com/ariefcatur/go-order-fulfillment/internal/metrics"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

// requestLogger puts a request-scoped logger on the context and writes one
// access log line per request.
func requestLogger(base *zap.Logger, m *metrics.Recorder) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			log := base.With(zap.String("request_id", middleware.GetReqID(r.Context())))
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r.WithContext(logging.ContextWithLogger(r.Context(), log)))

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			route := routePattern(r)
			m.HTTP(r.Method, route, status, time.Since(start))
			log.Info("http_access",
				zap.String("method", r.Method),
				zap.String("route", route),
				zap.String("path", r.URL.Path),
				zap.Int("status", status),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Int64("latency_ms", time.Since(start).Milliseconds()),
			)
		})
	}
}

func routePattern(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if p := rc.RoutePattern(); p != "" {
			return p
		}
	}
	return "unknown"
}

type principalKey struct{}

func ContextWithPrincipal(ctx context.Context, p access.Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func PrincipalFrom(ctx context.Context) (access.Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(access.Principal)
	return p, ok
}

// Auth verifies HS256 bearer tokens whose subject is the user uuid and
// loads that user's capabilities.
type Auth struct {
	Secret     []byte
	Authorizer access.Authorizer
}

var errUnauthorized = errors.New("missing or invalid bearer token")

func (a *Auth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sub, err := a.subject(r)
		if err != nil {
			logging.FromContext(r.Context()).Debug("auth_rejected", zap.Error(err))
			w.Header().Set("WWW-Authenticate", `Bearer realm="orders"`)
			writeJSON(w, http.StatusUnauthorized, errorBody{Error: errUnauthorized.Error()})
			return
		}
		caps, err := a.Authorizer.Capabilities(r.Context(), sub)
		if err != nil {
			writeError(w, r, err)
			return
		}
		ctx := ContextWithPrincipal(r.Context(), access.Principal{UserUUID: sub, Caps: caps})
		ctx = logging.ContextWithLogger(ctx, logging.FromContext(ctx).With(zap.String("user_id", sub)))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (a *Auth) subject(r *http.Request) (string, error) {
	h := r.Header.Get("Authorization")
	raw, ok := strings.CutPrefix(h, "Bearer ")
	if !ok || raw == "" {
		return "", errUnauthorized
	}
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return a.Secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", err
	}
	if claims.Subject == "" {
		return "", errUnauthorized
	}
	return claims.Subject, nil
}

// Token signs a bearer token for userUUID.
func (a *Auth) Token(userUUID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   userUUID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.Secret)
}
