// Package auth verifies the HS256 bearer tokens that identify escrowd
// callers. The token subject is the caller's account address.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"escrowledger/crypto"
)

var (
	ErrMissingToken = errors.New("auth: missing bearer token")
	ErrInvalidToken = errors.New("auth: invalid bearer token")
)

// QueryToken is accepted in place of the Authorization header on websocket
// upgrades, which cannot carry custom headers from browsers.
const QueryToken = "access_token"

type contextKey string

const contextKeyCaller contextKey = "escrow_caller"

// Config controls signature verification and claim handling.
type Config struct {
	Secret    []byte
	Issuer    string
	Audience  string
	ClockSkew time.Duration
}

// Verifier validates tokens and extracts the caller.
type Verifier struct {
	cfg   Config
	nowFn func() time.Time
}

// NewVerifier builds a verifier. The secret must be at least 32 bytes.
func NewVerifier(cfg Config) (*Verifier, error) {
	if len(cfg.Secret) < 32 {
		return nil, fmt.Errorf("auth: hmac secret must be at least 32 bytes")
	}
	cfg.Issuer = strings.TrimSpace(cfg.Issuer)
	cfg.Audience = strings.TrimSpace(cfg.Audience)
	return &Verifier{cfg: cfg, nowFn: time.Now}, nil
}

// SetNowFunc overrides the clock used for expiry checks.
func (v *Verifier) SetNowFunc(now func() time.Time) {
	if now == nil {
		now = time.Now
	}
	v.nowFn = now
}

// Verify parses raw and returns the subject address.
func (v *Verifier) Verify(raw string) ([20]byte, error) {
	var zero [20]byte
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(v.cfg.ClockSkew),
		jwt.WithTimeFunc(v.nowFn),
		jwt.WithExpirationRequired(),
	}
	if v.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.cfg.Issuer))
	}
	if v.cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(v.cfg.Audience))
	}
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
		return v.cfg.Secret, nil
	}, opts...)
	if err != nil || !token.Valid {
		return zero, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	caller, err := crypto.ParseAddress(claims.Subject)
	if err != nil {
		return zero, fmt.Errorf("%w: subject: %v", ErrInvalidToken, err)
	}
	if caller == zero {
		return zero, fmt.Errorf("%w: zero subject", ErrInvalidToken)
	}
	return caller, nil
}

// Middleware rejects requests without a valid token and stores the caller
// in the request context.
func (v *Verifier) Middleware(onError func(http.ResponseWriter, *http.Request, error)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := tokenFromRequest(r)
			if raw == "" {
				onError(w, r, ErrMissingToken)
				return
			}
			caller, err := v.Verify(raw)
			if err != nil {
				onError(w, r, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), caller)))
		})
	}
}

func tokenFromRequest(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if scheme, token, ok := strings.Cut(header, " "); ok && strings.EqualFold(scheme, "bearer") {
		return strings.TrimSpace(token)
	}
	if r.Method == http.MethodGet && strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
		return strings.TrimSpace(r.URL.Query().Get(QueryToken))
	}
	return ""
}

// WithCaller attaches an authenticated caller to ctx.
func WithCaller(ctx context.Context, caller [20]byte) context.Context {
	return context.WithValue(ctx, contextKeyCaller, caller)
}

// CallerFromContext extracts the caller stored by Middleware.
func CallerFromContext(ctx context.Context) ([20]byte, bool) {
	caller, ok := ctx.Value(contextKeyCaller).([20]byte)
	return caller, ok
}

// Issue mints an HS256 token for subject.
func Issue(cfg Config, subject [20]byte, ttl time.Duration, now time.Time) (string, error) {
	if len(cfg.Secret) < 32 {
		return "", fmt.Errorf("auth: hmac secret must be at least 32 bytes")
	}
	if ttl <= 0 {
		return "", fmt.Errorf("auth: ttl must be positive")
	}
	claims := jwt.RegisteredClaims{
		Subject:   crypto.HexAddress(subject),
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	if issuer := strings.TrimSpace(cfg.Issuer); issuer != "" {
		claims.Issuer = issuer
	}
	if audience := strings.TrimSpace(cfg.Audience); audience != "" {
		claims.Audience = jwt.ClaimStrings{audience}
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(cfg.Secret)
}
