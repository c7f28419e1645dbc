package rpc

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"zkbounty/core/types"
)

const defaultClockSkew = 30 * time.Second

// AuthConfig configures bearer token verification. Tokens are HS256 JWTs
// whose subject is the caller's 0x address.
type AuthConfig struct {
	HMACSecret string
	Issuer     string
	Audience   string
	ClockSkew  time.Duration
}

type contextKey string

const contextKeyCaller contextKey = "rpc.caller"

var (
	errMissingBearer   = errors.New("missing bearer token")
	errSecretMissing   = errors.New("auth secret not configured")
	errInvalidToken    = errors.New("invalid token")
	errInvalidSubject  = errors.New("token subject is not a valid address")
	errIssuerMismatch  = errors.New("issuer mismatch")
	errAudienceMissing = errors.New("audience mismatch")
)

// Authenticator resolves the calling principal from the Authorization header.
type Authenticator struct {
	cfg    AuthConfig
	secret []byte
	logger *slog.Logger
}

// NewAuthenticator constructs an authenticator for cfg.
func NewAuthenticator(cfg AuthConfig, logger *slog.Logger) *Authenticator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ClockSkew <= 0 {
		cfg.ClockSkew = defaultClockSkew
	}
	return &Authenticator{
		cfg:    cfg,
		secret: []byte(strings.TrimSpace(cfg.HMACSecret)),
		logger: logger,
	}
}

// Middleware rejects requests without a valid bearer token and stores the
// caller in the request context.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller, err := a.Authenticate(r)
		if err != nil {
			a.logger.LogAttrs(r.Context(), slog.LevelInfo, "auth rejected",
				slog.String("request_id", RequestIDFromContext(r.Context())),
				slog.String("path", r.URL.Path),
				slog.Any("error", err),
			)
			writeJSONError(w, http.StatusUnauthorized, "Unauthorized", err)
			return
		}
		ctx := context.WithValue(r.Context(), contextKeyCaller, caller)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Authenticate verifies the bearer token carried by r.
func (a *Authenticator) Authenticate(r *http.Request) (types.Principal, error) {
	tokenString := extractBearer(r.Header.Get("Authorization"))
	if tokenString == "" {
		return types.Principal{}, errMissingBearer
	}
	return a.verify(tokenString)
}

func (a *Authenticator) verify(tokenString string) (types.Principal, error) {
	if len(a.secret) == 0 {
		return types.Principal{}, errSecretMissing
	}
	opts := []jwt.ParserOption{
		jwt.WithLeeway(a.cfg.ClockSkew),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	claims := jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(*jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, opts...)
	if err != nil || !token.Valid {
		return types.Principal{}, errInvalidToken
	}
	if a.cfg.Issuer != "" && claims.Issuer != a.cfg.Issuer {
		return types.Principal{}, errIssuerMismatch
	}
	if a.cfg.Audience != "" && !containsString(claims.Audience, a.cfg.Audience) {
		return types.Principal{}, errAudienceMissing
	}
	caller, err := types.ParsePrincipal(claims.Subject)
	if err != nil {
		return types.Principal{}, errInvalidSubject
	}
	return caller, nil
}

// IssueToken mints an HS256 token naming subject as the caller.
func IssueToken(cfg AuthConfig, subject types.Principal, ttl time.Duration, now time.Time) (string, error) {
	secret := strings.TrimSpace(cfg.HMACSecret)
	if secret == "" {
		return "", errSecretMissing
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	claims := jwt.RegisteredClaims{
		Subject:   subject.Hex(),
		Issuer:    cfg.Issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	if cfg.Audience != "" {
		claims.Audience = jwt.ClaimStrings{cfg.Audience}
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// CallerFromContext returns the authenticated principal stored by Middleware.
func CallerFromContext(ctx context.Context) (types.Principal, bool) {
	caller, ok := ctx.Value(contextKeyCaller).(types.Principal)
	return caller, ok
}

func containsString(values []string, want string) bool {
	for _, v := range values {
		if v == want {
			return true
		}
	}
	return false
}

func extractBearer(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 {
		return ""
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
