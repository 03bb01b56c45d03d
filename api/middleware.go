package api

import (
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"golang.org/x/time/rate"
)

// AuthConfig enables HMAC-signed bearer tokens on write routes.
type AuthConfig struct {
	Enabled    bool          `toml:"Enabled" yaml:"enabled"`
	HMACSecret string        `toml:"HMACSecret,omitempty" yaml:"hmacSecret,omitempty"`
	Issuer     string        `toml:"Issuer,omitempty" yaml:"issuer,omitempty"`
	Audience   string        `toml:"Audience,omitempty" yaml:"audience,omitempty"`
	ClockSkew  time.Duration `toml:"ClockSkew" yaml:"clockSkew"`
}

// ScopeExecute is required to execute or preview transactions.
const ScopeExecute = "transactions:execute"

type authenticator struct {
	cfg    AuthConfig
	secret []byte
	logger *slog.Logger
}

func newAuthenticator(cfg AuthConfig, logger *slog.Logger) *authenticator {
	if cfg.ClockSkew <= 0 {
		cfg.ClockSkew = 2 * time.Minute
	}
	return &authenticator{cfg: cfg, secret: []byte(strings.TrimSpace(cfg.HMACSecret)), logger: logger}
}

func (a *authenticator) require(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !a.cfg.Enabled {
				next.ServeHTTP(w, r)
				return
			}
			raw := bearer(r.Header.Get("Authorization"))
			if raw == "" {
				writeError(w, http.StatusUnauthorized, "missing bearer token")
				return
			}
			claims, err := a.parse(raw)
			if err != nil {
				a.logger.Debug("token rejected", slog.Any("error", err))
				writeError(w, http.StatusUnauthorized, "invalid token")
				return
			}
			if !hasScope(claims["scope"], scope) {
				writeError(w, http.StatusForbidden, "insufficient scope")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (a *authenticator) parse(raw string) (jwt.MapClaims, error) {
	if len(a.secret) == 0 {
		return nil, errors.New("auth secret not configured")
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}),
		jwt.WithLeeway(a.cfg.ClockSkew),
		jwt.WithExpirationRequired(),
	}
	if a.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.cfg.Issuer))
	}
	if a.cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(a.cfg.Audience))
	}
	claims := jwt.MapClaims{}
	if _, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, opts...); err != nil {
		return nil, err
	}
	return claims, nil
}

func bearer(header string) string {
	const prefix = "bearer "
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}

// hasScope accepts a space separated string or a list of strings.
func hasScope(raw interface{}, want string) bool {
	switch v := raw.(type) {
	case string:
		for _, s := range strings.Fields(v) {
			if s == want {
				return true
			}
		}
	case []interface{}:
		for _, entry := range v {
			if s, ok := entry.(string); ok && s == want {
				return true
			}
		}
	}
	return false
}

// RateLimit bounds requests per client address. Zero disables limiting.
type RateLimit struct {
	RequestsPerMinute float64 `toml:"RequestsPerMinute" yaml:"requestsPerMinute"`
	Burst             int     `toml:"Burst" yaml:"burst"`
}

type rateLimiter struct {
	cfg      RateLimit
	mu       sync.Mutex
	visitors map[string]*rate.Limiter
}

func newRateLimiter(cfg RateLimit) *rateLimiter {
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	return &rateLimiter{cfg: cfg, visitors: make(map[string]*rate.Limiter)}
}

func (l *rateLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if l.cfg.RequestsPerMinute <= 0 {
			next.ServeHTTP(w, r)
			return
		}
		if !l.limiter(clientID(r)).Allow() {
			writeError(w, http.StatusTooManyRequests, http.StatusText(http.StatusTooManyRequests))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (l *rateLimiter) limiter(id string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.visitors[id]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(l.cfg.RequestsPerMinute/60.0), l.cfg.Burst)
		l.visitors[id] = lim
	}
	return lim
}

func clientID(r *http.Request) string {
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
