package api

import (
	"crypto/subtle"
	"errors"
	"net"
	"net/http"
	"strings"

	"courtbook/internal/config"
)

const (
	PermReadSlots         = "read:slots"
	PermWriteReservations = "write:reservations"
	PermWriteActivities   = "write:activities"
	PermMerchant          = "merchant"
)

var (
	errMissingKey       = errors.New("missing api key headers")
	errInvalidKey       = errors.New("invalid api key")
	errInvalidExtra     = errors.New("invalid extra header")
	errPermissionDenied = errors.New("permission denied")
	errRateLimited      = errors.New("rate limit exceeded")
)

// HTTPAuth provides API-key auth and per-key rate limiting for HTTP endpoints.
type HTTPAuth struct {
	cfg     config.APIConfig
	clients map[string]config.APIClientKey
	limiter *rateLimiter
}

func NewHTTPAuth(cfg config.APIConfig) *HTTPAuth {
	m := make(map[string]config.APIClientKey, len(cfg.Auth.APIKeys))
	for _, k := range cfg.Auth.APIKeys {
		m[k.Key] = k
	}
	return &HTTPAuth{cfg: cfg, clients: m, limiter: newRateLimiter(cfg.RateLimit)}
}

func (a *HTTPAuth) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/healthz" {
			next.ServeHTTP(w, r)
			return
		}

		if a.cfg.Auth.Enabled {
			if err := a.checkAuth(r); err != nil {
				statusCode := http.StatusUnauthorized
				if errors.Is(err, errPermissionDenied) {
					statusCode = http.StatusForbidden
				}
				writeError(w, statusCode, "UNAUTHORIZED", err.Error())
				return
			}
		}

		if !a.limiter.Allow(a.clientKey(r)) {
			writeError(w, http.StatusTooManyRequests, "RATE_LIMITED", errRateLimited.Error())
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (a *HTTPAuth) headerName(configured, fallback string) string {
	h := strings.TrimSpace(strings.ToLower(configured))
	if h == "" {
		return fallback
	}
	return h
}

func (a *HTTPAuth) checkAuth(r *http.Request) error {
	apiKey := strings.TrimSpace(r.Header.Get(a.headerName(a.cfg.Auth.HeaderAPIKey, "x-api-key")))
	extra := strings.TrimSpace(r.Header.Get(a.headerName(a.cfg.Auth.HeaderExtra, "x-api-extra")))
	if apiKey == "" || extra == "" {
		return errMissingKey
	}

	client, ok := a.clients[apiKey]
	if !ok {
		return errInvalidKey
	}
	if subtle.ConstantTimeCompare([]byte(client.Extra), []byte(extra)) != 1 {
		return errInvalidExtra
	}

	return a.checkPermissions(client, r)
}

// checkPermissions lets a client without a permission list do anything.
func (a *HTTPAuth) checkPermissions(client config.APIClientKey, r *http.Request) error {
	required := requiredPermissionHTTP(r)
	if required == "" || len(client.Permissions) == 0 {
		return nil
	}
	for _, p := range client.Permissions {
		if strings.TrimSpace(p) == required {
			return nil
		}
	}
	return errPermissionDenied
}

// allows reports whether the request's client holds perm. With auth disabled
// every request is trusted.
func (a *HTTPAuth) allows(r *http.Request, perm string) bool {
	if !a.cfg.Auth.Enabled {
		return true
	}
	apiKey := strings.TrimSpace(r.Header.Get(a.headerName(a.cfg.Auth.HeaderAPIKey, "x-api-key")))
	client, ok := a.clients[apiKey]
	if !ok {
		return false
	}
	if len(client.Permissions) == 0 {
		return true
	}
	for _, p := range client.Permissions {
		if strings.TrimSpace(p) == perm {
			return true
		}
	}
	return false
}

func requiredPermissionHTTP(r *http.Request) string {
	path := r.URL.Path
	switch {
	case strings.HasPrefix(path, "/api/v1/slots/block"), strings.HasPrefix(path, "/api/v1/slots/unblock"),
		path == "/api/v1/schedule/export":
		return PermMerchant
	case strings.HasPrefix(path, "/api/v1/reservations"):
		return PermWriteReservations
	case strings.HasPrefix(path, "/api/v1/activities"):
		return PermWriteActivities
	case path == "/api/v1/slots", path == "/api/v1/pricing":
		return PermReadSlots
	}
	return ""
}

func (a *HTTPAuth) clientKey(r *http.Request) string {
	if apiKey := strings.TrimSpace(r.Header.Get(a.headerName(a.cfg.Auth.HeaderAPIKey, "x-api-key"))); apiKey != "" {
		return apiKey
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil && host != "" {
		return host
	}
	return "unknown"
}
