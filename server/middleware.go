package server

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/onnwee/openmic/telemetry"
)

// authConfig holds admin credentials. Auth is enabled when either basic auth
// (username and password) or a token is configured.
type authConfig struct {
	username string
	password string
	token    string
}

func (c *authConfig) enabled() bool { return (c.username != "" && c.password != "") || c.token != "" }

func loadAuthConfig() *authConfig {
	cfg := &authConfig{
		username: os.Getenv("ADMIN_USERNAME"),
		password: os.Getenv("ADMIN_PASSWORD"),
		token:    os.Getenv("ADMIN_TOKEN"),
	}
	if !cfg.enabled() {
		slog.Warn("admin authentication not configured; admin endpoints are UNPROTECTED. Set ADMIN_USERNAME+ADMIN_PASSWORD or ADMIN_TOKEN")
	}
	return cfg
}

// adminAuth accepts an X-Admin-Token header or basic auth.
func adminAuth(cfg *authConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !cfg.enabled() {
				next.ServeHTTP(w, r)
				return
			}
			if cfg.token != "" {
				if tok := r.Header.Get("X-Admin-Token"); tok != "" && subtle.ConstantTimeCompare([]byte(tok), []byte(cfg.token)) == 1 {
					next.ServeHTTP(w, r)
					return
				}
			}
			if cfg.username != "" && cfg.password != "" {
				if u, p, ok := r.BasicAuth(); ok {
					userOK := subtle.ConstantTimeCompare([]byte(u), []byte(cfg.username)) == 1
					passOK := subtle.ConstantTimeCompare([]byte(p), []byte(cfg.password)) == 1
					if userOK && passOK {
						next.ServeHTTP(w, r)
						return
					}
				}
			}
			w.Header().Set("WWW-Authenticate", `Basic realm="openmic admin"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			slog.Warn("admin auth failed", slog.String("path", r.URL.Path), slog.String("remote_addr", r.RemoteAddr))
		})
	}
}

type rateLimiterConfig struct {
	enabled       bool
	requestsPerIP int
	window        time.Duration
}

// loadRateLimiterConfig defaults to 10 requests per IP per minute.
func loadRateLimiterConfig() *rateLimiterConfig {
	cfg := &rateLimiterConfig{enabled: os.Getenv("RATE_LIMIT_ENABLED") != "0", requestsPerIP: 10, window: time.Minute}
	if n, err := strconv.Atoi(os.Getenv("RATE_LIMIT_REQUESTS_PER_IP")); err == nil && n > 0 {
		cfg.requestsPerIP = n
	}
	if n, err := strconv.Atoi(os.Getenv("RATE_LIMIT_WINDOW_SECONDS")); err == nil && n > 0 {
		cfg.window = time.Duration(n) * time.Second
	}
	return cfg
}

// ipRateLimiter is a sliding-window limiter keyed by client IP.
type ipRateLimiter struct {
	mu       sync.Mutex
	visitors map[string][]time.Time
	cfg      *rateLimiterConfig
	now      func() time.Time
}

func newIPRateLimiter(ctx context.Context, cfg *rateLimiterConfig) *ipRateLimiter {
	rl := &ipRateLimiter{visitors: map[string][]time.Time{}, cfg: cfg, now: time.Now}
	go rl.cleanupLoop(ctx)
	return rl
}

func (rl *ipRateLimiter) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			rl.cleanup()
		case <-ctx.Done():
			return
		}
	}
}

// cleanup drops visitors with no request inside the window.
func (rl *ipRateLimiter) cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	cutoff := rl.now().Add(-rl.cfg.window)
	for ip, reqs := range rl.visitors {
		if len(reqs) == 0 || !reqs[len(reqs)-1].After(cutoff) {
			delete(rl.visitors, ip)
		}
	}
}

func (rl *ipRateLimiter) allow(ip string) bool {
	if !rl.cfg.enabled {
		return true
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()
	now := rl.now()
	cutoff := now.Add(-rl.cfg.window)
	reqs := rl.visitors[ip][:0]
	for _, t := range rl.visitors[ip] {
		if t.After(cutoff) {
			reqs = append(reqs, t)
		}
	}
	if len(reqs) >= rl.cfg.requestsPerIP {
		rl.visitors[ip] = reqs
		return false
	}
	rl.visitors[ip] = append(reqs, now)
	return true
}

// clientIP prefers the first X-Forwarded-For entry.
func clientIP(r *http.Request) string {
	ip := r.RemoteAddr
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		ip, _, _ = strings.Cut(fwd, ",")
		ip = strings.TrimSpace(ip)
	}
	if host, _, err := net.SplitHostPort(ip); err == nil {
		return host
	}
	return ip
}

func rateLimit(rl *ipRateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := clientIP(r)
			if !rl.allow(ip) {
				w.Header().Set("Retry-After", strconv.Itoa(int(rl.cfg.window.Seconds())))
				http.Error(w, "Too Many Requests - rate limit exceeded", http.StatusTooManyRequests)
				slog.Warn("rate limit exceeded", slog.String("ip", ip), slog.String("path", r.URL.Path))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type corsConfig struct {
	allowedOrigins []string
	permissive     bool
}

// loadCORSConfig is permissive in development (ENV unset or dev) unless
// CORS_PERMISSIVE says otherwise.
func loadCORSConfig() *corsConfig {
	mode := strings.ToLower(os.Getenv("ENV"))
	cfg := &corsConfig{permissive: mode == "" || mode == "dev" || mode == "development"}
	if v := os.Getenv("CORS_PERMISSIVE"); v != "" {
		cfg.permissive = v == "1" || v == "true"
	}
	for _, o := range strings.Split(os.Getenv("CORS_ALLOWED_ORIGINS"), ",") {
		if o = strings.TrimSpace(o); o != "" {
			cfg.allowedOrigins = append(cfg.allowedOrigins, o)
		}
	}
	if !cfg.permissive && len(cfg.allowedOrigins) == 0 {
		slog.Warn("CORS restricted mode enabled but no CORS_ALLOWED_ORIGINS configured; all CORS requests will be blocked")
	}
	return cfg
}

const (
	corsMethods = "GET, POST, PUT, DELETE, OPTIONS"
	corsHeaders = "Content-Type, Authorization, X-Admin-Token, X-Correlation-ID"
)

func cors(cfg *corsConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			switch {
			case cfg.permissive:
				w.Header().Set("Access-Control-Allow-Origin", "*")
				w.Header().Set("Access-Control-Allow-Methods", corsMethods)
				w.Header().Set("Access-Control-Allow-Headers", corsHeaders)
			case origin != "" && isOriginAllowed(origin, cfg.allowedOrigins):
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", corsMethods)
				w.Header().Set("Access-Control-Allow-Headers", corsHeaders)
				w.Header().Set("Access-Control-Allow-Credentials", "true")
				w.Header().Add("Vary", "Origin")
			}
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// isOriginAllowed supports exact origins and "*.example.com" wildcards.
func isOriginAllowed(origin string, allowed []string) bool {
	for _, a := range allowed {
		if origin == a {
			return true
		}
		if domain, ok := strings.CutPrefix(a, "*."); ok {
			if strings.HasSuffix(origin, "."+domain) || origin == "https://"+domain || origin == "http://"+domain {
				return true
			}
		}
	}
	return false
}

// observe injects a correlation id (reusing X-Correlation-ID when the client
// sent one) and wraps the request in a tracing span.
func observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		corr := r.Header.Get("X-Correlation-ID")
		if corr == "" {
			corr = uuid.New().String()
		}
		ctx := telemetry.WithCorrelation(r.Context(), corr)
		w.Header().Set("X-Correlation-ID", corr)

		ctx, span := telemetry.StartSpan(ctx, "http-server", r.Method+" "+r.URL.Path,
			telemetry.HTTPMethodAttr(r.Method),
			telemetry.HTTPRouteAttr(r.URL.Path),
		)
		defer span.End()
		telemetry.LoggerWithCorr(ctx).Debug("request start", slog.String("method", r.Method), slog.String("path", r.URL.Path), slog.String("component", "http"))

		rec := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rec, r.WithContext(ctx))
		telemetry.SetSpanHTTPStatus(span, rec.statusCode)
	})
}

// statusRecorder captures the response status for the span.
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.statusCode = code
	r.ResponseWriter.WriteHeader(code)
}

// Flush keeps SSE streaming working through the wrapper.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
