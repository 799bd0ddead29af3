package middleware

import (
	"context"
	"encoding/json"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/faithtrack-bot-go/internal/config"
	"github.com/faithtrack-bot-go/internal/models"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const (
	HeaderUserID             = "X-User-ID"
	HeaderRateLimitLimit     = "X-RateLimit-Limit"
	HeaderRateLimitRemaining = "X-RateLimit-Remaining"
	HeaderRateLimitReset     = "X-RateLimit-Reset"
	HeaderRetryAfter         = "Retry-After"
)

// Consumer counts an action against a user's budget
type Consumer interface {
	Consume(ctx context.Context, userID string, action models.ActionType) (*models.RateLimitResult, error)
	Limit(action models.ActionType) (models.RateLimitConfig, bool)
}

// RateLimit enforces the api_calls budget on HTTP requests. A per-client
// token bucket in front of it absorbs bursts before they reach the store.
type RateLimit struct {
	limiter  Consumer
	auth     *Authenticator
	throttle *ClientThrottle
	logger   *logrus.Logger
}

// NewRateLimit creates the API rate limiting middleware. auth decides whose
// X-User-ID header is believed.
func NewRateLimit(limiter Consumer, auth *Authenticator, cfg config.ServerConfig, logger *logrus.Logger) *RateLimit {
	return &RateLimit{
		limiter:  limiter,
		auth:     auth,
		throttle: NewClientThrottle(cfg.RequestsPerSecond, cfg.Burst),
		logger:   logger,
	}
}

// ClientKey identifies the caller of r
func (m *RateLimit) ClientKey(r *http.Request) string {
	return ClientKey(r, m.auth.Authenticated(r))
}

// Throttle exposes the burst guard so idle clients can be pruned
func (m *RateLimit) Throttle() *ClientThrottle {
	return m.throttle
}

// Handler wraps next with rate limiting
func (m *RateLimit) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		client := m.ClientKey(r)

		if !m.throttle.Allow(client) {
			w.Header().Set(HeaderRetryAfter, "1")
			writeError(w, http.StatusTooManyRequests, "too many requests")
			return
		}

		result, err := m.limiter.Consume(r.Context(), client, models.ActionAPICalls)
		if err != nil {
			m.logger.WithError(err).WithField("client", client).Error("Rate limit check failed")
			writeError(w, http.StatusInternalServerError, "rate limit check failed")
			return
		}

		if limit, ok := m.limiter.Limit(models.ActionAPICalls); ok {
			w.Header().Set(HeaderRateLimitLimit, strconv.Itoa(limit.MaxRequests))
		}
		w.Header().Set(HeaderRateLimitRemaining, strconv.Itoa(result.Remaining))
		w.Header().Set(HeaderRateLimitReset, strconv.FormatInt(result.ResetTime.Unix(), 10))

		if !result.Allowed {
			w.Header().Set(HeaderRetryAfter, strconv.Itoa(retrySeconds(result.RetryAfter)))
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// ClientKey identifies the caller by its remote address. Trusted callers
// acting for a user may name it with X-User-ID.
func ClientKey(r *http.Request, trusted bool) string {
	if trusted {
		if id := strings.TrimSpace(r.Header.Get(HeaderUserID)); id != "" {
			return id
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "ip:" + host
}

// MaxBody rejects request bodies larger than limit bytes
func MaxBody(limit int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if limit > 0 {
				if r.ContentLength > limit {
					writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
					return
				}
				r.Body = http.MaxBytesReader(w, r.Body, limit)
			}
			next.ServeHTTP(w, r)
		})
	}
}

func retrySeconds(d time.Duration) int {
	secs := int(math.Ceil(d.Seconds()))
	if secs < 1 {
		return 1
	}
	return secs
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// ClientThrottle keeps a token bucket per client
type ClientThrottle struct {
	enabled  bool
	limiters map[string]*clientLimiter
	mu       sync.Mutex
	rps      rate.Limit
	burst    int
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewClientThrottle creates a throttle allowing rps requests per second with
// the given burst. A non-positive rps disables it.
func NewClientThrottle(rps float64, burst int) *ClientThrottle {
	if rps <= 0 {
		return &ClientThrottle{enabled: false}
	}
	if burst <= 0 {
		burst = int(math.Ceil(rps))
	}
	return &ClientThrottle{
		enabled:  true,
		limiters: make(map[string]*clientLimiter),
		rps:      rate.Limit(rps),
		burst:    burst,
	}
}

// Allow takes a token for client
func (t *ClientThrottle) Allow(client string) bool {
	if !t.enabled {
		return true
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	cl, exists := t.limiters[client]
	if !exists {
		cl = &clientLimiter{limiter: rate.NewLimiter(t.rps, t.burst)}
		t.limiters[client] = cl
	}
	cl.lastSeen = time.Now()
	return cl.limiter.Allow()
}

// Prune drops clients idle for longer than maxIdle and returns how many
func (t *ClientThrottle) Prune(maxIdle time.Duration) int {
	if !t.enabled {
		return 0
	}

	cutoff := time.Now().Add(-maxIdle)
	removed := 0

	t.mu.Lock()
	for client, cl := range t.limiters {
		if cl.lastSeen.Before(cutoff) {
			delete(t.limiters, client)
			removed++
		}
	}
	t.mu.Unlock()

	return removed
}

// Len returns the number of tracked clients
func (t *ClientThrottle) Len() int {
	if !t.enabled {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.limiters)
}
