package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/sandeepkv93/gov-coordination-portal/internal/http/response"
	"github.com/sandeepkv93/gov-coordination-portal/internal/observability"
)

// Limiter decides whether one more request for key fits in limit per window.
type Limiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, time.Duration, error)
}

type FailureMode string

const (
	FailOpen   FailureMode = "fail_open"
	FailClosed FailureMode = "fail_closed"
)

type RateLimiter struct {
	limiter Limiter
	limit   int
	window  time.Duration
	mode    FailureMode
	scope   string
	backend string
}

// NewRateLimiter keeps per-client token buckets in process memory.
func NewRateLimiter(limit int, window time.Duration, scope string) *RateLimiter {
	rl := NewDistributedRateLimiter(NewLocalTokenBucketLimiter(), limit, window, FailClosed, scope)
	rl.backend = "local"
	return rl
}

func NewDistributedRateLimiter(limiter Limiter, limit int, window time.Duration, mode FailureMode, scope string) *RateLimiter {
	if scope == "" {
		scope = "api"
	}
	if window <= 0 {
		window = time.Minute
	}
	return &RateLimiter{
		limiter: limiter,
		limit:   limit,
		window:  window,
		mode:    mode,
		scope:   scope,
		backend: "redis",
	}
}

// Middleware is a pass-through when limit is not positive.
func (rl *RateLimiter) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if rl.limit <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			key := rl.scope + ":" + ClientIP(r)
			allowed, retryAfter, err := rl.limiter.Allow(ctx, key, rl.limit, rl.window)
			if err != nil {
				if rl.mode == FailOpen {
					observability.RecordRateLimitDecision(ctx, rl.scope, "backend_error_allowed", rl.backend)
					slog.WarnContext(ctx, "rate limiter backend unavailable, allowing request",
						"scope", rl.scope,
						"mode", string(rl.mode),
						"error", err.Error(),
					)
					next.ServeHTTP(w, r)
					return
				}
				observability.RecordRateLimitDecision(ctx, rl.scope, "backend_error_denied", rl.backend)
				TooManyRequests(w, r, rl.window, "too many requests")
				return
			}
			if !allowed {
				observability.RecordRateLimitDecision(ctx, rl.scope, "denied", rl.backend)
				observability.RecordRateLimitRetryAfter(ctx, rl.scope, retryAfter)
				TooManyRequests(w, r, retryAfter, "too many requests")
				return
			}
			observability.RecordRateLimitDecision(ctx, rl.scope, "allowed", rl.backend)
			next.ServeHTTP(w, r)
		})
	}
}

// TooManyRequests writes a 429 with a whole-second Retry-After header.
func TooManyRequests(w http.ResponseWriter, r *http.Request, retryAfter time.Duration, message string) {
	seconds := RetryAfterSeconds(retryAfter)
	w.Header().Set("Retry-After", strconv.Itoa(seconds))
	response.Error(w, r, http.StatusTooManyRequests, "RATE_LIMITED", message, map[string]any{"retryAfterSeconds": seconds})
}

func RetryAfterSeconds(d time.Duration) int {
	seconds := int((d + time.Second - 1) / time.Second)
	if seconds <= 0 {
		return 1
	}
	return seconds
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

type localTokenBucketLimiter struct {
	mu        sync.Mutex
	buckets   map[string]*bucket
	lastSweep time.Time
	now       func() time.Time
}

func NewLocalTokenBucketLimiter() Limiter {
	return &localTokenBucketLimiter{
		buckets:   make(map[string]*bucket),
		lastSweep: time.Now(),
		now:       time.Now,
	}
}

// Allow refills limit tokens per window and allows bursts of up to limit.
func (l *localTokenBucketLimiter) Allow(_ context.Context, key string, limit int, window time.Duration) (bool, time.Duration, error) {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.lastSweep) > window {
		for k, b := range l.buckets {
			if now.Sub(b.lastSeen) > window {
				delete(l.buckets, k)
			}
		}
		l.lastSweep = now
	}

	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(rate.Every(window/time.Duration(limit)), limit)}
		l.buckets[key] = b
	}
	b.lastSeen = now

	res := b.limiter.ReserveN(now, 1)
	if !res.OK() {
		return false, window, nil
	}
	if delay := res.DelayFrom(now); delay > 0 {
		res.CancelAt(now)
		return false, delay, nil
	}
	return true, 0, nil
}
