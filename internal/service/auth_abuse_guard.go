package service

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/sandeepkv93/gov-coordination-portal/internal/observability"
)

type AuthAbuseScope string

const (
	// AuthAbuseScopeValidateCode throttles guesses against the pool of live reset codes.
	AuthAbuseScopeValidateCode AuthAbuseScope = "validate_code"
	// AuthAbuseScopeForgotPassword throttles reset requests per email and per client.
	AuthAbuseScopeForgotPassword AuthAbuseScope = "forgot_password"
)

type AuthAbusePolicy struct {
	FreeAttempts int
	BaseDelay    time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	ResetWindow  time.Duration
}

// AuthAbuseGuard tracks failures per subject and per client IP. An empty subject
// only counts against the IP.
type AuthAbuseGuard interface {
	Check(ctx context.Context, scope AuthAbuseScope, subject, ip string) (time.Duration, error)
	RegisterFailure(ctx context.Context, scope AuthAbuseScope, subject, ip string) (time.Duration, error)
	Reset(ctx context.Context, scope AuthAbuseScope, subject, ip string) error
}

type NoopAuthAbuseGuard struct{}

func NewNoopAuthAbuseGuard() *NoopAuthAbuseGuard {
	return &NoopAuthAbuseGuard{}
}

func (g *NoopAuthAbuseGuard) Check(context.Context, AuthAbuseScope, string, string) (time.Duration, error) {
	return 0, nil
}

func (g *NoopAuthAbuseGuard) RegisterFailure(context.Context, AuthAbuseScope, string, string) (time.Duration, error) {
	return 0, nil
}

func (g *NoopAuthAbuseGuard) Reset(context.Context, AuthAbuseScope, string, string) error {
	return nil
}

type abuseEntry struct {
	FailCount     int
	LastFailureAt time.Time
	CooldownUntil time.Time
}

type InMemoryAuthAbuseGuard struct {
	mu     sync.Mutex
	policy AuthAbusePolicy
	data   map[string]abuseEntry
	now    func() time.Time
}

func NewInMemoryAuthAbuseGuard(policy AuthAbusePolicy) *InMemoryAuthAbuseGuard {
	return &InMemoryAuthAbuseGuard{
		policy: normalizeAuthAbusePolicy(policy),
		data:   make(map[string]abuseEntry),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (g *InMemoryAuthAbuseGuard) Check(ctx context.Context, scope AuthAbuseScope, subject, ip string) (time.Duration, error) {
	now := g.now()
	g.mu.Lock()
	defer g.mu.Unlock()

	var delay time.Duration
	for _, key := range abuseKeys(scope, subject, ip) {
		delay = max(delay, g.activeCooldownLocked(now, key))
	}
	recordAbuseCheck(ctx, scope, delay)
	return delay, nil
}

func (g *InMemoryAuthAbuseGuard) RegisterFailure(ctx context.Context, scope AuthAbuseScope, subject, ip string) (time.Duration, error) {
	now := g.now()
	g.mu.Lock()
	defer g.mu.Unlock()

	var delay time.Duration
	for _, key := range abuseKeys(scope, subject, ip) {
		delay = max(delay, g.bumpLocked(now, key))
	}
	recordAbuseFailure(ctx, scope, delay)
	return delay, nil
}

func (g *InMemoryAuthAbuseGuard) Reset(ctx context.Context, scope AuthAbuseScope, subject, ip string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, key := range abuseKeys(scope, subject, ip) {
		delete(g.data, key)
	}
	observability.RecordAuthAbuseGuardEvent(ctx, string(scope), "reset", "ok")
	return nil
}

func (g *InMemoryAuthAbuseGuard) bumpLocked(now time.Time, key string) time.Duration {
	entry := g.data[key]
	if entry.LastFailureAt.IsZero() || now.Sub(entry.LastFailureAt) > g.policy.ResetWindow {
		entry.FailCount = 0
	}
	entry.FailCount++
	entry.LastFailureAt = now
	delay := computeAbuseDelay(g.policy, entry.FailCount)
	entry.CooldownUntil = now.Add(delay)
	g.data[key] = entry
	return delay
}

func (g *InMemoryAuthAbuseGuard) activeCooldownLocked(now time.Time, key string) time.Duration {
	entry, ok := g.data[key]
	if !ok {
		return 0
	}
	if now.Sub(entry.LastFailureAt) > g.policy.ResetWindow {
		delete(g.data, key)
		return 0
	}
	if !now.Before(entry.CooldownUntil) {
		return 0
	}
	return entry.CooldownUntil.Sub(now)
}

func computeAbuseDelay(policy AuthAbusePolicy, failCount int) time.Duration {
	if failCount <= policy.FreeAttempts {
		return 0
	}
	power := math.Pow(policy.Multiplier, float64(failCount-policy.FreeAttempts-1))
	delay := time.Duration(float64(policy.BaseDelay) * power)
	if delay > policy.MaxDelay || delay < 0 {
		return policy.MaxDelay
	}
	return delay
}

func abuseKeys(scope AuthAbuseScope, subject, ip string) []string {
	keys := make([]string, 0, 2)
	if s := strings.TrimSpace(strings.ToLower(subject)); s != "" {
		keys = append(keys, fmt.Sprintf("%s:sub:%s", scope, s))
	}
	addr := strings.TrimSpace(strings.ToLower(ip))
	if addr == "" {
		addr = "unknown"
	}
	return append(keys, fmt.Sprintf("%s:ip:%s", scope, addr))
}

func recordAbuseCheck(ctx context.Context, scope AuthAbuseScope, delay time.Duration) {
	if delay > 0 {
		observability.RecordAuthAbuseGuardEvent(ctx, string(scope), "check", "cooldown")
		return
	}
	observability.RecordAuthAbuseGuardEvent(ctx, string(scope), "check", "allowed")
}

func recordAbuseFailure(ctx context.Context, scope AuthAbuseScope, delay time.Duration) {
	observability.RecordAuthAbuseGuardEvent(ctx, string(scope), "failure", "recorded")
	if delay > 0 {
		observability.RecordAuthAbuseCooldown(ctx, string(scope), delay)
	}
}

func normalizeAuthAbusePolicy(policy AuthAbusePolicy) AuthAbusePolicy {
	if policy.FreeAttempts < 0 {
		policy.FreeAttempts = 0
	}
	if policy.BaseDelay <= 0 {
		policy.BaseDelay = 2 * time.Second
	}
	if policy.Multiplier < 1 {
		policy.Multiplier = 2
	}
	if policy.MaxDelay < policy.BaseDelay {
		policy.MaxDelay = 5 * time.Minute
	}
	if policy.ResetWindow <= 0 {
		policy.ResetWindow = 30 * time.Minute
	}
	return policy
}
