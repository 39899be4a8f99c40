package middleware

import (
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/tidic84/InstaAi/internal/model"
)

// RateLimiterConfig holds the per-user request budgets.
type RateLimiterConfig struct {
	GeneralRate     rate.Limit // all authenticated API calls
	GeneralBurst    int
	SyncRate        rate.Limit // manual sync triggers
	SyncBurst       int
	CleanupInterval time.Duration
}

// DefaultRateLimiterConfig allows 120 API calls and 6 manual syncs per minute per user.
func DefaultRateLimiterConfig() RateLimiterConfig {
	return PerMinuteRateLimiterConfig(120, 6)
}

// PerMinuteRateLimiterConfig builds a config from per-minute budgets. The burst equals the budget.
func PerMinuteRateLimiterConfig(general, sync int) RateLimiterConfig {
	return RateLimiterConfig{
		GeneralRate:     rate.Limit(float64(general) / 60.0),
		GeneralBurst:    general,
		SyncRate:        rate.Limit(float64(sync) / 60.0),
		SyncBurst:       sync,
		CleanupInterval: 5 * time.Minute,
	}
}

type userLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// limiterSet holds one token bucket per user for a single budget.
type limiterSet struct {
	name  string
	limit rate.Limit
	burst int

	mu       sync.Mutex
	limiters map[string]*userLimiter
}

func newLimiterSet(name string, limit rate.Limit, burst int) *limiterSet {
	return &limiterSet{name: name, limit: limit, burst: burst, limiters: make(map[string]*userLimiter)}
}

func (s *limiterSet) get(userID string, now time.Time) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ul, ok := s.limiters[userID]; ok {
		ul.lastAccess = now
		return ul.limiter
	}
	l := rate.NewLimiter(s.limit, s.burst)
	s.limiters[userID] = &userLimiter{limiter: l, lastAccess: now}
	return l
}

func (s *limiterSet) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.limiters)
}

func (s *limiterSet) evictIdle(now time.Time, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for userID, ul := range s.limiters {
		if now.Sub(ul.lastAccess) > ttl {
			delete(s.limiters, userID)
		}
	}
}

func (s *limiterSet) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, err := UserIDFromContext(r.Context())
		if err != nil {
			WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
			return
		}

		if !s.get(userID, time.Now()).Allow() {
			slog.Warn("rate limit exceeded",
				slog.String("user_id", userID),
				slog.String("limit_type", s.name),
			)
			writeRateLimitResponse(w, s.limit)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// RateLimiter enforces the per-user budgets. It must run after the bearer auth middleware.
type RateLimiter struct {
	config  RateLimiterConfig
	general *limiterSet
	sync    *limiterSet

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewRateLimiter creates a RateLimiter and starts evicting idle users in the background.
func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	rl := &RateLimiter{
		config:  config,
		general: newLimiterSet("general", config.GeneralRate, config.GeneralBurst),
		sync:    newLimiterSet("sync", config.SyncRate, config.SyncBurst),
		stopCh:  make(chan struct{}),
	}

	go rl.cleanupLoop()

	return rl
}

// Stop ends the background eviction. It is safe to call more than once.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopCh) })
}

// GeneralMiddleware limits every authenticated API call.
func (rl *RateLimiter) GeneralMiddleware() func(next http.Handler) http.Handler {
	return rl.general.middleware
}

// SyncMiddleware limits manual sync triggers, independently of the general budget.
func (rl *RateLimiter) SyncMiddleware() func(next http.Handler) http.Handler {
	return rl.sync.middleware
}

// GeneralLimiterCount returns the number of users tracked by the general budget.
func (rl *RateLimiter) GeneralLimiterCount() int { return rl.general.len() }

// SyncLimiterCount returns the number of users tracked by the sync budget.
func (rl *RateLimiter) SyncLimiterCount() int { return rl.sync.len() }

func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanup()
		case <-rl.stopCh:
			return
		}
	}
}

// cleanup drops users idle for more than twice the cleanup interval.
func (rl *RateLimiter) cleanup() {
	now := time.Now()
	ttl := rl.config.CleanupInterval * 2
	rl.general.evictIdle(now, ttl)
	rl.sync.evictIdle(now, ttl)
}

// writeRateLimitResponse writes a 429 with Retry-After set to the time one token takes to refill.
func writeRateLimitResponse(w http.ResponseWriter, r rate.Limit) {
	retryAfterSec := 1
	if r > 0 {
		retryAfterSec = int(math.Ceil(1.0 / float64(r)))
	}
	if retryAfterSec < 1 {
		retryAfterSec = 1
	}

	w.Header().Set("Retry-After", strconv.Itoa(retryAfterSec))
	WriteErrorResponse(w, http.StatusTooManyRequests, model.NewRateLimitExceededError())
}
