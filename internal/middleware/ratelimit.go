package middleware

import (
	"context"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	// DefaultMaxMutationsPerMinute is the default per-IP budget for mutating
	// requests.
	DefaultMaxMutationsPerMinute = 120

	// DefaultMaxTrackedIPs bounds the number of client buckets kept in memory.
	DefaultMaxTrackedIPs = 10000

	sweepInterval = time.Minute
	idleTimeout   = 5 * time.Minute
)

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter keeps one token bucket per client IP. Buckets refill at
// perMinute/60 tokens per second and hold at most perMinute tokens.
type RateLimiter struct {
	mu        sync.Mutex
	buckets   map[string]*bucket
	perMinute int
	maxIPs    int
	now       func() time.Time
	stop      context.CancelFunc
}

// NewRateLimiter starts a limiter whose idle buckets are swept every minute
// until ctx ends or Stop is called. A non-positive perMinute selects
// DefaultMaxMutationsPerMinute.
func NewRateLimiter(ctx context.Context, perMinute int) *RateLimiter {
	if perMinute <= 0 {
		perMinute = DefaultMaxMutationsPerMinute
	}
	ctx, stop := context.WithCancel(ctx)
	rl := &RateLimiter{
		buckets:   make(map[string]*bucket),
		perMinute: perMinute,
		maxIPs:    DefaultMaxTrackedIPs,
		now:       time.Now,
		stop:      stop,
	}
	go rl.sweepLoop(ctx)
	return rl
}

// Allow takes one token from ip's bucket. When the bucket is empty it
// returns false and how long until a token is available.
func (rl *RateLimiter) Allow(ip string) (bool, time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	b := rl.bucketLocked(ip, now)
	res := b.limiter.ReserveN(now, 1)
	if delay := res.DelayFrom(now); delay > 0 {
		res.CancelAt(now)
		return false, delay
	}
	return true, 0
}

// Tracked reports how many client buckets are held.
func (rl *RateLimiter) Tracked() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.buckets)
}

// Stop ends the background sweep.
func (rl *RateLimiter) Stop() {
	rl.stop()
}

func (rl *RateLimiter) bucketLocked(ip string, now time.Time) *bucket {
	b, ok := rl.buckets[ip]
	if !ok {
		if len(rl.buckets) >= rl.maxIPs {
			rl.evictLeastRecentLocked()
		}
		b = &bucket{limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(rl.perMinute)), rl.perMinute)}
		rl.buckets[ip] = b
	}
	b.lastSeen = now
	return b
}

func (rl *RateLimiter) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rl.sweep()
		}
	}
}

// sweep drops buckets idle for longer than idleTimeout. An idle bucket has
// refilled completely, so dropping it loses no state.
func (rl *RateLimiter) sweep() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	cutoff := rl.now().Add(-idleTimeout)
	for ip, b := range rl.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(rl.buckets, ip)
		}
	}
}

func (rl *RateLimiter) evictLeastRecentLocked() {
	var victim string
	var seen time.Time
	for ip, b := range rl.buckets {
		if victim == "" || b.lastSeen.Before(seen) {
			victim, seen = ip, b.lastSeen
		}
	}
	delete(rl.buckets, victim)
}

// ExtractIP extracts the IP address from a RemoteAddr string, stripping the port.
func ExtractIP(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}

// retryAfterSeconds rounds delay up to whole seconds, minimum one.
func retryAfterSeconds(delay time.Duration) string {
	secs := int(math.Ceil(delay.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}

// HTTPMutationRateLimit rejects mutating requests (anything other than GET,
// HEAD and OPTIONS) with 429 once the caller's IP exhausts its budget.
// onLimited, when non-nil, runs for every rejected request.
func HTTPMutationRateLimit(rl *RateLimiter, onLimited func()) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if rl == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodGet, http.MethodHead, http.MethodOptions:
				next.ServeHTTP(w, r)
				return
			}
			ok, delay := rl.Allow(ExtractIP(r.RemoteAddr))
			if ok {
				next.ServeHTTP(w, r)
				return
			}
			if onLimited != nil {
				onLimited()
			}
			LoggerFromContext(r.Context()).WarnContext(r.Context(), "mutation rate limited",
				"remote_addr", r.RemoteAddr,
				"retry_after", delay.String(),
			)
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", retryAfterSeconds(delay))
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":"rate limit exceeded"}` + "\n"))
		})
	}
}
