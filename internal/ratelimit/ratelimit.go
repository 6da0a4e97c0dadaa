// Package ratelimit is optional per-client token-bucket rate limiting. It is
// in-memory and per process; denied requests get 429 before the request
// pipeline sees them.
package ratelimit

import (
	"context"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/keithlinneman/basicweb/internal/httpmw"
)

const (
	DefaultPerSecond   = 10
	DefaultBurst       = 30
	DefaultTTL         = 5 * time.Minute
	DefaultMaxVisitors = 100_000
)

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
	// warned is set on the first denial and cleared by eviction.
	warned bool
}

// Limiter keeps one token bucket per client address.
type Limiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	// full is set while new clients are being turned away for capacity.
	full bool

	perSecond   rate.Limit
	burst       int
	ttl         time.Duration
	maxVisitors int

	onFirstDenied func(ip string)
	onDenied      func(ip string)
	onCapacity    func()
}

type Option func(*Limiter)

// WithRate sets the refill rate and bucket size: WithRate(10, 50) admits 50
// requests at once, then 10 per second.
func WithRate(perSecond float64, burst int) Option {
	return func(l *Limiter) {
		l.perSecond = rate.Limit(perSecond)
		l.burst = burst
	}
}

// WithTTL sets how long an idle client keeps its bucket.
func WithTTL(d time.Duration) Option {
	return func(l *Limiter) { l.ttl = d }
}

// WithMaxVisitors caps the number of tracked clients; 0 removes the cap.
// Unknown clients are denied while the cap is reached.
func WithMaxVisitors(n int) Option {
	return func(l *Limiter) { l.maxVisitors = n }
}

// WithOnFirstDenied is called once per client bucket, on its first denial.
func WithOnFirstDenied(fn func(ip string)) Option {
	return func(l *Limiter) { l.onFirstDenied = fn }
}

// WithOnDenied is called for every denied request.
func WithOnDenied(fn func(ip string)) Option {
	return func(l *Limiter) { l.onDenied = fn }
}

// WithOnCapacity is called when the visitor cap starts turning clients away.
// It fires again only after eviction has freed room.
func WithOnCapacity(fn func()) Option {
	return func(l *Limiter) { l.onCapacity = fn }
}

// New returns a Limiter whose eviction loop runs until ctx is done.
func New(ctx context.Context, opts ...Option) *Limiter {
	l := &Limiter{
		visitors:    make(map[string]*visitor),
		perSecond:   DefaultPerSecond,
		burst:       DefaultBurst,
		ttl:         DefaultTTL,
		maxVisitors: DefaultMaxVisitors,
	}
	for _, o := range opts {
		o(l)
	}
	if l.ttl <= 0 {
		l.ttl = DefaultTTL
	}
	go l.evictLoop(ctx)
	return l
}

// allow reports whether ip may proceed. Hooks run after the lock is released.
func (l *Limiter) allow(ip string) bool {
	now := time.Now()
	l.mu.Lock()
	v, ok := l.visitors[ip]
	if !ok {
		if l.maxVisitors > 0 && len(l.visitors) >= l.maxVisitors {
			first := !l.full
			l.full = true
			l.mu.Unlock()
			if first && l.onCapacity != nil {
				l.onCapacity()
			}
			if l.onDenied != nil {
				l.onDenied(ip)
			}
			return false
		}
		v = &visitor{limiter: rate.NewLimiter(l.perSecond, l.burst)}
		l.visitors[ip] = v
	}
	v.lastSeen = now
	allowed := v.limiter.AllowN(now, 1)
	firstDenial := !allowed && !v.warned
	if firstDenial {
		v.warned = true
	}
	l.mu.Unlock()

	if allowed {
		return true
	}
	if firstDenial && l.onFirstDenied != nil {
		l.onFirstDenied(ip)
	}
	if l.onDenied != nil {
		l.onDenied(ip)
	}
	return false
}

func (l *Limiter) evictLoop(ctx context.Context) {
	ticker := time.NewTicker(l.ttl / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			l.evict(now)
		}
	}
}

// evict drops clients idle for longer than the TTL.
func (l *Limiter) evict(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for ip, v := range l.visitors {
		if now.Sub(v.lastSeen) > l.ttl {
			delete(l.visitors, ip)
		}
	}
	if l.maxVisitors <= 0 || len(l.visitors) < l.maxVisitors {
		l.full = false
	}
}

// retryAfter is the whole seconds until one token refills, at least 1.
func (l *Limiter) retryAfter() string {
	if l.perSecond <= 0 || math.IsInf(float64(l.perSecond), 1) {
		return "1"
	}
	return strconv.Itoa(max(1, int(math.Ceil(1/float64(l.perSecond)))))
}

// Middleware answers 429 to clients over their rate. The client address comes
// from httpmw.ClientIP, falling back to the socket peer.
func (l *Limiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.allow(clientKey(r)) {
			w.Header().Set("Retry-After", l.retryAfter())
			http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientKey(r *http.Request) string {
	if ip := httpmw.ClientIPFromContext(r.Context()); ip != "" {
		return ip
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
