package httpx

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Limiter scopes. The scope is the first segment of every key and the
// "key" label on the rate limit metric.
const (
	scopeOperator = "operator"
	scopeVisitor  = "visitor"
	scopeStream   = "stream"
)

// RateLimiter counts requests per key in fixed windows.
type RateLimiter interface {
	Allow(key string, limit int, window time.Duration) rateDecision
	Close()
}

type rateDecision struct {
	allowed   bool
	count     int
	windowEnd time.Time
}

func (d rateDecision) remaining(limit int) int {
	if left := limit - d.count; left > 0 {
		return left
	}
	return 0
}

// rateKey builds "<scope>:<part>:<part>..." with empty parts dropped.
func rateKey(scope string, parts ...string) string {
	key := scope
	for _, p := range parts {
		if p != "" {
			key += ":" + p
		}
	}
	return key
}

func keyScope(key string) string {
	scope, _, _ := strings.Cut(key, ":")
	if scope == "" {
		return "unknown"
	}
	return scope
}

// windowCounter is one key's fixed window.
type windowCounter struct {
	hits int
	ends time.Time
}

type memoryRateLimiter struct {
	mu       sync.Mutex
	windows  map[string]windowCounter
	now      func() time.Time
	done     chan struct{}
	stopOnce sync.Once
}

// NewMemoryRateLimiter returns a limiter local to this process. Expired
// windows are swept every few minutes.
func NewMemoryRateLimiter() RateLimiter {
	rl := &memoryRateLimiter{
		windows: make(map[string]windowCounter),
		now:     time.Now,
		done:    make(chan struct{}),
	}
	go rl.sweep(5 * time.Minute)
	return rl
}

func (rl *memoryRateLimiter) Allow(key string, limit int, window time.Duration) rateDecision {
	if limit <= 0 {
		return rateDecision{allowed: true}
	}
	if window <= 0 {
		window = time.Minute
	}
	now := rl.now()

	rl.mu.Lock()
	defer rl.mu.Unlock()
	wc := rl.windows[key]
	if now.After(wc.ends) {
		wc = windowCounter{ends: now.Add(window)}
	}
	if wc.hits >= limit {
		return rateDecision{count: wc.hits, windowEnd: wc.ends}
	}
	wc.hits++
	rl.windows[key] = wc
	return rateDecision{allowed: true, count: wc.hits, windowEnd: wc.ends}
}

func (rl *memoryRateLimiter) sweep(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-rl.done:
			return
		case <-ticker.C:
			rl.expire(rl.now())
		}
	}
}

func (rl *memoryRateLimiter) expire(now time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for key, wc := range rl.windows {
		if now.After(wc.ends) {
			delete(rl.windows, key)
		}
	}
}

func (rl *memoryRateLimiter) Close() {
	rl.stopOnce.Do(func() { close(rl.done) })
}

// withRateLimit rejects requests over limit per key within window. A key
// function returning "" falls back to the client address.
func (r *Router) withRateLimit(route string, limit int, window time.Duration, keyFn func(*http.Request) string, next http.HandlerFunc) http.HandlerFunc {
	if limit <= 0 || r.limiter == nil {
		return next
	}
	return func(w http.ResponseWriter, req *http.Request) {
		key := keyFn(req)
		if key == "" {
			key = rateKey(scopeVisitor, clientIP(req))
		}
		decision := r.limiter.Allow(key, limit, window)
		applyRateHeaders(w, limit, decision)
		if !decision.allowed {
			r.metrics.recordRateLimitHit(route, keyScope(key))
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next(w, req)
	}
}

// operatorKey limits authenticated API callers per user.
func (r *Router) operatorKey(req *http.Request) string {
	if info, ok := authInfoFromContext(req.Context()); ok && info.UserID != "" {
		return rateKey(scopeOperator, info.UserID)
	}
	return ""
}

// streamKey limits log stream connections per user.
func (r *Router) streamKey(req *http.Request) string {
	if info, ok := authInfoFromContext(req.Context()); ok && info.UserID != "" {
		return rateKey(scopeStream, info.UserID)
	}
	return ""
}

// sitePathVisitorKey buckets /_site/{siteId}/ traffic per site and client,
// so one busy site does not spend a visitor's budget on another.
func sitePathVisitorKey(req *http.Request) string {
	return rateKey(scopeVisitor, strings.ToLower(req.PathValue("siteId")), clientIP(req))
}

// hostVisitorKey buckets host-routed traffic per site and client.
func (r *Router) hostVisitorKey(req *http.Request) string {
	siteID, _ := siteFromHost(req.Host, r.opts.PublicDomainSuffix)
	return rateKey(scopeVisitor, siteID, clientIP(req))
}

func applyRateHeaders(w http.ResponseWriter, limit int, decision rateDecision) {
	if limit <= 0 {
		return
	}
	h := w.Header()
	h.Set("X-RateLimit-Limit", strconv.Itoa(limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(decision.remaining(limit)))
	if !decision.windowEnd.IsZero() {
		h.Set("X-RateLimit-Reset", strconv.FormatInt(decision.windowEnd.Unix(), 10))
	}
}

// clientIP prefers the first X-Forwarded-For hop, then RemoteAddr.
func clientIP(req *http.Request) string {
	if forwarded := req.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	addr := strings.TrimSpace(req.RemoteAddr)
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	if addr == "" {
		return "unknown"
	}
	return addr
}
