package server

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/time/rate"
)

// Overlay socket limits per source IP. The total is capped separately by
// the broadcaster's MAX_OVERLAY_CLIENTS.
const (
	wsMaxPerIP     = 5
	wsConnectRate  = 1.0 // reconnects per second, sustained
	wsConnectBurst = 5

	limiterIdleExpiry   = 10 * time.Minute
	limiterCleanupEvery = 5 * time.Minute
)

// LimitReason describes why a connection was rejected.
type LimitReason string

const (
	LimitReasonPerIP LimitReason = "per_ip_limit"
	LimitReasonRate  LimitReason = "rate_limit"
)

// ConnectionLimits guards the overlay socket against a single source
// holding many sockets or reconnecting in a tight loop.
type ConnectionLimits struct {
	clock  clockwork.Clock
	maxPer int
	rate   rate.Limit
	burst  int

	mu        sync.Mutex
	open      map[string]int
	limiters  map[string]*limiterEntry
	cleanupAt time.Time
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewConnectionLimits allows maxPerIP concurrent sockets per IP and
// perSecond new sockets per IP with the given burst.
func NewConnectionLimits(maxPerIP int, perSecond float64, burst int) *ConnectionLimits {
	return newConnectionLimits(clockwork.NewRealClock(), maxPerIP, perSecond, burst)
}

func newConnectionLimits(clock clockwork.Clock, maxPerIP int, perSecond float64, burst int) *ConnectionLimits {
	return &ConnectionLimits{
		clock:     clock,
		maxPer:    maxPerIP,
		rate:      rate.Limit(perSecond),
		burst:     burst,
		open:      make(map[string]int),
		limiters:  make(map[string]*limiterEntry),
		cleanupAt: clock.Now().Add(limiterCleanupEvery),
	}
}

// Acquire takes a slot for ip. Rate is checked first, so a rejected
// reconnect storm never counts against the open-socket limit.
func (l *ConnectionLimits) Acquire(ip string) (bool, LimitReason) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	if now.After(l.cleanupAt) {
		l.cleanup(now)
		l.cleanupAt = now.Add(limiterCleanupEvery)
	}

	entry, ok := l.limiters[ip]
	if !ok {
		entry = &limiterEntry{limiter: rate.NewLimiter(l.rate, l.burst)}
		l.limiters[ip] = entry
	}
	entry.lastSeen = now
	if !entry.limiter.AllowN(now, 1) {
		return false, LimitReasonRate
	}

	if l.open[ip] >= l.maxPer {
		return false, LimitReasonPerIP
	}
	l.open[ip]++
	return true, ""
}

// Release frees a slot taken by Acquire.
func (l *ConnectionLimits) Release(ip string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if n := l.open[ip]; n > 1 {
		l.open[ip] = n - 1
	} else {
		delete(l.open, ip)
	}
}

// Open returns the number of sockets currently held by ip.
func (l *ConnectionLimits) Open(ip string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.open[ip]
}

// trackedIPs reports how many per-IP rate limiters are alive.
func (l *ConnectionLimits) trackedIPs() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}

// cleanup drops idle limiters. Must be called with mu held.
func (l *ConnectionLimits) cleanup(now time.Time) {
	cutoff := now.Add(-limiterIdleExpiry)
	for ip, entry := range l.limiters {
		if entry.lastSeen.Before(cutoff) && l.open[ip] == 0 {
			delete(l.limiters, ip)
		}
	}
}
