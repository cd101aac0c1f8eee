package httpserver

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/time/rate"
)

const (
	limiterIdleExpiry   = 10 * time.Minute
	limiterSweepEvery   = 5 * time.Minute
	limitReasonPerIP    = "per_ip_limit"
	limitReasonRate     = "rate_limit"
	defaultStreamsPerIP = 10
)

// streamLimits bounds overlay streams per client IP: how many may be open at
// once and how fast new ones may be opened. The instance-wide cap is enforced
// by the broadcaster.
type streamLimits struct {
	clock  clockwork.Clock
	maxPer int
	rate   rate.Limit
	burst  int

	mu        sync.Mutex
	open      map[string]int
	limiters  map[string]*limiterEntry
	nextSweep time.Time
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newStreamLimits(clock clockwork.Clock, maxPerIP int, connectsPerSecond float64, burst int) *streamLimits {
	if maxPerIP <= 0 {
		maxPerIP = defaultStreamsPerIP
	}
	return &streamLimits{
		clock:     clock,
		maxPer:    maxPerIP,
		rate:      rate.Limit(connectsPerSecond),
		burst:     max(1, burst),
		open:      make(map[string]int),
		limiters:  make(map[string]*limiterEntry),
		nextSweep: clock.Now().Add(limiterSweepEvery),
	}
}

// acquire reserves a stream slot for ip. On refusal it returns the reason.
func (l *streamLimits) acquire(ip string) (bool, string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	if now.After(l.nextSweep) {
		l.sweep(now)
		l.nextSweep = now.Add(limiterSweepEvery)
	}

	entry, ok := l.limiters[ip]
	if !ok {
		entry = &limiterEntry{limiter: rate.NewLimiter(l.rate, l.burst)}
		l.limiters[ip] = entry
	}
	entry.lastSeen = now
	if !entry.limiter.AllowN(now, 1) {
		return false, limitReasonRate
	}

	if l.open[ip] >= l.maxPer {
		return false, limitReasonPerIP
	}
	l.open[ip]++
	return true, ""
}

func (l *streamLimits) release(ip string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if n := l.open[ip]; n > 1 {
		l.open[ip] = n - 1
	} else {
		delete(l.open, ip)
	}
}

func (l *streamLimits) openStreams(ip string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.open[ip]
}

// totalStreams counts open streams across all clients.
func (l *streamLimits) totalStreams() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	total := 0
	for _, n := range l.open {
		total += n
	}
	return total
}

// sweep drops rate limiters idle for limiterIdleExpiry. Caller holds mu.
func (l *streamLimits) sweep(now time.Time) {
	cutoff := now.Add(-limiterIdleExpiry)
	for ip, entry := range l.limiters {
		if entry.lastSeen.Before(cutoff) {
			delete(l.limiters, ip)
		}
	}
}
