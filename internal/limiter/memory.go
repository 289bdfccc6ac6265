package limiter

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Memory is a process-local limiter. Each (username, peer) pair owns a token
// bucket holding MaxFailures tokens that refills over Window; a failure with
// an empty bucket locks the pair for BlockFor.
type Memory struct {
	policy Policy
	now    func() time.Time

	mu        sync.Mutex
	entries   map[string]*memEntry
	lastSweep time.Time
}

type memEntry struct {
	bucket       *rate.Limiter
	blockedUntil time.Time
}

// NewMemory constructs an in-memory limiter.
func NewMemory(p Policy) *Memory {
	if p.MaxFailures <= 0 {
		p.MaxFailures = DefaultPolicy.MaxFailures
	}
	if p.Window <= 0 {
		p.Window = DefaultPolicy.Window
	}
	return &Memory{policy: p, now: time.Now, entries: make(map[string]*memEntry)}
}

func memKey(username string, peer []byte) string {
	return username + "\x00" + string(peer)
}

// Allow reports whether the pair is currently unlocked.
func (m *Memory) Allow(_ context.Context, username string, peer []byte) (bool, time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[memKey(username, peer)]
	if !ok {
		return true, 0, nil
	}
	if d := e.blockedUntil.Sub(m.now()); d > 0 {
		return false, d, nil
	}
	return true, 0, nil
}

// Success forgets the pair.
func (m *Memory) Success(_ context.Context, username string, peer []byte) error {
	m.mu.Lock()
	delete(m.entries, memKey(username, peer))
	m.mu.Unlock()
	return nil
}

// Failure spends one token; with none left the pair is locked.
func (m *Memory) Failure(_ context.Context, username string, peer []byte) (bool, time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	k := memKey(username, peer)
	e, ok := m.entries[k]
	if !ok {
		m.sweep(now)
		every := rate.Every(m.policy.Window / time.Duration(m.policy.MaxFailures))
		// A burst of MaxFailures-1 makes the MaxFailures-th failure lock.
		e = &memEntry{bucket: rate.NewLimiter(every, m.policy.MaxFailures-1)}
		m.entries[k] = e
	}
	if e.bucket.AllowN(now, 1) {
		return false, 0, nil
	}
	e.blockedUntil = now.Add(m.policy.BlockFor)
	return true, m.policy.BlockFor, nil
}

// sweep drops pairs that are back to a full bucket and not locked; they
// behave exactly like pairs never seen. It runs at most once per refill
// interval.
func (m *Memory) sweep(now time.Time) {
	if now.Sub(m.lastSweep) < m.policy.Window/time.Duration(m.policy.MaxFailures) {
		return
	}
	m.lastSweep = now
	for k, e := range m.entries {
		if !now.Before(e.blockedUntil) && e.bucket.TokensAt(now) >= float64(e.bucket.Burst()) {
			delete(m.entries, k)
		}
	}
}
