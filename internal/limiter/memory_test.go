package limiter

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

var _ Limiter = (*Memory)(nil)
var _ Limiter = (*PG)(nil)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestMemory(p Policy) (*Memory, *clock) {
	c := &clock{t: time.Unix(1_700_000_000, 0)}
	m := NewMemory(p)
	m.now = c.now
	return m, c
}

func TestMemory_LocksAtThreshold(t *testing.T) {
	ctx := context.Background()
	m, c := newTestMemory(Policy{MaxFailures: 3, Window: time.Minute, BlockFor: 5 * time.Minute})
	peer := HashPeer("10.0.0.1:5000")

	for i := 1; i <= 2; i++ {
		blocked, _, err := m.Failure(ctx, "Bob", peer)
		if err != nil || blocked {
			t.Fatalf("failure %d: blocked=%v err=%v", i, blocked, err)
		}
	}
	blocked, dur, err := m.Failure(ctx, "Bob", peer)
	if err != nil || !blocked || dur != 5*time.Minute {
		t.Fatalf("third failure: blocked=%v dur=%v err=%v", blocked, dur, err)
	}

	ok, retry, _ := m.Allow(ctx, "Bob", peer)
	if ok || retry != 5*time.Minute {
		t.Fatalf("Allow while locked: ok=%v retry=%v", ok, retry)
	}
	if ok, _, _ := m.Allow(ctx, "Alice", peer); !ok {
		t.Fatalf("other user must not be locked")
	}

	c.advance(5*time.Minute + time.Second)
	if ok, _, _ := m.Allow(ctx, "Bob", peer); !ok {
		t.Fatalf("lock must expire")
	}
}

func TestMemory_WindowRefills(t *testing.T) {
	ctx := context.Background()
	m, c := newTestMemory(Policy{MaxFailures: 2, Window: time.Minute, BlockFor: time.Minute})
	peer := []byte("p")

	if blocked, _, _ := m.Failure(ctx, "Bob", peer); blocked {
		t.Fatalf("first failure must not lock")
	}
	c.advance(time.Minute)
	if blocked, _, _ := m.Failure(ctx, "Bob", peer); blocked {
		t.Fatalf("failure after the window must not lock")
	}
}

func TestMemory_SuccessResets(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestMemory(Policy{MaxFailures: 2, Window: time.Hour, BlockFor: time.Hour})
	peer := []byte("p")

	_, _, _ = m.Failure(ctx, "Bob", peer)
	if err := m.Success(ctx, "Bob", peer); err != nil {
		t.Fatalf("Success: %v", err)
	}
	if blocked, _, _ := m.Failure(ctx, "Bob", peer); blocked {
		t.Fatalf("counter must restart after success")
	}
}

func TestMemory_SweepsIdleEntries(t *testing.T) {
	ctx := context.Background()
	m, c := newTestMemory(Policy{MaxFailures: 2, Window: time.Minute, BlockFor: 10 * time.Minute})
	peer := []byte("p")

	for i := 0; i < 10; i++ {
		_, _, _ = m.Failure(ctx, fmt.Sprintf("u%d", i), peer)
	}
	_, _, _ = m.Failure(ctx, "locked", peer)
	if blocked, _, _ := m.Failure(ctx, "locked", peer); !blocked {
		t.Fatalf("second failure must lock")
	}
	if len(m.entries) != 11 {
		t.Fatalf("entries=%d, want 11", len(m.entries))
	}

	c.advance(time.Minute)
	_, _, _ = m.Failure(ctx, "fresh", peer)
	if len(m.entries) != 2 {
		t.Fatalf("entries after sweep=%d, want locked and fresh only", len(m.entries))
	}
	if ok, _, _ := m.Allow(ctx, "locked", peer); ok {
		t.Fatalf("sweep must keep locked pairs")
	}
}
