// Package limiter throttles failed authentication attempts per
// (username, peer) pair.
package limiter

import (
	"context"
	"crypto/sha256"
	"net"
	"time"
)

// Limiter controls authentication attempts and temporary lockouts.
type Limiter interface {
	// Allow reports whether an attempt is currently allowed and, if not, how
	// long the lockout lasts.
	Allow(ctx context.Context, username string, peer []byte) (bool, time.Duration, error)
	// Success resets the counters after a successful authentication.
	Success(ctx context.Context, username string, peer []byte) error
	// Failure records a failed attempt and reports whether it locked the pair.
	Failure(ctx context.Context, username string, peer []byte) (bool, time.Duration, error)
}

// Policy configures when a pair gets locked.
type Policy struct {
	MaxFailures int           // failures tolerated inside Window
	Window      time.Duration // failure counting window
	BlockFor    time.Duration // lockout length
}

// DefaultPolicy allows five failures per fifteen minutes.
var DefaultPolicy = Policy{MaxFailures: 5, Window: 15 * time.Minute, BlockFor: 15 * time.Minute}

// HashPeer returns a stable hash of the host part of a remote address so raw
// addresses are never stored. The port is dropped: a client reconnecting
// from a new ephemeral port is the same peer.
func HashPeer(addr string) []byte {
	if host, _, err := net.SplitHostPort(addr); err == nil {
		addr = host
	}
	h := sha256.Sum256([]byte(addr))
	return h[:]
}
