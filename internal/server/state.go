package server

import (
	"go.uber.org/zap"

	"github.com/and161185/sealdb/internal/model"
)

// Phase is the authentication state of a connection.
type Phase uint8

// Connection phases. Terminated is final.
const (
	PhaseUnauthenticated Phase = iota
	PhaseAuthenticated
	PhaseTerminated
)

func (p Phase) String() string {
	switch p {
	case PhaseUnauthenticated:
		return "unauthenticated"
	case PhaseAuthenticated:
		return "authenticated"
	case PhaseTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Command tells the connection loop whether to keep reading.
type Command uint8

const (
	Continue Command = iota
	Exit
)

func (c Command) String() string {
	if c == Exit {
		return "exit"
	}
	return "continue"
}

// Session is the per-connection state owned by the connection goroutine.
type Session struct {
	ID    uint64
	Peer  string
	Phase Phase
	User  model.Session // valid in PhaseAuthenticated
	Log   *zap.Logger
}
