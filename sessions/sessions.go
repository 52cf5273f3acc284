// Package sessions enforces the initialize handshake and multiplexes
// concurrent client sessions for the streaming HTTP transport. The stdio
// transport bypasses it entirely: a stdio connection is one implicit
// session.
package sessions

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/abairt/gaelgate/mcp"
)

// State is a session's lifecycle position. States only ever move forward:
// a session never regresses toward Uninitialized.
type State string

const (
	StateUninitialized State = "uninitialized"
	StateInitializing  State = "initializing"
	StateActive        State = "active"
	StateTerminated    State = "terminated"
)

var (
	// ErrNotFound means the session id is unknown or already terminated.
	ErrNotFound = errors.New("session not found")

	// ErrNotInitialized means tool traffic arrived before the client sent
	// notifications/initialized.
	ErrNotInitialized = errors.New("session not initialized")
)

// Session is one client's handshake state and open response channels.
// All mutation goes through the Manager; transports only read.
type Session struct {
	id string

	mu           sync.Mutex
	state        State
	createdAt    time.Time
	lastActivity time.Time
	clientInfo   mcp.ImplementationInfo
	openStreams  int

	ctx    context.Context
	cancel context.CancelFunc
}

// ID returns the opaque session identifier. IDs are never reused.
func (s *Session) ID() string { return s.id }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// ClientInfo returns the implementation info captured at initialize.
func (s *Session) ClientInfo() mcp.ImplementationInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clientInfo
}

// Context is done once the session terminates. Work done on behalf of the
// session derives from it so termination cancels in-flight upstream calls.
func (s *Session) Context() context.Context { return s.ctx }

// OpenStream registers a per-request response channel and returns a context
// that ends when either the request or the session ends. The returned
// release func must be called exactly once when the channel closes.
func (s *Session) OpenStream(parent context.Context) (context.Context, func()) {
	ctx, cancel := context.WithCancel(parent)
	stop := context.AfterFunc(s.ctx, cancel)

	s.mu.Lock()
	s.openStreams++
	s.mu.Unlock()

	var once sync.Once
	release := func() {
		once.Do(func() {
			stop()
			cancel()
			s.mu.Lock()
			s.openStreams--
			s.mu.Unlock()
		})
	}
	return ctx, release
}

// OpenStreams reports the number of response channels currently open.
func (s *Session) OpenStreams() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.openStreams
}

func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	s.lastActivity = now
	s.mu.Unlock()
}

// advance moves the state forward. Backward transitions are refused, which
// keeps duplicate notifications harmless and terminated sessions terminal.
func (s *Session) advance(to State) bool {
	rank := map[State]int{
		StateUninitialized: 0,
		StateInitializing:  1,
		StateActive:        2,
		StateTerminated:    3,
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if rank[to] < rank[s.state] {
		return false
	}
	s.state = to
	return true
}
