package sessions

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/abairt/gaelgate/internal/logctx"
	"github.com/abairt/gaelgate/mcp"
)

const defaultIdleTimeout = 30 * time.Minute

// Manager owns every live session. It is safe for concurrent use by the
// transport's request goroutines.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	idleTimeout time.Duration
	serverInfo  mcp.ImplementationInfo
	log         *slog.Logger
	now         func() time.Time
}

// ManagerOption customizes a Manager.
type ManagerOption func(*Manager)

// WithIdleTimeout overrides how long a session may sit idle before the
// reaper terminates it. Zero or negative disables reaping.
func WithIdleTimeout(d time.Duration) ManagerOption {
	return func(m *Manager) { m.idleTimeout = d }
}

// WithLogger overrides the logger.
func WithLogger(l *slog.Logger) ManagerOption {
	return func(m *Manager) {
		if l != nil {
			m.log = l
		}
	}
}

// WithClock overrides the time source. Tests use this to drive the reaper.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// NewManager builds an empty manager advertising serverInfo at initialize.
func NewManager(serverInfo mcp.ImplementationInfo, opts ...ManagerOption) *Manager {
	m := &Manager{
		sessions:    make(map[string]*Session),
		idleTimeout: defaultIdleTimeout,
		serverInfo:  serverInfo,
		log:         slog.Default(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Initialize creates a session in the Initializing state and returns the
// handshake result. The session id is a fresh UUID, never reused.
func (m *Manager) Initialize(ctx context.Context, req *mcp.InitializeRequest) (*Session, *mcp.InitializeResult) {
	now := m.now()
	sctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		id:           uuid.NewString(),
		state:        StateInitializing,
		createdAt:    now,
		lastActivity: now,
		ctx:          sctx,
		cancel:       cancel,
	}
	if req != nil {
		s.clientInfo = req.ClientInfo
	}

	m.mu.Lock()
	m.sessions[s.id] = s
	m.mu.Unlock()

	ctx = logctx.WithSessionData(ctx, &logctx.SessionData{SessionID: s.id, State: string(StateInitializing)})
	m.log.InfoContext(ctx, "session.initialize.ok",
		slog.String("client", s.clientInfo.Name))

	res := &mcp.InitializeResult{
		ProtocolVersion: mcp.ProtocolVersion,
		Capabilities: mcp.ServerCapabilities{
			Tools: &struct {
				ListChanged bool `json:"listChanged"`
			}{},
		},
		ServerInfo: m.serverInfo,
	}
	return s, res
}

// Get looks up a session by id and refreshes its activity clock. Unknown
// and terminated ids both come back as ErrNotFound: from the outside a
// terminated session no longer exists.
func (m *Manager) Get(ctx context.Context, id string) (*Session, error) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	s.touch(m.now())
	return s, nil
}

// MarkInitialized moves a session to Active on notifications/initialized.
// Repeated notifications are idempotent.
func (m *Manager) MarkInitialized(ctx context.Context, id string) error {
	s, err := m.Get(ctx, id)
	if err != nil {
		return err
	}
	already := s.State() == StateActive
	s.advance(StateActive)
	if !already {
		ctx = logctx.WithSessionData(ctx, &logctx.SessionData{SessionID: id, State: string(StateActive)})
		m.log.InfoContext(ctx, "session.active")
	}
	return nil
}

// RequireActive fetches a session that must have completed the handshake.
// Tool traffic before notifications/initialized gets ErrNotInitialized.
func (m *Manager) RequireActive(ctx context.Context, id string) (*Session, error) {
	s, err := m.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.State() != StateActive {
		return nil, ErrNotInitialized
	}
	return s, nil
}

// Terminate ends a session: state goes to Terminated, the session context
// is cancelled so in-flight upstream calls unwind, and the id is removed.
// Terminating an unknown id reports ErrNotFound.
func (m *Manager) Terminate(ctx context.Context, id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()
	if !ok {
		return ErrNotFound
	}

	s.advance(StateTerminated)
	s.cancel()

	ctx = logctx.WithSessionData(ctx, &logctx.SessionData{SessionID: id, State: string(StateTerminated)})
	m.log.InfoContext(ctx, "session.terminate.ok")
	return nil
}

// Len reports how many sessions are live.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Run drives the idle reaper until ctx ends. On shutdown every remaining
// session is terminated so open streams unwind.
func (m *Manager) Run(ctx context.Context) {
	if m.idleTimeout <= 0 {
		<-ctx.Done()
		m.terminateAll(ctx)
		return
	}
	tick := time.NewTicker(m.idleTimeout / 4)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			m.terminateAll(ctx)
			return
		case <-tick.C:
			m.reapIdle(ctx)
		}
	}
}

func (m *Manager) reapIdle(ctx context.Context) {
	cutoff := m.now().Add(-m.idleTimeout)

	m.mu.RLock()
	var stale []string
	for id, s := range m.sessions {
		s.mu.Lock()
		idle := s.lastActivity.Before(cutoff)
		s.mu.Unlock()
		if idle {
			stale = append(stale, id)
		}
	}
	m.mu.RUnlock()

	for _, id := range stale {
		m.log.InfoContext(ctx, "session.reap", slog.String("sess_id", id))
		_ = m.Terminate(ctx, id)
	}
}

func (m *Manager) terminateAll(ctx context.Context) {
	m.mu.RLock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.RUnlock()
	for _, id := range ids {
		_ = m.Terminate(context.WithoutCancel(ctx), id)
	}
}
