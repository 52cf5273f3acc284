package sessions

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/abairt/gaelgate/mcp"
)

func testManager(t *testing.T, opts ...ManagerOption) *Manager {
	t.Helper()
	return NewManager(mcp.ImplementationInfo{Name: "gaelgate", Version: "test"}, opts...)
}

func TestHandshake(t *testing.T) {
	ctx := context.Background()

	t.Run("initialize yields a distinct initializing session", func(t *testing.T) {
		m := testManager(t)
		a, res := m.Initialize(ctx, &mcp.InitializeRequest{ClientInfo: mcp.ImplementationInfo{Name: "cli"}})
		b, _ := m.Initialize(ctx, &mcp.InitializeRequest{})
		if a.ID() == b.ID() {
			t.Fatalf("session ids collide: %s", a.ID())
		}
		if a.State() != StateInitializing {
			t.Fatalf("state = %s, want initializing", a.State())
		}
		if res.ProtocolVersion != mcp.ProtocolVersion {
			t.Fatalf("protocolVersion = %q", res.ProtocolVersion)
		}
		if res.Capabilities.Tools == nil {
			t.Fatal("tools capability not advertised")
		}
		if a.ClientInfo().Name != "cli" {
			t.Fatalf("clientInfo = %+v", a.ClientInfo())
		}
	})

	t.Run("tool traffic is gated until initialized", func(t *testing.T) {
		m := testManager(t)
		s, _ := m.Initialize(ctx, nil)

		if _, err := m.RequireActive(ctx, s.ID()); err != ErrNotInitialized {
			t.Fatalf("err = %v, want ErrNotInitialized", err)
		}
		if err := m.MarkInitialized(ctx, s.ID()); err != nil {
			t.Fatalf("mark initialized: %v", err)
		}
		if _, err := m.RequireActive(ctx, s.ID()); err != nil {
			t.Fatalf("err = %v after initialized", err)
		}
	})

	t.Run("duplicate initialized notifications are idempotent", func(t *testing.T) {
		m := testManager(t)
		s, _ := m.Initialize(ctx, nil)
		for i := 0; i < 3; i++ {
			if err := m.MarkInitialized(ctx, s.ID()); err != nil {
				t.Fatalf("mark #%d: %v", i, err)
			}
		}
		if s.State() != StateActive {
			t.Fatalf("state = %s, want active", s.State())
		}
	})

	t.Run("unknown session id", func(t *testing.T) {
		m := testManager(t)
		if _, err := m.Get(ctx, "nope"); err != ErrNotFound {
			t.Fatalf("err = %v, want ErrNotFound", err)
		}
		if err := m.Terminate(ctx, "nope"); err != ErrNotFound {
			t.Fatalf("terminate err = %v, want ErrNotFound", err)
		}
	})
}

func TestTerminate(t *testing.T) {
	ctx := context.Background()

	t.Run("terminated session is gone and its context is done", func(t *testing.T) {
		m := testManager(t)
		s, _ := m.Initialize(ctx, nil)
		_ = m.MarkInitialized(ctx, s.ID())

		if err := m.Terminate(ctx, s.ID()); err != nil {
			t.Fatalf("terminate: %v", err)
		}
		select {
		case <-s.Context().Done():
		case <-time.After(time.Second):
			t.Fatal("session context still live after terminate")
		}
		if _, err := m.Get(ctx, s.ID()); err != ErrNotFound {
			t.Fatalf("err = %v, want ErrNotFound after terminate", err)
		}
		if m.Len() != 0 {
			t.Fatalf("len = %d, want 0", m.Len())
		}
	})

	t.Run("terminate cancels open streams", func(t *testing.T) {
		m := testManager(t)
		s, _ := m.Initialize(ctx, nil)
		_ = m.MarkInitialized(ctx, s.ID())

		sctx, release := s.OpenStream(context.Background())
		defer release()
		if s.OpenStreams() != 1 {
			t.Fatalf("open streams = %d, want 1", s.OpenStreams())
		}

		_ = m.Terminate(ctx, s.ID())
		select {
		case <-sctx.Done():
		case <-time.After(time.Second):
			t.Fatal("stream context still live after terminate")
		}
	})

	t.Run("releasing a stream twice is safe", func(t *testing.T) {
		m := testManager(t)
		s, _ := m.Initialize(ctx, nil)
		_, release := s.OpenStream(context.Background())
		release()
		release()
		if s.OpenStreams() != 0 {
			t.Fatalf("open streams = %d, want 0", s.OpenStreams())
		}
	})

	t.Run("concurrent terminate and lookup", func(t *testing.T) {
		m := testManager(t)
		s, _ := m.Initialize(ctx, nil)
		_ = m.MarkInitialized(ctx, s.ID())

		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, _ = m.RequireActive(ctx, s.ID())
			}()
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = m.Terminate(ctx, s.ID())
		}()
		wg.Wait()
		if m.Len() != 0 {
			t.Fatalf("len = %d after terminate", m.Len())
		}
	})
}

func TestIdleReaper(t *testing.T) {
	ctx := context.Background()

	var mu sync.Mutex
	now := time.Unix(1000, 0)
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	advance := func(d time.Duration) {
		mu.Lock()
		now = now.Add(d)
		mu.Unlock()
	}

	m := testManager(t, WithIdleTimeout(time.Minute), WithClock(clock))
	stale, _ := m.Initialize(ctx, nil)
	_ = m.MarkInitialized(ctx, stale.ID())

	advance(2 * time.Minute)
	fresh, _ := m.Initialize(ctx, nil)

	m.reapIdle(ctx)

	if _, err := m.Get(ctx, stale.ID()); err != ErrNotFound {
		t.Fatalf("stale session survived the reaper: err = %v", err)
	}
	if _, err := m.Get(ctx, fresh.ID()); err != nil {
		t.Fatalf("fresh session reaped: %v", err)
	}

	t.Run("activity defers reaping", func(t *testing.T) {
		advance(50 * time.Second)
		if _, err := m.Get(ctx, fresh.ID()); err != nil {
			t.Fatalf("touch: %v", err)
		}
		advance(50 * time.Second)
		m.reapIdle(ctx)
		if _, err := m.Get(ctx, fresh.ID()); err != nil {
			t.Fatalf("recently touched session reaped: %v", err)
		}
	})
}

func TestRunShutdown(t *testing.T) {
	m := testManager(t, WithIdleTimeout(time.Hour))
	s, _ := m.Initialize(context.Background(), nil)

	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(runCtx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
	select {
	case <-s.Context().Done():
	case <-time.After(time.Second):
		t.Fatal("session not terminated on shutdown")
	}
}
