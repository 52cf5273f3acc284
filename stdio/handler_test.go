package stdio

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/abairt/gaelgate/bridge"
	"github.com/abairt/gaelgate/internal/jsonrpc"
	"github.com/abairt/gaelgate/mcp"
	"github.com/abairt/gaelgate/tools"
)

func testRegistry(t *testing.T) *tools.Registry {
	t.Helper()
	cfg := bridge.Config{BaseURL: "http://unused", Timeout: 2 * time.Second, MaxInFlight: 2}
	return tools.NewRegistry([]tools.Tool{
		tools.NewSpellTool(bridge.NewSpellChecker(cfg)),
		tools.NewGrammarTool(bridge.NewGrammarChecker(cfg)),
		tools.NewHelloTool(),
	})
}

// runConversation feeds newline-delimited frames to a handler and returns
// each output line decoded.
func runConversation(t *testing.T, frames ...string) []*jsonrpc.Response {
	t.Helper()
	in := strings.NewReader(strings.Join(frames, "\n") + "\n")
	pr, pw := io.Pipe()

	h := NewHandler(mcp.ImplementationInfo{Name: "gaelgate", Version: "test"}, testRegistry(t), WithIO(in, pw))

	serveDone := make(chan error, 1)
	go func() {
		serveDone <- h.Serve(context.Background())
		pw.Close()
	}()

	var out []*jsonrpc.Response
	sc := bufio.NewScanner(pr)
	for sc.Scan() {
		var resp jsonrpc.Response
		if err := json.Unmarshal(sc.Bytes(), &resp); err != nil {
			t.Fatalf("bad output line %q: %v", sc.Text(), err)
		}
		out = append(out, &resp)
	}

	select {
	case err := <-serveDone:
		if err != nil {
			t.Fatalf("serve: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("serve did not exit at EOF")
	}
	return out
}

func TestLifecycle(t *testing.T) {
	out := runConversation(t,
		`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2025-06-18","clientInfo":{"name":"t","version":"0"}}}`,
		`{"jsonrpc":"2.0","method":"notifications/initialized"}`,
		`{"jsonrpc":"2.0","id":2,"method":"tools/list"}`,
		`{"jsonrpc":"2.0","id":3,"method":"tools/call","params":{"name":"hello.echo","arguments":{}}}`,
	)
	if len(out) != 3 {
		t.Fatalf("responses = %d, want 3 (notification has none)", len(out))
	}

	var initRes mcp.InitializeResult
	if err := json.Unmarshal(out[0].Result, &initRes); err != nil {
		t.Fatalf("decode initialize result: %v", err)
	}
	if initRes.ProtocolVersion != mcp.ProtocolVersion || initRes.ServerInfo.Name != "gaelgate" {
		t.Fatalf("initialize result = %+v", initRes)
	}

	var list mcp.ListToolsResult
	if err := json.Unmarshal(out[1].Result, &list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(list.Tools) != 3 {
		t.Fatalf("tools = %d, want 3", len(list.Tools))
	}

	var call mcp.CallToolResult
	if err := json.Unmarshal(out[2].Result, &call); err != nil {
		t.Fatalf("decode call result: %v", err)
	}
	if call.StructuredContent["message"] != "Dia dhuit, world!" {
		t.Fatalf("message = %v", call.StructuredContent["message"])
	}
}

func TestHandshakeGate(t *testing.T) {
	out := runConversation(t,
		`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{}}`,
		`{"jsonrpc":"2.0","id":2,"method":"tools/list"}`,
	)
	if len(out) != 2 {
		t.Fatalf("responses = %d, want 2", len(out))
	}
	if out[1].Error == nil || out[1].Error.Code != tools.CodeNotInitialized {
		t.Fatalf("error = %+v, want NotInitialized", out[1].Error)
	}
}

func TestShutdown(t *testing.T) {
	in := strings.NewReader(
		`{"jsonrpc":"2.0","id":1,"method":"shutdown"}` + "\n" +
			`{"jsonrpc":"2.0","id":2,"method":"ping"}` + "\n")
	var sb strings.Builder
	h := NewHandler(mcp.ImplementationInfo{Name: "gaelgate", Version: "test"}, testRegistry(t), WithIO(in, &sb))

	if err := h.Serve(context.Background()); err != nil {
		t.Fatalf("serve: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(sb.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("output lines = %d, want 1 (no processing after shutdown)", len(lines))
	}
}

func TestMalformedFrames(t *testing.T) {
	out := runConversation(t,
		`{not json`,
		`[{"jsonrpc":"2.0","id":1,"method":"ping"}]`,
		`{"jsonrpc":"2.0","id":4,"method":"no/such/method"}`,
	)
	if len(out) != 3 {
		t.Fatalf("responses = %d, want 3", len(out))
	}
	if out[0].Error == nil || out[0].Error.Code != jsonrpc.CodeParseError {
		t.Fatalf("error = %+v, want ParseError", out[0].Error)
	}
	if out[1].Error == nil || out[1].Error.Code != jsonrpc.CodeParseError {
		t.Fatalf("batch error = %+v, want ParseError", out[1].Error)
	}
	if out[2].Error == nil || out[2].Error.Code != jsonrpc.CodeMethodNotFound {
		t.Fatalf("error = %+v, want MethodNotFound", out[2].Error)
	}
}

func TestContextCancel(t *testing.T) {
	pr, _ := io.Pipe()
	var sb strings.Builder
	h := NewHandler(mcp.ImplementationInfo{Name: "gaelgate", Version: "test"}, testRegistry(t), WithIO(pr, &sb))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.Serve(ctx) }()
	cancel()

	select {
	case err := <-done:
		if err != context.Canceled {
			t.Fatalf("serve err = %v, want context.Canceled", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("serve did not exit on cancel")
	}
}
