// Package stdio implements a minimal single-connection transport over
// stdin/stdout. It is intended for embedding the gateway as a subprocess and
// for local development, where piping newline-delimited JSON is simpler than
// running an HTTP server.
//
// Connection model: one process, one client, one implicit session. The
// initialize handshake still applies, but there is no session id and no
// reaper; the session lives exactly as long as the process does.
package stdio

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/abairt/gaelgate/internal/jsonrpc"
	"github.com/abairt/gaelgate/internal/logctx"
	"github.com/abairt/gaelgate/mcp"
	"github.com/abairt/gaelgate/tools"
)

const maxLineBytes = 4 << 20

// Option customizes a Handler.
type Option func(*Handler)

// WithIO sets the reader and writer for the handler.
func WithIO(r io.Reader, w io.Writer) Option {
	return func(h *Handler) {
		if r != nil {
			h.r = r
		}
		if w != nil {
			h.w = w
		}
	}
}

// WithLogger overrides the logger. Logs go to stderr by default; stdout is
// reserved for protocol frames.
func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) {
		if l != nil {
			h.log = l
		}
	}
}

type handshakeState int

const (
	stateUninitialized handshakeState = iota
	stateInitializing
	stateActive
)

// Handler is the stdio transport adapter. Messages are processed one at a
// time in arrival order, which is what a newline-delimited pipe implies.
type Handler struct {
	r   io.Reader
	w   io.Writer
	log *slog.Logger

	registry   *tools.Registry
	serverInfo mcp.ImplementationInfo

	wmu   sync.Mutex
	state handshakeState
}

// NewHandler builds a stdio Handler with os.Stdin/os.Stdout defaults.
func NewHandler(serverInfo mcp.ImplementationInfo, registry *tools.Registry, opts ...Option) *Handler {
	h := &Handler{
		r:          os.Stdin,
		w:          os.Stdout,
		log:        slog.Default(),
		registry:   registry,
		serverInfo: serverInfo,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Serve runs the event loop until EOF, a shutdown request, or ctx
// cancellation. EOF and shutdown are clean exits.
func (h *Handler) Serve(ctx context.Context) error {
	lines := make(chan []byte)
	errc := make(chan error, 1)
	go func() {
		sc := bufio.NewScanner(h.r)
		sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
		for sc.Scan() {
			line := make([]byte, len(sc.Bytes()))
			copy(line, sc.Bytes())
			select {
			case lines <- line:
			case <-ctx.Done():
				return
			}
		}
		errc <- sc.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-errc:
			if err != nil {
				return fmt.Errorf("stdio: read: %w", err)
			}
			return nil
		case line := <-lines:
			if len(line) == 0 {
				continue
			}
			done, err := h.handleLine(ctx, line)
			if err != nil {
				return err
			}
			if done {
				return nil
			}
		}
	}
}

// handleLine processes one inbound frame. The bool result reports a clean
// shutdown request.
func (h *Handler) handleLine(ctx context.Context, line []byte) (bool, error) {
	req, err := jsonrpc.DecodeRequest(line)
	if err != nil {
		h.log.WarnContext(ctx, "rpc.inbound.fail", slog.String("err", err.Error()))
		return false, h.write(jsonrpc.NewErrorResponse(jsonrpc.ID{}, jsonrpc.CodeParseError, "invalid JSON-RPC message"))
	}

	ctx = logctx.WithRPCData(ctx, &logctx.RPCData{Method: req.Method, ID: req.ID.String()})
	h.log.InfoContext(ctx, "rpc.inbound")

	if req.IsNotification() {
		if req.Method == string(mcp.InitializedNotificationMethod) && h.state == stateInitializing {
			h.state = stateActive
			h.log.InfoContext(ctx, "session.active")
		}
		// Other notifications are accepted and dropped.
		return false, nil
	}

	switch mcp.Method(req.Method) {
	case mcp.InitializeMethod:
		return false, h.handleInitialize(ctx, req)

	case mcp.PingMethod:
		resp, _ := jsonrpc.NewResponse(req.ID, map[string]any{})
		return false, h.write(resp)

	case mcp.ShutdownMethod:
		resp, _ := jsonrpc.NewResponse(req.ID, map[string]any{})
		if err := h.write(resp); err != nil {
			return false, err
		}
		h.log.InfoContext(ctx, "stdio.shutdown")
		return true, nil

	case mcp.ToolsListMethod:
		if h.state != stateActive {
			return false, h.write(jsonrpc.NewErrorResponse(req.ID, tools.CodeNotInitialized, "session not initialized"))
		}
		resp, err := jsonrpc.NewResponse(req.ID, &mcp.ListToolsResult{Tools: h.registry.List()})
		if err != nil {
			return false, h.write(jsonrpc.NewErrorResponse(req.ID, jsonrpc.CodeInternalError, "internal error"))
		}
		return false, h.write(resp)

	case mcp.ToolsCallMethod:
		if h.state != stateActive {
			return false, h.write(jsonrpc.NewErrorResponse(req.ID, tools.CodeNotInitialized, "session not initialized"))
		}
		var call mcp.CallToolRequest
		if err := json.Unmarshal(req.Params, &call); err != nil || call.Name == "" {
			return false, h.write(jsonrpc.NewErrorResponse(req.ID, jsonrpc.CodeInvalidParams, "invalid tools/call params"))
		}
		result, perr := h.registry.Call(ctx, call.Name, call.Arguments)
		if perr != nil {
			return false, h.write(jsonrpc.NewErrorResponse(req.ID, perr.Code, perr.Message))
		}
		resp, err := jsonrpc.NewResponse(req.ID, result)
		if err != nil {
			return false, h.write(jsonrpc.NewErrorResponse(req.ID, jsonrpc.CodeInternalError, "internal error"))
		}
		return false, h.write(resp)

	default:
		return false, h.write(jsonrpc.NewErrorResponse(req.ID, jsonrpc.CodeMethodNotFound, fmt.Sprintf("method not found: %s", req.Method)))
	}
}

func (h *Handler) handleInitialize(ctx context.Context, req *jsonrpc.Request) error {
	var initReq mcp.InitializeRequest
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &initReq); err != nil {
			return h.write(jsonrpc.NewErrorResponse(req.ID, jsonrpc.CodeInvalidParams, "invalid initialize params"))
		}
	}
	if h.state == stateUninitialized {
		h.state = stateInitializing
	}
	h.log.InfoContext(ctx, "session.initialize.ok", slog.String("client", initReq.ClientInfo.Name))

	res := &mcp.InitializeResult{
		ProtocolVersion: mcp.ProtocolVersion,
		Capabilities: mcp.ServerCapabilities{
			Tools: &struct {
				ListChanged bool `json:"listChanged"`
			}{},
		},
		ServerInfo: h.serverInfo,
	}
	resp, err := jsonrpc.NewResponse(req.ID, res)
	if err != nil {
		return h.write(jsonrpc.NewErrorResponse(req.ID, jsonrpc.CodeInternalError, "internal error"))
	}
	return h.write(resp)
}

// write frames one outbound message as a single line.
func (h *Handler) write(resp *jsonrpc.Response) error {
	b, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("stdio: marshal response: %w", err)
	}
	h.wmu.Lock()
	defer h.wmu.Unlock()
	if _, err := h.w.Write(append(b, '\n')); err != nil {
		return fmt.Errorf("stdio: write: %w", err)
	}
	return nil
}
