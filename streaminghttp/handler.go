// Package streaminghttp serves the gateway's streamable HTTP transport.
// Clients POST JSON-RPC messages to a single endpoint; requests are answered
// over a short-lived SSE stream carrying exactly one data frame, while
// notifications are acknowledged with 202 and no body. GET opens a
// server-initiated stream and DELETE terminates the session.
package streaminghttp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/elnormous/contenttype"
	"github.com/google/uuid"

	"github.com/abairt/gaelgate/internal/jsonrpc"
	"github.com/abairt/gaelgate/internal/logctx"
	"github.com/abairt/gaelgate/mcp"
	"github.com/abairt/gaelgate/sessions"
	"github.com/abairt/gaelgate/tools"
)

var _ http.Handler = (*Handler)(nil)

var (
	jsonMediaType         = contenttype.NewMediaType("application/json")
	eventStreamMediaType  = contenttype.NewMediaType("text/event-stream")
	eventStreamMediaTypes = []contenttype.MediaType{eventStreamMediaType}
)

const (
	mcpSessionIDHeader       = "Mcp-Session-Id"
	mcpProtocolVersionHeader = "Mcp-Protocol-Version"

	defaultKeepAlive = 15 * time.Second
)

// writeJSONError emits a minimal JSON body for HTTP-layer rejections that
// happen before a JSON-RPC exchange is possible. This is transport-level,
// not JSON-RPC framing. Shape: {"error":{"code":<httpStatus>,"message":...}}.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	if ct := w.Header().Get("Content-Type"); ct == "" || ct == jsonMediaType.String() {
		w.Header().Set("Content-Type", jsonMediaType.String())
	}
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": map[string]any{"code": status, "message": msg}})
}

// lockedWriteFlusher wraps an io.Writer + http.Flusher with a mutex and an
// optional context. It serializes concurrent writes/flushes and refuses to
// write after ctx is canceled.
type lockedWriteFlusher struct {
	io.Writer
	http.Flusher
	mu  sync.Mutex
	ctx context.Context
}

func (l *lockedWriteFlusher) Write(p []byte) (int, error) {
	if l.ctx != nil && l.ctx.Err() != nil {
		return 0, l.ctx.Err()
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ctx != nil && l.ctx.Err() != nil {
		return 0, l.ctx.Err()
	}
	return l.Writer.Write(p)
}

func (l *lockedWriteFlusher) Flush() {
	if l.ctx != nil && l.ctx.Err() != nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ctx != nil && l.ctx.Err() != nil {
		return
	}
	l.Flusher.Flush()
}

// writeSSEEvent writes one Server-Sent Event carrying payload as its data
// field and flushes it.
func writeSSEEvent(wf *lockedWriteFlusher, payload []byte) error {
	if _, err := wf.Write([]byte("data: ")); err != nil {
		return fmt.Errorf("write SSE data prefix: %w", err)
	}
	if _, err := wf.Write(payload); err != nil {
		return fmt.Errorf("write SSE payload: %w", err)
	}
	if _, err := wf.Write([]byte("\n\n")); err != nil {
		return fmt.Errorf("write SSE frame terminator: %w", err)
	}
	wf.Flush()
	return nil
}

// writeSSEComment writes a comment frame. Clients ignore it; intermediaries
// see traffic and keep the connection open.
func writeSSEComment(wf *lockedWriteFlusher, text string) error {
	if _, err := fmt.Fprintf(wf, ": %s\n\n", text); err != nil {
		return err
	}
	wf.Flush()
	return nil
}

// Option configures the Handler.
type Option func(*Handler)

// WithLogger sets the logger. Defaults to slog.Default.
func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) {
		if l != nil {
			h.log = l
		}
	}
}

// WithKeepAlive sets the interval between SSE comment frames on open
// streams. Zero or negative disables them.
func WithKeepAlive(d time.Duration) Option {
	return func(h *Handler) { h.keepAlive = d }
}

// Handler is the streamable HTTP transport adapter. It owns no policy:
// session rules live in the manager and tool semantics in the registry.
type Handler struct {
	mux       *http.ServeMux
	manager   *sessions.Manager
	registry  *tools.Registry
	log       *slog.Logger
	keepAlive time.Duration
}

// New builds a Handler serving the MCP endpoint at path (e.g. "/mcp").
func New(path string, manager *sessions.Manager, registry *tools.Registry, opts ...Option) *Handler {
	h := &Handler{
		manager:   manager,
		registry:  registry,
		log:       slog.Default(),
		keepAlive: defaultKeepAlive,
	}
	for _, opt := range opts {
		opt(h)
	}

	h.mux = http.NewServeMux()
	h.mux.HandleFunc("POST "+path, h.handlePost)
	h.mux.HandleFunc("GET "+path, h.handleGet)
	h.mux.HandleFunc("DELETE "+path, h.handleDelete)
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := logctx.WithRequestData(r.Context(), &logctx.RequestData{
		RequestID:  uuid.NewString(),
		Method:     r.Method,
		RemoteAddr: r.RemoteAddr,
		Path:       r.URL.Path,
	})
	h.mux.ServeHTTP(w, r.WithContext(ctx))
}

func (h *Handler) handlePost(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()

	ctype, err := contenttype.GetMediaType(r)
	if err != nil || !ctype.Matches(jsonMediaType) {
		writeJSONError(w, http.StatusUnsupportedMediaType, "content-type must be application/json")
		h.log.WarnContext(ctx, "http.content_type.unsupported")
		return
	}

	var raw json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		h.log.WarnContext(ctx, "http.body.decode.fail", slog.String("err", err.Error()))
		return
	}
	req, err := jsonrpc.DecodeRequest(raw)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON-RPC message: "+err.Error())
		h.log.WarnContext(ctx, "rpc.inbound.fail", slog.String("err", err.Error()))
		return
	}

	ctx = logctx.WithRPCData(ctx, &logctx.RPCData{Method: req.Method, ID: req.ID.String()})
	h.log.InfoContext(ctx, "rpc.inbound")

	sessID := r.Header.Get(mcpSessionIDHeader)
	if req.Method == string(mcp.InitializeMethod) {
		if sessID != "" {
			writeJSONError(w, http.StatusBadRequest, "initialize must not carry a session header")
			return
		}
		h.handleInitialize(ctx, w, req, start)
		return
	}
	if sessID == "" {
		writeJSONError(w, http.StatusBadRequest, "missing Mcp-Session-Id header")
		h.log.InfoContext(ctx, "session.header.missing")
		return
	}

	sess, err := h.manager.Get(ctx, sessID)
	if err != nil {
		writeJSONError(w, http.StatusNotFound, "session not found")
		h.log.InfoContext(ctx, "session.load.miss")
		return
	}
	ctx = logctx.WithSessionData(ctx, &logctx.SessionData{SessionID: sess.ID(), State: string(sess.State())})

	if req.IsNotification() {
		if req.Method == string(mcp.InitializedNotificationMethod) {
			if err := h.manager.MarkInitialized(ctx, sessID); err != nil {
				writeJSONError(w, http.StatusNotFound, "session not found")
				return
			}
		}
		// Unknown notifications are accepted and dropped.
		w.WriteHeader(http.StatusAccepted)
		h.log.InfoContext(ctx, "rpc.notification.ok", slog.Duration("dur", time.Since(start)))
		return
	}

	if _, _, err := contenttype.GetAcceptableMediaType(r, eventStreamMediaTypes); err != nil {
		writeJSONError(w, http.StatusNotAcceptable, "accept must include text/event-stream")
		h.log.WarnContext(ctx, "http.accept.unsupported")
		return
	}
	f, ok := w.(http.Flusher)
	if !ok {
		writeJSONError(w, http.StatusInternalServerError, "streaming unsupported")
		h.log.ErrorContext(ctx, "http.flusher.missing")
		return
	}

	streamCtx, release := sess.OpenStream(ctx)
	defer release()

	w.Header().Set("Content-Type", eventStreamMediaType.String())
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	wf := &lockedWriteFlusher{Writer: w, Flusher: f, ctx: streamCtx}
	wf.Flush()

	stopKeepAlive := h.startKeepAlive(streamCtx, wf)
	resp := h.dispatch(streamCtx, sess, req)
	stopKeepAlive()

	payload, err := json.Marshal(resp)
	if err != nil {
		h.log.ErrorContext(ctx, "rpc.response.marshal.fail", slog.String("err", err.Error()))
		return
	}
	if err := writeSSEEvent(wf, payload); err != nil {
		h.log.WarnContext(ctx, "sse.write.fail", slog.String("err", err.Error()))
		return
	}
	h.log.InfoContext(ctx, "rpc.request.ok", slog.Duration("dur", time.Since(start)))
}

func (h *Handler) handleInitialize(ctx context.Context, w http.ResponseWriter, req *jsonrpc.Request, start time.Time) {
	if req.IsNotification() {
		writeJSONError(w, http.StatusBadRequest, "initialize must be a request")
		return
	}
	var initReq mcp.InitializeRequest
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &initReq); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid initialize params")
			h.log.InfoContext(ctx, "session.initialize.params.fail", slog.String("err", err.Error()))
			return
		}
	}

	sess, initRes := h.manager.Initialize(ctx, &initReq)
	resp, err := jsonrpc.NewResponse(req.ID, initRes)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to encode initialize response")
		h.log.ErrorContext(ctx, "session.initialize.encode.fail", slog.String("err", err.Error()))
		return
	}

	w.Header().Set(mcpSessionIDHeader, sess.ID())
	w.Header().Set(mcpProtocolVersionHeader, initRes.ProtocolVersion)
	w.Header().Set("Content-Type", jsonMediaType.String())
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.log.ErrorContext(ctx, "session.initialize.write.fail", slog.String("err", err.Error()))
		return
	}
	h.log.InfoContext(ctx, "session.initialize.http.ok", slog.Duration("dur", time.Since(start)))
}

// handleGet serves the optional server-initiated stream. The gateway never
// pushes unsolicited messages, so the stream only carries keep-alive
// comments until the client disconnects or the session ends.
func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if _, _, err := contenttype.GetAcceptableMediaType(r, eventStreamMediaTypes); err != nil {
		writeJSONError(w, http.StatusNotAcceptable, "accept must include text/event-stream")
		return
	}
	sessID := r.Header.Get(mcpSessionIDHeader)
	if sessID == "" {
		writeJSONError(w, http.StatusBadRequest, "missing Mcp-Session-Id header")
		return
	}
	sess, err := h.manager.Get(ctx, sessID)
	if err != nil {
		writeJSONError(w, http.StatusNotFound, "session not found")
		return
	}
	f, ok := w.(http.Flusher)
	if !ok {
		writeJSONError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	ctx = logctx.WithSessionData(ctx, &logctx.SessionData{SessionID: sess.ID(), State: string(sess.State())})
	streamCtx, release := sess.OpenStream(ctx)
	defer release()

	w.Header().Set("Content-Type", eventStreamMediaType.String())
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	wf := &lockedWriteFlusher{Writer: w, Flusher: f, ctx: streamCtx}
	wf.Flush()
	h.log.InfoContext(ctx, "sse.stream.open")

	interval := h.keepAlive
	if interval <= 0 {
		<-streamCtx.Done()
		h.log.InfoContext(ctx, "sse.stream.close")
		return
	}
	tick := time.NewTicker(interval)
	defer tick.Stop()
	for {
		select {
		case <-streamCtx.Done():
			h.log.InfoContext(ctx, "sse.stream.close")
			return
		case <-tick.C:
			if err := writeSSEComment(wf, "keep-alive"); err != nil {
				h.log.InfoContext(ctx, "sse.stream.close", slog.String("err", err.Error()))
				return
			}
		}
	}
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessID := r.Header.Get(mcpSessionIDHeader)
	if sessID == "" {
		writeJSONError(w, http.StatusBadRequest, "missing Mcp-Session-Id header")
		return
	}
	if err := h.manager.Terminate(ctx, sessID); err != nil {
		writeJSONError(w, http.StatusNotFound, "session not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
	h.log.InfoContext(ctx, "http.delete.ok")
}

// startKeepAlive emits comment frames on wf until the returned stop func is
// called or ctx ends. It keeps long tool calls from tripping idle proxies.
func (h *Handler) startKeepAlive(ctx context.Context, wf *lockedWriteFlusher) func() {
	if h.keepAlive <= 0 {
		return func() {}
	}
	done := make(chan struct{})
	var once sync.Once
	stop := func() { once.Do(func() { close(done) }) }
	go func() {
		tick := time.NewTicker(h.keepAlive)
		defer tick.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-tick.C:
				_ = writeSSEComment(wf, "keep-alive")
			}
		}
	}()
	return stop
}

// dispatch routes one client request to its handler. Every outcome is a
// single terminal response; the caller frames it.
func (h *Handler) dispatch(ctx context.Context, sess *sessions.Session, req *jsonrpc.Request) *jsonrpc.Response {
	switch mcp.Method(req.Method) {
	case mcp.PingMethod:
		resp, _ := jsonrpc.NewResponse(req.ID, map[string]any{})
		return resp

	case mcp.ToolsListMethod:
		if resp := h.requireActive(sess, req); resp != nil {
			return resp
		}
		resp, err := jsonrpc.NewResponse(req.ID, &mcp.ListToolsResult{Tools: h.registry.List()})
		if err != nil {
			return jsonrpc.NewErrorResponse(req.ID, jsonrpc.CodeInternalError, "internal error")
		}
		return resp

	case mcp.ToolsCallMethod:
		if resp := h.requireActive(sess, req); resp != nil {
			return resp
		}
		var call mcp.CallToolRequest
		if err := json.Unmarshal(req.Params, &call); err != nil || call.Name == "" {
			return jsonrpc.NewErrorResponse(req.ID, jsonrpc.CodeInvalidParams, "invalid tools/call params")
		}
		result, perr := h.registry.Call(ctx, call.Name, call.Arguments)
		if perr != nil {
			return jsonrpc.NewErrorResponse(req.ID, perr.Code, perr.Message)
		}
		resp, err := jsonrpc.NewResponse(req.ID, result)
		if err != nil {
			return jsonrpc.NewErrorResponse(req.ID, jsonrpc.CodeInternalError, "internal error")
		}
		return resp

	default:
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.CodeMethodNotFound, fmt.Sprintf("method not found: %s", req.Method))
	}
}

func (h *Handler) requireActive(sess *sessions.Session, req *jsonrpc.Request) *jsonrpc.Response {
	switch sess.State() {
	case sessions.StateActive:
		return nil
	case sessions.StateTerminated:
		return jsonrpc.NewErrorResponse(req.ID, tools.CodeSessionNotFound, "session not found")
	default:
		return jsonrpc.NewErrorResponse(req.ID, tools.CodeNotInitialized, "session not initialized")
	}
}
