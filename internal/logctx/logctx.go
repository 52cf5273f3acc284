// Package logctx decorates slog records with request, session, and tool-call
// attributes carried on the context, so individual call sites only log their
// event name and the interesting deltas.
package logctx

import (
	"context"
	"log/slog"
)

// Handler wraps another slog.Handler and appends context-carried groups.
type Handler struct {
	slog.Handler
}

func (h Handler) Handle(ctx context.Context, r slog.Record) error {
	if rd, ok := ctx.Value(requestKey{}).(*RequestData); ok {
		r.AddAttrs(slog.Group("req",
			slog.String("id", rd.RequestID),
			slog.String("method", rd.Method),
			slog.String("remote_addr", rd.RemoteAddr),
			slog.String("path", rd.Path),
		))
	}
	if sd, ok := ctx.Value(sessionKey{}).(*SessionData); ok {
		r.AddAttrs(slog.Group("sess",
			slog.String("id", sd.SessionID),
			slog.String("state", sd.State),
		))
	}
	if rm, ok := ctx.Value(rpcKey{}).(*RPCData); ok {
		r.AddAttrs(slog.Group("rpc",
			slog.String("method", rm.Method),
			slog.String("id", rm.ID),
		))
	}
	if td, ok := ctx.Value(toolKey{}).(*ToolData); ok {
		r.AddAttrs(slog.Group("tool", slog.String("name", td.Name)))
	}
	return h.Handler.Handle(ctx, r)
}

type requestKey struct{}

// RequestData identifies one inbound HTTP request.
type RequestData struct {
	RequestID  string
	Method     string
	RemoteAddr string
	Path       string
}

func WithRequestData(ctx context.Context, d *RequestData) context.Context {
	return context.WithValue(ctx, requestKey{}, d)
}

type sessionKey struct{}

// SessionData identifies the session a log record belongs to.
type SessionData struct {
	SessionID string
	State     string
}

func WithSessionData(ctx context.Context, d *SessionData) context.Context {
	return context.WithValue(ctx, sessionKey{}, d)
}

type rpcKey struct{}

// RPCData identifies the JSON-RPC message being processed.
type RPCData struct {
	Method string
	ID     string
}

func WithRPCData(ctx context.Context, d *RPCData) context.Context {
	return context.WithValue(ctx, rpcKey{}, d)
}

type toolKey struct{}

// ToolData names the tool a bridge call is being made for.
type ToolData struct {
	Name string
}

func WithToolData(ctx context.Context, d *ToolData) context.Context {
	return context.WithValue(ctx, toolKey{}, d)
}
