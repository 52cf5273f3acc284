// Command gaelgate runs the Irish-language tool gateway. It exposes the MCP
// tools surface over streamable HTTP or stdio and delegates the linguistic
// work to the GaelSpell and An Gramadóir services.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jessevdk/go-flags"

	"github.com/abairt/gaelgate/bridge"
	"github.com/abairt/gaelgate/config"
	"github.com/abairt/gaelgate/health"
	"github.com/abairt/gaelgate/internal/logctx"
	"github.com/abairt/gaelgate/mcp"
	"github.com/abairt/gaelgate/sessions"
	"github.com/abairt/gaelgate/stdio"
	"github.com/abairt/gaelgate/streaminghttp"
	"github.com/abairt/gaelgate/tools"
)

const version = "0.1.0"

type options struct {
	Config   string `short:"c" long:"config" description:"path to a TOML configuration file"`
	Mode     string `short:"m" long:"mode" description:"transport mode" choice:"http" choice:"stdio"`
	Listen   string `short:"l" long:"listen" description:"http listen address"`
	LogLevel string `long:"log-level" description:"minimum log level" choice:"debug" choice:"info" choice:"warn" choice:"error" default:"info"`
	Version  bool   `short:"v" long:"version" description:"print version and exit"`
}

func main() {
	var opts options
	if _, err := flags.Parse(&opts); err != nil {
		var ferr *flags.Error
		if errors.As(err, &ferr) && ferr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(2)
	}
	if opts.Version {
		fmt.Println("gaelgate " + version)
		return
	}

	if err := run(opts); err != nil {
		slog.Error("gaelgate.exit", slog.String("err", err.Error()))
		os.Exit(1)
	}
}

func run(opts options) error {
	cfg, err := config.Load(opts.Config)
	if err != nil {
		return err
	}
	// Flags sit above both the file and the environment.
	if opts.Mode != "" {
		cfg.Mode = opts.Mode
	}
	if opts.Listen != "" {
		cfg.ListenAddr = opts.Listen
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(opts.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	// Protocol frames own stdout in stdio mode; logs always go to stderr.
	log := slog.New(logctx.Handler{
		Handler: slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}),
	})
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	spell := bridge.NewSpellChecker(cfg.GaelSpell.BridgeConfig(), bridge.WithLogger(log))
	grammar := bridge.NewGrammarChecker(cfg.Gramadoir.BridgeConfig(), bridge.WithLogger(log))
	registry := tools.NewRegistry([]tools.Tool{
		tools.NewSpellTool(spell),
		tools.NewGrammarTool(grammar),
		tools.NewHelloTool(),
	}, tools.WithLogger(log))

	serverInfo := mcp.ImplementationInfo{Name: "gaelgate", Version: version}
	log.InfoContext(ctx, "gaelgate.start",
		slog.String("version", version),
		slog.String("mode", cfg.Mode))

	if cfg.Mode == "stdio" {
		h := stdio.NewHandler(serverInfo, registry, stdio.WithLogger(log))
		if err := h.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	}

	return serveHTTP(ctx, cfg, log, serverInfo, registry, spell, grammar)
}

func serveHTTP(
	ctx context.Context,
	cfg config.Config,
	log *slog.Logger,
	serverInfo mcp.ImplementationInfo,
	registry *tools.Registry,
	spell *bridge.SpellChecker,
	grammar *bridge.GrammarChecker,
) error {
	manager := sessions.NewManager(serverInfo,
		sessions.WithIdleTimeout(cfg.SessionIdleTimeout.Duration),
		sessions.WithLogger(log))
	go manager.Run(ctx)

	mux := http.NewServeMux()
	mux.Handle("/mcp", streaminghttp.New("/mcp", manager, registry,
		streaminghttp.WithLogger(log),
		streaminghttp.WithKeepAlive(cfg.KeepAlive.Duration)))
	mux.Handle("GET /healthz", health.NewHandler([]health.Target{
		{Name: "gaelspell", Probe: spell.Client()},
		{Name: "gramadoir", Probe: grammar.Client()},
	}, health.WithLogger(log)))

	srv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: mux,
		// No WriteTimeout: SSE streams outlive any fixed bound.
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		log.InfoContext(ctx, "http.listen", slog.String("addr", cfg.ListenAddr))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	log.InfoContext(ctx, "gaelgate.shutdown")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return srv.Close()
	}
	return nil
}
