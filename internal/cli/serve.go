package cli

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"path"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/urfave/cli/v3"

	"github.com/tobert/otlp-waterfall/internal/mcpserver"
	"github.com/tobert/otlp-waterfall/internal/metrics"
	"github.com/tobert/otlp-waterfall/internal/otlpreceiver"
	"github.com/tobert/otlp-waterfall/internal/storage"
	"github.com/tobert/otlp-waterfall/internal/webui"
)

// ServeCommand returns the CLI command definition for the 'serve' subcommand.
func ServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Buffer OTLP traces and serve their waterfalls",
		Description: `Starts an OTLP gRPC receiver (ephemeral localhost port by default), an
MCP server and the web API.

Transports:
  stdio  MCP on stdin/stdout; the web API runs only when --webui-port is set
  http   MCP at /mcp on --http-host:--http-port; the web API shares the
         listener unless --webui-port is set
  none   no MCP; the web API listens on --webui-port, or --http-port

Web API: /api/status, /api/traces, /api/traces/{id}/layout, /api/sessions,
/ws/scroll and /metrics.`,
		Flags: []cli.Flag{
			configFlag(),
			&cli.IntFlag{
				Name:  "trace-buffer-size",
				Usage: "Number of spans to buffer",
				Value: 10_000,
			},
			&cli.StringFlag{
				Name:  "otlp-host",
				Usage: "OTLP server bind address",
				Value: "127.0.0.1",
			},
			&cli.IntFlag{
				Name:  "otlp-port",
				Usage: "OTLP server port (0 for ephemeral)",
				Value: 0,
			},
			&cli.StringFlag{
				Name:  "transport",
				Usage: "MCP transport: stdio, http or none",
				Value: "stdio",
			},
			&cli.StringFlag{
				Name:  "http-host",
				Usage: "HTTP transport bind address",
				Value: "127.0.0.1",
			},
			&cli.IntFlag{
				Name:  "http-port",
				Usage: "HTTP transport port",
				Value: 4380,
			},
			&cli.BoolFlag{
				Name:  "stateless",
				Usage: "Run the HTTP transport without MCP sessions",
			},
			&cli.StringFlag{
				Name:  "webui-host",
				Usage: "Web API bind address",
				Value: "127.0.0.1",
			},
			&cli.IntFlag{
				Name:  "webui-port",
				Usage: "Web API port (0 shares the HTTP transport listener)",
			},
			&cli.StringSliceFlag{
				Name:  "watch",
				Usage: "Follow OTLP JSONL trace files in this directory (repeatable)",
			},
			&cli.StringFlag{
				Name:  "otel-config",
				Usage: "OpenTelemetry Collector config; its file exporter directories are followed",
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "Enable verbose logging",
			},
		},
		Action: runServe,
	}
}

// configFromFlags layers explicitly set flags over the effective config.
func configFromFlags(cmd *cli.Command) (*Config, error) {
	cfg, err := LoadEffectiveConfig(cmd.String("config"))
	if err != nil {
		return nil, err
	}

	flags := &Config{}
	if cmd.IsSet("trace-buffer-size") {
		flags.TraceBufferSize = cmd.Int("trace-buffer-size")
	}
	if cmd.IsSet("otlp-host") {
		flags.OTLPHost = cmd.String("otlp-host")
	}
	if cmd.IsSet("otlp-port") {
		flags.OTLPPort = cmd.Int("otlp-port")
	}
	if cmd.IsSet("transport") {
		flags.Transport = cmd.String("transport")
	}
	if cmd.IsSet("http-host") {
		flags.HTTPHost = cmd.String("http-host")
	}
	if cmd.IsSet("http-port") {
		flags.HTTPPort = cmd.Int("http-port")
	}
	if cmd.IsSet("webui-host") {
		flags.WebUIHost = cmd.String("webui-host")
	}
	if cmd.IsSet("webui-port") {
		flags.WebUIPort = cmd.Int("webui-port")
	}
	flags.Stateless = cmd.Bool("stateless")
	flags.WatchDirs = cmd.StringSlice("watch")
	flags.OtelConfig = cmd.String("otel-config")
	flags.Verbose = cmd.Bool("verbose")

	cfg = MergeConfigs(cfg, flags)

	switch cfg.Transport {
	case "stdio", "http", "none":
	default:
		return nil, fmt.Errorf("unknown transport %q (want stdio, http or none)", cfg.Transport)
	}
	return cfg, nil
}

// runServe wires storage, the OTLP receiver, file sources, MCP and the web
// API together and blocks until a signal or a component error.
func runServe(cliCtx context.Context, cmd *cli.Command) error {
	cfg, err := configFromFlags(cmd)
	if err != nil {
		return err
	}

	if cfg.Verbose {
		log.Println("🔧 Configuration:")
		log.Printf("  Trace buffer: %d spans\n", cfg.TraceBufferSize)
		log.Printf("  OTLP bind: %s:%d\n", cfg.OTLPHost, cfg.OTLPPort)
		log.Printf("  Transport: %s\n", cfg.Transport)
		log.Println()
	}

	ctx, stop := signal.NotifyContext(cliCtx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 1. Storage and metrics
	traceStorage := storage.NewTraceStorage(cfg.TraceBufferSize)
	m := metrics.New()
	m.RegisterStorage(func() (int, int) {
		st := traceStorage.Stats()
		return st.SpanCount, st.TraceCount
	})

	if cfg.Verbose {
		log.Printf("✅ Created trace storage (capacity: %d spans)\n", cfg.TraceBufferSize)
	}

	// 2. OTLP gRPC receiver
	otlpServer, err := otlpreceiver.NewServer(
		otlpreceiver.Config{Host: cfg.OTLPHost, Port: cfg.OTLPPort},
		traceStorage,
		otlpreceiver.WithMetrics(m),
	)
	if err != nil {
		return fmt.Errorf("failed to create OTLP server: %w", err)
	}
	defer otlpServer.Stop()

	errCh := make(chan error, 3)
	go func() {
		if err := otlpServer.Start(ctx); err != nil {
			errCh <- fmt.Errorf("OTLP receiver error: %w", err)
		}
	}()

	endpoint := otlpServer.Endpoint()
	log.Printf("🌐 OTLP gRPC server listening on %s\n", endpoint)
	if cfg.Verbose {
		log.Printf("   Programs can send traces with: OTEL_EXPORTER_OTLP_ENDPOINT=http://%s\n", endpoint)
	}

	// 3. MCP server and file sources
	mcpServer, err := mcpserver.NewServer(traceStorage, otlpServer, mcpserver.ServerOptions{
		Verbose: cfg.Verbose,
		Metrics: m,
	})
	if err != nil {
		return fmt.Errorf("failed to create MCP server: %w", err)
	}
	defer mcpServer.Shutdown()

	if err := addFileSources(ctx, mcpServer, cfg); err != nil {
		return err
	}

	// 4. Web API, alone or sharing the HTTP transport's router
	web := webui.New(traceStorage, webui.WithMetrics(m), webui.WithVerbose(cfg.Verbose))
	webAddr := fmt.Sprintf("%s:%d", cfg.WebUIHost, cfg.WebUIPort)
	httpAddr := fmt.Sprintf("%s:%d", cfg.HTTPHost, cfg.HTTPPort)

	serve := func(addr string, h http.Handler) {
		go func() {
			if err := webui.ListenAndServe(ctx, addr, h); err != nil {
				errCh <- fmt.Errorf("HTTP server error on %s: %w", addr, err)
			}
		}()
	}

	switch cfg.Transport {
	case "stdio":
		if cfg.WebUIPort > 0 {
			serve(webAddr, web.Router())
			log.Printf("🖥️  Web API on http://%s\n", webAddr)
		}
		log.Println("🎯 MCP server ready on stdio")
		go func() {
			errCh <- mcpServer.Run(ctx)
		}()

	case "http":
		mcpHandler := mcp.NewStreamableHTTPHandler(
			func(*http.Request) *mcp.Server { return mcpServer.MCPServer() },
			&mcp.StreamableHTTPOptions{Stateless: cfg.Stateless},
		)
		var r chi.Router
		if cfg.WebUIPort > 0 {
			r = chi.NewRouter()
			serve(webAddr, web.Router())
			log.Printf("🖥️  Web API on http://%s\n", webAddr)
		} else {
			r = web.Router()
			log.Printf("🖥️  Web API on http://%s\n", httpAddr)
		}
		r.With(originGuard(cfg.AllowedOrigins)).Handle("/mcp", mcpHandler)
		serve(httpAddr, r)
		log.Printf("🎯 MCP server ready on http://%s/mcp\n", httpAddr)

	case "none":
		addr := webAddr
		if cfg.WebUIPort == 0 {
			addr = httpAddr
		}
		serve(addr, web.Router())
		log.Printf("🖥️  Web API on http://%s\n", addr)
	}

	select {
	case <-ctx.Done():
		if cfg.Verbose {
			log.Println("📡 Received signal, shutting down...")
		}
		return nil
	case err := <-errCh:
		return err
	}
}

// addFileSources follows the configured watch directories and the file
// exporter directories of a Collector config.
func addFileSources(ctx context.Context, s *mcpserver.Server, cfg *Config) error {
	dirs := append([]string(nil), cfg.WatchDirs...)
	if cfg.OtelConfig != "" {
		collectorDirs, err := CollectorTraceDirs(cfg.OtelConfig)
		if err != nil {
			return err
		}
		dirs = append(dirs, collectorDirs...)
	}

	seen := make(map[string]bool, len(dirs))
	for _, dir := range dirs {
		if seen[dir] {
			continue
		}
		seen[dir] = true
		if err := s.AddFileSource(ctx, dir, false); err != nil {
			return fmt.Errorf("failed to watch %s: %w", dir, err)
		}
		log.Printf("📁 Following trace files in %s\n", dir)
	}
	return nil
}

// originGuard rejects browser requests whose Origin header matches none of
// the patterns (path.Match syntax, e.g. "http://localhost:*"). Requests
// without an Origin header are not from a browser and pass.
func originGuard(patterns []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if origin := r.Header.Get("Origin"); origin != "" && !originAllowed(origin, patterns) {
				http.Error(w, "origin not allowed", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func originAllowed(origin string, patterns []string) bool {
	for _, p := range patterns {
		if ok, _ := path.Match(p, origin); ok {
			return true
		}
	}
	return false
}
