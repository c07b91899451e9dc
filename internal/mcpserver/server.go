package mcpserver

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/tobert/otlp-waterfall/internal/filereader"
	"github.com/tobert/otlp-waterfall/internal/metrics"
	"github.com/tobert/otlp-waterfall/internal/otlpreceiver"
	"github.com/tobert/otlp-waterfall/internal/storage"
	"github.com/tobert/otlp-waterfall/internal/viz"
	"github.com/tobert/otlp-waterfall/internal/waterfall"
)

// Version is reported to MCP clients.
const Version = "0.1.0"

// Server exposes buffered traces to agents as waterfall layouts.
type Server struct {
	mcpServer    *mcp.Server
	storage      *storage.TraceStorage
	otlpReceiver *otlpreceiver.Server
	metrics      *metrics.Metrics

	// Directories being watched for OTLP JSONL trace files
	fileSourcesMu sync.RWMutex
	fileSources   map[string]*filereader.FileSource
	verbose       bool
}

// ServerOptions configures the MCP server.
type ServerOptions struct {
	Verbose bool
	Metrics *metrics.Metrics // Optional; layout passes are observed when set
}

// NewServer creates an MCP server over the trace store. The receiver
// supplies the endpoint agents point their programs at.
func NewServer(traces *storage.TraceStorage, otlpReceiver *otlpreceiver.Server, opts ...ServerOptions) (*Server, error) {
	if traces == nil {
		return nil, fmt.Errorf("trace storage cannot be nil")
	}
	if otlpReceiver == nil {
		return nil, fmt.Errorf("OTLP receiver cannot be nil")
	}

	var o ServerOptions
	if len(opts) > 0 {
		o = opts[0]
	}

	s := &Server{
		storage:      traces,
		otlpReceiver: otlpReceiver,
		metrics:      o.Metrics,
		fileSources:  make(map[string]*filereader.FileSource),
		verbose:      o.Verbose,
	}

	s.mcpServer = mcp.NewServer(&mcp.Implementation{
		Name:    "otlp-waterfall",
		Title:   "Trace Waterfalls for Agents",
		Version: Version,
	}, &mcp.ServerOptions{
		Instructions: `Buffers OTLP traces in memory and lays them out as waterfalls.

Workflow: get_otlp_endpoint -> set OTEL_EXPORTER_OTLP_ENDPOINT -> run program -> list_traces -> get_waterfall.

get_waterfall accepts a trace id prefix, a zoom window (view_start/view_end in 0..1), operation filters, collapsed span ids and a search query.
Resources: waterfall://traces, waterfall://traces/{trace_id}, waterfall://stats, waterfall://file-sources.`,
		SubscribeHandler:   func(_ context.Context, _ *mcp.SubscribeRequest) error { return nil },
		UnsubscribeHandler: func(_ context.Context, _ *mcp.UnsubscribeRequest) error { return nil },
	})

	s.registerTools()
	s.registerResources()

	return s, nil
}

// Run serves MCP on stdio until ctx is cancelled or stdin closes.
func (s *Server) Run(ctx context.Context) error {
	err := s.mcpServer.Run(ctx, &mcp.StdioTransport{})
	s.stopAllFileSources()
	return err
}

// MCPServer returns the underlying mcp.Server for use with
// StreamableHTTPHandler.
func (s *Server) MCPServer() *mcp.Server {
	return s.mcpServer
}

// Shutdown stops file sources when serving over a non-stdio transport.
func (s *Server) Shutdown() {
	s.stopAllFileSources()
}

type layoutResult struct {
	model   *waterfall.Model
	rows    []waterfall.Row
	text    string
	matches int
}

// layout resolves a trace id prefix, configures a model for opts and renders
// it.
func (s *Server) layout(traceID string, opts viz.Options) (layoutResult, error) {
	id, ok := s.storage.ResolveTraceID(traceID)
	if !ok {
		return layoutResult{}, fmt.Errorf("trace %q not found or ambiguous", traceID)
	}
	txn, ok := s.storage.Transaction(id)
	if !ok {
		return layoutResult{}, fmt.Errorf("trace %s has no spans", id)
	}

	start := time.Now()
	m := waterfall.NewModel(txn)
	matches := viz.Apply(m, opts)
	rows := m.Rows(opts.ViewWindow())
	s.metrics.ObserveLayout(time.Since(start), rows)

	return layoutResult{
		model:   m,
		rows:    rows,
		text:    viz.Report(m, opts),
		matches: matches,
	}, nil
}

// AddFileSource follows OTLP JSONL trace files in directory. With activeOnly
// only traces.jsonl is read and rotated archives are skipped.
func (s *Server) AddFileSource(ctx context.Context, directory string, activeOnly bool) error {
	s.fileSourcesMu.Lock()
	defer s.fileSourcesMu.Unlock()

	if _, exists := s.fileSources[directory]; exists {
		return fmt.Errorf("directory %s is already being watched", directory)
	}

	fs, err := filereader.New(filereader.Config{
		Directory:  directory,
		Verbose:    s.verbose,
		ActiveOnly: activeOnly,
	}, s.storage)
	if err != nil {
		return fmt.Errorf("failed to create file source: %w", err)
	}
	if err := fs.Start(ctx); err != nil {
		fs.Stop()
		return fmt.Errorf("failed to start file source: %w", err)
	}

	s.fileSources[directory] = fs
	return nil
}

// RemoveFileSource stops following directory. The source is stopped outside
// the lock since Stop waits for its goroutine.
func (s *Server) RemoveFileSource(directory string) error {
	s.fileSourcesMu.Lock()
	fs, exists := s.fileSources[directory]
	if !exists {
		s.fileSourcesMu.Unlock()
		return fmt.Errorf("directory %s is not being watched", directory)
	}
	delete(s.fileSources, directory)
	s.fileSourcesMu.Unlock()

	fs.Stop()
	return nil
}

// ListFileSources returns watched directories, sorted.
func (s *Server) ListFileSources() []string {
	s.fileSourcesMu.RLock()
	defer s.fileSourcesMu.RUnlock()

	dirs := make([]string, 0, len(s.fileSources))
	for dir := range s.fileSources {
		dirs = append(dirs, dir)
	}
	sort.Strings(dirs)
	return dirs
}

// FileSourceStats returns stats for all file sources, sorted by directory.
func (s *Server) FileSourceStats() []filereader.Stats {
	s.fileSourcesMu.RLock()
	stats := make([]filereader.Stats, 0, len(s.fileSources))
	for _, fs := range s.fileSources {
		stats = append(stats, fs.Stats())
	}
	s.fileSourcesMu.RUnlock()

	sort.Slice(stats, func(i, j int) bool { return stats[i].Directory < stats[j].Directory })
	return stats
}

func (s *Server) stopAllFileSources() {
	s.fileSourcesMu.Lock()
	sources := make([]*filereader.FileSource, 0, len(s.fileSources))
	for _, fs := range s.fileSources {
		sources = append(sources, fs)
	}
	clear(s.fileSources)
	s.fileSourcesMu.Unlock()

	for _, fs := range sources {
		fs.Stop()
	}
}
