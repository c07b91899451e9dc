// Package filereader tails OTLP trace JSONL files written by the
// OpenTelemetry Collector's file exporter and feeds the spans into the same
// storage the gRPC receiver uses.
package filereader

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"google.golang.org/protobuf/encoding/protojson"

	tracepb "go.opentelemetry.io/proto/otlp/trace/v1"
)

// maxLineSize bounds a single JSONL record. Batched spans with many
// attributes can be large.
const maxLineSize = 10 * 1024 * 1024

// SpanReceiver is the storage side of a FileSource.
type SpanReceiver interface {
	ReceiveSpans(ctx context.Context, resourceSpans []*tracepb.ResourceSpans) error
}

// Config holds configuration for a FileSource.
type Config struct {
	// Directory holds trace files directly or in a traces/ subdirectory, as
	// the collector's file exporter lays them out.
	Directory string
	Verbose   bool

	// ActiveOnly loads only traces.jsonl and skips rotated archives such as
	// traces-2025-12-09T13-10-56.jsonl.
	ActiveOnly bool

	// SinceTime skips files last modified before it. Zero loads everything.
	SinceTime time.Time
}

// FileSource loads trace files from a directory and follows appends.
type FileSource struct {
	cfg     Config
	dirs    []string
	storage SpanReceiver
	watcher *fsnotify.Watcher

	// Byte offset of the first unread complete line, per file
	mu          sync.Mutex
	fileOffsets map[string]int64
	linesRead   int
	lineErrors  int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a FileSource for cfg.Directory.
func New(cfg Config, storage SpanReceiver) (*FileSource, error) {
	if cfg.Directory == "" {
		return nil, fmt.Errorf("directory is required")
	}
	if storage == nil {
		return nil, fmt.Errorf("span receiver cannot be nil")
	}

	info, err := os.Stat(cfg.Directory)
	if err != nil {
		return nil, fmt.Errorf("cannot access directory %s: %w", cfg.Directory, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", cfg.Directory)
	}

	dirs := []string{cfg.Directory}
	if sub := filepath.Join(cfg.Directory, "traces"); isDir(sub) {
		dirs = append(dirs, sub)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &FileSource{
		cfg:         cfg,
		dirs:        dirs,
		storage:     storage,
		watcher:     watcher,
		fileOffsets: make(map[string]int64),
		ctx:         ctx,
		cancel:      cancel,
	}, nil
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// Start loads existing files, then follows new data in the background.
func (fs *FileSource) Start(ctx context.Context) error {
	for _, dir := range fs.dirs {
		if err := fs.watcher.Add(dir); err != nil {
			log.Printf("⚠️  FileSource: could not watch %s: %v\n", dir, err)
		} else if fs.cfg.Verbose {
			log.Printf("📁 FileSource: watching %s\n", dir)
		}
	}

	for _, dir := range fs.dirs {
		files, err := fs.findTraceFiles(dir)
		if err != nil {
			return fmt.Errorf("initial data load failed: %w", err)
		}
		for _, file := range files {
			count, err := fs.loadFile(ctx, file)
			if err != nil {
				log.Printf("⚠️  FileSource: error loading %s: %v\n", file, err)
				continue
			}
			if fs.cfg.Verbose && count > 0 {
				log.Printf("📁 FileSource: loaded %d batches from %s\n", count, filepath.Base(file))
			}
		}
	}

	fs.wg.Add(1)
	go fs.watchLoop()
	return nil
}

// Stop stops the watcher and waits for the event loop to exit.
func (fs *FileSource) Stop() {
	fs.cancel()
	fs.watcher.Close()
	fs.wg.Wait()
}

// Directory returns the configured base directory.
func (fs *FileSource) Directory() string {
	return fs.cfg.Directory
}

// isTraceFile matches traces.jsonl, rotated archives and compressed-suffix
// names the exporter produces (traces.jsonl.1).
func (fs *FileSource) isTraceFile(name string) bool {
	if !strings.HasSuffix(name, ".jsonl") && !strings.Contains(name, ".jsonl.") {
		return false
	}
	if fs.cfg.ActiveOnly {
		return name == "traces.jsonl"
	}
	return strings.HasPrefix(name, "traces")
}

// findTraceFiles returns trace files in dir, oldest modification first.
func (fs *FileSource) findTraceFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	type fileInfo struct {
		path    string
		modTime time.Time
	}
	var files []fileInfo
	for _, entry := range entries {
		if entry.IsDir() || !fs.isTraceFile(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if !fs.cfg.SinceTime.IsZero() && info.ModTime().Before(fs.cfg.SinceTime) {
			if fs.cfg.Verbose {
				log.Printf("📁 FileSource: skipping %s (older than --since)\n", entry.Name())
			}
			continue
		}
		files = append(files, fileInfo{path: filepath.Join(dir, entry.Name()), modTime: info.ModTime()})
	}

	sort.Slice(files, func(i, j int) bool {
		return files[i].modTime.Before(files[j].modTime)
	})

	result := make([]string, len(files))
	for i, f := range files {
		result[i] = f.path
	}
	return result, nil
}

// loadFile reads complete lines past the stored offset and hands each
// TracesData record to storage. A trailing line without a newline is left
// for the next call, since the exporter may still be writing it. A file
// smaller than the stored offset was truncated or rotated and is read again
// from the start. Returns the number of records stored.
func (fs *FileSource) loadFile(ctx context.Context, path string) (int, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return 0, err
	}

	fs.mu.Lock()
	offset := fs.fileOffsets[path]
	fs.mu.Unlock()
	if offset > info.Size() {
		offset = 0
	}
	if _, err := file.Seek(offset, io.SeekStart); err != nil {
		return 0, fmt.Errorf("failed to seek %s: %w", filepath.Base(path), err)
	}

	reader := bufio.NewReaderSize(file, 64*1024)
	count, lineErrs := 0, 0
	for {
		if err := ctx.Err(); err != nil {
			fs.commit(path, offset, count, lineErrs)
			return count, err
		}

		line, err := reader.ReadBytes('\n')
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			fs.commit(path, offset, count, lineErrs)
			return count, fmt.Errorf("reading %s: %w", filepath.Base(path), err)
		}
		offset += int64(len(line))

		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		if len(line) > maxLineSize {
			lineErrs++
			continue
		}

		var data tracepb.TracesData
		if err := protojson.Unmarshal(line, &data); err != nil {
			lineErrs++
			if fs.cfg.Verbose {
				log.Printf("⚠️  FileSource: bad line in %s: %v\n", filepath.Base(path), err)
			}
			continue
		}
		if len(data.ResourceSpans) == 0 {
			continue
		}
		if err := fs.storage.ReceiveSpans(ctx, data.ResourceSpans); err != nil {
			lineErrs++
			continue
		}
		count++
	}

	fs.commit(path, offset, count, lineErrs)
	return count, nil
}

func (fs *FileSource) commit(path string, offset int64, lines, lineErrs int) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.fileOffsets[path] = offset
	fs.linesRead += lines
	fs.lineErrors += lineErrs
}

func (fs *FileSource) watchLoop() {
	defer fs.wg.Done()

	for {
		select {
		case <-fs.ctx.Done():
			return

		case event, ok := <-fs.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if !fs.isTraceFile(filepath.Base(event.Name)) {
				continue
			}

			count, err := fs.loadFile(fs.ctx, event.Name)
			if err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("⚠️  FileSource: error reading %s: %v\n", event.Name, err)
			} else if fs.cfg.Verbose && count > 0 {
				log.Printf("📁 FileSource: loaded %d new batches from %s\n", count, filepath.Base(event.Name))
			}

		case err, ok := <-fs.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("⚠️  FileSource: watcher error: %v\n", err)
		}
	}
}

// Stats describes what the file source has read so far.
type Stats struct {
	Directory    string   `json:"directory"`
	WatchedDirs  []string `json:"watched_dirs"`
	FilesTracked int      `json:"files_tracked"`
	LinesRead    int      `json:"lines_read"`
	LineErrors   int      `json:"line_errors"`
}

// Stats returns current statistics.
func (fs *FileSource) Stats() Stats {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	return Stats{
		Directory:    fs.cfg.Directory,
		WatchedDirs:  fs.watcher.WatchList(),
		FilesTracked: len(fs.fileOffsets),
		LinesRead:    fs.linesRead,
		LineErrors:   fs.lineErrors,
	}
}
