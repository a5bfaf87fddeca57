package receivers

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirosfoundation/go-msh/internal/msh"
)

// File suffixes marking the state of a submitted file
const (
	SuffixProcessing = ".processing"
	SuffixAccepted   = ".accepted"
	SuffixRejected   = ".rejected"
)

// DirectoryConfig configures a DirectoryReceiver
type DirectoryConfig struct {
	Path         string
	Pattern      string
	PollInterval time.Duration
}

// DirectoryReceiver picks up files dropped into a directory by business
// applications. A file is renamed to *.processing while it is handled and
// to *.accepted or *.rejected afterwards, so it is picked up only once.
type DirectoryReceiver struct {
	cfg    DirectoryConfig
	logger *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewDirectoryReceiver creates a receiver
func NewDirectoryReceiver(cfg DirectoryConfig, logger *slog.Logger) (*DirectoryReceiver, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("directory receiver requires a path")
	}
	if cfg.Pattern == "" {
		cfg.Pattern = "*.xml"
	}
	if _, err := filepath.Match(cfg.Pattern, ""); err != nil {
		return nil, fmt.Errorf("invalid pattern %q: %w", cfg.Pattern, err)
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &DirectoryReceiver{
		cfg:    cfg,
		logger: logger.With("receiver", "directory", "path", cfg.Path),
	}, nil
}

// Start polls the directory until ctx is done or Stop is called
func (r *DirectoryReceiver) Start(ctx context.Context, handle msh.Handler) error {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	r.mu.Lock()
	r.cancel, r.done = cancel, done
	r.mu.Unlock()
	defer close(done)
	defer cancel()

	r.logger.Info("receiver started", "pattern", r.cfg.Pattern, "poll_interval", r.cfg.PollInterval)
	for {
		r.scan(ctx, handle)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(r.cfg.PollInterval):
		}
	}
}

// Stop ends polling and waits for Start to return
func (r *DirectoryReceiver) Stop() {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (r *DirectoryReceiver) scan(ctx context.Context, handle msh.Handler) {
	matches, err := filepath.Glob(filepath.Join(r.cfg.Path, r.cfg.Pattern))
	if err != nil {
		r.logger.Error("failed to list directory", "error", err)
		return
	}
	sort.Strings(matches)

	for _, path := range matches {
		if ctx.Err() != nil {
			return
		}
		r.handleFile(context.WithoutCancel(ctx), path, handle)
	}
}

func (r *DirectoryReceiver) handleFile(ctx context.Context, path string, handle msh.Handler) {
	processing := path + SuffixProcessing
	// Another receiver on the same directory may have taken the file.
	if err := os.Rename(path, processing); err != nil {
		return
	}
	logger := r.logger.With("file", filepath.Base(path))

	f, err := os.Open(processing)
	if err != nil {
		logger.Error("failed to open file", "error", err)
		return
	}
	item := msh.NewReceivedMessage(f, "application/xml", processing)
	result := handle(ctx, item)
	item.Close()

	suffix := SuffixAccepted
	if result == nil || result.Exception() != nil || result.ErrorResult() != nil {
		suffix = SuffixRejected
	}
	if err := result.Close(); err != nil {
		logger.Warn("failed to release resources", "error", err)
	}

	target := strings.TrimSuffix(path, filepath.Ext(path)) + suffix
	if err := os.Rename(processing, target); err != nil {
		logger.Error("failed to mark file", "error", err)
		return
	}
	logger.Info("file handled", "result", strings.TrimPrefix(suffix, "."))
}

var _ msh.Receiver = (*DirectoryReceiver)(nil)
