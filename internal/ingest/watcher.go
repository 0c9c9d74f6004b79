package ingest

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/hochfrequenz/auto-claude/internal/domain"
)

// IngestCallback is called after each attempt to ingest a completed log
type IngestCallback func(path string, units int, err error)

// Watcher ingests run logs in a directory as soon as they contain a
// run_completed event
type Watcher struct {
	watcher  *fsnotify.Watcher
	sink     Sink
	parser   *Parser
	logger   *slog.Logger
	callback IngestCallback
	debounce time.Duration

	// Debounce state
	pending map[string]struct{}
	timer   *time.Timer

	// done holds logs already ingested; later writes are ignored
	done map[string]struct{}
	mu   sync.Mutex

	cancel context.CancelFunc
}

// NewWatcher creates a watcher for dir
func NewWatcher(dir string, sink Sink, logger *slog.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(dir); err != nil {
		fw.Close()
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Watcher{
		watcher:  fw,
		sink:     sink,
		parser:   &Parser{Logger: logger},
		logger:   logger,
		debounce: 500 * time.Millisecond,
		pending:  make(map[string]struct{}),
		done:     make(map[string]struct{}),
	}, nil
}

// SetDebounce sets how long writes to a log must settle before it is parsed
func (w *Watcher) SetDebounce(d time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.debounce = d
}

// SetParser replaces the parser used for completed logs
func (w *Watcher) SetParser(p *Parser) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.parser = p
}

// SetCallback registers a callback for ingestion attempts
func (w *Watcher) SetCallback(cb IngestCallback) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callback = cb
}

// Start begins watching for file changes
func (w *Watcher) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-w.watcher.Events:
				if !ok {
					return
				}
				w.handleEvent(event)
			case err, ok := <-w.watcher.Errors:
				if !ok {
					return
				}
				w.logger.Warn("log watcher error", "error", err)
			}
		}
	}()
}

// Stop stops watching for file changes
func (w *Watcher) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()
	w.watcher.Close()
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
		return
	}
	if filepath.Base(event.Name) == EventsLogName {
		return
	}
	if _, _, ok := ParseLogFilename(event.Name); !ok {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if _, ingested := w.done[event.Name]; ingested {
		return
	}
	w.pending[event.Name] = struct{}{}

	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.flush)
}

func (w *Watcher) flush() {
	w.mu.Lock()
	pending := w.pending
	w.pending = make(map[string]struct{})
	cb := w.callback
	w.mu.Unlock()

	for path := range pending {
		units, ingested, err := w.ingest(path)
		if !ingested && err == nil {
			continue
		}
		if cb != nil {
			cb(path, units, err)
		}
	}
}

// ingest stores path if its run has completed
func (w *Watcher) ingest(path string) (int, bool, error) {
	repo, runID, _ := ParseLogFilename(path)

	w.mu.Lock()
	parser := w.parser
	w.mu.Unlock()

	parsed, err := parser.ParseFile(path)
	if err != nil {
		return 0, false, err
	}
	if !parsed.CompletedSeen {
		return 0, false, nil
	}

	parsed.Run.RunID = runID
	parsed.Run.Repo = repo
	n, err := w.sink.IngestRun(&parsed.Run, parsed.Units)

	var verr *domain.ValidationError
	if err == nil || errors.As(err, &verr) {
		// invalid runs are not retried
		w.mu.Lock()
		w.done[path] = struct{}{}
		w.mu.Unlock()
	}
	if err != nil {
		w.logger.Warn("failed to ingest completed log", "file", path, "error", err)
		return 0, true, err
	}
	w.logger.Info("ingested run", "run_id", runID, "repo", repo, "units", n)
	return n, true, nil
}
