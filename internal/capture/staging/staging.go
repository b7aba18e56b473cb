// Package staging hands every recording that lands in the staging directory
// to the processing pipeline, once at a time per file.
package staging

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/TechnicallyShaun/idea-capture/internal/capture/clock"
	"github.com/TechnicallyShaun/idea-capture/internal/capture/logging"
	"github.com/TechnicallyShaun/idea-capture/internal/capture/mover"
	"github.com/TechnicallyShaun/idea-capture/internal/capture/pipeline"
	"github.com/TechnicallyShaun/idea-capture/internal/capture/watcher"
)

// ErrShutdownTimeout is returned by Shutdown when runs had to be abandoned.
var ErrShutdownTimeout = errors.New("in-flight runs abandoned after grace period")

// Processor runs the pipeline for one staged file.
type Processor interface {
	Process(ctx context.Context, stagedPath string) pipeline.Result
}

// Archiver files a processed recording away.
type Archiver interface {
	Archive(ctx context.Context, sourcePath string) (string, error)
}

// Mover renames a file without replacing an existing one.
type Mover interface {
	MoveTo(ctx context.Context, src, dst string) (mover.Result, error)
}

// NotifierFactory creates a directory notification source.
type NotifierFactory func() (watcher.FileWatcher, error)

// Config configures the staging watcher.
type Config struct {
	Dir      string
	Patterns []string
	// RescanInterval is how often the directory is listed in addition to
	// change notifications.
	RescanInterval time.Duration
}

// InFlightFile is a staged file whose pipeline run has not finished.
type InFlightFile struct {
	Path  string    `json:"path"`
	Since time.Time `json:"since"`
}

// Watcher dispatches staged files to a Processor.
//
// A file is dispatched when it is present in the directory and not already
// running. When its run ends the file is archived or removed (success),
// renamed with FailedSuffix (failure), or left alone (abandoned), so a
// restart re-dispatches exactly the files that never completed.
type Watcher struct {
	cfg       Config
	processor Processor
	archiver  Archiver
	mover     Mover
	clock     clock.Clock
	logger    logging.Logger
	notifier  NotifierFactory

	runCtx    context.Context
	runCancel context.CancelFunc

	mu       sync.Mutex
	inFlight map[string]time.Time
	// stuck holds files that were processed but could not be cleared from
	// staging; they are not dispatched again while present.
	stuck  map[string]struct{}
	closed bool
	wg     sync.WaitGroup
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithArchiver archives successfully processed files instead of deleting them.
func WithArchiver(a Archiver) Option {
	return func(w *Watcher) { w.archiver = a }
}

// WithNotifier enables change notifications from the given source.
func WithNotifier(f NotifierFactory) Option {
	return func(w *Watcher) { w.notifier = f }
}

// New creates a staging watcher.
func New(cfg Config, p Processor, m Mover, clk clock.Clock, logger logging.Logger, opts ...Option) *Watcher {
	runCtx, runCancel := context.WithCancel(context.Background())
	w := &Watcher{
		cfg:       cfg,
		processor: p,
		mover:     m,
		clock:     clk,
		logger:    logger,
		runCtx:    runCtx,
		runCancel: runCancel,
		inFlight:  make(map[string]time.Time),
		stuck:     make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run scans the directory, then dispatches on change notifications and on
// every rescan interval until ctx is done. Runs already started keep going;
// use Shutdown to wait for them.
func (w *Watcher) Run(ctx context.Context) error {
	w.logger.Info("staging watcher started",
		logging.String("dir", w.cfg.Dir),
		logging.Duration("rescan_interval", w.cfg.RescanInterval),
	)

	if err := w.Scan(); err != nil {
		w.logger.Error("initial staging scan failed", err, logging.String("dir", w.cfg.Dir))
	}

	var events <-chan watcher.FileEvent
	if w.notifier != nil {
		fw, err := w.notifier()
		if err == nil {
			events, err = fw.Watch(ctx, w.cfg.Dir, w.cfg.Patterns)
			defer fw.Stop()
		}
		if err != nil {
			w.logger.Warn("change notifications unavailable, polling only", logging.String("error", err.Error()))
			events = nil
		}
	}

	tick := w.clock.After(w.cfg.RescanInterval)
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("staging watcher stopped", logging.Int("in_flight", len(w.InFlight())))
			return nil
		case event, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			w.Dispatch(event.Path)
		case <-tick:
			if err := w.Scan(); err != nil {
				w.logger.Error("staging scan failed", err, logging.String("dir", w.cfg.Dir))
			}
			tick = w.clock.After(w.cfg.RescanInterval)
		}
	}
}

// Scan dispatches every eligible file currently in the staging directory.
func (w *Watcher) Scan() error {
	entries, err := os.ReadDir(w.cfg.Dir)
	if err != nil {
		return fmt.Errorf("read staging directory: %w", err)
	}

	present := make(map[string]struct{}, len(entries))
	for _, entry := range entries {
		if !entry.Type().IsRegular() || !watcher.Match(entry.Name(), w.cfg.Patterns) {
			continue
		}
		path := filepath.Join(w.cfg.Dir, entry.Name())
		present[path] = struct{}{}
		w.Dispatch(path)
	}

	w.mu.Lock()
	for path := range w.stuck {
		if _, ok := present[path]; !ok {
			delete(w.stuck, path)
		}
	}
	w.mu.Unlock()
	return nil
}

// Dispatch starts a pipeline run for path unless one is already running, the
// file is stuck, or the watcher is shutting down. It reports whether a run started.
func (w *Watcher) Dispatch(path string) bool {
	if !watcher.Match(filepath.Base(path), w.cfg.Patterns) {
		return false
	}

	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return false
	}
	if _, running := w.inFlight[path]; running {
		w.mu.Unlock()
		return false
	}
	if _, stuck := w.stuck[path]; stuck {
		w.mu.Unlock()
		return false
	}
	w.inFlight[path] = w.clock.Now()
	w.wg.Add(1)
	w.mu.Unlock()

	go w.run(path)
	return true
}

func (w *Watcher) run(path string) {
	defer w.wg.Done()
	defer func() {
		w.mu.Lock()
		delete(w.inFlight, path)
		w.mu.Unlock()
	}()

	// A notification can trail a rescan that already finished this file.
	if _, err := os.Lstat(path); err != nil {
		return
	}

	w.logger.Info("dispatching staged file", logging.String("path", path))
	res := w.processor.Process(w.runCtx, path)
	w.finalize(path, res)
}

func (w *Watcher) finalize(path string, res pipeline.Result) {
	// Finalizing must complete even while shutting down.
	ctx := context.WithoutCancel(w.runCtx)

	switch {
	case res.Canceled:
		w.logger.Info("run abandoned, file left in staging", logging.String("path", path))

	case res.Success:
		if w.archiver != nil {
			dest, err := w.archiver.Archive(ctx, path)
			if err != nil {
				w.markStuck(path, fmt.Errorf("archive: %w", err))
				return
			}
			w.logger.Info("staged file archived", logging.String("path", path), logging.String("archive", dest))
			return
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			w.markStuck(path, fmt.Errorf("remove: %w", err))
			return
		}
		w.logger.Debug("staged file removed", logging.String("path", path))

	default:
		dest, err := w.markFailed(ctx, path)
		if err != nil {
			w.markStuck(path, fmt.Errorf("mark failed: %w", err))
			return
		}
		w.logger.Info("staged file kept for inspection",
			logging.String("path", path),
			logging.String("failed", dest),
			logging.String("kind", pipeline.KindOf(res.Err).String()),
		)
	}
}

func (w *Watcher) markFailed(ctx context.Context, path string) (string, error) {
	var lastErr error
	for i := 1; i <= 100; i++ {
		res, err := w.mover.MoveTo(ctx, path, FailedPath(path, i))
		if err == nil {
			return res.Dest, nil
		}
		if !errors.Is(err, mover.ErrDestinationExists) {
			return "", err
		}
		lastErr = err
	}
	return "", lastErr
}

func (w *Watcher) markStuck(path string, err error) {
	w.mu.Lock()
	w.stuck[path] = struct{}{}
	w.mu.Unlock()
	w.logger.Error("could not clear staged file, it will not be dispatched again until removed", err,
		logging.String("path", path))
}

// InFlight returns the files currently being processed, oldest first.
func (w *Watcher) InFlight() []InFlightFile {
	w.mu.Lock()
	defer w.mu.Unlock()

	out := make([]InFlightFile, 0, len(w.inFlight))
	for path, since := range w.inFlight {
		out = append(out, InFlightFile{Path: path, Since: since})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Since.Equal(out[j].Since) {
			return out[i].Path < out[j].Path
		}
		return out[i].Since.Before(out[j].Since)
	})
	return out
}

// Shutdown stops new dispatches and waits up to grace for running files.
// Runs still going after grace are cancelled and their files stay in staging.
func (w *Watcher) Shutdown(grace time.Duration) error {
	w.mu.Lock()
	w.closed = true
	pending := len(w.inFlight)
	w.mu.Unlock()

	if pending > 0 {
		w.logger.Info("waiting for in-flight runs", logging.Int("count", pending), logging.Duration("grace", grace))
	}

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		w.runCancel()
		return nil
	case <-w.clock.After(grace):
	}

	abandoned := len(w.InFlight())
	w.logger.Warn("grace period elapsed, abandoning runs", logging.Int("count", abandoned))
	w.runCancel()
	<-done
	return fmt.Errorf("%w: %d", ErrShutdownTimeout, abandoned)
}
