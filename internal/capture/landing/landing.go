// Package landing watches the directory a sync client writes into and hands
// files over to staging once their size has settled.
package landing

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/TechnicallyShaun/idea-capture/internal/capture/clock"
	"github.com/TechnicallyShaun/idea-capture/internal/capture/logging"
	"github.com/TechnicallyShaun/idea-capture/internal/capture/mover"
	"github.com/TechnicallyShaun/idea-capture/internal/capture/stability"
	"github.com/TechnicallyShaun/idea-capture/internal/capture/watcher"
)

// TransferError reports a failed move out of the landing directory. The file
// stays where it is and the move is retried on the next poll.
type TransferError struct {
	Path string
	Dest string
	Err  error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("transfer %s to %s: %v", e.Path, e.Dest, e.Err)
}

func (e *TransferError) Unwrap() error { return e.Err }

// Mover moves a file into a directory.
type Mover interface {
	Move(ctx context.Context, src, dstDir string) (mover.Result, error)
}

// Config configures the landing watcher.
type Config struct {
	Dir          string
	StagingDir   string
	Patterns     []string
	PollInterval time.Duration
	StableFor    time.Duration
}

// ScanResult summarises one poll cycle.
type ScanResult struct {
	Observed int
	Moved    []string
	Failed   []*TransferError
}

// Watcher polls the landing directory and owns the stability records for
// every file in it.
type Watcher struct {
	cfg     Config
	tracker *stability.Tracker
	mover   Mover
	clock   clock.Clock
	logger  logging.Logger

	scanMu sync.Mutex
	// stranded holds files that were copied to staging but could not be
	// removed from landing. They are skipped until they disappear.
	stranded map[string]struct{}
	// collided holds files whose staging name is taken. Repeat collisions
	// are logged at debug until the file moves or disappears.
	collided map[string]struct{}
}

// New creates a landing watcher.
func New(cfg Config, m Mover, clk clock.Clock, logger logging.Logger) *Watcher {
	return &Watcher{
		cfg:      cfg,
		tracker:  stability.NewTracker(cfg.StableFor),
		mover:    m,
		clock:    clk,
		logger:   logger,
		stranded: make(map[string]struct{}),
		collided: make(map[string]struct{}),
	}
}

// Run scans immediately and then once per poll interval until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	w.logger.Info("landing watcher started",
		logging.String("dir", w.cfg.Dir),
		logging.Duration("poll_interval", w.cfg.PollInterval),
		logging.Duration("stable_for", w.cfg.StableFor),
	)

	for {
		if _, err := w.Scan(ctx); err != nil && ctx.Err() == nil {
			w.logger.Error("landing scan failed", err, logging.String("dir", w.cfg.Dir))
		}

		select {
		case <-ctx.Done():
			w.logger.Info("landing watcher stopped", logging.Int("tracked", w.tracker.Len()))
			return nil
		case <-w.clock.After(w.cfg.PollInterval):
		}
	}
}

// Scan runs one poll cycle: observe every candidate file, then move the
// stable ones into staging. Concurrent calls are serialised. The returned
// error is non-nil only when the directory itself cannot be listed.
func (w *Watcher) Scan(ctx context.Context) (ScanResult, error) {
	w.scanMu.Lock()
	defer w.scanMu.Unlock()

	var result ScanResult

	entries, err := os.ReadDir(w.cfg.Dir)
	if err != nil {
		return result, fmt.Errorf("read landing directory: %w", err)
	}

	now := w.clock.Now()
	present := make(map[string]struct{}, len(entries))
	var stable []string

	for _, entry := range entries {
		if !entry.Type().IsRegular() || !watcher.Match(entry.Name(), w.cfg.Patterns) {
			continue
		}
		path := filepath.Join(w.cfg.Dir, entry.Name())
		info, err := entry.Info()
		if err != nil {
			continue
		}
		present[path] = struct{}{}
		if _, ok := w.stranded[path]; ok {
			continue
		}

		result.Observed++
		state := w.tracker.Observe(path, info.Size(), now)
		w.logger.Debug("observed file",
			logging.String("path", path),
			logging.Int64("size", info.Size()),
			logging.String("state", state.String()),
		)
		if state == stability.Stable {
			stable = append(stable, path)
		}
	}

	for _, path := range w.tracker.Retain(present) {
		w.logger.Info("file vanished before stabilizing", logging.String("path", path))
	}
	for path := range w.stranded {
		if _, ok := present[path]; !ok {
			delete(w.stranded, path)
		}
	}
	for path := range w.collided {
		if _, ok := present[path]; !ok {
			delete(w.collided, path)
		}
	}

	for _, path := range stable {
		if ctx.Err() != nil {
			break
		}
		moved, terr := w.transfer(ctx, path, now)
		if moved {
			result.Moved = append(result.Moved, path)
		}
		if terr != nil {
			result.Failed = append(result.Failed, terr)
		}
	}

	return result, nil
}

func (w *Watcher) transfer(ctx context.Context, path string, now time.Time) (bool, *TransferError) {
	tracked, _ := w.tracker.Get(path)

	res, err := w.mover.Move(ctx, path, w.cfg.StagingDir)
	if !errors.Is(err, mover.ErrDestinationExists) {
		delete(w.collided, path)
	}
	switch {
	case err == nil:
	case errors.Is(err, mover.ErrSourceNotFound):
		w.tracker.Forget(path)
		w.logger.Info("file vanished before transfer", logging.String("path", path))
		return false, nil
	case errors.Is(err, mover.ErrSourceNotRemoved):
		w.tracker.Forget(path)
		w.stranded[path] = struct{}{}
		terr := &TransferError{Path: path, Dest: res.Dest, Err: err}
		w.logger.Error("file copied to staging but left in landing", terr,
			logging.String("path", path),
			logging.String("dest", res.Dest),
		)
		return true, terr
	case errors.Is(err, mover.ErrDestinationExists):
		terr := &TransferError{Path: path, Dest: w.cfg.StagingDir, Err: err}
		if _, seen := w.collided[path]; seen {
			w.logger.Debug("staging name still taken, will retry", logging.String("path", path))
			return false, terr
		}
		w.collided[path] = struct{}{}
		w.logger.Error("staging already holds a file with this name, will retry", terr, logging.String("path", path))
		return false, terr
	default:
		terr := &TransferError{Path: path, Dest: w.cfg.StagingDir, Err: err}
		w.logger.Error("transfer to staging failed, will retry", terr, logging.String("path", path))
		return false, terr
	}

	w.tracker.Forget(path)
	w.logger.Info("file moved to staging",
		logging.String("path", path),
		logging.String("dest", res.Dest),
		logging.Int64("size", res.Bytes),
		logging.Duration("waited", now.Sub(tracked.FirstSeen)),
		logging.Bool("cross_device", res.CrossDevice),
	)
	return true, nil
}

// Snapshot returns the files currently being tracked.
func (w *Watcher) Snapshot() []stability.TrackedFile {
	return w.tracker.Tracked()
}
