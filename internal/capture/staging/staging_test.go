package staging

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/TechnicallyShaun/idea-capture/internal/capture/clock"
	"github.com/TechnicallyShaun/idea-capture/internal/capture/logging"
	"github.com/TechnicallyShaun/idea-capture/internal/capture/mover"
	"github.com/TechnicallyShaun/idea-capture/internal/capture/pipeline"
)

var audioPatterns = []string{"*.mp3", "*.m4a", "*.wav", "*.ogg", "*.aac"}

// fakeProcessor records runs. When gate is set, runs block until it is closed
// or their context is cancelled.
type fakeProcessor struct {
	gate    chan struct{}
	started chan string

	mu        sync.Mutex
	calls     map[string]int
	active    int
	maxActive int
	fail      map[string]bool
}

func newFakeProcessor() *fakeProcessor {
	return &fakeProcessor{
		calls: make(map[string]int),
		fail:  make(map[string]bool),
	}
}

func (p *fakeProcessor) Process(ctx context.Context, path string) pipeline.Result {
	p.mu.Lock()
	p.calls[path]++
	p.active++
	if p.active > p.maxActive {
		p.maxActive = p.active
	}
	fail := p.fail[filepath.Base(path)]
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		p.active--
		p.mu.Unlock()
	}()

	if p.started != nil {
		p.started <- path
	}
	if p.gate != nil {
		select {
		case <-p.gate:
		case <-ctx.Done():
			return pipeline.Result{Source: path, Canceled: true, Err: ctx.Err()}
		}
	}
	if fail {
		return pipeline.Result{Source: path, Err: &pipeline.StageError{
			Kind: pipeline.TranscriptionFailed, Path: path, Err: errors.New("exit status 1"),
		}}
	}
	return pipeline.Result{Source: path, Success: true}
}

func (p *fakeProcessor) count(path string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[path]
}

type recordingArchiver struct {
	dir  string
	mu   sync.Mutex
	seen []string
}

func (a *recordingArchiver) Archive(ctx context.Context, sourcePath string) (string, error) {
	a.mu.Lock()
	a.seen = append(a.seen, sourcePath)
	a.mu.Unlock()
	res, err := mover.New().Move(ctx, sourcePath, a.dir)
	return res.Dest, err
}

func newTestWatcher(t *testing.T, p Processor, opts ...Option) (*Watcher, string) {
	t.Helper()
	dir := t.TempDir()
	w := New(Config{
		Dir:            dir,
		Patterns:       audioPatterns,
		RescanInterval: 30 * time.Second,
	}, p, mover.New(), clock.NewFake(time.Date(2026, 1, 22, 9, 0, 0, 0, time.UTC)), logging.Nop(), opts...)
	return w, dir
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write %s: %v", path, err)
	}
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func TestScan_DispatchesEachFileOnceWhileRunning(t *testing.T) {
	p := newFakeProcessor()
	p.gate = make(chan struct{})
	p.started = make(chan string, 1)
	w, dir := newTestWatcher(t, p)

	path := filepath.Join(dir, "ideaA.m4a")
	writeFile(t, path, "audio")

	for i := 0; i < 5; i++ {
		if err := w.Scan(); err != nil {
			t.Fatalf("Scan() error: %v", err)
		}
	}
	<-p.started
	if w.Dispatch(path) {
		t.Error("Dispatch() started a second run for an in-flight file")
	}
	if got := len(w.InFlight()); got != 1 {
		t.Errorf("InFlight() = %d entries, want 1", got)
	}

	close(p.gate)
	w.wg.Wait()

	if got := p.count(path); got != 1 {
		t.Errorf("Process called %d times, want 1", got)
	}
	if exists(path) {
		t.Error("processed file still in staging")
	}
	if got := len(w.InFlight()); got != 0 {
		t.Errorf("InFlight() = %d entries after completion, want 0", got)
	}
}

func TestScan_ProcessesFilesConcurrently(t *testing.T) {
	p := newFakeProcessor()
	p.gate = make(chan struct{})
	p.started = make(chan string, 2)
	w, dir := newTestWatcher(t, p)

	writeFile(t, filepath.Join(dir, "ideaA.m4a"), "a")
	writeFile(t, filepath.Join(dir, "ideaB.m4a"), "b")

	if err := w.Scan(); err != nil {
		t.Fatalf("Scan() error: %v", err)
	}
	<-p.started
	<-p.started
	close(p.gate)
	w.wg.Wait()

	if p.maxActive != 2 {
		t.Errorf("max concurrent runs = %d, want 2", p.maxActive)
	}
}

func TestFinalize_SuccessArchives(t *testing.T) {
	archiveDir := t.TempDir()
	a := &recordingArchiver{dir: archiveDir}
	p := newFakeProcessor()
	w, dir := newTestWatcher(t, p, WithArchiver(a))

	path := filepath.Join(dir, "idea.wav")
	writeFile(t, path, "audio")
	if err := w.Scan(); err != nil {
		t.Fatalf("Scan() error: %v", err)
	}
	w.wg.Wait()

	if exists(path) {
		t.Error("file still in staging after archive")
	}
	if !exists(filepath.Join(archiveDir, "idea.wav")) {
		t.Error("file not in archive")
	}
	if len(a.seen) != 1 {
		t.Errorf("Archive called %d times, want 1", len(a.seen))
	}
}

func TestFinalize_FailureMarksFileAndIsolatesOthers(t *testing.T) {
	p := newFakeProcessor()
	p.fail["bad.wav"] = true
	w, dir := newTestWatcher(t, p)

	bad := filepath.Join(dir, "bad.wav")
	good := filepath.Join(dir, "good.wav")
	writeFile(t, bad, "x")
	writeFile(t, good, "y")

	if err := w.Scan(); err != nil {
		t.Fatalf("Scan() error: %v", err)
	}
	w.wg.Wait()

	if !exists(bad + FailedSuffix) {
		t.Error("failed file was not marked")
	}
	if exists(bad) || exists(good) {
		t.Error("staged files should have been cleared")
	}

	// A later scan must not pick the marked file up again.
	if err := w.Scan(); err != nil {
		t.Fatalf("Scan() error: %v", err)
	}
	w.wg.Wait()
	if got := p.count(bad); got != 1 {
		t.Errorf("failed file processed %d times, want 1", got)
	}
}

func TestFinalize_FailedNameCollision(t *testing.T) {
	p := newFakeProcessor()
	p.fail["idea.wav"] = true
	w, dir := newTestWatcher(t, p)

	path := filepath.Join(dir, "idea.wav")
	writeFile(t, path+FailedSuffix, "earlier")
	writeFile(t, path, "now")

	if err := w.Scan(); err != nil {
		t.Fatalf("Scan() error: %v", err)
	}
	w.wg.Wait()

	data, err := os.ReadFile(path + FailedSuffix)
	if err != nil || string(data) != "earlier" {
		t.Errorf("earlier failed file was changed: %q, %v", data, err)
	}
	if !exists(path + ".2" + FailedSuffix) {
		t.Error("expected idea.wav.2.failed")
	}
}

func TestShutdown_AbandonsAfterGrace(t *testing.T) {
	p := newFakeProcessor()
	p.gate = make(chan struct{}) // never released
	p.started = make(chan string, 1)
	w, dir := newTestWatcher(t, p)
	fake := w.clock.(*clock.Fake)

	path := filepath.Join(dir, "idea.ogg")
	writeFile(t, path, "audio")
	if err := w.Scan(); err != nil {
		t.Fatalf("Scan() error: %v", err)
	}
	<-p.started

	done := make(chan error, 1)
	go func() { done <- w.Shutdown(30 * time.Second) }()

	deadline := time.Now().Add(2 * time.Second)
	for fake.Waiters() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("Shutdown never waited on the clock")
		}
		time.Sleep(time.Millisecond)
	}

	fake.Advance(29 * time.Second)
	select {
	case err := <-done:
		t.Fatalf("Shutdown() returned before the grace period: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	fake.Advance(time.Second)
	var err error
	select {
	case err = <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Shutdown() did not return after the grace period")
	}
	if !errors.Is(err, ErrShutdownTimeout) {
		t.Fatalf("Shutdown() error = %v, want ErrShutdownTimeout", err)
	}
	if !exists(path) {
		t.Error("abandoned file must stay in staging")
	}
	if exists(path + FailedSuffix) {
		t.Error("abandoned file must not be marked failed")
	}
}

func TestShutdown_WaitsForRunsAndRefusesNewWork(t *testing.T) {
	p := newFakeProcessor()
	p.gate = make(chan struct{})
	p.started = make(chan string, 1)
	w, dir := newTestWatcher(t, p)

	first := filepath.Join(dir, "first.mp3")
	writeFile(t, first, "a")
	if err := w.Scan(); err != nil {
		t.Fatalf("Scan() error: %v", err)
	}
	<-p.started

	go func() {
		time.Sleep(10 * time.Millisecond)
		close(p.gate)
	}()
	if err := w.Shutdown(5 * time.Second); err != nil {
		t.Fatalf("Shutdown() error: %v", err)
	}
	if exists(first) {
		t.Error("completed file should be cleared")
	}

	second := filepath.Join(dir, "second.mp3")
	writeFile(t, second, "b")
	if w.Dispatch(second) {
		t.Error("Dispatch() after Shutdown should refuse")
	}
}

func TestRestart_RedispatchesLeftoverFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "idea.m4a")
	writeFile(t, path, "audio")

	newWatcher := func(p Processor) *Watcher {
		return New(Config{Dir: dir, Patterns: audioPatterns, RescanInterval: time.Minute},
			p, mover.New(), clock.Real(), logging.Nop())
	}

	// First process is stopped mid-run.
	p1 := newFakeProcessor()
	p1.gate = make(chan struct{})
	p1.started = make(chan string, 1)
	w1 := newWatcher(p1)
	if err := w1.Scan(); err != nil {
		t.Fatalf("Scan() error: %v", err)
	}
	<-p1.started
	_ = w1.Shutdown(time.Millisecond)

	// The next start handles it.
	p2 := newFakeProcessor()
	w2 := newWatcher(p2)
	if err := w2.Scan(); err != nil {
		t.Fatalf("Scan() error: %v", err)
	}
	w2.wg.Wait()

	if got := p2.count(path); got != 1 {
		t.Errorf("restarted watcher processed file %d times, want 1", got)
	}
	if exists(path) {
		t.Error("file should be cleared after the restarted run")
	}
}

func TestScan_IgnoresNonAudioAndHidden(t *testing.T) {
	p := newFakeProcessor()
	w, dir := newTestWatcher(t, p)

	writeFile(t, filepath.Join(dir, "notes.txt"), "x")
	writeFile(t, filepath.Join(dir, ".idea.wav.partial"), "x")
	writeFile(t, filepath.Join(dir, "old.wav"+FailedSuffix), "x")
	if err := os.Mkdir(filepath.Join(dir, "sub.wav"), 0o755); err != nil {
		t.Fatal(err)
	}

	if err := w.Scan(); err != nil {
		t.Fatalf("Scan() error: %v", err)
	}
	w.wg.Wait()

	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.calls) != 0 {
		t.Errorf("unexpected dispatches: %v", p.calls)
	}
}

func TestScan_MissingDir(t *testing.T) {
	w := New(Config{Dir: filepath.Join(t.TempDir(), "gone"), Patterns: audioPatterns},
		newFakeProcessor(), mover.New(), clock.Real(), logging.Nop())
	if err := w.Scan(); err == nil {
		t.Error("Scan() should fail for a missing directory")
	}
}

func TestRun_RescansOnInterval(t *testing.T) {
	p := newFakeProcessor()
	p.started = make(chan string, 1)
	dir := t.TempDir()
	fake := clock.NewFake(time.Date(2026, 1, 22, 9, 0, 0, 0, time.UTC))
	w := New(Config{Dir: dir, Patterns: audioPatterns, RescanInterval: 30 * time.Second},
		p, mover.New(), fake, logging.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for fake.Waiters() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("Run never waited on the clock")
		}
		time.Sleep(time.Millisecond)
	}

	path := filepath.Join(dir, "late.aac")
	writeFile(t, path, "audio")
	fake.Advance(30 * time.Second)

	select {
	case got := <-p.started:
		if got != path {
			t.Errorf("dispatched %q, want %q", got, path)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("file not dispatched after rescan")
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Run() error: %v", err)
	}
	if err := w.Shutdown(time.Second); err != nil {
		t.Errorf("Shutdown() error: %v", err)
	}
}
