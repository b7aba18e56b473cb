package status

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/TechnicallyShaun/idea-capture/internal/capture/logging"
	"github.com/TechnicallyShaun/idea-capture/internal/capture/staging"
)

func TestParseLogFile_Empty(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "idea-test.log")
	if err := os.WriteFile(logPath, []byte(""), 0644); err != nil {
		t.Fatal(err)
	}

	stats, err := ParseLogFile(logPath)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.NotesWritten != 0 || stats.Errors != 0 || stats.Failures != 0 {
		t.Errorf("expected empty stats, got %+v", stats)
	}
	if stats.LastProcessed != nil {
		t.Error("expected LastProcessed to be nil")
	}
}

func TestParseLogFile_NonExistent(t *testing.T) {
	stats, err := ParseLogFile("/nonexistent/path/idea.log")
	if err != nil {
		t.Fatalf("unexpected error for nonexistent file: %v", err)
	}
	if stats.NotesWritten != 0 {
		t.Errorf("expected 0 notes, got %d", stats.NotesWritten)
	}
}

func TestParseLogFile_Records(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "idea-test.log")
	logContent := `{"level":"info","time":"2026-01-22T10:00:00Z","component":"service","msg":"service started"}
{"level":"info","time":"2026-01-22T10:00:05Z","component":"pipeline","msg":"note written","run_id":"a","path":"/staging/ideaA.m4a","output":"/out/ideaA.txt","elapsed":"4s"}
not json at all
{"level":"error","time":"2026-01-22T10:01:00Z","component":"pipeline","msg":"processing failed","path":"/staging/bad.wav","kind":"TranscriptionFailed","error":"exit status 1"}
{"level":"warn","time":"2026-01-22T10:02:00Z","component":"pipeline","msg":"notification failed","error":"timeout"}
{"level":"info","time":"2026-01-22T10:03:00Z","component":"pipeline","msg":"note written","path":"/staging/ideaB.m4a","output":"/out/ideaB.txt"}
{"level":"error","time":"2026-01-22T10:04:00Z","component":"landing","msg":"transfer failed","error":"permission denied"}
{"broken json
`
	if err := os.WriteFile(logPath, []byte(logContent), 0644); err != nil {
		t.Fatal(err)
	}

	stats, err := ParseLogFile(logPath)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.NotesWritten != 2 {
		t.Errorf("expected 2 notes written, got %d", stats.NotesWritten)
	}
	if stats.Failures != 1 {
		t.Errorf("expected 1 failure, got %d", stats.Failures)
	}
	if stats.Errors != 2 {
		t.Errorf("expected 2 errors, got %d", stats.Errors)
	}
	if stats.LastProcessed == nil {
		t.Fatal("expected LastProcessed to be set")
	}
	if stats.LastProcessed.Output != "/out/ideaB.txt" {
		t.Errorf("expected last output ideaB.txt, got %q", stats.LastProcessed.Output)
	}
	want := time.Date(2026, 1, 22, 10, 3, 0, 0, time.UTC)
	if !stats.LastProcessed.Timestamp.Equal(want) {
		t.Errorf("expected timestamp %v, got %v", want, stats.LastProcessed.Timestamp)
	}
}

func TestParseLogFile_ReadsLoggerOutput(t *testing.T) {
	dir := t.TempDir()
	logger, err := logging.New(logging.Config{LogDir: dir, Console: io.Discard})
	if err != nil {
		t.Fatalf("logging.New: %v", err)
	}
	log := logger.Named("pipeline")
	log.Info(msgNoteWritten, logging.String("path", "/s/a.wav"), logging.String("output", "/o/a.txt"))
	log.Error(msgProcessingFailed, errors.New("boom"), logging.String("path", "/s/b.wav"))
	logPath := logger.LogPath()
	if err := logger.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	stats, err := ParseLogFile(logPath)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.NotesWritten != 1 || stats.Failures != 1 || stats.Errors != 1 {
		t.Errorf("unexpected stats %+v", stats)
	}
	if stats.LastProcessed == nil || stats.LastProcessed.Path != "/s/a.wav" {
		t.Errorf("unexpected last processed %+v", stats.LastProcessed)
	}
}

func TestTodayLogPath(t *testing.T) {
	got := TodayLogPath("/var/log/idea", time.Date(2026, 1, 22, 23, 30, 0, 0, time.UTC))
	if want := "/var/log/idea/idea-2026-01-22.log"; got != want {
		t.Errorf("TodayLogPath() = %q, want %q", got, want)
	}
}

func TestSnapshot(t *testing.T) {
	root := t.TempDir()
	landing := filepath.Join(root, "landing")
	stagingDir := filepath.Join(root, "staging")
	for _, d := range []string{landing, stagingDir} {
		if err := os.Mkdir(d, 0755); err != nil {
			t.Fatal(err)
		}
	}
	files := []string{
		filepath.Join(landing, "a.m4a"),
		filepath.Join(landing, "b.WAV"),
		filepath.Join(landing, ".sync.tmp"),
		filepath.Join(landing, "readme.txt"),
		filepath.Join(stagingDir, "c.mp3"),
		staging.FailedPath(filepath.Join(stagingDir, "d.mp3"), 1),
		staging.FailedPath(filepath.Join(stagingDir, "e.ogg"), 2),
	}
	for _, f := range files {
		if err := os.WriteFile(f, []byte("x"), 0644); err != nil {
			t.Fatal(err)
		}
	}

	got := Snapshot(Dirs{
		Landing:  landing,
		Staging:  stagingDir,
		Patterns: []string{"*.mp3", "*.m4a", "*.wav", "*.ogg", "*.aac"},
	})
	want := DirSnapshot{Landing: 2, Staging: 1, Failed: 2}
	if got != want {
		t.Errorf("Snapshot() = %+v, want %+v", got, want)
	}
}

func TestSnapshot_MissingDirs(t *testing.T) {
	got := Snapshot(Dirs{Landing: "/nope/landing", Staging: "/nope/staging"})
	if got != (DirSnapshot{}) {
		t.Errorf("Snapshot() = %+v, want zero", got)
	}
}

func TestBaseName(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"/path/to/file.m4a", "file.m4a"},
		{"file.m4a", "file.m4a"},
		{"/path/to/dir/", "dir"},
	}

	for _, tt := range tests {
		if got := BaseName(tt.input); got != tt.expected {
			t.Errorf("BaseName(%q) = %q, expected %q", tt.input, got, tt.expected)
		}
	}
}
