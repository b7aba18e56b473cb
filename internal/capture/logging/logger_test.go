package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func readLogFile(t *testing.T, logDir, prefix string) string {
	t.Helper()
	today := time.Now().UTC().Format(dateLayout)
	content, err := os.ReadFile(PathFor(logDir, prefix, today))
	if err != nil {
		t.Fatalf("failed to read log file: %v", err)
	}
	return string(content)
}

func decodeLines(t *testing.T, content string) []map[string]any {
	t.Helper()
	var records []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(content), "\n") {
		if line == "" {
			continue
		}
		var rec map[string]any
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			t.Fatalf("log line is not JSON: %q: %v", line, err)
		}
		records = append(records, rec)
	}
	return records
}

func TestNew_CreatesLogFile(t *testing.T) {
	logDir := filepath.Join(t.TempDir(), "logs")

	logger, err := New(Config{LogDir: logDir, Prefix: "test"})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer logger.Close()

	expectedPath := PathFor(logDir, "test", time.Now().UTC().Format(dateLayout))
	if _, err := os.Stat(expectedPath); os.IsNotExist(err) {
		t.Errorf("expected log file to exist at %s", expectedPath)
	}
	if logger.LogPath() != expectedPath {
		t.Errorf("expected LogPath() = %s, got %s", expectedPath, logger.LogPath())
	}
}

func TestNew_DefaultPrefix(t *testing.T) {
	logDir := t.TempDir()

	logger, err := New(Config{LogDir: logDir})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer logger.Close()

	if !strings.Contains(filepath.Base(logger.LogPath()), "idea-") {
		t.Errorf("expected default prefix, got %s", logger.LogPath())
	}
}

func TestNew_InvalidLevel(t *testing.T) {
	if _, err := New(Config{Level: "loud"}); err == nil {
		t.Fatal("expected error for invalid level")
	}
}

func TestFileLogger_WritesJSONRecords(t *testing.T) {
	logDir := t.TempDir()

	logger, err := New(Config{LogDir: logDir, Prefix: "test"})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	logger.Named("landing").Info("file moved",
		String("path", "/landing/a.wav"),
		Int64("size", 2400000),
		Duration("elapsed", 5*time.Second),
	)
	logger.Error("move failed", errors.New("disk full"), String("path", "/landing/b.wav"))
	logger.Close()

	records := decodeLines(t, readLogFile(t, logDir, "test"))
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}

	first := records[0]
	if first["level"] != "info" || first["msg"] != "file moved" {
		t.Errorf("unexpected first record: %v", first)
	}
	if first["component"] != "landing" {
		t.Errorf("expected component landing, got %v", first["component"])
	}
	if first["path"] != "/landing/a.wav" {
		t.Errorf("expected path field, got %v", first["path"])
	}
	if first["elapsed"] != "5s" {
		t.Errorf("expected elapsed=5s, got %v", first["elapsed"])
	}

	second := records[1]
	if second["level"] != "error" || second["error"] != "disk full" {
		t.Errorf("unexpected error record: %v", second)
	}
}

func TestFileLogger_ErrorWithNilErr(t *testing.T) {
	logDir := t.TempDir()
	logger, err := New(Config{LogDir: logDir, Prefix: "test"})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	logger.Error("no cause", nil)
	logger.Close()

	records := decodeLines(t, readLogFile(t, logDir, "test"))
	if _, ok := records[0]["error"]; ok {
		t.Errorf("expected no error key for nil error, got %v", records[0])
	}
}

func TestFileLogger_DebugFilteredByDefault(t *testing.T) {
	logDir := t.TempDir()
	logger, err := New(Config{LogDir: logDir, Prefix: "test"})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	logger.Debug("debug info")
	logger.Close()

	if strings.Contains(readLogFile(t, logDir, "test"), "debug info") {
		t.Errorf("expected debug to be filtered out by default")
	}
}

func TestFileLogger_DebugLevel(t *testing.T) {
	logDir := t.TempDir()
	logger, err := New(Config{LogDir: logDir, Prefix: "test", Level: "debug"})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	logger.Debug("debug info")
	logger.Close()

	if !strings.Contains(readLogFile(t, logDir, "test"), "debug info") {
		t.Errorf("expected debug record when level is debug")
	}
}

func TestFileLogger_With(t *testing.T) {
	logDir := t.TempDir()
	logger, err := New(Config{LogDir: logDir, Prefix: "test"})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	logger.With(String("run_id", "abc")).Info("step done")
	logger.Close()

	records := decodeLines(t, readLogFile(t, logDir, "test"))
	if records[0]["run_id"] != "abc" {
		t.Errorf("expected run_id field, got %v", records[0])
	}
}

func TestFileLogger_ConsoleOutput(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Config{Console: &buf})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	logger.Named("staging").Info("dispatching", String("path", "x.wav"))
	logger.Close()

	out := buf.String()
	if !strings.Contains(out, "INFO") || !strings.Contains(out, "staging") || !strings.Contains(out, "dispatching") {
		t.Errorf("unexpected console output: %q", out)
	}
	if strings.Contains(out, "\033[") {
		t.Errorf("expected no color codes for a non-terminal writer")
	}
}

func TestDailyFile_RotatesAtMidnight(t *testing.T) {
	logDir := t.TempDir()
	current := time.Date(2026, 3, 1, 23, 59, 0, 0, time.UTC)

	d := newDailyFile(logDir, "test")
	d.now = func() time.Time { return current }

	if _, err := d.Write([]byte("before\n")); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	current = current.Add(2 * time.Minute)
	if _, err := d.Write([]byte("after\n")); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	d.Close()

	day1, _ := os.ReadFile(PathFor(logDir, "test", "2026-03-01"))
	day2, _ := os.ReadFile(PathFor(logDir, "test", "2026-03-02"))
	if string(day1) != "before\n" {
		t.Errorf("expected day 1 content 'before', got %q", day1)
	}
	if string(day2) != "after\n" {
		t.Errorf("expected day 2 content 'after', got %q", day2)
	}
}

func TestCleanOldLogs(t *testing.T) {
	logDir := t.TempDir()
	now := time.Now().UTC()

	oldPath := PathFor(logDir, "test", now.AddDate(0, 0, -35).Format(dateLayout))
	recentPath := PathFor(logDir, "test", now.AddDate(0, 0, -5).Format(dateLayout))
	otherPath := filepath.Join(logDir, "unrelated.log")
	for _, p := range []string{oldPath, recentPath, otherPath} {
		if err := os.WriteFile(p, []byte("log"), 0o644); err != nil {
			t.Fatalf("failed to create log: %v", err)
		}
	}

	logger, err := New(Config{LogDir: logDir, Prefix: "test", RetentionDays: 30})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer logger.Close()

	if _, err := os.Stat(oldPath); !os.IsNotExist(err) {
		t.Errorf("expected old log file to be deleted")
	}
	if _, err := os.Stat(recentPath); err != nil {
		t.Errorf("expected recent log file to still exist")
	}
	if _, err := os.Stat(otherPath); err != nil {
		t.Errorf("expected unrelated file to be left alone")
	}
}
