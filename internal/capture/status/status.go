// Package status summarizes service activity from the JSON log files and the
// working directories for `idea status`.
package status

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/TechnicallyShaun/idea-capture/internal/capture/logging"
	"github.com/TechnicallyShaun/idea-capture/internal/capture/staging"
	"github.com/TechnicallyShaun/idea-capture/internal/capture/watcher"
)

// Log messages the parser keys on.
const (
	msgNoteWritten      = "note written"
	msgProcessingFailed = "processing failed"
)

// Stats holds parsed statistics from the log file.
type Stats struct {
	NotesWritten  int
	Failures      int
	Errors        int
	LastProcessed *ProcessedFile
}

// ProcessedFile holds information about the last processed file.
type ProcessedFile struct {
	Timestamp time.Time
	Path      string
	Output    string
}

type logRecord struct {
	Time   time.Time `json:"time"`
	Level  string    `json:"level"`
	Msg    string    `json:"msg"`
	Path   string    `json:"path"`
	Output string    `json:"output"`
}

// TodayLogPath returns the path to today's log file in logDir.
func TodayLogPath(logDir string, now time.Time) string {
	return logging.PathFor(logDir, logging.DefaultPrefix, now.UTC().Format("2006-01-02"))
}

// ParseLogFile parses a log file and returns statistics.
// Returns empty stats if the file doesn't exist. Lines that are not JSON
// records are skipped.
func ParseLogFile(path string) (*Stats, error) {
	stats := &Stats{}

	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return stats, nil
		}
		return nil, err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 || line[0] != '{' {
			continue
		}
		var rec logRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			continue
		}

		if rec.Level == "error" {
			stats.Errors++
		}
		switch rec.Msg {
		case msgNoteWritten:
			stats.NotesWritten++
			stats.LastProcessed = &ProcessedFile{
				Timestamp: rec.Time,
				Path:      rec.Path,
				Output:    rec.Output,
			}
		case msgProcessingFailed:
			stats.Failures++
		}
	}

	return stats, scanner.Err()
}

// Dirs names the directories counted by Snapshot.
type Dirs struct {
	Landing  string
	Staging  string
	Patterns []string
}

// DirSnapshot counts the files currently waiting in each stage.
type DirSnapshot struct {
	Landing int
	Staging int
	Failed  int
}

// Snapshot counts audio files in landing and staging and failed markers in
// staging. Missing directories count as empty.
func Snapshot(d Dirs) DirSnapshot {
	var s DirSnapshot
	s.Landing = countFiles(d.Landing, func(name string) bool { return watcher.Match(name, d.Patterns) })
	s.Staging = countFiles(d.Staging, func(name string) bool { return watcher.Match(name, d.Patterns) })
	s.Failed = countFiles(d.Staging, func(name string) bool { return strings.HasSuffix(name, staging.FailedSuffix) })
	return s
}

func countFiles(dir string, keep func(string) bool) int {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0
	}
	n := 0
	for _, e := range entries {
		if e.Type().IsRegular() && keep(e.Name()) {
			n++
		}
	}
	return n
}

// FormatTimestamp formats a timestamp for display.
func FormatTimestamp(t time.Time) string {
	return t.Local().Format("2006-01-02T15:04:05")
}

// BaseName returns just the filename from a path.
func BaseName(path string) string {
	return filepath.Base(strings.TrimSuffix(path, "/"))
}
