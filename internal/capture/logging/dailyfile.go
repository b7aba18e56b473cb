package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

const dateLayout = "2006-01-02"

// dailyFile is a zapcore.WriteSyncer that switches to a new file at UTC midnight.
type dailyFile struct {
	dir    string
	prefix string
	now    func() time.Time

	mu          sync.Mutex
	file        *os.File
	currentDate string
}

func newDailyFile(dir, prefix string) *dailyFile {
	return &dailyFile{
		dir:    dir,
		prefix: prefix,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (d *dailyFile) Write(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.rotateLocked(); err != nil {
		return 0, err
	}
	return d.file.Write(p)
}

func (d *dailyFile) Sync() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.file == nil {
		return nil
	}
	return d.file.Sync()
}

func (d *dailyFile) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.file == nil {
		return nil
	}
	err := d.file.Close()
	d.file = nil
	return err
}

func (d *dailyFile) rotateIfNeeded() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.rotateLocked()
}

func (d *dailyFile) rotateLocked() error {
	today := d.now().UTC().Format(dateLayout)
	if d.currentDate == today && d.file != nil {
		return nil
	}

	if d.file != nil {
		d.file.Close()
		d.file = nil
	}

	file, err := os.OpenFile(PathFor(d.dir, d.prefix, today), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}

	d.file = file
	d.currentDate = today
	return nil
}

func (d *dailyFile) currentPath() string {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.file != nil {
		return d.file.Name()
	}
	return PathFor(d.dir, d.prefix, d.now().UTC().Format(dateLayout))
}

// cleanOldLogs removes prefix-YYYY-MM-DD.log files older than the retention window.
func cleanOldLogs(dir, prefix string, retentionDays int, now time.Time) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("failed to read log directory: %w", err)
	}

	cutoff := now.UTC().AddDate(0, 0, -retentionDays)
	var toDelete []string

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasPrefix(name, prefix+"-") || !strings.HasSuffix(name, ".log") {
			continue
		}

		dateStr := strings.TrimSuffix(strings.TrimPrefix(name, prefix+"-"), ".log")
		logDate, err := time.Parse(dateLayout, dateStr)
		if err != nil {
			continue
		}
		if logDate.Before(cutoff) {
			toDelete = append(toDelete, filepath.Join(dir, name))
		}
	}

	sort.Strings(toDelete)
	for _, path := range toDelete {
		if err := os.Remove(path); err != nil {
			return fmt.Errorf("failed to remove old log file %s: %w", path, err)
		}
	}
	return nil
}
