package staging

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// FailedSuffix marks staged files whose run failed. Marked files no longer
// match the audio patterns and are never dispatched.
const FailedSuffix = ".failed"

// FailedPath returns the n-th candidate name for marking path as failed:
// idea.wav.failed, then idea.wav.2.failed, idea.wav.3.failed, ...
// The original name is always a prefix so OriginalPath can restore it.
func FailedPath(path string, n int) string {
	if n <= 1 {
		return path + FailedSuffix
	}
	return fmt.Sprintf("%s.%d%s", path, n, FailedSuffix)
}

// OriginalPath reverses FailedPath: idea.wav.failed and idea.wav.2.failed
// both become idea.wav.
func OriginalPath(failed string) string {
	original := strings.TrimSuffix(failed, FailedSuffix)
	i := strings.LastIndexByte(original, '.')
	if i <= 0 || strings.ContainsRune(original[i:], filepath.Separator) {
		return original
	}
	if n, err := strconv.Atoi(original[i+1:]); err == nil && n >= 2 && original[i+1] != '0' {
		return original[:i]
	}
	return original
}

// ListFailed returns the failed files in dir, sorted by name.
func ListFailed(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.Type().IsRegular() && strings.HasSuffix(e.Name(), FailedSuffix) {
			out = append(out, filepath.Join(dir, e.Name()))
		}
	}
	return out, nil
}

// Requeue renames failed files back to their original names so a running
// watcher picks them up again. names may be given with or without the
// suffix; an empty list requeues every failed file. It returns the
// requeued paths and the first error encountered.
func Requeue(ctx context.Context, dir string, names []string, m Mover) ([]string, error) {
	var targets []string
	if len(names) == 0 {
		all, err := ListFailed(dir)
		if err != nil {
			return nil, err
		}
		targets = all
	} else {
		for _, name := range names {
			name = filepath.Base(name)
			if !strings.HasSuffix(name, FailedSuffix) {
				name += FailedSuffix
			}
			targets = append(targets, filepath.Join(dir, name))
		}
	}

	var requeued []string
	var errs []error
	for _, failed := range targets {
		original := OriginalPath(failed)
		if _, err := m.MoveTo(ctx, failed, original); err != nil {
			errs = append(errs, fmt.Errorf("requeue %s: %w", filepath.Base(failed), err))
			continue
		}
		requeued = append(requeued, original)
	}
	return requeued, errors.Join(errs...)
}
