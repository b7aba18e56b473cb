// Package archiver files processed recordings away under a date-organised archive directory.
package archiver

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/TechnicallyShaun/idea-capture/internal/capture/mover"
)

// Archiver moves processed files to an archive location.
type Archiver interface {
	Archive(ctx context.Context, sourcePath string) (string, error)
}

// DateArchiver implements Archiver with date subdirectories (YYYY/MM/DD).
type DateArchiver struct {
	dir   string
	mover *mover.Mover
	now   func() time.Time
}

// New creates an archiver rooted at dir.
func New(dir string, m *mover.Mover) *DateArchiver {
	return &DateArchiver{dir: dir, mover: m, now: time.Now}
}

// Archive moves sourcePath into today's archive subdirectory and returns the
// archived path. A name collision adds a time-of-day suffix, then a counter.
func (a *DateArchiver) Archive(ctx context.Context, sourcePath string) (string, error) {
	now := a.now()
	dateDir := filepath.Join(a.dir, now.Format("2006"), now.Format("01"), now.Format("02"))

	if err := os.MkdirAll(dateDir, 0o755); err != nil {
		return "", fmt.Errorf("create archive directory: %w", err)
	}

	baseName := filepath.Base(sourcePath)
	ext := filepath.Ext(baseName)
	stem := baseName[:len(baseName)-len(ext)]
	stamp := now.Format("150405")

	candidates := []string{baseName, fmt.Sprintf("%s-%s%s", stem, stamp, ext)}
	for i := 2; i <= 100; i++ {
		candidates = append(candidates, fmt.Sprintf("%s-%s-%d%s", stem, stamp, i, ext))
	}

	for _, name := range candidates {
		res, err := a.mover.MoveTo(ctx, sourcePath, filepath.Join(dateDir, name))
		if err == nil {
			return res.Dest, nil
		}
		if !errors.Is(err, mover.ErrDestinationExists) {
			return "", fmt.Errorf("archive file: %w", err)
		}
	}
	return "", fmt.Errorf("archive file: %w", mover.ErrDestinationExists)
}
