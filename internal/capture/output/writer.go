// Package output writes finished notes into the output directory.
package output

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"
	"golang.org/x/text/unicode/norm"

	"github.com/TechnicallyShaun/idea-capture/internal/capture/mover"
)

// maxCollisions bounds the -2, -3, ... suffix search.
const maxCollisions = 1000

// ErrTooManyCollisions is returned when every candidate name is taken.
var ErrTooManyCollisions = errors.New("too many notes with the same name")

// Writer saves formatted notes as text files named after their source recording.
type Writer struct {
	dir string
	ext string
}

// NewWriter creates a writer for dir.
func NewWriter(dir string) *Writer {
	return &Writer{dir: dir, ext: ".txt"}
}

// Dir returns the output directory.
func (w *Writer) Dir() string { return w.dir }

// Write stores text as <source base name>.txt and returns the created path.
// The content goes to a hidden temporary file first and is published with a
// no-replace rename, so the note appears complete or not at all and an
// existing note is never overwritten. Taken names get a -2, -3, ... suffix.
func (w *Writer) Write(ctx context.Context, sourcePath, text string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if w.dir == "" {
		return "", fmt.Errorf("output directory is required")
	}

	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}

	tmp := filepath.Join(w.dir, "."+uuid.NewString()+".tmp")
	if err := writeTemp(tmp, text); err != nil {
		os.Remove(tmp)
		return "", err
	}

	published := false
	defer func() {
		if !published {
			os.Remove(tmp)
		}
	}()

	if err := ctx.Err(); err != nil {
		return "", err
	}

	stem := NoteName(sourcePath)
	for i := 1; i <= maxCollisions; i++ {
		name := stem + w.ext
		if i > 1 {
			name = fmt.Sprintf("%s-%d%s", stem, i, w.ext)
		}
		candidate := filepath.Join(w.dir, name)

		err := mover.RenameNoReplace(tmp, candidate)
		if err == nil {
			published = true
			return candidate, nil
		}
		if !errors.Is(err, unix.EEXIST) {
			return "", fmt.Errorf("failed to publish note: %w", err)
		}
	}

	return "", ErrTooManyCollisions
}

// NoteName derives the note's base name (without extension) from a recording path.
func NoteName(sourcePath string) string {
	base := filepath.Base(sourcePath)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	stem = norm.NFC.String(strings.TrimSpace(stem))
	if stem == "" || stem == "." || stem == string(filepath.Separator) {
		return "idea"
	}
	return stem
}

func writeTemp(path, text string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	if _, err := f.WriteString(text); err != nil {
		f.Close()
		return fmt.Errorf("failed to write note: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("failed to sync note: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close note: %w", err)
	}
	return nil
}
