// Package mover relocates files between the capture directories without ever
// exposing a partially written file at the destination path.
package mover

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

var (
	// ErrSourceNotFound is returned when the source file does not exist.
	ErrSourceNotFound = errors.New("source file not found")
	// ErrDestinationExists is returned instead of overwriting an existing file.
	ErrDestinationExists = errors.New("destination already exists")
	// ErrVerifyFailed is returned when a cross-volume copy does not match its source.
	ErrVerifyFailed = errors.New("copy verification failed")
	// ErrSourceNotRemoved is returned when a cross-volume copy succeeded but the source is still present.
	ErrSourceNotRemoved = errors.New("source still present after copy")
)

// Result describes a completed move.
type Result struct {
	Dest string
	// CrossDevice is set when the move went through copy, delete and verify
	// instead of a single rename.
	CrossDevice bool
	Bytes       int64
}

// Mover moves files using an atomic no-replace rename, falling back to a
// verified copy when source and destination are on different filesystems.
type Mover struct {
	rename func(oldpath, newpath string) error
}

// New creates a Mover.
func New() *Mover {
	return &Mover{rename: RenameNoReplace}
}

// Move moves src into dstDir keeping its base name.
func (m *Mover) Move(ctx context.Context, src, dstDir string) (Result, error) {
	return m.MoveTo(ctx, src, filepath.Join(dstDir, filepath.Base(src)))
}

// MoveTo moves src to the exact path dst. It never replaces an existing dst.
func (m *Mover) MoveTo(ctx context.Context, src, dst string) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	info, err := os.Lstat(src)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{}, ErrSourceNotFound
		}
		return Result{}, fmt.Errorf("stat source: %w", err)
	}
	if !info.Mode().IsRegular() {
		return Result{}, fmt.Errorf("move %s: not a regular file", src)
	}

	err = m.rename(src, dst)
	switch {
	case err == nil:
		return Result{Dest: dst, Bytes: info.Size()}, nil
	case errors.Is(err, unix.EEXIST):
		return Result{}, fmt.Errorf("move to %s: %w", dst, ErrDestinationExists)
	case errors.Is(err, unix.EXDEV):
		return m.copyAcross(ctx, src, dst, info)
	case errors.Is(err, unix.ENOENT):
		if _, statErr := os.Lstat(src); os.IsNotExist(statErr) {
			return Result{}, ErrSourceNotFound
		}
		return Result{}, fmt.Errorf("move to %s: %w", dst, err)
	default:
		return Result{}, fmt.Errorf("move to %s: %w", dst, err)
	}
}

// copyAcross is the cross-volume path: copy to a hidden partial file next to
// dst, verify it against src, rename it into place, then delete src and
// confirm it is gone. A crash between the rename and the delete leaves the
// file in both places.
func (m *Mover) copyAcross(ctx context.Context, src, dst string, info os.FileInfo) (Result, error) {
	if _, err := os.Lstat(dst); err == nil {
		return Result{}, fmt.Errorf("move to %s: %w", dst, ErrDestinationExists)
	}

	partial := filepath.Join(filepath.Dir(dst), "."+filepath.Base(dst)+".partial")
	written, err := copyVerified(ctx, src, partial, info)
	if err != nil {
		_ = os.Remove(partial)
		return Result{}, err
	}

	if err := m.rename(partial, dst); err != nil {
		_ = os.Remove(partial)
		if errors.Is(err, unix.EEXIST) {
			return Result{}, fmt.Errorf("move to %s: %w", dst, ErrDestinationExists)
		}
		return Result{}, fmt.Errorf("publish copy: %w", err)
	}

	res := Result{Dest: dst, CrossDevice: true, Bytes: written}

	if err := os.Remove(src); err != nil && !os.IsNotExist(err) {
		return res, fmt.Errorf("%w: %v", ErrSourceNotRemoved, err)
	}
	if _, err := os.Lstat(src); !os.IsNotExist(err) {
		return res, ErrSourceNotRemoved
	}
	return res, nil
}

func copyVerified(ctx context.Context, src, dst string, info os.FileInfo) (int64, error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, fmt.Errorf("open source: %w", err)
	}
	defer in.Close()

	// A leftover partial from an interrupted copy is ours to replace.
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_EXCL|os.O_WRONLY, info.Mode().Perm())
	if errors.Is(err, os.ErrExist) {
		if rmErr := os.Remove(dst); rmErr != nil {
			return 0, fmt.Errorf("remove stale partial: %w", rmErr)
		}
		out, err = os.OpenFile(dst, os.O_CREATE|os.O_EXCL|os.O_WRONLY, info.Mode().Perm())
	}
	if err != nil {
		return 0, fmt.Errorf("create partial: %w", err)
	}
	defer out.Close()

	srcHash := sha256.New()
	written, err := io.Copy(out, io.TeeReader(&ctxReader{ctx: ctx, r: in}, srcHash))
	if err != nil {
		return 0, fmt.Errorf("copy: %w", err)
	}
	if err := out.Sync(); err != nil {
		return 0, fmt.Errorf("sync partial: %w", err)
	}
	if err := out.Close(); err != nil {
		return 0, fmt.Errorf("close partial: %w", err)
	}

	if written != info.Size() {
		return 0, fmt.Errorf("%w: source %d bytes, copied %d bytes", ErrVerifyFailed, info.Size(), written)
	}

	dstSum, err := fileSum(dst)
	if err != nil {
		return 0, err
	}
	if !bytes.Equal(srcHash.Sum(nil), dstSum) {
		return 0, fmt.Errorf("%w: hash mismatch", ErrVerifyFailed)
	}
	return written, nil
}

func fileSum(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open copy: %w", err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return nil, fmt.Errorf("hash copy: %w", err)
	}
	return h.Sum(nil), nil
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

// RenameNoReplace renames oldpath to newpath, failing with EEXIST instead of
// replacing newpath. Filesystems without RENAME_NOREPLACE fall back to a
// check followed by a plain rename.
func RenameNoReplace(oldpath, newpath string) error {
	err := unix.Renameat2(unix.AT_FDCWD, oldpath, unix.AT_FDCWD, newpath, unix.RENAME_NOREPLACE)
	if errors.Is(err, unix.EINVAL) || errors.Is(err, unix.ENOSYS) {
		if _, statErr := os.Lstat(newpath); statErr == nil {
			return unix.EEXIST
		}
		return os.Rename(oldpath, newpath)
	}
	return err
}
