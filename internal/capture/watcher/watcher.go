// Package watcher reports files arriving in a directory using Linux inotify.
package watcher

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// ArrivalMask selects events for files that finished being written or were renamed in.
const ArrivalMask = unix.IN_CLOSE_WRITE | unix.IN_MOVED_TO

// FileEvent represents a detected file.
type FileEvent struct {
	Path      string
	Size      int64
	Timestamp time.Time
}

// FileWatcher detects new files in a directory.
type FileWatcher interface {
	Watch(ctx context.Context, dir string, patterns []string) (<-chan FileEvent, error)
	Stop() error
}

// InotifyWatcher implements FileWatcher using Linux inotify.
type InotifyWatcher struct {
	fd       int
	wd       int
	mask     uint32
	patterns []string

	stopOnce sync.Once
	stopCh   chan struct{}
	stopErr  error
}

// NewInotifyWatcher creates a watcher for ArrivalMask events.
func NewInotifyWatcher() (*InotifyWatcher, error) {
	return NewInotifyWatcherMask(ArrivalMask)
}

// NewInotifyWatcherMask creates a watcher for the given inotify event mask.
func NewInotifyWatcherMask(mask uint32) (*InotifyWatcher, error) {
	fd, err := unix.InotifyInit1(unix.IN_CLOEXEC | unix.IN_NONBLOCK)
	if err != nil {
		return nil, err
	}

	return &InotifyWatcher{
		fd:     fd,
		mask:   mask,
		stopCh: make(chan struct{}),
	}, nil
}

// Watch starts watching dir for files matching patterns. The returned channel
// is closed when ctx is done or the watcher is stopped.
func (w *InotifyWatcher) Watch(ctx context.Context, dir string, patterns []string) (<-chan FileEvent, error) {
	wd, err := unix.InotifyAddWatch(w.fd, dir, w.mask)
	if err != nil {
		return nil, err
	}
	w.wd = wd
	w.patterns = patterns

	events := make(chan FileEvent, 100)

	go w.readEvents(ctx, dir, events)

	return events, nil
}

// Stop stops the watcher and releases resources. It is safe to call more than once.
func (w *InotifyWatcher) Stop() error {
	w.stopOnce.Do(func() {
		close(w.stopCh)
		if w.wd != 0 {
			unix.InotifyRmWatch(w.fd, uint32(w.wd))
		}
		w.stopErr = unix.Close(w.fd)
	})
	return w.stopErr
}

func (w *InotifyWatcher) readEvents(ctx context.Context, dir string, events chan<- FileEvent) {
	defer close(events)

	buf := make([]byte, 16*(unix.SizeofInotifyEvent+256))
	fds := []unix.PollFd{{Fd: int32(w.fd), Events: unix.POLLIN}}

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		default:
		}

		// Wake periodically to observe cancellation.
		n, err := unix.Poll(fds, 100)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return
		}
		if n == 0 {
			continue
		}

		n, err = unix.Read(w.fd, buf)
		if err != nil {
			if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR) {
				continue
			}
			return
		}

		for offset := 0; offset+unix.SizeofInotifyEvent <= n; {
			event := (*unix.InotifyEvent)(unsafe.Pointer(&buf[offset]))
			nameLen := int(event.Len)

			if nameLen > 0 && event.Mask&unix.IN_ISDIR == 0 {
				nameBytes := buf[offset+unix.SizeofInotifyEvent : offset+unix.SizeofInotifyEvent+nameLen]
				name := strings.TrimRight(string(nameBytes), "\x00")

				if Match(name, w.patterns) {
					fullPath := filepath.Join(dir, name)
					if info, err := os.Stat(fullPath); err == nil {
						select {
						case events <- FileEvent{Path: fullPath, Size: info.Size(), Timestamp: time.Now()}:
						case <-ctx.Done():
							return
						case <-w.stopCh:
							return
						}
					}
				}
			}

			offset += unix.SizeofInotifyEvent + nameLen
		}
	}
}

// Match reports whether name is a visible file matching one of patterns.
// Matching is case-insensitive; hidden names (leading dot) never match.
// An empty pattern list matches every visible name.
func Match(name string, patterns []string) bool {
	if name == "" || strings.HasPrefix(name, ".") {
		return false
	}
	if len(patterns) == 0 {
		return true
	}

	lower := strings.ToLower(name)
	for _, pattern := range patterns {
		matched, err := filepath.Match(strings.ToLower(pattern), lower)
		if err == nil && matched {
			return true
		}
	}
	return false
}
