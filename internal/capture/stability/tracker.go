// Package stability decides when a file that is being written by an external
// sync client has stopped changing.
package stability

import (
	"sort"
	"sync"
	"time"
)

// State is the stability verdict for one observed file.
type State int

const (
	// Growing means the size changed since the previous observation, or the file is new.
	Growing State = iota
	// Settling means the size is unchanged but not for long enough yet.
	Settling
	// Stable means the size has been unchanged for at least the threshold.
	Stable
)

func (s State) String() string {
	switch s {
	case Growing:
		return "growing"
	case Settling:
		return "settling"
	case Stable:
		return "stable"
	default:
		return "unknown"
	}
}

// MarshalText renders the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// TrackedFile is the tracker's record of one candidate file.
type TrackedFile struct {
	Path       string    `json:"path"`
	Size       int64     `json:"size"`
	LastChange time.Time `json:"last_change"`
	FirstSeen  time.Time `json:"first_seen"`
	State      State     `json:"state"`
}

// Tracker holds one TrackedFile per path. It is safe for concurrent use.
type Tracker struct {
	stableFor time.Duration

	mu    sync.Mutex
	files map[string]*TrackedFile
}

// NewTracker creates a tracker that reports Stable once a size has been
// unchanged for stableFor.
func NewTracker(stableFor time.Duration) *Tracker {
	return &Tracker{
		stableFor: stableFor,
		files:     make(map[string]*TrackedFile),
	}
}

// Threshold returns the configured stable duration.
func (t *Tracker) Threshold() time.Duration {
	return t.stableFor
}

// Observe records the size of path at now and returns its state.
//
// A file seen for the first time is Growing. Any size change resets the file
// to Growing, including a change after it was reported Stable. A zero-byte
// file follows the same rule as any other size.
func (t *Tracker) Observe(path string, size int64, now time.Time) State {
	t.mu.Lock()
	defer t.mu.Unlock()

	f, ok := t.files[path]
	if !ok {
		t.files[path] = &TrackedFile{
			Path:       path,
			Size:       size,
			LastChange: now,
			FirstSeen:  now,
			State:      Growing,
		}
		return Growing
	}

	if size != f.Size {
		f.Size = size
		f.LastChange = now
		f.State = Growing
		return Growing
	}

	if now.Sub(f.LastChange) >= t.stableFor {
		f.State = Stable
	} else {
		f.State = Settling
	}
	return f.State
}

// Forget drops the record for path.
func (t *Tracker) Forget(path string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.files, path)
}

// Retain drops every record whose path is not in present and returns the dropped paths.
func (t *Tracker) Retain(present map[string]struct{}) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	var dropped []string
	for path := range t.files {
		if _, ok := present[path]; !ok {
			delete(t.files, path)
			dropped = append(dropped, path)
		}
	}
	sort.Strings(dropped)
	return dropped
}

// Len returns the number of tracked files.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.files)
}

// Get returns a copy of the record for path.
func (t *Tracker) Get(path string) (TrackedFile, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	f, ok := t.files[path]
	if !ok {
		return TrackedFile{}, false
	}
	return *f, true
}

// Tracked returns copies of all records sorted by path.
func (t *Tracker) Tracked() []TrackedFile {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]TrackedFile, 0, len(t.files))
	for _, f := range t.files {
		out = append(out, *f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}
