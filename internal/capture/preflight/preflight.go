// Package preflight checks that the directories and collaborators the
// service depends on are usable before any watcher starts.
package preflight

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/google/uuid"
)

// Result is the outcome of one check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// Pinger is implemented by collaborators reachable over the network.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Checks lists what Run verifies. Empty fields are skipped.
type Checks struct {
	LandingDir string
	StagingDir string
	OutputDir  string
	ArchiveDir string
	// Executable is resolved through PATH when it has no directory part.
	Executable string
	ModelFile  string
	// Remote collaborators keyed by display name.
	Remotes []Remote
	// NotifyEndpoint is validated with ValidateURL.
	NotifyEndpoint string
	ValidateURL    func(string) error
}

// Remote is a named collaborator probed with Ping.
type Remote struct {
	Name   string
	Pinger Pinger
}

// Run executes every configured check in a fixed order.
func Run(ctx context.Context, c Checks) []Result {
	var results []Result

	for _, d := range []struct{ name, path string }{
		{"landing directory", c.LandingDir},
		{"staging directory", c.StagingDir},
		{"output directory", c.OutputDir},
	} {
		if d.path == "" {
			continue
		}
		results = append(results, checkWritableDir(d.name, d.path))
	}

	if c.ArchiveDir != "" {
		results = append(results, checkCreatableDir("archive directory", c.ArchiveDir))
	}
	if c.Executable != "" {
		results = append(results, checkExecutable(c.Executable))
	}
	if c.ModelFile != "" {
		results = append(results, checkFile("transcriber model", c.ModelFile))
	}
	for _, r := range c.Remotes {
		results = append(results, checkRemote(ctx, r))
	}
	if c.NotifyEndpoint != "" && c.ValidateURL != nil {
		if err := c.ValidateURL(c.NotifyEndpoint); err != nil {
			results = append(results, Result{Name: "notify endpoint", Detail: err.Error()})
		} else {
			results = append(results, Result{Name: "notify endpoint", Passed: true, Detail: c.NotifyEndpoint})
		}
	}
	return results
}

// Failed reports whether any check failed.
func Failed(results []Result) bool {
	for _, r := range results {
		if !r.Passed {
			return true
		}
	}
	return false
}

// FirstFailure returns the first failed check as an error, or nil.
func FirstFailure(results []Result) error {
	for _, r := range results {
		if !r.Passed {
			return fmt.Errorf("%s: %s", r.Name, r.Detail)
		}
	}
	return nil
}

func checkWritableDir(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		return Result{Name: name, Detail: err.Error()}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: path + " is not a directory"}
	}

	probe := filepath.Join(path, ".preflight-"+uuid.NewString())
	f, err := os.OpenFile(probe, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return Result{Name: name, Detail: "not writable: " + err.Error()}
	}
	f.Close()
	os.Remove(probe)
	return Result{Name: name, Passed: true, Detail: path}
}

func checkCreatableDir(name, path string) Result {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return Result{Name: name, Detail: err.Error()}
	}
	return checkWritableDir(name, path)
}

func checkExecutable(exe string) Result {
	const name = "transcriber executable"
	resolved, err := exec.LookPath(exe)
	if err != nil {
		return Result{Name: name, Detail: err.Error()}
	}
	return Result{Name: name, Passed: true, Detail: resolved}
}

func checkFile(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		return Result{Name: name, Detail: err.Error()}
	}
	if info.IsDir() {
		return Result{Name: name, Detail: path + " is a directory"}
	}
	return Result{Name: name, Passed: true, Detail: path}
}

func checkRemote(ctx context.Context, r Remote) Result {
	if err := r.Pinger.Ping(ctx); err != nil {
		return Result{Name: r.Name, Detail: err.Error()}
	}
	return Result{Name: r.Name, Passed: true, Detail: "reachable"}
}
