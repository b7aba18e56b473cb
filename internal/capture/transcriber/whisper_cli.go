package transcriber

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// ErrEmptyTranscript is returned when the engine exits cleanly but prints nothing.
var ErrEmptyTranscript = errors.New("transcriber produced no text")

// commandResult is the captured outcome of one process run.
type commandResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// commandRunner abstracts process execution for testability.
type commandRunner interface {
	Run(ctx context.Context, name string, args ...string) (commandResult, error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) (commandResult, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := commandResult{Stdout: stdout.String(), Stderr: stderr.String()}
	if err != nil {
		result.ExitCode = -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		}
		return result, err
	}
	return result, nil
}

// WhisperCLI runs a whisper.cpp command line binary and reads the transcript
// from its standard output.
type WhisperCLI struct {
	executable string
	model      string
	language   string
	threads    int
	timeout    time.Duration
	runner     commandRunner
}

// WhisperCLIOption configures WhisperCLI.
type WhisperCLIOption func(*WhisperCLI)

// WithLanguage sets the spoken language; "auto" or "" lets whisper detect it.
func WithLanguage(lang string) WhisperCLIOption {
	return func(w *WhisperCLI) { w.language = lang }
}

// WithThreads sets the number of decoding threads.
func WithThreads(n int) WhisperCLIOption {
	return func(w *WhisperCLI) { w.threads = n }
}

// WithProcessTimeout bounds one run of the executable.
func WithProcessTimeout(d time.Duration) WhisperCLIOption {
	return func(w *WhisperCLI) { w.timeout = d }
}

// NewWhisperCLI creates a backend for the executable and model file.
func NewWhisperCLI(executable, model string, opts ...WhisperCLIOption) *WhisperCLI {
	w := &WhisperCLI{
		executable: executable,
		model:      model,
		timeout:    DefaultTimeout,
		runner:     execRunner{},
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Executable returns the configured binary path.
func (w *WhisperCLI) Executable() string { return w.executable }

// Model returns the configured model path.
func (w *WhisperCLI) Model() string { return w.model }

// Transcribe runs the executable on audioPath. A non-zero exit or empty
// output is an error.
func (w *WhisperCLI) Transcribe(ctx context.Context, audioPath string) (string, error) {
	if w.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.timeout)
		defer cancel()
	}

	args := w.args(audioPath)
	res, err := w.runner.Run(ctx, w.executable, args...)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", fmt.Errorf("%s: %w", w.executable, ctxErr)
		}
		return "", fmt.Errorf("%s exited with code %d: %w%s", w.executable, res.ExitCode, err, stderrTail(res.Stderr))
	}

	text := cleanTranscript(res.Stdout)
	if text == "" {
		return "", fmt.Errorf("%w%s", ErrEmptyTranscript, stderrTail(res.Stderr))
	}
	return text, nil
}

func (w *WhisperCLI) args(audioPath string) []string {
	args := []string{"-m", w.model, "-f", audioPath, "-nt", "-np"}
	if w.language != "" {
		args = append(args, "-l", w.language)
	}
	if w.threads > 0 {
		args = append(args, "-t", strconv.Itoa(w.threads))
	}
	return args
}

// cleanTranscript joins whisper's per-segment lines into one paragraph-preserving text.
func cleanTranscript(stdout string) string {
	var lines []string
	for _, line := range strings.Split(stdout, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n")
}

func stderrTail(stderr string) string {
	stderr = strings.TrimSpace(stderr)
	if stderr == "" {
		return ""
	}
	if len(stderr) > 500 {
		stderr = "..." + stderr[len(stderr)-500:]
	}
	return ": " + stderr
}
