package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/TechnicallyShaun/idea-capture/internal/capture/logging"
)

// DefaultInstruction is sent to the formatter with every transcript.
const DefaultInstruction = "The following is a raw, transcribed voice memo. " +
	"Please take these ideas and neatly document them as a clean, concise bulleted list. " +
	"If there are no clear ideas, just summarize the text."

// DefaultNotifyTitle is used when Config.NotifyTitle is empty.
const DefaultNotifyTitle = "Idea Capture"

var (
	errEmptyTranscript = errors.New("transcriber returned no text")
	errEmptyFormatted  = errors.New("formatter returned no text")
)

// Config configures a Pipeline.
type Config struct {
	Instruction string
	NotifyTitle string
	// NotifyOnFailure also sends a notice when a step fails.
	NotifyOnFailure bool
}

// Result is the outcome of one run. Text fields are empty when the step that
// produces them did not succeed.
type Result struct {
	RunID      string
	Source     string
	StartedAt  time.Time
	FinishedAt time.Time
	Transcript string
	Formatted  string
	OutputPath string
	Success    bool
	// Canceled is set when the run stopped because its context ended.
	Canceled bool
	Err      error
	// NotifyErr never affects Success.
	NotifyErr error
}

// Pipeline processes staged recordings. A Pipeline holds no per-file state
// and may run any number of files concurrently.
type Pipeline struct {
	cfg         Config
	transcriber Transcriber
	formatter   Formatter
	writer      Writer
	notifier    Notifier
	logger      logging.Logger
	now         func() time.Time
}

// New creates a Pipeline.
func New(cfg Config, t Transcriber, f Formatter, w Writer, n Notifier, logger logging.Logger) *Pipeline {
	if cfg.Instruction == "" {
		cfg.Instruction = DefaultInstruction
	}
	if cfg.NotifyTitle == "" {
		cfg.NotifyTitle = DefaultNotifyTitle
	}
	return &Pipeline{
		cfg:         cfg,
		transcriber: t,
		formatter:   f,
		writer:      w,
		notifier:    n,
		logger:      logger,
		now:         time.Now,
	}
}

// Process runs transcribe, format, write and notify for stagedPath. Steps run
// strictly in order and the first failure ends the run. A notification
// failure is recorded but the run still succeeds.
func (p *Pipeline) Process(ctx context.Context, stagedPath string) Result {
	res := Result{
		RunID:     uuid.NewString(),
		Source:    stagedPath,
		StartedAt: p.now(),
	}
	log := p.logger.With(logging.String("run_id", res.RunID), logging.String("path", stagedPath))
	log.Info("processing started")

	transcript, err := p.transcriber.Transcribe(ctx, stagedPath)
	if err == nil && strings.TrimSpace(transcript) == "" {
		err = errEmptyTranscript
	}
	if err != nil {
		return p.fail(ctx, log, res, TranscriptionFailed, err)
	}
	res.Transcript = transcript
	log.Info("transcription complete", logging.Int("chars", len(transcript)))

	formatted, err := p.formatter.Format(ctx, p.cfg.Instruction, transcript)
	if err == nil && strings.TrimSpace(formatted) == "" {
		err = errEmptyFormatted
	}
	if err != nil {
		return p.fail(ctx, log, res, FormattingFailed, err)
	}
	res.Formatted = formatted
	log.Info("formatting complete", logging.Int("chars", len(formatted)))

	outputPath, err := p.writer.Write(ctx, stagedPath, formatted)
	if err != nil {
		return p.fail(ctx, log, res, WriteFailed, err)
	}
	res.OutputPath = outputPath
	res.Success = true
	res.FinishedAt = p.now()

	log.Info("note written",
		logging.String("output", outputPath),
		logging.Duration("elapsed", res.FinishedAt.Sub(res.StartedAt)),
	)

	message := fmt.Sprintf("New idea captured: %s", filepath.Base(outputPath))
	if err := p.notifier.Notify(ctx, p.cfg.NotifyTitle, message); err != nil {
		res.NotifyErr = &StageError{Kind: NotificationFailed, Path: stagedPath, Err: err}
		log.Warn("notification failed", logging.String("error", err.Error()))
	}

	return res
}

func (p *Pipeline) fail(ctx context.Context, log logging.Logger, res Result, kind Kind, err error) Result {
	res.FinishedAt = p.now()
	res.Err = &StageError{Kind: kind, Path: res.Source, Err: err}

	if ctx.Err() != nil {
		res.Canceled = true
		log.Info("processing abandoned", logging.String("stage", kind.String()))
		return res
	}

	log.Error("processing failed", res.Err, logging.String("kind", kind.String()))

	if p.cfg.NotifyOnFailure {
		message := fmt.Sprintf("Idea capture failed for %s (%s)", filepath.Base(res.Source), kind)
		if nerr := p.notifier.Notify(ctx, p.cfg.NotifyTitle, message); nerr != nil {
			res.NotifyErr = &StageError{Kind: NotificationFailed, Path: res.Source, Err: nerr}
			log.Warn("failure notification failed", logging.String("error", nerr.Error()))
		}
	}
	return res
}
