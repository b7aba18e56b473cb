package capture

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/TechnicallyShaun/idea-capture/internal/capture/api"
	"github.com/TechnicallyShaun/idea-capture/internal/capture/archiver"
	"github.com/TechnicallyShaun/idea-capture/internal/capture/clock"
	"github.com/TechnicallyShaun/idea-capture/internal/capture/formatter"
	"github.com/TechnicallyShaun/idea-capture/internal/capture/landing"
	"github.com/TechnicallyShaun/idea-capture/internal/capture/logging"
	"github.com/TechnicallyShaun/idea-capture/internal/capture/mover"
	"github.com/TechnicallyShaun/idea-capture/internal/capture/notify"
	"github.com/TechnicallyShaun/idea-capture/internal/capture/output"
	"github.com/TechnicallyShaun/idea-capture/internal/capture/pidfile"
	"github.com/TechnicallyShaun/idea-capture/internal/capture/pipeline"
	"github.com/TechnicallyShaun/idea-capture/internal/capture/preflight"
	"github.com/TechnicallyShaun/idea-capture/internal/capture/staging"
	"github.com/TechnicallyShaun/idea-capture/internal/capture/transcriber"
	"github.com/TechnicallyShaun/idea-capture/internal/capture/watcher"
)

// ErrPreflightFailed is returned by Run when a startup check fails.
var ErrPreflightFailed = errors.New("preflight failed")

// Service wires both watchers and the pipeline and runs them until stopped.
type Service struct {
	config    *Config
	logger    logging.Logger
	ownLogger bool

	transcriber pipeline.Transcriber
	formatter   pipeline.Formatter
	pipeline    *pipeline.Pipeline
	landing     *landing.Watcher
	staging     *staging.Watcher
	api         *api.Server

	pidPath       string
	skipPreflight bool
}

type serviceOptions struct {
	logger        logging.Logger
	clock         clock.Clock
	transcriber   pipeline.Transcriber
	formatter     pipeline.Formatter
	notifier      pipeline.Notifier
	notifications bool
	skipPreflight bool
}

// Option customizes a Service.
type Option func(*serviceOptions)

// WithLogger uses logger instead of opening the log files.
func WithLogger(logger logging.Logger) Option {
	return func(o *serviceOptions) { o.logger = logger }
}

// WithClock replaces the wall clock used by both watchers.
func WithClock(c clock.Clock) Option {
	return func(o *serviceOptions) { o.clock = c }
}

// WithTranscriber overrides the configured transcriber backend.
func WithTranscriber(t pipeline.Transcriber) Option {
	return func(o *serviceOptions) { o.transcriber = t }
}

// WithFormatter overrides the configured formatter backend.
func WithFormatter(f pipeline.Formatter) Option {
	return func(o *serviceOptions) { o.formatter = f }
}

// WithNotifier overrides the configured notifier.
func WithNotifier(n pipeline.Notifier) Option {
	return func(o *serviceOptions) { o.notifier = n }
}

// WithoutChangeNotifications makes the staging watcher rely on rescans only.
func WithoutChangeNotifications() Option {
	return func(o *serviceOptions) { o.notifications = false }
}

// WithoutPreflight skips the startup checks.
func WithoutPreflight() Option {
	return func(o *serviceOptions) { o.skipPreflight = true }
}

// NewService validates cfg and builds every component.
func NewService(cfg *Config, opts ...Option) (*Service, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	o := serviceOptions{clock: clock.Real(), notifications: true}
	for _, opt := range opts {
		opt(&o)
	}

	s := &Service{
		config:        cfg,
		logger:        o.logger,
		pidPath:       pidfile.Path(cfg.Paths.LogDir),
		skipPreflight: o.skipPreflight,
	}
	if s.logger == nil {
		fl, err := logging.New(logging.Config{
			LogDir:        cfg.Paths.LogDir,
			Level:         cfg.Logging.Level,
			RetentionDays: cfg.Logging.RetentionDays,
			Console:       os.Stdout,
		})
		if err != nil {
			return nil, fmt.Errorf("create logger: %w", err)
		}
		s.logger = fl
		s.ownLogger = true
	}

	s.transcriber = o.transcriber
	if s.transcriber == nil {
		s.transcriber = NewTranscriber(cfg.Transcriber)
	}
	s.formatter = o.formatter
	if s.formatter == nil {
		s.formatter = NewFormatter(cfg.Formatter)
	}
	notifier := o.notifier
	if notifier == nil {
		notifier = notify.New(cfg.Notify.Endpoint, cfg.Notify.Timeout(), cfg.Notify.Tags...)
	}

	s.pipeline = pipeline.New(pipeline.Config{
		Instruction:     cfg.Formatter.Instruction,
		NotifyTitle:     cfg.Notify.Title,
		NotifyOnFailure: cfg.Notify.OnFailure,
	}, s.transcriber, s.formatter, output.NewWriter(cfg.Paths.OutputDir), notifier, s.logger.Named("pipeline"))

	m := mover.New()
	s.landing = landing.New(landing.Config{
		Dir:          cfg.Paths.LandingDir,
		StagingDir:   cfg.Paths.StagingDir,
		Patterns:     cfg.Watch.Patterns,
		PollInterval: cfg.Watch.PollInterval(),
		StableFor:    cfg.Watch.StableDuration(),
	}, m, o.clock, s.logger.Named("landing"))

	var stagingOpts []staging.Option
	if cfg.Paths.ArchiveDir != "" {
		stagingOpts = append(stagingOpts, staging.WithArchiver(archiver.New(cfg.Paths.ArchiveDir, m)))
	}
	if o.notifications {
		stagingOpts = append(stagingOpts, staging.WithNotifier(func() (watcher.FileWatcher, error) {
			return watcher.NewInotifyWatcher()
		}))
	}
	s.staging = staging.New(staging.Config{
		Dir:            cfg.Paths.StagingDir,
		Patterns:       cfg.Watch.Patterns,
		RescanInterval: cfg.Watch.RescanInterval(),
	}, s.pipeline, m, o.clock, s.logger.Named("staging"), stagingOpts...)

	if cfg.API.Bind != "" {
		s.api = api.New(s.landing, s.staging, s.logger.Named("api"))
	}
	return s, nil
}

// NewTranscriber builds the configured speech-to-text backend.
func NewTranscriber(c Transcriber) pipeline.Transcriber {
	if c.Backend == BackendWhisperASR {
		return transcriber.NewWhisperASR(c.APIURL,
			transcriber.WithTimeout(c.Timeout()),
			transcriber.WithASRLanguage(c.Language),
		)
	}
	return transcriber.NewWhisperCLI(c.Executable, c.Model,
		transcriber.WithLanguage(c.Language),
		transcriber.WithThreads(c.Threads),
		transcriber.WithProcessTimeout(c.Timeout()),
	)
}

// NewFormatter builds the configured language-model backend.
func NewFormatter(c Formatter) pipeline.Formatter {
	opts := []formatter.Option{formatter.WithTimeout(c.Timeout())}
	if c.APIKey != "" {
		opts = append(opts, formatter.WithAPIKey(c.APIKey))
	}
	if c.Backend == BackendOpenAI {
		return formatter.NewOpenAI(c.Endpoint, c.Model, opts...)
	}
	return formatter.NewOllama(c.Endpoint, c.Model, opts...)
}

// PreflightChecks describes what must hold before the watchers start.
func (s *Service) PreflightChecks() preflight.Checks {
	cfg := s.config
	checks := preflight.Checks{
		LandingDir:     cfg.Paths.LandingDir,
		StagingDir:     cfg.Paths.StagingDir,
		OutputDir:      cfg.Paths.OutputDir,
		ArchiveDir:     cfg.Paths.ArchiveDir,
		NotifyEndpoint: cfg.Notify.Endpoint,
		ValidateURL:    notify.ValidateEndpoint,
	}
	if cli, ok := s.transcriber.(*transcriber.WhisperCLI); ok {
		checks.Executable = cli.Executable()
		checks.ModelFile = cli.Model()
	}
	if p, ok := s.transcriber.(preflight.Pinger); ok {
		checks.Remotes = append(checks.Remotes, preflight.Remote{Name: "transcriber", Pinger: p})
	}
	if p, ok := s.formatter.(preflight.Pinger); ok {
		checks.Remotes = append(checks.Remotes, preflight.Remote{Name: "formatter", Pinger: p})
	}
	return checks
}

// Preflight runs the startup checks.
func (s *Service) Preflight(ctx context.Context) []preflight.Result {
	return preflight.Run(ctx, s.PreflightChecks())
}

// Landing returns the landing watcher.
func (s *Service) Landing() *landing.Watcher { return s.landing }

// Staging returns the staging watcher.
func (s *Service) Staging() *staging.Watcher { return s.staging }

// Run starts the service and blocks until ctx is cancelled or SIGINT or
// SIGTERM arrives. In-flight runs get the configured grace period to finish.
func (s *Service) Run(ctx context.Context) error {
	defer s.Close()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if !s.skipPreflight {
		results := s.Preflight(ctx)
		for _, r := range results {
			if !r.Passed {
				s.logger.Error("preflight check failed", nil,
					logging.String("check", r.Name),
					logging.String("detail", r.Detail),
				)
			}
		}
		if err := preflight.FirstFailure(results); err != nil {
			return fmt.Errorf("%w: %v", ErrPreflightFailed, err)
		}
	}

	lock, err := pidfile.Acquire(s.pidPath)
	if err != nil {
		return err
	}
	defer func() {
		if err := lock.Release(); err != nil {
			s.logger.Warn("failed to release pid file", logging.String("error", err.Error()))
		}
	}()

	s.logger.Info("service started",
		logging.String("landing_dir", s.config.Paths.LandingDir),
		logging.String("staging_dir", s.config.Paths.StagingDir),
		logging.String("output_dir", s.config.Paths.OutputDir),
		logging.Duration("poll_interval", s.config.Watch.PollInterval()),
		logging.Duration("stable_duration", s.config.Watch.StableDuration()),
		logging.Int("pid", os.Getpid()),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.landing.Run(gctx) })
	g.Go(func() error { return s.staging.Run(gctx) })
	if s.api != nil {
		g.Go(func() error {
			if err := s.api.Serve(gctx, s.config.API.Bind); err != nil {
				return fmt.Errorf("status api: %w", err)
			}
			return nil
		})
	}

	<-gctx.Done()
	s.logger.Info("shutdown requested")
	loopErr := g.Wait()

	if err := s.staging.Shutdown(s.config.Watch.ShutdownGrace()); err != nil {
		s.logger.Warn("shutdown incomplete", logging.String("error", err.Error()))
	}
	s.logger.Info("service stopped")
	return loopErr
}

// Close releases the log files opened by NewService. Run calls it on return.
func (s *Service) Close() error {
	if !s.ownLogger {
		return nil
	}
	s.ownLogger = false
	return s.logger.Close()
}
