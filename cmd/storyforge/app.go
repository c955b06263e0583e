package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/log/global"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/storyforge/internal/agent"
	"github.com/fyrsmithlabs/storyforge/internal/artifact"
	"github.com/fyrsmithlabs/storyforge/internal/cache"
	"github.com/fyrsmithlabs/storyforge/internal/config"
	"github.com/fyrsmithlabs/storyforge/internal/dispatch"
	"github.com/fyrsmithlabs/storyforge/internal/events"
	"github.com/fyrsmithlabs/storyforge/internal/generation"
	"github.com/fyrsmithlabs/storyforge/internal/llm"
	"github.com/fyrsmithlabs/storyforge/internal/logging"
	"github.com/fyrsmithlabs/storyforge/internal/manifest"
	"github.com/fyrsmithlabs/storyforge/internal/memo"
	"github.com/fyrsmithlabs/storyforge/internal/metrics"
	"github.com/fyrsmithlabs/storyforge/internal/orchestrator"
	"github.com/fyrsmithlabs/storyforge/internal/retry"
	"github.com/fyrsmithlabs/storyforge/internal/secrets"
	"github.com/fyrsmithlabs/storyforge/internal/telemetry"
	"github.com/fyrsmithlabs/storyforge/internal/tool"
)

// app holds the wired pipeline and everything that needs closing.
type app struct {
	cfg    *config.Config
	logger *logging.Logger
	orch   *orchestrator.Orchestrator
	writer *artifact.Writer

	closers []func(context.Context) error
}

// appOptions adjust wiring per command.
type appOptions struct {
	// stdio routes console logs to stderr so stdout stays protocol-clean
	stdio bool
	// outputDir overrides output.dir when set
	outputDir string
	// collaborator replaces the provider client, used by tests
	collaborator llm.Collaborator
}

// loadConfig reads configuration from the --config path.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// newApp wires the pipeline from cfg:
//  1. telemetry and logging
//  2. provider client behind the memoizing cache
//  3. architect, coder and tools
//  4. generation stage, dispatcher and manifest synthesizer
//  5. orchestrator with optional git recording and progress events
func newApp(ctx context.Context, cfg *config.Config, opts appOptions) (_ *app, err error) {
	a := &app{cfg: cfg}
	defer func() {
		if err != nil {
			_ = a.Close(context.Background())
		}
	}()

	tel, err := telemetry.New(ctx, telemetry.FromAppConfig(cfg.Telemetry, version))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	a.closers = append(a.closers, tel.Shutdown)

	a.logger, err = initLogger(cfg, opts.stdio)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	a.closers = append(a.closers, func(context.Context) error {
		_ = a.logger.Sync() // Best-effort sync on shutdown
		return nil
	})
	if h := tel.Health(); h.Degraded {
		a.logger.Warn(ctx, "telemetry degraded", zap.String("reason", h.Reason))
	}

	collaborator := opts.collaborator
	if collaborator == nil {
		client, err := llm.New(llm.Config{
			Backend:      cfg.Provider.Backend,
			URL:          cfg.Provider.URL,
			APIKey:       cfg.Provider.APIKey.Value(),
			DefaultModel: cfg.Provider.CodingModel,
			RateLimit:    cfg.Provider.RateLimit,
			Burst:        cfg.Provider.Burst,
		}, a.logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create llm client: %w", err)
		}
		collaborator = client
	}

	store, err := cache.New(cache.Config{
		Backend: cfg.Cache.Backend,
		Dir:     cfg.Cache.Dir,
		Path:    cfg.Cache.Path,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open cache: %w", err)
	}
	a.closers = append(a.closers, func(context.Context) error { return store.Close() })

	memoizer := memo.New(store, cfg.Orchestrator.CacheTTL.Duration(), a.logger)
	cached := memo.NewCachingCollaborator(collaborator,
		cfg.Provider.Backend+"@"+cfg.Provider.URL, memoizer)

	invoker := retry.NewInvoker(cfg.Orchestrator.MaxRetries, cfg.Orchestrator.RetryBackoff.Duration(), a.logger)
	invoker.OnRetry = func(key string, _ int) {
		metrics.RecordRetry(retryStage(key))
	}

	outputDir := cfg.Output.Dir
	if opts.outputDir != "" {
		outputDir = opts.outputDir
	}
	a.writer = artifact.NewWriter(outputDir, a.logger)

	architect := agent.NewArchitect(cached, invoker, agent.ArchitectConfig{
		AnalysisModel: cfg.Provider.AnalysisModel,
		PlanningModel: cfg.Provider.PlanningModel,
	}, a.logger)
	coder := agent.NewCoder(cached, cfg.Provider.CodingModel, a.logger)

	tools, err := initTools(cfg, a.writer, a.logger)
	if err != nil {
		return nil, err
	}

	sink, err := initSecretGuard(cfg, a.writer, a.logger)
	if err != nil {
		return nil, err
	}

	stage := generation.New(coder, architect, tools, sink,
		generation.Config{MaxRounds: cfg.Orchestrator.MaxRounds}, a.logger)
	dispatcher := dispatch.New(stage, dispatch.Config{
		FileTimeout:    cfg.Orchestrator.FileTimeout.Duration(),
		MaxConcurrency: cfg.Orchestrator.MaxConcurrency,
	}, a.logger)

	pattern, err := manifest.CompileReferencePattern(cfg.Orchestrator.ReferencePattern)
	if err != nil {
		return nil, fmt.Errorf("invalid reference pattern: %w", err)
	}
	synth := manifest.NewSynthesizer(coder, a.writer, pattern, a.logger)

	var orchOpts []orchestrator.Option
	if cfg.Output.GitCommit {
		orchOpts = append(orchOpts, orchestrator.WithRecorder(
			artifact.NewGitRecorder(outputDir, cfg.Output.GitAuthor, a.logger)))
	}
	a.orch = orchestrator.New(architect, dispatcher, synth, a.writer, a.logger, orchOpts...)

	if cfg.Events.Enabled {
		pub, err := events.Connect(cfg.Events.NATSURL, cfg.Events.SubjectPrefix, a.logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize events: %w", err)
		}
		a.orch.OnProgress(pub.Callback())
		a.closers = append(a.closers, func(context.Context) error { return pub.Close() })
	}

	a.logger.Info(ctx, "pipeline initialized",
		zap.String("backend", cfg.Provider.Backend),
		zap.String("cache", cfg.Cache.Backend),
		zap.String("output_dir", outputDir),
		zap.Strings("tools", tools.Names()),
		zap.Bool("events", cfg.Events.Enabled),
		zap.String("secrets", cfg.Output.Secrets),
		zap.Bool("git_commit", cfg.Output.GitCommit))

	return a, nil
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// initSecretGuard puts the gitleaks scan in front of the source writer.
func initSecretGuard(cfg *config.Config, w *artifact.Writer, logger *logging.Logger) (*secrets.Guard, error) {
	mode, err := secrets.ParseMode(cfg.Output.Secrets)
	if err != nil {
		return nil, err
	}
	if mode == secrets.ModeOff {
		return secrets.NewGuard(w, nil, mode, logger), nil
	}
	allow, err := secrets.LoadAllowlist(cfg.Output.SecretsAllowlist)
	if err != nil {
		return nil, fmt.Errorf("failed to load secrets allowlist: %w", err)
	}
	scanner, err := secrets.NewScanner(allow)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize secret scanner: %w", err)
	}
	return secrets.NewGuard(w, scanner, mode, logger), nil
}

func initLogger(cfg *config.Config, stdio bool) (*logging.Logger, error) {
	lcfg, err := logging.FromAppConfig(cfg.Logging)
	if err != nil {
		return nil, err
	}
	lcfg.Output.Stderr = stdio
	lcfg.Fields = map[string]string{"service": "storyforge", "version": version}
	return logging.NewLogger(lcfg, global.GetLoggerProvider())
}

func initTools(cfg *config.Config, assets tool.AssetWriter, logger *logging.Logger) (*tool.Registry, error) {
	var tools []tool.Tool
	if cfg.Tools.StableDiffusionEnabled {
		tools = append(tools, tool.NewStableDiffusion(tool.StableDiffusionConfig{
			URL:    cfg.Tools.StableDiffusionURL,
			Steps:  cfg.Tools.StableDiffusionSteps,
			Width:  cfg.Tools.StableDiffusionWidth,
			Height: cfg.Tools.StableDiffusionHeight,
		}, assets, logger))
	}
	registry, err := tool.NewRegistry(tools...)
	if err != nil {
		return nil, fmt.Errorf("failed to register tools: %w", err)
	}
	return registry, nil
}

// retryStage turns a budget key such as "analysis:<task id>" into its
// metric label.
func retryStage(key string) string {
	if stage, _, ok := strings.Cut(key, ":"); ok && stage != "" {
		return stage
	}
	return "other"
}
