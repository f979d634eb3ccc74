package mender

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/colonyops/mender/internal/core/config"
	"github.com/colonyops/mender/internal/core/git"
	"github.com/colonyops/mender/internal/core/llm"
	"github.com/colonyops/mender/internal/core/llm/gemini"
	"github.com/colonyops/mender/internal/core/llm/openai"
	"github.com/colonyops/mender/internal/core/llm/replay"
	"github.com/colonyops/mender/internal/core/logging"
	"github.com/colonyops/mender/internal/core/patch"
	"github.com/colonyops/mender/internal/core/prompt"
	"github.com/colonyops/mender/internal/core/resolve"
	"github.com/colonyops/mender/internal/core/session"
	"github.com/colonyops/mender/internal/core/validate"
	"github.com/colonyops/mender/internal/repair"
)

// ProviderFactory creates a model provider.
type ProviderFactory func(ctx context.Context) (llm.Provider, error)

// RepairServiceOptions configures a RepairService.
type RepairServiceOptions struct {
	Config  *config.Config
	TurnLog session.TurnLog
	Stores  []session.Store
	Git     git.Git
	Logger  zerolog.Logger
	// Providers overrides the provider built from Config.
	Providers ProviderFactory
	// NewID defaults to validate.NewSessionID.
	NewID func() string
}

// RepairService runs repair sessions against the configured provider.
type RepairService struct {
	cfg       *config.Config
	machine   *repair.Machine
	system    string
	turnLog   session.TurnLog
	stores    []session.Store
	git       git.Git
	log       zerolog.Logger
	providers ProviderFactory
	newID     func() string

	// shared is the rate limited provider reused by every session.
	// Replay providers hold a script and are never shared.
	sharedOnce sync.Once
	shared     llm.Provider
	sharedErr  error
}

// NewRepairService builds the controller from configuration.
func NewRepairService(opts RepairServiceOptions) (*RepairService, error) {
	cfg := opts.Config

	prompts, err := prompt.New(prompt.Options{Dir: cfg.Prompts.Dir, System: cfg.Prompts.System})
	if err != nil {
		return nil, fmt.Errorf("load prompts: %w", err)
	}

	var verifier patch.Verifier
	if cfg.Patch.VerifyCommand != "" {
		verifier = patch.CommandVerifier{
			Command: cfg.Patch.VerifyCommand,
			Timeout: cfg.Patch.VerifyTimeout,
			Limit:   cfg.Patch.VerifyOutputLimit,
		}
	}

	machine := repair.NewMachine(repair.Options{
		Resolver:    resolve.New(cfg.ResolverOptions(), logging.Sub(opts.Logger, "resolve")),
		Applier:     patch.New(logging.Sub(opts.Logger, "patch")),
		Prompts:     prompts,
		Permissions: cfg.PermissionTable(),
		Verifier:    verifier,
		Pricing:     cfg.Pricing,
		Logger:      logging.Sub(opts.Logger, "machine"),
	})

	svc := &RepairService{
		cfg:       cfg,
		machine:   machine,
		system:    prompts.System(),
		turnLog:   opts.TurnLog,
		stores:    opts.Stores,
		git:       opts.Git,
		log:       logging.Sub(opts.Logger, "runner"),
		providers: opts.Providers,
		newID:     opts.NewID,
	}
	if svc.providers == nil {
		svc.providers = func(ctx context.Context) (llm.Provider, error) {
			return NewProvider(ctx, cfg)
		}
	}
	if svc.newID == nil {
		svc.newID = validate.NewSessionID
	}
	return svc, nil
}

// NewProvider builds the provider selected by cfg, rate limited when
// configured.
func NewProvider(ctx context.Context, cfg *config.Config) (llm.Provider, error) {
	p := cfg.Provider

	var (
		provider llm.Provider
		err      error
	)
	switch p.Name {
	case config.ProviderOpenAI:
		provider, err = openai.New(openai.Options{
			Model:       p.Model,
			APIKey:      cfg.APIKey(),
			BaseURL:     p.BaseURL,
			Temperature: p.Temperature,
			MaxTokens:   p.MaxTokens,
		})
	case config.ProviderGemini:
		provider, err = gemini.New(ctx, gemini.Options{
			Model:       p.Model,
			APIKey:      cfg.APIKey(),
			BaseURL:     p.BaseURL,
			Temperature: p.Temperature,
			MaxTokens:   p.MaxTokens,
		})
	case config.ProviderReplay:
		provider, err = replay.Load(p.Model, p.ReplayPath)
	default:
		err = fmt.Errorf("unknown provider %q", p.Name)
	}
	if err != nil {
		return nil, err
	}

	return llm.WithRateLimit(provider, p.RequestsPerMinute), nil
}

func (s *RepairService) provider(ctx context.Context) (llm.Provider, error) {
	if s.cfg.Provider.Name == config.ProviderReplay {
		return s.providers(ctx)
	}
	s.sharedOnce.Do(func() {
		s.shared, s.sharedErr = s.providers(ctx)
	})
	return s.shared, s.sharedErr
}

func (s *RepairService) runner(ctx context.Context) (*repair.Runner, error) {
	p, err := s.provider(ctx)
	if err != nil {
		return nil, fmt.Errorf("create provider: %w", err)
	}

	return repair.NewRunner(repair.RunnerOptions{
		Machine:       s.machine,
		Provider:      p,
		System:        s.system,
		Timeout:       s.cfg.Provider.Timeout,
		HistoryTokens: s.cfg.Session.MaxHistoryTokens,
		TurnLog:       s.turnLog,
		Stores:        s.stores,
		Git:           s.git,
		Logger:        s.log,
	}), nil
}

// Run repairs a single project and returns the session report.
func (s *RepairService) Run(ctx context.Context, item repair.Item) (*session.Report, error) {
	r, err := s.runner(ctx)
	if err != nil {
		return nil, err
	}

	sess := session.New(s.newID(), item.Name, item.ProjectRoot, s.cfg.Limits(), time.Now())
	sess.ContextDir = item.ContextDir

	return r.Run(ctx, sess)
}

// Batch repairs every item, running up to parallel sessions at once. A
// parallel value below 1 uses the configured default.
func (s *RepairService) Batch(ctx context.Context, items []repair.Item, parallel int) []repair.Result {
	if parallel < 1 {
		parallel = s.cfg.Batch.Parallel
	}

	b := &repair.Batch{
		NewRunner: func(repair.Item) (*repair.Runner, error) {
			return s.runner(ctx)
		},
		Limits:   s.cfg.Limits(),
		Parallel: parallel,
		NewID:    s.newID,
	}
	return b.Run(ctx, items)
}
