package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/harun/briefing/internal/config"
	"github.com/harun/briefing/internal/logger"
	"github.com/harun/briefing/internal/observability"
	"github.com/harun/briefing/internal/tracing"
	"github.com/harun/briefing/pkg/agent"
	"github.com/harun/briefing/pkg/commandqueue"
	"github.com/harun/briefing/pkg/coretools"
	"github.com/harun/briefing/pkg/gateway"
	"github.com/harun/briefing/pkg/session"
	"github.com/harun/briefing/pkg/toolexecutor"
	"github.com/spf13/cobra"
)

// loadConfig reads the config file and applies the --log-level flag.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if f := cmd.Flags().Lookup("log-level"); f != nil && f.Changed {
		cfg.Logging.Level = logLevel
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) (*logger.Logger, error) {
	return logger.New(logger.Config{
		Level:     cfg.Logging.Level,
		File:      cfg.Logging.File,
		Console:   cfg.Logging.Console,
		Pretty:    cfg.Logging.Pretty,
		Redaction: cfg.Logging.Redaction,
	})
}

// toolkit is the sealed tool set with the resources it owns.
type toolkit struct {
	executor *toolexecutor.Executor
	closers  []func() error
}

func (t *toolkit) Close() {
	for i := len(t.closers) - 1; i >= 0; i-- {
		_ = t.closers[i]()
	}
}

// buildTools constructs every tool from cfg and seals the registry.
func buildTools(ctx context.Context, cfg *config.Config, log *logger.Logger) (*toolkit, error) {
	kit := &toolkit{}

	table := coretools.DefaultChangelog()
	if cfg.Tools.ChangelogFile != "" {
		t, err := coretools.LoadChangelogFile(cfg.Tools.ChangelogFile)
		if err != nil {
			return nil, err
		}
		table = t
	}

	news := coretools.NewNewsClient(cfg.Tools.News.BaseURL, cfg.Tools.News.APIKey,
		coretools.WithNewsLogger(log.Component("news")))

	var extractor coretools.Extractor
	switch cfg.Tools.Extraction.Backend {
	case "browser":
		b := coretools.NewBrowserExtractor(cfg.Tools.Extraction.Browser.ControlURL,
			time.Duration(cfg.Tools.Extraction.Browser.TimeoutSeconds)*time.Second)
		kit.closers = append(kit.closers, b.Close)
		extractor = b
	default:
		extractor = coretools.NewProxyExtractor(cfg.Tools.Extraction.ProxyBaseURL, nil)
	}

	if cfg.Tools.Cache.Enabled {
		var cache coretools.ContentCache
		if cfg.Tools.Cache.RedisURL != "" {
			rc, err := coretools.NewRedisCache(ctx, cfg.Tools.Cache.RedisURL)
			if err != nil {
				kit.Close()
				return nil, err
			}
			kit.closers = append(kit.closers, rc.Close)
			cache = rc
		} else {
			cache = coretools.NewMemoryCache()
		}
		extractor = coretools.NewCachedExtractor(extractor, cache,
			time.Duration(cfg.Tools.Cache.TTLSeconds)*time.Second)
	}

	reg := toolexecutor.NewRegistry()
	if err := coretools.Register(reg, coretools.Deps{
		Changelog:    table,
		WeatherDelay: time.Duration(cfg.Tools.WeatherDelayMs) * time.Millisecond,
		News:         news,
		Extractor:    extractor,
	}); err != nil {
		kit.Close()
		return nil, fmt.Errorf("failed to register tools: %w", err)
	}

	kit.executor = toolexecutor.New(reg,
		toolexecutor.WithPolicy(toolexecutor.NewToolPolicy(cfg.Tools.Allow, cfg.Tools.Deny)),
		toolexecutor.WithDefaultTimeout(time.Duration(cfg.Tools.TimeoutSeconds)*time.Second),
		toolexecutor.WithLogger(log.Component("tools")),
	)
	return kit, nil
}

// service is everything `serve` runs.
type service struct {
	log      *logger.Logger
	tools    *toolkit
	queue    *commandqueue.CommandQueue
	sessions *session.SessionManager
	cleanup  *session.Cleanup
	runner   *agent.Runner
	server   *gateway.Server
}

func newService(ctx context.Context, cfg *config.Config, log *logger.Logger) (*service, error) {
	svc := &service{log: log}

	tools, err := buildTools(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	svc.tools = tools

	svc.sessions, err = session.New(cfg.Sessions.Dir)
	if err != nil {
		tools.Close()
		return nil, fmt.Errorf("failed to open sessions: %w", err)
	}
	svc.cleanup = session.NewCleanup(svc.sessions,
		time.Duration(cfg.Sessions.RetentionDays)*24*time.Hour, cfg.Sessions.CleanupSchedule)

	svc.queue = commandqueue.New()

	svc.runner, err = agent.NewRunner(agent.Config{
		Executor:     tools.executor,
		CommandQueue: svc.queue,
		Sessions:     svc.sessions,
		Profiles:     authProfiles(cfg.AI.Profiles),
		Logger:       log.Component("agent"),
		Options: agent.Options{
			DefaultModel: cfg.AI.DefaultModel,
			SystemPrompt: cfg.AI.SystemPrompt,
			Temperature:  cfg.AI.Temperature,
			MaxTokens:    cfg.AI.MaxTokens,
			MaxRetries:   cfg.AI.MaxRetries,
			Cooldown:     time.Duration(cfg.AI.CooldownSeconds) * time.Second,
		},
	})
	if err != nil {
		svc.close()
		return nil, err
	}

	svc.server, err = gateway.NewServer(gateway.Config{
		Host:         cfg.Server.Host,
		Port:         cfg.Server.Port,
		SharedSecret: cfg.Server.SharedSecret,
		Heartbeat:    time.Duration(cfg.Server.HeartbeatSeconds) * time.Second,
		Runner:       svc.runner,
		Executor:     tools.executor,
		Logger:       log.Component("gateway"),
	})
	if err != nil {
		svc.close()
		return nil, err
	}
	return svc, nil
}

func (s *service) start() error {
	if err := s.cleanup.Start(); err != nil {
		return err
	}
	return s.server.Start()
}

// shutdown stops accepting work, drains streams until ctx expires and
// releases every resource.
func (s *service) shutdown(ctx context.Context) error {
	err := s.server.Stop(ctx)
	if !s.queue.WaitForActive(5 * time.Second) {
		s.log.Warn().Msg("Timed out waiting for running invocations")
	}
	s.close()
	return err
}

func (s *service) close() {
	if s.cleanup != nil && s.cleanup.IsRunning() {
		_ = s.cleanup.Stop()
	}
	if s.queue != nil {
		_ = s.queue.Close()
	}
	s.tools.Close()
}

func authProfiles(in []config.AIProfile) []agent.AuthProfile {
	out := make([]agent.AuthProfile, 0, len(in))
	for _, p := range in {
		out = append(out, agent.AuthProfile{
			ID:       p.ID,
			Provider: p.Provider,
			APIKey:   p.APIKey,
			BaseURL:  p.BaseURL,
			Priority: p.Priority,
		})
	}
	return out
}

// initTelemetry starts tracing and the audit log for a serving process. The
// returned func flushes both.
func initTelemetry(cfg *config.Config) (func(context.Context), error) {
	shutdownTracing, err := tracing.Setup(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: cfg.Tracing.ServiceName,
		SampleRatio: cfg.Tracing.SampleRatio,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to init tracing: %w", err)
	}
	if cfg.Logging.AuditFile != "" {
		if err := observability.InitAuditLogger(cfg.Logging.AuditFile); err != nil {
			_ = shutdownTracing(context.Background())
			return nil, fmt.Errorf("failed to open audit log: %w", err)
		}
	}
	return func(ctx context.Context) {
		_ = shutdownTracing(ctx)
		_ = observability.GetAuditLogger().Close()
	}, nil
}
