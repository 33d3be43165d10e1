package commands

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/openfroyo/targetd/pkg/automaton"
	"github.com/openfroyo/targetd/pkg/config"
	"github.com/openfroyo/targetd/pkg/driver"
	"github.com/openfroyo/targetd/pkg/executor"
	"github.com/openfroyo/targetd/pkg/policy"
	"github.com/openfroyo/targetd/pkg/protocol"
	"github.com/openfroyo/targetd/pkg/store"
	"github.com/openfroyo/targetd/pkg/telemetry"
)

func newServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the targetd server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
	return cmd
}

func runServe(ctx context.Context) error {
	if configPath == "" {
		return fmt.Errorf("--config is required")
	}

	profile, err := config.Load(configPath, profileName)
	if err != nil {
		return fmt.Errorf("load profile: %w", err)
	}

	tel, err := buildTelemetry(profile)
	if err != nil {
		return fmt.Errorf("build telemetry: %w", err)
	}
	logger := tel.Logger.Raw()

	st, err := store.Open(store.Config{
		Path:         profile.Database.Path,
		MaxOpenConns: profile.Database.MaxOpenConns,
		MaxIdleConns: profile.Database.MaxIdleConns,
	}, logger)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	exec, err := buildExecutor(ctx, profile, logger)
	if err != nil {
		return fmt.Errorf("build executor: %w", err)
	}

	drv := driver.New(st, exec, driver.Config{
		EngineStepBatchSize:      profile.Concurrency.EngineStepBatchSize,
		ConcurrentAutomatonSteps: profile.Concurrency.ConcurrentAutomatonSteps,
		HostTimeoutUpperBound:    profile.Concurrency.HostTimeoutUpperBound.Value(),
		OrphanKillingWait:        profile.Concurrency.OrphanKillingWait.Value(),
		Policy: automaton.Policy{
			MaximumSuccessiveAttempts:           profile.FailurePolicy.MaximumSuccessiveAttempts,
			TurnUnixSSHFailureIntoTargetFailure: profile.FailurePolicy.TurnUnixSSHFailureIntoTargetFailure,
		},
	}, logger, tel.Metrics)

	var admission protocol.AdmissionPolicy
	if profile.AdmissionPolicyBundlePath != "" {
		eng, err := policy.NewEngine(logger, true)
		if err != nil {
			return fmt.Errorf("build policy engine: %w", err)
		}
		if err := eng.LoadPolicies(ctx, []string{profile.AdmissionPolicyBundlePath}); err != nil {
			return fmt.Errorf("load admission policy bundle: %w", err)
		}
		admission = eng
	}

	srv := protocol.New(protocolConfig(profile), st, drv, admission, tel.Metrics, logger)

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return drv.Run(gCtx)
	})
	g.Go(func() error {
		return srv.ListenAndServe(gCtx)
	})

	if !profile.ReadOnly {
		watcher := config.NewWatcher(configPath, profile.Name, logger, func(p *config.Profile) error {
			log.Warn().Msg("profile changed on disk; restart targetd to apply concurrency/listen/database changes (only informational for now)")
			return nil
		})
		stop := make(chan struct{})
		defer close(stop)
		if err := watcher.Start(stop); err != nil {
			logger.Warn().Err(err).Msg("failed to start config watcher, continuing without hot reload")
		}
	}

	logger.Info().
		Str("profile", profile.Name).
		Str("listen", profile.Listen.Address).
		Msg("targetd started")

	return g.Wait()
}

func buildTelemetry(profile *config.Profile) (*telemetry.Telemetry, error) {
	cfg := telemetry.DefaultConfig()
	cfg.ServiceName = "targetd"
	if profile.Telemetry.LogLevel != "" {
		cfg.Logging.Level = profile.Telemetry.LogLevel
	}
	if profile.Telemetry.LogFormat != "" {
		cfg.Logging.Format = profile.Telemetry.LogFormat
	}
	if profile.Telemetry.OTLPEndpoint != "" {
		cfg.Tracing.Exporter = "otlp"
		cfg.Tracing.Endpoint = profile.Telemetry.OTLPEndpoint
	}
	return telemetry.NewTelemetry(cfg)
}

func buildExecutor(ctx context.Context, profile *config.Profile, logger zerolog.Logger) (*executor.Router, error) {
	sshExec := executor.NewSSHExecutor(executor.SSHConfig{
		User:                  profile.SSH.User,
		Port:                  profile.SSH.Port,
		PrivateKeyPath:        profile.SSH.PrivateKeyPath,
		KnownHostsPath:        profile.SSH.KnownHostsPath,
		StrictHostKeyChecking: profile.SSH.StrictHostKeyChecking,
		ConnectTimeout:        profile.SSH.ConnectTimeout.Value(),
	}, logger)

	pluginSource := func(name string) ([]byte, error) {
		return nil, fmt.Errorf("no plugin source configured for %q; wire a bundle directory or OCI puller before enabling long_running targets", name)
	}
	wasmExec, err := executor.NewWASMExecutor(ctx, pluginSource, logger)
	if err != nil {
		return nil, fmt.Errorf("build wasm executor: %w", err)
	}

	return &executor.Router{
		SSH:   sshExec,
		WASM:  wasmExec,
		Local: executor.NewLocalExecutor(),
	}, nil
}

func protocolConfig(profile *config.Profile) protocol.Config {
	cfg := protocol.Config{
		ListenAddress:   profile.Listen.Address,
		ReadOnly:        profile.ReadOnly,
		MaxBlockingTime: profile.MaxBlockingTime.Value(),
		Database:        profile.Database.Path,
	}
	if profile.Listen.TLS != nil {
		cfg.TLSCertFile = profile.Listen.TLS.CertFile
		cfg.TLSKeyFile = profile.Listen.TLS.KeyFile
	}
	for _, t := range profile.Tokens {
		cfg.Tokens = append(cfg.Tokens, protocol.Token{Name: t.Name, Secret: t.Secret})
	}
	return cfg
}
