package modules

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/afero"
	"go.uber.org/fx"

	"github.com/safesend/safesend/internal/config"
	"github.com/safesend/safesend/internal/logger"
	"github.com/safesend/safesend/internal/workspace"
)

var InfraModule = fx.Module(
	"infra",
	fx.Provide(
		provideConfig,
		provideLogger,
		provideFs,
		provideWorkspace,
		provideSweeper,
	),
	fx.Invoke(startSweeper),
)

// ---------------------------------------------------------------------------
// infrastructure providers
// ---------------------------------------------------------------------------

func provideConfig() (config.Config, error) {
	cfgPath := os.Getenv("CONFIG_PATH")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func provideLogger(cfg config.Config) *slog.Logger {
	logger.Init(cfg.Log.Level, cfg.Log.Format)
	return logger.L
}

// The encoder process reads and writes real paths, so the workspace must live
// on the OS filesystem.
func provideFs() afero.Fs {
	return afero.NewOsFs()
}

func provideWorkspace(lc fx.Lifecycle, log *slog.Logger, fsys afero.Fs, cfg config.Config) (*workspace.Workspace, error) {
	ws, err := workspace.New(log, fsys, workspace.OptionsFromConfig(cfg.Workspace, cfg.Sanitizer))
	if err != nil {
		return nil, fmt.Errorf("init workspace: %w", err)
	}
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return ws.Close()
		},
	})
	return ws, nil
}

func provideSweeper(log *slog.Logger, ws *workspace.Workspace, cfg config.Config) (*workspace.Sweeper, error) {
	maxAge, err := cfg.Workspace.ArtifactAge()
	if err != nil {
		return nil, err
	}
	if maxAge <= 0 || cfg.Workspace.SweepSchedule == "" {
		log.Info("stale artifact sweeper disabled")
		return nil, nil
	}
	return workspace.NewSweeper(log, ws, cfg.Workspace.SweepSchedule, maxAge)
}

func startSweeper(lc fx.Lifecycle, sweeper *workspace.Sweeper) {
	if sweeper == nil {
		return
	}
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			sweeper.Start()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return sweeper.Stop(ctx)
		},
	})
}
