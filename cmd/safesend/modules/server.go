package modules

import (
	"context"
	"fmt"
	"log/slog"

	"go.uber.org/fx"

	"github.com/safesend/safesend/internal/config"
	"github.com/safesend/safesend/internal/handlers"
	"github.com/safesend/safesend/internal/media"
	"github.com/safesend/safesend/internal/pipeline"
	"github.com/safesend/safesend/internal/server"
	"github.com/safesend/safesend/internal/version"
)

var ServerModule = fx.Module(
	"server",
	fx.Provide(
		provideServerHandler(providePingHandler),
		provideServerHandler(provideSanitizeHandler),
		provideServer,
	),
	fx.Invoke(startServer),
)

// ---------------------------------------------------------------------------
// server
// ---------------------------------------------------------------------------

func provideServerHandler(fn any) any {
	return fx.Annotate(
		fn,
		fx.As(new(server.Handler)),
		fx.ResultTags(`group:"server_handlers"`),
	)
}

func providePingHandler(log *slog.Logger, enc media.Encoder) *handlers.PingHandler {
	return handlers.NewPingHandler(log, enc.Probe)
}

func provideSanitizeHandler(log *slog.Logger, svc *pipeline.Service) *handlers.SanitizeHandler {
	return handlers.NewSanitizeHandler(log, svc)
}

type serverParams struct {
	fx.In

	Logger         *slog.Logger
	Config         config.Config
	ServerHandlers []server.Handler `group:"server_handlers"`
}

func provideServer(params serverParams) *server.Server {
	return server.NewServer(params.Logger, params.Config.Server.Addr, params.Config.Server.JWTSecret, params.ServerHandlers...)
}

func startServer(lc fx.Lifecycle, logger *slog.Logger, srv *server.Server, shutdowner fx.Shutdowner, cfg config.Config) {
	if !cfg.Server.Enabled {
		logger.Info("http server disabled")
		return
	}
	fmt.Printf("Starting SafeSend %s\n", version.GetInfo())
	if cfg.Server.JWTSecret == "" {
		logger.Warn("http server has no jwt_secret; uploads are unauthenticated")
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("server failed", slog.Any("error", err))
					_ = shutdowner.Shutdown()
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if err := srv.Stop(ctx); err != nil {
				return fmt.Errorf("server stop: %w", err)
			}
			return nil
		},
	})
}
