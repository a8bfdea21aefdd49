package modules

import (
	"context"
	"fmt"
	"log/slog"

	"go.uber.org/fx"

	"github.com/safesend/safesend/internal/config"
	"github.com/safesend/safesend/internal/pipeline"
	"github.com/safesend/safesend/internal/telegram"
)

var TelegramModule = fx.Module(
	"telegram",
	fx.Invoke(startTelegramBot),
)

func startTelegramBot(lc fx.Lifecycle, logger *slog.Logger, cfg config.Config, svc *pipeline.Service) {
	if !cfg.Telegram.Enabled() {
		logger.Warn("telegram bot token not set; bot disabled")
		return
	}

	var bot *telegram.Bot
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			b, err := telegram.New(logger, cfg.Telegram, cfg.Sanitizer, svc)
			if err != nil {
				return fmt.Errorf("start telegram bot: %w", err)
			}
			bot = b
			// Polling outlives OnStart; its context ends in OnStop.
			bot.Start(context.Background())
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if bot == nil {
				return nil
			}
			return bot.Stop(ctx)
		},
	})
}
