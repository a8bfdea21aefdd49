package main

import (
	"log/slog"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/safesend/safesend/cmd/safesend/modules"
)

func main() {
	// .env is optional; real environment variables win.
	_ = godotenv.Load()

	fx.New(
		modules.InfraModule,
		modules.SanitizerModule,
		modules.ServerModule,
		modules.TelegramModule,
		fx.WithLogger(func(logger *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: logger.With(slog.String("component", "fx"))}
		}),
	).Run()
}
