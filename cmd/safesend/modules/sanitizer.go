package modules

import (
	"context"
	"log/slog"

	"github.com/spf13/afero"
	"go.uber.org/fx"

	"github.com/safesend/safesend/internal/config"
	"github.com/safesend/safesend/internal/media"
	"github.com/safesend/safesend/internal/pipeline"
	"github.com/safesend/safesend/internal/validate"
	"github.com/safesend/safesend/internal/workspace"
)

var SanitizerModule = fx.Module(
	"sanitizer",
	fx.Provide(
		provideValidator,
		fx.Annotate(provideFFmpeg, fx.As(new(media.Encoder))),
		provideRemover,
		providePipeline,
	),
	fx.Invoke(probeFFmpeg),
)

func provideValidator(log *slog.Logger, fsys afero.Fs, cfg config.Config) *validate.Validator {
	return validate.New(log, fsys, cfg.Sanitizer)
}

func provideFFmpeg(log *slog.Logger, cfg config.Config) *media.FFmpeg {
	return media.NewFFmpeg(log, cfg.Sanitizer.FFmpegPath)
}

func provideRemover(log *slog.Logger, v *validate.Validator, fsys afero.Fs, enc media.Encoder, cfg config.Config) *media.Remover {
	return media.NewRemover(log, v, fsys, enc, cfg.Sanitizer)
}

func providePipeline(log *slog.Logger, ws *workspace.Workspace, rm *media.Remover, cfg config.Config) *pipeline.Service {
	return pipeline.NewService(log, ws, rm, cfg.Pipeline)
}

// probeFFmpeg reports a missing encoder at startup. Videos are still accepted
// and fail per request, so images keep working.
func probeFFmpeg(lc fx.Lifecycle, log *slog.Logger, enc media.Encoder, cfg config.Config) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			probeCtx, cancel := context.WithTimeout(ctx, cfg.Sanitizer.ProbeTimeout())
			defer cancel()
			if err := enc.Probe(probeCtx); err != nil {
				log.Warn("ffmpeg unavailable; video sanitization will fail", slog.Any("error", err))
			}
			return nil
		},
	})
}
