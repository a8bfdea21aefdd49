package media

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/safesend/safesend/internal/outcome"
	"github.com/safesend/safesend/internal/validate"
)

const stderrLogLimit = 4096

// RemoveVideoMetadata re-encodes input into output through the external
// encoder with all metadata and chapters stripped.
//
// Only existence and size are checked here; the extension pre-filter is the
// caller's job. The encoder is probed first so a missing tool is reported as
// ToolUnavailable rather than a processing failure. A timeout kills the
// process and is final for this request.
func (r *Remover) RemoveVideoMetadata(ctx context.Context, input, output string) (res outcome.Result) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("video processing panicked", slog.Any("panic", p))
			res = outcome.Fail(outcome.KindProcessingFailed, "Failed to process video")
		}
	}()

	res = validate.Chain(
		func() outcome.Result { return r.validator.FileExists(input) },
		func() outcome.Result { return r.validator.FileSize(input, 0) },
	)
	if !res.OK() {
		return res
	}
	if r.encoder == nil {
		return outcome.Fail(outcome.KindToolUnavailable, "ffmpeg is not installed or not accessible")
	}

	probeCtx, cancel := context.WithTimeout(ctx, r.cfg.ProbeTimeout())
	err := r.encoder.Probe(probeCtx)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			return canceled(ctx.Err())
		}
		r.logger.Error("ffmpeg unavailable", slog.Any("error", err))
		return outcome.Fail(outcome.KindToolUnavailable, "ffmpeg is not installed or not accessible")
	}

	timeout := r.cfg.VideoTimeout()
	started := time.Now()
	result, err := r.encoder.Encode(ctx, EncodeRequest{
		Input:   input,
		Output:  output,
		Preset:  r.cfg.VideoPreset,
		CRF:     r.cfg.VideoCRF,
		Timeout: timeout,
	})
	switch {
	case errors.Is(err, ErrEncodeTimeout):
		r.logger.Error("ffmpeg processing timeout", slog.Duration("timeout", timeout))
		return outcome.Failf(outcome.KindTimeout, "Video processing timeout (%s). Try a shorter video.", formatSeconds(timeout))
	case err != nil && ctx.Err() != nil:
		return canceled(ctx.Err())
	case err != nil:
		r.logger.Error("error running ffmpeg", slog.Any("error", err))
		return outcome.Fail(outcome.KindProcessingFailed, "Video processing failed")
	}

	if result.ExitCode != 0 {
		r.logger.Error("ffmpeg error",
			slog.Int("exit_code", result.ExitCode),
			slog.String("stderr", truncate(result.Stderr, stderrLogLimit)))
		return outcome.Fail(outcome.KindProcessingFailed, "Video processing failed")
	}

	if !r.outputCreated(output) {
		return outcome.Fail(outcome.KindOutputNotCreated, "Output video was not created properly")
	}
	r.logger.Info("successfully removed metadata from video", slog.Duration("elapsed", time.Since(started)))
	return outcome.OK()
}

func formatSeconds(d time.Duration) string {
	return fmt.Sprintf("%ds", int(d.Seconds()))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "...(truncated)"
}
