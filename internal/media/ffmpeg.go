package media

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"time"

	execute "github.com/alexellis/go-execute/v2"
)

// ErrEncodeTimeout is returned by Encoder.Encode when the request's own
// timeout elapsed and the process was killed.
var ErrEncodeTimeout = errors.New("encode timed out")

// EncodeRequest is the invocation contract for the external re-encode tool.
type EncodeRequest struct {
	Input   string
	Output  string
	Preset  string
	CRF     int
	Timeout time.Duration
}

// EncodeResult carries the tool's exit code and captured diagnostics.
type EncodeResult struct {
	ExitCode int
	Stderr   string
}

// Encoder is any tool that can strip all metadata and chapters, mux
// deterministically, honour preset/CRF quality control and fast-start the
// output. Implementations must kill the process when ctx or the request
// timeout expires.
type Encoder interface {
	Probe(ctx context.Context) error
	Encode(ctx context.Context, req EncodeRequest) (EncodeResult, error)
}

// FFmpeg runs the ffmpeg binary synchronously.
type FFmpeg struct {
	path   string
	logger *slog.Logger
}

// NewFFmpeg creates an encoder for the binary at path ("ffmpeg" resolves via PATH).
func NewFFmpeg(log *slog.Logger, path string) *FFmpeg {
	if log == nil {
		log = slog.Default()
	}
	if strings.TrimSpace(path) == "" {
		path = "ffmpeg"
	}
	return &FFmpeg{
		path:   path,
		logger: log.With(slog.String("component", "ffmpeg")),
	}
}

// Probe runs "ffmpeg -version" and fails if the binary is missing or unhealthy.
func (f *FFmpeg) Probe(ctx context.Context) error {
	task := execute.ExecTask{
		Command: f.path,
		Args:    []string{"-version"},
	}
	res, err := task.Execute(ctx)
	if err != nil {
		return fmt.Errorf("probe ffmpeg: %w", err)
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("probe ffmpeg: exit code %d", res.ExitCode)
	}
	return nil
}

// Encode re-encodes req.Input into req.Output. A non-zero exit code is
// reported in the result, not as an error.
func (f *FFmpeg) Encode(ctx context.Context, req EncodeRequest) (EncodeResult, error) {
	runCtx := ctx
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	task := execute.ExecTask{
		Command: f.path,
		Args:    Args(req),
	}
	start := time.Now()
	res, err := task.Execute(runCtx)
	elapsed := time.Since(start)

	if ctx.Err() != nil {
		return EncodeResult{ExitCode: -1, Stderr: res.Stderr}, ctx.Err()
	}
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		f.logger.Warn("ffmpeg killed after timeout", slog.Duration("timeout", req.Timeout))
		return EncodeResult{ExitCode: -1, Stderr: res.Stderr}, ErrEncodeTimeout
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return EncodeResult{ExitCode: exitErr.ExitCode(), Stderr: res.Stderr}, nil
		}
		return EncodeResult{ExitCode: -1, Stderr: res.Stderr}, fmt.Errorf("run ffmpeg: %w", err)
	}
	f.logger.Debug("ffmpeg finished", slog.Int("exit_code", res.ExitCode), slog.Duration("elapsed", elapsed))
	return EncodeResult{ExitCode: res.ExitCode, Stderr: res.Stderr}, nil
}

// Args builds the ffmpeg argument list: drop global metadata and chapters,
// force bit-exact muxing and codecs, transcode to H.264/AAC with the given
// preset and CRF, move the index to the front, overwrite the output.
func Args(req EncodeRequest) []string {
	return []string{
		"-hide_banner",
		"-nostdin",
		"-loglevel", "error",
		"-i", req.Input,
		"-map_metadata", "-1",
		"-map_chapters", "-1",
		"-fflags", "+bitexact",
		"-flags:v", "+bitexact",
		"-flags:a", "+bitexact",
		"-c:v", "libx264",
		"-c:a", "aac",
		"-preset", req.Preset,
		"-crf", strconv.Itoa(req.CRF),
		"-movflags", "+faststart",
		"-y",
		req.Output,
	}
}
