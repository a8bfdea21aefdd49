package media

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/safesend/safesend/internal/config"
	"github.com/safesend/safesend/internal/inspect"
	"github.com/safesend/safesend/internal/logger"
	"github.com/safesend/safesend/internal/mediatest"
	"github.com/safesend/safesend/internal/outcome"
)

type stubEncoder struct {
	probeErr error
	result   EncodeResult
	err      error
	write    []byte
	got      []EncodeRequest
}

func (s *stubEncoder) Probe(context.Context) error { return s.probeErr }

func (s *stubEncoder) Encode(_ context.Context, req EncodeRequest) (EncodeResult, error) {
	s.got = append(s.got, req)
	if s.write != nil {
		if err := os.WriteFile(req.Output, s.write, 0o600); err != nil {
			return EncodeResult{}, err
		}
	}
	return s.result, s.err
}

func withFFmpeg(t *testing.T, mode string, timeoutSeconds int) (*Remover, string) {
	t.Helper()
	bin := mediatest.FakeFFmpeg(t, mode)
	rm := newRemover(t, NewFFmpeg(logger.Discard(), bin), func(c *config.SanitizerConfig) {
		c.FFmpegPath = bin
		if timeoutSeconds > 0 {
			c.VideoTimeoutSeconds = timeoutSeconds
		}
	})
	return rm, filepath.Dir(bin)
}

func TestArgs(t *testing.T) {
	t.Parallel()

	args := Args(EncodeRequest{Input: "/w/in.mov", Output: "/w/out.mp4", Preset: "fast", CRF: 28})
	joined := strings.Join(args, " ")
	for _, want := range []string{
		"-i /w/in.mov",
		"-map_metadata -1",
		"-map_chapters -1",
		"-fflags +bitexact",
		"-flags:v +bitexact",
		"-flags:a +bitexact",
		"-c:v libx264",
		"-c:a aac",
		"-preset fast",
		"-crf 28",
		"-movflags +faststart",
	} {
		assert.Contains(t, joined, want)
	}
	assert.Equal(t, "-y", args[len(args)-2])
	assert.Equal(t, "/w/out.mp4", args[len(args)-1])
}

func TestRemoveVideoMetadataPassesConfiguredQuality(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	in := mediatest.WriteFile(t, dir, "in.mp4", mediatest.MP4WithComment())
	out := filepath.Join(dir, "out.mp4")
	enc := &stubEncoder{write: mediatest.MP4Clean()}
	rm := newRemover(t, enc, func(c *config.SanitizerConfig) {
		c.VideoPreset = "slow"
		c.VideoCRF = 18
		c.VideoTimeoutSeconds = 42
	})

	res := rm.RemoveVideoMetadata(context.Background(), in, out)
	require.True(t, res.OK(), res.String())
	require.Len(t, enc.got, 1)
	assert.Equal(t, EncodeRequest{Input: in, Output: out, Preset: "slow", CRF: 18, Timeout: 42 * time.Second}, enc.got[0])
}

func TestRemoveVideoMetadataStubFailures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		enc    Encoder
		kind   outcome.Kind
		reason string
	}{
		{"no encoder", nil, outcome.KindToolUnavailable, "ffmpeg is not installed or not accessible"},
		{"probe fails", &stubEncoder{probeErr: errors.New("exec: not found")}, outcome.KindToolUnavailable, "ffmpeg is not installed or not accessible"},
		{"timeout", &stubEncoder{err: ErrEncodeTimeout}, outcome.KindTimeout, "Video processing timeout (300s). Try a shorter video."},
		{"exit code", &stubEncoder{result: EncodeResult{ExitCode: 1, Stderr: "boom"}}, outcome.KindProcessingFailed, "Video processing failed"},
		{"spawn error", &stubEncoder{err: errors.New("fork failed")}, outcome.KindProcessingFailed, "Video processing failed"},
		{"no output", &stubEncoder{}, outcome.KindOutputNotCreated, "Output video was not created properly"},
		{"empty output", &stubEncoder{write: []byte{}}, outcome.KindOutputNotCreated, "Output video was not created properly"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			dir := t.TempDir()
			in := mediatest.WriteFile(t, dir, "in.mp4", mediatest.MP4WithComment())
			res := newRemover(t, tt.enc, nil).RemoveVideoMetadata(context.Background(), in, filepath.Join(dir, "out.mp4"))
			assert.Equal(t, tt.kind, res.Kind)
			assert.Equal(t, tt.reason, res.Reason)
		})
	}
}

func TestRemoveVideoMetadataInputChecks(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	enc := &stubEncoder{}
	rm := newRemover(t, enc, func(c *config.SanitizerConfig) { c.MaxFileSize = 16 })

	res := rm.RemoveVideoMetadata(context.Background(), filepath.Join(dir, "gone.mp4"), filepath.Join(dir, "o.mp4"))
	assert.Equal(t, outcome.KindNotFound, res.Kind)

	empty := mediatest.WriteFile(t, dir, "empty.mp4", nil)
	res = rm.RemoveVideoMetadata(context.Background(), empty, filepath.Join(dir, "o.mp4"))
	assert.Equal(t, outcome.KindEmpty, res.Kind)

	big := mediatest.WriteFile(t, dir, "big.mp4", make([]byte, 17))
	res = rm.RemoveVideoMetadata(context.Background(), big, filepath.Join(dir, "o.mp4"))
	assert.Equal(t, outcome.KindTooLarge, res.Kind)

	assert.Empty(t, enc.got, "encoder must not run when input checks fail")
}

func TestFFmpegCopy(t *testing.T) {
	t.Parallel()

	rm, binDir := withFFmpeg(t, mediatest.FFmpegCopy, 0)
	dir := t.TempDir()
	in := mediatest.WriteFile(t, dir, "in.mp4", mediatest.MP4Clean())
	out := filepath.Join(dir, "out.mp4")

	res := rm.RemoveVideoMetadata(context.Background(), in, out)
	require.True(t, res.OK(), res.String())
	assert.FileExists(t, out)

	log, err := os.ReadFile(filepath.Join(binDir, "args.log"))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(log)), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "-version", lines[0])
	assert.Contains(t, lines[1], "-map_metadata -1")
	assert.Contains(t, lines[1], "-preset medium -crf 23")
}

func TestFFmpegFailureDoesNotLeakDiagnostics(t *testing.T) {
	t.Parallel()

	rm, _ := withFFmpeg(t, mediatest.FFmpegFail, 0)
	dir := t.TempDir()
	in := mediatest.WriteFile(t, dir, "secret-name.mp4", mediatest.MP4Clean())

	res := rm.RemoveVideoMetadata(context.Background(), in, filepath.Join(dir, "out.mp4"))
	assert.Equal(t, outcome.KindProcessingFailed, res.Kind)
	assert.Equal(t, "Video processing failed", res.Reason)
	assert.NotContains(t, res.String(), "secret-name")
}

func TestFFmpegNoOutput(t *testing.T) {
	t.Parallel()

	rm, _ := withFFmpeg(t, mediatest.FFmpegNoOutput, 0)
	dir := t.TempDir()
	in := mediatest.WriteFile(t, dir, "in.mp4", mediatest.MP4Clean())

	res := rm.RemoveVideoMetadata(context.Background(), in, filepath.Join(dir, "out.mp4"))
	assert.Equal(t, outcome.KindOutputNotCreated, res.Kind)
}

func TestFFmpegBrokenProbe(t *testing.T) {
	t.Parallel()

	rm, binDir := withFFmpeg(t, mediatest.FFmpegBrokenProbe, 0)
	dir := t.TempDir()
	in := mediatest.WriteFile(t, dir, "in.mp4", mediatest.MP4Clean())

	res := rm.RemoveVideoMetadata(context.Background(), in, filepath.Join(dir, "out.mp4"))
	assert.Equal(t, outcome.KindToolUnavailable, res.Kind)

	log, err := os.ReadFile(filepath.Join(binDir, "args.log"))
	require.NoError(t, err)
	assert.Equal(t, "-version", strings.TrimSpace(string(log)), "encode must not run after a failed probe")
}

func TestFFmpegMissingBinary(t *testing.T) {
	t.Parallel()

	missing := filepath.Join(t.TempDir(), "no-such-ffmpeg")
	rm := newRemover(t, NewFFmpeg(logger.Discard(), missing), nil)
	dir := t.TempDir()
	in := mediatest.WriteFile(t, dir, "in.mp4", mediatest.MP4Clean())

	res := rm.RemoveVideoMetadata(context.Background(), in, filepath.Join(dir, "out.mp4"))
	assert.Equal(t, outcome.KindToolUnavailable, res.Kind)
	assert.Equal(t, "ffmpeg is not installed or not accessible", res.Reason)
}

func TestFFmpegTimeoutKillsProcess(t *testing.T) {
	t.Parallel()

	rm, binDir := withFFmpeg(t, mediatest.FFmpegHang, 1)
	dir := t.TempDir()
	in := mediatest.WriteFile(t, dir, "in.mp4", mediatest.MP4Clean())

	start := time.Now()
	res := rm.RemoveVideoMetadata(context.Background(), in, filepath.Join(dir, "out.mp4"))
	assert.Less(t, time.Since(start), 10*time.Second)
	assert.Equal(t, outcome.KindTimeout, res.Kind)
	assert.Equal(t, "Video processing timeout (1s). Try a shorter video.", res.Reason)

	assertProcessGone(t, binDir)
}

func TestFFmpegParentCancel(t *testing.T) {
	t.Parallel()

	rm, binDir := withFFmpeg(t, mediatest.FFmpegHang, 0)
	dir := t.TempDir()
	in := mediatest.WriteFile(t, dir, "in.mp4", mediatest.MP4Clean())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		waitForFile(filepath.Join(binDir, "pid"))
		cancel()
	}()
	res := rm.RemoveVideoMetadata(ctx, in, filepath.Join(dir, "out.mp4"))
	assert.Equal(t, outcome.KindCanceled, res.Kind)

	assertProcessGone(t, binDir)
}

func waitForFile(path string) {
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if info, err := os.Stat(path); err == nil && info.Size() > 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func assertProcessGone(t *testing.T, binDir string) {
	t.Helper()
	raw, err := os.ReadFile(filepath.Join(binDir, "pid"))
	require.NoError(t, err)
	pid, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	require.NoError(t, err)

	proc, err := os.FindProcess(pid)
	require.NoError(t, err)
	assert.Error(t, proc.Signal(syscall.Signal(0)), "ffmpeg process %d must not outlive its timeout", pid)
}

func TestRemoveVideoMetadataRealFFmpeg(t *testing.T) {
	bin, err := exec.LookPath("ffmpeg")
	if err != nil {
		t.Skip("ffmpeg not installed")
	}
	if testing.Short() {
		t.Skip("slow")
	}

	dir := t.TempDir()
	in := filepath.Join(dir, "in.mov")
	gen := exec.Command(bin, "-hide_banner", "-loglevel", "error",
		"-f", "lavfi", "-i", "testsrc=duration=1:size=64x64:rate=10",
		"-metadata", "comment="+mediatest.CommentMarker,
		"-metadata", "location=+48.8583+002.2945/",
		"-c:v", "mpeg4", "-y", in)
	if out, err := gen.CombinedOutput(); err != nil {
		t.Skipf("cannot synthesize input video: %v: %s", err, out)
	}

	out := filepath.Join(dir, "out.mp4")
	rm := newRemover(t, NewFFmpeg(logger.Discard(), bin), nil)
	res := rm.RemoveVideoMetadata(context.Background(), in, out)
	if res.Kind == outcome.KindProcessingFailed {
		t.Skip("ffmpeg build lacks libx264 or aac")
	}
	require.True(t, res.OK(), res.String())

	raw, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), mediatest.CommentMarker)

	rep, err := inspect.File(afero.NewOsFs(), out)
	require.NoError(t, err)
	assert.False(t, rep.GPS)
	assert.False(t, rep.Has(inspect.KindTag), rep.String())
	assert.False(t, rep.Has(inspect.KindChapters), rep.String())
}
