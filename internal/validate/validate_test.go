package validate

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/safesend/safesend/internal/config"
	"github.com/safesend/safesend/internal/logger"
	"github.com/safesend/safesend/internal/mediatest"
	"github.com/safesend/safesend/internal/outcome"
)

// 1x1 lossless WEBP.
const tinyWEBP = "UklGRhoAAABXRUJQVlA4TA0AAAAvAAAAEAcQERGIiP4HAA=="

func newValidator(t *testing.T, mutate func(*config.SanitizerConfig)) *Validator {
	t.Helper()
	cfg := config.Default().Sanitizer
	if mutate != nil {
		mutate(&cfg)
	}
	return New(logger.Discard(), afero.NewOsFs(), cfg)
}

func TestFileExists(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	v := newValidator(t, nil)

	file := mediatest.WriteFile(t, dir, "a.jpg", []byte("x"))
	assert.True(t, v.FileExists(file).OK())

	res := v.FileExists(filepath.Join(dir, "missing.jpg"))
	assert.Equal(t, outcome.KindNotFound, res.Kind)
	assert.Equal(t, "File does not exist", res.Reason)

	res = v.FileExists(dir)
	assert.Equal(t, outcome.KindNotAFile, res.Kind)
}

func TestFileExistsNotReadable(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("root bypasses file permissions")
	}
	dir := t.TempDir()
	file := mediatest.WriteFile(t, dir, "locked.jpg", []byte("x"))
	require.NoError(t, os.Chmod(file, 0o000))
	t.Cleanup(func() { _ = os.Chmod(file, 0o600) })

	res := newValidator(t, nil).FileExists(file)
	assert.Equal(t, outcome.KindNotReadable, res.Kind)
}

func TestFileSize(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	v := newValidator(t, func(c *config.SanitizerConfig) { c.MaxFileSize = 10 })

	empty := mediatest.WriteFile(t, dir, "empty.jpg", nil)
	res := v.FileSize(empty, 0)
	assert.Equal(t, outcome.KindEmpty, res.Kind)
	assert.Equal(t, "File is empty", res.Reason)

	exact := mediatest.WriteFile(t, dir, "exact.jpg", make([]byte, 10))
	assert.True(t, v.FileSize(exact, 0).OK())

	big := mediatest.WriteFile(t, dir, "big.jpg", make([]byte, 11))
	res = v.FileSize(big, 0)
	assert.Equal(t, outcome.KindTooLarge, res.Kind)
	assert.Equal(t, "File exceeds maximum size of 10 B", res.Reason)

	// explicit ceiling overrides the configured one
	assert.True(t, v.FileSize(big, 100).OK())

	res = v.FileSize(filepath.Join(dir, "nope"), 0)
	assert.Equal(t, outcome.KindNotFound, res.Kind)
}

func TestTooLargeMessage(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "File exceeds maximum size of 50 MiB", TooLarge(config.DefaultMaxFileSize).Reason)
}

func TestImageFormat(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	v := newValidator(t, nil)
	webp, err := base64.StdEncoding.DecodeString(tinyWEBP)
	require.NoError(t, err)

	tests := []struct {
		name   string
		data   []byte
		kind   outcome.Kind
		format string
	}{
		{"jpeg", mediatest.JPEGWithMetadata(t, 16, 16), outcome.KindNone, "JPEG"},
		{"png", mediatest.PNGWithMetadata(t, mediatest.Gradient(8, 8)), outcome.KindNone, "PNG"},
		{"webp", webp, outcome.KindNone, "WEBP"},
		{"animated png", mediatest.APNG(t, mediatest.Gradient(8, 8)), outcome.KindNone, "PNG"},
		{"gif", mediatest.GIF(t), outcome.KindUnsupportedFormat, "GIF"},
		{"text", []byte("definitely not an image"), outcome.KindCorrupt, ""},
		{"truncated jpeg", []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10, 'J', 'F', 'I', 'F', 0x00}, outcome.KindCorrupt, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := mediatest.WriteFile(t, dir, tt.name+".jpg", tt.data)
			format, res := v.DetectImageFormat(path)
			assert.Equal(t, tt.kind, res.Kind, res.Reason)
			assert.Equal(t, tt.format, format)
			assert.Equal(t, res, v.ImageFormat(path))
		})
	}
}

func TestImageFormatHonoursConfiguredAllowSet(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	v := newValidator(t, func(c *config.SanitizerConfig) { c.AllowedImageFormats = []string{"png"} })
	path := mediatest.WriteFile(t, dir, "photo.jpg", mediatest.JPEG(t, mediatest.Gradient(4, 4)))

	res := v.ImageFormat(path)
	assert.Equal(t, outcome.KindUnsupportedFormat, res.Kind)
	assert.Equal(t, "Unsupported format. Allowed: PNG", res.Reason)
}

func TestImageFormatMissingFile(t *testing.T) {
	t.Parallel()

	res := newValidator(t, nil).ImageFormat(filepath.Join(t.TempDir(), "gone.png"))
	assert.Equal(t, outcome.KindCorrupt, res.Kind)
}

func TestVideoExtension(t *testing.T) {
	t.Parallel()

	v := newValidator(t, nil)
	for _, name := range []string{"a.mp4", "B.MOV", "clip.avi", "x.y.mkv"} {
		assert.True(t, v.VideoExtension(name).OK(), name)
	}
	for _, name := range []string{"a.webm", "noext", "", "mp4"} {
		res := v.VideoExtension(name)
		assert.Equal(t, outcome.KindUnsupportedFormat, res.Kind, name)
		assert.Equal(t, "Unsupported video format. Allowed: .avi, .mkv, .mov, .mp4", res.Reason)
	}
}

func TestChainShortCircuits(t *testing.T) {
	t.Parallel()

	calls := 0
	res := Chain(
		func() outcome.Result { calls++; return outcome.OK() },
		func() outcome.Result { calls++; return outcome.Fail(outcome.KindEmpty, "") },
		func() outcome.Result { calls++; return outcome.OK() },
	)
	assert.Equal(t, outcome.KindEmpty, res.Kind)
	assert.Equal(t, 2, calls)
}

func TestFormatFromMime(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"image/jpeg":                "JPEG",
		"image/png; charset=binary": "PNG",
		"image/webp":                "WEBP",
		"image/x-icon":              "ICON",
		"image/vnd.adobe.photoshop": "ADOBE.PHOTOSHOP",
		"image/vnd.mozilla.apng":    "PNG",
		"image/apng":                "PNG",
		"text/plain":                "",
		"":                          "",
	}
	for in, want := range cases {
		assert.Equal(t, want, FormatFromMime(in), in)
	}
}
