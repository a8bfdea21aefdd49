// Package validate implements the cheap, stateless checks applied to a file
// before any transform runs. Every check returns an outcome.Result; nothing
// panics or returns a bare error across this boundary.
package validate

import (
	"errors"
	"image"
	"io"
	"io/fs"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/gabriel-vasile/mimetype"
	"github.com/spf13/afero"

	// Registered so image.DecodeConfig can read every allowed container.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/webp"

	"github.com/safesend/safesend/internal/config"
	"github.com/safesend/safesend/internal/outcome"
)

// Validator holds the operator-configured limits. It has no mutable state and
// is safe for concurrent use.
type Validator struct {
	fs           afero.Fs
	maxSize      int64
	imageFormats map[string]struct{}
	videoExts    map[string]struct{}
	logger       *slog.Logger
}

// New creates a validator over fsys (afero.NewOsFs in production).
func New(log *slog.Logger, fsys afero.Fs, cfg config.SanitizerConfig) *Validator {
	if log == nil {
		log = slog.Default()
	}
	if fsys == nil {
		fsys = afero.NewOsFs()
	}
	maxSize := cfg.MaxFileSize
	if maxSize <= 0 {
		maxSize = config.DefaultMaxFileSize
	}
	return &Validator{
		fs:           fsys,
		maxSize:      maxSize,
		imageFormats: cfg.ImageFormatSet(),
		videoExts:    cfg.VideoExtensionSet(),
		logger:       log.With(slog.String("component", "validator")),
	}
}

// MaxSize returns the configured size ceiling in bytes.
func (v *Validator) MaxSize() int64 {
	return v.maxSize
}

// FileExists fails with NotFound, NotAFile or NotReadable.
func (v *Validator) FileExists(path string) outcome.Result {
	info, err := v.fs.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return outcome.Fail(outcome.KindNotFound, "File does not exist")
		}
		if errors.Is(err, fs.ErrPermission) {
			return outcome.Fail(outcome.KindNotReadable, "File is not readable")
		}
		v.logger.Error("stat failed", slog.Any("error", err))
		return outcome.Fail(outcome.KindNotFound, "File does not exist")
	}
	if !info.Mode().IsRegular() {
		return outcome.Fail(outcome.KindNotAFile, "Path is not a file")
	}
	f, err := v.fs.Open(path)
	if err != nil {
		v.logger.Warn("open for read failed", slog.Any("error", err))
		return outcome.Fail(outcome.KindNotReadable, "File is not readable")
	}
	_ = f.Close()
	return outcome.OK()
}

// FileSize fails with Empty when the file has no bytes and TooLarge when it
// exceeds maxSize. A non-positive maxSize uses the configured ceiling.
func (v *Validator) FileSize(path string, maxSize int64) outcome.Result {
	if maxSize <= 0 {
		maxSize = v.maxSize
	}
	info, err := v.fs.Stat(path)
	if err != nil {
		v.logger.Error("validate file size failed", slog.Any("error", err))
		if errors.Is(err, fs.ErrNotExist) {
			return outcome.Fail(outcome.KindNotFound, "File does not exist")
		}
		return outcome.Fail(outcome.KindNotReadable, "Could not validate file size")
	}
	size := info.Size()
	if size == 0 {
		return outcome.Fail(outcome.KindEmpty, "File is empty")
	}
	if size > maxSize {
		return TooLarge(maxSize)
	}
	return outcome.OK()
}

// TooLarge builds the user-facing size failure for limit.
func TooLarge(limit int64) outcome.Result {
	return outcome.Failf(outcome.KindTooLarge, "File exceeds maximum size of %s", humanize.IBytes(uint64(limit)))
}

// ImageFormat sniffs the container and fails with UnsupportedFormat unless it
// is in the allow-set, or with Corrupt when the header cannot be decoded.
func (v *Validator) ImageFormat(path string) outcome.Result {
	_, res := v.DetectImageFormat(path)
	return res
}

// DetectImageFormat is ImageFormat that also returns the detected format name
// (e.g. "JPEG") on success.
func (v *Validator) DetectImageFormat(path string) (format string, res outcome.Result) {
	defer func() {
		if r := recover(); r != nil {
			v.logger.Error("image header decode panicked", slog.Any("panic", r))
			format, res = "", corrupt()
		}
	}()

	f, err := v.fs.Open(path)
	if err != nil {
		v.logger.Error("open image failed", slog.Any("error", err))
		return "", corrupt()
	}
	defer f.Close()

	mime, err := mimetype.DetectReader(f)
	if err != nil {
		v.logger.Error("sniff image failed", slog.Any("error", err))
		return "", corrupt()
	}
	format = FormatFromMime(mime.String())
	if format == "" {
		v.logger.Info("not an image container", slog.String("mime", mime.String()))
		return "", corrupt()
	}
	if _, ok := v.imageFormats[format]; !ok {
		return format, outcome.Failf(outcome.KindUnsupportedFormat, "Unsupported format. Allowed: %s", joinSorted(v.imageFormats))
	}

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		v.logger.Error("rewind image failed", slog.Any("error", err))
		return "", corrupt()
	}
	if _, _, err := image.DecodeConfig(f); err != nil {
		v.logger.Info("image header invalid", slog.String("format", format), slog.Any("error", err))
		return "", corrupt()
	}
	return format, outcome.OK()
}

// VideoExtension checks only the filename suffix against the allow-set. The
// container itself is validated later by the encoder.
func (v *Validator) VideoExtension(filename string) outcome.Result {
	ext := strings.ToLower(filepath.Ext(filename))
	if _, ok := v.videoExts[ext]; !ok {
		return outcome.Failf(outcome.KindUnsupportedFormat, "Unsupported video format. Allowed: %s", joinSorted(v.videoExts))
	}
	return outcome.OK()
}

// Chain runs checks in order and returns the first failure.
func Chain(checks ...func() outcome.Result) outcome.Result {
	for _, check := range checks {
		if res := check(); !res.OK() {
			return res
		}
	}
	return outcome.OK()
}

// FormatFromMime maps an image MIME type to the container name used in the
// allow-set ("image/jpeg" -> "JPEG"). Non-image types map to "".
func FormatFromMime(mime string) string {
	mime = strings.ToLower(strings.TrimSpace(mime))
	if idx := strings.Index(mime, ";"); idx >= 0 {
		mime = strings.TrimSpace(mime[:idx])
	}
	sub, ok := strings.CutPrefix(mime, "image/")
	if !ok || sub == "" {
		return ""
	}
	sub = strings.TrimPrefix(sub, "x-")
	sub = strings.TrimPrefix(sub, "vnd.")
	switch sub {
	case "jpg", "pjpeg":
		sub = "jpeg"
	case "mozilla.apng", "apng":
		// Animated PNG is a PNG stream with extra chunks; decoders read its
		// default frame.
		sub = "png"
	}
	return strings.ToUpper(sub)
}

func corrupt() outcome.Result {
	return outcome.Fail(outcome.KindCorrupt, "Invalid or corrupted image file")
}

func joinSorted(set map[string]struct{}) string {
	items := make([]string, 0, len(set))
	for k := range set {
		items = append(items, k)
	}
	sort.Strings(items)
	return strings.Join(items, ", ")
}
