// Package media removes identifying metadata from images and videos.
//
// Images are fully re-materialized: decoded to pixels, copied into a brand-new
// buffer and re-encoded, so no container structure of the source survives.
// Videos are re-encoded by an external tool with metadata and chapters
// stripped.
package media

import (
	"errors"
	"io/fs"
	"log/slog"

	"github.com/spf13/afero"
	"golang.org/x/sync/semaphore"

	"github.com/safesend/safesend/internal/config"
	"github.com/safesend/safesend/internal/validate"
)

// Remover orchestrates validation and format-specific stripping. It holds no
// per-request state and is safe for concurrent use.
type Remover struct {
	validator *validate.Validator
	fs        afero.Fs
	encoder   Encoder
	cfg       config.SanitizerConfig
	logger    *slog.Logger

	maxPixels int64
	// pixels is shared by every image in flight, weighted by pixel count.
	pixels *semaphore.Weighted
}

// NewRemover wires a remover. fsys must be the filesystem the validator reads
// and, for videos, the real OS filesystem the encoder process sees.
func NewRemover(log *slog.Logger, v *validate.Validator, fsys afero.Fs, enc Encoder, cfg config.SanitizerConfig) *Remover {
	if log == nil {
		log = slog.Default()
	}
	if fsys == nil {
		fsys = afero.NewOsFs()
	}
	maxPixels, budget := cfg.MaxImagePixels, cfg.ImagePixelBudget
	if maxPixels <= 0 {
		maxPixels = config.DefaultMaxImagePixels
	}
	if budget < maxPixels {
		budget = max(maxPixels, config.DefaultImagePixelBudget)
	}
	return &Remover{
		validator: v,
		fs:        fsys,
		encoder:   enc,
		cfg:       cfg,
		logger:    log.With(slog.String("service", "metadata_remover")),
		maxPixels: maxPixels,
		pixels:    semaphore.NewWeighted(budget),
	}
}

// Validator returns the validator the remover runs its checks with.
func (r *Remover) Validator() *validate.Validator {
	return r.validator
}

// outputCreated is the shared postcondition: the output exists and is non-empty.
func (r *Remover) outputCreated(path string) bool {
	info, err := r.fs.Stat(path)
	if err != nil {
		return false
	}
	return info.Mode().IsRegular() && info.Size() > 0
}

func (r *Remover) discardPartial(path string) {
	if err := r.fs.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		r.logger.Warn("remove partial output failed", slog.Any("error", err))
	}
}

// detail renders err for a user-facing reason without filesystem paths.
func detail(err error) string {
	var pe *fs.PathError
	if errors.As(err, &pe) {
		return pe.Op + ": " + pe.Err.Error()
	}
	return err.Error()
}
