// Package pipeline runs one inbound file through the sanitizer: it
// materializes the bytes inside the workspace, strips metadata, hands the
// cleaned artifact to the transport and destroys both artifacts on every
// exit path.
package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"
	"golang.org/x/sync/semaphore"

	"github.com/safesend/safesend/internal/attachment"
	"github.com/safesend/safesend/internal/config"
	"github.com/safesend/safesend/internal/logger"
	"github.com/safesend/safesend/internal/media"
	"github.com/safesend/safesend/internal/outcome"
	"github.com/safesend/safesend/internal/validate"
	"github.com/safesend/safesend/internal/workspace"
)

// Request is one inbound file.
type Request struct {
	Kind media.MediaType
	// Name is the client-supplied filename, if any. For videos it drives the
	// extension pre-filter.
	Name string
	// Mime is the client-declared MIME type, if any.
	Mime string
	// Size is the transport-declared size; 0 means unknown.
	Size int64
	Body io.Reader
}

// Output describes the cleaned artifact handed to EmitFunc. It is only valid
// for the duration of the call.
type Output struct {
	RequestID string
	Kind      media.MediaType
	Path      string
	Size      int64
	Mime      string
	Filename  string

	fs afero.Fs
}

// Open opens the cleaned artifact for reading.
func (o Output) Open() (io.ReadCloser, error) {
	return o.fs.Open(o.Path)
}

// ReadAll returns the cleaned artifact's bytes.
func (o Output) ReadAll() ([]byte, error) {
	return afero.ReadFile(o.fs, o.Path)
}

// EmitFunc delivers a cleaned artifact to the requester.
type EmitFunc func(ctx context.Context, out Output) error

type ctxKey struct{}

// RequestID returns the id Process attached to ctx, or "".
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

// Service processes requests against a shared workspace. Concurrency is
// bounded per media kind.
type Service struct {
	ws        *workspace.Workspace
	remover   *media.Remover
	validator *validate.Validator
	images    *semaphore.Weighted
	videos    *semaphore.Weighted
	maxSize   int64
	logger    *slog.Logger
}

// NewService wires a pipeline service.
func NewService(log *slog.Logger, ws *workspace.Workspace, remover *media.Remover, cfg config.PipelineConfig) *Service {
	if log == nil {
		log = slog.Default()
	}
	images, videos := cfg.MaxConcurrentImages, cfg.MaxConcurrentVideos
	if images <= 0 {
		images = config.DefaultMaxConcurrentImages
	}
	if videos <= 0 {
		videos = config.DefaultMaxConcurrentVideos
	}
	return &Service{
		ws:        ws,
		remover:   remover,
		validator: remover.Validator(),
		images:    semaphore.NewWeighted(images),
		videos:    semaphore.NewWeighted(videos),
		maxSize:   remover.Validator().MaxSize(),
		logger:    log.With(slog.String("service", "pipeline")),
	}
}

// MaxSize is the largest accepted file in bytes.
func (s *Service) MaxSize() int64 {
	return s.maxSize
}

// Process sanitizes req and calls emit with the result. Both artifacts are
// destroyed before Process returns, whatever happens.
func (s *Service) Process(ctx context.Context, req Request, emit EmitFunc) (res outcome.Result) {
	requestID := uuid.NewString()
	log := s.logger.With(
		slog.String("request_id", requestID),
		slog.String("kind", string(req.Kind)))
	ctx = logger.WithContext(context.WithValue(ctx, ctxKey{}, requestID), log)
	started := time.Now()

	var input, output string
	defer func() {
		if p := recover(); p != nil {
			log.Error("pipeline panicked", slog.Any("panic", p))
			res = outcome.Fail(outcome.KindProcessingFailed, "Failed to process file")
		}
		s.ws.Destroy(input)
		s.ws.Destroy(output)
		log.Info("request finished",
			slog.String("result", res.String()),
			slog.Duration("elapsed", time.Since(started)))
	}()

	if res = s.precheck(req); !res.OK() {
		log.Info("request rejected", slog.String("reason", res.Reason))
		return res
	}

	body, mime, err := attachment.PrepareReaderAndMime(req.Body, req.Kind, req.Mime)
	if err != nil {
		log.Error("read request body failed", slog.Any("error", err))
		return outcome.Fail(outcome.KindProcessingFailed, "Failed to receive file")
	}

	input, err = s.ws.Allocate(req.Kind.InputExtension(req.Name, mime))
	if err != nil {
		log.Error("allocate input failed", slog.Any("error", err))
		return outcome.Fail(outcome.KindProcessingFailed, "Failed to receive file")
	}
	if res = s.spool(ctx, input, body); !res.OK() {
		return res
	}

	output, err = s.ws.Allocate(req.Kind.OutputExtension())
	if err != nil {
		log.Error("allocate output failed", slog.Any("error", err))
		return outcome.Fail(outcome.KindProcessingFailed, "Failed to process file")
	}

	if res = s.run(ctx, req.Kind, input, output); !res.OK() {
		return res
	}

	info, err := s.ws.Fs().Stat(output)
	if err != nil {
		return outcome.Fail(outcome.KindOutputNotCreated, "Output file was not created properly")
	}
	out := Output{
		RequestID: requestID,
		Kind:      req.Kind,
		Path:      output,
		Size:      info.Size(),
		Mime:      req.Kind.OutputMime(),
		Filename:  CleanFilename(req.Name, req.Kind),
		fs:        s.ws.Fs(),
	}
	if emit != nil {
		if err := emit(ctx, out); err != nil {
			log.Error("emit cleaned file failed", slog.Any("error", err))
			if ctx.Err() != nil {
				return canceled(ctx.Err())
			}
			return outcome.FromError(err, "Failed to send cleaned file")
		}
	}
	return outcome.OK()
}

func (s *Service) precheck(req Request) outcome.Result {
	if !req.Kind.Valid() {
		return outcome.Fail(outcome.KindUnsupportedFormat, "Unsupported file type. Send a photo or a video.")
	}
	if req.Body == nil {
		return outcome.Fail(outcome.KindEmpty, "File is empty")
	}
	if req.Size > s.maxSize {
		return validate.TooLarge(s.maxSize)
	}
	if req.Kind == media.MediaTypeVideo && strings.TrimSpace(req.Name) != "" {
		return s.validator.VideoExtension(req.Name)
	}
	return outcome.OK()
}

// spool copies body into path, refusing more than maxSize bytes.
func (s *Service) spool(ctx context.Context, path string, body io.Reader) outcome.Result {
	log := logger.FromContext(ctx)
	f, err := s.ws.Fs().OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		log.Error("create input failed", slog.Any("error", err))
		return outcome.Fail(outcome.KindProcessingFailed, "Failed to receive file")
	}
	n, err := io.Copy(f, &ctxReader{ctx: ctx, r: io.LimitReader(body, s.maxSize+1)})
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	switch {
	case ctx.Err() != nil:
		return canceled(ctx.Err())
	case err != nil:
		log.Error("write input failed", slog.Any("error", err))
		return outcome.Fail(outcome.KindProcessingFailed, "Failed to receive file")
	case n > s.maxSize:
		return validate.TooLarge(s.maxSize)
	case n == 0:
		return outcome.Fail(outcome.KindEmpty, "File is empty")
	}
	log.Debug("input materialized", slog.Int64("bytes", n))
	return outcome.OK()
}

// run strips metadata on a worker goroutine once a slot for kind is free.
func (s *Service) run(ctx context.Context, kind media.MediaType, input, output string) outcome.Result {
	sem := s.images
	if kind == media.MediaTypeVideo {
		sem = s.videos
	}
	if err := sem.Acquire(ctx, 1); err != nil {
		return canceled(err)
	}

	done := make(chan outcome.Result, 1)
	go func() {
		defer sem.Release(1)
		defer func() {
			if p := recover(); p != nil {
				logger.FromContext(ctx).Error("remover panicked", slog.Any("panic", p))
				done <- outcome.Fail(outcome.KindProcessingFailed, "Failed to process file")
			}
		}()
		if kind == media.MediaTypeVideo {
			done <- s.remover.RemoveVideoMetadata(ctx, input, output)
			return
		}
		done <- s.remover.RemoveImageMetadata(ctx, input, output)
	}()
	return <-done
}

// CleanFilename is the name the cleaned artifact is delivered under.
func CleanFilename(name string, kind media.MediaType) string {
	base := strings.TrimSpace(name)
	if i := strings.LastIndexAny(base, `/\`); i >= 0 {
		base = base[i+1:]
	}
	if i := strings.LastIndex(base, "."); i > 0 {
		base = base[:i]
	}
	if base == "" {
		base = "cleaned_" + string(kind)
	} else {
		base = "cleaned_" + base
	}
	return base + kind.OutputExtension()
}

func canceled(err error) outcome.Result {
	if errors.Is(err, context.DeadlineExceeded) {
		return outcome.Fail(outcome.KindTimeout, "Processing took too long. Try again.")
	}
	return outcome.Fail(outcome.KindCanceled, "Request was canceled")
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
