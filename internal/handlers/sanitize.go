package handlers

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/safesend/safesend/internal/attachment"
	"github.com/safesend/safesend/internal/media"
	"github.com/safesend/safesend/internal/outcome"
	"github.com/safesend/safesend/internal/pipeline"
)

// base64Overhead bounds the JSON envelope around a base64 payload.
const base64Overhead = 64 << 10

// Processor is the part of the pipeline the HTTP handlers depend on.
type Processor interface {
	Process(ctx context.Context, req pipeline.Request, emit pipeline.EmitFunc) outcome.Result
	MaxSize() int64
}

// SanitizeHandler serves the upload endpoints.
type SanitizeHandler struct {
	proc   Processor
	logger *slog.Logger
}

// SanitizeBase64Request is the JSON upload body.
type SanitizeBase64Request struct {
	Kind     string `json:"kind"`
	Filename string `json:"filename,omitempty"`
	// Data is raw base64 or a base64 data URL.
	Data string `json:"data"`
}

// SanitizeBase64Response carries the cleaned file as a data URL.
type SanitizeBase64Response struct {
	RequestID string `json:"request_id"`
	Filename  string `json:"filename"`
	Mime      string `json:"mime"`
	Size      int64  `json:"size"`
	Data      string `json:"data"`
}

// NewSanitizeHandler creates the upload handler.
func NewSanitizeHandler(log *slog.Logger, proc Processor) *SanitizeHandler {
	return &SanitizeHandler{
		proc:   proc,
		logger: log.With(slog.String("handler", "sanitize")),
	}
}

// Register mounts the sanitize routes.
func (h *SanitizeHandler) Register(e *echo.Echo) {
	g := e.Group("/v1/sanitize")
	g.POST("/image", h.Image)
	g.POST("/video", h.Video)
	g.POST("/base64", h.Base64)
}

// Image godoc
// @Summary Remove metadata from an image
// @Accept multipart/form-data
// @Produce image/jpeg
// @Param file formData file true "Image file"
// @Success 200 {file} binary
// @Failure 413 {object} ErrorResponse
// @Failure 415 {object} ErrorResponse
// @Failure 422 {object} ErrorResponse
// @Router /v1/sanitize/image [post]
func (h *SanitizeHandler) Image(c echo.Context) error {
	return h.multipart(c, media.MediaTypeImage)
}

// Video godoc
// @Summary Remove metadata from a video
// @Accept multipart/form-data
// @Produce video/mp4
// @Param file formData file true "Video file"
// @Success 200 {file} binary
// @Failure 503 {object} ErrorResponse
// @Failure 504 {object} ErrorResponse
// @Router /v1/sanitize/video [post]
func (h *SanitizeHandler) Video(c echo.Context) error {
	return h.multipart(c, media.MediaTypeVideo)
}

// multipart streams the "file" part straight into the pipeline so the upload
// is never buffered outside the workspace.
func (h *SanitizeHandler) multipart(c echo.Context, kind media.MediaType) error {
	mr, err := c.Request().MultipartReader()
	if err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Message: "multipart body with a file field is required"})
	}
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return c.JSON(http.StatusBadRequest, ErrorResponse{Message: "file field is required"})
		}
		if err != nil {
			return c.JSON(http.StatusBadRequest, ErrorResponse{Message: "malformed multipart body"})
		}
		if part.FormName() != "file" {
			_ = part.Close()
			continue
		}
		defer part.Close()
		return h.process(c, pipeline.Request{
			Kind: kind,
			Name: part.FileName(),
			Mime: part.Header.Get(echo.HeaderContentType),
			Body: part,
		})
	}
}

func (h *SanitizeHandler) process(c echo.Context, req pipeline.Request) error {
	res := h.proc.Process(c.Request().Context(), req, func(_ context.Context, out pipeline.Output) error {
		rc, err := out.Open()
		if err != nil {
			return err
		}
		defer rc.Close()
		resp := c.Response()
		resp.Header().Set("X-Request-Id", out.RequestID)
		resp.Header().Set(echo.HeaderContentDisposition,
			mime.FormatMediaType("attachment", map[string]string{"filename": out.Filename}))
		return c.Stream(http.StatusOK, out.Mime, rc)
	})
	if res.OK() {
		return nil
	}
	if c.Response().Committed {
		h.logger.Warn("response failed after commit", slog.String("kind", string(res.Kind)))
		return nil
	}
	return c.JSON(StatusFor(res.Kind), ErrorResponse{Message: res.Reason, Kind: string(res.Kind)})
}

// Base64 godoc
// @Summary Remove metadata from a base64 payload
// @Accept json
// @Produce json
// @Param payload body SanitizeBase64Request true "File as base64 or data URL"
// @Success 200 {object} SanitizeBase64Response
// @Failure 400 {object} ErrorResponse
// @Failure 413 {object} ErrorResponse
// @Router /v1/sanitize/base64 [post]
func (h *SanitizeHandler) Base64(c echo.Context) error {
	maxSize := h.proc.MaxSize()
	r := c.Request()
	r.Body = http.MaxBytesReader(c.Response(), r.Body, maxSize/3*4+base64Overhead)

	var body SanitizeBase64Request
	if err := c.Bind(&body); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return c.JSON(http.StatusRequestEntityTooLarge, ErrorResponse{Message: "Request body is too large", Kind: string(outcome.KindTooLarge)})
		}
		return c.JSON(http.StatusBadRequest, ErrorResponse{Message: "invalid JSON body"})
	}
	kind := media.MediaType(strings.ToLower(strings.TrimSpace(body.Kind)))
	if !kind.Valid() {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Message: "kind must be image or video"})
	}
	decoded, err := attachment.DecodeBase64(body.Data, maxSize)
	if err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Message: err.Error()})
	}

	var resp SanitizeBase64Response
	res := h.proc.Process(r.Context(), pipeline.Request{
		Kind: kind,
		Name: body.Filename,
		Mime: attachment.MimeFromDataURL(body.Data),
		Body: decoded,
	}, func(_ context.Context, out pipeline.Output) error {
		data, err := out.ReadAll()
		if err != nil {
			return err
		}
		resp = SanitizeBase64Response{
			RequestID: out.RequestID,
			Filename:  out.Filename,
			Mime:      out.Mime,
			Size:      out.Size,
			Data:      attachment.EncodeDataURL(data, out.Mime),
		}
		return nil
	})
	if !res.OK() {
		return c.JSON(StatusFor(res.Kind), ErrorResponse{Message: res.Reason, Kind: string(res.Kind)})
	}
	return c.JSON(http.StatusOK, resp)
}

// StatusFor maps a failure kind onto an HTTP status.
func StatusFor(kind outcome.Kind) int {
	switch kind {
	case outcome.KindNone:
		return http.StatusOK
	case outcome.KindTooLarge:
		return http.StatusRequestEntityTooLarge
	case outcome.KindUnsupportedFormat:
		return http.StatusUnsupportedMediaType
	case outcome.KindCorrupt, outcome.KindEmpty:
		return http.StatusUnprocessableEntity
	case outcome.KindToolUnavailable:
		return http.StatusServiceUnavailable
	case outcome.KindTimeout:
		return http.StatusGatewayTimeout
	case outcome.KindCanceled:
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}
