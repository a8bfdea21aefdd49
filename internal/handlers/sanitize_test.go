package handlers

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/safesend/safesend/internal/config"
	"github.com/safesend/safesend/internal/inspect"
	"github.com/safesend/safesend/internal/logger"
	"github.com/safesend/safesend/internal/media"
	"github.com/safesend/safesend/internal/mediatest"
	"github.com/safesend/safesend/internal/outcome"
	"github.com/safesend/safesend/internal/pipeline"
	"github.com/safesend/safesend/internal/validate"
	"github.com/safesend/safesend/internal/workspace"
)

func newTestEcho(t *testing.T, mutate func(*config.Config)) *echo.Echo {
	t.Helper()
	cfg := config.Default()
	if mutate != nil {
		mutate(&cfg)
	}
	fsys := afero.NewOsFs()
	ws, err := workspace.New(logger.Discard(), fsys, workspace.Options{Dir: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })
	v := validate.New(logger.Discard(), fsys, cfg.Sanitizer)
	rm := media.NewRemover(logger.Discard(), v, fsys, nil, cfg.Sanitizer)
	svc := pipeline.NewService(logger.Discard(), ws, rm, cfg.Pipeline)

	e := echo.New()
	NewSanitizeHandler(logger.Discard(), svc).Register(e)
	NewPingHandler(logger.Discard(), nil).Register(e)
	return e
}

func multipartRequest(t *testing.T, path, field, filename string, data []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	require.NoError(t, w.WriteField("note", "ignored"))
	fw, err := w.CreateFormFile(field, filename)
	require.NoError(t, err)
	_, err = fw.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, path, &body)
	req.Header.Set(echo.HeaderContentType, w.FormDataContentType())
	return req
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestSanitizeImage(t *testing.T) {
	t.Parallel()

	e := newTestEcho(t, nil)
	req := multipartRequest(t, "/v1/sanitize/image", "file", "holiday.png",
		mediatest.PNGWithMetadata(t, mediatest.Gradient(24, 24)))
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "image/jpeg", rec.Header().Get(echo.HeaderContentType))
	assert.Equal(t, `attachment; filename=cleaned_holiday.jpg`, rec.Header().Get(echo.HeaderContentDisposition))
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))

	rep, err := inspect.Bytes(rec.Body.Bytes())
	require.NoError(t, err)
	assert.Equal(t, "JPEG", rep.Format)
	assert.True(t, rep.Clean(), rep.String())
}

func TestSanitizeFailures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		path   string
		field  string
		file   string
		data   []byte
		status int
		kind   outcome.Kind
	}{
		{"missing field", "/v1/sanitize/image", "upload", "a.jpg", []byte("x"), http.StatusBadRequest, outcome.KindNone},
		{"corrupt image", "/v1/sanitize/image", "file", "a.jpg", []byte("definitely not a jpeg"), http.StatusUnprocessableEntity, outcome.KindCorrupt},
		{"empty", "/v1/sanitize/image", "file", "a.jpg", nil, http.StatusUnprocessableEntity, outcome.KindEmpty},
		{"too large", "/v1/sanitize/image", "file", "a.jpg", make([]byte, 5000), http.StatusRequestEntityTooLarge, outcome.KindTooLarge},
		{"video extension", "/v1/sanitize/video", "file", "clip.webm", []byte("data"), http.StatusUnsupportedMediaType, outcome.KindUnsupportedFormat},
		{"no video tool", "/v1/sanitize/video", "file", "clip.mp4", mediatest.MP4WithComment(), http.StatusServiceUnavailable, outcome.KindToolUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			e := newTestEcho(t, func(c *config.Config) { c.Sanitizer.MaxFileSize = 4096 })
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, multipartRequest(t, tt.path, tt.field, tt.file, tt.data))

			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			resp := decodeError(t, rec)
			assert.NotEmpty(t, resp.Message)
			assert.Equal(t, string(tt.kind), resp.Kind)
		})
	}
}

func TestSanitizeNotMultipart(t *testing.T) {
	t.Parallel()

	e := newTestEcho(t, nil)
	req := httptest.NewRequest(http.MethodPost, "/v1/sanitize/image", strings.NewReader("raw"))
	req.Header.Set(echo.HeaderContentType, "image/jpeg")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSanitizeBase64(t *testing.T) {
	t.Parallel()

	e := newTestEcho(t, nil)
	src := mediatest.JPEGWithMetadata(t, 32, 32)
	payload, err := json.Marshal(SanitizeBase64Request{
		Kind:     "image",
		Filename: "me.jpg",
		Data:     "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(src),
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/v1/sanitize/base64", bytes.NewReader(payload))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp SanitizeBase64Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "cleaned_me.jpg", resp.Filename)
	assert.Equal(t, "image/jpeg", resp.Mime)
	require.True(t, strings.HasPrefix(resp.Data, "data:image/jpeg;base64,"))

	cleaned, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(resp.Data, "data:image/jpeg;base64,"))
	require.NoError(t, err)
	assert.Equal(t, resp.Size, int64(len(cleaned)))
	rep, err := inspect.Bytes(cleaned)
	require.NoError(t, err)
	assert.True(t, rep.Clean(), rep.String())
}

func TestSanitizeBase64BadRequests(t *testing.T) {
	t.Parallel()

	e := newTestEcho(t, nil)
	for _, body := range []string{
		`{"kind":"audio","data":"AAAA"}`,
		`{"kind":"image","data":""}`,
		`{not json`,
	} {
		req := httptest.NewRequest(http.MethodPost, "/v1/sanitize/base64", strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
	}
}

func TestPing(t *testing.T) {
	t.Parallel()

	e := newTestEcho(t, nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ping", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodHead, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	var health HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, "unavailable", health.Video)
}

func TestHealthProbe(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct {
		probe ProbeFunc
		want  string
	}{
		{func(context.Context) error { return nil }, "available"},
		{func(context.Context) error { return errors.New("exec: not found") }, "unavailable"},
	} {
		e := echo.New()
		NewPingHandler(logger.Discard(), tc.probe).Register(e)
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
		require.Equal(t, http.StatusOK, rec.Code)
		var health HealthResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
		assert.Equal(t, tc.want, health.Video)
	}
}

func TestStatusFor(t *testing.T) {
	t.Parallel()

	cases := map[outcome.Kind]int{
		outcome.KindNone:              http.StatusOK,
		outcome.KindTooLarge:          http.StatusRequestEntityTooLarge,
		outcome.KindUnsupportedFormat: http.StatusUnsupportedMediaType,
		outcome.KindCorrupt:           http.StatusUnprocessableEntity,
		outcome.KindEmpty:             http.StatusUnprocessableEntity,
		outcome.KindToolUnavailable:   http.StatusServiceUnavailable,
		outcome.KindTimeout:           http.StatusGatewayTimeout,
		outcome.KindCanceled:          http.StatusRequestTimeout,
		outcome.KindProcessingFailed:  http.StatusInternalServerError,
		outcome.KindOutputNotCreated:  http.StatusInternalServerError,
	}
	for kind, want := range cases {
		assert.Equal(t, want, StatusFor(kind), string(kind))
	}
}
