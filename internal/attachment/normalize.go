// Package attachment classifies inbound files and normalizes their declared
// MIME types before they reach the sanitization pipeline.
package attachment

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/safesend/safesend/internal/media"
)

const sniffLen = 3072

// MapMediaType maps a transport attachment kind to a media type. Documents
// are classified by MIME, then by file extension. ok is false when the
// attachment is neither an image nor a video.
func MapMediaType(rawType, mime, filename string) (media.MediaType, bool) {
	switch strings.ToLower(strings.TrimSpace(rawType)) {
	case "image", "photo":
		return media.MediaTypeImage, true
	case "video", "video_note":
		return media.MediaTypeVideo, true
	}
	switch mime = NormalizeMime(mime); {
	case strings.HasPrefix(mime, "image/"):
		return media.MediaTypeImage, true
	case strings.HasPrefix(mime, "video/"):
		return media.MediaTypeVideo, true
	}
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".jpg", ".jpeg", ".png", ".webp":
		return media.MediaTypeImage, true
	case ".mp4", ".mov", ".avi", ".mkv":
		return media.MediaTypeVideo, true
	}
	return "", false
}

// NormalizeMime normalizes MIME to lowercase token form.
func NormalizeMime(raw string) string {
	mime := strings.ToLower(strings.TrimSpace(raw))
	if mime == "" {
		return ""
	}
	if idx := strings.Index(mime, ";"); idx >= 0 {
		mime = strings.TrimSpace(mime[:idx])
	}
	return mime
}

// MimeFromDataURL extracts MIME from a data URL.
func MimeFromDataURL(raw string) string {
	value := strings.TrimSpace(raw)
	if !strings.HasPrefix(strings.ToLower(value), "data:") {
		return ""
	}
	rest := value[len("data:"):]
	if idx := strings.IndexAny(rest, ";,"); idx >= 0 {
		return NormalizeMime(rest[:idx])
	}
	return ""
}

// ResolveMime picks the MIME to trust for a file of mediaType. Content wins
// over the client's claim when the claim does not match the media kind.
func ResolveMime(mediaType media.MediaType, sourceMime, sniffedMime string) string {
	source := NormalizeMime(sourceMime)
	sniffed := NormalizeMime(sniffedMime)
	prefix := string(mediaType) + "/"

	if strings.HasPrefix(sniffed, prefix) {
		return sniffed
	}
	if strings.HasPrefix(source, prefix) {
		return source
	}
	if sniffed != "" && sniffed != "application/octet-stream" {
		return sniffed
	}
	if source != "" {
		return source
	}
	return "application/octet-stream"
}

// PrepareReaderAndMime reads a prefix for content sniffing and replays it.
func PrepareReaderAndMime(reader io.Reader, mediaType media.MediaType, sourceMime string) (io.Reader, string, error) {
	if reader == nil {
		return nil, "", fmt.Errorf("reader is required")
	}
	header := make([]byte, sniffLen)
	n, err := io.ReadFull(reader, header)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return nil, "", fmt.Errorf("read mime sniff bytes: %w", err)
	}
	header = header[:n]
	sniffed := ""
	if len(header) > 0 {
		sniffed = NormalizeMime(mimetype.Detect(header).String())
	}
	finalMime := ResolveMime(mediaType, sourceMime, sniffed)
	return io.MultiReader(bytes.NewReader(header), reader), finalMime, nil
}

// NormalizeBase64DataURL normalizes raw base64 into a data URL.
func NormalizeBase64DataURL(input, mime string) string {
	value := strings.TrimSpace(input)
	if value == "" {
		return ""
	}
	if strings.HasPrefix(strings.ToLower(value), "data:") {
		return value
	}
	mime = NormalizeMime(mime)
	if mime == "" {
		mime = "application/octet-stream"
	}
	return "data:" + mime + ";base64," + value
}

// EncodeDataURL renders raw bytes as a base64 data URL.
func EncodeDataURL(data []byte, mime string) string {
	return NormalizeBase64DataURL(base64.StdEncoding.EncodeToString(data), mime)
}

// DecodeBase64 decodes both raw base64 and data URL base64 content.
// The returned reader is bounded to maxBytes+1 for caller-side size validation.
func DecodeBase64(input string, maxBytes int64) (io.Reader, error) {
	value := strings.TrimSpace(input)
	if value == "" {
		return nil, fmt.Errorf("base64 payload is empty")
	}
	if strings.HasPrefix(strings.ToLower(value), "data:") {
		if idx := strings.Index(value, ","); idx >= 0 {
			value = value[idx+1:]
		}
	}
	decoder := base64.NewDecoder(base64.StdEncoding, strings.NewReader(value))
	return io.LimitReader(decoder, maxBytes+1), nil
}
