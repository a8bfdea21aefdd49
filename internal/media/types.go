package media

import (
	"path/filepath"
	"strings"
)

// MediaType classifies the kind of media artifact a request carries.
type MediaType string

const (
	MediaTypeImage MediaType = "image"
	MediaTypeVideo MediaType = "video"
)

// Valid reports whether t names a kind the remover can process.
func (t MediaType) Valid() bool {
	return t == MediaTypeImage || t == MediaTypeVideo
}

// OutputExtension is the extension of the cleaned artifact: images are always
// re-encoded as JPEG and videos as MP4.
func (t MediaType) OutputExtension() string {
	if t == MediaTypeVideo {
		return ".mp4"
	}
	return ".jpg"
}

// OutputMime is the MIME type of the cleaned artifact.
func (t MediaType) OutputMime() string {
	if t == MediaTypeVideo {
		return "video/mp4"
	}
	return "image/jpeg"
}

// InputExtension picks the extension for the materialized input: the
// declared filename's extension when present, else one derived from mime,
// else the output extension.
func (t MediaType) InputExtension(name, mime string) string {
	if ext := strings.ToLower(filepath.Ext(strings.TrimSpace(name))); ext != "" {
		return ext
	}
	if ext := extensionFromMime(mime); ext != "" {
		return ext
	}
	return t.OutputExtension()
}

func extensionFromMime(mime string) string {
	switch strings.ToLower(strings.TrimSpace(mime)) {
	case "image/png":
		return ".png"
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	case "video/mp4":
		return ".mp4"
	case "video/quicktime":
		return ".mov"
	case "video/x-msvideo", "video/avi":
		return ".avi"
	case "video/x-matroska":
		return ".mkv"
	default:
		return ""
	}
}
