package attachment

import (
	"io"
	"strings"
	"testing"

	"github.com/safesend/safesend/internal/media"
)

func TestMapMediaType(t *testing.T) {
	cases := []struct {
		name     string
		kind     string
		mime     string
		filename string
		want     media.MediaType
		ok       bool
	}{
		{name: "photo", kind: "photo", want: media.MediaTypeImage, ok: true},
		{name: "video", kind: "video", want: media.MediaTypeVideo, ok: true},
		{name: "video note", kind: "video_note", want: media.MediaTypeVideo, ok: true},
		{name: "document image mime", kind: "document", mime: "image/PNG", want: media.MediaTypeImage, ok: true},
		{name: "document video mime", kind: "document", mime: "video/quicktime", want: media.MediaTypeVideo, ok: true},
		{name: "document by extension", kind: "document", mime: "application/octet-stream", filename: "clip.MKV", want: media.MediaTypeVideo, ok: true},
		{name: "document image extension", kind: "document", filename: "IMG_0001.jpeg", want: media.MediaTypeImage, ok: true},
		{name: "pdf", kind: "document", mime: "application/pdf", filename: "a.pdf"},
		{name: "voice", kind: "voice", mime: "audio/ogg"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := MapMediaType(tc.kind, tc.mime, tc.filename)
			if got != tc.want || ok != tc.ok {
				t.Fatalf("MapMediaType(%q, %q, %q) = %q, %v; want %q, %v", tc.kind, tc.mime, tc.filename, got, ok, tc.want, tc.ok)
			}
		})
	}
}

func TestNormalizeBase64DataURL(t *testing.T) {
	got := NormalizeBase64DataURL("AAAA", "image/png")
	if got != "data:image/png;base64,AAAA" {
		t.Fatalf("unexpected normalized value: %q", got)
	}

	already := "data:image/jpeg;base64,BBBB"
	if NormalizeBase64DataURL(already, "image/png") != already {
		t.Fatalf("expected data url to pass through")
	}
}

func TestEncodeDataURL(t *testing.T) {
	got := EncodeDataURL([]byte("hello"), "Image/JPEG")
	if got != "data:image/jpeg;base64,aGVsbG8=" {
		t.Fatalf("EncodeDataURL unexpected result: %q", got)
	}
}

func TestNormalizeMime(t *testing.T) {
	got := NormalizeMime("IMAGE/JPEG; charset=utf-8")
	if got != "image/jpeg" {
		t.Fatalf("NormalizeMime unexpected result: %q", got)
	}
}

func TestMimeFromDataURL(t *testing.T) {
	got := MimeFromDataURL("data:image/png;base64,AAAA")
	if got != "image/png" {
		t.Fatalf("MimeFromDataURL unexpected result: %q", got)
	}
	if MimeFromDataURL("https://example.com/demo.png") != "" {
		t.Fatalf("MimeFromDataURL should return empty for non-data-url")
	}
}

func TestResolveMime(t *testing.T) {
	if got := ResolveMime(media.MediaTypeImage, "application/octet-stream", "image/jpeg"); got != "image/jpeg" {
		t.Fatalf("ResolveMime image unexpected result: %q", got)
	}
	if got := ResolveMime(media.MediaTypeImage, "image/png", "image/jpeg"); got != "image/jpeg" {
		t.Fatalf("ResolveMime should trust content over claim: %q", got)
	}
	if got := ResolveMime(media.MediaTypeVideo, "video/mp4", "application/octet-stream"); got != "video/mp4" {
		t.Fatalf("ResolveMime video unexpected result: %q", got)
	}
	if got := ResolveMime(media.MediaTypeImage, "", ""); got != "application/octet-stream" {
		t.Fatalf("ResolveMime empty unexpected result: %q", got)
	}
}

func TestPrepareReaderAndMime(t *testing.T) {
	reader, mime, err := PrepareReaderAndMime(strings.NewReader("\x89PNG\r\n\x1a\npayload"), media.MediaTypeImage, "")
	if err != nil {
		t.Fatalf("PrepareReaderAndMime returned error: %v", err)
	}
	if mime != "image/png" {
		t.Fatalf("PrepareReaderAndMime mime = %q, want image/png", mime)
	}
	raw, err := io.ReadAll(reader)
	if err != nil {
		t.Fatalf("read prepared reader failed: %v", err)
	}
	if string(raw) != "\x89PNG\r\n\x1a\npayload" {
		t.Fatalf("prepared reader lost bytes: %q", raw)
	}

	if _, _, err := PrepareReaderAndMime(nil, media.MediaTypeImage, ""); err == nil {
		t.Fatalf("expected nil reader to fail")
	}
}

func TestPrepareReaderAndMimeLongBody(t *testing.T) {
	body := strings.Repeat("x", sniffLen*3)
	reader, _, err := PrepareReaderAndMime(strings.NewReader(body), media.MediaTypeVideo, "video/mp4")
	if err != nil {
		t.Fatalf("PrepareReaderAndMime returned error: %v", err)
	}
	raw, err := io.ReadAll(reader)
	if err != nil {
		t.Fatalf("read prepared reader failed: %v", err)
	}
	if len(raw) != len(body) {
		t.Fatalf("prepared reader length = %d, want %d", len(raw), len(body))
	}
}

func TestDecodeBase64(t *testing.T) {
	reader, err := DecodeBase64("aGVsbG8=", 1024)
	if err != nil {
		t.Fatalf("DecodeBase64 returned error: %v", err)
	}
	raw, err := io.ReadAll(reader)
	if err != nil {
		t.Fatalf("read decoded bytes failed: %v", err)
	}
	if string(raw) != "hello" {
		t.Fatalf("decoded content = %q, want hello", string(raw))
	}

	reader, err = DecodeBase64("data:text/plain;base64,aGVsbG8=", 1024)
	if err != nil {
		t.Fatalf("DecodeBase64 with data URL returned error: %v", err)
	}
	raw, err = io.ReadAll(reader)
	if err != nil {
		t.Fatalf("read decoded data URL bytes failed: %v", err)
	}
	if string(raw) != "hello" {
		t.Fatalf("decoded data URL content = %q, want hello", string(raw))
	}

	reader, err = DecodeBase64("aGVsbG8=", 2)
	if err != nil {
		t.Fatalf("DecodeBase64 returned error: %v", err)
	}
	raw, _ = io.ReadAll(reader)
	if len(raw) != 3 {
		t.Fatalf("bounded reader returned %d bytes, want 3", len(raw))
	}

	_, err = DecodeBase64("", 1024)
	if err == nil {
		t.Fatalf("expected empty base64 to return error")
	}
}
