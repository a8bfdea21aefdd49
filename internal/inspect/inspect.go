// Package inspect reports which metadata carriers a media file still holds.
//
// It walks container structure only (JPEG segments, PNG chunks, RIFF/WEBP
// chunks and ISO-BMFF boxes) and never decodes pixels or samples. Entropy
// coded data and mdat payloads are skipped, so a marker string appearing by
// chance inside image or video data is never reported. EXIF blocks are parsed
// only far enough to tell whether they hold GPS tags or a thumbnail.
package inspect

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/spf13/afero"
)

// Carrier kinds.
const (
	KindEXIF      = "exif"
	KindXMP       = "xmp"
	KindICC       = "icc"
	KindIPTC      = "iptc"
	KindComment   = "comment"
	KindThumbnail = "thumbnail"
	KindText      = "text"
	KindTimestamp = "timestamp"
	KindMPF       = "mpf"
	KindAPP       = "app"
	KindTag       = "tag"
	KindUserData  = "udta"
	KindChapters  = "chapters"
	KindLocation  = "location"
	KindUUID      = "uuid"
)

// MaxImageBytes bounds how much of an image container is read into memory.
const MaxImageBytes = 256 << 20

var (
	// ErrUnsupported is returned for containers the inspector cannot walk.
	ErrUnsupported = errors.New("unsupported container")
	// ErrTruncated is returned when the container ends early or a length
	// field is inconsistent with the data. The report holds what was found
	// before that point.
	ErrTruncated = errors.New("truncated container")
)

// Carrier is one metadata-bearing structure found in a file.
type Carrier struct {
	Kind   string `json:"kind"`
	Where  string `json:"where"`
	Offset int64  `json:"offset"`
	Size   int64  `json:"size"`
}

// Report is the result of inspecting one file.
type Report struct {
	Format   string    `json:"format"`
	MIME     string    `json:"mime"`
	Carriers []Carrier `json:"carriers"`
	GPS      bool      `json:"gps"`
}

// Clean reports whether no carrier was found.
func (r Report) Clean() bool {
	return len(r.Carriers) == 0 && !r.GPS
}

// Kinds returns the distinct carrier kinds, sorted.
func (r Report) Kinds() []string {
	seen := map[string]struct{}{}
	for _, c := range r.Carriers {
		seen[c.Kind] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Has reports whether a carrier of kind was found.
func (r Report) Has(kind string) bool {
	for _, c := range r.Carriers {
		if c.Kind == kind {
			return true
		}
	}
	return false
}

func (r Report) String() string {
	if r.Clean() {
		return r.Format + ": clean"
	}
	var b strings.Builder
	b.WriteString(r.Format)
	b.WriteString(":")
	for _, c := range r.Carriers {
		fmt.Fprintf(&b, " %s@%s", c.Kind, c.Where)
	}
	if r.GPS {
		b.WriteString(" [gps]")
	}
	return b.String()
}

func (r *Report) add(kind, where string, off, size int64) {
	r.Carriers = append(r.Carriers, Carrier{Kind: kind, Where: where, Offset: off, Size: size})
}

// Bytes inspects an in-memory file.
func Bytes(b []byte) (Report, error) {
	return Inspect(bytes.NewReader(b), int64(len(b)))
}

// File inspects path on fsys.
func File(fsys afero.Fs, path string) (Report, error) {
	f, err := fsys.Open(path)
	if err != nil {
		return Report{}, err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return Report{}, err
	}
	return Inspect(f, info.Size())
}

// Inspect walks the container in r, which holds size bytes.
func Inspect(r io.ReaderAt, size int64) (Report, error) {
	head := make([]byte, min(size, 3072))
	n, err := r.ReadAt(head, 0)
	if err != nil && !errors.Is(err, io.EOF) {
		return Report{}, err
	}
	head = head[:n]

	rep := Report{MIME: mimetype.Detect(head).String()}
	switch {
	case len(head) >= 3 && head[0] == 0xFF && head[1] == 0xD8 && head[2] == 0xFF:
		rep.Format = "JPEG"
		return rep, withImage(r, size, func(b []byte) error { return scanJPEG(b, &rep) })
	case bytes.HasPrefix(head, pngSignature):
		rep.Format = "PNG"
		return rep, withImage(r, size, func(b []byte) error { return scanPNG(b, &rep) })
	case len(head) >= 12 && string(head[:4]) == "RIFF" && string(head[8:12]) == "WEBP":
		rep.Format = "WEBP"
		return rep, withImage(r, size, func(b []byte) error { return scanWEBP(b, &rep) })
	case len(head) >= 8 && isBoxType(string(head[4:8])):
		rep.Format = "MP4"
		return rep, scanBoxes(r, size, &rep)
	}
	rep.Format = "UNKNOWN"
	return rep, ErrUnsupported
}

func withImage(r io.ReaderAt, size int64, scan func([]byte) error) error {
	if size > MaxImageBytes {
		return fmt.Errorf("image container exceeds %d bytes", MaxImageBytes)
	}
	buf := make([]byte, size)
	if _, err := r.ReadAt(buf, 0); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return scan(buf)
}
