// Package mediatest synthesizes media fixtures carrying known metadata, and a
// scriptable stand-in for the ffmpeg binary. Test-only.
package mediatest

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"image"
	"image/color"
	"image/gif"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

// Marker strings embedded in fixtures; their absence in output proves removal.
const (
	GPSMarker     = "N\x00"
	XMPMarker     = "<x:xmpmeta creator=\"SafeSendTestDevice\"/>"
	ICCMarker     = "ICC_PROFILE\x00"
	CommentMarker = "shot-on-test-phone"
	TextMarker    = "Author=Jane Doe"
)

// Gradient returns a deterministic RGBA test image.
func Gradient(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 255 / max(w, 1)), G: uint8(y * 255 / max(h, 1)), B: 128, A: 255})
		}
	}
	return img
}

// JPEG encodes img without any metadata.
func JPEG(t testing.TB, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		t.Fatalf("encode jpeg: %v", err)
	}
	return buf.Bytes()
}

// JPEGWithMetadata returns a w x h JPEG carrying an EXIF block with a GPS IFD,
// an XMP packet, an ICC profile segment, a Photoshop/IPTC block and a COM
// comment, all inserted right after SOI.
func JPEGWithMetadata(t testing.TB, w, h int) []byte {
	t.Helper()
	plain := JPEG(t, Gradient(w, h))
	var segs bytes.Buffer
	segs.Write(jpegSegment(0xE1, append([]byte("Exif\x00\x00"), ExifWithGPS()...)))
	segs.Write(jpegSegment(0xE1, append([]byte("http://ns.adobe.com/xap/1.0/\x00"), []byte(XMPMarker)...)))
	segs.Write(jpegSegment(0xE2, append([]byte(ICCMarker+"\x01\x01"), bytes.Repeat([]byte{0x42}, 128)...)))
	segs.Write(jpegSegment(0xED, append([]byte("Photoshop 3.0\x008BIM\x04\x04\x00\x00\x00\x00\x00\x04"), []byte("IPTC")...)))
	segs.Write(jpegSegment(0xFE, []byte(CommentMarker)))

	out := make([]byte, 0, len(plain)+segs.Len())
	out = append(out, plain[:2]...)
	out = append(out, segs.Bytes()...)
	out = append(out, plain[2:]...)
	return out
}

// ExifWithGPS returns a big-endian TIFF structure whose IFD0 points at a GPS
// IFD holding GPSLatitudeRef = "N".
func ExifWithGPS() []byte {
	var b bytes.Buffer
	be := binary.BigEndian
	b.WriteString("MM")
	_ = binary.Write(&b, be, uint16(42))
	_ = binary.Write(&b, be, uint32(8))
	// IFD0: one entry, GPSInfo pointer.
	_ = binary.Write(&b, be, uint16(1))
	_ = binary.Write(&b, be, uint16(0x8825))
	_ = binary.Write(&b, be, uint16(4))
	_ = binary.Write(&b, be, uint32(1))
	_ = binary.Write(&b, be, uint32(26))
	_ = binary.Write(&b, be, uint32(0))
	// GPS IFD at offset 26: GPSLatitudeRef.
	_ = binary.Write(&b, be, uint16(1))
	_ = binary.Write(&b, be, uint16(0x0001))
	_ = binary.Write(&b, be, uint16(2))
	_ = binary.Write(&b, be, uint32(2))
	b.WriteString(GPSMarker + "\x00\x00")
	_ = binary.Write(&b, be, uint32(0))
	return b.Bytes()
}

func jpegSegment(marker byte, payload []byte) []byte {
	seg := []byte{0xFF, marker, 0, 0}
	binary.BigEndian.PutUint16(seg[2:], uint16(len(payload)+2))
	return append(seg, payload...)
}

// PNG encodes img without any metadata.
func PNG(t testing.TB, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

// PNGWithMetadata encodes img and inserts tEXt, eXIf and iCCP chunks after IHDR.
func PNGWithMetadata(t testing.TB, img image.Image) []byte {
	t.Helper()
	plain := PNG(t, img)
	const ihdrEnd = 8 + 4 + 4 + 13 + 4
	var chunks bytes.Buffer
	chunks.Write(pngChunk("tEXt", []byte("Author\x00Jane Doe")))
	chunks.Write(pngChunk("eXIf", ExifWithGPS()))
	chunks.Write(pngChunk("iCCP", append([]byte("sRGB\x00\x00"), bytes.Repeat([]byte{0x78}, 16)...)))

	out := make([]byte, 0, len(plain)+chunks.Len())
	out = append(out, plain[:ihdrEnd]...)
	out = append(out, chunks.Bytes()...)
	out = append(out, plain[ihdrEnd:]...)
	return out
}

// APNG encodes img and inserts an acTL chunk after IHDR, which is all it takes
// for sniffers to report an animated PNG.
func APNG(t testing.TB, img image.Image) []byte {
	t.Helper()
	plain := PNG(t, img)
	const ihdrEnd = 8 + 4 + 4 + 13 + 4
	actl := pngChunk("acTL", []byte{0, 0, 0, 1, 0, 0, 0, 0})

	out := make([]byte, 0, len(plain)+len(actl))
	out = append(out, plain[:ihdrEnd]...)
	out = append(out, actl...)
	out = append(out, plain[ihdrEnd:]...)
	return out
}

func pngChunk(typ string, data []byte) []byte {
	out := make([]byte, 8, 12+len(data))
	binary.BigEndian.PutUint32(out[:4], uint32(len(data)))
	copy(out[4:8], typ)
	out = append(out, data...)
	crc := crc32.NewIEEE()
	crc.Write(out[4:])
	return binary.BigEndian.AppendUint32(out, crc.Sum32())
}

// TransparentNRGBA returns an image whose left half is fully transparent red
// and whose right half is opaque blue.
func TransparentNRGBA(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if x < w/2 {
				img.SetNRGBA(x, y, color.NRGBA{R: 255, A: 0})
			} else {
				img.SetNRGBA(x, y, color.NRGBA{B: 255, A: 255})
			}
		}
	}
	return img
}

// Paletted returns a two-colour palette image (black/green stripes).
func Paletted(w, h int) *image.Paletted {
	img := image.NewPaletted(image.Rect(0, 0, w, h), color.Palette{color.Black, color.RGBA{G: 255, A: 255}})
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetColorIndex(x, y, uint8(y%2))
		}
	}
	return img
}

// GIF encodes a small palette image as GIF.
func GIF(t testing.TB) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := gif.Encode(&buf, Paletted(8, 8), nil); err != nil {
		t.Fatalf("encode gif: %v", err)
	}
	return buf.Bytes()
}

// MP4WithComment builds a minimal ISO-BMFF byte stream: ftyp, a moov holding
// an mvhd and a udta/©cmt comment atom, and an mdat.
func MP4WithComment() []byte {
	cmt := box("\xa9cmt", []byte(CommentMarker))
	udta := box("udta", cmt)
	mvhd := box("mvhd", make([]byte, 100))
	moov := box("moov", append(mvhd, udta...))
	ftyp := box("ftyp", []byte("isom\x00\x00\x02\x00isomiso2mp41"))
	mdat := box("mdat", bytes.Repeat([]byte{0}, 64))
	out := append([]byte{}, ftyp...)
	out = append(out, moov...)
	return append(out, mdat...)
}

// MP4Clean is MP4WithComment without the udta atom.
func MP4Clean() []byte {
	mvhd := box("mvhd", make([]byte, 100))
	moov := box("moov", mvhd)
	ftyp := box("ftyp", []byte("isom\x00\x00\x02\x00isomiso2mp41"))
	mdat := box("mdat", bytes.Repeat([]byte{0}, 64))
	out := append([]byte{}, ftyp...)
	out = append(out, moov...)
	return append(out, mdat...)
}

func box(typ string, payload []byte) []byte {
	out := make([]byte, 8, 8+len(payload))
	binary.BigEndian.PutUint32(out[:4], uint32(8+len(payload)))
	copy(out[4:8], typ)
	return append(out, payload...)
}

// WriteFile writes data under dir and returns the path.
func WriteFile(t testing.TB, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	return path
}

// FakeFFmpeg behaviours.
const (
	// FFmpegCopy copies the -i input to the output path.
	FFmpegCopy = "copy"
	// FFmpegFail prints a diagnostic containing a path and exits 1.
	FFmpegFail = "fail"
	// FFmpegHang records its pid and sleeps far past any test timeout.
	FFmpegHang = "hang"
	// FFmpegNoOutput exits 0 without writing anything.
	FFmpegNoOutput = "nooutput"
	// FFmpegBrokenProbe fails the -version probe.
	FFmpegBrokenProbe = "brokenprobe"
)

// FakeFFmpeg writes an executable shell script standing in for ffmpeg and
// returns its path. Every invocation appends its argv to args.log next to the
// script; hang mode writes its pid to pid. Skips on Windows.
func FakeFFmpeg(t testing.TB, mode string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake ffmpeg needs a POSIX shell")
	}
	dir := t.TempDir()
	script := `#!/bin/sh
DIR="$(dirname "$0")"
echo "$@" >> "$DIR/args.log"
MODE="` + mode + `"
if [ "$1" = "-version" ]; then
  if [ "$MODE" = "brokenprobe" ]; then exit 1; fi
  echo "ffmpeg version 6.1-fake"
  exit 0
fi
IN=""
OUT=""
while [ $# -gt 0 ]; do
  if [ "$1" = "-i" ]; then IN="$2"; shift; fi
  OUT="$1"
  shift
done
case "$MODE" in
  copy) cat "$IN" > "$OUT" ;;
  fail) echo "Invalid data found when processing input $IN" >&2; exit 1 ;;
  hang) echo $$ > "$DIR/pid"; exec sleep 30 ;;
  nooutput) exit 0 ;;
esac
exit 0
`
	path := filepath.Join(dir, "ffmpeg")
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("write fake ffmpeg: %v", err)
	}
	return path
}
