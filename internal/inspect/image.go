package inspect

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	exif "github.com/dsoprea/go-exif/v3"
	jpegstructure "github.com/dsoprea/go-jpeg-image-structure/v2"
	pngstructure "github.com/dsoprea/go-png-image-structure/v2"
	"golang.org/x/image/riff"
)

var pngSignature = []byte("\x89PNG\r\n\x1a\n")

const (
	tagGPSInfo             = 0x8825
	tagJPEGInterchangeFmt  = 0x0201
	tagJPEGInterchangeSize = 0x0202
)

var exifHeader = []byte("Exif\x00\x00")

func scanJPEG(b []byte, rep *Report) error {
	mc, err := jpegstructure.NewJpegMediaParser().ParseBytes(b)
	sl, ok := mc.(*jpegstructure.SegmentList)
	if !ok || sl == nil {
		if err == nil {
			err = errors.New("no segments")
		}
		return fmt.Errorf("%w: jpeg: %v", ErrTruncated, err)
	}
	for _, s := range sl.Segments() {
		classifyJPEG(s.MarkerId, s.Data, int64(s.Offset), int64(len(s.Data)+4), rep)
	}
	if err != nil {
		return fmt.Errorf("%w: jpeg: %v", ErrTruncated, err)
	}
	if !bytes.HasSuffix(b, []byte{0xFF, 0xD9}) {
		return fmt.Errorf("%w: jpeg: missing end of image", ErrTruncated)
	}
	return nil
}

func classifyJPEG(m byte, p []byte, off, size int64, rep *Report) {
	where := fmt.Sprintf("APP%d", int(m)-0xE0)
	switch {
	case m == 0xE0:
		if bytes.HasPrefix(p, []byte("JFXX\x00")) {
			rep.add(KindThumbnail, where, off, size)
		} else if bytes.HasPrefix(p, []byte("JFIF\x00")) && len(p) >= 14 && int(p[12])*int(p[13]) > 0 {
			rep.add(KindThumbnail, where, off, size)
		}
	case m == 0xE1:
		switch {
		case bytes.HasPrefix(p, exifHeader):
			rep.add(KindEXIF, where, off, size)
			gps, thumb := scanEXIF(p[len(exifHeader):])
			rep.GPS = rep.GPS || gps
			if thumb {
				rep.add(KindThumbnail, where+"/IFD1", off, size)
			}
		case bytes.HasPrefix(p, []byte("http://ns.adobe.com/")):
			rep.add(KindXMP, where, off, size)
		default:
			rep.add(KindAPP, where, off, size)
		}
	case m == 0xE2:
		switch {
		case bytes.HasPrefix(p, []byte("ICC_PROFILE\x00")):
			rep.add(KindICC, where, off, size)
		case bytes.HasPrefix(p, []byte("MPF\x00")):
			rep.add(KindMPF, where, off, size)
		default:
			rep.add(KindAPP, where, off, size)
		}
	case m == 0xED:
		if bytes.HasPrefix(p, []byte("Photoshop 3.0\x00")) {
			rep.add(KindIPTC, where, off, size)
		} else {
			rep.add(KindAPP, where, off, size)
		}
	case m == 0xEE && bytes.HasPrefix(p, []byte("Adobe")):
		// colour transform flags only
	case m > 0xE0 && m <= 0xEF:
		rep.add(KindAPP, where, off, size)
	case m == 0xFE:
		rep.add(KindComment, "COM", off, size)
	}
}

// scanEXIF reports whether a TIFF-structured EXIF block carries GPS tags and
// whether it embeds a thumbnail. An unparseable block reports neither; the
// block itself is still a carrier.
func scanEXIF(raw []byte) (gps, thumbnail bool) {
	tags, _, err := exif.GetFlatExifData(raw, nil)
	if err != nil {
		return false, false
	}
	for _, t := range tags {
		switch {
		case strings.Contains(t.IfdPath, "GPS"), t.TagId == tagGPSInfo:
			gps = true
		case t.TagId == tagJPEGInterchangeFmt, t.TagId == tagJPEGInterchangeSize:
			thumbnail = true
		}
	}
	return gps, thumbnail
}

func scanPNG(b []byte, rep *Report) error {
	mc, err := pngstructure.NewPngMediaParser().ParseBytes(b)
	if err != nil {
		return fmt.Errorf("%w: png: %v", ErrTruncated, err)
	}
	cs, ok := mc.(*pngstructure.ChunkSlice)
	if !ok || cs == nil {
		return fmt.Errorf("%w: png: no chunks", ErrTruncated)
	}
	for _, c := range cs.Chunks() {
		off, size := int64(c.Offset), int64(c.Length)+12
		switch c.Type {
		case "eXIf":
			rep.add(KindEXIF, c.Type, off, size)
			gps, _ := scanEXIF(c.Data)
			rep.GPS = rep.GPS || gps
		case "iCCP":
			rep.add(KindICC, c.Type, off, size)
		case "iTXt":
			if bytes.HasPrefix(c.Data, []byte("XML:com.adobe.xmp\x00")) {
				rep.add(KindXMP, c.Type, off, size)
			} else {
				rep.add(KindText, c.Type, off, size)
			}
		case "tEXt", "zTXt":
			rep.add(KindText, c.Type, off, size)
		case "tIME":
			rep.add(KindTimestamp, c.Type, off, size)
		}
	}
	return nil
}

// maxWEBPChunk bounds how much of a single metadata chunk is read.
const maxWEBPChunk = 16 << 20

func scanWEBP(b []byte, rep *Report) error {
	form, chunks, err := riff.NewReader(bytes.NewReader(b))
	if err != nil {
		return fmt.Errorf("%w: webp: %v", ErrTruncated, err)
	}
	if string(form[:]) != "WEBP" {
		return ErrUnsupported
	}
	off := int64(12)
	for {
		id, n, data, err := chunks.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%w: webp: %v", ErrTruncated, err)
		}
		size := int64(n) + 8
		switch string(id[:]) {
		case "EXIF":
			rep.add(KindEXIF, "EXIF", off, size)
			if n <= maxWEBPChunk {
				payload, err := io.ReadAll(data)
				if err != nil {
					return fmt.Errorf("%w: webp: %v", ErrTruncated, err)
				}
				gps, _ := scanEXIF(bytes.TrimPrefix(payload, exifHeader))
				rep.GPS = rep.GPS || gps
			}
		case "XMP ":
			rep.add(KindXMP, "XMP", off, size)
		case "ICCP":
			rep.add(KindICC, "ICCP", off, size)
		}
		off += size + int64(n%2)
	}
}
