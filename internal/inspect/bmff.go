package inspect

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/abema/go-mp4"
)

const maxBoxDepth = 16

// maxKeysBox bounds how much of a QuickTime keys box is read.
const maxKeysBox = 1 << 20

var topLevelBoxes = map[string]struct{}{
	"ftyp": {}, "moov": {}, "mdat": {}, "free": {}, "skip": {}, "wide": {}, "pnot": {}, "uuid": {}, "meta": {},
}

func isBoxType(t string) bool {
	_, ok := topLevelBoxes[t]
	return ok
}

// containers are descended into; their own header carries nothing.
var containers = map[mp4.BoxType]struct{}{
	mp4.BoxTypeMoov(): {},
	mp4.BoxTypeTrak(): {},
	mp4.BoxTypeMdia(): {},
	mp4.BoxTypeMinf(): {},
	mp4.BoxTypeUdta(): {},
	mp4.BoxTypeMeta(): {},
	mp4.BoxTypeIlst(): {},
}

var (
	boxLocation = mp4.StrToBoxType("\xa9xyz")
	boxLoci     = mp4.StrToBoxType("loci")
	boxChapters = mp4.StrToBoxType("chpl")
	boxUUID     = mp4.StrToBoxType("uuid")
	boxXMP      = mp4.StrToBoxType("XMP_")
	boxHdlr     = mp4.StrToBoxType("hdlr")
	boxFree     = mp4.StrToBoxType("free")
)

func scanBoxes(r io.ReaderAt, size int64, rep *Report) error {
	sr := io.NewSectionReader(r, 0, size)
	_, err := mp4.ReadBoxStructure(sr, func(h *mp4.ReadHandle) (any, error) {
		bi := h.BoxInfo
		if int64(bi.Offset+bi.Size) > size {
			return nil, ErrTruncated
		}
		if len(h.Path) > maxBoxDepth {
			return nil, errors.New("bmff: boxes nested too deeply")
		}
		if _, ok := containers[bi.Type]; ok && bi.IsSupportedType() {
			return h.Expand()
		}
		classifyBox(h, rep)
		return nil, nil
	})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrTruncated):
		return err
	default:
		return fmt.Errorf("%w: mp4: %v", ErrTruncated, err)
	}
}

func boxPath(path mp4.BoxPath) string {
	parts := make([]string, len(path))
	for i, t := range path {
		parts[i] = t.String()
	}
	return strings.Join(parts, "/")
}

// within reports whether any ancestor of the current box has type t.
func within(path mp4.BoxPath, t mp4.BoxType) bool {
	for _, p := range path[:len(path)-1] {
		if p == t {
			return true
		}
	}
	return false
}

func classifyBox(h *mp4.ReadHandle, rep *Report) {
	bi := h.BoxInfo
	typ := bi.Type
	where := boxPath(h.Path)
	off, size := int64(bi.Offset), int64(bi.Size)

	var parent mp4.BoxType
	if len(h.Path) > 1 {
		parent = h.Path[len(h.Path)-2]
	}
	inUserData := within(h.Path, mp4.BoxTypeUdta())
	inMeta := within(h.Path, mp4.BoxTypeMeta())

	switch {
	case typ == boxLocation || typ == boxLoci:
		rep.add(KindLocation, where, off, size)
		rep.GPS = true
	case typ == boxChapters:
		rep.add(KindChapters, where, off, size)
	case typ == boxUUID:
		rep.add(KindUUID, where, off, size)
	case typ == boxXMP:
		rep.add(KindXMP, where, off, size)
	case typ == mp4.BoxTypeKeys():
		if keysMentionLocation(h) {
			rep.add(KindLocation, where, off, size)
			rep.GPS = true
		}
	case typ[0] == 0xA9:
		rep.add(KindTag, where, off, size)
	case parent == mp4.BoxTypeIlst():
		rep.add(KindTag, where, off, size)
	case inMeta && (typ == boxHdlr || typ == boxFree):
		// structural
	case inUserData && !inMeta:
		rep.add(KindUserData, where, off, size)
	}
}

func keysMentionLocation(h *mp4.ReadHandle) bool {
	if h.BoxInfo.Size > maxKeysBox {
		return false
	}
	var buf bytes.Buffer
	if _, err := h.ReadData(&buf); err != nil {
		return false
	}
	return bytes.Contains(buf.Bytes(), []byte("location"))
}
