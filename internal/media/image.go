package media

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"image/jpeg"
	"io"
	"log/slog"
	"os"

	// Decoders for every format the allow-set may name.
	_ "image/gif"
	_ "image/png"

	_ "golang.org/x/image/webp"

	"github.com/safesend/safesend/internal/outcome"
	"github.com/safesend/safesend/internal/validate"
)

// JPEGQuality is the fixed re-encode quality.
const JPEGQuality = 95

// RemoveImageMetadata writes a metadata-free JPEG of input to output.
//
// The chain is exists -> size -> format; any failure short-circuits. Images
// over the pixel cap are refused before decoding, and decoding waits until
// the shared pixel budget has room for this image. The decoded pixels are
// copied into a fresh RGB buffer (alpha and palette images are flattened onto
// white) and encoded at quality 95. Go's JPEG encoder
// emits no APPn segments, so the output carries no EXIF, XMP, ICC, IPTC or
// thumbnail data.
func (r *Remover) RemoveImageMetadata(ctx context.Context, input, output string) (res outcome.Result) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("image processing panicked", slog.Any("panic", p))
			r.discardPartial(output)
			res = outcome.Fail(outcome.KindProcessingFailed, "Failed to process image")
		}
	}()

	res = validate.Chain(
		func() outcome.Result { return r.validator.FileExists(input) },
		func() outcome.Result { return r.validator.FileSize(input, 0) },
		func() outcome.Result { return r.validator.ImageFormat(input) },
	)
	if !res.OK() {
		return res
	}
	if err := ctx.Err(); err != nil {
		return canceled(err)
	}

	src, release, err := r.decodeImage(ctx, input)
	if err != nil {
		if errors.Is(err, errImageTooLarge) {
			return outcome.Fail(outcome.KindTooLarge, "Image dimensions are too large")
		}
		if ctx.Err() != nil {
			return canceled(ctx.Err())
		}
		r.logger.Error("error decoding image", slog.Any("error", err))
		return outcome.Fail(outcome.KindProcessingFailed, "Failed to process image: "+detail(err))
	}
	defer release()
	if err := ctx.Err(); err != nil {
		return canceled(err)
	}

	clean := Rematerialize(src)

	if err := r.encodeJPEG(output, clean); err != nil {
		r.logger.Error("error encoding image", slog.Any("error", err))
		r.discardPartial(output)
		return outcome.Fail(outcome.KindProcessingFailed, "Failed to process image: "+detail(err))
	}

	if !r.outputCreated(output) {
		return outcome.Fail(outcome.KindOutputNotCreated, "Output file was not created properly")
	}
	r.logger.Info("successfully removed metadata from image",
		slog.Int("width", clean.Bounds().Dx()), slog.Int("height", clean.Bounds().Dy()))
	return outcome.OK()
}

var errImageTooLarge = errors.New("image dimensions exceed limit")

// decodeImage decodes path once its pixels fit the shared budget. release
// returns them and must be called when the caller is done with the image.
func (r *Remover) decodeImage(ctx context.Context, path string) (img image.Image, release func(), err error) {
	f, err := r.fs.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	cfg, _, err := image.DecodeConfig(bufio.NewReader(f))
	if err != nil {
		return nil, nil, fmt.Errorf("decode config: %w", err)
	}
	pixels := max(int64(cfg.Width)*int64(cfg.Height), 1)
	if pixels > r.maxPixels {
		return nil, nil, errImageTooLarge
	}
	if err := r.pixels.Acquire(ctx, pixels); err != nil {
		return nil, nil, err
	}
	release = func() { r.pixels.Release(pixels) }

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		release()
		return nil, nil, err
	}
	img, _, err = image.Decode(bufio.NewReader(f))
	if err != nil {
		release()
		return nil, nil, fmt.Errorf("decode: %w", err)
	}
	return img, release, nil
}

func (r *Remover) encodeJPEG(path string, img image.Image) error {
	f, err := r.fs.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	if err := jpeg.Encode(w, img, &jpeg.Options{Quality: JPEGQuality}); err != nil {
		_ = f.Close()
		return fmt.Errorf("encode: %w", err)
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// Rematerialize copies the pixels of src into a brand-new RGBA buffer anchored
// at the origin. Sources that may carry transparency (alpha or palette
// models) are composited over opaque white; the result is always opaque.
func Rematerialize(src image.Image) *image.RGBA {
	b := src.Bounds()
	clean := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	if needsFlatten(src) {
		draw.Draw(clean, clean.Bounds(), image.White, image.Point{}, draw.Src)
		draw.Draw(clean, clean.Bounds(), src, b.Min, draw.Over)
	} else {
		draw.Draw(clean, clean.Bounds(), src, b.Min, draw.Src)
	}
	return clean
}

func needsFlatten(src image.Image) bool {
	if _, ok := src.(*image.Paletted); ok {
		return true
	}
	if o, ok := src.(interface{ Opaque() bool }); ok {
		return !o.Opaque()
	}
	return true
}

func canceled(err error) outcome.Result {
	if errors.Is(err, context.DeadlineExceeded) {
		return outcome.Fail(outcome.KindTimeout, "Processing took too long. Try again.")
	}
	return outcome.Fail(outcome.KindCanceled, "Request was canceled")
}
