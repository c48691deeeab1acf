package imageutils

import (
	"bytes"
	"image"
	"image/draw"
	"image/jpeg"
	"image/png" // Import for PNG decoding support

	"github.com/ecom-agents/stylefinder/internal/logger"
)

const (
	// DefaultCropMargin expands a detector box by this fraction on each side
	// before cropping, so the subject is not cut flush at the box edge.
	DefaultCropMargin = 0.05

	// DefaultBottomCropFraction is the share of image height stripped from
	// the bottom of tall screenshots (mobile UI chrome below the photo).
	DefaultBottomCropFraction = 0.35

	// screenshotAspectThreshold: height/width above this is treated as a
	// mobile screenshot rather than a plain product photo.
	screenshotAspectThreshold = 1.5

	jpegQuality = 90
)

// Validate reports whether the payload decodes as a raster image. It never
// returns an error and has no side effects; truncated data and unsupported
// formats simply yield false.
func Validate(b []byte) bool {
	if len(b) == 0 {
		return false
	}
	_, _, err := image.Decode(bytes.NewReader(b))
	return err == nil
}

// CropToBox crops the image to a detector box given in the normalized 0-1000
// coordinate space (order: y-min, x-min, y-max, x-max), expanded by
// marginFraction of the box size on each side and clamped to the image
// bounds. The crop is re-encoded in the source format, falling back to JPEG
// when the format has no encoder.
//
// Cropping is a best-effort enhancement: on any failure the original bytes
// are returned unchanged.
func CropToBox(b []byte, box [4]int, marginFraction float64) []byte {
	img, format, err := image.Decode(bytes.NewReader(b))
	if err != nil {
		logger.SearchWarn("Crop skipped, image does not decode: %v", err)
		return b
	}

	bounds := img.Bounds()
	w := bounds.Dx()
	h := bounds.Dy()
	if w <= 0 || h <= 0 {
		return b
	}

	// Normalized 0-1000 -> pixel coordinates.
	y0 := box[0] * h / 1000
	x0 := box[1] * w / 1000
	y1 := box[2] * h / 1000
	x1 := box[3] * w / 1000
	if x1 <= x0 || y1 <= y0 {
		logger.SearchWarn("Crop skipped, degenerate box %v", box)
		return b
	}

	// Expand by marginFraction of the box size per side, clamped to bounds.
	mx := int(float64(x1-x0) * marginFraction)
	my := int(float64(y1-y0) * marginFraction)
	x0 = max(bounds.Min.X, x0-mx)
	y0 = max(bounds.Min.Y, y0-my)
	x1 = min(bounds.Max.X, x1+mx)
	y1 = min(bounds.Max.Y, y1+my)

	rect := image.Rect(x0, y0, x1, y1)
	cropped := image.NewRGBA(image.Rect(0, 0, rect.Dx(), rect.Dy()))
	draw.Draw(cropped, cropped.Bounds(), img, rect.Min, draw.Src)

	out, err := encodeAs(cropped, format)
	if err != nil {
		logger.SearchWarn("Crop skipped, re-encode failed: %v", err)
		return b
	}
	return out
}

// CropBottomIfScreenshot strips the bottom cropFraction of the image height
// when the image looks like a tall mobile screenshot. It returns the
// (possibly modified) bytes and whether a crop happened. It never fails: any
// internal error returns the input unchanged with false.
func CropBottomIfScreenshot(b []byte, cropFraction float64) ([]byte, bool) {
	img, format, err := image.Decode(bytes.NewReader(b))
	if err != nil {
		return b, false
	}

	bounds := img.Bounds()
	w := bounds.Dx()
	h := bounds.Dy()
	if w <= 0 || float64(h)/float64(w) <= screenshotAspectThreshold {
		return b, false
	}

	keep := h - int(float64(h)*cropFraction)
	if keep <= 0 || keep >= h {
		return b, false
	}

	rect := image.Rect(bounds.Min.X, bounds.Min.Y, bounds.Max.X, bounds.Min.Y+keep)
	cropped := image.NewRGBA(image.Rect(0, 0, rect.Dx(), rect.Dy()))
	draw.Draw(cropped, cropped.Bounds(), img, rect.Min, draw.Src)

	out, err := encodeAs(cropped, format)
	if err != nil {
		logger.SearchWarn("Bottom crop skipped, re-encode failed: %v", err)
		return b, false
	}
	return out, true
}

// IsTall reports whether height/width exceeds the given ratio. Undecodable
// payloads are never tall.
func IsTall(b []byte, ratio float64) bool {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(b))
	if err != nil || cfg.Width <= 0 {
		return false
	}
	return float64(cfg.Height)/float64(cfg.Width) > ratio
}

func encodeAs(img image.Image, format string) ([]byte, error) {
	var buf bytes.Buffer
	switch format {
	case "png":
		if err := png.Encode(&buf, img); err != nil {
			return nil, err
		}
	default:
		// JPEG is also the fallback for formats without an encoder (gif,
		// webp) so the crop still yields something the embedder accepts.
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}
