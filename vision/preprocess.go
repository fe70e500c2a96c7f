package vision

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"os"

	"golang.org/x/image/draw"
)

// Image preprocessing errors
var (
	ErrInvalidImage = errors.New("vision: invalid image data")
	ErrEmptyImage   = errors.New("vision: empty image data")
)

// DecodeImage decodes PNG, JPEG or GIF data.
func DecodeImage(data []byte) (image.Image, error) {
	if len(data) == 0 {
		return nil, ErrEmptyImage
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	return img, nil
}

// FitWithin scales img so its longer side is at most maxSide, keeping the
// aspect ratio. Images already small enough, or maxSide <= 0, are returned
// unchanged.
func FitWithin(img image.Image, maxSide int) image.Image {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	longest := max(width, height)
	if maxSide <= 0 || longest <= maxSide {
		return img
	}

	scale := float64(maxSide) / float64(longest)
	newWidth := max(1, int(float64(width)*scale))
	newHeight := max(1, int(float64(height)*scale))

	dst := image.NewRGBA(image.Rect(0, 0, newWidth, newHeight))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, bounds, draw.Over, nil)
	return dst
}

// EncodeDataURL returns a base64 PNG data URL for img.
func EncodeDataURL(img image.Image) (string, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", fmt.Errorf("encode png: %w", err)
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// PrepareImage reads an image file and returns it as a data URL, downscaled
// to maxSide when larger. PNG files that need no scaling are sent as-is.
func PrepareImage(path string, maxSide int) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read image %s: %w", path, err)
	}

	img, err := DecodeImage(data)
	if err != nil {
		return "", fmt.Errorf("%s: %w", path, err)
	}

	b := img.Bounds()
	if (maxSide <= 0 || max(b.Dx(), b.Dy()) <= maxSide) && bytes.HasPrefix(data, pngSignature) {
		return "data:image/png;base64," + base64.StdEncoding.EncodeToString(data), nil
	}
	return EncodeDataURL(FitWithin(img, maxSide))
}

var pngSignature = []byte("\x89PNG\r\n\x1a\n")
