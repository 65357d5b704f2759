package attachment

import (
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"
)

// ImageTransform bounds image dimensions and re-encodes the result.
type ImageTransform struct {
	// MaxDim is the longest allowed edge in pixels. Zero keeps the size.
	MaxDim int
	// Quality is the JPEG quality, 1-100.
	Quality int
}

// Extension returns the extension Apply will produce for src: PNG sources
// stay PNG to keep transparency, everything else becomes JPEG.
func (t ImageTransform) Extension(src string) (string, error) {
	f, err := os.Open(src)
	if err != nil {
		return "", fmt.Errorf("failed to open image: %w", err)
	}
	defer f.Close()

	_, format, err := image.DecodeConfig(f)
	if err != nil {
		return "", fmt.Errorf("failed to decode image: %w", err)
	}
	if format == "png" {
		return ".png", nil
	}
	return ".jpg", nil
}

// Apply decodes the image at src, honoring EXIF orientation, shrinks it to
// fit MaxDim and writes it to w in the format named by ext.
func (t ImageTransform) Apply(src, ext string, w io.Writer) error {
	img, err := imaging.Open(src, imaging.AutoOrientation(true))
	if err != nil {
		return fmt.Errorf("failed to decode image: %w", err)
	}

	bounds := img.Bounds()
	if t.MaxDim > 0 && (bounds.Dx() > t.MaxDim || bounds.Dy() > t.MaxDim) {
		img = imaging.Fit(img, t.MaxDim, t.MaxDim, imaging.Lanczos)
	}

	if ext == ".png" {
		if err := imaging.Encode(w, img, imaging.PNG); err != nil {
			return fmt.Errorf("failed to encode image: %w", err)
		}
		return nil
	}

	quality := t.Quality
	if quality <= 0 || quality > 100 {
		quality = 80
	}
	if err := imaging.Encode(w, img, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
		return fmt.Errorf("failed to encode image: %w", err)
	}
	return nil
}
