// Package imaging shrinks and re-encodes chart screenshots before they are
// sent for analysis or stored.
package imaging

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"net/http"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

const (
	// DefaultMaxDimension bounds the longer side of a normalized image.
	DefaultMaxDimension = 1024
	// DefaultQuality is the JPEG quality used for re-encoding (0.85).
	DefaultQuality = 85
	// DefaultMaxPixels is the largest canvas, in pixels, that will be decoded.
	DefaultMaxPixels = 50_000_000

	mimeJPEG = "image/jpeg"
)

// ErrInvalidDataURL is returned by ParseDataURL for anything that is not a
// base64 data URL.
var ErrInvalidDataURL = errors.New("invalid data url")

// ErrTooLarge is returned when an image declares more pixels than MaxPixels.
var ErrTooLarge = errors.New("image too large")

// Normalizer resizes images so neither side exceeds MaxDimension.
type Normalizer struct {
	MaxDimension int
	Quality      int
	// MaxPixels bounds width*height of a source image before it is decoded.
	MaxPixels int
	logger    *zap.Logger
}

// Result is a normalized image. Fallback is set when the original bytes
// were passed through because decoding or encoding failed.
type Result struct {
	Data     []byte
	MIMEType string
	Width    int
	Height   int
	Fallback bool
}

// NewNormalizer returns a Normalizer, substituting defaults for zero values.
func NewNormalizer(maxDimension, quality int, logger *zap.Logger) *Normalizer {
	if maxDimension <= 0 {
		maxDimension = DefaultMaxDimension
	}
	if quality <= 0 || quality > 100 {
		quality = DefaultQuality
	}
	return &Normalizer{
		MaxDimension: maxDimension,
		Quality:      quality,
		MaxPixels:    DefaultMaxPixels,
		logger:       logger.Named("imaging"),
	}
}

// Normalize decodes data, scales it down to fit MaxDimension keeping the
// aspect ratio and re-encodes it as JPEG. Images already small enough are
// re-encoded but never upscaled. It does not fail: on any error the original
// bytes come back with a sniffed MIME type.
func (n *Normalizer) Normalize(data []byte) Result {
	out, err := n.normalize(data)
	if err != nil {
		n.logger.Warn("Image normalization failed, using original", zap.Error(err), zap.Int("bytes", len(data)))
		return Result{Data: data, MIMEType: http.DetectContentType(data), Fallback: true}
	}
	return out
}

func (n *Normalizer) normalize(data []byte) (Result, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return Result{}, fmt.Errorf("failed to read image header: %w", err)
	}
	if limit := n.MaxPixels; limit > 0 && int64(cfg.Width)*int64(cfg.Height) > int64(limit) {
		return Result{}, fmt.Errorf("%w: %dx%d exceeds %d pixels", ErrTooLarge, cfg.Width, cfg.Height, limit)
	}

	src, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return Result{}, fmt.Errorf("failed to decode image: %w", err)
	}

	b := src.Bounds()
	w, h := fit(b.Dx(), b.Dy(), n.MaxDimension)
	if w == 0 || h == 0 {
		return Result{}, fmt.Errorf("image %s has empty bounds", format)
	}

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	// JPEG has no alpha; paint transparent areas white like a browser canvas would.
	draw.Draw(dst, dst.Bounds(), image.White, image.Point{}, draw.Src)
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Over, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: n.Quality}); err != nil {
		return Result{}, fmt.Errorf("failed to encode jpeg: %w", err)
	}

	n.logger.Debug("Normalized image",
		zap.String("format", format),
		zap.Int("src_width", b.Dx()),
		zap.Int("src_height", b.Dy()),
		zap.Int("width", w),
		zap.Int("height", h),
	)
	return Result{Data: buf.Bytes(), MIMEType: mimeJPEG, Width: w, Height: h}, nil
}

// fit scales (w, h) so the longer side is at most limit.
func fit(w, h, limit int) (int, int) {
	if w <= limit && h <= limit {
		return w, h
	}
	if w >= h {
		return limit, max(1, h*limit/w)
	}
	return max(1, w*limit/h), limit
}

// DataURL renders the result as a base64 data URL.
func (r Result) DataURL() string {
	return "data:" + r.MIMEType + ";base64," + base64.StdEncoding.EncodeToString(r.Data)
}

// ParseDataURL decodes a "data:<mime>;base64,<payload>" string.
func ParseDataURL(s string) ([]byte, string, error) {
	rest, ok := strings.CutPrefix(s, "data:")
	if !ok {
		return nil, "", ErrInvalidDataURL
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return nil, "", ErrInvalidDataURL
	}
	mime, ok := strings.CutSuffix(meta, ";base64")
	if !ok {
		return nil, "", ErrInvalidDataURL
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrInvalidDataURL, err)
	}
	if mime == "" {
		mime = http.DetectContentType(data)
	}
	return data, mime, nil
}
