package processing

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"

	"inventory-service/pkg/types"
)

// ErrDecode marks input that cannot be parsed as a supported raster image.
// A decode failure aborts the whole pipeline run.
var ErrDecode = errors.New("image decode failed")

const fetchTimeout = 30 * time.Second

// Processor handles image decoding, cropping and transport encoding.
type Processor struct{}

// NewProcessor creates a new image processor.
func NewProcessor() *Processor {
	return &Processor{}
}

// Decode parses raw bytes into an image. The format is sniffed from content,
// never trusted from a filename. PNG and JPEG are always supported; WebP is
// decoded through the registered decoder with an explicit fallback.
func (p *Processor) Decode(data []byte) (image.Image, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty input", ErrDecode)
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		// Some WebP variants slip past the registered decoder
		if img, werr := webp.Decode(bytes.NewReader(data)); werr == nil {
			return validateDecoded(img)
		}
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	return validateDecoded(img)
}

func validateDecoded(img image.Image) (image.Image, error) {
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, fmt.Errorf("%w: image has zero dimensions", ErrDecode)
	}
	return img, nil
}

// Crop extracts the sub-image for one normalized box. Coordinates are
// converted to pixels by truncation and clamped into the image bounds, so the
// result is always a well-formed rectangle. A box that degenerates to zero
// area after rounding yields an empty image, never an error.
func (p *Processor) Crop(img image.Image, box types.Box) image.Image {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()

	x0 := clampInt(int(box.XMin*float64(w)), 0, w)
	x1 := clampInt(int(box.XMax*float64(w)), 0, w)
	y0 := clampInt(int(box.YMin*float64(h)), 0, h)
	y1 := clampInt(int(box.YMax*float64(h)), 0, h)

	if x1 < x0 {
		x0, x1 = x1, x0
	}
	if y1 < y0 {
		y0, y1 = y1, y0
	}

	rect := image.Rect(x0, y0, x1, y1).Add(bounds.Min)
	return imaging.Crop(img, rect)
}

// EncodeForModel converts an image to base64 for sending to vision models,
// downscaling the long side to maxDim first when it exceeds it.
func (p *Processor) EncodeForModel(img image.Image, format string, maxDim, quality int) (string, error) {
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return "", fmt.Errorf("cannot encode empty image")
	}

	if maxDim > 0 {
		w, h := b.Dx(), b.Dy()
		if w > maxDim || h > maxDim {
			if w >= h {
				img = imaging.Resize(img, maxDim, 0, imaging.Lanczos)
			} else {
				img = imaging.Resize(img, 0, maxDim, imaging.Lanczos)
			}
		}
	}

	var buf bytes.Buffer
	switch strings.ToLower(format) {
	case "png":
		enc := png.Encoder{CompressionLevel: png.BestCompression}
		if err := enc.Encode(&buf, img); err != nil {
			return "", err
		}
	default: // jpg
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
			return "", err
		}
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// EncodeJPEG returns the image as JPEG bytes, the wire format the detection
// service expects.
func (p *Processor) EncodeJPEG(img image.Image, quality int) ([]byte, error) {
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, fmt.Errorf("cannot encode empty image")
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DataURL returns the image as an inline base64 JPEG data URL, or an empty
// string for a zero-area image.
func (p *Processor) DataURL(img image.Image, quality int) string {
	data, err := p.EncodeJPEG(img, quality)
	if err != nil {
		return ""
	}
	return "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(data)
}

// FetchImage downloads raw image bytes from an http(s) URL.
func (p *Processor) FetchImage(ctx context.Context, imageURL string) ([]byte, error) {
	parsed, err := url.Parse(imageURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %v", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("unsupported URL scheme: %s (only http and https are supported)", parsed.Scheme)
	}

	client := &http.Client{Timeout: fetchTimeout}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %v", err)
	}
	req.Header.Set("User-Agent", "inventory-service/1.0")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download image: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to download image: HTTP %d %s", resp.StatusCode, resp.Status)
	}

	contentType := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "image/") {
		return nil, fmt.Errorf("URL does not point to an image (Content-Type: %s)", contentType)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read image data: %v", err)
	}
	return data, nil
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
