package capture

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"math"

	"github.com/kbinani/screenshot"
	"golang.org/x/image/draw"
)

// MaxWidth is the widest frame sent over the wire. Wider captures are scaled
// down proportionally before encoding.
const MaxWidth = 1280

// Capturer produces one raw screen image per call.
type Capturer interface {
	Capture() (image.Image, error)
}

// ScreenCapturer grabs the given display.
type ScreenCapturer struct {
	display int
}

func NewScreenCapturer(display int) *ScreenCapturer {
	return &ScreenCapturer{display: display}
}

func (c *ScreenCapturer) Capture() (image.Image, error) {
	if screenshot.NumActiveDisplays() <= c.display {
		return nil, fmt.Errorf("display %d not available", c.display)
	}
	img, err := screenshot.CaptureDisplay(c.display)
	if err != nil {
		return nil, fmt.Errorf("capture display %d: %w", c.display, err)
	}
	return img, nil
}

// Downscale returns img scaled so its width is at most maxWidth, preserving
// aspect ratio. Images already narrow enough are returned unchanged.
func Downscale(img image.Image, maxWidth int) image.Image {
	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()
	if width <= maxWidth {
		return img
	}
	newHeight := int(math.Round(float64(height) * float64(maxWidth) / float64(width)))
	scaled := image.NewRGBA(image.Rect(0, 0, maxWidth, newHeight))
	draw.CatmullRom.Scale(scaled, scaled.Bounds(), img, bounds, draw.Src, nil)
	return scaled
}

// EncodeJPEG compresses img with the given quality (1-100).
func EncodeJPEG(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

// Pipeline turns raw captures into wire-ready JPEG payloads.
type Pipeline struct {
	capturer Capturer
	quality  int
	maxWidth int
}

func NewPipeline(capturer Capturer, quality, maxWidth int) *Pipeline {
	return &Pipeline{capturer: capturer, quality: quality, maxWidth: maxWidth}
}

// NextFrame captures, downscales and encodes one frame.
func (p *Pipeline) NextFrame() ([]byte, error) {
	img, err := p.capturer.Capture()
	if err != nil {
		return nil, err
	}
	return EncodeJPEG(Downscale(img, p.maxWidth), p.quality)
}

func (p *Pipeline) Close() {}
