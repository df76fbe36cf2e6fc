// Package preview renders a normalized image and its box outline to a PNG
// so the operator can check a marking before it is filed.
package preview

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"math"
	"os"
	"path/filepath"

	"github.com/disintegration/imaging"
	colorful "github.com/lucasb-eyer/go-colorful"
	"github.com/mrsinham/dicomlabel/internal/intensity"
	"github.com/mrsinham/dicomlabel/internal/marker"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

var (
	// ErrShapeMismatch is returned when the mask and the image differ in size.
	ErrShapeMismatch = errors.New("mask shape does not match image")
	// ErrInvalidColor is returned for an outline colour that is not a hex colour.
	ErrInvalidColor = errors.New("invalid outline colour")
)

// Options controls how a preview is drawn.
type Options struct {
	// Zoom is an integer upscale factor; values below 1 are treated as 1.
	Zoom int
	// OutlineColor is a hex colour such as "#ff3030".
	OutlineColor string
	// Label is drawn in the top-left corner when non-empty.
	Label string
}

// DefaultOptions returns a 2x zoom with a red outline and no label.
func DefaultOptions() Options {
	return Options{
		Zoom:         2,
		OutlineColor: "#ff3030",
	}
}

// Validate checks the options without rendering anything.
func (o Options) Validate() error {
	if o.Zoom < 0 {
		return fmt.Errorf("preview zoom must be >= 0, got %d", o.Zoom)
	}
	_, err := parseColor(o.OutlineColor)
	return err
}

// Render maps img to 8-bit grey using its own minimum and maximum, paints the
// cells set in mask with the outline colour, then scales and labels it.
// A zero-sized mask draws no outline.
func Render(img intensity.NormalizedImage, mask marker.Mask, opts Options) (*image.NRGBA, error) {
	if img.Rows <= 0 || img.Cols <= 0 || len(img.Pixels) != img.Rows*img.Cols {
		return nil, fmt.Errorf("invalid image %dx%d with %d pixels", img.Rows, img.Cols, len(img.Pixels))
	}
	hasMask := mask.Rows != 0 || mask.Cols != 0
	if hasMask && (mask.Rows != img.Rows || mask.Cols != img.Cols) {
		return nil, fmt.Errorf("%w: mask %dx%d, image %dx%d", ErrShapeMismatch, mask.Rows, mask.Cols, img.Rows, img.Cols)
	}

	outline, err := parseColor(opts.OutlineColor)
	if err != nil {
		return nil, err
	}

	lo, hi := math.Inf(1), math.Inf(-1)
	for _, v := range img.Pixels {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	span := hi - lo

	canvas := image.NewNRGBA(image.Rect(0, 0, img.Cols, img.Rows))
	for y := 0; y < img.Rows; y++ {
		for x := 0; x < img.Cols; x++ {
			if hasMask && mask.At(x, y) != 0 {
				canvas.SetNRGBA(x, y, outline)
				continue
			}
			var gray uint8
			if span > 0 {
				gray = uint8(math.Round((img.At(x, y) - lo) / span * 255))
			}
			canvas.SetNRGBA(x, y, color.NRGBA{gray, gray, gray, 255})
		}
	}

	out := canvas
	if opts.Zoom > 1 {
		out = imaging.Resize(canvas, img.Cols*opts.Zoom, img.Rows*opts.Zoom, imaging.NearestNeighbor)
	}

	if opts.Label != "" {
		drawLabel(out, opts.Label)
	}
	return out, nil
}

// WriteFile renders a preview and saves it as PNG at path.
func WriteFile(path string, img intensity.NormalizedImage, mask marker.Mask, opts Options) error {
	rendered, err := Render(img, mask, opts)
	if err != nil {
		return err
	}
	return Save(path, rendered)
}

// Save writes an already rendered preview as PNG at path.
func Save(path string, rendered image.Image) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create preview directory: %w", err)
	}
	if err := imaging.Save(rendered, path); err != nil {
		return fmt.Errorf("save preview %s: %w", path, err)
	}
	return nil
}

func parseColor(hex string) (color.NRGBA, error) {
	if hex == "" {
		hex = DefaultOptions().OutlineColor
	}
	c, err := colorful.Hex(hex)
	if err != nil {
		return color.NRGBA{}, fmt.Errorf("%w %q: %v", ErrInvalidColor, hex, err)
	}
	r, g, b := c.RGB255()
	return color.NRGBA{R: r, G: g, B: b, A: 255}, nil
}

// drawLabel writes text near the top-left corner in white with a black outline.
func drawLabel(dst *image.NRGBA, text string) {
	face := basicfont.Face7x13
	x := 3
	y := 3 + face.Metrics().Ascent.Ceil()

	drawer := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(color.Black),
		Face: face,
	}
	for dx := -1; dx <= 1; dx++ {
		for dy := -1; dy <= 1; dy++ {
			if dx != 0 || dy != 0 {
				drawer.Dot = fixed.P(x+dx, y+dy)
				drawer.DrawString(text)
			}
		}
	}

	drawer.Src = image.NewUniform(color.White)
	drawer.Dot = fixed.P(x, y)
	drawer.DrawString(text)
}
