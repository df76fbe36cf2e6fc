package marker

import (
	"github.com/mrsinham/dicomlabel/internal/intensity"
)

// Shaped is implemented by any grid with a row/column shape.
type Shaped interface {
	Dimensions() (rows, cols int)
}

// Mask is a binary grid in row-major order holding 0 or 1 per cell.
type Mask struct {
	Rows int
	Cols int
	Bits []uint8
}

// NewMask allocates a zeroed mask.
func NewMask(rows, cols int) Mask {
	return Mask{Rows: rows, Cols: cols, Bits: make([]uint8, rows*cols)}
}

// Dimensions returns the grid shape.
func (m Mask) Dimensions() (rows, cols int) { return m.Rows, m.Cols }

// At returns the value at row y, column x.
func (m Mask) At(x, y int) uint8 { return m.Bits[y*m.Cols+x] }

// Count returns the number of set cells.
func (m Mask) Count() int {
	n := 0
	for _, b := range m.Bits {
		if b != 0 {
			n++
		}
	}
	return n
}

// Equal reports whether two masks have the same shape and cells.
func (m Mask) Equal(o Mask) bool {
	if m.Rows != o.Rows || m.Cols != o.Cols || len(m.Bits) != len(o.Bits) {
		return false
	}
	for i := range m.Bits {
		if m.Bits[i] != o.Bits[i] {
			return false
		}
	}
	return true
}

// Outline returns a copy of img with value 1 written along the box edges.
// Pixels away from the edges keep their original values.
func Outline(img intensity.NormalizedImage, box BoundingBox) (intensity.NormalizedImage, error) {
	if err := box.checkWithin(img.Rows, img.Cols); err != nil {
		return intensity.NormalizedImage{}, err
	}

	out := img.Clone()
	box.edgeCells(func(x, y int) {
		out.Pixels[y*out.Cols+x] = 1
	})
	return out, nil
}

// BoxMask returns a zero mask shaped like img with the box edges set to 1.
// The edges are the same cells Outline draws; the interior is not filled.
func BoxMask(img Shaped, box BoundingBox) (Mask, error) {
	rows, cols := img.Dimensions()
	if err := box.checkWithin(rows, cols); err != nil {
		return Mask{}, err
	}

	mask := NewMask(rows, cols)
	box.edgeCells(func(x, y int) {
		mask.Bits[y*cols+x] = 1
	})
	return mask, nil
}
