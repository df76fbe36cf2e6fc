// Package marker draws bounding-box annotations onto image grids.
package marker

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidBox is returned when the box corners are not ordered begin < end.
	ErrInvalidBox = errors.New("invalid bounding box")
	// ErrOutOfBounds is returned when a box does not lie inside the image grid.
	ErrOutOfBounds = errors.New("bounding box out of bounds")
)

// BoundingBox is an axis-aligned rectangle given by two corner points.
// The zero value is not a valid box; use NewBoundingBox.
type BoundingBox struct {
	xBegin, yBegin int
	xEnd, yEnd     int
}

// NewBoundingBox validates the corners and returns an immutable box.
// Corners must satisfy 0 <= xBegin < xEnd and 0 <= yBegin < yEnd.
func NewBoundingBox(xBegin, yBegin, xEnd, yEnd int) (BoundingBox, error) {
	if xBegin < 0 || yBegin < 0 {
		return BoundingBox{}, fmt.Errorf("%w: negative corner (%d,%d)", ErrInvalidBox, xBegin, yBegin)
	}
	if xBegin >= xEnd || yBegin >= yEnd {
		return BoundingBox{}, fmt.Errorf("%w: (%d,%d)-(%d,%d), begin must be before end on both axes",
			ErrInvalidBox, xBegin, yBegin, xEnd, yEnd)
	}
	return BoundingBox{xBegin: xBegin, yBegin: yBegin, xEnd: xEnd, yEnd: yEnd}, nil
}

// Begin returns the first corner.
func (b BoundingBox) Begin() (x, y int) { return b.xBegin, b.yBegin }

// End returns the second corner.
func (b BoundingBox) End() (x, y int) { return b.xEnd, b.yEnd }

// Width is xEnd - xBegin.
func (b BoundingBox) Width() int { return b.xEnd - b.xBegin }

// Height is yEnd - yBegin.
func (b BoundingBox) Height() int { return b.yEnd - b.yBegin }

func (b BoundingBox) String() string {
	return fmt.Sprintf("(%d,%d)-(%d,%d)", b.xBegin, b.yBegin, b.xEnd, b.yEnd)
}

// IsZero reports whether b was never constructed.
func (b BoundingBox) IsZero() bool { return b == BoundingBox{} }

// edgeCells visits every cell on the box edges. Horizontal runs cover
// [xBegin, xEnd) on rows yBegin and yEnd; vertical runs cover [yBegin, yEnd)
// on columns xBegin and xEnd, so the (xEnd, yEnd) corner is not visited.
func (b BoundingBox) edgeCells(visit func(x, y int)) {
	for x := b.xBegin; x < b.xEnd; x++ {
		visit(x, b.yBegin)
		visit(x, b.yEnd)
	}
	for y := b.yBegin; y < b.yEnd; y++ {
		visit(b.xBegin, y)
		visit(b.xEnd, y)
	}
}

func (b BoundingBox) checkWithin(rows, cols int) error {
	if b.IsZero() {
		return fmt.Errorf("%w: box was not constructed", ErrInvalidBox)
	}
	if b.xEnd >= cols || b.yEnd >= rows {
		return fmt.Errorf("%w: box %s does not fit a %dx%d image", ErrOutOfBounds, b, rows, cols)
	}
	return nil
}
