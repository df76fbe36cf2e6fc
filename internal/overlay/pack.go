package overlay

import (
	"errors"
	"fmt"

	"github.com/mrsinham/dicomlabel/internal/marker"
)

// ErrEmptyMask is returned when packing a mask with no cells.
var ErrEmptyMask = errors.New("empty mask")

// PackMask flattens mask row by row and packs eight cells per byte.
// Bit order follows the DICOM overlay convention: cell i lands in bit i%8
// (least significant first) of byte i/8. A zero byte is appended when the
// result has odd length so the value can be written as OW.
func PackMask(mask marker.Mask) ([]byte, error) {
	if mask.Rows <= 0 || mask.Cols <= 0 || len(mask.Bits) == 0 {
		return nil, fmt.Errorf("%w: %dx%d", ErrEmptyMask, mask.Rows, mask.Cols)
	}
	n := mask.Rows * mask.Cols
	if len(mask.Bits) != n {
		return nil, fmt.Errorf("mask length %d does not match dimensions %dx%d", len(mask.Bits), mask.Rows, mask.Cols)
	}

	packed := make([]byte, (n+7)/8)
	for i, b := range mask.Bits {
		switch b {
		case 0:
		case 1:
			packed[i/8] |= 1 << (i % 8)
		default:
			return nil, fmt.Errorf("mask value %d at index %d is not 0 or 1", b, i)
		}
	}

	if len(packed)%2 != 0 {
		packed = append(packed, 0)
	}
	return packed, nil
}

// UnpackMask reverses PackMask for a rows x cols overlay.
// Trailing padding bits are ignored.
func UnpackMask(data []byte, rows, cols int) (marker.Mask, error) {
	if rows <= 0 || cols <= 0 {
		return marker.Mask{}, fmt.Errorf("%w: %dx%d", ErrEmptyMask, rows, cols)
	}
	n := rows * cols
	if len(data)*8 < n {
		return marker.Mask{}, fmt.Errorf("overlay data has %d bytes, need at least %d for %dx%d",
			len(data), (n+7)/8, rows, cols)
	}

	mask := marker.NewMask(rows, cols)
	for i := 0; i < n; i++ {
		mask.Bits[i] = (data[i/8] >> (i % 8)) & 1
	}
	return mask, nil
}
