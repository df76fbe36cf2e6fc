// Package intensity converts stored detector values into calibrated and
// display-normalized pixel grids.
package intensity

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"
)

// OutsideScanField is the stored value CT scanners write for pixels outside the
// reconstructed field of view.
const OutsideScanField int16 = -2000

var (
	// ErrInvalidCalibration is returned when the rescale slope or intercept is absent or not finite.
	ErrInvalidCalibration = errors.New("invalid calibration")
	// ErrCalibrationOverflow is returned when a calibrated value does not fit in 16 bits.
	ErrCalibrationOverflow = errors.New("calibrated value overflows int16")
	// ErrDegenerateImage is returned when an image has no pixels or zero variance.
	ErrDegenerateImage = errors.New("degenerate image")
)

// RawImage is a stored pixel grid with its calibration scalars.
// An absent slope or intercept is represented as NaN.
type RawImage struct {
	Rows             int
	Cols             int
	Pixels           []int16 // row-major
	RescaleSlope     float64
	RescaleIntercept float64
}

// Dimensions returns the grid shape.
func (r RawImage) Dimensions() (rows, cols int) { return r.Rows, r.Cols }

// CalibratedImage holds pixel values in calibrated units (Hounsfield units for CT).
type CalibratedImage struct {
	Rows   int
	Cols   int
	Pixels []int16
}

// Dimensions returns the grid shape.
func (c CalibratedImage) Dimensions() (rows, cols int) { return c.Rows, c.Cols }

// NormalizedImage is a zero-mean, unit-variance float grid used for preview.
type NormalizedImage struct {
	Rows   int
	Cols   int
	Pixels []float64
	// Mean and StdDev of the calibrated image the grid was derived from.
	Mean   float64
	StdDev float64
}

// Dimensions returns the grid shape.
func (n NormalizedImage) Dimensions() (rows, cols int) { return n.Rows, n.Cols }

// At returns the value at row y, column x.
func (n NormalizedImage) At(x, y int) float64 { return n.Pixels[y*n.Cols+x] }

// Clone returns a deep copy of n.
func (n NormalizedImage) Clone() NormalizedImage {
	out := n
	out.Pixels = make([]float64, len(n.Pixels))
	copy(out.Pixels, n.Pixels)
	return out
}

// ToCalibrated zeroes out-of-field pixels, applies the rescale slope (when it is not 1)
// with truncation toward zero, then adds the truncated intercept.
func ToCalibrated(raw RawImage) (CalibratedImage, error) {
	if err := validateShape(raw.Rows, raw.Cols, len(raw.Pixels)); err != nil {
		return CalibratedImage{}, err
	}
	if !isFinite(raw.RescaleSlope) {
		return CalibratedImage{}, fmt.Errorf("%w: rescale slope is %v", ErrInvalidCalibration, raw.RescaleSlope)
	}
	if !isFinite(raw.RescaleIntercept) {
		return CalibratedImage{}, fmt.Errorf("%w: rescale intercept is %v", ErrInvalidCalibration, raw.RescaleIntercept)
	}

	intercept, ok := truncToInt16(raw.RescaleIntercept)
	if !ok {
		return CalibratedImage{}, fmt.Errorf("%w: intercept %v", ErrCalibrationOverflow, raw.RescaleIntercept)
	}

	out := CalibratedImage{
		Rows:   raw.Rows,
		Cols:   raw.Cols,
		Pixels: make([]int16, len(raw.Pixels)),
	}

	for i, p := range raw.Pixels {
		if p == OutsideScanField {
			p = 0
		}
		if raw.RescaleSlope != 1 {
			scaled, ok := truncToInt16(float64(p) * raw.RescaleSlope)
			if !ok {
				return CalibratedImage{}, fmt.Errorf("%w: pixel %d: %d * %v", ErrCalibrationOverflow, i, p, raw.RescaleSlope)
			}
			p = scaled
		}
		sum := int32(p) + int32(intercept)
		if sum < math.MinInt16 || sum > math.MaxInt16 {
			return CalibratedImage{}, fmt.Errorf("%w: pixel %d: %d + %d", ErrCalibrationOverflow, i, p, intercept)
		}
		out.Pixels[i] = int16(sum)
	}

	return out, nil
}

// ToNormalized shifts img to zero mean and scales it to unit population standard deviation.
func ToNormalized(img CalibratedImage) (NormalizedImage, error) {
	if err := validateShape(img.Rows, img.Cols, len(img.Pixels)); err != nil {
		return NormalizedImage{}, err
	}
	if len(img.Pixels) == 0 {
		return NormalizedImage{}, fmt.Errorf("%w: image has no pixels", ErrDegenerateImage)
	}

	values := make([]float64, len(img.Pixels))
	for i, p := range img.Pixels {
		values[i] = float64(p)
	}

	mean, std := stat.PopMeanStdDev(values, nil)
	if std == 0 || math.IsNaN(std) {
		return NormalizedImage{}, fmt.Errorf("%w: standard deviation is zero (flat image at %v)", ErrDegenerateImage, mean)
	}

	for i, v := range values {
		values[i] = (v - mean) / std
	}

	return NormalizedImage{
		Rows:   img.Rows,
		Cols:   img.Cols,
		Pixels: values,
		Mean:   mean,
		StdDev: std,
	}, nil
}

func validateShape(rows, cols, n int) error {
	if rows < 0 || cols < 0 {
		return fmt.Errorf("invalid dimensions: %dx%d", rows, cols)
	}
	if rows*cols != n {
		return fmt.Errorf("pixel slice length %d does not match dimensions %dx%d", n, rows, cols)
	}
	return nil
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// truncToInt16 truncates toward zero and reports whether the result fits.
func truncToInt16(f float64) (int16, bool) {
	t := math.Trunc(f)
	if t < math.MinInt16 || t > math.MaxInt16 {
		return 0, false
	}
	return int16(t), true
}
