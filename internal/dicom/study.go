// Package dicom adapts DICOM files to the labeling pipeline: loading studies,
// reading calibrated pixel input, inserting elements and writing files back.
package dicom

import (
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/mrsinham/dicomlabel/internal/intensity"
	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"
)

// Study is one loaded DICOM image and its dataset.
type Study struct {
	Path    string
	Dataset dicom.Dataset
}

// Load parses the DICOM file at path, including pixel data.
func Load(path string) (*Study, error) {
	ds, err := dicom.ParseFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &Study{Path: path, Dataset: ds}, nil
}

// ListStudies returns the DICOM files directly inside dir, sorted by name so
// that image numbers are stable between runs.
func ListStudies(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("list studies: %w", err)
	}

	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.EqualFold(filepath.Ext(e.Name()), ".dcm") {
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(paths)

	if len(paths) == 0 {
		return nil, fmt.Errorf("no .dcm files in %s", dir)
	}
	return paths, nil
}

// Put inserts elem, replacing an element with the same tag. Elements are
// kept in ascending tag order.
func (s *Study) Put(elem *dicom.Element) {
	elems := s.Dataset.Elements
	i := sort.Search(len(elems), func(i int) bool {
		return !tagLess(elems[i].Tag, elem.Tag)
	})
	if i < len(elems) && elems[i].Tag == elem.Tag {
		elems[i] = elem
		return
	}
	for j, e := range elems {
		if e.Tag == elem.Tag {
			elems[j] = elem
			return
		}
	}
	elems = append(elems, nil)
	copy(elems[i+1:], elems[i:])
	elems[i] = elem
	s.Dataset.Elements = elems
}

// RawImage extracts the first frame as signed 16-bit values together with the
// rescale slope and intercept. Missing calibration tags are reported as NaN.
func (s *Study) RawImage() (intensity.RawImage, error) {
	elem, err := s.Dataset.FindElementByTag(tag.PixelData)
	if err != nil {
		return intensity.RawImage{}, fmt.Errorf("%s: pixel data: %w", s.Path, err)
	}
	info, ok := elem.Value.GetValue().(dicom.PixelDataInfo)
	if !ok {
		return intensity.RawImage{}, fmt.Errorf("%s: unexpected pixel data value %v", s.Path, elem.Value.ValueType())
	}
	if len(info.Frames) == 0 {
		return intensity.RawImage{}, fmt.Errorf("%s: pixel data has no frames", s.Path)
	}
	fr := info.Frames[0]
	if fr.Encapsulated || fr.NativeData == nil {
		return intensity.RawImage{}, fmt.Errorf("%s: encapsulated pixel data is not supported", s.Path)
	}

	native := fr.NativeData
	rows, cols := native.Rows(), native.Cols()
	pixels := make([]int16, rows*cols)
	for y := 0; y < rows; y++ {
		for x := 0; x < cols; x++ {
			px, err := native.GetPixel(x, y)
			if err != nil {
				return intensity.RawImage{}, fmt.Errorf("%s: pixel (%d,%d): %w", s.Path, x, y, err)
			}
			// Stored values are reinterpreted as 16-bit two's complement.
			pixels[y*cols+x] = int16(px[0])
		}
	}

	return intensity.RawImage{
		Rows:             rows,
		Cols:             cols,
		Pixels:           pixels,
		RescaleSlope:     s.decimal(tag.RescaleSlope),
		RescaleIntercept: s.decimal(tag.RescaleIntercept),
	}, nil
}

// decimal reads a DS element, returning NaN when absent or unparsable.
func (s *Study) decimal(t tag.Tag) float64 {
	elem, err := s.Dataset.FindElementByTag(t)
	if err != nil {
		return math.NaN()
	}
	v, ok := elem.Value.GetValue().([]string)
	if !ok || len(v) == 0 {
		return math.NaN()
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v[0]), 64)
	if err != nil {
		return math.NaN()
	}
	return f
}

// Text returns the first value of a string element, or "" when absent.
func (s *Study) Text(t tag.Tag) string {
	elem, err := s.Dataset.FindElementByTag(t)
	if err != nil || elem == nil {
		return ""
	}
	v, ok := elem.Value.GetValue().([]string)
	if !ok || len(v) == 0 {
		return ""
	}
	return strings.TrimSpace(v[0])
}

// Save writes the study to path, creating parent directories as needed.
func (s *Study) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	// Overlay groups are not in the library dictionary; their VRs are set explicitly.
	if err := writeDatasetToFile(path, s.Dataset, dicom.SkipVRVerification()); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// writeDatasetToFile writes a DICOM dataset to a file. A failed write or
// close removes the partial file.
func writeDatasetToFile(filename string, ds dicom.Dataset, opts ...dicom.WriteOption) error {
	f, err := os.Create(filename)
	if err != nil {
		return err
	}
	if err := writeAndClose(f, ds, opts...); err != nil {
		_ = os.Remove(filename)
		return err
	}
	return nil
}

// writeAndClose writes ds to w and always closes it. The close error is
// reported when the write itself succeeded.
func writeAndClose(w io.WriteCloser, ds dicom.Dataset, opts ...dicom.WriteOption) error {
	if err := dicom.Write(w, ds, opts...); err != nil {
		_ = w.Close()
		return err
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close: %w", err)
	}
	return nil
}

func tagLess(a, b tag.Tag) bool {
	if a.Group != b.Group {
		return a.Group < b.Group
	}
	return a.Element < b.Element
}
