package dicom

import (
	"fmt"
	"math"
	randv2 "math/rand/v2"
	"sort"
	"strconv"

	"github.com/mrsinham/dicomlabel/internal/intensity"
	"github.com/mrsinham/dicomlabel/internal/util"
	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/frame"
	"github.com/suyashkumar/dicom/pkg/tag"
)

const (
	explicitVRLittleEndian = "1.2.840.10008.1.2.1"
	ctImageStorage         = "1.2.840.10008.5.1.4.1.1.2"
)

// SyntheticOptions describes a generated single-slice CT image.
type SyntheticOptions struct {
	Rows int
	Cols int
	Seed int64

	RescaleSlope     float64
	RescaleIntercept float64
	// OmitRescale leaves out the rescale tags entirely.
	OmitRescale bool

	// Flat fills the scan field with a single value instead of a phantom.
	Flat bool

	BodyPart string
}

// DefaultSyntheticOptions returns a 64x64 CT slice with the usual -1024 intercept.
func DefaultSyntheticOptions() SyntheticOptions {
	return SyntheticOptions{
		Rows:             64,
		Cols:             64,
		Seed:             42,
		RescaleSlope:     1,
		RescaleIntercept: -1024,
		BodyPart:         "CHEST",
	}
}

// NewSyntheticCT builds an in-memory CT study. Pixels outside a centred
// circular scan field hold the -2000 sentinel; inside is a radial phantom with
// seeded noise, stored as signed 16-bit values.
func NewSyntheticCT(opts SyntheticOptions) (*Study, error) {
	if opts.Rows <= 0 || opts.Cols <= 0 {
		return nil, fmt.Errorf("invalid dimensions: %dx%d", opts.Rows, opts.Cols)
	}
	width, height := opts.Cols, opts.Rows

	rng := randv2.New(randv2.NewPCG(uint64(opts.Seed), uint64(opts.Seed)))

	centerX, centerY := float64(width)/2, float64(height)/2
	fieldRadius := math.Min(centerX, centerY) * 0.95
	slope := opts.RescaleSlope
	if slope == 0 || opts.OmitRescale {
		slope = 1
	}
	intercept := opts.RescaleIntercept
	if opts.OmitRescale {
		intercept = 0
	}

	nativeFrame := frame.NewNativeFrame[uint16](16, height, width, width*height, 1)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			dx := float64(x) - centerX
			dy := float64(y) - centerY
			dist := math.Sqrt(dx*dx + dy*dy)

			stored := intensity.OutsideScanField
			if dist <= fieldRadius {
				hu := 40.0
				if !opts.Flat {
					// Air near the field edge, soft tissue towards the centre.
					normalizedDist := dist / fieldRadius
					hu = -1000 + (1-normalizedDist)*1100
					hu += (rng.Float64() - 0.5) * 60
				}
				v := math.Round((hu - intercept) / slope)
				v = math.Max(math.MinInt16+1, math.Min(math.MaxInt16, v))
				stored = int16(v)
			}
			nativeFrame.RawData[y*width+x] = uint16(stored)
		}
	}

	pixelDataInfo := dicom.PixelDataInfo{
		Frames: []*frame.Frame{
			{
				Encapsulated: false,
				NativeData:   nativeFrame,
			},
		},
	}

	seed := strconv.FormatInt(opts.Seed, 10)
	studyUID := util.GenerateDeterministicUID("synthetic_study_" + seed)
	seriesUID := util.GenerateDeterministicUID("synthetic_series_" + seed)
	sopInstanceUID := util.GenerateDeterministicUID("synthetic_instance_" + seed)

	bodyPart := opts.BodyPart
	if bodyPart == "" {
		bodyPart = "CHEST"
	}

	elements := []*dicom.Element{
		mustNewElement(tag.TransferSyntaxUID, []string{explicitVRLittleEndian}),
		mustNewElement(tag.MediaStorageSOPClassUID, []string{ctImageStorage}),
		mustNewElement(tag.MediaStorageSOPInstanceUID, []string{sopInstanceUID}),
		mustNewElement(tag.SOPClassUID, []string{ctImageStorage}),
		mustNewElement(tag.SOPInstanceUID, []string{sopInstanceUID}),
		mustNewElement(tag.Modality, []string{"CT"}),
		mustNewElement(tag.PatientName, []string{"SYNTHETIC^PHANTOM"}),
		mustNewElement(tag.PatientID, []string{"SYN" + seed}),
		mustNewElement(tag.BodyPartExamined, []string{bodyPart}),
		mustNewElement(tag.StudyInstanceUID, []string{studyUID}),
		mustNewElement(tag.SeriesInstanceUID, []string{seriesUID}),
		mustNewElement(tag.InstanceNumber, []string{"1"}),
		mustNewElement(tag.SamplesPerPixel, []int{1}),
		mustNewElement(tag.PhotometricInterpretation, []string{"MONOCHROME2"}),
		mustNewElement(tag.Rows, []int{height}),
		mustNewElement(tag.Columns, []int{width}),
		mustNewElement(tag.BitsAllocated, []int{16}),
		mustNewElement(tag.BitsStored, []int{16}),
		mustNewElement(tag.HighBit, []int{15}),
		mustNewElement(tag.PixelRepresentation, []int{1}),
		mustNewElement(tag.PixelData, pixelDataInfo),
	}
	if !opts.OmitRescale {
		elements = append(elements,
			mustNewElement(tag.RescaleIntercept, []string{formatDS(opts.RescaleIntercept)}),
			mustNewElement(tag.RescaleSlope, []string{formatDS(slope)}),
		)
	}

	sort.Slice(elements, func(i, j int) bool {
		return tagLess(elements[i].Tag, elements[j].Tag)
	})

	return &Study{Dataset: dicom.Dataset{Elements: elements}}, nil
}

// WriteSyntheticCT generates a CT study and saves it to path.
func WriteSyntheticCT(path string, opts SyntheticOptions) error {
	study, err := NewSyntheticCT(opts)
	if err != nil {
		return err
	}
	study.Path = path
	return study.Save(path)
}

// mustNewElement creates a DICOM element, panicking on error.
// Only used for standard tags with values known to be valid.
func mustNewElement(t tag.Tag, value interface{}) *dicom.Element {
	elem, err := dicom.NewElement(t, value)
	if err != nil {
		panic(fmt.Sprintf("failed to create element %v: %v", t, err))
	}
	return elem
}

// formatDS formats a float64 as a DICOM Decimal String.
func formatDS(f float64) string {
	return strconv.FormatFloat(f, 'g', 6, 64)
}
