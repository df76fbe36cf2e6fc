package overlay

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/mrsinham/dicomlabel/internal/marker"
	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"
)

// Fixed overlay attributes for a single-frame graphic overlay.
const (
	TypeGraphic      = "G"
	framesPerOverlay = 1
	imageFrameOrigin = 1
	bitsAllocated    = 1
	bitPosition      = 0
)

// Container receives overlay elements. Put replaces any element with the same tag.
type Container interface {
	Put(elem *dicom.Element)
}

// OverlayRecord is the content of one overlay block.
type OverlayRecord struct {
	Region           BodyRegion
	Group            uint16
	Rows             int
	Columns          int
	NumberOfFrames   int
	Description      string
	Type             string
	Origin           [2]int
	ImageFrameOrigin int
	BitsAllocated    int
	BitPosition      int
	Data             []byte
}

// Mask unpacks the record's overlay data.
func (r OverlayRecord) Mask() (marker.Mask, error) {
	return UnpackMask(r.Data, r.Rows, r.Columns)
}

// Encoder turns masks into overlay blocks using a shared TagRegistry.
type Encoder struct {
	registry *TagRegistry
}

// NewEncoder returns an encoder backed by registry.
func NewEncoder(registry *TagRegistry) *Encoder {
	return &Encoder{registry: registry}
}

// Registry returns the encoder's tag registry.
func (e *Encoder) Registry() *TagRegistry { return e.registry }

// NewRecord builds the overlay record for mask under region without touching any container.
func (e *Encoder) NewRecord(region BodyRegion, mask marker.Mask) (OverlayRecord, error) {
	if !region.Valid() {
		return OverlayRecord{}, fmt.Errorf("%w: %d", ErrUnknownRegion, int(region))
	}

	data, err := PackMask(mask)
	if err != nil {
		return OverlayRecord{}, err
	}

	group, err := e.registry.Register(region)
	if err != nil {
		return OverlayRecord{}, err
	}

	return OverlayRecord{
		Region:           region,
		Group:            group,
		Rows:             mask.Rows,
		Columns:          mask.Cols,
		NumberOfFrames:   framesPerOverlay,
		Description:      region.String(),
		Type:             TypeGraphic,
		Origin:           [2]int{1, 1},
		ImageFrameOrigin: imageFrameOrigin,
		BitsAllocated:    bitsAllocated,
		BitPosition:      bitPosition,
		Data:             data,
	}, nil
}

// Encode builds the overlay record for mask and writes it into c under region's group.
// On error c is left unmodified.
func (e *Encoder) Encode(c Container, region BodyRegion, mask marker.Mask) (OverlayRecord, error) {
	rec, err := e.NewRecord(region, mask)
	if err != nil {
		return OverlayRecord{}, err
	}
	if err := e.Apply(c, rec); err != nil {
		return OverlayRecord{}, err
	}
	return rec, nil
}

// Apply writes every field of rec into c. All elements are built before the
// first write, so a failure leaves c unmodified.
func (e *Encoder) Apply(c Container, rec OverlayRecord) error {
	elements, err := e.Elements(rec)
	if err != nil {
		return err
	}
	for _, elem := range elements {
		c.Put(elem)
	}
	return nil
}

// Elements returns the ten overlay elements for rec in tag order.
func (e *Encoder) Elements(rec OverlayRecord) ([]*dicom.Element, error) {
	if _, err := rec.Region.Group(); err != nil {
		return nil, err
	}
	if len(rec.Data)%2 != 0 {
		return nil, fmt.Errorf("overlay data length %d is odd", len(rec.Data))
	}

	values := map[uint16]any{
		ElementRows:             []int{rec.Rows},
		ElementColumns:          []int{rec.Columns},
		ElementNumberOfFrames:   []string{strconv.Itoa(rec.NumberOfFrames)},
		ElementDescription:      []string{rec.Description},
		ElementType:             []string{rec.Type},
		ElementOrigin:           []int{rec.Origin[0], rec.Origin[1]},
		ElementImageFrameOrigin: []int{rec.ImageFrameOrigin},
		ElementBitsAllocated:    []int{rec.BitsAllocated},
		ElementBitPosition:      []int{rec.BitPosition},
		ElementData:             rec.Data,
	}

	elements := make([]*dicom.Element, 0, len(overlayLayout))
	for _, l := range overlayLayout {
		t := tag.Tag{Group: rec.Group, Element: l.element}
		entry, ok := e.registry.Lookup(t)
		if !ok {
			return nil, fmt.Errorf("overlay tag %v is not registered", t)
		}
		elem, err := newElement(t, entry.VR, values[l.element])
		if err != nil {
			return nil, fmt.Errorf("build %s: %w", entry.Description, err)
		}
		elements = append(elements, elem)
	}
	return elements, nil
}

// Decode reads the overlay block for region back out of ds.
func Decode(ds dicom.Dataset, region BodyRegion) (OverlayRecord, error) {
	group, err := region.Group()
	if err != nil {
		return OverlayRecord{}, err
	}
	rec := OverlayRecord{Region: region, Group: group}

	find := func(element uint16) (*dicom.Element, error) {
		elem, err := ds.FindElementByTag(tag.Tag{Group: group, Element: element})
		if err != nil {
			return nil, fmt.Errorf("%s overlay element (%04x,%04x): %w", region, group, element, err)
		}
		return elem, nil
	}

	ints := map[uint16]*int{
		ElementRows:             &rec.Rows,
		ElementColumns:          &rec.Columns,
		ElementImageFrameOrigin: &rec.ImageFrameOrigin,
		ElementBitsAllocated:    &rec.BitsAllocated,
		ElementBitPosition:      &rec.BitPosition,
	}
	for element, dst := range ints {
		elem, err := find(element)
		if err != nil {
			return OverlayRecord{}, err
		}
		v, ok := elem.Value.GetValue().([]int)
		if !ok || len(v) != 1 {
			return OverlayRecord{}, fmt.Errorf("%s overlay element (%04x,%04x): expected one integer, got %v", region, group, element, elem.Value)
		}
		*dst = v[0]
	}

	elem, err := find(ElementOrigin)
	if err != nil {
		return OverlayRecord{}, err
	}
	origin, ok := elem.Value.GetValue().([]int)
	if !ok || len(origin) != 2 {
		return OverlayRecord{}, fmt.Errorf("%s overlay origin: expected two integers, got %v", region, elem.Value)
	}
	rec.Origin = [2]int{origin[0], origin[1]}

	strs := map[uint16]*string{
		ElementDescription: &rec.Description,
		ElementType:        &rec.Type,
	}
	for element, dst := range strs {
		elem, err := find(element)
		if err != nil {
			return OverlayRecord{}, err
		}
		*dst = firstString(elem)
	}

	elem, err = find(ElementNumberOfFrames)
	if err != nil {
		return OverlayRecord{}, err
	}
	if rec.NumberOfFrames, err = strconv.Atoi(firstString(elem)); err != nil {
		return OverlayRecord{}, fmt.Errorf("%s overlay frame count: %w", region, err)
	}

	elem, err = find(ElementData)
	if err != nil {
		return OverlayRecord{}, err
	}
	data, ok := elem.Value.GetValue().([]byte)
	if !ok {
		return OverlayRecord{}, fmt.Errorf("%s overlay data: expected bytes, got %v", region, elem.Value.ValueType())
	}
	rec.Data = data

	return rec, nil
}

// RegionsIn lists the regions that have an overlay data element in ds.
func RegionsIn(ds dicom.Dataset) []BodyRegion {
	var regions []BodyRegion
	for _, elem := range ds.Elements {
		if elem.Tag.Element != ElementData {
			continue
		}
		if r, ok := regionForGroup(elem.Tag.Group); ok {
			regions = append(regions, r)
		}
	}
	return regions
}

func firstString(elem *dicom.Element) string {
	v, ok := elem.Value.GetValue().([]string)
	if !ok || len(v) == 0 {
		return ""
	}
	return strings.TrimRight(v[0], " \x00")
}

// newElement creates an element with an explicit VR. Overlay groups repeat
// across regions, so the VR comes from the registry rather than the
// library's dictionary.
func newElement(t tag.Tag, rawVR string, data any) (*dicom.Element, error) {
	value, err := dicom.NewValue(data)
	if err != nil {
		return nil, fmt.Errorf("create value for element %v: %w", t, err)
	}
	return &dicom.Element{
		Tag:                    t,
		ValueRepresentation:    tag.GetVRKind(t, rawVR),
		RawValueRepresentation: rawVR,
		Value:                  value,
	}, nil
}
