package overlay

import (
	"fmt"
	"sort"
	"sync"

	"github.com/suyashkumar/dicom/pkg/tag"
)

// Overlay element numbers within a region group.
const (
	ElementRows             uint16 = 0x0010
	ElementColumns          uint16 = 0x0011
	ElementNumberOfFrames   uint16 = 0x0015
	ElementDescription      uint16 = 0x0022
	ElementType             uint16 = 0x0040
	ElementOrigin           uint16 = 0x0050
	ElementImageFrameOrigin uint16 = 0x0051
	ElementBitsAllocated    uint16 = 0x0100
	ElementBitPosition      uint16 = 0x0102
	ElementData             uint16 = 0x3000
)

// TagEntry is one dictionary definition for an overlay element.
type TagEntry struct {
	VR          string
	VM          string
	Description string
	Retired     bool
	Keyword     string
}

// overlayLayout lists the ten elements of an overlay block in tag order.
var overlayLayout = []struct {
	element uint16
	vr      string
	vm      string
	name    string
	keyword string
}{
	{ElementRows, "US", "1", "Overlay Rows", "OverlayRows"},
	{ElementColumns, "US", "1", "Overlay Columns", "OverlayColumns"},
	{ElementNumberOfFrames, "IS", "1", "Number of Frames in Overlay", "NumberOfFramesInOverlay"},
	{ElementDescription, "LO", "1", "Overlay Description", "OverlayDescription"},
	{ElementType, "CS", "1", "Overlay Type", "OverlayType"},
	{ElementOrigin, "SS", "2", "Overlay Origin", "OverlayOrigin"},
	{ElementImageFrameOrigin, "US", "1", "Image Frame Origin", "ImageFrameOrigin"},
	{ElementBitsAllocated, "US", "1", "Overlay Bits Allocated", "OverlayBitsAllocated"},
	{ElementBitPosition, "US", "1", "Overlay Bit Position", "OverlayBitPosition"},
	{ElementData, "OW", "1", "Overlay Data", "OverlayData"},
}

// TagRegistry is a dictionary of overlay element definitions keyed by tag.
// It is safe for concurrent use; each region group is registered at most once.
type TagRegistry struct {
	mu      sync.RWMutex
	entries map[tag.Tag]TagEntry
	groups  map[uint16]BodyRegion
}

// NewTagRegistry creates a registry with the given regions already registered.
func NewTagRegistry(regions ...BodyRegion) (*TagRegistry, error) {
	r := &TagRegistry{
		entries: make(map[tag.Tag]TagEntry),
		groups:  make(map[uint16]BodyRegion),
	}
	for _, region := range regions {
		if _, err := r.Register(region); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register ensures the overlay definitions for region exist and returns its group.
// Registering a region again leaves the existing entries untouched.
func (r *TagRegistry) Register(region BodyRegion) (uint16, error) {
	group, err := region.Group()
	if err != nil {
		return 0, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.groups[group]; ok {
		return group, nil
	}

	for _, l := range overlayLayout {
		r.entries[tag.Tag{Group: group, Element: l.element}] = TagEntry{
			VR:          l.vr,
			VM:          l.vm,
			Description: fmt.Sprintf("%s: %s", region, l.name),
			Keyword:     l.keyword,
		}
	}
	r.groups[group] = region
	return group, nil
}

// IsRegistered reports whether region's group has been registered.
func (r *TagRegistry) IsRegistered(region BodyRegion) bool {
	group, err := region.Group()
	if err != nil {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.groups[group]
	return ok
}

// Lookup returns the definition registered for t.
func (r *TagRegistry) Lookup(t tag.Tag) (TagEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[t]
	return e, ok
}

// FindByKeyword returns the tag carrying keyword within region's group.
// Keywords repeat across groups, so the region is part of the key.
func (r *TagRegistry) FindByKeyword(region BodyRegion, keyword string) (tag.Tag, bool) {
	group, err := region.Group()
	if err != nil {
		return tag.Tag{}, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for t, e := range r.entries {
		if t.Group == group && e.Keyword == keyword {
			return t, true
		}
	}
	return tag.Tag{}, false
}

// Len returns the number of registered tag definitions.
func (r *TagRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Groups returns the registered group ids in ascending order.
func (r *TagRegistry) Groups() []uint16 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	groups := make([]uint16, 0, len(r.groups))
	for g := range r.groups {
		groups = append(groups, g)
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i] < groups[j] })
	return groups
}
