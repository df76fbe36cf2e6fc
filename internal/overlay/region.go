// Package overlay encodes binary annotation masks as DICOM overlay planes.
//
// Each body region owns one overlay group (Head 0x6000 through Pelvis 0x6008).
// An overlay block is ten elements in that group: dimensions, frame count,
// description, type, origins, bit layout and the bit-packed mask itself.
package overlay

import (
	"errors"
	"fmt"

	"github.com/mrsinham/dicomlabel/internal/util"
)

// ErrUnknownRegion is returned for a body region outside the supported set.
var ErrUnknownRegion = errors.New("unknown body region")

// BodyRegion is an annotated anatomical region.
type BodyRegion int

const (
	Head BodyRegion = iota + 1
	Neck
	Chest
	Abdomen
	Pelvis
)

// regionInfo is the single table mapping regions to their names and overlay groups.
var regionInfo = map[BodyRegion]struct {
	name  string
	group uint16
}{
	Head:    {"Head", 0x6000},
	Neck:    {"Neck", 0x6002},
	Chest:   {"Chest", 0x6004},
	Abdomen: {"Abdomen", 0x6006},
	Pelvis:  {"Pelvis", 0x6008},
}

// AllBodyRegions returns every supported region in group order.
func AllBodyRegions() []BodyRegion {
	return []BodyRegion{Head, Neck, Chest, Abdomen, Pelvis}
}

// RegionNames returns the canonical names of all supported regions.
func RegionNames() []string {
	regions := AllBodyRegions()
	names := make([]string, len(regions))
	for i, r := range regions {
		names[i] = r.String()
	}
	return names
}

// String returns the region name used as the overlay description.
func (r BodyRegion) String() string {
	if info, ok := regionInfo[r]; ok {
		return info.name
	}
	return "Unknown"
}

// Valid reports whether r is one of the supported regions.
func (r BodyRegion) Valid() bool {
	_, ok := regionInfo[r]
	return ok
}

// Group returns the overlay group id for r.
func (r BodyRegion) Group() (uint16, error) {
	info, ok := regionInfo[r]
	if !ok {
		return 0, fmt.Errorf("%w: %d", ErrUnknownRegion, int(r))
	}
	return info.group, nil
}

// ParseBodyRegion resolves a region name, ignoring case.
// Unknown names fail with ErrUnknownRegion and a spelling suggestion when one is close.
func ParseBodyRegion(name string) (BodyRegion, error) {
	canonical, err := util.MatchName(ErrUnknownRegion, name, RegionNames())
	if err != nil {
		return 0, err
	}
	for _, r := range AllBodyRegions() {
		if r.String() == canonical {
			return r, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownRegion, name)
}

// regionForGroup returns the region owning group, if any.
func regionForGroup(group uint16) (BodyRegion, bool) {
	for r, info := range regionInfo {
		if info.group == group {
			return r, true
		}
	}
	return 0, false
}
