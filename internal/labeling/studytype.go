// Package labeling runs the annotation pipeline for one image or a batch:
// normalize, mark the box, encode the overlay and file the result by whether
// the operator's label matches the study type.
package labeling

import (
	"errors"
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/mrsinham/dicomlabel/internal/overlay"
	"github.com/mrsinham/dicomlabel/internal/util"
)

// ErrUnknownStudyType is returned for a study type outside the fixed set.
var ErrUnknownStudyType = errors.New("unknown study type")

// OtherDir is the directory for images whose label does not match the study type.
const OtherDir = "Other"

var studyTypes = []struct {
	name   string
	region overlay.BodyRegion
}{
	{"head_segmentation", overlay.Head},
	{"neck_segmentation", overlay.Neck},
	{"chest_segmentation", overlay.Chest},
	{"abdomen_segmentation", overlay.Abdomen},
	{"pelvis_segmentation", overlay.Pelvis},
}

// StudyTypes lists the accepted study type names.
func StudyTypes() []string {
	names := make([]string, len(studyTypes))
	for i, st := range studyTypes {
		names[i] = st.name
	}
	return names
}

// ExpectedRegion returns the body region a study type is looking for.
// Matching ignores case; the canonical name is returned alongside.
func ExpectedRegion(studyType string) (string, overlay.BodyRegion, error) {
	name, err := util.MatchName(ErrUnknownStudyType, studyType, StudyTypes())
	if err != nil {
		return "", 0, err
	}
	for _, st := range studyTypes {
		if st.name == name {
			return name, st.region, nil
		}
	}
	return "", 0, fmt.Errorf("%w: %q", ErrUnknownStudyType, studyType)
}

// OutputPath returns where an annotated image is filed:
// <root>/<study_type>/<Region>/image_<n>.dcm when label is the expected region,
// otherwise <root>/<study_type>/Other/image_<n>.dcm.
func OutputPath(root, studyType string, label overlay.BodyRegion, index int) (path string, matched bool, err error) {
	name, expected, err := ExpectedRegion(studyType)
	if err != nil {
		return "", false, err
	}

	dir := OtherDir
	if label == expected {
		dir = expected.String()
		matched = true
	}
	return filepath.Join(root, name, dir, "image_"+strconv.Itoa(index)+".dcm"), matched, nil
}
