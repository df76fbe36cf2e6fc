package session

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/mrsinham/dicomlabel/internal/labeling"
)

// Entry holds one round of operator input as typed into the form.
// huh binds to strings, so numbers are parsed when the request is built.
type Entry struct {
	StudyType string
	Image     string
	Label     string
	XBegin    string
	YBegin    string
	XEnd      string
	YEnd      string
}

// Request converts the entry into an annotation request against the
// sorted image list.
func (e Entry) Request(paths []string) (labeling.Request, error) {
	index, err := parseNonNegative("image number", e.Image)
	if err != nil {
		return labeling.Request{}, err
	}
	if index >= len(paths) {
		return labeling.Request{}, fmt.Errorf("image number %d out of range (0-%d)", index, len(paths)-1)
	}

	coords := make([]int, 4)
	for i, f := range []struct{ name, value string }{
		{"x begin", e.XBegin},
		{"y begin", e.YBegin},
		{"x end", e.XEnd},
		{"y end", e.YEnd},
	} {
		if coords[i], err = parseNonNegative(f.name, f.value); err != nil {
			return labeling.Request{}, err
		}
	}

	return labeling.Request{
		StudyPath: paths[index],
		StudyType: e.StudyType,
		Index:     index,
		Label:     e.Label,
		XBegin:    coords[0],
		YBegin:    coords[1],
		XEnd:      coords[2],
		YEnd:      coords[3],
	}, nil
}

// next returns an entry for the following round, keeping the study type and label.
func (e Entry) next() Entry {
	return Entry{StudyType: e.StudyType, Label: e.Label}
}

func parseNonNegative(name, s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("%s must be a number", name)
	}
	if n < 0 {
		return 0, fmt.Errorf("%s must be >= 0", name)
	}
	return n, nil
}

func validateNonNegative(s string) error {
	_, err := parseNonNegative("value", s)
	return err
}
