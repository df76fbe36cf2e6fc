package tests

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	internaldicom "github.com/mrsinham/dicomlabel/internal/dicom"
	"github.com/mrsinham/dicomlabel/internal/labeling"
	"github.com/mrsinham/dicomlabel/internal/marker"
	"github.com/mrsinham/dicomlabel/internal/overlay"
	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"
)

// writeSample writes count synthetic CT slices and returns the directory.
func writeSample(t *testing.T, count, rows, cols int) string {
	t.Helper()
	dir := t.TempDir()
	for i := 0; i < count; i++ {
		opts := internaldicom.DefaultSyntheticOptions()
		opts.Rows, opts.Cols = rows, cols
		opts.Seed = int64(100 + i)
		path := filepath.Join(dir, "slice_"+string(rune('0'+i))+".dcm")
		if err := internaldicom.WriteSyntheticCT(path, opts); err != nil {
			t.Fatalf("WriteSyntheticCT failed: %v", err)
		}
	}
	return dir
}

func newAnnotator(t *testing.T, outputDir string) (*labeling.Annotator, *overlay.TagRegistry) {
	t.Helper()
	registry, err := overlay.NewTagRegistry()
	if err != nil {
		t.Fatal(err)
	}
	a, err := labeling.NewAnnotator(overlay.NewEncoder(registry), labeling.Options{OutputDir: outputDir, Quiet: true})
	if err != nil {
		t.Fatal(err)
	}
	return a, registry
}

// TestAnnotate_FileReparsesWithOverlay annotates one slice and checks the
// filed file with a fresh parse.
func TestAnnotate_FileReparsesWithOverlay(t *testing.T) {
	inputDir := writeSample(t, 1, 10, 10)
	outputDir := filepath.Join(t.TempDir(), "Data")
	a, _ := newAnnotator(t, outputDir)

	paths, err := internaldicom.ListStudies(inputDir)
	if err != nil {
		t.Fatal(err)
	}

	res, err := a.Annotate(context.Background(), labeling.Request{
		StudyPath: paths[0],
		StudyType: "head_segmentation",
		Index:     0,
		Label:     "Head",
		XBegin:    2, YBegin: 2, XEnd: 5, YEnd: 5,
	})
	if err != nil {
		t.Fatalf("Annotate failed: %v", err)
	}

	ds, err := dicom.ParseFile(res.OutputPath, nil)
	if err != nil {
		t.Fatalf("ParseFile failed: %v", err)
	}

	rec, err := overlay.Decode(ds, overlay.Head)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if rec.Rows != 10 || rec.Columns != 10 {
		t.Errorf("overlay size = %dx%d, want 10x10", rec.Rows, rec.Columns)
	}
	if rec.Type != overlay.TypeGraphic || rec.NumberOfFrames != 1 {
		t.Errorf("type/frames = %q/%d, want G/1", rec.Type, rec.NumberOfFrames)
	}
	if rec.Origin != [2]int{1, 1} || rec.ImageFrameOrigin != 1 {
		t.Errorf("origin = %v, frame origin = %d", rec.Origin, rec.ImageFrameOrigin)
	}
	if rec.BitsAllocated != 1 || rec.BitPosition != 0 {
		t.Errorf("bits allocated/position = %d/%d, want 1/0", rec.BitsAllocated, rec.BitPosition)
	}
	// 100 pixels pack into 13 bytes, padded to 14.
	if len(rec.Data) != 14 {
		t.Errorf("overlay data length = %d, want 14", len(rec.Data))
	}

	got, err := rec.Mask()
	if err != nil {
		t.Fatal(err)
	}
	box, _ := marker.NewBoundingBox(2, 2, 5, 5)
	want, _ := marker.BoxMask(marker.NewMask(10, 10), box)
	if !got.Equal(want) {
		t.Error("decoded mask differs from the box mask")
	}
	if got.At(5, 5) != 0 {
		t.Error("far corner (5,5) is set")
	}

	// Image content is carried over unchanged.
	elem, err := ds.FindElementByTag(tag.Rows)
	if err != nil {
		t.Fatal(err)
	}
	if v := elem.Value.GetValue().([]int); v[0] != 10 {
		t.Errorf("Rows = %d, want 10", v[0])
	}

	t.Logf("✓ filed %s", res.OutputPath)
}

// TestAnnotate_AllRegionsOnOneImage stacks the five regions on one study.
func TestAnnotate_AllRegionsOnOneImage(t *testing.T) {
	study, err := internaldicom.NewSyntheticCT(internaldicom.DefaultSyntheticOptions())
	if err != nil {
		t.Fatal(err)
	}
	outputDir := filepath.Join(t.TempDir(), "Data")
	a, registry := newAnnotator(t, outputDir)

	boxes := map[overlay.BodyRegion][4]int{
		overlay.Head:    {20, 2, 44, 10},
		overlay.Neck:    {26, 11, 38, 16},
		overlay.Chest:   {10, 17, 54, 30},
		overlay.Abdomen: {12, 31, 52, 44},
		overlay.Pelvis:  {14, 45, 50, 60},
	}

	var last labeling.Result
	for i, region := range overlay.AllBodyRegions() {
		b := boxes[region]
		res, err := a.Annotate(context.Background(), labeling.Request{
			Study:     study,
			StudyType: "chest_segmentation",
			Index:     i,
			Label:     region.String(),
			XBegin:    b[0], YBegin: b[1], XEnd: b[2], YEnd: b[3],
		})
		if err != nil {
			t.Fatalf("annotate %s: %v", region, err)
		}
		last = res
	}

	if registry.Len() != 50 {
		t.Errorf("registry has %d entries, want 50", registry.Len())
	}

	// The last file carries all five overlays.
	ds, err := dicom.ParseFile(last.OutputPath, nil)
	if err != nil {
		t.Fatalf("ParseFile failed: %v", err)
	}
	regions := overlay.RegionsIn(ds)
	if len(regions) != 5 {
		t.Fatalf("RegionsIn = %v, want all five regions", regions)
	}
	for _, region := range overlay.AllBodyRegions() {
		rec, err := overlay.Decode(ds, region)
		if err != nil {
			t.Fatalf("Decode %s: %v", region, err)
		}
		mask, err := rec.Mask()
		if err != nil {
			t.Fatal(err)
		}
		b := boxes[region]
		w, h := b[2]-b[0], b[3]-b[1]
		if mask.Count() != 2*w+2*h-1 {
			t.Errorf("%s: %d cells set, want %d", region, mask.Count(), 2*w+2*h-1)
		}
		if rec.Description != region.String() {
			t.Errorf("%s: description = %q", region, rec.Description)
		}
	}

	// Only the chest annotation matched the study type.
	matches, err := filepath.Glob(filepath.Join(outputDir, "chest_segmentation", "Chest", "*.dcm"))
	if err != nil {
		t.Fatal(err)
	}
	others, err := filepath.Glob(filepath.Join(outputDir, "chest_segmentation", labeling.OtherDir, "*.dcm"))
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) != 1 || len(others) != 4 {
		t.Errorf("filed %d matches and %d others, want 1 and 4", len(matches), len(others))
	}
}

// TestRun_BatchFilesEveryImage runs a batch over a directory with several workers.
func TestRun_BatchFilesEveryImage(t *testing.T) {
	inputDir := writeSample(t, 6, 24, 24)
	paths, err := internaldicom.ListStudies(inputDir)
	if err != nil {
		t.Fatal(err)
	}

	registry, err := overlay.NewTagRegistry()
	if err != nil {
		t.Fatal(err)
	}
	outputDir := filepath.Join(t.TempDir(), "Data")
	a, err := labeling.NewAnnotator(overlay.NewEncoder(registry), labeling.Options{
		OutputDir: outputDir,
		Workers:   3,
		Quiet:     true,
	})
	if err != nil {
		t.Fatal(err)
	}

	labels := []string{"Pelvis", "Pelvis", "Abdomen", "Pelvis", "Head", "Pelvis"}
	job := labeling.Job{}
	for i, p := range paths {
		job.Requests = append(job.Requests, labeling.Request{
			StudyPath: p,
			StudyType: "pelvis_segmentation",
			Index:     i,
			Label:     labels[i],
			XBegin:    i, YBegin: i, XEnd: 10 + i, YEnd: 12 + i,
		})
	}

	results, err := a.Run(context.Background(), job)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	for i, res := range results {
		if _, err := os.Stat(res.OutputPath); err != nil {
			t.Errorf("result %d not filed: %v", i, err)
		}
		if res.Matched != (labels[i] == "Pelvis") {
			t.Errorf("result %d matched = %v for label %s", i, res.Matched, labels[i])
		}
	}

	if got := registry.Groups(); len(got) != 3 {
		t.Errorf("registered groups = %v, want three (Head, Abdomen, Pelvis)", got)
	}
}
