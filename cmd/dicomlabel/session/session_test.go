package session

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/mrsinham/dicomlabel/internal/dicom"
	"github.com/mrsinham/dicomlabel/internal/labeling"
	"github.com/mrsinham/dicomlabel/internal/overlay"
	"github.com/mrsinham/dicomlabel/internal/preview"
)

func newTestSession(t *testing.T) (*Session, string) {
	t.Helper()
	inputDir := t.TempDir()
	for _, name := range []string{"a.dcm", "b.dcm"} {
		opts := dicom.DefaultSyntheticOptions()
		opts.Rows, opts.Cols = 16, 16
		if err := dicom.WriteSyntheticCT(filepath.Join(inputDir, name), opts); err != nil {
			t.Fatal(err)
		}
	}
	paths, err := dicom.ListStudies(inputDir)
	if err != nil {
		t.Fatal(err)
	}

	registry, err := overlay.NewTagRegistry()
	if err != nil {
		t.Fatal(err)
	}
	outputDir := filepath.Join(t.TempDir(), "Data")
	annotator, err := labeling.NewAnnotator(overlay.NewEncoder(registry), labeling.Options{OutputDir: outputDir, Quiet: true})
	if err != nil {
		t.Fatal(err)
	}
	return New(annotator, paths, filepath.Join(outputDir, "previews"), preview.DefaultOptions()), outputDir
}

func TestEntry_Request(t *testing.T) {
	paths := []string{"/scans/a.dcm", "/scans/b.dcm"}
	entry := Entry{
		StudyType: "chest_segmentation",
		Image:     " 1 ",
		Label:     "Chest",
		XBegin:    "2", YBegin: "3", XEnd: "10", YEnd: "12",
	}

	req, err := entry.Request(paths)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	if req.StudyPath != "/scans/b.dcm" || req.Index != 1 {
		t.Errorf("request image = %s (%d), want /scans/b.dcm (1)", req.StudyPath, req.Index)
	}
	if req.XBegin != 2 || req.YBegin != 3 || req.XEnd != 10 || req.YEnd != 12 {
		t.Errorf("box = (%d,%d)-(%d,%d)", req.XBegin, req.YBegin, req.XEnd, req.YEnd)
	}
}

func TestEntry_RequestErrors(t *testing.T) {
	paths := []string{"/scans/a.dcm"}
	base := Entry{StudyType: "head_segmentation", Image: "0", Label: "Head", XBegin: "0", YBegin: "0", XEnd: "4", YEnd: "4"}

	tests := []struct {
		name    string
		modify  func(e *Entry)
		wantMsg string
	}{
		{"image not a number", func(e *Entry) { e.Image = "first" }, "image number must be a number"},
		{"image out of range", func(e *Entry) { e.Image = "1" }, "out of range"},
		{"negative coordinate", func(e *Entry) { e.YBegin = "-3" }, "y begin must be >= 0"},
		{"empty coordinate", func(e *Entry) { e.XEnd = "" }, "x end must be a number"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := base
			tt.modify(&e)
			_, err := e.Request(paths)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("error = %q, want it to contain %q", err, tt.wantMsg)
			}
		})
	}
}

func TestEntry_NextKeepsStudyTypeAndLabel(t *testing.T) {
	e := Entry{StudyType: "neck_segmentation", Image: "4", Label: "Neck", XBegin: "1"}
	next := e.next()
	if next.StudyType != "neck_segmentation" || next.Label != "Neck" {
		t.Errorf("next = %+v", next)
	}
	if next.Image != "" || next.XBegin != "" {
		t.Errorf("next kept per-image fields: %+v", next)
	}
}

func TestNew_DefaultState(t *testing.T) {
	s, _ := newTestSession(t)
	if s.Phase() != PhaseEntry {
		t.Errorf("phase = %v, want PhaseEntry", s.Phase())
	}
	if s.entry.StudyType != "head_segmentation" || s.entry.Label != "Head" {
		t.Errorf("default entry = %+v", s.entry)
	}
	if s.form == nil {
		t.Fatal("entry form not created")
	}
	if !strings.Contains(s.View(), "2 images loaded") {
		t.Errorf("view does not report the image count:\n%s", s.View())
	}
}

func TestSession_PrepareWritesPreview(t *testing.T) {
	s, _ := newTestSession(t)
	req := labeling.Request{
		StudyPath: s.paths[0],
		StudyType: "head_segmentation",
		Index:     0,
		Label:     "Head",
		XBegin:    2, YBegin: 2, XEnd: 5, YEnd: 5,
	}

	msg, ok := s.prepare(req)().(preparedMsg)
	if !ok {
		t.Fatal("prepare did not return a preparedMsg")
	}
	if msg.err != nil {
		t.Fatalf("prepare failed: %v", msg.err)
	}
	if msg.cells != 11 {
		t.Errorf("cells = %d, want 11", msg.cells)
	}
	if _, err := os.Stat(msg.previewPath); err != nil {
		t.Errorf("preview not written: %v", err)
	}

	s.Update(msg)
	if s.Phase() != PhaseConfirm {
		t.Errorf("phase after prepare = %v, want PhaseConfirm", s.Phase())
	}
}

func TestSession_FileAndResult(t *testing.T) {
	s, outputDir := newTestSession(t)
	req := labeling.Request{
		StudyPath: s.paths[1],
		StudyType: "head_segmentation",
		Index:     1,
		Label:     "Neck",
		XBegin:    1, YBegin: 1, XEnd: 8, YEnd: 9,
	}

	msg, ok := s.file(req)().(filedMsg)
	if !ok {
		t.Fatal("file did not return a filedMsg")
	}
	if msg.err != nil {
		t.Fatalf("file failed: %v", msg.err)
	}
	want := filepath.Join(outputDir, "head_segmentation", labeling.OtherDir, "image_1.dcm")
	if msg.res.OutputPath != want {
		t.Errorf("OutputPath = %s, want %s", msg.res.OutputPath, want)
	}

	s.Update(msg)
	if s.Phase() != PhaseResult {
		t.Errorf("phase = %v, want PhaseResult", s.Phase())
	}
	if s.Annotations() != 1 {
		t.Errorf("Annotations = %d, want 1", s.Annotations())
	}
	if !strings.Contains(s.View(), labeling.OtherDir) {
		t.Errorf("result view does not mention the Other directory:\n%s", s.View())
	}
}

func TestSession_ErrorThenRetry(t *testing.T) {
	s, _ := newTestSession(t)

	s.Update(preparedMsg{err: errors.New("box (2,2)-(20,5) out of bounds")})
	if s.Phase() != PhaseError {
		t.Fatalf("phase = %v, want PhaseError", s.Phase())
	}
	if !strings.Contains(s.View(), "out of bounds") {
		t.Errorf("error view does not show the error:\n%s", s.View())
	}

	s.Update(tea.KeyMsg{Type: tea.KeyEnter})
	if s.Phase() != PhaseEntry {
		t.Errorf("phase after enter = %v, want PhaseEntry", s.Phase())
	}
}

func TestSession_EscCancels(t *testing.T) {
	s, _ := newTestSession(t)
	_, cmd := s.Update(tea.KeyMsg{Type: tea.KeyEsc})
	if cmd == nil {
		t.Fatal("expected a quit command")
	}
	if !s.cancelled {
		t.Error("session not marked cancelled")
	}
}
