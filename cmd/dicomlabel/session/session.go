// Package session implements the interactive annotation loop: pick a study
// type and an image, enter the box corners and the label, check the preview,
// then file the annotated image.
package session

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/mrsinham/dicomlabel/internal/dicom"
	"github.com/mrsinham/dicomlabel/internal/labeling"
	"github.com/mrsinham/dicomlabel/internal/overlay"
	"github.com/mrsinham/dicomlabel/internal/preview"
)

// Phase represents the current screen of the session.
type Phase int

const (
	PhaseEntry Phase = iota
	PhasePreparing
	PhaseConfirm
	PhaseFiling
	PhaseResult
	PhaseError
)

// preparedMsg carries the outcome of loading and marking an image.
type preparedMsg struct {
	req         labeling.Request
	previewPath string
	cells       int
	err         error
}

// filedMsg carries the outcome of encoding and filing an image.
type filedMsg struct {
	res labeling.Result
	err error
}

// Session is the bubbletea model driving the annotation loop.
type Session struct {
	annotator  *labeling.Annotator
	paths      []string
	previewDir string
	previewOpt preview.Options

	phase Phase
	entry Entry
	form  *huh.Form

	// Confirmation and continuation answers bound to the forms.
	accept      bool
	keepGoing   bool
	pending     preparedMsg
	lastResult  labeling.Result
	lastErr     error
	annotations int

	cancelled bool
}

// New creates a session over the images in paths.
func New(annotator *labeling.Annotator, paths []string, previewDir string, previewOpt preview.Options) *Session {
	s := &Session{
		annotator:  annotator,
		paths:      paths,
		previewDir: previewDir,
		previewOpt: previewOpt,
		entry:      Entry{StudyType: labeling.StudyTypes()[0], Label: overlay.Head.String()},
	}
	s.toEntry()
	return s
}

// Phase returns the current phase.
func (s *Session) Phase() Phase { return s.phase }

// Annotations returns the number of images filed so far.
func (s *Session) Annotations() int { return s.annotations }

func (s *Session) toEntry() {
	s.phase = PhaseEntry

	studyOptions := make([]huh.Option[string], 0, len(labeling.StudyTypes()))
	for _, st := range labeling.StudyTypes() {
		studyOptions = append(studyOptions, huh.NewOption(st, st))
	}
	labelOptions := make([]huh.Option[string], 0, len(overlay.RegionNames()))
	for _, name := range overlay.RegionNames() {
		labelOptions = append(labelOptions, huh.NewOption(name, name))
	}

	maxIndex := len(s.paths) - 1
	s.form = huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Key("study_type").
				Title("Study type").
				Options(studyOptions...).
				Value(&s.entry.StudyType),

			huh.NewInput().
				Key("image").
				Title(fmt.Sprintf("Image number (0-%d)", maxIndex)).
				Value(&s.entry.Image).
				Validate(func(v string) error {
					n, err := parseNonNegative("image number", v)
					if err != nil {
						return err
					}
					if n > maxIndex {
						return fmt.Errorf("must be at most %d", maxIndex)
					}
					return nil
				}),
		),
		huh.NewGroup(
			huh.NewInput().Key("x_begin").Title("First point x").Value(&s.entry.XBegin).Validate(validateNonNegative),
			huh.NewInput().Key("y_begin").Title("First point y").Value(&s.entry.YBegin).Validate(validateNonNegative),
			huh.NewInput().Key("x_end").Title("End point x").Value(&s.entry.XEnd).Validate(validateNonNegative),
			huh.NewInput().Key("y_end").Title("End point y").Value(&s.entry.YEnd).Validate(validateNonNegative),
		),
		huh.NewGroup(
			huh.NewSelect[string]().
				Key("label").
				Title("Name of the marked object").
				Options(labelOptions...).
				Value(&s.entry.Label),
		),
	).WithShowHelp(false).WithShowErrors(true)
}

func (s *Session) toConfirm() {
	s.phase = PhaseConfirm
	s.accept = true
	s.form = huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Key("accept").
				Title("File this annotation?").
				Affirmative("File").
				Negative("Redo").
				Value(&s.accept),
		),
	).WithShowHelp(false)
}

func (s *Session) toResult() {
	s.phase = PhaseResult
	s.keepGoing = true
	s.form = huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Key("continue").
				Title("Continue annotating?").
				Value(&s.keepGoing),
		),
	).WithShowHelp(false)
}

// Init implements tea.Model.
func (s *Session) Init() tea.Cmd {
	return s.form.Init()
}

// Update implements tea.Model.
func (s *Session) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			s.cancelled = true
			return s, tea.Quit
		}
		if s.phase == PhaseError && msg.String() == "enter" {
			s.toEntry()
			return s, s.form.Init()
		}
	case preparedMsg:
		return s.handlePrepared(msg)
	case filedMsg:
		return s.handleFiled(msg)
	}

	if s.form == nil || s.phase == PhasePreparing || s.phase == PhaseFiling || s.phase == PhaseError {
		return s, nil
	}

	form, cmd := s.form.Update(msg)
	if f, ok := form.(*huh.Form); ok {
		s.form = f
	}
	if s.form.State != huh.StateCompleted {
		return s, cmd
	}

	switch s.phase {
	case PhaseEntry:
		req, err := s.entry.Request(s.paths)
		if err != nil {
			s.fail(err)
			return s, nil
		}
		s.phase = PhasePreparing
		return s, s.prepare(req)
	case PhaseConfirm:
		if !s.accept {
			s.toEntry()
			return s, s.form.Init()
		}
		s.phase = PhaseFiling
		return s, s.file(s.pending.req)
	case PhaseResult:
		if !s.keepGoing {
			return s, tea.Quit
		}
		s.entry = s.entry.next()
		s.toEntry()
		return s, s.form.Init()
	}
	return s, cmd
}

func (s *Session) handlePrepared(msg preparedMsg) (tea.Model, tea.Cmd) {
	if msg.err != nil {
		s.fail(msg.err)
		return s, nil
	}
	s.pending = msg
	s.toConfirm()
	return s, s.form.Init()
}

func (s *Session) handleFiled(msg filedMsg) (tea.Model, tea.Cmd) {
	if msg.err != nil {
		s.fail(msg.err)
		return s, nil
	}
	s.lastResult = msg.res
	s.annotations++
	s.toResult()
	return s, s.form.Init()
}

func (s *Session) fail(err error) {
	s.lastErr = err
	s.phase = PhaseError
}

// prepare loads and marks the image off the UI goroutine and writes the
// outlined preview.
func (s *Session) prepare(req labeling.Request) tea.Cmd {
	return func() tea.Msg {
		prep, err := s.annotator.Prepare(req)
		if err != nil {
			return preparedMsg{req: req, err: err}
		}
		path := filepath.Join(s.previewDir, req.StudyType+"_image_"+strconv.Itoa(req.Index)+".png")
		opts := s.previewOpt
		opts.Label = req.Label
		if err := preview.WriteFile(path, prep.Outlined, prep.Mask, opts); err != nil {
			return preparedMsg{req: req, err: err}
		}
		return preparedMsg{req: req, previewPath: path, cells: prep.Mask.Count()}
	}
}

func (s *Session) file(req labeling.Request) tea.Cmd {
	return func() tea.Msg {
		res, err := s.annotator.Annotate(context.Background(), req)
		return filedMsg{res: res, err: err}
	}
}

// View implements tea.Model.
func (s *Session) View() string {
	if s.cancelled {
		return "Cancelled.\n"
	}

	title := TitleStyle.Render("DICOMLABEL - Interactive annotation")
	subtitle := SubtitleStyle.Render(fmt.Sprintf("%d images loaded, %d filed this session", len(s.paths), s.annotations))

	var body string
	switch s.phase {
	case PhaseEntry:
		body = s.form.View()
	case PhasePreparing:
		body = "Normalizing image and drawing the box..."
	case PhaseConfirm:
		req := s.pending.req
		body = lipgloss.JoinVertical(lipgloss.Left,
			fmt.Sprintf("Image %d: %s", req.Index, filepath.Base(req.StudyPath)),
			fmt.Sprintf("Box (%d,%d)-(%d,%d) marked as %s, %d cells", req.XBegin, req.YBegin, req.XEnd, req.YEnd, req.Label, s.pending.cells),
			fmt.Sprintf("Preview: %s", s.pending.previewPath),
			"",
			s.form.View(),
		)
	case PhaseFiling:
		body = "Encoding overlay and filing image..."
	case PhaseResult:
		res := s.lastResult
		status := successStyle.Render("✓ Filed under " + res.Record.Region.String())
		if !res.Matched {
			status = warningStyle.Render("✓ Label does not match the study type, filed under " + labeling.OtherDir)
		}
		body = lipgloss.JoinVertical(lipgloss.Left,
			status,
			fmt.Sprintf("  %s", res.OutputPath),
			fmt.Sprintf("  Overlay group %#04x", res.Record.Group),
			"",
			s.form.View(),
		)
	case PhaseError:
		body = lipgloss.JoinVertical(lipgloss.Left,
			errorStyle.Render("Error: "+s.lastErr.Error()),
			"",
			hintStyle.Render("Enter: try again | Esc: quit"),
		)
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		title,
		subtitle,
		body,
		"",
		hintStyle.Render("Tab: Next field | Enter: Submit | Esc: Quit"),
	)
}

// Run starts an interactive session over the images in inputDir, filing
// results under opts.OutputDir.
func Run(inputDir string, opts labeling.Options) error {
	paths, err := dicom.ListStudies(inputDir)
	if err != nil {
		return err
	}

	registry, err := overlay.NewTagRegistry()
	if err != nil {
		return err
	}
	opts.Quiet = true
	annotator, err := labeling.NewAnnotator(overlay.NewEncoder(registry), opts)
	if err != nil {
		return err
	}

	previewOpt := opts.PreviewOptions
	if previewOpt.OutlineColor == "" {
		previewOpt = preview.DefaultOptions()
	}
	s := New(annotator, paths, filepath.Join(opts.OutputDir, "previews"), previewOpt)

	p := tea.NewProgram(s, tea.WithAltScreen())
	finalModel, err := p.Run()
	if err != nil {
		return fmt.Errorf("running session: %w", err)
	}

	if final, ok := finalModel.(*Session); ok && !final.cancelled {
		fmt.Printf("✓ %d images annotated in: %s/\n", final.annotations, opts.OutputDir)
	}
	return nil
}
