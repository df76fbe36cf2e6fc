package labeling

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"runtime"
	"strings"
	"sync"

	"github.com/mrsinham/dicomlabel/internal/dicom"
	"github.com/mrsinham/dicomlabel/internal/intensity"
	"github.com/mrsinham/dicomlabel/internal/marker"
	"github.com/mrsinham/dicomlabel/internal/overlay"
	"github.com/mrsinham/dicomlabel/internal/preview"
)

var (
	// ErrDuplicateImage is returned by Run when two requests target the same output image.
	ErrDuplicateImage = errors.New("image requested more than once")
	// ErrSharedStudy is returned by Run when two requests carry the same loaded study.
	// Each worker encodes into its own container.
	ErrSharedStudy = errors.New("study shared between requests")
)

// Options configures an Annotator.
type Options struct {
	OutputDir string // Root of the filing tree
	Workers   int    // Number of parallel workers for Run (0 = CPU cores)

	// Preview writes a PNG next to each filed image.
	Preview        bool
	PreviewOptions preview.Options

	Quiet            bool                     // Suppress progress output
	ProgressCallback func(current, total int) // Optional callback for progress updates
}

// Request describes one image to annotate.
type Request struct {
	// StudyPath is read when Study is nil.
	StudyPath string
	Study     *dicom.Study

	StudyType string
	Index     int    // Image number, used in the output file name
	Label     string // Region name the operator assigned to the box

	XBegin, YBegin int
	XEnd, YEnd     int
}

// Box returns the request's bounding box.
func (r Request) Box() (marker.BoundingBox, error) {
	return marker.NewBoundingBox(r.XBegin, r.YBegin, r.XEnd, r.YEnd)
}

func (r Request) source() string {
	if r.StudyPath != "" {
		return r.StudyPath
	}
	if r.Study != nil && r.Study.Path != "" {
		return r.Study.Path
	}
	return fmt.Sprintf("image %d", r.Index)
}

// Result is the outcome of one request.
type Result struct {
	Index       int
	Source      string
	OutputPath  string
	PreviewPath string
	Matched     bool
	Record      overlay.OverlayRecord
	Err         error
}

// Job is a batch of requests processed by Run.
type Job struct {
	Requests []Request
}

// Annotator applies box markings to studies and files the results.
// The encoder's tag registry is the only state shared between workers.
type Annotator struct {
	encoder *overlay.Encoder
	opts    Options
}

// NewAnnotator returns an Annotator writing under opts.OutputDir.
func NewAnnotator(encoder *overlay.Encoder, opts Options) (*Annotator, error) {
	if encoder == nil {
		return nil, errors.New("encoder is required")
	}
	if opts.OutputDir == "" {
		return nil, errors.New("output directory is required")
	}
	return &Annotator{encoder: encoder, opts: opts}, nil
}

// Prepared holds the intermediate results of a request before anything is written.
type Prepared struct {
	Study      *dicom.Study
	Normalized intensity.NormalizedImage
	Outlined   intensity.NormalizedImage
	Mask       marker.Mask
}

// Prepare loads the study and computes the normalized image, the outlined
// preview and the box mask. Nothing is written.
func (a *Annotator) Prepare(req Request) (Prepared, error) {
	study := req.Study
	if study == nil {
		if req.StudyPath == "" {
			return Prepared{}, errors.New("request has neither a study nor a path")
		}
		loaded, err := dicom.Load(req.StudyPath)
		if err != nil {
			return Prepared{}, err
		}
		study = loaded
	}

	raw, err := study.RawImage()
	if err != nil {
		return Prepared{}, err
	}
	calibrated, err := intensity.ToCalibrated(raw)
	if err != nil {
		return Prepared{}, fmt.Errorf("calibrate: %w", err)
	}
	normalized, err := intensity.ToNormalized(calibrated)
	if err != nil {
		return Prepared{}, fmt.Errorf("normalize: %w", err)
	}

	box, err := req.Box()
	if err != nil {
		return Prepared{}, err
	}
	outlined, err := marker.Outline(normalized, box)
	if err != nil {
		return Prepared{}, fmt.Errorf("outline %v: %w", box, err)
	}
	mask, err := marker.BoxMask(normalized, box)
	if err != nil {
		return Prepared{}, fmt.Errorf("mask %v: %w", box, err)
	}

	return Prepared{
		Study:      study,
		Normalized: normalized,
		Outlined:   outlined,
		Mask:       mask,
	}, nil
}

// Annotate runs the full pipeline for one request. The file is only written
// after the overlay was encoded; any failure leaves the filing tree untouched.
func (a *Annotator) Annotate(ctx context.Context, req Request) (Result, error) {
	res := Result{Index: req.Index, Source: req.source()}
	if err := ctx.Err(); err != nil {
		return res, err
	}

	label, err := overlay.ParseBodyRegion(req.Label)
	if err != nil {
		return res, err
	}
	path, matched, err := OutputPath(a.opts.OutputDir, req.StudyType, label, req.Index)
	if err != nil {
		return res, err
	}

	prep, err := a.Prepare(req)
	if err != nil {
		return res, err
	}

	var rendered *image.NRGBA
	if a.opts.Preview {
		opts := a.opts.PreviewOptions
		if opts.Label == "" {
			opts.Label = label.String()
		}
		if rendered, err = preview.Render(prep.Normalized, prep.Mask, opts); err != nil {
			return res, fmt.Errorf("render preview: %w", err)
		}
	}

	rec, err := a.encoder.Encode(prep.Study, label, prep.Mask)
	if err != nil {
		return res, fmt.Errorf("encode overlay: %w", err)
	}

	if err := prep.Study.Save(path); err != nil {
		return res, err
	}

	if rendered != nil {
		previewPath := strings.TrimSuffix(path, ".dcm") + ".png"
		if err := preview.Save(previewPath, rendered); err != nil {
			// The image and its preview are filed together or not at all.
			_ = os.Remove(path)
			return res, err
		}
		res.PreviewPath = previewPath
	}

	res.OutputPath = path
	res.Matched = matched
	res.Record = rec
	return res, nil
}

// Run annotates every request of job with a pool of workers. A failed request
// does not stop the others; its error is recorded in its Result and the first
// failure is returned. Cancelling ctx stops dispatching new requests.
// Requests may not target the same output image or share a loaded Study.
func (a *Annotator) Run(ctx context.Context, job Job) ([]Result, error) {
	if len(job.Requests) == 0 {
		return nil, errors.New("job has no requests")
	}
	if err := checkDuplicates(job.Requests); err != nil {
		return nil, err
	}

	numWorkers := a.opts.Workers
	if numWorkers <= 0 {
		numWorkers = runtime.NumCPU()
	}
	if numWorkers > len(job.Requests) {
		numWorkers = len(job.Requests)
	}

	if !a.opts.Quiet {
		fmt.Printf("Annotating %d images with %d parallel workers...\n", len(job.Requests), numWorkers)
	}

	type task struct {
		pos int
		req Request
	}
	type outcome struct {
		pos int
		res Result
	}

	taskChan := make(chan task, len(job.Requests))
	resultChan := make(chan outcome, len(job.Requests))

	var wg sync.WaitGroup
	for w := 0; w < numWorkers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for t := range taskChan {
				res, err := a.Annotate(ctx, t.req)
				res.Err = err
				resultChan <- outcome{t.pos, res}
			}
		}()
	}

	results := make([]Result, len(job.Requests))
	dispatched := 0
	for i, req := range job.Requests {
		if ctx.Err() != nil {
			break
		}
		taskChan <- task{i, req}
		dispatched++
	}
	close(taskChan)

	go func() {
		wg.Wait()
		close(resultChan)
	}()

	completed := 0
	var firstErr error
	for o := range resultChan {
		results[o.pos] = o.res
		if o.res.Err != nil && firstErr == nil {
			firstErr = fmt.Errorf("annotate %s: %w", o.res.Source, o.res.Err)
		}
		completed++
		if a.opts.ProgressCallback != nil {
			a.opts.ProgressCallback(completed, len(job.Requests))
		}
		if !a.opts.Quiet {
			fmt.Printf("  Progress: %d/%d %s\n", completed, len(job.Requests), describe(o.res))
		}
	}

	for i := dispatched; i < len(job.Requests); i++ {
		req := job.Requests[i]
		results[i] = Result{Index: req.Index, Source: req.source(), Err: ctx.Err()}
	}
	if firstErr == nil && dispatched < len(job.Requests) {
		firstErr = ctx.Err()
	}

	if !a.opts.Quiet {
		filed := 0
		for _, r := range results {
			if r.Err == nil {
				filed++
			}
		}
		fmt.Printf("\n✓ %d/%d images filed in: %s/\n", filed, len(job.Requests), a.opts.OutputDir)
	}

	return results, firstErr
}

func describe(r Result) string {
	switch {
	case r.Err != nil:
		return fmt.Sprintf("✗ %s: %v", r.Source, r.Err)
	case r.Matched:
		return fmt.Sprintf("✓ %s -> %s", r.Source, r.OutputPath)
	default:
		return fmt.Sprintf("✓ %s -> %s (label mismatch)", r.Source, r.OutputPath)
	}
}

// checkDuplicates rejects jobs in which two requests would write the same file
// or encode into the same in-memory study.
func checkDuplicates(reqs []Request) error {
	seen := make(map[string]int, len(reqs))
	studies := make(map[*dicom.Study]int)
	for i, req := range reqs {
		if req.Study != nil {
			if prev, ok := studies[req.Study]; ok {
				return fmt.Errorf("%w: requests %d and %d", ErrSharedStudy, prev, i)
			}
			studies[req.Study] = i
		}
		name, _, err := ExpectedRegion(req.StudyType)
		if err != nil {
			return fmt.Errorf("request %d: %w", i, err)
		}
		key := fmt.Sprintf("%s/%d", name, req.Index)
		if prev, ok := seen[key]; ok {
			return fmt.Errorf("%w: %s image %d in requests %d and %d", ErrDuplicateImage, name, req.Index, prev, i)
		}
		seen[key] = i
	}
	return nil
}
