// Package config reads and writes batch annotation manifests in YAML.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mrsinham/dicomlabel/internal/dicom"
	"github.com/mrsinham/dicomlabel/internal/labeling"
	"github.com/mrsinham/dicomlabel/internal/marker"
	"github.com/mrsinham/dicomlabel/internal/overlay"
	"github.com/mrsinham/dicomlabel/internal/preview"
	"gopkg.in/yaml.v3"
)

// Job is a batch annotation manifest.
type Job struct {
	InputDir    string             `yaml:"input_dir"`
	OutputDir   string             `yaml:"output_dir"`
	StudyType   string             `yaml:"study_type"`
	Workers     int                `yaml:"workers"`
	Preview     PreviewConfigYAML  `yaml:"preview"`
	Annotations []AnnotationConfig `yaml:"annotations"`
}

// PreviewConfigYAML holds preview settings.
type PreviewConfigYAML struct {
	Enabled      bool   `yaml:"enabled"`
	Zoom         int    `yaml:"zoom"`
	OutlineColor string `yaml:"outline_color"`
}

// AnnotationConfig is one box marking. Image indexes the sorted list of
// .dcm files in the input directory.
type AnnotationConfig struct {
	Image     int    `yaml:"image"`
	Label     string `yaml:"label"`
	Begin     []int  `yaml:"begin,flow"`
	End       []int  `yaml:"end,flow"`
	StudyType string `yaml:"study_type,omitempty"`
}

// DefaultJob returns a manifest with the default output directory, worker
// count and preview settings, and no annotations.
func DefaultJob() *Job {
	p := preview.DefaultOptions()
	return &Job{
		OutputDir: "Data",
		Preview: PreviewConfigYAML{
			Zoom:         p.Zoom,
			OutlineColor: p.OutlineColor,
		},
	}
}

// LoadJob reads a manifest from path. Unset fields keep their defaults.
func LoadJob(path string) (*Job, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read job file: %w", err)
	}

	job := DefaultJob()
	if err := yaml.Unmarshal(data, job); err != nil {
		return nil, fmt.Errorf("parse job file: %w", err)
	}
	return job, nil
}

// SaveJob writes job to path as YAML, creating parent directories.
func SaveJob(job *Job, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create job directory: %w", err)
	}

	data, err := yaml.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write job file: %w", err)
	}
	return nil
}

// Validate checks the manifest without touching the input directory.
// All problems are reported together.
func (j *Job) Validate() error {
	var errs []error

	if j.InputDir == "" {
		errs = append(errs, errors.New("input_dir is required"))
	}
	if j.OutputDir == "" {
		errs = append(errs, errors.New("output_dir is required"))
	}
	if j.Workers < 0 {
		errs = append(errs, fmt.Errorf("workers must be >= 0, got %d", j.Workers))
	}
	if err := j.AnnotatorOptions().PreviewOptions.Validate(); err != nil {
		errs = append(errs, err)
	}
	if len(j.Annotations) == 0 {
		errs = append(errs, errors.New("at least one annotation is required"))
	}

	for i, a := range j.Annotations {
		if err := j.validateAnnotation(a); err != nil {
			errs = append(errs, fmt.Errorf("annotation %d: %w", i, err))
		}
	}

	return errors.Join(errs...)
}

func (j *Job) validateAnnotation(a AnnotationConfig) error {
	if a.Image < 0 {
		return fmt.Errorf("image must be >= 0, got %d", a.Image)
	}
	if _, _, err := labeling.ExpectedRegion(j.studyType(a)); err != nil {
		return err
	}
	if _, err := overlay.ParseBodyRegion(a.Label); err != nil {
		return err
	}
	_, err := a.box()
	return err
}

func (j *Job) studyType(a AnnotationConfig) string {
	if a.StudyType != "" {
		return a.StudyType
	}
	return j.StudyType
}

func (a AnnotationConfig) box() (marker.BoundingBox, error) {
	if len(a.Begin) != 2 || len(a.End) != 2 {
		return marker.BoundingBox{}, fmt.Errorf("begin and end need two coordinates each, got %v and %v", a.Begin, a.End)
	}
	return marker.NewBoundingBox(a.Begin[0], a.Begin[1], a.End[0], a.End[1])
}

// Requests resolves the manifest into annotation requests, mapping each
// image number onto the sorted .dcm files of the input directory.
func (j *Job) Requests() (labeling.Job, error) {
	if err := j.Validate(); err != nil {
		return labeling.Job{}, err
	}

	paths, err := dicom.ListStudies(j.InputDir)
	if err != nil {
		return labeling.Job{}, err
	}

	reqs := make([]labeling.Request, 0, len(j.Annotations))
	for i, a := range j.Annotations {
		if a.Image >= len(paths) {
			return labeling.Job{}, fmt.Errorf("annotation %d: image %d out of range, %s has %d images", i, a.Image, j.InputDir, len(paths))
		}
		reqs = append(reqs, labeling.Request{
			StudyPath: paths[a.Image],
			StudyType: j.studyType(a),
			Index:     a.Image,
			Label:     a.Label,
			XBegin:    a.Begin[0],
			YBegin:    a.Begin[1],
			XEnd:      a.End[0],
			YEnd:      a.End[1],
		})
	}
	return labeling.Job{Requests: reqs}, nil
}

// AnnotatorOptions converts the manifest settings into annotator options.
func (j *Job) AnnotatorOptions() labeling.Options {
	return labeling.Options{
		OutputDir: j.OutputDir,
		Workers:   j.Workers,
		Preview:   j.Preview.Enabled,
		PreviewOptions: preview.Options{
			Zoom:         j.Preview.Zoom,
			OutlineColor: j.Preview.OutlineColor,
		},
	}
}
