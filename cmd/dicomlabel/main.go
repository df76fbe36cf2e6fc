package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/mrsinham/dicomlabel/cmd/dicomlabel/session"
	"github.com/mrsinham/dicomlabel/internal/config"
	"github.com/mrsinham/dicomlabel/internal/dicom"
	"github.com/mrsinham/dicomlabel/internal/labeling"
	"github.com/mrsinham/dicomlabel/internal/overlay"
	"github.com/mrsinham/dicomlabel/internal/preview"
)

// version is set at build time via -ldflags
var version = "dev"

func main() {
	// Subcommands are dispatched before flag.Parse
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "batch":
			exitOnError(runBatch(os.Args[2:]))
			os.Exit(0)
		case "synth":
			exitOnError(runSynth(os.Args[2:]))
			os.Exit(0)
		}
	}

	inputDir := flag.String("input", "", "Directory with the DICOM images to annotate (required)")
	image := flag.Int("image", -1, "Image number in the sorted list of .dcm files (required)")
	studyType := flag.String("study-type", "", "Study type: "+strings.Join(labeling.StudyTypes(), ", ")+" (required)")
	label := flag.String("label", "", "Name of the marked object: "+strings.Join(overlay.RegionNames(), ", ")+" (required)")
	box := flag.String("box", "", "Bounding box corners 'xBegin,yBegin,xEnd,yEnd' (required)")
	outputDir := flag.String("output", "Data", "Root directory of the filing tree")

	previewOn := flag.Bool("preview", false, "Write a PNG preview next to the filed image")
	zoom := flag.Int("zoom", preview.DefaultOptions().Zoom, "Preview upscale factor")
	outlineColor := flag.String("outline-color", preview.DefaultOptions().OutlineColor, "Preview outline colour (hex)")
	quiet := flag.Bool("quiet", false, "Suppress progress output")

	interactive := flag.Bool("interactive", false, "Annotate images interactively")
	flag.BoolVar(interactive, "i", false, "Annotate images interactively (shortcut)")

	help := flag.Bool("help", false, "Show help message")
	showVersion := flag.Bool("version", false, "Show version")

	flag.Parse()

	if *showVersion {
		fmt.Printf("dicomlabel %s\n", version)
		os.Exit(0)
	}

	if *help {
		printHelp()
		os.Exit(0)
	}

	opts := labeling.Options{
		OutputDir: *outputDir,
		Preview:   *previewOn,
		PreviewOptions: preview.Options{
			Zoom:         *zoom,
			OutlineColor: *outlineColor,
		},
		Quiet: *quiet,
	}
	if err := opts.PreviewOptions.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if *interactive {
		if *inputDir == "" {
			fmt.Fprintf(os.Stderr, "Error: --input is required\n")
			printUsage()
			os.Exit(1)
		}
		exitOnError(session.Run(*inputDir, opts))
		os.Exit(0)
	}

	// Validate required arguments
	if *inputDir == "" {
		fmt.Fprintf(os.Stderr, "Error: --input is required\n")
		printUsage()
		os.Exit(1)
	}
	if *image < 0 {
		fmt.Fprintf(os.Stderr, "Error: --image must be >= 0\n")
		printUsage()
		os.Exit(1)
	}
	if *studyType == "" || *label == "" || *box == "" {
		fmt.Fprintf(os.Stderr, "Error: --study-type, --label and --box are required\n")
		printUsage()
		os.Exit(1)
	}

	corners, err := parseBox(*box)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	paths, err := dicom.ListStudies(*inputDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if *image >= len(paths) {
		fmt.Fprintf(os.Stderr, "Error: --image %d out of range, %s has %d images\n", *image, *inputDir, len(paths))
		os.Exit(1)
	}

	annotator, err := newAnnotator(opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if !*quiet {
		fmt.Println("dicomlabel")
		fmt.Println("==========")
		fmt.Printf("Image %d: %s\n", *image, paths[*image])
	}

	res, err := annotator.Annotate(context.Background(), labeling.Request{
		StudyPath: paths[*image],
		StudyType: *studyType,
		Index:     *image,
		Label:     *label,
		XBegin:    corners[0],
		YBegin:    corners[1],
		XEnd:      corners[2],
		YEnd:      corners[3],
	})
	exitOnError(err)

	if !*quiet {
		if res.Matched {
			fmt.Printf("\n✓ %s marked, filed in: %s\n", res.Record.Region, res.OutputPath)
		} else {
			fmt.Printf("\n✓ %s marked, label does not match %s, filed in: %s\n", res.Record.Region, *studyType, res.OutputPath)
		}
		fmt.Printf("  Overlay group: %#04x\n", res.Record.Group)
		if res.PreviewPath != "" {
			fmt.Printf("  Preview: %s\n", res.PreviewPath)
		}
	}
}

// runBatch annotates every entry of a YAML job manifest.
func runBatch(args []string) error {
	fs := flag.NewFlagSet("batch", flag.ExitOnError)
	configFile := fs.String("config", "", "YAML job manifest (required)")
	workers := fs.Int("workers", -1, fmt.Sprintf("Override the manifest's worker count (0 = %d CPU cores)", runtime.NumCPU()))
	quiet := fs.Bool("quiet", false, "Suppress progress output")
	initFile := fs.String("init", "", "Write a default job manifest to this path and exit")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *initFile != "" {
		if err := config.SaveJob(config.DefaultJob(), *initFile); err != nil {
			return err
		}
		fmt.Printf("✓ Job manifest written to %s\n", *initFile)
		return nil
	}

	if *configFile == "" {
		return fmt.Errorf("batch: --config is required")
	}

	job, err := config.LoadJob(*configFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if *workers >= 0 {
		job.Workers = *workers
	}

	reqs, err := job.Requests()
	if err != nil {
		return fmt.Errorf("invalid job %s: %w", *configFile, err)
	}

	opts := job.AnnotatorOptions()
	opts.Quiet = *quiet
	annotator, err := newAnnotator(opts)
	if err != nil {
		return err
	}

	if !*quiet {
		fmt.Println("dicomlabel")
		fmt.Println("==========")
		fmt.Printf("Loading job from %s\n\n", *configFile)
	}

	_, err = annotator.Run(context.Background(), reqs)
	return err
}

// runSynth writes synthetic CT slices for trying the tool without real data.
func runSynth(args []string) error {
	fs := flag.NewFlagSet("synth", flag.ExitOnError)
	outputDir := fs.String("output", "ct_sample", "Output directory")
	count := fs.Int("count", 5, "Number of slices")
	rows := fs.Int("rows", 128, "Image rows")
	cols := fs.Int("cols", 128, "Image columns")
	seed := fs.Int64("seed", 42, "Seed for reproducibility")
	intercept := fs.Float64("intercept", -1024, "Rescale intercept")
	slope := fs.Float64("slope", 1, "Rescale slope")
	bodyPart := fs.String("body-part", "CHEST", "Body part examined")
	quiet := fs.Bool("quiet", false, "Suppress progress output")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *count <= 0 {
		return fmt.Errorf("synth: --count must be > 0")
	}

	for i := 0; i < *count; i++ {
		opts := dicom.SyntheticOptions{
			Rows:             *rows,
			Cols:             *cols,
			Seed:             *seed + int64(i),
			RescaleSlope:     *slope,
			RescaleIntercept: *intercept,
			BodyPart:         *bodyPart,
		}
		path := filepath.Join(*outputDir, fmt.Sprintf("slice_%03d.dcm", i))
		if err := dicom.WriteSyntheticCT(path, opts); err != nil {
			return err
		}
	}

	if !*quiet {
		fmt.Printf("✓ %d synthetic CT slices created in: %s/\n", *count, *outputDir)
	}
	return nil
}

func newAnnotator(opts labeling.Options) (*labeling.Annotator, error) {
	registry, err := overlay.NewTagRegistry()
	if err != nil {
		return nil, err
	}
	return labeling.NewAnnotator(overlay.NewEncoder(registry), opts)
}

// parseBox parses "xBegin,yBegin,xEnd,yEnd".
func parseBox(s string) ([4]int, error) {
	var corners [4]int
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return corners, fmt.Errorf("--box needs four comma-separated values, got %q", s)
	}
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return corners, fmt.Errorf("--box value %q is not a number", p)
		}
		corners[i] = n
	}
	return corners, nil
}

func exitOnError(err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, "\nUsage: dicomlabel --input <DIR> --image <N> --study-type <TYPE> --label <PART> --box <x0,y0,x1,y1> [options]\n")
	fmt.Fprintf(os.Stderr, "Run 'dicomlabel --help' for more information.\n")
}

func printHelp() {
	fmt.Println("dicomlabel - Mark body regions on CT slices and store them as DICOM overlays")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  dicomlabel [options]")
	fmt.Println("  dicomlabel -i --input <DIR>")
	fmt.Println("  dicomlabel batch --config <FILE>")
	fmt.Println("  dicomlabel synth [options]")
	fmt.Println()
	fmt.Println("Required arguments:")
	fmt.Println("  --input <DIR>         Directory with the .dcm images (sorted by name)")
	fmt.Println("  --image <N>           Image number in that list, starting at 0")
	fmt.Println("  --study-type <TYPE>   head_segmentation, neck_segmentation, chest_segmentation,")
	fmt.Println("                        abdomen_segmentation or pelvis_segmentation")
	fmt.Println("  --label <PART>        Head, Neck, Chest, Abdomen or Pelvis")
	fmt.Println("  --box <x0,y0,x1,y1>   Bounding box corners in pixels")
	fmt.Println()
	fmt.Println("Optional arguments:")
	fmt.Println("  --output <DIR>        Root of the filing tree (default: 'Data')")
	fmt.Println("  --preview             Write a PNG preview next to the filed image")
	fmt.Println("  --zoom <N>            Preview upscale factor (default: 2)")
	fmt.Println("  --outline-color <HEX> Preview outline colour (default: #ff3030)")
	fmt.Println("  --quiet               Suppress progress output")
	fmt.Println("  -i, --interactive     Annotate images one by one in a form")
	fmt.Println("  --version             Show version")
	fmt.Println("  --help                Show this help message")
	fmt.Println()
	fmt.Println("Batch:")
	fmt.Println("  --config <FILE>       YAML job manifest")
	fmt.Println("  --init <FILE>         Write a default manifest and exit")
	fmt.Printf("  --workers <N>         Parallel workers (default: manifest, 0 = %d CPU cores)\n", runtime.NumCPU())
	fmt.Println()
	fmt.Println("Synth:")
	fmt.Println("  --output <DIR>        Output directory (default: 'ct_sample')")
	fmt.Println("  --count <N>           Number of slices (default: 5)")
	fmt.Println("  --rows, --cols <N>    Image size (default: 128x128)")
	fmt.Println("  --seed <N>            Seed for reproducibility (default: 42)")
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Println("  # Mark the chest on image 3 of a chest study")
	fmt.Println("  dicomlabel --input ./ct_sample --image 3 --study-type chest_segmentation --label Chest --box 20,30,100,90")
	fmt.Println()
	fmt.Println("  # Annotate many images from a manifest with 4 workers")
	fmt.Println("  dicomlabel batch --config job.yaml --workers 4")
	fmt.Println()
	fmt.Println("Output:")
	fmt.Println("  <output>/<study_type>/<Part>/image_<N>.dcm  when the label matches the study type")
	fmt.Println("  <output>/<study_type>/Other/image_<N>.dcm   otherwise")
	fmt.Println("  The box is stored as a 1-bit overlay in the region's group:")
	fmt.Println("  Head 6000, Neck 6002, Chest 6004, Abdomen 6006, Pelvis 6008")
}
