package watch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"skyalign/internal/alignment"
	"skyalign/internal/asterism"
	"skyalign/internal/project"
	"skyalign/internal/raster"
	"skyalign/internal/storage"

	"github.com/go-logr/logr"
)

// AlignerConfig describes a reference frame and where aligned frames go.
type AlignerConfig struct {
	ReferencePath string
	OutputDir     string            // Defaults to the directory of each frame
	Options       alignment.Options // Detector is required
	Store         *storage.Store    // Optional run history
	Summary       map[string]any    // Settings recorded with each run
}

// Aligner aligns frames against one reference, building its triangle index once.
type Aligner struct {
	cfg   AlignerConfig
	ref   *raster.Grid
	index *asterism.Index
	log   logr.Logger
}

// Outcome describes one processed frame.
type Outcome struct {
	Path         string
	OutputPath   string
	SolutionPath string
	Result       *alignment.Result
	Overlap      float64
	RunID        int64
}

// NewAligner loads and indexes the reference frame.
func NewAligner(cfg AlignerConfig) (*Aligner, error) {
	if cfg.Options.Detector == nil {
		return nil, errors.New("no point source detector configured")
	}
	ref, err := raster.Load(cfg.ReferencePath)
	if err != nil {
		return nil, fmt.Errorf("load reference: %w", err)
	}
	stars, err := cfg.Options.Detector.Detect(ref)
	if err != nil {
		return nil, fmt.Errorf("reference detection: %w", err)
	}
	idx, err := asterism.NewIndex(stars, cfg.Options.MaxControlPoints)
	if err != nil {
		return nil, fmt.Errorf("%w: reference set: %w", asterism.ErrTransformNotFound, err)
	}
	log := cfg.Options.Logger
	if log.GetSink() == nil {
		log = logr.Discard()
	}
	log.Info("reference indexed", "path", cfg.ReferencePath, "stars", len(stars), "triangles", idx.Len())
	return &Aligner{cfg: cfg, ref: ref, index: idx, log: log}, nil
}

// ReferencePath returns the path of the indexed reference.
func (a *Aligner) ReferencePath() string {
	return a.cfg.ReferencePath
}

// OutputPaths returns where the aligned image and solution for path are written.
func (a *Aligner) OutputPaths(path string) (image, solution string) {
	dir := a.cfg.OutputDir
	if dir == "" {
		dir = filepath.Dir(path)
	}
	base := filepath.Base(path)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	image = filepath.Join(dir, stem+alignedMarker+".tif")
	return image, project.DefaultPath(filepath.Join(dir, stem+".tif"))
}

// Process aligns one frame, writes the aligned image and its solution file, and records
// the run. Failed runs are recorded too.
func (a *Aligner) Process(ctx context.Context, path string) (*Outcome, error) {
	start := time.Now()
	out, err := a.process(ctx, path)

	run := storage.Run{
		Kind:          "watch",
		ReferencePath: a.cfg.ReferencePath,
		TargetPath:    path,
		Options:       a.cfg.Summary,
		Duration:      time.Since(start),
	}
	if err != nil {
		run.Status = storage.StatusFailed
		run.Error = err.Error()
	} else {
		run.OutputPath = out.OutputPath
		run.Transform = out.Result.Transform
		run.Inliers = len(out.Result.Inliers)
		run.RMS = out.Result.RMS
		run.TriangleMatches = out.Result.TriangleMatches
		run.Candidates = out.Result.Candidates
	}
	id, recErr := a.cfg.Store.RecordRun(run)
	if recErr != nil {
		a.log.Error(recErr, "record run", "path", path)
	}
	if err != nil {
		return nil, err
	}
	out.RunID = id
	return out, nil
}

func (a *Aligner) process(ctx context.Context, path string) (*Outcome, error) {
	target, err := raster.Load(path)
	if err != nil {
		return nil, err
	}
	stars, err := a.cfg.Options.Detector.Detect(target)
	if err != nil {
		return nil, fmt.Errorf("target detection: %w", err)
	}
	res, err := alignment.FindTransformWithIndex(ctx, stars, a.index, a.cfg.Options)
	if err != nil {
		return nil, err
	}
	aligned, err := alignment.Resample(target, res.Transform, a.ref.Width, a.ref.Height, a.cfg.Options.ResampleOptions())
	if err != nil {
		return nil, fmt.Errorf("resample: %w", err)
	}

	imagePath, solutionPath := a.OutputPaths(path)
	if err := os.MkdirAll(filepath.Dir(imagePath), 0755); err != nil {
		return nil, err
	}
	lo, hi := target.MinMax()
	if err := raster.SaveRange(imagePath, aligned, lo, hi); err != nil {
		return nil, fmt.Errorf("save aligned image: %w", err)
	}

	overlap := alignment.Overlap(res.Transform, target.Width, target.Height, a.ref.Width, a.ref.Height)
	sol := project.New(filepath.Base(path), a.cfg.Options)
	sol.SetImages(solutionPath, a.cfg.ReferencePath, path, imagePath)
	sol.SetResult(res)
	sol.Overlap = overlap
	if err := sol.Save(solutionPath); err != nil {
		return nil, fmt.Errorf("save solution: %w", err)
	}

	return &Outcome{Path: path, OutputPath: imagePath, SolutionPath: solutionPath, Result: res, Overlap: overlap}, nil
}

// Handle processes path and logs the outcome. It is meant as a Watcher.Run callback.
func (a *Aligner) Handle(ctx context.Context, path string) {
	out, err := a.Process(ctx, path)
	if err != nil {
		a.log.Error(err, "frame not aligned", "path", path)
		return
	}
	a.log.Info("frame aligned",
		"path", path,
		"output", out.OutputPath,
		"inliers", len(out.Result.Inliers),
		"rms", out.Result.RMS,
		"overlap", out.Overlap)
}
