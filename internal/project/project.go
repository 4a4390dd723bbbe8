// Package project provides alignment solution files: the reference and target frames,
// the recovered transform and the settings that produced it.
package project

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"skyalign/internal/alignment"
	"skyalign/internal/asterism"
	"skyalign/internal/match"
	"skyalign/pkg/geometry"
)

// FormatVersion is written into every solution file.
const FormatVersion = 1

// File represents a saved alignment solution (.skyalign.json).
type File struct {
	Version  int       `json:"version"`
	Name     string    `json:"name"`
	Created  time.Time `json:"created"`
	Modified time.Time `json:"modified"`

	// Image paths (relative to solution file)
	ReferenceImagePath string `json:"reference_image,omitempty"`
	TargetImagePath    string `json:"target_image,omitempty"`
	AlignedImagePath   string `json:"aligned_image,omitempty"`

	// Alignment state
	Aligned         bool                     `json:"aligned"`
	Transform       geometry.AffineTransform `json:"transform"`
	RMS             float64                  `json:"rms,omitempty"`
	Spread          float64                  `json:"spread,omitempty"`
	Overlap         float64                  `json:"overlap,omitempty"` // Fraction of the reference frame covered
	TriangleMatches int                      `json:"triangle_matches,omitempty"`
	Candidates      int                      `json:"candidates,omitempty"`
	Inliers         []Correspondence         `json:"inliers,omitempty"`

	Settings Settings `json:"settings"`
}

// Correspondence is one inlier pair as stored on disk.
type Correspondence struct {
	Target int              `json:"target"`
	Ref    int              `json:"ref"`
	From   geometry.Point2D `json:"from"`
	To     geometry.Point2D `json:"to"`
	Votes  int              `json:"votes"`
}

// Settings records the engine options used for the solution.
type Settings struct {
	MaxControlPoints   int     `json:"max_control_points"`
	InvariantTolerance float64 `json:"invariant_tolerance"`
	MinSupport         int     `json:"min_support"`
	OutlierK           float64 `json:"outlier_k"`
	Interpolation      string  `json:"interpolation"`
	FillValue          float64 `json:"fill_value"`
}

// New creates an empty solution.
func New(name string, opts alignment.Options) *File {
	now := time.Now()
	return &File{
		Version:   FormatVersion,
		Name:      name,
		Created:   now,
		Modified:  now,
		Transform: geometry.Identity(),
		Settings: Settings{
			MaxControlPoints:   opts.MaxControlPoints,
			InvariantTolerance: opts.InvariantTolerance,
			MinSupport:         opts.MinSupport,
			OutlierK:           opts.OutlierK,
			Interpolation:      opts.Interpolation.String(),
			FillValue:          opts.FillValue,
		},
	}
}

// SetResult stores an estimated transform and its inliers.
func (p *File) SetResult(res *alignment.Result) {
	p.Aligned = true
	p.Transform = res.Transform
	p.RMS = res.RMS
	p.Spread = res.Spread
	p.TriangleMatches = res.TriangleMatches
	p.Candidates = res.Candidates
	p.Inliers = make([]Correspondence, len(res.Inliers))
	for i, pr := range res.Inliers {
		p.Inliers[i] = Correspondence{Target: pr.Target, Ref: pr.Ref, From: pr.TargetPoint, To: pr.RefPoint, Votes: pr.Votes}
	}
	p.Modified = time.Now()
}

// Pairs converts the stored inliers back to match pairs.
func (p *File) Pairs() []match.Pair {
	pairs := make([]match.Pair, len(p.Inliers))
	for i, c := range p.Inliers {
		pairs[i] = match.Pair{Target: c.Target, Ref: c.Ref, TargetPoint: c.From, RefPoint: c.To, Votes: c.Votes}
	}
	return pairs
}

// Load loads a solution from a file.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var proj File
	if err := json.Unmarshal(data, &proj); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if proj.Version > FormatVersion {
		return nil, fmt.Errorf("%s: unsupported solution version %d", path, proj.Version)
	}
	if proj.Aligned && !proj.Transform.Invertible() {
		return nil, fmt.Errorf("%s: %w", path, asterism.ErrDegenerateGeometry)
	}

	return &proj, nil
}

// Save saves the solution to a file.
func (p *File) Save(path string) error {
	if path == "" {
		return errors.New("empty solution path")
	}
	p.Modified = time.Now()

	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

func relativeTo(projectPath, imagePath string) string {
	rel, err := filepath.Rel(filepath.Dir(projectPath), imagePath)
	if err != nil {
		return imagePath
	}
	return rel
}

func resolve(projectPath, stored string) string {
	if stored == "" {
		return ""
	}
	if filepath.IsAbs(stored) {
		return stored
	}
	return filepath.Join(filepath.Dir(projectPath), stored)
}

// SetImages records the image paths relative to the solution file. Empty paths are skipped.
func (p *File) SetImages(projectPath, reference, target, aligned string) {
	if reference != "" {
		p.ReferenceImagePath = relativeTo(projectPath, reference)
	}
	if target != "" {
		p.TargetImagePath = relativeTo(projectPath, target)
	}
	if aligned != "" {
		p.AlignedImagePath = relativeTo(projectPath, aligned)
	}
	p.Modified = time.Now()
}

// GetReferenceImagePath returns the absolute path to the reference image.
func (p *File) GetReferenceImagePath(projectPath string) string {
	return resolve(projectPath, p.ReferenceImagePath)
}

// GetTargetImagePath returns the absolute path to the target image.
func (p *File) GetTargetImagePath(projectPath string) string {
	return resolve(projectPath, p.TargetImagePath)
}

// GetAlignedImagePath returns the absolute path to the aligned image.
func (p *File) GetAlignedImagePath(projectPath string) string {
	return resolve(projectPath, p.AlignedImagePath)
}

// DefaultPath derives a solution path next to the target image.
func DefaultPath(targetPath string) string {
	base := targetPath[:len(targetPath)-len(filepath.Ext(targetPath))]
	return base + ".skyalign.json"
}
