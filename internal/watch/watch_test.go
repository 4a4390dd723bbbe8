package watch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"skyalign/internal/alignment"
	"skyalign/internal/asterism"
	"skyalign/internal/project"
	"skyalign/internal/raster"
	"skyalign/internal/storage"
	"skyalign/internal/synthetic"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// widthDetector hands back preset catalogs keyed by image width.
type widthDetector map[int]asterism.PointSet

func (d widthDetector) Detect(g *raster.Grid) (asterism.PointSet, error) {
	set, ok := d[g.Width]
	if !ok {
		return nil, errors.New("unknown frame")
	}
	return set, nil
}

const (
	refWidth    = 128
	targetWidth = 96
	junkWidth   = 64
)

func setup(t *testing.T) (dir string, field synthetic.Field, opts alignment.Options) {
	t.Helper()
	field = synthetic.NewField(synthetic.FieldParams{
		Seed: 3, Stars: 400, Width: refWidth, Height: refWidth, AngleDeg: 20, DX: 5, DY: -3,
	})
	dir = t.TempDir()
	require.NoError(t, raster.Save(filepath.Join(dir, "ref.tif"), synthetic.Render(field.Ref, refWidth, refWidth, 1.5, 10)))

	opts = alignment.DefaultOptions()
	opts.Detector = widthDetector{
		refWidth:    field.Ref,
		targetWidth: field.Target,
		junkWidth:   field.Target[:2],
	}
	return dir, field, opts
}

func writeFrame(t *testing.T, path string, width int) {
	t.Helper()
	g := raster.NewGrid(width, refWidth)
	for i := range g.Pix {
		g.Pix[i] = float64(i % 97)
	}
	require.NoError(t, raster.Save(path, g))
}

func TestAlignerProcess(t *testing.T) {
	dir, field, opts := setup(t)
	store, err := storage.New(filepath.Join(dir, "runs.db"))
	require.NoError(t, err)
	defer store.Close()

	a, err := NewAligner(AlignerConfig{
		ReferencePath: filepath.Join(dir, "ref.tif"),
		OutputDir:     filepath.Join(dir, "out"),
		Options:       opts,
		Store:         store,
		Summary:       map[string]any{"interpolation": "bilinear"},
	})
	require.NoError(t, err)

	framePath := filepath.Join(dir, "frame1.tif")
	writeFrame(t, framePath, targetWidth)

	out, err := a.Process(context.Background(), framePath)
	require.NoError(t, err)
	assert.Less(t, out.Result.Transform.RelativeError(field.Truth), 0.02)
	assert.Equal(t, filepath.Join(dir, "out", "frame1.aligned.tif"), out.OutputPath)

	aligned, err := raster.Load(out.OutputPath)
	require.NoError(t, err)
	assert.Equal(t, refWidth, aligned.Width)
	assert.Equal(t, refWidth, aligned.Height)

	sol, err := project.Load(out.SolutionPath)
	require.NoError(t, err)
	assert.True(t, sol.Aligned)
	assert.Equal(t, out.Result.Transform, sol.Transform)
	assert.Equal(t, framePath, sol.GetTargetImagePath(out.SolutionPath))

	run, err := store.GetRun(out.RunID)
	require.NoError(t, err)
	assert.Equal(t, storage.StatusOK, run.Status)
	assert.Equal(t, len(out.Result.Inliers), run.Inliers)
	assert.Equal(t, "bilinear", run.Options["interpolation"])
}

func TestAlignerRecordsFailures(t *testing.T) {
	dir, _, opts := setup(t)
	store, err := storage.New(filepath.Join(dir, "runs.db"))
	require.NoError(t, err)
	defer store.Close()

	a, err := NewAligner(AlignerConfig{ReferencePath: filepath.Join(dir, "ref.tif"), Options: opts, Store: store})
	require.NoError(t, err)

	junk := filepath.Join(dir, "junk.tif")
	writeFrame(t, junk, junkWidth)
	_, err = a.Process(context.Background(), junk)
	assert.ErrorIs(t, err, asterism.ErrTransformNotFound)

	_, err = a.Process(context.Background(), filepath.Join(dir, "missing.tif"))
	assert.Error(t, err)

	runs, err := store.RunsForReference(a.ReferencePath())
	require.NoError(t, err)
	require.Len(t, runs, 2)
	for _, r := range runs {
		assert.Equal(t, storage.StatusFailed, r.Status)
		assert.NotEmpty(t, r.Error)
	}
}

func TestNewAlignerErrors(t *testing.T) {
	dir, _, opts := setup(t)

	noDetector := opts
	noDetector.Detector = nil
	_, err := NewAligner(AlignerConfig{ReferencePath: filepath.Join(dir, "ref.tif"), Options: noDetector})
	assert.Error(t, err)

	_, err = NewAligner(AlignerConfig{ReferencePath: filepath.Join(dir, "nope.tif"), Options: opts})
	assert.Error(t, err)
}

func TestWatcherFilters(t *testing.T) {
	w, err := New([]string{"."}, []string{"tif", ".PNG"}, 0, logr.Discard())
	require.NoError(t, err)
	defer w.watcher.Close()
	w.Ignore("ref.tif")

	assert.True(t, w.wanted("frames/a.tif"))
	assert.True(t, w.wanted("frames/a.png"))
	assert.False(t, w.wanted("frames/a.jpg"))
	assert.False(t, w.wanted("frames/a.aligned.tif"))
	assert.False(t, w.wanted("ref.tif"))

	_, err = New(nil, nil, 0, logr.Discard())
	assert.Error(t, err)
}

func TestWatcherAlignsNewFrames(t *testing.T) {
	dir, _, opts := setup(t)
	a, err := NewAligner(AlignerConfig{ReferencePath: filepath.Join(dir, "ref.tif"), Options: opts})
	require.NoError(t, err)

	w, err := New([]string{dir}, []string{".tif"}, 50*time.Millisecond, logr.Discard())
	require.NoError(t, err)
	w.Ignore(a.ReferencePath())

	ctx, cancel := context.WithCancel(context.Background())
	outcomes := make(chan string, 10)
	done := make(chan error, 1)
	go func() {
		done <- w.Run(ctx, func(ctx context.Context, path string) {
			if _, err := a.Process(ctx, path); err == nil {
				outcomes <- path
			}
		})
	}()

	// Give the watcher time to register the directory.
	time.Sleep(200 * time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("seeing 2\""), 0644))
	framePath := filepath.Join(dir, "frame2.tif")
	writeFrame(t, framePath, targetWidth)

	select {
	case got := <-outcomes:
		assert.Equal(t, framePath, got)
	case <-time.After(10 * time.Second):
		t.Fatal("frame was not aligned")
	}

	_, err = os.Stat(filepath.Join(dir, "frame2.aligned.tif"))
	assert.NoError(t, err)

	cancel()
	assert.NoError(t, <-done)
	assert.Empty(t, outcomes, "aligned output must not be re-processed")
}
