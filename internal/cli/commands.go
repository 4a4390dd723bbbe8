package cli

import (
	"context"
	"fmt"
	"math"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"skyalign/internal/alignment"
	"skyalign/internal/asterism"
	"skyalign/internal/catalog"
	"skyalign/internal/project"
	"skyalign/internal/raster"
	"skyalign/internal/storage"
	"skyalign/internal/synthetic"
	"skyalign/internal/version"
	"skyalign/internal/watch"
	"skyalign/pkg/geometry"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func (r *Root) newTransformCmd() *cobra.Command {
	var pairsPath, solutionPath string

	cmd := &cobra.Command{
		Use:   "transform <target.csv> <reference.csv>",
		Short: "Find the transform between two star catalogs",
		Long: `Read two CSV star catalogs (x, y and optional flux columns) and print the affine
transform mapping target coordinates onto reference coordinates.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			start := time.Now()
			target, err := catalog.LoadStars(args[0])
			if err != nil {
				return err
			}
			ref, err := catalog.LoadStars(args[1])
			if err != nil {
				return err
			}
			opts, err := r.cfg.AlignmentOptions(r.log)
			if err != nil {
				return err
			}

			res, err := alignment.FindTransform(cmd.Context(), target, ref, opts)
			run := storage.Run{Kind: "transform", ReferencePath: args[1], TargetPath: args[0], Options: r.cfg.Summary()}
			if err != nil {
				run.Status, run.Error, run.Duration = storage.StatusFailed, err.Error(), time.Since(start)
				r.record(run)
				return err
			}
			fillRun(&run, res, time.Since(start))
			r.record(run)

			printResult(cmd, res)
			if pairsPath != "" {
				if err := catalog.SavePairs(pairsPath, res.Inliers, res.Transform); err != nil {
					return err
				}
			}
			if solutionPath != "" {
				sol := project.New(filepath.Base(args[0]), opts)
				sol.SetResult(res)
				return sol.Save(solutionPath)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&pairsPath, "pairs", "", "write inlier correspondences to this CSV file")
	cmd.Flags().StringVar(&solutionPath, "solution", "", "write the solution to this JSON file")
	return cmd
}

func (r *Root) newAlignCmd() *cobra.Command {
	var output, solutionPath, overlayPath, targetStars, refStars string
	var opacity float64

	cmd := &cobra.Command{
		Use:   "align <target-image> <reference-image>",
		Short: "Resample a frame onto a reference frame",
		Long: `Detect stars on both frames (or read them from catalogs), find the transform and
write the target resampled onto the reference pixel grid.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			start := time.Now()
			targetPath, refPath := args[0], args[1]
			if output == "" {
				ext := filepath.Ext(targetPath)
				output = strings.TrimSuffix(targetPath, ext) + ".aligned.tif"
			}

			target, err := raster.Load(targetPath)
			if err != nil {
				return err
			}
			ref, err := raster.Load(refPath)
			if err != nil {
				return err
			}
			opts, err := r.alignmentOptions()
			if err != nil {
				return err
			}

			targetPts, err := starsFor(target, targetStars, opts)
			if err != nil {
				return fmt.Errorf("target stars: %w", err)
			}
			refPts, err := starsFor(ref, refStars, opts)
			if err != nil {
				return fmt.Errorf("reference stars: %w", err)
			}
			r.logger.WithFields(logrus.Fields{"target": len(targetPts), "reference": len(refPts)}).Info("stars loaded")

			aligned, res, err := alignment.AlignImageToPoints(cmd.Context(), target, targetPts, refPts, ref.Width, ref.Height, opts)
			run := storage.Run{Kind: "align", ReferencePath: refPath, TargetPath: targetPath, Options: r.cfg.Summary()}
			if err != nil {
				run.Status, run.Error, run.Duration = storage.StatusFailed, err.Error(), time.Since(start)
				r.record(run)
				return err
			}

			lo, hi := target.MinMax()
			if err := raster.SaveRange(output, aligned, lo, hi); err != nil {
				return err
			}
			if overlayPath != "" {
				overlay, err := alignment.CreateOverlay(ref, aligned, opacity)
				if err != nil {
					return err
				}
				if err := raster.Save(overlayPath, overlay); err != nil {
					return err
				}
			}
			if solutionPath == "" {
				solutionPath = project.DefaultPath(output)
			}
			sol := project.New(filepath.Base(targetPath), opts)
			sol.SetImages(solutionPath, refPath, targetPath, output)
			sol.SetResult(res)
			sol.Overlap = alignment.Overlap(res.Transform, target.Width, target.Height, ref.Width, ref.Height)
			if err := sol.Save(solutionPath); err != nil {
				return err
			}

			run.OutputPath = output
			fillRun(&run, res, time.Since(start))
			r.record(run)

			printResult(cmd, res)
			fmt.Fprintf(cmd.OutOrStdout(), "overlap %.1f%%\n", 100*sol.Overlap)
			r.logger.WithFields(logrus.Fields{"output": output, "solution": solutionPath}).Info("frame aligned")
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "aligned image path (default <target>.aligned.tif)")
	cmd.Flags().StringVar(&solutionPath, "solution", "", "solution file path (default next to the output)")
	cmd.Flags().StringVar(&overlayPath, "overlay", "", "also write a reference/aligned blend to this path")
	cmd.Flags().Float64Var(&opacity, "opacity", 0.5, "reference weight in the overlay")
	cmd.Flags().StringVar(&targetStars, "target-stars", "", "use this CSV catalog instead of detecting target stars")
	cmd.Flags().StringVar(&refStars, "ref-stars", "", "use this CSV catalog instead of detecting reference stars")
	return cmd
}

func starsFor(g *raster.Grid, catalogPath string, opts alignment.Options) (asterism.PointSet, error) {
	if catalogPath != "" {
		return catalog.LoadStars(catalogPath)
	}
	return opts.Detector.Detect(g)
}

func (r *Root) newApplyCmd() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "apply <solution.json> <image>",
		Short: "Resample an image with a saved solution",
		Long: `Apply the transform stored in a solution file to another image taken with the same
pointing, e.g. a second filter. The output uses the reference frame's size.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			sol, err := project.Load(args[0])
			if err != nil {
				return err
			}
			if !sol.Aligned {
				return fmt.Errorf("%s: solution has no transform", args[0])
			}
			img, err := raster.Load(args[1])
			if err != nil {
				return err
			}

			width, height := img.Width, img.Height
			if refPath := sol.GetReferenceImagePath(args[0]); refPath != "" {
				ref, err := raster.Load(refPath)
				if err != nil {
					return fmt.Errorf("reference frame: %w", err)
				}
				width, height = ref.Width, ref.Height
			}

			opts, err := r.cfg.AlignmentOptions(r.log)
			if err != nil {
				return err
			}
			aligned, err := alignment.Resample(img, sol.Transform, width, height, opts.ResampleOptions())
			if err != nil {
				return err
			}
			if output == "" {
				output = strings.TrimSuffix(args[1], filepath.Ext(args[1])) + ".aligned.tif"
			}
			lo, hi := img.MinMax()
			if err := raster.SaveRange(output, aligned, lo, hi); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", output)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "aligned image path (default <image>.aligned.tif)")
	return cmd
}

func (r *Root) newDetectCmd() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "detect <image>",
		Short: "Extract a star catalog from an image",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			img, err := raster.Load(args[0])
			if err != nil {
				return err
			}
			opts, err := r.alignmentOptions()
			if err != nil {
				return err
			}
			stars, err := opts.Detector.Detect(img)
			if err != nil {
				return err
			}
			r.logger.WithField("stars", len(stars)).Info("detection done")
			if output == "" {
				return catalog.WriteStars(cmd.OutOrStdout(), stars)
			}
			return catalog.SaveStars(output, stars)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "catalog path (default stdout)")
	return cmd
}

func (r *Root) newWatchCmd() *cobra.Command {
	var refPath, outputDir string

	cmd := &cobra.Command{
		Use:   "watch <directory>...",
		Short: "Align new frames as they appear",
		Long: `Watch capture directories and align every new frame against the reference. The
reference triangles are indexed once and reused for every frame.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if refPath == "" {
				return fmt.Errorf("--reference is required")
			}
			if outputDir == "" {
				outputDir = r.cfg.Watch.OutputDir
			}
			opts, err := r.alignmentOptions()
			if err != nil {
				return err
			}
			a, err := watch.NewAligner(watch.AlignerConfig{
				ReferencePath: refPath,
				OutputDir:     outputDir,
				Options:       opts,
				Store:         r.store,
				Summary:       r.cfg.Summary(),
			})
			if err != nil {
				return err
			}
			w, err := watch.New(args, r.cfg.Watch.Extensions, time.Duration(r.cfg.Watch.SettleMS)*time.Millisecond, r.log.WithName("watch"))
			if err != nil {
				return err
			}
			w.Ignore(refPath)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return w.Run(ctx, a.Handle)
		},
	}
	cmd.Flags().StringVarP(&refPath, "reference", "r", "", "reference frame")
	cmd.Flags().StringVarP(&outputDir, "output-dir", "o", "", "directory for aligned frames (default next to each frame)")
	return cmd
}

func (r *Root) newHistoryCmd() *cobra.Command {
	var limit int
	var refPath string

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded alignment runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if r.store == nil {
				return fmt.Errorf("no run history database configured (use --db)")
			}
			var runs []storage.Run
			var err error
			if refPath != "" {
				runs, err = r.store.RunsForReference(refPath)
			} else {
				runs, err = r.store.RecentRuns(limit)
			}
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tWHEN\tKIND\tSTATUS\tTARGET\tINLIERS\tRMS\tROT(deg)\tSCALE")
			for _, run := range runs {
				rot, scale := "-", "-"
				if run.Status == storage.StatusOK {
					rot = fmt.Sprintf("%.3f", run.Transform.Rotation()*180/math.Pi)
					scale = fmt.Sprintf("%.5f", run.Transform.ScaleFactor())
				}
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%d\t%.3f\t%s\t%s\n",
					run.ID, run.CreatedAt.Local().Format(time.DateTime), run.Kind, run.Status,
					filepath.Base(run.TargetPath), run.Inliers, run.RMS, rot, scale)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of runs to show")
	cmd.Flags().StringVar(&refPath, "reference", "", "only runs against this reference")
	return cmd
}

func (r *Root) newSynthCmd() *cobra.Command {
	var seed int64
	var size, stars int
	var angle, dx, dy, sigma, background, noise float64

	cmd := &cobra.Command{
		Use:   "synth <directory>",
		Short: "Write a synthetic reference/target pair with a known transform",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := args[0]
			if err := os.MkdirAll(dir, 0755); err != nil {
				return err
			}
			p := synthetic.CalibrationParams(seed)
			p.Width, p.Height, p.Stars = size, size, stars
			p.AngleDeg, p.DX, p.DY = angle, dx, dy
			field := synthetic.NewField(p)

			files := []struct {
				name string
				set  asterism.PointSet
			}{
				{"ref", field.Ref},
				{"target", field.Target},
			}
			for i, f := range files {
				img := synthetic.Render(f.set, field.Width, field.Height, sigma, background)
				if noise > 0 {
					synthetic.AddNoise(img, noise, seed+int64(i)+1)
				}
				// Absolute ADU like a 16-bit camera; the brightest stars saturate.
				if err := raster.SaveRange(filepath.Join(dir, f.name+".tif"), img, 0, 65535); err != nil {
					return err
				}
				if err := catalog.SaveStars(filepath.Join(dir, f.name+".csv"), f.set); err != nil {
					return err
				}
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "reference stars: %d, target stars: %d\n", len(field.Ref), len(field.Target))
			printTransform(cmd, "truth", field.Truth)
			return nil
		},
	}
	cmd.Flags().Int64Var(&seed, "seed", 1, "random seed")
	cmd.Flags().IntVar(&size, "size", 512, "frame width and height")
	cmd.Flags().IntVar(&stars, "stars", 1500, "stars scattered over both frames")
	cmd.Flags().Float64Var(&angle, "angle", 50, "target rotation in degrees")
	cmd.Flags().Float64Var(&dx, "dx", 10, "target shift in x")
	cmd.Flags().Float64Var(&dy, "dy", -20, "target shift in y")
	cmd.Flags().Float64Var(&sigma, "sigma", 1.5, "star profile sigma in pixels")
	cmd.Flags().Float64Var(&background, "background", 100, "sky background level")
	cmd.Flags().Float64Var(&noise, "noise", 5, "Gaussian read noise sigma, 0 for none")
	return cmd
}

func (r *Root) newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Println(version.String())
		},
	}
}

func fillRun(run *storage.Run, res *alignment.Result, d time.Duration) {
	run.Status = storage.StatusOK
	run.Transform = res.Transform
	run.Inliers = len(res.Inliers)
	run.RMS = res.RMS
	run.TriangleMatches = res.TriangleMatches
	run.Candidates = res.Candidates
	run.Duration = d
}

func printTransform(cmd *cobra.Command, label string, t geometry.AffineTransform) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s:\n", label)
	fmt.Fprintf(out, "  [%12.6f %12.6f %12.4f]\n", t.A, t.B, t.TX)
	fmt.Fprintf(out, "  [%12.6f %12.6f %12.4f]\n", t.C, t.D, t.TY)
	fmt.Fprintf(out, "  rotation %.4f deg, scale %.6f\n", t.Rotation()*180/math.Pi, t.ScaleFactor())
}

func printResult(cmd *cobra.Command, res *alignment.Result) {
	printTransform(cmd, "transform", res.Transform)
	fmt.Fprintf(cmd.OutOrStdout(), "inliers %d, candidates %d, triangle matches %d, rms %.4f px, spread %.0f px²\n",
		len(res.Inliers), res.Candidates, res.TriangleMatches, res.RMS, res.Spread)
}

// Main runs the command line and returns the process exit code.
func Main(args []string) int {
	root := New(os.Stdout, os.Stderr)
	if err := root.Run(context.Background(), args); err != nil {
		return 1
	}
	return 0
}
