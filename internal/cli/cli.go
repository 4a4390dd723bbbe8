// Package cli implements the skyalign command line.
package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"skyalign/internal/alignment"
	"skyalign/internal/config"
	"skyalign/internal/detect"
	"skyalign/internal/storage"

	"github.com/bombsimon/logrusr/v4"
	"github.com/go-logr/logr"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// Root holds state shared by every subcommand once flags are parsed.
type Root struct {
	cfgPath string
	cfg     *config.Config
	logger  *logrus.Logger
	log     logr.Logger
	store   *storage.Store

	stdout, stderr io.Writer
}

// New creates a Root writing command output to stdout and logs to stderr.
func New(stdout, stderr io.Writer) *Root {
	return &Root{stdout: stdout, stderr: stderr, log: logr.Discard()}
}

// Run executes the command line in args.
func (r *Root) Run(ctx context.Context, args []string) error {
	cmd := r.Command()
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(ctx)
	if cerr := r.store.Close(); err == nil {
		err = cerr
	}
	r.store = nil
	return err
}

// Command builds the cobra command tree.
func (r *Root) Command() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "skyalign",
		Short: "Register astronomical images by matching star triangles",
		Long: `skyalign finds the affine transform between two frames of the same sky using
scale and rotation invariant triangles of stars, and resamples one frame onto the other.`,
		SilenceUsage:      true,
		PersistentPreRunE: r.setup,
	}
	rootCmd.SetOut(r.stdout)
	rootCmd.SetErr(r.stderr)

	def := config.Default()
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&r.cfgPath, "config", "", "config file (yaml, json or toml); defaults to $SKYALIGN_CONFIG")
	pf.String("log-level", def.Log.Level, "log level (trace|debug|info|warn|error)")
	pf.String("log-format", def.Log.Format, "log format (text|json)")
	pf.String("db", def.Storage.Path, "SQLite run history database; empty disables history")
	pf.Int("workers", def.Workers, "parallel workers, 0 for one per CPU")
	pf.Int("max-control-points", def.Match.MaxControlPoints, "brightest stars used to build triangles")
	pf.Float64("invariant-tolerance", def.Match.InvariantTolerance, "relative triangle invariant match tolerance")
	pf.Int("min-support", def.Match.MinSupport, "votes a star correspondence needs")
	pf.Float64("outlier-k", def.Estimate.OutlierK, "residual cut in multiples of the median residual")
	pf.String("interpolation", def.Resample.Interpolation, "resampling kernel (nearest|bilinear|bicubic)")
	pf.Float64("fill-value", def.Resample.FillValue, "output value outside the target frame")
	pf.Float64("threshold", def.Detect.Threshold, "detection threshold in background sigmas")
	pf.Int("max-stars", def.Detect.MaxStars, "keep at most this many detected stars, 0 for all")

	rootCmd.AddCommand(r.newTransformCmd())
	rootCmd.AddCommand(r.newAlignCmd())
	rootCmd.AddCommand(r.newApplyCmd())
	rootCmd.AddCommand(r.newDetectCmd())
	rootCmd.AddCommand(r.newWatchCmd())
	rootCmd.AddCommand(r.newHistoryCmd())
	rootCmd.AddCommand(r.newSynthCmd())
	rootCmd.AddCommand(r.newVersionCmd())
	return rootCmd
}

func (r *Root) setup(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(r.cfgPath, cmd.Flags())
	if err != nil {
		return err
	}
	r.cfg = cfg

	r.logger, err = newLogger(cfg.Log, r.stderr)
	if err != nil {
		return err
	}
	r.log = logrusr.New(r.logger)

	if cfg.Storage.Path != "" {
		r.store, err = storage.New(cfg.Storage.Path)
		if err != nil {
			return fmt.Errorf("open run history: %w", err)
		}
	}
	return nil
}

func newLogger(cfg config.LogConfig, out io.Writer) (*logrus.Logger, error) {
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	logger := logrus.New()
	logger.SetOutput(out)
	logger.SetLevel(level)
	if strings.EqualFold(cfg.Format, "json") {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return logger, nil
}

func (r *Root) alignmentOptions() (alignment.Options, error) {
	opts, err := r.cfg.AlignmentOptions(r.log)
	if err != nil {
		return opts, err
	}
	d, err := detect.New(r.cfg.DetectParams(), r.log.WithName("detect"))
	if err != nil {
		return opts, err
	}
	opts.Detector = d
	return opts, nil
}

func (r *Root) record(run storage.Run) {
	if _, err := r.store.RecordRun(run); err != nil {
		r.logger.WithError(err).Warn("can't record run")
	}
}
