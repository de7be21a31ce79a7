package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"runtime"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"dpr/internal/config"
	"dpr/internal/dpr"
	"dpr/internal/grpcserver"
	"dpr/internal/imgproc"
	"dpr/internal/pipeline"
	"dpr/internal/server"
	"dpr/internal/storage"
)

// Version is set at build time.
var Version = "0.1.0-dev"

// NewRootCmd creates the root Cobra command.
func NewRootCmd(cfg *config.Config, log *slog.Logger, store *storage.Store, pipe *pipeline.Pipeline, stack *dpr.Stack) *cobra.Command {
	return newRootCmd(NewRoot(pipe, cfg, log, store, stack))
}

func newRootCmd(root *Root) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "dpr",
		Short: "Displacement-preserving super-resolution for fluorescence image stacks",
		Long: `dpr sharpens fluorescence microscopy images by moving intensity along the
local gradient towards emitter centres on an upsampled grid. Stacks can be
reconstructed slice by slice or combined into a mean or variance projection.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(newRunCmd(root))
	rootCmd.AddCommand(newWatchCmd(root))
	rootCmd.AddCommand(newServeCmd(root))
	rootCmd.AddCommand(newGRPCCmd(root))
	rootCmd.AddCommand(newRemoteCmd(root))
	rootCmd.AddCommand(newHistoryCmd(root))
	rootCmd.AddCommand(newConfigCmd(root))
	rootCmd.AddCommand(newVersionCmd(root))

	rootCmd.SetOut(root.out)
	return rootCmd
}

func newRunCmd(root *Root) *cobra.Command {
	var (
		psf        float64
		gain       float64
		background int
		temporal   string
		output     string
		title      string
		workers    int
		timeout    time.Duration
		pixelSize  float64
		unit       string
	)

	cmd := &cobra.Command{
		Use:   "run <input>",
		Short: "Reconstruct a single image, a stack directory or a raw frame file",
		Long: `Reconstruct an image stack and write the DPR result next to a bicubically
magnified mean for comparison.

Examples:
  # Single frame, PSF FWHM of 4 pixels
  dpr run cells.tif --psf 4

  # Directory of slices combined into a variance projection
  dpr run /data/acq01/ --psf 2.6 --gain 2 --temporal var --output results/`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			input := args[0]

			job, err := root.jobFor(input, "cli")
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			if flags.Changed("psf") {
				job.Params.PSF = psf
				// the background window follows the PSF unless configured
				if root.cfg.DPR.Background == nil {
					job.Params.Background = dpr.DefaultParams(psf).Background
				}
			}
			if flags.Changed("gain") {
				job.Params.Gain = gain
			}
			if flags.Changed("background") {
				job.Params.Background = background
			}
			if flags.Changed("temporal") {
				mode, err := dpr.ParseTemporalMode(temporal)
				if err != nil {
					return err
				}
				job.Params.Temporal = mode
			}
			if err := job.Params.Validate(); err != nil {
				return err
			}
			if output != "" {
				job.Output = output
			}
			if flags.Changed("pixel-size") {
				job.Calibration.PixelWidth = pixelSize
				job.Calibration.PixelHeight = pixelSize
			}
			if flags.Changed("unit") {
				job.Calibration.Unit = unit
			}
			job.Title = title
			job.Workers = workers
			job.Timeout = timeout

			root.log.Info("run command parsed",
				"input", input,
				"output", job.Output,
				"psf", job.Params.PSF,
				"gain", job.Params.Gain,
				"background", job.Params.Background,
				"temporal", job.Params.Temporal.String(),
			)

			res, err := root.enqueueAndWait(cmd.Context(), job)
			if err != nil {
				return err
			}
			if outputs, ok := res.Meta["outputs"].([]string); ok {
				for _, p := range outputs {
					fmt.Fprintf(root.out, "wrote %s\n", p)
				}
			}
			return nil
		},
	}

	cmd.Flags().Float64Var(&psf, "psf", root.cfg.DPR.PSF, "PSF FWHM in pixels")
	cmd.Flags().Float64Var(&gain, "gain", root.cfg.DPR.Gain, "displacement gain")
	cmd.Flags().IntVar(&background, "background", 0, "local-minimum window radius in pixels (default ceil(17*psf))")
	cmd.Flags().StringVar(&temporal, "temporal", root.cfg.DPR.Temporal, "temporal combination (none|mean|var)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output directory (default from config)")
	cmd.Flags().StringVar(&title, "title", "", "output name prefix (default input base name)")
	cmd.Flags().IntVar(&workers, "workers", 0, "slice workers (default from config, 0 = all CPUs)")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "abort the run after this long (default 1h)")
	cmd.Flags().Float64Var(&pixelSize, "pixel-size", root.cfg.DPR.PixelSize, "input pixel size")
	cmd.Flags().StringVar(&unit, "unit", root.cfg.DPR.Unit, "pixel size unit")
	return cmd
}

func newWatchCmd(root *Root) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch [dir...]",
		Short: "Reconstruct images as they appear in watched directories",
		RunE: func(cmd *cobra.Command, args []string) error {
			dirs := args
			if len(dirs) == 0 {
				dirs = root.cfg.Watch.Dirs
			}
			if len(dirs) == 0 {
				return fmt.Errorf("no directories to watch")
			}
			return root.runWatch(cmd.Context(), dirs)
		},
	}
	return cmd
}

func (r *Root) runWatch(ctx context.Context, dirs []string) error {
	submit := func(path string) error {
		job, err := r.jobFor(path, "watch")
		if err != nil {
			return err
		}
		job.Output = filepath.Join(r.cfg.Paths.DefaultOutput, pipeline.Title(job))
		return r.enqueue(ctx, job)
	}
	return r.watchFn(ctx, dirs, time.Duration(r.cfg.Watch.Debounce), submit, r.log)
}

func newServeCmd(root *Root) *cobra.Command {
	var (
		addr       string
		watchPaths []string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API with a websocket progress stream",
		Long: `Start an HTTP server for submitting runs, inspecting run history and
reconstructing small inline stacks.

Examples:
  dpr serve --addr :8080
  dpr serve --addr :8080 --watch /data/incoming`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			pipe, err := root.realPipeline()
			if err != nil {
				return err
			}
			root.log.Info("starting server", "addr", addr, "watch_paths", watchPaths)

			if len(watchPaths) > 0 {
				go func() {
					if err := root.runWatch(ctx, watchPaths); err != nil {
						root.log.Error("watcher stopped", "error", err)
					}
				}()
			}
			return root.serveFn(ctx, server.Options{
				Addr:      addr,
				Store:     root.store,
				Pipeline:  pipe,
				Stack:     root.stack,
				OutputDir: root.cfg.Paths.DefaultOutput,
				InputDirs: root.inputDirs(watchPaths...),
				Logger:    root.log,
			})
		},
	}

	cmd.Flags().StringVar(&addr, "addr", root.cfg.Server.HTTPAddr, "listen address")
	cmd.Flags().StringSliceVar(&watchPaths, "watch", nil, "directories to watch for new images")
	return cmd
}

func newGRPCCmd(root *Root) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "grpc",
		Short: "Start the gRPC reconstruction service",
		RunE: func(cmd *cobra.Command, args []string) error {
			pipe, err := root.realPipeline()
			if err != nil {
				return err
			}
			return root.grpcFn(cmd.Context(), addr, grpcserver.Options{
				Stack:     root.stack,
				Store:     root.store,
				Pipeline:  pipe,
				OutputDir: root.cfg.Paths.DefaultOutput,
				InputDirs: root.inputDirs(),
				Logger:    root.log,
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", root.cfg.Server.GRPCAddr, "listen address")
	return cmd
}

func newHistoryCmd(root *Root) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			if root.store == nil {
				return fmt.Errorf("run history unavailable")
			}
			runs, err := root.store.RecentRuns(limit)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(root.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tSOURCE\tSTATUS\tCREATED\tINPUT\tERROR")
			for _, r := range runs {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
					r.ID, r.Source, r.Status, r.CreatedAt.Format(time.DateTime), r.InputPath, r.Error)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "number of runs to show")
	return cmd
}

func newConfigCmd(root *Root) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration settings",
	}

	var asJSON bool
	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			if asJSON {
				enc := json.NewEncoder(root.out)
				enc.SetIndent("", "  ")
				return enc.Encode(root.cfg)
			}
			enc := yaml.NewEncoder(root.out)
			enc.SetIndent(2)
			if err := enc.Encode(root.cfg); err != nil {
				return err
			}
			return enc.Close()
		},
	}
	showCmd.Flags().BoolVar(&asJSON, "json", false, "print as JSON")

	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := root.cfg.Params()
			if err != nil {
				return err
			}
			if _, err := imgproc.NewResizer(root.cfg.Processing.Resizer); err != nil {
				return err
			}
			fmt.Fprintf(root.out, "configuration is valid (psf=%g gain=%g background=%d temporal=%s)\n",
				p.PSF, p.Gain, p.Background, p.Temporal)
			return nil
		},
	}

	cmd.AddCommand(showCmd, validateCmd)
	return cmd
}

func newVersionCmd(root *Root) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(root.out, "dpr %s\n", Version)
			fmt.Fprintf(root.out, "Built with Go %s\n", runtime.Version())
			fmt.Fprintf(root.out, "Resize backends: %s\n", strings.Join(imgproc.Backends(), ", "))
		},
	}
}
