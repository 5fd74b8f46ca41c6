package cli

import (
	"time"

	"github.com/spf13/cobra"

	"tessera/internal/collage"
	"tessera/internal/errors"
)

// NewRootCmd creates the root Cobra command
func NewRootCmd(d Deps) *cobra.Command {
	return newRootCommand(NewRoot(d))
}

func newRootCommand(root *Root) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "tessera",
		Short: "Tessera builds photo mosaics from tiles of other photos",
		Long: `Tessera cuts each input image into a grid of tiles and reassembles a
base image from tiles of the others, matching neighbouring edge colors.`,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(newComposeCmd(root))
	rootCmd.AddCommand(newWatchCmd(root))
	rootCmd.AddCommand(newServeCmd(root))
	rootCmd.AddCommand(newConfigCmd(root))
	rootCmd.AddCommand(newVersionCmd(root))

	return rootCmd
}

// paramFlags binds collage parameters to command flags.
type paramFlags struct {
	params collage.Params
	mode   string
	base   string
	format string
	seed   int64
}

func bindParamFlags(cmd *cobra.Command, defaults collage.Params) *paramFlags {
	f := &paramFlags{
		params: defaults,
		mode:   string(defaults.Mode),
		base:   string(defaults.Base),
		format: string(defaults.Format),
	}
	if defaults.Seed != nil {
		f.seed = *defaults.Seed
	}

	fl := cmd.Flags()
	fl.IntVar(&f.params.Rows, "rows", defaults.Rows, "tile grid rows")
	fl.IntVar(&f.params.Cols, "cols", defaults.Cols, "tile grid columns")
	fl.StringVar(&f.mode, "mode", f.mode, "tile assignment (greedy|wave|random)")
	fl.StringVar(&f.base, "base", f.base, "base image policy (first|mean)")
	fl.BoolVar(&f.params.AllowSelf, "allow-self", defaults.AllowSelf, "allow tiles from the base image")
	fl.IntVar(&f.params.ResizeW, "resize-w", defaults.ResizeW, "common width inputs are scaled to")
	fl.IntVar(&f.params.PadPx, "pad", defaults.PadPx, "black border in pixels")
	fl.IntVar(&f.params.JitterPx, "jitter", defaults.JitterPx, "maximum random tile offset in pixels")
	fl.IntVar(&f.params.RotateDeg, "rotate", defaults.RotateDeg, "maximum random tile rotation in degrees")
	fl.StringVar(&f.format, "format", f.format, "output format (png|jpg|webp)")
	fl.IntVar(&f.params.Quality, "quality", defaults.Quality, "jpeg/webp quality 1-100")
	fl.Int64Var(&f.seed, "seed", f.seed, "random seed (default: current time)")
	fl.BoolVar(&f.params.ReturnMap, "return-map", defaults.ReturnMap, "include the tile map in the metadata file")
	return f
}

// resolve parses the string flags into a parameter set.
func (f *paramFlags) resolve(cmd *cobra.Command) (collage.Params, error) {
	p := f.params
	var err error
	if p.Mode, err = collage.ParseMode(f.mode); err != nil {
		return p, err
	}
	if p.Base, err = collage.ParseBasePolicy(f.base); err != nil {
		return p, err
	}
	if p.Format, err = collage.ParseFormat(f.format); err != nil {
		return p, err
	}
	if cmd.Flags().Changed("seed") || p.Seed != nil {
		seed := f.seed
		p.Seed = &seed
	}
	return p, nil
}

func newComposeCmd(root *Root) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "compose <image|dir>... [flags]",
		Short: "Compose a mosaic from two or more images",
		Long: `Compose reassembles the base image from tiles of the other inputs and
writes <id>.<format> plus <id>.json into the output directory.
Directory arguments expand to the images they contain.

Examples:
  tessera compose a.jpg b.jpg c.jpg --rows 12 --cols 12
  tessera compose ./shots --mode wave --seed 7 --format webp`,
		Args: cobra.MinimumNArgs(1),
	}
	flags := bindParamFlags(cmd, root.cfg.Collage)
	cmd.Flags().StringVarP(&output, "output", "o", root.cfg.Paths.DefaultOutput, "output directory")

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		params, err := flags.resolve(cmd)
		if err != nil {
			return err
		}
		paths, err := expandInputs(args)
		if err != nil {
			return err
		}
		_, err = root.compose(cmd.Context(), "compose", paths, params, output, cmd.OutOrStdout())
		return err
	}
	return cmd
}

func newWatchCmd(root *Root) *cobra.Command {
	var (
		output   string
		debounce time.Duration
		initial  bool
	)

	cmd := &cobra.Command{
		Use:   "watch [dir]",
		Short: "Re-render a mosaic whenever a directory's images change",
		Long: `Watch monitors a directory and composes its images again every time
files are added, changed, or removed. The output directory must lie
outside the watched directory.

Examples:
  tessera watch ./shots --output ./mosaics --mode random`,
		Args: cobra.MaximumNArgs(1),
	}
	flags := bindParamFlags(cmd, root.cfg.Collage)
	cmd.Flags().StringVarP(&output, "output", "o", root.cfg.Paths.DefaultOutput, "output directory")
	cmd.Flags().DurationVar(&debounce, "debounce", time.Second, "quiet period before re-rendering")
	cmd.Flags().BoolVar(&initial, "initial", true, "render once at startup")

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		dir := root.cfg.Paths.DefaultInput
		if len(args) > 0 {
			dir = args[0]
		}
		params, err := flags.resolve(cmd)
		if err != nil {
			return err
		}
		root.log.Info("starting watch", "dir", dir, "output", output, "debounce", debounce)
		return root.watch(cmd.Context(), dir, output, params, debounce, initial, cmd.OutOrStdout())
	}
	return cmd
}

func newServeCmd(root *Root) *cobra.Command {
	var opts serveOptions

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP job API",
		Long: `Start an HTTP server accepting collage jobs, with polling, an SSE
progress stream, job history, and Prometheus metrics. A gRPC health
endpoint is started as well when --grpc-addr is set.

Examples:
  tessera serve --addr :8080
  tessera serve --addr :8080 --grpc-addr :9090`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.Addr == "" {
				return errors.Validation("--addr must not be empty")
			}
			root.log.Info("starting server", "addr", opts.Addr, "grpc_addr", opts.GRPCAddr, "output", opts.OutputDir)
			return root.serveFn(cmd.Context(), root, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", root.cfg.Server.Addr, "server address (host:port)")
	cmd.Flags().StringVar(&opts.GRPCAddr, "grpc-addr", root.cfg.Server.GRPCAddr, "gRPC health address (empty disables)")
	cmd.Flags().StringVarP(&opts.OutputDir, "output", "o", root.cfg.Paths.DefaultOutput, "directory composites are written to")
	cmd.Flags().StringVar(&opts.InputRoot, "input-root", root.cfg.Paths.DefaultInput, "directory JSON path inputs must lie in (empty disables path inputs)")

	return cmd
}

func newVersionCmd(root *Root) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Println(versionString())
		},
	}
}
