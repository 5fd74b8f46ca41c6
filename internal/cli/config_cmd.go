package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"runtime"

	"github.com/spf13/cobra"

	"tessera/internal/config"
)

// Version is overridden at build time with -ldflags "-X tessera/internal/cli.Version=...".
var Version = "v0.1.0-dev"

func newConfigCmd(root *Root) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration settings",
		Long:  "Show the active tessera configuration and where it was loaded from",
	}

	var asJSON bool
	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(root.cfg)
			}
			return root.configShow(cmd.OutOrStdout())
		},
	}
	showCmd.Flags().BoolVar(&asJSON, "json", false, "print the configuration as JSON")

	pathCmd := &cobra.Command{
		Use:   "path",
		Short: "Print the configuration file location",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := config.Path()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}

	cmd.AddCommand(showCmd, pathCmd)
	return cmd
}

func (r *Root) configShow(w io.Writer) error {
	cfgPath, err := config.Path()
	if err != nil {
		return err
	}
	c := r.cfg
	fmt.Fprintf(w, "Config file: %s\n", cfgPath)
	fmt.Fprintf(w, "\nProcessing:\n")
	fmt.Fprintf(w, "  Parallel jobs: %d\n", c.Processing.ParallelJobs)
	fmt.Fprintf(w, "  Queue size: %d\n", c.Processing.QueueSize)
	fmt.Fprintf(w, "\nPaths:\n")
	fmt.Fprintf(w, "  Default input: %s\n", c.Paths.DefaultInput)
	fmt.Fprintf(w, "  Default output: %s\n", c.Paths.DefaultOutput)
	fmt.Fprintf(w, "  Database: %s\n", c.Paths.DatabasePath)
	fmt.Fprintf(w, "\nServer:\n")
	fmt.Fprintf(w, "  Address: %s\n", c.Server.Addr)
	if c.Server.GRPCAddr != "" {
		fmt.Fprintf(w, "  gRPC health: %s\n", c.Server.GRPCAddr)
	}
	fmt.Fprintf(w, "  Status TTL: %s (sweep every %s)\n", c.Store.TTL(), c.Store.SweepInterval())
	fmt.Fprintf(w, "\nLogging:\n")
	fmt.Fprintf(w, "  Level: %s\n", c.Logging.Level)
	fmt.Fprintf(w, "  Format: %s\n", c.Logging.Format)
	if c.Logging.FileOutput {
		fmt.Fprintf(w, "  Directory: %s\n", c.Logging.LogDir)
	}
	fmt.Fprintf(w, "\nCollage defaults:\n")
	fmt.Fprintf(w, "  %s\n", c.Collage)
	return nil
}

func versionString() string {
	return fmt.Sprintf("Tessera %s (built with Go %s)", Version, runtime.Version())
}
