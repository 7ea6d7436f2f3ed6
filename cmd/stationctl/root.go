package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"radiocatalog/stationstore/internal/app"
	"radiocatalog/stationstore/internal/config"
)

// cli is the state shared by every subcommand.
type cli struct {
	cfgFile string
	verbose bool

	cfg    config.Config
	logger *slog.Logger
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:   "stationctl",
		Short: "Operate the station record store",
		Long: `stationctl runs administrative operations against the configured blob tier
in-process: listing, editing and soft deleting stations, the one-off snapshot
import, minting admin tokens and watching invalidations.

Configuration is read the same way as the server: defaults, then the YAML file
from --config or STATIONSTORE_CONFIG, then STATIONSTORE_* variables.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			path := c.cfgFile
			if path == "" {
				path = os.Getenv(config.FileEnv)
			}
			cfg, err := config.LoadFrom(path)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			c.cfg = cfg

			level := slog.LevelWarn
			if c.verbose {
				level = slog.LevelDebug
			}
			c.logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
			return nil
		},
	}

	root.PersistentFlags().StringVar(&c.cfgFile, "config", "", "config file (default $STATIONSTORE_CONFIG)")
	root.PersistentFlags().BoolVarP(&c.verbose, "verbose", "v", false, "log debug output to stderr")

	root.AddCommand(
		c.listCmd(),
		c.getCmd(),
		c.createCmd(),
		c.updateCmd(),
		c.deleteCmd(),
		c.importCmd(),
		c.tokenCmd(),
		c.watchCmd(),
	)
	return root
}

// withApp initialises the store components for one command and releases
// them afterwards.
func (c *cli) withApp(ctx context.Context, fn func(a *app.App) error) error {
	a := app.New(c.cfg, c.logger)
	if err := a.Init(ctx); err != nil {
		return fmt.Errorf("initialise store: %w", err)
	}
	defer a.Close()
	return fn(a)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func readDataFile(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(strings.TrimSpace(path))
}
