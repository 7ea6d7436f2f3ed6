package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"radiocatalog/stationstore/internal/app"
	"radiocatalog/stationstore/internal/model"
	"radiocatalog/stationstore/internal/stations"
)

func (c *cli) listCmd() *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stations from the record store",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd.Context(), func(a *app.App) error {
				list := a.Service().List(cmd.Context())
				if !all {
					list = model.ActiveOnly(list)
				}
				return printJSON(cmd.OutOrStdout(), list)
			})
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "include soft deleted stations")
	return cmd
}

func (c *cli) getCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <station-id>",
		Short: "Show one station, active or not",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd.Context(), func(a *app.App) error {
				st, ok := a.Service().Get(cmd.Context(), args[0])
				if !ok {
					return fmt.Errorf("station %q not found", args[0])
				}
				return printJSON(cmd.OutOrStdout(), st)
			})
		},
	}
}

type mutationFlags struct {
	data  string
	image string
}

func (f *mutationFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.data, "data", "", "JSON object with station fields (file path, - for stdin)")
	cmd.Flags().StringVar(&f.image, "image", "", "cover image file")
}

func (f *mutationFlags) load() (model.Patch, []byte, error) {
	patch := model.Patch{}
	if f.data != "" {
		raw, err := readDataFile(f.data)
		if err != nil {
			return nil, nil, fmt.Errorf("read data: %w", err)
		}
		if err := json.Unmarshal(raw, &patch); err != nil {
			return nil, nil, fmt.Errorf("station data must be a JSON object: %w", err)
		}
	}
	var image []byte
	if f.image != "" {
		raw, err := os.ReadFile(f.image)
		if err != nil {
			return nil, nil, fmt.Errorf("read image: %w", err)
		}
		image = raw
	}
	return patch, image, nil
}

func report(cmd *cobra.Command, res stations.Result) error {
	if err := printJSON(cmd.OutOrStdout(), res); err != nil {
		return err
	}
	if !res.Success {
		return errors.New(res.Error)
	}
	return nil
}

func (c *cli) createCmd() *cobra.Command {
	var flags mutationFlags
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a station",
		RunE: func(cmd *cobra.Command, args []string) error {
			patch, image, err := flags.load()
			if err != nil {
				return err
			}
			return c.withApp(cmd.Context(), func(a *app.App) error {
				return report(cmd, a.Service().Create(cmd.Context(), patch, image))
			})
		},
	}
	flags.register(cmd)
	return cmd
}

func (c *cli) updateCmd() *cobra.Command {
	var flags mutationFlags
	cmd := &cobra.Command{
		Use:   "update <station-id>",
		Short: "Merge fields (and optionally a new cover image) into a station",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			patch, image, err := flags.load()
			if err != nil {
				return err
			}
			return c.withApp(cmd.Context(), func(a *app.App) error {
				return report(cmd, a.Service().Update(cmd.Context(), args[0], patch, image))
			})
		},
	}
	flags.register(cmd)
	return cmd
}

func (c *cli) deleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <station-id>",
		Short: "Soft delete a station",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd.Context(), func(a *app.App) error {
				return report(cmd, a.Service().SoftDelete(cmd.Context(), args[0]))
			})
		},
	}
}

func (c *cli) importCmd() *cobra.Command {
	var confirm string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Replace the remote record set with the snapshot",
		Long: `import overwrites the whole record set in the blob tier with the raw
snapshot, inactive stations included. Every edit made since the last import is
lost. Pass --confirm import to run it non-interactively.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if confirm == "" {
				fmt.Fprintf(cmd.OutOrStdout(), "This replaces every station in the blob tier with %s. Type %q to continue: ",
					c.cfg.Snapshot.Path, stations.ImportConfirmation)
				scanner := bufio.NewScanner(cmd.InOrStdin())
				scanner.Scan()
				confirm = strings.TrimSpace(scanner.Text())
			}
			return c.withApp(cmd.Context(), func(a *app.App) error {
				return report(cmd, a.Service().ImportSnapshot(cmd.Context(), confirm))
			})
		},
	}
	cmd.Flags().StringVar(&confirm, "confirm", "", "confirmation phrase (import)")
	return cmd
}
