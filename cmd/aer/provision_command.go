package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"aer/internal/config"
	"aer/internal/manifest"
)

func newAssetsProvisionCommand(ctx *commandContext) *cobra.Command {
	var root string
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "provision <manifest.yaml>",
		Short: "Install the files listed in a provisioning manifest",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger, err := ctx.ensureLogger()
			if err != nil {
				return err
			}
			manifestPath, err := config.ExpandPath(args[0])
			if err != nil {
				return err
			}
			m, err := manifest.Load(manifestPath)
			if err != nil {
				return err
			}

			target := strings.TrimSpace(root)
			if target == "" {
				store, err := ctx.assetStore()
				if err != nil {
					return err
				}
				target = defaultProvisionRoot(store)
			} else if target, err = config.ExpandPath(target); err != nil {
				return err
			}

			fetcher, err := ctx.fetcher()
			if err != nil {
				return err
			}
			p := manifest.NewProvisioner(target, fetcher,
				manifest.WithParallel(cfg.Downloads.Parallel),
				manifest.WithLogger(logger),
			)

			runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			results, err := p.Provision(runCtx, m, nil)
			if asJSON {
				if jsonErr := writeJSON(cmd, results); jsonErr != nil {
					return jsonErr
				}
				return err
			}

			rows := make([][]string, 0, len(results))
			for i, res := range results {
				if res.Outcome == "" {
					continue
				}
				size := ""
				if res.Bytes > 0 {
					size = humanize.Bytes(uint64(res.Bytes))
				}
				rows = append(rows, []string{m.Assets[i].Name, string(res.Outcome), size, res.Path})
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Provision root: %s\n", target)
			if len(rows) > 0 {
				fmt.Fprintln(out, renderTable(
					[]column{{Title: "Name"}, {Title: "Outcome"}, numeric("Size"), {Title: "Path"}},
					rows,
				))
			}
			return err
		},
	}
	cmd.Flags().StringVar(&root, "root", "", "Directory manifest destinations are relative to (default: parent of the asset directory)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}
