package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"aer/internal/preflight"
	"aer/internal/worker"
)

func newDoctorCommand(ctx *commandContext) *cobra.Command {
	var skipPing bool
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check directories, the worker binary, and required assets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			store, err := ctx.assetStore()
			if err != nil {
				return err
			}
			printer := newStatusPrinter(cmd.OutOrStdout())

			results := preflight.RunAll(cfg, store)
			workerOK := true
			for _, r := range results {
				if r.Name == "Worker binary" && !r.Passed {
					workerOK = false
				}
			}
			if !skipPing && workerOK {
				err := ctx.withSupervisor(cmd, func(sup *worker.Supervisor) error {
					results = append(results, preflight.CheckWorkerPing(cmd.Context(), worker.NewClient(sup)))
					return nil
				})
				if err != nil {
					return err
				}
			}

			printer.section("Checks")
			for _, r := range results {
				kind := statusOK
				if !r.Passed {
					kind = statusError
				}
				printer.line(r.Name, kind, r.Detail)
			}

			fmt.Fprintln(cmd.OutOrStdout())
			printer.section("Helper binaries")
			for _, s := range preflight.CheckSystemDeps(cfg) {
				kind, msg := statusOK, s.Command
				if !s.Available {
					kind, msg = statusError, s.Detail
					if s.Optional {
						kind = statusWarn
					}
				}
				printer.line(s.Name, kind, msg)
			}

			if failed := preflight.Failed(results); len(failed) > 0 {
				return fmt.Errorf("doctor found %d problem(s)", len(failed))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&skipPing, "skip-ping", false, "Do not start the worker")
	return cmd
}
