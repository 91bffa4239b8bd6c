package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"aer/internal/assets"
	"aer/internal/download"
	"aer/internal/logging"
)

func newAssetsCommand(ctx *commandContext) *cobra.Command {
	assetsCmd := &cobra.Command{
		Use:   "assets",
		Short: "Manage downloadable model assets",
	}
	assetsCmd.AddCommand(newAssetsListCommand(ctx))
	assetsCmd.AddCommand(newAssetsPathCommand(ctx))
	assetsCmd.AddCommand(newAssetsDownloadCommand(ctx))
	assetsCmd.AddCommand(newAssetsDeleteCommand(ctx))
	assetsCmd.AddCommand(newAssetsHistoryCommand(ctx))
	assetsCmd.AddCommand(newAssetsProvisionCommand(ctx))
	return assetsCmd
}

type assetView struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	SizeBytes     int64  `json:"size_bytes"`
	Required      bool   `json:"required"`
	Installed     bool   `json:"installed"`
	Complete      bool   `json:"complete"`
	InstalledSize int64  `json:"installed_size,omitempty"`
	Path          string `json:"path,omitempty"`
}

func buildAssetViews(store *assets.Store) ([]assetView, error) {
	installed, err := store.ListInstalled()
	if err != nil {
		return nil, err
	}
	byID := make(map[string]assets.InstalledAsset, len(installed))
	for _, a := range installed {
		byID[a.ID] = a
	}
	all := store.Catalog().All()
	views := make([]assetView, 0, len(all))
	for _, d := range all {
		view := assetView{ID: d.ID, Name: d.Name, SizeBytes: d.SizeBytes, Required: d.Required}
		if a, ok := byID[d.ID]; ok {
			view.Installed = true
			view.Complete = a.Complete
			view.InstalledSize = a.InstalledSize
			view.Path = a.Path
		}
		views = append(views, view)
	}
	return views, nil
}

func installStateLabel(v assetView) string {
	switch {
	case v.Complete:
		return "yes"
	case v.Installed:
		return "partial (" + humanize.Bytes(uint64(v.InstalledSize)) + ")"
	default:
		return "no"
	}
}

func newAssetsListCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List catalog assets and their install state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := ctx.assetStore()
			if err != nil {
				return err
			}
			views, err := buildAssetViews(store)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd, views)
			}
			rows := make([][]string, 0, len(views))
			for _, v := range views {
				rows = append(rows, []string{
					v.ID,
					v.Name,
					humanize.Bytes(uint64(v.SizeBytes)),
					yesNo(v.Required),
					installStateLabel(v),
				})
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Install directory: %s\n", store.Dir())
			fmt.Fprintln(out, renderTable(
				[]column{{Title: "ID"}, {Title: "Name"}, numeric("Size"), {Title: "Required"}, {Title: "Installed"}},
				rows,
			))
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func newAssetsPathCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "path <id>",
		Short: "Print the installed path of an asset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := ctx.assetStore()
			if err != nil {
				return err
			}
			path, err := store.ResolvePath(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}
}

func newAssetsDownloadCommand(ctx *commandContext) *cobra.Command {
	var required, all, force bool
	cmd := &cobra.Command{
		Use:   "download [id...]",
		Short: "Download assets into the install directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := ctx.assetStore()
			if err != nil {
				return err
			}
			ids, err := selectDownloadIDs(store, args, required, all)
			if err != nil {
				return err
			}
			return runDownloads(cmd, ctx, store, ids, force)
		},
	}
	cmd.Flags().BoolVar(&required, "required", false, "Download every required asset")
	cmd.Flags().BoolVar(&all, "all", false, "Download every catalog asset")
	cmd.Flags().BoolVar(&force, "force", false, "Download even when a complete copy is installed")
	return cmd
}

func selectDownloadIDs(store *assets.Store, args []string, required, all bool) ([]string, error) {
	var ids []string
	switch {
	case all:
		for _, d := range store.Catalog().All() {
			ids = append(ids, d.ID)
		}
	case required:
		for _, d := range store.Catalog().Required() {
			ids = append(ids, d.ID)
		}
	}
	ids = append(ids, args...)
	if len(ids) == 0 {
		return nil, errors.New("specify asset ids, --required, or --all")
	}

	seen := make(map[string]struct{}, len(ids))
	unique := make([]string, 0, len(ids))
	for _, id := range ids {
		d, err := store.Catalog().Lookup(strings.TrimSpace(id))
		if err != nil {
			return nil, err
		}
		if _, ok := seen[d.ID]; ok {
			continue
		}
		seen[d.ID] = struct{}{}
		unique = append(unique, d.ID)
	}
	return unique, nil
}

func runDownloads(cmd *cobra.Command, ctx *commandContext, store *assets.Store, ids []string, force bool) error {
	cfg, err := ctx.ensureConfig()
	if err != nil {
		return err
	}
	logger, err := ctx.ensureLogger()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	pending := ids
	if !force {
		views, err := buildAssetViews(store)
		if err != nil {
			return err
		}
		complete := make(map[string]bool, len(views))
		for _, v := range views {
			complete[v.ID] = v.Complete
		}
		pending = pending[:0:0]
		for _, id := range ids {
			if complete[id] {
				fmt.Fprintf(out, "%s already installed\n", id)
				continue
			}
			pending = append(pending, id)
		}
	}
	if len(pending) == 0 {
		return nil
	}
	if err := store.EnsureDir(); err != nil {
		return err
	}

	fetcher, err := ctx.fetcher()
	if err != nil {
		return err
	}
	opts := []download.ManagerOption{download.WithLogger(logger)}
	if hist, err := ctx.openHistory(); err != nil {
		logging.WarnWithContext(logger, "download history unavailable", "history_open_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "this run will not be recorded"),
		)
	} else {
		defer hist.Close()
		opts = append(opts, download.WithRecorder(hist))
	}
	mgr := download.NewManager(store, fetcher, opts...)

	sigCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-sigCtx.Done()
		// Restore default handling so a second interrupt terminates.
		stop()
		if cancelled := mgr.CancelAll(); len(cancelled) > 0 {
			logger.Info("cancelling downloads", logging.String("assets", strings.Join(cancelled, ",")))
		}
	}()

	reporter := newProgressReporter(cmd.ErrOrStderr(), len(pending))
	var (
		mu      sync.Mutex
		results []download.Result
		errs    []error
		g       errgroup.Group
	)
	g.SetLimit(max(cfg.Downloads.Parallel, 1))
	for _, id := range pending {
		g.Go(func() error {
			if err := sigCtx.Err(); err != nil {
				mu.Lock()
				defer mu.Unlock()
				errs = append(errs, fmt.Errorf("download skipped: %s: %w", id, err))
				return nil
			}
			res, err := mgr.Download(sigCtx, id, reporter.Update)
			reporter.Finish(id, err)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return nil
			}
			results = append(results, res)
			return nil
		})
	}
	_ = g.Wait()

	for _, res := range results {
		fmt.Fprintf(out, "Downloaded %s (%s) to %s\n", res.AssetID, humanize.Bytes(uint64(res.Bytes)), res.Path)
	}
	return errors.Join(errs...)
}

func newAssetsDeleteCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>...",
		Short: "Delete installed assets",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := ctx.assetStore()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, id := range args {
				removed, err := store.Delete(id)
				if err != nil {
					return err
				}
				if removed {
					fmt.Fprintf(out, "Deleted %s\n", id)
				} else {
					fmt.Fprintf(out, "%s is not installed\n", id)
				}
			}
			return nil
		},
	}
}

type historyView struct {
	AssetID    string    `json:"asset_id"`
	Status     string    `json:"status"`
	Bytes      int64     `json:"bytes"`
	Error      string    `json:"error,omitempty"`
	URL        string    `json:"url"`
	Path       string    `json:"path"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

func newAssetsHistoryCommand(ctx *commandContext) *cobra.Command {
	var limit int
	var prune time.Duration
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "history [id]",
		Short: "Show recent download attempts",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hist, err := ctx.openHistory()
			if err != nil {
				return err
			}
			defer hist.Close()

			out := cmd.OutOrStdout()
			if prune > 0 {
				removed, err := hist.Prune(cmd.Context(), time.Now().Add(-prune))
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "Pruned %d entries older than %s\n", removed, prune)
			}

			var assetID string
			if len(args) == 1 {
				assetID = args[0]
			}
			entries, err := hist.Recent(cmd.Context(), assetID, limit)
			if err != nil {
				return err
			}
			if asJSON {
				views := make([]historyView, 0, len(entries))
				for _, e := range entries {
					views = append(views, historyView{
						AssetID: e.AssetID, Status: e.Status, Bytes: e.Bytes, Error: e.Error,
						URL: e.URL, Path: e.Path, StartedAt: e.StartedAt, FinishedAt: e.FinishedAt,
					})
				}
				return writeJSON(cmd, views)
			}
			if len(entries) == 0 {
				fmt.Fprintln(out, "No download history")
				return nil
			}
			rows := make([][]string, 0, len(entries))
			for _, e := range entries {
				rows = append(rows, []string{
					humanize.Time(e.FinishedAt),
					e.AssetID,
					e.Status,
					humanize.Bytes(uint64(e.Bytes)),
					e.Duration().Round(100 * time.Millisecond).String(),
					e.Error,
				})
			}
			fmt.Fprintln(out, renderTable(
				[]column{{Title: "Finished"}, {Title: "Asset"}, {Title: "Status"}, numeric("Size"), numeric("Took"), {Title: "Error"}},
				rows,
			))
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum entries to show")
	cmd.Flags().DurationVar(&prune, "prune", 0, "Delete entries older than this age first (e.g. 720h)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func defaultProvisionRoot(store *assets.Store) string {
	return filepath.Dir(store.Dir())
}
