package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"aer/internal/assets"
	"aer/internal/config"
	"aer/internal/worker"
)

func newWorkerCommand(ctx *commandContext) *cobra.Command {
	workerCmd := &cobra.Command{
		Use:   "worker",
		Short: "Talk to the GPU transcription worker",
	}
	workerCmd.AddCommand(newWorkerPingCommand(ctx))
	workerCmd.AddCommand(newWorkerDevicesCommand(ctx))
	workerCmd.AddCommand(newWorkerSmokeTestCommand(ctx))
	workerCmd.AddCommand(newWorkerTranscribeCommand(ctx))
	return workerCmd
}

func newWorkerPingCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "ping",
		Short: "Start the worker and report GPU availability",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withSupervisor(cmd, func(sup *worker.Supervisor) error {
				res, err := worker.NewClient(sup).Ping(cmd.Context())
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, res)
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Message:     %s\n", res.Message)
				fmt.Fprintf(out, "GPU enabled: %s\n", yesNo(res.GPUEnabled))
				if res.GPUEnabled {
					fmt.Fprintf(out, "GPU:         %s (%s, %s)\n", res.GPUName, res.GPUBackend, res.GPUType)
				}
				fmt.Fprintf(out, "Session:     %s\n", sup.SessionID())
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func newWorkerDevicesCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "devices",
		Short: "List GPU adapters visible to the worker",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withSupervisor(cmd, func(sup *worker.Supervisor) error {
				devices, err := worker.NewClient(sup).ListDevices(cmd.Context())
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, devices)
				}
				if len(devices) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No GPU adapters reported")
					return nil
				}
				rows := make([][]string, 0, len(devices))
				for _, d := range devices {
					rows = append(rows, []string{
						d.Name,
						d.DeviceType,
						d.Backend,
						fmt.Sprintf("%04x:%04x", d.Vendor, d.Device),
						strings.TrimSpace(d.Driver + " " + d.DriverInfo),
					})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					columns("Name", "Type", "Backend", "PCI ID", "Driver"),
					rows,
				))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func newWorkerSmokeTestCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "smoke-test",
		Short: "Run the worker's GPU smoke test",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withSupervisor(cmd, func(sup *worker.Supervisor) error {
				res, err := worker.NewClient(sup).SmokeTest(cmd.Context())
				if err != nil {
					return err
				}
				keys := make([]string, 0, len(res))
				for k := range res {
					keys = append(keys, k)
				}
				sort.Strings(keys)
				rows := make([][]string, 0, len(keys))
				for _, k := range keys {
					rows = append(rows, []string{k, fmt.Sprint(res[k])})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(columns("Key", "Value"), rows))
				return nil
			})
		},
	}
	return cmd
}

type transcribeFlags struct {
	model        string
	vad          string
	outputDir    string
	language     string
	whisper      string
	ffmpeg       string
	threads      int
	beamSize     int
	bestOf       int
	maxLen       int
	vadThreshold float64
	splitOnWord  bool
	translate    bool
	dryRun       bool
	asJSON       bool
}

func newWorkerTranscribeCommand(ctx *commandContext) *cobra.Command {
	var flags transcribeFlags
	cmd := &cobra.Command{
		Use:   "transcribe <input>",
		Short: "Transcribe a media file or directory to subtitles",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := ctx.assetStore()
			if err != nil {
				return err
			}
			params, err := buildTranscribeParams(cmd, store, args[0], flags)
			if err != nil {
				return err
			}
			return ctx.withSupervisor(cmd, func(sup *worker.Supervisor) error {
				errOut := cmd.ErrOrStderr()
				unsubscribe := sup.OnEvent(func(ev worker.Event) {
					if ev.Name == worker.EventLog {
						fmt.Fprintln(errOut, ev.PayloadString())
					}
				})
				defer unsubscribe()

				res, err := worker.NewClient(sup).Transcribe(cmd.Context(), params)
				if err != nil {
					return err
				}
				if flags.asJSON {
					return writeJSON(cmd, res)
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Jobs: %d\n", res.Jobs)
				for _, path := range res.Outputs {
					fmt.Fprintf(out, "  %s\n", path)
				}
				return nil
			})
		},
	}

	f := cmd.Flags()
	f.StringVar(&flags.model, "model", "", "Model asset id or path to a ggml model file")
	f.StringVar(&flags.vad, "vad", "", "VAD asset id or path to a VAD model file")
	f.StringVarP(&flags.outputDir, "output-dir", "o", "", "Directory for generated subtitles")
	f.StringVarP(&flags.language, "language", "l", worker.LanguageAuto, "Spoken language (BCP-47 tag or auto)")
	f.StringVar(&flags.whisper, "whisper", "", "Path to the whisper executable the worker should use")
	f.StringVar(&flags.ffmpeg, "ffmpeg", "", "Path to the ffmpeg executable the worker should use")
	f.IntVar(&flags.threads, "threads", 0, "Decoder threads")
	f.IntVar(&flags.beamSize, "beam-size", 0, "Beam search width")
	f.IntVar(&flags.bestOf, "best-of", 0, "Candidates when sampling")
	f.IntVar(&flags.maxLen, "max-len", 0, "Maximum characters per subtitle segment")
	f.Float64Var(&flags.vadThreshold, "vad-threshold", 0, "Speech probability threshold (0-1)")
	f.BoolVar(&flags.splitOnWord, "split-on-word", false, "Split segments on word boundaries")
	f.BoolVar(&flags.translate, "translate", false, "Translate to English")
	f.BoolVar(&flags.dryRun, "dry-run", false, "List jobs without transcribing")
	f.BoolVar(&flags.asJSON, "json", false, "Output as JSON")
	return cmd
}

// buildTranscribeParams only sets optional values whose flags were given so
// the worker keeps its own defaults otherwise.
func buildTranscribeParams(cmd *cobra.Command, store *assets.Store, input string, flags transcribeFlags) (worker.TranscribeParams, error) {
	var params worker.TranscribeParams
	inputPath, err := config.ExpandPath(strings.TrimSpace(input))
	if err != nil {
		return params, err
	}
	if _, err := os.Stat(inputPath); err != nil {
		return params, fmt.Errorf("input %s: %w", inputPath, err)
	}
	params.InputPath = inputPath
	params.Language = flags.language
	params.DryRun = flags.dryRun

	if params.ModelPath, err = resolveModelArg(store, flags.model); err != nil {
		return params, err
	}
	if params.VADModelPath, err = resolveModelArg(store, flags.vad); err != nil {
		return params, err
	}
	for _, p := range []struct {
		dst *string
		val string
	}{
		{&params.OutputDir, flags.outputDir},
		{&params.WhisperPath, flags.whisper},
		{&params.FFmpegPath, flags.ffmpeg},
	} {
		if strings.TrimSpace(p.val) == "" {
			continue
		}
		if *p.dst, err = config.ExpandPath(p.val); err != nil {
			return params, err
		}
	}

	changed := cmd.Flags().Changed
	if changed("threads") {
		params.Threads = &flags.threads
	}
	if changed("beam-size") {
		params.BeamSize = &flags.beamSize
	}
	if changed("best-of") {
		params.BestOf = &flags.bestOf
	}
	if changed("max-len") {
		params.MaxLenChars = &flags.maxLen
	}
	if changed("vad-threshold") {
		params.VADThreshold = &flags.vadThreshold
	}
	if changed("split-on-word") {
		params.SplitOnWord = &flags.splitOnWord
	}
	if changed("translate") {
		params.Translate = &flags.translate
	}
	return params, nil
}

// resolveModelArg accepts a catalog id (which must be installed) or a path.
func resolveModelArg(store *assets.Store, value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", nil
	}
	path, err := store.ResolvePath(value)
	if err == nil {
		return path, nil
	}
	if !errors.Is(err, assets.ErrUnknownAsset) {
		return "", err
	}
	if !strings.ContainsAny(value, `/\`) && filepath.Ext(value) == "" {
		return "", err
	}
	return config.ExpandPath(value)
}
