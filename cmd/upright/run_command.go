package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"upright/internal/config"
	"upright/internal/daemonrun"
	"upright/internal/pipeline"
)

type runFlags struct {
	input               string
	output              string
	archive             string
	workers             int
	maxStabilityRetries int
	maxDecisionRetries  int
	stabilityInterval   int
	stabilitySamples    int
	stabilityMaxWait    int
	noOverwrite         bool
	once                bool
	logLevel            string
}

func newRunCommand(ctx *commandContext) *cobra.Command {
	var flags runFlags

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Process the input directory and watch it for new images",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := applyRunFlags(cmd, cfg, flags); err != nil {
				return err
			}

			stats, err := daemonrun.Run(cmd.Context(), cfg, daemonrun.Options{
				LogLevel: flags.logLevel,
				Once:     flags.once,
			})
			if err != nil {
				return err
			}
			if flags.once {
				printRunSummary(cmd, stats)
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVarP(&flags.input, "input", "i", "", "Input directory to watch (overrides paths.input_dir)")
	f.StringVarP(&flags.output, "output", "o", "", "Output directory for corrected images (overrides paths.output_dir)")
	f.StringVar(&flags.archive, "archive", "", "Move processed sources here instead of deleting them")
	f.IntVarP(&flags.workers, "workers", "w", 0, "Number of concurrent workers")
	f.IntVar(&flags.maxStabilityRetries, "max-stability-retries", 0, "Requeues allowed for files that keep changing")
	f.IntVar(&flags.maxDecisionRetries, "max-decision-retries", 0, "Requeues allowed after decider failures")
	f.IntVar(&flags.stabilityInterval, "stability-interval-ms", 0, "Delay between file size samples")
	f.IntVar(&flags.stabilitySamples, "stability-samples", 0, "Identical samples required before a file is stable")
	f.IntVar(&flags.stabilityMaxWait, "stability-max-wait", 0, "Seconds to wait for a file to stabilize per attempt")
	f.BoolVar(&flags.noOverwrite, "no-overwrite", false, "Fail instead of replacing existing output files")
	f.BoolVar(&flags.once, "once", false, "Drain the input directory and exit without watching")
	f.StringVar(&flags.logLevel, "log-level", "", "Log level override (debug, info, warn, error)")
	return cmd
}

// applyRunFlags layers explicitly set flags over the loaded config.
func applyRunFlags(cmd *cobra.Command, cfg *config.Config, flags runFlags) error {
	f := cmd.Flags()
	if f.Changed("input") {
		cfg.Paths.InputDir = strings.TrimSpace(flags.input)
	}
	if f.Changed("output") {
		cfg.Paths.OutputDir = strings.TrimSpace(flags.output)
	}
	if f.Changed("archive") {
		cfg.Paths.ArchiveDir = strings.TrimSpace(flags.archive)
		cfg.Pipeline.SourceDisposition = config.DispositionArchive
	}
	if f.Changed("workers") {
		cfg.Pipeline.Workers = flags.workers
	}
	if f.Changed("max-stability-retries") {
		cfg.Pipeline.MaxStabilityRetries = flags.maxStabilityRetries
	}
	if f.Changed("max-decision-retries") {
		cfg.Pipeline.MaxDecisionRetries = flags.maxDecisionRetries
	}
	if f.Changed("stability-interval-ms") {
		cfg.Pipeline.StabilityIntervalMillis = flags.stabilityInterval
	}
	if f.Changed("stability-samples") {
		cfg.Pipeline.StabilitySamples = flags.stabilitySamples
	}
	if f.Changed("stability-max-wait") {
		cfg.Pipeline.StabilityMaxWaitSeconds = flags.stabilityMaxWait
	}
	if flags.noOverwrite {
		cfg.Pipeline.OverwriteExisting = false
	}
	if err := cfg.Normalize(); err != nil {
		return err
	}
	return cfg.ValidateRun()
}

func printRunSummary(cmd *cobra.Command, stats pipeline.Stats) {
	out := cmd.OutOrStdout()
	rows := [][]string{
		{"Completed", fmt.Sprint(stats.Completed)},
		{"Failed", fmt.Sprint(stats.Failed)},
		{"Vanished", fmt.Sprint(stats.Vanished)},
		{"Interrupted", fmt.Sprint(stats.Interrupted)},
		{"Skipped", fmt.Sprint(stats.Skipped)},
		{"Already handled", fmt.Sprint(stats.Collapsed)},
		{"Retries", fmt.Sprint(stats.Retried)},
	}
	fmt.Fprintln(out, renderTable(tableSpec{
		headers: []string{"Outcome", "Count"},
		rows:    rows,
		aligns:  []columnAlignment{alignLeft, alignRight},
		footer:  []string{"Discovered", fmt.Sprint(stats.Discovered)},
	}))
}
