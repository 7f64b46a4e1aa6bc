package main

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"upright/internal/config"
	"upright/internal/ledger"
)

const defaultStatusLimit = 20

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var showAll bool
	var limit int

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show instance and journal state",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)

			running, err := instanceRunning(cfg)
			if err != nil {
				return err
			}
			writeLines(out, renderSectionHeader("Upright", colorize))
			if running {
				fmt.Fprintln(out, renderStatusLine("Instance", statusOK, "Running", colorize))
			} else {
				fmt.Fprintln(out, renderStatusLine("Instance", statusWarn, "Not running", colorize))
			}
			fmt.Fprintln(out, renderInfoLine("Config", displayPath(ctx.configPath)))
			fmt.Fprintln(out, renderInfoLine("Input", displayPath(cfg.Paths.InputDir)))
			fmt.Fprintln(out, renderInfoLine("Output", displayPath(cfg.Paths.OutputDir)))
			fmt.Fprintln(out, renderInfoLine("Disposition", cfg.Pipeline.SourceDisposition))
			fmt.Fprintln(out, renderInfoLine("Decider", cfg.Decider.Kind))
			fmt.Fprintln(out, renderInfoLine("Log", cfg.LogPath()))
			fmt.Fprintln(out)

			journal, err := ctx.openJournal()
			if err != nil {
				return err
			}
			if journal == nil {
				writeLines(out, renderSectionHeader("Journal", colorize))
				fmt.Fprintln(out, renderStatusLine("Journal", statusInfo, "Disabled (set journal.enabled to keep history)", colorize))
				return nil
			}
			defer journal.Close()

			var states []ledger.State
			if !showAll {
				states = []ledger.State{ledger.StateFailed}
			}
			counts, err := journal.List(cmd.Context())
			if err != nil {
				return fmt.Errorf("read journal: %w", err)
			}
			entries, err := journal.List(cmd.Context(), states...)
			if err != nil {
				return fmt.Errorf("read journal: %w", err)
			}

			writeLines(out, renderSectionHeader("Journal", colorize))
			fmt.Fprintln(out, renderInfoLine("Path", journal.Path()))
			done, failed := countStates(counts)
			fmt.Fprintln(out, renderInfoLine("Completed", fmt.Sprint(done)))
			kind := statusOK
			if failed > 0 {
				kind = statusError
			}
			fmt.Fprintln(out, renderStatusLine("Failed", kind, fmt.Sprint(failed), colorize))
			fmt.Fprintln(out)

			if len(entries) == 0 {
				if showAll {
					fmt.Fprintln(out, "Journal is empty")
				} else {
					fmt.Fprintln(out, "No failed images")
				}
				return nil
			}
			if limit > 0 && len(entries) > limit {
				entries = entries[:limit]
			}
			fmt.Fprintln(out, renderEntries(cfg, entries))
			return nil
		},
	}

	cmd.Flags().BoolVarP(&showAll, "all", "a", false, "Show completed entries as well as failures")
	cmd.Flags().IntVarP(&limit, "limit", "n", defaultStatusLimit, "Maximum entries to list (0 for no limit)")
	return cmd
}

func countStates(entries []ledger.Entry) (done, failed int) {
	for _, e := range entries {
		switch e.State {
		case ledger.StateDone:
			done++
		case ledger.StateFailed:
			failed++
		}
	}
	return done, failed
}

func renderEntries(cfg *config.Config, entries []ledger.Entry) string {
	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		detail := e.FailureKind
		if e.State == ledger.StateDone {
			detail = displayRelative(cfg.Paths.OutputDir, e.Destination)
		} else if reason := strings.TrimSpace(e.Reason); reason != "" {
			detail = fmt.Sprintf("%s: %s", e.FailureKind, truncate(reason, 60))
		}
		rows = append(rows, []string{
			displayRelative(cfg.Paths.InputDir, e.Path),
			string(e.State),
			detail,
			fmt.Sprint(e.Attempts),
			e.UpdatedAt.Local().Format(time.DateTime),
		})
	}
	return renderTable(tableSpec{
		headers: []string{"Path", "State", "Detail", "Attempts", "Updated"},
		rows:    rows,
		aligns:  []columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
		wrapAt:  map[int]int{2: 72},
	})
}

func displayRelative(root, path string) string {
	if root == "" || path == "" {
		return path
	}
	rel, err := filepath.Rel(root, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return path
	}
	return rel
}

func displayPath(path string) string {
	if strings.TrimSpace(path) == "" {
		return "(not set)"
	}
	return path
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}

func writeLines(out io.Writer, lines []string) {
	for _, line := range lines {
		fmt.Fprintln(out, line)
	}
}
