package main

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"upright/internal/config"
	"upright/internal/ledger"
)

func newResetCommand(ctx *commandContext) *cobra.Command {
	var failedOnly bool
	var all bool

	cmd := &cobra.Command{
		Use:   "reset [path...]",
		Short: "Clear journal entries so images are processed again",
		Long: "Remove journal entries for the given source paths, for every failed entry (--failed), " +
			"or for the whole journal (--all). Paths may be absolute or relative to the input directory.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 && !failedOnly && !all {
				return errors.New("specify paths, --failed, or --all")
			}
			if len(args) > 0 && (failedOnly || all) {
				return errors.New("paths cannot be combined with --failed or --all")
			}

			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			journal, err := ctx.openJournal()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if journal == nil {
				fmt.Fprintln(out, "Journal is disabled; failures are forgotten when upright restarts")
				return nil
			}
			defer journal.Close()

			var removed int64
			switch {
			case all:
				removed, err = journal.Clear(cmd.Context())
			case failedOnly:
				removed, err = journal.DeleteState(cmd.Context(), ledger.StateFailed)
			default:
				keys, resolveErr := resolveResetPaths(cfg, args)
				if resolveErr != nil {
					return resolveErr
				}
				removed, err = journal.Delete(cmd.Context(), keys...)
			}
			if err != nil {
				return fmt.Errorf("reset journal: %w", err)
			}
			fmt.Fprintf(out, "Reset %d journal entries\n", removed)

			if running, _ := instanceRunning(cfg); running && removed > 0 {
				fmt.Fprintln(out, "A running instance keeps its in-memory state; restart it or recreate the files to reprocess them")
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&failedOnly, "failed", false, "Reset every failed entry")
	cmd.Flags().BoolVar(&all, "all", false, "Reset the entire journal")
	return cmd
}

// resolveResetPaths maps CLI arguments to ledger keys. Relative paths are
// taken from the input directory when it is configured.
func resolveResetPaths(cfg *config.Config, args []string) ([]string, error) {
	keys := make([]string, 0, len(args))
	for _, arg := range args {
		arg = strings.TrimSpace(arg)
		if arg == "" {
			continue
		}
		path := arg
		if !filepath.IsAbs(path) {
			if cfg.Paths.InputDir != "" {
				path = filepath.Join(cfg.Paths.InputDir, path)
			} else {
				abs, err := filepath.Abs(path)
				if err != nil {
					return nil, fmt.Errorf("resolve %q: %w", arg, err)
				}
				path = abs
			}
		}
		keys = append(keys, ledger.Key(path))
	}
	if len(keys) == 0 {
		return nil, errors.New("no paths given")
	}
	return keys, nil
}
