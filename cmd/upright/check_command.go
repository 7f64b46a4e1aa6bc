package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"upright/internal/decider"
	"upright/internal/logging"
	"upright/internal/preflight"
)

func newCheckCommand(ctx *commandContext) *cobra.Command {
	var skipDecider bool

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Verify directories and the orientation decider",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			var dec decider.Decider
			if !skipDecider {
				dec, err = decider.New(cfg.Decider, logging.NewNop())
				if err != nil {
					return err
				}
			}

			results := preflight.RunAll(cmd.Context(), cfg, dec)
			out := cmd.OutOrStdout()
			rows := make([][]string, 0, len(results))
			for _, r := range results {
				rows = append(rows, []string{r.Name, passLabel(r.Passed), r.Detail})
			}
			fmt.Fprintln(out, renderTable(tableSpec{
				headers: []string{"Check", "Result", "Detail"},
				rows:    rows,
				wrapAt:  map[int]int{2: 80},
			}))

			if failed := preflight.Failed(results); len(failed) > 0 {
				return fmt.Errorf("%d of %d checks failed", len(failed), len(results))
			}
			fmt.Fprintln(out, "All checks passed")
			return nil
		},
	}

	cmd.Flags().BoolVar(&skipDecider, "skip-decider", false, "Skip contacting the decider")
	return cmd
}

func passLabel(passed bool) string {
	if passed {
		return "ok"
	}
	return "FAIL"
}
