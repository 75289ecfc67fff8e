package cli

import (
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"memepulse/internal/app"
)

var (
	backfillFrom   string
	backfillTo     string
	backfillDryRun bool
)

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Backfill provider price history into storage",
	RunE: func(cmd *cobra.Command, args []string) error {
		var opts app.BackfillOptions
		var err error
		if backfillFrom != "" {
			if opts.From, err = parseTimeFlag("from", backfillFrom); err != nil {
				return err
			}
		}
		if backfillTo != "" {
			if opts.To, err = parseTimeFlag("to", backfillTo); err != nil {
				return err
			}
		}
		if !opts.From.IsZero() && !opts.To.IsZero() && !opts.From.Before(opts.To) {
			return fmt.Errorf("--from must be before --to")
		}
		opts.DryRun = backfillDryRun

		counts, err := getApp().Backfill(cmd.Context(), opts)
		symbols := make([]string, 0, len(counts))
		for symbol := range counts {
			symbols = append(symbols, symbol)
		}
		sort.Strings(symbols)
		for _, symbol := range symbols {
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%d\n", symbol, counts[symbol])
		}
		return err
	},
}

func init() {
	backfillCmd.Flags().StringVar(&backfillFrom, "from", "", "Start timestamp (RFC3339; defaults to monitor.backfill_window before --to)")
	backfillCmd.Flags().StringVar(&backfillTo, "to", "", "End timestamp (RFC3339; defaults to now)")
	backfillCmd.Flags().BoolVar(&backfillDryRun, "dry-run", false, "Fetch without writing to storage")
}

func parseTimeFlag(name, value string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --%s value: %w", name, err)
	}
	return t, nil
}
