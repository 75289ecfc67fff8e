package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"memepulse/internal/storage"
)

// Show prints the most recent stored samples per token.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	symbols := a.Config.Symbols()
	if opts.Symbol != "" {
		tok, err := a.tokens().Resolve(opts.Symbol)
		if err != nil {
			return err
		}
		symbols = []string{tok.Symbol}
	}

	store, closeStore, err := a.requireStore(ctx, "show samples")
	if err != nil {
		return err
	}
	defer closeStore()

	var samples []storage.PriceSample
	for _, symbol := range symbols {
		recent, err := store.ListRecentPrices(ctx, symbol, opts.Limit)
		if err != nil {
			return err
		}
		samples = append(samples, recent...)
	}
	return printSamples(os.Stdout, samples)
}

func printSamples(out io.Writer, samples []storage.PriceSample) error {
	if len(samples) == 0 {
		fmt.Fprintln(out, "no samples found")
		return nil
	}

	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tSymbol\tPrice")
	for _, sample := range samples {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\n",
			sample.Timestamp.UTC().Format(time.RFC3339),
			sample.Symbol,
			sample.Price.String(),
		)
	}
	return writer.Flush()
}
