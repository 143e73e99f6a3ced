package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"
)

// Show prints recent trigger events.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot show triggers")
	}
	if closeStore != nil {
		defer closeStore()
	}

	triggers, err := store.ListRecentTriggers(ctx, opts.Limit)
	if err != nil {
		return err
	}
	if len(triggers) == 0 {
		fmt.Fprintln(os.Stdout, "no triggers found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Fired (UTC)\tAlert\tAsset\tRule\tPrice\tCurrency")

	for _, trig := range triggers {
		fmt.Fprintf(
			writer,
			"%s\t%d\t%s\t%s\t%s\t%s\n",
			trig.FiredAt.UTC().Format(time.RFC3339),
			trig.AlertID,
			trig.Asset,
			trig.RuleType,
			trig.Price.StringFixed(2),
			trig.Currency,
		)
	}

	writer.Flush()
	return nil
}
