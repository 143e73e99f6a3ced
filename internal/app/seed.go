package app

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/shopspring/decimal"

	"gold-alert-engine/internal/market"
	"gold-alert-engine/internal/storage"
)

// Seed 从 CSV 文件批量导入历史行情样本。
// Expected columns: timestamp (RFC3339), asset, currency, price[, price_usd].
func (a *App) Seed(ctx context.Context, opts SeedOptions) error {
	if opts.CSVPath == "" {
		return errors.New("--csv is required")
	}

	file, err := os.Open(opts.CSVPath)
	if err != nil {
		return fmt.Errorf("open csv: %w", err)
	}
	defer file.Close()

	samples, err := readSeedCSV(file)
	if err != nil {
		return err
	}
	if len(samples) == 0 {
		a.Logger.Info().Msg("csv contains no samples")
		return nil
	}

	if opts.DryRun {
		a.Logger.Info().Int("samples", len(samples)).Msg("dry run: samples parsed, nothing written")
		return nil
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot seed")
	}
	if closeStore != nil {
		defer closeStore()
	}

	for _, sample := range samples {
		if err := store.UpsertPriceSample(ctx, sample); err != nil {
			return fmt.Errorf("upsert sample %s@%s: %w", sample.Asset, sample.Observed.Format(time.RFC3339), err)
		}
	}

	a.Logger.Info().Int("samples", len(samples)).Msg("seed complete")
	return nil
}

func readSeedCSV(r io.Reader) ([]storage.PriceSample, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	var samples []storage.PriceSample
	line := 0
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv: %w", err)
		}
		line++

		// Skip a header row if present.
		if line == 1 && len(record) > 0 && record[0] == "timestamp" {
			continue
		}
		if len(record) < 4 {
			return nil, fmt.Errorf("line %d: expected at least 4 columns, got %d", line, len(record))
		}

		observed, err := time.Parse(time.RFC3339, record[0])
		if err != nil {
			return nil, fmt.Errorf("line %d: parse timestamp: %w", line, err)
		}

		currency, err := market.ParseCurrency(record[2])
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		price, err := decimal.NewFromString(record[3])
		if err != nil {
			return nil, fmt.Errorf("line %d: parse price: %w", line, err)
		}

		priceUSD := price
		if len(record) >= 5 && record[4] != "" {
			priceUSD, err = decimal.NewFromString(record[4])
			if err != nil {
				return nil, fmt.Errorf("line %d: parse price_usd: %w", line, err)
			}
		} else if currency != market.USD {
			return nil, fmt.Errorf("line %d: price_usd column required for non-USD samples", line)
		}

		samples = append(samples, storage.PriceSample{
			Observed: observed.UTC(),
			Asset:    record[1],
			Currency: currency,
			Price:    price,
			PriceUSD: priceUSD,
		})
	}

	return samples, nil
}
