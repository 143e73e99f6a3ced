package rates

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"gold-alert-engine/internal/market"
)

const rateKeyPrefix = "rate:"

// RedisOptions parameterise the Redis-backed provider.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	// Pairs lists the currency pairs to read, as "FROM:TO".
	Pairs []string
}

// Redis reads rate hashes written by an external collector. Each pair lives
// at rate:<FROM>:<TO> with fields "rate" (decimal string) and "as_of"
// (RFC3339). Missing keys are skipped, not fatal: the normalizer reports
// per-alert when a needed pair is absent.
type Redis struct {
	client *redis.Client
	pairs  []pairKey
	logger zerolog.Logger
}

type pairKey struct {
	from market.Currency
	to   market.Currency
}

// NewRedis builds the provider and validates the configured pairs.
func NewRedis(opts RedisOptions, logger zerolog.Logger) (*Redis, error) {
	pairs := make([]pairKey, 0, len(opts.Pairs))
	for _, raw := range opts.Pairs {
		parts := strings.Split(raw, ":")
		if len(parts) != 2 {
			return nil, fmt.Errorf("rate pair %q must be FROM:TO", raw)
		}
		from, err := market.ParseCurrency(parts[0])
		if err != nil {
			return nil, fmt.Errorf("rate pair %q: %w", raw, err)
		}
		to, err := market.ParseCurrency(parts[1])
		if err != nil {
			return nil, fmt.Errorf("rate pair %q: %w", raw, err)
		}
		pairs = append(pairs, pairKey{from: from, to: to})
	}

	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	return &Redis{
		client: client,
		pairs:  pairs,
		logger: logger.With().Str("component", "rate_redis").Logger(),
	}, nil
}

// Fetch reads every configured pair.
func (r *Redis) Fetch(ctx context.Context) ([]market.ConversionRate, error) {
	rates := make([]market.ConversionRate, 0, len(r.pairs))
	for _, p := range r.pairs {
		key := fmt.Sprintf("%s%s:%s", rateKeyPrefix, p.from, p.to)
		fields, err := r.client.HGetAll(ctx, key).Result()
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", key, err)
		}
		if len(fields) == 0 {
			r.logger.Debug().Str("key", key).Msg("rate pair not present")
			continue
		}

		rate, err := decimal.NewFromString(fields["rate"])
		if err != nil {
			return nil, fmt.Errorf("parse rate at %s: %w", key, err)
		}
		asOf, err := time.Parse(time.RFC3339, fields["as_of"])
		if err != nil {
			return nil, fmt.Errorf("parse as_of at %s: %w", key, err)
		}

		rates = append(rates, market.ConversionRate{
			From: p.from,
			To:   p.to,
			Rate: rate,
			AsOf: asOf,
		})
	}
	return rates, nil
}

// Close releases the Redis connection.
func (r *Redis) Close() error {
	return r.client.Close()
}

var _ Provider = (*Redis)(nil)
