package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

// KafkaOptions parameterise the Kafka tick source.
type KafkaOptions struct {
	Brokers  []string
	Topic    string
	GroupID  string
	MinBytes int
	MaxBytes int
	MaxWait  time.Duration
}

// Kafka consumes JSON tick frames from a topic. The producer keys messages
// by asset, so Kafka's partition ordering gives the per-asset ordering the
// engine relies on.
type Kafka struct {
	opts   KafkaOptions
	logger zerolog.Logger
}

// NewKafka builds a Kafka source.
func NewKafka(opts KafkaOptions, logger zerolog.Logger) (*Kafka, error) {
	if len(opts.Brokers) == 0 {
		return nil, errors.New("at least one broker is required")
	}
	if opts.Topic == "" {
		return nil, errors.New("topic is required")
	}
	if opts.MinBytes <= 0 {
		opts.MinBytes = 1
	}
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = 1 << 20
	}
	if opts.MaxWait <= 0 {
		opts.MaxWait = time.Second
	}

	return &Kafka{
		opts:   opts,
		logger: logger.With().Str("component", "kafka_source").Logger(),
	}, nil
}

// Run consumes until ctx is cancelled. Undecodable messages are committed
// and skipped so one malformed tick cannot wedge the partition; handler
// errors stop the source without committing, so the tick is redelivered.
func (k *Kafka) Run(ctx context.Context, handle Handler) error {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  k.opts.Brokers,
		Topic:    k.opts.Topic,
		GroupID:  k.opts.GroupID,
		MinBytes: k.opts.MinBytes,
		MaxBytes: k.opts.MaxBytes,
		MaxWait:  k.opts.MaxWait,
	})
	defer reader.Close()

	k.logger.Info().Strs("brokers", k.opts.Brokers).Str("topic", k.opts.Topic).Msg("kafka source started")

	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return ctx.Err()
			}
			return fmt.Errorf("fetch message: %w", err)
		}

		obs, err := DecodeTick(msg.Value)
		if err != nil {
			k.logger.Warn().Err(err).Str("key", string(msg.Key)).
				Int64("offset", msg.Offset).Msg("malformed tick skipped")
			if err := reader.CommitMessages(ctx, msg); err != nil {
				return fmt.Errorf("commit skipped message: %w", err)
			}
			continue
		}

		if err := handle(ctx, obs); err != nil {
			return err
		}
		if err := reader.CommitMessages(ctx, msg); err != nil {
			return fmt.Errorf("commit message: %w", err)
		}
	}
}

var _ Source = (*Kafka)(nil)
