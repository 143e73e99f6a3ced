package app

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"gold-alert-engine/internal/alerting"
	"gold-alert-engine/internal/config"
	"gold-alert-engine/internal/engine"
	"gold-alert-engine/internal/ingest"
	"gold-alert-engine/internal/market"
	"gold-alert-engine/internal/metrics"
	"gold-alert-engine/internal/rates"
	"gold-alert-engine/internal/rules"
	"gold-alert-engine/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

func (a *App) newRateProvider() (rates.Provider, func(), error) {
	var provider rates.Provider
	closer := func() {}

	switch a.Config.Rates.Provider {
	case "redis":
		redisProvider, err := rates.NewRedis(rates.RedisOptions{
			Addr:     a.Config.Rates.Redis.Addr,
			Password: a.Config.Rates.Redis.Password,
			DB:       a.Config.Rates.Redis.DB,
			Pairs:    a.Config.Rates.Redis.Pairs,
		}, a.Logger)
		if err != nil {
			return nil, nil, err
		}
		provider = redisProvider
		closer = func() { _ = redisProvider.Close() }
	default:
		static := make([]rates.StaticRate, 0, len(a.Config.Rates.Static))
		for _, r := range a.Config.Rates.Static {
			static = append(static, rates.StaticRate{From: r.From, To: r.To, Rate: r.Rate})
		}
		staticProvider, err := rates.NewStatic(static)
		if err != nil {
			return nil, nil, err
		}
		provider = staticProvider
	}

	if a.Config.Rates.YER.Synthesize {
		provider = rates.WithYERSynthesis(provider, a.Config.Rates.YER.ReferenceRate, a.Config.Rates.YER.RegionalFactor)
	}
	return provider, closer, nil
}

func (a *App) newSinks(store *storage.Store) (engine.Sink, func(), error) {
	var sinks engine.Fanout
	closer := func() {}

	if store != nil {
		sinks = append(sinks, storage.NewTriggerSink(store))
	}

	if a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		sinks = append(sinks, alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, 10*time.Second, a.Logger))
	}

	if a.Config.Alerting.NATS.Enabled {
		cfg := a.Config.Alerting.NATS
		publisher, err := alerting.NewNATSPublisher(cfg.URL, cfg.Subject, a.Logger)
		if err != nil {
			return nil, nil, err
		}
		sinks = append(sinks, publisher)
		closer = publisher.Close
	}

	if len(sinks) == 0 {
		return nil, nil, errors.New("no trigger sink configured; enable database, telegram, or nats")
	}
	return sinks, closer, nil
}

func (a *App) newSource() (ingest.Source, error) {
	switch a.Config.Ingest.Source {
	case "kafka":
		return ingest.NewKafka(ingest.KafkaOptions{
			Brokers: a.Config.Ingest.Kafka.Brokers,
			Topic:   a.Config.Ingest.Kafka.Topic,
			GroupID: a.Config.Ingest.Kafka.GroupID,
			MaxWait: a.Config.Ingest.Kafka.MaxWait,
		}, a.Logger)
	case "websocket":
		return ingest.NewWebsocket(ingest.WebsocketOptions{
			URL:           a.Config.Ingest.Websocket.URL,
			RedialBackoff: a.Config.Ingest.Websocket.RedialBackoff,
			ReadDeadline:  a.Config.Ingest.Websocket.ReadDeadline,
		}, a.Logger)
	case "chainlink":
		cfg := a.Config.Ingest.Chainlink
		currency, err := market.ParseCurrency(cfg.Currency)
		if err != nil {
			return nil, fmt.Errorf("ingest.chainlink.currency: %w", err)
		}
		return ingest.NewChainlink(ingest.ChainlinkOptions{
			RPCURL:      cfg.RPCURL,
			FeedAddress: cfg.FeedAddress,
			Asset:       cfg.Asset,
			Currency:    currency,
			Decimals:    cfg.Decimals,
			Interval:    cfg.Interval,
			Timeout:     cfg.RequestTimeout,
		}, a.Logger)
	}
	return nil, fmt.Errorf("ingest.source %q cannot run", a.Config.Ingest.Source)
}

func (a *App) engineOptions() engine.Options {
	return engine.Options{
		HistoryWindow:          a.Config.Engine.HistoryWindow,
		TrendWindow:            a.Config.Engine.TrendWindow,
		FireOnFirstObservation: a.Config.Engine.FireOnFirstObservation,
		RearmPolicy:            rules.RearmPolicy(a.Config.Engine.RearmPolicy),
		RateFreshness:          a.Config.Rates.Freshness,
		EmitRetries:            a.Config.Engine.EmitRetries,
		EmitBackoff:            a.Config.Engine.EmitBackoff,
		LaneBuffer:             a.Config.Engine.LaneBuffer,
		OpTimeout:              a.Config.Engine.OpTimeout,
	}
}

// Run executes the long-running evaluation engine.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database.dsn is required to run the engine")
	}
	defer closeStore()

	if dir := a.Config.Database.MigrationsPath; dir != "" {
		if err := store.ApplyMigrations(ctx, dir); err != nil {
			return fmt.Errorf("apply migrations: %w", err)
		}
	}

	if key := a.Config.Database.AdvisoryLockKey; key != 0 {
		unlock, acquired, err := store.TryAdvisoryLock(ctx, key)
		if err != nil {
			return fmt.Errorf("acquire advisory lock: %w", err)
		}
		if !acquired {
			return errors.New("another goldwatcher instance holds the advisory lock")
		}
		defer unlock()
	}

	provider, closeProvider, err := a.newRateProvider()
	if err != nil {
		return err
	}
	defer closeProvider()

	sink, closeSinks, err := a.newSinks(store)
	if err != nil {
		return err
	}
	defer closeSinks()

	source, err := a.newSource()
	if err != nil {
		return err
	}

	if a.Config.Metrics.Enabled {
		stopMetrics := metrics.Serve(a.Config.Metrics.Addr, a.Logger)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			stopMetrics(shutdownCtx)
		}()
	}

	table := market.NewTable()
	poller := rates.NewPoller(provider, table, a.Config.Rates.PollInterval, a.Logger)
	go func() {
		if err := poller.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			a.Logger.Error().Err(err).Msg("rate poller stopped")
		}
	}()

	eng := engine.New(a.engineOptions(), table, store, sink, storage.NewSampleRecorder(store), a.Logger)

	a.Logger.Info().Str("source", a.Config.Ingest.Source).Msg("starting evaluation engine")
	err = source.Run(ctx, func(ctx context.Context, obs market.PriceObservation) error {
		return eng.Submit(ctx, obs)
	})

	// Drain lanes before reporting; in-flight triggers finish here.
	eng.Close()

	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("engine terminated with error")
		return err
	}

	a.Logger.Info().Msg("evaluation engine stopped")
	return nil
}

// ExportOptions hold parameters for exporting price history.
type ExportOptions struct {
	Asset     string
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit int
}

// SeedOptions configure the seed job.
type SeedOptions struct {
	CSVPath string
	DryRun  bool
}
