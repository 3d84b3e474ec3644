package app

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"crop-price-alerts/internal/alerting"
	"crop-price-alerts/internal/config"
	"crop-price-alerts/internal/engine"
	"crop-price-alerts/internal/scheduler"
	"crop-price-alerts/internal/service"
	"crop-price-alerts/internal/storage"
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

func (a *App) newNotifier() alerting.Notifier {
	if a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		return alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, 10*time.Second, a.Logger)
	}
	return nil
}

func (a *App) newEngine(store *storage.Store) *engine.Engine {
	return engine.New(store, store, store, a.newNotifier(), engine.Options{
		Workers:       a.Config.Alerting.Workers,
		RetentionDays: a.Config.Alerting.RetentionDays,
	}, a.Logger)
}

// Run executes the long-running alerting service.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database.dsn must be configured to run the detection service")
	}
	if closeStore != nil {
		defer closeStore()
	}

	sched := scheduler.New(scheduler.Options{
		Interval:     a.Config.Scheduler.Interval,
		AlignToStart: a.Config.Scheduler.AlignToInterval,
		StartupDelay: a.Config.Scheduler.StartupDelay,
	}, a.Logger)

	eng := a.newEngine(store)
	svc := service.New(sched, eng, store, a.Config.Scheduler.AdvisoryLockKey, a.Config.Alerting.PurgeEvery, a.Logger)

	a.Logger.Info().Msg("starting alerting service")
	err = svc.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("alerting service stopped")
	return nil
}

// ValidateOptions hold parameters for a one-off submission validation.
type ValidateOptions struct {
	CropType   string
	Price      float64
	Quality    string
	Location   string
	Unit       string
	Reputation float64
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit int
}

// ExportOptions hold parameters for exporting price history.
type ExportOptions struct {
	CropType  string
	Location  string
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}
