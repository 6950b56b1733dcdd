package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/pricescout/pricescout/internal/config"
	"github.com/pricescout/pricescout/internal/forecast"
	"github.com/pricescout/pricescout/internal/ingest"
	"github.com/pricescout/pricescout/internal/logging"
	"github.com/pricescout/pricescout/internal/scheduler"
	"github.com/pricescout/pricescout/internal/store"
	"github.com/pricescout/pricescout/internal/train"
	"github.com/pricescout/pricescout/pkg/alert"
	"github.com/pricescout/pricescout/pkg/server"
)

func loadConfig() (*config.Config, error) {
	path := cfgFile
	if path == "" {
		if _, err := os.Stat("config.yaml"); err == nil {
			path = "config.yaml"
		}
	}
	return config.Load(path)
}

// app bundles the wired components every command needs.
type app struct {
	cfg     *config.Config
	log     *zap.SugaredLogger
	db      *store.SQLiteStore
	ingstor *ingest.Ingestor
	trainer *train.Trainer
	gcs     *storage.Client // nil when no bucket is configured
}

func buildApp(ctx context.Context) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	log, err := logging.New(cfg.Logging.Mode)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	db, err := store.New(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	var gcs *storage.Client
	if cfg.Bucket.Name != "" {
		gcs, err = storage.NewClient(ctx, option.WithScopes(storage.ScopeReadOnly))
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("init bucket client: %w", err)
		}
	}

	engine := forecast.NewForecaster(cfg.Training.ValidationSplit, log)
	trainer := train.New(db, engine, train.Options{
		MinPoints:       cfg.Training.MinPoints,
		HorizonDays:     cfg.Training.HorizonDays,
		RetrainInterval: cfg.Training.RetrainInterval(),
		FitTimeout:      cfg.Training.ParseFitTimeout(),
		Hyper:           hyperFromConfig(cfg.Model),
	}, log)

	return &app{
		cfg:     cfg,
		log:     log,
		db:      db,
		ingstor: ingest.New(db, log),
		trainer: trainer,
		gcs:     gcs,
	}, nil
}

func (a *app) close() {
	a.db.Close()
	_ = a.log.Sync()
}

func hyperFromConfig(m config.ModelConfig) forecast.HyperParams {
	return forecast.HyperParams{
		WeeklySeasonality:     m.WeeklySeasonality,
		YearlySeasonality:     m.YearlySeasonality,
		DailySeasonality:      m.DailySeasonality,
		SeasonalityMode:       m.SeasonalityMode,
		ChangepointPriorScale: m.ChangepointPriorScale,
		SeasonalityPriorScale: m.SeasonalityPriorScale,
	}
}

func buildAlertManager(cfg *config.Config) *alert.Manager {
	var notifiers []alert.Notifier

	if cfg.Alerts.Slack.Enabled && cfg.Alerts.Slack.WebhookURL != "" {
		notifiers = append(notifiers, alert.NewSlack(cfg.Alerts.Slack.WebhookURL))
	}
	if cfg.Alerts.Discord.Enabled && cfg.Alerts.Discord.WebhookURL != "" {
		notifiers = append(notifiers, alert.NewDiscord(cfg.Alerts.Discord.WebhookURL))
	}
	if cfg.Alerts.Webhook.Enabled && cfg.Alerts.Webhook.URL != "" {
		notifiers = append(notifiers, alert.NewWebhook(cfg.Alerts.Webhook.URL, cfg.Alerts.Webhook.Secret))
	}

	return alert.NewManager(notifiers)
}

func runIngest(localFile, bucketKey string, showStats bool) error {
	ctx := context.Background()
	a, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	if showStats && localFile == "" && bucketKey == "" {
		stats, err := a.db.Stats(ctx)
		if err != nil {
			return err
		}
		return printStats(stats)
	}

	var src ingest.Source
	switch {
	case localFile != "":
		src = ingest.LocalFile{Path: localFile}
	case bucketKey != "":
		if a.gcs == nil {
			return fmt.Errorf("no bucket configured (set bucket.name or PRICESCOUT_BUCKET)")
		}
		src = ingest.NewObject(a.gcs, a.cfg.Bucket.Name, bucketKey)
	default:
		return fmt.Errorf("specify --local-file, --bucket-key, or --stats")
	}

	rows, err := a.ingstor.Ingest(ctx, src)
	if err != nil {
		return err
	}
	fmt.Printf("ingested %d rows from %s\n", rows, src.Name())

	if showStats {
		stats, err := a.db.Stats(ctx)
		if err != nil {
			return err
		}
		return printStats(stats)
	}
	return nil
}

func printStats(stats *store.Stats) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "items\t%d\n", stats.Items)
	fmt.Fprintf(w, "observations\t%d\n", stats.Observations)
	if stats.FirstDate != nil && stats.LastDate != nil {
		fmt.Fprintf(w, "date range\t%s .. %s\n", stats.FirstDate, stats.LastDate)
	}
	return w.Flush()
}

func runTrain(itemID int64, sku string, all bool, version string) error {
	ctx := context.Background()
	a, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	if all {
		report, err := a.trainer.TrainAll(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("trained %d, failed %d, skipped %d of %d eligible items\n",
			report.Successful, report.Failed, report.Skipped, report.Total)
		for _, msg := range report.Errors {
			fmt.Printf("  - %s\n", msg)
		}
		return nil
	}

	if itemID == 0 && sku != "" {
		item, err := a.db.ItemBySKU(ctx, sku)
		if err != nil {
			return err
		}
		if item == nil {
			return fmt.Errorf("unknown sku %q", sku)
		}
		itemID = item.ID
	}
	if itemID == 0 {
		return fmt.Errorf("specify --item, --sku, or --all")
	}

	report, err := a.trainer.TrainOne(ctx, itemID, version)
	if err != nil {
		return err
	}
	fmt.Printf("trained item %d: version %s, %d forecast rows\n",
		report.ItemID, report.Version, report.Rows)
	if report.Metrics != nil {
		fmt.Printf("  mae=%.3f rmse=%.3f mape=%.3f coverage=%.2f\n",
			report.Metrics.MAE, report.Metrics.RMSE, report.Metrics.MAPE, report.Metrics.Coverage)
	}
	return nil
}

func runEligible(minPoints, retrainDays int, jsonOutput bool) error {
	ctx := context.Background()
	a, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	opts := a.trainer.Options()
	if minPoints <= 0 {
		minPoints = opts.MinPoints
	}
	interval := opts.RetrainInterval
	if retrainDays > 0 {
		interval = time.Duration(retrainDays) * 24 * time.Hour
	}

	candidates, err := a.trainer.Planner().EligibleItems(ctx, minPoints, interval)
	if err != nil {
		return err
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(candidates)
	}

	if len(candidates) == 0 {
		fmt.Println("no eligible items (try ingesting data first: pricescout ingest)")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSKU\tPOINTS\tLATEST\tLAST TRAINED\tDUE")
	for _, c := range candidates {
		latest := "-"
		if c.LatestDate != nil {
			latest = c.LatestDate.String()
		}
		trained := "never"
		if c.LastTrained != nil {
			trained = c.LastTrained.Format(time.RFC3339)
		}
		fmt.Fprintf(w, "%d\t%s\t%d\t%s\t%s\t%v\n",
			c.ID, c.SKU, c.DataPoints, latest, trained, c.NeedsRetrain)
	}
	return w.Flush()
}

func runForecast(itemID int64, sku string, from string, limit int, jsonOutput bool) error {
	ctx := context.Background()
	a, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	if itemID == 0 && sku != "" {
		item, err := a.db.ItemBySKU(ctx, sku)
		if err != nil {
			return err
		}
		if item == nil {
			return fmt.Errorf("unknown sku %q", sku)
		}
		itemID = item.ID
	}
	if itemID == 0 {
		return fmt.Errorf("specify --item or --sku")
	}

	start := store.Today()
	if from != "" {
		start, err = store.ParseDate(from)
		if err != nil {
			return err
		}
	}

	points, err := a.db.LatestForecast(ctx, itemID, start, limit)
	if err != nil {
		return err
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(points)
	}

	if len(points) == 0 {
		fmt.Println("no active forecast (train the item first: pricescout train)")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "DATE\tFORECAST\tLOWER\tUPPER\tVERSION")
	for _, p := range points {
		fmt.Fprintf(w, "%s\t%.2f\t%.2f\t%.2f\t%s\n",
			p.DS, p.Yhat, p.YhatLower, p.YhatUpper, p.Version)
	}
	return w.Flush()
}

func runServe(port int) error {
	ctx := context.Background()
	a, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	if port == 0 {
		port = a.cfg.Server.Port
	}

	srv := server.New(a.db, a.ingstor, a.trainer, a.gcs, a.cfg.Bucket.Name, port, a.log)
	return srv.ListenAndServe()
}

func runDaemon(port int) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	if port == 0 {
		port = a.cfg.Server.Port
	}

	var sources []ingest.Source
	if a.gcs != nil {
		for _, key := range a.cfg.Schedule.IngestKeys {
			sources = append(sources, ingest.NewObject(a.gcs, a.cfg.Bucket.Name, key))
		}
	}

	sched := scheduler.New(
		a.trainer,
		a.ingstor,
		sources,
		buildAlertManager(a.cfg),
		a.cfg.Schedule.ParseTrainInterval(),
		a.cfg.Schedule.ParseIngestInterval(),
		a.log,
	)

	// Start scheduler in background.
	go func() {
		if err := sched.Run(ctx); err != nil && ctx.Err() == nil {
			a.log.Errorw("scheduler error", "error", err)
		}
	}()

	srv := server.New(a.db, a.ingstor, a.trainer, a.gcs, a.cfg.Bucket.Name, port, a.log)
	httpSrv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: srv.Handler()}

	go func() {
		<-ctx.Done()
		a.log.Infow("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			a.log.Warnw("server shutdown", "error", err)
		}
	}()

	a.log.Infow("server listening", "addr", httpSrv.Addr)
	if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
