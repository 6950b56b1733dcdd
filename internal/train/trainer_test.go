package train

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pricescout/pricescout/internal/forecast"
	"github.com/pricescout/pricescout/internal/logging"
	"github.com/pricescout/pricescout/internal/store"
)

// stubEngine lets tests control the fit outcome per call.
type stubEngine struct {
	fit func(points []forecast.Point, horizonDays int) (*forecast.Result, error)
}

func (e *stubEngine) ModelType() string { return "stub" }

func (e *stubEngine) Fit(ctx context.Context, points []forecast.Point, horizonDays int, hp forecast.HyperParams) (*forecast.Result, error) {
	return e.fit(points, horizonDays)
}

// flatFit echoes the history and extends it flat over the horizon.
func flatFit(points []forecast.Point, horizonDays int) (*forecast.Result, error) {
	last := points[len(points)-1]
	rows := make([]forecast.Row, 0, len(points)+horizonDays)
	for _, p := range points {
		rows = append(rows, forecast.Row{T: p.T, Yhat: p.Value, Lower: p.Value - 1, Upper: p.Value + 1})
	}
	for i := 1; i <= horizonDays; i++ {
		t := last.T.AddDate(0, 0, i)
		rows = append(rows, forecast.Row{T: t, Yhat: last.Value, Lower: last.Value - 1, Upper: last.Value + 1})
	}
	return &forecast.Result{Rows: rows}, nil
}

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func seedItem(t *testing.T, s *store.SQLiteStore, sku string, n int) int64 {
	t.Helper()
	ctx := context.Background()

	mapping, err := s.UpsertItems(ctx, []store.ItemUpsert{{SKU: sku, Title: sku}})
	if err != nil {
		t.Fatalf("upsert item %s: %v", sku, err)
	}
	id := mapping[sku]

	start, err := store.ParseDate("2024-01-01")
	if err != nil {
		t.Fatalf("parse date: %v", err)
	}
	obs := make([]store.Observation, n)
	for i := 0; i < n; i++ {
		obs[i] = store.Observation{ItemID: id, DS: start.AddDays(i), Price: 20 + float64(i%5)}
	}
	if err := s.UpsertObservations(ctx, obs); err != nil {
		t.Fatalf("upsert observations for %s: %v", sku, err)
	}
	return id
}

func newTrainer(s *store.SQLiteStore, engine forecast.Engine, opts Options) *Trainer {
	return New(s, engine, opts, logging.Nop())
}

func TestTrainOne_CommitsActiveVersion(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	id := seedItem(t, s, "sku-A", 40)

	tr := newTrainer(s, &stubEngine{fit: flatFit}, Options{MinPoints: 30, HorizonDays: 10})

	report, err := tr.TrainOne(ctx, id, "")
	if err != nil {
		t.Fatalf("train one: %v", err)
	}
	if report.Rows != 50 {
		t.Fatalf("expected 50 forecast rows (40 history + 10 horizon), got %d", report.Rows)
	}
	if !strings.HasPrefix(report.Version, "fc_v") {
		t.Fatalf("unexpected generated version %q", report.Version)
	}

	active, err := s.ActiveModel(ctx, id)
	if err != nil {
		t.Fatalf("active model: %v", err)
	}
	if active == nil {
		t.Fatal("no active model after training")
	}
	if active.Version != report.Version {
		t.Fatalf("active version %s, report says %s", active.Version, report.Version)
	}
	if active.ModelType != "stub" {
		t.Fatalf("unexpected model type %q", active.ModelType)
	}
	if active.TrainStart.String() != "2024-01-01" || active.TrainEnd.String() != "2024-02-09" {
		t.Fatalf("unexpected training window %s .. %s", active.TrainStart, active.TrainEnd)
	}

	from, _ := store.ParseDate("2024-01-01")
	points, err := s.LatestForecast(ctx, id, from, 100)
	if err != nil {
		t.Fatalf("latest forecast: %v", err)
	}
	if len(points) != 50 {
		t.Fatalf("expected 50 readable forecast rows, got %d", len(points))
	}
}

func TestTrainOne_ExplicitVersion(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	id := seedItem(t, s, "sku-A", 40)

	tr := newTrainer(s, &stubEngine{fit: flatFit}, Options{MinPoints: 30, HorizonDays: 5})

	report, err := tr.TrainOne(ctx, id, "release-42")
	if err != nil {
		t.Fatalf("train one: %v", err)
	}
	if report.Version != "release-42" {
		t.Fatalf("caller version not honored: %q", report.Version)
	}
}

func TestTrainOne_InsufficientData(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	id := seedItem(t, s, "sku-A", 10)

	tr := newTrainer(s, &stubEngine{fit: flatFit}, Options{MinPoints: 30, HorizonDays: 5})

	_, err := tr.TrainOne(ctx, id, "")
	var insufficient *InsufficientDataError
	if !errors.As(err, &insufficient) {
		t.Fatalf("expected InsufficientDataError, got %v", err)
	}
	if insufficient.Points != 10 || insufficient.MinPoints != 30 {
		t.Fatalf("unexpected error detail: %+v", insufficient)
	}

	active, err := s.ActiveModel(ctx, id)
	if err != nil {
		t.Fatalf("active model: %v", err)
	}
	if active != nil {
		t.Fatal("rejected item must not gain a model")
	}
}

func TestTrainOne_EngineFailure(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	id := seedItem(t, s, "sku-A", 40)

	engine := &stubEngine{fit: func([]forecast.Point, int) (*forecast.Result, error) {
		return nil, errors.New("series has no variance")
	}}
	tr := newTrainer(s, engine, Options{MinPoints: 30, HorizonDays: 5})

	_, err := tr.TrainOne(ctx, id, "")
	if !errors.Is(err, ErrEngineFailure) {
		t.Fatalf("expected ErrEngineFailure, got %v", err)
	}

	active, err := s.ActiveModel(ctx, id)
	if err != nil {
		t.Fatalf("active model: %v", err)
	}
	if active != nil {
		t.Fatal("failed run must leave no model behind")
	}
}

func TestTrainOne_ReplacesActiveVersion(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	id := seedItem(t, s, "sku-A", 40)

	tr := newTrainer(s, &stubEngine{fit: flatFit}, Options{MinPoints: 30, HorizonDays: 5})

	first, err := tr.TrainOne(ctx, id, "v1")
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	second, err := tr.TrainOne(ctx, id, "v2")
	if err != nil {
		t.Fatalf("second run: %v", err)
	}

	versions, err := s.ModelVersions(ctx, id)
	if err != nil {
		t.Fatalf("versions: %v", err)
	}
	if len(versions) != 2 {
		t.Fatalf("history not retained, got %d versions", len(versions))
	}

	active, err := s.ActiveModel(ctx, id)
	if err != nil || active == nil {
		t.Fatalf("active model: %v %v", active, err)
	}
	if active.Version != second.Version {
		t.Fatalf("active is %s, want %s", active.Version, second.Version)
	}
	for _, v := range versions {
		if v.Version == first.Version && v.Active {
			t.Fatal("superseded version still active")
		}
	}
}

func TestTrainAll_FailureIsolation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedItem(t, s, "sku-good", 40)
	badID := seedItem(t, s, "sku-bad", 40)
	seedItem(t, s, "sku-also-good", 40)

	engine := &stubEngine{fit: func(points []forecast.Point, horizon int) (*forecast.Result, error) {
		// sku-bad's series starts at 66; the others start at 20.
		if points[0].Value >= 60 {
			return nil, errors.New("diverged")
		}
		return flatFit(points, horizon)
	}}
	badObs := make([]store.Observation, 40)
	start, _ := store.ParseDate("2024-01-01")
	for i := range badObs {
		badObs[i] = store.Observation{ItemID: badID, DS: start.AddDays(i), Price: 66}
	}
	if err := s.UpsertObservations(ctx, badObs); err != nil {
		t.Fatalf("seed bad series: %v", err)
	}

	tr := newTrainer(s, engine, Options{MinPoints: 30, HorizonDays: 5})

	report, err := tr.TrainAll(ctx)
	if err != nil {
		t.Fatalf("train all: %v", err)
	}
	if report.Total != 3 || report.Successful != 2 || report.Failed != 1 || report.Skipped != 0 {
		t.Fatalf("unexpected report: %+v", report)
	}
	if len(report.Errors) != 1 || !strings.Contains(report.Errors[0], "sku-bad") {
		t.Fatalf("unexpected errors: %v", report.Errors)
	}

	active, err := s.ActiveModel(ctx, badID)
	if err != nil {
		t.Fatalf("active model: %v", err)
	}
	if active != nil {
		t.Fatal("failed item must not gain a model")
	}
}

func TestTrainAll_SkipsRecentlyTrained(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedItem(t, s, "sku-A", 40)
	seedItem(t, s, "sku-B", 40)

	tr := newTrainer(s, &stubEngine{fit: flatFit},
		Options{MinPoints: 30, HorizonDays: 5, RetrainInterval: 7 * 24 * time.Hour})

	first, err := tr.TrainAll(ctx)
	if err != nil {
		t.Fatalf("first pass: %v", err)
	}
	if first.Successful != 2 {
		t.Fatalf("first pass: %+v", first)
	}

	// Immediately rerun: both models are fresh, nothing is due.
	second, err := tr.TrainAll(ctx)
	if err != nil {
		t.Fatalf("second pass: %v", err)
	}
	if second.Total != 2 || second.Successful != 0 || second.Skipped != 2 {
		t.Fatalf("second pass: %+v", second)
	}
}

func TestTrainAll_BelowThresholdExcluded(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedItem(t, s, "sku-thin", 5)
	seedItem(t, s, "sku-rich", 40)

	tr := newTrainer(s, &stubEngine{fit: flatFit}, Options{MinPoints: 30, HorizonDays: 5})

	report, err := tr.TrainAll(ctx)
	if err != nil {
		t.Fatalf("train all: %v", err)
	}
	if report.Total != 1 || report.Successful != 1 {
		t.Fatalf("thin item leaked into the pass: %+v", report)
	}
}

func TestTrainAll_Cancellation(t *testing.T) {
	s := newTestStore(t)
	seedItem(t, s, "sku-A", 40)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	tr := newTrainer(s, &stubEngine{fit: flatFit}, Options{MinPoints: 30, HorizonDays: 5})
	_, err := tr.TrainAll(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestOptionsDefaults(t *testing.T) {
	opts := Options{}.withDefaults()
	if opts.MinPoints != 30 {
		t.Fatalf("min points default = %d", opts.MinPoints)
	}
	if opts.HorizonDays != 365 {
		t.Fatalf("horizon default = %d", opts.HorizonDays)
	}
	if opts.RetrainInterval != 7*24*time.Hour {
		t.Fatalf("retrain interval default = %v", opts.RetrainInterval)
	}
	if opts.FitTimeout != 2*time.Minute {
		t.Fatalf("fit timeout default = %v", opts.FitTimeout)
	}
}
