package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// Item is a catalog entry tracked for price history.
type Item struct {
	ID        int64     `db:"id" json:"id"`
	SKU       string    `db:"sku" json:"sku"`
	Title     string    `db:"title" json:"title"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// ItemUpsert is the ingestion-facing shape of an item: external key plus
// a display title that may be refreshed on later ingests.
type ItemUpsert struct {
	SKU   string `db:"sku"`
	Title string `db:"title"`
}

// Observation is one recorded price for one item on one date.
type Observation struct {
	ItemID int64   `db:"item_id" json:"item_id"`
	DS     Date    `db:"ds" json:"ds"`
	Price  float64 `db:"price" json:"price"`
}

// ModelVersion is one trained model's metadata. At most one version per
// item is active at any time; deactivated versions are kept for audit.
type ModelVersion struct {
	ID         int64     `db:"id" json:"id"`
	ItemID     int64     `db:"item_id" json:"item_id"`
	Version    string    `db:"version" json:"version"`
	ModelType  string    `db:"model_type" json:"model_type"`
	TrainStart Date      `db:"train_start" json:"train_start"`
	TrainEnd   Date      `db:"train_end" json:"train_end"`
	Params     string    `db:"params" json:"params"`
	Metrics    *string   `db:"metrics" json:"metrics,omitempty"`
	Active     bool      `db:"active" json:"active"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// ForecastPoint is one predicted price, tagged with the version that
// produced it.
type ForecastPoint struct {
	ItemID    int64   `db:"item_id" json:"item_id"`
	DS        Date    `db:"ds" json:"ds"`
	Yhat      float64 `db:"yhat" json:"yhat"`
	YhatLower float64 `db:"yhat_lower" json:"yhat_lower"`
	YhatUpper float64 `db:"yhat_upper" json:"yhat_upper"`
	Version   string  `db:"version" json:"version"`
}

// TrainingCandidate is one row of the retrain planner's input: an item
// with enough history, plus when (if ever) it was last trained.
type TrainingCandidate struct {
	ID          int64      `db:"id" json:"id"`
	SKU         string     `db:"sku" json:"sku"`
	Title       string     `db:"title" json:"title"`
	DataPoints  int        `db:"data_points" json:"data_points"`
	LatestDate  *Date      `db:"latest_date" json:"latest_date,omitempty"`
	LastTrained *time.Time `json:"last_trained,omitempty"`
}

// ItemSummary is an item with its observation count.
type ItemSummary struct {
	ID         int64  `db:"id" json:"id"`
	SKU        string `db:"sku" json:"sku"`
	Title      string `db:"title" json:"title"`
	DataPoints int    `db:"data_points" json:"data_points"`
	LatestDate *Date  `db:"latest_date" json:"latest_date,omitempty"`
}

// ItemListOpts controls item listing.
type ItemListOpts struct {
	Limit int
}

// Stats summarizes ingested state.
type Stats struct {
	Items        int   `db:"items" json:"items"`
	Observations int   `db:"observations" json:"observations"`
	FirstDate    *Date `db:"first_date" json:"first_date,omitempty"`
	LastDate     *Date `db:"last_date" json:"last_date,omitempty"`
}

// Store is the persistence interface.
type Store interface {
	UpsertItems(ctx context.Context, items []ItemUpsert) (map[string]int64, error)
	UpsertObservations(ctx context.Context, obs []Observation) error
	Observations(ctx context.Context, itemID int64) ([]Observation, error)
	ItemBySKU(ctx context.Context, sku string) (*Item, error)
	ListItems(ctx context.Context, opts ItemListOpts) ([]ItemSummary, error)

	TrainingCandidates(ctx context.Context, minPoints int) ([]TrainingCandidate, error)
	CommitVersion(ctx context.Context, mv ModelVersion, rows []ForecastPoint) error
	ActiveModel(ctx context.Context, itemID int64) (*ModelVersion, error)
	ModelVersions(ctx context.Context, itemID int64) ([]ModelVersion, error)

	LatestForecast(ctx context.Context, itemID int64, from Date, limit int) ([]ForecastPoint, error)
	Stats(ctx context.Context) (*Stats, error)

	Close() error
}

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sqlx.DB
}

// New opens a SQLite database and runs migrations.
func New(path string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// stagingChunk bounds the number of rows per multi-row insert so the
// statement stays under SQLite's bind-variable limit.
const stagingChunk = 200

// UpsertItems creates items for unseen SKUs and refreshes titles for known
// ones, as one atomic unit. Returns sku -> internal id for the whole input.
func (s *SQLiteStore) UpsertItems(ctx context.Context, items []ItemUpsert) (map[string]int64, error) {
	mapping := make(map[string]int64, len(items))
	if len(items) == 0 {
		return mapping, nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin upsert items: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		CREATE TEMP TABLE IF NOT EXISTS staging_items (
			sku   TEXT PRIMARY KEY,
			title TEXT NOT NULL
		)`); err != nil {
		return nil, fmt.Errorf("create items staging: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM staging_items"); err != nil {
		return nil, fmt.Errorf("reset items staging: %w", err)
	}

	for start := 0; start < len(items); start += stagingChunk {
		end := min(start+stagingChunk, len(items))
		if _, err := tx.NamedExecContext(ctx, `
			INSERT OR REPLACE INTO staging_items (sku, title)
			VALUES (:sku, :title)`, items[start:end]); err != nil {
			return nil, fmt.Errorf("stage items: %w", err)
		}
	}

	// Single merge statement: insert unseen SKUs, refresh titles of known
	// ones, never touch ids.
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO items (sku, title, created_at)
		SELECT sku, title, ? FROM staging_items WHERE true
		ON CONFLICT(sku) DO UPDATE SET title = excluded.title
	`, time.Now().UTC()); err != nil {
		return nil, fmt.Errorf("merge items: %w", err)
	}

	rows, err := tx.QueryxContext(ctx, `
		SELECT id, sku FROM items
		WHERE sku IN (SELECT sku FROM staging_items)`)
	if err != nil {
		return nil, fmt.Errorf("resolve item ids: %w", err)
	}
	for rows.Next() {
		var (
			id  int64
			sku string
		)
		if err := rows.Scan(&id, &sku); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan item id: %w", err)
		}
		mapping[sku] = id
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("resolve item ids: %w", err)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM staging_items"); err != nil {
		return nil, fmt.Errorf("clear items staging: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit upsert items: %w", err)
	}
	return mapping, nil
}

// UpsertObservations applies last-write-wins per (item, date) as one atomic
// unit: every row lands or none do. Re-running an identical payload is a
// no-op for readers.
func (s *SQLiteStore) UpsertObservations(ctx context.Context, obs []Observation) error {
	if len(obs) == 0 {
		return nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin upsert observations: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		CREATE TEMP TABLE IF NOT EXISTS staging_observations (
			item_id INTEGER NOT NULL,
			ds      TEXT NOT NULL,
			price   REAL NOT NULL,
			PRIMARY KEY (item_id, ds)
		)`); err != nil {
		return fmt.Errorf("create observations staging: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM staging_observations"); err != nil {
		return fmt.Errorf("reset observations staging: %w", err)
	}

	for start := 0; start < len(obs); start += stagingChunk {
		end := min(start+stagingChunk, len(obs))
		if _, err := tx.NamedExecContext(ctx, `
			INSERT OR REPLACE INTO staging_observations (item_id, ds, price)
			VALUES (:item_id, :ds, :price)`, obs[start:end]); err != nil {
			return fmt.Errorf("stage observations: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO observations (item_id, ds, price)
		SELECT item_id, ds, price FROM staging_observations WHERE true
		ON CONFLICT(item_id, ds) DO UPDATE SET price = excluded.price
	`); err != nil {
		return fmt.Errorf("merge observations: %w", err)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM staging_observations"); err != nil {
		return fmt.Errorf("clear observations staging: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit upsert observations: %w", err)
	}
	return nil
}

// Observations returns an item's full price history ordered by date.
func (s *SQLiteStore) Observations(ctx context.Context, itemID int64) ([]Observation, error) {
	var obs []Observation
	err := s.db.SelectContext(ctx, &obs,
		"SELECT item_id, ds, price FROM observations WHERE item_id = ? ORDER BY ds",
		itemID)
	if err != nil {
		return nil, fmt.Errorf("observations for item %d: %w", itemID, err)
	}
	return obs, nil
}

func (s *SQLiteStore) ItemBySKU(ctx context.Context, sku string) (*Item, error) {
	var item Item
	err := s.db.GetContext(ctx, &item,
		"SELECT id, sku, title, created_at FROM items WHERE sku = ?", sku)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("item by sku %s: %w", sku, err)
	}
	return &item, nil
}

func (s *SQLiteStore) ListItems(ctx context.Context, opts ItemListOpts) ([]ItemSummary, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}

	var items []ItemSummary
	err := s.db.SelectContext(ctx, &items, `
		SELECT i.id, i.sku, i.title,
		       COUNT(o.ds) AS data_points,
		       MAX(o.ds)   AS latest_date
		FROM items i
		LEFT JOIN observations o ON o.item_id = i.id
		GROUP BY i.id, i.sku, i.title
		ORDER BY i.id
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	return items, nil
}

// TrainingCandidates returns every item whose observation count meets the
// threshold, joined with the creation time of its active model, if any.
func (s *SQLiteStore) TrainingCandidates(ctx context.Context, minPoints int) ([]TrainingCandidate, error) {
	var candidates []TrainingCandidate
	err := s.db.SelectContext(ctx, &candidates, `
		SELECT i.id, i.sku, i.title,
		       COUNT(o.ds) AS data_points,
		       MAX(o.ds)   AS latest_date
		FROM items i
		LEFT JOIN observations o ON o.item_id = i.id
		GROUP BY i.id, i.sku, i.title
		HAVING COUNT(o.ds) >= ?
		ORDER BY i.id`, minPoints)
	if err != nil {
		return nil, fmt.Errorf("training candidates: %w", err)
	}
	if len(candidates) == 0 {
		return candidates, nil
	}

	rows, err := s.db.QueryxContext(ctx,
		"SELECT item_id, created_at FROM model_versions WHERE active = 1")
	if err != nil {
		return nil, fmt.Errorf("active model times: %w", err)
	}
	defer rows.Close()

	trained := make(map[int64]time.Time)
	for rows.Next() {
		var (
			itemID    int64
			createdAt time.Time
		)
		if err := rows.Scan(&itemID, &createdAt); err != nil {
			return nil, fmt.Errorf("scan active model time: %w", err)
		}
		trained[itemID] = createdAt
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("active model times: %w", err)
	}

	for i := range candidates {
		if t, ok := trained[candidates[i].ID]; ok {
			t := t
			candidates[i].LastTrained = &t
		}
	}
	return candidates, nil
}

// CommitVersion persists one training run's output as a single atomic unit:
// forecast rows merged under the run's version, every prior version for the
// item deactivated, and the new version inserted active. A reader never
// observes zero or two active versions; failure leaves the previously
// active version in place. Re-committing an identical run is idempotent.
func (s *SQLiteStore) CommitVersion(ctx context.Context, mv ModelVersion, rows []ForecastPoint) error {
	if mv.Version == "" {
		return fmt.Errorf("commit version for item %d: empty version", mv.ItemID)
	}
	if mv.CreatedAt.IsZero() {
		mv.CreatedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin commit version: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		CREATE TEMP TABLE IF NOT EXISTS staging_forecasts (
			item_id    INTEGER NOT NULL,
			ds         TEXT NOT NULL,
			yhat       REAL NOT NULL,
			yhat_lower REAL NOT NULL,
			yhat_upper REAL NOT NULL,
			version    TEXT NOT NULL,
			PRIMARY KEY (item_id, ds, version)
		)`); err != nil {
		return fmt.Errorf("create forecasts staging: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM staging_forecasts"); err != nil {
		return fmt.Errorf("reset forecasts staging: %w", err)
	}

	for start := 0; start < len(rows); start += stagingChunk {
		end := min(start+stagingChunk, len(rows))
		if _, err := tx.NamedExecContext(ctx, `
			INSERT OR REPLACE INTO staging_forecasts (item_id, ds, yhat, yhat_lower, yhat_upper, version)
			VALUES (:item_id, :ds, :yhat, :yhat_lower, :yhat_upper, :version)`,
			rows[start:end]); err != nil {
			return fmt.Errorf("stage forecasts: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO forecasts (item_id, ds, yhat, yhat_lower, yhat_upper, version)
		SELECT item_id, ds, yhat, yhat_lower, yhat_upper, version
		FROM staging_forecasts WHERE true
		ON CONFLICT(item_id, ds, version) DO UPDATE SET
			yhat = excluded.yhat,
			yhat_lower = excluded.yhat_lower,
			yhat_upper = excluded.yhat_upper
	`); err != nil {
		return fmt.Errorf("merge forecasts: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		"UPDATE model_versions SET active = 0 WHERE item_id = ?", mv.ItemID); err != nil {
		return fmt.Errorf("deactivate versions for item %d: %w", mv.ItemID, err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO model_versions (item_id, version, model_type, train_start, train_end, params, metrics, active, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, 1, ?)
		ON CONFLICT(item_id, version) DO UPDATE SET
			active = 1,
			params = excluded.params,
			metrics = excluded.metrics,
			created_at = excluded.created_at
	`, mv.ItemID, mv.Version, mv.ModelType, mv.TrainStart, mv.TrainEnd,
		mv.Params, mv.Metrics, mv.CreatedAt); err != nil {
		return fmt.Errorf("insert version %s for item %d: %w", mv.Version, mv.ItemID, err)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM staging_forecasts"); err != nil {
		return fmt.Errorf("clear forecasts staging: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit version %s for item %d: %w", mv.Version, mv.ItemID, err)
	}
	return nil
}

// ActiveModel returns the item's active model version, or nil when the item
// has never been trained. Absence is an expected condition, not an error.
func (s *SQLiteStore) ActiveModel(ctx context.Context, itemID int64) (*ModelVersion, error) {
	var mv ModelVersion
	err := s.db.GetContext(ctx, &mv, `
		SELECT id, item_id, version, model_type, train_start, train_end, params, metrics, active, created_at
		FROM model_versions
		WHERE item_id = ? AND active = 1`, itemID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("active model for item %d: %w", itemID, err)
	}
	return &mv, nil
}

// ModelVersions returns all versions for an item, newest first.
func (s *SQLiteStore) ModelVersions(ctx context.Context, itemID int64) ([]ModelVersion, error) {
	var versions []ModelVersion
	err := s.db.SelectContext(ctx, &versions, `
		SELECT id, item_id, version, model_type, train_start, train_end, params, metrics, active, created_at
		FROM model_versions
		WHERE item_id = ?
		ORDER BY created_at DESC, id DESC`, itemID)
	if err != nil {
		return nil, fmt.Errorf("model versions for item %d: %w", itemID, err)
	}
	return versions, nil
}

// LatestForecast returns the active version's forecast rows from a date
// onward, ascending, capped at limit. An item with no active model yields
// an empty slice.
func (s *SQLiteStore) LatestForecast(ctx context.Context, itemID int64, from Date, limit int) ([]ForecastPoint, error) {
	if limit <= 0 {
		limit = 100
	}

	var points []ForecastPoint
	err := s.db.SelectContext(ctx, &points, `
		SELECT f.item_id, f.ds, f.yhat, f.yhat_lower, f.yhat_upper, f.version
		FROM forecasts f
		JOIN model_versions mv
		  ON mv.item_id = f.item_id AND mv.version = f.version AND mv.active = 1
		WHERE f.item_id = ? AND f.ds >= ?
		ORDER BY f.ds
		LIMIT ?`, itemID, from, limit)
	if err != nil {
		return nil, fmt.Errorf("latest forecast for item %d: %w", itemID, err)
	}
	return points, nil
}

func (s *SQLiteStore) Stats(ctx context.Context) (*Stats, error) {
	var st Stats
	err := s.db.GetContext(ctx, &st, `
		SELECT (SELECT COUNT(*) FROM items)        AS items,
		       (SELECT COUNT(*) FROM observations) AS observations,
		       (SELECT MIN(ds) FROM observations)  AS first_date,
		       (SELECT MAX(ds) FROM observations)  AS last_date`)
	if err != nil {
		return nil, fmt.Errorf("stats: %w", err)
	}
	return &st, nil
}
