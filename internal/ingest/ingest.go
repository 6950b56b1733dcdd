package ingest

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/pricescout/pricescout/internal/store"
)

// Mandatory columns of an ingestion payload. Extra columns are ignored.
const (
	colItemKey = "item_key"
	colDate    = "date"
	colValue   = "value"
)

// ErrSourceUnavailable marks a source that could not be opened or read.
var ErrSourceUnavailable = errors.New("source unavailable")

// SchemaError reports every mandatory column missing from a payload.
type SchemaError struct {
	Missing []string
}

func (e *SchemaError) Error() string {
	return "missing required columns: " + strings.Join(e.Missing, ", ")
}

// validateHeader checks the payload header for the mandatory columns.
// Pure check, runs before any storage access.
func validateHeader(header []string) error {
	present := make(map[string]bool, len(header))
	for _, col := range header {
		present[strings.TrimSpace(col)] = true
	}

	var missing []string
	for _, col := range []string{colItemKey, colDate, colValue} {
		if !present[col] {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return &SchemaError{Missing: missing}
	}
	return nil
}

// record is one parsed payload row.
type record struct {
	sku   string
	ds    store.Date
	price float64
}

// Ingestor loads tabular price payloads into the store.
type Ingestor struct {
	store store.Store
	log   *zap.SugaredLogger
}

// New creates an ingestor.
func New(s store.Store, log *zap.SugaredLogger) *Ingestor {
	return &Ingestor{store: s, log: log}
}

// Ingest reads a CSV payload from src, validates its schema and applies it:
// unseen item keys become new items, and every (item, date) price lands
// last-write-wins. Returns the number of rows applied. Any failure leaves
// no partial state visible; atomicity is the store's per-batch guarantee.
func (ing *Ingestor) Ingest(ctx context.Context, src Source) (int, error) {
	ing.log.Infow("starting ingest", "source", src.Name())

	rc, err := src.Open(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrSourceUnavailable, src.Name(), err)
	}
	defer rc.Close()

	records, err := decode(rc)
	if err != nil {
		var schemaErr *SchemaError
		if errors.As(err, &schemaErr) {
			return 0, err
		}
		return 0, fmt.Errorf("decode %s: %w", src.Name(), err)
	}
	ing.log.Infow("decoded payload", "source", src.Name(), "rows", len(records))

	seen := make(map[string]bool)
	var items []store.ItemUpsert
	for _, rec := range records {
		if seen[rec.sku] {
			continue
		}
		seen[rec.sku] = true
		// Title defaults to the external key; a richer catalog feed may
		// refresh it later.
		items = append(items, store.ItemUpsert{SKU: rec.sku, Title: rec.sku})
	}

	mapping, err := ing.store.UpsertItems(ctx, items)
	if err != nil {
		return 0, fmt.Errorf("upsert items: %w", err)
	}

	obs := make([]store.Observation, 0, len(records))
	for _, rec := range records {
		id, ok := mapping[rec.sku]
		if !ok {
			return 0, fmt.Errorf("no item id resolved for key %q", rec.sku)
		}
		obs = append(obs, store.Observation{ItemID: id, DS: rec.ds, Price: rec.price})
	}

	if err := ing.store.UpsertObservations(ctx, obs); err != nil {
		return 0, fmt.Errorf("upsert observations: %w", err)
	}

	ing.log.Infow("ingest complete", "source", src.Name(),
		"rows", len(obs), "items", len(items))
	return len(obs), nil
}

// decode parses the CSV payload into records, validating the header first.
func decode(r io.Reader) ([]record, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err == io.EOF {
		return nil, &SchemaError{Missing: []string{colItemKey, colDate, colValue}}
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if err := validateHeader(header); err != nil {
		return nil, err
	}

	idx := make(map[string]int, len(header))
	for i, col := range header {
		idx[strings.TrimSpace(col)] = i
	}
	keyIdx, dateIdx, valueIdx := idx[colItemKey], idx[colDate], idx[colValue]

	var records []record
	for line := 2; ; line++ {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row: %w", err)
		}

		sku := strings.TrimSpace(row[keyIdx])
		if sku == "" {
			return nil, fmt.Errorf("line %d: empty item_key", line)
		}

		ds, err := parseDate(strings.TrimSpace(row[dateIdx]))
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		price, err := strconv.ParseFloat(strings.TrimSpace(row[valueIdx]), 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: parse value %q: %w", line, row[valueIdx], err)
		}

		records = append(records, record{sku: sku, ds: ds, price: price})
	}
	return records, nil
}

// parseDate accepts an ISO-8601 date, with or without a time component.
func parseDate(s string) (store.Date, error) {
	if d, err := store.ParseDate(s); err == nil {
		return d, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return store.Date{}, fmt.Errorf("parse date %q: not ISO-8601", s)
	}
	return store.NewDate(t), nil
}
