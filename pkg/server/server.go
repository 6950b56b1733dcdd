package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/pricescout/pricescout/internal/ingest"
	"github.com/pricescout/pricescout/internal/store"
	"github.com/pricescout/pricescout/internal/train"
)

// Server provides the HTTP API over the ingestion and training pipeline.
type Server struct {
	store     store.Store
	ingestor  *ingest.Ingestor
	trainer   *train.Trainer
	gcsClient *storage.Client // nil when no bucket is configured
	bucket    string
	port      int
	log       *zap.SugaredLogger
}

// New creates a new HTTP server. gcsClient may be nil; bucket-key ingestion
// is then rejected.
func New(
	s store.Store,
	ingestor *ingest.Ingestor,
	trainer *train.Trainer,
	gcsClient *storage.Client,
	bucket string,
	port int,
	log *zap.SugaredLogger,
) *Server {
	if port == 0 {
		port = 8080
	}
	return &Server{
		store:     s,
		ingestor:  ingestor,
		trainer:   trainer,
		gcsClient: gcsClient,
		bucket:    bucket,
		port:      port,
		log:       log,
	}
}

// Handler returns the API routing table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/api/v1/ingest", s.handleIngest)
	mux.HandleFunc("/api/v1/train", s.handleTrain)
	mux.HandleFunc("/api/v1/train/all", s.handleTrainAll)
	mux.HandleFunc("/api/v1/eligible", s.handleEligible)
	mux.HandleFunc("/api/v1/items", s.handleItems)
	mux.HandleFunc("/api/v1/forecast", s.handleForecast)
	mux.HandleFunc("/api/v1/stats", s.handleStats)
	return mux
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	addr := fmt.Sprintf(":%d", s.port)
	s.log.Infow("server listening", "addr", addr)
	return http.ListenAndServe(addr, s.Handler())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "pricescout"})
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	var req struct {
		BucketKey string `json:"bucket_key"`
		LocalPath string `json:"local_path"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}

	var src ingest.Source
	switch {
	case req.BucketKey != "":
		if s.gcsClient == nil || s.bucket == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "no bucket configured"})
			return
		}
		src = ingest.NewObject(s.gcsClient, s.bucket, req.BucketKey)
	case req.LocalPath != "":
		src = ingest.LocalFile{Path: req.LocalPath}
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bucket_key or local_path is required"})
		return
	}

	rows, err := s.ingestor.Ingest(r.Context(), src)
	if err != nil {
		var schemaErr *ingest.SchemaError
		switch {
		case errors.As(err, &schemaErr):
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		case errors.Is(err, ingest.ErrSourceUnavailable):
			writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
		default:
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		}
		return
	}

	stats, err := s.store.Stats(r.Context())
	if err != nil {
		s.log.Warnw("stats after ingest failed", "error", err)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status": "success",
		"source": src.Name(),
		"rows":   rows,
		"stats":  stats,
	})
}

func (s *Server) handleTrain(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	var req struct {
		ItemID  int64  `json:"item_id"`
		SKU     string `json:"sku"`
		Version string `json:"version"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}

	itemID := req.ItemID
	if itemID == 0 && req.SKU != "" {
		item, err := s.store.ItemBySKU(r.Context(), req.SKU)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		if item == nil {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown sku " + req.SKU})
			return
		}
		itemID = item.ID
	}
	if itemID == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "item_id or sku is required"})
		return
	}

	report, err := s.trainer.TrainOne(r.Context(), itemID, req.Version)
	if err != nil {
		var insufficient *train.InsufficientDataError
		switch {
		case errors.As(err, &insufficient):
			writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
		case errors.Is(err, train.ErrEngineFailure):
			writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
		default:
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"status": "success", "report": report})
}

func (s *Server) handleTrainAll(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	report, err := s.trainer.TrainAll(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"status": "success", "report": report})
}

func (s *Server) handleEligible(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	opts := s.trainer.Options()
	minPoints := opts.MinPoints
	if v := r.URL.Query().Get("min_points"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			minPoints = n
		}
	}

	candidates, err := s.trainer.Planner().EligibleItems(r.Context(), minPoints, opts.RetrainInterval)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data":  candidates,
		"count": len(candidates),
	})
}

func (s *Server) handleItems(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	opts := store.ItemListOpts{Limit: 100}
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			opts.Limit = n
		}
	}

	items, err := s.store.ListItems(r.Context(), opts)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data":  items,
		"count": len(items),
	})
}

func (s *Server) handleForecast(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	itemID, err := strconv.ParseInt(r.URL.Query().Get("item_id"), 10, 64)
	if err != nil || itemID <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "item_id is required"})
		return
	}

	from := store.Today()
	if v := r.URL.Query().Get("from"); v != "" {
		parsed, err := store.ParseDate(v)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "from must be YYYY-MM-DD"})
			return
		}
		from = parsed
	}

	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}

	points, err := s.store.LatestForecast(r.Context(), itemID, from, limit)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	model, err := s.store.ActiveModel(r.Context(), itemID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	resp := map[string]any{
		"data":  points,
		"count": len(points),
	}
	if model != nil {
		resp["model"] = model
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	stats, err := s.store.Stats(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, stats)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
