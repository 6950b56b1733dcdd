package scheduler

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/pricescout/pricescout/internal/ingest"
	"github.com/pricescout/pricescout/internal/train"
	"github.com/pricescout/pricescout/pkg/alert"
)

// Scheduler runs periodic ingestion and training passes.
type Scheduler struct {
	trainer   *train.Trainer
	ingestor  *ingest.Ingestor
	sources   []ingest.Source
	alertMgr  *alert.Manager
	trainInt  time.Duration
	ingestInt time.Duration
	log       *zap.SugaredLogger
}

// New creates a scheduler. sources may be empty; ingestInt of zero
// disables the ingest ticker.
func New(
	trainer *train.Trainer,
	ingestor *ingest.Ingestor,
	sources []ingest.Source,
	alertMgr *alert.Manager,
	trainInt, ingestInt time.Duration,
	log *zap.SugaredLogger,
) *Scheduler {
	if trainInt == 0 {
		trainInt = 24 * time.Hour
	}
	return &Scheduler{
		trainer:   trainer,
		ingestor:  ingestor,
		sources:   sources,
		alertMgr:  alertMgr,
		trainInt:  trainInt,
		ingestInt: ingestInt,
		log:       log,
	}
}

// Run starts the scheduler loop. Blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	trainTicker := time.NewTicker(s.trainInt)
	defer trainTicker.Stop()

	// A nil channel never fires; the ingest ticker only exists when
	// configured.
	var ingestC <-chan time.Time
	if s.ingestInt > 0 && len(s.sources) > 0 {
		ingestTicker := time.NewTicker(s.ingestInt)
		defer ingestTicker.Stop()
		ingestC = ingestTicker.C
	}

	// Run immediately on start.
	s.ingestPass(ctx)
	s.trainPass(ctx)

	s.log.Infow("scheduler running", "train_interval", s.trainInt, "ingest_interval", s.ingestInt)

	for {
		select {
		case <-ctx.Done():
			s.log.Infow("scheduler stopped")
			return ctx.Err()
		case <-trainTicker.C:
			s.trainPass(ctx)
		case <-ingestC:
			s.ingestPass(ctx)
		}
	}
}

func (s *Scheduler) ingestPass(ctx context.Context) {
	total := 0
	for _, src := range s.sources {
		n, err := s.ingestor.Ingest(ctx, src)
		if err != nil {
			s.log.Warnw("scheduled ingest failed", "source", src.Name(), "error", err)
			continue
		}
		total += n
	}
	if len(s.sources) > 0 {
		s.log.Infow("scheduled ingest complete", "sources", len(s.sources), "rows", total)
	}
}

func (s *Scheduler) trainPass(ctx context.Context) {
	report, err := s.trainer.TrainAll(ctx)
	if err != nil {
		s.log.Warnw("scheduled training failed", "error", err)
		return
	}

	if s.alertMgr == nil || !s.alertMgr.HasNotifiers() {
		return
	}
	if err := s.alertMgr.Broadcast(ctx, alert.FromBatchReport(report)); err != nil {
		s.log.Warnw("training alert failed", "error", err)
	}
}
