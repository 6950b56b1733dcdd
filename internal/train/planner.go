package train

import (
	"context"
	"fmt"
	"time"

	"github.com/pricescout/pricescout/internal/store"
)

// Candidate is an eligible item together with the retrain decision.
type Candidate struct {
	store.TrainingCandidate
	NeedsRetrain bool `json:"needs_retrain"`
}

// Planner decides which items are due for a new model. Pure reads, no
// mutation.
type Planner struct {
	store store.Store
}

// NewPlanner creates a planner.
func NewPlanner(s store.Store) *Planner {
	return &Planner{store: s}
}

// EligibleItems returns every item with at least minPoints observations,
// marking those that have no active model or whose active model is at
// least retrainInterval old.
func (p *Planner) EligibleItems(ctx context.Context, minPoints int, retrainInterval time.Duration) ([]Candidate, error) {
	rows, err := p.store.TrainingCandidates(ctx, minPoints)
	if err != nil {
		return nil, fmt.Errorf("eligible items: %w", err)
	}

	now := time.Now().UTC()
	candidates := make([]Candidate, len(rows))
	for i, row := range rows {
		candidates[i] = Candidate{
			TrainingCandidate: row,
			NeedsRetrain:      needsRetrain(row.LastTrained, now, retrainInterval),
		}
	}
	return candidates, nil
}

// needsRetrain is true when the item was never trained or its active model
// is at least interval old. The boundary is inclusive: a model exactly
// interval old is due.
func needsRetrain(lastTrained *time.Time, now time.Time, interval time.Duration) bool {
	if lastTrained == nil {
		return true
	}
	return now.Sub(*lastTrained) >= interval
}
