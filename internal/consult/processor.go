// Package consult assembles evaluation results into recorded consults,
// the service's audit trail.
package consult

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/clinical-go/thrombocalc/internal/domain"
	"github.com/clinical-go/thrombocalc/internal/threshold"
)

// EngineVersion is stamped into every consult's metadata.
const EngineVersion = "thrombocalc-1.0"

// Processor evaluates a recommendation and produces a consult record.
type Processor struct{}

// NewProcessor creates a consult processor.
func NewProcessor() *Processor {
	return &Processor{}
}

// Input contains all data needed for one consult.
type Input struct {
	ClinicID       string
	Recommendation *domain.Recommendation
	Overrides      domain.Overrides
	TraceID        string
	StartTime      time.Time
}

// Process runs the threshold engine and assembles the consult.
func (p *Processor) Process(ctx context.Context, input *Input) (*domain.Consult, error) {
	start := time.Now()

	res, err := threshold.Evaluate(input.Recommendation, input.Overrides)
	if err != nil {
		return nil, err
	}

	computeMs := time.Since(start).Milliseconds()
	totalMs := computeMs
	if !input.StartTime.IsZero() {
		totalMs = time.Since(input.StartTime).Milliseconds()
	}

	return &domain.Consult{
		ID:               uuid.New().String(),
		ClinicID:         input.ClinicID,
		RecommendationID: input.Recommendation.ID,
		Risk:             res.Risk,
		Overrides:        input.Overrides,
		Thresholds:       res.Thresholds,
		Decision:         res.Decision,
		Projection:       res.Projection,
		AshDecision:      input.Recommendation.AshDecision,
		Agrees:           res.Decision == input.Recommendation.AshDecision,
		Timestamp:        time.Now().UTC(),
		Metadata: domain.ConsultMetadata{
			TraceID:       input.TraceID,
			ComputeMs:     computeMs,
			TotalMs:       totalMs,
			EngineVersion: EngineVersion,
		},
	}, nil
}
