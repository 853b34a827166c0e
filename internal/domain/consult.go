package domain

import (
	"time"
)

// Consult is the recorded result of evaluating a recommendation for a risk
// estimate: the computed thresholds, the classified decision, and a
// projected-outcomes table. Consults are the service's audit trail.
type Consult struct {
	ID               string `json:"id"`
	ClinicID         string `json:"clinicId"`
	RecommendationID string `json:"recommendationId"`

	// Risk is the risk estimate that was classified.
	Risk float64 `json:"risk"`

	// Overrides echoes the caller-supplied parameter edits, if any.
	Overrides Overrides `json:"overrides,omitempty"`

	Thresholds Thresholds `json:"thresholds"`
	Decision   Decision   `json:"decision"`
	Projection Projection `json:"projection"`

	// AshDecision and Agrees record how the computed decision compares to
	// the guideline's own classification.
	AshDecision Decision `json:"ashDecision"`
	Agrees      bool     `json:"agrees"`

	Timestamp time.Time `json:"timestamp"`

	Metadata ConsultMetadata `json:"metadata"`
}

// ConsultMetadata contains processing information.
type ConsultMetadata struct {
	TraceID       string `json:"traceId"`
	ComputeMs     int64  `json:"computeMs"`
	TotalMs       int64  `json:"totalMs"`
	EngineVersion string `json:"engineVersion"`
}

// ConsultResponse is the API response for an evaluation request.
type ConsultResponse struct {
	ConsultID        string          `json:"consultId"`
	RecommendationID string          `json:"recommendationId"`
	Risk             float64         `json:"risk"`
	Thresholds       Thresholds      `json:"thresholds"`
	Decision         Decision        `json:"decision"`
	AshDecision      Decision        `json:"ashDecision"`
	Agrees           bool            `json:"agrees"`
	Projection       Projection      `json:"projection"`
	Metadata         ConsultMetadata `json:"metadata"`
}

// ToResponse converts a Consult to an API response.
func (c *Consult) ToResponse() *ConsultResponse {
	return &ConsultResponse{
		ConsultID:        c.ID,
		RecommendationID: c.RecommendationID,
		Risk:             c.Risk,
		Thresholds:       c.Thresholds,
		Decision:         c.Decision,
		AshDecision:      c.AshDecision,
		Agrees:           c.Agrees,
		Projection:       c.Projection,
		Metadata:         c.Metadata,
	}
}
