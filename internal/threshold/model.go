// Package threshold computes testing and treatment thresholds for
// thrombophilia recommendations using expected-utility decision analysis.
//
// Two model families exist. The standard family covers anticoagulation
// decisions (treatment reduces VTE risk, RRrx < 1, harm is bleeding).
// The hormonal family covers contraceptive/hormone-therapy decisions
// (treatment raises VTE risk, RRrx > 1, harm of withholding is the loss
// of the hormone's benefit), which inverts the decision ordering.
package threshold

import (
	"fmt"
	"math"

	"github.com/clinical-go/thrombocalc/internal/domain"
)

// Inputs holds fully resolved model parameters for a single evaluation.
// H is the effective secondary-harm rate after bleeding-risk selection
// and overrides; HBenefit applies to the hormonal family only.
type Inputs struct {
	PVTE     float64
	RV       float64
	Tp       float64
	RRt      float64
	RRrx     float64
	RRbleed  float64
	H        float64
	HBenefit float64
}

// Model computes thresholds, classifies a risk estimate against them,
// and projects strategy outcomes over a population.
type Model interface {
	// Name identifies the model family.
	Name() string

	// Thresholds computes the testing and treatment thresholds.
	Thresholds(in Inputs) (domain.Thresholds, error)

	// Classify maps a VTE risk estimate to a decision given thresholds.
	// The Test band is inclusive on both boundaries.
	Classify(risk float64, th domain.Thresholds) domain.Decision

	// Project estimates primary events and secondary harms per strategy
	// for a population of the given size.
	Project(in Inputs, population int) (domain.Projection, error)
}

// ModelFor returns the model bound to a recommendation group.
func ModelFor(group domain.Group) Model {
	if group.IsHormonal() {
		return Hormonal{}
	}
	return Standard{}
}

// Result is the complete output of a single evaluation.
type Result struct {
	Inputs     Inputs            `json:"inputs"`
	Risk       float64           `json:"risk"`
	Model      string            `json:"model"`
	Thresholds domain.Thresholds `json:"thresholds"`
	Decision   domain.Decision   `json:"decision"`
	Projection domain.Projection `json:"projection"`
}

// Validate checks a recommendation's stored parameters at catalog load.
// A recommendation that cannot produce finite thresholds is a
// configuration defect, not a runtime input error.
func Validate(rec *domain.Recommendation) error {
	if rec.Params.RRrx == 1 {
		return &domain.ConfigurationError{
			RecommendationID: rec.ID,
			Reason:           "RRrx must not equal 1 (threshold denominator vanishes)",
		}
	}
	if rec.Group.IsHormonal() && rec.Params.RRrx < 1 {
		return &domain.ConfigurationError{
			RecommendationID: rec.ID,
			Reason:           fmt.Sprintf("hormonal group requires RRrx > 1, got %g", rec.Params.RRrx),
		}
	}
	if !rec.Group.IsHormonal() && rec.Params.RRrx > 1 {
		return &domain.ConfigurationError{
			RecommendationID: rec.ID,
			Reason:           fmt.Sprintf("standard group requires RRrx < 1, got %g", rec.Params.RRrx),
		}
	}
	in, _, err := Resolve(rec, domain.Overrides{})
	if err != nil {
		return &domain.ConfigurationError{
			RecommendationID: rec.ID,
			Reason:           fmt.Sprintf("stored parameters invalid: %v", err),
		}
	}
	model := ModelFor(rec.Group)
	if _, err := model.Thresholds(in); err != nil {
		return &domain.ConfigurationError{
			RecommendationID: rec.ID,
			Reason:           fmt.Sprintf("thresholds not computable: %v", err),
		}
	}
	return nil
}

// Resolve merges a recommendation's stored parameters with caller
// overrides and returns validated inputs plus the risk estimate.
// The risk defaults to the record's baseline pVTE.
func Resolve(rec *domain.Recommendation, ov domain.Overrides) (Inputs, float64, error) {
	p := rec.Params

	in := Inputs{
		PVTE:     p.PVTE,
		RV:       p.RV,
		Tp:       p.Tp,
		RRt:      p.RRt,
		RRrx:     p.RRrx,
		RRbleed:  p.RRbleed,
		HBenefit: p.HBenefit,
	}

	// Effective harm rate: bleeding-risk profile selects between the
	// low and high stored rates; an explicit H override wins.
	bleedRisk := rec.BleedingRisk
	if ov.BleedingRisk != "" {
		if !rec.HasBleedingRiskOption {
			return Inputs{}, 0, &domain.InvalidParameterError{
				Param:  "bleedingRisk",
				Value:  0,
				Reason: fmt.Sprintf("recommendation %s has no bleeding-risk option", rec.ID),
			}
		}
		bleedRisk = ov.BleedingRisk
	}
	switch bleedRisk {
	case domain.BleedingRiskHigh:
		in.H = p.HHigh
	default:
		in.H = p.HLow
	}

	if ov.RV != nil {
		in.RV = *ov.RV
	}
	if ov.Tp != nil {
		in.Tp = *ov.Tp
	}
	if ov.RRt != nil {
		in.RRt = *ov.RRt
	}
	if ov.RRrx != nil {
		in.RRrx = *ov.RRrx
	}
	if ov.RRbleed != nil {
		in.RRbleed = *ov.RRbleed
	}
	if ov.H != nil {
		in.H = *ov.H
	}
	if ov.HBenefit != nil {
		in.HBenefit = *ov.HBenefit
	}

	risk := in.PVTE
	if ov.Risk != nil {
		risk = *ov.Risk
	}

	if err := validateInputs(in, risk); err != nil {
		return Inputs{}, 0, err
	}
	return in, risk, nil
}

func validateInputs(in Inputs, risk float64) error {
	checks := []struct {
		name  string
		value float64
		ok    bool
	}{
		{"pVTE", in.PVTE, in.PVTE >= 0 && in.PVTE <= 1},
		{"risk", risk, risk >= 0 && risk <= 1},
		{"Tp", in.Tp, in.Tp >= 0 && in.Tp <= 1},
		{"RV", in.RV, in.RV > 0},
		{"RRt", in.RRt, in.RRt > 0},
		{"RRrx", in.RRrx, in.RRrx > 0 && in.RRrx != 1},
		{"RRbleed", in.RRbleed, in.RRbleed >= 0},
		{"H", in.H, in.H >= 0},
		{"HBenefit", in.HBenefit, in.HBenefit >= 0},
	}
	for _, c := range checks {
		if math.IsNaN(c.value) || math.IsInf(c.value, 0) {
			return &domain.InvalidParameterError{Param: c.name, Value: c.value, Reason: "must be finite"}
		}
		if !c.ok {
			return &domain.InvalidParameterError{Param: c.name, Value: c.value, Reason: "out of valid range"}
		}
	}
	return nil
}

// Evaluate runs the full pipeline for one recommendation: resolve
// overrides, compute thresholds, classify the risk estimate, and
// project outcomes over the default population.
func Evaluate(rec *domain.Recommendation, ov domain.Overrides) (*Result, error) {
	in, risk, err := Resolve(rec, ov)
	if err != nil {
		return nil, err
	}
	model := ModelFor(rec.Group)

	th, err := model.Thresholds(in)
	if err != nil {
		return nil, err
	}
	proj, err := model.Project(in, domain.DefaultPopulation)
	if err != nil {
		return nil, err
	}

	return &Result{
		Inputs:     in,
		Risk:       risk,
		Model:      model.Name(),
		Thresholds: th,
		Decision:   model.Classify(risk, th),
		Projection: proj,
	}, nil
}

// finite rejects NaN and infinite threshold results before they can
// escape to callers.
func finite(name string, v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return &domain.InvalidParameterError{Param: name, Value: v, Reason: "computation produced a non-finite value"}
	}
	return nil
}

// testMultiplier is the prevalence-weighted relative-risk factor
// shared by both families: RRt*Tp + (1-Tp).
func testMultiplier(in Inputs) float64 {
	return in.RRt*in.Tp + (1 - in.Tp)
}
