package threshold

import (
	"github.com/clinical-go/thrombocalc/internal/domain"
)

// Standard implements the anticoagulation model: treatment lowers VTE
// risk (RRrx < 1) at the cost of bleeding (H raised by RRbleed). The
// treatment threshold is the risk above which treating everyone beats
// testing; the testing threshold is the risk below which doing nothing
// beats testing.
type Standard struct{}

// Name implements Model.
func (Standard) Name() string { return "standard" }

// Thresholds computes
//
//	Pt  = RV * (RRbleed - 1) * H / (1 - RRrx)
//	Ptt = ((RRt*Tp + (1-Tp)) / RRt) * Pt
//
// with Ptt < Pt whenever RRt > 1.
func (Standard) Thresholds(in Inputs) (domain.Thresholds, error) {
	pt := in.RV * (in.RRbleed - 1) * in.H / (1 - in.RRrx)
	ptt := (testMultiplier(in) / in.RRt) * pt

	if err := finite("treatmentThreshold", pt); err != nil {
		return domain.Thresholds{}, err
	}
	if err := finite("testingThreshold", ptt); err != nil {
		return domain.Thresholds{}, err
	}
	return domain.Thresholds{Testing: ptt, Treatment: pt}, nil
}

// Classify implements Model. Risks strictly below the testing
// threshold need no treatment; risks strictly above the treatment
// threshold warrant treating without testing.
func (Standard) Classify(risk float64, th domain.Thresholds) domain.Decision {
	switch {
	case risk < th.Testing:
		return domain.DecisionDoNotTreat
	case risk > th.Treatment:
		return domain.DecisionTreatAll
	default:
		return domain.DecisionTest
	}
}

// Project estimates VTE events and major bleeds per strategy. The
// tested cohort splits into Tp positives (treated, bleeding raised by
// RRbleed) and 1-Tp negatives (untreated, background bleed rate), with
// subgroup VTE risks back-derived from the population baseline.
func (Standard) Project(in Inputs, population int) (domain.Projection, error) {
	n := float64(population)
	mult := testMultiplier(in)

	pNeg := in.PVTE / mult
	pPos := pNeg * in.RRt
	nPos := n * in.Tp
	nNeg := n * (1 - in.Tp)

	proj := domain.Projection{
		PopulationSize: population,
		DoNotTreat: domain.StrategyOutcome{
			PrimaryEvents:  n * in.PVTE,
			SecondaryHarms: n * in.H,
		},
		TreatAll: domain.StrategyOutcome{
			PrimaryEvents:  n * in.PVTE * in.RRrx,
			SecondaryHarms: n * in.H * in.RRbleed,
		},
		Test: domain.StrategyOutcome{
			PrimaryEvents:  nPos*pPos*in.RRrx + nNeg*pNeg,
			SecondaryHarms: nPos*in.H*in.RRbleed + nNeg*in.H,
		},
	}

	for _, v := range []float64{
		proj.DoNotTreat.PrimaryEvents, proj.TreatAll.PrimaryEvents, proj.Test.PrimaryEvents,
		proj.DoNotTreat.SecondaryHarms, proj.TreatAll.SecondaryHarms, proj.Test.SecondaryHarms,
	} {
		if err := finite("projection", v); err != nil {
			return domain.Projection{}, err
		}
	}
	return proj, nil
}
