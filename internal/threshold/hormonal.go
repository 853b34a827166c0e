package threshold

import (
	"github.com/clinical-go/thrombocalc/internal/domain"
)

// Hormonal implements the contraceptive/hormone-therapy model. Here
// the intervention raises VTE risk (RRrx > 1), and withholding it
// carries its own harm HBenefit (unintended pregnancy, untreated
// menopausal symptoms). The decision ordering inverts: low VTE risk
// favors prescribing, high risk favors withholding, and the testing
// band sits between.
type Hormonal struct{}

// Name implements Model.
func (Hormonal) Name() string { return "hormonal" }

// Thresholds computes
//
//	basePt = RV * (HBenefit - H) / (RRrx - 1)
//	mult   = RRt*Tp + (1-Tp)
//	Prx    = basePt * mult / RRt   (treatment threshold, lower bound)
//	Ptt    = basePt * mult         (testing threshold, upper bound)
//
// with Prx < Ptt whenever RRt > 1.
func (Hormonal) Thresholds(in Inputs) (domain.Thresholds, error) {
	basePt := in.RV * (in.HBenefit - in.H) / (in.RRrx - 1)
	mult := testMultiplier(in)

	prx := basePt * mult / in.RRt
	ptt := basePt * mult

	if err := finite("treatmentThreshold", prx); err != nil {
		return domain.Thresholds{}, err
	}
	if err := finite("testingThreshold", ptt); err != nil {
		return domain.Thresholds{}, err
	}
	return domain.Thresholds{Testing: ptt, Treatment: prx}, nil
}

// Classify implements Model. Risks strictly below the treatment
// threshold warrant prescribing without testing; risks strictly above
// the testing threshold warrant withholding without testing.
func (Hormonal) Classify(risk float64, th domain.Thresholds) domain.Decision {
	switch {
	case risk < th.Treatment:
		return domain.DecisionTreatAll
	case risk > th.Testing:
		return domain.DecisionDoNotTreat
	default:
		return domain.DecisionTest
	}
}

// Project estimates VTE events and foregone-benefit harms per
// strategy. Under the test strategy negatives receive the hormone
// (VTE risk raised by RRrx, harm H) and positives are denied it
// (baseline VTE risk, harm HBenefit).
func (Hormonal) Project(in Inputs, population int) (domain.Projection, error) {
	n := float64(population)
	mult := testMultiplier(in)

	pNeg := in.PVTE / mult
	pPos := pNeg * in.RRt
	nPos := n * in.Tp
	nNeg := n * (1 - in.Tp)

	proj := domain.Projection{
		PopulationSize: population,
		TreatAll: domain.StrategyOutcome{
			PrimaryEvents:  n * in.PVTE * in.RRrx,
			SecondaryHarms: n * in.H,
		},
		DoNotTreat: domain.StrategyOutcome{
			PrimaryEvents:  n * in.PVTE,
			SecondaryHarms: n * in.HBenefit,
		},
		Test: domain.StrategyOutcome{
			PrimaryEvents:  nNeg*pNeg*in.RRrx + nPos*pPos,
			SecondaryHarms: nNeg*in.H + nPos*in.HBenefit,
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
