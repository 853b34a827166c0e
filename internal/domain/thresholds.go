package domain

// Decision is the three-way classification of a risk estimate against the
// computed thresholds. The string values mirror the upstream guideline
// dataset. Note the clinical meaning inverts between families: in the
// hormonal family Rx means "use the hormone without testing" and NoRx means
// "avoid it", while the representation stays the same.
type Decision string

const (
	// DecisionDoNotTreat: risk below the testing threshold (standard) or
	// above it (hormonal); neither testing nor treatment is warranted.
	DecisionDoNotTreat Decision = "NoRx"

	// DecisionTest: risk falls between the two thresholds; test and let the
	// result direct treatment.
	DecisionTest Decision = "Test"

	// DecisionTreatAll: treatment is warranted without testing.
	DecisionTreatAll Decision = "Rx"
)

// Thresholds is the pair of probability cut-points partitioning the decision
// space. Recomputed on every parameter change, never cached.
type Thresholds struct {
	// Testing is the threshold below which (standard family) testing adds
	// no value. Hormonal family: the threshold above it.
	Testing float64 `json:"testingThreshold"`

	// Treatment is the threshold beyond which treating everyone dominates
	// testing.
	Treatment float64 `json:"treatmentThreshold"`
}

// DefaultPopulation is the hypothetical cohort size used for outcome
// projections.
const DefaultPopulation = 1000

// StrategyOutcome is the expected event counts for one management strategy
// applied to a projected cohort.
type StrategyOutcome struct {
	// PrimaryEvents is the expected number of VTE events.
	PrimaryEvents float64 `json:"primaryEvents"`

	// SecondaryHarms is the expected count of the secondary harm: major
	// bleeds for the standard family, foregone-treatment harms (unwanted
	// pregnancies, menopausal symptoms) for the hormonal family.
	SecondaryHarms float64 `json:"secondaryHarms"`
}

// Projection is the expected-outcome table for a cohort under each of the
// three strategies.
type Projection struct {
	PopulationSize int             `json:"populationSize"`
	DoNotTreat     StrategyOutcome `json:"doNotTreat"`
	Test           StrategyOutcome `json:"test"`
	TreatAll       StrategyOutcome `json:"treatAll"`
}
