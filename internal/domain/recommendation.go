// Package domain defines the core interfaces and types for Thrombocalc.
package domain

// Group identifies a family of guideline recommendations. Groups are
// mutually exclusive; the R15-R20 family uses the inverse (hormonal)
// threshold model, all others use the standard model.
type Group string

const (
	// GroupSymptomaticVTE covers patients with symptomatic VTE deciding
	// whether to continue anticoagulation (low/high bleeding-risk variants).
	GroupSymptomaticVTE Group = "R1-R10"

	// GroupFamilyHistory covers asymptomatic patients with a family history
	// of VTE or a known familial thrombophilia.
	GroupFamilyHistory Group = "R11-R14"

	// GroupHormonal covers women considering combined oral contraceptives or
	// hormone replacement therapy. Treatment increases the modeled risk, so
	// the threshold ordering is inverted for this group.
	GroupHormonal Group = "R15-R20"

	// GroupPregnancy covers antepartum and postpartum thromboprophylaxis.
	GroupPregnancy Group = "R21-R23"
)

// IsHormonal reports whether the group uses the inverse threshold model.
func (g Group) IsHormonal() bool {
	return g == GroupHormonal
}

// BleedingRisk selects which harm rate applies for recommendations that
// carry low/high bleeding-risk variants.
type BleedingRisk string

const (
	BleedingRiskLow  BleedingRisk = "low"
	BleedingRiskHigh BleedingRisk = "high"
)

// Parameters holds the epidemiological inputs of a recommendation.
// JSON keys mirror the upstream guideline dataset.
type Parameters struct {
	// PVTE is the baseline probability of VTE (population weighted average).
	PVTE float64 `json:"pVTE"`

	// RV is the relative value weighting applied to the secondary harm term.
	RV float64 `json:"RV"`

	// Tp is the prevalence of a positive thrombophilia test.
	Tp float64 `json:"Tp"`

	// RRt is the relative risk between test-positive and test-negative
	// subgroups.
	RRt float64 `json:"RRt"`

	// RRrx is the relative risk of the primary event under treatment.
	// Below 1 for the standard family, above 1 for the hormonal family.
	RRrx float64 `json:"RRrx"`

	// RRbleed is the relative risk of bleeding under anticoagulation.
	// Standard family only.
	RRbleed float64 `json:"RRbleed,omitempty"`

	// HLow and HHigh are the harm rates under the low and high
	// bleeding-risk profiles. For the hormonal family both hold the harm
	// rate under treatment (Hrx).
	HLow  float64 `json:"H_low"`
	HHigh float64 `json:"H_high"`

	// HBenefit is the harm rate of foregoing treatment (Hnorx).
	// Hormonal family only.
	HBenefit float64 `json:"H_benefit,omitempty"`
}

// Recommendation is a single guideline scenario loaded from the static
// catalog. Records are immutable after load.
type Recommendation struct {
	ID          string `json:"id"`
	Group       Group  `json:"group"`
	Category    string `json:"category"`
	Description string `json:"description"`

	// AshRec is the guideline's own recommendation text.
	AshRec string `json:"ashRec"`

	// AshDecision is the guideline's classification (NoRx/Test/Rx). It is
	// used only for agreement comparison, never to drive computation.
	AshDecision Decision `json:"ashDecision"`

	// Decimals is the display precision for rendered percentages.
	Decimals int `json:"decimals"`

	HasBleedingRiskOption bool         `json:"hasBleedingRiskOption"`
	BleedingRisk          BleedingRisk `json:"bleedingRisk,omitempty"`

	// Keywords is the curated search keyword list for this record.
	Keywords []string `json:"keywords"`

	Params Parameters `json:"params"`
}

// Overrides carries caller-supplied edits to a recommendation's parameter
// set. Nil fields fall back to the catalog values. There is no process-wide
// "current selection": callers pass the recommendation and overrides
// explicitly on every engine call.
type Overrides struct {
	// Risk is the caller's risk estimate to classify. Defaults to the
	// recommendation's baseline pVTE.
	Risk *float64 `json:"risk,omitempty"`

	RV       *float64 `json:"rv,omitempty"`
	Tp       *float64 `json:"tp,omitempty"`
	RRt      *float64 `json:"rrT,omitempty"`
	RRrx     *float64 `json:"rrRx,omitempty"`
	RRbleed  *float64 `json:"rrBleed,omitempty"`
	H        *float64 `json:"h,omitempty"`
	HBenefit *float64 `json:"hBenefit,omitempty"`

	// BleedingRisk selects the low or high harm profile where the
	// recommendation offers one.
	BleedingRisk BleedingRisk `json:"bleedingRisk,omitempty"`
}
