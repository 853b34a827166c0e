package domain

// EligibilityRule defines a site-configurable applicability rule. Rules are
// CEL expressions over the patient context; when a rule evaluates false, the
// recommendations it applies to are flagged as not applicable for that
// patient in search results.
type EligibilityRule struct {
	ID          string `json:"id"`
	ClinicID    string `json:"clinicId"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Version     string `json:"version"`

	// Expression is a CEL expression over the patient variables
	// (age, sex, pregnant, postpartum, prior_vte, family_history,
	// on_estrogen). It must return a bool.
	Expression string `json:"expression"`

	// AppliesTo lists recommendation groups or individual record IDs the
	// rule governs.
	AppliesTo []string `json:"appliesTo"`

	// Whether rule is active
	Enabled bool `json:"enabled"`
}

// EligibilityResult is the output of evaluating one rule.
type EligibilityResult struct {
	RuleID    string   `json:"ruleId"`
	ClinicID  string   `json:"clinicId"`
	AppliesTo []string `json:"appliesTo"`
	Eligible  bool     `json:"eligible"`
	Reason    string   `json:"reason,omitempty"`
	ProcessMs int64    `json:"processMs"`
}

// Covers reports whether the result governs the given recommendation.
func (r *EligibilityResult) Covers(rec *Recommendation) bool {
	for _, target := range r.AppliesTo {
		if target == rec.ID || target == string(rec.Group) {
			return true
		}
	}
	return false
}

// PatientContext holds the patient variables eligibility rules evaluate
// against.
type PatientContext struct {
	Age           int    `json:"age"`
	Sex           string `json:"sex"`
	Pregnant      bool   `json:"pregnant"`
	Postpartum    bool   `json:"postpartum"`
	PriorVTE      bool   `json:"priorVte"`
	FamilyHistory bool   `json:"familyHistory"`
	OnEstrogen    bool   `json:"onEstrogen"`
}
