package search

import "regexp"

// Intent labels what the clinician appears to be asking about.
type Intent string

const (
	IntentTesting   Intent = "testing"
	IntentTreatment Intent = "treatment"
	IntentSafety    Intent = "safety"
	IntentNone      Intent = ""
)

// intentPattern tags a query with an intent and contributes boost
// terms to the expanded term set. The list is ordered: the first
// matching pattern assigns the intent, but every matching pattern
// contributes its boost terms.
type intentPattern struct {
	intent Intent
	re     *regexp.Regexp
	boosts []string
}

var intentPatterns = []intentPattern{
	{
		intent: IntentTesting,
		re:     regexp.MustCompile(`\b(?:test(?:ing|ed)?|screen(?:ing|ed)?|work\s?up|should\s+\w+\s+be\s+tested)\b`),
		boosts: []string{"testing", "thrombophilia"},
	},
	{
		intent: IntentTreatment,
		re:     regexp.MustCompile(`\b(?:treat(?:ment|ed|ing)?|anticoagul\w*|prophylaxis|thromboprophylaxis)\b`),
		boosts: []string{"treatment", "anticoagulation"},
	},
	{
		intent: IntentSafety,
		re:     regexp.MustCompile(`\b(?:safe(?:ty|ly)?|risk[sy]?|danger(?:ous)?|caution)\b`),
		boosts: []string{"risk"},
	},
}
