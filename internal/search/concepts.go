package search

import (
	"regexp"

	"github.com/clinical-go/thrombocalc/internal/domain"
)

// Concepts are orthogonal flags extracted from the raw query. Each
// detector runs independently over the lower-cased query text.
type Concepts struct {
	Sex          string // "female", "male", or ""
	Context      string // "pregnancy", "postpartum", "surgery", or ""
	Intervention string // "contraceptive", "hormone", "anticoagulant", or ""
	Condition    string // thrombophilia subtype, or ""
}

var (
	reFemale     = regexp.MustCompile(`\b(?:woman|women|female|girl|she|her|mother)\b`)
	reMale       = regexp.MustCompile(`\b(?:man|men|male|boy|he|his|father)\b`)
	rePostpartum = regexp.MustCompile(`\b(?:postpartum|post-partum|after\s+(?:delivery|birth))\b`)
	rePregnancy  = regexp.MustCompile(`\b(?:pregnan\w*|peripartum|antepartum|obstetric\w*)\b`)
	reSurgery    = regexp.MustCompile(`\b(?:surg\w*|operat\w*|perioperative)\b`)

	reContraceptive = regexp.MustCompile(`\b(?:contracept\w*|coc|birth\s+control|pills?)\b`)
	reHormone       = regexp.MustCompile(`\b(?:hormon\w*|hrt|estrogen|menopaus\w*)\b`)
	reAnticoagulant = regexp.MustCompile(`\b(?:anticoagul\w*|blood\s+thinner|warfarin|heparin|doac|apixaban|rivaroxaban)\b`)
)

// conditionPattern detects a specific thrombophilia subtype and the
// term used to check catalog alignment.
type conditionPattern struct {
	name string
	re   *regexp.Regexp
}

var conditionPatterns = []conditionPattern{
	{"factor v leiden", regexp.MustCompile(`\b(?:factor\s+v|factor\s+five|leiden)\b`)},
	{"prothrombin", regexp.MustCompile(`\b(?:prothrombin|g20210a)\b`)},
	{"protein c", regexp.MustCompile(`\bprotein\s+c\b`)},
	{"protein s", regexp.MustCompile(`\bprotein\s+s\b`)},
	{"antithrombin", regexp.MustCompile(`\bantithrombin\b`)},
}

// extractConcepts runs every detector over the lower-cased query.
func extractConcepts(query string) Concepts {
	var c Concepts

	switch {
	case reFemale.MatchString(query):
		c.Sex = "female"
	case reMale.MatchString(query):
		c.Sex = "male"
	}

	// Postpartum is checked before pregnancy so "after delivery"
	// queries are not swallowed by the broader pregnancy pattern.
	switch {
	case rePostpartum.MatchString(query):
		c.Context = "postpartum"
	case rePregnancy.MatchString(query):
		c.Context = "pregnancy"
	case reSurgery.MatchString(query):
		c.Context = "surgery"
	}

	switch {
	case reContraceptive.MatchString(query):
		c.Intervention = "contraceptive"
	case reHormone.MatchString(query):
		c.Intervention = "hormone"
	case reAnticoagulant.MatchString(query):
		c.Intervention = "anticoagulant"
	}

	for _, cp := range conditionPatterns {
		if cp.re.MatchString(query) {
			c.Condition = cp.name
			break
		}
	}
	return c
}

// interventionAligns reports whether the detected intervention family
// matches the recommendation's family.
func interventionAligns(intervention string, rec *domain.Recommendation) bool {
	switch intervention {
	case "contraceptive", "hormone":
		return rec.Group.IsHormonal()
	case "anticoagulant":
		return !rec.Group.IsHormonal()
	default:
		return false
	}
}

var (
	blobPregnancy  = regexp.MustCompile(`pregnan|peripartum|antepartum`)
	blobPostpartum = regexp.MustCompile(`postpartum|post-partum`)
	blobSurgery    = regexp.MustCompile(`surg|operat|perioperative`)
)

// contextAligns reports whether the detected clinical context matches
// the recommendation's text or group.
func contextAligns(context string, rec *domain.Recommendation, blob string) bool {
	switch context {
	case "pregnancy":
		return rec.Group == domain.GroupPregnancy || blobPregnancy.MatchString(blob)
	case "postpartum":
		return rec.Group == domain.GroupPregnancy || blobPostpartum.MatchString(blob)
	case "surgery":
		return blobSurgery.MatchString(blob)
	default:
		return false
	}
}

// conditionAligns reports whether the detected thrombophilia subtype
// appears in the recommendation's text or keywords.
func conditionAligns(condition string, blob string, keys []string) bool {
	if condition == "" {
		return false
	}
	if containsSubstring(blob, condition) {
		return true
	}
	for _, k := range keys {
		if containsSubstring(k, condition) || containsSubstring(condition, k) {
			return true
		}
	}
	return false
}
