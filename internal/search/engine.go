// Package search maps free-text clinical queries to catalog
// recommendations with a deterministic additive scoring heuristic.
// There is no statistical ranking: the observable contract is the
// exact arithmetic of the scoring constants and the 1.5x
// disambiguation ratio.
package search

import (
	"sort"
	"strings"

	"github.com/clinical-go/thrombocalc/internal/domain"
)

// Scoring constants. Their exact values are part of the observable
// contract: changing one changes what ranks first.
const (
	ScoreTermInBlob   = 2  // expanded term found in description/guideline/category text
	ScoreKeywordMatch = 3  // curated keyword substring-matches a term, either direction
	ScoreIDMatch      = 5  // recommendation id matches a term
	ScoreIntervention = 10 // detected intervention family aligns with record family
	ScoreContext      = 8  // detected clinical context aligns with record
	ScoreCondition    = 5  // detected thrombophilia subtype aligns with record

	// MaxCandidates caps the ranked shortlist.
	MaxCandidates = 8

	// UnambiguousRatio is the top-vs-runner-up score ratio above which
	// the engine treats the leader as the single match. Exported so the
	// API's cached-result path applies the same tie-break.
	UnambiguousRatio = 1.5

	minTokenLen = 3
)

// Candidate is one scored catalog match.
type Candidate struct {
	Recommendation *domain.Recommendation `json:"recommendation"`
	Score          int                    `json:"score"`
}

// Result is the outcome of a search.
type Result struct {
	// Match is non-nil when the query resolved unambiguously.
	Match *Candidate `json:"match,omitempty"`

	// Candidates is the ranked shortlist (includes Match when set).
	Candidates []Candidate `json:"candidates"`

	// Intent is the detected query intent, if any.
	Intent Intent `json:"intent,omitempty"`

	// Concepts are the orthogonal flags extracted from the query.
	Concepts Concepts `json:"concepts"`

	// Terms is the expanded term set, kept for explainability.
	Terms []string `json:"terms"`
}

// indexed is a recommendation with its precomputed search surfaces.
type indexed struct {
	rec  *domain.Recommendation
	blob string   // lower-cased description + guideline text + category
	keys []string // lower-cased curated keywords
	id   string   // lower-cased id
}

// Engine scores queries against a fixed catalog. Construction
// precomputes every record's text blob and keyword set; the engine is
// immutable afterwards and safe for concurrent use.
type Engine struct {
	index []indexed
}

// New builds an engine over the given records.
func New(records []*domain.Recommendation) *Engine {
	idx := make([]indexed, 0, len(records))
	for _, rec := range records {
		keys := make([]string, len(rec.Keywords))
		for i, k := range rec.Keywords {
			keys[i] = strings.ToLower(k)
		}
		idx = append(idx, indexed{
			rec:  rec,
			blob: strings.ToLower(rec.Description + " " + rec.AshRec + " " + rec.Category),
			keys: keys,
			id:   strings.ToLower(rec.ID),
		})
	}
	return &Engine{index: idx}
}

// Search runs the full pipeline: tokenize, expand synonyms, match
// intents, extract concepts, score, rank. A query matching nothing
// returns domain.ErrNoMatch.
func (e *Engine) Search(query string) (*Result, error) {
	lowered := strings.ToLower(strings.TrimSpace(query))
	if lowered == "" {
		return nil, domain.ErrNoMatch
	}

	terms := expandTerms(lowered)
	intent, boosts := matchIntents(lowered)
	terms = union(terms, boosts)
	concepts := extractConcepts(lowered)

	candidates := e.score(terms, concepts)
	if len(candidates) == 0 {
		return nil, domain.ErrNoMatch
	}

	res := &Result{
		Candidates: candidates,
		Intent:     intent,
		Concepts:   concepts,
		Terms:      terms,
	}
	if len(candidates) == 1 ||
		float64(candidates[0].Score) >= UnambiguousRatio*float64(candidates[1].Score) {
		res.Match = &candidates[0]
	}
	return res, nil
}

// expandTerms tokenizes the query and unions in synonym expansions.
// Matched phrases are consumed from a working copy so multi-word
// phrases take priority over the single words they contain.
func expandTerms(lowered string) []string {
	seen := map[string]bool{}
	var terms []string
	add := func(t string) {
		if !seen[t] {
			seen[t] = true
			terms = append(terms, t)
		}
	}

	for _, tok := range strings.Fields(lowered) {
		if len(tok) >= minTokenLen {
			add(tok)
		}
	}

	working := lowered
	for _, entry := range synonymTable {
		if strings.Contains(working, entry.phrase) {
			working = strings.ReplaceAll(working, entry.phrase, " ")
			for _, t := range entry.terms {
				add(t)
			}
		}
	}
	return terms
}

// matchIntents returns the first matching pattern's intent and the
// boost terms of every matching pattern.
func matchIntents(lowered string) (Intent, []string) {
	intent := IntentNone
	var boosts []string
	for _, p := range intentPatterns {
		if p.re.MatchString(lowered) {
			if intent == IntentNone {
				intent = p.intent
			}
			boosts = append(boosts, p.boosts...)
		}
	}
	return intent, boosts
}

func (e *Engine) score(terms []string, concepts Concepts) []Candidate {
	var out []Candidate
	for i := range e.index {
		ix := &e.index[i]
		score := 0

		idMatched := false
		for _, term := range terms {
			if containsSubstring(ix.blob, term) {
				score += ScoreTermInBlob
			}
			if !idMatched && (containsSubstring(ix.id, term) || containsSubstring(term, ix.id)) {
				score += ScoreIDMatch
				idMatched = true
			}
		}
		for _, key := range ix.keys {
			for _, term := range terms {
				if containsSubstring(key, term) || containsSubstring(term, key) {
					score += ScoreKeywordMatch
					break
				}
			}
		}

		if interventionAligns(concepts.Intervention, ix.rec) {
			score += ScoreIntervention
		}
		if contextAligns(concepts.Context, ix.rec, ix.blob) {
			score += ScoreContext
		}
		if conditionAligns(concepts.Condition, ix.blob, ix.keys) {
			score += ScoreCondition
		}

		if score > 0 {
			out = append(out, Candidate{Recommendation: ix.rec, Score: score})
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Recommendation.ID < out[j].Recommendation.ID
	})
	if len(out) > MaxCandidates {
		out = out[:MaxCandidates]
	}
	return out
}

func containsSubstring(haystack, needle string) bool {
	return needle != "" && strings.Contains(haystack, needle)
}

func union(terms, extra []string) []string {
	seen := make(map[string]bool, len(terms))
	for _, t := range terms {
		seen[t] = true
	}
	for _, t := range extra {
		if !seen[t] {
			seen[t] = true
			terms = append(terms, t)
		}
	}
	return terms
}
