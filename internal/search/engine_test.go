package search

import (
	"errors"
	"reflect"
	"testing"

	"github.com/clinical-go/thrombocalc/internal/catalog"
	"github.com/clinical-go/thrombocalc/internal/domain"
)

func loadCatalog(t *testing.T) []*domain.Recommendation {
	t.Helper()
	cat, err := catalog.Load()
	if err != nil {
		t.Fatalf("catalog load failed: %v", err)
	}
	return cat.All()
}

func TestExpandTerms(t *testing.T) {
	t.Run("drops short tokens", func(t *testing.T) {
		terms := expandTerms("is a dvt in my leg")
		for _, term := range terms {
			if term == "is" || term == "a" || term == "in" || term == "my" {
				t.Errorf("short token %q survived tokenization", term)
			}
		}
	})

	t.Run("longest phrase consumed first", func(t *testing.T) {
		terms := expandTerms("birth control pills")
		want := map[string]bool{
			"coc":                         true,
			"combined oral contraceptive": true,
			"contraception":               true,
			"estrogen":                    true,
		}
		got := map[string]bool{}
		for _, term := range terms {
			got[term] = true
		}
		for term := range want {
			if !got[term] {
				t.Errorf("expanded terms missing %q: %v", term, terms)
			}
		}
		// The three-word phrase consumed the text, so the standalone
		// "pill" entry must not have fired on the leftover word.
		if got["contraceptive"] {
			t.Errorf("shorter phrase matched after consumption: %v", terms)
		}
	})

	t.Run("lay vocabulary expands to clinical terms", func(t *testing.T) {
		terms := expandTerms("blood thinner after a blood clot")
		got := map[string]bool{}
		for _, term := range terms {
			got[term] = true
		}
		for _, want := range []string{"anticoagulant", "vte", "thrombosis"} {
			if !got[want] {
				t.Errorf("expanded terms missing %q: %v", want, terms)
			}
		}
	})
}

func TestMatchIntents(t *testing.T) {
	tests := []struct {
		query string
		want  Intent
	}{
		{"should she be tested for thrombophilia", IntentTesting},
		{"continue anticoagulation treatment", IntentTreatment},
		{"is the pill safe for her", IntentSafety},
		{"factor v leiden", IntentNone},
	}
	for _, tc := range tests {
		t.Run(tc.query, func(t *testing.T) {
			intent, _ := matchIntents(tc.query)
			if intent != tc.want {
				t.Errorf("intent = %q, want %q", intent, tc.want)
			}
		})
	}

	t.Run("all matching patterns contribute boosts", func(t *testing.T) {
		_, boosts := matchIntents("test before treatment")
		got := map[string]bool{}
		for _, b := range boosts {
			got[b] = true
		}
		if !got["testing"] || !got["treatment"] {
			t.Errorf("boosts = %v, want both testing and treatment terms", boosts)
		}
	})
}

func TestExtractConcepts(t *testing.T) {
	tests := []struct {
		query string
		want  Concepts
	}{
		{
			query: "woman on birth control with factor v leiden",
			want:  Concepts{Sex: "female", Intervention: "contraceptive", Condition: "factor v leiden"},
		},
		{
			query: "pregnant patient with protein s deficiency",
			want:  Concepts{Context: "pregnancy", Condition: "protein s"},
		},
		{
			query: "anticoagulation after surgery",
			want:  Concepts{Context: "surgery", Intervention: "anticoagulant"},
		},
		{
			query: "bleeding after delivery",
			want:  Concepts{Context: "postpartum"},
		},
	}
	for _, tc := range tests {
		t.Run(tc.query, func(t *testing.T) {
			if got := extractConcepts(tc.query); got != tc.want {
				t.Errorf("concepts = %+v, want %+v", got, tc.want)
			}
		})
	}
}

func TestSearchBirthControlPills(t *testing.T) {
	engine := New(loadCatalog(t))

	res, err := engine.Search("birth control pills")
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(res.Candidates) == 0 {
		t.Fatal("no candidates")
	}
	top := res.Candidates[0]
	if !top.Recommendation.Group.IsHormonal() {
		t.Errorf("top candidate %s is not in the contraceptive family", top.Recommendation.ID)
	}
	if res.Concepts.Intervention != "contraceptive" {
		t.Errorf("intervention concept = %q", res.Concepts.Intervention)
	}
}

func TestSearchByID(t *testing.T) {
	engine := New(loadCatalog(t))

	res, err := engine.Search("R15")
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	found := false
	for _, c := range res.Candidates {
		if c.Recommendation.ID == "R15" {
			found = true
		}
	}
	if !found {
		t.Error("searching an id did not surface that record")
	}
}

func TestSearchDeterministic(t *testing.T) {
	engine := New(loadCatalog(t))

	first, err := engine.Search("pregnant woman with factor v leiden")
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	for i := 0; i < 5; i++ {
		again, err := engine.Search("pregnant woman with factor v leiden")
		if err != nil {
			t.Fatalf("Search failed on run %d: %v", i, err)
		}
		if len(again.Candidates) != len(first.Candidates) {
			t.Fatalf("candidate count changed between runs")
		}
		for j := range again.Candidates {
			if again.Candidates[j].Recommendation.ID != first.Candidates[j].Recommendation.ID ||
				again.Candidates[j].Score != first.Candidates[j].Score {
				t.Fatalf("ranking changed between runs at position %d", j)
			}
		}
		if !reflect.DeepEqual(again.Terms, first.Terms) {
			t.Fatal("expanded terms changed between runs")
		}
	}
}

func TestSearchShortlistCap(t *testing.T) {
	engine := New(loadCatalog(t))

	// "thrombophilia testing" matches most of the catalog.
	res, err := engine.Search("thrombophilia testing")
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(res.Candidates) > MaxCandidates {
		t.Errorf("shortlist has %d candidates, cap is %d", len(res.Candidates), MaxCandidates)
	}
}

func TestSearchNoMatch(t *testing.T) {
	engine := New(loadCatalog(t))

	for _, query := range []string{"", "   ", "xylophone quartet zzz"} {
		if _, err := engine.Search(query); !errors.Is(err, domain.ErrNoMatch) {
			t.Errorf("Search(%q) error = %v, want ErrNoMatch", query, err)
		}
	}
}

func TestUnambiguousMatch(t *testing.T) {
	mk := func(id, desc string, keywords ...string) *domain.Recommendation {
		return &domain.Recommendation{
			ID:          id,
			Group:       domain.GroupFamilyHistory,
			Description: desc,
			Keywords:    keywords,
		}
	}

	t.Run("single candidate is the match", func(t *testing.T) {
		engine := New([]*domain.Recommendation{
			mk("S1", "antithrombin deficiency screening", "antithrombin"),
			mk("S2", "unrelated record", "unrelated"),
		})
		res, err := engine.Search("antithrombin")
		if err != nil {
			t.Fatalf("Search failed: %v", err)
		}
		if res.Match == nil || res.Match.Recommendation.ID != "S1" {
			t.Errorf("expected unambiguous S1 match, got %+v", res.Match)
		}
	})

	t.Run("dominant leader is the match", func(t *testing.T) {
		engine := New([]*domain.Recommendation{
			mk("S1", "antithrombin deficiency assay panel", "antithrombin", "assay"),
			mk("S2", "antithrombin mention only", "notes"),
		})
		res, err := engine.Search("antithrombin assay")
		if err != nil {
			t.Fatalf("Search failed: %v", err)
		}
		if len(res.Candidates) != 2 {
			t.Fatalf("got %d candidates, want 2", len(res.Candidates))
		}
		top, second := res.Candidates[0], res.Candidates[1]
		if float64(top.Score) < UnambiguousRatio*float64(second.Score) {
			t.Fatalf("fixture scores %d vs %d do not exercise the ratio rule", top.Score, second.Score)
		}
		if res.Match == nil || res.Match.Recommendation.ID != "S1" {
			t.Errorf("expected S1 as unambiguous match, got %+v", res.Match)
		}
	})

	t.Run("close scores return a shortlist", func(t *testing.T) {
		engine := New([]*domain.Recommendation{
			mk("S1", "protein c deficiency clinic", "protein c", "clinic"),
			mk("S2", "protein s deficiency clinic", "protein s", "clinic"),
		})
		res, err := engine.Search("protein deficiency clinic")
		if err != nil {
			t.Fatalf("Search failed: %v", err)
		}
		if res.Match != nil {
			t.Errorf("expected ambiguous shortlist, got match %s", res.Match.Recommendation.ID)
		}
		if len(res.Candidates) != 2 {
			t.Errorf("got %d candidates, want 2", len(res.Candidates))
		}
	})

	t.Run("ties break by id", func(t *testing.T) {
		engine := New([]*domain.Recommendation{
			mk("S2", "identical text", "identical"),
			mk("S1", "identical text", "identical"),
		})
		res, err := engine.Search("identical text")
		if err != nil {
			t.Fatalf("Search failed: %v", err)
		}
		if res.Candidates[0].Recommendation.ID != "S1" {
			t.Errorf("tie broke to %s, want S1", res.Candidates[0].Recommendation.ID)
		}
	})
}
