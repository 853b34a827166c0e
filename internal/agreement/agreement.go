// Package agreement compares the expected-utility decision computed at
// each record's baseline parameters against the published guideline
// decision, per group and overall. The guideline decision never drives
// computation; it exists only for this comparison.
package agreement

import (
	"sort"

	"github.com/clinical-go/thrombocalc/internal/catalog"
	"github.com/clinical-go/thrombocalc/internal/domain"
	"github.com/clinical-go/thrombocalc/internal/threshold"
)

// GroupStats summarizes agreement within one recommendation group.
type GroupStats struct {
	Group domain.Group `json:"group"`
	Total int          `json:"total"`
	Agree int          `json:"agree"`
	Rate  float64      `json:"rate"`
}

// Disagreement records one record where the computed decision departs
// from the guideline.
type Disagreement struct {
	RecommendationID string          `json:"recommendationId"`
	Guideline        domain.Decision `json:"guideline"`
	Computed         domain.Decision `json:"computed"`
}

// Report is the full agreement summary over a catalog.
type Report struct {
	Total int     `json:"total"`
	Agree int     `json:"agree"`
	Rate  float64 `json:"rate"`

	Groups []GroupStats `json:"groups"`

	// Confusion counts computed decisions per guideline decision.
	Confusion map[domain.Decision]map[domain.Decision]int `json:"confusion"`

	Disagreements []Disagreement `json:"disagreements"`
}

// Build evaluates every catalog record at its baseline parameters and
// tallies agreement with the guideline decisions.
func Build(cat *catalog.Catalog) (*Report, error) {
	report := &Report{
		Confusion: map[domain.Decision]map[domain.Decision]int{},
	}
	byGroup := map[domain.Group]*GroupStats{}

	for _, rec := range cat.All() {
		res, err := threshold.Evaluate(rec, domain.Overrides{})
		if err != nil {
			return nil, err
		}

		gs := byGroup[rec.Group]
		if gs == nil {
			gs = &GroupStats{Group: rec.Group}
			byGroup[rec.Group] = gs
		}

		report.Total++
		gs.Total++
		if report.Confusion[rec.AshDecision] == nil {
			report.Confusion[rec.AshDecision] = map[domain.Decision]int{}
		}
		report.Confusion[rec.AshDecision][res.Decision]++

		if res.Decision == rec.AshDecision {
			report.Agree++
			gs.Agree++
		} else {
			report.Disagreements = append(report.Disagreements, Disagreement{
				RecommendationID: rec.ID,
				Guideline:        rec.AshDecision,
				Computed:         res.Decision,
			})
		}
	}

	if report.Total > 0 {
		report.Rate = float64(report.Agree) / float64(report.Total)
	}
	for _, gs := range byGroup {
		if gs.Total > 0 {
			gs.Rate = float64(gs.Agree) / float64(gs.Total)
		}
		report.Groups = append(report.Groups, *gs)
	}
	sort.Slice(report.Groups, func(i, j int) bool {
		return report.Groups[i].Group < report.Groups[j].Group
	})
	sort.Slice(report.Disagreements, func(i, j int) bool {
		return report.Disagreements[i].RecommendationID < report.Disagreements[j].RecommendationID
	})

	return report, nil
}
