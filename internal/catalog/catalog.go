// Package catalog loads and serves the embedded recommendation catalog.
// The catalog is parsed and validated once at startup and is read-only
// for the process lifetime.
package catalog

import (
	"embed"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/clinical-go/thrombocalc/internal/domain"
	"github.com/clinical-go/thrombocalc/internal/threshold"
)

//go:embed data/recommendations.json
var dataFS embed.FS

// Catalog is the validated, immutable set of recommendations.
type Catalog struct {
	records []*domain.Recommendation
	byID    map[string]*domain.Recommendation
}

// Load parses and validates the embedded catalog. Any record whose
// stored parameters cannot produce finite thresholds fails the load.
func Load() (*Catalog, error) {
	raw, err := dataFS.ReadFile("data/recommendations.json")
	if err != nil {
		return nil, fmt.Errorf("read embedded catalog: %w", err)
	}
	return Parse(raw)
}

// Parse builds a catalog from raw JSON. Exposed for tests that need
// synthetic catalogs.
func Parse(raw []byte) (*Catalog, error) {
	var records []*domain.Recommendation
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("catalog is empty")
	}

	byID := make(map[string]*domain.Recommendation, len(records))
	for _, rec := range records {
		if rec.ID == "" {
			return nil, fmt.Errorf("catalog record with empty id")
		}
		if _, dup := byID[rec.ID]; dup {
			return nil, fmt.Errorf("duplicate catalog id %q", rec.ID)
		}
		if err := threshold.Validate(rec); err != nil {
			return nil, fmt.Errorf("catalog record %s: %w", rec.ID, err)
		}
		byID[rec.ID] = rec
	}

	return &Catalog{records: records, byID: byID}, nil
}

// ByID returns the recommendation with the given id, or nil.
func (c *Catalog) ByID(id string) *domain.Recommendation {
	return c.byID[id]
}

// All returns every recommendation in catalog order. Callers must not
// mutate the returned records.
func (c *Catalog) All() []*domain.Recommendation {
	out := make([]*domain.Recommendation, len(c.records))
	copy(out, c.records)
	return out
}

// ByGroup returns the recommendations in a group, sorted by id.
func (c *Catalog) ByGroup(group domain.Group) []*domain.Recommendation {
	var out []*domain.Recommendation
	for _, rec := range c.records {
		if rec.Group == group {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len returns the number of records.
func (c *Catalog) Len() int {
	return len(c.records)
}
