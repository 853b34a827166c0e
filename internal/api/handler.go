package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/clinical-go/thrombocalc/internal/agreement"
	"github.com/clinical-go/thrombocalc/internal/catalog"
	"github.com/clinical-go/thrombocalc/internal/consult"
	"github.com/clinical-go/thrombocalc/internal/domain"
	"github.com/clinical-go/thrombocalc/internal/eligibility"
	"github.com/clinical-go/thrombocalc/internal/search"
)

// GlobalClinicID is used for eligibility rules that apply to all clinics.
const GlobalClinicID = "*"

// Handler holds dependencies for API handlers.
type Handler struct {
	repo       domain.Repository
	cache      domain.Cache
	bus        domain.EventBus
	catalog    *catalog.Catalog
	search     *search.Engine
	eligEngine *eligibility.Engine
	processor  *consult.Processor
	version    string

	agreementOnce sync.Once
	agreementRep  *agreement.Report
	agreementErr  error
}

// NewHandler creates a new API handler.
func NewHandler(repo domain.Repository, cache domain.Cache, bus domain.EventBus, cat *catalog.Catalog, searchEngine *search.Engine, eligEngine *eligibility.Engine, processor *consult.Processor, version string) *Handler {
	return &Handler{
		repo:       repo,
		cache:      cache,
		bus:        bus,
		catalog:    cat,
		search:     searchEngine,
		eligEngine: eligEngine,
		processor:  processor,
		version:    version,
	}
}

// SearchRequest is the request body for POST /search.
type SearchRequest struct {
	Query string `json:"query"`

	// Patient, when provided, is evaluated against the loaded
	// eligibility rules and inapplicable candidates are flagged.
	Patient *domain.PatientContext `json:"patient,omitempty"`
}

// SearchResponse is the response for POST /search.
type SearchResponse struct {
	*search.Result

	// NotApplicable lists candidate recommendation IDs an eligibility
	// rule excluded for the supplied patient.
	NotApplicable []string `json:"notApplicable,omitempty"`

	Cached bool `json:"cached"`
}

// Search handles POST /search requests.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	clinicID := GetClinicID(ctx)

	var req SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	query := strings.TrimSpace(strings.ToLower(req.Query))
	if query == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "query is required",
		})
		return
	}

	result, cached := h.cachedSearch(r, clinicID, query)
	if result == nil {
		var err error
		result, err = h.search.Search(query)
		if err != nil {
			if errors.Is(err, domain.ErrNoMatch) {
				writeJSON(w, http.StatusNotFound, map[string]string{
					"error": "no matching recommendations",
				})
				return
			}
			slog.Error("search failed", "query", query, "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "search failed",
			})
			return
		}

		if h.cache != nil {
			hits := make([]domain.SearchHit, len(result.Candidates))
			for i, c := range result.Candidates {
				hits[i] = domain.SearchHit{
					RecommendationID: c.Recommendation.ID,
					Score:            c.Score,
				}
			}
			if err := h.cache.SetSearch(ctx, clinicID, query, hits, 5*time.Minute); err != nil {
				slog.Warn("failed to cache search result", "error", err)
			}
		}
	}

	resp := SearchResponse{Result: result, Cached: cached}

	if req.Patient != nil && h.eligEngine != nil && h.eligEngine.RulesCount() > 0 {
		resp.NotApplicable = h.inapplicable(r, clinicID, req.Patient, result)
	}

	if h.bus != nil {
		payload, _ := json.Marshal(map[string]any{
			"query":      query,
			"candidates": len(result.Candidates),
		})
		if err := h.bus.Publish(ctx, clinicID, domain.TopicSearchPerformed, payload); err != nil {
			slog.Warn("failed to publish search event", "error", err)
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// cachedSearch reconstructs a prior result for this query, if one is
// cached for the clinic.
func (h *Handler) cachedSearch(r *http.Request, clinicID, query string) (*search.Result, bool) {
	if h.cache == nil {
		return nil, false
	}

	hits, err := h.cache.GetSearch(r.Context(), clinicID, query)
	if err != nil || hits == nil {
		return nil, false
	}

	result := &search.Result{Candidates: make([]search.Candidate, 0, len(hits))}
	for _, hit := range hits {
		rec := h.catalog.ByID(hit.RecommendationID)
		if rec == nil {
			return nil, false
		}
		result.Candidates = append(result.Candidates, search.Candidate{
			Recommendation: rec,
			Score:          hit.Score,
		})
	}
	if len(result.Candidates) == 0 {
		return nil, false
	}

	// Re-derive the unambiguous-match flag from the cached scores.
	if len(result.Candidates) == 1 ||
		float64(result.Candidates[0].Score) >= search.UnambiguousRatio*float64(result.Candidates[1].Score) {
		result.Match = &result.Candidates[0]
	}

	return result, true
}

// inapplicable evaluates eligibility rules for the patient and returns the
// candidate IDs excluded by a failing rule.
func (h *Handler) inapplicable(r *http.Request, clinicID string, patient *domain.PatientContext, result *search.Result) []string {
	results, err := h.eligEngine.EvaluateAll(r.Context(), clinicID, patient)
	if err != nil {
		slog.Error("eligibility evaluation failed", "error", err)
		return nil
	}

	var excluded []string
	for _, c := range result.Candidates {
		for i := range results {
			if !results[i].Eligible && results[i].Covers(c.Recommendation) {
				excluded = append(excluded, c.Recommendation.ID)
				break
			}
		}
	}
	return excluded
}

// ListRecommendations handles GET /recommendations, optionally filtered by
// ?group=.
func (h *Handler) ListRecommendations(w http.ResponseWriter, r *http.Request) {
	var recs []*domain.Recommendation

	if group := r.URL.Query().Get("group"); group != "" {
		recs = h.catalog.ByGroup(domain.Group(group))
		if len(recs) == 0 {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "unknown group",
			})
			return
		}
	} else {
		recs = h.catalog.All()
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"recommendations": recs,
		"count":           len(recs),
	})
}

// GetRecommendation handles GET /recommendations/{id}.
func (h *Handler) GetRecommendation(w http.ResponseWriter, r *http.Request) {
	id := recommendationID(r)
	if id == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "recommendation id is required",
		})
		return
	}

	rec := h.catalog.ByID(id)
	if rec == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "recommendation not found",
		})
		return
	}

	writeJSON(w, http.StatusOK, rec)
}

// Evaluate handles POST /recommendations/{id}/evaluate. The body carries
// optional parameter overrides; an empty body evaluates the record's
// baseline risk.
func (h *Handler) Evaluate(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	clinicID := GetClinicID(ctx)
	traceID := GetTraceID(ctx)

	id := recommendationID(r)
	rec := h.catalog.ByID(id)
	if rec == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "recommendation not found",
		})
		return
	}

	var overrides domain.Overrides
	if err := json.NewDecoder(r.Body).Decode(&overrides); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	result, err := h.processor.Process(ctx, &consult.Input{
		ClinicID:       clinicID,
		Recommendation: rec,
		Overrides:      overrides,
		TraceID:        traceID,
		StartTime:      start,
	})
	if err != nil {
		if domain.AsInvalidParameter(err) {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": err.Error(),
			})
			return
		}
		slog.Error("evaluation failed", "recommendation_id", id, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "evaluation failed",
		})
		return
	}

	if h.repo != nil {
		if err := h.repo.SaveConsult(ctx, clinicID, result); err != nil {
			slog.Error("failed to save consult", "consult_id", result.ID, "error", err)
		}
	}

	if h.cache != nil {
		// Per-clinic daily consult volume for the request logs.
		if n, err := h.cache.IncrementCounter(ctx, clinicID, "consults", 24*time.Hour); err != nil {
			slog.Warn("failed to count consult", "clinic_id", clinicID, "error", err)
		} else {
			slog.Debug("consult counted", "clinic_id", clinicID, "daily_count", n)
		}
	}

	if h.bus != nil {
		payload, _ := json.Marshal(result)
		if err := h.bus.Publish(ctx, clinicID, domain.TopicConsultRecorded, payload); err != nil {
			slog.Warn("failed to publish consult", "error", err)
		}
		if !result.Agrees {
			if err := h.bus.Publish(ctx, clinicID, domain.TopicDisagreement, payload); err != nil {
				slog.Warn("failed to publish disagreement", "error", err)
			}
		}
	}

	writeJSON(w, http.StatusOK, result.ToResponse())
}

// GetConsult handles GET /consults/{id}.
func (h *Handler) GetConsult(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	clinicID := GetClinicID(ctx)
	consultID := chi.URLParam(r, "id")

	if consultID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "consult id is required",
		})
		return
	}

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	c, err := h.repo.GetConsult(ctx, clinicID, consultID)
	if err != nil {
		slog.Error("failed to get consult", "id", consultID, "error", err)
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "consult not found",
		})
		return
	}

	writeJSON(w, http.StatusOK, c)
}

// ListConsults handles GET /consults?recommendationId=&since=.
func (h *Handler) ListConsults(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	clinicID := GetClinicID(ctx)

	recID := r.URL.Query().Get("recommendationId")
	if recID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "recommendationId query parameter is required",
		})
		return
	}

	var since time.Time
	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "since must be RFC3339",
			})
			return
		}
		since = parsed
	}

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	consults, err := h.repo.ListConsultsByRecommendation(ctx, clinicID, recID, since)
	if err != nil {
		slog.Error("failed to list consults", "recommendation_id", recID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list consults",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"consults": consults,
		"count":    len(consults),
	})
}

// Agreement handles GET /agreement: the catalog-wide comparison of computed
// decisions against the published guidance at baseline parameters. The
// report depends only on the embedded catalog, so it is built once.
func (h *Handler) Agreement(w http.ResponseWriter, r *http.Request) {
	h.agreementOnce.Do(func() {
		h.agreementRep, h.agreementErr = agreement.Build(h.catalog)
	})

	if h.agreementErr != nil {
		slog.Error("failed to build agreement report", "error", h.agreementErr)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to build agreement report",
		})
		return
	}

	writeJSON(w, http.StatusOK, h.agreementRep)
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	// Check repository health
	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	// Check cache health
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

// ============================================================================
// ELIGIBILITY RULE HANDLERS
// ============================================================================

// ListEligibilityRules returns all loaded eligibility rules from the engine.
// Rules are loaded from the database at startup and can be reloaded via
// POST /eligibility/reload.
func (h *Handler) ListEligibilityRules(w http.ResponseWriter, r *http.Request) {
	loaded := h.eligEngine.GetLoadedRules()

	writeJSON(w, http.StatusOK, map[string]any{
		"rules":  loaded,
		"count":  len(loaded),
		"source": "database",
	})
}

// GetEligibilityRule retrieves a rule by ID from the loaded engine rules.
func (h *Handler) GetEligibilityRule(w http.ResponseWriter, r *http.Request) {
	ruleID := chi.URLParam(r, "id")

	if ruleID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "rule id is required",
		})
		return
	}

	for _, rule := range h.eligEngine.GetLoadedRules() {
		if rule.ID == ruleID {
			writeJSON(w, http.StatusOK, rule)
			return
		}
	}

	writeJSON(w, http.StatusNotFound, map[string]string{
		"error": "rule not found",
	})
}

// CreateEligibilityRuleRequest is the request body for creating a rule.
type CreateEligibilityRuleRequest struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Expression  string   `json:"expression"`
	AppliesTo   []string `json:"appliesTo"`
	Enabled     bool     `json:"enabled"`
}

// CreateEligibilityRule creates a new rule and saves it to the database.
// Rules are saved globally (clinic_id = "*") so they apply to all clinics.
// After saving, call POST /eligibility/reload to hot-reload into the engine.
func (h *Handler) CreateEligibilityRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req CreateEligibilityRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if req.ID == "" || req.Name == "" || req.Expression == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "id, name, and expression are required",
		})
		return
	}

	rule := &domain.EligibilityRule{
		ID:          req.ID,
		ClinicID:    GlobalClinicID,
		Name:        req.Name,
		Description: req.Description,
		Version:     "1.0.0",
		Expression:  req.Expression,
		AppliesTo:   req.AppliesTo,
		Enabled:     req.Enabled,
	}

	// Validate CEL expression by attempting to load
	if err := h.eligEngine.LoadRule(rule); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid CEL expression: " + err.Error(),
		})
		return
	}

	if h.repo != nil {
		if err := h.repo.SaveEligibilityRule(ctx, GlobalClinicID, rule); err != nil {
			slog.Error("failed to save eligibility rule", "id", rule.ID, "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "failed to save rule",
			})
			return
		}
	}

	slog.Info("eligibility rule created", "id", rule.ID, "name", rule.Name)
	writeJSON(w, http.StatusCreated, map[string]any{
		"rule":    rule,
		"message": "Rule created. Call POST /eligibility/reload to apply changes.",
	})
}

// DeleteEligibilityRule soft-deletes a rule and auto-reloads the engine.
func (h *Handler) DeleteEligibilityRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ruleID := chi.URLParam(r, "id")

	if ruleID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "rule id is required",
		})
		return
	}

	if h.repo != nil {
		if err := h.repo.DeleteEligibilityRule(ctx, GlobalClinicID, ruleID); err != nil {
			slog.Error("failed to delete eligibility rule", "id", ruleID, "error", err)
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "rule not found",
			})
			return
		}

		// Auto-reload engine after delete
		dbRules, err := h.repo.ListEligibilityRules(ctx, GlobalClinicID)
		if err != nil {
			slog.Error("failed to reload rules after delete", "error", err)
		} else if err := h.eligEngine.ReloadRules(dbRules); err != nil {
			slog.Error("failed to reload engine after delete", "error", err)
		}
	}

	slog.Info("eligibility rule deleted", "id", ruleID)
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Rule deleted and engine reloaded.",
	})
}

// ReloadEligibilityRules reloads all rules from the database into the engine.
// This enables hot-reloading without server restart.
func (h *Handler) ReloadEligibilityRules(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	dbRules, err := h.repo.ListEligibilityRules(ctx, GlobalClinicID)
	if err != nil {
		slog.Error("failed to list eligibility rules from database", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load rules from database",
		})
		return
	}

	if err := h.eligEngine.ReloadRules(dbRules); err != nil {
		slog.Error("failed to reload rules into engine", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to reload rules: " + err.Error(),
		})
		return
	}

	slog.Info("eligibility rules reloaded from database", "count", len(dbRules))
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "rules reloaded successfully",
		"count":   len(dbRules),
	})
}

// EvaluatePatient handles POST /eligibility/evaluate: runs all loaded rules
// against a patient context.
func (h *Handler) EvaluatePatient(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	clinicID := GetClinicID(ctx)

	var patient domain.PatientContext
	if err := json.NewDecoder(r.Body).Decode(&patient); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	results, err := h.eligEngine.EvaluateAll(ctx, clinicID, &patient)
	if err != nil {
		slog.Error("eligibility evaluation failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "eligibility evaluation failed",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"results": results,
		"count":   len(results),
	})
}

// recommendationID extracts and unescapes the {id} path parameter. Catalog
// IDs like "R1 low" arrive percent-encoded.
func recommendationID(r *http.Request) string {
	raw := chi.URLParam(r, "id")
	if decoded, err := url.PathUnescape(raw); err == nil {
		return decoded
	}
	return raw
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
