package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/clinical-go/thrombocalc/internal/cache"
	"github.com/clinical-go/thrombocalc/internal/catalog"
	"github.com/clinical-go/thrombocalc/internal/consult"
	"github.com/clinical-go/thrombocalc/internal/domain"
	"github.com/clinical-go/thrombocalc/internal/eligibility"
	"github.com/clinical-go/thrombocalc/internal/search"
)

// createTestServer creates a server over the embedded catalog for testing.
func createTestServer(t *testing.T) *Server {
	t.Helper()

	cfg := domain.ServerConfig{
		Host:         "localhost",
		Port:         8080,
		ReadTimeout:  30,
		WriteTimeout: 30,
	}

	cat, err := catalog.Load()
	if err != nil {
		t.Fatalf("failed to load catalog: %v", err)
	}

	searchEngine := search.New(cat.All())

	eligEngine, err := eligibility.NewEngine(5)
	if err != nil {
		t.Fatalf("failed to create eligibility engine: %v", err)
	}
	eligEngine.LoadRule(&domain.EligibilityRule{
		ID:         "adults-only",
		ClinicID:   GlobalClinicID,
		Name:       "Adults Only",
		Expression: "age >= 18",
		AppliesTo:  []string{"R15-R20"},
		Enabled:    true,
	})

	processor := consult.NewProcessor()

	return NewServer(cfg, nil, nil, nil, cat, searchEngine, eligEngine, processor, "test-v1")
}

func TestSearchEndpoint(t *testing.T) {
	server := createTestServer(t)

	t.Run("SuccessfulSearch", func(t *testing.T) {
		body, _ := json.Marshal(SearchRequest{Query: "birth control pills"})
		req := httptest.NewRequest(http.MethodPost, "/search", bytes.NewBuffer(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Clinic-ID", "clinic-001")

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var resp SearchResponse
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}

		if len(resp.Candidates) == 0 {
			t.Fatal("expected candidates in response")
		}
		if !resp.Candidates[0].Recommendation.Group.IsHormonal() {
			t.Errorf("expected a hormonal top candidate, got %s", resp.Candidates[0].Recommendation.ID)
		}
	})

	t.Run("PatientFlagsInapplicable", func(t *testing.T) {
		body, _ := json.Marshal(SearchRequest{
			Query:   "birth control pills",
			Patient: &domain.PatientContext{Age: 14, Sex: "female"},
		})
		req := httptest.NewRequest(http.MethodPost, "/search", bytes.NewBuffer(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Clinic-ID", "clinic-001")

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var resp SearchResponse
		json.Unmarshal(rr.Body.Bytes(), &resp)

		// A 14-year-old fails the adults-only rule, so hormonal
		// candidates should be flagged.
		if len(resp.NotApplicable) == 0 {
			t.Error("expected notApplicable entries for under-age patient")
		}
	})

	t.Run("CachedResultKeepsMatchDerivation", func(t *testing.T) {
		// The cached path reconstructs the unambiguous match from
		// stored scores with the engine's own tie-break ratio, so a
		// repeat query must never resolve differently.
		cat, err := catalog.Load()
		if err != nil {
			t.Fatalf("failed to load catalog: %v", err)
		}
		eligEngine, err := eligibility.NewEngine(5)
		if err != nil {
			t.Fatalf("failed to create eligibility engine: %v", err)
		}
		cached := NewServer(domain.ServerConfig{Host: "localhost", Port: 8080},
			nil, cache.NewLRUCache(100), nil,
			cat, search.New(cat.All()), eligEngine, consult.NewProcessor(), "test-v1")

		doSearch := func() SearchResponse {
			t.Helper()
			body, _ := json.Marshal(SearchRequest{Query: "birth control pills"})
			req := httptest.NewRequest(http.MethodPost, "/search", bytes.NewBuffer(body))
			req.Header.Set("Content-Type", "application/json")
			req.Header.Set("X-Clinic-ID", "clinic-001")
			rr := httptest.NewRecorder()
			cached.Router().ServeHTTP(rr, req)
			if rr.Code != http.StatusOK {
				t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
			}
			var resp SearchResponse
			if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
				t.Fatalf("failed to parse response: %v", err)
			}
			return resp
		}

		first := doSearch()
		second := doSearch()

		if first.Cached {
			t.Error("first response should not be served from cache")
		}
		if !second.Cached {
			t.Fatal("second response should be served from cache")
		}
		if (first.Match == nil) != (second.Match == nil) {
			t.Fatalf("match derivation drifted: fresh=%v cached=%v",
				first.Match != nil, second.Match != nil)
		}
		if first.Match != nil && first.Match.Recommendation.ID != second.Match.Recommendation.ID {
			t.Errorf("cached match %s differs from fresh match %s",
				second.Match.Recommendation.ID, first.Match.Recommendation.ID)
		}
	})

	t.Run("NoMatch", func(t *testing.T) {
		body, _ := json.Marshal(SearchRequest{Query: "zzz qqq xxx"})
		req := httptest.NewRequest(http.MethodPost, "/search", bytes.NewBuffer(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Clinic-ID", "clinic-001")

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rr.Code)
		}
	})

	t.Run("MissingQuery", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/search", bytes.NewBufferString("{}"))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Clinic-ID", "clinic-001")

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("MissingClinicID", func(t *testing.T) {
		body, _ := json.Marshal(SearchRequest{Query: "birth control"})
		req := httptest.NewRequest(http.MethodPost, "/search", bytes.NewBuffer(body))
		req.Header.Set("Content-Type", "application/json")
		// No X-Clinic-ID header

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})
}

func TestEvaluateEndpoint(t *testing.T) {
	server := createTestServer(t)

	t.Run("CountsConsultsPerClinic", func(t *testing.T) {
		cat, err := catalog.Load()
		if err != nil {
			t.Fatalf("failed to load catalog: %v", err)
		}
		eligEngine, err := eligibility.NewEngine(5)
		if err != nil {
			t.Fatalf("failed to create eligibility engine: %v", err)
		}
		lru := cache.NewLRUCache(100)
		counted := NewServer(domain.ServerConfig{Host: "localhost", Port: 8080},
			nil, lru, nil,
			cat, search.New(cat.All()), eligEngine, consult.NewProcessor(), "test-v1")

		for i := 0; i < 2; i++ {
			req := httptest.NewRequest(http.MethodPost, "/recommendations/R15/evaluate", bytes.NewBufferString("{}"))
			req.Header.Set("Content-Type", "application/json")
			req.Header.Set("X-Clinic-ID", "clinic-001")
			rr := httptest.NewRecorder()
			counted.Router().ServeHTTP(rr, req)
			if rr.Code != http.StatusOK {
				t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
			}
		}

		// Two evaluations incremented the counter twice, so the next
		// increment observes 3.
		n, err := lru.IncrementCounter(context.Background(), "clinic-001", "consults", 24*time.Hour)
		if err != nil {
			t.Fatalf("IncrementCounter failed: %v", err)
		}
		if n != 3 {
			t.Errorf("consult counter = %d, want 3", n)
		}
	})

	t.Run("BaselineEvaluation", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/recommendations/R15/evaluate", bytes.NewBufferString("{}"))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Clinic-ID", "clinic-001")

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var resp domain.ConsultResponse
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}

		if resp.ConsultID == "" {
			t.Error("expected consultId in response")
		}
		if resp.RecommendationID != "R15" {
			t.Errorf("expected recommendationId R15, got %s", resp.RecommendationID)
		}
		if resp.Decision != domain.DecisionTreatAll {
			t.Errorf("expected decision Rx at baseline risk, got %s", resp.Decision)
		}
		if !resp.Agrees {
			t.Error("expected baseline evaluation to agree with guidance")
		}
		if resp.Metadata.TraceID == "" {
			t.Error("expected traceId in metadata")
		}
	})

	t.Run("RiskOverride", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/recommendations/R15/evaluate", bytes.NewBufferString(`{"risk":0.50}`))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Clinic-ID", "clinic-001")

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var resp domain.ConsultResponse
		json.Unmarshal(rr.Body.Bytes(), &resp)

		if resp.Decision != domain.DecisionDoNotTreat {
			t.Errorf("expected decision NoRx at 50%% risk, got %s", resp.Decision)
		}
		if resp.Agrees {
			t.Error("expected disagreement with guidance at 50% risk")
		}
	})

	t.Run("EncodedID", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/recommendations/R1%20low/evaluate", bytes.NewBufferString("{}"))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Clinic-ID", "clinic-001")

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var resp domain.ConsultResponse
		json.Unmarshal(rr.Body.Bytes(), &resp)

		if resp.RecommendationID != "R1 low" {
			t.Errorf("expected recommendationId 'R1 low', got '%s'", resp.RecommendationID)
		}
	})

	t.Run("InvalidRisk", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/recommendations/R15/evaluate", bytes.NewBufferString(`{"risk":1.5}`))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Clinic-ID", "clinic-001")

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("UnknownRecommendation", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/recommendations/R99/evaluate", bytes.NewBufferString("{}"))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Clinic-ID", "clinic-001")

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rr.Code)
		}
	})
}

func TestRecommendationEndpoints(t *testing.T) {
	server := createTestServer(t)

	t.Run("ListAll", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/recommendations", nil)
		req.Header.Set("X-Clinic-ID", "clinic-001")

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}

		var resp struct {
			Count int `json:"count"`
		}
		json.Unmarshal(rr.Body.Bytes(), &resp)

		if resp.Count != 69 {
			t.Errorf("expected 69 recommendations, got %d", resp.Count)
		}
	})

	t.Run("ListByGroup", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/recommendations?group=R15-R20", nil)
		req.Header.Set("X-Clinic-ID", "clinic-001")

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}

		var resp struct {
			Count int `json:"count"`
		}
		json.Unmarshal(rr.Body.Bytes(), &resp)

		if resp.Count != 21 {
			t.Errorf("expected 21 hormonal records, got %d", resp.Count)
		}
	})

	t.Run("UnknownGroup", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/recommendations?group=R90-R99", nil)
		req.Header.Set("X-Clinic-ID", "clinic-001")

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rr.Code)
		}
	})

	t.Run("GetByID", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/recommendations/R15", nil)
		req.Header.Set("X-Clinic-ID", "clinic-001")

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}

		var rec domain.Recommendation
		json.Unmarshal(rr.Body.Bytes(), &rec)

		if rec.ID != "R15" {
			t.Errorf("expected id R15, got %s", rec.ID)
		}
	})
}

func TestAgreementEndpoint(t *testing.T) {
	server := createTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/agreement", nil)
	req.Header.Set("X-Clinic-ID", "clinic-001")

	rr := httptest.NewRecorder()
	server.Router().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp struct {
		Total int `json:"total"`
	}
	json.Unmarshal(rr.Body.Bytes(), &resp)

	if resp.Total != 69 {
		t.Errorf("expected 69 records in agreement report, got %d", resp.Total)
	}
}

func TestEligibilityEndpoints(t *testing.T) {
	server := createTestServer(t)

	t.Run("ListRules", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/eligibility", nil)
		req.Header.Set("X-Clinic-ID", "clinic-001")

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}

		var resp struct {
			Count int `json:"count"`
		}
		json.Unmarshal(rr.Body.Bytes(), &resp)

		if resp.Count != 1 {
			t.Errorf("expected 1 loaded rule, got %d", resp.Count)
		}
	})

	t.Run("GetRule", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/eligibility/adults-only", nil)
		req.Header.Set("X-Clinic-ID", "clinic-001")

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}
	})

	t.Run("CreateValidatesExpression", func(t *testing.T) {
		body, _ := json.Marshal(CreateEligibilityRuleRequest{
			ID:         "bad-rule",
			Name:       "Bad Rule",
			Expression: "age + 1", // not a bool
			Enabled:    true,
		})
		req := httptest.NewRequest(http.MethodPost, "/eligibility", bytes.NewBuffer(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Clinic-ID", "clinic-001")

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400 for non-boolean expression, got %d", rr.Code)
		}
	})

	t.Run("EvaluatePatient", func(t *testing.T) {
		body, _ := json.Marshal(domain.PatientContext{Age: 30, Sex: "female"})
		req := httptest.NewRequest(http.MethodPost, "/eligibility/evaluate", bytes.NewBuffer(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Clinic-ID", "clinic-001")

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var resp struct {
			Results []domain.EligibilityResult `json:"results"`
		}
		json.Unmarshal(rr.Body.Bytes(), &resp)

		if len(resp.Results) != 1 {
			t.Fatalf("expected 1 result, got %d", len(resp.Results))
		}
		if !resp.Results[0].Eligible {
			t.Error("expected 30-year-old to pass the adults-only rule")
		}
	})
}

func TestHealthEndpoint(t *testing.T) {
	server := createTestServer(t)

	t.Run("HealthCheck", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", rr.Code)
		}

		var resp map[string]string
		json.Unmarshal(rr.Body.Bytes(), &resp)

		if resp["status"] != "healthy" {
			t.Errorf("expected status 'healthy', got '%s'", resp["status"])
		}
		if resp["version"] != "test-v1" {
			t.Errorf("expected version 'test-v1', got '%s'", resp["version"])
		}
	})

	t.Run("ReadyCheck", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/ready", nil)

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", rr.Code)
		}
	})
}

func TestMiddleware(t *testing.T) {
	t.Run("ClinicMiddlewareExtractsID", func(t *testing.T) {
		var capturedClinicID string

		handler := ClinicMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			capturedClinicID = GetClinicID(r.Context())
			w.WriteHeader(http.StatusOK)
		}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("X-Clinic-ID", "my-clinic-123")

		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		if capturedClinicID != "my-clinic-123" {
			t.Errorf("expected clinic ID 'my-clinic-123', got '%s'", capturedClinicID)
		}
	})

	t.Run("TracingMiddlewareSetsRequestID", func(t *testing.T) {
		var capturedRequestID string

		handler := TracingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if v, ok := r.Context().Value(RequestIDKey).(string); ok {
				capturedRequestID = v
			}
			w.WriteHeader(http.StatusOK)
		}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		if capturedRequestID == "" {
			t.Error("expected request ID to be set")
		}

		if rr.Header().Get("X-Request-ID") == "" {
			t.Error("expected X-Request-ID response header")
		}
	})

	t.Run("RecoverMiddlewareHandlesPanic", func(t *testing.T) {
		handler := RecoverMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			panic("test panic")
		}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rr := httptest.NewRecorder()

		// Should not panic
		handler.ServeHTTP(rr, req)

		if rr.Code != http.StatusInternalServerError {
			t.Errorf("expected status 500, got %d", rr.Code)
		}
	})
}
