package worker

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/clinical-go/thrombocalc/internal/bus"
	"github.com/clinical-go/thrombocalc/internal/catalog"
	"github.com/clinical-go/thrombocalc/internal/consult"
	"github.com/clinical-go/thrombocalc/internal/domain"
)

func TestWorker(t *testing.T) {
	eventBus := bus.NewChannelBus(100)
	defer eventBus.Close()

	cat, err := catalog.Load()
	if err != nil {
		t.Fatalf("failed to load catalog: %v", err)
	}

	processor := consult.NewProcessor()

	worker := NewWorker(eventBus, nil, cat, processor)

	t.Run("StartAndStop", func(t *testing.T) {
		cfg := Config{
			ClinicIDs:   []string{"clinic-001"},
			WorkerCount: 1,
		}

		err := worker.Start(cfg)
		if err != nil {
			t.Fatalf("Start failed: %v", err)
		}

		stats := worker.GetStats()
		if stats.SubscriptionCount != 1 {
			t.Errorf("expected 1 subscription, got %d", stats.SubscriptionCount)
		}

		err = worker.Stop()
		if err != nil {
			t.Errorf("Stop failed: %v", err)
		}

		stats = worker.GetStats()
		if stats.SubscriptionCount != 0 {
			t.Errorf("expected 0 subscriptions after stop, got %d", stats.SubscriptionCount)
		}
	})

	t.Run("ProcessConsult", func(t *testing.T) {
		w := NewWorker(eventBus, nil, cat, processor)

		cfg := Config{
			ClinicIDs: []string{"clinic-test"},
		}
		w.Start(cfg)
		defer w.Stop()

		var recorded atomic.Bool
		var recordedPayload []byte

		eventBus.Subscribe(context.Background(), "clinic-test", domain.TopicConsultRecorded, func(ctx context.Context, msg *domain.Message) error {
			recordedPayload = msg.Payload
			recorded.Store(true)
			return nil
		})

		// Allow subscriptions to be active
		time.Sleep(50 * time.Millisecond)

		req := ConsultMessage{
			RecommendationID: "R15",
			ClinicID:         "clinic-test",
			TraceID:          "trace-001",
		}

		payload, _ := json.Marshal(req)
		err := eventBus.Publish(context.Background(), "clinic-test", domain.TopicConsultRequested, payload)
		if err != nil {
			t.Fatalf("Publish failed: %v", err)
		}

		time.Sleep(100 * time.Millisecond)

		if !recorded.Load() {
			t.Error("expected consult to be published")
		}

		if recordedPayload != nil {
			var c domain.Consult
			if err := json.Unmarshal(recordedPayload, &c); err != nil {
				t.Fatalf("failed to parse consult: %v", err)
			}

			if c.RecommendationID != "R15" {
				t.Errorf("expected recommendationID 'R15', got '%s'", c.RecommendationID)
			}
			if c.ClinicID != "clinic-test" {
				t.Errorf("expected clinicID 'clinic-test', got '%s'", c.ClinicID)
			}
			if c.Metadata.TraceID != "trace-001" {
				t.Errorf("expected traceID 'trace-001', got '%s'", c.Metadata.TraceID)
			}
			// R15's baseline risk sits below the treat threshold, matching
			// the published guidance.
			if c.Decision != domain.DecisionTreatAll {
				t.Errorf("expected decision Rx, got '%s'", c.Decision)
			}
			if !c.Agrees {
				t.Error("expected consult to agree with guidance")
			}
		}
	})

	t.Run("DisagreementPublished", func(t *testing.T) {
		w := NewWorker(eventBus, nil, cat, processor)

		cfg := Config{
			ClinicIDs: []string{"clinic-flag"},
		}
		w.Start(cfg)
		defer w.Stop()

		var flagged atomic.Bool

		eventBus.Subscribe(context.Background(), "clinic-flag", domain.TopicDisagreement, func(ctx context.Context, msg *domain.Message) error {
			flagged.Store(true)
			return nil
		})

		time.Sleep(50 * time.Millisecond)

		// A 50% risk estimate pushes R15 above its upper threshold, so the
		// computed decision departs from the guideline's Rx.
		risk := 0.50
		req := ConsultMessage{
			RecommendationID: "R15",
			ClinicID:         "clinic-flag",
			Overrides:        domain.Overrides{Risk: &risk},
		}

		payload, _ := json.Marshal(req)
		eventBus.Publish(context.Background(), "clinic-flag", domain.TopicConsultRequested, payload)

		time.Sleep(100 * time.Millisecond)

		if !flagged.Load() {
			t.Error("expected disagreement to be published")
		}
	})

	t.Run("UnknownRecommendation", func(t *testing.T) {
		w := NewWorker(eventBus, nil, cat, processor)

		cfg := Config{
			ClinicIDs: []string{"clinic-unknown"},
		}
		w.Start(cfg)
		defer w.Stop()

		var recorded atomic.Bool
		eventBus.Subscribe(context.Background(), "clinic-unknown", domain.TopicConsultRecorded, func(ctx context.Context, msg *domain.Message) error {
			recorded.Store(true)
			return nil
		})

		time.Sleep(50 * time.Millisecond)

		req := ConsultMessage{RecommendationID: "R99", ClinicID: "clinic-unknown"}
		payload, _ := json.Marshal(req)
		eventBus.Publish(context.Background(), "clinic-unknown", domain.TopicConsultRequested, payload)

		time.Sleep(100 * time.Millisecond)

		if recorded.Load() {
			t.Error("expected no consult for unknown recommendation")
		}
	})

	t.Run("MultiClinic", func(t *testing.T) {
		w := NewWorker(eventBus, nil, cat, processor)

		cfg := Config{
			ClinicIDs: []string{"clinic-a", "clinic-b"},
		}
		w.Start(cfg)
		defer w.Stop()

		stats := w.GetStats()
		if stats.SubscriptionCount != 2 {
			t.Errorf("expected 2 subscriptions for 2 clinics, got %d", stats.SubscriptionCount)
		}
	})
}

func TestConsultMessageParsing(t *testing.T) {
	risk := 0.02
	msg := ConsultMessage{
		RecommendationID: "R1 low",
		ClinicID:         "clinic-001",
		TraceID:          "trace-456",
		Overrides:        domain.Overrides{Risk: &risk, BleedingRisk: domain.BleedingRiskHigh},
	}

	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var parsed ConsultMessage
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}

	if parsed.RecommendationID != msg.RecommendationID {
		t.Errorf("expected RecommendationID '%s', got '%s'", msg.RecommendationID, parsed.RecommendationID)
	}
	if parsed.Overrides.Risk == nil || *parsed.Overrides.Risk != risk {
		t.Errorf("expected Risk %v, got %v", risk, parsed.Overrides.Risk)
	}
	if parsed.Overrides.BleedingRisk != domain.BleedingRiskHigh {
		t.Errorf("expected BleedingRisk high, got '%s'", parsed.Overrides.BleedingRisk)
	}
}
