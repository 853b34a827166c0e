// Package worker provides async consult processing for the Pro tier.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/clinical-go/thrombocalc/internal/catalog"
	"github.com/clinical-go/thrombocalc/internal/consult"
	"github.com/clinical-go/thrombocalc/internal/domain"
)

// Worker processes consult requests asynchronously from the EventBus.
type Worker struct {
	bus       domain.EventBus
	repo      domain.Repository
	catalog   *catalog.Catalog
	processor *consult.Processor

	subscriptions []domain.Subscription
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
}

// Config holds worker configuration.
type Config struct {
	// ClinicIDs is the list of clinics to process (empty = all via wildcard if supported)
	ClinicIDs []string

	// WorkerCount is the number of concurrent workers per clinic
	WorkerCount int
}

// NewWorker creates a new async worker.
func NewWorker(bus domain.EventBus, repo domain.Repository, cat *catalog.Catalog, processor *consult.Processor) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:       bus,
		repo:      repo,
		catalog:   cat,
		processor: processor,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start begins processing messages for the given clinics.
func (w *Worker) Start(cfg Config) error {
	if len(cfg.ClinicIDs) == 0 {
		return w.startGlobalWorker()
	}

	for _, clinicID := range cfg.ClinicIDs {
		if err := w.startClinicWorker(clinicID); err != nil {
			slog.Error("failed to start worker for clinic",
				"clinic_id", clinicID,
				"error", err,
			)
			continue
		}
	}

	slog.Info("workers started",
		"clinic_count", len(cfg.ClinicIDs),
	)

	return nil
}

// startGlobalWorker starts a worker that processes all clinics (for testing/dev).
func (w *Worker) startGlobalWorker() error {
	// Subscribe using a special "global" clinic ID
	// In production, you'd want to subscribe with wildcards or JetStream
	sub, err := w.bus.Subscribe(w.ctx, "_global", domain.TopicConsultRequested, w.handleMessage)
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("global worker started")
	return nil
}

// startClinicWorker starts workers for a specific clinic.
func (w *Worker) startClinicWorker(clinicID string) error {
	sub, err := w.bus.Subscribe(w.ctx, clinicID, domain.TopicConsultRequested, func(ctx context.Context, msg *domain.Message) error {
		return w.processConsult(ctx, clinicID, msg)
	})
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("clinic worker started",
		"clinic_id", clinicID,
		"topic", domain.TopicConsultRequested,
	)

	return nil
}

// handleMessage handles messages from global subscription.
func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	return w.processConsult(ctx, msg.ClinicID, msg)
}

// ConsultMessage is the message payload for consult processing.
type ConsultMessage struct {
	RecommendationID string           `json:"recommendationId"`
	ClinicID         string           `json:"clinicId"`
	TraceID          string           `json:"traceId"`
	Overrides        domain.Overrides `json:"overrides,omitempty"`
}

// processConsult evaluates a consult request through the pipeline.
func (w *Worker) processConsult(ctx context.Context, clinicID string, msg *domain.Message) error {
	start := time.Now()

	var req ConsultMessage
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		slog.Error("failed to parse consult message",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	// Use message clinic if provided
	if req.ClinicID != "" {
		clinicID = req.ClinicID
	}

	traceID := req.TraceID
	if traceID == "" {
		traceID = msg.ID
	}

	slog.Debug("processing consult",
		"recommendation_id", req.RecommendationID,
		"clinic_id", clinicID,
		"trace_id", traceID,
	)

	rec := w.catalog.ByID(req.RecommendationID)
	if rec == nil {
		slog.Error("unknown recommendation",
			"recommendation_id", req.RecommendationID,
			"clinic_id", clinicID,
		)
		return fmt.Errorf("unknown recommendation: %s", req.RecommendationID)
	}

	result, err := w.processor.Process(ctx, &consult.Input{
		ClinicID:       clinicID,
		Recommendation: rec,
		Overrides:      req.Overrides,
		TraceID:        traceID,
		StartTime:      start,
	})
	if err != nil {
		slog.Error("consult evaluation failed",
			"recommendation_id", req.RecommendationID,
			"error", err,
		)
		return err
	}

	if w.repo != nil {
		if err := w.repo.SaveConsult(ctx, clinicID, result); err != nil {
			slog.Error("failed to save consult",
				"consult_id", result.ID,
				"error", err,
			)
		}
	}

	resultPayload, _ := json.Marshal(result)
	if err := w.bus.Publish(ctx, clinicID, domain.TopicConsultRecorded, resultPayload); err != nil {
		slog.Error("failed to publish consult",
			"consult_id", result.ID,
			"error", err,
		)
	}

	// Flag consults where the computed decision departs from the
	// published guidance.
	if !result.Agrees {
		if err := w.bus.Publish(ctx, clinicID, domain.TopicDisagreement, resultPayload); err != nil {
			slog.Error("failed to publish disagreement",
				"consult_id", result.ID,
				"error", err,
			)
		}
	}

	slog.Info("consult processed",
		"recommendation_id", req.RecommendationID,
		"clinic_id", clinicID,
		"decision", result.Decision,
		"agrees", result.Agrees,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return nil
}

// Stop gracefully stops all workers.
func (w *Worker) Stop() error {
	w.cancel()

	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	w.wg.Wait()

	slog.Info("workers stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
	}
}
