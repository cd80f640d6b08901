// Package smsgateway assembles the gateway service: HTTP surface, inbound
// ingestion pipeline, and the dispatch engine behind them.
package smsgateway

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-microservice-base/pkg/microservice"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"

	"github.com/tinywideclouds/go-sms-gateway/internal/api"
	"github.com/tinywideclouds/go-sms-gateway/internal/counter"
	"github.com/tinywideclouds/go-sms-gateway/internal/dispatch"
	"github.com/tinywideclouds/go-sms-gateway/internal/inbound"
	"github.com/tinywideclouds/go-sms-gateway/internal/pipeline"
	"github.com/tinywideclouds/go-sms-gateway/pkg/gateway"
	"github.com/tinywideclouds/go-sms-gateway/smsgateway/config"
)

type Wrapper struct {
	*microservice.BaseServer
	pipelineService *messagepipeline.StreamingService[pipeline.InboundSMSEvent]
	counters        *counter.Updater
	logger          *slog.Logger
}

// New assembles the service from its collaborators.
func New(
	cfg *config.Config,
	consumer messagepipeline.MessageConsumer,
	transport gateway.Transport,
	devices gateway.DeviceStore,
	messages gateway.MessageStore,
	quota gateway.QuotaGuard,
	notifier gateway.WebhookNotifier,
	authMiddleware func(http.Handler) http.Handler,
	logger *slog.Logger,
) (*Wrapper, error) {

	// 1. Base Server
	baseServer := microservice.NewBaseServer(logger, cfg.ListenAddr)

	// 2. Core engine
	counters := counter.NewUpdater(devices, logger)
	dispatcher := dispatch.NewDispatcher(devices, messages, quota, transport, counters, logger)
	recorder := inbound.NewRecorder(devices, messages, quota, counters, notifier, logger)

	// 3. Ingestion pipeline (Pub/Sub inbound SMS)
	processor := pipeline.NewProcessor(recorder, logger)
	streamingService, err := messagepipeline.NewStreamingService(
		messagepipeline.StreamingServiceConfig{NumWorkers: cfg.NumPipelineWorkers},
		consumer,
		pipeline.InboundSMSTransformer,
		processor,
		logger,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create streaming service: %w", err)
	}

	// 4. API
	deviceAPI := api.NewDeviceAPI(devices, messages, logger)
	messageAPI := api.NewMessageAPI(dispatcher, recorder, logger)

	// Register Routes
	mux := baseServer.Mux()
	corsMiddleware := middleware.NewCorsMiddleware(cfg.CorsConfig, logger)

	handle := func(pattern string, handlerFunc http.HandlerFunc) {
		mux.Handle(pattern, corsMiddleware(authMiddleware(handlerFunc)))
	}

	// Device lifecycle
	handle("POST /api/v1/devices", deviceAPI.Register)
	handle("GET /api/v1/devices", deviceAPI.List)
	handle("GET /api/v1/devices/{id}", deviceAPI.Get)
	handle("PATCH /api/v1/devices/{id}", deviceAPI.Update)
	handle("DELETE /api/v1/devices/{id}", deviceAPI.Delete)
	handle("GET /api/v1/devices/{id}/inbox", deviceAPI.Inbox)

	// Messaging
	handle("POST /api/v1/devices/{id}/send", messageAPI.Send)
	handle("POST /api/v1/devices/{id}/send-bulk", messageAPI.SendBulk)
	handle("POST /api/v1/devices/{id}/inbound", messageAPI.Inbound)

	// Global OPTIONS for the API namespace (CORS preflight)
	mux.Handle("OPTIONS /api/v1/", corsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Just returns 200 OK with CORS headers handled by middleware
	})))

	return &Wrapper{
		BaseServer:      baseServer,
		pipelineService: streamingService,
		counters:        counters,
		logger:          logger,
	}, nil
}

func (w *Wrapper) Start(ctx context.Context) error {
	w.logger.Info("Inbound ingestion pipeline starting...")
	if err := w.pipelineService.Start(ctx); err != nil {
		return fmt.Errorf("failed to start ingestion pipeline: %w", err)
	}
	w.SetReady(true)
	w.logger.Info("Service is now ready.")
	return w.BaseServer.Start()
}

func (w *Wrapper) Shutdown(ctx context.Context) error {
	w.logger.Info("Shutting down service components...")
	var finalErr error
	if err := w.pipelineService.Stop(ctx); err != nil {
		w.logger.Error("Ingestion pipeline shutdown failed.", "err", err)
		finalErr = err
	}
	if err := w.BaseServer.Shutdown(ctx); err != nil {
		w.logger.Error("HTTP server shutdown failed.", "err", err)
		finalErr = err
	}
	// Detached counter updates may still be in flight.
	w.counters.Wait()
	w.logger.Info("Service shutdown complete.")
	return finalErr
}
