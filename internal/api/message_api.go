package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"log/slog"

	"github.com/tinywideclouds/go-microservice-base/pkg/response"

	"github.com/tinywideclouds/go-sms-gateway/internal/dispatch"
	"github.com/tinywideclouds/go-sms-gateway/internal/inbound"
	"github.com/tinywideclouds/go-sms-gateway/pkg/gateway"
)

// Dispatcher is the slice of the batch dispatcher the API needs.
type Dispatcher interface {
	Send(ctx context.Context, deviceID string, req dispatch.SendRequest) (*gateway.DispatchOutcome, error)
	SendBulk(ctx context.Context, deviceID string, req dispatch.BulkSendRequest) (*gateway.BulkDispatchOutcome, error)
}

// Recorder is the slice of the inbound recorder the API needs.
type Recorder interface {
	Record(ctx context.Context, deviceID string, msg inbound.Message) (*gateway.MessageUnit, error)
}

type MessageAPI struct {
	Dispatcher Dispatcher
	Recorder   Recorder
	Logger     *slog.Logger
}

func NewMessageAPI(dispatcher Dispatcher, recorder Recorder, logger *slog.Logger) *MessageAPI {
	return &MessageAPI{
		Dispatcher: dispatcher,
		Recorder:   recorder,
		Logger:     logger,
	}
}

// Send dispatches one message to every recipient through the device. A
// response with success=true can still carry per-recipient failures.
func (api *MessageAPI) Send(w http.ResponseWriter, r *http.Request) {
	if _, ok := ownerFromContext(r); !ok {
		response.WriteJSONError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req dispatch.SendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}

	outcome, err := api.Dispatcher.Send(r.Context(), r.PathValue("id"), req)
	if err != nil {
		api.writeDispatchError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}

func (api *MessageAPI) SendBulk(w http.ResponseWriter, r *http.Request) {
	if _, ok := ownerFromContext(r); !ok {
		response.WriteJSONError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req dispatch.BulkSendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}

	outcome, err := api.Dispatcher.SendBulk(r.Context(), r.PathValue("id"), req)
	if err != nil {
		api.writeDispatchError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}

// Inbound records an SMS the device received and forwarded back.
func (api *MessageAPI) Inbound(w http.ResponseWriter, r *http.Request) {
	if _, ok := ownerFromContext(r); !ok {
		response.WriteJSONError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var msg inbound.Message
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}

	unit, err := api.Recorder.Record(r.Context(), r.PathValue("id"), msg)
	if err != nil {
		api.writeDispatchError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, unit)
}

// writeDispatchError maps the error taxonomy onto HTTP statuses. A
// DeliveryError keeps its full transport response in the body so the caller
// can see every rejected attempt.
func (api *MessageAPI) writeDispatchError(w http.ResponseWriter, err error) {
	var deliveryErr *gateway.DeliveryError
	switch {
	case errors.Is(err, gateway.ErrDeviceUnavailable):
		response.WriteJSONError(w, http.StatusNotFound, "device unavailable")
	case errors.Is(err, gateway.ErrQuotaExceeded):
		response.WriteJSONError(w, http.StatusTooManyRequests, err.Error())
	case errors.Is(err, gateway.ErrEmptyMessage),
		errors.Is(err, gateway.ErrInvalidRecipients),
		errors.Is(err, gateway.ErrInvalidMessageList),
		errors.Is(err, gateway.ErrRecipientLimitExceeded),
		errors.Is(err, gateway.ErrInvalidInboundMessage):
		response.WriteJSONError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &deliveryErr):
		writeJSON(w, http.StatusBadGateway, map[string]any{
			"error":    deliveryErr.Error(),
			"response": deliveryErr.Outcome,
		})
	case errors.Is(err, gateway.ErrBatchPersist), errors.Is(err, gateway.ErrTransport):
		api.Logger.Error("dispatch infrastructure failure", "err", err)
		response.WriteJSONError(w, http.StatusBadGateway, err.Error())
	default:
		api.Logger.Error("dispatch failed", "err", err)
		response.WriteJSONError(w, http.StatusInternalServerError, "internal error")
	}
}
