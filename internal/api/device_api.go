// Package api exposes the HTTP surface of the gateway: device lifecycle,
// outbound dispatch, and inbound recording.
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"log/slog"

	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
	"github.com/tinywideclouds/go-microservice-base/pkg/response"
	urn "github.com/tinywideclouds/go-platform/pkg/net/v1"

	"github.com/tinywideclouds/go-sms-gateway/pkg/gateway"
)

// inboxLimit caps the inbound read path at the 200 most recent units.
const inboxLimit = 200

type DeviceAPI struct {
	Devices  gateway.DeviceStore
	Messages gateway.MessageStore
	Logger   *slog.Logger
}

func NewDeviceAPI(devices gateway.DeviceStore, messages gateway.MessageStore, logger *slog.Logger) *DeviceAPI {
	return &DeviceAPI{
		Devices:  devices,
		Messages: messages,
		Logger:   logger,
	}
}

func (api *DeviceAPI) Register(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	owner, ok := ownerFromContext(r)
	if !ok {
		response.WriteJSONError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var attrs gateway.DeviceAttrs
	if err := json.NewDecoder(r.Body).Decode(&attrs); err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}

	device, err := api.Devices.Register(ctx, owner, attrs)
	if err != nil {
		api.Logger.Error("failed to register device", "err", err)
		response.WriteJSONError(w, http.StatusInternalServerError, "storage failed")
		return
	}
	api.Logger.Info("Device registered", "device_id", device.ID, "owner", owner.String())

	writeJSON(w, http.StatusOK, device)
}

func (api *DeviceAPI) Get(w http.ResponseWriter, r *http.Request) {
	device, ok := api.ownedDevice(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, device)
}

func (api *DeviceAPI) List(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerFromContext(r)
	if !ok {
		response.WriteJSONError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	devices, err := api.Devices.ListForOwner(r.Context(), owner)
	if err != nil {
		api.Logger.Error("failed to list devices", "err", err)
		response.WriteJSONError(w, http.StatusInternalServerError, "storage failed")
		return
	}
	writeJSON(w, http.StatusOK, devices)
}

func (api *DeviceAPI) Update(w http.ResponseWriter, r *http.Request) {
	device, ok := api.ownedDevice(w, r)
	if !ok {
		return
	}

	var attrs gateway.DeviceAttrs
	if err := json.NewDecoder(r.Body).Decode(&attrs); err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}

	updated, err := api.Devices.Update(r.Context(), device.ID, attrs)
	if err != nil {
		if errors.Is(err, gateway.ErrNotFound) {
			response.WriteJSONError(w, http.StatusNotFound, "device not found")
			return
		}
		api.Logger.Error("failed to update device", "device_id", device.ID, "err", err)
		response.WriteJSONError(w, http.StatusInternalServerError, "storage failed")
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// Delete acks without removing anything; the record is kept so message
// history stays attributable. Repeated deletes are fine.
func (api *DeviceAPI) Delete(w http.ResponseWriter, r *http.Request) {
	device, ok := api.ownedDevice(w, r)
	if !ok {
		return
	}

	if err := api.Devices.Delete(r.Context(), device.ID); err != nil {
		api.Logger.Warn("failed to delete device", "device_id", device.ID, "err", err)
	}

	w.WriteHeader(http.StatusNoContent)
}

// Inbox returns the most recent RECEIVED units for the device, newest
// first, each annotated with the device projection.
func (api *DeviceAPI) Inbox(w http.ResponseWriter, r *http.Request) {
	device, ok := api.ownedDevice(w, r)
	if !ok {
		return
	}

	units, err := api.Messages.ListReceived(r.Context(), device.ID, inboxLimit)
	if err != nil {
		api.Logger.Error("failed to read inbox", "device_id", device.ID, "err", err)
		response.WriteJSONError(w, http.StatusInternalServerError, "storage failed")
		return
	}

	projection := device.Projection()
	entries := make([]gateway.InboxEntry, 0, len(units))
	for _, unit := range units {
		entries = append(entries, gateway.InboxEntry{Message: unit, Device: projection})
	}
	writeJSON(w, http.StatusOK, entries)
}

// ownedDevice resolves the {id} path device and checks it belongs to the
// authenticated owner, writing the error response itself when it does not.
func (api *DeviceAPI) ownedDevice(w http.ResponseWriter, r *http.Request) (*gateway.Device, bool) {
	owner, ok := ownerFromContext(r)
	if !ok {
		response.WriteJSONError(w, http.StatusUnauthorized, "unauthorized")
		return nil, false
	}

	device, err := api.Devices.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, gateway.ErrNotFound) {
			response.WriteJSONError(w, http.StatusNotFound, "device not found")
			return nil, false
		}
		api.Logger.Error("failed to get device", "err", err)
		response.WriteJSONError(w, http.StatusInternalServerError, "storage failed")
		return nil, false
	}
	if device.Owner.String() != owner.String() {
		response.WriteJSONError(w, http.StatusNotFound, "device not found")
		return nil, false
	}
	return device, true
}

func ownerFromContext(r *http.Request) (urn.URN, bool) {
	var zero urn.URN
	userID, ok := middleware.GetUserHandleFromContext(r.Context())
	if !ok {
		return zero, false
	}
	owner, err := urn.Parse(userID)
	if err != nil {
		return zero, false
	}
	return owner, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
