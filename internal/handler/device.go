package handler

import (
	"log/slog"
	"net/http"

	"github.com/memora-app/memora/internal/auth"
	"github.com/memora-app/memora/internal/service"
)

// DeviceHandler exposes the memory-box endpoints.
type DeviceHandler struct {
	svc    *service.DeviceService
	logger *slog.Logger
}

func NewDeviceHandler(svc *service.DeviceService, logger *slog.Logger) *DeviceHandler {
	return &DeviceHandler{svc: svc, logger: logger}
}

type registerDeviceRequest struct {
	BoxID string `json:"boxId"`
}

// HandleRegister attaches a new memory box to the user's family. The
// response carries the pairing code; it is shown exactly once.
//
// HTTP: POST /api/devices
// Auth: required
func (h *DeviceHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())

	var req registerDeviceRequest
	if !decodeBody(w, r, &req) {
		return
	}

	device, err := h.svc.Register(r.Context(), userID, req.BoxID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, device)
}

type activateDeviceRequest struct {
	PairingCode string `json:"pairingCode"`
}

// HandleActivate pairs a pending device with its one-time code.
//
// HTTP: POST /api/devices/{id}/activate
// Auth: required
func (h *DeviceHandler) HandleActivate(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())

	var req activateDeviceRequest
	if !decodeBody(w, r, &req) {
		return
	}

	if err := h.svc.Activate(r.Context(), userID, r.PathValue("id"), req.PairingCode); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "active"})
}

// HandleList returns the family's devices.
//
// HTTP: GET /api/devices
// Auth: required
func (h *DeviceHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())

	devices, err := h.svc.List(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, devices)
}
