package handlers

import (
	"fmt"
	"net/http"

	"github.com/syncthing/syncthing/lib/protocol"

	"synctray-agent/internal/syncthing"
)

// DeviceManagementHandler handles device-related API requests
type DeviceManagementHandler struct {
	sup Supervisor
}

// NewDeviceManagementHandler creates a new device management handler
func NewDeviceManagementHandler(sup Supervisor) *DeviceManagementHandler {
	return &DeviceManagementHandler{sup: sup}
}

// ListDevicesResponse represents the response containing all devices
type ListDevicesResponse struct {
	Devices []syncthing.Device `json:"devices"`
}

// HandleListDevices handles GET /api/v1/devices
func (h *DeviceManagementHandler) HandleListDevices(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	devices := h.sup.FetchAllDevices()
	if devices == nil {
		devices = []syncthing.Device{}
	}
	writeJSON(w, http.StatusOK, ListDevicesResponse{Devices: devices})
}

// HandleGetDevice handles GET /api/v1/devices/get?id=. The id is accepted
// in any form Syncthing accepts (with or without dashes, lower case) and
// looked up in canonical form.
func (h *DeviceManagementHandler) HandleGetDevice(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	raw := r.URL.Query().Get("id")
	id, err := protocol.DeviceIDFromString(raw)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, Response{Message: fmt.Sprintf("Invalid device id: %v", err)})
		return
	}

	device, ok := h.sup.TryFetchDeviceByID(id.String())
	if !ok {
		writeJSON(w, http.StatusNotFound, Response{Message: fmt.Sprintf("Device %s not found", id.Short())})
		return
	}
	writeJSON(w, http.StatusOK, device)
}
