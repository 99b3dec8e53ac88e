// Package handlers exposes the supervisor over a small JSON HTTP API.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"synctray-agent/internal/api"
	"synctray-agent/internal/middleware"
	"synctray-agent/internal/syncthing"
)

// Supervisor is the part of syncthing.Manager the handlers drive.
type Supervisor interface {
	State() syncthing.State
	IsDataLoaded() bool
	Version() syncthing.Version
	StartedTime() time.Time
	LastConnectivityEventTime() time.Time
	TotalConnectionStats() syncthing.ConnectionStats

	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Restart(ctx context.Context) error
	Kill() error

	Scan(ctx context.Context, folderID, subPath string) error
	ReloadIgnores(ctx context.Context, folderID string) error
	TryFetchDeviceByID(id string) (syncthing.Device, bool)
	FetchAllDevices() []syncthing.Device
}

// FolderSource reads the current folder set.
type FolderSource interface {
	FetchAll() []syncthing.Folder
	TryFetchByID(id string) (syncthing.Folder, bool)
}

// Response is the body of every action endpoint.
type Response struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// NewRouter registers every route. Each one goes through the rate limiter
// and, when a secret is configured, token auth. feed may be nil.
func NewRouter(sup Supervisor, folders FolderSource, feed http.HandlerFunc, limiter *middleware.RateLimiter, auth *middleware.TokenAuth) http.Handler {
	system := NewSystemHandler(sup)
	folderHandler := NewFolderManagementHandler(sup, folders)
	deviceHandler := NewDeviceManagementHandler(sup)

	wrap := func(h http.HandlerFunc) http.HandlerFunc {
		return limiter.Limit(auth.Require(h))
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/status", wrap(system.HandleStatus))
	mux.HandleFunc("/api/v1/start", wrap(system.HandleStart))
	mux.HandleFunc("/api/v1/stop", wrap(system.HandleStop))
	mux.HandleFunc("/api/v1/restart", wrap(system.HandleRestart))
	mux.HandleFunc("/api/v1/kill", wrap(system.HandleKill))

	mux.HandleFunc("/api/v1/folders", wrap(folderHandler.HandleListFolders))
	mux.HandleFunc("/api/v1/folders/get", wrap(folderHandler.HandleGetFolder))
	mux.HandleFunc("/api/v1/folders/scan", wrap(folderHandler.HandleScanFolder))
	mux.HandleFunc("/api/v1/folders/ignores/reload", wrap(folderHandler.HandleReloadIgnores))

	mux.HandleFunc("/api/v1/devices", wrap(deviceHandler.HandleListDevices))
	mux.HandleFunc("/api/v1/devices/get", wrap(deviceHandler.HandleGetDevice))

	if feed != nil {
		mux.HandleFunc("/api/v1/feed", wrap(feed))
	}
	return mux
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeResult reports the outcome of an action, mapping known errors to
// status codes.
func writeResult(w http.ResponseWriter, err error, okMessage string) {
	if err == nil {
		writeJSON(w, http.StatusOK, Response{Success: true, Message: okMessage})
		return
	}
	writeJSON(w, statusFor(err), Response{Success: false, Message: err.Error()})
}

func statusFor(err error) int {
	var statusErr *api.StatusError
	switch {
	case errors.Is(err, syncthing.ErrUnknownFolder):
		return http.StatusNotFound
	case errors.Is(err, syncthing.ErrInvalidState), errors.Is(err, syncthing.ErrInvalidTransition):
		return http.StatusConflict
	case errors.As(err, &statusErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func requireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	return true
}
