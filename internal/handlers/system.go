package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"

	"synctray-agent/internal/syncthing"
)

// SystemHandler serves process status and lifecycle requests
type SystemHandler struct {
	sup Supervisor
}

func NewSystemHandler(sup Supervisor) *SystemHandler {
	return &SystemHandler{sup: sup}
}

// StatusResponse is the body of GET /api/v1/status. Version and times are
// only filled in once data is loaded.
type StatusResponse struct {
	State                 string             `json:"state"`
	DataLoaded            bool               `json:"data_loaded"`
	Version               *syncthing.Version `json:"version,omitempty"`
	StartedAt             *time.Time         `json:"started_at,omitempty"`
	Started               string             `json:"started,omitempty"`
	LastConnectivityEvent *time.Time         `json:"last_connectivity_event,omitempty"`
	Connections           ConnectionsStatus  `json:"connections"`
}

type ConnectionsStatus struct {
	InBytesTotal      int64   `json:"in_bytes_total"`
	OutBytesTotal     int64   `json:"out_bytes_total"`
	InBytesPerSecond  float64 `json:"in_bytes_per_second"`
	OutBytesPerSecond float64 `json:"out_bytes_per_second"`
	In                string  `json:"in"`
	Out               string  `json:"out"`
}

// HandleStatus handles GET /api/v1/status
func (h *SystemHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}

	stats := h.sup.TotalConnectionStats()
	resp := StatusResponse{
		State:      h.sup.State().String(),
		DataLoaded: h.sup.IsDataLoaded(),
		Connections: ConnectionsStatus{
			InBytesTotal:      stats.InBytesTotal,
			OutBytesTotal:     stats.OutBytesTotal,
			InBytesPerSecond:  stats.InBytesPerSecond,
			OutBytesPerSecond: stats.OutBytesPerSecond,
			In:                transferSummary(stats.InBytesTotal, stats.InBytesPerSecond),
			Out:               transferSummary(stats.OutBytesTotal, stats.OutBytesPerSecond),
		},
	}

	if resp.DataLoaded {
		version := h.sup.Version()
		resp.Version = &version
		if started := h.sup.StartedTime(); !started.IsZero() {
			resp.StartedAt = &started
			resp.Started = humanize.Time(started)
		}
	}
	if last := h.sup.LastConnectivityEventTime(); !last.IsZero() {
		resp.LastConnectivityEvent = &last
	}

	writeJSON(w, http.StatusOK, resp)
}

func transferSummary(total int64, perSecond float64) string {
	if total < 0 {
		total = 0
	}
	if perSecond < 0 {
		perSecond = 0
	}
	return fmt.Sprintf("%s (%s/s)", humanize.Bytes(uint64(total)), humanize.Bytes(uint64(perSecond)))
}

// HandleStart handles POST /api/v1/start
func (h *SystemHandler) HandleStart(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	writeResult(w, h.sup.Start(r.Context()), "Syncthing starting")
}

// HandleStop handles POST /api/v1/stop. When the graceful stop fails while
// a process is still around, Syncthing is killed instead.
func (h *SystemHandler) HandleStop(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	err := h.sup.Stop(r.Context())
	if err == nil || h.sup.State() == syncthing.StateStopped {
		writeResult(w, err, "Syncthing stopping")
		return
	}
	if kerr := h.sup.Kill(); kerr != nil {
		writeResult(w, fmt.Errorf("graceful stop failed (%v), kill failed: %w", err, kerr), "")
		return
	}
	writeResult(w, nil, fmt.Sprintf("Graceful stop failed (%v); Syncthing killed", err))
}

// HandleKill handles POST /api/v1/kill
func (h *SystemHandler) HandleKill(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	writeResult(w, h.sup.Kill(), "Syncthing killed")
}

// HandleRestart handles POST /api/v1/restart
func (h *SystemHandler) HandleRestart(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	writeResult(w, h.sup.Restart(r.Context()), "Syncthing restarting")
}
