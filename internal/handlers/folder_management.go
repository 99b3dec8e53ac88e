package handlers

import (
	"fmt"
	"net/http"

	"synctray-agent/internal/syncthing"
)

// FolderManagementHandler handles folder-related API requests
type FolderManagementHandler struct {
	sup     Supervisor
	folders FolderSource
}

// NewFolderManagementHandler creates a new folder management handler
func NewFolderManagementHandler(sup Supervisor, folders FolderSource) *FolderManagementHandler {
	return &FolderManagementHandler{
		sup:     sup,
		folders: folders,
	}
}

// FolderListResponse represents the response containing all folders
type FolderListResponse struct {
	Folders []syncthing.Folder `json:"folders"`
}

// HandleListFolders handles GET /api/v1/folders
func (h *FolderManagementHandler) HandleListFolders(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	folders := h.folders.FetchAll()
	if folders == nil {
		folders = []syncthing.Folder{}
	}
	writeJSON(w, http.StatusOK, FolderListResponse{Folders: folders})
}

// HandleGetFolder handles GET /api/v1/folders/get?id=
func (h *FolderManagementHandler) HandleGetFolder(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	id := r.URL.Query().Get("id")
	if id == "" {
		http.Error(w, "Missing folder id", http.StatusBadRequest)
		return
	}

	folder, ok := h.folders.TryFetchByID(id)
	if !ok {
		writeJSON(w, http.StatusNotFound, Response{Message: fmt.Sprintf("Folder %s not found", id)})
		return
	}
	writeJSON(w, http.StatusOK, folder)
}

// HandleScanFolder handles POST /api/v1/folders/scan?id=&sub=
func (h *FolderManagementHandler) HandleScanFolder(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	id := r.URL.Query().Get("id")
	if id == "" {
		http.Error(w, "Missing folder id", http.StatusBadRequest)
		return
	}

	sub := r.URL.Query().Get("sub")
	err := h.sup.Scan(r.Context(), id, sub)
	writeResult(w, err, fmt.Sprintf("Scan of folder %s requested", id))
}

// HandleReloadIgnores handles POST /api/v1/folders/ignores/reload?id=
func (h *FolderManagementHandler) HandleReloadIgnores(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	id := r.URL.Query().Get("id")
	if id == "" {
		http.Error(w, "Missing folder id", http.StatusBadRequest)
		return
	}

	err := h.sup.ReloadIgnores(r.Context(), id)
	writeResult(w, err, fmt.Sprintf("Ignores of folder %s reloaded", id))
}
