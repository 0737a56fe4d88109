package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/shehryarbajwa/cloud-workstations/internal/catalog"
	"github.com/shehryarbajwa/cloud-workstations/internal/proxy"
)

// CatalogHandler serves the OS display catalog
type CatalogHandler struct {
	catalog catalog.Catalog
}

// NewCatalogHandler creates a new catalog HTTP handler
func NewCatalogHandler(c catalog.Catalog) *CatalogHandler {
	return &CatalogHandler{catalog: c}
}

// GetCatalog handles GET /api/workstation/catalog
func (h *CatalogHandler) GetCatalog(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Cache-Control", "public, max-age=300")
	writeJSON(w, http.StatusOK, h.catalog.Entries())
}

// connectHandler handles GET /api/workstation/{id}/connect
func connectHandler(proxyServer *proxy.Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		proxyServer.HandleConnection(w, r, mux.Vars(r)["id"])
	}
}
