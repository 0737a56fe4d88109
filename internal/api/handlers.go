package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/charmbracelet/log"

	"github.com/shehryarbajwa/cloud-workstations/internal/logging"
	"github.com/shehryarbajwa/cloud-workstations/internal/provision"
	"github.com/shehryarbajwa/cloud-workstations/pkg/models"
)

const maxRequestBytes = 1 << 20

// Provisioner launches workstations. *provision.Manager implements it.
type Provisioner interface {
	Launch(ctx context.Context, req models.LaunchRequest) (*models.SessionDescriptor, error)
}

// Handler holds dependencies for HTTP handlers
type Handler struct {
	provisioner Provisioner
	logger      *log.Logger
	backend     string
	regions     []string
}

// NewHandler creates a new HTTP handler. backend and regions are reported by the health check.
func NewHandler(provisioner Provisioner, logger *log.Logger, backend string, regions []string) *Handler {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Handler{
		provisioner: provisioner,
		logger:      logger,
		backend:     backend,
		regions:     regions,
	}
}

// LaunchWorkstation handles POST /api/workstation/launch
func (h *Handler) LaunchWorkstation(w http.ResponseWriter, r *http.Request) {
	req, err := decodeLaunchRequest(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid launch request: "+err.Error())
		return
	}

	descriptor, err := h.provisioner.Launch(r.Context(), req)
	if err != nil {
		var perr *provision.Error
		if errors.As(err, &perr) {
			writeError(w, perr.Kind.HTTPStatus(), perr.Message)
			return
		}
		h.logger.Error("unclassified launch failure", "err", err)
		writeError(w, http.StatusInternalServerError, "Failed to launch workstation")
		return
	}

	writeJSON(w, http.StatusOK, descriptor)
}

// Health handles GET /healthz
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"backend": h.backend,
		"regions": h.regions,
	})
}

// decodeLaunchRequest reads a bounded JSON object from the body
func decodeLaunchRequest(w http.ResponseWriter, r *http.Request) (models.LaunchRequest, error) {
	var req models.LaunchRequest

	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	if err := dec.Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		var typeErr *json.UnmarshalTypeError
		switch {
		case errors.Is(err, io.EOF):
			return req, fmt.Errorf("body is required")
		case errors.As(err, &tooLarge):
			return req, fmt.Errorf("body exceeds %d bytes", tooLarge.Limit)
		case errors.As(err, &typeErr):
			return req, fmt.Errorf("%s has the wrong type", fieldName(typeErr))
		default:
			return req, fmt.Errorf("body is not valid JSON")
		}
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return req, fmt.Errorf("body must contain a single JSON object")
	}
	return req, nil
}

func fieldName(err *json.UnmarshalTypeError) string {
	if err.Field == "" {
		return "body"
	}
	return err.Field
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, models.ErrorResponse{Error: message})
}
