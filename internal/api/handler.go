package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
)

var validate = validator.New()

// Handler contains shared dependencies for all HTTP handlers.
type Handler struct {
	deps Deps
	log  zerolog.Logger
}

// NewHandler creates a Handler from d.
func NewHandler(d Deps) *Handler {
	return &Handler{
		deps: d,
		log:  d.Logger.With().Str("component", "api").Logger(),
	}
}

// JSON sends a JSON response with the given status code.
func (h *Handler) JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// Error sends a JSON error response with the given status code.
func (h *Handler) Error(w http.ResponseWriter, status int, message string) {
	h.JSON(w, status, map[string]string{"error": message})
}
