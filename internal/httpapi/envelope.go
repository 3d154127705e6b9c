// Package httpapi implements the HTTP API surface (spec.md §6) with
// github.com/go-chi/chi/v5 routing and a cors.Handler, grounded on the
// pack's chi users (jordigilh-kubernaut, kadirpekel-hector). Every response
// is enveloped as {success, data|error, timestamp}.
package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/oychao1988/content-pipeline/internal/errkind"
)

type envelope struct {
	Success   bool       `json:"success"`
	Data      any        `json:"data,omitempty"`
	Error     *errorBody `json:"error,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
}

type errorBody struct {
	Kind    string         `json:"kind"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

func writeData(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, envelope{Success: true, Data: data, Timestamp: time.Now().UTC()})
}

func writeError(w http.ResponseWriter, err error) {
	status, body := classifyError(err)
	writeJSON(w, status, envelope{Success: false, Error: body, Timestamp: time.Now().UTC()})
}

func writeJSON(w http.ResponseWriter, status int, body envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func classifyError(err error) (int, *errorBody) {
	de, ok := err.(*errkind.DomainError)
	if !ok {
		return http.StatusInternalServerError, &errorBody{Kind: string(errkind.Internal), Message: err.Error()}
	}
	body := &errorBody{Kind: string(de.Kind), Message: de.Message, Details: de.Details}
	switch de.Kind {
	case errkind.Validation:
		return http.StatusBadRequest, body
	case errkind.NotFound, errkind.UnknownWorkflow:
		return http.StatusNotFound, body
	case errkind.VersionConflict:
		return http.StatusConflict, body
	case errkind.Cancelled:
		return http.StatusGone, body
	default:
		return http.StatusInternalServerError, body
	}
}
