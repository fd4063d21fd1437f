// Package httpapi provides the JSON response helpers shared by the
// cmd/ingestd, cmd/matchd, and cmd/ragd HTTP surfaces.
package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/alicit/licita/internal/opportunity"
)

func RespondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func RespondError(w http.ResponseWriter, status int, err error) {
	RespondJSON(w, status, map[string]any{"error": err.Error()})
}

// RespondResult writes a Result[T] as §7's propagation policy describes:
// entry points translate the structured error into an HTTP status, never
// the component itself. Validation errors map to 400, everything else to
// 502 since the failure always traces back to an upstream dependency.
func RespondResult[T any](w http.ResponseWriter, result opportunity.Result[T]) {
	if result.Success() {
		RespondJSON(w, http.StatusOK, result.Data)
		return
	}
	status := http.StatusBadGateway
	if result.Err.Code == opportunity.ErrValidation {
		status = http.StatusBadRequest
	}
	RespondJSON(w, status, map[string]any{
		"error":  result.Err.Message,
		"code":   result.Err.Code,
		"action": result.Action,
	})
}
