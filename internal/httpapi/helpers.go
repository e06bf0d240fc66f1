package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rendis/chatflow/pkg/schema"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeFlowError maps engine error codes onto HTTP statuses.
func writeFlowError(w http.ResponseWriter, err error) {
	var ferr *schema.FlowError
	if !errors.As(err, &ferr) {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	status := http.StatusInternalServerError
	switch ferr.Code {
	case schema.ErrCodeNotFound:
		status = http.StatusNotFound
	case schema.ErrCodeValidation, schema.ErrCodeDefinition:
		status = http.StatusBadRequest
	case schema.ErrCodeInvalidTransition, schema.ErrCodeConflict:
		status = http.StatusConflict
	case schema.ErrCodeExternalCall:
		status = http.StatusBadGateway
	case schema.ErrCodeTimeout:
		status = http.StatusGatewayTimeout
	}

	body := map[string]any{
		"error": ferr.Message,
		"code":  ferr.Code,
	}
	if ferr.NodeID != "" {
		body["nodeId"] = ferr.NodeID
	}
	if len(ferr.Details) > 0 {
		body["details"] = ferr.Details
	}
	writeJSON(w, status, body)
}
