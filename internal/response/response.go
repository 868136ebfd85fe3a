// Package response writes the JSON envelope every endpoint answers with:
// {"status": "success"|"error", "message": ..., "data"|"errors": ...}.
package response

import (
	"encoding/json"
	"log"
	"net/http"

	apperrors "github.com/raakeshmj/postplane/internal/errors"
)

type Envelope struct {
	Status  string              `json:"status"`
	Message string              `json:"message,omitempty"`
	Data    any                 `json:"data,omitempty"`
	Errors  map[string][]string `json:"errors,omitempty"`
	Code    apperrors.Code      `json:"code,omitempty"`
}

// WriteJSON encodes v with the given status code.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("response: encode body: %v", err)
	}
}

func Success(w http.ResponseWriter, status int, message string, data any) {
	WriteJSON(w, status, Envelope{Status: "success", Message: message, Data: data})
}

func NoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// Error maps err onto its status code. Errors without a domain code are
// logged and reported as a generic internal error.
func Error(w http.ResponseWriter, err error) {
	e, ok := apperrors.As(err)
	if !ok || e.Code == apperrors.CodeInternal {
		log.Printf("internal error: %v", err)
		WriteJSON(w, http.StatusInternalServerError, Envelope{
			Status:  "error",
			Message: "internal server error",
			Code:    apperrors.CodeInternal,
		})
		return
	}
	WriteJSON(w, e.Code.HTTPStatus(), Envelope{
		Status:  "error",
		Message: e.Message,
		Errors:  e.Fields,
		Code:    e.Code,
	})
}
