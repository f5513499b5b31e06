package console

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"github.com/maishede/little-eighteen/internal/audit"
)

// Response is the unified envelope.
type Response struct {
	Result        string      `json:"result"`
	Data          interface{} `json:"data,omitempty"`
	Code          string      `json:"code,omitempty"`
	Message       string      `json:"message,omitempty"`
	Details       interface{} `json:"details,omitempty"`
	CorrelationID string      `json:"correlationId"`
}

// SuccessResponse creates a success response.
func SuccessResponse(ctx context.Context, data interface{}) *Response {
	return &Response{
		Result:        "ok",
		Data:          data,
		CorrelationID: correlationID(ctx),
	}
}

// ErrorResponse creates an error response.
func ErrorResponse(ctx context.Context, code, message string, details interface{}) *Response {
	return &Response{
		Result:        "error",
		Code:          code,
		Message:       message,
		Details:       details,
		CorrelationID: correlationID(ctx),
	}
}

// WriteSuccess writes a 200 success envelope.
func WriteSuccess(w http.ResponseWriter, r *http.Request, data interface{}) {
	writeResponse(w, http.StatusOK, SuccessResponse(r.Context(), data))
}

// WriteAccepted writes a 202 envelope for work still in flight.
func WriteAccepted(w http.ResponseWriter, r *http.Request, data interface{}) {
	writeResponse(w, http.StatusAccepted, SuccessResponse(r.Context(), data))
}

// WriteError writes an error envelope.
func WriteError(w http.ResponseWriter, r *http.Request, statusCode int, code, message string, details interface{}) {
	writeResponse(w, statusCode, ErrorResponse(r.Context(), code, message, details))
}

func writeResponse(w http.ResponseWriter, statusCode int, response *Response) {
	body, err := json.Marshal(response)
	if err != nil {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprintf(w, "Internal server error: %v", err)
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(statusCode)
	_, _ = w.Write(append(body, '\n'))
}

// correlationID returns the request's id, minting one outside a request.
func correlationID(ctx context.Context) string {
	if id := audit.CorrelationIDFromContext(ctx); id != "" {
		return id
	}
	return uuid.NewString()
}
