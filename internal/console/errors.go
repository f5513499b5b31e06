package console

import (
	"errors"
	"net/http"

	"github.com/maishede/little-eighteen/internal/camera"
	"github.com/maishede/little-eighteen/internal/command"
	"github.com/maishede/little-eighteen/internal/remote"
	"github.com/maishede/little-eighteen/internal/speech"
)

// ErrBadRequest marks malformed request bodies.
var ErrBadRequest = errors.New("BAD_REQUEST")

// apiError is an error resolved to its wire code and HTTP status.
type apiError struct {
	Status  int
	Code    string
	Message string
	Details interface{}
}

// toAPIError maps component errors onto HTTP status and code.
func toAPIError(err error) apiError {
	switch {
	case errors.Is(err, command.ErrInvalidArgument):
		return apiError{http.StatusBadRequest, "INVALID_ARGUMENT", err.Error(), nil}
	case errors.Is(err, ErrBadRequest):
		return apiError{http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil}
	case errors.Is(err, command.ErrThrottled):
		return apiError{http.StatusTooManyRequests, "THROTTLED", "Command dropped by rate limit", nil}
	case errors.Is(err, camera.ErrBusy):
		return apiError{http.StatusConflict, "BUSY", err.Error(), nil}
	case errors.Is(err, speech.ErrNotConnected):
		return apiError{http.StatusConflict, "NOT_CONNECTED", err.Error(), nil}
	case errors.Is(err, remote.ErrRemoteRejected):
		return apiError{http.StatusBadGateway, "REMOTE_REJECTED", remote.DetailOf(err), remoteDetails(err)}
	case errors.Is(err, remote.ErrTransportFailure):
		return apiError{http.StatusServiceUnavailable, "TRANSPORT_FAILURE", remote.DetailOf(err), remoteDetails(err)}
	default:
		return apiError{http.StatusInternalServerError, "INTERNAL", "Internal server error",
			map[string]interface{}{"original": err.Error()}}
	}
}

func remoteDetails(err error) interface{} {
	var rerr *remote.Error
	if !errors.As(err, &rerr) {
		return nil
	}
	details := map[string]interface{}{"op": rerr.Op}
	if rerr.Status != 0 {
		details["status"] = rerr.Status
	}
	return details
}

// writeErr writes err's envelope.
func writeErr(w http.ResponseWriter, r *http.Request, err error) {
	e := toAPIError(err)
	WriteError(w, r, e.Status, e.Code, e.Message, e.Details)
}
