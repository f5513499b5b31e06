package remote

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Normalised failure codes.
var (
	ErrTransportFailure = errors.New("TRANSPORT_FAILURE")
	ErrRemoteRejected   = errors.New("REMOTE_REJECTED")
)

// Error wraps a rover failure with diagnostic details.
type Error struct {
	Code     error  // ErrTransportFailure or ErrRemoteRejected
	Op       string // e.g. "POST /camera/start"
	Status   int    // HTTP status, 0 for transport failures
	Detail   string // rover-provided message, shown verbatim
	Original error  // underlying cause, if any
}

func (e *Error) Error() string {
	switch {
	case e.Detail != "":
		return fmt.Sprintf("%s: %v: %s", e.Op, e.Code, e.Detail)
	case e.Original != nil:
		return fmt.Sprintf("%s: %v: %v", e.Op, e.Code, e.Original)
	default:
		return fmt.Sprintf("%s: %v", e.Op, e.Code)
	}
}

func (e *Error) Unwrap() error {
	return e.Code
}

// Rejected builds an ErrRemoteRejected error for op.
func Rejected(op string, status int, detail string) error {
	return &Error{Code: ErrRemoteRejected, Op: op, Status: status, Detail: detail}
}

// Classify normalises err for op. Errors already classified pass through
// unchanged; anything else means the request did not complete.
func Classify(op string, err error) error {
	if err == nil {
		return nil
	}

	var re *Error
	if errors.As(err, &re) {
		return err
	}

	return &Error{Code: ErrTransportFailure, Op: op, Original: err}
}

// DetailOf returns the human-readable message carried by err, or err.Error().
func DetailOf(err error) string {
	if err == nil {
		return ""
	}
	var re *Error
	if errors.As(err, &re) && re.Detail != "" {
		return re.Detail
	}
	return err.Error()
}

// detailFromBody extracts the rover's failure message from a JSON body.
// The "detail" field is either a string or a list of validation entries
// carrying "msg"; "message" is used when "detail" is absent.
func detailFromBody(body []byte) string {
	var payload struct {
		Detail  json.RawMessage `json:"detail"`
		Message string          `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return strings.TrimSpace(string(body))
	}

	if len(payload.Detail) > 0 {
		var s string
		if err := json.Unmarshal(payload.Detail, &s); err == nil {
			return s
		}

		var entries []struct {
			Msg string `json:"msg"`
		}
		if err := json.Unmarshal(payload.Detail, &entries); err == nil {
			msgs := make([]string, 0, len(entries))
			for _, e := range entries {
				if e.Msg != "" {
					msgs = append(msgs, e.Msg)
				}
			}
			if len(msgs) > 0 {
				return strings.Join(msgs, "; ")
			}
		}

		return string(payload.Detail)
	}

	return payload.Message
}
