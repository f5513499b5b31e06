package command

import (
	"errors"

	"github.com/maishede/little-eighteen/internal/remote"
)

// Local failure codes. Remote failures use remote.ErrTransportFailure and
// remote.ErrRemoteRejected.
var (
	ErrThrottled       = errors.New("THROTTLED")
	ErrInvalidArgument = errors.New("INVALID_ARGUMENT")
)

// Outcome classifies what happened to a command.
type Outcome int

const (
	Sent Outcome = iota
	Throttled
	InvalidArgument
	TransportFailure
	RemoteRejected
)

var outcomeNames = map[Outcome]string{
	Sent:             "Sent",
	Throttled:        "Throttled",
	InvalidArgument:  "InvalidArgument",
	TransportFailure: "TransportFailure",
	RemoteRejected:   "RemoteRejected",
}

func (o Outcome) String() string {
	if name, ok := outcomeNames[o]; ok {
		return name
	}
	return "Unknown"
}

// MarshalText encodes the outcome by name.
func (o Outcome) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// OutcomeOf maps an error to an Outcome. Unrecognised errors count as
// transport failures since the request is not known to have completed.
func OutcomeOf(err error) Outcome {
	switch {
	case err == nil:
		return Sent
	case errors.Is(err, ErrThrottled):
		return Throttled
	case errors.Is(err, ErrInvalidArgument):
		return InvalidArgument
	case errors.Is(err, remote.ErrRemoteRejected):
		return RemoteRejected
	default:
		return TransportFailure
	}
}

// Result is the final word on one dispatched command.
type Result struct {
	Command Command
	Outcome Outcome
	// Detail is the rover's message on success or its failure detail.
	Detail   string
	Err      error
	Response *remote.Response
}
