package command

import (
	"fmt"
	"sort"
	"strings"
)

// Direction is a motion command as the rover names it on the wire.
type Direction string

// Motion vocabulary.
const (
	Forward      Direction = "move_forward"
	Back         Direction = "move_back"
	Left         Direction = "move_left"
	Right        Direction = "move_right"
	LeftForward  Direction = "move_left_forward"
	RightForward Direction = "move_right_forward"
	LeftBack     Direction = "move_left_back"
	RightBack    Direction = "move_right_back"
	TurnLeft     Direction = "turn_left"
	TurnRight    Direction = "turn_right"
	Stop         Direction = "stop"
	StrafeLeft   Direction = "strafe_left"
	StrafeRight  Direction = "strafe_right"
)

var directions = map[Direction]struct{}{
	Forward: {}, Back: {}, Left: {}, Right: {},
	LeftForward: {}, RightForward: {}, LeftBack: {}, RightBack: {},
	TurnLeft: {}, TurnRight: {}, Stop: {},
	StrafeLeft: {}, StrafeRight: {},
}

// aliases maps short operator spellings to wire directions.
var aliases = map[string]Direction{
	"forward":       Forward,
	"back":          Back,
	"backward":      Back,
	"left":          Left,
	"right":         Right,
	"left_forward":  LeftForward,
	"right_forward": RightForward,
	"left_back":     LeftBack,
	"right_back":    RightBack,
	"forward_left":  LeftForward,
	"forward_right": RightForward,
	"back_left":     LeftBack,
	"back_right":    RightBack,
	"halt":          Stop,
}

// Valid reports whether d is in the rover's vocabulary.
func (d Direction) Valid() bool {
	_, ok := directions[d]
	return ok
}

// ParseDirection accepts wire names and short aliases, case-insensitively.
// Hyphens and spaces are treated as underscores.
func ParseDirection(s string) (Direction, error) {
	key := strings.ToLower(strings.TrimSpace(s))
	key = strings.NewReplacer("-", "_", " ", "_").Replace(key)

	if d := Direction(key); d.Valid() {
		return d, nil
	}
	if d, ok := aliases[key]; ok {
		return d, nil
	}
	return "", fmt.Errorf("unknown direction %q: %w", s, ErrInvalidArgument)
}

// Directions returns the vocabulary in sorted order.
func Directions() []Direction {
	out := make([]Direction, 0, len(directions))
	for d := range directions {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Command is one operator intent. Implementations are immutable values.
type Command interface {
	// Kind names the variant for logs, audit records and events.
	Kind() string
	command()
}

// Motion moves or stops the rover.
type Motion struct {
	Direction Direction
}

// SpeedSet changes the drive speed.
type SpeedSet struct {
	Value int
}

// FreeText is a natural-language instruction parsed by the rover.
type FreeText struct {
	Text string
}

func (Motion) Kind() string   { return "move" }
func (SpeedSet) Kind() string { return "speed" }
func (FreeText) Kind() string { return "text" }

func (Motion) command()   {}
func (SpeedSet) command() {}
func (FreeText) command() {}

func (m Motion) String() string   { return "move " + string(m.Direction) }
func (s SpeedSet) String() string { return fmt.Sprintf("speed %d", s.Value) }
func (f FreeText) String() string { return fmt.Sprintf("text %q", f.Text) }
