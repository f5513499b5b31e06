package rovermock

import "github.com/maishede/little-eighteen/internal/command"

// Step runs one motion for Units step units.
type Step struct {
	Cmd   command.Direction
	Units float64
}

// Sequences holds the built-in demos by name.
var Sequences = map[string][]Step{
	"digit_0": {
		{command.Forward, 1.5}, {command.Right, 1.5}, {command.Back, 1.5},
		{command.Left, 1.5}, {command.Forward, 0.75},
	},
	"digit_1": {
		{command.Forward, 2}, {command.Back, 1},
	},
	"digit_2": {
		{command.Right, 1}, {command.LeftBack, 1.5}, {command.Right, 1},
		{command.Forward, 0.5}, {command.Left, 0.5},
	},
	"digit_3": {
		{command.Right, 1}, {command.LeftBack, 0.75}, {command.Left, 0.5},
		{command.Right, 0.5}, {command.LeftBack, 0.75}, {command.Back, 0.5},
		{command.Left, 0.5},
	},
	"digit_4": {
		{command.RightBack, 1.5}, {command.Right, 1}, {command.Forward, 1.5},
		{command.Back, 0.5}, {command.Left, 0.5},
	},
	"digit_5": {
		{command.Right, 1}, {command.Back, 1}, {command.LeftBack, 0.75},
		{command.Left, 1}, {command.Forward, 0.5},
	},
	"digit_6": {
		{command.Left, 1}, {command.Back, 1}, {command.Right, 1},
		{command.Forward, 1}, {command.Left, 0.5},
	},
	"digit_7": {
		{command.Right, 1.5}, {command.LeftBack, 2}, {command.Forward, 0.75},
		{command.Left, 0.75},
	},
	"digit_8": {
		{command.Forward, 1}, {command.Right, 1}, {command.Back, 1},
		{command.Left, 1}, {command.Back, 1}, {command.Forward, 1},
		{command.Right, 1}, {command.Back, 1}, {command.Left, 1},
		{command.Forward, 0.5},
	},
	"digit_9": {
		{command.Right, 1}, {command.Back, 1}, {command.Left, 1},
		{command.Forward, 1}, {command.Back, 1}, {command.Left, 0.5},
	},
	"crab_walk": repeat(5, Step{command.Left, 0.4}, Step{command.Right, 0.4}),
	"box_step": {
		{command.Forward, 1.5}, {command.Left, 1.5}, {command.Back, 1.5},
		{command.Right, 1.5},
	},
	"s_curve": {
		{command.Forward, 1.2}, {command.TurnLeft, 0.7}, {command.Forward, 1.2},
		{command.TurnRight, 0.7}, {command.Forward, 1.2},
	},
	"z_curve": {
		{command.Forward, 1.5}, {command.TurnRight, 1}, {command.Forward, 1.5},
		{command.TurnLeft, 1}, {command.Forward, 1.5},
	},
	"spin_fast": repeat(3, Step{command.TurnLeft, 0.8}, Step{command.TurnRight, 0.8}),
}

func repeat(n int, steps ...Step) []Step {
	out := make([]Step, 0, n*len(steps))
	for i := 0; i < n; i++ {
		out = append(out, steps...)
	}
	return out
}
