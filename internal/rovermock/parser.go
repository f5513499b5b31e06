package rovermock

import (
	"strings"

	"github.com/maishede/little-eighteen/internal/command"
)

type phraseRule struct {
	cmd     command.Direction
	phrases []string
}

// chineseRules are checked in order; the first rule with a phrase
// contained in the text wins.
var chineseRules = []phraseRule{
	{command.Forward, []string{"前进", "向前走"}},
	{command.Back, []string{"后退", "退后", "往后"}},
	{command.Left, []string{"左平移", "向左平移", "左移"}},
	{command.Right, []string{"右平移", "向右平移", "右移"}},
	{command.TurnLeft, []string{"左转", "原地左转"}},
	{command.TurnRight, []string{"右转", "原地右转"}},
	{command.LeftForward, []string{"左前", "左前斜向"}},
	{command.RightForward, []string{"右前", "右前斜向"}},
	{command.LeftBack, []string{"左后", "左后斜向"}},
	{command.RightBack, []string{"右后", "右后斜向"}},
	{command.Stop, []string{"停止", "停", "暂停", "别动"}},
}

// englishRules put compound phrases before the single words they contain.
var englishRules = []phraseRule{
	{command.Stop, []string{"stop", "halt", "freeze", "don't move"}},
	{command.TurnLeft, []string{"turn left", "spin left", "rotate left"}},
	{command.TurnRight, []string{"turn right", "spin right", "rotate right"}},
	{command.LeftForward, []string{"left forward", "forward left"}},
	{command.RightForward, []string{"right forward", "forward right"}},
	{command.LeftBack, []string{"left back", "back left"}},
	{command.RightBack, []string{"right back", "back right"}},
	{command.StrafeLeft, []string{"strafe left"}},
	{command.StrafeRight, []string{"strafe right"}},
	{command.Forward, []string{"forward", "go ahead", "ahead"}},
	{command.Back, []string{"backward", "back", "reverse"}},
	{command.Left, []string{"slide left", "left"}},
	{command.Right, []string{"slide right", "right"}},
}

// ParseVoice maps recognised speech or typed text to a motion command.
func ParseVoice(text string) (command.Direction, bool) {
	text = strings.ToLower(strings.TrimSpace(text))
	if text == "" {
		return "", false
	}

	for _, rules := range [][]phraseRule{chineseRules, englishRules} {
		for _, rule := range rules {
			for _, phrase := range rule.phrases {
				if strings.Contains(text, phrase) {
					return rule.cmd, true
				}
			}
		}
	}
	return "", false
}
