package console

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/maishede/little-eighteen/internal/command"
	"github.com/maishede/little-eighteen/internal/demo"
	"github.com/maishede/little-eighteen/internal/telemetry"
)

const replHelp = `commands:
  <direction>               move, e.g. forward, left_back, turn_left, stop
  move <direction>          same as above
  speed <n>                 set speed
  text <instruction>        send a free-text instruction
  halt                      stop any demo and the motors
  camera start|stop
  speech connect|disconnect|send <text>
  demo list|start <name>|stop
  state                     print the full state
  help
  quit`

// REPL drives a rover session from a line-oriented terminal.
type REPL struct {
	rover     RoverPort
	telemetry TelemetryPort
	in        io.Reader

	mu  sync.Mutex
	out io.Writer
}

// NewREPL creates a REPL. telemetry may be nil to suppress event output.
func NewREPL(rover RoverPort, telemetry TelemetryPort, in io.Reader, out io.Writer) *REPL {
	return &REPL{rover: rover, telemetry: telemetry, in: in, out: out}
}

// Run reads commands until input ends, quit is entered or ctx is done.
func (p *REPL) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if p.telemetry != nil {
		events, stop := p.telemetry.Listen(64)
		defer stop()
		go p.printEvents(events)
	}

	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(p.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		readErr <- scanner.Err()
	}()

	p.printf("rover console ready, type help for commands\n")
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-readErr:
			return err
		case line := <-lines:
			if quit := p.Execute(ctx, line); quit {
				return nil
			}
		}
	}
}

// Execute runs one command line and reports whether the REPL should exit.
func (p *REPL) Execute(ctx context.Context, line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}
	verb, args := strings.ToLower(fields[0]), fields[1:]

	switch verb {
	case "quit", "exit":
		return true
	case "help", "?":
		p.printf("%s\n", replHelp)
	case "state":
		p.printState()
	case "move":
		if len(args) == 0 {
			p.printf("usage: move <direction>\n")
			return false
		}
		_, results := p.rover.Move(ctx, strings.Join(args, "_"))
		p.awaitCommand(ctx, results)
	case "speed":
		if len(args) != 1 {
			p.printf("usage: speed <n>\n")
			return false
		}
		n, err := strconv.Atoi(args[0])
		if err != nil {
			p.printf("error: INVALID_ARGUMENT speed %q is not a number\n", args[0])
			return false
		}
		_, results := p.rover.SetSpeed(ctx, n)
		p.awaitCommand(ctx, results)
	case "text", "say":
		_, results := p.rover.SendText(ctx, strings.Join(args, " "))
		p.awaitCommand(ctx, results)
	case "halt":
		_, results := p.rover.Halt(ctx)
		p.awaitCommand(ctx, results)
	case "camera":
		p.camera(ctx, args)
	case "speech":
		p.speech(ctx, args)
	case "demo":
		p.demo(ctx, args)
	default:
		if d, err := command.ParseDirection(strings.Join(fields, "_")); err == nil {
			_, results := p.rover.Move(ctx, string(d))
			p.awaitCommand(ctx, results)
			return false
		}
		p.printf("unknown command %q, type help\n", verb)
	}
	return false
}

func (p *REPL) camera(ctx context.Context, args []string) {
	switch firstArg(args) {
	case "start":
		if err := p.rover.StartCamera(ctx); err != nil {
			p.printErr(err)
			return
		}
	case "stop":
		p.rover.StopCamera(ctx)
	default:
		p.printf("usage: camera start|stop\n")
		return
	}
	p.printf("camera: %v\n", p.rover.Snapshot().Camera.State)
}

func (p *REPL) speech(ctx context.Context, args []string) {
	switch firstArg(args) {
	case "connect":
		p.rover.ConnectSpeech(ctx)
	case "disconnect":
		p.rover.DisconnectSpeech(ctx)
	case "send":
		if err := p.rover.SendSpeech(strings.Join(args[1:], " ")); err != nil {
			p.printErr(err)
		}
		return
	default:
		p.printf("usage: speech connect|disconnect|send <text>\n")
		return
	}
	p.printf("speech: %v\n", p.rover.Snapshot().Speech.State)
}

func (p *REPL) demo(ctx context.Context, args []string) {
	switch firstArg(args) {
	case "list":
		p.printf("%s\n", strings.Join(p.rover.Snapshot().Demos, "\n"))
	case "start":
		results, err := p.rover.StartDemo(ctx, strings.Join(args[1:], " "))
		if err != nil {
			p.printErr(err)
			return
		}
		p.awaitDemo(ctx, results)
	case "stop":
		p.awaitDemo(ctx, p.rover.StopDemo(ctx))
	default:
		p.printf("usage: demo list|start <name>|stop\n")
	}
}

func (p *REPL) awaitCommand(ctx context.Context, results <-chan command.Result) {
	select {
	case res := <-results:
		if res.Err != nil {
			p.printErr(res.Err)
			return
		}
		msg := ""
		if res.Response != nil {
			msg = res.Response.Message
		}
		p.printf("ok: %s %s\n", res.Command.Kind(), msg)
	case <-ctx.Done():
	}
}

func (p *REPL) awaitDemo(ctx context.Context, results <-chan demo.Result) {
	select {
	case res := <-results:
		if res.Err != nil {
			p.printErr(res.Err)
			return
		}
		p.printf("ok: %s %s\n", p.rover.Snapshot().Demo, res.Message)
	case <-ctx.Done():
	}
}

func (p *REPL) printState() {
	body, err := json.MarshalIndent(p.rover.Snapshot(), "", "  ")
	if err != nil {
		p.printErr(err)
		return
	}
	p.printf("%s\n", body)
}

func (p *REPL) printEvents(events <-chan telemetry.Event) {
	for event := range events {
		if event.Type == "heartbeat" {
			continue
		}
		data, _ := json.Marshal(event.Data)
		p.printf("[%s] %s %s\n", event.Topic, event.Type, data)
	}
}

func (p *REPL) printErr(err error) {
	e := toAPIError(err)
	p.printf("error: %s %s\n", e.Code, e.Message)
}

func (p *REPL) printf(format string, args ...interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.out, format, args...)
}

func firstArg(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return strings.ToLower(args[0])
}
