package rovermock

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/maishede/little-eighteen/internal/command"
)

// maxHistory bounds the recorded command log.
const maxHistory = 256

var (
	ErrDemoRunning = errors.New("demo already running")
	ErrUnknownDemo = errors.New("unknown demo")
)

// Faults selects injected failures.
type Faults struct {
	FailCameraStart bool `json:"failCameraStart"`
	RejectAll       bool `json:"rejectAll"`
	Offline         bool `json:"offline"`
}

type demoRun struct {
	name   string
	cancel context.CancelFunc
	done   chan struct{}
}

// State is the emulated rover. It is safe for concurrent use.
type State struct {
	mu       sync.RWMutex
	speed    int
	cameraOn bool
	history  []command.Direction
	demo     *demoRun
	faults   Faults
	stepUnit time.Duration
	logger   *log.Logger

	wg sync.WaitGroup
}

// NewState creates an idle rover at the given speed.
func NewState(speed int, stepUnit time.Duration, logger *log.Logger) *State {
	if logger == nil {
		logger = log.Default()
	}
	return &State{speed: speed, stepUnit: stepUnit, logger: logger}
}

// Execute records a motion command as executed.
func (s *State) Execute(cmd command.Direction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.executeLocked(cmd)
}

func (s *State) executeLocked(cmd command.Direction) {
	if !cmd.Valid() {
		s.logger.Printf("rovermock: unsupported command %q", cmd)
		return
	}
	s.history = append(s.history, cmd)
	if len(s.history) > maxHistory {
		s.history = s.history[len(s.history)-maxHistory:]
	}
	s.logger.Printf("rovermock: executing %s", cmd)
}

// History returns executed commands, oldest first.
func (s *State) History() []command.Direction {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]command.Direction, len(s.history))
	copy(out, s.history)
	return out
}

// SetSpeed stores the motor speed.
func (s *State) SetSpeed(speed int) {
	s.mu.Lock()
	s.speed = speed
	s.mu.Unlock()
}

// Speed returns the motor speed.
func (s *State) Speed() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.speed
}

// SetCamera switches the camera and returns whether it was on.
func (s *State) SetCamera(on bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	was := s.cameraOn
	s.cameraOn = on
	return was
}

// CameraOn reports whether the camera is capturing.
func (s *State) CameraOn() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cameraOn
}

// SetFaults replaces the injected faults.
func (s *State) SetFaults(f Faults) {
	s.mu.Lock()
	s.faults = f
	s.mu.Unlock()
}

// Faults returns the injected faults.
func (s *State) Faults() Faults {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.faults
}

// StartDemo runs a named sequence in the background. Only one demo runs at
// a time.
func (s *State) StartDemo(name string) error {
	steps, ok := Sequences[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownDemo, name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.demo != nil {
		return fmt.Errorf("%w: %q", ErrDemoRunning, s.demo.name)
	}

	ctx, cancel := context.WithCancel(context.Background())
	run := &demoRun{name: name, cancel: cancel, done: make(chan struct{})}
	s.demo = run

	s.wg.Add(1)
	go s.runDemo(ctx, run, steps)
	s.logger.Printf("rovermock: demo %s started", name)
	return nil
}

func (s *State) runDemo(ctx context.Context, run *demoRun, steps []Step) {
	defer s.wg.Done()
	defer close(run.done)

	for _, step := range steps {
		if ctx.Err() != nil {
			break
		}
		s.Execute(step.Cmd)

		timer := time.NewTimer(time.Duration(step.Units * float64(s.stepUnit)))
		select {
		case <-ctx.Done():
			timer.Stop()
		case <-timer.C:
		}
	}

	s.mu.Lock()
	s.executeLocked(command.Stop)
	if s.demo == run {
		s.demo = nil
	}
	s.mu.Unlock()
	s.logger.Printf("rovermock: demo %s finished", run.name)
}

// StopDemo interrupts the running demo and stops the motors. It reports
// whether a demo was running.
func (s *State) StopDemo() bool {
	s.mu.Lock()
	run := s.demo
	s.demo = nil
	s.mu.Unlock()

	if run == nil {
		return false
	}
	run.cancel()
	<-run.done
	s.Execute(command.Stop)
	return true
}

// RunningDemo returns the running demo's name, or "".
func (s *State) RunningDemo() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.demo == nil {
		return ""
	}
	return s.demo.name
}

// Close stops any demo and waits for it to exit.
func (s *State) Close() {
	s.StopDemo()
	s.wg.Wait()
}
