package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Mode distinguishes the two delivery paths sharing this state machine.
type Mode int

const (
	ModeBatch Mode = iota
	ModeInteractive
)

func (m Mode) String() string {
	if m == ModeInteractive {
		return "interactive"
	}
	return "batch"
}

// State is a node in the Execution State Machine (spec §4.4).
type State int

const (
	StateAdmitted State = iota
	StatePreparing
	StateBuilding // batch only
	StateStarting
	StateRunning
	StateStopping // deadline/cancellation forcing a stop
	StateDraining
	StateCleanup
	StateDone
)

func (s State) String() string {
	switch s {
	case StateAdmitted:
		return "admitted"
	case StatePreparing:
		return "preparing"
	case StateBuilding:
		return "building"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateDraining:
		return "draining"
	case StateCleanup:
		return "cleanup"
	case StateDone:
		return "done"
	default:
		return "unknown"
	}
}

// NewID mints a 128-bit random execution id (spec §3 invariant 1).
func NewID() string {
	return uuid.NewString()
}

// Execution is the per-request runtime record created on admission and
// destroyed after cleanup (spec §3). It owns a stack of release actions
// established as resources are acquired; Cleanup unwinds the stack
// regardless of how the execution got there — normal exit, deadline,
// cancellation, or a panic recovered by the caller.
type Execution struct {
	ID       string
	Mode     Mode
	WorkDir  string
	Image    string
	Deadline time.Time
	ExitCode int

	mu       sync.Mutex
	state    State
	log      *zap.Logger
	releases []func()
}

// New creates an Execution in state admitted. It allocates no work
// directory; the execution's own subdirectory under the shared root is
// created lazily by AllocateWorkDir during the preparing transition.
func New(mode Mode, log *zap.Logger) *Execution {
	if log == nil {
		log = zap.NewNop()
	}
	id := NewID()
	e := &Execution{ID: id, Mode: mode, state: StateAdmitted}
	e.log = log.With(zap.String("execution_id", id), zap.String("mode", mode.String()))
	return e
}

// State returns the execution's current state.
func (e *Execution) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Transition moves the execution to the next state, logging it. It does
// not validate the edge against the state graph in spec §4.4 — callers
// (the batch/interactive executors) are the single writer for their own
// execution and are trusted to drive it correctly; an invalid transition
// would be a programmer error caught in review/tests, not a runtime
// condition to guard defensively.
func (e *Execution) Transition(s State) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
	e.log.Info("execution state transition", zap.String("state", s.String()))
}

// Defer pushes a release action onto the cleanup stack. Actions run in
// reverse order (last acquired, first released) from Cleanup, mirroring a
// stack of deferred resource releases.
func (e *Execution) Defer(release func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.releases = append(e.releases, release)
}

// Cleanup unwinds every registered release action. It is idempotent-safe to
// call once per execution from a single cleanup path; each action logs its
// own failures internally and Cleanup never returns an error, matching the
// "cleanup failure never masks the result" rule (spec §4.2, §7).
func (e *Execution) Cleanup() {
	e.Transition(StateCleanup)
	e.mu.Lock()
	releases := e.releases
	e.releases = nil
	e.mu.Unlock()

	for i := len(releases) - 1; i >= 0; i-- {
		releases[i]()
	}
	e.Transition(StateDone)
}

// AllocateWorkDir creates the execution's exclusive directory under root,
// keyed by id, and registers its removal on the cleanup stack.
func (e *Execution) AllocateWorkDir(root string) error {
	dir := filepath.Join(root, e.ID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("orchestrator: allocating work dir: %w", err)
	}
	e.WorkDir = dir
	e.Defer(func() {
		if err := os.RemoveAll(dir); err != nil {
			e.log.Warn("work dir removal failed", zap.Error(err))
		}
	})
	return nil
}

// WriteStdinFile writes stdin to input.txt inside WorkDir, appending a
// trailing newline if the caller's text doesn't already end with one
// (spec §4.4 "preparing").
func (e *Execution) WriteStdinFile(stdin string) (string, error) {
	if stdin != "" && stdin[len(stdin)-1] != '\n' {
		stdin += "\n"
	}
	path := filepath.Join(e.WorkDir, "input.txt")
	if err := os.WriteFile(path, []byte(stdin), 0o644); err != nil {
		return "", fmt.Errorf("orchestrator: writing stdin file: %w", err)
	}
	return path, nil
}

// DeadlineContext derives a context bound to the execution's deadline.
func (e *Execution) DeadlineContext(parent context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	e.Deadline = time.Now().Add(timeout)
	return context.WithTimeout(parent, timeout)
}

// Logger exposes the execution-scoped logger to executors.
func (e *Execution) Logger() *zap.Logger { return e.log }
