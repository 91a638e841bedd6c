// Package runner turns a "run" request into a process: it resolves the
// sandbox's main file, picks a toolchain and drives the compile-then-run
// pipeline for compiled languages.
package runner

import (
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"sync"

	"github.com/gluk-w/online-ide/internal/ptyproc"
	"github.com/gluk-w/online-ide/internal/sandbox"
)

// Handle is the view of a spawned process the pipeline needs.
// *ptyproc.Process satisfies it.
type Handle interface {
	PID() int
	Write(b []byte) (int, error)
	Resize(cols, rows uint16) error
	Size() (cols, rows uint16)
	Kill()
	Done() <-chan struct{}
	ExitCode() int
}

// SpawnFunc starts a process on a PTY.
type SpawnFunc func(spec ptyproc.Spec, onOutput ptyproc.OutputFunc) (Handle, error)

// SpawnPTY is the production SpawnFunc.
func SpawnPTY(spec ptyproc.Spec, onOutput ptyproc.OutputFunc) (Handle, error) {
	p, err := ptyproc.Spawn(spec, onOutput)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Outcome is the immediate result of Start.
type Outcome int

const (
	Rejected Outcome = iota
	Running
	Compiling
)

func (o Outcome) String() string {
	switch o {
	case Running:
		return "running"
	case Compiling:
		return "compiling"
	default:
		return "rejected"
	}
}

// State is the pipeline state of a Run.
type State int

const (
	StateCompiling State = iota
	StateRunning
	StateFinished
	StateCompileFailed
	StateStopped
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateCompiling:
		return "compiling"
	case StateRunning:
		return "running"
	case StateFinished:
		return "finished"
	case StateCompileFailed:
		return "compile_failed"
	case StateStopped:
		return "stopped"
	default:
		return "failed"
	}
}

// Observer receives pipeline events. Calls for one Run are sequential
// except RunOutput, which may interleave with the others. No events are
// delivered after Stop returns except output already in flight.
type Observer interface {
	RunOutput(r *Run, chunk []byte)
	// RunStarted fires when a compiled binary replaces the compiler.
	RunStarted(r *Run)
	RunCompileFailed(r *Run, err *CompileError)
	RunSpawnFailed(r *Run, err error)
	// RunExited fires when the program ends on its own.
	RunExited(r *Run, code int)
}

// Runner builds Runs from a toolchain table.
type Runner struct {
	Toolchains *Toolchains
	Spawn      SpawnFunc
}

// New returns a Runner spawning real PTY processes.
func New(toolchains *Toolchains) *Runner {
	if toolchains == nil {
		toolchains = DefaultToolchains()
	}
	return &Runner{Toolchains: toolchains, Spawn: SpawnPTY}
}

// Request is one "run" command in a session's context.
type Request struct {
	Root      string
	Lang      string
	Cols      uint16
	Rows      uint16
	LogPrefix string
	Observer  Observer
}

// Start resolves and launches req. On Rejected nothing was spawned and the
// error is usually one IsRejection recognises. MainFile is reported even on
// ErrMainFileNotFound so the caller can name it.
func (rn *Runner) Start(req Request) (*Run, Outcome, string, error) {
	lang := rn.Toolchains.Normalize(req.Lang)
	tc, ok := rn.Toolchains.Lookup(lang)
	if !ok {
		return nil, Rejected, "", fmt.Errorf("%w: %q", ErrUnsupportedLanguage, req.Lang)
	}

	mainFile, err := ResolveMainFile(req.Root, lang, req.LogPrefix)
	if err != nil {
		return nil, Rejected, mainFile, err
	}

	r := &Run{
		Lang:      lang,
		MainFile:  mainFile,
		root:      req.Root,
		logPrefix: req.LogPrefix,
		spawn:     rn.Spawn,
		observer:  req.Observer,
		cols:      req.Cols,
		rows:      req.Rows,
		done:      make(chan struct{}),
	}

	if !tc.Compiled() {
		spec := ptyproc.Spec{
			Command: tc.Interpreter,
			Args:    []string{mainFile},
			Dir:     req.Root,
			Cols:    req.Cols,
			Rows:    req.Rows,
		}
		proc, err := rn.Spawn(spec, r.forward)
		if err != nil {
			return nil, Rejected, mainFile, err
		}
		r.proc = proc
		r.state = StateRunning
		log.Printf("%s started file '%s', pid: %d", req.LogPrefix, mainFile, proc.PID())
		go r.supervise()
		return r, Running, mainFile, nil
	}

	sources, err := sandbox.SourceFiles(req.Root, tc.SourceExt)
	if err != nil {
		return nil, Rejected, mainFile, fmt.Errorf("list sources: %w", err)
	}
	if len(sources) == 0 {
		return nil, Rejected, mainFile, ErrNoSources
	}
	args := make([]string, 0, len(tc.Flags)+2+len(sources))
	args = append(args, tc.Flags...)
	args = append(args, "-o", Exe(OutputName))
	args = append(args, sources...)

	proc, err := rn.Spawn(ptyproc.Spec{
		Command: tc.Compiler,
		Args:    args,
		Dir:     req.Root,
		Cols:    req.Cols,
		Rows:    req.Rows,
	}, r.forward)
	if err != nil {
		return nil, Rejected, mainFile, err
	}
	r.proc = proc
	r.state = StateCompiling
	log.Printf("%s started compiling '%s', pid: %d", req.LogPrefix, mainFile, proc.PID())
	go r.supervise()
	return r, Compiling, mainFile, nil
}

// Run is one execution of a sandbox's program, possibly preceded by a
// compile step.
type Run struct {
	Lang     string
	MainFile string

	root      string
	logPrefix string
	spawn     SpawnFunc
	observer  Observer

	mu      sync.Mutex
	state   State
	proc    Handle
	stopped bool
	cols    uint16
	rows    uint16

	done chan struct{}
}

func (r *Run) forward(chunk []byte) {
	if r.observer != nil {
		r.observer.RunOutput(r, chunk)
	}
}

// State returns the current pipeline state.
func (r *Run) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// PID of the current process: the compiler while compiling, then the
// program.
func (r *Run) PID() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.proc.PID()
}

// Write forwards terminal input to the current process.
func (r *Run) Write(b []byte) (int, error) {
	r.mu.Lock()
	proc := r.proc
	r.mu.Unlock()
	return proc.Write(b)
}

// Resize applies to the current process and is remembered for the program
// that follows a successful compile.
func (r *Run) Resize(cols, rows uint16) error {
	r.mu.Lock()
	r.cols, r.rows = cols, rows
	proc := r.proc
	r.mu.Unlock()
	return proc.Resize(cols, rows)
}

// Size returns the current process's terminal size.
func (r *Run) Size() (cols, rows uint16) {
	r.mu.Lock()
	proc := r.proc
	r.mu.Unlock()
	return proc.Size()
}

// Stop kills whatever stage is active and prevents a pending compile from
// launching its binary. It is idempotent.
func (r *Run) Stop() {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.stopped = true
	proc := r.proc
	r.mu.Unlock()

	proc.Kill()
	log.Printf("%s stopped file '%s', pid: %d", r.logPrefix, r.MainFile, proc.PID())
}

// Stopped reports whether Stop was called.
func (r *Run) Stopped() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stopped
}

// Done is closed when the pipeline reaches a terminal state.
func (r *Run) Done() <-chan struct{} {
	return r.done
}

func (r *Run) finish(s State) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
	close(r.done)
}

func (r *Run) supervise() {
	r.mu.Lock()
	proc := r.proc
	compiling := r.state == StateCompiling
	r.mu.Unlock()

	<-proc.Done()
	code := proc.ExitCode()

	if compiling {
		if r.Stopped() {
			r.finish(StateStopped)
			return
		}
		if code != 0 {
			log.Printf("%s compiling failed: %d", r.logPrefix, code)
			r.finish(StateCompileFailed)
			if r.observer != nil {
				r.observer.RunCompileFailed(r, &CompileError{Code: code})
			}
			return
		}
		proc.Kill()
		if !r.launchBinary() {
			return
		}
		r.mu.Lock()
		proc = r.proc
		r.mu.Unlock()
		<-proc.Done()
		code = proc.ExitCode()
	}

	if r.Stopped() {
		r.finish(StateStopped)
		return
	}
	r.finish(StateFinished)
	if r.observer != nil {
		r.observer.RunExited(r, code)
	}
}

// launchBinary replaces the finished compiler with the produced program.
// The lock is held across spawn so a concurrent Stop either prevents the
// launch or sees the new process.
func (r *Run) launchBinary() bool {
	r.mu.Lock()
	if r.stopped {
		r.state = StateStopped
		r.mu.Unlock()
		close(r.done)
		return false
	}
	bin := filepath.Join(r.root, Exe(OutputName))
	proc, err := r.spawn(ptyproc.Spec{
		Command: bin,
		Dir:     r.root,
		Cols:    r.cols,
		Rows:    r.rows,
	}, r.forward)
	if err != nil {
		r.state = StateFailed
		r.mu.Unlock()
		close(r.done)
		log.Printf("%s %v", r.logPrefix, err)
		if r.observer != nil {
			r.observer.RunSpawnFailed(r, err)
		}
		return false
	}
	r.proc = proc
	r.state = StateRunning
	r.mu.Unlock()

	log.Printf("%s started file '%s', pid: %d", r.logPrefix, r.MainFile, proc.PID())
	if r.observer != nil {
		r.observer.RunStarted(r)
	}
	return true
}

// IsRejection reports whether err came from Start refusing a request.
func IsRejection(err error) bool {
	return errors.Is(err, ErrUnsupportedLanguage) ||
		errors.Is(err, ErrMainFileNotFound) ||
		errors.Is(err, ErrConfigRead) ||
		errors.Is(err, ErrNoSources) ||
		errors.Is(err, ptyproc.ErrSpawn)
}
