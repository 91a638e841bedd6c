// Package ptyproc runs a single OS process attached to a pseudo-terminal.
//
// A [Process] owns the PTY master and the child. Output is pushed, chunk by
// chunk and in order, to the OutputFunc given at spawn time. Exit is
// observed through [Process.Done]; once it is closed [Process.ExitCode]
// holds the normalized signed exit code and no further output is delivered.
package ptyproc

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/creack/pty"
)

// Default terminal size when the caller does not provide one.
const (
	DefaultCols uint16 = 80
	DefaultRows uint16 = 24
)

// TermName is exported to every child as $TERM.
const TermName = "xterm-color"

// drainTimeout bounds how long exit notification waits for buffered PTY
// output after the child has been reaped. Background grandchildren can hold
// the slave side open indefinitely.
const drainTimeout = 2 * time.Second

const readBufferSize = 32 * 1024

var (
	// ErrSpawn wraps every failure to start a process.
	ErrSpawn = errors.New("spawn failed")
	// ErrExited is returned by Write and Resize after the process is gone.
	ErrExited = errors.New("process exited")
)

// Spec describes a process to start.
type Spec struct {
	Command string
	Args    []string
	Dir     string
	// Env is appended to the server's environment.
	Env  []string
	Cols uint16
	Rows uint16
}

// OutputFunc receives each chunk read from the PTY. The slice is owned by
// the callee. Calls are sequential for one process.
type OutputFunc func(chunk []byte)

// Process is a running child bound to a PTY.
type Process struct {
	cmd  *exec.Cmd
	ptmx *os.File

	mu     sync.Mutex
	cols   uint16
	rows   uint16
	closed bool

	killOnce sync.Once
	killed   chan struct{}
	readDone chan struct{}
	done     chan struct{}
	exitCode int
}

// Spawn starts spec on a new PTY and begins streaming output to onOutput.
func Spawn(spec Spec, onOutput OutputFunc) (*Process, error) {
	if spec.Command == "" {
		return nil, fmt.Errorf("%w: empty command", ErrSpawn)
	}
	cols, rows := spec.Cols, spec.Rows
	if cols == 0 {
		cols = DefaultCols
	}
	if rows == 0 {
		rows = DefaultRows
	}

	cmd := exec.Command(spec.Command, spec.Args...)
	cmd.Dir = spec.Dir
	cmd.Env = append(os.Environ(), "TERM="+TermName)
	cmd.Env = append(cmd.Env, spec.Env...)

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Cols: cols, Rows: rows})
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrSpawn, spec.Command, err)
	}

	p := &Process{
		cmd:      cmd,
		ptmx:     ptmx,
		cols:     cols,
		rows:     rows,
		killed:   make(chan struct{}),
		readDone: make(chan struct{}),
		done:     make(chan struct{}),
	}
	go p.readLoop(onOutput)
	go p.waitLoop()
	return p, nil
}

func (p *Process) readLoop(onOutput OutputFunc) {
	defer close(p.readDone)
	buf := make([]byte, readBufferSize)
	for {
		n, err := p.ptmx.Read(buf)
		if n > 0 && onOutput != nil && !p.isClosed() {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			onOutput(chunk)
		}
		if err != nil {
			// EIO is the normal end of a PTY on Linux once the slave closes.
			if !errors.Is(err, io.EOF) && !errors.Is(err, os.ErrClosed) && !isPTYClosed(err) {
				log.Printf("[ptyproc] pid %d read: %v", p.PID(), err)
			}
			return
		}
	}
}

func (p *Process) waitLoop() {
	err := p.cmd.Wait()
	code := exitCodeOf(p.cmd.ProcessState, err)

	select {
	case <-p.readDone:
	case <-p.killed:
	case <-time.After(drainTimeout):
	}

	p.mu.Lock()
	p.closed = true
	p.exitCode = code
	p.mu.Unlock()
	p.ptmx.Close()
	close(p.done)
}

// PID returns the OS process ID.
func (p *Process) PID() int {
	if p.cmd.Process == nil {
		return -1
	}
	return p.cmd.Process.Pid
}

func (p *Process) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Write sends raw bytes to the process's terminal input.
func (p *Process) Write(b []byte) (int, error) {
	if p.isClosed() {
		return 0, ErrExited
	}
	return p.ptmx.Write(b)
}

// Resize changes the PTY window size.
func (p *Process) Resize(cols, rows uint16) error {
	if cols == 0 || rows == 0 {
		return fmt.Errorf("invalid terminal size %dx%d", cols, rows)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrExited
	}
	if err := pty.Setsize(p.ptmx, &pty.Winsize{Cols: cols, Rows: rows}); err != nil {
		return fmt.Errorf("set pty size: %w", err)
	}
	p.cols, p.rows = cols, rows
	return nil
}

// Size returns the last size applied to the PTY.
func (p *Process) Size() (cols, rows uint16) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cols, p.rows
}

// Kill terminates the process and everything in its process group. It does
// not wait for the exit; observe Done for that. Killing an exited or already
// killed process is a no-op.
func (p *Process) Kill() {
	p.killOnce.Do(func() {
		close(p.killed)
		select {
		case <-p.done:
			return
		default:
		}
		if err := killTree(p.cmd.Process); err != nil && !errors.Is(err, os.ErrProcessDone) {
			log.Printf("[ptyproc] kill pid %d: %v", p.PID(), err)
		}
	})
}

// Done is closed once the process has exited and its output is drained.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// ExitCode returns the normalized exit code. Only meaningful after Done.
func (p *Process) ExitCode() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitCode
}

// Exited reports whether Done has been closed.
func (p *Process) Exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// NormalizeExitCode maps an exit status reported as an unsigned 32-bit value
// (Windows NTSTATUS, or a code that went through a uint32) onto the
// conventional signed representation.
func NormalizeExitCode(code int) int {
	return int(int32(uint32(code)))
}
