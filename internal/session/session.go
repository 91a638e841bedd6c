// Package session owns one connected IDE client: its shell, its optional
// program run, its socket and its sandbox. A Registry tracks all live
// sessions and reaps the ones that stop answering pings.
//
// Lifecycle:
//  1. New spawns the shell in the sandbox root → state=idle
//  2. run → state=compiling or running; a previous run is stopped first
//  3. program exit, compile failure or stop → state=idle
//  4. socket close, shell exit, failed heartbeat or explicit close → state=closed
package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/gluk-w/online-ide/internal/database"
	"github.com/gluk-w/online-ide/internal/logutil"
	"github.com/gluk-w/online-ide/internal/protocol"
	"github.com/gluk-w/online-ide/internal/ptyproc"
	"github.com/gluk-w/online-ide/internal/runner"
	"github.com/gluk-w/online-ide/internal/sandbox"
)

// State is the externally visible session state.
type State string

const (
	StateIdle      State = "idle"
	StateCompiling State = "compiling"
	StateRunning   State = "running"
	StateClosed    State = "closed"
)

// Transport is the socket side of a session. *websocket.Conn satisfies it.
type Transport interface {
	Read(ctx context.Context) (websocket.MessageType, []byte, error)
	Write(ctx context.Context, typ websocket.MessageType, p []byte) error
	Ping(ctx context.Context) error
	Close(code websocket.StatusCode, reason string) error
	CloseNow() error
}

// Config carries everything New needs besides the socket.
type Config struct {
	Key     string
	Root    string
	Project *database.Project

	ShellCommand string
	ShellArgs    []string

	Runner          *runner.Runner
	OutputBuffer    int
	MaxInputMessage int
}

// Session is one connected client. Process output goes out as binary
// frames and notices as text frames, so browser clients must set
// binaryType to "arraybuffer" before reading the 0x04 sentinel.
type Session struct {
	ID        string
	Key       string
	Root      string
	Project   database.Project
	CreatedAt time.Time

	conn      Transport
	out       *Outbox
	limiter   *RateLimiter
	runner    *runner.Runner
	maxInput  int
	logPrefix string

	mu      sync.Mutex
	shell   runner.Handle
	run     *runner.Run
	closed  bool
	onClose func(*Session)

	alive     atomic.Bool
	closeOnce sync.Once
	done      chan struct{}
}

// New spawns the shell for a freshly accepted socket. The session does not
// read from conn until Serve is called.
func New(conn Transport, cfg Config) (*Session, error) {
	if cfg.Runner == nil {
		return nil, errors.New("session: runner required")
	}
	if cfg.MaxInputMessage <= 0 {
		cfg.MaxInputMessage = 64 * 1024
	}
	project := database.AnonymousProject()
	if cfg.Project != nil {
		project = *cfg.Project
	}

	s := &Session{
		ID:        uuid.New().String(),
		Key:       cfg.Key,
		Root:      cfg.Root,
		Project:   project,
		CreatedAt: time.Now(),
		conn:      conn,
		limiter:   NewRateLimiter(MessageRateLimit, MessageRateBurst),
		runner:    cfg.Runner,
		maxInput:  cfg.MaxInputMessage,
		logPrefix: logutil.SessionPrefix(cfg.Key),
		done:      make(chan struct{}),
	}
	s.out = NewOutbox(cfg.OutputBuffer, s.logPrefix)
	s.alive.Store(true)

	shell, err := cfg.Runner.Spawn(ptyproc.Spec{
		Command: cfg.ShellCommand,
		Args:    cfg.ShellArgs,
		Dir:     cfg.Root,
	}, func(chunk []byte) {
		s.out.Push(websocket.MessageBinary, chunk)
	})
	if err != nil {
		return nil, fmt.Errorf("start shell: %w", err)
	}
	s.shell = shell
	log.Printf("%s started shell '%s', pid: %d", s.logPrefix, cfg.ShellCommand, shell.PID())

	go func() {
		select {
		case <-shell.Done():
			s.Close(websocket.StatusNormalClosure, "shell exited")
		case <-s.done:
		}
	}()
	return s, nil
}

// Serve pumps socket frames into the dispatcher and queued output into the
// socket until either side ends. It always closes the session on return.
func (s *Session) Serve(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		if err := s.out.Run(ctx, s.conn.Write); err != nil && ctx.Err() == nil {
			log.Printf("%s write: %v", s.logPrefix, err)
			s.Close(websocket.StatusGoingAway, "write failed")
		}
	}()
	go func() {
		select {
		case <-s.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	for {
		_, data, err := s.conn.Read(ctx)
		if err != nil {
			if ctx.Err() == nil && websocket.CloseStatus(err) == -1 {
				log.Printf("%s read: %v", s.logPrefix, err)
			}
			break
		}
		s.Dispatch(data)
	}
	s.Close(websocket.StatusNormalClosure, "")
}

// Dispatch handles one inbound frame: a control message or raw terminal
// input for the active process. Frames are handled in arrival order.
func (s *Session) Dispatch(data []byte) {
	if !s.limiter.Allow() {
		return
	}
	if !protocol.IsControl(data) {
		if len(data) > s.maxInput {
			log.Printf("%s input frame too large: %d bytes, limit %d", s.logPrefix, len(data), s.maxInput)
			return
		}
		s.writeInput(data)
		return
	}

	cmd, err := protocol.Decode(data)
	if err != nil {
		log.Printf("%s dropping control message: %s", s.logPrefix, logutil.SanitizeForLog(err.Error()))
		return
	}
	switch c := cmd.(type) {
	case protocol.Size:
		s.Resize(c.W, c.H)
	case protocol.Save:
		s.Save(c.Path, c.Data)
	case protocol.Run:
		s.Run(c.Lang)
	case protocol.Stop:
		s.Stop()
	default:
		log.Printf("%s unhandled control message %q", s.logPrefix, cmd.Tag())
	}
}

func (s *Session) writeInput(data []byte) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	var err error
	if s.run != nil {
		_, err = s.run.Write(data)
	} else {
		_, err = s.shell.Write(data)
	}
	s.mu.Unlock()
	if err != nil && !errors.Is(err, ptyproc.ErrExited) {
		log.Printf("%s input: %v", s.logPrefix, err)
	}
}

// Resize applies to the runner when one is active, otherwise to the shell.
func (s *Session) Resize(cols, rows uint16) {
	if cols == 0 || rows == 0 {
		return
	}
	cols, rows = clampSize(cols, rows)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	var err error
	if s.run != nil {
		err = s.run.Resize(cols, rows)
	} else {
		err = s.shell.Resize(cols, rows)
	}
	if err != nil && !errors.Is(err, ptyproc.ErrExited) {
		log.Printf("%s resize %dx%d: %v", s.logPrefix, cols, rows, err)
	}
}

// Save writes data to path inside the sandbox and confirms with saveconf.
func (s *Session) Save(path, data string) {
	safePath := logutil.SanitizeForLog(path)
	if _, err := sandbox.WriteFile(s.Root, path, []byte(data)); err != nil {
		log.Printf("%s failed to save '%s': %v", s.logPrefix, safePath, err)
		s.notify(protocol.LevelError, "failed to save "+safePath)
		return
	}
	log.Printf("%s saved file '%s'", s.logPrefix, safePath)
	s.out.Push(websocket.MessageText, protocol.SaveConf())
}

// Run starts lang's program, stopping any previous run first.
func (s *Session) Run(lang string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if s.run != nil {
		s.handBackLocked(s.run)
		s.run.Stop()
		s.run = nil
	}

	cols, rows := s.shell.Size()
	run, outcome, mainFile, err := s.runner.Start(runner.Request{
		Root:      s.Root,
		Lang:      lang,
		Cols:      cols,
		Rows:      rows,
		LogPrefix: s.logPrefix,
		Observer:  s,
	})
	if err != nil {
		s.notifyLocked(protocol.LevelError, rejectionText(lang, mainFile, err))
		if runner.IsRejection(err) {
			log.Printf("%s run %s refused: %s", s.logPrefix, logutil.SanitizeForLog(lang), logutil.SanitizeForLog(err.Error()))
		} else {
			log.Printf("%s run %s failed: %v", s.logPrefix, logutil.SanitizeForLog(lang), err)
		}
		return
	}
	s.run = run
	if outcome == runner.Compiling {
		s.notifyLocked(protocol.LevelInfo, "compiling "+mainFile)
	}
}

func rejectionText(lang, mainFile string, err error) string {
	switch {
	case errors.Is(err, runner.ErrMainFileNotFound):
		return fmt.Sprintf("Error main file '%s' doesn't exists", logutil.SanitizeForLog(mainFile))
	case errors.Is(err, runner.ErrConfigRead):
		return fmt.Sprintf("Error reading %s: %s", runner.ConfigFile, logutil.SanitizeForLog(err.Error()))
	case errors.Is(err, runner.ErrUnsupportedLanguage):
		return fmt.Sprintf("Language '%s' is not supported", logutil.SanitizeForLog(lang))
	case errors.Is(err, runner.ErrNoSources):
		return fmt.Sprintf("No source files to compile for '%s'", logutil.SanitizeForLog(lang))
	case errors.Is(err, ptyproc.ErrSpawn):
		return "Error starting program: " + logutil.SanitizeForLog(err.Error())
	default:
		return "Error: " + logutil.SanitizeForLog(err.Error())
	}
}

// Stop ends the active run. The shell takes over the runner's last size.
// Without a run it does nothing.
func (s *Session) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.run == nil {
		return
	}
	s.handBackLocked(s.run)
	s.run.Stop()
	s.run = nil
}

func (s *Session) handBackLocked(r *runner.Run) {
	cols, rows := r.Size()
	if err := s.shell.Resize(cols, rows); err != nil && !errors.Is(err, ptyproc.ErrExited) {
		log.Printf("%s resize shell %dx%d: %v", s.logPrefix, cols, rows, err)
	}
}

// RunOutput forwards program and compiler output.
func (s *Session) RunOutput(_ *runner.Run, chunk []byte) {
	s.out.Push(websocket.MessageBinary, chunk)
}

// RunStarted is called once a compiled binary is running.
func (s *Session) RunStarted(*runner.Run) {}

// RunCompileFailed clears the run and reports the compiler status. The
// shell takes over the compiler's size.
func (s *Session) RunCompileFailed(r *runner.Run, err *runner.CompileError) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.run != r {
		return
	}
	s.handBackLocked(r)
	s.run = nil
	s.notifyLocked(protocol.LevelError, err.Error())
}

// RunSpawnFailed clears the run after the compiled binary failed to start.
func (s *Session) RunSpawnFailed(r *runner.Run, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.run != r {
		return
	}
	s.handBackLocked(r)
	s.run = nil
	s.notifyLocked(protocol.LevelError, "Error starting program: "+logutil.SanitizeForLog(err.Error()))
}

// RunExited clears a program that ended on its own.
func (s *Session) RunExited(r *runner.Run, code int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.run != r {
		return
	}
	s.handBackLocked(r)
	s.run = nil
	s.notifyLocked(protocol.LevelStatus, fmt.Sprintf("\nprogram ended with exit code %d\nPress ENTER to continue", code))
}

func (s *Session) notify(level protocol.Level, text string) {
	s.out.Push(websocket.MessageText, protocol.Message(level, text))
}

func (s *Session) notifyLocked(level protocol.Level, text string) {
	if s.closed {
		return
	}
	s.notify(level, text)
}

// State derives the session state from the current run.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return StateClosed
	}
	if s.run == nil {
		return StateIdle
	}
	switch s.run.State() {
	case runner.StateCompiling:
		return StateCompiling
	case runner.StateRunning:
		return StateRunning
	default:
		return StateIdle
	}
}

// MainFile returns the main file of the active run, or "".
func (s *Session) MainFile() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.run == nil {
		return ""
	}
	return s.run.MainFile
}

// ShellSize returns the shell's terminal size.
func (s *Session) ShellSize() (cols, rows uint16) {
	return s.shell.Size()
}

// Done is closed when the session has been closed.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Close kills the shell and any run, then closes the socket. Only the first
// call has an effect.
func (s *Session) Close(code websocket.StatusCode, reason string) {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		run := s.run
		s.run = nil
		onClose := s.onClose
		s.mu.Unlock()

		if run != nil {
			run.Stop()
		}
		s.shell.Kill()
		s.out.Close()
		close(s.done)

		// The close handshake waits on the peer, which may be gone.
		go s.conn.Close(code, reason)

		if onClose != nil {
			onClose(s)
		}
		if reason == "" {
			reason = "disconnected"
		}
		log.Printf("%s session %s closed: %s", s.logPrefix, s.ID, reason)
	})
}

// Info is a point-in-time view of a session for listings.
type Info struct {
	ID        string    `json:"id"`
	Key       string    `json:"key"`
	Project   string    `json:"project,omitempty"`
	State     State     `json:"state"`
	MainFile  string    `json:"main_file,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Info snapshots the session.
func (s *Session) Info() Info {
	return Info{
		ID:        s.ID,
		Key:       s.Key,
		Project:   s.Project.PublicID,
		State:     s.State(),
		MainFile:  s.MainFile(),
		CreatedAt: s.CreatedAt,
	}
}
