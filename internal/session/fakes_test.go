package session

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/gluk-w/online-ide/internal/ptyproc"
	"github.com/gluk-w/online-ide/internal/runner"
)

var errConnClosed = errors.New("connection closed")

type sentFrame struct {
	typ  websocket.MessageType
	data []byte
}

// fakeConn is an in-memory Transport.
type fakeConn struct {
	in chan []byte

	mu      sync.Mutex
	sent    []sentFrame
	pings   int
	pingErr error
	code    websocket.StatusCode

	closeOnce sync.Once
	closed    chan struct{}
}

func newFakeConn() *fakeConn {
	return &fakeConn{in: make(chan []byte, 16), closed: make(chan struct{})}
}

func (c *fakeConn) Read(ctx context.Context) (websocket.MessageType, []byte, error) {
	select {
	case b := <-c.in:
		return websocket.MessageBinary, b, nil
	case <-c.closed:
		return 0, nil, errConnClosed
	case <-ctx.Done():
		return 0, nil, ctx.Err()
	}
}

func (c *fakeConn) Write(_ context.Context, typ websocket.MessageType, p []byte) error {
	select {
	case <-c.closed:
		return errConnClosed
	default:
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, sentFrame{typ: typ, data: append([]byte(nil), p...)})
	return nil
}

func (c *fakeConn) Ping(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pings++
	return c.pingErr
}

func (c *fakeConn) Close(code websocket.StatusCode, _ string) error {
	c.mu.Lock()
	c.code = code
	c.mu.Unlock()
	return c.CloseNow()
}

func (c *fakeConn) CloseNow() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *fakeConn) pingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pings
}

func (c *fakeConn) frames() []sentFrame {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]sentFrame(nil), c.sent...)
}

// waitFrame waits until a sent frame contains want.
func (c *fakeConn) waitFrame(t *testing.T, want []byte) sentFrame {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		for _, f := range c.frames() {
			if bytes.Contains(f.data, want) {
				return f
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("no frame containing %q; sent %d frames", want, len(c.frames()))
	return sentFrame{}
}

func (c *fakeConn) hasFrame(want []byte) bool {
	for _, f := range c.frames() {
		if bytes.Contains(f.data, want) {
			return true
		}
	}
	return false
}

// fakeProc is a runner.Handle driven by the test.
type fakeProc struct {
	pid      int
	onOutput ptyproc.OutputFunc

	mu     sync.Mutex
	cols   uint16
	rows   uint16
	input  []byte
	code   int
	killed bool

	once sync.Once
	done chan struct{}
}

func (p *fakeProc) PID() int { return p.pid }

func (p *fakeProc) Write(b []byte) (int, error) {
	select {
	case <-p.done:
		return 0, ptyproc.ErrExited
	default:
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.input = append(p.input, b...)
	return len(b), nil
}

func (p *fakeProc) Resize(cols, rows uint16) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cols, p.rows = cols, rows
	return nil
}

func (p *fakeProc) Size() (uint16, uint16) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cols, p.rows
}

func (p *fakeProc) exit(code int) {
	p.once.Do(func() {
		p.mu.Lock()
		p.code = code
		p.mu.Unlock()
		close(p.done)
	})
}

func (p *fakeProc) Kill() {
	p.mu.Lock()
	p.killed = true
	p.mu.Unlock()
	p.exit(137)
}

func (p *fakeProc) Done() <-chan struct{} { return p.done }

func (p *fakeProc) ExitCode() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.code
}

func (p *fakeProc) wasKilled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.killed
}

func (p *fakeProc) received() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return string(p.input)
}

func (p *fakeProc) emit(s string) {
	p.onOutput([]byte(s))
}

type fakeSpawner struct {
	mu    sync.Mutex
	specs []ptyproc.Spec
	procs []*fakeProc
}

func (f *fakeSpawner) spawn(spec ptyproc.Spec, onOutput ptyproc.OutputFunc) (runner.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cols, rows := spec.Cols, spec.Rows
	if cols == 0 {
		cols = ptyproc.DefaultCols
	}
	if rows == 0 {
		rows = ptyproc.DefaultRows
	}
	p := &fakeProc{
		pid:      1000 + len(f.procs),
		onOutput: onOutput,
		cols:     cols,
		rows:     rows,
		done:     make(chan struct{}),
	}
	f.specs = append(f.specs, spec)
	f.procs = append(f.procs, p)
	return p, nil
}

func (f *fakeSpawner) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.procs)
}

func (f *fakeSpawner) proc(i int) *fakeProc {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.procs[i]
}

func (f *fakeSpawner) spec(i int) ptyproc.Spec {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.specs[i]
}

// waitProcs waits until n processes have been spawned.
func (f *fakeSpawner) waitProcs(t *testing.T, n int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for f.count() < n {
		if time.Now().After(deadline) {
			t.Fatalf("spawned %d processes, want %d", f.count(), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

type testSession struct {
	*Session
	conn  *fakeConn
	spawn *fakeSpawner
}

func newTestSession(t *testing.T) *testSession {
	t.Helper()
	conn := newFakeConn()
	sp := &fakeSpawner{}
	s, err := New(conn, Config{
		Key:          "127.0.0.1",
		Root:         t.TempDir(),
		ShellCommand: "/bin/sh",
		Runner:       &runner.Runner{Toolchains: runner.DefaultToolchains(), Spawn: sp.spawn},
	})
	if err != nil {
		t.Fatal(err)
	}
	go s.Serve(context.Background())
	t.Cleanup(func() { s.Close(websocket.StatusNormalClosure, "test done") })
	return &testSession{Session: s, conn: conn, spawn: sp}
}

func waitState(t *testing.T, s *Session, want State) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for s.State() != want {
		if time.Now().After(deadline) {
			t.Fatalf("state = %s, want %s", s.State(), want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func waitClosed(t *testing.T, s *Session) {
	t.Helper()
	select {
	case <-s.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("session not closed")
	}
}
