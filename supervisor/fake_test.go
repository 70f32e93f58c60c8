package supervisor

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/agentdeck/conversation"
	"github.com/randalmurphal/agentdeck/notify"
)

// fakeProcess is an in-memory Process driven by the test.
type fakeProcess struct {
	pid int
	cmd Command

	stdinR  *io.PipeReader
	stdinW  *io.PipeWriter
	stdoutR *io.PipeReader
	stdoutW *io.PipeWriter
	stderrR *io.PipeReader
	stderrW *io.PipeWriter

	input    bytes.Buffer
	gotInput chan struct{}

	ignoreTerm bool

	mu      sync.Mutex
	signals []syscall.Signal

	once    sync.Once
	exitErr error
	exited  chan struct{}
}

func newFakeProcess(pid int, cmd Command, ignoreTerm bool) *fakeProcess {
	p := &fakeProcess{
		pid:        pid,
		cmd:        cmd,
		gotInput:   make(chan struct{}),
		exited:     make(chan struct{}),
		ignoreTerm: ignoreTerm,
	}
	p.stdinR, p.stdinW = io.Pipe()
	p.stdoutR, p.stdoutW = io.Pipe()
	p.stderrR, p.stderrW = io.Pipe()
	go func() {
		defer close(p.gotInput)
		_, _ = io.Copy(&p.input, p.stdinR)
	}()
	return p
}

func (p *fakeProcess) Stdin() io.WriteCloser { return p.stdinW }
func (p *fakeProcess) Stdout() io.Reader     { return p.stdoutR }
func (p *fakeProcess) Stderr() io.Reader     { return p.stderrR }
func (p *fakeProcess) Pid() int              { return p.pid }

func (p *fakeProcess) Wait() error {
	<-p.exited
	return p.exitErr
}

func (p *fakeProcess) Signal(sig syscall.Signal) error {
	p.mu.Lock()
	p.signals = append(p.signals, sig)
	p.mu.Unlock()
	if sig == syscall.SIGKILL || (sig == syscall.SIGTERM && !p.ignoreTerm) {
		p.exit(errors.New("signal: " + sig.String()))
	}
	return nil
}

func (p *fakeProcess) Signals() []syscall.Signal {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]syscall.Signal(nil), p.signals...)
}

// emit writes lines to stdout. It blocks until the supervisor reads them.
func (p *fakeProcess) emit(t *testing.T, lines ...string) {
	t.Helper()
	for _, l := range lines {
		_, err := io.WriteString(p.stdoutW, l+"\n")
		require.NoError(t, err)
	}
}

// fail writes stderr and exits with err.
func (p *fakeProcess) fail(t *testing.T, stderr string, err error) {
	t.Helper()
	_, werr := io.WriteString(p.stderrW, stderr)
	require.NoError(t, werr)
	p.exit(err)
}

func (p *fakeProcess) exit(err error) {
	p.once.Do(func() {
		p.exitErr = err
		_ = p.stdoutW.Close()
		_ = p.stderrW.Close()
		close(p.exited)
	})
}

// Input waits for stdin to be closed and returns what was written.
func (p *fakeProcess) Input(t *testing.T) string {
	t.Helper()
	select {
	case <-p.gotInput:
		return p.input.String()
	case <-time.After(2 * time.Second):
		t.Fatal("stdin was never closed")
		return ""
	}
}

type fakeSpawner struct {
	mu         sync.Mutex
	err        error
	ignoreTerm bool
	procs      []*fakeProcess
	started    chan *fakeProcess
}

func newFakeSpawner() *fakeSpawner {
	return &fakeSpawner{started: make(chan *fakeProcess, 16)}
}

func (f *fakeSpawner) Spawn(_ context.Context, cmd Command) (Process, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	p := newFakeProcess(1000+len(f.procs), cmd, f.ignoreTerm)
	f.procs = append(f.procs, p)
	f.started <- p
	return p, nil
}

func (f *fakeSpawner) next(t *testing.T) *fakeProcess {
	t.Helper()
	select {
	case p := <-f.started:
		return p
	case <-time.After(2 * time.Second):
		t.Fatal("no process was started")
		return nil
	}
}

func (f *fakeSpawner) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.procs)
}

// recorder is a notify.Sink that keeps everything.
type recorder struct {
	mu    sync.Mutex
	notes []notify.Notification
}

func (r *recorder) Notify(n notify.Notification) {
	r.mu.Lock()
	r.notes = append(r.notes, n)
	r.mu.Unlock()
}

func (r *recorder) all() []notify.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]notify.Notification(nil), r.notes...)
}

func (r *recorder) kind(k notify.Kind) []notify.Notification {
	var out []notify.Notification
	for _, n := range r.all() {
		if n.Kind == k {
			out = append(out, n)
		}
	}
	return out
}

// messages returns the payloads of message notifications of one session.
func (r *recorder) messages(sessionID string) []*conversation.Message {
	var out []*conversation.Message
	for _, n := range r.kind(notify.KindMessage) {
		if m, ok := n.Payload.(*conversation.Message); ok && n.SessionID == sessionID {
			out = append(out, m)
		}
	}
	return out
}

func (r *recorder) hasMessage(sessionID string, kind conversation.MessageType, content string) bool {
	for _, m := range r.messages(sessionID) {
		if m.Type == kind && m.Content == content {
			return true
		}
	}
	return false
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// steppingClock advances one second per call so timestamps are ordered.
func steppingClock() func() time.Time {
	var mu sync.Mutex
	t := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(time.Second)
		return t
	}
}

func newTestSupervisor(t *testing.T, opts ...Option) (*Supervisor, *fakeSpawner, *recorder) {
	t.Helper()
	sp := newFakeSpawner()
	rec := &recorder{}
	base := []Option{
		WithSpawner(sp),
		WithNotifier(rec),
		WithLogger(discardLogger()),
		WithRestartDelay(0),
		WithStopGrace(50 * time.Millisecond),
		WithClock(steppingClock()),
	}
	s := New(append(base, opts...)...)
	t.Cleanup(s.Cleanup)
	return s, sp, rec
}
