package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/randalmurphal/agentdeck/conversation"
	"github.com/randalmurphal/agentdeck/notify"
	"github.com/randalmurphal/agentdeck/stream"
)

const (
	readChunkSize = 32 * 1024

	// killWait bounds how long terminate waits for output to drain after SIGKILL.
	killWait = 5 * time.Second
)

// run is one attached process. Output and exit of a run are applied only
// while it is still its record's current run.
type run struct {
	gen     uint64
	proc    Process
	decoder *stream.Decoder
	stderr  *tailBuffer

	stderrDone chan struct{}
	done       chan struct{}

	// detached is set under the supervisor lock when the run is replaced.
	detached bool
}

// SendMessage starts a process for the session with text as its input.
// A process already running for the session is stopped first.
func (s *Supervisor) SendMessage(ctx context.Context, id, text string, opts SendOptions) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	rec, ok := s.records[id]
	if !ok {
		s.mu.Unlock()
		return ErrSessionNotFound
	}
	if opts.Model != "" {
		rec.session.Model = opts.Model
		s.acc.SetModel(id, opts.Model)
	}
	rec.gen++
	gen := rec.gen
	old := s.detachRunLocked(id, rec)
	sess := rec.session.clone()
	s.mu.Unlock()

	if old != nil {
		s.logger.Debug("replacing running process", "session", id, "pid", old.proc.Pid())
		go s.terminate(id, old)
		if err := sleepCtx(ctx, s.cfg.restartDelay); err != nil {
			return err
		}
	}

	prompt := composePrompt(text, sess.Modes.Thinking || opts.Thinking, sess.Modes.PlanOnly || opts.PlanOnly)
	cmd := s.cfg.command(invocation{
		sessionID: id,
		workDir:   sess.WorkDir,
		model:     sess.Model,
		resumeID:  sess.ResumeID,
		yolo:      sess.Modes.Yolo,
		planOnly:  sess.Modes.PlanOnly || opts.PlanOnly,
		permDir:   sess.PermissionDir,
	})

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok = s.records[id]
	if !ok || rec.gen != gen || s.closed {
		return ErrSuperseded
	}

	s.applyLocked(rec, []conversation.Update{s.acc.UserMessage(id, text)})
	rec.session.LastActiveAt = s.cfg.now()

	proc, err := s.cfg.spawner.Spawn(ctx, cmd)
	if err != nil {
		s.metrics.spawns.WithLabelValues("error").Inc()
		s.logger.Error("starting agent process", "session", id, "binary", cmd.Binary, "err", err)
		msg := fmt.Sprintf("Failed to start agent: %v", err)
		s.applyLocked(rec, []conversation.Update{s.acc.ErrorMessage(id, msg)})
		s.emitLocked(notify.KindSessionState, id, StatePayload{Processing: false})
		s.emitLocked(notify.KindError, id, ErrorPayload{Message: msg})
		return fmt.Errorf("start agent for session %s: %w", id, err)
	}

	r := &run{
		gen:        gen,
		proc:       proc,
		decoder:    stream.NewDecoder(),
		stderr:     newTailBuffer(s.cfg.stderrLimit),
		stderrDone: make(chan struct{}),
		done:       make(chan struct{}),
	}
	rec.run = r
	s.metrics.spawns.WithLabelValues("ok").Inc()
	s.metrics.running.Inc()
	s.applyLocked(rec, []conversation.Update{{Kind: conversation.KindSessionState, SessionID: id, Processing: true}})
	s.logger.Info("agent process started", "session", id, "pid", proc.Pid(), "model", sess.Model, "resume", sess.ResumeID)

	go s.writeInput(id, r, prompt)
	go s.drainStderr(r)
	go s.readLoop(id, r)
	return nil
}

// StopSession stops the session's process, if any. It returns false only
// for an unknown session.
func (s *Supervisor) StopSession(id string) bool {
	s.mu.Lock()
	rec, ok := s.records[id]
	if !ok {
		s.mu.Unlock()
		return false
	}
	rec.gen++
	old := s.detachRunLocked(id, rec)
	s.acc.ClearSession(id)
	rec.session.Processing = false
	s.emitLocked(notify.KindSessionState, id, StatePayload{Processing: false})
	s.emitLocked(notify.KindStopped, id, rec.session.clone())
	s.mu.Unlock()

	if old != nil {
		s.logger.Info("stopping agent process", "session", id, "pid", old.proc.Pid())
		go s.terminate(id, old)
	}
	return true
}

// detachRunLocked disconnects the session's current run so none of its
// later output or exit is applied. The caller terminates the returned run.
func (s *Supervisor) detachRunLocked(id string, rec *record) *run {
	r := rec.run
	if r == nil {
		return nil
	}
	r.detached = true
	rec.run = nil
	rec.session.Processing = false
	s.acc.ClearSession(id)
	s.metrics.running.Dec()
	return r
}

// currentLocked returns the record r belongs to while r is still attached.
func (s *Supervisor) currentLocked(id string, r *run) *record {
	rec, ok := s.records[id]
	if !ok || rec.run != r || r.detached {
		return nil
	}
	return rec
}

// terminate signals the process group and escalates to SIGKILL after the
// stop grace period.
func (s *Supervisor) terminate(id string, r *run) {
	if err := r.proc.Signal(syscall.SIGTERM); err != nil {
		s.logger.Debug("sending SIGTERM", "session", id, "pid", r.proc.Pid(), "err", err)
	}
	select {
	case <-r.done:
		return
	case <-time.After(s.cfg.stopGrace):
	}

	s.metrics.kills.Inc()
	s.logger.Warn("agent process ignored SIGTERM, killing", "session", id, "pid", r.proc.Pid())
	if err := r.proc.Signal(syscall.SIGKILL); err != nil {
		s.logger.Debug("sending SIGKILL", "session", id, "pid", r.proc.Pid(), "err", err)
	}
	select {
	case <-r.done:
	case <-time.After(killWait):
		s.logger.Error("agent process still running after SIGKILL", "session", id, "pid", r.proc.Pid())
	}
}

func (s *Supervisor) writeInput(id string, r *run, prompt string) {
	w := r.proc.Stdin()
	if _, err := io.WriteString(w, prompt+"\n"); err != nil {
		s.logger.Debug("writing agent input", "session", id, "err", err)
	}
	if err := w.Close(); err != nil {
		s.logger.Debug("closing agent input", "session", id, "err", err)
	}
}

func (s *Supervisor) drainStderr(r *run) {
	defer close(r.stderrDone)
	if _, err := io.Copy(r.stderr, r.proc.Stderr()); err != nil && !isClosedPipe(err) {
		s.logger.Debug("reading agent stderr", "err", err)
	}
}

func (s *Supervisor) readLoop(id string, r *run) {
	defer close(r.done)

	buf := make([]byte, readChunkSize)
	out := r.proc.Stdout()
	for {
		n, err := out.Read(buf)
		if n > 0 {
			s.deliver(id, r, buf[:n], false)
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !isClosedPipe(err) {
				s.logger.Debug("reading agent stdout", "session", id, "err", err)
			}
			break
		}
	}
	s.deliver(id, r, nil, true)

	<-r.stderrDone
	s.finish(id, r, r.proc.Wait())
}

// deliver decodes a chunk of output and applies it if r is still current.
func (s *Supervisor) deliver(id string, r *run, chunk []byte, flush bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.currentLocked(id, r)
	if rec == nil {
		if len(chunk) > 0 {
			s.metrics.stale.WithLabelValues("output").Inc()
		}
		return
	}

	var (
		events []stream.Event
		errs   []error
	)
	if flush {
		events, errs = r.decoder.Flush()
	} else {
		events, errs = r.decoder.Feed(chunk)
	}
	for _, err := range errs {
		s.metrics.lineErrors.Inc()
		s.logger.Warn("skipping malformed output line", "session", id, "err", err)
	}
	for _, ev := range events {
		s.applyLocked(rec, s.acc.Process(id, ev))
	}
}

// finish handles the exit of r.
func (s *Supervisor) finish(id string, r *run, waitErr error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.currentLocked(id, r)
	if rec == nil {
		s.metrics.stale.WithLabelValues("exit").Inc()
		s.logger.Debug("ignoring exit of superseded process", "session", id, "pid", r.proc.Pid(), "generation", r.gen)
		return
	}
	rec.run = nil
	s.metrics.running.Dec()
	s.acc.ClearSession(id)

	if waitErr == nil {
		s.metrics.exits.WithLabelValues("ok").Inc()
		s.logger.Info("agent process exited", "session", id, "pid", r.proc.Pid())
	} else {
		s.metrics.exits.WithLabelValues("error").Inc()
		code := exitCode(waitErr)
		stderr := r.stderr.String()
		s.logger.Warn("agent process failed", "session", id, "pid", r.proc.Pid(), "exit_code", code, "stderr", stderr)
		if stderr != "" {
			s.applyLocked(rec, []conversation.Update{s.acc.ErrorMessage(id, stderr)})
			s.emitLocked(notify.KindError, id, ErrorPayload{Message: stderr, ExitCode: code})
		}
	}

	if rec.session.Processing {
		rec.session.Processing = false
		s.emitLocked(notify.KindSessionState, id, StatePayload{Processing: false})
	}
}

func exitCode(err error) int {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

func isClosedPipe(err error) bool {
	return errors.Is(err, os.ErrClosed) || errors.Is(err, io.ErrClosedPipe)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
