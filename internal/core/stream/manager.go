// Package stream owns the claude subprocess: it launches one process
// per user command, decodes its stream-json output into text fragments,
// and recovers from session-id conflicts with a single automatic retry.
package stream

import (
	"bufio"
	"context"
	"errors"
	"io"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cbroglie/mustache"
	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/tomasky/ccbridge/internal/core/logging"
	"github.com/tomasky/ccbridge/internal/core/protocol"
)

// Outcome is the terminal state of a run. The manager never propagates
// errors across the streaming boundary; every run resolves to exactly
// one outcome the caller can render.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeFailure
	OutcomeStopped
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeFailure:
		return "failure"
	case OutcomeStopped:
		return "stopped"
	}
	return "unknown"
}

// Config controls how claude is invoked.
type Config struct {
	Binary             string        // executable name or path, default "claude"
	ExtraFlags         []string      // user-configured flags added to every invocation
	ConflictRetryDelay time.Duration // wait before the single conflict retry
	ConflictNotice     string        // mustache template, {{external_id}} available
}

// Run is one command invocation in flight. Fragments delivers assistant
// text in arrival order and is closed when the run resolves.
type Run struct {
	fragments chan string
	done      chan struct{}
	once      sync.Once
	outcome   Outcome
	err       error
}

func newRun() *Run {
	return &Run{
		fragments: make(chan string, 256),
		done:      make(chan struct{}),
	}
}

// Fragments returns the text fragment channel. It is closed exactly
// once, when the run reaches a terminal state.
func (r *Run) Fragments() <-chan string {
	return r.fragments
}

// Wait blocks until the run resolves and returns its outcome. The error
// is non-nil only for OutcomeFailure.
func (r *Run) Wait() (Outcome, error) {
	<-r.done
	return r.outcome, r.err
}

func (r *Run) resolve(outcome Outcome, err error) {
	r.once.Do(func() {
		r.outcome = outcome
		r.err = err
		close(r.fragments)
		close(r.done)
	})
}

// Manager owns at most one claude subprocess at a time. It is an
// explicitly constructed service: callers hold a *Manager rather than
// reaching for process-wide state, and the at-most-one-run invariant is
// enforced with an internal guard.
type Manager struct {
	cfg Config
	log zerolog.Logger

	mu          sync.Mutex
	active      *runState
	externalID  string
	onSessionID func(id string) // id == "" means cleared
}

// New creates a manager. Zero-value config fields fall back to defaults.
func New(cfg Config) *Manager {
	if cfg.Binary == "" {
		cfg.Binary = "claude"
	}
	if cfg.ConflictRetryDelay <= 0 {
		cfg.ConflictRetryDelay = 500 * time.Millisecond
	}
	return &Manager{
		cfg: cfg,
		log: logging.With("stream"),
	}
}

// OnSessionIDChanged registers the notification invoked whenever the
// external session id is announced or cleared, so the caller can
// persist it before the run completes.
func (m *Manager) OnSessionIDChanged(fn func(id string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onSessionID = fn
}

// ExternalSessionID returns the most recently announced external id.
func (m *Manager) ExternalSessionID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.externalID
}

func (m *Manager) setExternalID(id string) {
	m.mu.Lock()
	m.externalID = id
	fn := m.onSessionID
	m.mu.Unlock()
	if fn != nil {
		fn(id)
	}
}

// Run executes command through the claude CLI, resuming
// externalSessionID when non-empty. At most one run is active: any
// existing run is force-terminated and fully torn down before the new
// subprocess spawns, so two runs' fragments never interleave.
func (m *Manager) Run(ctx context.Context, command, externalSessionID string) (*Run, error) {
	if strings.TrimSpace(command) == "" {
		return nil, ErrEmptyCommand
	}

	m.mu.Lock()
	prev := m.active
	m.mu.Unlock()
	if prev != nil {
		prev.stop()
		<-prev.run.done
	}

	rs := &runState{
		m:          m,
		run:        newRun(),
		command:    command,
		externalID: externalSessionID,
		cancel:     make(chan struct{}),
	}

	m.mu.Lock()
	m.active = rs
	m.mu.Unlock()

	go rs.execute(ctx)
	return rs.run, nil
}

// Stop terminates the active subprocess, if any, and resolves its run
// as Stopped. Already-delivered fragments are not retracted; the caller
// appends its own "stopped" marker to the conversation.
func (m *Manager) Stop() {
	m.mu.Lock()
	rs := m.active
	m.mu.Unlock()
	if rs == nil {
		return
	}
	rs.stop()
	<-rs.run.done
}

// runState is the runtime-only state of one logical run, spanning the
// initial attempt and the optional conflict retry.
type runState struct {
	m          *Manager
	run        *Run
	command    string
	externalID string

	stopped    atomic.Bool
	cancelOnce sync.Once
	cancel     chan struct{}

	cmdMu sync.Mutex
	cmd   *exec.Cmd
}

var errConflictRetry = errors.New("session id conflict, retrying")

func (rs *runState) execute(ctx context.Context) {
	defer func() {
		rs.m.mu.Lock()
		if rs.m.active == rs {
			rs.m.active = nil
		}
		rs.m.mu.Unlock()
	}()

	// Cooperative cancellation: context expiry behaves like Stop.
	watchDone := make(chan struct{})
	defer close(watchDone)
	go func() {
		select {
		case <-ctx.Done():
			rs.stop()
		case <-watchDone:
		}
	}()

	extID := rs.externalID
	attempts := 0

	op := func() error {
		isRetry := attempts > 0
		attempts++

		res := rs.attempt(extID, isRetry)

		if res.conflict && !isRetry {
			rs.m.log.Warn().Str("external_id", extID).Msg("session id conflict, scheduling retry")
			rs.emit(rs.renderConflictNotice(extID) + "\n")
			rs.m.setExternalID("")
			extID = ""
			return errConflictRetry
		}

		rs.resolveFrom(res, isRetry)
		return nil
	}

	// The fixed wait between kill and relaunch lets the OS fully release
	// the old process before the fresh session starts.
	wait := backoff.WithMaxRetries(backoff.NewConstantBackOff(rs.m.cfg.ConflictRetryDelay), 1)
	if err := backoff.Retry(op, wait); err != nil {
		// Only reachable if the retries run out mid-conflict.
		rs.run.resolve(OutcomeFailure, &SessionConflictError{ExternalSessionID: rs.externalID})
	}
}

// attemptResult captures everything the outcome decision needs.
type attemptResult struct {
	stopped    bool
	conflict   bool
	spawnErr   error
	exitErr    error
	exitCode   int
	outputSeen bool
	stderrTail string
}

func (rs *runState) attempt(extID string, isRetry bool) attemptResult {
	if rs.stopped.Load() {
		return attemptResult{stopped: true}
	}

	args := rs.buildArgs(extID)
	cmd := exec.Command(rs.m.cfg.Binary, args...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return attemptResult{spawnErr: err}
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return attemptResult{spawnErr: err}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return attemptResult{spawnErr: err}
	}

	rs.m.log.Debug().Str("binary", rs.m.cfg.Binary).Strs("args", args).Bool("retry", isRetry).Msg("spawning claude")

	if err := cmd.Start(); err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return attemptResult{spawnErr: &ToolNotFoundError{Binary: rs.m.cfg.Binary, Err: err}}
		}
		return attemptResult{spawnErr: err}
	}

	// One-shot command, not an interactive pipe.
	_ = stdin.Close()

	rs.setCmd(cmd)
	defer rs.setCmd(nil)

	var outputSeen atomic.Bool
	conflictCh := make(chan struct{})
	var conflictOnce sync.Once
	procDone := make(chan struct{})

	// stderr monitor: record a tail for error surfacing and watch for
	// the conflict heuristic. Matching two literal substrings is
	// best-effort against claude version/localization drift.
	stderrTailCh := make(chan string, 1)
	go func() {
		scanner := bufio.NewScanner(stderr)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		var tail []string
		for scanner.Scan() {
			line := scanner.Text()
			if strings.TrimSpace(line) != "" {
				outputSeen.Store(true)
			}
			tail = append(tail, line)
			if len(tail) > 8 {
				tail = tail[1:]
			}
			if strings.Contains(line, "already in use") && strings.Contains(line, "Session ID") {
				conflictOnce.Do(func() { close(conflictCh) })
			}
		}
		stderrTailCh <- strings.TrimSpace(strings.Join(tail, "\n"))
	}()

	// A conflict or a Stop must unblock Wait by killing the process;
	// the first attempt of a conflicted session may otherwise never
	// exit on its own.
	go func() {
		select {
		case <-conflictCh:
			rs.kill()
		case <-rs.cancel:
			rs.kill()
		case <-procDone:
		}
	}()

	decoder := protocol.NewDecoder()
	reader := bufio.NewReader(stdout)
	buf := make([]byte, 32*1024)
	for {
		n, readErr := reader.Read(buf)
		if n > 0 {
			outputSeen.Store(true)
			rs.dispatch(decoder.Feed(string(buf[:n])))
		}
		if readErr != nil {
			if readErr != io.EOF {
				rs.m.log.Debug().Err(readErr).Msg("stdout read ended")
			}
			break
		}
	}
	rs.dispatch(decoder.Flush())

	stderrTail := <-stderrTailCh
	waitErr := cmd.Wait()
	close(procDone)

	res := attemptResult{
		exitErr:    waitErr,
		outputSeen: outputSeen.Load(),
		stderrTail: stderrTail,
		stopped:    rs.stopped.Load(),
	}
	select {
	case <-conflictCh:
		res.conflict = true
	default:
	}
	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		res.exitCode = exitErr.ExitCode()
	}
	return res
}

// resolveFrom maps an attempt result to the run's terminal state.
// Output wins over exit codes: a non-zero exit that still produced
// bytes resolves as success.
func (rs *runState) resolveFrom(res attemptResult, isRetry bool) {
	switch {
	case res.stopped:
		rs.run.resolve(OutcomeStopped, nil)
	case res.spawnErr != nil:
		rs.run.resolve(OutcomeFailure, res.spawnErr)
	case res.conflict && isRetry:
		rs.run.resolve(OutcomeFailure, &SessionConflictError{ExternalSessionID: rs.externalID})
	case res.exitErr == nil:
		rs.run.resolve(OutcomeSuccess, nil)
	case res.outputSeen:
		rs.m.log.Debug().Int("code", res.exitCode).Msg("non-zero exit after output, resolving success")
		rs.run.resolve(OutcomeSuccess, nil)
	default:
		rs.run.resolve(OutcomeFailure, &ProcessExitError{Code: res.exitCode, Stderr: res.stderrTail})
	}
}

func (rs *runState) dispatch(events []protocol.Event) {
	for _, ev := range events {
		switch ev.Kind {
		case protocol.KindText:
			rs.emit(ev.Text)
		case protocol.KindSessionID:
			rs.m.log.Debug().Str("external_id", ev.SessionID).Msg("session id announced")
			rs.m.setExternalID(ev.SessionID)
		case protocol.KindComplete:
			rs.m.log.Debug().Msg("message complete")
		case protocol.KindError:
			rs.m.log.Warn().RawJSON("payload", ev.Payload).Msg("error record from claude")
			rs.emit("\n[claude error: " + string(ev.Payload) + "]\n")
		}
	}
}

// emit forwards a fragment to the caller's sink, giving up if the run
// has been cancelled so a non-consuming caller cannot wedge teardown.
func (rs *runState) emit(text string) {
	select {
	case rs.run.fragments <- text:
	case <-rs.cancel:
	}
}

func (rs *runState) buildArgs(extID string) []string {
	// --verbose is required to unlock stream-json with --print, and
	// --include-partial-messages makes claude flush deltas instead of
	// buffering the full response.
	args := []string{
		"--print",
		"--verbose",
		"--output-format", "stream-json",
		"--include-partial-messages",
	}
	args = append(args, rs.m.cfg.ExtraFlags...)
	if extID != "" {
		args = append(args, "--resume", extID)
	}
	args = append(args, rs.command)
	return args
}

func (rs *runState) renderConflictNotice(extID string) string {
	tmpl := rs.m.cfg.ConflictNotice
	if tmpl == "" {
		tmpl = "[session {{external_id}} is already in use — retrying with a fresh session]"
	}
	out, err := mustache.Render(tmpl, map[string]interface{}{"external_id": extID})
	if err != nil {
		return "[session already in use — retrying with a fresh session]"
	}
	return out
}

func (rs *runState) stop() {
	rs.stopped.Store(true)
	rs.cancelOnce.Do(func() { close(rs.cancel) })
}

func (rs *runState) setCmd(cmd *exec.Cmd) {
	rs.cmdMu.Lock()
	rs.cmd = cmd
	rs.cmdMu.Unlock()
}

func (rs *runState) kill() {
	rs.cmdMu.Lock()
	cmd := rs.cmd
	rs.cmdMu.Unlock()
	if cmd != nil && cmd.Process != nil {
		_ = cmd.Process.Kill()
	}
}
