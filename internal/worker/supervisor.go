package worker

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"aer/internal/config"
	"aer/internal/logging"
	"aer/internal/rpc"
	"aer/internal/services"
)

// Event is an unsolicited notification emitted by the worker.
type Event = rpc.Event

// Listener receives worker events. Listeners run on the worker's read
// goroutine and must not block.
type Listener func(Event)

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithArgs sets the worker command-line arguments.
func WithArgs(args ...string) Option {
	return func(s *Supervisor) {
		s.args = append([]string(nil), args...)
	}
}

// WithEnv appends KEY=VALUE entries to the inherited environment.
func WithEnv(env ...string) Option {
	return func(s *Supervisor) {
		s.env = append(s.env, env...)
	}
}

// WithAutoStart controls whether Call spawns a stopped worker.
func WithAutoStart(enabled bool) Option {
	return func(s *Supervisor) {
		s.autoStart = enabled
	}
}

// WithCallTimeout bounds calls whose context carries no deadline.
func WithCallTimeout(timeout time.Duration) Option {
	return func(s *Supervisor) {
		s.callTimeout = timeout
	}
}

// WithStopTimeout bounds how long Stop waits before killing the process.
func WithStopTimeout(timeout time.Duration) Option {
	return func(s *Supervisor) {
		if timeout > 0 {
			s.stopTimeout = timeout
		}
	}
}

// WithLogger sets the base logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Supervisor) {
		if logger != nil {
			s.logger = logger
		}
	}
}

type pendingCall struct {
	method string
	result chan callResult
}

type callResult struct {
	raw json.RawMessage
	err error
}

type process struct {
	cmd       *exec.Cmd
	stdin     io.WriteCloser
	channel   *rpc.Channel
	sessionID string
	done      chan struct{}
	stopping  bool
}

// Supervisor owns one worker child process at a time and multiplexes calls
// over its standard streams.
type Supervisor struct {
	binary      string
	args        []string
	env         []string
	autoStart   bool
	callTimeout time.Duration
	stopTimeout time.Duration
	base        *slog.Logger
	logger      *slog.Logger

	startMu sync.Mutex
	sendMu  sync.Mutex

	mu           sync.Mutex
	state        State
	proc         *process
	pending      map[int64]*pendingCall
	nextID       int64
	listeners    map[int]Listener
	nextListener int
	lastExit     int
}

// NewSupervisor constructs a stopped supervisor for binary.
func NewSupervisor(binary string, opts ...Option) *Supervisor {
	s := &Supervisor{
		binary:      strings.TrimSpace(binary),
		autoStart:   true,
		stopTimeout: 5 * time.Second,
		logger:      logging.NewNop(),
		pending:     make(map[int64]*pendingCall),
		listeners:   make(map[int]Listener),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.base = s.logger
	s.logger = logging.NewComponentLogger(s.base, "worker")
	return s
}

// NewFromConfig builds a supervisor from the [worker] configuration section.
func NewFromConfig(cfg *config.Config, logger *slog.Logger) *Supervisor {
	return NewSupervisor(cfg.Worker.Binary,
		WithArgs(cfg.Worker.Args...),
		WithEnv(cfg.Worker.Env...),
		WithAutoStart(cfg.Worker.AutoStart),
		WithCallTimeout(cfg.CallTimeout()),
		WithStopTimeout(cfg.StopTimeout()),
		WithLogger(logger),
	)
}

// State returns the current lifecycle state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SessionID identifies the running process; empty when no process is running.
func (s *Supervisor) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.proc == nil {
		return ""
	}
	return s.proc.sessionID
}

// LastExitCode returns the exit status of the most recent process.
func (s *Supervisor) LastExitCode() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastExit
}

// Start spawns the worker if it is not already running.
func (s *Supervisor) Start(ctx context.Context) error {
	s.startMu.Lock()
	defer s.startMu.Unlock()

	s.mu.Lock()
	if s.state.Running() {
		s.mu.Unlock()
		return nil
	}
	previous := s.state
	s.state = StateStarting
	s.mu.Unlock()

	proc, err := s.spawn(ctx)
	if err != nil {
		s.mu.Lock()
		s.state = previous
		s.mu.Unlock()
		return err
	}
	return s.run(proc)
}

func (s *Supervisor) spawn(ctx context.Context) (*process, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, err := ResolveBinary(s.binary)
	if err != nil {
		return nil, err
	}

	cmd := exec.Command(path, s.args...) //nolint:gosec
	cmd.Env = append(os.Environ(), s.env...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, services.Wrap(services.ErrExternalTool, "worker", "start", fmt.Sprintf("spawn %s", path), err)
	}

	proc := &process{
		cmd:       cmd,
		stdin:     stdin,
		sessionID: uuid.NewString(),
		done:      make(chan struct{}),
	}
	proc.channel = rpc.NewChannel(stdin, rpc.Handlers{
		OnResponse: s.handleResponse,
		OnEvent:    s.dispatchEvent,
	}, s.logger.With(logging.String(logging.FieldSessionID, proc.sessionID)))

	logger := s.logger.With(logging.String(logging.FieldSessionID, proc.sessionID))
	var readers sync.WaitGroup
	readers.Add(2)
	go func() {
		defer readers.Done()
		if err := proc.channel.Consume(stdout); err != nil && !errors.Is(err, os.ErrClosed) {
			logger.Debug("worker stdout closed", logging.Error(err))
		}
	}()
	go func() {
		defer readers.Done()
		s.forwardStderr(stderr, proc.sessionID)
	}()
	go func() {
		readers.Wait()
		s.handleExit(proc, cmd.Wait())
	}()

	logger.Info("worker started",
		logging.String("binary", path),
		logging.Int("pid", cmd.Process.Pid),
		logging.String(logging.FieldEventType, "worker_started"),
	)
	return proc, nil
}

func (s *Supervisor) run(proc *process) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-proc.done:
		// Exited before it was ever marked running; handleExit already ran.
		return fmt.Errorf("%w: exit status %d during startup", ErrWorkerExited, s.lastExit)
	default:
	}
	s.proc = proc
	s.state = StateRunning
	s.nextID = 0
	return nil
}

func (s *Supervisor) forwardStderr(r io.Reader, sessionID string) {
	stderrLogger := logging.NewComponentLogger(s.base, "worker.stderr").
		With(logging.String(logging.FieldSessionID, sessionID))
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		stderrLogger.Info(line)
	}
}

// Call sends method with params and waits for the matching response. A
// stopped worker is started first when auto-start is enabled.
func (s *Supervisor) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if s.callTimeout > 0 {
		if _, ok := ctx.Deadline(); !ok {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, s.callTimeout)
			defer cancel()
		}
	}

	if err := s.ensureRunning(ctx); err != nil {
		return nil, err
	}

	id, call, err := s.send(method, params)
	if err != nil {
		return nil, err
	}

	select {
	case res := <-call.result:
		return res.raw, res.err
	case <-ctx.Done():
		s.mu.Lock()
		delete(s.pending, id)
		s.mu.Unlock()
		logging.WithContext(services.WithSessionID(ctx, s.SessionID()), s.logger).Debug("worker call abandoned",
			logging.Int64(logging.FieldRequestID, id),
			logging.String(logging.FieldMethod, method),
			logging.Error(ctx.Err()),
		)
		return nil, fmt.Errorf("worker %s (request %d): %w", method, id, ctx.Err())
	}
}

func (s *Supervisor) ensureRunning(ctx context.Context) error {
	if s.State().Running() {
		return nil
	}
	if !s.autoStart {
		return ErrNotRunning
	}
	return s.Start(ctx)
}

func (s *Supervisor) send(method string, params any) (int64, *pendingCall, error) {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	s.mu.Lock()
	if s.state != StateRunning || s.proc == nil {
		s.mu.Unlock()
		return 0, nil, ErrWorkerExited
	}
	s.nextID++
	id := s.nextID
	call := &pendingCall{method: method, result: make(chan callResult, 1)}
	s.pending[id] = call
	proc := s.proc
	s.mu.Unlock()

	s.logger.Debug("worker call",
		logging.Int64(logging.FieldRequestID, id),
		logging.String(logging.FieldMethod, method),
		logging.String(logging.FieldSessionID, proc.sessionID),
	)
	if err := proc.channel.Send(rpc.Request{ID: id, Method: method, Params: params}); err != nil {
		s.mu.Lock()
		_, stillPending := s.pending[id]
		delete(s.pending, id)
		s.mu.Unlock()
		if !stillPending {
			// The exit handler already rejected this call.
			res := <-call.result
			return 0, nil, res.err
		}
		return 0, nil, fmt.Errorf("%w: %w", ErrWorkerExited, err)
	}
	return id, call, nil
}

func (s *Supervisor) handleResponse(resp *rpc.Response) {
	s.mu.Lock()
	call, ok := s.pending[resp.ID]
	if ok {
		delete(s.pending, resp.ID)
	}
	s.mu.Unlock()

	if !ok {
		s.logger.Debug("dropping response for unknown request",
			logging.Int64(logging.FieldRequestID, resp.ID),
		)
		return
	}
	if resp.OK() {
		call.result <- callResult{raw: resp.Result}
		return
	}
	call.result <- callResult{err: &RemoteError{Method: call.method, Message: resp.Error.Message}}
}

func (s *Supervisor) dispatchEvent(ev *rpc.Event) {
	s.mu.Lock()
	listeners := make([]Listener, 0, len(s.listeners))
	for _, l := range s.listeners {
		listeners = append(listeners, l)
	}
	s.mu.Unlock()

	if len(listeners) == 0 {
		s.logger.Debug("dropping worker event without listeners", logging.String("event", ev.Name))
		return
	}
	for _, l := range listeners {
		l(*ev)
	}
}

// OnEvent registers listener for worker events and returns a function that
// removes it. The returned function is safe to call more than once.
func (s *Supervisor) OnEvent(listener Listener) func() {
	if listener == nil {
		return func() {}
	}
	s.mu.Lock()
	id := s.nextListener
	s.nextListener++
	s.listeners[id] = listener
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.listeners, id)
			s.mu.Unlock()
		})
	}
}

func (s *Supervisor) handleExit(proc *process, waitErr error) {
	code := 0
	if waitErr != nil {
		code = -1
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			code = exitErr.ExitCode()
		}
	}

	s.mu.Lock()
	pending := s.pending
	s.pending = make(map[int64]*pendingCall)
	s.lastExit = code
	switch {
	case proc.stopping:
		s.state = StateStopped
	case code == 0:
		s.state = StateExited
	default:
		s.state = StateCrashed
	}
	state := s.state
	if s.proc == proc {
		s.proc = nil
	}
	for id, call := range pending {
		call.result <- callResult{err: fmt.Errorf("%w: %s request %d abandoned (exit status %d)", ErrWorkerExited, call.method, id, code)}
	}
	close(proc.done)
	s.mu.Unlock()

	attrs := []logging.Attr{
		logging.String(logging.FieldSessionID, proc.sessionID),
		logging.Int("exit_code", code),
		logging.String("state", state.String()),
		logging.Int("rejected_calls", len(pending)),
	}
	if state == StateCrashed {
		logging.WarnWithContext(s.logger, "worker crashed", "worker_crashed",
			append(attrs,
				logging.String(logging.FieldErrorHint, "inspect worker.stderr lines above"),
				logging.String(logging.FieldImpact, "next call restarts the worker"),
			)...,
		)
		return
	}
	s.logger.Info("worker exited", logging.Args(attrs...)...)
}

// Stop closes the worker's stdin and waits for it to exit, killing it when
// ctx ends or the stop timeout elapses first.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.mu.Lock()
	proc := s.proc
	if proc == nil {
		s.mu.Unlock()
		return nil
	}
	proc.stopping = true
	s.mu.Unlock()

	if _, ok := ctx.Deadline(); !ok && s.stopTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.stopTimeout)
		defer cancel()
	}

	// Not under sendMu: closing also unblocks a Send stuck on a full pipe.
	closeErr := proc.stdin.Close()
	if closeErr != nil && !errors.Is(closeErr, os.ErrClosed) {
		s.logger.Debug("close worker stdin", logging.Error(closeErr))
	}

	select {
	case <-proc.done:
		return nil
	case <-ctx.Done():
	}

	s.logger.Warn("worker did not exit after stdin closed; killing",
		logging.String(logging.FieldSessionID, proc.sessionID),
		logging.String(logging.FieldEventType, "worker_killed"),
	)
	if err := proc.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("kill worker: %w", err)
	}
	<-proc.done
	return nil
}
