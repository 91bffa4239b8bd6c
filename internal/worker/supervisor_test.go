package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"
	"time"
)

func newTestSupervisor(t *testing.T, mode string, opts ...Option) *Supervisor {
	t.Helper()
	base := []Option{
		WithArgs("-test.run=TestHelperProcess", "--"),
		WithEnv("GO_WANT_HELPER_PROCESS=1", "WORKER_HELPER_MODE="+mode),
	}
	s := NewSupervisor(os.Args[0], append(base, opts...)...)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.Stop(ctx)
	})
	return s
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func (s *Supervisor) pendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestCallAutoStartsWorker(t *testing.T) {
	s := newTestSupervisor(t, "")
	if s.State() != StateStopped {
		t.Fatalf("initial state = %v", s.State())
	}

	raw, err := s.Call(testContext(t), "ping", nil)
	if err != nil {
		t.Fatalf("Call ping: %v", err)
	}
	var got PingResult
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Message != "Runtime ready" || !got.GPUEnabled {
		t.Fatalf("unexpected ping result %+v", got)
	}
	if s.State() != StateRunning {
		t.Fatalf("state = %v, want running", s.State())
	}
	if s.SessionID() == "" {
		t.Fatal("expected session id while running")
	}
}

func TestCallCorrelatesOutOfOrderResponses(t *testing.T) {
	s := newTestSupervisor(t, "")
	ctx := testContext(t)
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	type outcome struct {
		tag string
		got string
		err error
	}
	results := make(chan outcome, 2)
	for _, tag := range []string{"first", "second"} {
		go func(tag string) {
			raw, err := s.Call(ctx, "hold", map[string]string{"tag": tag})
			var body struct {
				Tag string `json:"tag"`
			}
			if err == nil {
				err = json.Unmarshal(raw, &body)
			}
			results <- outcome{tag: tag, got: body.Tag, err: err}
		}(tag)
	}
	for i := 0; i < 2; i++ {
		res := <-results
		if res.err != nil {
			t.Fatalf("call %s: %v", res.tag, res.err)
		}
		if res.got != res.tag {
			t.Fatalf("call %s received response for %s", res.tag, res.got)
		}
	}
}

func TestGarbageAndUnknownIDsAreIgnored(t *testing.T) {
	s := newTestSupervisor(t, "")
	ctx := testContext(t)

	raw, err := s.Call(ctx, "garbage", nil)
	if err != nil {
		t.Fatalf("Call garbage: %v", err)
	}
	if !strings.Contains(string(raw), `"ok":true`) {
		t.Fatalf("unexpected result %s", raw)
	}
	if _, err := s.Call(ctx, "ping", nil); err != nil {
		t.Fatalf("worker should keep serving after garbage: %v", err)
	}
	if s.State() != StateRunning {
		t.Fatalf("state = %v", s.State())
	}
}

func TestRemoteErrors(t *testing.T) {
	s := newTestSupervisor(t, "")
	ctx := testContext(t)

	tests := []struct {
		method string
		want   string
	}{
		{"fail", "Unknown method: fail"},
		{"fail-empty", "worker returned an error"},
	}
	for _, tt := range tests {
		t.Run(tt.method, func(t *testing.T) {
			_, err := s.Call(ctx, tt.method, nil)
			var remote *RemoteError
			if !errors.As(err, &remote) {
				t.Fatalf("expected RemoteError, got %v", err)
			}
			if remote.Method != tt.method {
				t.Fatalf("method = %q", remote.Method)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("error %q does not contain %q", err, tt.want)
			}
		})
	}
}

func TestEventsFanOutToListeners(t *testing.T) {
	s := newTestSupervisor(t, "")
	ctx := testContext(t)

	var mu sync.Mutex
	var first, second []string
	unsubscribeFirst := s.OnEvent(func(ev Event) {
		mu.Lock()
		first = append(first, ev.PayloadString())
		mu.Unlock()
	})
	unsubscribeSecond := s.OnEvent(func(ev Event) {
		mu.Lock()
		second = append(second, ev.Name+":"+ev.PayloadString())
		mu.Unlock()
	})
	defer unsubscribeSecond()

	params := map[string]any{"input_path": "/media/a.mkv", "language": "auto"}
	if _, err := s.Call(ctx, "transcribe", params); err != nil {
		t.Fatalf("Call transcribe: %v", err)
	}

	mu.Lock()
	if len(first) != 2 || first[0] != "Processing /media/a.mkv" {
		t.Fatalf("first listener got %v", first)
	}
	if len(second) != 2 || second[1] != "log:language=auto" {
		t.Fatalf("second listener got %v", second)
	}
	mu.Unlock()

	unsubscribeFirst()
	unsubscribeFirst()
	if _, err := s.Call(ctx, "transcribe", params); err != nil {
		t.Fatalf("Call transcribe: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(first) != 2 {
		t.Fatalf("unsubscribed listener still received events: %v", first)
	}
	if len(second) != 4 {
		t.Fatalf("remaining listener got %d events", len(second))
	}
}

func TestEventsWithoutListenersAreDropped(t *testing.T) {
	s := newTestSupervisor(t, "")
	if _, err := s.Call(testContext(t), "transcribe", map[string]any{"input_path": "/a"}); err != nil {
		t.Fatalf("Call transcribe: %v", err)
	}
}

func TestExitRejectsPendingCallsAndRestarts(t *testing.T) {
	s := newTestSupervisor(t, "")
	ctx := testContext(t)
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	firstSession := s.SessionID()

	hung := make(chan error, 1)
	go func() {
		_, err := s.Call(ctx, "hang", nil)
		hung <- err
	}()
	waitFor(t, "hang call to be pending", func() bool { return s.pendingCount() == 1 })

	_, err := s.Call(ctx, "exit", map[string]int{"code": 3})
	if !errors.Is(err, ErrWorkerExited) {
		t.Fatalf("exit call error = %v, want ErrWorkerExited", err)
	}
	if err := <-hung; !errors.Is(err, ErrWorkerExited) {
		t.Fatalf("pending call error = %v, want ErrWorkerExited", err)
	}
	if s.State() != StateCrashed {
		t.Fatalf("state = %v, want crashed", s.State())
	}
	if s.LastExitCode() != 3 {
		t.Fatalf("exit code = %d", s.LastExitCode())
	}
	if s.pendingCount() != 0 {
		t.Fatalf("pending map not cleared: %d", s.pendingCount())
	}

	if _, err := s.Call(ctx, "ping", nil); err != nil {
		t.Fatalf("restart call: %v", err)
	}
	if s.SessionID() == firstSession {
		t.Fatal("expected a new session after restart")
	}
}

func TestCleanExitIsExited(t *testing.T) {
	s := newTestSupervisor(t, "")
	ctx := testContext(t)
	if _, err := s.Call(ctx, "exit", map[string]int{"code": 0}); !errors.Is(err, ErrWorkerExited) {
		t.Fatalf("exit call error = %v", err)
	}
	if s.State() != StateExited {
		t.Fatalf("state = %v, want exited", s.State())
	}
}

func TestRequestIDsRestartPerProcess(t *testing.T) {
	s := newTestSupervisor(t, "")
	ctx := testContext(t)

	whoami := func() int64 {
		t.Helper()
		raw, err := s.Call(ctx, "whoami", nil)
		if err != nil {
			t.Fatalf("whoami: %v", err)
		}
		var body struct {
			ID int64 `json:"id"`
		}
		if err := json.Unmarshal(raw, &body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		return body.ID
	}

	if got := whoami(); got != 1 {
		t.Fatalf("first id = %d, want 1", got)
	}
	if got := whoami(); got != 2 {
		t.Fatalf("second id = %d, want 2", got)
	}
	_, _ = s.Call(ctx, "exit", map[string]int{"code": 1})
	if got := whoami(); got != 1 {
		t.Fatalf("id after restart = %d, want 1", got)
	}
}

func TestNoAutoStart(t *testing.T) {
	s := newTestSupervisor(t, "", WithAutoStart(false))
	ctx := testContext(t)

	if _, err := s.Call(ctx, "ping", nil); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("Call before Start = %v, want ErrNotRunning", err)
	}
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := s.Call(ctx, "ping", nil); err != nil {
		t.Fatalf("Call after Start: %v", err)
	}
	_, _ = s.Call(ctx, "exit", map[string]int{"code": 1})
	if _, err := s.Call(ctx, "ping", nil); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("Call after exit = %v, want ErrNotRunning", err)
	}
}

func TestMissingBinaryFailsFast(t *testing.T) {
	tests := []struct {
		name   string
		binary string
		want   string
	}{
		{"absolute path", "/nonexistent/aer/aer-gpu-runtime", "/nonexistent/aer/aer-gpu-runtime"},
		{"bare name", "aer-definitely-not-installed", "aer-definitely-not-installed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewSupervisor(tt.binary)
			_, err := s.Call(context.Background(), "ping", nil)
			if !errors.Is(err, ErrWorkerUnavailable) {
				t.Fatalf("error = %v, want ErrWorkerUnavailable", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("error %q does not name %q", err, tt.want)
			}
			if s.State() != StateStopped {
				t.Fatalf("state = %v", s.State())
			}
		})
	}
}

func TestCallHonorsContextDeadline(t *testing.T) {
	s := newTestSupervisor(t, "")
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	_, err := s.Call(ctx, "hang", nil)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("error = %v, want deadline exceeded", err)
	}
	if s.pendingCount() != 0 {
		t.Fatalf("abandoned call left pending: %d", s.pendingCount())
	}
	if _, err := s.Call(testContext(t), "ping", nil); err != nil {
		t.Fatalf("worker should still serve: %v", err)
	}
}

func TestCallTimeoutOption(t *testing.T) {
	s := newTestSupervisor(t, "", WithCallTimeout(150*time.Millisecond))
	_, err := s.Call(context.Background(), "hang", nil)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("error = %v, want deadline exceeded", err)
	}
}

func TestStopClosesStdin(t *testing.T) {
	s := newTestSupervisor(t, "")
	ctx := testContext(t)
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if s.State() != StateStopped {
		t.Fatalf("state = %v, want stopped", s.State())
	}
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
}

func TestStopKillsUnresponsiveWorker(t *testing.T) {
	s := newTestSupervisor(t, "ignore-eof", WithStopTimeout(200*time.Millisecond))
	if err := s.Start(testContext(t)); err != nil {
		t.Fatalf("Start: %v", err)
	}
	start := time.Now()
	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("Stop took %v", elapsed)
	}
	if s.State() != StateStopped {
		t.Fatalf("state = %v", s.State())
	}
}

func TestStopDoesNotWaitForBlockedSend(t *testing.T) {
	s := newTestSupervisor(t, "deaf")
	if err := s.Start(testContext(t)); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// Larger than any pipe buffer, so the write blocks on a worker that never reads.
	payload := map[string]string{"blob": strings.Repeat("x", 4<<20)}
	callErr := make(chan error, 1)
	go func() {
		_, err := s.Call(testContext(t), "ping", payload)
		callErr <- err
	}()
	waitFor(t, "call to be pending", func() bool { return s.pendingCount() == 1 })
	time.Sleep(50 * time.Millisecond)

	stopCtx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	stopped := make(chan error, 1)
	go func() { stopped <- s.Stop(stopCtx) }()

	select {
	case err := <-stopped:
		if err != nil {
			t.Fatalf("Stop: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Stop blocked behind an in-flight send")
	}
	select {
	case err := <-callErr:
		if !errors.Is(err, ErrWorkerExited) {
			t.Fatalf("Call error = %v, want ErrWorkerExited", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("blocked call was not released")
	}
}

func TestCrashOnStartRejectsCall(t *testing.T) {
	s := newTestSupervisor(t, "crash-on-start")
	_, err := s.Call(testContext(t), "ping", nil)
	if !errors.Is(err, ErrWorkerExited) {
		t.Fatalf("error = %v, want ErrWorkerExited", err)
	}
	waitFor(t, "crashed state", func() bool { return s.State() == StateCrashed })
}

func TestStderrGoesToLogger(t *testing.T) {
	var out syncBuffer
	logger := slog.New(slog.NewTextHandler(&out, &slog.HandlerOptions{Level: slog.LevelDebug}))
	s := newTestSupervisor(t, "", WithLogger(logger))
	ctx := testContext(t)

	if _, err := s.Call(ctx, "stderr", nil); err != nil {
		t.Fatalf("Call stderr: %v", err)
	}
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	logs := out.String()
	if !strings.Contains(logs, "diagnostic line from worker") {
		t.Fatalf("stderr line missing from logs:\n%s", logs)
	}
	if !strings.Contains(logs, "component=worker.stderr") {
		t.Fatalf("stderr lines should carry worker.stderr component:\n%s", logs)
	}
}

func TestStateString(t *testing.T) {
	tests := map[State]string{
		StateStopped:  "stopped",
		StateStarting: "starting",
		StateRunning:  "running",
		StateExited:   "exited",
		StateCrashed:  "crashed",
		State(99):     "unknown",
	}
	for state, want := range tests {
		if got := state.String(); got != want {
			t.Fatalf("State(%d).String() = %q, want %q", int(state), got, want)
		}
	}
}
