package download

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"aer/internal/assets"
	"aer/internal/logging"
	"aer/internal/services"
)

var (
	// ErrInProgress rejects a second download of an asset already in flight.
	ErrInProgress = errors.New("download already in progress")
	// ErrCancelled marks a transfer aborted through Manager.Cancel.
	ErrCancelled = errors.New("download cancelled")
)

// Progress is reported after every chunk of a transfer.
type Progress struct {
	AssetID         string
	Progress        int
	DownloadedBytes int64
	TotalBytes      int64
}

// ProgressFunc receives progress updates on the downloading goroutine.
type ProgressFunc func(Progress)

// Result describes a committed download.
type Result struct {
	AssetID string
	Path    string
	Bytes   int64
}

// Attempt statuses recorded in history.
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// Attempt is one finished transfer, successful or not.
type Attempt struct {
	AssetID    string
	URL        string
	Path       string
	Status     string
	Bytes      int64
	Error      string
	StartedAt  time.Time
	FinishedAt time.Time
}

// Recorder persists attempts. Failures are logged and never fail a download.
type Recorder interface {
	RecordAttempt(ctx context.Context, attempt Attempt) error
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithRecorder records every attempt.
func WithRecorder(r Recorder) ManagerOption {
	return func(m *Manager) {
		m.recorder = r
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ManagerOption {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

const (
	handleActive int32 = iota
	handleCancelled
	handleCommitting
)

// handle is one in-flight transfer. Cancel and commit race for the state;
// whichever moves it off handleActive first wins.
type handle struct {
	cancel context.CancelFunc
	state  atomic.Int32
}

func (h *handle) cancelled() bool { return h.state.Load() == handleCancelled }

// commit claims the transfer for the final rename. It fails once Cancel won.
func (h *handle) commit(string, int64) error {
	if !h.state.CompareAndSwap(handleActive, handleCommitting) {
		return context.Canceled
	}
	return nil
}

// Manager downloads catalog assets into a Store, at most one transfer per id.
type Manager struct {
	store    *assets.Store
	fetcher  *Fetcher
	recorder Recorder
	logger   *slog.Logger

	mu     sync.Mutex
	active map[string]*handle
}

// NewManager constructs a Manager.
func NewManager(store *assets.Store, fetcher *Fetcher, opts ...ManagerOption) *Manager {
	if fetcher == nil {
		fetcher = NewFetcher()
	}
	m := &Manager{
		store:   store,
		fetcher: fetcher,
		logger:  logging.NewNop(),
		active:  make(map[string]*handle),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = logging.NewComponentLogger(m.logger, "download")
	return m
}

// Download fetches asset id into the store directory, reporting progress
// after every chunk. The final file appears only after the transfer completes.
func (m *Manager) Download(ctx context.Context, id string, onProgress ProgressFunc) (Result, error) {
	desc, err := m.store.Catalog().Lookup(id)
	if err != nil {
		return Result{}, err
	}
	id = desc.ID
	path, err := m.store.TargetPath(id)
	if err != nil {
		return Result{}, err
	}

	ctx, h, err := m.register(ctx, id)
	if err != nil {
		return Result{}, err
	}
	defer m.unregister(id, h)

	ctx = services.WithAssetID(ctx, id)
	logger := logging.WithContext(ctx, m.logger)
	if err := m.store.EnsureDir(); err != nil {
		return Result{}, err
	}

	started := time.Now()
	logger.Info("download started",
		logging.String("url", desc.URL),
		logging.String("path", path),
		logging.String(logging.FieldEventType, "download_started"),
	)

	sampler := logging.NewProgressSampler(5)
	written, err := m.fetcher.Fetch(ctx, FetchRequest{
		URL:          desc.URL,
		Dest:         path,
		ExpectedSize: desc.SizeBytes,
		Verify:       h.commit,
		OnProgress: func(done, total int64) {
			p := Progress{
				AssetID:         id,
				Progress:        percent(done, total),
				DownloadedBytes: done,
				TotalBytes:      total,
			}
			if onProgress != nil {
				onProgress(p)
			}
			if sampler.ShouldLog(p.Progress) {
				logger.Debug("download progress",
					logging.Int("percent", p.Progress),
					logging.Int64("bytes", done),
				)
			}
		},
	})

	attempt := Attempt{
		AssetID:    id,
		URL:        desc.URL,
		Path:       path,
		Status:     StatusCompleted,
		Bytes:      written,
		StartedAt:  started,
		FinishedAt: time.Now(),
	}
	if err != nil {
		attempt.Status = StatusFailed
		if h.cancelled() {
			attempt.Status = StatusCancelled
			err = fmt.Errorf("%w: %s: %w", ErrCancelled, id, err)
		} else {
			err = fmt.Errorf("download %s: %w", id, err)
		}
		attempt.Error = err.Error()
	}
	m.record(ctx, logger, attempt)

	if err != nil {
		if attempt.Status == StatusCancelled {
			logger.Info("download cancelled",
				logging.Int64("bytes", written),
				logging.String(logging.FieldEventType, "download_cancelled"),
			)
		} else {
			logging.ErrorWithContext(logger, "download failed", "download_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check network access and retry"),
			)
		}
		return Result{}, err
	}

	logger.Info("download complete",
		logging.Int64("bytes", written),
		logging.Duration("elapsed", attempt.FinishedAt.Sub(started)),
		logging.String(logging.FieldEventType, "download_completed"),
	)
	return Result{AssetID: id, Path: path, Bytes: written}, nil
}

// Cancel aborts the in-flight download for id and reports whether it stopped
// one. A transfer that has already started committing its file is not
// cancelled.
func (m *Manager) Cancel(id string) bool {
	m.mu.Lock()
	h, ok := m.active[id]
	m.mu.Unlock()
	if !ok {
		return false
	}
	if !h.state.CompareAndSwap(handleActive, handleCancelled) {
		return false
	}
	h.cancel()
	return true
}

// CancelAll aborts every in-flight download and returns the affected ids.
func (m *Manager) CancelAll() []string {
	var cancelled []string
	for _, id := range m.Active() {
		if m.Cancel(id) {
			cancelled = append(cancelled, id)
		}
	}
	return cancelled
}

// Active returns the ids currently downloading, sorted.
func (m *Manager) Active() []string {
	m.mu.Lock()
	ids := make([]string, 0, len(m.active))
	for id := range m.active {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	sort.Strings(ids)
	return ids
}

func (m *Manager) register(ctx context.Context, id string) (context.Context, *handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, busy := m.active[id]; busy {
		return nil, nil, fmt.Errorf("%w: %s", ErrInProgress, id)
	}
	ctx, cancel := context.WithCancel(ctx)
	h := &handle{cancel: cancel}
	m.active[id] = h
	return ctx, h, nil
}

func (m *Manager) unregister(id string, h *handle) {
	m.mu.Lock()
	if m.active[id] == h {
		delete(m.active, id)
	}
	m.mu.Unlock()
	h.cancel()
}

func (m *Manager) record(ctx context.Context, logger *slog.Logger, attempt Attempt) {
	if m.recorder == nil {
		return
	}
	// The transfer context may already be cancelled; history writes still go through.
	if err := m.recorder.RecordAttempt(context.WithoutCancel(ctx), attempt); err != nil {
		logging.WarnWithContext(logger, "failed to record download history", "history_write_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "download history is incomplete"),
		)
	}
}

func percent(done, total int64) int {
	if total <= 0 {
		return 0
	}
	// The catalog size used when Content-Length is absent can undershoot.
	return min(int(math.Round(float64(done)/float64(total)*100)), 100)
}
