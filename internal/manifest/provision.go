package manifest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/gofrs/flock"
	"golang.org/x/sync/errgroup"

	"aer/internal/download"
	"aer/internal/fileutil"
	"aer/internal/logging"
)

// LockFileName is created under the provision root while a run holds it.
const LockFileName = ".provision.lock"

var (
	// ErrLocked indicates another process is provisioning the same root.
	ErrLocked = errors.New("provision root is locked by another process")
	// ErrChecksumMismatch indicates an installed file did not hash to the manifest value.
	ErrChecksumMismatch = errors.New("sha256 mismatch")
)

// Outcome classifies what happened to one entry.
type Outcome string

const (
	OutcomeInstalled   Outcome = "installed"
	OutcomeSkipped     Outcome = "skipped"
	OutcomeUnsupported Outcome = "unsupported"
)

// Result reports one entry's provisioning outcome.
type Result struct {
	Name    string
	Path    string
	Outcome Outcome
	Bytes   int64
}

// ProgressFunc receives per-entry transfer progress.
type ProgressFunc func(name string, done, total int64)

// Option customizes a Provisioner.
type Option func(*Provisioner)

// WithParallel bounds how many entries download at once.
func WithParallel(n int) Option {
	return func(p *Provisioner) {
		if n > 0 {
			p.parallel = n
		}
	}
}

// WithLogger sets the provisioner logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Provisioner) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithGOOS overrides the platform used for entry filtering.
func WithGOOS(goos string) Option {
	return func(p *Provisioner) {
		if goos != "" {
			p.goos = goos
		}
	}
}

// Provisioner installs manifest entries under a root directory.
type Provisioner struct {
	root     string
	fetcher  *download.Fetcher
	parallel int
	goos     string
	logger   *slog.Logger
}

// NewProvisioner constructs a Provisioner rooted at root.
func NewProvisioner(root string, fetcher *download.Fetcher, opts ...Option) *Provisioner {
	p := &Provisioner{
		root:     root,
		fetcher:  fetcher,
		parallel: 1,
		goos:     runtime.GOOS,
		logger:   logging.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = logging.NewComponentLogger(p.logger, "provision")
	return p
}

// Root returns the provision root directory.
func (p *Provisioner) Root() string { return p.root }

// Provision installs every applicable entry of m. It holds an exclusive
// lock on the root for the whole run and stops at the first failure.
// Results are index-aligned with m.Assets; entries that never ran are zero.
func (p *Provisioner) Provision(ctx context.Context, m *Manifest, onProgress ProgressFunc) ([]Result, error) {
	if m == nil {
		return nil, errors.New("manifest is nil")
	}
	if err := os.MkdirAll(p.root, 0o755); err != nil {
		return nil, fmt.Errorf("create provision root: %w", err)
	}

	lockPath := filepath.Join(p.root, LockFileName)
	lock := flock.New(lockPath)
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire %s: %w", lockPath, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrLocked, lockPath)
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			p.logger.Warn("failed to release provision lock", logging.Error(err))
		}
	}()

	results := make([]Result, len(m.Assets))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.parallel)
	for i, entry := range m.Assets {
		g.Go(func() error {
			res, err := p.provisionEntry(gctx, entry, onProgress)
			results[i] = res
			if err != nil {
				return fmt.Errorf("provision %s: %w", entry.Name, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, nil
}

func (p *Provisioner) provisionEntry(ctx context.Context, e Entry, onProgress ProgressFunc) (Result, error) {
	final := filepath.Join(p.root, filepath.FromSlash(strings.TrimSpace(e.Dest)))
	res := Result{Name: e.Name, Path: final}
	logger := p.logger.With(logging.String(logging.FieldAssetID, e.Name))

	if !e.AppliesTo(p.goos) {
		res.Outcome = OutcomeUnsupported
		logger.Debug("entry not applicable on this platform", logging.String("goos", p.goos))
		return res, nil
	}

	present, err := p.alreadyInstalled(e, final)
	if err != nil {
		return res, err
	}
	if present {
		res.Outcome = OutcomeSkipped
		logger.Info("already provisioned", logging.String("path", final))
		return res, nil
	}

	sampler := logging.NewProgressSampler(5)
	req := download.FetchRequest{
		URL:  e.URL,
		Dest: final,
		OnProgress: func(done, total int64) {
			if onProgress != nil {
				onProgress(e.Name, done, total)
			}
			if total > 0 && sampler.ShouldLog(int(done*100/total)) {
				logger.Debug("provision progress", logging.Int64("bytes", done), logging.Int64("total", total))
			}
		},
	}
	if e.Gzip {
		req.Dest = final + ".gz"
	}
	if e.Verified() {
		hasher := sha256.New()
		req.Extra = hasher
		req.Verify = func(string, int64) error {
			return compareDigest(e.SHA256, hex.EncodeToString(hasher.Sum(nil)))
		}
	}

	written, err := p.fetcher.Fetch(ctx, req)
	res.Bytes = written
	if err != nil {
		return res, err
	}

	if e.Gzip {
		if err := unpack(req.Dest, final); err != nil {
			return res, err
		}
	}
	if e.Executable && p.goos != "windows" {
		if err := os.Chmod(final, 0o755); err != nil {
			return res, fmt.Errorf("mark %s executable: %w", final, err)
		}
	}

	res.Outcome = OutcomeInstalled
	logger.Info("provisioned",
		logging.String("path", final),
		logging.Int64("bytes", written),
		logging.Bool("verified", e.Verified()),
	)
	return res, nil
}

// alreadyInstalled reports whether final can be left alone. The digest of a
// gzip entry covers the compressed download, so an unpacked file is only
// checked for presence.
func (p *Provisioner) alreadyInstalled(e Entry, final string) (bool, error) {
	if e.Verified() && !e.Gzip {
		return fileutil.MatchesSHA256(final, e.SHA256)
	}
	info, err := os.Stat(final)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return !info.IsDir(), nil
}

// unpack decompresses an already verified archive into final and drops it.
func unpack(gzPath, final string) error {
	defer func() { _ = os.Remove(gzPath) }()
	return fileutil.GunzipFile(gzPath, final)
}

func compareDigest(want, got string) error {
	if strings.EqualFold(strings.TrimSpace(want), got) {
		return nil
	}
	return fmt.Errorf("%w: expected %s, got %s", ErrChecksumMismatch, strings.ToLower(strings.TrimSpace(want)), got)
}
