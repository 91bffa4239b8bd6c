package assets

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// EnvAssetDir names the environment variable pointing at an asset root whose
// models subdirectory holds installed models.
const EnvAssetDir = "AER_ASSET_DIR"

// DevAssetDir is the in-repository model directory used during development.
var DevAssetDir = filepath.Join("runtime", "assets", "models")

// ErrNotInstalled reports a known asset whose file is absent.
var ErrNotInstalled = errors.New("asset not installed")

// ResolveInstallDirectory picks the model directory: explicit, then
// $AER_ASSET_DIR/models, then DevAssetDir when it exists, then
// ~/.local/share/aer/models. The directory is not created.
func ResolveInstallDirectory(explicit string) (string, error) {
	if dir := strings.TrimSpace(explicit); dir != "" {
		return filepath.Abs(dir)
	}
	if root := strings.TrimSpace(os.Getenv(EnvAssetDir)); root != "" {
		return filepath.Abs(filepath.Join(root, "models"))
	}
	if info, err := os.Stat(DevAssetDir); err == nil && info.IsDir() {
		return filepath.Abs(DevAssetDir)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, ".local", "share", "aer", "models"), nil
}

// Store answers questions about assets installed in one flat directory.
type Store struct {
	dir     string
	catalog *Catalog
}

// NewStore returns a store rooted at dir.
func NewStore(dir string, catalog *Catalog) *Store {
	return &Store{dir: dir, catalog: catalog}
}

// Dir returns the install directory.
func (s *Store) Dir() string { return s.dir }

// Catalog returns the catalog the store resolves ids against.
func (s *Store) Catalog() *Catalog { return s.catalog }

// EnsureDir creates the install directory.
func (s *Store) EnsureDir() error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create asset directory %s: %w", s.dir, err)
	}
	return nil
}

// TargetPath returns where id is installed, whether or not the file exists.
func (s *Store) TargetPath(id string) (string, error) {
	d, err := s.catalog.Lookup(id)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.dir, d.Filename), nil
}

// ListInstalled reports every catalog asset present as a regular file, in
// catalog order. A missing install directory yields an empty list.
func (s *Store) ListInstalled() ([]InstalledAsset, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []InstalledAsset{}, nil
		}
		return nil, fmt.Errorf("read asset directory %s: %w", s.dir, err)
	}
	present := make(map[string]struct{}, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			present[entry.Name()] = struct{}{}
		}
	}

	installed := make([]InstalledAsset, 0, len(present))
	for _, d := range s.catalog.Assets {
		if _, ok := present[d.Filename]; !ok {
			continue
		}
		path := filepath.Join(s.dir, d.Filename)
		info, err := os.Stat(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("stat %s: %w", path, err)
		}
		if !info.Mode().IsRegular() {
			continue
		}
		installed = append(installed, InstalledAsset{
			Descriptor:    d,
			Path:          path,
			InstalledSize: info.Size(),
			Complete:      IsComplete(d.SizeBytes, info.Size()),
		})
	}
	return installed, nil
}

// ResolvePath returns the installed file for id. Unknown ids wrap
// ErrUnknownAsset; known but absent assets wrap ErrNotInstalled.
func (s *Store) ResolvePath(id string) (string, error) {
	path, err := s.TargetPath(id)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return "", fmt.Errorf("%w: %s (expected %s)", ErrNotInstalled, id, path)
	}
	return path, nil
}

// Delete removes the installed file for id and reports whether one existed.
// Unknown ids are an error.
func (s *Store) Delete(id string) (bool, error) {
	path, err := s.TargetPath(id)
	if err != nil {
		return false, err
	}
	if err := os.Remove(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("delete %s: %w", path, err)
	}
	return true, nil
}
