package assets_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"aer/internal/assets"
)

const testCatalogTOML = `
version = 1

[[assets]]
id = "alpha"
name = "Alpha"
size_bytes = 1000
url = "https://example.invalid/alpha.bin"
filename = "alpha.bin"
required = true

[[assets]]
id = "beta"
size_bytes = 1000
url = "https://example.invalid/beta.bin"
filename = "beta.bin"

[[assets]]
id = "gamma"
size_bytes = 0
url = "https://example.invalid/gamma.bin"
filename = "gamma.bin"
`

func testCatalog(t *testing.T) *assets.Catalog {
	t.Helper()
	cat, err := assets.ParseCatalog([]byte(testCatalogTOML))
	if err != nil {
		t.Fatalf("ParseCatalog: %v", err)
	}
	return cat
}

func writeSized(t *testing.T, path string, size int) {
	t.Helper()
	if err := os.WriteFile(path, make([]byte, size), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestIsComplete(t *testing.T) {
	tests := []struct {
		expected  int64
		installed int64
		want      bool
	}{
		{1000, 1000, true},
		{1000, 950, true},
		{1000, 1050, true},
		{1000, 949, false},
		{1000, 1051, false},
		{1000, 0, false},
		{0, 1, true},
		{0, 0, false},
		{-5, 10, true},
	}
	for _, tt := range tests {
		if got := assets.IsComplete(tt.expected, tt.installed); got != tt.want {
			t.Errorf("IsComplete(%d, %d) = %v, want %v", tt.expected, tt.installed, got, tt.want)
		}
	}
}

func TestBuiltinCatalog(t *testing.T) {
	cat, err := assets.BuiltinCatalog()
	if err != nil {
		t.Fatalf("BuiltinCatalog: %v", err)
	}
	if cat.Version <= 0 {
		t.Fatalf("catalog version = %d", cat.Version)
	}
	required := map[string]bool{}
	for _, d := range cat.Required() {
		required[d.ID] = true
	}
	if !required["large-v3"] || !required["silero-vad"] {
		t.Fatalf("expected large-v3 and silero-vad to be required, got %v", required)
	}
	base, err := cat.Lookup("base")
	if err != nil {
		t.Fatalf("Lookup base: %v", err)
	}
	if base.Filename != "ggml-base.bin" || !strings.HasPrefix(base.URL, "https://") || base.SizeBytes <= 0 {
		t.Fatalf("unexpected base descriptor %+v", base)
	}
}

func TestParseCatalogRejectsInvalidEntries(t *testing.T) {
	tests := []struct {
		name string
		toml string
		want string
	}{
		{"duplicate id", "[[assets]]\nid=\"a\"\nfilename=\"a.bin\"\nurl=\"u\"\n[[assets]]\nid=\"a\"\nfilename=\"b.bin\"\nurl=\"u\"\n", "duplicate catalog id"},
		{"empty filename", "[[assets]]\nid=\"a\"\nfilename=\" \"\nurl=\"u\"\n", "no filename"},
		{"nested filename", "[[assets]]\nid=\"a\"\nfilename=\"../a.bin\"\nurl=\"u\"\n", "bare file name"},
		{"shared filename", "[[assets]]\nid=\"a\"\nfilename=\"a.bin\"\nurl=\"u\"\n[[assets]]\nid=\"b\"\nfilename=\"a.bin\"\nurl=\"u\"\n", "share filename"},
		{"missing url", "[[assets]]\nid=\"a\"\nfilename=\"a.bin\"\n", "no url"},
		{"missing id", "[[assets]]\nfilename=\"a.bin\"\nurl=\"u\"\n", "no id"},
		{"bad toml", "[[assets]\n", "parse catalog"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := assets.ParseCatalog([]byte(tt.toml))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("error = %v, want mention of %q", err, tt.want)
			}
		})
	}
}

func TestLoadCatalogOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.toml")
	if err := os.WriteFile(path, []byte(testCatalogTOML), 0o644); err != nil {
		t.Fatalf("write catalog: %v", err)
	}
	cat, err := assets.LoadCatalog(path)
	if err != nil {
		t.Fatalf("LoadCatalog: %v", err)
	}
	if len(cat.All()) != 3 {
		t.Fatalf("expected 3 assets, got %d", len(cat.All()))
	}
	beta, _ := cat.Lookup("beta")
	if beta.Name != "beta" {
		t.Fatalf("name should default to id, got %q", beta.Name)
	}
	if _, err := assets.LoadCatalog(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Fatal("expected error for missing catalog file")
	}
}

func TestLookupUnknown(t *testing.T) {
	if _, err := testCatalog(t).Lookup("nope"); !errors.Is(err, assets.ErrUnknownAsset) {
		t.Fatalf("error = %v, want ErrUnknownAsset", err)
	}
}

func TestListInstalledMissingDirectory(t *testing.T) {
	store := assets.NewStore(filepath.Join(t.TempDir(), "absent"), testCatalog(t))
	got, err := store.ListInstalled()
	if err != nil {
		t.Fatalf("ListInstalled: %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Fatalf("expected empty non-nil list, got %#v", got)
	}
}

func TestListInstalledClassifiesFiles(t *testing.T) {
	dir := t.TempDir()
	writeSized(t, filepath.Join(dir, "alpha.bin"), 950)
	writeSized(t, filepath.Join(dir, "beta.bin"), 1051)
	writeSized(t, filepath.Join(dir, "gamma.bin.download"), 10)
	writeSized(t, filepath.Join(dir, "unrelated.bin"), 1000)

	store := assets.NewStore(dir, testCatalog(t))
	got, err := store.ListInstalled()
	if err != nil {
		t.Fatalf("ListInstalled: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 installed assets, got %+v", got)
	}
	if got[0].ID != "alpha" || !got[0].Complete || got[0].InstalledSize != 950 {
		t.Fatalf("unexpected alpha %+v", got[0])
	}
	if got[1].ID != "beta" || got[1].Complete {
		t.Fatalf("unexpected beta %+v", got[1])
	}
	if got[0].Path != filepath.Join(dir, "alpha.bin") {
		t.Fatalf("alpha path = %q", got[0].Path)
	}
}

func TestListInstalledIgnoresDirectories(t *testing.T) {
	dir := t.TempDir()
	if err := os.Mkdir(filepath.Join(dir, "alpha.bin"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	got, err := assets.NewStore(dir, testCatalog(t)).ListInstalled()
	if err != nil {
		t.Fatalf("ListInstalled: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("directory should not count as installed: %+v", got)
	}
}

func TestResolvePath(t *testing.T) {
	dir := t.TempDir()
	writeSized(t, filepath.Join(dir, "alpha.bin"), 1000)
	store := assets.NewStore(dir, testCatalog(t))

	path, err := store.ResolvePath("alpha")
	if err != nil || path != filepath.Join(dir, "alpha.bin") {
		t.Fatalf("ResolvePath(alpha) = %q, %v", path, err)
	}
	if _, err := store.ResolvePath("beta"); !errors.Is(err, assets.ErrNotInstalled) {
		t.Fatalf("ResolvePath(beta) error = %v, want ErrNotInstalled", err)
	}
	if _, err := store.ResolvePath("nope"); !errors.Is(err, assets.ErrUnknownAsset) {
		t.Fatalf("ResolvePath(nope) error = %v, want ErrUnknownAsset", err)
	}
}

func TestDelete(t *testing.T) {
	dir := t.TempDir()
	writeSized(t, filepath.Join(dir, "alpha.bin"), 1000)
	store := assets.NewStore(dir, testCatalog(t))

	removed, err := store.Delete("alpha")
	if err != nil || !removed {
		t.Fatalf("first Delete = %v, %v; want true", removed, err)
	}
	removed, err = store.Delete("alpha")
	if err != nil || removed {
		t.Fatalf("second Delete = %v, %v; want false", removed, err)
	}
	if _, err := store.Delete("nope"); !errors.Is(err, assets.ErrUnknownAsset) {
		t.Fatalf("Delete(nope) error = %v, want ErrUnknownAsset", err)
	}
}

func TestResolveInstallDirectory(t *testing.T) {
	t.Run("explicit wins", func(t *testing.T) {
		t.Setenv(assets.EnvAssetDir, "/elsewhere")
		dir := t.TempDir()
		got, err := assets.ResolveInstallDirectory(dir)
		if err != nil || got != dir {
			t.Fatalf("got %q, %v; want %q", got, err, dir)
		}
	})
	t.Run("env models subdirectory", func(t *testing.T) {
		root := t.TempDir()
		t.Setenv(assets.EnvAssetDir, root)
		got, err := assets.ResolveInstallDirectory("")
		if err != nil || got != filepath.Join(root, "models") {
			t.Fatalf("got %q, %v", got, err)
		}
	})
	t.Run("development tree", func(t *testing.T) {
		t.Setenv(assets.EnvAssetDir, "")
		work := t.TempDir()
		t.Chdir(work)
		if err := os.MkdirAll(assets.DevAssetDir, 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		got, err := assets.ResolveInstallDirectory("")
		if err != nil {
			t.Fatalf("ResolveInstallDirectory: %v", err)
		}
		want, _ := filepath.Abs(assets.DevAssetDir)
		if got != want {
			t.Fatalf("got %q, want %q", got, want)
		}
	})
	t.Run("user data directory", func(t *testing.T) {
		t.Setenv(assets.EnvAssetDir, "")
		home := t.TempDir()
		t.Setenv("HOME", home)
		t.Chdir(t.TempDir())
		got, err := assets.ResolveInstallDirectory("")
		if err != nil || got != filepath.Join(home, ".local", "share", "aer", "models") {
			t.Fatalf("got %q, %v", got, err)
		}
	})
}
