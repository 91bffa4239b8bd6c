package assets

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed catalog.toml
var builtinCatalog []byte

// ErrUnknownAsset reports an id that is not in the catalog.
var ErrUnknownAsset = errors.New("unknown asset")

// Catalog is the static, versioned list of assets aer knows how to install.
type Catalog struct {
	Version int          `toml:"version"`
	Assets  []Descriptor `toml:"assets"`

	byID map[string]int
}

// BuiltinCatalog returns the catalog compiled into the binary.
func BuiltinCatalog() (*Catalog, error) {
	return ParseCatalog(builtinCatalog)
}

// LoadCatalog reads the catalog at path, or the built-in catalog when path is empty.
func LoadCatalog(path string) (*Catalog, error) {
	if strings.TrimSpace(path) == "" {
		return BuiltinCatalog()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	cat, err := ParseCatalog(data)
	if err != nil {
		return nil, fmt.Errorf("catalog %s: %w", path, err)
	}
	return cat, nil
}

// ParseCatalog decodes and validates a TOML catalog.
func ParseCatalog(data []byte) (*Catalog, error) {
	var cat Catalog
	if err := toml.Unmarshal(data, &cat); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	cat.byID = make(map[string]int, len(cat.Assets))
	filenames := make(map[string]string, len(cat.Assets))
	for i := range cat.Assets {
		d := &cat.Assets[i]
		d.ID = strings.TrimSpace(d.ID)
		d.Filename = strings.TrimSpace(d.Filename)
		d.URL = strings.TrimSpace(d.URL)
		if d.ID == "" {
			return nil, fmt.Errorf("catalog entry %d has no id", i)
		}
		if _, dup := cat.byID[d.ID]; dup {
			return nil, fmt.Errorf("duplicate catalog id %q", d.ID)
		}
		if d.Filename == "" {
			return nil, fmt.Errorf("catalog entry %q has no filename", d.ID)
		}
		if d.Filename != filepath.Base(d.Filename) || d.Filename == "." || d.Filename == ".." {
			return nil, fmt.Errorf("catalog entry %q filename %q must be a bare file name", d.ID, d.Filename)
		}
		if other, dup := filenames[d.Filename]; dup {
			return nil, fmt.Errorf("catalog entries %q and %q share filename %q", other, d.ID, d.Filename)
		}
		if d.URL == "" {
			return nil, fmt.Errorf("catalog entry %q has no url", d.ID)
		}
		if d.SizeBytes < 0 {
			return nil, fmt.Errorf("catalog entry %q has negative size_bytes", d.ID)
		}
		if d.Name == "" {
			d.Name = d.ID
		}
		cat.byID[d.ID] = i
		filenames[d.Filename] = d.ID
	}
	return &cat, nil
}

// Lookup returns the descriptor for id.
func (c *Catalog) Lookup(id string) (Descriptor, error) {
	if idx, ok := c.byID[strings.TrimSpace(id)]; ok {
		return c.Assets[idx], nil
	}
	return Descriptor{}, fmt.Errorf("%w: %q", ErrUnknownAsset, id)
}

// All returns the descriptors in catalog order.
func (c *Catalog) All() []Descriptor {
	out := make([]Descriptor, len(c.Assets))
	copy(out, c.Assets)
	return out
}

// Required returns the descriptors the worker needs for a default transcription.
func (c *Catalog) Required() []Descriptor {
	var out []Descriptor
	for _, d := range c.Assets {
		if d.Required {
			out = append(out, d)
		}
	}
	return out
}
