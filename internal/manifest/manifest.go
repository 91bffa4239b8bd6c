package manifest

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// ChecksumTBD disables checksum verification for an entry.
const ChecksumTBD = "TBD"

var sha256Pattern = regexp.MustCompile(`^[0-9a-fA-F]{64}$`)

// Manifest lists files to provision under a root directory.
type Manifest struct {
	Version int     `yaml:"version"`
	Assets  []Entry `yaml:"assets"`
}

// Entry describes one provisioned file. Dest is relative to the provision
// root. SHA256 covers the installed file, after decompression when Gzip is set.
type Entry struct {
	Name       string   `yaml:"name"`
	URL        string   `yaml:"url"`
	Dest       string   `yaml:"dest"`
	SHA256     string   `yaml:"sha256"`
	Gzip       bool     `yaml:"gzip"`
	Executable bool     `yaml:"executable"`
	Platforms  []string `yaml:"platforms"`
}

// Verified reports whether the entry carries a real checksum.
func (e Entry) Verified() bool {
	return !strings.EqualFold(strings.TrimSpace(e.SHA256), ChecksumTBD)
}

// AppliesTo reports whether the entry should be installed on goos. An empty
// platform list matches every OS.
func (e Entry) AppliesTo(goos string) bool {
	if len(e.Platforms) == 0 {
		return true
	}
	return slices.ContainsFunc(e.Platforms, func(p string) bool {
		return strings.EqualFold(strings.TrimSpace(p), goos)
	})
}

// Load reads and validates a manifest file.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	m, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("manifest %s: %w", path, err)
	}
	return m, nil
}

// Parse decodes and validates manifest YAML.
func Parse(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate checks every entry and rejects duplicate names or destinations.
func (m *Manifest) Validate() error {
	var problems []error
	names := make(map[string]struct{}, len(m.Assets))
	dests := make(map[string]struct{}, len(m.Assets))
	for i, e := range m.Assets {
		label := strings.TrimSpace(e.Name)
		if label == "" {
			label = fmt.Sprintf("assets[%d]", i)
			problems = append(problems, fmt.Errorf("%s: name is required", label))
		} else if _, dup := names[label]; dup {
			problems = append(problems, fmt.Errorf("%s: duplicate name", label))
		}
		names[label] = struct{}{}

		if strings.TrimSpace(e.URL) == "" {
			problems = append(problems, fmt.Errorf("%s: url is required", label))
		}
		dest := filepath.Clean(filepath.FromSlash(strings.TrimSpace(e.Dest)))
		switch {
		case strings.TrimSpace(e.Dest) == "":
			problems = append(problems, fmt.Errorf("%s: dest is required", label))
		case !filepath.IsLocal(dest):
			problems = append(problems, fmt.Errorf("%s: dest %q must stay inside the provision root", label, e.Dest))
		default:
			if _, dup := dests[dest]; dup {
				problems = append(problems, fmt.Errorf("%s: dest %q used by another entry", label, e.Dest))
			}
			dests[dest] = struct{}{}
		}
		if e.Verified() && !sha256Pattern.MatchString(strings.TrimSpace(e.SHA256)) {
			problems = append(problems, fmt.Errorf("%s: sha256 must be 64 hex characters or %q", label, ChecksumTBD))
		}
	}
	return errors.Join(problems...)
}
