package meter

import (
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Profile is a named register layout shared by all meters of one device type.
type Profile struct {
	Type        string
	Registers   RegisterMap
	Fingerprint string // SHA-256 of the raw YAML file
}

// rawProfile is the on-disk YAML shape.
type rawProfile struct {
	Type      string                        `yaml:"type"`
	Registers map[string]RegisterDescriptor `yaml:"registers"`
}

// ProfileRepository loads register profiles from *.yaml files in a directory.
// Each file contains exactly one profile. Profiles are loaded once at startup.
type ProfileRepository struct {
	dir      string
	profiles map[string]Profile // keyed by Type
}

// NewProfileRepository creates a repository and eagerly loads all profiles
// from dir. A missing directory yields an empty repository.
func NewProfileRepository(dir string) (*ProfileRepository, error) {
	repo := &ProfileRepository{
		dir:      dir,
		profiles: make(map[string]Profile),
	}
	if dir == "" {
		return repo, nil
	}
	if err := repo.load(); err != nil {
		return nil, err
	}
	return repo, nil
}

func (r *ProfileRepository) load() error {
	info, err := os.Stat(r.dir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("register profile dir: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("register profile path %q is not a directory", r.dir)
	}

	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return fmt.Errorf("reading register profile dir: %w", err)
	}

	for _, e := range entries {
		if e.IsDir() || (!strings.HasSuffix(e.Name(), ".yaml") && !strings.HasSuffix(e.Name(), ".yml")) {
			continue
		}

		path := filepath.Join(r.dir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading profile file %s: %w", path, err)
		}

		var raw rawProfile
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return fmt.Errorf("parsing profile file %s: %w", path, err)
		}
		if raw.Type == "" {
			continue
		}
		if len(raw.Registers) == 0 {
			return fmt.Errorf("profile %q: registers must not be empty", raw.Type)
		}

		registers := RegisterMap(raw.Registers)
		if err := registers.Validate(); err != nil {
			return fmt.Errorf("profile %q: %w", raw.Type, err)
		}

		if _, exists := r.profiles[raw.Type]; exists {
			return fmt.Errorf("profile %q: duplicate meter type (check multiple YAML files)", raw.Type)
		}

		r.profiles[raw.Type] = Profile{
			Type:        raw.Type,
			Registers:   registers,
			Fingerprint: fmt.Sprintf("%x", sha256.Sum256(data)),
		}
	}
	return nil
}

// Lookup returns the register map for a meter type.
func (r *ProfileRepository) Lookup(meterType string) (RegisterMap, bool) {
	if r == nil {
		return nil, false
	}
	p, ok := r.profiles[meterType]
	if !ok {
		return nil, false
	}
	return p.Registers, true
}

// Profiles returns all loaded profiles ordered by type.
func (r *ProfileRepository) Profiles() []Profile {
	out := make([]Profile, 0, len(r.profiles))
	for _, p := range r.profiles {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Type < out[j].Type })
	return out
}
