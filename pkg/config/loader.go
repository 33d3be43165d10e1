package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
)

// ProfileSelectEnv is the environment variable consulted for the
// active profile name when the caller does not name one explicitly
// (§6).
const ProfileSelectEnv = "TARGETD_PROFILE"

var validate = validator.New()

// LoadFile parses path as a profile File and struct-validates every
// profile in it.
func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var f File
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	if err := validate.Struct(&f); err != nil {
		return nil, fmt.Errorf("validate config file: %w", err)
	}

	seen := make(map[string]bool, len(f.Profiles))
	for _, p := range f.Profiles {
		if seen[p.Name] {
			return nil, fmt.Errorf("duplicate profile name %q", p.Name)
		}
		seen[p.Name] = true
	}

	return &f, nil
}

// Select finds the profile named name within f.
func (f *File) Select(name string) (*Profile, error) {
	for i := range f.Profiles {
		if f.Profiles[i].Name == name {
			return &f.Profiles[i], nil
		}
	}
	return nil, fmt.Errorf("no profile named %q", name)
}

// Load reads path, then selects a profile: name if non-empty,
// otherwise the value of ProfileSelectEnv, otherwise (when the file
// contains exactly one profile) that single profile.
func Load(path, name string) (*Profile, error) {
	f, err := LoadFile(path)
	if err != nil {
		return nil, err
	}

	if name == "" {
		name = os.Getenv(ProfileSelectEnv)
	}
	if name == "" {
		if len(f.Profiles) == 1 {
			return &f.Profiles[0], nil
		}
		return nil, fmt.Errorf("no profile selected: pass a name or set %s (file has %d profiles)", ProfileSelectEnv, len(f.Profiles))
	}

	return f.Select(name)
}

// ValidateProfile re-runs struct validation on a single profile,
// exposed for callers that already hold a *Profile.
func ValidateProfile(p *Profile) error {
	return validate.Struct(p)
}
