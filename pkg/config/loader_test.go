package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeProfileFile(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "targetd.json")
	if err := os.WriteFile(path, []byte(contents), 0644); err != nil {
		t.Fatalf("write config file: %v", err)
	}
	return path
}

const validProfileJSON = `{
  "profiles": [
    {
      "name": "dev",
      "database": {"path": "/var/lib/targetd/dev.db"},
      "failure_policy": {"maximum_successive_attempts": 5, "turn_unix_ssh_failure_into_target_failure": false},
      "concurrency": {"engine_step_batch_size": 64, "concurrent_automaton_steps": 8, "host_timeout_upper_bound": "30s", "orphan_killing_wait": "1m"},
      "listen": {"address": ":8443"},
      "tokens": [{"name": "admin", "secret": "0123456789abcdef"}],
      "log_path": "/var/log/targetd",
      "max_blocking_time": "30s",
      "ssh": {"user": "deploy", "private_key_path": "/etc/targetd/id_ed25519"}
    }
  ]
}`

func TestLoadFileValid(t *testing.T) {
	path := writeProfileFile(t, validProfileJSON)
	f, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if len(f.Profiles) != 1 || f.Profiles[0].Name != "dev" {
		t.Fatalf("unexpected profiles: %+v", f.Profiles)
	}
	if f.Profiles[0].Concurrency.HostTimeoutUpperBound.Value().Seconds() != 30 {
		t.Fatalf("expected 30s host timeout, got %v", f.Profiles[0].Concurrency.HostTimeoutUpperBound.Value())
	}
}

func TestLoadFileRejectsMissingRequiredField(t *testing.T) {
	path := writeProfileFile(t, `{"profiles": [{"name": "dev"}]}`)
	if _, err := LoadFile(path); err == nil {
		t.Fatalf("expected validation error for missing required fields")
	}
}

func TestLoadFileRejectsDuplicateNames(t *testing.T) {
	dup := `{
  "profiles": [
    {"name": "dev", "database": {"path": "a"}, "failure_policy": {"maximum_successive_attempts": 1}, "concurrency": {"engine_step_batch_size": 1, "concurrent_automaton_steps": 1, "host_timeout_upper_bound": "1s", "orphan_killing_wait": "1s"}, "listen": {"address": ":1"}, "tokens": [{"name": "a", "secret": "0123456789abcdef"}], "log_path": "/tmp", "max_blocking_time": "1s", "ssh": {"user": "u", "private_key_path": "/k"}},
    {"name": "dev", "database": {"path": "b"}, "failure_policy": {"maximum_successive_attempts": 1}, "concurrency": {"engine_step_batch_size": 1, "concurrent_automaton_steps": 1, "host_timeout_upper_bound": "1s", "orphan_killing_wait": "1s"}, "listen": {"address": ":2"}, "tokens": [{"name": "a", "secret": "0123456789abcdef"}], "log_path": "/tmp", "max_blocking_time": "1s", "ssh": {"user": "u", "private_key_path": "/k"}}
  ]
}`
	path := writeProfileFile(t, dup)
	if _, err := LoadFile(path); err == nil {
		t.Fatalf("expected duplicate-name error")
	}
}

func TestLoadSelectsByName(t *testing.T) {
	path := writeProfileFile(t, validProfileJSON)
	p, err := Load(path, "dev")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if p.Name != "dev" {
		t.Fatalf("expected dev, got %s", p.Name)
	}
}

func TestLoadSelectsSingleProfileWithoutName(t *testing.T) {
	path := writeProfileFile(t, validProfileJSON)
	p, err := Load(path, "")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if p.Name != "dev" {
		t.Fatalf("expected implicit single-profile selection, got %s", p.Name)
	}
}

func TestLoadSelectsByEnvVar(t *testing.T) {
	path := writeProfileFile(t, validProfileJSON)
	t.Setenv(ProfileSelectEnv, "dev")
	p, err := Load(path, "")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if p.Name != "dev" {
		t.Fatalf("expected dev via env var, got %s", p.Name)
	}
}

func TestLoadUnknownProfileNameFails(t *testing.T) {
	path := writeProfileFile(t, validProfileJSON)
	if _, err := Load(path, "nope"); err == nil {
		t.Fatalf("expected error for unknown profile name")
	}
}

func TestValidateProfileAcceptsLoadedProfile(t *testing.T) {
	path := writeProfileFile(t, validProfileJSON)
	p, err := Load(path, "dev")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := ValidateProfile(p); err != nil {
		t.Fatalf("ValidateProfile: %v", err)
	}
}
