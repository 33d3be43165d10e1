package config

import (
	"encoding/json"
	"fmt"
	"time"
)

// Duration wraps time.Duration so profile files can spell durations as
// strings ("30s", "5m") instead of raw nanosecond integers.
type Duration time.Duration

// MarshalJSON encodes d as its string form.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON accepts a duration string or a plain integer of
// nanoseconds.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*d = Duration(parsed)
		return nil
	}

	var n int64
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("duration must be a string or integer nanoseconds: %w", err)
	}
	*d = Duration(n)
	return nil
}

func (d Duration) Value() time.Duration { return time.Duration(d) }

// DatabaseConfig configures the persistent target store (§4.1, §7).
type DatabaseConfig struct {
	// Path is the SQLite database file path.
	Path string `json:"path" validate:"required"`

	// MaxOpenConns bounds the store's connection pool.
	MaxOpenConns int `json:"max_open_conns,omitempty" validate:"omitempty,min=1"`

	// MaxIdleConns bounds idle connections kept open.
	MaxIdleConns int `json:"max_idle_conns,omitempty" validate:"omitempty,min=0"`
}

// FailurePolicyConfig configures the automaton's retry behavior
// (§4.4).
type FailurePolicyConfig struct {
	// MaximumSuccessiveAttempts is how many non-fatal failure cycles a
	// target may accumulate before the automaton declares it dead.
	MaximumSuccessiveAttempts int `json:"maximum_successive_attempts" validate:"required,min=1"`

	// TurnUnixSSHFailureIntoTargetFailure controls whether an SSH
	// transport failure counts as an ordinary attempt failure (true)
	// or is retried transparently without consuming an attempt (false).
	TurnUnixSSHFailureIntoTargetFailure bool `json:"turn_unix_ssh_failure_into_target_failure"`
}

// ConcurrencyConfig configures the driver's batching and worker pool
// (§5).
type ConcurrencyConfig struct {
	// EngineStepBatchSize is how many targets the driver evaluates per
	// batch.
	EngineStepBatchSize int `json:"engine_step_batch_size" validate:"required,min=1"`

	// ConcurrentAutomatonSteps bounds the worker pool stepping targets
	// within a batch.
	ConcurrentAutomatonSteps int `json:"concurrent_automaton_steps" validate:"required,min=1"`

	// HostTimeoutUpperBound bounds how long a single executor call
	// (check_condition, start, probe, kill) may run.
	HostTimeoutUpperBound Duration `json:"host_timeout_upper_bound" validate:"required"`

	// OrphanKillingWait is the minimum interval between two orphan
	// sweeps of the driver (§4.5, §9).
	OrphanKillingWait Duration `json:"orphan_killing_wait" validate:"required"`
}

// TLSConfig configures the listen socket's TLS certificate, when set.
type TLSConfig struct {
	CertFile string `json:"cert_file" validate:"required_with=KeyFile"`
	KeyFile  string `json:"key_file" validate:"required_with=CertFile"`
}

// ListenConfig configures the wire-protocol listen socket (§6).
type ListenConfig struct {
	// Address is the TCP address to bind, e.g. ":8443" or "127.0.0.1:9000".
	Address string `json:"address" validate:"required"`

	// TLS enables TLS on the listen socket when both fields are set;
	// nil (or zero-value) serves plain HTTP.
	TLS *TLSConfig `json:"tls,omitempty"`
}

// TokenConfig is a single authorized client credential (§6): a name
// paired with an opaque secret over alphabet A-Za-z0-9_=-.
type TokenConfig struct {
	Name   string `json:"name" validate:"required"`
	Secret string `json:"secret" validate:"required,min=16"`
}

// SSHConfig configures the executor's outbound SSH transport.
type SSHConfig struct {
	User                  string   `json:"user" validate:"required"`
	Port                  int      `json:"port,omitempty" validate:"omitempty,min=1,max=65535"`
	PrivateKeyPath        string   `json:"private_key_path" validate:"required"`
	KnownHostsPath        string   `json:"known_hosts_path,omitempty"`
	StrictHostKeyChecking bool     `json:"strict_host_key_checking"`
	ConnectTimeout        Duration `json:"connect_timeout,omitempty"`
}

// TelemetryConfig configures the shared logger/tracer/metrics/events
// wiring.
type TelemetryConfig struct {
	LogLevel     string `json:"log_level,omitempty" validate:"omitempty,oneof=trace debug info warn error fatal"`
	LogFormat    string `json:"log_format,omitempty" validate:"omitempty,oneof=console json"`
	OTLPEndpoint string `json:"otlp_endpoint,omitempty"`
	MetricsAddr  string `json:"metrics_addr,omitempty"`
}

// Profile is one named configuration in the profile file (§6, §9): all
// database parameters, failure-policy knobs, concurrency limits, the
// listen socket, authorized tokens, and paths a running server needs.
type Profile struct {
	Name string `json:"name" validate:"required"`

	Database      DatabaseConfig      `json:"database" validate:"required"`
	FailurePolicy FailurePolicyConfig `json:"failure_policy" validate:"required"`
	Concurrency   ConcurrencyConfig   `json:"concurrency" validate:"required"`
	Listen        ListenConfig        `json:"listen" validate:"required"`
	Tokens        []TokenConfig       `json:"tokens" validate:"required,min=1,dive"`

	// CommandPipePath is a named pipe or unix socket path an operator
	// can write one-shot admin commands to, independent of the wire
	// protocol's listen socket.
	CommandPipePath string `json:"command_pipe_path,omitempty"`

	// LogPath is the directory receiving periodic JSON target dumps
	// and the debug log file (§2.1, §9).
	LogPath string `json:"log_path" validate:"required"`

	// MaxBlockingTime caps how long a Get_target_flat_states call with
	// Block_if_empty_at_most may hold the connection open (§6).
	MaxBlockingTime Duration `json:"max_blocking_time" validate:"required"`

	// AdmissionPolicyBundlePath optionally points at a directory or
	// file of Rego policies loaded into pkg/policy at startup (§2.2,
	// §4.3, §9). Empty means no admission policy: submission proceeds
	// exactly as if the hook were absent.
	AdmissionPolicyBundlePath string `json:"admission_policy_bundle_path,omitempty"`

	// ReadOnly, when true, rejects every mutating Up_message and
	// disables the fsnotify hot-reload watch (§6, §9).
	ReadOnly bool `json:"read_only,omitempty"`

	SSH       SSHConfig       `json:"ssh" validate:"required"`
	Telemetry TelemetryConfig `json:"telemetry,omitempty"`
}

// File is the on-disk shape of the profile file: a flat, named list
// selected by name or by an environment variable at startup (§6).
type File struct {
	Profiles []Profile `json:"profiles" validate:"required,min=1,dive"`
}
