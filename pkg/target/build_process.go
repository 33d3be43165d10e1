package target

import (
	"encoding/json"
	"fmt"
)

// BuildProcessKind is the closed sum of ways a target's work can be
// prescribed (§3, GLOSSARY).
type BuildProcessKind string

const (
	// BuildNoOperation targets are trivially successful once started;
	// they exist to sequence dependents.
	BuildNoOperation BuildProcessKind = "no_operation"

	// BuildDirectCommand runs Program on Host over SSH (or locally,
	// when Host is empty or "localhost") as a short synchronous command.
	BuildDirectCommand BuildProcessKind = "direct_command"

	// BuildLongRunning hands OpaquePayload to the named plugin, which
	// may daemonize a process, submit to a batch system such as LSF, or
	// otherwise manage a job that outlives a single probe.
	BuildLongRunning BuildProcessKind = "long_running"
)

// Validate reports whether k is one of the closed set above.
func (k BuildProcessKind) Validate() error {
	switch k {
	case BuildNoOperation, BuildDirectCommand, BuildLongRunning:
		return nil
	default:
		return fmt.Errorf("invalid build process kind: %s", k)
	}
}

// BuildProcess is the prescription for doing a target's work (§3).
type BuildProcess struct {
	Kind BuildProcessKind `json:"kind"`

	// Host and Program apply to BuildDirectCommand.
	Host    string `json:"host,omitempty"`
	Program string `json:"program,omitempty"`

	// PluginName and OpaquePayload apply to BuildLongRunning.
	PluginName    string          `json:"plugin_name,omitempty"`
	OpaquePayload json.RawMessage `json:"opaque_payload,omitempty"`
}

// Equal reports structural equality, the comparison
// find_equivalent uses under Same_make_and_condition (§4.3).
func (b BuildProcess) Equal(o BuildProcess) bool {
	if b.Kind != o.Kind || b.Host != o.Host || b.Program != o.Program || b.PluginName != o.PluginName {
		return false
	}
	return string(b.OpaquePayload) == string(o.OpaquePayload)
}

// ConditionKind is the closed sum of "ready-when" predicate shapes a
// target's Condition can take (§3).
type ConditionKind string

const (
	ConditionFileExists   ConditionKind = "file_exists"
	ConditionFileMinBytes ConditionKind = "file_min_bytes"
	ConditionAnd          ConditionKind = "and"
)

// Validate reports whether k is one of the closed set above.
func (k ConditionKind) Validate() error {
	switch k {
	case ConditionFileExists, ConditionFileMinBytes, ConditionAnd:
		return nil
	default:
		return fmt.Errorf("invalid condition kind: %s", k)
	}
}

// Condition is an optional predicate probed on a host to decide
// whether a target is already done (§3).
type Condition struct {
	Kind ConditionKind `json:"kind"`

	// Host overrides the target's build-process host for probing, when
	// the condition must be checked somewhere other than where the
	// target's program runs.
	Host string `json:"host,omitempty"`

	// Path and MinBytes apply to the file-based leaves.
	Path     string `json:"path,omitempty"`
	MinBytes int64  `json:"min_bytes,omitempty"`

	// And holds the conjuncts of a ConditionAnd.
	And []Condition `json:"and,omitempty"`
}

// Equal reports structural equality, used by find_equivalent (§4.3).
func (c *Condition) Equal(o *Condition) bool {
	if c == nil || o == nil {
		return c == o
	}
	if c.Kind != o.Kind || c.Host != o.Host || c.Path != o.Path || c.MinBytes != o.MinBytes {
		return false
	}
	if len(c.And) != len(o.And) {
		return false
	}
	for i := range c.And {
		if !c.And[i].Equal(&o.And[i]) {
			return false
		}
	}
	return true
}

// Equivalence controls whether two submitted targets collapse to one
// (§3, §4.3).
type Equivalence string

const (
	// EquivalenceNone means the target is never equivalent to another.
	EquivalenceNone Equivalence = "none"

	// EquivalenceSameMakeCondition means two targets collapse when their
	// build process and condition are structurally identical.
	EquivalenceSameMakeCondition Equivalence = "same_make_and_condition"
)

// Validate reports whether e is one of the closed set above.
func (e Equivalence) Validate() error {
	switch e {
	case EquivalenceNone, EquivalenceSameMakeCondition:
		return nil
	default:
		return fmt.Errorf("invalid equivalence policy: %s", e)
	}
}

// Product optionally describes the artifact a target produces, for
// downstream queries; the automaton never relies on it (§3).
type Product struct {
	Kind     string            `json:"kind,omitempty"`
	Path     string            `json:"path,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}
