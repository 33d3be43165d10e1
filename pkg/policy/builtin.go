package policy

import (
	"time"
)

// GetBuiltinPolicies returns the policies loaded by default when an
// engine is constructed with includeBuiltins=true.
func GetBuiltinPolicies() []Policy {
	return []Policy{
		targetNamingPolicy(),
		requiredTagsPolicy(),
		dangerousCommandPolicy(),
		dependencyFanInPolicy(),
		longRunningPluginAllowlistPolicy(),
	}
}

// targetNamingPolicy enforces naming conventions on targets that set
// a Name (the field is optional, so targets without one are ignored).
func targetNamingPolicy() Policy {
	return Policy{
		Name:        "target-naming",
		Description: "Enforces target naming conventions (lowercase, alphanumeric, hyphens only)",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"naming", "conventions"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package targetd.policies.naming

import rego.v1

deny contains violation if {
	name := input.target.name
	name != ""

	lower(name) != name
	violation := {
		"message": sprintf("target name '%s' must be lowercase", [name]),
		"severity": "error",
		"target_id": input.target.id,
	}
}

deny contains violation if {
	name := input.target.name
	name != ""

	not regex.match("^[a-z0-9-]+$", name)
	violation := {
		"message": sprintf("target name '%s' must contain only lowercase letters, digits, and hyphens", [name]),
		"severity": "error",
		"target_id": input.target.id,
	}
}

deny contains violation if {
	name := input.target.name
	name != ""

	regex.match("^-", name)
	violation := {
		"message": sprintf("target name '%s' must not start with a hyphen", [name]),
		"severity": "error",
		"target_id": input.target.id,
	}
}

deny contains violation if {
	name := input.target.name
	name != ""

	count(name) > 63
	violation := {
		"message": sprintf("target name '%s' must not exceed 63 characters", [name]),
		"severity": "error",
		"target_id": input.target.id,
	}
}`,
	}
}

// requiredTagsPolicy requires an "owner:" tag on every submitted
// target, and that any target tagged "env:production" also carries an
// "approved:true" tag.
func requiredTagsPolicy() Policy {
	return Policy{
		Name:        "required-tags",
		Description: "Requires an owner tag on every target, and approval for production targets",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"tags", "governance"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package targetd.policies.tags

import rego.v1

deny contains violation if {
	tags := object.get(input.target, "tags", [])
	not has_prefix(tags, "owner:")

	violation := {
		"message": sprintf("target %s must carry an owner: tag", [input.target.id]),
		"severity": "error",
		"target_id": input.target.id,
	}
}

deny contains violation if {
	tags := object.get(input.target, "tags", [])
	"env:production" in tags
	not "approved:true" in tags

	violation := {
		"message": sprintf("target %s is tagged env:production but is not tagged approved:true", [input.target.id]),
		"severity": "error",
		"target_id": input.target.id,
	}
}

has_prefix(tags, prefix) if {
	some tag in tags
	startswith(tag, prefix)
}`,
	}
}

// dangerousCommandPolicy blocks direct_command build processes whose
// program contains a small set of unambiguously destructive shell
// idioms. It is a coarse net, not a sandbox: it exists to catch
// obviously wrong submissions, not a hostile submitter.
func dangerousCommandPolicy() Policy {
	return Policy{
		Name:        "dangerous-command",
		Description: "Blocks direct_command targets that run unambiguously destructive shell commands",
		Severity:    SeverityCritical,
		Enabled:     true,
		Tags:        []string{"safety", "direct_command"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package targetd.policies.dangerous_command

import rego.v1

deny_patterns := [
	"rm\\s+-rf\\s+/(\\s|$)",
	"mkfs\\.",
	":\\(\\)\\{\\s*:\\|:&\\s*\\};:",
]

deny contains violation if {
	input.target.build_process.kind == "direct_command"
	program := input.target.build_process.program

	some pattern in deny_patterns
	regex.match(pattern, program)

	violation := {
		"message": sprintf("target %s's command matches a blocked destructive pattern", [input.target.id]),
		"severity": "critical",
		"target_id": input.target.id,
	}
}`,
	}
}

// dependencyFanInPolicy warns when a single target declares more than
// 256 direct dependencies, flagging pathological submissions that
// would force the driver to evaluate an enormous dependency set on
// every step of one target. Its violations are warnings and do not
// block admission.
func dependencyFanInPolicy() Policy {
	return Policy{
		Name:        "dependency-fan-in",
		Description: "Warns when a single target declares more than 256 direct dependencies",
		Severity:    SeverityWarning,
		Enabled:     true,
		Tags:        []string{"safety", "scheduling"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package targetd.policies.fan_in

import rego.v1

max_dependencies := 256

deny contains violation if {
	deps := object.get(input.target, "dependencies", [])
	count(deps) > max_dependencies

	violation := {
		"message": sprintf("target %s declares %d dependencies, above the limit of %d", [input.target.id, count(deps), max_dependencies]),
		"severity": "warning",
		"target_id": input.target.id,
	}
}`,
	}
}

// longRunningPluginAllowlistPolicy restricts which plugin names a
// long_running build process may name, so a misconfigured or
// malicious submission cannot invoke an unregistered plugin.
func longRunningPluginAllowlistPolicy() Policy {
	return Policy{
		Name:        "long-running-plugin-allowlist",
		Description: "Restricts long_running targets to a known set of plugin names",
		Severity:    SeverityError,
		Enabled:     false,
		Tags:        []string{"safety", "long_running"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Metadata: map[string]interface{}{
			"note": "disabled by default; enable and edit allowed_plugins for the deployment's registered plugins",
		},
		Rego: `package targetd.policies.plugin_allowlist

import rego.v1

allowed_plugins := ["lsf-submit", "daemonize", "batch-worker"]

deny contains violation if {
	input.target.build_process.kind == "long_running"
	plugin := input.target.build_process.plugin_name

	not plugin in allowed_plugins

	violation := {
		"message": sprintf("target %s names unregistered plugin '%s'", [input.target.id, plugin]),
		"severity": "error",
		"target_id": input.target.id,
	}
}`,
	}
}
