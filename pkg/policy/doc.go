// Package policy provides an optional Open Policy Agent admission
// hook for submit_targets (§9): "admission policy additive, no-op
// when unconfigured".
//
// # Architecture
//
// The package has three parts:
//
//  1. Engine - compiles and evaluates Rego policies against a
//     candidate target
//  2. Loader - loads policies from files, directories, and bundles,
//     with optional filesystem-watch hot reload
//  3. Built-in policies - a small default set covering naming,
//     required tags, destructive commands, dependency fan-in, and a
//     long-running plugin allowlist
//
// # Usage
//
// Creating a policy engine with the built-in policies enabled:
//
//	logger := zerolog.New(os.Stdout)
//	eng, err := policy.NewEngine(logger, true)
//	if err != nil {
//		log.Fatal(err)
//	}
//
// An *Engine satisfies protocol.AdmissionPolicy and can be passed
// directly to protocol.SubmitTargets or protocol.New:
//
//	allow, reason, err := eng.Evaluate(ctx, candidate)
//
// Evaluating a target for its full result, including non-blocking
// warnings:
//
//	result, err := eng.EvaluateDetailed(ctx, candidate, "submit")
//	if err != nil {
//		log.Fatal(err)
//	}
//	if !result.Allowed {
//		for _, v := range result.Violations {
//			fmt.Printf("policy %s violated: %s\n", v.Policy, v.Message)
//		}
//	}
//
// Loading a deployment's own policy bundle on top of (or instead of)
// the built-ins:
//
//	err = eng.LoadPolicies(ctx, []string{"/etc/targetd/policies"})
//
// # Built-in policies
//
//  1. target-naming - enforces naming conventions on named targets
//  2. required-tags - requires an owner: tag, and approved:true for
//     anything tagged env:production
//  3. dangerous-command - blocks direct_command targets running a
//     small set of unambiguously destructive shell idioms
//  4. dependency-fan-in - warns, without blocking, when a single
//     target declares more than 256 direct dependencies
//  5. long-running-plugin-allowlist - restricts long_running targets
//     to a configured set of plugin names (disabled by default; a
//     deployment enables it once its plugin set is fixed)
//
// # Custom policies
//
// Custom policies are plain Rego modules that produce a deny set from
// input.target and input.context:
//
//	package custom.policies.backup
//
//	import rego.v1
//
//	deny contains violation if {
//		"env:production" in input.target.tags
//		not "backup:true" in input.target.tags
//
//		violation := {
//			"message": "production targets must carry a backup: tag",
//			"severity": "error",
//			"target_id": input.target.id,
//		}
//	}
//
// # Severity levels
//
// Violations carry one of four severities: info and warning are
// non-blocking and reported back as warnings; error and critical
// block admission.
//
// # Hot reload
//
// The loader can watch its policy paths and trigger recompilation on
// change:
//
//	loader := policy.NewLoader(logger)
//	err = loader.Watch(ctx, paths, func(policies []policy.Policy) error {
//		return eng.LoadPolicies(ctx, paths)
//	})
//
// # Performance
//
// Each policy is parsed and prepared once when it is loaded, but that
// prepared query is not reused: every evaluation builds and runs a
// new Rego query over the policy's module.
package policy
