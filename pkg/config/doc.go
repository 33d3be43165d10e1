// Package config loads and validates the JSON profile file the
// daemon starts from (§6, §9): a flat list of named profiles, one of
// which is selected by name or by the TARGETD_PROFILE environment
// variable, each carrying the store's database parameters, the
// automaton's failure-policy knobs, the driver's concurrency limits,
// the wire protocol's listen socket and authorized tokens, and the
// paths (command pipe, log directory, optional admission-policy
// bundle) a running server needs.
//
// Profiles are struct-validated with go-playground/validator/v10 tags
// at load time. When the server is not running read-only, a Watcher
// re-validates the file on every fsnotify write and only applies the
// new profile if it passes validation, so a bad edit never displaces
// a good running configuration.
//
// This package intentionally carries no configuration DSL: the wire
// spec fixes configuration to a flat JSON profile list, and
// DSL-based workflow construction is out of scope, so there is
// nothing here resembling a CUE or Starlark evaluator.
package config
