// Package executor defines the abstract host executor interface the
// automaton depends on (§4.2) and the concrete SSH and WASM-plugin
// backends that implement it.
package executor

import (
	"context"

	"github.com/openfroyo/targetd/pkg/target"
)

// ProbeStatus is the closed sum returned by Probe.
type ProbeStatus string

const (
	StillRunning        ProbeStatus = "still_running"
	FinishedSuccessfully ProbeStatus = "finished_successfully"
	FinishedWithFailure  ProbeStatus = "finished_with_failure"
)

// ProbeResult carries the probe outcome and, on failure, the reason.
type ProbeResult struct {
	Status ProbeStatus
	Reason string
}

// Executor is the capability set the automaton requires of a host
// collaborator. Every method is given a context carrying a deadline no
// longer than the configured host_timeout_upper_bound (§5); callers
// never start a second outstanding call for the same handle.
type Executor interface {
	// CheckCondition probes whether cond already holds on host.
	CheckCondition(ctx context.Context, host string, cond *target.Condition) (bool, error)

	// Start launches bp and returns an opaque run handle identifying
	// the resulting process/job.
	Start(ctx context.Context, bp target.BuildProcess) (handle string, err error)

	// Probe reports whether the process behind handle is still
	// running, finished successfully, or finished with a failure.
	Probe(ctx context.Context, handle string) (ProbeResult, error)

	// Kill requests termination of the process behind handle.
	Kill(ctx context.Context, handle string) error

	// CopyFiles stages files from srcHost onto dstHost at path and
	// returns the host/program the caller should run to consume them.
	CopyFiles(ctx context.Context, srcHost string, files []string, dstHost string, path string) (host string, program string, err error)
}

// Router dispatches to the backend registered for a build process:
// Long_running targets go to the WASM-plugin executor keyed by
// plugin name, Direct_command targets go to the SSH executor unless
// their host is empty or "localhost", in which case they run on the
// Local executor, as No_operation does. Condition checks follow the
// same host rule. This lets the driver depend on a single Executor
// without knowing which backend a given target needs.
type Router struct {
	SSH   Executor
	WASM  Executor
	Local Executor
}

func (r *Router) forBuildProcess(bp target.BuildProcess) Executor {
	switch bp.Kind {
	case target.BuildLongRunning:
		return r.WASM
	case target.BuildDirectCommand:
		if bp.Host == "" || bp.Host == "localhost" {
			return r.Local
		}
		return r.SSH
	default:
		return r.Local
	}
}

func (r *Router) CheckCondition(ctx context.Context, host string, cond *target.Condition) (bool, error) {
	if host == "" || host == "localhost" {
		return r.Local.CheckCondition(ctx, host, cond)
	}
	return r.SSH.CheckCondition(ctx, host, cond)
}

func (r *Router) Start(ctx context.Context, bp target.BuildProcess) (string, error) {
	return r.forBuildProcess(bp).Start(ctx, bp)
}

// backendFor picks the backend that owns a handle, since Probe/Kill
// take only the handle, not the originating build process. Handles are
// namespaced by backend prefix (see ssh.go/wasm.go) so routing is a
// pure string inspection, not shared state.
func (r *Router) backendFor(handle string) Executor {
	if len(handle) >= 5 && handle[:5] == "wasm:" {
		return r.WASM
	}
	if len(handle) >= 4 && handle[:4] == "ssh:" {
		return r.SSH
	}
	return r.Local
}

func (r *Router) Probe(ctx context.Context, handle string) (ProbeResult, error) {
	return r.backendFor(handle).Probe(ctx, handle)
}

func (r *Router) Kill(ctx context.Context, handle string) error {
	return r.backendFor(handle).Kill(ctx, handle)
}

func (r *Router) CopyFiles(ctx context.Context, srcHost string, files []string, dstHost string, path string) (string, string, error) {
	return r.SSH.CopyFiles(ctx, srcHost, files, dstHost, path)
}
