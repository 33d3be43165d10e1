package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/openfroyo/targetd/pkg/engineerr"
	"github.com/openfroyo/targetd/pkg/target"
	"github.com/rs/zerolog"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
)

// PluginSource maps a plugin_name referenced by a Long_running build
// process to the compiled WASM bytes implementing it.
type PluginSource func(pluginName string) ([]byte, error)

// WASMExecutor runs Long_running targets by instantiating the named
// plugin module and calling its exported start/probe/destroy
// functions, giving daemonize/LSF-style jobs a genuine cancelable,
// in-process analogue (§4.2 domain stack).
type WASMExecutor struct {
	runtime wazero.Runtime
	source  PluginSource
	logger  zerolog.Logger

	mu      sync.Mutex
	jobs    map[string]*wasmJob
	nextJob int64
}

type wasmJob struct {
	mod    api.Module
	bridge *pluginBridge
}

func NewWASMExecutor(ctx context.Context, source PluginSource, logger zerolog.Logger) (*WASMExecutor, error) {
	rt := wazero.NewRuntime(ctx)
	if _, err := wasi_snapshot_preview1.Instantiate(ctx, rt); err != nil {
		return nil, engineerr.Wrap(engineerr.ConfigError, "instantiate wasi", err)
	}
	return &WASMExecutor{
		runtime: rt,
		source:  source,
		logger:  logger.With().Str("component", "executor.wasm").Logger(),
		jobs:    make(map[string]*wasmJob),
	}, nil
}

func (e *WASMExecutor) Close(ctx context.Context) error {
	return e.runtime.Close(ctx)
}

func (e *WASMExecutor) CheckCondition(ctx context.Context, host string, cond *target.Condition) (bool, error) {
	// Plugin-backed targets have no host-side condition of their own in
	// this backend; the pre-run condition, if any, is still evaluated
	// by the SSH/local backend upstream of the router.
	return false, nil
}

func (e *WASMExecutor) Start(ctx context.Context, bp target.BuildProcess) (string, error) {
	if bp.Kind != target.BuildLongRunning {
		return "", engineerr.New(engineerr.ConfigError, "wasm executor only starts long_running targets")
	}
	code, err := e.source(bp.PluginName)
	if err != nil {
		return "", engineerr.Wrap(engineerr.StartError, "resolve plugin "+bp.PluginName, err)
	}
	compiled, err := e.runtime.CompileModule(ctx, code)
	if err != nil {
		return "", engineerr.Wrap(engineerr.StartError, "compile plugin "+bp.PluginName, err)
	}
	mod, err := e.runtime.InstantiateModule(ctx, compiled, wazero.NewModuleConfig().WithName(bp.PluginName))
	if err != nil {
		return "", engineerr.Wrap(engineerr.StartError, "instantiate plugin "+bp.PluginName, err)
	}

	bridge := newPluginBridge(mod)
	if err := bridge.start(ctx, bp.OpaquePayload); err != nil {
		_ = mod.Close(ctx)
		return "", engineerr.Wrap(engineerr.StartError, "plugin start "+bp.PluginName, err)
	}

	e.mu.Lock()
	e.nextJob++
	id := fmt.Sprintf("wasm:%d", e.nextJob)
	e.jobs[id] = &wasmJob{mod: mod, bridge: bridge}
	e.mu.Unlock()

	return id, nil
}

func (e *WASMExecutor) Probe(ctx context.Context, handle string) (ProbeResult, error) {
	e.mu.Lock()
	job, ok := e.jobs[handle]
	e.mu.Unlock()
	if !ok {
		return ProbeResult{}, engineerr.New(engineerr.ProbeError, "unknown plugin job "+handle)
	}
	status, reason, err := job.bridge.probe(ctx)
	if err != nil {
		return ProbeResult{}, engineerr.Wrap(engineerr.ProbeError, "plugin probe", err)
	}
	return ProbeResult{Status: status, Reason: reason}, nil
}

func (e *WASMExecutor) Kill(ctx context.Context, handle string) error {
	e.mu.Lock()
	job, ok := e.jobs[handle]
	delete(e.jobs, handle)
	e.mu.Unlock()
	if !ok {
		return engineerr.New(engineerr.KillError, "unknown plugin job "+handle)
	}
	if err := job.bridge.destroy(ctx); err != nil {
		_ = job.mod.Close(ctx)
		return engineerr.Wrap(engineerr.KillError, "plugin destroy", err)
	}
	return job.mod.Close(ctx)
}

func (e *WASMExecutor) CopyFiles(ctx context.Context, srcHost string, files []string, dstHost string, path string) (string, string, error) {
	return "", "", engineerr.New(engineerr.ConfigError, "wasm executor does not support copy_files")
}

// pluginBridge wraps the exported start/probe/destroy functions of a
// provider-style WASM module, passing JSON payloads through linear
// memory the way the reference provider bridge marshals engine types
// across the WASM boundary.
type pluginBridge struct {
	mod     api.Module
	malloc  api.Function
	free    api.Function
	startFn   api.Function
	probeFn   api.Function
	destroyFn api.Function
}

func newPluginBridge(mod api.Module) *pluginBridge {
	return &pluginBridge{
		mod:       mod,
		malloc:    mod.ExportedFunction("malloc"),
		free:      mod.ExportedFunction("free"),
		startFn:   mod.ExportedFunction("start"),
		probeFn:   mod.ExportedFunction("probe"),
		destroyFn: mod.ExportedFunction("destroy"),
	}
}

func (b *pluginBridge) writeJSON(ctx context.Context, v json.RawMessage) (ptr, size uint32, err error) {
	if len(v) == 0 {
		v = json.RawMessage("{}")
	}
	size = uint32(len(v))
	res, err := b.malloc.Call(ctx, uint64(size))
	if err != nil {
		return 0, 0, err
	}
	ptr = uint32(res[0])
	if !b.mod.Memory().Write(ptr, v) {
		return 0, 0, fmt.Errorf("failed to write plugin payload")
	}
	return ptr, size, nil
}

func (b *pluginBridge) start_(ctx context.Context, payload json.RawMessage) error {
	ptr, size, err := b.writeJSON(ctx, payload)
	if err != nil {
		return err
	}
	defer b.free.Call(ctx, uint64(ptr))
	_, err = b.startFn.Call(ctx, uint64(ptr), uint64(size))
	return err
}

func (b *pluginBridge) start(ctx context.Context, payload json.RawMessage) error {
	return b.start_(ctx, payload)
}

func (b *pluginBridge) probe(ctx context.Context) (ProbeStatus, string, error) {
	res, err := b.probeFn.Call(ctx)
	if err != nil {
		return "", "", err
	}
	switch res[0] {
	case 0:
		return StillRunning, "", nil
	case 1:
		return FinishedSuccessfully, "", nil
	default:
		return FinishedWithFailure, "plugin reported non-zero status", nil
	}
}

func (b *pluginBridge) destroy(ctx context.Context) error {
	_, err := b.destroyFn.Call(ctx)
	return err
}
