package executor

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sync"

	"github.com/openfroyo/targetd/pkg/engineerr"
	"github.com/openfroyo/targetd/pkg/target"
)

// LocalExecutor handles No_operation targets (trivially successful)
// and Direct_command targets whose host is empty or "localhost", by
// spawning the program as a local child process.
type LocalExecutor struct {
	mu      sync.Mutex
	runs    map[string]*sshRun
	nextRun int64
}

func NewLocalExecutor() *LocalExecutor {
	return &LocalExecutor{runs: make(map[string]*sshRun)}
}

func (e *LocalExecutor) CheckCondition(ctx context.Context, host string, cond *target.Condition) (bool, error) {
	if cond == nil {
		return true, nil
	}
	switch cond.Kind {
	case target.ConditionAnd:
		for _, sub := range cond.And {
			ok, err := e.CheckCondition(ctx, host, &sub)
			if err != nil || !ok {
				return ok, err
			}
		}
		return true, nil
	case target.ConditionFileExists:
		_, err := os.Stat(cond.Path)
		return err == nil, nil
	case target.ConditionFileMinBytes:
		info, err := os.Stat(cond.Path)
		if err != nil {
			return false, nil
		}
		return info.Size() >= cond.MinBytes, nil
	default:
		return false, engineerr.New(engineerr.ConfigError, "unknown condition kind "+string(cond.Kind))
	}
}

func (e *LocalExecutor) Start(ctx context.Context, bp target.BuildProcess) (string, error) {
	e.mu.Lock()
	e.nextRun++
	id := fmt.Sprintf("local:%d", e.nextRun)
	e.mu.Unlock()

	run := &sshRun{}
	if bp.Kind == target.BuildNoOperation {
		run.finished = true
		run.status = FinishedSuccessfully
	} else {
		cmd := exec.CommandContext(ctx, "/bin/sh", "-c", bp.Program)
		out, err := cmd.CombinedOutput()
		run.finished = true
		if err != nil {
			run.status = FinishedWithFailure
			run.reason = string(out)
		} else {
			run.status = FinishedSuccessfully
			run.reason = string(out)
		}
	}
	e.mu.Lock()
	e.runs[id] = run
	e.mu.Unlock()
	return id, nil
}

func (e *LocalExecutor) Probe(ctx context.Context, handle string) (ProbeResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	run, ok := e.runs[handle]
	if !ok {
		return ProbeResult{}, engineerr.New(engineerr.ProbeError, "unknown local run "+handle)
	}
	return ProbeResult{Status: run.status, Reason: run.reason}, nil
}

func (e *LocalExecutor) Kill(ctx context.Context, handle string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.runs, handle)
	return nil
}

func (e *LocalExecutor) CopyFiles(ctx context.Context, srcHost string, files []string, dstHost string, path string) (string, string, error) {
	return "localhost", fmt.Sprintf("ls %s", path), nil
}
