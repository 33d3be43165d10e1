package executor

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/openfroyo/targetd/pkg/target"
)

func TestLocalExecutorNoOperationSucceedsImmediately(t *testing.T) {
	e := NewLocalExecutor()
	ctx := context.Background()

	handle, err := e.Start(ctx, target.BuildProcess{Kind: target.BuildNoOperation})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	res, err := e.Probe(ctx, handle)
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if res.Status != FinishedSuccessfully {
		t.Fatalf("expected FinishedSuccessfully, got %s", res.Status)
	}
}

func TestLocalExecutorDirectCommandSuccessAndFailure(t *testing.T) {
	e := NewLocalExecutor()
	ctx := context.Background()

	okHandle, err := e.Start(ctx, target.BuildProcess{Kind: target.BuildDirectCommand, Program: "exit 0"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	res, err := e.Probe(ctx, okHandle)
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if res.Status != FinishedSuccessfully {
		t.Errorf("expected FinishedSuccessfully for exit 0, got %s", res.Status)
	}

	failHandle, err := e.Start(ctx, target.BuildProcess{Kind: target.BuildDirectCommand, Program: "exit 1"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	res, err = e.Probe(ctx, failHandle)
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if res.Status != FinishedWithFailure {
		t.Errorf("expected FinishedWithFailure for exit 1, got %s", res.Status)
	}
}

func TestLocalExecutorProbeUnknownHandle(t *testing.T) {
	e := NewLocalExecutor()
	if _, err := e.Probe(context.Background(), "no-such-handle"); err == nil {
		t.Fatal("expected error probing an unknown handle")
	}
}

func TestLocalExecutorCheckConditionFileExists(t *testing.T) {
	e := NewLocalExecutor()
	ctx := context.Background()

	dir := t.TempDir()
	path := filepath.Join(dir, "marker")

	held, err := e.CheckCondition(ctx, "", &target.Condition{Kind: target.ConditionFileExists, Path: path})
	if err != nil {
		t.Fatalf("CheckCondition: %v", err)
	}
	if held {
		t.Error("expected condition to not hold before file is created")
	}

	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	held, err = e.CheckCondition(ctx, "", &target.Condition{Kind: target.ConditionFileExists, Path: path})
	if err != nil {
		t.Fatalf("CheckCondition: %v", err)
	}
	if !held {
		t.Error("expected condition to hold once file exists")
	}
}

func TestLocalExecutorCheckConditionNilAlwaysHolds(t *testing.T) {
	e := NewLocalExecutor()
	held, err := e.CheckCondition(context.Background(), "", nil)
	if err != nil {
		t.Fatalf("CheckCondition: %v", err)
	}
	if !held {
		t.Error("expected nil condition to always hold")
	}
}

func TestLocalExecutorKillRemovesRun(t *testing.T) {
	e := NewLocalExecutor()
	ctx := context.Background()

	handle, err := e.Start(ctx, target.BuildProcess{Kind: target.BuildNoOperation})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := e.Kill(ctx, handle); err != nil {
		t.Fatalf("Kill: %v", err)
	}
	if _, err := e.Probe(ctx, handle); err == nil {
		t.Fatal("expected probing a killed handle to fail")
	}
}
