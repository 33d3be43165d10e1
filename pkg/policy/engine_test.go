package policy

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"github.com/openfroyo/targetd/pkg/target"
)

func newDirectCommand(id, name, program string, tags ...string) *target.Target {
	t := target.NewPassive(id, target.BuildProcess{Kind: target.BuildDirectCommand, Host: "localhost", Program: program})
	t.Name = name
	t.Tags = tags
	return t
}

func TestNewEngineLoadsBuiltins(t *testing.T) {
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	eng, err := NewEngine(logger, true)
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}

	expected := []string{
		"target-naming",
		"required-tags",
		"dangerous-command",
		"dependency-fan-in",
		"long-running-plugin-allowlist",
	}

	policies := eng.ListPolicies()
	for _, name := range expected {
		found := false
		for _, p := range policies {
			if p.Name == name {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("expected built-in policy not found: %s", name)
		}
	}
}

func TestNewEngineWithoutBuiltins(t *testing.T) {
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	eng, err := NewEngine(logger, false)
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	if len(eng.ListPolicies()) != 0 {
		t.Fatalf("expected no policies without built-ins, got %d", len(eng.ListPolicies()))
	}
}

func TestNamingPolicyRejectsUppercase(t *testing.T) {
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	eng, err := NewEngine(logger, true)
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}

	tg := newDirectCommand("t1", "Invalid-Name", "true", "owner:me")
	allow, reason, err := eng.Evaluate(context.Background(), tg)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if allow {
		t.Fatalf("expected uppercase name to be rejected")
	}
	if reason == "" {
		t.Fatalf("expected a non-empty rejection reason")
	}
}

func TestNamingPolicyAllowsValidName(t *testing.T) {
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	eng, err := NewEngine(logger, true)
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}

	tg := newDirectCommand("t1", "valid-name", "true", "owner:me")
	allow, _, err := eng.Evaluate(context.Background(), tg)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if !allow {
		t.Fatalf("expected valid name to be allowed")
	}
}

func TestRequiredTagsPolicyRejectsMissingOwner(t *testing.T) {
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	eng, err := NewEngine(logger, true)
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}

	tg := newDirectCommand("t1", "", "true")
	allow, _, err := eng.Evaluate(context.Background(), tg)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if allow {
		t.Fatalf("expected target without owner tag to be rejected")
	}
}

func TestRequiredTagsPolicyRejectsUnapprovedProduction(t *testing.T) {
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	eng, err := NewEngine(logger, true)
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}

	tg := newDirectCommand("t1", "", "true", "owner:me", "env:production")
	allow, _, err := eng.Evaluate(context.Background(), tg)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if allow {
		t.Fatalf("expected unapproved production target to be rejected")
	}

	tg.Tags = append(tg.Tags, "approved:true")
	allow, _, err = eng.Evaluate(context.Background(), tg)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if !allow {
		t.Fatalf("expected approved production target to be allowed")
	}
}

func TestDangerousCommandPolicy(t *testing.T) {
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	eng, err := NewEngine(logger, true)
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}

	tg := newDirectCommand("t1", "", "rm -rf /", "owner:me")
	allow, _, err := eng.Evaluate(context.Background(), tg)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if allow {
		t.Fatalf("expected rm -rf / to be rejected")
	}
}

func TestDependencyFanInPolicyWarnsButAllows(t *testing.T) {
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	eng, err := NewEngine(logger, true)
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}

	tg := newDirectCommand("t1", "", "true", "owner:me")
	deps := make([]string, 300)
	for i := range deps {
		deps[i] = "dep"
	}
	tg.Dependencies = deps

	result, err := eng.EvaluateDetailed(context.Background(), tg, "submit")
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if !result.Allowed {
		t.Fatalf("expected fan-in violation to warn, not block")
	}
	if len(result.Warnings) == 0 {
		t.Fatalf("expected a fan-in warning")
	}
}

func TestEnableDisablePolicy(t *testing.T) {
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	eng, err := NewEngine(logger, true)
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}

	if err := eng.DisablePolicy("target-naming"); err != nil {
		t.Fatalf("failed to disable policy: %v", err)
	}

	tg := newDirectCommand("t1", "INVALID_NAME", "true", "owner:me")
	allow, _, err := eng.Evaluate(context.Background(), tg)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if !allow {
		t.Fatalf("expected naming violation to be ignored while disabled")
	}

	if err := eng.EnablePolicy("target-naming"); err != nil {
		t.Fatalf("failed to re-enable policy: %v", err)
	}
	p, err := eng.GetPolicy("target-naming")
	if err != nil {
		t.Fatalf("get policy: %v", err)
	}
	if !p.Enabled {
		t.Fatalf("expected policy to be enabled again")
	}
}

func TestReloadPolicies(t *testing.T) {
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	eng, err := NewEngine(logger, true)
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}

	before := len(eng.ListPolicies())
	if err := eng.ReloadPolicies(context.Background()); err != nil {
		t.Fatalf("reload: %v", err)
	}
	after := len(eng.ListPolicies())
	if before != after {
		t.Errorf("expected %d policies after reload, got %d", before, after)
	}
}

func TestPluginAllowlistDisabledByDefault(t *testing.T) {
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	eng, err := NewEngine(logger, true)
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}

	tg := target.NewPassive("t1", target.BuildProcess{Kind: target.BuildLongRunning, PluginName: "not-registered"})
	tg.Tags = []string{"owner:me"}

	allow, _, err := eng.Evaluate(context.Background(), tg)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if !allow {
		t.Fatalf("expected disabled plugin-allowlist policy not to block")
	}

	if err := eng.EnablePolicy("long-running-plugin-allowlist"); err != nil {
		t.Fatalf("enable: %v", err)
	}
	allow, _, err = eng.Evaluate(context.Background(), tg)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if allow {
		t.Fatalf("expected enabled plugin-allowlist policy to reject an unregistered plugin")
	}
}
