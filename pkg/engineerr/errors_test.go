package engineerr

import (
	"errors"
	"testing"
)

func TestIsUnixOrSSHFailure(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"unix error", New(UnixError, "probe failed"), true},
		{"start error", New(StartError, "start failed"), true},
		{"probe error", New(ProbeError, "probe failed"), true},
		{"kill error", New(KillError, "kill failed"), true},
		{"process failed", New(ProcessFailed, "exit 1"), false},
		{"plain error", errors.New("boom"), false},
		{"nil", nil, false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := IsUnixOrSSHFailure(c.err); got != c.want {
				t.Errorf("IsUnixOrSSHFailure(%v) = %v, want %v", c.err, got, c.want)
			}
		})
	}
}

func TestIsRetryable(t *testing.T) {
	if !IsRetryable(New(Conflict, "write race")) {
		t.Error("Conflict should be retryable")
	}
	if IsRetryable(New(Fatal, "invariant broken")) {
		t.Error("Fatal must not be retryable")
	}
}

func TestErrorIsMatchesOnKind(t *testing.T) {
	a := New(NotFound, "missing target")
	b := New(NotFound, "missing other target")
	if !errors.Is(a, b) {
		t.Error("two NotFound errors should match via errors.Is")
	}
	c := New(Conflict, "race")
	if errors.Is(a, c) {
		t.Error("different kinds must not match")
	}
}

func TestWrapUnwraps(t *testing.T) {
	cause := errors.New("dial tcp: refused")
	wrapped := Wrap(UnixError, "ssh dial failed", cause)
	if !errors.Is(wrapped, cause) {
		t.Error("Wrap must preserve the underlying cause for errors.Is")
	}
}
