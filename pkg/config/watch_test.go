package config

import (
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestWatcherReloadsOnWrite(t *testing.T) {
	path := writeProfileFile(t, validProfileJSON)

	reloaded := make(chan *Profile, 1)
	w := NewWatcher(path, "dev", zerolog.Nop(), func(p *Profile) error {
		reloaded <- p
		return nil
	})
	w.reloadWait = 10 * time.Millisecond

	stop := make(chan struct{})
	defer close(stop)

	if err := w.Start(stop); err != nil {
		t.Fatalf("start watcher: %v", err)
	}

	if err := os.WriteFile(path, []byte(validProfileJSON), 0644); err != nil {
		t.Fatalf("rewrite config file: %v", err)
	}

	select {
	case p := <-reloaded:
		if p.Name != "dev" {
			t.Fatalf("expected dev profile, got %s", p.Name)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for reload callback")
	}
}

func TestWatcherSkipsInvalidReload(t *testing.T) {
	path := writeProfileFile(t, validProfileJSON)

	reloaded := make(chan *Profile, 1)
	w := NewWatcher(path, "dev", zerolog.Nop(), func(p *Profile) error {
		reloaded <- p
		return nil
	})
	w.reloadWait = 10 * time.Millisecond

	stop := make(chan struct{})
	defer close(stop)

	if err := w.Start(stop); err != nil {
		t.Fatalf("start watcher: %v", err)
	}

	if err := os.WriteFile(path, []byte(`{"profiles": [{"name": "dev"}]}`), 0644); err != nil {
		t.Fatalf("rewrite config file: %v", err)
	}

	select {
	case <-reloaded:
		t.Fatalf("expected invalid config to be rejected without a callback")
	case <-time.After(200 * time.Millisecond):
	}
}
