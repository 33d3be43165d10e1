package protocol

import (
	"context"
	"runtime"
	"time"

	"github.com/openfroyo/targetd/pkg/store"
)

// BuildServerStatus assembles the Get_server_status response from the
// store's current active/alive counts and the Go runtime's memory
// statistics (§6).
func BuildServerStatus(ctx context.Context, st store.Store, cfg Config) ServerStatusResult {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	tlsKind := TLSNone
	if cfg.TLSCertFile != "" && cfg.TLSKeyFile != "" {
		tlsKind = TLSNative
	}

	status := ServerStatusResult{
		Time:     time.Now().UnixNano(),
		ReadOnly: cfg.ReadOnly,
		TLS:      tlsKind,
		Database: cfg.Database,
		MemAllocBytes: memStats.Alloc,
		MemSysBytes:   memStats.Sys,
		NumGoroutine:  runtime.NumGoroutine(),
		NumGC:         memStats.NumGC,
	}

	if active, err := st.IterActive(ctx); err == nil {
		status.ActiveTargets = len(active)
	}
	if alive, err := st.IterAlive(ctx); err == nil {
		status.AliveTargets = len(alive)
	}

	return status
}
