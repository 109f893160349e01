package app

import (
	"log/slog"
	"sync/atomic"

	"github.com/florianilch/toolbridge/internal/proxy"
)

// Health is the readiness state served on /readyz. It starts not ready,
// becomes ready once the server listens and drops back when shutdown begins.
type Health struct {
	ready atomic.Bool
}

// Compile-time check that Health implements proxy.ReadinessChecker interface
var _ proxy.ReadinessChecker = (*Health)(nil)

// NewHealth creates a Health that reports not ready.
func NewHealth() *Health {
	return &Health{}
}

// SetReady updates readiness and logs transitions.
func (h *Health) SetReady(ready bool) {
	if h.ready.CompareAndSwap(!ready, ready) {
		slog.Info("readiness changed", "ready", ready)
	}
}

// IsReady reports whether the gateway accepts traffic.
func (h *Health) IsReady() bool {
	return h.ready.Load()
}
