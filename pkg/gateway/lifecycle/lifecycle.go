package lifecycle

import "sync/atomic"

// Lifecycle holds the gateway's draining flag. Once set, the orchestrator
// refuses new sessions and /readyz reports 503.
type Lifecycle struct {
	draining atomic.Bool
}

func (l *Lifecycle) SetDraining(draining bool) {
	if l == nil {
		return
	}
	l.draining.Store(draining)
}

// IsDraining satisfies bots.DrainState. A nil Lifecycle never drains.
func (l *Lifecycle) IsDraining() bool {
	if l == nil {
		return false
	}
	return l.draining.Load()
}
