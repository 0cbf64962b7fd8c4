package broker

import (
	"context"
	"time"
)

// RunHealthMonitor periodically marks workers unhealthy once their last
// heartbeat exceeds staleFactor*heartbeatInterval. It only touches
// Registry state through CheckLiveness, which takes the registry's own
// lock, so it is safe to run on a separate goroutine from the broker's
// polling loop.
func (r *Registry) RunHealthMonitor(ctx context.Context) {
	ticker := time.NewTicker(r.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			unhealthy := r.CheckLiveness(ctx)
			for _, workerID := range unhealthy {
				r.log.Warn().Str("worker_id", workerID).Msg("broker: worker marked unhealthy (stale heartbeat)")
			}
		}
	}
}
