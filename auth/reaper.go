package auth

import (
	"context"
	"time"
)

// RunReaper sweeps expired sessions every interval until ctx is done. Expiry is
// enforced by every operation regardless; this only frees memory while idle.
func (a *Authority) RunReaper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if n := a.Sweep(); n > 0 {
				a.logger.Info().Int("count", n).Msg("reaper removed expired sessions")
			}
		case <-ctx.Done():
			return
		}
	}
}
