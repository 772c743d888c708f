package swap

import (
	"context"
	"time"
)

// DefaultSweepInterval is how often RunSweeper looks for expired requests.
const DefaultSweepInterval = 5 * time.Minute

// RunSweeper calls SweepExpired every interval until ctx is done.
func (s *Service) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.Log.Info().Dur("interval", interval).Msg("swap expiry sweeper started")
	for {
		select {
		case <-ctx.Done():
			s.Log.Info().Msg("swap expiry sweeper stopped")
			return
		case <-ticker.C:
			n, err := s.SweepExpired(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				s.Log.Error().Err(err).Msg("sweeping expired swap requests")
				continue
			}
			if n > 0 {
				s.Log.Info().Int("count", n).Msg("expired swap requests declined")
			}
		}
	}
}
