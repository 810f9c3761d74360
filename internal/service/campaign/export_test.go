package campaign

import (
	"context"
	"time"
)

// SetSleep replaces the pause between batches.
func (s *Service) SetSleep(fn func(ctx context.Context, d time.Duration) error) {
	s.sleep = fn
}
