package eventlog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ignite/mailflow/internal/domain"
	"github.com/ignite/mailflow/internal/pkg/logger"
	"github.com/redis/go-redis/v9"
)

const defaultStatsTTL = 30 * time.Second

// StatsService answers campaign statistics queries. With a Redis client
// the computed stats are cached briefly, since dashboards poll them.
type StatsService struct {
	store Store
	cache redis.UniversalClient
	ttl   time.Duration
}

// NewStatsService creates a StatsService. cache may be nil.
func NewStatsService(store Store, cache redis.UniversalClient) *StatsService {
	return &StatsService{store: store, cache: cache, ttl: defaultStatsTTL}
}

// WithTTL overrides the cache lifetime.
func (s *StatsService) WithTTL(ttl time.Duration) *StatsService {
	s.ttl = ttl
	return s
}

func statsKey(campaignID string) string { return "stats:campaign:" + campaignID }

// GetCampaignStats returns counts and rates for one campaign.
func (s *StatsService) GetCampaignStats(ctx context.Context, campaignID string) (domain.CampaignStats, error) {
	if s.cache != nil {
		raw, err := s.cache.Get(ctx, statsKey(campaignID)).Bytes()
		if err == nil {
			var cached domain.CampaignStats
			if json.Unmarshal(raw, &cached) == nil {
				return cached, nil
			}
		} else if !errors.Is(err, redis.Nil) {
			logger.Warn("stats cache read failed", "campaign_id", campaignID, "error", err)
		}
	}

	counts, err := s.store.CountByType(ctx, campaignID)
	if err != nil {
		return domain.CampaignStats{}, fmt.Errorf("count events for campaign %s: %w", campaignID, err)
	}
	stats := domain.ComputeStats(campaignID, counts)

	if s.cache != nil {
		if raw, err := json.Marshal(stats); err == nil {
			if err := s.cache.Set(ctx, statsKey(campaignID), raw, s.ttl).Err(); err != nil {
				logger.Warn("stats cache write failed", "campaign_id", campaignID, "error", err)
			}
		}
	}
	return stats, nil
}

// Invalidate drops the cached stats for a campaign.
func (s *StatsService) Invalidate(ctx context.Context, campaignID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Del(ctx, statsKey(campaignID)).Err(); err != nil {
		logger.Warn("stats cache invalidate failed", "campaign_id", campaignID, "error", err)
	}
}
