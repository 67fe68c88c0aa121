package settings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/atlas-grants/atlas-grants/internal/approval"
	"github.com/atlas-grants/atlas-grants/internal/shared"
)

const cacheKey = "settings:thresholds"

// Service loads and updates the auto-approval thresholds, with a redis
// read-through cache in front of postgres. It satisfies the approval
// engine's settings port.
type Service struct {
	repo   RepositoryPort
	client *redis.Client
	ttl    time.Duration
	audit  *shared.AuditLogger
	logger *slog.Logger
}

// NewService constructs the settings service.
func NewService(repo RepositoryPort, client *redis.Client, ttl time.Duration, audit *shared.AuditLogger, logger *slog.Logger) *Service {
	return &Service{repo: repo, client: client, ttl: ttl, audit: audit, logger: logger}
}

// Thresholds returns the configured limits. A missing row falls back to the
// built-in defaults.
func (s *Service) Thresholds(ctx context.Context) (approval.Thresholds, error) {
	settings, err := s.load(ctx)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return approval.DefaultThresholds(), nil
		}
		return approval.Thresholds{}, err
	}
	return settings.Thresholds(), nil
}

// Current returns the persisted settings row, defaults when absent.
func (s *Service) Current(ctx context.Context) (ThresholdSettings, error) {
	settings, err := s.load(ctx)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			defaults := approval.DefaultThresholds()
			return ThresholdSettings{USDLimit: defaults.USDLimit, PercentLimit: defaults.PercentLimit}, nil
		}
		return ThresholdSettings{}, err
	}
	return settings, nil
}

// Update persists new limits and drops the cache entry.
func (s *Service) Update(ctx context.Context, usdLimit, percentLimit float64, actorID int64) (ThresholdSettings, error) {
	if usdLimit < 0 || percentLimit < 0 {
		return ThresholdSettings{}, fmt.Errorf("%w: limits must not be negative", ErrValidation)
	}
	if percentLimit > 100 {
		return ThresholdSettings{}, fmt.Errorf("%w: percent limit must not exceed 100", ErrValidation)
	}

	before, _ := s.Current(ctx)
	updated := ThresholdSettings{
		USDLimit:     usdLimit,
		PercentLimit: percentLimit,
		UpdatedBy:    &actorID,
		UpdatedAt:    time.Now().UTC(),
	}
	if err := s.repo.Save(ctx, updated); err != nil {
		return ThresholdSettings{}, err
	}
	s.invalidate(ctx)

	if s.audit != nil {
		err := s.audit.Record(ctx, shared.AuditLog{
			ActorID:  actorID,
			Action:   "settings.update_thresholds",
			Entity:   "approval_settings",
			EntityID: strconv.Itoa(1),
			Before:   map[string]any{"usd_limit": before.USDLimit, "percent_limit": before.PercentLimit},
			After:    map[string]any{"usd_limit": usdLimit, "percent_limit": percentLimit},
			At:       updated.UpdatedAt,
		})
		if err != nil {
			s.logger.Error("record settings audit", slog.Any("error", err))
		}
	}
	return updated, nil
}

func (s *Service) load(ctx context.Context) (ThresholdSettings, error) {
	if s.client != nil {
		payload, err := s.client.Get(ctx, cacheKey).Bytes()
		if err == nil {
			var cached ThresholdSettings
			if err := json.Unmarshal(payload, &cached); err == nil {
				return cached, nil
			}
		} else if err != redis.Nil {
			s.logger.Warn("settings cache read", slog.Any("error", err))
		}
	}

	settings, err := s.repo.Load(ctx)
	if err != nil {
		return ThresholdSettings{}, err
	}

	if s.client != nil {
		if raw, err := json.Marshal(settings); err == nil {
			if err := s.client.Set(ctx, cacheKey, raw, s.ttl).Err(); err != nil {
				s.logger.Warn("settings cache write", slog.Any("error", err))
			}
		}
	}
	return settings, nil
}

func (s *Service) invalidate(ctx context.Context) {
	if s.client == nil {
		return
	}
	if err := s.client.Del(ctx, cacheKey).Err(); err != nil {
		s.logger.Warn("settings cache invalidate", slog.Any("error", err))
	}
}

var _ approval.SettingsPort = (*Service)(nil)
