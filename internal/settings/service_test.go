package settings

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/atlas-grants/atlas-grants/internal/shared"
)

type mockRepo struct {
	settings  *ThresholdSettings
	loadCalls int
	saveCalls int
}

func (m *mockRepo) Load(ctx context.Context) (ThresholdSettings, error) {
	m.loadCalls++
	if m.settings == nil {
		return ThresholdSettings{}, shared.ErrNotFound
	}
	return *m.settings, nil
}

func (m *mockRepo) Save(ctx context.Context, s ThresholdSettings) error {
	m.saveCalls++
	m.settings = &s
	return nil
}

func newTestService(t *testing.T, repo RepositoryPort) *Service {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewService(repo, client, time.Minute, nil, logger)
}

func TestThresholdsDefaultsWhenUnset(t *testing.T) {
	svc := newTestService(t, &mockRepo{})

	limits, err := svc.Thresholds(context.Background())
	require.NoError(t, err)
	require.Equal(t, 5000.0, limits.USDLimit)
	require.Equal(t, 10.0, limits.PercentLimit)
}

func TestThresholdsCaches(t *testing.T) {
	repo := &mockRepo{settings: &ThresholdSettings{USDLimit: 2500, PercentLimit: 5}}
	svc := newTestService(t, repo)

	first, err := svc.Thresholds(context.Background())
	require.NoError(t, err)
	second, err := svc.Thresholds(context.Background())
	require.NoError(t, err)

	require.Equal(t, first, second)
	require.Equal(t, 1, repo.loadCalls)
}

func TestUpdateInvalidatesCache(t *testing.T) {
	repo := &mockRepo{settings: &ThresholdSettings{USDLimit: 5000, PercentLimit: 10}}
	svc := newTestService(t, repo)

	_, err := svc.Thresholds(context.Background())
	require.NoError(t, err)

	_, err = svc.Update(context.Background(), 1000, 2, 4)
	require.NoError(t, err)
	require.Equal(t, 1, repo.saveCalls)

	limits, err := svc.Thresholds(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1000.0, limits.USDLimit)
	require.Equal(t, 2.0, limits.PercentLimit)
}

func TestUpdateValidatesLimits(t *testing.T) {
	svc := newTestService(t, &mockRepo{})

	_, err := svc.Update(context.Background(), -1, 5, 4)
	require.ErrorIs(t, err, ErrValidation)

	_, err = svc.Update(context.Background(), 100, 150, 4)
	require.ErrorIs(t, err, ErrValidation)
}
