//go:build integration

package usage_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"dataplane/internal/apikey/store/usage"
	"dataplane/pkg/domain"
	"dataplane/pkg/testutil/containers"
)

type RedisUsageSuite struct {
	suite.Suite
	redis *containers.RedisContainer
	store *usage.RedisStore
}

func TestRedisUsageSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RedisUsageSuite))
}

func (s *RedisUsageSuite) SetupSuite() {
	s.redis = containers.GetManager().GetRedis(s.T())
	s.store = usage.NewRedis(s.redis.Client)
}

func (s *RedisUsageSuite) SetupTest() {
	s.Require().NoError(s.redis.FlushAll(context.Background()))
}

func (s *RedisUsageSuite) TestIncrementAndLoad() {
	ctx := context.Background()
	keyID := domain.NewAPIKeyID()
	last := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)

	for i := range 3 {
		s.Require().NoError(s.store.Increment(ctx, keyID, last.Add(time.Duration(i-2)*time.Minute)))
	}

	got, err := s.store.Load(ctx, []domain.APIKeyID{keyID, domain.NewAPIKeyID()})
	s.Require().NoError(err)
	s.Require().Len(got, 1)
	s.Equal(int64(3), got[keyID].RequestCount)
	s.True(last.Equal(*got[keyID].LastUsedAt))
}
