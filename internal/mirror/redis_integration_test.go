//go:build integration

package mirror_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/suite"

	"keyregistry/internal/keyregistry/events"
	"keyregistry/internal/keyregistry/models"
	"keyregistry/internal/mirror"
	id "keyregistry/pkg/domain"
	"keyregistry/pkg/testutil/containers"
)

type RedisSuite struct {
	backendSuite
	redis *containers.RedisContainer
}

func TestRedisSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RedisSuite))
}

func (s *RedisSuite) SetupSuite() {
	s.redis = containers.GetManager().GetRedis(s.T())
}

func (s *RedisSuite) SetupTest() {
	s.Require().NoError(s.redis.FlushAll(context.Background()))
	s.reset(mirror.NewRedis(s.redis.Client, mirror.WithKeyPrefix("test:mirror")))
}

func (s *RedisSuite) TestConcurrentReplicasApplyEachEventOnce() {
	var evs []events.Event
	for i := range 20 {
		key := []byte{byte(i), 1, 2, 3}
		evs = append(evs, s.next(events.Add(actor, t0, 1, 1, key, 1, nil)))
	}

	var wg sync.WaitGroup
	errs := make(chan error, 3)
	for range 3 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m := mirror.New(mirror.NewRedis(s.redis.Client, mirror.WithKeyPrefix("test:mirror")), grace)
			errs <- m.ApplyAll(s.ctx, evs)
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		s.Require().NoError(err)
	}

	added, err := s.mirror.Keys(s.ctx, 1, models.KeyStateAdded)
	s.Require().NoError(err)
	s.Len(added, 20)
	s.Equal(id.HashKey([]byte{0, 1, 2, 3}), added[0])
}
