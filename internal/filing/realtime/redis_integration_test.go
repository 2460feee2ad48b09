//go:build integration

package realtime_test

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"chargegate/internal/filing/models"
	"chargegate/internal/filing/realtime"
	platformredis "chargegate/internal/platform/redis"
	id "chargegate/pkg/domain"
	"chargegate/pkg/testutil/containers"
)

type RedisFanoutSuite struct {
	suite.Suite
	redis  *containers.RedisContainer
	client *platformredis.Client
}

func TestRedisFanoutSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RedisFanoutSuite))
}

func (s *RedisFanoutSuite) SetupSuite() {
	s.redis = containers.NewRedisContainer(s.T())

	client, err := platformredis.New(s.redis.URL)
	s.Require().NoError(err)
	s.client = client
}

func (s *RedisFanoutSuite) TearDownSuite() {
	_ = s.client.Close()
	_ = s.redis.Client.Close()
	_ = s.redis.Container.Terminate(context.Background())
}

func (s *RedisFanoutSuite) SetupTest() {
	s.Require().NoError(s.redis.FlushAll(context.Background()))
}

type remoteRecorder struct {
	mu   sync.Mutex
	recs []*models.FilingRecord
}

func (r *remoteRecorder) Apply(rec *models.FilingRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recs = append(r.recs, rec)
}

func (r *remoteRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.recs)
}

func (r *remoteRecorder) first() *models.FilingRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.recs[0]
}

// TestRoundTrip pushes a record through the fanout and receives it in a
// remote subscriber, the way a second process would.
func (s *RedisFanoutSuite) TestRoundTrip() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tenantID := id.TenantID(uuid.New())
	obs := &remoteRecorder{}
	stop := realtime.SubscribeRemote(ctx, s.client, tenantID, obs, slog.Default())
	defer stop()

	// Redis pub/sub has no replay; give the subscription time to attach
	// before publishing.
	time.Sleep(100 * time.Millisecond)

	rec := &models.FilingRecord{
		ID:        id.NewFilingID(),
		TenantID:  tenantID,
		Reference: "NCR-2026-0001",
		Status:    models.StatusSubmitted,
		UpdatedAt: time.Now().UTC().Truncate(time.Millisecond),
	}
	fanout := realtime.NewRedisFanout(s.client, slog.Default())
	fanout.Apply(rec)

	s.Require().Eventually(func() bool { return obs.count() == 1 }, 5*time.Second, 10*time.Millisecond)

	got := obs.first()
	s.Equal(rec.ID, got.ID)
	s.Equal(rec.Reference, got.Reference)
	s.Equal(models.StatusSubmitted, got.Status)
}

// TestTenantChannelsAreIsolated verifies a subscriber only sees its own
// tenant's channel.
func (s *RedisFanoutSuite) TestTenantChannelsAreIsolated() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tenantA := id.TenantID(uuid.New())
	tenantB := id.TenantID(uuid.New())
	obsA := &remoteRecorder{}
	stop := realtime.SubscribeRemote(ctx, s.client, tenantA, obsA, slog.Default())
	defer stop()

	time.Sleep(100 * time.Millisecond)

	fanout := realtime.NewRedisFanout(s.client, slog.Default())
	fanout.Apply(&models.FilingRecord{ID: id.NewFilingID(), TenantID: tenantB, Status: models.StatusPending})
	fanout.Apply(&models.FilingRecord{ID: id.NewFilingID(), TenantID: tenantA, Status: models.StatusPending})

	s.Require().Eventually(func() bool { return obsA.count() == 1 }, 5*time.Second, 10*time.Millisecond)
	s.Equal(tenantA, obsA.first().TenantID)
}
