//go:build integration

package store_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"chargegate/internal/filing/models"
	"chargegate/internal/filing/store"
	id "chargegate/pkg/domain"
	"chargegate/pkg/platform/sentinel"
	"chargegate/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *store.Postgres
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	s.postgres = containers.NewPostgresContainer(s.T())
	s.store = store.NewPostgres(s.postgres.DB)
	s.Require().NoError(s.store.EnsureSchema(context.Background()))
}

func (s *PostgresStoreSuite) TearDownSuite() {
	_ = s.postgres.DB.Close()
	_ = s.postgres.Container.Terminate(context.Background())
}

func (s *PostgresStoreSuite) SetupTest() {
	s.Require().NoError(s.postgres.TruncateTables(context.Background(), "filings", "filing_sequences"))
}

func newTestRecord(tenantID id.TenantID, reference string) *models.FilingRecord {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &models.FilingRecord{
		ID:                 id.NewFilingID(),
		TenantID:           tenantID,
		Reference:          reference,
		EntityName:         "Calabar Marine Services Ltd",
		RegistrationNumber: "RC-9928811",
		FilingType:         models.FilingTypeCombined,
		ChargeAmount:       120_000_000,
		ChargeCurrency:     models.CurrencyNGN,
		Status:             models.StatusPending,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
}

func (s *PostgresStoreSuite) TestCreateAndFind() {
	ctx := context.Background()
	tenantID := id.TenantID(uuid.New())

	rec := newTestRecord(tenantID, "NCR-2026-0001")
	rec.Metadata = map[string]string{"source": "api"}
	s.Require().NoError(s.store.Create(ctx, rec))

	found, err := s.store.FindByID(ctx, rec.ID)
	s.Require().NoError(err)
	s.Equal(rec.Reference, found.Reference)
	s.Equal(rec.EntityName, found.EntityName)
	s.Equal(models.StatusPending, found.Status)
	s.Equal("api", found.Metadata["source"])

	_, err = s.store.FindByID(ctx, id.NewFilingID())
	s.Require().ErrorIs(err, sentinel.ErrNotFound)
}

func (s *PostgresStoreSuite) TestReferenceUniquenessPerTenant() {
	ctx := context.Background()
	tenantID := id.TenantID(uuid.New())

	s.Require().NoError(s.store.Create(ctx, newTestRecord(tenantID, "NCR-2026-0001")))

	err := s.store.Create(ctx, newTestRecord(tenantID, "NCR-2026-0001"))
	s.Require().ErrorIs(err, sentinel.ErrConflict)

	// Same reference under a different tenant is fine.
	s.Require().NoError(s.store.Create(ctx, newTestRecord(id.TenantID(uuid.New()), "NCR-2026-0001")))
}

func (s *PostgresStoreSuite) TestUpdateStatus() {
	ctx := context.Background()
	rec := newTestRecord(id.TenantID(uuid.New()), "NCR-2026-0002")
	s.Require().NoError(s.store.Create(ctx, rec))

	updated, err := s.store.UpdateStatus(ctx, rec.ID, models.StatusSubmitted, nil)
	s.Require().NoError(err)
	s.Equal(models.StatusSubmitted, updated.Status)

	// Equal-status metadata attach.
	updated, err = s.store.UpdateStatus(ctx, rec.ID, models.StatusSubmitted,
		map[string]string{models.MetadataEvidenceRef: "evidence://snapshots/r.png"})
	s.Require().NoError(err)
	s.Equal(models.StatusSubmitted, updated.Status)
	s.Equal("evidence://snapshots/r.png", updated.Metadata[models.MetadataEvidenceRef])

	// Backward write is rejected.
	_, err = s.store.UpdateStatus(ctx, rec.ID, models.StatusPending, nil)
	s.Require().ErrorIs(err, sentinel.ErrInvalidState)

	// Terminal write sticks.
	_, err = s.store.UpdateStatus(ctx, rec.ID, models.StatusPerfected, nil)
	s.Require().NoError(err)
	_, err = s.store.UpdateStatus(ctx, rec.ID, models.StatusFailed, nil)
	s.Require().ErrorIs(err, sentinel.ErrInvalidState)
}

// TestConcurrentMilestoneWrites verifies the FOR UPDATE guard: racing
// writers of competing terminal statuses settle on exactly one winner, and
// every loser sees ErrInvalidState rather than a corrupted row.
func (s *PostgresStoreSuite) TestConcurrentMilestoneWrites() {
	ctx := context.Background()
	rec := newTestRecord(id.TenantID(uuid.New()), "NCR-2026-0003")
	s.Require().NoError(s.store.Create(ctx, rec))

	const perSide = 5
	var wg sync.WaitGroup
	var successCount, invalidCount atomic.Int32

	write := func(next models.Status) {
		defer wg.Done()
		_, err := s.store.UpdateStatus(ctx, rec.ID, next, nil)
		if err == nil {
			successCount.Add(1)
		} else if errors.Is(err, sentinel.ErrInvalidState) {
			invalidCount.Add(1)
		}
	}
	for i := 0; i < perSide; i++ {
		wg.Add(2)
		go write(models.StatusPerfected)
		go write(models.StatusFailed)
	}
	wg.Wait()

	// Whichever terminal status landed first wins; its side's remaining
	// writes are equal-status no-ops, the other side is rejected.
	s.Equal(int32(perSide), successCount.Load())
	s.Equal(int32(perSide), invalidCount.Load())

	found, err := s.store.FindByID(ctx, rec.ID)
	s.Require().NoError(err)
	s.True(found.Status.IsTerminal())
}

func (s *PostgresStoreSuite) TestNextSequence() {
	ctx := context.Background()
	tenantID := id.TenantID(uuid.New())

	for want := 1; want <= 3; want++ {
		seq, err := s.store.NextSequence(ctx, tenantID, 2026)
		s.Require().NoError(err)
		s.Equal(want, seq)
	}

	seq, err := s.store.NextSequence(ctx, tenantID, 2027)
	s.Require().NoError(err)
	s.Equal(1, seq)

	seq, err = s.store.NextSequence(ctx, id.TenantID(uuid.New()), 2026)
	s.Require().NoError(err)
	s.Equal(1, seq)
}

func (s *PostgresStoreSuite) TestWatch() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tenantID := id.TenantID(uuid.New())

	ch, stop, err := s.store.Watch(ctx, tenantID)
	s.Require().NoError(err)
	defer stop()

	rec := newTestRecord(tenantID, "NCR-2026-0004")
	s.Require().NoError(s.store.Create(ctx, rec))
	_, err = s.store.UpdateStatus(ctx, rec.ID, models.StatusSubmitted, nil)
	s.Require().NoError(err)

	// Polling delivers at least once; wait for the submitted version.
	deadline := time.After(5 * time.Second)
	for {
		select {
		case got := <-ch:
			s.Equal(rec.ID, got.ID)
			if got.Status == models.StatusSubmitted {
				return
			}
		case <-deadline:
			s.FailNow("timed out waiting for the watch to deliver the mutation")
		}
	}
}
