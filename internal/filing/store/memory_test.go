package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"chargegate/internal/filing/models"
	id "chargegate/pkg/domain"
	"chargegate/pkg/platform/sentinel"
	"chargegate/pkg/requestcontext"
)

type MemoryStoreSuite struct {
	suite.Suite
	store *InMemory
	ctx   context.Context
}

func (s *MemoryStoreSuite) SetupTest() {
	s.store = NewInMemory()
	s.ctx = context.Background()
}

func TestMemoryStoreSuite(t *testing.T) {
	suite.Run(t, new(MemoryStoreSuite))
}

func (s *MemoryStoreSuite) newRecord(tenantID id.TenantID, reference string) *models.FilingRecord {
	rec, err := models.NewFilingRecord(id.NewFilingID(), tenantID, reference, models.SubmitFilingRequest{
		EntityName:         "Kano Textiles Plc",
		RegistrationNumber: "RC-2203941",
		FilingType:         models.FilingTypeFloating,
		ChargeAmount:       10_000_000,
		ChargeCurrency:     models.CurrencyNGN,
	}, time.Now())
	s.Require().NoError(err)
	return rec
}

func (s *MemoryStoreSuite) TestCreationAndLookups() {
	tenantID := id.TenantID(uuid.New())

	s.Run("creates and finds a record by ID", func() {
		rec := s.newRecord(tenantID, "NCR-2026-0001")
		s.Require().NoError(s.store.Create(s.ctx, rec))

		found, err := s.store.FindByID(s.ctx, rec.ID)
		s.Require().NoError(err)
		s.Equal(rec.Reference, found.Reference)
		s.Equal(models.StatusPending, found.Status)
	})

	s.Run("returns ErrNotFound for unknown ID", func() {
		_, err := s.store.FindByID(s.ctx, id.NewFilingID())
		s.Require().ErrorIs(err, sentinel.ErrNotFound)
	})

	s.Run("rejects a duplicate filing ID", func() {
		rec := s.newRecord(tenantID, "NCR-2026-0002")
		s.Require().NoError(s.store.Create(s.ctx, rec))
		s.Require().ErrorIs(s.store.Create(s.ctx, rec), sentinel.ErrConflict)
	})

	s.Run("rejects a duplicate reference within a tenant", func() {
		s.Require().NoError(s.store.Create(s.ctx, s.newRecord(tenantID, "NCR-2026-0003")))
		err := s.store.Create(s.ctx, s.newRecord(tenantID, "NCR-2026-0003"))
		s.Require().ErrorIs(err, sentinel.ErrConflict)
	})

	s.Run("allows the same reference across tenants", func() {
		s.Require().NoError(s.store.Create(s.ctx, s.newRecord(tenantID, "NCR-2026-0004")))
		other := s.newRecord(id.TenantID(uuid.New()), "NCR-2026-0004")
		s.Require().NoError(s.store.Create(s.ctx, other))
	})

	s.Run("hands out copies, not aliases", func() {
		rec := s.newRecord(tenantID, "NCR-2026-0005")
		s.Require().NoError(s.store.Create(s.ctx, rec))

		found, err := s.store.FindByID(s.ctx, rec.ID)
		s.Require().NoError(err)
		found.Status = models.StatusFailed

		again, err := s.store.FindByID(s.ctx, rec.ID)
		s.Require().NoError(err)
		s.Equal(models.StatusPending, again.Status)
	})
}

func (s *MemoryStoreSuite) TestUpdateStatus() {
	tenantID := id.TenantID(uuid.New())

	s.Run("applies forward transitions", func() {
		rec := s.newRecord(tenantID, "NCR-2026-0010")
		s.Require().NoError(s.store.Create(s.ctx, rec))

		updated, err := s.store.UpdateStatus(s.ctx, rec.ID, models.StatusSubmitted, nil)
		s.Require().NoError(err)
		s.Equal(models.StatusSubmitted, updated.Status)

		updated, err = s.store.UpdateStatus(s.ctx, rec.ID, models.StatusPerfected, nil)
		s.Require().NoError(err)
		s.Equal(models.StatusPerfected, updated.Status)
	})

	s.Run("rejects backward transitions with ErrInvalidState", func() {
		rec := s.newRecord(tenantID, "NCR-2026-0011")
		s.Require().NoError(s.store.Create(s.ctx, rec))
		_, err := s.store.UpdateStatus(s.ctx, rec.ID, models.StatusSubmitted, nil)
		s.Require().NoError(err)

		_, err = s.store.UpdateStatus(s.ctx, rec.ID, models.StatusPending, nil)
		s.Require().ErrorIs(err, sentinel.ErrInvalidState)
	})

	s.Run("rejects writes after a terminal status", func() {
		rec := s.newRecord(tenantID, "NCR-2026-0012")
		s.Require().NoError(s.store.Create(s.ctx, rec))
		_, err := s.store.UpdateStatus(s.ctx, rec.ID, models.StatusFailed, nil)
		s.Require().NoError(err)

		_, err = s.store.UpdateStatus(s.ctx, rec.ID, models.StatusPerfected, nil)
		s.Require().ErrorIs(err, sentinel.ErrInvalidState)
	})

	s.Run("equal status with empty patch is a no-op", func() {
		rec := s.newRecord(tenantID, "NCR-2026-0013")
		s.Require().NoError(s.store.Create(s.ctx, rec))

		before, err := s.store.FindByID(s.ctx, rec.ID)
		s.Require().NoError(err)

		after, err := s.store.UpdateStatus(s.ctx, rec.ID, models.StatusPending, nil)
		s.Require().NoError(err)
		s.Equal(before.UpdatedAt, after.UpdatedAt)
	})

	s.Run("equal status with a patch attaches metadata", func() {
		rec := s.newRecord(tenantID, "NCR-2026-0014")
		s.Require().NoError(s.store.Create(s.ctx, rec))
		_, err := s.store.UpdateStatus(s.ctx, rec.ID, models.StatusSubmitted, nil)
		s.Require().NoError(err)

		ctx := requestcontext.WithTime(s.ctx, time.Now().Add(time.Minute))
		after, err := s.store.UpdateStatus(ctx, rec.ID, models.StatusSubmitted,
			map[string]string{models.MetadataEvidenceRef: "evidence://snapshots/a.png"})
		s.Require().NoError(err)
		s.Equal(models.StatusSubmitted, after.Status)
		s.Equal("evidence://snapshots/a.png", after.Metadata[models.MetadataEvidenceRef])
	})

	s.Run("returns ErrNotFound for unknown ID", func() {
		_, err := s.store.UpdateStatus(s.ctx, id.NewFilingID(), models.StatusSubmitted, nil)
		s.Require().ErrorIs(err, sentinel.ErrNotFound)
	})
}

func (s *MemoryStoreSuite) TestNextSequence() {
	tenantA := id.TenantID(uuid.New())
	tenantB := id.TenantID(uuid.New())

	s.Run("counts up per tenant and year", func() {
		seq, err := s.store.NextSequence(s.ctx, tenantA, 2026)
		s.Require().NoError(err)
		s.Equal(1, seq)

		seq, err = s.store.NextSequence(s.ctx, tenantA, 2026)
		s.Require().NoError(err)
		s.Equal(2, seq)
	})

	s.Run("tenants do not share counters", func() {
		seq, err := s.store.NextSequence(s.ctx, tenantB, 2026)
		s.Require().NoError(err)
		s.Equal(1, seq)
	})

	s.Run("years do not share counters", func() {
		seq, err := s.store.NextSequence(s.ctx, tenantA, 2027)
		s.Require().NoError(err)
		s.Equal(1, seq)
	})
}

func (s *MemoryStoreSuite) TestWatch() {
	tenantA := id.TenantID(uuid.New())
	tenantB := id.TenantID(uuid.New())

	s.Run("delivers mutations for the watched tenant only", func() {
		ch, cancel, err := s.store.Watch(s.ctx, tenantA)
		s.Require().NoError(err)
		defer cancel()

		recA := s.newRecord(tenantA, "NCR-2026-0020")
		recB := s.newRecord(tenantB, "NCR-2026-0020")
		s.Require().NoError(s.store.Create(s.ctx, recA))
		s.Require().NoError(s.store.Create(s.ctx, recB))

		got := s.receive(ch)
		s.Equal(recA.ID, got.ID)
		s.Empty(ch)
	})

	s.Run("zero tenant watches every scope", func() {
		ch, cancel, err := s.store.Watch(s.ctx, id.TenantID{})
		s.Require().NoError(err)
		defer cancel()

		s.Require().NoError(s.store.Create(s.ctx, s.newRecord(tenantA, "NCR-2026-0021")))
		s.Require().NoError(s.store.Create(s.ctx, s.newRecord(tenantB, "NCR-2026-0022")))

		s.NotNil(s.receive(ch))
		s.NotNil(s.receive(ch))
	})

	s.Run("status writes are pushed to watchers", func() {
		rec := s.newRecord(tenantA, "NCR-2026-0023")
		s.Require().NoError(s.store.Create(s.ctx, rec))

		ch, cancel, err := s.store.Watch(s.ctx, tenantA)
		s.Require().NoError(err)
		defer cancel()

		_, err = s.store.UpdateStatus(s.ctx, rec.ID, models.StatusSubmitted, nil)
		s.Require().NoError(err)

		got := s.receive(ch)
		s.Equal(models.StatusSubmitted, got.Status)
	})

	s.Run("cancel closes the channel", func() {
		ch, cancel, err := s.store.Watch(s.ctx, tenantA)
		s.Require().NoError(err)

		cancel()
		_, open := <-ch
		s.False(open)
	})
}

func (s *MemoryStoreSuite) receive(ch <-chan *models.FilingRecord) *models.FilingRecord {
	s.T().Helper()
	select {
	case rec := <-ch:
		s.Require().NotNil(rec)
		return rec
	case <-time.After(time.Second):
		s.FailNow("timed out waiting for a watch push")
		return nil
	}
}
