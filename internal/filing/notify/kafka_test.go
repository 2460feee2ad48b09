package notify

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"
	"github.com/twmb/franz-go/pkg/kgo"

	"chargegate/internal/filing/models"
	id "chargegate/pkg/domain"
	"chargegate/pkg/requestcontext"
)

type fakeProducer struct {
	records []*kgo.Record
	err     error
}

func (f *fakeProducer) Produce(ctx context.Context, r *kgo.Record, promise func(*kgo.Record, error)) {
	f.records = append(f.records, r)
	promise(r, f.err)
}

type KafkaNotifierSuite struct {
	suite.Suite
	producer *fakeProducer
	notifier *KafkaNotifier
	rec      *models.FilingRecord
	now      time.Time
}

func (s *KafkaNotifierSuite) SetupTest() {
	s.producer = &fakeProducer{}
	s.notifier = newKafkaNotifierWithProducer(s.producer, "filing.terminal", slog.Default())
	s.now = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	s.rec = &models.FilingRecord{
		ID:        id.NewFilingID(),
		TenantID:  id.TenantID(uuid.New()),
		Reference: "NCR-2026-0001",
		Status:    models.StatusPerfected,
	}
}

func TestKafkaNotifierSuite(t *testing.T) {
	suite.Run(t, new(KafkaNotifierSuite))
}

func (s *KafkaNotifierSuite) payload() terminalEvent {
	s.Require().Len(s.producer.records, 1)
	var ev terminalEvent
	s.Require().NoError(json.Unmarshal(s.producer.records[0].Value, &ev))
	return ev
}

func (s *KafkaNotifierSuite) TestFilingPerfected() {
	ctx := requestcontext.WithTime(context.Background(), s.now)
	s.notifier.FilingPerfected(ctx, s.rec)

	record := s.producer.records[0]
	s.Equal("filing.terminal", record.Topic)
	s.Equal(s.rec.ID.String(), string(record.Key))

	ev := s.payload()
	s.Equal("filing.perfected", ev.Event)
	s.Equal(s.rec.Reference, ev.Reference)
	s.Equal(s.rec.TenantID.String(), ev.TenantID)
	s.Equal(string(models.StatusPerfected), ev.Status)
	s.Empty(ev.Reason)
	s.Equal(s.now, ev.At)
}

func (s *KafkaNotifierSuite) TestFilingFailed() {
	s.rec.Status = models.StatusFailed
	s.notifier.FilingFailed(context.Background(), s.rec, "Filing run timed out before completion")

	ev := s.payload()
	s.Equal("filing.failed", ev.Event)
	s.Equal(string(models.StatusFailed), ev.Status)
	s.Equal("Filing run timed out before completion", ev.Reason)
}

func (s *KafkaNotifierSuite) TestDeliveryFailureNeverPropagates() {
	s.producer.err = errors.New("broker unreachable")

	// Failures are logged by the promise and dropped; the call must return
	// normally.
	s.notifier.FilingPerfected(context.Background(), s.rec)
	s.Len(s.producer.records, 1)
}

func (s *KafkaNotifierSuite) TestProducesOnCancelledContext() {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s.notifier.FilingFailed(ctx, s.rec, "fault")
	s.Len(s.producer.records, 1)
}
