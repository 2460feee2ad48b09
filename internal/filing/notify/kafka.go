package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"chargegate/internal/filing/models"
	"chargegate/pkg/requestcontext"
)

// terminalEvent is the payload produced for downstream consumers
// (dashboards, compliance alerting).
type terminalEvent struct {
	Event     string    `json:"event"`
	FilingID  string    `json:"filing_id"`
	Reference string    `json:"reference"`
	TenantID  string    `json:"tenant_id"`
	Status    string    `json:"status"`
	Reason    string    `json:"reason,omitempty"`
	At        time.Time `json:"at"`
}

// producer is the slice of *kgo.Client the notifier uses; tests inject a
// fake to verify the notifier never blocks the pipeline.
type producer interface {
	Produce(ctx context.Context, r *kgo.Record, promise func(*kgo.Record, error))
}

// KafkaNotifier publishes terminal filing events to a kafka topic.
// Produce is asynchronous; delivery failures are logged and dropped.
type KafkaNotifier struct {
	client producer
	topic  string
	logger *slog.Logger
}

// NewKafkaNotifier connects to the given seed brokers.
func NewKafkaNotifier(brokers []string, topic string, logger *slog.Logger) (*KafkaNotifier, func(), error) {
	client, err := kgo.NewClient(kgo.SeedBrokers(brokers...))
	if err != nil {
		return nil, nil, err
	}
	return &KafkaNotifier{client: client, topic: topic, logger: logger}, client.Close, nil
}

// newKafkaNotifierWithProducer is the test seam.
func newKafkaNotifierWithProducer(p producer, topic string, logger *slog.Logger) *KafkaNotifier {
	return &KafkaNotifier{client: p, topic: topic, logger: logger}
}

func (n *KafkaNotifier) FilingPerfected(ctx context.Context, rec *models.FilingRecord) {
	n.produce(ctx, terminalEvent{
		Event:     "filing.perfected",
		FilingID:  rec.ID.String(),
		Reference: rec.Reference,
		TenantID:  rec.TenantID.String(),
		Status:    string(rec.Status),
		At:        requestcontext.Now(ctx),
	})
}

func (n *KafkaNotifier) FilingFailed(ctx context.Context, rec *models.FilingRecord, reason string) {
	n.produce(ctx, terminalEvent{
		Event:     "filing.failed",
		FilingID:  rec.ID.String(),
		Reference: rec.Reference,
		TenantID:  rec.TenantID.String(),
		Status:    string(rec.Status),
		Reason:    reason,
		At:        requestcontext.Now(ctx),
	})
}

func (n *KafkaNotifier) produce(ctx context.Context, ev terminalEvent) {
	payload, err := json.Marshal(ev)
	if err != nil {
		n.logger.ErrorContext(ctx, "marshal terminal event", "error", err)
		return
	}
	record := &kgo.Record{
		Topic: n.topic,
		Key:   []byte(ev.FilingID),
		Value: payload,
	}
	n.client.Produce(context.WithoutCancel(ctx), record, func(_ *kgo.Record, err error) {
		if err != nil {
			n.logger.WarnContext(ctx, "terminal event publish failed",
				"filing_id", ev.FilingID,
				"event", ev.Event,
				"error", err,
			)
		}
	})
}
