package realtime

import (
	"context"
	"encoding/json"
	"log/slog"

	"chargegate/internal/filing/models"
	platformredis "chargegate/internal/platform/redis"
	id "chargegate/pkg/domain"
)

// channelPrefix namespaces record-update channels per tenant.
const channelPrefix = "filing:updates:"

func channelFor(tenantID id.TenantID) string {
	return channelPrefix + tenantID.String()
}

// RedisFanout is an Observer that republishes record updates to a per-tenant
// redis channel, so observers in other processes see the same pushes.
// Publishing is best-effort: a failed publish is logged and dropped; remote
// observers reconcile by re-fetching on reconnect.
type RedisFanout struct {
	client *platformredis.Client
	logger *slog.Logger
}

// NewRedisFanout creates the cross-process bridge.
func NewRedisFanout(client *platformredis.Client, logger *slog.Logger) *RedisFanout {
	return &RedisFanout{client: client, logger: logger}
}

func (f *RedisFanout) Apply(rec *models.FilingRecord) {
	payload, err := json.Marshal(rec)
	if err != nil {
		f.logger.Error("marshal record update", "error", err)
		return
	}
	ctx := context.Background()
	if err := f.client.Publish(ctx, channelFor(rec.TenantID), payload).Err(); err != nil {
		f.logger.Warn("record update publish failed",
			"tenant_id", rec.TenantID.String(),
			"error", err,
		)
	}
}

// SubscribeRemote consumes record updates published by another process's
// RedisFanout and applies them to obs until ctx ends. Messages that fail to
// decode are dropped; redis pub/sub gives no replay, so a subscriber that
// was offline reconciles via an explicit re-fetch.
func SubscribeRemote(ctx context.Context, client *platformredis.Client, tenantID id.TenantID, obs Observer, logger *slog.Logger) func() {
	sub := client.Subscribe(ctx, channelFor(tenantID))

	go func() {
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var rec models.FilingRecord
				if err := json.Unmarshal([]byte(msg.Payload), &rec); err != nil {
					logger.Warn("drop undecodable record update", "error", err)
					continue
				}
				obs.Apply(&rec)
			}
		}
	}()

	return func() { sub.Close() }
}
