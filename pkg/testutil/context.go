// Package testutil provides helpers shared by unit and integration tests.
package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	id "chargegate/pkg/domain"
	"chargegate/pkg/requestcontext"
)

// Context returns a context cancelled when the test finishes.
func Context(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return ctx
}

// TenantContext returns a test context scoped to a fresh tenant.
func TenantContext(t *testing.T) (context.Context, id.TenantID) {
	t.Helper()
	tenantID := id.TenantID(uuid.New())
	return requestcontext.WithTenantID(Context(t), tenantID), tenantID
}

// FrozenContext returns a test context with a fixed request time so
// timestamp assertions are deterministic.
func FrozenContext(t *testing.T, at time.Time) context.Context {
	t.Helper()
	return requestcontext.WithTime(Context(t), at)
}
