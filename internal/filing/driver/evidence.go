package driver

import (
	"context"
	"fmt"

	id "chargegate/pkg/domain"
	"chargegate/pkg/requestcontext"
)

// EvidenceCapturer is the host capability that separates the native driver
// from the fallback: capturing a visual artifact proving the receipt step
// occurred. Absence of this capability is the signal to select the fallback
// driver; the interface is how the capability set stays in one place instead
// of environment checks scattered through the pipeline.
type EvidenceCapturer interface {
	// Capture produces an evidence pointer (e.g. a stored snapshot
	// location) for the filing. Errors degrade the run to a warning,
	// never fail it.
	Capture(ctx context.Context, filingID id.FilingID) (string, error)
}

// SnapshotCapturer is the simulated host capability: it fabricates a stable
// evidence pointer the way the privileged host would store a rendered-page
// snapshot.
type SnapshotCapturer struct {
	// BasePath prefixes generated evidence pointers.
	BasePath string
}

func (c *SnapshotCapturer) Capture(ctx context.Context, filingID id.FilingID) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	base := c.BasePath
	if base == "" {
		base = "evidence://snapshots"
	}
	at := requestcontext.Now(ctx)
	return fmt.Sprintf("%s/%s-%d.png", base, filingID, at.Unix()), nil
}
