package driver

import (
	"context"
	"time"
)

// PortalSession is the pluggable "act on the external portal" surface.
// The production implementation is a scripted simulator: there is no real
// registry portal automation today, only the deterministic state machine
// around it. Tests inject instant or faulting sessions.
type PortalSession interface {
	Authenticate(ctx context.Context) error
	MapCollateral(ctx context.Context) error
	SubmitCharge(ctx context.Context) error
	AwaitReceipt(ctx context.Context) error
}

// SimulatedSession performs each portal action as a bounded, cancellable
// delay, approximating the latency of driving the registry portal.
type SimulatedSession struct {
	StepDelay time.Duration
}

func (s *SimulatedSession) Authenticate(ctx context.Context) error  { return s.wait(ctx) }
func (s *SimulatedSession) MapCollateral(ctx context.Context) error { return s.wait(ctx) }
func (s *SimulatedSession) SubmitCharge(ctx context.Context) error  { return s.wait(ctx) }
func (s *SimulatedSession) AwaitReceipt(ctx context.Context) error  { return s.wait(ctx) }

func (s *SimulatedSession) wait(ctx context.Context) error {
	if s.StepDelay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(s.StepDelay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
