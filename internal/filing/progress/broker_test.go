package progress

import (
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"chargegate/internal/filing/models"
)

type BrokerSuite struct {
	suite.Suite
	broker *Broker
}

func (s *BrokerSuite) SetupTest() {
	s.broker = NewBroker()
}

func TestBrokerSuite(t *testing.T) {
	suite.Run(t, new(BrokerSuite))
}

func event(stage string, percent int) models.ProgressEvent {
	return models.ProgressEvent{
		At:              time.Now(),
		Stage:           stage,
		Message:         stage,
		Severity:        models.SeverityInfo,
		PercentComplete: percent,
	}
}

func (s *BrokerSuite) TestDeliveryOrder() {
	events, cancel := s.broker.Subscribe()
	defer cancel()

	s.broker.Publish(event("init", 5))
	s.broker.Publish(event("authenticating", 15))
	s.broker.Publish(event("mapping", 40))

	s.Equal("init", (<-events).Stage)
	s.Equal("authenticating", (<-events).Stage)
	s.Equal("mapping", (<-events).Stage)
}

func (s *BrokerSuite) TestEverySubscriberSeesTheSameSequence() {
	first, cancelFirst := s.broker.Subscribe()
	defer cancelFirst()
	second, cancelSecond := s.broker.Subscribe()
	defer cancelSecond()

	s.broker.Publish(event("init", 5))
	s.broker.Publish(event("completed", 100))

	for _, events := range []<-chan models.ProgressEvent{first, second} {
		s.Equal("init", (<-events).Stage)
		s.Equal("completed", (<-events).Stage)
	}
}

func (s *BrokerSuite) TestLateSubscriberGetsNoHistory() {
	early, cancelEarly := s.broker.Subscribe()
	defer cancelEarly()

	s.broker.Publish(event("init", 5))
	s.broker.Publish(event("authenticating", 15))

	late, cancelLate := s.broker.Subscribe()
	defer cancelLate()

	s.broker.Publish(event("mapping", 40))

	// Early subscriber has the full history, late only the live event.
	s.Equal("init", (<-early).Stage)
	s.Equal("mapping", (<-late).Stage)
	s.Empty(late)
}

func (s *BrokerSuite) TestClose() {
	s.Run("closure drains and ends every subscription", func() {
		events, cancel := s.broker.Subscribe()
		defer cancel()

		s.broker.Publish(event("completed", 100))
		s.broker.Close()

		ev, open := <-events
		s.True(open)
		s.Equal("completed", ev.Stage)

		_, open = <-events
		s.False(open)
	})

	s.Run("subscribing after close yields a closed channel", func() {
		events, cancel := s.broker.Subscribe()
		defer cancel()

		_, open := <-events
		s.False(open)
	})

	s.Run("publish and close after close are no-ops", func() {
		s.broker.Publish(event("init", 5))
		s.broker.Close()
	})
}

func (s *BrokerSuite) TestCancelReleasesOnlyThatSubscriber() {
	first, cancelFirst := s.broker.Subscribe()
	second, cancelSecond := s.broker.Subscribe()
	defer cancelSecond()

	cancelFirst()
	cancelFirst() // idempotent

	s.broker.Publish(event("init", 5))

	_, open := <-first
	s.False(open)
	s.Equal("init", (<-second).Stage)
}

func (s *BrokerSuite) TestPublishNeverBlocksOnFullSubscribers() {
	events, cancel := s.broker.Subscribe()
	defer cancel()

	// Overflow the subscriber buffer; overflowing publishes are dropped
	// rather than stalling the run.
	for i := 0; i < subscriberBuffer+10; i++ {
		s.broker.Publish(event("mapping", 40))
	}

	s.Len(events, subscriberBuffer)
}
