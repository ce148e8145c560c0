package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
)

type MemoryQueueSuite struct {
	suite.Suite
	q   *Memory
	ctx context.Context
}

func (s *MemoryQueueSuite) SetupTest() {
	s.q = NewMemory()
	s.ctx = context.Background()
}

func (s *MemoryQueueSuite) TearDownTest() {
	s.NoError(s.q.Close())
}

func (s *MemoryQueueSuite) dequeue() Delivery {
	ctx, cancel := context.WithTimeout(s.ctx, time.Second)
	defer cancel()
	d, err := s.q.Dequeue(ctx)
	s.Require().NoError(err)
	return d
}

func (s *MemoryQueueSuite) TestFIFO() {
	for _, id := range []string{"a", "b", "c"} {
		s.Require().NoError(s.q.Enqueue(s.ctx, NewWorkItem(id)))
	}

	for _, id := range []string{"a", "b", "c"} {
		d := s.dequeue()
		s.Equal(id, d.Item.OrderID)
		s.NoError(s.q.Ack(s.ctx, d))
	}
	s.Equal(0, s.q.Len())
	s.Equal(0, s.q.InFlight())
}

func (s *MemoryQueueSuite) TestAckTwiceFails() {
	s.Require().NoError(s.q.Enqueue(s.ctx, NewWorkItem("a")))
	d := s.dequeue()

	s.NoError(s.q.Ack(s.ctx, d))
	s.ErrorIs(s.q.Ack(s.ctx, d), ErrUnknownDelivery)
	s.ErrorIs(s.q.Ack(s.ctx, Delivery{}), ErrUnknownDelivery)
}

func (s *MemoryQueueSuite) TestRequeueIncrementsAttempt() {
	s.Require().NoError(s.q.Enqueue(s.ctx, NewWorkItem("a")))
	d := s.dequeue()
	s.Equal(0, d.Item.Attempt)

	s.Require().NoError(s.q.Requeue(s.ctx, d, 0))
	d = s.dequeue()
	s.Equal("a", d.Item.OrderID)
	s.Equal(1, d.Item.Attempt)
}

func (s *MemoryQueueSuite) TestRequeueWithDelay() {
	s.Require().NoError(s.q.Enqueue(s.ctx, NewWorkItem("a")))
	d := s.dequeue()

	start := time.Now()
	s.Require().NoError(s.q.Requeue(s.ctx, d, 50*time.Millisecond))
	s.Equal(1, s.q.Len(), "a delayed item still counts as queued")

	d = s.dequeue()
	s.GreaterOrEqual(time.Since(start), 50*time.Millisecond)
	s.Equal(1, d.Item.Attempt)
}

func (s *MemoryQueueSuite) TestPostponeKeepsAttempt() {
	s.Require().NoError(s.q.Enqueue(s.ctx, NewWorkItem("a")))
	d := s.dequeue()
	s.Require().NoError(s.q.Requeue(s.ctx, d, 0))
	d = s.dequeue()

	s.Require().NoError(s.q.Postpone(s.ctx, d, 20*time.Millisecond))
	s.Equal(0, s.q.InFlight())
	s.ErrorIs(s.q.Postpone(s.ctx, d, 0), ErrUnknownDelivery)

	d = s.dequeue()
	s.Equal(1, d.Item.Attempt)
}

func (s *MemoryQueueSuite) TestRedeliverUnacked() {
	s.Require().NoError(s.q.Enqueue(s.ctx, NewWorkItem("a")))
	first := s.dequeue()
	s.Equal(1, s.q.InFlight())

	s.Equal(1, s.q.Redeliver())
	again := s.dequeue()
	s.Equal(first.Item, again.Item)
	s.ErrorIs(s.q.Ack(s.ctx, first), ErrUnknownDelivery)
	s.NoError(s.q.Ack(s.ctx, again))
}

func (s *MemoryQueueSuite) TestEachItemGoesToOneConsumer() {
	const n = 50
	for i := 0; i < n; i++ {
		s.Require().NoError(s.q.Enqueue(s.ctx, NewWorkItem(string(rune('A'+i)))))
	}

	ctx, cancel := context.WithTimeout(s.ctx, 2*time.Second)
	defer cancel()

	var (
		mu   sync.Mutex
		seen = map[string]int{}
		wg   sync.WaitGroup
	)
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				mu.Lock()
				total := 0
				for _, c := range seen {
					total += c
				}
				mu.Unlock()
				if total >= n {
					return
				}

				d, err := s.q.Dequeue(ctx)
				if err != nil {
					return
				}
				mu.Lock()
				seen[d.Item.OrderID]++
				mu.Unlock()
				_ = s.q.Ack(ctx, d)
			}
		}()
	}

	s.Eventually(func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == n
	}, time.Second, 5*time.Millisecond)
	cancel()
	wg.Wait()

	for id, c := range seen {
		s.Equal(1, c, "item %s delivered more than once", id)
	}
}

func (s *MemoryQueueSuite) TestDequeueHonoursContext() {
	ctx, cancel := context.WithTimeout(s.ctx, 20*time.Millisecond)
	defer cancel()

	_, err := s.q.Dequeue(ctx)
	s.ErrorIs(err, context.DeadlineExceeded)
}

func (s *MemoryQueueSuite) TestClosed() {
	s.Require().NoError(s.q.Close())

	s.ErrorIs(s.q.Enqueue(s.ctx, NewWorkItem("a")), ErrUnavailable)
	_, err := s.q.Dequeue(s.ctx)
	s.ErrorIs(err, ErrClosed)
}

func TestMemoryQueueSuite(t *testing.T) {
	suite.Run(t, new(MemoryQueueSuite))
}
