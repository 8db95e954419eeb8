package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

type countingSender struct {
	mu       sync.Mutex
	calls    int
	failures int // fail the first N calls
	block    chan struct{}
}

func (s *countingSender) SendOTPEmail(ctx context.Context, to, code string) error {
	if s.block != nil {
		<-s.block
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.calls <= s.failures {
		return errors.New("provider down")
	}
	return nil
}

func (s *countingSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func TestDispatcherDeliversAsync(t *testing.T) {
	sender := &countingSender{}
	d := NewDispatcher(Config{BufferSize: 8}, sender, nil, zap.NewNop())

	if err := d.DeliverEmail(context.Background(), "u@example.com", "123456"); err != nil {
		t.Fatalf("DeliverEmail failed: %v", err)
	}
	d.Close()

	if sender.count() != 1 {
		t.Fatalf("expected one delivery, got %d", sender.count())
	}
}

func TestDispatcherRetriesThenGivesUp(t *testing.T) {
	sender := &countingSender{failures: 10}
	d := NewDispatcher(Config{BufferSize: 8, MaxRetries: 2, Backoff: time.Millisecond}, sender, nil, zap.NewNop())

	if err := d.DeliverEmail(context.Background(), "u@example.com", "123456"); err != nil {
		t.Fatalf("DeliverEmail failed: %v", err)
	}
	d.Close()

	// Initial attempt plus two retries.
	if sender.count() != 3 {
		t.Fatalf("expected 3 attempts, got %d", sender.count())
	}
}

func TestDispatcherRecoversWithinRetryBudget(t *testing.T) {
	sender := &countingSender{failures: 1}
	d := NewDispatcher(Config{BufferSize: 8, MaxRetries: 2, Backoff: time.Millisecond}, sender, nil, zap.NewNop())

	if err := d.DeliverEmail(context.Background(), "u@example.com", "123456"); err != nil {
		t.Fatalf("DeliverEmail failed: %v", err)
	}
	d.Close()

	if sender.count() != 2 {
		t.Fatalf("expected recovery on second attempt, got %d calls", sender.count())
	}
}

func TestDispatcherDropsWhenFull(t *testing.T) {
	block := make(chan struct{})
	sender := &countingSender{block: block}
	d := NewDispatcher(Config{BufferSize: 1}, sender, nil, zap.NewNop())

	// First job occupies the worker, second fills the buffer, the rest
	// must be dropped without blocking.
	for i := 0; i < 10; i++ {
		if err := d.DeliverEmail(context.Background(), "u@example.com", "123456"); err != nil {
			t.Fatalf("DeliverEmail failed: %v", err)
		}
	}

	if d.Dropped() == 0 {
		t.Fatal("expected dropped deliveries on a full buffer")
	}

	close(block)
	d.Close()
}

func TestDispatcherEnqueueAfterCloseIsNoOp(t *testing.T) {
	sender := &countingSender{}
	d := NewDispatcher(Config{BufferSize: 8}, sender, nil, zap.NewNop())
	d.Close()

	if err := d.DeliverEmail(context.Background(), "u@example.com", "123456"); err != nil {
		t.Fatalf("DeliverEmail failed: %v", err)
	}
	if sender.count() != 0 {
		t.Fatal("delivery after close must be discarded")
	}
}

func TestNilSendersDefaultToNoOps(t *testing.T) {
	d := NewDispatcher(Config{}, nil, nil, zap.NewNop())
	defer d.Close()

	if err := d.DeliverEmail(context.Background(), "u@example.com", "123456"); err != nil {
		t.Fatalf("DeliverEmail failed: %v", err)
	}
	if err := d.DeliverSMS(context.Background(), "+15550001111", "123456"); err != nil {
		t.Fatalf("DeliverSMS failed: %v", err)
	}
}
