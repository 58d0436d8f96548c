package ingest

import (
	"context"
	"errors"
	"testing"

	"github.com/segmentio/kafka-go"

	"github.com/jobfeed/jobfeed/app/health"
)

// fakeConsumer serves scripted batches and mirrors the replay semantics of
// the real consumer. When the script runs out it cancels the run context so
// the listener stops cleanly, the way a real shutdown does.
type fakeConsumer struct {
	batches [][]Message
	pending []Message
	replay  []Message
	stop    context.CancelFunc

	committed [][]Message
	pollErr   error
	commitErr error
	closed    bool
}

func (c *fakeConsumer) Poll(ctx context.Context, max int) ([]Message, error) {
	if c.pollErr != nil {
		err := c.pollErr
		c.pollErr = nil
		return nil, err
	}
	if len(c.replay) > 0 {
		batch := c.replay
		c.replay = nil
		c.pending = append(c.pending, batch...)
		return batch, nil
	}
	if len(c.batches) == 0 {
		if c.stop != nil {
			c.stop()
		}
		return nil, context.Canceled
	}
	batch := c.batches[0]
	c.batches = c.batches[1:]
	c.pending = append(c.pending, batch...)
	return batch, nil
}

func (c *fakeConsumer) Commit(ctx context.Context) error {
	if c.commitErr != nil {
		err := c.commitErr
		c.commitErr = nil
		return err
	}
	if len(c.pending) > 0 {
		c.committed = append(c.committed, c.pending)
		c.pending = nil
	}
	return nil
}

func (c *fakeConsumer) Rewind() {
	c.replay = append(c.pending, c.replay...)
	c.pending = nil
}

func (c *fakeConsumer) Close() error {
	c.closed = true
	return nil
}

func msgs(values ...string) []Message {
	out := make([]Message, len(values))
	for i, v := range values {
		out[i] = Message{Value: []byte(v)}
	}
	return out
}

func collectingHandler(got *[][]byte) Handler {
	return func(_ context.Context, payloads [][]byte) (int, error) {
		*got = append(*got, payloads...)
		return len(payloads), nil
	}
}

func runToExhaustion(t *testing.T, l *Listener, consumer *fakeConsumer) error {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	consumer.stop = cancel
	return l.Run(ctx)
}

func TestListenerProcessesAndCommits(t *testing.T) {
	consumer := &fakeConsumer{batches: [][]Message{msgs("a", "b"), msgs("c")}}
	monitor := health.NewMonitor()

	var got [][]byte
	l := NewListener("ads", consumer, collectingHandler(&got), monitor)
	l.pause = 0

	if err := runToExhaustion(t, l, consumer); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 payloads processed, got %d", len(got))
	}
	if len(consumer.committed) != 2 {
		t.Errorf("expected 2 commits, got %d", len(consumer.committed))
	}
	if !consumer.closed {
		t.Error("expected consumer to be closed")
	}
	if !monitor.Healthy() {
		t.Error("expected clean run to leave health intact")
	}
}

func TestListenerStopsOnContextCancel(t *testing.T) {
	consumer := &fakeConsumer{batches: [][]Message{msgs("a")}}
	monitor := health.NewMonitor()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	l := NewListener("ads", consumer, collectingHandler(new([][]byte)), monitor)
	if err := l.Run(ctx); err != nil {
		t.Errorf("expected clean stop, got %v", err)
	}
	if !monitor.Healthy() {
		t.Error("expected shutdown to leave health intact")
	}
}

func TestListenerRewindsFailedBatch(t *testing.T) {
	consumer := &fakeConsumer{batches: [][]Message{msgs("a", "b")}}
	monitor := health.NewMonitor()

	var got [][]byte
	failures := 1
	handler := func(ctx context.Context, payloads [][]byte) (int, error) {
		if failures > 0 {
			failures--
			return 0, errors.New("store unavailable")
		}
		return collectingHandler(&got)(ctx, payloads)
	}

	l := NewListener("ads", consumer, handler, monitor)
	l.pause = 0
	if err := runToExhaustion(t, l, consumer); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(got) != 2 {
		t.Fatalf("expected failed batch redelivered, got %d payloads", len(got))
	}
	if len(consumer.committed) != 1 {
		t.Errorf("expected one commit after retry, got %d", len(consumer.committed))
	}
	if !monitor.Healthy() {
		t.Error("single transient failure should not vote unhealthy")
	}
}

func TestListenerGivesUpAfterRepeatedFailures(t *testing.T) {
	consumer := &fakeConsumer{batches: [][]Message{msgs("poison")}}
	monitor := health.NewMonitor()

	handler := func(context.Context, [][]byte) (int, error) {
		return 0, errors.New("store unavailable")
	}

	l := NewListener("ads", consumer, handler, monitor)
	l.pause = 0
	err := l.Run(context.Background())
	if err == nil {
		t.Fatal("expected terminal error")
	}
	if monitor.Healthy() {
		t.Error("expected unhealthy vote after exhausting retries")
	}
	if len(consumer.committed) != 0 {
		t.Errorf("expected nothing committed, got %d", len(consumer.committed))
	}
}

func TestListenerTreatsAuthorizationAsTerminal(t *testing.T) {
	consumer := &fakeConsumer{pollErr: kafka.TopicAuthorizationFailed}
	monitor := health.NewMonitor()

	l := NewListener("ads", consumer, collectingHandler(new([][]byte)), monitor)
	l.pause = 0
	if err := l.Run(context.Background()); err == nil {
		t.Fatal("expected terminal error")
	}
	if monitor.Healthy() {
		t.Error("expected unhealthy vote on authorization failure")
	}
}

func TestListenerCommitFailureRewinds(t *testing.T) {
	consumer := &fakeConsumer{
		batches:   [][]Message{msgs("a")},
		commitErr: errors.New("coordinator moved"),
	}
	monitor := health.NewMonitor()

	var got [][]byte
	l := NewListener("ads", consumer, collectingHandler(&got), monitor)
	l.pause = 0
	if err := runToExhaustion(t, l, consumer); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(got) != 2 {
		t.Errorf("expected batch processed twice, got %d payloads", len(got))
	}
	if len(consumer.committed) != 1 {
		t.Errorf("expected eventual commit, got %d", len(consumer.committed))
	}
}
