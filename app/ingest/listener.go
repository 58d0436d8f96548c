package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/segmentio/kafka-go"

	"github.com/jobfeed/jobfeed/app/health"
)

const (
	maxBatchSize = 1000
	maxRewinds   = 10
	rewindPause  = 5 * time.Second
)

var (
	messagesReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "jobfeed_ingest_messages_received_total",
		Help: "Broker messages polled, including redeliveries.",
	}, []string{"listener"})
	messagesSaved = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "jobfeed_ingest_messages_saved_total",
		Help: "Messages that produced a stored feed update.",
	}, []string{"listener"})
	batchRewinds = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "jobfeed_ingest_batch_rewinds_total",
		Help: "Uncommitted batches scheduled for redelivery after a failure.",
	}, []string{"listener"})
)

// Handler processes one batch of raw event payloads and reports how many
// produced a stored update. An error leaves the batch uncommitted.
type Handler func(ctx context.Context, payloads [][]byte) (int, error)

// Listener drives the poll, process, commit loop for one consumer group.
type Listener struct {
	name     string
	consumer Consumer
	handler  Handler
	monitor  *health.Monitor
	pause    time.Duration

	rewinds int
}

func NewListener(name string, consumer Consumer, handler Handler, monitor *health.Monitor) *Listener {
	return &Listener{name: name, consumer: consumer, handler: handler, monitor: monitor, pause: rewindPause}
}

// Run consumes until ctx is cancelled. Authorization failures and repeated
// batch failures vote the process unhealthy and stop the loop; transient
// failures rewind the uncommitted batch and retry.
func (l *Listener) Run(ctx context.Context) error {
	defer l.consumer.Close()
	slog.Info("Starting listener", "listener", l.name)

	for {
		if ctx.Err() != nil {
			slog.Info("Stopping listener", "listener", l.name)
			return nil
		}

		msgs, err := l.consumer.Poll(ctx, maxBatchSize)
		if err != nil {
			if ctx.Err() != nil {
				slog.Info("Stopping listener", "listener", l.name)
				return nil
			}
			if isAuthorizationError(err) {
				return l.fail(fmt.Errorf("poll failed: %w", err))
			}
			if rerr := l.rewind(fmt.Errorf("poll failed: %w", err)); rerr != nil {
				return rerr
			}
			continue
		}
		if len(msgs) == 0 {
			continue
		}
		messagesReceived.WithLabelValues(l.name).Add(float64(len(msgs)))

		payloads := make([][]byte, len(msgs))
		for i, msg := range msgs {
			payloads[i] = msg.Value
		}

		saved, err := l.handler(ctx, payloads)
		if err != nil {
			if rerr := l.rewind(err); rerr != nil {
				return rerr
			}
			continue
		}
		messagesSaved.WithLabelValues(l.name).Add(float64(saved))

		if err := l.consumer.Commit(ctx); err != nil {
			if isAuthorizationError(err) {
				return l.fail(fmt.Errorf("commit failed: %w", err))
			}
			if rerr := l.rewind(err); rerr != nil {
				return rerr
			}
			continue
		}
		l.rewinds = 0
	}
}

// rewind schedules the uncommitted batch for redelivery. Once the same work
// has failed maxRewinds times in a row the problem is not transient and the
// listener gives up.
func (l *Listener) rewind(cause error) error {
	l.rewinds++
	batchRewinds.WithLabelValues(l.name).Inc()
	if l.rewinds > maxRewinds {
		return l.fail(fmt.Errorf("batch failed %d times, last error: %w", l.rewinds, cause))
	}
	slog.Warn("Batch failed, rewinding for redelivery",
		"listener", l.name, "attempt", l.rewinds, "error", cause)
	l.consumer.Rewind()
	time.Sleep(l.pause)
	return nil
}

func (l *Listener) fail(err error) error {
	l.monitor.VoteUnhealthy(l.name, err)
	return err
}

func isAuthorizationError(err error) bool {
	var kerr kafka.Error
	if !errors.As(err, &kerr) {
		return false
	}
	switch kerr {
	case kafka.TopicAuthorizationFailed,
		kafka.GroupAuthorizationFailed,
		kafka.ClusterAuthorizationFailed,
		kafka.SASLAuthenticationFailed:
		return true
	}
	return false
}
