package ingest

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
)

const pollWait = 10 * time.Second

// KafkaConsumer adapts a consumer-group reader to the batch Poll/Commit/Rewind
// contract. The group protocol cannot seek backwards, so Rewind is implemented
// client-side: uncommitted messages are kept in memory and served again before
// anything new is fetched.
type KafkaConsumer struct {
	reader  *kafka.Reader
	pending []kafka.Message
	replay  []kafka.Message
}

type KafkaOpts struct {
	Brokers  string
	Topic    string
	GroupID  string
	CAPath   string
	CertPath string
	KeyPath  string
}

func NewKafkaConsumer(opts KafkaOpts) (*KafkaConsumer, error) {
	dialer := &kafka.Dialer{
		Timeout:   10 * time.Second,
		DualStack: true,
	}
	if opts.CAPath != "" {
		tlsCfg, err := newTLSConfig(opts.CAPath, opts.CertPath, opts.KeyPath)
		if err != nil {
			return nil, err
		}
		dialer.TLS = tlsCfg
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        strings.Split(opts.Brokers, ","),
		Topic:          opts.Topic,
		GroupID:        opts.GroupID,
		Dialer:         dialer,
		MinBytes:       1,
		MaxBytes:       10e6,
		MaxWait:        pollWait,
		StartOffset:    kafka.FirstOffset,
		CommitInterval: 0, // synchronous commits only
	})
	return &KafkaConsumer{reader: reader}, nil
}

func newTLSConfig(caPath, certPath, keyPath string) (*tls.Config, error) {
	pem, err := os.ReadFile(caPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read broker CA: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("no certificates found in %s", caPath)
	}

	tlsCfg := &tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12}
	if certPath != "" {
		cert, err := tls.LoadX509KeyPair(certPath, keyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load broker client certificate: %w", err)
		}
		tlsCfg.Certificates = []tls.Certificate{cert}
	}
	return tlsCfg, nil
}

// Poll returns up to max messages, serving the replay queue before fetching
// from the broker. It blocks for at most pollWait once the first fetch is in
// flight and returns whatever arrived.
func (c *KafkaConsumer) Poll(ctx context.Context, max int) ([]Message, error) {
	var batch []kafka.Message

	for len(c.replay) > 0 && len(batch) < max {
		batch = append(batch, c.replay[0])
		c.replay = c.replay[1:]
	}

	if len(batch) == 0 {
		deadline, cancel := context.WithTimeout(ctx, pollWait)
		defer cancel()
		for len(batch) < max {
			msg, err := c.reader.FetchMessage(deadline)
			if err != nil {
				if errors.Is(err, context.DeadlineExceeded) && deadline.Err() != nil && ctx.Err() == nil {
					break
				}
				return nil, err
			}
			batch = append(batch, msg)
		}
	}

	c.pending = append(c.pending, batch...)

	out := make([]Message, len(batch))
	for i, msg := range batch {
		out[i] = Message{Partition: msg.Partition, Offset: msg.Offset, Key: msg.Key, Value: msg.Value}
	}
	return out, nil
}

func (c *KafkaConsumer) Commit(ctx context.Context) error {
	if len(c.pending) == 0 {
		return nil
	}
	if err := c.reader.CommitMessages(ctx, c.pending...); err != nil {
		return err
	}
	c.pending = nil
	return nil
}

// Rewind moves every uncommitted message back onto the replay queue, oldest
// first, so the next Poll delivers them again.
func (c *KafkaConsumer) Rewind() {
	if len(c.pending) == 0 {
		return
	}
	c.replay = append(c.pending, c.replay...)
	c.pending = nil
}

func (c *KafkaConsumer) Close() error {
	return c.reader.Close()
}
