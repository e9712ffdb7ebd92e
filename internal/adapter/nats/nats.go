// Package nats implements the message queue port using NATS JetStream.
package nats

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/Strob0t/TabForge/internal/config"
	"github.com/Strob0t/TabForge/internal/logger"
	"github.com/Strob0t/TabForge/internal/port/messagequeue"
)

const (
	streamName      = "TABFORGE"
	headerRequestID = "X-Request-ID"
	dlqSuffix       = ".dlq"
)

// Queue implements messagequeue.Queue using NATS JetStream.
type Queue struct {
	nc         *nats.Conn
	js         jetstream.JetStream
	maxDeliver int
	ackWait    time.Duration
}

var _ messagequeue.Queue = (*Queue)(nil)

// Connect establishes a connection to NATS and ensures the JetStream stream exists.
func Connect(ctx context.Context, cfg config.NATS) (*Queue, error) {
	nc, err := nats.Connect(cfg.URL,
		nats.Name("tabforge"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				slog.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			slog.Info("nats reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream init: %w", err)
	}

	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     streamName,
		Subjects: []string{"jobs.>"},
		MaxAge:   7 * 24 * time.Hour,
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream stream create: %w", err)
	}

	maxDeliver := cfg.MaxDeliver
	if maxDeliver < 1 {
		maxDeliver = 5
	}
	ackWait := cfg.AckWait
	if ackWait <= 0 {
		ackWait = 5 * time.Minute
	}

	slog.Info("nats connected", "url", cfg.URL, "stream", streamName)
	return &Queue{nc: nc, js: js, maxDeliver: maxDeliver, ackWait: ackWait}, nil
}

// Publish sends a message to the given subject, carrying the request ID
// from ctx as a header.
func (q *Queue) Publish(ctx context.Context, subject string, data []byte) error {
	msg := &nats.Msg{Subject: subject, Data: data, Header: nats.Header{}}
	if reqID := logger.RequestID(ctx); reqID != "" {
		msg.Header.Set(headerRequestID, reqID)
	}
	if _, err := q.js.PublishMsg(ctx, msg); err != nil {
		return fmt.Errorf("nats publish %s: %w", subject, err)
	}
	return nil
}

// Subscribe creates an ephemeral consumer that sees new messages on subject.
// Every subscriber receives every message.
func (q *Queue) Subscribe(ctx context.Context, subject string, handler messagequeue.Handler) (func(), error) {
	consumer, err := q.js.CreateOrUpdateConsumer(ctx, streamName, jetstream.ConsumerConfig{
		FilterSubject:     subject,
		AckPolicy:         jetstream.AckExplicitPolicy,
		DeliverPolicy:     jetstream.DeliverNewPolicy,
		InactiveThreshold: time.Minute,
	})
	if err != nil {
		return nil, fmt.Errorf("nats consumer create: %w", err)
	}
	return q.consume(consumer, handler, 1)
}

// QueueSubscribe binds to a durable consumer shared by every subscriber
// using the same name, so each message is handled once. Each subscriber
// runs its handler on its own goroutine and pulls one message at a time,
// so N subscribers on one durable handle up to N messages concurrently.
func (q *Queue) QueueSubscribe(ctx context.Context, subject, durable string, handler messagequeue.Handler) (func(), error) {
	consumer, err := q.js.CreateOrUpdateConsumer(ctx, streamName, jetstream.ConsumerConfig{
		Durable:       durable,
		FilterSubject: subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       q.ackWait,
		MaxDeliver:    q.maxDeliver,
	})
	if err != nil {
		return nil, fmt.Errorf("nats durable consumer %s: %w", durable, err)
	}
	return q.consume(consumer, handler, q.maxDeliver, jetstream.PullMaxMessages(1))
}

func (q *Queue) consume(consumer jetstream.Consumer, handler messagequeue.Handler, maxDeliver int, opts ...jetstream.PullConsumeOpt) (func(), error) {
	cons, err := consumer.Consume(func(msg jetstream.Msg) {
		q.handle(msg, handler, maxDeliver)
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats consume: %w", err)
	}
	return cons.Stop, nil
}

func (q *Queue) handle(msg jetstream.Msg, handler messagequeue.Handler, maxDeliver int) {
	ctx := context.Background()
	if hdrs := msg.Headers(); hdrs != nil {
		if reqID := hdrs.Get(headerRequestID); reqID != "" {
			ctx = logger.WithRequestID(ctx, reqID)
		}
	}
	subject := msg.Subject()

	if err := messagequeue.Validate(subject, msg.Data()); err != nil {
		slog.ErrorContext(ctx, "invalid message", "subject", subject, "error", err)
		q.deadLetter(ctx, msg)
		return
	}

	err := handler(ctx, subject, msg.Data())
	if err == nil {
		if ackErr := msg.Ack(); ackErr != nil {
			slog.ErrorContext(ctx, "nats ack failed", "error", ackErr)
		}
		return
	}

	if errors.Is(err, messagequeue.ErrPermanent) || exhausted(msg, maxDeliver) {
		slog.ErrorContext(ctx, "message dropped", "subject", subject, "error", err)
		q.deadLetter(ctx, msg)
		return
	}

	delay := redeliveryDelay(msg)
	slog.WarnContext(ctx, "message handler failed, will redeliver", "subject", subject, "delay", delay, "error", err)
	if nakErr := msg.NakWithDelay(delay); nakErr != nil {
		slog.ErrorContext(ctx, "nats nak failed", "error", nakErr)
	}
}

// deadLetter copies msg to <subject>.dlq and terminates the original.
func (q *Queue) deadLetter(ctx context.Context, msg jetstream.Msg) {
	subject := msg.Subject()
	if !strings.HasSuffix(subject, dlqSuffix) {
		if err := q.Publish(ctx, subject+dlqSuffix, msg.Data()); err != nil {
			slog.ErrorContext(ctx, "dead letter publish failed", "subject", subject, "error", err)
		}
	}
	if err := msg.Term(); err != nil {
		slog.ErrorContext(ctx, "nats term failed", "error", err)
	}
}

func exhausted(msg jetstream.Msg, maxDeliver int) bool {
	meta, err := msg.Metadata()
	if err != nil {
		return false
	}
	return meta.NumDelivered >= uint64(maxDeliver) //nolint:gosec // maxDeliver is validated >= 1
}

// redeliveryDelay doubles from 2s per delivery, capped at one minute.
func redeliveryDelay(msg jetstream.Msg) time.Duration {
	n := uint64(1)
	if meta, err := msg.Metadata(); err == nil && meta.NumDelivered > 0 {
		n = meta.NumDelivered
	}
	d := 2 * time.Second
	for i := uint64(1); i < n && d < time.Minute; i++ {
		d *= 2
	}
	return min(d, time.Minute)
}

// KeyValue returns (creating if needed) the JetStream KV bucket with the given TTL.
func (q *Queue) KeyValue(ctx context.Context, bucket string, ttl time.Duration) (jetstream.KeyValue, error) {
	kv, err := q.js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket: bucket,
		TTL:    ttl,
	})
	if err != nil {
		return nil, fmt.Errorf("nats kv %s: %w", bucket, err)
	}
	return kv, nil
}

// Drain gracefully drains all subscriptions and closes the connection.
func (q *Queue) Drain() error {
	if err := q.nc.Drain(); err != nil {
		return fmt.Errorf("nats drain: %w", err)
	}
	return nil
}

// Close shuts down the NATS connection.
func (q *Queue) Close() error {
	q.nc.Close()
	return nil
}

// IsConnected reports whether the underlying connection is up.
func (q *Queue) IsConnected() bool {
	return q.nc.IsConnected()
}
