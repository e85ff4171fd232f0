package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"

	"annotator/internal/config"
)

// NATSQueue keeps job descriptors in a JetStream stream so queued jobs
// survive a restart of the API process.
type NATSQueue struct {
	nc      *nats.Conn
	js      jetstream.JetStream
	stream  string
	subject string
	durable string
	logger  *zap.Logger
}

func NewNATSQueue(ctx context.Context, cfg config.QueueConfig, logger *zap.Logger) (*NATSQueue, error) {
	nc, err := nats.Connect(cfg.NATSURL,
		nats.Name("annotator-ingest"),
		nats.PingInterval(5*time.Second),
		nats.MaxPingsOutstanding(3),
		nats.ReconnectWait(500*time.Millisecond),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect %s: %w", cfg.NATSURL, err)
	}
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("nats jetstream init: %w", err)
	}
	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      cfg.Stream,
		Subjects:  []string{cfg.Subject},
		Retention: jetstream.WorkQueuePolicy,
		Storage:   jetstream.FileStorage,
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create stream %s: %w", cfg.Stream, err)
	}
	return &NATSQueue{
		nc:      nc,
		js:      js,
		stream:  cfg.Stream,
		subject: cfg.Subject,
		durable: cfg.Durable,
		logger:  logger,
	}, nil
}

func (q *NATSQueue) Publish(ctx context.Context, msg JobMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	m := &nats.Msg{Subject: q.subject, Data: data, Header: make(nats.Header)}
	m.Header.Set("Nats-Msg-Id", msg.JobID)
	_, err = q.js.PublishMsg(ctx, m)
	return err
}

// Consume acks each message once handle returns. The job record, not the
// stream, is the source of truth for success or failure.
func (q *NATSQueue) Consume(ctx context.Context, handle func(context.Context, JobMessage)) error {
	consumer, err := q.js.CreateOrUpdateConsumer(ctx, q.stream, jetstream.ConsumerConfig{
		Durable:       q.durable,
		FilterSubject: q.subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       30 * time.Minute,
		MaxDeliver:    1,
	})
	if err != nil {
		return fmt.Errorf("create consumer %s: %w", q.durable, err)
	}
	iter, err := consumer.Messages()
	if err != nil {
		return fmt.Errorf("consume %s: %w", q.subject, err)
	}
	go func() {
		<-ctx.Done()
		iter.Stop()
	}()

	for {
		msg, err := iter.Next()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("next message: %w", err)
		}
		var job JobMessage
		if err := json.Unmarshal(msg.Data(), &job); err != nil {
			if q.logger != nil {
				q.logger.Warn("drop malformed job message", zap.Error(err))
			}
			_ = msg.Term()
			continue
		}
		handle(ctx, job)
		if err := msg.Ack(); err != nil && q.logger != nil {
			q.logger.Warn("job ack failed", zap.String("job_id", job.JobID), zap.Error(err))
		}
	}
}

func (q *NATSQueue) Close() error {
	q.nc.Close()
	return nil
}
