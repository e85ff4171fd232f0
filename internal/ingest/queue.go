package ingest

import (
	"context"
	"errors"
	"sync"
)

var ErrQueueClosed = errors.New("ingest queue closed")

// JobMessage is the descriptor handed from admission to the supervisor.
type JobMessage struct {
	JobID      string   `json:"job_id"`
	Collection string   `json:"collection"`
	Files      []string `json:"files"`
}

// Queue carries job descriptors from request handlers to the supervisor.
type Queue interface {
	Publish(ctx context.Context, msg JobMessage) error
	// Consume blocks, calling handle for each message until ctx is done.
	Consume(ctx context.Context, handle func(context.Context, JobMessage)) error
	Close() error
}

// MemoryQueue is an in-process buffered queue. Jobs still buffered when the
// process exits are lost; the stale sweep marks their records abandoned.
type MemoryQueue struct {
	ch     chan JobMessage
	mu     sync.RWMutex
	closed bool
}

func NewMemoryQueue(buffer int) *MemoryQueue {
	if buffer <= 0 {
		buffer = 64
	}
	return &MemoryQueue{ch: make(chan JobMessage, buffer)}
}

func (q *MemoryQueue) Publish(ctx context.Context, msg JobMessage) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}
	select {
	case q.ch <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *MemoryQueue) Consume(ctx context.Context, handle func(context.Context, JobMessage)) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-q.ch:
			if !ok {
				return ErrQueueClosed
			}
			handle(ctx, msg)
		}
	}
}

func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.ch)
	}
	return nil
}
