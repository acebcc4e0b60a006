// Package stream carries ordered message-fragment batches from a single
// producer to a single consumer. Stages emit batches synchronously
// through a callback; only the outermost streaming boundary spawns a
// goroutine, so everything inside a run stays cooperative and ordered.
package stream

import (
	"context"
	"sync"

	"github.com/fyrsmithlabs/agentd/internal/transcript"
)

// EmitFunc delivers one batch downstream. It blocks until the consumer
// accepts the batch and returns the context error once the consumer is
// gone, which producers should propagate.
type EmitFunc func(batch []transcript.Message) error

// Producer generates ordered batches. It must return after emit fails.
type Producer func(ctx context.Context, emit EmitFunc) error

// Stream is the consumer handle. Receive batches from C until it closes,
// then check Err for how the producer finished.
type Stream struct {
	ch     chan []transcript.Message
	cancel context.CancelFunc

	mu  sync.Mutex
	err error

	closeOnce sync.Once
}

// Run starts p in its own goroutine and returns the consumer handle.
// The producer observes cancellation of ctx and of Close through the
// context handed to it.
func Run(ctx context.Context, p Producer) *Stream {
	ctx, cancel := context.WithCancel(ctx)
	s := &Stream{
		ch:     make(chan []transcript.Message),
		cancel: cancel,
	}

	go func() {
		err := p(ctx, func(batch []transcript.Message) error {
			if len(batch) == 0 {
				return nil
			}
			select {
			case s.ch <- batch:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		cancel()
		close(s.ch)
	}()

	return s
}

// C returns the batch channel. It closes when the producer finishes.
func (s *Stream) C() <-chan []transcript.Message {
	return s.ch
}

// Err reports how the producer finished. Valid after C closes.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close abandons the stream and unblocks the producer. Safe to call more
// than once and concurrently with consumption.
func (s *Stream) Close() {
	s.closeOnce.Do(s.cancel)
}

// Collect runs p to completion and returns every batch in order. It is
// the buffered counterpart to Run and spawns no goroutine.
func Collect(ctx context.Context, p Producer) ([][]transcript.Message, error) {
	var batches [][]transcript.Message
	err := p(ctx, func(batch []transcript.Message) error {
		if len(batch) == 0 {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		batches = append(batches, batch)
		return nil
	})
	return batches, err
}
