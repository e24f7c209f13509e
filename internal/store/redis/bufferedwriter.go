package redis

import (
	"context"
	"encoding/json"
	"log"
	"sync"

	"github.com/jnani1972/AMZF-sub010/internal/model"
)

// pendingWrite is a publish buffered while the circuit is open.
type pendingWrite struct {
	writeType string // "candle" or "event"
	data      []byte
}

// BufferedPublisher wraps a Publisher with a circuit breaker. While the
// circuit is open, candle and event publishes buffer locally and replay when
// Redis recovers; the oldest entries drop first when the buffer fills.
type BufferedPublisher struct {
	pub *Publisher
	cb  *CircuitBreaker
	ctx context.Context

	mu     sync.Mutex
	buffer []pendingWrite
	maxBuf int

	OnBuffer func()          // a write was buffered
	OnFlush  func(count int) // buffered writes were replayed
}

// NewBufferedPublisher wraps pub with cb. maxBufferSize <= 0 selects 10000.
func NewBufferedPublisher(ctx context.Context, pub *Publisher, cb *CircuitBreaker, maxBufferSize int) *BufferedPublisher {
	if maxBufferSize <= 0 {
		maxBufferSize = 10000
	}
	bp := &BufferedPublisher{
		pub:    pub,
		cb:     cb,
		ctx:    ctx,
		buffer: make([]pendingWrite, 0, 256),
		maxBuf: maxBufferSize,
	}

	prev := cb.OnStateChange
	cb.OnStateChange = func(from, to State) {
		if prev != nil {
			prev(from, to)
		}
		if to == StateClosed {
			go bp.flush()
		}
	}
	return bp
}

// PublishCandle publishes through the breaker, buffering when open.
func (bp *BufferedPublisher) PublishCandle(c model.Candle) error {
	err := bp.cb.Execute(func() error {
		return bp.pub.PublishCandle(bp.ctx, c)
	})
	if err == ErrCircuitOpen {
		bp.bufferWrite("candle", c)
		return nil
	}
	return err
}

// PublishEvent publishes through the breaker, buffering when open. Events
// are already durable in sqlite, so a drop here loses only the hot mirror.
func (bp *BufferedPublisher) PublishEvent(ev model.Event) error {
	err := bp.cb.Execute(func() error {
		return bp.pub.PublishEvent(bp.ctx, ev)
	})
	if err == ErrCircuitOpen {
		bp.bufferWrite("event", ev)
		return nil
	}
	return err
}

func (bp *BufferedPublisher) bufferWrite(writeType string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("[redis-buffer] marshal: %v", err)
		return
	}

	bp.mu.Lock()
	defer bp.mu.Unlock()
	if len(bp.buffer) >= bp.maxBuf {
		bp.buffer = bp.buffer[1:]
	}
	bp.buffer = append(bp.buffer, pendingWrite{writeType: writeType, data: data})
	if bp.OnBuffer != nil {
		bp.OnBuffer()
	}
}

// flush replays buffered writes after the circuit closes.
func (bp *BufferedPublisher) flush() {
	bp.mu.Lock()
	if len(bp.buffer) == 0 {
		bp.mu.Unlock()
		return
	}
	toFlush := bp.buffer
	bp.buffer = make([]pendingWrite, 0, 256)
	bp.mu.Unlock()

	for _, pw := range toFlush {
		switch pw.writeType {
		case "candle":
			var c model.Candle
			if json.Unmarshal(pw.data, &c) == nil {
				if err := bp.pub.PublishCandle(bp.ctx, c); err != nil {
					log.Printf("[redis-buffer] replay candle: %v", err)
				}
			}
		case "event":
			var ev model.Event
			if json.Unmarshal(pw.data, &ev) == nil {
				if err := bp.pub.PublishEvent(bp.ctx, ev); err != nil {
					log.Printf("[redis-buffer] replay event: %v", err)
				}
			}
		}
	}

	log.Printf("[redis-buffer] flushed %d buffered writes", len(toFlush))
	if bp.OnFlush != nil {
		bp.OnFlush(len(toFlush))
	}
}

// PendingCount returns the number of buffered writes.
func (bp *BufferedPublisher) PendingCount() int {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	return len(bp.buffer)
}

// Underlying returns the wrapped Publisher.
func (bp *BufferedPublisher) Underlying() *Publisher {
	return bp.pub
}
