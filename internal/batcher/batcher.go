// Package batcher buffers delivered records and writes them to the
// archive in batches, decoupling the single-threaded feed consumer from
// database latency.
package batcher

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ifebuche/twifesh/internal/archive"
	"github.com/ifebuche/twifesh/internal/records"
)

type Batcher struct {
	store          archive.RecordStore
	flushInterval  time.Duration
	flushThreshold int
	bufferMax      int

	mu              sync.Mutex
	buffer          []records.Record
	consecutiveFail int
	publish         func(subject string, data []byte) error

	done chan struct{}
}

type Config struct {
	FlushInterval  time.Duration
	FlushThreshold int
	BufferMax      int
}

func New(s archive.RecordStore, cfg Config) *Batcher {
	return &Batcher{
		store:          s,
		flushInterval:  cfg.FlushInterval,
		flushThreshold: cfg.FlushThreshold,
		bufferMax:      cfg.BufferMax,
		buffer:         make([]records.Record, 0, cfg.FlushThreshold),
		done:           make(chan struct{}),
	}
}

// SetAlertPublisher sets the function used to publish write-failure
// alerts to the event bus.
func (b *Batcher) SetAlertPublisher(fn func(subject string, data []byte) error) {
	b.publish = fn
}

// Add enqueues a delivered record for batched archiving.
func (b *Batcher) Add(rec records.Record) {
	b.mu.Lock()
	defer b.mu.Unlock()

	// Backpressure: drop oldest if buffer full.
	if len(b.buffer) >= b.bufferMax {
		dropped := len(b.buffer) - b.bufferMax + 1
		b.buffer = b.buffer[dropped:]
		slog.Warn("buffer overflow, dropping oldest records", "dropped", dropped, "buffer_size", b.bufferMax)
		b.publishAlert("twifesh.system.buffer_overflow", []byte(`{"message":"buffer overflow, dropping records"}`))
	}

	b.buffer = append(b.buffer, rec)

	// Flush immediately if threshold reached.
	if len(b.buffer) >= b.flushThreshold {
		go b.flush()
	}
}

// Start begins the periodic flush ticker.
func (b *Batcher) Start(ctx context.Context) {
	ticker := time.NewTicker(b.flushInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				b.flush()
			case <-ctx.Done():
				// Final flush on shutdown.
				b.flush()
				close(b.done)
				return
			}
		}
	}()
}

// Wait blocks until the batcher has completed its final flush.
func (b *Batcher) Wait() {
	<-b.done
}

// BufferLen returns the current buffer size (for health checks).
func (b *Batcher) BufferLen() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.buffer)
}

func (b *Batcher) flush() {
	b.mu.Lock()
	if len(b.buffer) == 0 {
		b.mu.Unlock()
		return
	}
	batch := b.buffer
	b.buffer = make([]records.Record, 0, b.flushThreshold)
	b.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	slog.Info("flushing batch", "count", len(batch))

	if err := b.store.InsertRecords(ctx, batch); err != nil {
		slog.Error("failed to insert records", "error", err, "count", len(batch))
		b.handleWriteFailure(batch)
		return
	}

	b.mu.Lock()
	b.consecutiveFail = 0
	b.mu.Unlock()

	slog.Info("batch flushed successfully", "count", len(batch))
}

func (b *Batcher) handleWriteFailure(batch []records.Record) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutiveFail++

	// Re-queue the failed batch (prepend so order is maintained).
	b.buffer = append(batch, b.buffer...)

	// Trim if re-queueing caused overflow.
	if len(b.buffer) > b.bufferMax {
		b.buffer = b.buffer[len(b.buffer)-b.bufferMax:]
	}

	if b.consecutiveFail >= 3 {
		slog.Error("3 consecutive write failures", "buffer_size", len(b.buffer))
		b.publishAlert("twifesh.system.write_failure", []byte(`{"message":"3 consecutive archive write failures"}`))
	}
}

func (b *Batcher) publishAlert(subject string, data []byte) {
	if b.publish != nil {
		if err := b.publish(subject, data); err != nil {
			slog.Error("failed to publish alert", "subject", subject, "error", err)
		}
	}
}
