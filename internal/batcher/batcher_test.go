package batcher

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ifebuche/twifesh/internal/records"
	"github.com/ifebuche/twifesh/internal/testutil"
)

func makeRecord(id string) records.Record {
	text := "tweet " + id
	return records.Record{TweetID: id, Text: &text}
}

func newTestBatcher(ms *testutil.MockStore, threshold, bufMax int) *Batcher {
	return New(ms, Config{
		FlushInterval:  1 * time.Hour, // long interval so we control flush manually
		FlushThreshold: threshold,
		BufferMax:      bufMax,
	})
}

func TestAdd_BuffersRecords(t *testing.T) {
	ms := testutil.NewMockStore()
	b := newTestBatcher(ms, 1000, 10000) // high threshold so no auto-flush

	b.Add(makeRecord("1"))
	b.Add(makeRecord("2"))

	if b.BufferLen() != 2 {
		t.Errorf("expected buffer length 2, got %d", b.BufferLen())
	}

	if ms.GetInsertCalls() != 0 {
		t.Errorf("expected 0 insert calls before flush, got %d", ms.GetInsertCalls())
	}
}

func TestFlush_WritesAndClearsBuffer(t *testing.T) {
	ms := testutil.NewMockStore()
	b := newTestBatcher(ms, 1000, 10000)

	b.Add(makeRecord("1"))
	b.Add(makeRecord("2"))
	b.flush()

	if b.BufferLen() != 0 {
		t.Errorf("expected empty buffer after flush, got %d", b.BufferLen())
	}
	if ms.GetInsertCalls() != 1 {
		t.Errorf("expected 1 insert call, got %d", ms.GetInsertCalls())
	}
	if ms.GetRecordCount() != 2 {
		t.Errorf("expected 2 records stored, got %d", ms.GetRecordCount())
	}
}

func TestFlush_EmptyBufferIsNoop(t *testing.T) {
	ms := testutil.NewMockStore()
	b := newTestBatcher(ms, 1000, 10000)

	b.flush()
	if ms.GetInsertCalls() != 0 {
		t.Errorf("expected 0 insert calls on empty buffer, got %d", ms.GetInsertCalls())
	}
}

func TestThreshold_TriggersFlush(t *testing.T) {
	ms := testutil.NewMockStore()
	threshold := 5
	b := newTestBatcher(ms, threshold, 10000)

	for i := 0; i < threshold; i++ {
		b.Add(makeRecord(fmt.Sprintf("%d", i)))
	}

	// The threshold-triggered flush runs in a goroutine. Wait briefly.
	time.Sleep(100 * time.Millisecond)

	if ms.GetInsertCalls() < 1 {
		t.Errorf("expected at least 1 insert call after reaching threshold, got %d", ms.GetInsertCalls())
	}
}

func TestBackpressure_DropsOldestRecords(t *testing.T) {
	ms := testutil.NewMockStore()
	ms.SetInsertErr(fmt.Errorf("db down")) // prevent auto-flush from clearing buffer
	bufMax := 10
	b := newTestBatcher(ms, 1000, bufMax)

	// Fill buffer beyond capacity.
	for i := 0; i < bufMax+5; i++ {
		b.Add(makeRecord(fmt.Sprintf("rec-%d", i)))
	}

	// Buffer should be capped at bufMax.
	if b.BufferLen() > bufMax {
		t.Errorf("expected buffer <= %d, got %d", bufMax, b.BufferLen())
	}
}

func TestWriteFailure_RequeueBatch(t *testing.T) {
	ms := testutil.NewMockStore()
	ms.SetInsertErr(fmt.Errorf("connection refused"))
	b := newTestBatcher(ms, 1000, 10000)

	b.Add(makeRecord("1"))
	b.Add(makeRecord("2"))
	b.flush()

	// Records should be re-queued.
	if b.BufferLen() != 2 {
		t.Errorf("expected 2 records re-queued, got %d", b.BufferLen())
	}
}

func TestConsecutiveFailures_AlertsAfterThree(t *testing.T) {
	ms := testutil.NewMockStore()
	ms.SetInsertErr(fmt.Errorf("connection refused"))
	b := newTestBatcher(ms, 1000, 10000)

	var alerts []string
	var mu sync.Mutex
	b.SetAlertPublisher(func(subject string, _ []byte) error {
		mu.Lock()
		alerts = append(alerts, subject)
		mu.Unlock()
		return nil
	})

	// Fail 3 times.
	for i := 0; i < 3; i++ {
		b.Add(makeRecord(fmt.Sprintf("%d", i)))
		b.flush()
	}

	mu.Lock()
	defer mu.Unlock()

	found := false
	for _, a := range alerts {
		if a == "twifesh.system.write_failure" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected write_failure alert after 3 consecutive failures, got alerts: %v", alerts)
	}
}

func TestConsecutiveFailures_ResetsOnSuccess(t *testing.T) {
	ms := testutil.NewMockStore()
	ms.SetInsertErr(fmt.Errorf("connection refused"))
	b := newTestBatcher(ms, 1000, 10000)

	// Fail twice.
	b.Add(makeRecord("1"))
	b.flush()
	// Clear re-queued records.
	b.mu.Lock()
	b.buffer = b.buffer[:0]
	b.mu.Unlock()

	b.Add(makeRecord("2"))
	b.flush()
	b.mu.Lock()
	b.buffer = b.buffer[:0]
	b.mu.Unlock()

	// Now succeed.
	ms.SetInsertErr(nil)
	b.Add(makeRecord("3"))
	b.flush()

	b.mu.Lock()
	cf := b.consecutiveFail
	b.mu.Unlock()

	if cf != 0 {
		t.Errorf("expected consecutiveFail reset to 0, got %d", cf)
	}
}

func TestStartAndShutdown(t *testing.T) {
	ms := testutil.NewMockStore()
	b := newTestBatcher(ms, 1000, 10000)
	b.flushInterval = 50 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	b.Start(ctx)

	b.Add(makeRecord("1"))

	// Let the ticker fire at least once.
	time.Sleep(150 * time.Millisecond)

	cancel()
	b.Wait()

	// After shutdown, buffer should be empty (final flush).
	if b.BufferLen() != 0 {
		t.Errorf("expected empty buffer after shutdown, got %d", b.BufferLen())
	}
}
