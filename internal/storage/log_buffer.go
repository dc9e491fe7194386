package storage

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/good-yellow-bee/lognexus/internal/metrics"
	"github.com/good-yellow-bee/lognexus/internal/models"
)

// LogBuffer buffers log entries for batch insertion.
// It flushes on either batch size threshold or time interval,
// whichever comes first. When the buffer reaches max capacity the
// oldest entries are dropped.
type LogBuffer struct {
	repo          LogRepository
	batchSize     int
	flushInterval time.Duration
	maxSize       int
	log           logrus.FieldLogger

	mu       sync.Mutex
	buffer   []*models.LogEntry
	stopCh   chan struct{}
	doneCh   chan struct{}
	stopped  atomic.Bool
	dropped  atomic.Int64
	flushed  atomic.Int64
	inserted atomic.Int64
}

// LogBufferConfig holds LogBuffer configuration.
type LogBufferConfig struct {
	// BatchSize is the number of entries to trigger a flush.
	BatchSize int

	// FlushInterval is the time interval to trigger a flush.
	FlushInterval time.Duration

	// MaxSize is the maximum buffer size. When reached, oldest entries are dropped.
	MaxSize int

	Logger logrus.FieldLogger
}

// NewLogBuffer creates a new log buffer and starts its flush loop.
func NewLogBuffer(repo LogRepository, config *LogBufferConfig) *LogBuffer {
	if config.BatchSize == 0 {
		config.BatchSize = 500
	}
	if config.FlushInterval == 0 {
		config.FlushInterval = 2 * time.Second
	}
	if config.MaxSize == 0 {
		config.MaxSize = 100000
	}
	logger := config.Logger
	if logger == nil {
		discard := logrus.New()
		discard.SetOutput(io.Discard)
		logger = discard
	}

	b := &LogBuffer{
		repo:          repo,
		batchSize:     config.BatchSize,
		flushInterval: config.FlushInterval,
		maxSize:       config.MaxSize,
		log:           logger.WithField("component", "log_buffer"),
		buffer:        make([]*models.LogEntry, 0, config.BatchSize),
		stopCh:        make(chan struct{}),
		doneCh:        make(chan struct{}),
	}

	go b.flushLoop()
	return b
}

// Add adds a log entry to the buffer.
func (b *LogBuffer) Add(entry *models.LogEntry) error {
	return b.AddBatch([]*models.LogEntry{entry})
}

// AddBatch adds multiple log entries to the buffer.
func (b *LogBuffer) AddBatch(entries []*models.LogEntry) error {
	if b.stopped.Load() {
		return nil
	}

	b.mu.Lock()

	newLen := len(b.buffer) + len(entries)
	if newLen > b.maxSize {
		toDrop := newLen - b.maxSize
		if toDrop >= len(b.buffer) {
			b.dropped.Add(int64(len(b.buffer)))
			metrics.BufferDroppedTotal.Add(float64(len(b.buffer)))
			b.buffer = b.buffer[:0]
			keep := b.maxSize
			if keep > len(entries) {
				keep = len(entries)
			}
			drop := len(entries) - keep
			b.dropped.Add(int64(drop))
			metrics.BufferDroppedTotal.Add(float64(drop))
			entries = entries[drop:]
		} else {
			b.dropped.Add(int64(toDrop))
			metrics.BufferDroppedTotal.Add(float64(toDrop))
			b.buffer = b.buffer[toDrop:]
		}
		b.log.WithField("dropped", toDrop).Warn("log buffer overflow")
	}

	b.buffer = append(b.buffer, entries...)
	pending := len(b.buffer)
	shouldFlush := pending >= b.batchSize
	b.mu.Unlock()

	metrics.BufferPending.Set(float64(pending))
	if shouldFlush {
		return b.Flush()
	}
	return nil
}

// Flush forces a flush of the current buffer.
func (b *LogBuffer) Flush() error {
	b.mu.Lock()
	if len(b.buffer) == 0 {
		b.mu.Unlock()
		return nil
	}

	toFlush := b.buffer
	b.buffer = make([]*models.LogEntry, 0, b.batchSize)
	b.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := b.repo.InsertBatch(ctx, toFlush); err != nil {
		metrics.BufferFlushErrors.Inc()
		// Requeue at the front so the entries go out on the next flush.
		b.mu.Lock()
		b.buffer = append(toFlush, b.buffer...)
		if len(b.buffer) > b.maxSize {
			excess := len(b.buffer) - b.maxSize
			b.dropped.Add(int64(excess))
			metrics.BufferDroppedTotal.Add(float64(excess))
			b.buffer = b.buffer[excess:]
		}
		metrics.BufferPending.Set(float64(len(b.buffer)))
		b.mu.Unlock()
		return err
	}

	b.flushed.Add(1)
	b.inserted.Add(int64(len(toFlush)))
	metrics.BufferFlushesTotal.Inc()
	metrics.BufferInsertedTotal.Add(float64(len(toFlush)))
	metrics.BufferPending.Set(float64(b.Stats().Pending))
	return nil
}

func (b *LogBuffer) flushLoop() {
	defer close(b.doneCh)
	ticker := time.NewTicker(b.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := b.Flush(); err != nil {
				b.log.WithError(err).Error("log buffer flush failed")
			}
		case <-b.stopCh:
			if err := b.Flush(); err != nil {
				b.log.WithError(err).Error("log buffer final flush failed")
			}
			return
		}
	}
}

// Close stops the buffer and flushes remaining entries.
func (b *LogBuffer) Close() error {
	if b.stopped.Swap(true) {
		return nil
	}
	close(b.stopCh)
	<-b.doneCh
	return nil
}

// Stats returns buffer statistics.
func (b *LogBuffer) Stats() LogBufferStats {
	b.mu.Lock()
	pending := len(b.buffer)
	b.mu.Unlock()

	return LogBufferStats{
		Pending:  pending,
		Dropped:  b.dropped.Load(),
		Flushed:  b.flushed.Load(),
		Inserted: b.inserted.Load(),
	}
}

// LogBufferStats contains buffer statistics.
type LogBufferStats struct {
	Pending  int
	Dropped  int64
	Flushed  int64
	Inserted int64
}
