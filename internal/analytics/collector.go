package analytics

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/quarrysearch/quarry/pkg/kafka"
)

// Collector buffers usage events in memory and flushes them to Kafka when
// the batch fills or the flush interval elapses, whichever comes first.
// Track never blocks the search path: if the buffer is full the event is
// dropped and counted.
type Collector struct {
	producer      *kafka.Producer
	mu            sync.Mutex
	buffer        []kafka.Event
	batchSize     int
	flushInterval time.Duration
	eventCh       chan any
	dropped       int64
	logger        *slog.Logger
	done          chan struct{}
}

// NewCollector creates a Collector flushing batches of batchSize events or
// every flushInterval.
func NewCollector(producer *kafka.Producer, batchSize int, flushInterval time.Duration) *Collector {
	if batchSize <= 0 {
		batchSize = 100
	}
	if flushInterval <= 0 {
		flushInterval = 5 * time.Second
	}
	return &Collector{
		producer:      producer,
		buffer:        make([]kafka.Event, 0, batchSize),
		batchSize:     batchSize,
		flushInterval: flushInterval,
		eventCh:       make(chan any, batchSize*10),
		logger:        slog.Default().With("component", "analytics-collector"),
		done:          make(chan struct{}),
	}
}

// Track enqueues an event without blocking.
func (c *Collector) Track(event any) {
	select {
	case c.eventCh <- event:
	default:
		c.mu.Lock()
		c.dropped++
		n := c.dropped
		c.mu.Unlock()
		if n%1000 == 1 {
			c.logger.Warn("analytics events dropped (buffer full)", "dropped_total", n)
		}
	}
}

// Start launches the background batching loop; it drains and flushes on
// ctx cancellation.
func (c *Collector) Start(ctx context.Context) {
	go func() {
		defer close(c.done)
		ticker := time.NewTicker(c.flushInterval)
		defer ticker.Stop()
		for {
			select {
			case event := <-c.eventCh:
				if c.append(event) {
					c.flush(ctx)
				}
			case <-ticker.C:
				c.flush(ctx)
			case <-ctx.Done():
				c.drain()
				c.flush(context.Background())
				return
			}
		}
	}()
	c.logger.Info("analytics collector started",
		"batch_size", c.batchSize,
		"flush_interval", c.flushInterval,
	)
}

// Close waits for the collector's loop to finish its final flush.
func (c *Collector) Close() {
	<-c.done
}

// append adds the event to the buffer and reports whether the batch is
// full.
func (c *Collector) append(event any) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.buffer = append(c.buffer, kafka.Event{Key: "analytics", Value: event})
	return len(c.buffer) >= c.batchSize
}

func (c *Collector) drain() {
	for {
		select {
		case event := <-c.eventCh:
			c.append(event)
		default:
			return
		}
	}
}

func (c *Collector) flush(ctx context.Context) {
	c.mu.Lock()
	if len(c.buffer) == 0 {
		c.mu.Unlock()
		return
	}
	batch := c.buffer
	c.buffer = make([]kafka.Event, 0, c.batchSize)
	c.mu.Unlock()

	if err := c.producer.PublishBatch(ctx, batch); err != nil {
		c.logger.Error("failed to publish analytics batch",
			"events", len(batch),
			"error", err,
		)
	}
}
