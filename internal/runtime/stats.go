package runtime

import (
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
)

// ConsumerStats tracks how a registered consumer is doing. It backs the
// /consumers admin endpoint.
type ConsumerStats struct {
	mu sync.Mutex

	MessagesProcessed   uint64    `json:"messages_processed"`
	MessagesFailed      uint64    `json:"messages_failed"`
	InFlight            int64     `json:"in_flight"`
	TotalProcessingTime int64     `json:"total_processing_time_ns"`
	LastProcessedAt     time.Time `json:"last_processed_at"`
	LastError           string    `json:"last_error,omitempty"`
	LastPartition       string    `json:"last_partition,omitempty"`
}

// ConsumerInfo describes a consumer registered on the service.
type ConsumerInfo struct {
	Name         string            `json:"name"`
	ConsumeQueue string            `json:"consume_queue"`
	Stats        ConsumerStatsView `json:"stats"`
}

// ConsumerStatsView is a point-in-time copy of ConsumerStats.
type ConsumerStatsView struct {
	MessagesProcessed uint64    `json:"messages_processed"`
	MessagesFailed    uint64    `json:"messages_failed"`
	InFlight          int64     `json:"in_flight"`
	AverageLatencyNs  int64     `json:"average_latency_ns"`
	LastProcessedAt   time.Time `json:"last_processed_at"`
	LastError         string    `json:"last_error,omitempty"`
	LastPartition     string    `json:"last_partition,omitempty"`
}

func (c *ConsumerStats) start(partition string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.InFlight++
	if partition != "" {
		c.LastPartition = partition
	}
}

func (c *ConsumerStats) finish(elapsed time.Duration, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.InFlight > 0 {
		c.InFlight--
	}
	c.MessagesProcessed++
	c.TotalProcessingTime += elapsed.Nanoseconds()
	c.LastProcessedAt = time.Now().UTC()
	if err != nil {
		c.MessagesFailed++
		c.LastError = err.Error()
	}
}

// Snapshot copies the counters under the lock.
func (c *ConsumerStats) Snapshot() ConsumerStatsView {
	c.mu.Lock()
	defer c.mu.Unlock()
	view := ConsumerStatsView{
		MessagesProcessed: c.MessagesProcessed,
		MessagesFailed:    c.MessagesFailed,
		InFlight:          c.InFlight,
		LastProcessedAt:   c.LastProcessedAt,
		LastError:         c.LastError,
		LastPartition:     c.LastPartition,
	}
	if c.MessagesProcessed > 0 {
		view.AverageLatencyNs = c.TotalProcessingTime / int64(c.MessagesProcessed)
	}
	return view
}

func wrapHandlerWithStats(handler message.NoPublishHandlerFunc, stats *ConsumerStats, partitionOf func(*message.Message) string) message.NoPublishHandlerFunc {
	return func(msg *message.Message) error {
		stats.start(partitionOf(msg))
		start := time.Now()
		err := handler(msg)
		stats.finish(time.Since(start), err)
		return err
	}
}
