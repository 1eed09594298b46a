package kafka

import (
	"fmt"
	"hash/fnv"
	"strconv"

	"github.com/IBM/sarama"
	"github.com/ThreeDotsLabs/watermill-kafka/v3/pkg/kafka"
	"github.com/ThreeDotsLabs/watermill/message"

	errspkg "github.com/drblury/replybridge/internal/runtime/errors"
	"github.com/drblury/replybridge/internal/runtime/metadata"
	"github.com/drblury/replybridge/transport"
)

// partitionHint travels in ProducerMessage.Metadata from the marshaler to
// the partitioner.
type partitionHint string

// PartitionMarshaler wraps the default marshaler. Outgoing messages are keyed
// by correlation id and carry their partition hint to the partitioner;
// incoming messages get the partition they were consumed from stamped into
// their metadata.
type PartitionMarshaler struct {
	kafka.DefaultMarshaler
}

func (m PartitionMarshaler) Marshal(topic string, msg *message.Message) (*sarama.ProducerMessage, error) {
	pm, err := m.DefaultMarshaler.Marshal(topic, msg)
	if err != nil {
		return nil, err
	}
	if id := msg.Metadata.Get(metadata.KeyCorrelationID); id != "" {
		pm.Key = sarama.StringEncoder(id)
	}
	if hint := transport.PartitionOf(msg); hint != "" {
		pm.Metadata = partitionHint(hint)
	}
	return pm, nil
}

func (m PartitionMarshaler) Unmarshal(kafkaMsg *sarama.ConsumerMessage) (*message.Message, error) {
	msg, err := m.DefaultMarshaler.Unmarshal(kafkaMsg)
	if err != nil {
		return nil, err
	}
	transport.SetPartition(msg, strconv.FormatInt(int64(kafkaMsg.Partition), 10))
	return msg, nil
}

// HintPartitioner sends hinted messages to their partition and hashes the
// key for everything else.
type HintPartitioner struct {
	fallback sarama.Partitioner
}

// NewHintPartitioner is a sarama.PartitionerConstructor.
func NewHintPartitioner(topic string) sarama.Partitioner {
	return &HintPartitioner{fallback: sarama.NewHashPartitioner(topic)}
}

func (p *HintPartitioner) Partition(msg *sarama.ProducerMessage, numPartitions int32) (int32, error) {
	hint, ok := msg.Metadata.(partitionHint)
	if !ok || hint == "" {
		return p.fallback.Partition(msg, numPartitions)
	}
	return ResolvePartition(string(hint), numPartitions)
}

func (p *HintPartitioner) RequiresConsistency() bool {
	return true
}

// ResolvePartition maps a hint to a partition number. Numeric hints are used
// as-is; anything else is hashed so named partitions stay stable.
func ResolvePartition(hint string, numPartitions int32) (int32, error) {
	if numPartitions <= 0 {
		return 0, fmt.Errorf("topic has no partitions")
	}
	if n, err := strconv.ParseInt(hint, 10, 32); err == nil {
		if n < 0 || int32(n) >= numPartitions {
			return 0, fmt.Errorf("partition %d out of range [0,%d): %w: %w", n, numPartitions, errspkg.ErrInvalidPartition, sarama.ErrInvalidPartition)
		}
		return int32(n), nil
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(hint))
	return int32(h.Sum32() % uint32(numPartitions)), nil
}
