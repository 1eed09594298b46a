package transport

import "github.com/ThreeDotsLabs/watermill/message"

// MetadataKeyPartition carries the partition a message should be published
// to, and on consumption the partition it was read from. Transports without
// native partitions pass it through as a plain header.
const MetadataKeyPartition = "replybridge_partition"

// SetPartition pins msg to partition. An empty partition clears the hint.
func SetPartition(msg *message.Message, partition string) {
	if msg == nil {
		return
	}
	if partition == "" {
		delete(msg.Metadata, MetadataKeyPartition)
		return
	}
	if msg.Metadata == nil {
		msg.Metadata = message.Metadata{}
	}
	msg.Metadata.Set(MetadataKeyPartition, partition)
}

// PartitionOf returns the partition hint carried by msg.
func PartitionOf(msg *message.Message) string {
	if msg == nil {
		return ""
	}
	return msg.Metadata.Get(MetadataKeyPartition)
}
