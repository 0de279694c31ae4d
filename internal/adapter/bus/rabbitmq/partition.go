package rabbitmq

import (
	"fmt"
	"hash/fnv"
)

// partitionFor maps a message key onto one of n partition queues using
// FNV-1a. Events sharing a key always land on the same queue, which is
// what gives per-transaction ordering.
func partitionFor(key string, n int) int {
	h := fnv.New32a()
	h.Write([]byte(key)) //nolint:errcheck
	return int(h.Sum32() % uint32(n))
}

// queueName builds the partition queue name for a consumer group.
func queueName(exchange, group string, partition int) string {
	return fmt.Sprintf("%s.%s.%d", exchange, group, partition)
}
