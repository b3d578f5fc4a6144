package kafka

import (
	"testing"

	gokafka "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
)

func TestMessageBalancer(t *testing.T) {
	var balancer messageBalancer

	msg := gokafka.Message{
		Key: []byte("ticket.7"),
		Headers: []gokafka.Header{
			{Key: partitionKeyHeader, Value: []byte("ticket.7")},
		},
	}

	// a single partition topic always routes to it
	assert.Equal(t, 3, balancer.Balance(msg, 3))

	// the same key always lands on the same partition
	first := balancer.Balance(msg, 0, 1, 2, 3)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, balancer.Balance(msg, 0, 1, 2, 3))
	}

	// without the header the message key decides
	plain := gokafka.Message{Key: []byte("ticket.7")}
	assert.Equal(t, first, balancer.Balance(plain, 0, 1, 2, 3))
}
