package kafka

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/crud6/crud6/internal"
	"github.com/crud6/crud6/internal/util"
	gokafka "github.com/segmentio/kafka-go"
	"github.com/shopmonkeyus/go-common/logger"
)

const partitionKeyHeader = "crud6-partitionkey"

// messageBalancer routes messages by the partition key header so every event
// for a given row lands on the same partition, preserving its order.
type messageBalancer struct {
}

func (b *messageBalancer) Balance(msg gokafka.Message, partitions ...int) int {
	if len(partitions) == 1 {
		return partitions[0]
	}
	for _, header := range msg.Headers {
		if header.Key == partitionKeyHeader {
			return util.Modulo(util.Hash(string(header.Value)), len(partitions))
		}
	}
	return util.Modulo(util.Hash(string(msg.Key)), len(partitions))
}

type kafkaSink struct {
	ctx     context.Context
	logger  logger.Logger
	writer  *gokafka.Writer
	pending []gokafka.Message
}

var _ internal.Sink = (*kafkaSink)(nil)
var _ internal.SinkHelp = (*kafkaSink)(nil)

// Start the sink. This is called once at the beginning of the sink's lifecycle.
func (p *kafkaSink) Start(config internal.SinkConfig) error {
	p.ctx = config.Context
	p.logger = config.Logger.WithPrefix("[kafka]")

	u, err := url.Parse(config.URL)
	if err != nil {
		return fmt.Errorf("unable to parse url: %w", err)
	}
	if u.Path == "" || u.Path == "/" {
		return fmt.Errorf("kafka url requires a path which is the topic")
	}

	p.writer = &gokafka.Writer{
		Addr:     gokafka.TCP(u.Host),
		Topic:    u.Path[1:], // trim slash
		Balancer: &messageBalancer{},
	}

	p.logger.Info("started")
	return nil
}

// Process buffers the event for the next flush.
func (p *kafkaSink) Process(event internal.ChangeEvent) (bool, error) {
	key := fmt.Sprintf("%s.%s", event.Model, event.Key)
	p.pending = append(p.pending, gokafka.Message{
		Key:   []byte(key),
		Value: []byte(util.JSONStringify(event)),
		Headers: []gokafka.Header{
			{Key: partitionKeyHeader, Value: []byte(key)},
		},
	})
	return false, nil
}

// Flush writes the pending batch to the topic.
func (p *kafkaSink) Flush() error {
	if len(p.pending) > 0 {
		if err := p.writer.WriteMessages(p.ctx, p.pending...); err != nil {
			return fmt.Errorf("error publishing messages: %w", err)
		}
		p.pending = nil
	}
	return nil
}

// Stop the sink. This is called once at the end of the sink's lifecycle.
func (p *kafkaSink) Stop() error {
	if p.writer != nil {
		if err := p.writer.Close(); err != nil {
			p.logger.Error("error closing writer: %s", err)
		}
		p.writer = nil
	}
	return nil
}

// Name is a unique name for the sink.
func (p *kafkaSink) Name() string {
	return "Kafka"
}

// Description is the description of the sink.
func (p *kafkaSink) Description() string {
	return "Publishes change events to a Kafka topic keyed by model and row."
}

// ExampleURL should return an example URL for configuring the sink.
func (p *kafkaSink) ExampleURL() string {
	return "kafka://kafka:9092/topic"
}

// Help should return detailed help documentation for the sink.
func (p *kafkaSink) Help() string {
	var help strings.Builder
	help.WriteString(util.GenerateHelpSection("Partitioning", "The message key is [MODEL].[PRIMARY_KEY] and the partition is chosen by\nhashing that key modulo the number of topic partitions, so all events for a given row keep their order\nwhile processing can scale horizontally.\n"))
	help.WriteString("\n")
	help.WriteString(util.GenerateHelpSection("Message Value", "The message value is the JSON encoded change event."))
	return help.String()
}

func init() {
	internal.RegisterSink("kafka", &kafkaSink{})
}
