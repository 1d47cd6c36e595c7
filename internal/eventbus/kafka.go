// Package eventbus publishes ledger events to Kafka.
package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/segmentio/kafka-go"

	"github.com/gw/options-chain/internal/logger"
	"github.com/gw/options-chain/internal/orders"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher writes one message per order event, keyed by order id so every
// event for an order lands on the same partition.
type Publisher struct {
	w     messageWriter
	topic string
	log   *logger.Logger
}

var _ orders.EventSink = (*Publisher)(nil)

func NewPublisher(brokers []string, topic string, log *logger.Logger) *Publisher {
	w := &kafka.Writer{
		Addr:     kafka.TCP(brokers...),
		Topic:    topic,
		Balancer: &kafka.Hash{},
	}
	return &Publisher{w: w, topic: topic, log: logger.OrGlobal(log).With("component", "kafka_publisher")}
}

func (p *Publisher) RecordOrderEvent(ctx context.Context, ev orders.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshaling order event: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(strconv.FormatInt(ev.OrderID, 10)),
		Value: data,
		Headers: []kafka.Header{
			{Key: "status", Value: []byte(ev.Status)},
		},
	}
	if err := p.w.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publishing to %s: %w", p.topic, err)
	}
	p.log.Debugw("order event published", "topic", p.topic, "orderId", ev.OrderID, "status", ev.Status)
	return nil
}

func (p *Publisher) Close() error {
	return p.w.Close()
}
