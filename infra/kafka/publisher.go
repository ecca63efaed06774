// Package kafka exports aggregator notifications to a Kafka topic.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/kilianp07/flexsim/core/logger"
	"github.com/kilianp07/flexsim/core/notify"
)

// Config configures the notification publisher.
type Config struct {
	Brokers      []string      `json:"brokers" yaml:"brokers"`
	Topic        string        `json:"topic" yaml:"topic" default:"flexsim.notifications"`
	Types        []string      `json:"types" yaml:"types"`
	Compression  string        `json:"compression" yaml:"compression" default:"zstd" validate:"omitempty,oneof=none gzip snappy lz4 zstd"`
	RequiredAcks int           `json:"required_acks" yaml:"required_acks" default:"-1"`
	MaxAttempts  int           `json:"max_attempts" yaml:"max_attempts" default:"3"`
	BatchSize    int           `json:"batch_size" yaml:"batch_size" default:"100"`
	BatchTimeout time.Duration `json:"batch_timeout" yaml:"batch_timeout" default:"10ms"`
	WriteTimeout time.Duration `json:"write_timeout" yaml:"write_timeout" default:"10s"`
}

// DefaultTypes are exported when Config.Types is empty. Readings are left
// out since they arrive on every tick.
var DefaultTypes = []string{notify.TypeReport, notify.TypeAgreement, notify.TypeBaseline, notify.TypeToast}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher writes notifications read from a bus subscription.
type Publisher struct {
	w     messageWriter
	topic string
	types map[string]bool
	batch int
	log   logger.Logger
}

// NewPublisher builds a publisher backed by a kafka.Writer.
func NewPublisher(cfg Config, log logger.Logger) (*Publisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka: brokers are required")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("kafka: topic is required")
	}
	w := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequiredAcks(cfg.RequiredAcks),
		Compression:            parseCompression(cfg.Compression),
		MaxAttempts:            cfg.MaxAttempts,
		BatchSize:              cfg.BatchSize,
		BatchTimeout:           cfg.BatchTimeout,
		WriteTimeout:           cfg.WriteTimeout,
		AllowAutoTopicCreation: true,
	}
	return newPublisher(w, cfg, log), nil
}

func newPublisher(w messageWriter, cfg Config, log logger.Logger) *Publisher {
	types := cfg.Types
	if len(types) == 0 {
		types = DefaultTypes
	}
	set := make(map[string]bool, len(types))
	for _, t := range types {
		set[t] = true
	}
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = 100
	}
	return &Publisher{w: w, topic: cfg.Topic, types: set, batch: batch, log: logger.OrNop(log)}
}

func parseCompression(s string) kafka.Compression {
	switch s {
	case "gzip":
		return kafka.Gzip
	case "snappy":
		return kafka.Snappy
	case "lz4":
		return kafka.Lz4
	case "none":
		return 0
	default:
		return kafka.Zstd
	}
}

// message keys notifications so that events of one device share a partition.
func (p *Publisher) message(n notify.Notification) (kafka.Message, error) {
	v, err := json.Marshal(n)
	if err != nil {
		return kafka.Message{}, err
	}
	key := n.Type
	if n.Device != "" {
		key = string(n.Device)
	}
	return kafka.Message{
		Topic: p.topic,
		Key:   []byte(key),
		Value: v,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(n.Type)},
		},
	}, nil
}

// Run drains sub until it is closed or ctx is done. Notifications already
// queued on sub are written together.
func (p *Publisher) Run(ctx context.Context, sub <-chan notify.Notification) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case n, ok := <-sub:
			if !ok {
				return nil
			}
			msgs := p.collect(n, sub)
			if len(msgs) == 0 {
				continue
			}
			if err := p.w.WriteMessages(ctx, msgs...); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				p.log.Errorf("kafka write %d notifications: %v", len(msgs), err)
			}
		}
	}
}

func (p *Publisher) collect(first notify.Notification, sub <-chan notify.Notification) []kafka.Message {
	var msgs []kafka.Message
	add := func(n notify.Notification) {
		if !p.types[n.Type] {
			return
		}
		m, err := p.message(n)
		if err != nil {
			p.log.Errorf("encode %s notification: %v", n.Type, err)
			return
		}
		msgs = append(msgs, m)
	}
	add(first)
	for len(msgs) < p.batch {
		select {
		case n, ok := <-sub:
			if !ok {
				return msgs
			}
			add(n)
		default:
			return msgs
		}
	}
	return msgs
}

// Close flushes and closes the writer.
func (p *Publisher) Close() error {
	return p.w.Close()
}
