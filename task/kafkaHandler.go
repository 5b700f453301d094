package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charlesren/ylog"
	"github.com/segmentio/kafka-go"
)

type KafkaConfig struct {
	Brokers []string      `yaml:"brokers" mapstructure:"brokers"`
	Topic   string        `yaml:"topic" mapstructure:"topic"`
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

type messageWriter interface {
	WriteMessages(context.Context, ...kafka.Message) error
	Close() error
}

// KafkaHandler 每个结果事件作为一条消息发布，key为设备地址
type KafkaHandler struct {
	writer  messageWriter
	topic   string
	timeout time.Duration
}

func NewKafkaHandler(cfg KafkaConfig) (*KafkaHandler, error) {
	if len(cfg.Brokers) == 0 || cfg.Topic == "" {
		return nil, fmt.Errorf("kafka handler requires brokers and topic")
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	ylog.Infof("kafka_handler", "publishing results to %s on %s", cfg.Topic, strings.Join(cfg.Brokers, ","))
	return &KafkaHandler{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(cfg.Brokers...),
			Topic:                  cfg.Topic,
			Balancer:               &kafka.Hash{},
			AllowAutoTopicCreation: true,
		},
		topic:   cfg.Topic,
		timeout: cfg.Timeout,
	}, nil
}

func (h *KafkaHandler) HandleResult(events []ResultEvent) error {
	if len(events) == 0 {
		return nil
	}
	msgs := make([]kafka.Message, 0, len(events))
	for _, event := range events {
		value, err := json.Marshal(event)
		if err != nil {
			return fmt.Errorf("marshal result of %s: %w", event.Host, err)
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(event.Host),
			Value: value,
			Time:  event.Timestamp,
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()
	if err := h.writer.WriteMessages(ctx, msgs...); err != nil {
		if errors.Is(err, kafka.UnknownTopicOrPartition) {
			ylog.Errorf("kafka_handler", "kafka topic %s does not exist", h.topic)
		}
		return fmt.Errorf("publish %d results to %s: %w", len(msgs), h.topic, err)
	}
	ylog.Debugf("kafka_handler", "published %d results to %s", len(msgs), h.topic)
	return nil
}

func (h *KafkaHandler) Close() error {
	return h.writer.Close()
}
