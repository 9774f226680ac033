package kafka

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
)

// Producer пишет события тикетов в топик Kafka (best-effort, не блокирует сессию).
type Producer struct {
	writer *kafka.Writer
	topic  string
	log    *logrus.Entry
}

// NewProducer создаёт продюсер. Если brokers пустой или topic пустой, методы no-op.
func NewProducer(brokers []string, topic string, log *logrus.Entry) *Producer {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	log = log.WithField("component", "kafka")
	if len(brokers) == 0 || topic == "" {
		return &Producer{log: log}
	}
	return &Producer{
		topic: topic,
		log:   log,
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			BatchTimeout: 10 * time.Millisecond,
		},
	}
}

// Enabled сообщает, настроен ли writer.
func (p *Producer) Enabled() bool {
	return p.writer != nil
}

// ProduceIssueEvent отправляет событие тикета в топик. Ключ сообщения issue_id, чтобы события
// одного тикета попадали в одну партицию. payload: issue_id, author_id, message_id, is_closed, ...
func (p *Producer) ProduceIssueEvent(ctx context.Context, event string, payload map[string]interface{}) {
	if p.writer == nil {
		return
	}
	msg, err := EncodeEvent(event, payload, time.Now())
	if err != nil {
		p.log.WithError(err).WithField("event", event).Warn("marshal issue event")
		return
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.log.WithError(err).WithField("event", event).Warn("write issue event")
	}
}

// EncodeEvent собирает сообщение Kafka: {"event": ..., "at": ..., ...payload}.
func EncodeEvent(event string, payload map[string]interface{}, at time.Time) (kafka.Message, error) {
	body := map[string]interface{}{"event": event, "at": at.UTC().Format(time.RFC3339Nano)}
	for k, v := range payload {
		body[k] = v
	}
	data, err := json.Marshal(body)
	if err != nil {
		return kafka.Message{}, err
	}
	msg := kafka.Message{
		Value:   data,
		Headers: []kafka.Header{{Key: "event", Value: []byte(event)}},
	}
	if id, ok := payload["issue_id"].(string); ok && id != "" {
		msg.Key = []byte(id)
	}
	return msg, nil
}

// Close закрывает writer.
func (p *Producer) Close() error {
	if p.writer == nil {
		return nil
	}
	return p.writer.Close()
}

// ParseBrokers разбивает строку брокеров "host1:9092,host2:9092" на слайс.
func ParseBrokers(s string) []string {
	var out []string
	for _, t := range strings.Split(s, ",") {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}
