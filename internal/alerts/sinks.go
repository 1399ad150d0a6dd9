package alerts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/IBM/sarama"
)

// AlertType tags alert envelopes on shared channels.
const AlertType = "risk_alert"

// Envelope wraps every message pushed to streams and topics.
type Envelope struct {
	Type string          `json:"type"`
	TS   int64           `json:"ts"` // unix milli
	Data json.RawMessage `json:"data"`
}

func envelope(a Alert) ([]byte, error) {
	data, err := json.Marshal(a)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Type: AlertType, TS: a.Timestamp.UnixMilli(), Data: data})
}

// ─── Broadcast ──────────────────────────────────────────────────────

// BroadcastSink pushes envelopes to an in-process fan-out such as the
// websocket hub.
type BroadcastSink struct {
	broadcast func([]byte)
}

// NewBroadcastSink wraps a broadcast function.
func NewBroadcastSink(fn func([]byte)) *BroadcastSink {
	return &BroadcastSink{broadcast: fn}
}

func (s *BroadcastSink) Name() string { return "broadcast" }

func (s *BroadcastSink) Send(_ context.Context, a Alert) error {
	b, err := envelope(a)
	if err != nil {
		return err
	}
	s.broadcast(b)
	return nil
}

// ─── Kafka ──────────────────────────────────────────────────────────

// KafkaSink publishes envelopes to a topic, keyed by address so every
// alert for one address lands on the same partition.
type KafkaSink struct {
	topic string
	p     sarama.SyncProducer
}

// NewKafkaSink dials brokers with a reliability-oriented producer config.
func NewKafkaSink(brokers []string, topic string) (*KafkaSink, error) {
	if topic == "" {
		return nil, fmt.Errorf("kafka sink: empty topic")
	}
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka sink: no brokers")
	}

	cfg := sarama.NewConfig()
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 5
	cfg.Producer.Retry.Backoff = 200 * time.Millisecond
	cfg.Producer.Return.Successes = true
	cfg.Producer.Return.Errors = true

	p, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("kafka sink: %w", err)
	}
	return NewKafkaSinkWithProducer(p, topic), nil
}

// NewKafkaSinkWithProducer uses an existing producer.
func NewKafkaSinkWithProducer(p sarama.SyncProducer, topic string) *KafkaSink {
	return &KafkaSink{topic: topic, p: p}
}

func (s *KafkaSink) Name() string { return "kafka:" + s.topic }

func (s *KafkaSink) Send(ctx context.Context, a Alert) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b, err := envelope(a)
	if err != nil {
		return err
	}
	msg := &sarama.ProducerMessage{
		Topic: s.topic,
		Key:   sarama.StringEncoder(a.Address),
		Value: sarama.ByteEncoder(b),
	}
	if _, _, err := s.p.SendMessage(msg); err != nil {
		return fmt.Errorf("kafka emit failed: %w", err)
	}
	return nil
}

// Close releases the producer.
func (s *KafkaSink) Close() error {
	if s.p != nil {
		return s.p.Close()
	}
	return nil
}

// ─── Webhook ────────────────────────────────────────────────────────

// WebhookSink POSTs the raw alert JSON to an HTTP endpoint
// (Slack/Discord-compatible relays, SIEM collectors).
type WebhookSink struct {
	url     string
	headers map[string]string
	client  *http.Client
}

// NewWebhookSink creates a webhook sink with a five second timeout.
func NewWebhookSink(url string, headers map[string]string) *WebhookSink {
	return &WebhookSink{
		url:     url,
		headers: headers,
		client:  &http.Client{Timeout: 5 * time.Second},
	}
}

func (s *WebhookSink) Name() string { return "webhook" }

func (s *WebhookSink) Send(ctx context.Context, a Alert) error {
	payload, err := json.Marshal(a)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range s.headers {
		req.Header.Set(k, v)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
