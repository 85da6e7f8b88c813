package queue

import (
	"encoding/json"
	"sync"

	"github.com/streadway/amqp"
	"go.uber.org/zap"
)

// Queue carries per-recipient send jobs from the sweep to the send workers.
type Queue interface {
	Publish(topic string, payload any) error
	Consume(topic string, prefetch int, handler func(body []byte) error) error
	Close() error
}

// SendJob is the payload published per pending recipient.
type SendJob struct {
	RecipientID int `json:"recipient_id"`
	CampaignID  int `json:"campaign_id"`
	TenantID    int `json:"tenant_id"`
}

const maxRequeues = 3

// AMQPQueue is the RabbitMQ-backed queue. Queues are durable; consumers ack
// manually and bound requeues via the x-retry-count header.
type AMQPQueue struct {
	conn *amqp.Connection
	ch   *amqp.Channel
	Log  *zap.Logger
}

func NewAMQPQueue(url string, log *zap.Logger) (*AMQPQueue, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}
	return &AMQPQueue{conn: conn, ch: ch, Log: log}, nil
}

func (q *AMQPQueue) declare(topic string) (amqp.Queue, error) {
	return q.ch.QueueDeclare(
		topic,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,
	)
}

func (q *AMQPQueue) Publish(topic string, payload any) error {
	if _, err := q.declare(topic); err != nil {
		return err
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return q.ch.Publish("", topic, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
	})
}

// retryCountFrom reads the x-retry-count header. A plain Nack requeue keeps
// headers as-is, so the count only moves when we republish it ourselves.
func retryCountFrom(headers amqp.Table) int {
	switch v := headers["x-retry-count"].(type) {
	case int32:
		return int(v)
	case int64:
		return int(v)
	}
	return 0
}

// nextAttempt decides whether a failed delivery gets another run and builds
// the headers for its republish.
func nextAttempt(headers amqp.Table) (amqp.Table, bool) {
	n := retryCountFrom(headers)
	if n >= maxRequeues {
		return nil, false
	}
	return amqp.Table{"x-retry-count": int32(n + 1)}, true
}

// Consume runs handler for each delivery on its own channel so prefetch
// bounds this consumer's in-flight jobs. A handler error republishes the
// body with x-retry-count incremented and acks the original; after
// maxRequeues the job is dropped with an ack.
func (q *AMQPQueue) Consume(topic string, prefetch int, handler func(body []byte) error) error {
	ch, err := q.conn.Channel()
	if err != nil {
		return err
	}
	if err := ch.Qos(prefetch, 0, false); err != nil {
		return err
	}
	if _, err := ch.QueueDeclare(topic, true, false, false, false, nil); err != nil {
		return err
	}

	msgs, err := ch.Consume(topic, "", false, false, false, false, nil)
	if err != nil {
		return err
	}

	go func() {
		for d := range msgs {
			if err := handler(d.Body); err != nil {
				headers, retry := nextAttempt(d.Headers)
				if !retry {
					q.Log.Error("job dropped after max requeues",
						zap.String("topic", topic), zap.Error(err))
					d.Ack(false)
					continue
				}
				q.Log.Warn("job failed, requeueing",
					zap.String("topic", topic), zap.Int("retry", retryCountFrom(d.Headers)), zap.Error(err))
				pubErr := ch.Publish("", topic, false, false, amqp.Publishing{
					ContentType:  "application/json",
					DeliveryMode: amqp.Persistent,
					Headers:      headers,
					Body:         d.Body,
				})
				if pubErr != nil {
					// keep the job; a plain requeue loses the count but not the work
					q.Log.Error("requeue publish failed", zap.String("topic", topic), zap.Error(pubErr))
					d.Nack(false, true)
					continue
				}
			}
			d.Ack(false)
		}
	}()
	return nil
}

func (q *AMQPQueue) Close() error {
	if err := q.ch.Close(); err != nil {
		return err
	}
	return q.conn.Close()
}

// InMemoryQueue delivers published payloads synchronously to subscribed
// handlers. Used by tests and single-process setups.
type InMemoryQueue struct {
	mu       sync.Mutex
	handlers map[string][]func(body []byte) error
}

func NewInMemoryQueue() *InMemoryQueue {
	return &InMemoryQueue{handlers: make(map[string][]func(body []byte) error)}
}

func (q *InMemoryQueue) Publish(topic string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	q.mu.Lock()
	handlers := append([]func(body []byte) error{}, q.handlers[topic]...)
	q.mu.Unlock()

	for _, handler := range handlers {
		if err := handler(body); err != nil {
			return err
		}
	}
	return nil
}

func (q *InMemoryQueue) Consume(topic string, prefetch int, handler func(body []byte) error) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[topic] = append(q.handlers[topic], handler)
	return nil
}

func (q *InMemoryQueue) Close() error { return nil }

var (
	_ Queue = (*AMQPQueue)(nil)
	_ Queue = (*InMemoryQueue)(nil)
)
