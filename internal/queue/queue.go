package queue

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/unclebandit/campaign-dispatcher/internal/logger"
)

// Event topics emitted by the engine.
const (
	TopicCampaignCreated   = "campaign.created"
	TopicCampaignUpdated   = "campaign.updated"
	TopicCampaignScheduled = "campaign.scheduled"
	TopicCampaignSending   = "campaign.sending"
	TopicCampaignPaused    = "campaign.paused"
	TopicCampaignResumed   = "campaign.resumed"
	TopicCampaignCompleted = "campaign.completed"
	TopicCampaignFailed    = "campaign.failed"
	TopicMessageSent       = "message.sent"
	TopicMessageFailed     = "message.failed"
	TopicMessageDelivered  = "message.delivered"
	TopicRuleMatched       = "autoreply.matched"
	TopicRuleChanged       = "autoreply.changed"
	TopicChannelStatus     = "channel.status"
)

// AllTopics subscribes a handler to every topic.
const AllTopics = "*"

// Queue interface
type Queue interface {
	Publish(topic string, payload any) error
	Subscribe(topic string, handler func(payload any) error) error
}

// Event is the typed notification handed to subscribers.
type Event struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	Payload    any       `json:"payload"`
	OccurredAt time.Time `json:"occurred_at"`
}

// NewEvent stamps a payload with an id and time.
func NewEvent(topic string, payload any) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       topic,
		Payload:    payload,
		OccurredAt: time.Now().UTC(),
	}
}

// Emit publishes a typed event and logs instead of failing when the sink
// rejects it. Notification problems never change engine state.
func Emit(q Queue, log *logger.Logger, topic string, payload any) {
	if q == nil {
		return
	}
	if err := q.Publish(topic, NewEvent(topic, payload)); err != nil && log != nil {
		log.Warn("Failed to publish event", zap.String("topic", topic), zap.Error(err))
	}
}

// InMemoryQueue delivers events to in-process subscribers with retry.
type InMemoryQueue struct {
	mu         sync.Mutex
	handlers   map[string][]func(payload any) error
	maxRetries int
	backoff    time.Duration
	log        *logger.Logger
	wg         sync.WaitGroup
}

// NewInMemoryQueue creates a new queue
func NewInMemoryQueue(log *logger.Logger) *InMemoryQueue {
	if log == nil {
		log = logger.NewNop()
	}
	return &InMemoryQueue{
		handlers:   make(map[string][]func(payload any) error),
		maxRetries: 3,
		backoff:    500 * time.Millisecond,
		log:        log.Named("events"),
	}
}

// JobPayload wraps a message payload with retry info
type JobPayload struct {
	Topic      string
	Payload    any
	RetryCount int
	MaxRetries int
}

// Publish hands the payload to every subscriber of the topic and of
// AllTopics. Events without subscribers are dropped.
func (q *InMemoryQueue) Publish(topic string, payload any) error {
	q.mu.Lock()
	handlers := append([]func(payload any) error{}, q.handlers[topic]...)
	handlers = append(handlers, q.handlers[AllTopics]...)
	q.mu.Unlock()

	for _, handler := range handlers {
		job := JobPayload{
			Topic:      topic,
			Payload:    payload,
			MaxRetries: q.maxRetries,
		}
		q.wg.Add(1)
		go q.processJob(handler, job)
	}
	return nil
}

// processJob handles retries and errors
func (q *InMemoryQueue) processJob(handler func(payload any) error, job JobPayload) {
	defer q.wg.Done()
	for job.RetryCount <= job.MaxRetries {
		err := handler(job.Payload)
		if err == nil {
			return
		}

		job.RetryCount++
		q.log.Warn("Event handler failed",
			zap.String("topic", job.Topic),
			zap.Int("attempt", job.RetryCount),
			zap.Int("maxRetries", job.MaxRetries),
			zap.Error(err))

		if job.RetryCount > job.MaxRetries {
			q.log.Error("Event handler permanently failed", zap.String("topic", job.Topic))
			return
		}

		time.Sleep(time.Duration(job.RetryCount) * q.backoff)
	}
}

// Subscribe adds a handler for a topic
func (q *InMemoryQueue) Subscribe(topic string, handler func(payload any) error) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.handlers[topic] = append(q.handlers[topic], handler)
	return nil
}

// Wait blocks until every in-flight delivery has finished.
func (q *InMemoryQueue) Wait() {
	q.wg.Wait()
}

var _ Queue = (*InMemoryQueue)(nil)
