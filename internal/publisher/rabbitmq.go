// Package publisher announces newly stored leads on a RabbitMQ exchange so
// downstream consumers (CRM sync, dashboards) need not poll the database.
package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"lead_scraper/internal/domain"
)

// EventResultCreated is the message type of every lead announcement.
const EventResultCreated = "result.created"

type Config struct {
	URL        string
	Exchange   string
	RoutingKey string
	QueueName  string
}

// LeadMessage is the wire form of a stored lead. The post body is left out;
// consumers follow URL for the full text.
type LeadMessage struct {
	Event           string     `json:"event"`
	ResultID        int64      `json:"result_id"`
	JobID           int64      `json:"job_id"`
	ExternalPostID  string     `json:"external_post_id"`
	Source          string     `json:"source"`
	Title           string     `json:"title"`
	Author          string     `json:"author"`
	URL             string     `json:"url"`
	MatchedKeywords []string   `json:"matched_keywords"`
	Score           *int       `json:"score"`
	ScoreReason     *string    `json:"score_reason,omitempty"`
	PostedAt        *time.Time `json:"posted_at,omitempty"`
	StoredAt        time.Time  `json:"stored_at"`
	PublishedAt     time.Time  `json:"published_at"`
}

func newLeadMessage(r *domain.Result, now time.Time) LeadMessage {
	keywords := r.MatchedKeywords
	if keywords == nil {
		keywords = []string{}
	}
	return LeadMessage{
		Event:           EventResultCreated,
		ResultID:        r.ID,
		JobID:           r.JobID,
		ExternalPostID:  r.ExternalPostID,
		Source:          r.Source,
		Title:           r.Title,
		Author:          r.Author,
		URL:             r.URL,
		MatchedKeywords: keywords,
		Score:           r.AIScore,
		ScoreReason:     r.AIReason,
		PostedAt:        r.PostCreatedAt,
		StoredAt:        r.CreatedAt,
		PublishedAt:     now,
	}
}

// RabbitMQ publishes leads over one channel shared by concurrent runs;
// publishes on it are serialised.
type RabbitMQ struct {
	mu         sync.Mutex
	conn       *amqp.Connection
	channel    *amqp.Channel
	exchange   string
	routingKey string
	logger     *slog.Logger
}

func NewRabbitMQ(cfg Config, logger *slog.Logger) (*RabbitMQ, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("connect to rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	if err := declareTopology(ch, cfg); err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}

	logger.Info("connected to rabbitmq",
		"exchange", cfg.Exchange,
		"queue", cfg.QueueName,
		"routing_key", cfg.RoutingKey,
	)

	return &RabbitMQ{
		conn:       conn,
		channel:    ch,
		exchange:   cfg.Exchange,
		routingKey: cfg.RoutingKey,
		logger:     logger.With("component", "publisher"),
	}, nil
}

// declareTopology sets up a durable direct exchange with the leads queue
// bound to it.
func declareTopology(ch *amqp.Channel, cfg Config) error {
	const durable, autoDelete, internal, exclusive, noWait = true, false, false, false, false

	if err := ch.ExchangeDeclare(cfg.Exchange, amqp.ExchangeDirect, durable, autoDelete, internal, noWait, nil); err != nil {
		return fmt.Errorf("declare exchange %q: %w", cfg.Exchange, err)
	}
	q, err := ch.QueueDeclare(cfg.QueueName, durable, autoDelete, exclusive, noWait, nil)
	if err != nil {
		return fmt.Errorf("declare queue %q: %w", cfg.QueueName, err)
	}
	if err := ch.QueueBind(q.Name, cfg.RoutingKey, cfg.Exchange, noWait, nil); err != nil {
		return fmt.Errorf("bind queue %q: %w", q.Name, err)
	}
	return nil
}

// Publish announces a stored result. The message id is the result id, so
// consumers can drop redeliveries.
func (r *RabbitMQ) Publish(ctx context.Context, result *domain.Result) error {
	now := time.Now().UTC()
	body, err := json.Marshal(newLeadMessage(result, now))
	if err != nil {
		return fmt.Errorf("marshal lead: %w", err)
	}

	msg := amqp.Publishing{
		DeliveryMode: amqp.Persistent,
		ContentType:  "application/json",
		Type:         EventResultCreated,
		MessageId:    fmt.Sprintf("result-%d", result.ID),
		Timestamp:    now,
		Body:         body,
	}

	r.mu.Lock()
	err = r.channel.PublishWithContext(ctx, r.exchange, r.routingKey, false, false, msg)
	r.mu.Unlock()
	if err != nil {
		return fmt.Errorf("publish lead %d: %w", result.ID, err)
	}

	r.logger.Debug("published lead",
		"result_id", result.ID,
		"job_id", result.JobID,
	)
	return nil
}

func (r *RabbitMQ) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.channel != nil {
		r.channel.Close()
	}
	if r.conn != nil {
		return r.conn.Close()
	}
	return nil
}
