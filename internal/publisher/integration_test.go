//go:build integration

package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/rabbitmq"
	"github.com/testcontainers/testcontainers-go/wait"

	"lead_scraper/internal/domain"
)

type RabbitMQIntegrationSuite struct {
	suite.Suite
	ctx       context.Context
	container *rabbitmq.RabbitMQContainer
	amqpURL   string
	logger    *slog.Logger
}

func (s *RabbitMQIntegrationSuite) SetupSuite() {
	s.ctx = context.Background()
	s.logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	container, err := rabbitmq.Run(s.ctx,
		"rabbitmq:3.13-management-alpine",
		testcontainers.WithWaitStrategy(
			wait.ForLog("Server startup complete").
				WithStartupTimeout(60*time.Second),
		),
	)
	s.Require().NoError(err)
	s.container = container

	amqpURL, err := container.AmqpURL(s.ctx)
	s.Require().NoError(err)
	s.amqpURL = amqpURL
}

func (s *RabbitMQIntegrationSuite) TearDownSuite() {
	if s.container != nil {
		_ = s.container.Terminate(s.ctx)
	}
}

func TestRabbitMQIntegrationSuite(t *testing.T) {
	suite.Run(t, new(RabbitMQIntegrationSuite))
}

func (s *RabbitMQIntegrationSuite) config(name string) Config {
	return Config{
		URL:        s.amqpURL,
		Exchange:   "test-exchange-" + name,
		RoutingKey: "test-routing-key-" + name,
		QueueName:  "test-queue-" + name,
	}
}

func testResult(id int64) *domain.Result {
	score := 8
	reason := "asks for a bookkeeper"
	return &domain.Result{
		ID:              id,
		JobID:           3,
		ExternalPostID:  fmt.Sprintf("t3_%d", id),
		Title:           "Need help with bookkeeping",
		Author:          "alice",
		Source:          "smallbusiness",
		URL:             "https://www.reddit.com/r/smallbusiness/comments/abc/",
		MatchedKeywords: []string{"need help"},
		AIScore:         &score,
		AIReason:        &reason,
		CreatedAt:       time.Now().UTC().Truncate(time.Millisecond),
	}
}

func (s *RabbitMQIntegrationSuite) TestPublisher_Connection() {
	pub, err := NewRabbitMQ(s.config("conn"), s.logger)
	s.NoError(err)
	s.NotNil(pub)

	err = pub.Close()
	s.NoError(err)
}

func (s *RabbitMQIntegrationSuite) TestPublisher_MessageFormat() {
	cfg := s.config("format")
	pub, err := NewRabbitMQ(cfg, s.logger)
	s.Require().NoError(err)
	defer pub.Close()

	err = pub.Publish(s.ctx, testResult(1))
	s.NoError(err)

	msg := s.consumeMessage(cfg)
	s.Require().NotNil(msg)

	s.Equal("application/json", msg.ContentType)
	s.Equal(EventResultCreated, msg.Type)
	s.Equal(uint8(amqp.Persistent), msg.DeliveryMode)
	s.Equal("result-1", msg.MessageId)

	var received LeadMessage
	err = json.Unmarshal(msg.Body, &received)
	s.NoError(err)

	s.Equal(EventResultCreated, received.Event)
	s.Equal(int64(1), received.ResultID)
	s.Equal(int64(3), received.JobID)
	s.Equal("t3_1", received.ExternalPostID)
	s.Equal([]string{"need help"}, received.MatchedKeywords)
	s.Require().NotNil(received.Score)
	s.Equal(8, *received.Score)
	s.False(received.PublishedAt.IsZero())
}

func (s *RabbitMQIntegrationSuite) TestPublisher_ConcurrentPublishes() {
	cfg := s.config("concurrent")
	pub, err := NewRabbitMQ(cfg, s.logger)
	s.Require().NoError(err)
	defer pub.Close()

	var wg sync.WaitGroup
	for i := 1; i <= 20; i++ {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			s.NoError(pub.Publish(s.ctx, testResult(id)))
		}(int64(i))
	}
	wg.Wait()

	seen := make(map[int64]bool)
	for i := 0; i < 20; i++ {
		msg := s.consumeMessage(cfg)
		s.Require().NotNil(msg)
		var received LeadMessage
		s.Require().NoError(json.Unmarshal(msg.Body, &received))
		seen[received.ResultID] = true
	}
	s.Len(seen, 20)
}

func (s *RabbitMQIntegrationSuite) consumeMessage(cfg Config) *amqp.Delivery {
	conn, err := amqp.Dial(s.amqpURL)
	s.Require().NoError(err)
	defer conn.Close()

	ch, err := conn.Channel()
	s.Require().NoError(err)
	defer ch.Close()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		msg, ok, err := ch.Get(cfg.QueueName, true)
		s.Require().NoError(err)
		if ok {
			return &msg
		}
		time.Sleep(50 * time.Millisecond)
	}
	s.Fail("Timeout waiting for message")
	return nil
}
