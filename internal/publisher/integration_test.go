//go:build integration

package publisher

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/rabbitmq"
	"github.com/testcontainers/testcontainers-go/wait"

	"news_sync/internal/domain"
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

func (s *RabbitMQIntegrationSuite) TestPublisher_Connection() {
	cfg := Config{
		URL:        s.amqpURL,
		Exchange:   "test-exchange",
		RoutingKey: "test-routing-key",
		QueueName:  "test-queue",
	}

	pub, err := NewRabbitMQ(cfg, s.logger)
	s.NoError(err)
	s.NotNil(pub)

	err = pub.Close()
	s.NoError(err)
}

func (s *RabbitMQIntegrationSuite) TestPublisher_PublishCreated() {
	cfg := Config{
		URL:        s.amqpURL,
		Exchange:   "test-exchange-create",
		RoutingKey: "test-routing-key-create",
		QueueName:  "test-queue-create",
	}

	pub, err := NewRabbitMQ(cfg, s.logger)
	s.Require().NoError(err)
	defer pub.Close()

	article := &domain.Article{
		ID:          1,
		SourceID:    "wire",
		ExternalID:  "w-123",
		Language:    domain.LanguageEnglish,
		Category:    "economy",
		Title:       "Test Article",
		Body:        "Body",
		URL:         "https://example.com/article",
		Tags:        []string{"rates", "banks"},
		PublishedAt: time.Now().Truncate(time.Millisecond),
		Fingerprint: "f00d",
	}

	err = pub.Publish(s.ctx, article)
	s.NoError(err)

	msg := s.consumeMessage(cfg)
	s.Require().NotNil(msg)

	s.Equal("application/json", msg.ContentType)
	s.Equal(EventArticleCreated, msg.Type)
	s.Equal(uint8(amqp.Persistent), msg.DeliveryMode)

	var received ArticleMessage
	err = json.Unmarshal(msg.Body, &received)
	s.NoError(err)
	s.Equal(EventArticleCreated, received.Event)
	s.Equal("w-123", received.Article.ExternalID)
	s.Equal("Test Article", received.Article.Title)
	s.Equal("f00d", received.Article.Fingerprint)
	s.Equal([]string{"rates", "banks"}, received.Article.Tags)
	s.False(received.Timestamp.IsZero())
}

func (s *RabbitMQIntegrationSuite) TestPublisher_ThroughFanout() {
	cfg := Config{
		URL:        s.amqpURL,
		Exchange:   "test-exchange-fanout",
		RoutingKey: "test-routing-key-fanout",
		QueueName:  "test-queue-fanout",
	}

	pub, err := NewRabbitMQ(cfg, s.logger)
	s.Require().NoError(err)

	f := NewFanout(s.logger, pub)
	defer f.Close()

	err = f.Publish(s.ctx, &domain.Article{ID: 2, SourceID: "kabar", Title: "Harga Beras"})
	s.NoError(err)

	msg := s.consumeMessage(cfg)
	s.Require().NotNil(msg)

	var received ArticleMessage
	s.NoError(json.Unmarshal(msg.Body, &received))
	s.Equal("kabar", received.Article.SourceID)
}

func (s *RabbitMQIntegrationSuite) consumeMessage(cfg Config) *amqp.Delivery {
	conn, err := amqp.Dial(s.amqpURL)
	s.Require().NoError(err)
	defer conn.Close()

	ch, err := conn.Channel()
	s.Require().NoError(err)
	defer ch.Close()

	msgs, err := ch.Consume(cfg.QueueName, "", true, false, false, false, nil)
	s.Require().NoError(err)

	select {
	case msg := <-msgs:
		return &msg
	case <-time.After(5 * time.Second):
		s.Fail("Timeout waiting for message")
		return nil
	}
}