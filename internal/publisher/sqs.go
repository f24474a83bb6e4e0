package publisher

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"news_sync/internal/domain"
)

// sqsClient is the subset of the SQS client the publisher needs.
type sqsClient interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

type SQSConfig struct {
	Region   string
	QueueURL string
}

type SQS struct {
	queueURL string
	client   sqsClient
	logger   *slog.Logger
}

// NewSQS loads credentials from the default AWS chain.
func NewSQS(ctx context.Context, cfg SQSConfig, logger *slog.Logger) (*SQS, error) {
	if cfg.QueueURL == "" {
		return nil, fmt.Errorf("sqs queue url is empty")
	}

	awsCfg, err := awscfg.LoadDefaultConfig(ctx, awscfg.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return newSQSWithClient(cfg.QueueURL, sqs.NewFromConfig(awsCfg), logger), nil
}

func newSQSWithClient(queueURL string, client sqsClient, logger *slog.Logger) *SQS {
	return &SQS{
		queueURL: queueURL,
		client:   client,
		logger:   logger.With("publisher", "sqs"),
	}
}

func (s *SQS) Publish(ctx context.Context, article *domain.Article) error {
	body, err := encodeArticle(article)
	if err != nil {
		return err
	}

	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(s.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"event": {
				DataType:    aws.String("String"),
				StringValue: aws.String(EventArticleCreated),
			},
			"source_id": {
				DataType:    aws.String("String"),
				StringValue: aws.String(article.SourceID),
			},
		},
	}

	if _, err := s.client.SendMessage(ctx, input); err != nil {
		return fmt.Errorf("send message to sqs: %w", err)
	}

	s.logger.Debug("published article", "article_id", article.ID)
	return nil
}
