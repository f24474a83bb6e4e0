// Package publisher announces newly stored articles to downstream consumers.
package publisher

import (
	"encoding/json"
	"fmt"
	"time"

	"news_sync/internal/domain"
)

const EventArticleCreated = "article.created"

type ArticleMessage struct {
	Event     string         `json:"event"`
	Article   domain.Article `json:"article"`
	Timestamp time.Time      `json:"timestamp"`
}

func encodeArticle(article *domain.Article) ([]byte, error) {
	body, err := json.Marshal(ArticleMessage{
		Event:     EventArticleCreated,
		Article:   *article,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("marshal message: %w", err)
	}
	return body, nil
}
