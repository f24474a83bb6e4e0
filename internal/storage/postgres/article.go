package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"news_sync/internal/domain"
)

const uniqueViolation = "23505"

type ArticleStore struct {
	db *sqlx.DB
}

func NewArticleStore(db *sqlx.DB) *ArticleStore {
	return &ArticleStore{db: db}
}

// Insert stores a new article. A fingerprint conflict is reported as
// domain.ErrDuplicateArticle so concurrent jobs racing on the same story
// count it as a duplicate.
func (s *ArticleStore) Insert(ctx context.Context, article *domain.Article) (int64, error) {
	query := `
		INSERT INTO articles (
			source_id, external_id, language, category, title, body, url,
			published_at, fingerprint
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9
		)
		RETURNING id`

	var id int64
	err := GetExecutor(ctx, s.db).QueryRowxContext(ctx, query,
		article.SourceID,
		article.ExternalID,
		article.Language,
		article.Category,
		article.Title,
		article.Body,
		article.URL,
		article.PublishedAt,
		article.Fingerprint,
	).Scan(&id)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return 0, fmt.Errorf("fingerprint %s: %w", article.Fingerprint, domain.ErrDuplicateArticle)
		}
		return 0, fmt.Errorf("insert article: %w", err)
	}

	return id, nil
}

func (s *ArticleStore) ExistsFingerprint(ctx context.Context, fingerprint string) (bool, error) {
	var exists bool
	err := sqlx.GetContext(ctx, GetExecutor(ctx, s.db), &exists,
		"SELECT EXISTS (SELECT 1 FROM articles WHERE fingerprint = $1)",
		fingerprint,
	)
	if err != nil {
		return false, fmt.Errorf("lookup fingerprint: %w", err)
	}
	return exists, nil
}
