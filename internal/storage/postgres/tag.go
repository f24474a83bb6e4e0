package postgres

import (
	"context"
	"strings"

	"github.com/jmoiron/sqlx"
)

type TagStore struct {
	db *sqlx.DB
}

func NewTagStore(db *sqlx.DB) *TagStore {
	return &TagStore{db: db}
}

// Ensure creates missing labels and returns the ids of all of them.
// Labels are matched case-insensitively.
func (s *TagStore) Ensure(ctx context.Context, labels []string) ([]int64, error) {
	seen := make(map[string]struct{}, len(labels))
	valueArgs := make([]interface{}, 0, len(labels))
	for _, label := range labels {
		key := strings.ToLower(strings.TrimSpace(label))
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		valueArgs = append(valueArgs, key)
	}
	if len(valueArgs) == 0 {
		return nil, nil
	}

	var sb strings.Builder
	sb.WriteString("INSERT INTO tags (label) VALUES ")
	for i := range valueArgs {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("($")
		sb.WriteString(itoa(i + 1))
		sb.WriteString(")")
	}
	sb.WriteString(" ON CONFLICT (label) DO UPDATE SET label = EXCLUDED.label RETURNING id")

	var ids []int64
	err := sqlx.SelectContext(ctx, GetExecutor(ctx, s.db), &ids, sb.String(), valueArgs...)
	return ids, err
}

func (s *TagStore) LinkToArticle(ctx context.Context, articleID int64, tagIDs []int64) error {
	exec := GetExecutor(ctx, s.db)

	_, err := exec.ExecContext(ctx,
		"DELETE FROM article_tags WHERE article_id = $1",
		articleID,
	)
	if err != nil {
		return err
	}

	if len(tagIDs) == 0 {
		return nil
	}

	var sb strings.Builder
	sb.WriteString("INSERT INTO article_tags (article_id, tag_id) VALUES ")
	valueArgs := make([]interface{}, 0, len(tagIDs)+1)
	valueArgs = append(valueArgs, articleID)

	for i, tagID := range tagIDs {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("($1, $")
		sb.WriteString(itoa(i + 2))
		sb.WriteString(")")
		valueArgs = append(valueArgs, tagID)
	}
	sb.WriteString(" ON CONFLICT DO NOTHING")

	_, err = exec.ExecContext(ctx, sb.String(), valueArgs...)
	return err
}

func itoa(i int) string {
	if i < 10 {
		return string(rune('0' + i))
	}
	return itoa(i/10) + string(rune('0'+i%10))
}
