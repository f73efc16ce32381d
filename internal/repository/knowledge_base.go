package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/clientportal/internal/domain/model"
)

// KnowledgeBaseRepository — категории, статьи и оценки базы знаний.
type KnowledgeBaseRepository interface {
	// ListCategories возвращает категории с числом опубликованных статей.
	ListCategories(ctx context.Context) ([]model.KBCategory, error)
	// GetCategoryBySlug возвращает категорию по slug.
	GetCategoryBySlug(ctx context.Context, slug string) (*model.KBCategory, error)
	// UpsertCategory создаёт или обновляет категорию по slug.
	UpsertCategory(ctx context.Context, c *model.KBCategory) error
	// ListArticles возвращает статьи категории. publishedOnly скрывает черновики.
	ListArticles(ctx context.Context, categoryID string, publishedOnly bool) ([]model.KBArticle, error)
	// SearchArticles ищет опубликованные статьи по заголовку и тексту.
	SearchArticles(ctx context.Context, query string, limit int) ([]model.KBArticle, error)
	// GetArticleBySlug возвращает статью по slug.
	GetArticleBySlug(ctx context.Context, slug string) (*model.KBArticle, error)
	// UpsertArticle создаёт или обновляет статью по slug.
	UpsertArticle(ctx context.Context, a *model.KBArticle) error
	// SetFeedback сохраняет оценку статьи пользователем (одна на пользователя).
	SetFeedback(ctx context.Context, articleID, userID string, helpful bool) error
	// FeedbackStats возвращает агрегированные оценки статьи.
	FeedbackStats(ctx context.Context, articleID string) (model.ArticleFeedbackStats, error)
}

type knowledgeBaseRepo struct {
	db DBTX
}

// NewKnowledgeBaseRepository создаёт репозиторий базы знаний.
func NewKnowledgeBaseRepository(db DBTX) KnowledgeBaseRepository {
	return &knowledgeBaseRepo{db: db}
}

const articleColumns = `id, category_id, slug, title, body, is_published, created_at, updated_at`

func articleScanTargets(a *model.KBArticle) []any {
	return []any{&a.ID, &a.CategoryID, &a.Slug, &a.Title, &a.Body, &a.IsPublished, &a.CreatedAt, &a.UpdatedAt}
}

func (r *knowledgeBaseRepo) ListCategories(ctx context.Context) ([]model.KBCategory, error) {
	rows, err := r.db.Query(ctx, `
		SELECT c.id, c.slug, c.name, c.description, c.sort_order, c.created_at,
			COUNT(a.id) FILTER (WHERE a.is_published)
		FROM kb_categories c
		LEFT JOIN kb_articles a ON a.category_id = c.id
		GROUP BY c.id
		ORDER BY c.sort_order, c.name`)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения категорий: %w", err)
	}
	defer rows.Close()

	var result []model.KBCategory
	for rows.Next() {
		var c model.KBCategory
		if err := rows.Scan(&c.ID, &c.Slug, &c.Name, &c.Description, &c.SortOrder, &c.CreatedAt, &c.ArticleCount); err != nil {
			return nil, fmt.Errorf("ошибка сканирования категории: %w", err)
		}
		result = append(result, c)
	}
	return result, rows.Err()
}

func (r *knowledgeBaseRepo) GetCategoryBySlug(ctx context.Context, slug string) (*model.KBCategory, error) {
	c := &model.KBCategory{}
	err := r.db.QueryRow(ctx, `
		SELECT id, slug, name, description, sort_order, created_at
		FROM kb_categories WHERE slug = $1`, slug,
	).Scan(&c.ID, &c.Slug, &c.Name, &c.Description, &c.SortOrder, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения категории: %w", err)
	}
	return c, nil
}

func (r *knowledgeBaseRepo) UpsertCategory(ctx context.Context, c *model.KBCategory) error {
	err := r.db.QueryRow(ctx, `
		INSERT INTO kb_categories (id, slug, name, description, sort_order)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (slug) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			sort_order = EXCLUDED.sort_order
		RETURNING id, created_at`,
		c.ID, c.Slug, c.Name, c.Description, c.SortOrder,
	).Scan(&c.ID, &c.CreatedAt)
	if err != nil {
		return fmt.Errorf("ошибка сохранения категории: %w", err)
	}
	return nil
}

func (r *knowledgeBaseRepo) ListArticles(ctx context.Context, categoryID string, publishedOnly bool) ([]model.KBArticle, error) {
	rows, err := r.db.Query(ctx, fmt.Sprintf(`
		SELECT %s FROM kb_articles
		WHERE category_id = $1 AND (is_published OR NOT $2)
		ORDER BY title`, articleColumns), categoryID, publishedOnly)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения статей: %w", err)
	}
	defer rows.Close()
	return collectArticles(rows)
}

func (r *knowledgeBaseRepo) SearchArticles(ctx context.Context, query string, limit int) ([]model.KBArticle, error) {
	rows, err := r.db.Query(ctx, fmt.Sprintf(`
		SELECT %s FROM kb_articles
		WHERE is_published AND (title ILIKE $1 OR body ILIKE $1)
		ORDER BY (title ILIKE $1) DESC, title
		LIMIT $2`, articleColumns), "%"+query+"%", limit)
	if err != nil {
		return nil, fmt.Errorf("ошибка поиска статей: %w", err)
	}
	defer rows.Close()
	return collectArticles(rows)
}

func collectArticles(rows pgx.Rows) ([]model.KBArticle, error) {
	var result []model.KBArticle
	for rows.Next() {
		var a model.KBArticle
		if err := rows.Scan(articleScanTargets(&a)...); err != nil {
			return nil, fmt.Errorf("ошибка сканирования статьи: %w", err)
		}
		result = append(result, a)
	}
	return result, rows.Err()
}

func (r *knowledgeBaseRepo) GetArticleBySlug(ctx context.Context, slug string) (*model.KBArticle, error) {
	a := &model.KBArticle{}
	err := r.db.QueryRow(ctx,
		fmt.Sprintf(`SELECT %s FROM kb_articles WHERE slug = $1`, articleColumns), slug,
	).Scan(articleScanTargets(a)...)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения статьи: %w", err)
	}
	return a, nil
}

func (r *knowledgeBaseRepo) UpsertArticle(ctx context.Context, a *model.KBArticle) error {
	err := r.db.QueryRow(ctx, `
		INSERT INTO kb_articles (id, category_id, slug, title, body, is_published)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (slug) DO UPDATE SET
			category_id = EXCLUDED.category_id,
			title = EXCLUDED.title,
			body = EXCLUDED.body,
			is_published = EXCLUDED.is_published,
			updated_at = NOW()
		RETURNING id, created_at, updated_at`,
		a.ID, a.CategoryID, a.Slug, a.Title, a.Body, a.IsPublished,
	).Scan(&a.ID, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if isForeignKeyViolation(err) {
			return ErrNotFound
		}
		return fmt.Errorf("ошибка сохранения статьи: %w", err)
	}
	return nil
}

func (r *knowledgeBaseRepo) SetFeedback(ctx context.Context, articleID, userID string, helpful bool) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO article_feedback (article_id, user_id, helpful)
		VALUES ($1, $2, $3)
		ON CONFLICT (article_id, user_id) DO UPDATE SET
			helpful = EXCLUDED.helpful,
			created_at = NOW()`,
		articleID, userID, helpful)
	if err != nil {
		if isForeignKeyViolation(err) {
			return ErrNotFound
		}
		return fmt.Errorf("ошибка сохранения оценки статьи: %w", err)
	}
	return nil
}

func (r *knowledgeBaseRepo) FeedbackStats(ctx context.Context, articleID string) (model.ArticleFeedbackStats, error) {
	var stats model.ArticleFeedbackStats
	err := r.db.QueryRow(ctx, `
		SELECT COUNT(*) FILTER (WHERE helpful), COUNT(*) FILTER (WHERE NOT helpful)
		FROM article_feedback WHERE article_id = $1`, articleID,
	).Scan(&stats.Helpful, &stats.NotHelpful)
	if err != nil {
		return stats, fmt.Errorf("ошибка получения оценок статьи: %w", err)
	}
	return stats, nil
}
