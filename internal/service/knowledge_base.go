// knowledge_base.go — сервис базы знаний: категории, статьи, оценки статей.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/bigkaa/clientportal/internal/domain/model"
	"github.com/bigkaa/clientportal/internal/repository"
)

// slugPattern — допустимый slug категории и статьи.
var slugPattern = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)

// searchLimit — максимум результатов поиска по статьям.
const searchLimit = 20

// ArticleView — статья с агрегированными оценками.
type ArticleView struct {
	Article  model.KBArticle
	Feedback model.ArticleFeedbackStats
}

// KnowledgeBaseService — сервис базы знаний.
type KnowledgeBaseService struct {
	repo   repository.KnowledgeBaseRepository
	logger *slog.Logger
}

// NewKnowledgeBaseService создаёт сервис базы знаний.
func NewKnowledgeBaseService(repo repository.KnowledgeBaseRepository, logger *slog.Logger) *KnowledgeBaseService {
	return &KnowledgeBaseService{
		repo:   repo,
		logger: logger.With(slog.String("component", "kb_service")),
	}
}

// Categories возвращает категории с числом опубликованных статей.
func (s *KnowledgeBaseService) Categories(ctx context.Context) ([]model.KBCategory, error) {
	list, err := s.repo.ListCategories(ctx)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения категорий: %w", err)
	}
	return list, nil
}

// CategoryArticles возвращает категорию и её опубликованные статьи.
func (s *KnowledgeBaseService) CategoryArticles(ctx context.Context, slug string) (*model.KBCategory, []model.KBArticle, error) {
	cat, err := s.repo.GetCategoryBySlug(ctx, slug)
	if err != nil {
		return nil, nil, mapRepoErr(err, "ошибка получения категории")
	}
	articles, err := s.repo.ListArticles(ctx, cat.ID, true)
	if err != nil {
		return nil, nil, fmt.Errorf("ошибка получения статей категории: %w", err)
	}
	return cat, articles, nil
}

// Search ищет опубликованные статьи по подстроке заголовка или текста.
func (s *KnowledgeBaseService) Search(ctx context.Context, query string) ([]model.KBArticle, error) {
	query = strings.TrimSpace(query)
	if len([]rune(query)) < 2 {
		return nil, fmt.Errorf("%w: запрос должен содержать не менее 2 символов", ErrValidation)
	}
	list, err := s.repo.SearchArticles(ctx, query, searchLimit)
	if err != nil {
		return nil, fmt.Errorf("ошибка поиска статей: %w", err)
	}
	return list, nil
}

// Article возвращает опубликованную статью по slug с оценками.
// Неопубликованная статья видна только сотрудникам (staff).
func (s *KnowledgeBaseService) Article(ctx context.Context, slug string, staff bool) (*ArticleView, error) {
	a, err := s.repo.GetArticleBySlug(ctx, slug)
	if err != nil {
		return nil, mapRepoErr(err, "ошибка получения статьи")
	}
	if !a.IsPublished && !staff {
		return nil, ErrNotFound
	}

	stats, err := s.repo.FeedbackStats(ctx, a.ID)
	if err != nil {
		s.logger.Warn("Не удалось получить оценки статьи",
			slog.String("article_id", a.ID),
			slog.String("error", err.Error()),
		)
	}
	return &ArticleView{Article: *a, Feedback: stats}, nil
}

// Feedback сохраняет оценку статьи пользователем (одна оценка на пользователя,
// повторная перезаписывает предыдущую).
func (s *KnowledgeBaseService) Feedback(ctx context.Context, slug, userID string, helpful bool) (model.ArticleFeedbackStats, error) {
	a, err := s.repo.GetArticleBySlug(ctx, slug)
	if err != nil {
		return model.ArticleFeedbackStats{}, mapRepoErr(err, "ошибка получения статьи")
	}
	if !a.IsPublished {
		return model.ArticleFeedbackStats{}, ErrNotFound
	}
	if err := s.repo.SetFeedback(ctx, a.ID, userID, helpful); err != nil {
		return model.ArticleFeedbackStats{}, mapRepoErr(err, "ошибка сохранения оценки")
	}

	s.logger.Debug("Оценка статьи сохранена",
		slog.String("article_id", a.ID),
		slog.String("user_id", userID),
		slog.Bool("helpful", helpful),
	)
	return s.repo.FeedbackStats(ctx, a.ID)
}

// SaveCategory создаёт или обновляет категорию по slug.
func (s *KnowledgeBaseService) SaveCategory(ctx context.Context, c *model.KBCategory) error {
	c.Slug = strings.TrimSpace(c.Slug)
	c.Name = strings.TrimSpace(c.Name)
	if !slugPattern.MatchString(c.Slug) {
		return fmt.Errorf("%w: некорректный slug %q", ErrValidation, c.Slug)
	}
	if c.Name == "" {
		return fmt.Errorf("%w: название категории обязательно", ErrValidation)
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if err := s.repo.UpsertCategory(ctx, c); err != nil {
		return mapRepoErr(err, "ошибка сохранения категории")
	}
	s.logger.Info("Категория сохранена", slog.String("slug", c.Slug))
	return nil
}

// SaveArticle создаёт или обновляет статью по slug. categorySlug должен существовать.
func (s *KnowledgeBaseService) SaveArticle(ctx context.Context, categorySlug string, a *model.KBArticle) error {
	a.Slug = strings.TrimSpace(a.Slug)
	a.Title = strings.TrimSpace(a.Title)
	if !slugPattern.MatchString(a.Slug) {
		return fmt.Errorf("%w: некорректный slug %q", ErrValidation, a.Slug)
	}
	if a.Title == "" {
		return fmt.Errorf("%w: заголовок статьи обязателен", ErrValidation)
	}

	cat, err := s.repo.GetCategoryBySlug(ctx, categorySlug)
	if err != nil {
		return mapRepoErr(err, "ошибка получения категории")
	}
	a.CategoryID = cat.ID
	if a.ID == "" {
		a.ID = uuid.NewString()
	}

	if err := s.repo.UpsertArticle(ctx, a); err != nil {
		return mapRepoErr(err, "ошибка сохранения статьи")
	}
	s.logger.Info("Статья сохранена",
		slog.String("slug", a.Slug),
		slog.Bool("published", a.IsPublished),
	)
	return nil
}
