package model

import "time"

// KBCategory — категория базы знаний.
type KBCategory struct {
	ID          string
	Slug        string
	Name        string
	Description string
	SortOrder   int
	// ArticleCount — число опубликованных статей (заполняется при выборке)
	ArticleCount int
	CreatedAt    time.Time
}

// KBArticle — статья базы знаний.
type KBArticle struct {
	ID          string
	CategoryID  string
	Slug        string
	Title       string
	Body        string
	IsPublished bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ArticleFeedbackStats — агрегированная оценка статьи.
type ArticleFeedbackStats struct {
	Helpful    int
	NotHelpful int
}
