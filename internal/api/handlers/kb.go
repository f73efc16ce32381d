// kb.go — база знаний: чтение для всех вошедших, редактирование для сотрудников.
package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/bigkaa/clientportal/internal/api/errors"
	"github.com/bigkaa/clientportal/internal/domain/model"
)

// ListKBCategories — GET /api/v1/kb/categories
func (h *APIHandler) ListKBCategories(w http.ResponseWriter, r *http.Request) {
	list, err := h.svc.KB.Categories(r.Context())
	if err != nil {
		h.writeServiceError(w, err, "категории базы знаний")
		return
	}
	items := make([]categoryDTO, 0, len(list))
	for i := range list {
		items = append(items, categoryToDTO(&list[i]))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

// GetKBCategory — GET /api/v1/kb/categories/{slug}
// Категория и её опубликованные статьи.
func (h *APIHandler) GetKBCategory(w http.ResponseWriter, r *http.Request) {
	cat, articles, err := h.svc.KB.CategoryArticles(r.Context(), chi.URLParam(r, "slug"))
	if err != nil {
		h.writeServiceError(w, err, "категория базы знаний")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"category": categoryToDTO(cat),
		"articles": articlesToDTO(articles),
	})
}

// SearchKB — GET /api/v1/kb/search?q=...
func (h *APIHandler) SearchKB(w http.ResponseWriter, r *http.Request) {
	list, err := h.svc.KB.Search(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		h.writeServiceError(w, err, "поиск по базе знаний")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": articlesToDTO(list)})
}

// GetKBArticle — GET /api/v1/kb/articles/{slug}
// Черновики видны только сотрудникам (по реальной идентичности).
func (h *APIHandler) GetKBArticle(w http.ResponseWriter, r *http.Request) {
	real, ok := h.realIdentity(w, r)
	if !ok {
		return
	}
	view, err := h.svc.KB.Article(r.Context(), chi.URLParam(r, "slug"), real.IsStaff)
	if err != nil {
		h.writeServiceError(w, err, "статья базы знаний")
		return
	}
	dto := articleToDTO(&view.Article, true)
	dto.Feedback = feedbackToDTO(view.Feedback)
	writeJSON(w, http.StatusOK, dto)
}

// PostKBFeedback — POST /api/v1/kb/articles/{slug}/feedback
func (h *APIHandler) PostKBFeedback(w http.ResponseWriter, r *http.Request) {
	eff, ok := h.effective(w, r)
	if !ok {
		return
	}
	var req feedbackRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Helpful == nil {
		apierrors.ValidationError(w, "Поле helpful обязательно")
		return
	}

	stats, err := h.svc.KB.Feedback(r.Context(), chi.URLParam(r, "slug"), eff.Identity().ID, *req.Helpful)
	if err != nil {
		h.writeServiceError(w, err, "оценка статьи")
		return
	}
	writeJSON(w, http.StatusOK, feedbackToDTO(stats))
}

// SaveKBCategory — PUT /api/v1/admin/kb/categories
// Создание или обновление категории по slug.
func (h *APIHandler) SaveKBCategory(w http.ResponseWriter, r *http.Request) {
	var req categoryRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	cat := &model.KBCategory{
		Slug:        req.Slug,
		Name:        req.Name,
		Description: req.Description,
		SortOrder:   req.SortOrder,
	}
	if err := h.svc.KB.SaveCategory(r.Context(), cat); err != nil {
		h.writeServiceError(w, err, "сохранение категории")
		return
	}
	writeJSON(w, http.StatusOK, categoryToDTO(cat))
}

// SaveKBArticle — PUT /api/v1/admin/kb/articles
// Создание или обновление статьи по slug.
func (h *APIHandler) SaveKBArticle(w http.ResponseWriter, r *http.Request) {
	var req articleRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	a := &model.KBArticle{
		Slug:        req.Slug,
		Title:       req.Title,
		Body:        req.Body,
		IsPublished: req.IsPublished,
	}
	if err := h.svc.KB.SaveArticle(r.Context(), req.CategorySlug, a); err != nil {
		h.writeServiceError(w, err, "сохранение статьи")
		return
	}
	writeJSON(w, http.StatusOK, articleToDTO(a, true))
}
