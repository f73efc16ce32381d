package service

import (
	"context"
	"io"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/bigkaa/clientportal/internal/domain/model"
	"github.com/bigkaa/clientportal/internal/domain/rbac"
	"github.com/bigkaa/clientportal/internal/identity"
	"github.com/bigkaa/clientportal/internal/repository"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func strPtr(s string) *string { return &s }

// --- Клиенты --- //

type fakeClientRepo struct {
	mu      sync.Mutex
	clients map[string]*model.Client
}

func newFakeClientRepo(clients ...*model.Client) *fakeClientRepo {
	r := &fakeClientRepo{clients: make(map[string]*model.Client)}
	for _, c := range clients {
		r.clients[c.ID] = c
	}
	return r
}

func (r *fakeClientRepo) Create(_ context.Context, c *model.Client) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.clients[c.ID]; ok {
		return repository.ErrConflict
	}
	c.CreatedAt = time.Now()
	cp := *c
	r.clients[c.ID] = &cp
	return nil
}

func (r *fakeClientRepo) GetByID(_ context.Context, id string) (*model.Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.clients[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (r *fakeClientRepo) List(_ context.Context, _ repository.ClientFilter, _, _ int) ([]*model.Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.Client
	for _, c := range r.clients {
		out = append(out, c)
	}
	return out, nil
}

func (r *fakeClientRepo) Count(_ context.Context, _ repository.ClientFilter) (int, error) {
	return len(r.clients), nil
}

func (r *fakeClientRepo) Update(_ context.Context, c *model.Client) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.clients[c.ID]; !ok {
		return repository.ErrNotFound
	}
	cp := *c
	r.clients[c.ID] = &cp
	return nil
}

func (r *fakeClientRepo) SetActive(_ context.Context, id string, active bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.clients[id]
	if !ok {
		return repository.ErrNotFound
	}
	c.IsActive = active
	return nil
}

func (r *fakeClientRepo) SetHiddenFeatures(_ context.Context, id string, hidden []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.clients[id]
	if !ok {
		return repository.ErrNotFound
	}
	c.HiddenFeatures = hidden
	return nil
}

type fakeServiceRepo struct {
	mu       sync.Mutex
	services map[string][]string
}

func newFakeServiceRepo() *fakeServiceRepo {
	return &fakeServiceRepo{services: make(map[string][]string)}
}

func (r *fakeServiceRepo) ListByClient(_ context.Context, clientID string) ([]model.ClientService, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.ClientService
	for _, st := range r.services[clientID] {
		out = append(out, model.ClientService{ID: clientID + "-" + st, ClientID: clientID, ServiceType: st})
	}
	return out, nil
}

func (r *fakeServiceRepo) ReplaceAll(_ context.Context, clientID string, types []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.services[clientID] = slices.Clone(types)
	return nil
}

func (r *fakeServiceRepo) ListRecommended(context.Context) ([]model.RecommendedService, error) {
	return []model.RecommendedService{{ID: "r1", ServiceType: "seo", Title: "SEO"}}, nil
}

func (r *fakeServiceRepo) UpsertRecommended(context.Context, *model.RecommendedService) error {
	return nil
}

type fakeSiteCheckRepo struct {
	checks []model.SiteCheck
	err    error
}

func (r *fakeSiteCheckRepo) Insert(_ context.Context, sc *model.SiteCheck) error {
	r.checks = append(r.checks, *sc)
	return nil
}

func (r *fakeSiteCheckRepo) Latest(_ context.Context, clientID string) ([]model.SiteCheck, error) {
	if r.err != nil {
		return nil, r.err
	}
	var out []model.SiteCheck
	for _, c := range r.checks {
		if c.ClientID == clientID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (r *fakeSiteCheckRepo) LatestByType(_ context.Context, clientID, checkType string) (*model.SiteCheck, error) {
	for _, c := range r.checks {
		if c.ClientID == clientID && c.CheckType == checkType {
			return &c, nil
		}
	}
	return nil, repository.ErrNotFound
}

// fakeTx вызывает fn без реальной транзакции и считает вызовы.
type fakeTx struct {
	calls int
	err   error
}

func (t *fakeTx) RunInTx(_ context.Context, fn func(tx repository.DBTX) error) error {
	t.calls++
	if t.err != nil {
		return t.err
	}
	return fn(nil)
}

// --- Контакты --- //

type fakeContactRepo struct {
	mu       sync.Mutex
	contacts []*model.ClientContact
}

func (r *fakeContactRepo) Create(_ context.Context, c *model.ClientContact) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.contacts {
		if e.ClientID == c.ClientID && e.UserID == c.UserID {
			return repository.ErrConflict
		}
	}
	cp := *c
	r.contacts = append(r.contacts, &cp)
	return nil
}

func (r *fakeContactRepo) Upsert(_ context.Context, c *model.ClientContact) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, e := range r.contacts {
		if e.ClientID == c.ClientID && e.UserID == c.UserID {
			c.ID = e.ID
			cp := *c
			r.contacts[i] = &cp
			return false, nil
		}
	}
	cp := *c
	r.contacts = append(r.contacts, &cp)
	return true, nil
}

func (r *fakeContactRepo) GetByID(_ context.Context, id string) (*model.ClientContact, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.contacts {
		if c.ID == id {
			cp := *c
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *fakeContactRepo) Update(_ context.Context, c *model.ClientContact) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, e := range r.contacts {
		if e.ID == c.ID {
			cp := *c
			r.contacts[i] = &cp
			return nil
		}
	}
	return repository.ErrNotFound
}

func (r *fakeContactRepo) SetActive(_ context.Context, id string, active bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.contacts {
		if c.ID == id {
			c.IsActive = active
			return nil
		}
	}
	return repository.ErrNotFound
}

func (r *fakeContactRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, c := range r.contacts {
		if c.ID == id {
			r.contacts = slices.Delete(r.contacts, i, i+1)
			return nil
		}
	}
	return repository.ErrNotFound
}

func (r *fakeContactRepo) ListByClient(_ context.Context, clientID string) ([]*model.ClientContact, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.ClientContact
	for _, c := range r.contacts {
		if c.ClientID == clientID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (r *fakeContactRepo) ListActiveByUser(context.Context, string) ([]*model.ContactWithClient, error) {
	return nil, nil
}

func (r *fakeContactRepo) FindActive(context.Context, string, string) (*model.ContactWithClient, error) {
	return nil, repository.ErrNotFound
}

func (r *fakeContactRepo) FirstActive(context.Context, string) (*model.ContactWithClient, error) {
	return nil, repository.ErrNotFound
}

// --- IdP --- //

type fakeProvider struct {
	mu    sync.Mutex
	users map[string]identity.Identity
	// raw — сырые значения роли (до нормализации)
	raw    map[string]string
	setErr error
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{users: make(map[string]identity.Identity), raw: make(map[string]string)}
}

func (p *fakeProvider) add(id, email, name, rawRole string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.users[id] = identity.NewIdentity(id, email, name, rbac.NormalizeRole(rawRole))
	p.raw[id] = rawRole
}

func (p *fakeProvider) GetIdentity(_ context.Context, id string) (identity.Identity, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	u, ok := p.users[id]
	if !ok {
		return identity.Identity{}, identity.ErrNotFound
	}
	return u, nil
}

func (p *fakeProvider) sortedIDs() []string {
	ids := make([]string, 0, len(p.users))
	for id := range p.users {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

func (p *fakeProvider) ListIdentities(_ context.Context, search string, first, limit int) ([]identity.Identity, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []identity.Identity
	for _, id := range p.sortedIDs() {
		if search == "" || strings.Contains(p.users[id].Email, search) {
			out = append(out, p.users[id])
		}
	}
	return page(out, first, limit), nil
}

func (p *fakeProvider) CountIdentities(ctx context.Context, search string) (int, error) {
	all, _ := p.ListIdentities(ctx, search, 0, 1<<20)
	return len(all), nil
}

func (p *fakeProvider) SetRole(_ context.Context, id string, role rbac.Role) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.setErr != nil {
		return p.setErr
	}
	u, ok := p.users[id]
	if !ok {
		return identity.ErrNotFound
	}
	p.users[id] = identity.NewIdentity(u.ID, u.Email, u.Name, role)
	p.raw[id] = string(role)
	return nil
}

func (p *fakeProvider) ListByRawRole(_ context.Context, raw string, first, limit int) ([]identity.Identity, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []identity.Identity
	for _, id := range p.sortedIDs() {
		if p.raw[id] == raw {
			out = append(out, p.users[id])
		}
	}
	return page(out, first, limit), nil
}

func page[T any](items []T, first, limit int) []T {
	if first >= len(items) {
		return nil
	}
	end := min(first+limit, len(items))
	return items[first:end]
}

// --- Формы --- //

type fakeFormRepo struct {
	forms map[string]*model.Form
}

func newFakeFormRepo() *fakeFormRepo {
	return &fakeFormRepo{forms: make(map[string]*model.Form)}
}

func (r *fakeFormRepo) Create(_ context.Context, f *model.Form) error {
	cp := *f
	r.forms[f.ID] = &cp
	return nil
}

func (r *fakeFormRepo) GetByID(_ context.Context, id string) (*model.Form, error) {
	f, ok := r.forms[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *f
	return &cp, nil
}

func (r *fakeFormRepo) List(context.Context, int, int) ([]*model.Form, error) {
	var out []*model.Form
	for _, f := range r.forms {
		out = append(out, f)
	}
	return out, nil
}

func (r *fakeFormRepo) Count(context.Context) (int, error) { return len(r.forms), nil }

func (r *fakeFormRepo) Update(_ context.Context, f *model.Form) error {
	if _, ok := r.forms[f.ID]; !ok {
		return repository.ErrNotFound
	}
	cp := *f
	r.forms[f.ID] = &cp
	return nil
}

func (r *fakeFormRepo) Upsert(_ context.Context, f *model.Form) error {
	cp := *f
	r.forms[f.ID] = &cp
	return nil
}

func (r *fakeFormRepo) Delete(_ context.Context, id string) error {
	if _, ok := r.forms[id]; !ok {
		return repository.ErrNotFound
	}
	delete(r.forms, id)
	return nil
}

type fakeSubmissionRepo struct {
	mu   sync.Mutex
	subs map[string]*model.FormSubmission
}

func newFakeSubmissionRepo() *fakeSubmissionRepo {
	return &fakeSubmissionRepo{subs: make(map[string]*model.FormSubmission)}
}

func (r *fakeSubmissionRepo) Create(_ context.Context, s *model.FormSubmission) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s.CreatedAt = time.Now()
	cp := *s
	r.subs[s.ID] = &cp
	return nil
}

func (r *fakeSubmissionRepo) GetByID(_ context.Context, id string) (*model.FormSubmission, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.subs[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (r *fakeSubmissionRepo) List(context.Context, repository.SubmissionFilter, int, int) ([]*model.FormSubmission, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.FormSubmission
	for _, s := range r.subs {
		out = append(out, s)
	}
	return out, nil
}

func (r *fakeSubmissionRepo) Count(context.Context, repository.SubmissionFilter) (int, error) {
	return len(r.subs), nil
}

func (r *fakeSubmissionRepo) UpdateStatus(_ context.Context, id, from, to string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.subs[id]
	if !ok {
		return repository.ErrNotFound
	}
	if s.Status != from {
		return repository.ErrConflict
	}
	s.Status = to
	return nil
}

// --- Настройки --- //

type fakeSettingsRepo struct {
	values map[string]string
}

func newFakeSettingsRepo(kv map[string]string) *fakeSettingsRepo {
	if kv == nil {
		kv = make(map[string]string)
	}
	return &fakeSettingsRepo{values: kv}
}

func (r *fakeSettingsRepo) Get(_ context.Context, key string) (*model.SystemSetting, error) {
	v, ok := r.values[key]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &model.SystemSetting{Key: key, Value: v}, nil
}

func (r *fakeSettingsRepo) Set(_ context.Context, key, value, _ string) error {
	r.values[key] = value
	return nil
}

func (r *fakeSettingsRepo) SetMany(_ context.Context, values map[string]string, _ string) error {
	for k, v := range values {
		r.values[k] = v
	}
	return nil
}

func (r *fakeSettingsRepo) List(ctx context.Context) ([]model.SystemSetting, error) {
	return r.ListByPrefix(ctx, "")
}

func (r *fakeSettingsRepo) ListByPrefix(_ context.Context, prefix string) ([]model.SystemSetting, error) {
	var out []model.SystemSetting
	for k, v := range r.values {
		if strings.HasPrefix(k, prefix) {
			out = append(out, model.SystemSetting{Key: k, Value: v})
		}
	}
	return out, nil
}

func (r *fakeSettingsRepo) Delete(_ context.Context, key string) error {
	if _, ok := r.values[key]; !ok {
		return repository.ErrNotFound
	}
	delete(r.values, key)
	return nil
}

// --- База знаний --- //

type fakeKBRepo struct {
	categories []model.KBCategory
	articles   []model.KBArticle
	feedback   map[string]map[string]bool
}

func newFakeKBRepo() *fakeKBRepo {
	return &fakeKBRepo{
		categories: []model.KBCategory{{ID: "cat-1", Slug: "billing", Name: "Оплата"}},
		articles: []model.KBArticle{
			{ID: "a-1", CategoryID: "cat-1", Slug: "invoices", Title: "Счета", IsPublished: true},
			{ID: "a-2", CategoryID: "cat-1", Slug: "draft", Title: "Черновик", IsPublished: false},
		},
		feedback: make(map[string]map[string]bool),
	}
}

func (r *fakeKBRepo) ListCategories(context.Context) ([]model.KBCategory, error) {
	return r.categories, nil
}

func (r *fakeKBRepo) GetCategoryBySlug(_ context.Context, slug string) (*model.KBCategory, error) {
	for _, c := range r.categories {
		if c.Slug == slug {
			return &c, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *fakeKBRepo) UpsertCategory(_ context.Context, c *model.KBCategory) error {
	r.categories = append(r.categories, *c)
	return nil
}

func (r *fakeKBRepo) ListArticles(_ context.Context, categoryID string, publishedOnly bool) ([]model.KBArticle, error) {
	var out []model.KBArticle
	for _, a := range r.articles {
		if a.CategoryID == categoryID && (a.IsPublished || !publishedOnly) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (r *fakeKBRepo) SearchArticles(_ context.Context, query string, _ int) ([]model.KBArticle, error) {
	var out []model.KBArticle
	for _, a := range r.articles {
		if a.IsPublished && strings.Contains(strings.ToLower(a.Title), strings.ToLower(query)) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (r *fakeKBRepo) GetArticleBySlug(_ context.Context, slug string) (*model.KBArticle, error) {
	for _, a := range r.articles {
		if a.Slug == slug {
			return &a, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *fakeKBRepo) UpsertArticle(_ context.Context, a *model.KBArticle) error {
	r.articles = append(r.articles, *a)
	return nil
}

func (r *fakeKBRepo) SetFeedback(_ context.Context, articleID, userID string, helpful bool) error {
	if r.feedback[articleID] == nil {
		r.feedback[articleID] = make(map[string]bool)
	}
	r.feedback[articleID][userID] = helpful
	return nil
}

func (r *fakeKBRepo) FeedbackStats(_ context.Context, articleID string) (model.ArticleFeedbackStats, error) {
	var st model.ArticleFeedbackStats
	for _, h := range r.feedback[articleID] {
		if h {
			st.Helpful++
		} else {
			st.NotHelpful++
		}
	}
	return st, nil
}
