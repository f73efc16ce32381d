// Пакет scope — контейнер на время одного запроса: реальная и эффективная
// идентичность и контекст клиента вычисляются не более одного раза.
// Между запросами ничего не кэшируется.
package scope

import (
	"context"
	"sync"

	"github.com/bigkaa/clientportal/internal/auth"
	"github.com/bigkaa/clientportal/internal/clientctx"
	"github.com/bigkaa/clientportal/internal/identity"
)

// Factory создаёт Scope для запросов.
type Factory struct {
	resolver *identity.Resolver
	overlay  *identity.Overlay
	clients  *clientctx.Resolver
}

// NewFactory создаёт Factory.
func NewFactory(resolver *identity.Resolver, overlay *identity.Overlay, clients *clientctx.Resolver) *Factory {
	return &Factory{resolver: resolver, overlay: overlay, clients: clients}
}

// New создаёт Scope запроса. imp и active — содержимое cookie, может быть nil.
func (f *Factory) New(claims identity.Claims, imp *identity.ImpersonationToken, active *auth.ActiveClient) *Scope {
	return &Scope{
		factory:       f,
		claims:        claims,
		impersonation: imp,
		activeClient:  active,
	}
}

// Scope — вычисленные за запрос значения.
type Scope struct {
	factory       *Factory
	claims        identity.Claims
	impersonation *identity.ImpersonationToken
	activeClient  *auth.ActiveClient

	mu sync.Mutex

	realDone bool
	real     *identity.Identity
	realErr  error

	effDone bool
	eff     *identity.Effective
	effErr  error

	ccDone bool
	cc     *clientctx.ClientContext
	ccErr  error
}

// Claims возвращает claims запроса.
func (s *Scope) Claims() identity.Claims {
	return s.claims
}

// Real возвращает реальную идентичность. nil, nil — запрос не аутентифицирован.
func (s *Scope) Real(ctx context.Context) (*identity.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.realLocked(ctx)
}

func (s *Scope) realLocked(ctx context.Context) (*identity.Identity, error) {
	if !s.realDone {
		s.real, s.realErr = s.factory.resolver.Real(ctx, s.claims)
		s.realDone = true
	}
	return s.real, s.realErr
}

// Effective возвращает эффективную идентичность с учётом имперсонации.
// nil, nil — запрос не аутентифицирован.
func (s *Scope) Effective(ctx context.Context) (*identity.Effective, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.effectiveLocked(ctx)
}

func (s *Scope) effectiveLocked(ctx context.Context) (*identity.Effective, error) {
	if s.effDone {
		return s.eff, s.effErr
	}
	s.effDone = true

	real, err := s.realLocked(ctx)
	if err != nil || real == nil {
		s.effErr = err
		return nil, err
	}

	eff := s.factory.overlay.Apply(ctx, *real, s.impersonation)
	s.eff = &eff
	return s.eff, nil
}

// ClientContext возвращает контекст клиента эффективной идентичности.
// nil, nil — нет доступа ни к одному клиенту.
func (s *Scope) ClientContext(ctx context.Context) (*clientctx.ClientContext, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ccDone {
		return s.cc, s.ccErr
	}
	s.ccDone = true

	eff, err := s.effectiveLocked(ctx)
	if err != nil || eff == nil {
		s.ccErr = err
		return nil, err
	}

	id := eff.Identity()
	selected := ""
	// Выбор клиента принадлежит той идентичности, которая его сделала
	if s.activeClient != nil && s.activeClient.UserID == id.ID {
		selected = s.activeClient.ClientID
	}

	s.cc, s.ccErr = s.factory.clients.Resolve(ctx, id, selected)
	return s.cc, s.ccErr
}

type contextKey struct{}

// WithScope помещает Scope в контекст.
func WithScope(ctx context.Context, s *Scope) context.Context {
	return context.WithValue(ctx, contextKey{}, s)
}

// FromContext извлекает Scope из контекста. nil, если его нет.
func FromContext(ctx context.Context) *Scope {
	s, _ := ctx.Value(contextKey{}).(*Scope)
	return s
}
