package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// State — состояние эффективной идентичности.
type State int

const (
	// Direct — эффективная идентичность совпадает с реальной.
	Direct State = iota
	// Impersonating — администратор действует от имени другого пользователя.
	Impersonating
)

// String возвращает имя состояния.
func (s State) String() string {
	switch s {
	case Direct:
		return "direct"
	case Impersonating:
		return "impersonating"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Effective — результат наложения имперсонации на реальную идентичность.
// В состоянии Direct поле Target пустое.
type Effective struct {
	State  State
	Real   Identity
	Target *Identity
}

// Identity возвращает идентичность для доступа к данным:
// цель имперсонации или реальную.
func (e Effective) Identity() Identity {
	if e.State == Impersonating && e.Target != nil {
		return *e.Target
	}
	return e.Real
}

// IsImpersonating сообщает, идёт ли имперсонация.
func (e Effective) IsImpersonating() bool {
	return e.State == Impersonating
}

// ImpersonationToken — содержимое cookie имперсонации.
type ImpersonationToken struct {
	TargetID  string    `json:"target_id"`
	AdminID   string    `json:"admin_id"`
	// ExpiresAt — обязателен, токен с нулевым значением недействителен
	ExpiresAt time.Time `json:"expires_at"`
}

// Ошибки управления имперсонацией.
var (
	ErrNotAdmin          = errors.New("имперсонация доступна только администратору")
	ErrSelfImpersonation = errors.New("нельзя имперсонировать самого себя")
)

// Overlay применяет имперсонацию к реальной идентичности.
type Overlay struct {
	provider Provider
	ttl      time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

// NewOverlay создаёт Overlay. ttl — время жизни имперсонации (по умолчанию 4 часа).
func NewOverlay(provider Provider, ttl time.Duration, logger *slog.Logger) *Overlay {
	if ttl <= 0 {
		ttl = 4 * time.Hour
	}
	return &Overlay{
		provider: provider,
		ttl:      ttl,
		logger:   logger.With(slog.String("component", "impersonation")),
		now:      time.Now,
	}
}

// Apply вычисляет эффективную идентичность. Ошибок не возвращает:
// любая проблема с токеном или целью даёт Direct с реальной идентичностью.
func (o *Overlay) Apply(ctx context.Context, real Identity, token *ImpersonationToken) Effective {
	direct := Effective{State: Direct, Real: real}

	if !real.IsAdmin || token == nil || token.TargetID == "" {
		return direct
	}
	if token.TargetID == real.ID {
		return direct
	}
	if token.AdminID != real.ID {
		o.logger.Warn("Токен имперсонации выдан другому администратору",
			slog.String("user_id", real.ID),
			slog.String("token_admin_id", token.AdminID),
		)
		return direct
	}
	if token.ExpiresAt.IsZero() || !o.now().Before(token.ExpiresAt) {
		return direct
	}

	target, err := o.provider.GetIdentity(ctx, token.TargetID)
	if err != nil {
		o.logger.Warn("Цель имперсонации недоступна, используется реальная идентичность",
			slog.String("admin_id", real.ID),
			slog.String("target_id", token.TargetID),
			slog.String("error", err.Error()),
		)
		return direct
	}

	return Effective{State: Impersonating, Real: real, Target: &target}
}

// Start выдаёт токен имперсонации targetID для администратора real.
func (o *Overlay) Start(ctx context.Context, real Identity, targetID string) (*ImpersonationToken, Identity, error) {
	if !real.IsAdmin {
		return nil, Identity{}, ErrNotAdmin
	}
	if targetID == real.ID {
		return nil, Identity{}, ErrSelfImpersonation
	}

	target, err := o.provider.GetIdentity(ctx, targetID)
	if err != nil {
		return nil, Identity{}, err
	}

	o.logger.Info("Имперсонация начата",
		slog.String("admin_id", real.ID),
		slog.String("target_id", target.ID),
		slog.String("target_role", target.Role.String()),
	)

	return &ImpersonationToken{
		TargetID:  target.ID,
		AdminID:   real.ID,
		ExpiresAt: o.now().Add(o.ttl),
	}, target, nil
}

// Stop проверяет право завершить имперсонацию. Очистка cookie — на вызывающей стороне.
func (o *Overlay) Stop(real Identity) error {
	if !real.IsAdmin {
		return ErrNotAdmin
	}
	o.logger.Info("Имперсонация завершена", slog.String("admin_id", real.ID))
	return nil
}

// TTL возвращает время жизни имперсонации.
func (o *Overlay) TTL() time.Duration {
	return o.ttl
}
