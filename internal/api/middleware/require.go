package middleware

import (
	"errors"
	"net/http"

	apierrors "github.com/bigkaa/clientportal/internal/api/errors"
	"github.com/bigkaa/clientportal/internal/identity"
	"github.com/bigkaa/clientportal/internal/scope"
)

// RequireAuth пропускает запросы с эффективной идентичностью.
// Имперсонация меняет видимые данные, поэтому проверяется эффективная идентичность.
func RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sc := scope.FromContext(r.Context())
		if sc == nil {
			apierrors.Unauthorized(w, "Требуется аутентификация")
			return
		}
		eff, err := sc.Effective(r.Context())
		if err != nil {
			writeIdentityError(w, err)
			return
		}
		if eff == nil {
			apierrors.Unauthorized(w, "Требуется аутентификация")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireStaff пропускает сотрудников (admin, team_member) по реальной идентичности.
func RequireStaff(next http.Handler) http.Handler {
	return requireReal(next, func(id *identity.Identity) bool { return id.IsStaff },
		"Доступ только для сотрудников")
}

// RequireAdmin пропускает администраторов по реальной идентичности.
// Администратор в режиме имперсонации сохраняет административный доступ.
func RequireAdmin(next http.Handler) http.Handler {
	return requireReal(next, func(id *identity.Identity) bool { return id.IsAdmin },
		"Доступ только для администратора")
}

func requireReal(next http.Handler, allowed func(*identity.Identity) bool, message string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sc := scope.FromContext(r.Context())
		if sc == nil {
			apierrors.Unauthorized(w, "Требуется аутентификация")
			return
		}
		real, err := sc.Real(r.Context())
		if err != nil {
			writeIdentityError(w, err)
			return
		}
		if real == nil {
			apierrors.Unauthorized(w, "Требуется аутентификация")
			return
		}
		if !allowed(real) {
			apierrors.Forbidden(w, message)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// writeIdentityError: удалённый в IdP пользователь — 401, прочие ошибки IdP — 502.
func writeIdentityError(w http.ResponseWriter, err error) {
	if errors.Is(err, identity.ErrNotFound) {
		apierrors.Unauthorized(w, "Пользователь не найден")
		return
	}
	apierrors.IDPUnavailable(w, "Identity Provider недоступен")
}
