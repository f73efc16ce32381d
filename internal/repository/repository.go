// Пакет repository — хранилище портала в PostgreSQL: клиенты, контакты,
// услуги, проверки сайтов, формы и заявки, база знаний, настройки.
// SQL пишется руками поверх pgx. Каждый репозиторий принимает DBTX,
// поэтому один и тот же код работает и с пулом, и внутри транзакции.
package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrNotFound — строки нет (или ссылка на несуществующую строку).
	ErrNotFound = errors.New("запись не найдена")
	// ErrConflict — нарушено ограничение уникальности.
	ErrConflict = errors.New("запись уже существует")
)

// Коды SQLSTATE, которые репозитории переводят в свои ошибки.
const (
	sqlStateUniqueViolation     = "23505"
	sqlStateForeignKeyViolation = "23503"
)

// DBTX — общее подмножество *pgxpool.Pool и pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// beginner — то, что умеет открыть транзакцию: пул или сама транзакция
// (во втором случае pgx открывает savepoint).
type beginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// TxRunner выполняет группу операций репозиториев атомарно.
type TxRunner struct {
	db beginner
}

// NewTxRunner принимает *pgxpool.Pool или pgx.Tx.
func NewTxRunner(db beginner) *TxRunner {
	return &TxRunner{db: db}
}

// RunInTx вызывает fn в транзакции. Ошибка fn (или паника) откатывает
// транзакцию, иначе она коммитится.
func (r *TxRunner) RunInTx(ctx context.Context, fn func(tx DBTX) error) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("начало транзакции: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // после Commit — no-op

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("коммит транзакции: %w", err)
	}
	return nil
}

func sqlState(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

func isUniqueViolation(err error) bool {
	return sqlState(err) == sqlStateUniqueViolation
}

// isForeignKeyViolation — запись ссылается на несуществующего клиента или форму.
func isForeignKeyViolation(err error) bool {
	return sqlState(err) == sqlStateForeignKeyViolation
}
