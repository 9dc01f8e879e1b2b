package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/colinjlacy/knapscen-register-users/internal/registration/domain"
	"github.com/colinjlacy/knapscen-register-users/internal/registration/infra/outbound/db/sqlstore"
)

const (
	codeUniqueViolation     = "23505"
	codeForeignKeyViolation = "23503"
)

// Open abre el pool y comprueba la conexión dentro de timeout.
func Open(ctx context.Context, dsn string, timeout time.Duration) (*sqlx.DB, error) {
	db, err := sqlx.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: open postgres: %w", domain.ErrStoreUnavailable, err)
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: ping postgres: %w", domain.ErrStoreUnavailable, err)
	}
	return db, nil
}

// NewUserRepoPostgres devuelve el repositorio con dialecto y errores de Postgres.
func NewUserRepoPostgres(db *sqlx.DB, timeout time.Duration, log *zap.Logger) *sqlstore.UserRepo {
	return sqlstore.NewUserRepo(db, "postgres", Classify, timeout, log)
}

// Classify traduce el SQLSTATE de pgx a un error de dominio.
func Classify(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return nil
	}
	switch pgErr.Code {
	case codeUniqueViolation:
		if isEmailConstraint(pgErr) {
			return domain.ErrDuplicateEmail
		}
	case codeForeignKeyViolation:
		return domain.ErrReferenceIntegrity
	}
	return nil
}

// isEmailConstraint reconoce la unicidad de users.email, por nombre de
// constraint (users_email_key por defecto) o por el detalle "Key (email)=...".
func isEmailConstraint(pgErr *pgconn.PgError) bool {
	if pgErr.TableName != "" && pgErr.TableName != sqlstore.TableUsers {
		return false
	}
	return strings.Contains(strings.ToLower(pgErr.ConstraintName), "email") ||
		strings.Contains(pgErr.Detail, "(email)")
}

// InitPostgres crea las tablas si no existen. Solo para entornos locales y tests:
// en producción el esquema ya existe.
func InitPostgres(ctx context.Context, db *sqlx.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS corporate_customers (
			id UUID PRIMARY KEY,
			name TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS user_roles (
			id UUID PRIMARY KEY,
			role_name TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS users (
			id UUID PRIMARY KEY,
			customer_id UUID NOT NULL REFERENCES corporate_customers(id),
			role_id UUID NOT NULL REFERENCES user_roles(id),
			name TEXT NOT NULL,
			email TEXT NOT NULL UNIQUE,
			created_at TIMESTAMPTZ NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init postgres schema: %w", err)
		}
	}
	return nil
}
