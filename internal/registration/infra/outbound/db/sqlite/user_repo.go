package sqlite

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
	// _ "github.com/mattn/go-sqlite3" // better performance but requires gcc
	msqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/colinjlacy/knapscen-register-users/internal/registration/domain"
	"github.com/colinjlacy/knapscen-register-users/internal/registration/infra/outbound/db/sqlstore"
)

// Open abre la base de datos en path (":memory:" para tests) con las FKs activadas.
// Se usa una sola conexión: con ":memory:" cada conexión sería una base distinta.
func Open(ctx context.Context, path string) (*sqlx.DB, error) {
	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("%w: open sqlite: %w", domain.ErrStoreUnavailable, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	// SQLite no comprueba las FKs salvo que se active por conexión.
	if _, err := db.ExecContext(ctx, `PRAGMA foreign_keys = ON`); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: enable sqlite foreign keys: %w", domain.ErrStoreUnavailable, err)
	}
	return db, nil
}

// NewUserRepoSQLite devuelve el repositorio con dialecto y errores de SQLite.
func NewUserRepoSQLite(db *sqlx.DB, timeout time.Duration, log *zap.Logger) *sqlstore.UserRepo {
	return sqlstore.NewUserRepo(db, "sqlite3", Classify, timeout, log)
}

// Classify traduce los códigos extendidos de SQLite a errores de dominio.
func Classify(err error) error {
	var sqErr *msqlite.Error
	if !errors.As(err, &sqErr) {
		return nil
	}
	msg := sqErr.Error()
	switch sqErr.Code() {
	case sqlite3.SQLITE_CONSTRAINT_UNIQUE:
		if isEmailConstraint(msg) {
			return domain.ErrDuplicateEmail
		}
		return nil
	case sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY:
		return domain.ErrReferenceIntegrity
	}
	// Algunas builds solo devuelven el código primario.
	if sqErr.Code()&0xff == sqlite3.SQLITE_CONSTRAINT {
		switch {
		case strings.Contains(msg, "UNIQUE constraint failed") && isEmailConstraint(msg):
			return domain.ErrDuplicateEmail
		case strings.Contains(msg, "FOREIGN KEY constraint failed"):
			return domain.ErrReferenceIntegrity
		}
	}
	return nil
}

// isEmailConstraint busca la columna en el mensaje de SQLite ("users.email").
func isEmailConstraint(msg string) bool {
	return strings.Contains(msg, sqlstore.TableUsers+".email")
}

// InitSQLite crea las tablas si no existen. Los ids se guardan como texto
// canónico en minúsculas.
func InitSQLite(ctx context.Context, db *sqlx.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS corporate_customers (
			id TEXT PRIMARY KEY CHECK (id = lower(id)),
			name TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS user_roles (
			id TEXT PRIMARY KEY CHECK (id = lower(id)),
			role_name TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY CHECK (id = lower(id)),
			customer_id TEXT NOT NULL REFERENCES corporate_customers(id),
			role_id TEXT NOT NULL REFERENCES user_roles(id),
			name TEXT NOT NULL,
			email TEXT NOT NULL UNIQUE,
			created_at DATETIME NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init sqlite schema: %w", err)
		}
	}
	return nil
}
