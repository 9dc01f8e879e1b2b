// Package sqlstore implementa los repositorios de referencias y usuarios
// sobre database/sql, común a todos los motores. Cada motor aporta su
// dialecto goqu y su clasificador de errores.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/colinjlacy/knapscen-register-users/internal/registration/domain"
)

const (
	TableUsers     = "users"
	TableCustomers = "corporate_customers"
	TableRoles     = "user_roles"
)

type referenceTable struct {
	name    string
	nameCol string
}

var referenceTables = map[domain.Entity]referenceTable{
	domain.EntityCustomer: {name: TableCustomers, nameCol: "name"},
	domain.EntityRole:     {name: TableRoles, nameCol: "role_name"},
}

// Classifier traduce un error del driver a un sentinel de dominio
// (ErrDuplicateEmail, ErrReferenceIntegrity). Devuelve nil si no lo reconoce.
type Classifier func(err error) error

type UserRepo struct {
	db       *sqlx.DB
	dialect  goqu.DialectWrapper
	classify Classifier
	timeout  time.Duration
	now      func() time.Time
	log      *zap.Logger
}

// NewUserRepo constructor. dialect es el nombre registrado en goqu ("postgres", "sqlite3").
func NewUserRepo(db *sqlx.DB, dialect string, classify Classifier, timeout time.Duration, log *zap.Logger) *UserRepo {
	return &UserRepo{
		db:       db,
		dialect:  goqu.Dialect(dialect),
		classify: classify,
		timeout:  timeout,
		now:      time.Now,
		log:      log,
	}
}

var (
	_ domain.ReferenceRepository = (*UserRepo)(nil)
	_ domain.UserRepository      = (*UserRepo)(nil)
)

// ------------------ Referencias ------------------

func (r *UserRepo) FindIDsByName(ctx context.Context, entity domain.Entity, name string) ([]uuid.UUID, error) {
	table, ok := referenceTables[entity]
	if !ok {
		return nil, fmt.Errorf("unknown reference entity %q", entity)
	}

	query, args, err := r.dialect.From(table.name).
		Select("id").
		Where(goqu.C(table.nameCol).Eq(name)).
		Limit(2).
		Prepared(true).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build %s lookup: %w", entity, err)
	}

	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	var ids []uuid.UUID
	if err := r.db.SelectContext(ctx, &ids, query, args...); err != nil {
		return nil, unavailable("lookup "+string(entity)+" by name", err)
	}
	return ids, nil
}

// Exists compara el id en su forma canónica (minúsculas, uuid.UUID.String).
// En motores sin tipo UUID las tablas deben guardarlo así: el insert usa la
// misma forma y la FK compara el texto exacto. InitSQLite lo impone con CHECK.
func (r *UserRepo) Exists(ctx context.Context, entity domain.Entity, id uuid.UUID) (bool, error) {
	table, ok := referenceTables[entity]
	if !ok {
		return false, fmt.Errorf("unknown reference entity %q", entity)
	}

	query, args, err := r.dialect.From(table.name).
		Select(goqu.L("1")).
		Where(goqu.C("id").Eq(id.String())).
		Limit(1).
		Prepared(true).
		ToSQL()
	if err != nil {
		return false, fmt.Errorf("build %s lookup: %w", entity, err)
	}

	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	var one int
	if err := r.db.GetContext(ctx, &one, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, unavailable("lookup "+string(entity)+" by id", err)
	}
	return true, nil
}

// ------------------ Usuarios ------------------

// Register inserta el usuario con un único INSERT. La unicidad del email y
// las FKs las garantiza la base de datos, no una lectura previa.
func (r *UserRepo) Register(ctx context.Context, req domain.RegistrationRequest, ids domain.ResolvedIdentifiers) (*domain.UserRecord, error) {
	rec := &domain.UserRecord{
		ID:         uuid.New(),
		Name:       req.UserName(),
		Email:      req.UserEmail(),
		CustomerID: ids.CustomerID,
		RoleID:     ids.RoleID,
		CreatedAt:  r.now().UTC().Truncate(time.Microsecond),
	}

	query, args, err := r.dialect.Insert(TableUsers).
		Rows(goqu.Record{
			"id":          rec.ID.String(),
			"customer_id": rec.CustomerID.String(),
			"role_id":     rec.RoleID.String(),
			"name":        rec.Name,
			"email":       rec.Email,
			"created_at":  rec.CreatedAt,
		}).
		Prepared(true).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build user insert: %w", err)
	}

	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		if sentinel := r.classify(err); sentinel != nil {
			return nil, fmt.Errorf("%w: insert user %q: %w", sentinel, rec.Email, err)
		}
		return nil, unavailable("insert user", err)
	}

	r.log.Debug("user row inserted",
		zap.String("user_id", rec.ID.String()),
		zap.String("customer_id", rec.CustomerID.String()),
		zap.String("role_id", rec.RoleID.String()),
	)
	return rec, nil
}

func (r *UserRepo) FindByEmail(ctx context.Context, email string) (*domain.UserRecord, error) {
	query, args, err := r.dialect.From(TableUsers).
		Select("id", "name", "email", "customer_id", "role_id", "created_at").
		Where(goqu.C("email").Eq(email)).
		Prepared(true).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build user lookup: %w", err)
	}

	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	var rec domain.UserRecord
	if err := r.db.GetContext(ctx, &rec, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", domain.ErrUserNotFound, email)
		}
		return nil, unavailable("lookup user by email", err)
	}
	return &rec, nil
}

// ------------------ Helpers ------------------

func (r *UserRepo) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, r.timeout)
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", domain.ErrStoreUnavailable, op, err)
}
