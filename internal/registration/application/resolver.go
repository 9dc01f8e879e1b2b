package application

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/colinjlacy/knapscen-register-users/internal/registration/domain"
)

// Resolver traduce las referencias de customer y rol a ids verificados.
type Resolver interface {
	Resolve(ctx context.Context, customer, role domain.Reference) (domain.ResolvedIdentifiers, error)
}

// IdentityResolver resuelve contra las tablas de referencia del store.
type IdentityResolver struct {
	refs domain.ReferenceRepository
	log  *zap.Logger
}

func NewIdentityResolver(refs domain.ReferenceRepository, log *zap.Logger) *IdentityResolver {
	return &IdentityResolver{refs: refs, log: log}
}

var _ Resolver = (*IdentityResolver)(nil)

// Resolve resuelve ambas referencias en paralelo. Si fallan las dos se
// devuelven los dos errores agregados, no sólo el primero.
func (r *IdentityResolver) Resolve(ctx context.Context, customer, role domain.Reference) (domain.ResolvedIdentifiers, error) {
	var (
		ids                  domain.ResolvedIdentifiers
		customerErr, roleErr error
		g                    errgroup.Group
	)

	// Cada goroutine guarda su propio error; errgroup sólo se usa para esperar.
	g.Go(func() error {
		ids.CustomerID, customerErr = r.resolveOne(ctx, domain.EntityCustomer, customer)
		return nil
	})
	g.Go(func() error {
		ids.RoleID, roleErr = r.resolveOne(ctx, domain.EntityRole, role)
		return nil
	})
	_ = g.Wait()

	if err := multierr.Combine(customerErr, roleErr); err != nil {
		return domain.ResolvedIdentifiers{}, err
	}

	r.log.Debug("references resolved",
		zap.String("customer_id", ids.CustomerID.String()),
		zap.String("role_id", ids.RoleID.String()),
	)
	return ids, nil
}

func (r *IdentityResolver) resolveOne(ctx context.Context, entity domain.Entity, ref domain.Reference) (uuid.UUID, error) {
	if id, ok := ref.ID(); ok {
		// Un id bien formado también se verifica: nunca llega una FK inválida al insert.
		exists, err := r.refs.Exists(ctx, entity, id)
		if err != nil {
			return uuid.Nil, err
		}
		if !exists {
			return uuid.Nil, fmt.Errorf("%w: %s with id %s", domain.ErrNotFound, entity, id)
		}
		return id, nil
	}

	name, ok := ref.Name()
	if !ok {
		return uuid.Nil, fmt.Errorf("%w: %s reference is empty", domain.ErrConfiguration, entity)
	}

	found, err := r.refs.FindIDsByName(ctx, entity, name)
	if err != nil {
		return uuid.Nil, err
	}

	switch len(found) {
	case 0:
		return uuid.Nil, fmt.Errorf("%w: %s %q", domain.ErrNotFound, entity, name)
	case 1:
		return found[0], nil
	default:
		r.log.Warn("ambiguous reference",
			zap.String("entity", string(entity)),
			zap.String("name", name),
		)
		return uuid.Nil, fmt.Errorf("%w: %s %q matches more than one row", domain.ErrAmbiguousReference, entity, name)
	}
}
