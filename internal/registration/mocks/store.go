package mocks

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/colinjlacy/knapscen-register-users/internal/registration/domain"
)

// InMemoryStore simula el store relacional: tablas de referencia, unicidad
// de email y FKs comprobadas en el propio insert.
type InMemoryStore struct {
	Customers map[uuid.UUID]string
	Roles     map[uuid.UUID]string
	Users     map[string]*domain.UserRecord // por email

	// Errores inyectables para simular caídas.
	LookupErr   error
	RegisterErr error

	// BeforeRegister se ejecuta justo antes del insert (p. ej. para borrar una referencia).
	BeforeRegister func()

	RegisterCalls int
	mu            sync.Mutex
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		Customers: make(map[uuid.UUID]string),
		Roles:     make(map[uuid.UUID]string),
		Users:     make(map[string]*domain.UserRecord),
	}
}

// AddCustomer inserta un customer y devuelve su id.
func (s *InMemoryStore) AddCustomer(name string) uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := uuid.New()
	s.Customers[id] = name
	return id
}

// AddRole inserta un rol y devuelve su id.
func (s *InMemoryStore) AddRole(name string) uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := uuid.New()
	s.Roles[id] = name
	return id
}

func (s *InMemoryStore) table(entity domain.Entity) map[uuid.UUID]string {
	if entity == domain.EntityRole {
		return s.Roles
	}
	return s.Customers
}

func (s *InMemoryStore) FindIDsByName(ctx context.Context, entity domain.Entity, name string) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.LookupErr != nil {
		return nil, s.LookupErr
	}

	var ids []uuid.UUID
	for id, n := range s.table(entity) {
		if n == name {
			ids = append(ids, id)
			if len(ids) == 2 {
				break
			}
		}
	}
	return ids, nil
}

func (s *InMemoryStore) Exists(ctx context.Context, entity domain.Entity, id uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.LookupErr != nil {
		return false, s.LookupErr
	}
	_, ok := s.table(entity)[id]
	return ok, nil
}

func (s *InMemoryStore) Register(ctx context.Context, req domain.RegistrationRequest, ids domain.ResolvedIdentifiers) (*domain.UserRecord, error) {
	if s.BeforeRegister != nil {
		s.BeforeRegister()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.RegisterCalls++

	if s.RegisterErr != nil {
		return nil, s.RegisterErr
	}
	key := strings.ToLower(req.UserEmail())
	if _, ok := s.Users[key]; ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrDuplicateEmail, req.UserEmail())
	}
	if _, ok := s.Customers[ids.CustomerID]; !ok {
		return nil, fmt.Errorf("%w: customer %s", domain.ErrReferenceIntegrity, ids.CustomerID)
	}
	if _, ok := s.Roles[ids.RoleID]; !ok {
		return nil, fmt.Errorf("%w: role %s", domain.ErrReferenceIntegrity, ids.RoleID)
	}

	rec := &domain.UserRecord{
		ID:         uuid.New(),
		Name:       req.UserName(),
		Email:      req.UserEmail(),
		CustomerID: ids.CustomerID,
		RoleID:     ids.RoleID,
		CreatedAt:  time.Now().UTC(),
	}
	s.Users[key] = rec
	return rec, nil
}

func (s *InMemoryStore) FindByEmail(ctx context.Context, email string) (*domain.UserRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.Users[strings.ToLower(email)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUserNotFound, email)
	}
	cp := *rec
	return &cp, nil
}

// UserCount devuelve el número de filas en users.
func (s *InMemoryStore) UserCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Users)
}

var (
	_ domain.ReferenceRepository = (*InMemoryStore)(nil)
	_ domain.UserRepository      = (*InMemoryStore)(nil)
)
