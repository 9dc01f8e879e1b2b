package domain

import (
	"context"

	"github.com/google/uuid"
)

// ---------- Interfaces (Ports) ----------

// ReferenceRepository resuelve customers y roles contra sus tablas de referencia.
type ReferenceRepository interface {
	// FindIDsByName devuelve como mucho dos ids con ese nombre exacto;
	// basta para distinguir "ninguno", "uno" y "ambiguo".
	FindIDsByName(ctx context.Context, entity Entity, name string) ([]uuid.UUID, error)

	// Exists comprueba que el id sigue presente en la tabla.
	Exists(ctx context.Context, entity Entity, id uuid.UUID) (bool, error)
}

// UserRepository persiste usuarios.
type UserRepository interface {
	// Register inserta la fila en una única operación atómica.
	// Debe devolver ErrDuplicateEmail, ErrReferenceIntegrity o ErrStoreUnavailable.
	Register(ctx context.Context, req RegistrationRequest, ids ResolvedIdentifiers) (*UserRecord, error)

	// Debe devolver ErrUserNotFound si no existe.
	FindByEmail(ctx context.Context, email string) (*UserRecord, error)
}

// EventPublisher publica eventos esperando el ack del broker.
type EventPublisher interface {
	// Publish devuelve recibo sólo tras el ack. Debe devolver ErrStreamNotFound,
	// ErrBrokerUnavailable o ErrPublishTimeout. No reintenta.
	Publish(ctx context.Context, event RegistrationEvent, target Target) (PublishReceipt, error)

	Close() error
}

// PublisherDialer abre la conexión con el broker cuando el pipeline la necesita.
type PublisherDialer interface {
	Dial(ctx context.Context) (EventPublisher, error)
}
