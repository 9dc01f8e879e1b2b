package domain

import (
	"time"

	"github.com/google/uuid"
)

// ResolvedIdentifiers son los ids verificados contra las tablas de referencia.
type ResolvedIdentifiers struct {
	CustomerID uuid.UUID
	RoleID     uuid.UUID
}

// UserRecord representa la fila de users tal y como la devolvió el store.
type UserRecord struct {
	ID         uuid.UUID `json:"id" db:"id"`
	Name       string    `json:"name" db:"name"`
	Email      string    `json:"email" db:"email"`
	CustomerID uuid.UUID `json:"customer_id" db:"customer_id"`
	RoleID     uuid.UUID `json:"role_id" db:"role_id"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}
