package domain

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Entity identifica la tabla de referencia contra la que se resuelve un Reference.
type Entity string

const (
	EntityCustomer Entity = "customer"
	EntityRole     Entity = "role"
)

// ---------------- Reference ----------------

type referenceKind int

const (
	refByID referenceKind = iota + 1
	refByName
)

// Reference es una referencia a un customer o a un rol, expresada como
// identificador directo (ByID) o como nombre visible (ByName).
type Reference struct {
	kind     referenceKind
	id       uuid.UUID
	name     string
	supplied string // valor tal y como llegó en la configuración
}

// ByID construye una referencia por identificador.
func ByID(id uuid.UUID) Reference {
	return Reference{kind: refByID, id: id, supplied: id.String()}
}

// ParseID acepta el identificador en texto y conserva el valor original
// para el payload del evento.
func ParseID(raw string) (Reference, error) {
	raw = strings.TrimSpace(raw)
	id, err := uuid.Parse(raw)
	if err != nil {
		return Reference{}, fmt.Errorf("%w: %q is not a valid identifier", ErrConfiguration, raw)
	}
	return Reference{kind: refByID, id: id, supplied: raw}, nil
}

// ByName construye una referencia por nombre (match exacto).
func ByName(name string) Reference {
	return Reference{kind: refByName, name: name, supplied: name}
}

func (r Reference) IsZero() bool { return r.kind == 0 }

func (r Reference) IsID() bool { return r.kind == refByID }

// ID devuelve el identificador si la referencia es ByID.
func (r Reference) ID() (uuid.UUID, bool) {
	return r.id, r.kind == refByID
}

// Name devuelve el nombre si la referencia es ByName.
func (r Reference) Name() (string, bool) {
	return r.name, r.kind == refByName
}

// Supplied devuelve el valor tal y como fue suministrado.
func (r Reference) Supplied() string {
	return r.supplied
}

func (r Reference) String() string {
	switch r.kind {
	case refByID:
		return "id:" + r.supplied
	case refByName:
		return "name:" + r.supplied
	default:
		return "<empty>"
	}
}
