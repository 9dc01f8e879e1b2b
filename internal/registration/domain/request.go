package domain

import (
	"fmt"
	"net/mail"
	"strings"

	"go.uber.org/multierr"
)

// Attribute es un par clave/valor extra que viaja tal cual en el evento.
type Attribute struct {
	Key   string
	Value string
}

// Attributes conserva el orden de inserción.
type Attributes []Attribute

// Get devuelve el valor asociado a key.
func (a Attributes) Get(key string) (string, bool) {
	for _, attr := range a {
		if attr.Key == key {
			return attr.Value, true
		}
	}
	return "", false
}

// RegistrationRequest agrupa los datos de entrada de una ejecución.
// Es inmutable: los campos no se exportan y Extra devuelve una copia.
type RegistrationRequest struct {
	userName  string
	userEmail string
	customer  Reference
	role      Reference
	extra     Attributes
}

// NewRegistrationRequest valida los campos de identidad y devuelve la petición.
// Todos los problemas se devuelven juntos como ErrConfiguration.
func NewRegistrationRequest(userName, userEmail string, customer, role Reference, extra Attributes) (RegistrationRequest, error) {
	var errs error

	userName = strings.TrimSpace(userName)
	userEmail = strings.TrimSpace(userEmail)

	if userName == "" {
		errs = multierr.Append(errs, fmt.Errorf("%w: user name is required", ErrConfiguration))
	}
	if userEmail == "" {
		errs = multierr.Append(errs, fmt.Errorf("%w: user email is required", ErrConfiguration))
	} else if addr, err := mail.ParseAddress(userEmail); err != nil || addr.Address != userEmail {
		errs = multierr.Append(errs, fmt.Errorf("%w: user email %q is malformed", ErrConfiguration, userEmail))
	}
	if customer.IsZero() {
		errs = multierr.Append(errs, fmt.Errorf("%w: either customer id or customer name must be provided", ErrConfiguration))
	}
	if role.IsZero() {
		errs = multierr.Append(errs, fmt.Errorf("%w: either role id or role name must be provided", ErrConfiguration))
	}
	if errs != nil {
		return RegistrationRequest{}, errs
	}

	return RegistrationRequest{
		userName:  userName,
		userEmail: userEmail,
		customer:  customer,
		role:      role,
		extra:     append(Attributes(nil), extra...),
	}, nil
}

func (r RegistrationRequest) UserName() string    { return r.userName }
func (r RegistrationRequest) UserEmail() string   { return r.userEmail }
func (r RegistrationRequest) Customer() Reference { return r.customer }
func (r RegistrationRequest) Role() Reference     { return r.role }

// Extra devuelve una copia de los atributos adicionales.
func (r RegistrationRequest) Extra() Attributes {
	return append(Attributes(nil), r.extra...)
}
