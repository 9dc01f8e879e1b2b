package domain

import (
	"errors"

	"go.uber.org/multierr"
)

// ---------- Errores de dominio ----------
//
// Los adapters envuelven estos sentinels junto con la causa original:
//
//	fmt.Errorf("%w: insert user %q: %w", ErrDuplicateEmail, email, err)
var (
	ErrConfiguration = errors.New("invalid configuration")

	ErrNotFound           = errors.New("reference not found")
	ErrAmbiguousReference = errors.New("ambiguous reference")
	ErrUserNotFound       = errors.New("user not found")

	ErrDuplicateEmail     = errors.New("user email already registered")
	ErrReferenceIntegrity = errors.New("reference integrity violation")
	ErrStoreUnavailable   = errors.New("store unavailable")

	ErrStreamNotFound    = errors.New("stream not found")
	ErrBrokerUnavailable = errors.New("broker unavailable")
	ErrPublishTimeout    = errors.New("publish not acknowledged in time")
)

// Category agrupa los errores según la etapa que los produce.
type Category int

const (
	CategoryUnknown Category = iota
	CategoryConfig
	CategoryResolution
	CategoryStore
	CategoryPublish
)

func (c Category) String() string {
	switch c {
	case CategoryConfig:
		return "configuration"
	case CategoryResolution:
		return "resolution"
	case CategoryStore:
		return "store"
	case CategoryPublish:
		return "publish"
	default:
		return "unknown"
	}
}

var categories = []struct {
	category Category
	errs     []error
}{
	// Orden de prioridad: el primero que coincide gana en errores agregados.
	{CategoryPublish, []error{ErrStreamNotFound, ErrBrokerUnavailable, ErrPublishTimeout}},
	{CategoryStore, []error{ErrDuplicateEmail, ErrReferenceIntegrity, ErrStoreUnavailable}},
	{CategoryResolution, []error{ErrNotFound, ErrAmbiguousReference, ErrUserNotFound}},
	{CategoryConfig, []error{ErrConfiguration}},
}

// CategoryOf clasifica un error, incluidos los agregados con multierr.
func CategoryOf(err error) Category {
	if err == nil {
		return CategoryUnknown
	}
	for _, c := range categories {
		for _, target := range c.errs {
			if errors.Is(err, target) {
				return c.category
			}
		}
	}
	return CategoryUnknown
}

// Errors devuelve los errores individuales de un error agregado.
func Errors(err error) []error {
	return multierr.Errors(err)
}
