package events

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/colinjlacy/knapscen-register-users/internal/registration/domain"
)

// Deduper reclama una clave lógica una sola vez durante ttl.
type Deduper interface {
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

// RegistrationHandler es la acción de negocio del consumidor aguas abajo.
type RegistrationHandler func(ctx context.Context, evt domain.RegistrationEvent) error

// RegistrationConsumer procesa cada evento lógico (event_type, user_id) una
// sola vez aunque el broker lo entregue varias veces.
type RegistrationConsumer struct {
	dedupe  Deduper
	handler RegistrationHandler
	ttl     time.Duration
	timeout time.Duration
	log     *zap.Logger
}

func NewRegistrationConsumer(dedupe Deduper, handler RegistrationHandler, ttl time.Duration, log *zap.Logger) *RegistrationConsumer {
	return &RegistrationConsumer{
		dedupe:  dedupe,
		handler: handler,
		ttl:     ttl,
		timeout: 2 * time.Second,
		log:     log,
	}
}

func (c *RegistrationConsumer) HandleMessage(ctx context.Context, key string, payload []byte) {
	evt, err := domain.DecodeRegistrationEvent(payload)
	if err != nil {
		c.log.Warn("Failed to decode registration event", zap.String("key", key), zap.Error(err))
		return
	}
	if evt.Type != domain.UserRegistered {
		c.log.Warn("Unknown event type", zap.String("type", evt.Type))
		return
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	dedupeKey := evt.DedupeKey()
	claimed, err := c.dedupe.Claim(ctx, dedupeKey, c.ttl)
	if err != nil {
		c.log.Warn("Dedupe store unavailable, skipping message", zap.String("dedupe_key", dedupeKey), zap.Error(err))
		return
	}
	if !claimed {
		c.log.Info("Duplicate 'user_registered' event ignored", zap.String("user_id", evt.UserID.String()))
		return
	}

	if err := c.handler(ctx, evt); err != nil {
		// Se libera para que la reentrega pueda volver a intentarlo.
		if relErr := c.dedupe.Release(ctx, dedupeKey); relErr != nil {
			c.log.Warn("Failed to release dedupe key", zap.String("dedupe_key", dedupeKey), zap.Error(relErr))
		}
		c.log.Warn("Failed to process registration event",
			zap.String("user_id", evt.UserID.String()),
			zap.Error(err),
		)
		return
	}

	c.log.Info("Registration event processed",
		zap.String("user_id", evt.UserID.String()),
		zap.String("user_email", valueOf(evt.Data, domain.DataUserEmail)),
	)
}

func valueOf(attrs domain.Attributes, key string) string {
	v, _ := attrs.Get(key)
	return v
}
