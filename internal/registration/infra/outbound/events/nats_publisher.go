package events

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"

	"github.com/colinjlacy/knapscen-register-users/internal/registration/domain"
)

const (
	headerContentType = "Content-Type"
	headerEventType   = "Event-Type"
)

// NATSOptions agrupa los parámetros de conexión a NATS.
type NATSOptions struct {
	Servers        []string
	User           string
	Password       string
	ConnectTimeout time.Duration
	PublishTimeout time.Duration
}

// NATSDialer abre la conexión a NATS solo cuando el pipeline llega a publicar.
type NATSDialer struct {
	opts NATSOptions
	log  *zap.Logger
}

func NewNATSDialer(opts NATSOptions, log *zap.Logger) *NATSDialer {
	return &NATSDialer{opts: opts, log: log}
}

func (d *NATSDialer) Dial(ctx context.Context) (domain.EventPublisher, error) {
	options := []nats.Option{
		nats.Name("register-user"),
		nats.Timeout(d.opts.ConnectTimeout),
		nats.NoReconnect(),
	}
	if d.opts.User != "" {
		options = append(options, nats.UserInfo(d.opts.User, d.opts.Password))
	}

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrBrokerUnavailable, err)
	}
	nc, err := nats.Connect(strings.Join(d.opts.Servers, ","), options...)
	if err != nil {
		return nil, fmt.Errorf("%w: connect %s: %w", domain.ErrBrokerUnavailable, strings.Join(d.opts.Servers, ","), err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("%w: jetstream context: %w", domain.ErrBrokerUnavailable, err)
	}

	d.log.Debug("connected to nats", zap.String("server", nc.ConnectedUrlRedacted()))
	return NewNATSPublisher(nc, js, d.opts.PublishTimeout, d.log), nil
}

// NATSPublisher publica en JetStream. Nunca crea streams: el stream
// destino se comprueba antes de la primera publicación.
type NATSPublisher struct {
	nc      *nats.Conn
	js      jetstream.JetStream
	timeout time.Duration
	log     *zap.Logger

	mu       sync.Mutex
	verified map[string]bool
}

func NewNATSPublisher(nc *nats.Conn, js jetstream.JetStream, timeout time.Duration, log *zap.Logger) *NATSPublisher {
	return &NATSPublisher{
		nc:       nc,
		js:       js,
		timeout:  timeout,
		log:      log,
		verified: make(map[string]bool),
	}
}

func (p *NATSPublisher) Publish(ctx context.Context, event domain.RegistrationEvent, target domain.Target) (domain.PublishReceipt, error) {
	payload, err := event.MarshalJSON()
	if err != nil {
		return domain.PublishReceipt{}, fmt.Errorf("encode event: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	if err := p.ensureStream(ctx, target.Stream); err != nil {
		return domain.PublishReceipt{}, err
	}

	msg := nats.NewMsg(target.Subject)
	msg.Data = payload
	msg.Header.Set(headerContentType, "application/json")
	msg.Header.Set(headerEventType, event.Type)

	ack, err := p.js.PublishMsg(ctx, msg,
		jetstream.WithExpectStream(target.Stream),
		jetstream.WithMsgID(event.DedupeKey()),
		jetstream.WithRetryAttempts(0),
	)
	if err != nil {
		return domain.PublishReceipt{}, classifyNATS(err, target)
	}

	if ack.Duplicate {
		p.log.Info("broker flagged event as duplicate",
			zap.String("msg_id", event.DedupeKey()),
			zap.Uint64("sequence", ack.Sequence),
		)
	}

	return domain.PublishReceipt{
		Stream:    ack.Stream,
		Subject:   target.Subject,
		Sequence:  ack.Sequence,
		Duplicate: ack.Duplicate,
		AckedAt:   time.Now().UTC(),
	}, nil
}

func (p *NATSPublisher) ensureStream(ctx context.Context, stream string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.verified[stream] {
		return nil
	}

	if _, err := p.js.Stream(ctx, stream); err != nil {
		if errors.Is(err, jetstream.ErrStreamNotFound) {
			return fmt.Errorf("%w: %s: %w", domain.ErrStreamNotFound, stream, err)
		}
		return classifyNATS(err, domain.Target{Stream: stream})
	}
	p.verified[stream] = true
	return nil
}

// Close cierra la conexión. Publish es síncrono: no quedan acks en vuelo.
func (p *NATSPublisher) Close() error {
	if p.nc == nil || p.nc.IsClosed() {
		return nil
	}
	p.nc.Close()
	return nil
}

func classifyNATS(err error, target domain.Target) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, nats.ErrTimeout):
		return fmt.Errorf("%w: %s/%s: %w", domain.ErrPublishTimeout, target.Stream, target.Subject, err)
	case errors.Is(err, jetstream.ErrStreamNotFound), errors.Is(err, jetstream.ErrNoStreamResponse):
		return fmt.Errorf("%w: no stream %q bound to subject %q: %w", domain.ErrStreamNotFound, target.Stream, target.Subject, err)
	}

	var apiErr *jetstream.APIError
	if errors.As(err, &apiErr) && apiErr.ErrorCode == jetstream.JSErrCodeStreamNotFound {
		return fmt.Errorf("%w: %s: %w", domain.ErrStreamNotFound, target.Stream, err)
	}
	return fmt.Errorf("%w: %w", domain.ErrBrokerUnavailable, err)
}

var (
	_ domain.PublisherDialer = (*NATSDialer)(nil)
	_ domain.EventPublisher  = (*NATSPublisher)(nil)
)
