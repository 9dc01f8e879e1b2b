package events

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/colinjlacy/knapscen-register-users/internal/registration/domain"
)

// Message es lo que reciben los suscriptores del bus en memoria.
type Message struct {
	Stream   string
	Subject  string
	MsgID    string
	Sequence uint64
	Data     []byte
}

type memoryStream struct {
	subjects    map[string]struct{}
	seq         uint64
	seen        map[string]uint64 // msg-id -> secuencia
	subscribers []chan Message
}

// InMemoryBus imita un broker con streams declarados de antemano: no crea
// streams al publicar y marca como duplicado un msg-id ya visto.
type InMemoryBus struct {
	streams map[string]*memoryStream
	mu      sync.RWMutex
	closed  bool
}

func NewInMemoryBus() *InMemoryBus {
	return &InMemoryBus{streams: make(map[string]*memoryStream)}
}

// DeclareStream registra un stream y los subjects que acepta.
func (b *InMemoryBus) DeclareStream(name string, subjects ...string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	s, ok := b.streams[name]
	if !ok {
		s = &memoryStream{subjects: make(map[string]struct{}), seen: make(map[string]uint64)}
		b.streams[name] = s
	}
	for _, subj := range subjects {
		s.subjects[subj] = struct{}{}
	}
}

// Subscribe suscribe un nuevo oyente a un stream.
func (b *InMemoryBus) Subscribe(stream string, bufferSize int) (<-chan Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	s, ok := b.streams[stream]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrStreamNotFound, stream)
	}
	ch := make(chan Message, bufferSize)
	s.subscribers = append(s.subscribers, ch)
	return ch, nil
}

// Shutdown cierra el bus y los canales de los suscriptores.
func (b *InMemoryBus) Shutdown() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, s := range b.streams {
		for _, ch := range s.subscribers {
			close(ch)
		}
		s.subscribers = nil
	}
}

// Dial devuelve una sesión sobre el bus; cerrarla no cierra el bus.
func (b *InMemoryBus) Dial(ctx context.Context) (domain.EventPublisher, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrBrokerUnavailable, err)
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, fmt.Errorf("%w: in-memory bus is shut down", domain.ErrBrokerUnavailable)
	}
	return &memorySession{bus: b}, nil
}

func (b *InMemoryBus) publish(ctx context.Context, event domain.RegistrationEvent, target domain.Target) (domain.PublishReceipt, error) {
	payload, err := event.MarshalJSON()
	if err != nil {
		return domain.PublishReceipt{}, fmt.Errorf("encode event: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return domain.PublishReceipt{}, fmt.Errorf("%w: %w", domain.ErrPublishTimeout, err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return domain.PublishReceipt{}, fmt.Errorf("%w: in-memory bus is shut down", domain.ErrBrokerUnavailable)
	}
	s, ok := b.streams[target.Stream]
	if !ok {
		return domain.PublishReceipt{}, fmt.Errorf("%w: %s", domain.ErrStreamNotFound, target.Stream)
	}
	if _, ok := s.subjects[target.Subject]; !ok {
		return domain.PublishReceipt{}, fmt.Errorf("%w: no stream %q bound to subject %q", domain.ErrStreamNotFound, target.Stream, target.Subject)
	}

	receipt := domain.PublishReceipt{Stream: target.Stream, Subject: target.Subject, AckedAt: time.Now().UTC()}

	msgID := event.DedupeKey()
	if seq, dup := s.seen[msgID]; dup {
		receipt.Sequence = seq
		receipt.Duplicate = true
		return receipt, nil
	}

	s.seq++
	s.seen[msgID] = s.seq
	receipt.Sequence = s.seq

	msg := Message{Stream: target.Stream, Subject: target.Subject, MsgID: msgID, Sequence: s.seq, Data: payload}
	for _, ch := range s.subscribers {
		select {
		case ch <- msg:
		default:
		}
	}
	return receipt, nil
}

type memorySession struct {
	bus    *InMemoryBus
	mu     sync.Mutex
	closed bool
}

func (s *memorySession) Publish(ctx context.Context, event domain.RegistrationEvent, target domain.Target) (domain.PublishReceipt, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return domain.PublishReceipt{}, fmt.Errorf("%w: session closed", domain.ErrBrokerUnavailable)
	}
	return s.bus.publish(ctx, event, target)
}

func (s *memorySession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

var (
	_ domain.PublisherDialer = (*InMemoryBus)(nil)
	_ domain.EventPublisher  = (*memorySession)(nil)
)
