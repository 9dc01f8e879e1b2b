package mocks

import (
	"context"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/colinjlacy/knapscen-register-users/internal/registration/domain"
)

// ------------------- EventPublisher -------------------

// DummyPublisher guarda los eventos publicados y simula el ack.
type DummyPublisher struct {
	Published  []domain.RegistrationEvent
	Payloads   [][]byte
	PublishErr error
	Closed     int

	seq uint64
	mu  sync.Mutex
}

func (p *DummyPublisher) Publish(ctx context.Context, event domain.RegistrationEvent, target domain.Target) (domain.PublishReceipt, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.PublishErr != nil {
		return domain.PublishReceipt{}, p.PublishErr
	}

	payload, err := event.MarshalJSON()
	if err != nil {
		return domain.PublishReceipt{}, err
	}
	p.Published = append(p.Published, event)
	p.Payloads = append(p.Payloads, payload)
	p.seq++

	return domain.PublishReceipt{
		Stream:   target.Stream,
		Subject:  target.Subject,
		Sequence: p.seq,
		AckedAt:  time.Now().UTC(),
	}, nil
}

func (p *DummyPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Closed++
	return nil
}

// Count devuelve cuántos eventos se publicaron.
func (p *DummyPublisher) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Published)
}

// DummyDialer entrega siempre el mismo publisher, o DialErr.
type DummyDialer struct {
	Publisher domain.EventPublisher
	DialErr   error
	Dials     int
	mu        sync.Mutex
}

func (d *DummyDialer) Dial(ctx context.Context) (domain.EventPublisher, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Dials++
	if d.DialErr != nil {
		return nil, d.DialErr
	}
	return d.Publisher, nil
}

// ------------------- testify mocks -------------------

// MockPublisher simula un publisher
type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(ctx context.Context, event domain.RegistrationEvent, target domain.Target) (domain.PublishReceipt, error) {
	args := m.Called(ctx, event, target)
	return args.Get(0).(domain.PublishReceipt), args.Error(1)
}

func (m *MockPublisher) Close() error {
	args := m.Called()
	return args.Error(0)
}

// MockResolver simula el resolver de identidades
type MockResolver struct {
	mock.Mock
}

func (m *MockResolver) Resolve(ctx context.Context, customer, role domain.Reference) (domain.ResolvedIdentifiers, error) {
	args := m.Called(ctx, customer, role)
	return args.Get(0).(domain.ResolvedIdentifiers), args.Error(1)
}

// MockRecorder simula el recolector de métricas
type MockRecorder struct {
	mock.Mock
}

func (m *MockRecorder) ObserveStage(stage string, d time.Duration) {
	m.Called(stage, d)
}

func (m *MockRecorder) RecordOutcome(status string) {
	m.Called(status)
}

var (
	_ domain.EventPublisher  = (*DummyPublisher)(nil)
	_ domain.EventPublisher  = (*MockPublisher)(nil)
	_ domain.PublisherDialer = (*DummyDialer)(nil)
)
