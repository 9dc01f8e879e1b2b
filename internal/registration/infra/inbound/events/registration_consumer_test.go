package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/colinjlacy/knapscen-register-users/internal/registration/domain"
	"github.com/colinjlacy/knapscen-register-users/internal/registration/infra/outbound/cache"
	outbound "github.com/colinjlacy/knapscen-register-users/internal/registration/infra/outbound/events"
)

type recordingHandler struct {
	mu     sync.Mutex
	events []domain.RegistrationEvent
	err    error
}

func (h *recordingHandler) handle(ctx context.Context, evt domain.RegistrationEvent) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.err != nil {
		return h.err
	}
	h.events = append(h.events, evt)
	return nil
}

func (h *recordingHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.events)
}

type mockDeduper struct {
	mock.Mock
}

func (m *mockDeduper) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	args := m.Called(ctx, key, ttl)
	return args.Bool(0), args.Error(1)
}

func (m *mockDeduper) Release(ctx context.Context, key string) error {
	return m.Called(ctx, key).Error(0)
}

func payloadFor(t *testing.T, userID uuid.UUID) []byte {
	t.Helper()
	req, err := domain.NewRegistrationRequest("Jane Smith", "jane.smith@techcorp.com",
		domain.ByName("TechCorp"), domain.ByName("customer_account_owner"),
		domain.Attributes{{Key: "department", Value: "Engineering"}})
	require.NoError(t, err)
	evt, err := domain.NewRegistrationEvent(&domain.UserRecord{ID: userID}, req, time.Unix(1700000000, 500000000))
	require.NoError(t, err)
	payload, err := evt.MarshalJSON()
	require.NoError(t, err)
	return payload
}

func TestRegistrationConsumer_RedeliveryHandledOnce(t *testing.T) {
	dedupe := cache.NewInMemoryDeduper(time.Hour)
	defer dedupe.Stop()
	h := &recordingHandler{}
	consumer := NewRegistrationConsumer(dedupe, h.handle, time.Hour, zap.NewNop())

	userID := uuid.New()
	payload := payloadFor(t, userID)

	// Misma publicación entregada dos veces: un solo evento lógico.
	consumer.HandleMessage(context.Background(), "", payload)
	consumer.HandleMessage(context.Background(), "", payload)

	require.Equal(t, 1, h.count())
	assert.Equal(t, userID, h.events[0].UserID)
	dept, _ := h.events[0].Data.Get("department")
	assert.Equal(t, "Engineering", dept)

	// Otro usuario sí se procesa.
	consumer.HandleMessage(context.Background(), "", payloadFor(t, uuid.New()))
	assert.Equal(t, 2, h.count())
}

func TestRegistrationConsumer_FailedHandlerReleasesKey(t *testing.T) {
	dedupe := cache.NewInMemoryDeduper(time.Hour)
	defer dedupe.Stop()
	h := &recordingHandler{err: errors.New("downstream down")}
	consumer := NewRegistrationConsumer(dedupe, h.handle, time.Hour, zap.NewNop())

	payload := payloadFor(t, uuid.New())
	consumer.HandleMessage(context.Background(), "", payload)
	assert.Equal(t, 0, h.count())
	assert.Equal(t, 0, dedupe.Len(), "la clave se libera tras el fallo")

	h.mu.Lock()
	h.err = nil
	h.mu.Unlock()
	consumer.HandleMessage(context.Background(), "", payload)
	assert.Equal(t, 1, h.count())
}

func TestRegistrationConsumer_IgnoresGarbageAndUnknownTypes(t *testing.T) {
	d := &mockDeduper{}
	h := &recordingHandler{}
	consumer := NewRegistrationConsumer(d, h.handle, time.Hour, zap.NewNop())

	consumer.HandleMessage(context.Background(), "k", []byte("not json"))
	consumer.HandleMessage(context.Background(), "k",
		[]byte(`{"event_type":"user_deleted","user_id":"`+uuid.NewString()+`","timestamp":1,"data":{}}`))

	assert.Equal(t, 0, h.count())
	d.AssertNotCalled(t, "Claim", mock.Anything, mock.Anything, mock.Anything)
}

func TestRegistrationConsumer_DedupeStoreDown(t *testing.T) {
	userID := uuid.New()
	d := &mockDeduper{}
	d.On("Claim", mock.Anything, "user_registered:"+userID.String(), time.Minute).
		Return(false, errors.New("redis: connection refused"))
	h := &recordingHandler{}
	consumer := NewRegistrationConsumer(d, h.handle, time.Minute, zap.NewNop())

	consumer.HandleMessage(context.Background(), "", payloadFor(t, userID))

	assert.Equal(t, 0, h.count())
	d.AssertExpectations(t)
}

func TestConsumeChan_FromInMemoryBus(t *testing.T) {
	target := domain.Target{Stream: "user-events", Subject: "users.registered"}
	bus := outbound.NewInMemoryBus()
	bus.DeclareStream(target.Stream, target.Subject)
	sub, err := bus.Subscribe(target.Stream, 8)
	require.NoError(t, err)

	dedupe := cache.NewInMemoryDeduper(time.Hour)
	defer dedupe.Stop()
	h := &recordingHandler{}
	consumer := NewRegistrationConsumer(dedupe, h.handle, time.Hour, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := ConsumeChan(ctx, sub, consumer)

	evt, err := domain.DecodeRegistrationEvent(payloadFor(t, uuid.New()))
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		pub, err := bus.Dial(ctx)
		require.NoError(t, err)
		_, err = pub.Publish(ctx, evt, target)
		require.NoError(t, err)
		require.NoError(t, pub.Close())
	}

	assert.Eventually(t, func() bool { return h.count() == 1 }, time.Second, 10*time.Millisecond)

	bus.Shutdown()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("ConsumeChan no terminó al cerrar el bus")
	}
	assert.Equal(t, 1, h.count())
}

func TestKafkaAdapter_StopsOnCancel(t *testing.T) {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers: []string{"127.0.0.1:1"},
		Topic:   "user-events",
	})
	defer reader.Close()

	h := &recordingHandler{}
	dedupe := cache.NewInMemoryDeduper(time.Hour)
	defer dedupe.Stop()
	adapter := NewKafkaAdapter(reader, NewRegistrationConsumer(dedupe, h.handle, time.Hour, zap.NewNop()), zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	adapter.Start(ctx)
	time.Sleep(50 * time.Millisecond)
	cancel()

	assert.Never(t, func() bool { return h.count() > 0 }, 100*time.Millisecond, 10*time.Millisecond)
}
