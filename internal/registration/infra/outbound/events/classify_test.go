package events

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/colinjlacy/knapscen-register-users/internal/registration/domain"
)

func TestClassifyNATS(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"deadline", context.DeadlineExceeded, domain.ErrPublishTimeout},
		{"nats timeout", nats.ErrTimeout, domain.ErrPublishTimeout},
		{"sin stream", jetstream.ErrStreamNotFound, domain.ErrStreamNotFound},
		{"subject sin stream", jetstream.ErrNoStreamResponse, domain.ErrStreamNotFound},
		{"conexión cerrada", nats.ErrConnectionClosed, domain.ErrBrokerUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classifyNATS(fmt.Errorf("publish: %w", tt.err), testTarget)
			assert.ErrorIs(t, err, tt.want)
			assert.ErrorIs(t, err, tt.err, "conserva la causa")
			assert.Equal(t, domain.CategoryPublish, domain.CategoryOf(err))
		})
	}
}

func TestClassifyKafka(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"topic inexistente", kafka.UnknownTopicOrPartition, domain.ErrStreamNotFound},
		{"write errors", kafka.WriteErrors{kafka.UnknownTopicOrPartition}, domain.ErrStreamNotFound},
		{"timeout del broker", kafka.RequestTimedOut, domain.ErrPublishTimeout},
		{"deadline", context.DeadlineExceeded, domain.ErrPublishTimeout},
		{"otro", errors.New("connection reset by peer"), domain.ErrBrokerUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classifyKafka(tt.err, testTarget)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestTopicStatus(t *testing.T) {
	partitions := []kafka.Partition{{Topic: "USERS", ID: 0}}

	tests := []struct {
		name string
		resp *kafka.MetadataResponse
		want error
	}{
		{"existe", &kafka.MetadataResponse{Topics: []kafka.Topic{{Name: "USERS", Partitions: partitions}}}, nil},
		{"error por topic", &kafka.MetadataResponse{Topics: []kafka.Topic{{Name: "USERS", Error: kafka.UnknownTopicOrPartition}}}, domain.ErrStreamNotFound},
		{"ausente en la respuesta", &kafka.MetadataResponse{Topics: []kafka.Topic{{Name: "OTHER", Partitions: partitions}}}, domain.ErrStreamNotFound},
		{"sin particiones", &kafka.MetadataResponse{Topics: []kafka.Topic{{Name: "USERS"}}}, domain.ErrStreamNotFound},
		{"timeout por topic", &kafka.MetadataResponse{Topics: []kafka.Topic{{Name: "USERS", Error: kafka.RequestTimedOut}}}, domain.ErrPublishTimeout},
		{"sin respuesta", nil, domain.ErrBrokerUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := topicStatus(tt.resp, "USERS")
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestNATSDialer_Unreachable(t *testing.T) {
	dialer := NewNATSDialer(NATSOptions{
		Servers:        []string{"nats://127.0.0.1:1"},
		ConnectTimeout: 200 * time.Millisecond,
		PublishTimeout: time.Second,
	}, zap.NewNop())

	pub, err := dialer.Dial(context.Background())

	assert.Nil(t, pub)
	assert.ErrorIs(t, err, domain.ErrBrokerUnavailable)
}

func TestKafkaDialer_Unreachable(t *testing.T) {
	dialer := NewKafkaDialer(KafkaOptions{
		Brokers:        []string{"127.0.0.1:1", "127.0.0.1:2"},
		ConnectTimeout: 200 * time.Millisecond,
		PublishTimeout: time.Second,
	}, zap.NewNop())

	pub, err := dialer.Dial(context.Background())

	assert.Nil(t, pub)
	assert.ErrorIs(t, err, domain.ErrBrokerUnavailable)
	assert.Contains(t, err.Error(), "127.0.0.1:2")
}
