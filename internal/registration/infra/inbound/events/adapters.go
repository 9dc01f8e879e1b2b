package events

import (
	"context"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	outbound "github.com/colinjlacy/knapscen-register-users/internal/registration/infra/outbound/events"
)

// MessageHandler define la interfaz que debe cumplir cualquier consumidor de eventos.
type MessageHandler interface {
	HandleMessage(ctx context.Context, key string, payload []byte)
}

// ------------------- JetStream -------------------

// JetStreamAdapter entrega al handler los mensajes de un consumer JetStream
// y confirma cada uno tras procesarlo.
type JetStreamAdapter struct {
	consumer jetstream.Consumer
	handler  MessageHandler
	log      *zap.Logger
}

func NewJetStreamAdapter(consumer jetstream.Consumer, handler MessageHandler, log *zap.Logger) *JetStreamAdapter {
	return &JetStreamAdapter{consumer: consumer, handler: handler, log: log}
}

// Start consume hasta que se cancela ctx.
func (a *JetStreamAdapter) Start(ctx context.Context) error {
	cc, err := a.consumer.Consume(func(msg jetstream.Msg) {
		a.handler.HandleMessage(ctx, msg.Headers().Get(nats.MsgIdHdr), msg.Data())
		if err := msg.Ack(); err != nil {
			a.log.Warn("Failed to ack JetStream message", zap.Error(err))
		}
	})
	if err != nil {
		return err
	}

	go func() {
		<-ctx.Done()
		cc.Stop()
		a.log.Info("JetStream consumer stopped")
	}()
	return nil
}

// ------------------- Kafka -------------------

// KafkaAdapter es el "oído" que escucha en Kafka.
type KafkaAdapter struct {
	reader  *kafka.Reader
	handler MessageHandler
	log     *zap.Logger
}

func NewKafkaAdapter(reader *kafka.Reader, handler MessageHandler, log *zap.Logger) *KafkaAdapter {
	return &KafkaAdapter{reader: reader, handler: handler, log: log}
}

// Start inicia el bucle de consumo de mensajes en una goroutine.
func (a *KafkaAdapter) Start(ctx context.Context) {
	a.log.Info("Starting Kafka consumer",
		zap.String("topic", a.reader.Config().Topic),
		zap.Strings("brokers", a.reader.Config().Brokers),
	)

	go func() {
		for {
			msg, err := a.reader.ReadMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					a.log.Info("Kafka consumer stopped", zap.String("topic", a.reader.Config().Topic))
					return
				}
				a.log.Error("Failed to read Kafka message", zap.Error(err))
				continue
			}
			a.handler.HandleMessage(ctx, string(msg.Key), msg.Value)
		}
	}()
}

// ------------------- Bus en memoria -------------------

// ConsumeChan procesa los mensajes del bus en memoria hasta que se cierra
// el canal o se cancela ctx. Devuelve un canal que se cierra al terminar.
func ConsumeChan(ctx context.Context, ch <-chan outbound.Message, handler MessageHandler) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				handler.HandleMessage(ctx, msg.MsgID, msg.Data)
			}
		}
	}()
	return done
}
