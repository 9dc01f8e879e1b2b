package events

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/colinjlacy/knapscen-register-users/internal/registration/domain"
)

// Cabeceras Kafka: el subject no existe como tal, viaja como cabecera.
const (
	kafkaHeaderSubject   = "subject"
	kafkaHeaderEventType = "event_type"
	kafkaHeaderMsgID     = "msg_id"
)

type KafkaOptions struct {
	Brokers        []string
	ConnectTimeout time.Duration
	PublishTimeout time.Duration
}

// KafkaDialer conecta con el primer broker disponible.
type KafkaDialer struct {
	opts KafkaOptions
	log  *zap.Logger
}

func NewKafkaDialer(opts KafkaOptions, log *zap.Logger) *KafkaDialer {
	return &KafkaDialer{opts: opts, log: log}
}

func (d *KafkaDialer) Dial(ctx context.Context) (domain.EventPublisher, error) {
	dialer := &kafka.Dialer{Timeout: d.opts.ConnectTimeout, ClientID: "register-user"}

	var errs error
	for _, broker := range d.opts.Brokers {
		conn, err := dialer.DialContext(ctx, "tcp", broker)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", broker, err))
			continue
		}
		d.log.Debug("connected to kafka", zap.String("broker", broker))

		client := &kafka.Client{
			Addr:    kafka.TCP(d.opts.Brokers...),
			Timeout: d.opts.PublishTimeout,
		}
		writer := &kafka.Writer{
			Addr:                   kafka.TCP(d.opts.Brokers...),
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireAll,
			MaxAttempts:            1,
			BatchSize:              1,
			WriteTimeout:           d.opts.PublishTimeout,
			ReadTimeout:            d.opts.PublishTimeout,
			AllowAutoTopicCreation: false,
		}
		return NewKafkaPublisher(conn, client, writer, d.opts.PublishTimeout, d.log), nil
	}
	return nil, fmt.Errorf("%w: no kafka broker reachable (%s): %w",
		domain.ErrBrokerUnavailable, strings.Join(d.opts.Brokers, ","), errs)
}

// KafkaPublisher escribe en el topic equivalente al stream. La clave del
// mensaje es el id del usuario.
type KafkaPublisher struct {
	conn    *kafka.Conn
	client  *kafka.Client
	writer  *kafka.Writer
	timeout time.Duration
	log     *zap.Logger

	mu       sync.Mutex
	verified map[string]bool
}

func NewKafkaPublisher(conn *kafka.Conn, client *kafka.Client, writer *kafka.Writer, timeout time.Duration, log *zap.Logger) *KafkaPublisher {
	return &KafkaPublisher{
		conn:     conn,
		client:   client,
		writer:   writer,
		timeout:  timeout,
		log:      log,
		verified: make(map[string]bool),
	}
}

func (p *KafkaPublisher) Publish(ctx context.Context, event domain.RegistrationEvent, target domain.Target) (domain.PublishReceipt, error) {
	payload, err := event.MarshalJSON()
	if err != nil {
		return domain.PublishReceipt{}, fmt.Errorf("encode event: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	if err := p.ensureTopic(ctx, target.Stream); err != nil {
		return domain.PublishReceipt{}, err
	}

	msg := kafka.Message{
		Topic: target.Stream,
		Key:   []byte(event.PartitionKey()),
		Value: payload,
		Headers: []kafka.Header{
			{Key: kafkaHeaderSubject, Value: []byte(target.Subject)},
			{Key: kafkaHeaderEventType, Value: []byte(event.Type)},
			{Key: kafkaHeaderMsgID, Value: []byte(event.DedupeKey())},
		},
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.log.Error("Error publishing to Kafka", zap.Error(err))
		return domain.PublishReceipt{}, classifyKafka(err, target)
	}

	// kafka-go no devuelve el offset asignado en escrituras síncronas.
	return domain.PublishReceipt{
		Stream:  target.Stream,
		Subject: target.Subject,
		AckedAt: time.Now().UTC(),
	}, nil
}

// ensureTopic consulta los metadatos del topic; nunca lo crea.
// No usar Conn.ReadPartitions: su metadata v1 dispara el auto-create del broker.
func (p *KafkaPublisher) ensureTopic(ctx context.Context, topic string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.verified[topic] {
		return nil
	}

	resp, err := p.client.Metadata(ctx, &kafka.MetadataRequest{Topics: []string{topic}})
	if err != nil {
		return classifyKafka(err, domain.Target{Stream: topic})
	}
	if err := topicStatus(resp, topic); err != nil {
		return err
	}
	p.verified[topic] = true
	return nil
}

// topicStatus interpreta la respuesta de metadata para un único topic.
func topicStatus(resp *kafka.MetadataResponse, topic string) error {
	target := domain.Target{Stream: topic}
	if resp == nil {
		return fmt.Errorf("%w: empty metadata response", domain.ErrBrokerUnavailable)
	}
	for _, t := range resp.Topics {
		if t.Name != topic {
			continue
		}
		if t.Error != nil {
			return classifyKafka(t.Error, target)
		}
		if len(t.Partitions) == 0 {
			return fmt.Errorf("%w: topic %s has no partitions", domain.ErrStreamNotFound, topic)
		}
		return nil
	}
	return fmt.Errorf("%w: topic %s: %w", domain.ErrStreamNotFound, topic, kafka.UnknownTopicOrPartition)
}

func (p *KafkaPublisher) Close() error {
	var err error
	if p.writer != nil {
		err = multierr.Append(err, p.writer.Close())
	}
	if p.conn != nil {
		err = multierr.Append(err, p.conn.Close())
	}
	return err
}

func classifyKafka(err error, target domain.Target) error {
	// WriteErrors no implementa Unwrap: nos quedamos con el primer error real.
	var werrs kafka.WriteErrors
	if errors.As(err, &werrs) {
		for _, e := range werrs {
			if e != nil {
				err = e
				break
			}
		}
	}

	switch {
	case errors.Is(err, kafka.UnknownTopicOrPartition):
		return fmt.Errorf("%w: topic %s: %w", domain.ErrStreamNotFound, target.Stream, err)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, kafka.RequestTimedOut):
		return fmt.Errorf("%w: %s: %w", domain.ErrPublishTimeout, target.Stream, err)
	}

	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %s: %w", domain.ErrPublishTimeout, target.Stream, err)
	}
	return fmt.Errorf("%w: %w", domain.ErrBrokerUnavailable, err)
}

var (
	_ domain.PublisherDialer = (*KafkaDialer)(nil)
	_ domain.EventPublisher  = (*KafkaPublisher)(nil)
)
