package channel

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/segmentio/kafka-go"

	kafkax "github.com/ariefcatur/go-realtime-tables/internal/kafka"
	"github.com/ariefcatur/go-realtime-tables/internal/tables"
)

var errPublishDropped = errors.New("kafka producer closed or full")

// KafkaTransport publishes through a shared producer and follows each
// subscribed topic with its own tail reader.
type KafkaTransport struct {
	brokers  []string
	producer *kafkax.Producer
}

func NewKafkaTransport(brokers []string, p *kafkax.Producer) *KafkaTransport {
	return &KafkaTransport{brokers: brokers, producer: p}
}

func (t *KafkaTransport) Dial(ctx context.Context) (Session, error) {
	var last error
	for _, b := range t.brokers {
		conn, err := kafka.DialContext(ctx, "tcp", b)
		if err != nil {
			last = err
			continue
		}
		_ = conn.Close()
		return &kafkaSession{t: t, done: make(chan struct{})}, nil
	}
	if last == nil {
		last = errors.New("no brokers configured")
	}
	return nil, fmt.Errorf("kafka dial: %w", last)
}

type kafkaSession struct {
	t    *KafkaTransport
	done chan struct{}
	lost sync.Once

	mu      sync.Mutex
	streams []*kafkaStream
}

func (s *kafkaSession) Subscribe(_ context.Context, topic string) (Stream, error) {
	tr := kafkax.NewTailReader(s.t.brokers, tables.BrokerName(topic))
	ctx, cancel := context.WithCancel(context.Background())
	st := &kafkaStream{out: make(chan []byte, 64), cancel: cancel}
	go func() {
		defer tr.Close()
		if err := tr.Run(ctx, st.out); err != nil {
			s.lost.Do(func() { close(s.done) })
		}
	}()

	s.mu.Lock()
	s.streams = append(s.streams, st)
	s.mu.Unlock()
	return st, nil
}

func (s *kafkaSession) Publish(_ context.Context, destination string, key, body []byte) error {
	if !s.t.producer.Publish(tables.BrokerName(destination), key, body) {
		return errPublishDropped
	}
	return nil
}

func (s *kafkaSession) Done() <-chan struct{} { return s.done }

func (s *kafkaSession) Close() error {
	s.mu.Lock()
	streams := s.streams
	s.streams = nil
	s.mu.Unlock()
	for _, st := range streams {
		_ = st.Close()
	}
	return nil
}

type kafkaStream struct {
	out    chan []byte
	cancel context.CancelFunc
}

func (k *kafkaStream) Messages() <-chan []byte { return k.out }

func (k *kafkaStream) Close() error {
	k.cancel()
	return nil
}
