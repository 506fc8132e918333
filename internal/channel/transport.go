package channel

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	kafkax "github.com/ariefcatur/go-realtime-tables/internal/kafka"
)

// Transport opens sessions against a pub/sub backend.
type Transport interface {
	Dial(ctx context.Context) (Session, error)
}

// Session is one live connection. Done is closed when the connection is lost;
// it is not closed by Close.
type Session interface {
	Subscribe(ctx context.Context, topic string) (Stream, error)
	Publish(ctx context.Context, destination string, key, body []byte) error
	Done() <-chan struct{}
	Close() error
}

// Stream carries raw message bodies for one topic. Messages is closed after
// Close or when the session ends.
type Stream interface {
	Messages() <-chan []byte
	Close() error
}

// Keyed payloads choose their own partition key.
type Keyed interface {
	PartitionKey() []byte
}

// ErrUnknownTransport is returned by Select for a kind other than redis or kafka.
var ErrUnknownTransport = errors.New("unknown channel transport")

// Select returns the transport named by kind. The producer is only used
// (and only required) for kafka.
func Select(kind string, rdb *redis.Client, brokers []string, p *kafkax.Producer) (Transport, error) {
	switch kind {
	case "", "redis":
		return NewRedisTransport(rdb), nil
	case "kafka":
		return NewKafkaTransport(brokers, p), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownTransport, kind)
}
