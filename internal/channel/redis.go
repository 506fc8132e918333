package channel

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ariefcatur/go-realtime-tables/internal/tables"
)

// RedisTransport carries the channel over redis PUBLISH/SUBSCRIBE. The client
// is owned by the caller and is not closed by sessions.
type RedisTransport struct {
	rdb *redis.Client
	// PingInterval controls how fast a dead server is noticed.
	PingInterval time.Duration
}

func NewRedisTransport(rdb *redis.Client) *RedisTransport {
	return &RedisTransport{rdb: rdb, PingInterval: 5 * time.Second}
}

func (t *RedisTransport) Dial(ctx context.Context) (Session, error) {
	if err := t.rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	s := &redisSession{
		rdb:  t.rdb,
		done: make(chan struct{}),
		stop: make(chan struct{}),
	}
	go s.health(t.PingInterval)
	return s, nil
}

type redisSession struct {
	rdb  *redis.Client
	done chan struct{}
	stop chan struct{}

	lostOnce  sync.Once
	closeOnce sync.Once

	mu      sync.Mutex
	streams []*redisStream
}

func (s *redisSession) health(every time.Duration) {
	if every <= 0 {
		every = 5 * time.Second
	}
	tk := time.NewTicker(every)
	defer tk.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-tk.C:
			ctx, cancel := context.WithTimeout(context.Background(), every)
			err := s.rdb.Ping(ctx).Err()
			cancel()
			if err != nil {
				s.lostOnce.Do(func() { close(s.done) })
				return
			}
		}
	}
}

func (s *redisSession) Subscribe(ctx context.Context, topic string) (Stream, error) {
	ps := s.rdb.Subscribe(ctx, tables.BrokerName(topic))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, err
	}
	st := &redisStream{ps: ps, out: make(chan []byte, 64)}
	go st.run()

	s.mu.Lock()
	s.streams = append(s.streams, st)
	s.mu.Unlock()
	return st, nil
}

func (s *redisSession) Publish(ctx context.Context, destination string, _ []byte, body []byte) error {
	return s.rdb.Publish(ctx, tables.BrokerName(destination), body).Err()
}

func (s *redisSession) Done() <-chan struct{} { return s.done }

func (s *redisSession) Close() error {
	s.closeOnce.Do(func() { close(s.stop) })
	s.mu.Lock()
	streams := s.streams
	s.streams = nil
	s.mu.Unlock()
	for _, st := range streams {
		_ = st.Close()
	}
	return nil
}

type redisStream struct {
	ps   *redis.PubSub
	out  chan []byte
	once sync.Once
}

func (r *redisStream) run() {
	defer close(r.out)
	for m := range r.ps.Channel() {
		r.out <- []byte(m.Payload)
	}
}

func (r *redisStream) Messages() <-chan []byte { return r.out }

func (r *redisStream) Close() error {
	var err error
	r.once.Do(func() { err = r.ps.Close() })
	return err
}
