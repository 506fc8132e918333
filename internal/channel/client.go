package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ariefcatur/go-realtime-tables/internal/metrics"
	"github.com/ariefcatur/go-realtime-tables/internal/tables"
)

type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateOffline
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateOffline:
		return "offline"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

var (
	ErrNotConnected   = errors.New("channel not connected")
	ErrOffline        = errors.New("channel offline")
	ErrConnectionLost = errors.New("channel connection lost")
)

// Handler receives one decoded envelope per inbound message.
type Handler func(env tables.Envelope)

type Options struct {
	Backoff       Backoff
	OnConnected   func()
	OnError       func(error)
	OnStateChange func(State)
}

// Client owns one logical connection to the table-status channel. Live
// subscriptions are re-established after every successful reconnect.
type Client struct {
	transport Transport
	opts      Options
	log       zerolog.Logger

	mu    sync.Mutex
	state State
	sess  Session
	life  context.Context
	stop  context.CancelFunc
	subs  map[string]*Subscription
}

func New(t Transport, opts Options, log zerolog.Logger) *Client {
	opts.Backoff = opts.Backoff.normalized()
	return &Client{
		transport: t,
		opts:      opts,
		log:       log.With().Str("component", "channel").Logger(),
		subs:      make(map[string]*Subscription),
	}
}

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) Connected() bool { return c.State() == StateConnected }

// Connect dials the transport, retrying with capped exponential backoff. It
// returns nil right away when already connected or connecting, and an error
// wrapping ErrOffline once every attempt has failed.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state == StateConnected || c.state == StateConnecting {
		c.mu.Unlock()
		return nil
	}
	if c.life == nil || c.life.Err() != nil {
		c.life, c.stop = context.WithCancel(context.Background())
	}
	life := c.life
	changed := c.transitionLocked(StateConnecting)
	c.mu.Unlock()
	c.notify(changed, StateConnecting)

	return c.dialLoop(ctx, life, false)
}

func (c *Client) dialLoop(ctx, life context.Context, reconnect bool) error {
	b := c.opts.Backoff
	var last error
	for attempt := 0; attempt < b.Attempts; attempt++ {
		if attempt > 0 {
			if err := wait(ctx, life, b.Delay(attempt-1)); err != nil {
				c.setState(StateDisconnected)
				return err
			}
		}
		if attempt > 0 || reconnect {
			metrics.IncReconnect()
		}

		sess, err := c.transport.Dial(ctx)
		if err != nil {
			last = err
			c.log.Error().Err(err).Int("attempt", attempt+1).Int("max_attempts", b.Attempts).Msg("connect failed")
			c.fireError(err)
			continue
		}
		if !c.attach(life, sess) {
			_ = sess.Close()
			return ErrNotConnected
		}
		c.log.Info().Int("attempt", attempt+1).Msg("channel connected")
		if c.opts.OnConnected != nil {
			c.opts.OnConnected()
		}
		return nil
	}

	c.setState(StateOffline)
	c.log.Error().Err(last).Msg("channel offline, giving up")
	return fmt.Errorf("%w: %v", ErrOffline, last)
}

func wait(ctx, life context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-life.Done():
		return ErrNotConnected
	}
}

// attach installs sess as the live session and re-subscribes every
// registered subscription on it. It reports false if Disconnect won the race.
func (c *Client) attach(life context.Context, sess Session) bool {
	c.mu.Lock()
	if life.Err() != nil {
		c.mu.Unlock()
		return false
	}
	c.sess = sess
	subs := make([]*Subscription, 0, len(c.subs))
	for _, s := range c.subs {
		subs = append(subs, s)
	}
	changed := c.transitionLocked(StateConnected)
	c.mu.Unlock()
	c.notify(changed, StateConnected)

	for _, s := range subs {
		if err := c.attachSub(life, s, sess); err != nil {
			c.log.Error().Err(err).Str("topic", s.Topic).Msg("resubscribe failed")
			c.fireError(err)
		}
	}
	go c.watch(life, sess)
	return true
}

// watch turns a lost session into a reconnect cycle.
func (c *Client) watch(life context.Context, sess Session) {
	select {
	case <-life.Done():
		return
	case <-sess.Done():
	}

	c.mu.Lock()
	if c.sess != sess {
		c.mu.Unlock()
		return
	}
	c.sess = nil
	for _, s := range c.subs {
		s.detach()
	}
	changed := c.transitionLocked(StateConnecting)
	c.mu.Unlock()
	_ = sess.Close()

	c.log.Warn().Msg("channel connection lost, reconnecting")
	c.fireError(ErrConnectionLost)
	c.notify(changed, StateConnecting)
	_ = c.dialLoop(life, life, true)
}

// Subscribe registers h for topic. It fails immediately with ErrNotConnected
// when the client is not connected. Bodies that are not a JSON envelope are
// logged and dropped.
func (c *Client) Subscribe(topic string, h Handler) (*Subscription, error) {
	return c.subscribe(topic, func(body []byte) {
		var env tables.Envelope
		if err := json.Unmarshal(body, &env); err != nil {
			c.log.Error().Err(err).Str("topic", topic).Msg("drop malformed message")
			return
		}
		h(env)
	})
}

// SubscribeRaw is Subscribe without envelope decoding, for request
// destinations whose bodies are plain JSON objects.
func (c *Client) SubscribeRaw(topic string, h func(body []byte)) (*Subscription, error) {
	return c.subscribe(topic, h)
}

func (c *Client) subscribe(topic string, deliver func([]byte)) (*Subscription, error) {
	c.mu.Lock()
	if c.state != StateConnected || c.sess == nil {
		c.mu.Unlock()
		c.log.Error().Str("topic", topic).Msg("subscribe while not connected")
		return nil, ErrNotConnected
	}
	sess, life := c.sess, c.life
	sub := &Subscription{ID: uuid.NewString(), Topic: topic, deliver: deliver, c: c}
	c.subs[sub.ID] = sub
	c.mu.Unlock()

	if err := c.attachSub(life, sub, sess); err != nil {
		c.mu.Lock()
		delete(c.subs, sub.ID)
		c.mu.Unlock()
		c.log.Error().Err(err).Str("topic", topic).Msg("subscribe failed")
		return nil, fmt.Errorf("subscribe %s: %w", topic, err)
	}
	return sub, nil
}

func (c *Client) attachSub(ctx context.Context, s *Subscription, sess Session) error {
	st, err := sess.Subscribe(ctx, s.Topic)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		_ = st.Close()
		return nil
	}
	if s.stream != nil {
		_ = s.stream.Close()
	}
	s.stream = st
	go s.pump(st)
	return nil
}

// Send publishes payload as JSON. It is fire-and-forget: when not connected it
// logs and returns ErrNotConnected without queuing anything.
func (c *Client) Send(ctx context.Context, destination string, payload any) error {
	c.mu.Lock()
	sess, state := c.sess, c.state
	c.mu.Unlock()
	if state != StateConnected || sess == nil {
		c.log.Error().Str("destination", destination).Str("state", state.String()).Msg("send while not connected")
		return ErrNotConnected
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s: %w", destination, err)
	}
	var key []byte
	if k, ok := payload.(Keyed); ok {
		key = k.PartitionKey()
	}
	if err := sess.Publish(ctx, destination, key, body); err != nil {
		c.log.Error().Err(err).Str("destination", destination).Msg("publish failed")
		return fmt.Errorf("publish %s: %w", destination, err)
	}
	return nil
}

// Disconnect ends the session and drops all subscriptions. Safe to call
// repeatedly.
func (c *Client) Disconnect() {
	c.mu.Lock()
	if c.stop != nil {
		c.stop()
	}
	sess := c.sess
	c.sess = nil
	for id, s := range c.subs {
		s.detach()
		delete(c.subs, id)
	}
	changed := c.transitionLocked(StateDisconnected)
	c.mu.Unlock()

	if sess != nil {
		_ = sess.Close()
		c.log.Info().Msg("channel disconnected")
	}
	c.notify(changed, StateDisconnected)
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	changed := c.transitionLocked(s)
	c.mu.Unlock()
	c.notify(changed, s)
}

func (c *Client) transitionLocked(s State) bool {
	if c.state == s {
		return false
	}
	c.state = s
	metrics.SetChannelState(int(s))
	return true
}

func (c *Client) notify(changed bool, s State) {
	if changed && c.opts.OnStateChange != nil {
		c.opts.OnStateChange(s)
	}
}

func (c *Client) fireError(err error) {
	if c.opts.OnError != nil {
		c.opts.OnError(err)
	}
}

// Subscription is the handle returned by Subscribe.
type Subscription struct {
	ID    string
	Topic string

	deliver func([]byte)
	c       *Client

	mu     sync.Mutex
	stream Stream
	closed bool
}

// Unsubscribe stops delivery and forgets the subscription so it is not
// restored on reconnect. Idempotent.
func (s *Subscription) Unsubscribe() {
	if s == nil {
		return
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	if s.stream != nil {
		_ = s.stream.Close()
		s.stream = nil
	}
	s.mu.Unlock()

	s.c.mu.Lock()
	delete(s.c.subs, s.ID)
	s.c.mu.Unlock()
}

// detach closes the current stream but keeps the subscription registered.
func (s *Subscription) detach() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stream != nil {
		_ = s.stream.Close()
		s.stream = nil
	}
}

func (s *Subscription) active(st Stream) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed && s.stream == st
}

func (s *Subscription) pump(st Stream) {
	for body := range st.Messages() {
		if s.active(st) {
			s.deliver(body)
		}
	}
}
