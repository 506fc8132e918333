package channel

import (
	"context"
	"errors"
	"sync"
)

// memTransport is an in-process broker. Dial fails while failDials > 0.
type memTransport struct {
	mu        sync.Mutex
	failDials int
	dials     int
	sessions  []*memSession
	published []memMsg
}

type memMsg struct {
	dest string
	key  []byte
	body []byte
}

var errDial = errors.New("dial refused")

func (m *memTransport) Dial(context.Context) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dials++
	if m.failDials > 0 {
		m.failDials--
		return nil, errDial
	}
	s := &memSession{t: m, done: make(chan struct{})}
	m.sessions = append(m.sessions, s)
	return s, nil
}

func (m *memTransport) last() *memSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sessions) == 0 {
		return nil
	}
	return m.sessions[len(m.sessions)-1]
}

func (m *memTransport) sent() []memMsg {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]memMsg(nil), m.published...)
}

func (m *memTransport) dialCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dials
}

type memSession struct {
	t    *memTransport
	done chan struct{}
	lost sync.Once

	mu      sync.Mutex
	streams map[string][]*memStream
}

func (s *memSession) Subscribe(_ context.Context, topic string) (Stream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.streams == nil {
		s.streams = make(map[string][]*memStream)
	}
	st := &memStream{out: make(chan []byte, 16)}
	s.streams[topic] = append(s.streams[topic], st)
	return st, nil
}

func (s *memSession) Publish(_ context.Context, dest string, key, body []byte) error {
	s.t.mu.Lock()
	s.t.published = append(s.t.published, memMsg{dest: dest, key: key, body: body})
	s.t.mu.Unlock()
	return nil
}

// push delivers body to every open stream of topic.
func (s *memSession) push(topic string, body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, st := range s.streams[topic] {
		st.send([]byte(body))
	}
}

func (s *memSession) subscribers(topic string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, st := range s.streams[topic] {
		if !st.isClosed() {
			n++
		}
	}
	return n
}

func (s *memSession) drop() { s.lost.Do(func() { close(s.done) }) }

func (s *memSession) Done() <-chan struct{} { return s.done }

func (s *memSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sts := range s.streams {
		for _, st := range sts {
			_ = st.Close()
		}
	}
	return nil
}

type memStream struct {
	mu     sync.Mutex
	out    chan []byte
	closed bool
}

func (m *memStream) send(b []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.out <- b
	}
}

func (m *memStream) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *memStream) Messages() <-chan []byte { return m.out }

func (m *memStream) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.closed = true
		close(m.out)
	}
	return nil
}
