package server

import (
	"bufio"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vovakirdan/ruchat-server/pkg/protocol"
)

var (
	ErrSessionClosed = errors.New("session closed")
	ErrSendQueueFull = errors.New("send queue full")
)

// Session is the runtime state of one connection. Only the session's own
// goroutines touch conn; everything else reaches the peer through Send.
type Session struct {
	ID   string // random, for logs
	Addr string // peer address

	conn      net.Conn
	out       chan string
	closing   chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	drain     time.Duration

	mu            sync.Mutex
	username      string
	authenticated bool
	room          string
}

// SessionState is a point-in-time copy of a session's auth and room state.
type SessionState struct {
	Username      string
	Authenticated bool
	Room          string
}

// newSession wraps conn and starts its writer goroutine. A nil conn gives a
// detached session whose queued output is read straight from out (tests).
func newSession(conn net.Conn, queue int, drain time.Duration) *Session {
	if queue <= 0 {
		queue = 64
	}
	if drain <= 0 {
		drain = 2 * time.Second
	}
	s := &Session{
		ID:      uuid.NewString(),
		conn:    conn,
		out:     make(chan string, queue),
		closing: make(chan struct{}),
		done:    make(chan struct{}),
		drain:   drain,
	}
	if conn != nil {
		s.Addr = conn.RemoteAddr().String()
		go s.writeLoop()
	}
	return s
}

// State returns a snapshot of the session's auth and room state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SessionState{Username: s.username, Authenticated: s.authenticated, Room: s.room}
}

func (s *Session) signIn(username, room string) {
	s.mu.Lock()
	s.username = username
	s.authenticated = true
	s.room = room
	s.mu.Unlock()
}

func (s *Session) setRoom(room string) {
	s.mu.Lock()
	s.room = room
	s.mu.Unlock()
}

// signOut clears the auth state and returns what it was. Only the first of
// several racing callers sees Authenticated == true.
func (s *Session) signOut() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := SessionState{Username: s.username, Authenticated: s.authenticated, Room: s.room}
	s.authenticated = false
	s.room = ""
	return prev
}

// Send queues raw text for the peer without blocking.
func (s *Session) Send(text string) error {
	select {
	case <-s.closing:
		return ErrSessionClosed
	default:
	}
	select {
	case s.out <- text:
		return nil
	default:
		return ErrSendQueueFull
	}
}

// SendWait queues raw text for the peer, waiting up to timeout for room in
// the queue. Used for the session's own replies, which the peer asked for.
func (s *Session) SendWait(text string, timeout time.Duration) error {
	select {
	case <-s.closing:
		return ErrSessionClosed
	default:
	}
	select {
	case s.out <- text:
		return nil
	default:
	}

	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case s.out <- text:
		return nil
	case <-s.closing:
		return ErrSessionClosed
	case <-t.C:
		return ErrSendQueueFull
	}
}

// SendLine queues text followed by a newline.
func (s *Session) SendLine(line string) error {
	return s.Send(line + "\n")
}

// Deliver queues a line pushed by another session, re-printing the prompt
// the peer was sitting at.
func (s *Session) Deliver(line string) error {
	return s.Send(line + "\n" + protocol.Prompt)
}

// Close stops accepting output, flushes what is queued (bounded by the
// drain timeout) and closes the connection. A blocked Read on the
// connection returns. Safe to call from any goroutine, any number of times.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		close(s.closing)
		if s.conn == nil {
			close(s.done)
			return
		}
		if cr, ok := s.conn.(interface{ CloseRead() error }); ok {
			_ = cr.CloseRead()
		} else {
			_ = s.conn.SetReadDeadline(time.Now())
		}
		_ = s.conn.SetWriteDeadline(time.Now().Add(s.drain))
	})
}

// Done is closed once the connection is fully closed.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

func (s *Session) writeLoop() {
	defer close(s.done)
	defer func() { _ = s.conn.Close() }()

	w := bufio.NewWriter(s.conn)
	write := func(msg string) bool {
		if _, err := w.WriteString(msg); err != nil {
			return false
		}
		if len(s.out) == 0 {
			return w.Flush() == nil
		}
		return true
	}

	for {
		select {
		case msg := <-s.out:
			if !write(msg) {
				// Broken peer: unblock the reader so the session tears down.
				s.Close()
				return
			}
		case <-s.closing:
			for {
				select {
				case msg := <-s.out:
					if !write(msg) {
						return
					}
				default:
					_ = w.Flush()
					return
				}
			}
		}
	}
}

// closed reports whether Close has been called.
func (s *Session) closed() bool {
	select {
	case <-s.closing:
		return true
	default:
		return false
	}
}
