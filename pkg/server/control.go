package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"strings"
	"time"

	"github.com/vovakirdan/ruchat-server/pkg/logging"
	"github.com/vovakirdan/ruchat-server/pkg/protocol"
)

const logoutTimeout = 5 * time.Second

// conn drives one connection through its states: signed out, signed in to
// a room, terminated. It runs on the connection's own goroutine.
type conn struct {
	srv  *Server
	sess *Session
	raw  net.Conn
	in   *protocol.LineReader
	log  *slog.Logger
}

// handleConn handles a single connection lifecycle.
func (s *Server) handleConn(nc net.Conn) {
	sess := newSession(nc, s.cfg.SendQueue, s.cfg.DrainTimeout)
	s.track(sess)
	if s.ctx.Err() != nil {
		// Accepted while shutting down, after the live sessions were closed.
		sess.Close()
	}
	s.metrics.TotalConnections.Add(1)
	s.metrics.ActiveConnections.Add(1)

	c := &conn{
		srv:  s,
		sess: sess,
		raw:  nc,
		in:   protocol.NewLineReader(nc, s.cfg.MaxLineLength),
		log:  logging.For("session").With("remote", sess.Addr, "session", sess.ID),
	}
	c.log.Info("client connected")

	defer func() {
		// Cleanup runs exactly once whichever way the loop ended.
		c.signOut()
		sess.Close()
		<-sess.Done()
		s.untrack(sess)
		s.metrics.ActiveConnections.Add(-1)
		s.metrics.TotalDisconnects.Add(1)
		c.log.Info("client disconnected")
	}()

	c.run()
}

func (c *conn) run() {
	c.replyLine(msgWelcome)
	c.reply(msgMenu)

	for {
		line, err := c.readLine()
		if err != nil {
			c.logReadEnd(err)
			return
		}

		if !c.sess.State().Authenticated {
			if !c.handleMenu(line) {
				return
			}
			continue
		}
		if c.handleInput(line) {
			return
		}
	}
}

func (c *conn) readLine() (string, error) {
	if c.sess.closed() {
		return "", ErrSessionClosed
	}
	if d := c.srv.cfg.IdleTimeout; d > 0 {
		_ = c.raw.SetReadDeadline(time.Now().Add(d))
		// A Close racing with the line above must still unblock the read.
		if c.sess.closed() {
			_ = c.raw.SetReadDeadline(time.Now())
		}
	}
	return c.in.ReadLine()
}

func (c *conn) logReadEnd(err error) {
	switch {
	case errors.Is(err, io.EOF), errors.Is(err, ErrSessionClosed), errors.Is(err, net.ErrClosed):
		c.log.Debug("connection ended", "err", err)
	case errors.Is(err, os.ErrDeadlineExceeded):
		if c.sess.closed() {
			c.log.Debug("connection closed by server")
		} else {
			c.log.Info("idle timeout", "after", c.srv.cfg.IdleTimeout)
		}
	default:
		c.log.Warn("read error", "err", err)
	}
}

// reply queues text for this peer, waiting for queue space up to the
// drain timeout. A peer that stops reading its own replies is closed.
func (c *conn) reply(text string) {
	if err := c.sess.SendWait(text, c.srv.cfg.DrainTimeout); err != nil {
		if errors.Is(err, ErrSendQueueFull) {
			c.log.Warn("peer not reading replies, closing", "err", err)
			c.sess.Close()
		}
	}
}

func (c *conn) replyLine(line string) {
	c.reply(line + "\n")
}

func (c *conn) replyf(format string, args ...any) {
	c.replyLine(fmt.Sprintf(format, args...))
}

// prompt writes label and reads the answer.
func (c *conn) prompt(label string) (string, bool) {
	c.reply(label)
	line, err := c.readLine()
	if err != nil {
		c.logReadEnd(err)
		return "", false
	}
	return line, true
}

// handleMenu processes input while signed out. It returns false when the
// connection ended mid-dialog.
func (c *conn) handleMenu(choice string) bool {
	switch choice {
	case "1":
		return c.signUp()
	case "2":
		return c.signIn()
	default:
		c.replyLine(msgInvalidChoice)
		c.reply(msgMenu)
		return true
	}
}

func (c *conn) signUp() bool {
	username, ok := c.prompt(msgSignUpUser)
	if !ok {
		return false
	}
	password, ok := c.prompt(msgSignUpPass)
	if !ok {
		return false
	}

	db := c.srv.db
	if err := db.Register(c.srv.ctx, username, password); err != nil {
		c.authFailed("sign up", username, err)
		return true
	}
	// A new account goes straight into chat, so it is online.
	if err := db.Login(c.srv.ctx, username, password); err != nil {
		c.authFailed("sign up", username, err)
		return true
	}

	c.replyf(msgRegisteredFmt, username)
	c.enterChat(username)
	return true
}

func (c *conn) signIn() bool {
	username, ok := c.prompt(msgSignInUser)
	if !ok {
		return false
	}
	password, ok := c.prompt(msgSignInPass)
	if !ok {
		return false
	}

	if err := c.srv.db.Login(c.srv.ctx, username, password); err != nil {
		c.authFailed("sign in", username, err)
		return true
	}

	c.replyf(msgWelcomeBackFmt, username)
	c.enterChat(username)
	return true
}

func (c *conn) authFailed(op, username string, err error) {
	c.srv.metrics.FailedAuths.Add(1)
	c.log.Info("authentication failed", "op", op, "user", username, "err", err)
	c.replyLine(replyFor(err))
	c.reply(msgMenu)
}

// enterChat binds the session to username and the main room, evicting any
// older session holding the same username.
func (c *conn) enterChat(username string) {
	evicted := c.srv.hub.Attach(c.sess, username)
	if evicted != nil {
		c.log.Warn("duplicate login, closing previous session",
			"user", username, "evicted_session", evicted.ID, "evicted_remote", evicted.Addr)
		_ = evicted.SendLine(msgEvicted)
		evicted.Close()
	}

	c.srv.metrics.SuccessfulAuths.Add(1)
	c.log = c.log.With("user", username)
	c.log.Info("client authenticated")

	c.replyLine(msgJoinedMain)
	c.reply(protocol.Prompt)
}

// signOut releases the session's identity and marks the user offline if
// this session still owned it. Idempotent.
func (c *conn) signOut() {
	st, owned := c.srv.hub.Detach(c.sess)
	if !owned {
		return
	}
	// The server context may already be cancelled during shutdown.
	ctx, cancel := context.WithTimeout(context.Background(), logoutTimeout)
	defer cancel()
	if err := c.srv.db.Logout(ctx, st.Username); err != nil {
		c.log.Error("logout failed", "err", err)
	}
	c.log.Info("client signed out", "room", st.Room)
}

// handleInput processes one line from a signed-in peer. It returns true
// when the connection must close.
func (c *conn) handleInput(line string) bool {
	switch {
	case line == "":
	case strings.HasPrefix(line, "/"):
		if c.dispatch(line) {
			return true
		}
	case strings.HasPrefix(line, "@"):
		c.replyLine(msgNoPrivate)
	default:
		c.chat(line)
	}

	if c.sess.State().Authenticated {
		c.reply(protocol.Prompt)
	}
	return false
}

func (c *conn) chat(text string) {
	st := c.sess.State()
	if st.Room == "" {
		c.replyLine(msgNotInRoom)
		return
	}
	n := c.srv.router.Broadcast(st.Room, st.Username, text)
	c.log.Debug("chat relayed", "room", st.Room, "recipients", n)
}
