package server

import (
	"bytes"
	"context"
	"io"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/vovakirdan/ruchat-server/pkg/datastore"
	"github.com/vovakirdan/ruchat-server/pkg/model"
)

const waitTimeout = 10 * time.Second

func startTestServer(t *testing.T) (*Server, datastore.Database) {
	t.Helper()
	return startTestServerWith(t, nil)
}

func startTestServerWith(t *testing.T, configure func(*Config)) (*Server, datastore.Database) {
	t.Helper()
	cfg := DefaultConfig()
	cfg.ListenAddr = "127.0.0.1:0"
	cfg.MetricsAddr = ""
	cfg.DBPath = ""
	cfg.MetricsLogInterval = 0
	if configure != nil {
		configure(&cfg)
	}

	db := datastore.NewMemory()
	srv := New(cfg, Dependencies{DB: db})
	if err := srv.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { srv.Shutdown(2 * time.Second) })
	return srv, db
}

// testClient is a line-oriented peer that records everything it receives.
type testClient struct {
	t    *testing.T
	conn net.Conn

	mu   sync.Mutex
	buf  bytes.Buffer
	seen int
	eof  chan struct{}
}

func dial(t *testing.T, srv *Server) *testClient {
	t.Helper()
	conn, err := net.Dial("tcp", srv.Addr().String())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	c := &testClient{t: t, conn: conn, eof: make(chan struct{})}
	go func() {
		defer close(c.eof)
		_, _ = io.Copy(c, conn)
	}()
	t.Cleanup(func() { _ = conn.Close() })
	c.expect(msgWelcome)
	c.expect("Please choose (1|2): ")
	return c
}

func (c *testClient) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.Write(p)
}

func (c *testClient) output() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.String()
}

func (c *testClient) send(line string) {
	c.t.Helper()
	if _, err := io.WriteString(c.conn, line+"\n"); err != nil {
		c.t.Fatalf("send %q: %v", line, err)
	}
}

// expect waits until want appears in output not yet consumed by an earlier
// expect, and consumes through it.
func (c *testClient) expect(want string) {
	c.t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for {
		c.mu.Lock()
		unread := c.buf.String()[c.seen:]
		if i := strings.Index(unread, want); i >= 0 {
			c.seen += i + len(want)
			c.mu.Unlock()
			return
		}
		c.mu.Unlock()
		if time.Now().After(deadline) {
			c.t.Fatalf("timed out waiting for %q, unread output:\n%s", want, unread)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func (c *testClient) expectClosed() {
	c.t.Helper()
	select {
	case <-c.eof:
	case <-time.After(waitTimeout):
		c.t.Fatalf("connection not closed by server")
	}
}

func (c *testClient) signUp(name, password string) {
	c.t.Helper()
	c.send("1")
	c.expect("Enter a username: ")
	c.send(name)
	c.expect("Enter a password: ")
	c.send(password)
	c.expect("User '" + name + "' registered successfully.")
	c.expect("You have joined the 'main' room.\n> ")
}

func (c *testClient) signIn(name, password string) {
	c.t.Helper()
	c.send("2")
	c.expect("Enter your username: ")
	c.send(name)
	c.expect("Enter your password: ")
	c.send(password)
	c.expect("Welcome back, " + name + "!")
	c.expect("You have joined the 'main' room.\n> ")
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func isOnline(t *testing.T, db datastore.Database, name string) bool {
	t.Helper()
	users, err := db.ListUsers(context.Background())
	if err != nil {
		t.Fatalf("ListUsers: %v", err)
	}
	for _, u := range users {
		if u.Username == name {
			return u.Online
		}
	}
	t.Fatalf("user %q not found", name)
	return false
}

func TestChatInMainRoom(t *testing.T) {
	srv, _ := startTestServer(t)
	alice := dial(t, srv)
	alice.signUp("alice", "pw1")
	bob := dial(t, srv)
	bob.signUp("bob", "pw2")

	alice.send("hi")
	bob.expect("[main] alice: hi\n> ")

	bob.send("hello alice")
	alice.expect("[main] bob: hello alice\n> ")

	alice.send("/list rooms")
	alice.expect("Available Rooms:\nmain\n> ")
	if strings.Contains(alice.output(), "alice: hi") {
		t.Fatalf("sender received its own line")
	}
}

func TestCreateAndSwitchRoom(t *testing.T) {
	srv, _ := startTestServer(t)
	alice := dial(t, srv)
	alice.signUp("alice", "pw")
	bob := dial(t, srv)
	bob.signUp("bob", "pw")

	alice.send("/cr lounge")
	alice.expect("Room 'lounge' created.")
	alice.send("/cr lounge")
	alice.expect("Room already exists.")
	alice.send("/cr main")
	alice.expect("Room name 'main' is reserved.")
	alice.send("/cr")
	alice.expect("Usage: /cr <room_name>")

	alice.send("/sr nowhere")
	alice.expect("Room does not exist.")
	alice.send("/sr lounge")
	alice.expect("Switched to room 'lounge'.")
	bob.send("/switch_room lounge")
	bob.expect("Switched to room 'lounge'.")

	alice.send("quiet here")
	bob.expect("[lounge] alice: quiet here\n> ")

	members, _ := srv.Rooms().MembersOf("lounge")
	if len(members) != 2 {
		t.Fatalf("MembersOf lounge: expected 2 got %v", members)
	}
	if srv.Rooms().MembersCount(model.MainRoom) != 0 {
		t.Fatalf("main room should be empty")
	}
}

func TestAuthFailures(t *testing.T) {
	srv, _ := startTestServer(t)
	c := dial(t, srv)

	c.send("3")
	c.expect("Invalid choice. Please choose 1 (Sign up) or 2 (Sign in).")
	c.expect("Please choose (1|2): ")

	c.send("2")
	c.expect("Enter your username: ")
	c.send("nobody")
	c.expect("Enter your password: ")
	c.send("pw")
	c.expect("User not found.")
	c.expect("Please choose (1|2): ")

	c.signUp("alice", "right")
	c.send("/q")
	c.expect("You have been logged out.")
	c.expect("Please choose (1|2): ")

	c.send("1")
	c.expect("Enter a username: ")
	c.send("alice")
	c.expect("Enter a password: ")
	c.send("other")
	c.expect("User already exists")

	c.send("2")
	c.expect("Enter your username: ")
	c.send("alice")
	c.expect("Enter your password: ")
	c.send("wrong")
	c.expect("Incorrect password.")

	c.signIn("alice", "right")

	if got := srv.Metrics().FailedAuths.Load(); got != 3 {
		t.Fatalf("FailedAuths: expected 3 got %d", got)
	}
}

func TestCommandReplies(t *testing.T) {
	srv, _ := startTestServer(t)
	alice := dial(t, srv)
	alice.signUp("alice", "pw")
	bob := dial(t, srv)
	bob.signUp("bob", "pw")
	bob.send("/q")
	bob.expect("You have been logged out.")

	alice.send("/nope")
	alice.expect("Unknown command.\n> ")
	alice.send("@bob hey")
	alice.expect("Private messages are not implemented.\n> ")
	alice.send("/list")
	alice.expect("Usage: /list <users|rooms>")
	alice.send("/list things")
	alice.expect("Invalid argument. Use '/list users' or '/list rooms'.")
	alice.send("/list users")
	alice.expect("Online/Offline Users:\nalice online\nbob offline\n> ")
	alice.send("/help")
	alice.expect("Available commands:")
	alice.expect("/disconnect")
	alice.send("")
	alice.expect("> ")
}

func TestDisconnectReleasesIdentity(t *testing.T) {
	srv, db := startTestServer(t)
	c := dial(t, srv)
	c.signUp("alice", "pw")
	if !isOnline(t, db, "alice") {
		t.Fatalf("alice should be online after sign up")
	}

	c.send("/disconnect")
	c.expect("You have been logged out and disconnected.")
	c.expectClosed()

	waitFor(t, "session teardown", func() bool {
		return srv.Metrics().ActiveConnections.Load() == 0
	})
	if srv.Sessions().Count() != 0 {
		t.Fatalf("registry still holds %v", srv.Sessions().Identities())
	}
	if srv.Rooms().MembersCount(model.MainRoom) != 0 {
		t.Fatalf("main room still has members")
	}
	if isOnline(t, db, "alice") {
		t.Fatalf("alice should be offline after disconnect")
	}
}

func TestAbruptCloseReleasesIdentity(t *testing.T) {
	srv, db := startTestServer(t)
	c := dial(t, srv)
	c.signUp("alice", "pw")
	_ = c.conn.Close()

	waitFor(t, "session teardown", func() bool {
		return srv.Metrics().TotalDisconnects.Load() == 1
	})
	if srv.Sessions().Count() != 0 || isOnline(t, db, "alice") {
		t.Fatalf("identity not released after connection loss")
	}
}

func TestDuplicateLoginEvictsOldSession(t *testing.T) {
	srv, db := startTestServer(t)
	first := dial(t, srv)
	first.signUp("alice", "pw")
	first.send("/cr dev")
	first.expect("Room 'dev' created.")
	first.send("/sr dev")
	first.expect("Switched to room 'dev'.")

	second := dial(t, srv)
	second.signIn("alice", "pw")

	first.expect("You have been signed in from another connection.")
	first.expectClosed()
	waitFor(t, "evicted session teardown", func() bool {
		return srv.Metrics().TotalDisconnects.Load() == 1
	})

	sess, ok := srv.Sessions().Lookup("alice")
	if !ok || sess.State().Room != model.MainRoom {
		t.Fatalf("alice should be registered in main")
	}
	if srv.Rooms().MembersCount("dev") != 0 {
		t.Fatalf("evicted session left alice in dev")
	}
	if !isOnline(t, db, "alice") {
		t.Fatalf("evicted session teardown marked alice offline")
	}
	if srv.Metrics().Evictions.Load() != 1 {
		t.Fatalf("Evictions: expected 1 got %d", srv.Metrics().Evictions.Load())
	}

	bob := dial(t, srv)
	bob.signUp("bob", "pw")
	bob.send("still there?")
	second.expect("[main] bob: still there?")
}

func TestShutdownNotifiesClients(t *testing.T) {
	srv, _ := startTestServer(t)
	c := dial(t, srv)
	c.signUp("alice", "pw")

	srv.Shutdown(2 * time.Second)
	c.expect(msgServerShutdown)
	c.expectClosed()
}

func TestIdleTimeoutClosesSession(t *testing.T) {
	srv, _ := startTestServerWith(t, func(cfg *Config) {
		cfg.IdleTimeout = 200 * time.Millisecond
	})
	c := dial(t, srv)
	c.expectClosed()
	waitFor(t, "session teardown", func() bool {
		return srv.Metrics().ActiveConnections.Load() == 0
	})
}

func TestLongLineIsTruncated(t *testing.T) {
	srv, _ := startTestServerWith(t, func(cfg *Config) {
		cfg.MaxLineLength = 16
	})
	alice := dial(t, srv)
	alice.signUp("alice", "pw")
	bob := dial(t, srv)
	bob.signUp("bob", "pw")

	alice.send(strings.Repeat("x", 100))
	bob.expect("[main] alice: " + strings.Repeat("x", 16) + "\n> ")
}
