package server

import (
	"context"
	"errors"
	"strings"
	"unicode"

	"github.com/vovakirdan/ruchat-server/pkg/model"
	"github.com/vovakirdan/ruchat-server/pkg/protocol"
)

// command handles one slash command. args is the raw text after the
// command word. It returns true when the connection must close.
type command struct {
	names []string
	usage string
	run   func(c *conn, args string) bool
}

var commands []command

// commandIndex maps every name and alias to its command.
var commandIndex map[string]*command

func init() {
	commands = []command{
		{names: []string{"/help"}, usage: "/help - show this list", run: (*conn).cmdHelp},
		{names: []string{"/list"}, usage: "/list <users|rooms> - list users with their status, or rooms", run: (*conn).cmdList},
		{names: []string{"/list_rooms"}, usage: "/list_rooms - list rooms", run: func(c *conn, _ string) bool {
			return c.cmdList("rooms")
		}},
		{names: []string{"/cr", "/create_room"}, usage: "/cr <room_name> - create a room", run: (*conn).cmdCreateRoom},
		{names: []string{"/sr", "/switch_room"}, usage: "/sr <room_name> - switch to a room", run: (*conn).cmdSwitchRoom},
		{names: []string{"/q", "/quit"}, usage: "/q - log out", run: (*conn).cmdQuit},
		{names: []string{"/disconnect"}, usage: "/disconnect - log out and close the connection", run: (*conn).cmdDisconnect},
	}
	commandIndex = make(map[string]*command)
	for i := range commands {
		for _, name := range commands[i].names {
			commandIndex[name] = &commands[i]
		}
	}
}

// splitCommand splits "/word rest" at the first whitespace into the
// command word and its argument text.
func splitCommand(line string) (name, args string) {
	i := strings.IndexFunc(line, unicode.IsSpace)
	if i < 0 {
		return line, ""
	}
	return line[:i], strings.TrimSpace(line[i:])
}

func (c *conn) dispatch(line string) bool {
	name, args := splitCommand(line)
	cmd, ok := commandIndex[name]
	if !ok {
		c.replyLine(replyFor(model.ErrUnknownCommand))
		return false
	}
	c.log.Debug("command", "cmd", name)
	return cmd.run(c, args)
}

func (c *conn) cmdHelp(string) bool {
	var b strings.Builder
	b.WriteString(msgHelpHeader + "\n")
	for _, cmd := range commands {
		b.WriteString("  " + cmd.usage + "\n")
	}
	c.reply(b.String())
	return false
}

func (c *conn) cmdList(args string) bool {
	switch args {
	case "":
		c.replyLine(msgListUsage)
	case "users":
		listing, err := c.srv.userListing(c.srv.ctx)
		if err != nil {
			c.log.Error("list users", "err", err)
			c.replyLine(msgInternal)
			return false
		}
		c.reply(listing)
	case "rooms":
		c.reply(c.srv.roomListing())
	default:
		c.replyLine(msgListInvalid)
	}
	return false
}

func (c *conn) cmdCreateRoom(args string) bool {
	if args == "" {
		c.replyLine(msgCreateUsage)
		return false
	}
	name := model.NormalizeRoomName(args)
	if err := c.srv.rooms.CreateRoom(name); err != nil {
		c.replyLine(replyFor(err))
		return false
	}
	// Persist after the directory accepted it; no lock is held here.
	if err := c.srv.db.CreateRoom(c.srv.ctx, name); err != nil && !errors.Is(err, model.ErrRoomExists) {
		c.log.Error("persist room", "room", name, "err", err)
	}
	c.srv.metrics.RoomsCreated.Add(1)
	c.log.Info("room created", "room", name)
	c.replyf(msgRoomCreated, name)
	return false
}

func (c *conn) cmdSwitchRoom(args string) bool {
	if args == "" {
		c.replyLine(msgSwitchUsage)
		return false
	}
	name := model.NormalizeRoomName(args)
	if err := c.srv.hub.SwitchRoom(c.sess, name); err != nil {
		c.replyLine(replyFor(err))
		return false
	}
	c.replyf(msgRoomSwitched, name)
	return false
}

func (c *conn) cmdQuit(string) bool {
	c.signOut()
	c.replyLine(msgLoggedOut)
	c.reply(msgMenu)
	return false
}

func (c *conn) cmdDisconnect(string) bool {
	c.signOut()
	c.replyLine(msgDisconnected)
	return true
}

// userListing renders every account with its status. Accounts come from
// the database; a user is online while the registry holds a session for it.
func (s *Server) userListing(ctx context.Context) (string, error) {
	users, err := s.db.ListUsers(ctx)
	if err != nil {
		return "", err
	}
	live := make(map[string]struct{})
	for _, id := range s.sessions.Identities() {
		live[id] = struct{}{}
	}

	var b strings.Builder
	b.WriteString(msgUsersHeader + "\n")
	for _, u := range users {
		_, u.Online = live[u.Username]
		b.WriteString(protocol.FormatUserLine(u.Username, u.Status()) + "\n")
	}
	return b.String(), nil
}

// roomListing renders the room names in creation order.
func (s *Server) roomListing() string {
	var b strings.Builder
	b.WriteString(msgRoomsHeader + "\n")
	for _, name := range s.rooms.ListRooms() {
		b.WriteString(name + "\n")
	}
	return b.String()
}
