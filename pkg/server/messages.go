package server

import (
	"errors"
	"strings"

	"github.com/vovakirdan/ruchat-server/pkg/model"
)

// Literal text sent to peers.
const (
	msgWelcome        = "Welcome to the chat server!"
	msgMenu           = "1. Sign up\n2. Sign in\nPlease choose (1|2): "
	msgInvalidChoice  = "Invalid choice. Please choose 1 (Sign up) or 2 (Sign in)."
	msgSignUpUser     = "Enter a username: "
	msgSignUpPass     = "Enter a password: "
	msgSignInUser     = "Enter your username: "
	msgSignInPass     = "Enter your password: "
	msgRegisteredFmt  = "User '%s' registered successfully."
	msgWelcomeBackFmt = "Welcome back, %s!"
	msgJoinedMain     = "You have joined the 'main' room."
	msgEvicted        = "You have been signed in from another connection."
	msgServerShutdown = "Server is shutting down."

	msgLoggedOut    = "You have been logged out."
	msgDisconnected = "You have been logged out and disconnected."
	msgNotInRoom    = "You are not in a room."
	msgNoPrivate    = "Private messages are not implemented."

	msgListUsage    = "Usage: /list <users|rooms>"
	msgListInvalid  = "Invalid argument. Use '/list users' or '/list rooms'."
	msgUsersHeader  = "Online/Offline Users:"
	msgRoomsHeader  = "Available Rooms:"
	msgCreateUsage  = "Usage: /cr <room_name>"
	msgSwitchUsage  = "Usage: /sr <room_name>"
	msgRoomCreated  = "Room '%s' created."
	msgRoomSwitched = "Switched to room '%s'."
	msgHelpHeader   = "Available commands:"
	msgInternal     = "Internal error, please try again."
)

var validationErrs = []error{
	model.ErrUsernameEmpty,
	model.ErrUsernameTooLong,
	model.ErrUsernameInvalidChars,
	model.ErrPasswordEmpty,
	model.ErrPasswordTooLong,
	model.ErrRoomNameTooLong,
	model.ErrRoomNameInvalidChars,
}

// replyFor maps an error to the single line reported to the peer.
func replyFor(err error) string {
	switch {
	case errors.Is(err, model.ErrUserExists):
		return "User already exists"
	case errors.Is(err, model.ErrIncorrectPassword):
		return "Incorrect password."
	case errors.Is(err, model.ErrUserNotFound):
		return "User not found."
	case errors.Is(err, model.ErrRoomExists):
		return "Room already exists."
	case errors.Is(err, model.ErrRoomNotFound):
		return "Room does not exist."
	case errors.Is(err, model.ErrReservedRoomName):
		return "Room name '" + model.MainRoom + "' is reserved."
	case errors.Is(err, model.ErrEmptyArgument):
		return "Room name cannot be empty."
	case errors.Is(err, model.ErrNotMember):
		return msgNotInRoom
	case errors.Is(err, model.ErrUnknownCommand):
		return "Unknown command."
	case errors.Is(err, ErrNotSignedIn):
		return "You are not signed in."
	}
	for _, v := range validationErrs {
		if errors.Is(err, v) {
			return sentence(v.Error())
		}
	}
	return msgInternal
}

func sentence(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:] + "."
}
