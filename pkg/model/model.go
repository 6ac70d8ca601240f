// Package model defines the core domain types for ruchat.
package model

import "errors"

// Errors reported back to a connected peer. Each one maps to exactly one
// reply line in the session layer.
var (
	ErrUserExists        = errors.New("user already exists")
	ErrUserNotFound      = errors.New("user not found")
	ErrIncorrectPassword = errors.New("incorrect password")
	ErrRoomExists        = errors.New("room already exists")
	ErrRoomNotFound      = errors.New("room not found")
	ErrReservedRoomName  = errors.New("room name is reserved")
	ErrEmptyArgument     = errors.New("empty argument")
	ErrNotMember         = errors.New("not a member of the room")
	ErrUnknownCommand    = errors.New("unknown command")
)
