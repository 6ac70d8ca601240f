// Package datastore is the credential and presence store: accounts with
// hashed passwords, their online flag, and the persisted room list.
package datastore

import (
	"context"

	"github.com/vovakirdan/ruchat-server/pkg/model"
)

// Database is the store the chat server authenticates against.
// Implementations are safe for concurrent use and never call back into the
// server, so callers may use them without holding any server lock.
type Database interface {
	UserProvider
	RoomProvider

	// ResetPresence marks every user offline. Called once at startup.
	ResetPresence(ctx context.Context) error
	Close() error
}

type UserProvider interface {
	// Register creates an account. Returns model.ErrUserExists if taken.
	Register(ctx context.Context, username, password string) error
	// Login checks credentials and marks the user online on success.
	// Returns model.ErrUserNotFound or model.ErrIncorrectPassword.
	Login(ctx context.Context, username, password string) error
	// Logout marks the user offline. Unknown users are ignored.
	Logout(ctx context.Context, username string) error
	// ListUsers returns all accounts ordered by username.
	ListUsers(ctx context.Context) ([]model.User, error)
}

type RoomProvider interface {
	// CreateRoom persists a room. Returns model.ErrRoomExists if present.
	CreateRoom(ctx context.Context, name string) error
	// ListRooms returns persisted rooms in creation order.
	ListRooms(ctx context.Context) ([]model.Room, error)
}

// Compile-time checks.
var (
	_ Database = (*SQLStore)(nil)
	_ Database = (*MemoryStore)(nil)
)

func validateCredentials(username, password string) error {
	if err := model.ValidateUsername(username); err != nil {
		return err
	}
	return model.ValidatePassword(password)
}
