package datastore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/vovakirdan/ruchat-server/pkg/crypto"
	"github.com/vovakirdan/ruchat-server/pkg/model"
)

// MemoryStore is an in-memory Database. It mirrors SQLStore's validation
// and error behavior and is used by tests and by servers run without a
// database file.
type MemoryStore struct {
	mu sync.RWMutex

	now func() time.Time

	users map[string]*memoryUser
	rooms []model.Room
}

type memoryUser struct {
	hash      []byte
	salt      []byte
	online    bool
	createdAt time.Time
}

// NewMemory creates a MemoryStore using time.Now().UTC().
func NewMemory() *MemoryStore {
	return NewMemoryWithClock(func() time.Time { return time.Now().UTC() })
}

// NewMemoryWithClock creates a MemoryStore with a custom clock.
func NewMemoryWithClock(now func() time.Time) *MemoryStore {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &MemoryStore{
		now:   now,
		users: make(map[string]*memoryUser),
	}
}

// Close is a no-op for MemoryStore.
func (s *MemoryStore) Close() error {
	return nil
}

// Register creates a new account.
func (s *MemoryStore) Register(_ context.Context, username, password string) error {
	if err := validateCredentials(username, password); err != nil {
		return fmt.Errorf("datastore: register: %w", err)
	}
	salt, err := crypto.GenerateSalt()
	if err != nil {
		return fmt.Errorf("datastore: register: %w", err)
	}
	// Hash before locking; Argon2 is deliberately slow.
	hash := crypto.HashPassword(password, salt)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.users[username]; exists {
		return fmt.Errorf("datastore: register: %w", model.ErrUserExists)
	}
	s.users[username] = &memoryUser{hash: hash, salt: salt, createdAt: s.now()}
	return nil
}

// Login verifies the password and marks the user online.
func (s *MemoryStore) Login(_ context.Context, username, password string) error {
	s.mu.RLock()
	u, ok := s.users[username]
	var hash, salt []byte
	if ok {
		hash, salt = u.hash, u.salt
	}
	s.mu.RUnlock()

	if !ok {
		return fmt.Errorf("datastore: login: %w", model.ErrUserNotFound)
	}
	if !crypto.VerifyPassword(password, salt, hash) {
		return fmt.Errorf("datastore: login: %w", model.ErrIncorrectPassword)
	}

	s.mu.Lock()
	u.online = true
	s.mu.Unlock()
	return nil
}

// Logout marks the user offline.
func (s *MemoryStore) Logout(_ context.Context, username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[username]; ok {
		u.online = false
	}
	return nil
}

// ResetPresence marks every user offline.
func (s *MemoryStore) ResetPresence(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		u.online = false
	}
	return nil
}

// ListUsers returns all users ordered by username.
func (s *MemoryStore) ListUsers(_ context.Context) ([]model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]model.User, 0, len(s.users))
	for name, u := range s.users {
		users = append(users, model.User{Username: name, Online: u.online, CreatedAt: u.createdAt})
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Username < users[j].Username })
	return users, nil
}

// CreateRoom persists a room name.
func (s *MemoryStore) CreateRoom(_ context.Context, name string) error {
	if err := model.ValidateRoomName(name); err != nil {
		return fmt.Errorf("datastore: create room: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.rooms {
		if r.Name == name {
			return fmt.Errorf("datastore: create room: %w", model.ErrRoomExists)
		}
	}
	s.rooms = append(s.rooms, model.Room{Name: name, CreatedAt: s.now()})
	return nil
}

// ListRooms returns persisted rooms in creation order.
func (s *MemoryStore) ListRooms(_ context.Context) ([]model.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Room, len(s.rooms))
	copy(out, s.rooms)
	return out, nil
}
