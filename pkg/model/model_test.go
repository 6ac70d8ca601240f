package model

import (
	"strings"
	"testing"
)

func TestValidateUsername(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr error
	}{
		{"valid simple", "alice", nil},
		{"valid with numbers", "user123", nil},
		{"valid with underscore", "my_user", nil},
		{"valid with hyphen", "my-user", nil},
		{"valid max length", strings.Repeat("a", MaxUsernameLength), nil},
		{"empty", "", ErrUsernameEmpty},
		{"too long", strings.Repeat("a", MaxUsernameLength+1), ErrUsernameTooLong},
		{"contains space", "has space", ErrUsernameInvalidChars},
		{"contains at sign", "user@name", ErrUsernameInvalidChars},
		{"contains slash", "/cr", ErrUsernameInvalidChars},
		{"tab character", "user\tname", ErrUsernameInvalidChars},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateUsername(tt.input)
			if err != tt.wantErr {
				t.Errorf("ValidateUsername(%q) = %v, want %v", tt.input, err, tt.wantErr)
			}
		})
	}
}

func TestValidatePassword(t *testing.T) {
	if err := ValidatePassword("pw1"); err != nil {
		t.Fatalf("ValidatePassword: unexpected error: %v", err)
	}
	if err := ValidatePassword(""); err != ErrPasswordEmpty {
		t.Fatalf("ValidatePassword(empty) = %v, want %v", err, ErrPasswordEmpty)
	}
	if err := ValidatePassword(strings.Repeat("p", MaxPasswordLength+1)); err != ErrPasswordTooLong {
		t.Fatalf("ValidatePassword(long) = %v, want %v", err, ErrPasswordTooLong)
	}
}

func TestValidateRoomName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr error
	}{
		{"valid", "lounge", nil},
		{"valid unicode", "комната", nil},
		{"empty", "", ErrEmptyArgument},
		{"reserved", MainRoom, ErrReservedRoomName},
		{"too long", strings.Repeat("r", MaxRoomNameLength+1), ErrRoomNameTooLong},
		{"inner space", "two words", ErrRoomNameInvalidChars},
		{"control char", "bad\x01name", ErrRoomNameInvalidChars},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := ValidateRoomName(tt.input); err != tt.wantErr {
				t.Errorf("ValidateRoomName(%q) = %v, want %v", tt.input, err, tt.wantErr)
			}
		})
	}
}

func TestNormalizeRoomName(t *testing.T) {
	if got := NormalizeRoomName("  lounge \t"); got != "lounge" {
		t.Fatalf("NormalizeRoomName = %q, want %q", got, "lounge")
	}
}

func TestUserStatus(t *testing.T) {
	if got := (User{Username: "alice", Online: true}).Status(); got != "online" {
		t.Errorf("Status() = %q, want online", got)
	}
	if got := (User{Username: "bob"}).Status(); got != "offline" {
		t.Errorf("Status() = %q, want offline", got)
	}
}
