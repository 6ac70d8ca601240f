package model

import (
	"errors"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

// MainRoom is the permanent default room every authenticated session joins.
const MainRoom = "main"

const MaxRoomNameLength = 64

var ErrRoomNameTooLong = errors.New("room name too long")
var ErrRoomNameInvalidChars = errors.New("room name must not contain whitespace or control characters")

// Room is a persisted room definition. Membership lives in memory only.
type Room struct {
	Name      string    `json:"name" yaml:"name"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
}

// NormalizeRoomName trims surrounding whitespace from a room name.
func NormalizeRoomName(name string) string {
	return strings.TrimSpace(name)
}

// ValidateRoomName checks a normalized room name. The reserved name is
// rejected separately so callers can tell the two cases apart.
func ValidateRoomName(name string) error {
	if name == "" {
		return ErrEmptyArgument
	}
	if name == MainRoom {
		return ErrReservedRoomName
	}
	if utf8.RuneCountInString(name) > MaxRoomNameLength {
		return ErrRoomNameTooLong
	}
	for _, r := range name {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			return ErrRoomNameInvalidChars
		}
	}
	return nil
}
