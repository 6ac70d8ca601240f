// Package protocol implements the line-oriented plaintext wire format spoken
// with chat clients: newline-delimited input lines and human-readable output.
package protocol

import (
	"bufio"
	"errors"
	"io"
	"strings"
)

const (
	// DefaultMaxLine is the longest input line kept, in bytes. Longer lines
	// are truncated and the rest of the line is discarded.
	DefaultMaxLine = 512

	// Prompt is written after every handled line while signed in.
	Prompt = "> "
)

// LineReader splits a byte stream into input lines.
type LineReader struct {
	r   *bufio.Reader
	max int
}

// NewLineReader wraps r. A max of zero or less selects DefaultMaxLine.
func NewLineReader(r io.Reader, max int) *LineReader {
	if max <= 0 {
		max = DefaultMaxLine
	}
	return &LineReader{r: bufio.NewReader(r), max: max}
}

// ReadLine returns the next line with the delimiter, a trailing carriage
// return and surrounding whitespace removed. A final line without a newline
// is returned before io.EOF. Any other read error drops the partial line.
func (lr *LineReader) ReadLine() (string, error) {
	var line []byte
	consumed := false
	for {
		frag, err := lr.r.ReadSlice('\n')
		if len(frag) > 0 {
			consumed = true
		}
		complete := err == nil
		if complete {
			frag = frag[:len(frag)-1]
		}
		if room := lr.max - len(line); room > 0 {
			if len(frag) > room {
				frag = frag[:room]
			}
			line = append(line, frag...)
		}

		switch {
		case complete:
			return clean(line), nil
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case errors.Is(err, io.EOF) && consumed:
			return clean(line), nil
		default:
			return "", err
		}
	}
}

func clean(line []byte) string {
	s := strings.TrimSuffix(string(line), "\r")
	return strings.ToValidUTF8(strings.TrimSpace(s), "�")
}

// FormatRoomLine renders a chat line as delivered to room members.
func FormatRoomLine(room, sender, text string) string {
	return "[" + room + "] " + sender + ": " + text
}

// FormatUserLine renders one entry of the user listing.
func FormatUserLine(name, status string) string {
	return name + " " + status
}
