// Package protocol implements the newline-delimited wire protocol: record
// assembly from arbitrarily chunked reads and recognition of the seek
// control command.
package protocol

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
)

// ErrLineTooLong is returned by Feed when more than the configured number
// of bytes accumulate without a terminator.
var ErrLineTooLong = errors.New("line exceeds maximum size")

// Line is one completed record.
type Line struct {
	Kind Kind
	Data []byte // full line including the terminator

	// Seek arguments, set when Kind == KindSeek.
	Cmd    uint32
	Offset uint32

	// Malformed is set on a data line that carries the seek prefix but
	// whose arguments did not parse. Such lines are stored as data.
	Malformed bool
}

// Classify inspects a completed line (terminator included).
func Classify(data []byte) Line {
	if !bytes.HasPrefix(data, []byte(SeekPrefix)) {
		return Line{Kind: KindData, Data: data}
	}
	cmd, off, ok := parseSeek(data)
	if !ok {
		return Line{Kind: KindData, Data: data, Malformed: true}
	}
	return Line{Kind: KindSeek, Data: data, Cmd: cmd, Offset: off}
}

// parseSeek parses SeekPrefix + "<uint>,<uint>\n". Both fields must be
// plain decimal and fit in 32 bits.
func parseSeek(data []byte) (cmd, off uint32, ok bool) {
	rest, found := bytes.CutPrefix(data, []byte(SeekPrefix))
	if !found {
		return 0, 0, false
	}
	rest, found = bytes.CutSuffix(rest, []byte{Terminator})
	if !found {
		return 0, 0, false
	}
	a, b, found := bytes.Cut(rest, []byte{','})
	if !found {
		return 0, 0, false
	}
	c, err := strconv.ParseUint(string(a), 10, 32)
	if err != nil {
		return 0, 0, false
	}
	o, err := strconv.ParseUint(string(b), 10, 32)
	if err != nil {
		return 0, 0, false
	}
	return uint32(c), uint32(o), true
}

// FormatSeek returns the control line requesting a reply from byte off of
// retained command cmd.
func FormatSeek(cmd, off uint32) []byte {
	return fmt.Appendf(nil, "%s%d,%d%c", SeekPrefix, cmd, off, Terminator)
}

// Assembler accumulates raw chunks from one connection and splits them
// into lines. Bytes after a terminator are kept as the start of the next
// line. An Assembler is owned by a single session.
type Assembler struct {
	buf     []byte
	scanned int // prefix of buf already known to hold no terminator
	maxLine int
}

// NewAssembler creates an Assembler. maxLine <= 0 selects
// DefaultMaxLineSize.
func NewAssembler(maxLine int) *Assembler {
	if maxLine <= 0 {
		maxLine = DefaultMaxLineSize
	}
	return &Assembler{maxLine: maxLine}
}

// Feed appends a chunk. It fails once the bytes waiting for a terminator
// exceed the maximum line size; the Assembler should then be discarded.
func (a *Assembler) Feed(chunk []byte) error {
	a.buf = append(a.buf, chunk...)
	if bytes.IndexByte(a.buf[a.scanned:], Terminator) >= 0 {
		return nil
	}
	a.scanned = len(a.buf)
	if len(a.buf) > a.maxLine {
		return fmt.Errorf("%d bytes without terminator: %w", len(a.buf), ErrLineTooLong)
	}
	return nil
}

// Next returns the next completed line, or false if the buffered bytes do
// not yet contain a terminator. Only bytes not searched by an earlier call
// are scanned.
func (a *Assembler) Next() (Line, bool) {
	i := bytes.IndexByte(a.buf[a.scanned:], Terminator)
	if i < 0 {
		a.scanned = len(a.buf)
		return Line{}, false
	}
	end := a.scanned + i + 1
	data := make([]byte, end)
	copy(data, a.buf[:end])

	n := copy(a.buf, a.buf[end:])
	a.buf = a.buf[:n]
	a.scanned = 0
	return Classify(data), true
}

// Pending returns the number of buffered bytes not yet part of a line.
func (a *Assembler) Pending() int {
	return len(a.buf)
}
