package ringlog

import (
	"errors"
	"fmt"
	"io"
)

var errWhence = errors.New("invalid whence")

// Reader is a file-position view of a Log, like an open handle on the
// character device: Read copies from the current position and advances
// it, Seek moves it, and SeekTo moves it to a command-addressed byte.
//
// Positions are absolute in the retained stream. Eviction changes which
// bytes a position refers to; Reader does not compensate.
//
// A Reader is not safe for concurrent use; the underlying Log is.
type Reader struct {
	log *Log
	pos int64
}

// NewReader returns a Reader positioned at the oldest retained byte.
func NewReader(l *Log) *Reader {
	return &Reader{log: l}
}

// Read implements io.Reader. It returns io.EOF once the position reaches
// the end of the retained stream.
func (r *Reader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	data := r.log.ReadRange(r.pos, len(p))
	if len(data) == 0 {
		return 0, io.EOF
	}
	n := copy(p, data)
	r.pos += int64(n)
	return n, nil
}

// Seek implements io.Seeker. The resulting position is clamped to
// [0, Size()].
func (r *Reader) Seek(offset int64, whence int) (int64, error) {
	size := int64(r.log.Size())
	var pos int64
	switch whence {
	case io.SeekStart:
		pos = offset
	case io.SeekCurrent:
		pos = r.pos + offset
	case io.SeekEnd:
		pos = size + offset
	default:
		return r.pos, fmt.Errorf("seek whence %d: %w", whence, errWhence)
	}
	r.pos = min(max(pos, 0), size)
	return r.pos, nil
}

// SeekTo positions the reader at byte off of retained command cmd.
// The position is unchanged on error.
func (r *Reader) SeekTo(cmd, off uint32) (int64, error) {
	pos, err := r.log.CommandOffset(cmd, off)
	if err != nil {
		return r.pos, fmt.Errorf("seek to command %d offset %d: %w", cmd, off, err)
	}
	r.pos = pos
	return pos, nil
}

// Pos returns the current position.
func (r *Reader) Pos() int64 {
	return r.pos
}
