// Package ringlog implements a fixed-capacity circular log of newline
// terminated write commands. Retained records can be read as one
// concatenated byte stream or addressed by (command index, byte offset).
package ringlog

import (
	"errors"
	"io"
	"sync"
)

const (
	// DefaultCapacity matches the ten write commands the character device kept.
	DefaultCapacity = 10

	// DefaultMaxRecordSize bounds a single record. Larger appends are refused.
	DefaultMaxRecordSize = 1 << 20 // 1 MB
)

var (
	// ErrOutOfRange is returned when an offset or command index does not
	// address a byte of a currently retained record.
	ErrOutOfRange = errors.New("offset out of range")

	// ErrRecordTooLarge is returned when a record cannot be stored. The log
	// is left unchanged.
	ErrRecordTooLarge = errors.New("record exceeds maximum size")
)

// Record is a single retained write command with its sequence number.
type Record struct {
	Seq  uint64
	Data []byte
}

// Location identifies the record containing an absolute byte offset.
type Location struct {
	Index  int    // 0-based among retained records, oldest first
	Seq    uint64 // sequence number assigned by Append
	Offset int    // byte offset within the record
	Record []byte // copy of the record bytes
}

// Option configures a Log.
type Option func(*Log)

// WithMaxRecordSize sets the largest record Append accepts. n <= 0 keeps
// the default.
func WithMaxRecordSize(n int) Option {
	return func(l *Log) {
		if n > 0 {
			l.maxRecord = n
		}
	}
}

// Log is a ring of records. When every slot holds a record, Append
// overwrites the oldest one. Exactly one whole record is evicted per
// append once full.
//
// Log is safe for concurrent use. Every method runs under one mutex, so
// reads always observe whole records.
type Log struct {
	mu        sync.Mutex
	entries   []Record
	head      int    // index of next write position
	count     int    // number of valid records
	size      int    // total bytes across valid records
	seq       uint64 // last assigned sequence number
	maxRecord int
}

// New creates an empty log with the given number of slots.
// capacity <= 0 selects DefaultCapacity.
func New(capacity int, opts ...Option) *Log {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	l := &Log{
		entries:   make([]Record, capacity),
		maxRecord: DefaultMaxRecordSize,
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Append stores a copy of p as the newest record and returns its sequence
// number. Sequence numbers start at 1 and keep increasing after the
// physical slots wrap.
func (l *Log) Append(p []byte) (uint64, error) {
	if len(p) > l.maxRecord {
		return 0, ErrRecordTooLarge
	}

	// Copy outside the lock; caller may reuse the slice
	data := make([]byte, len(p))
	copy(data, p)

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.count == len(l.entries) {
		l.evictOldest()
	}

	l.seq++
	l.entries[l.head] = Record{Seq: l.seq, Data: data}
	l.head = (l.head + 1) % len(l.entries)
	l.count++
	l.size += len(data)
	return l.seq, nil
}

// tail returns the index of the oldest record. Caller must hold l.mu.
func (l *Log) tail() int {
	return (l.head - l.count + len(l.entries)) % len(l.entries)
}

// at returns the i-th retained record, oldest first. Caller must hold l.mu
// and ensure 0 <= i < l.count.
func (l *Log) at(i int) *Record {
	return &l.entries[(l.tail()+i)%len(l.entries)]
}

func (l *Log) evictOldest() {
	t := l.tail()
	l.size -= len(l.entries[t].Data)
	l.entries[t] = Record{} // release memory
	l.count--
}

// Size returns the total number of bytes across all retained records.
func (l *Log) Size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.size
}

// Len returns the number of retained records.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.count
}

// Cap returns the number of slots.
func (l *Log) Cap() int {
	return len(l.entries)
}

// Full reports whether every slot holds a record.
func (l *Log) Full() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.count == len(l.entries)
}

// Records returns copies of the retained records, oldest first.
func (l *Log) Records() []Record {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.count == 0 {
		return nil
	}
	out := make([]Record, l.count)
	for i := range out {
		r := l.at(i)
		out[i] = Record{Seq: r.Seq, Data: append([]byte(nil), r.Data...)}
	}
	return out
}

// Locate finds the record containing absolute byte offset off in the
// concatenation of retained records.
func (l *Log) Locate(off int64) (Location, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	i, local, ok := l.locate(off)
	if !ok {
		return Location{}, ErrOutOfRange
	}
	r := l.at(i)
	return Location{
		Index:  i,
		Seq:    r.Seq,
		Offset: local,
		Record: append([]byte(nil), r.Data...),
	}, nil
}

// locate walks cumulative record sizes from the tail. Caller must hold l.mu.
func (l *Log) locate(off int64) (index, local int, ok bool) {
	if off < 0 || off >= int64(l.size) {
		return 0, 0, false
	}
	var start int64
	for i := 0; i < l.count; i++ {
		n := int64(len(l.at(i).Data))
		if off < start+n {
			return i, int(off - start), true
		}
		start += n
	}
	// size and records disagree
	panic("ringlog: retained size does not match records")
}

// ReadRange copies up to limit bytes starting at absolute offset off,
// crossing record boundaries as needed. It returns fewer bytes at the end
// of the log and nil when off is out of range.
func (l *Log) ReadRange(off int64, limit int) []byte {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.readRange(off, limit)
}

func (l *Log) readRange(off int64, limit int) []byte {
	i, local, ok := l.locate(off)
	if !ok || limit <= 0 {
		return nil
	}
	n := min(limit, l.size-int(off))
	out := make([]byte, 0, n)
	for ; i < l.count && len(out) < n; i++ {
		data := l.at(i).Data[local:]
		out = append(out, data[:min(len(data), n-len(out))]...)
		local = 0
	}
	return out
}

// ReadAt implements io.ReaderAt over the retained byte stream.
func (l *Log) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, ErrOutOfRange
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if off >= int64(l.size) {
		return 0, io.EOF
	}
	n := copy(p, l.readRange(off, len(p)))
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// Snapshot returns every retained byte from absolute offset off through
// the end of the log. It returns nil when off is out of range.
func (l *Log) Snapshot(off int64) []byte {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.readRange(off, l.size)
}

// CommandOffset converts (command index, offset within that command) into
// an absolute byte offset. cmd counts retained records from the oldest, so
// evicted records are never addressable.
func (l *Log) CommandOffset(cmd, off uint32) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.commandOffset(cmd, off)
}

func (l *Log) commandOffset(cmd, off uint32) (int64, error) {
	if uint64(cmd) >= uint64(l.count) {
		return 0, ErrOutOfRange
	}
	var abs int64
	for i := 0; i < int(cmd); i++ {
		abs += int64(len(l.at(i).Data))
	}
	if uint64(off) >= uint64(len(l.at(int(cmd)).Data)) {
		return 0, ErrOutOfRange
	}
	return abs + int64(off), nil
}

// SnapshotAt resolves (cmd, off) and returns the log content from that
// position through the end, as one atomic operation.
func (l *Log) SnapshotAt(cmd, off uint32) ([]byte, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	abs, err := l.commandOffset(cmd, off)
	if err != nil {
		return nil, err
	}
	return l.readRange(abs, l.size), nil
}
