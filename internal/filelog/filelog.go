// Package filelog is the disk-backed log: records are appended to a plain
// file with no framing, and replies are the whole file. Record boundaries
// are not kept, so structured seeks are not supported.
package filelog

import (
	"errors"
	"fmt"
	"os"
	"sync"
)

// DefaultPath is where the server keeps its data when no path is given.
const DefaultPath = "/var/tmp/aesdsocketdata"

// DefaultMaxRecordSize bounds a single record. Larger appends are refused.
const DefaultMaxRecordSize = 1 << 20

var (
	// ErrSeekUnsupported is returned by SnapshotAt. The file holds a flat
	// byte stream with no record index.
	ErrSeekUnsupported = errors.New("seek by command is not supported by the file backend")

	// ErrRecordTooLarge is returned when a record exceeds the configured
	// maximum. The file is left unchanged.
	ErrRecordTooLarge = errors.New("record exceeds maximum size")
)

// Option configures a Log.
type Option func(*Log)

// WithTruncate empties the file when it is opened.
func WithTruncate() Option {
	return func(l *Log) { l.truncate = true }
}

// WithMaxRecordSize sets the largest record Append accepts. n <= 0 keeps
// the default.
func WithMaxRecordSize(n int) Option {
	return func(l *Log) {
		if n > 0 {
			l.maxRecord = n
		}
	}
}

// Log appends records to a file. It is safe for concurrent use; appends
// and reads are serialized by one mutex so a reply never shows half a
// record.
type Log struct {
	mu        sync.Mutex
	f         *os.File
	path      string
	size      int64
	seq       uint64
	maxRecord int
	truncate  bool
}

// Open opens (creating if needed) the file at path for appending.
func Open(path string, opts ...Option) (*Log, error) {
	if path == "" {
		path = DefaultPath
	}
	l := &Log{path: path, maxRecord: DefaultMaxRecordSize}
	for _, o := range opts {
		o(l)
	}

	flags := os.O_CREATE | os.O_RDWR | os.O_APPEND
	if l.truncate {
		flags |= os.O_TRUNC
	}
	f, err := os.OpenFile(path, flags, 0644)
	if err != nil {
		return nil, fmt.Errorf("open data file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat data file: %w", err)
	}
	l.f = f
	l.size = info.Size()
	return l, nil
}

// Path returns the backing file path.
func (l *Log) Path() string {
	return l.path
}

// Append writes p to the end of the file and returns its sequence number.
// Sequence numbers count appends made through this Log, starting at 1.
func (l *Log) Append(p []byte) (uint64, error) {
	if len(p) > l.maxRecord {
		return 0, ErrRecordTooLarge
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	n, err := l.f.Write(p)
	l.size += int64(n)
	if err != nil {
		return 0, fmt.Errorf("append record: %w", err)
	}
	l.seq++
	return l.seq, nil
}

// Size returns the file length in bytes.
func (l *Log) Size() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.size
}

// Snapshot returns the file content from off to the end. An off outside
// the file yields nil. A read error yields the bytes read before it.
func (l *Log) Snapshot(off int64) []byte {
	l.mu.Lock()
	defer l.mu.Unlock()

	if off < 0 || off >= l.size {
		return nil
	}
	buf := make([]byte, l.size-off)
	n, _ := l.f.ReadAt(buf, off)
	return buf[:n]
}

// SnapshotAt always fails with ErrSeekUnsupported.
func (l *Log) SnapshotAt(cmd, off uint32) ([]byte, error) {
	return nil, fmt.Errorf("seek %d,%d: %w", cmd, off, ErrSeekUnsupported)
}

// Close closes the backing file. The file stays on disk.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.f.Close()
}

// Remove closes and deletes the backing file.
func (l *Log) Remove() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	cerr := l.f.Close()
	if err := os.Remove(l.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove data file: %w", err)
	}
	if cerr != nil && !errors.Is(cerr, os.ErrClosed) {
		return fmt.Errorf("close data file: %w", cerr)
	}
	return nil
}
