package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/chronologos/aesdsocket/internal/protocol"
	"github.com/chronologos/aesdsocket/internal/ringlog"
)

// startTestSession runs a session over an in-memory pipe and returns the
// client end. cleanup cancels the session and waits for Run to exit.
func startTestSession(t *testing.T, log Log, cfg Config) (client net.Conn, s *Session, done <-chan error, cleanup func()) {
	t.Helper()

	serverConn, clientConn := net.Pipe()
	if cfg.ID == "" {
		cfg.ID = t.Name()
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 20 * time.Millisecond
	}
	s = New(serverConn, log, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	exited := make(chan struct{})
	go func() {
		errCh <- s.Run(ctx)
		close(exited)
	}()

	return clientConn, s, errCh, func() {
		cancel()
		clientConn.Close()
		select {
		case <-exited:
		case <-time.After(5 * time.Second):
			t.Error("session did not exit")
		}
	}
}

// send writes a raw chunk from the client side.
func send(t *testing.T, conn net.Conn, data string) {
	t.Helper()
	conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if _, err := io.WriteString(conn, data); err != nil {
		t.Fatalf("send %q: %v", data, err)
	}
}

// expectReply reads exactly len(want) bytes and compares them.
func expectReply(t *testing.T, conn net.Conn, want string) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	got := make([]byte, len(want))
	if _, err := io.ReadFull(conn, got); err != nil {
		t.Fatalf("read reply (want %q): %v (got %q)", want, err, got)
	}
	if string(got) != want {
		t.Fatalf("expected reply %q, got %q", want, got)
	}
}

// expectSilence checks that nothing arrives within d.
func expectSilence(t *testing.T, conn net.Conn, d time.Duration) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(d))
	buf := make([]byte, 64)
	n, err := conn.Read(buf)
	if n > 0 {
		t.Fatalf("expected no reply, got %q", buf[:n])
	}
	var ne net.Error
	if !errors.As(err, &ne) || !ne.Timeout() {
		t.Fatalf("expected read timeout, got %v", err)
	}
}

func TestDataLineRepliesWithWholeLog(t *testing.T) {
	log := ringlog.New(10)
	client, _, _, cleanup := startTestSession(t, log, Config{})
	defer cleanup()

	send(t, client, "hello\n")
	expectReply(t, client, "hello\n")

	send(t, client, "world\n")
	expectReply(t, client, "hello\nworld\n")
}

func TestLineSplitAcrossChunks(t *testing.T) {
	log := ringlog.New(10)
	client, _, _, cleanup := startTestSession(t, log, Config{})
	defer cleanup()

	send(t, client, "par")
	expectSilence(t, client, 50*time.Millisecond)
	send(t, client, "tial\n")
	expectReply(t, client, "partial\n")

	if log.Len() != 1 {
		t.Fatalf("expected 1 record, got %d", log.Len())
	}
}

func TestBackToBackLinesInOneChunk(t *testing.T) {
	log := ringlog.New(10)
	client, _, _, cleanup := startTestSession(t, log, Config{})
	defer cleanup()

	send(t, client, "a\nb\n")
	expectReply(t, client, "a\n")
	expectReply(t, client, "a\nb\n")
}

func TestEvictionVisibleInReply(t *testing.T) {
	log := ringlog.New(3)
	client, _, _, cleanup := startTestSession(t, log, Config{})
	defer cleanup()

	send(t, client, "a\n")
	expectReply(t, client, "a\n")
	send(t, client, "b\n")
	expectReply(t, client, "a\nb\n")
	send(t, client, "c\n")
	expectReply(t, client, "a\nb\nc\n")
	send(t, client, "d\n")
	expectReply(t, client, "b\nc\nd\n")
}

func TestSeekReplyFromResolvedOffset(t *testing.T) {
	log := ringlog.New(3)
	for _, r := range []string{"a\n", "b\n", "c\n", "d\n"} {
		log.Append([]byte(r))
	}
	client, _, _, cleanup := startTestSession(t, log, Config{})
	defer cleanup()

	send(t, client, string(protocol.FormatSeek(1, 1)))
	expectReply(t, client, "\nd\n")

	if log.Len() != 3 || string(log.Snapshot(0)) != "b\nc\nd\n" {
		t.Fatalf("seek command must not be stored, log is %q", log.Snapshot(0))
	}
}

func TestSeekOutOfRangeSendsNothingAndKeepsConnection(t *testing.T) {
	log := ringlog.New(3)
	for _, r := range []string{"a\n", "b\n", "c\n"} {
		log.Append([]byte(r))
	}
	client, s, _, cleanup := startTestSession(t, log, Config{})
	defer cleanup()

	send(t, client, "AESDCHAR_IOCSEEKTO:5,0\n")
	expectSilence(t, client, 100*time.Millisecond)

	if st := s.State(); st != StateReading {
		t.Fatalf("expected session to be reading, got %v", st)
	}

	send(t, client, "d\n")
	expectReply(t, client, "b\nc\nd\n")
}

func TestMalformedSeekStoredAsData(t *testing.T) {
	log := ringlog.New(3)
	client, _, _, cleanup := startTestSession(t, log, Config{})
	defer cleanup()

	send(t, client, "AESDCHAR_IOCSEEKTO:x,1\n")
	expectReply(t, client, "AESDCHAR_IOCSEEKTO:x,1\n")
}

func TestDroppedRecordStillReplies(t *testing.T) {
	log := ringlog.New(3, ringlog.WithMaxRecordSize(4))
	client, _, _, cleanup := startTestSession(t, log, Config{})
	defer cleanup()

	send(t, client, "ok\n")
	expectReply(t, client, "ok\n")

	send(t, client, "much too long\n")
	expectReply(t, client, "ok\n")
	if log.Len() != 1 {
		t.Fatalf("expected oversized record to be dropped, log has %d records", log.Len())
	}
}

func TestPeerCloseEndsSession(t *testing.T) {
	log := ringlog.New(3)
	client, s, done, cleanup := startTestSession(t, log, Config{})
	defer cleanup()

	send(t, client, "x\n")
	expectReply(t, client, "x\n")
	client.Close()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected clean exit, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("session did not exit after peer close")
	}
	if st := s.State(); st != StateTerminated {
		t.Fatalf("expected terminated, got %v", st)
	}
}

func TestCancelEndsSessionAtReadTimeout(t *testing.T) {
	serverConn, client := net.Pipe()
	defer client.Close()

	s := New(serverConn, ringlog.New(3), Config{ID: "cancel", ReadTimeout: 10 * time.Millisecond})
	if st := s.State(); st != StateAccepted {
		t.Fatalf("expected accepted, got %v", st)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected nil on shutdown, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("session ignored cancellation")
	}
}

func TestLineTooLongEndsSession(t *testing.T) {
	log := ringlog.New(3)
	client, _, done, cleanup := startTestSession(t, log, Config{MaxLineSize: 16})
	defer cleanup()

	send(t, client, "0123456789abcdefXYZ")

	select {
	case err := <-done:
		if !errors.Is(err, protocol.ErrLineTooLong) {
			t.Fatalf("expected ErrLineTooLong, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("session did not exit")
	}
	if log.Len() != 0 {
		t.Fatalf("expected no records, got %d", log.Len())
	}
}

func TestConcurrentSessionsNoLostRecords(t *testing.T) {
	const sessions = 16
	log := ringlog.New(sessions)

	var wg sync.WaitGroup
	for i := 0; i < sessions; i++ {
		client, _, _, cleanup := startTestSession(t, log, Config{ID: fmt.Sprintf("s%d", i)})
		defer cleanup()

		wg.Add(1)
		go func(i int, client net.Conn) {
			defer wg.Done()
			line := fmt.Sprintf("session-%02d\n", i)
			client.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if _, err := io.WriteString(client, line); err != nil {
				t.Error(err)
				return
			}
			// Drain the reply so the session is not blocked writing it.
			// Its length is unknown, so read until the line shows up.
			client.SetReadDeadline(time.Now().Add(5 * time.Second))
			var got []byte
			buf := make([]byte, 512)
			for !strings.Contains(string(got), line) {
				n, err := client.Read(buf)
				if err != nil {
					t.Errorf("session %d read: %v", i, err)
					return
				}
				got = append(got, buf[:n]...)
			}
		}(i, client)
	}
	wg.Wait()

	recs := log.Records()
	if len(recs) != sessions {
		t.Fatalf("expected %d records, got %d", sessions, len(recs))
	}
	seen := make(map[string]bool)
	for _, r := range recs {
		seen[string(r.Data)] = true
	}
	for i := 0; i < sessions; i++ {
		if !seen[fmt.Sprintf("session-%02d\n", i)] {
			t.Fatalf("record from session %d missing or corrupted", i)
		}
	}
}

func TestStateString(t *testing.T) {
	if StateReply.String() != "reply" || State(99).String() != "unknown" {
		t.Fatal("unexpected state names")
	}
}
