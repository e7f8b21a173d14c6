package chat

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pharmaplus/support-chat/internal/store"
)

// fakeConn scripts the inbound side of a socket and records every
// outbound frame.
type fakeConn struct {
	inbound chan []byte
	closed  chan struct{}
	once    sync.Once

	mu     sync.Mutex
	writes [][]byte
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		inbound: make(chan []byte, 16),
		closed:  make(chan struct{}),
	}
}

func (f *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case data := <-f.inbound:
		return 1, data, nil
	case <-f.closed:
		return 0, nil, io.EOF
	}
}

func (f *fakeConn) WriteMessage(_ int, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, append([]byte(nil), data...))
	return nil
}

func (f *fakeConn) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeConn) push(frame string) {
	f.inbound <- []byte(frame)
}

// waitWrites blocks until the connection has seen at least n outbound
// frames, then returns a copy of them.
func (f *fakeConn) waitWrites(t *testing.T, n int) [][]byte {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		f.mu.Lock()
		if len(f.writes) >= n {
			out := make([][]byte, len(f.writes))
			copy(out, f.writes)
			f.mu.Unlock()
			return out
		}
		f.mu.Unlock()
		time.Sleep(time.Millisecond)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	t.Fatalf("timed out waiting for %d writes, have %d", n, len(f.writes))
	return nil
}

func (f *fakeConn) writeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.writes)
}

// fakeStore keeps messages in memory with the same validation contract
// as the gorm store.
type fakeStore struct {
	mu        sync.Mutex
	messages  []store.ChatMessage
	nextID    uint
	appendErr error
}

func (s *fakeStore) Append(ticketID, sentBy, senderName, senderRole, body string) (*store.ChatMessage, error) {
	if s.appendErr != nil {
		return nil, s.appendErr
	}
	for _, field := range []string{ticketID, sentBy, senderName, senderRole, body} {
		if field == "" {
			return nil, fmt.Errorf("%w: missing required field", store.ErrValidation)
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	msg := store.ChatMessage{
		ID:         s.nextID,
		TicketID:   ticketID,
		SentBy:     sentBy,
		SenderName: senderName,
		SenderRole: senderRole,
		Body:       body,
		SentAt:     time.Now(),
	}
	s.messages = append(s.messages, msg)
	return &msg, nil
}

func (s *fakeStore) RecentHistory(ticketID string, limit int) ([]store.ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []store.ChatMessage
	for _, m := range s.messages {
		if m.TicketID == ticketID {
			out = append(out, m)
		}
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (s *fakeStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

type frameEnvelope struct {
	Type     string              `json:"type"`
	TicketID string              `json:"ticketID"`
	Message  *store.ChatMessage  `json:"-"`
	RawMsg   json.RawMessage     `json:"message"`
	Messages []store.ChatMessage `json:"messages"`
}

func decodeFrame(t *testing.T, data []byte) frameEnvelope {
	t.Helper()
	var env frameEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("bad outbound frame %q: %v", data, err)
	}
	// "message" is an object on new_message frames and a string on
	// error frames; only decode the object form.
	if len(env.RawMsg) > 0 && env.RawMsg[0] == '{' {
		env.Message = new(store.ChatMessage)
		if err := json.Unmarshal(env.RawMsg, env.Message); err != nil {
			t.Fatalf("bad message payload %q: %v", env.RawMsg, err)
		}
	}
	return env
}

// startSession runs Serve on its own goroutine and waits for the
// replay and join ack so tests start from a settled session.
func startSession(t *testing.T, h *Hub, conn *fakeConn, ticketID string) chan struct{} {
	t.Helper()
	done := make(chan struct{})
	go func() {
		h.Serve(conn, ticketID)
		close(done)
	}()
	writes := conn.waitWrites(t, 2)
	if f := decodeFrame(t, writes[0]); f.Type != FrameChatHistory {
		t.Fatalf("first frame = %q, want chat_history", f.Type)
	}
	if f := decodeFrame(t, writes[1]); f.Type != FrameJoinedTicket || f.TicketID != ticketID {
		t.Fatalf("second frame = %+v, want joined_ticket for %s", f, ticketID)
	}
	return done
}

func endSession(t *testing.T, conn *fakeConn, done chan struct{}) {
	t.Helper()
	conn.Close()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("session did not shut down")
	}
}

func TestServeReplaysHistoryThenAcks(t *testing.T) {
	st := &fakeStore{}
	st.Append("TKT000123", "u1", "Alice", store.RoleCustomer, "first")
	st.Append("TKT000123", "a1", "Bob", store.RoleAgent, "second")
	st.Append("TKT000777", "u2", "Eve", store.RoleCustomer, "other ticket")

	h := NewHub(NewRegistry(), st)
	conn := newFakeConn()
	done := startSession(t, h, conn, "TKT000123")
	defer endSession(t, conn, done)

	history := decodeFrame(t, conn.waitWrites(t, 2)[0])
	if len(history.Messages) != 2 {
		t.Fatalf("history has %d messages, want 2", len(history.Messages))
	}
	if history.Messages[0].Body != "first" || history.Messages[1].Body != "second" {
		t.Fatal("history must be oldest first and scoped to the ticket")
	}
}

func TestChatMessagePersistsThenBroadcasts(t *testing.T) {
	st := &fakeStore{}
	h := NewHub(NewRegistry(), st)

	connA, connB, connC := newFakeConn(), newFakeConn(), newFakeConn()
	doneA := startSession(t, h, connA, "TKT000123")
	doneB := startSession(t, h, connB, "TKT000123")
	doneC := startSession(t, h, connC, "TKT000555")
	defer endSession(t, connA, doneA)
	defer endSession(t, connB, doneB)
	defer endSession(t, connC, doneC)

	connA.push(`{"type":"chat_message","sendBy":"u1","senderName":"Alice","senderRole":"customer","message":"Hello"}`)

	for _, conn := range []*fakeConn{connA, connB} {
		frame := decodeFrame(t, conn.waitWrites(t, 3)[2])
		if frame.Type != FrameNewMessage {
			t.Fatalf("frame type = %q, want new_message", frame.Type)
		}
		if frame.Message == nil || frame.Message.Body != "Hello" {
			t.Fatalf("broadcast body = %+v, want Hello", frame.Message)
		}
	}
	if st.count() != 1 {
		t.Fatalf("store has %d messages, want 1", st.count())
	}

	// a different ticket hears nothing beyond its own replay/ack
	time.Sleep(20 * time.Millisecond)
	if n := connC.writeCount(); n != 2 {
		t.Fatalf("cross-ticket connection saw %d frames, want 2", n)
	}
}

func TestMalformedFrameErrorsSenderOnly(t *testing.T) {
	st := &fakeStore{}
	h := NewHub(NewRegistry(), st)

	connA, connB := newFakeConn(), newFakeConn()
	doneA := startSession(t, h, connA, "TKT000123")
	doneB := startSession(t, h, connB, "TKT000123")
	defer endSession(t, connA, doneA)
	defer endSession(t, connB, doneB)

	connA.push(`{not json`)

	frame := decodeFrame(t, connA.waitWrites(t, 3)[2])
	if frame.Type != FrameError {
		t.Fatalf("frame type = %q, want error", frame.Type)
	}
	if st.count() != 0 {
		t.Fatal("malformed frame must not persist anything")
	}
	time.Sleep(20 * time.Millisecond)
	if n := connB.writeCount(); n != 2 {
		t.Fatalf("other connection saw %d frames, want 2", n)
	}

	// the connection stays usable after a bad frame
	connA.push(`{"type":"chat_message","sendBy":"u1","senderName":"Alice","senderRole":"customer","message":"still here"}`)
	frame = decodeFrame(t, connA.waitWrites(t, 4)[3])
	if frame.Type != FrameNewMessage {
		t.Fatalf("frame type after recovery = %q, want new_message", frame.Type)
	}
}

func TestValidationFailureNoPersistNoBroadcast(t *testing.T) {
	st := &fakeStore{}
	h := NewHub(NewRegistry(), st)

	conn := newFakeConn()
	done := startSession(t, h, conn, "TKT000123")
	defer endSession(t, conn, done)

	conn.push(`{"type":"chat_message","senderName":"Alice","senderRole":"customer","message":"no sendBy"}`)

	frame := decodeFrame(t, conn.waitWrites(t, 3)[2])
	if frame.Type != FrameError {
		t.Fatalf("frame type = %q, want error", frame.Type)
	}
	if st.count() != 0 {
		t.Fatal("invalid message must not persist")
	}
}

func TestStoreFailureSurfacesErrorWithoutBroadcast(t *testing.T) {
	st := &fakeStore{appendErr: errors.New("connection refused")}
	h := NewHub(NewRegistry(), st)

	connA, connB := newFakeConn(), newFakeConn()
	doneA := startSession(t, h, connA, "TKT000123")
	doneB := startSession(t, h, connB, "TKT000123")
	defer endSession(t, connA, doneA)
	defer endSession(t, connB, doneB)

	connA.push(`{"type":"chat_message","sendBy":"u1","senderName":"Alice","senderRole":"customer","message":"Hello"}`)

	frame := decodeFrame(t, connA.waitWrites(t, 3)[2])
	if frame.Type != FrameError {
		t.Fatalf("frame type = %q, want error", frame.Type)
	}
	time.Sleep(20 * time.Millisecond)
	if n := connB.writeCount(); n != 2 {
		t.Fatalf("store failure must not broadcast, peer saw %d frames", n)
	}
}

func TestJoinTicketReacksWithoutRegistryChange(t *testing.T) {
	st := &fakeStore{}
	reg := NewRegistry()
	h := NewHub(reg, st)

	conn := newFakeConn()
	done := startSession(t, h, conn, "TKT000123")
	defer endSession(t, conn, done)

	conn.push(`{"type":"join_ticket"}`)
	conn.push(`{"type":"join_ticket"}`)

	writes := conn.waitWrites(t, 4)
	for _, data := range writes[2:] {
		if f := decodeFrame(t, data); f.Type != FrameJoinedTicket {
			t.Fatalf("frame type = %q, want joined_ticket", f.Type)
		}
	}
	if members := ticketMembers(reg, "TKT000123"); len(members) != 1 {
		t.Fatalf("registry has %d members, want 1", len(members))
	}
}

func TestJoinedAckCarriesTicketIDKey(t *testing.T) {
	st := &fakeStore{}
	h := NewHub(NewRegistry(), st)

	conn := newFakeConn()
	done := startSession(t, h, conn, "TKT000123")
	defer endSession(t, conn, done)

	// consumers are coded against the literal ticketID key
	ack := string(conn.waitWrites(t, 2)[1])
	if !strings.Contains(ack, `"ticketID":"TKT000123"`) {
		t.Fatalf("joined_ticket ack = %s, want a ticketID key", ack)
	}
}

func TestUnknownFrameIgnored(t *testing.T) {
	st := &fakeStore{}
	h := NewHub(NewRegistry(), st)

	conn := newFakeConn()
	done := startSession(t, h, conn, "TKT000123")
	defer endSession(t, conn, done)

	conn.push(`{"type":"typing_indicator"}`)
	time.Sleep(20 * time.Millisecond)
	if n := conn.writeCount(); n != 2 {
		t.Fatalf("unknown frame produced output, saw %d frames", n)
	}
}

func TestCloseUnregistersConnection(t *testing.T) {
	st := &fakeStore{}
	reg := NewRegistry()
	h := NewHub(reg, st)

	conn := newFakeConn()
	done := startSession(t, h, conn, "TKT000123")
	endSession(t, conn, done)

	if members := ticketMembers(reg, "TKT000123"); len(members) != 0 {
		t.Fatalf("registry still has %d members after close", len(members))
	}
}
