package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Podnation93/Zenith-PDF-sub001/internal/access"
	"github.com/Podnation93/Zenith-PDF-sub001/internal/document"
	"github.com/Podnation93/Zenith-PDF-sub001/internal/merge"
	"github.com/stretchr/testify/require"
)

const (
	testDocumentID document.DocumentID = "doc-1"
	waitTimeout                        = 2 * time.Second
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, time.October, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type memoryLoader struct {
	mu        sync.Mutex
	snapshots map[document.DocumentID]document.Snapshot
	loads     int
	err       error
}

func newMemoryLoader() *memoryLoader {
	return &memoryLoader{snapshots: make(map[document.DocumentID]document.Snapshot)}
}

func (l *memoryLoader) Load(_ context.Context, documentID document.DocumentID) (document.Snapshot, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.loads++
	if l.err != nil {
		return document.Snapshot{}, l.err
	}
	return l.snapshots[documentID], nil
}

func (l *memoryLoader) Loads() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.loads
}

type recordingSink struct {
	mu      sync.Mutex
	records []Record
}

func (s *recordingSink) Enqueue(record Record) bool {
	s.mu.Lock()
	s.records = append(s.records, record)
	s.mu.Unlock()
	return true
}

func (s *recordingSink) Records() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Record(nil), s.records...)
}

type permissionKey struct {
	userID     document.UserID
	documentID document.DocumentID
}

type memoryLookup struct {
	mu     sync.Mutex
	levels map[permissionKey]access.Level
}

func newMemoryLookup() *memoryLookup {
	return &memoryLookup{levels: make(map[permissionKey]access.Level)}
}

func (l *memoryLookup) Set(userID document.UserID, documentID document.DocumentID, level access.Level) {
	l.mu.Lock()
	l.levels[permissionKey{userID: userID, documentID: documentID}] = level
	l.mu.Unlock()
}

func (l *memoryLookup) AccessLevel(_ context.Context, userID document.UserID, documentID document.DocumentID) (access.Level, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.levels[permissionKey{userID: userID, documentID: documentID}], nil
}

var errFakeTransportClosed = errors.New("fake transport closed")

// fakeTransport is an in-memory Transport. Frames pushed by the test are
// returned from Receive; frames sent by the session land on sent.
type fakeTransport struct {
	inbound chan []byte
	sent    chan []byte
	closed  chan struct{}
	once    sync.Once

	mu     sync.Mutex
	code   int
	reason string
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		inbound: make(chan []byte, 32),
		sent:    make(chan []byte, 512),
		closed:  make(chan struct{}),
	}
}

func (f *fakeTransport) Receive(ctx context.Context) ([]byte, error) {
	select {
	case raw := <-f.inbound:
		return raw, nil
	case <-f.closed:
		return nil, errFakeTransportClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *fakeTransport) Send(_ context.Context, payload []byte) error {
	select {
	case <-f.closed:
		return errFakeTransportClosed
	default:
	}
	select {
	case f.sent <- payload:
		return nil
	case <-f.closed:
		return errFakeTransportClosed
	}
}

func (f *fakeTransport) Close(code int, reason string) error {
	f.once.Do(func() {
		f.mu.Lock()
		f.code = code
		f.reason = reason
		f.mu.Unlock()
		close(f.closed)
	})
	return nil
}

func (f *fakeTransport) push(t *testing.T, messageType MessageType, payload any) {
	t.Helper()
	raw, err := EncodeEnvelope(messageType, testDocumentID, 0, payload)
	require.NoError(t, err)
	f.pushRaw(t, raw)
}

func (f *fakeTransport) pushRaw(t *testing.T, raw []byte) {
	t.Helper()
	select {
	case f.inbound <- raw:
	case <-time.After(waitTimeout):
		t.Fatalf("inbound queue full")
	}
}

// expect returns the next sent envelope of the given type, skipping others.
func (f *fakeTransport) expect(t *testing.T, messageType MessageType) Envelope {
	t.Helper()
	deadline := time.After(waitTimeout)
	for {
		select {
		case raw := <-f.sent:
			envelope := decodeOutbound(t, raw)
			if envelope.Type == messageType {
				return envelope
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", messageType)
			return Envelope{}
		}
	}
}

// next returns the next sent envelope whatever its type.
func (f *fakeTransport) next(t *testing.T) Envelope {
	t.Helper()
	select {
	case raw := <-f.sent:
		return decodeOutbound(t, raw)
	case <-time.After(waitTimeout):
		t.Fatalf("timed out waiting for a message")
		return Envelope{}
	}
}

func (f *fakeTransport) waitClosed(t *testing.T) (int, string) {
	t.Helper()
	select {
	case <-f.closed:
	case <-time.After(waitTimeout):
		t.Fatalf("transport was not closed")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.code, f.reason
}

func decodeOutbound(t *testing.T, raw []byte) Envelope {
	t.Helper()
	var envelope Envelope
	require.NoError(t, json.Unmarshal(raw, &envelope))
	return envelope
}

func payloadOf[T any](t *testing.T, envelope Envelope) T {
	t.Helper()
	var payload T
	require.NoError(t, json.Unmarshal(envelope.Payload, &payload))
	return payload
}

// drainQueue returns every envelope queued on a connection without a
// session attached.
func drainQueue(t *testing.T, conn *Connection) []Envelope {
	t.Helper()
	envelopes := make([]Envelope, 0)
	for {
		select {
		case raw := <-conn.Outbound():
			envelopes = append(envelopes, decodeOutbound(t, raw))
		default:
			return envelopes
		}
	}
}

func stringPointer(value string) *string {
	return &value
}

func boolPointer(value bool) *bool {
	return &value
}

func createHighlight(id document.EntityID) merge.Mutation {
	return merge.Mutation{
		Entity:   merge.EntityAnnotation,
		Action:   merge.ActionCreate,
		EntityID: id,
		Annotation: merge.AnnotationChange{
			Kind:     document.AnnotationKindHighlight,
			Position: &document.Rect{Page: 1, X: 10, Y: 20, Width: 100, Height: 12},
			Color:    stringPointer("#ffff00"),
		},
	}
}

func recolor(id document.EntityID, color string) merge.Mutation {
	return merge.Mutation{
		Entity:     merge.EntityAnnotation,
		Action:     merge.ActionUpdate,
		EntityID:   id,
		Annotation: merge.AnnotationChange{Color: stringPointer(color)},
	}
}
