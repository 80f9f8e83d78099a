package realtime

import (
	"context"
	"testing"
	"time"

	"github.com/Podnation93/Zenith-PDF-sub001/internal/access"
	"github.com/Podnation93/Zenith-PDF-sub001/internal/document"
	"github.com/Podnation93/Zenith-PDF-sub001/internal/merge"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type hubHarness struct {
	hub    *Hub
	clock  *fakeClock
	lookup *memoryLookup
	loader *memoryLoader
	sink   *recordingSink
	ctx    context.Context
	cancel context.CancelFunc
}

func newHubHarness(t *testing.T) *hubHarness {
	t.Helper()
	clock := newFakeClock()
	lookup := newMemoryLookup()
	loader := newMemoryLoader()
	sink := &recordingSink{}
	guard, err := access.NewGuard(access.GuardConfig{Lookup: lookup})
	require.NoError(t, err)
	hub, err := NewHub(HubConfig{
		Authorizer:       guard,
		Loader:           loader,
		Sink:             sink,
		Clock:            clock.Now,
		HeartbeatTimeout: 30 * time.Second,
		OutboundQueue:    256,
		Logger:           zap.NewNop(),
	})
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return &hubHarness{hub: hub, clock: clock, lookup: lookup, loader: loader, sink: sink, ctx: ctx, cancel: cancel}
}

type testClient struct {
	userID    document.UserID
	transport *fakeTransport
	done      chan error
}

func (h *hubHarness) connect(t *testing.T, userID document.UserID, level access.Level) *testClient {
	t.Helper()
	h.lookup.Set(userID, testDocumentID, level)
	client := &testClient{userID: userID, transport: newFakeTransport(), done: make(chan error, 1)}
	go func() {
		client.done <- h.hub.Serve(h.ctx, client.transport, Identity{UserID: userID, DisplayName: string(userID)}, testDocumentID)
	}()
	return client
}

func (h *hubHarness) join(t *testing.T, userID document.UserID, level access.Level) (*testClient, SnapshotPayload) {
	t.Helper()
	client := h.connect(t, userID, level)
	client.transport.push(t, MessageJoin, JoinPayload{})
	envelope := client.transport.expect(t, MessageSnapshot)
	return client, payloadOf[SnapshotPayload](t, envelope)
}

func (c *testClient) mutate(t *testing.T, payload MutatePayload) {
	t.Helper()
	c.transport.push(t, MessageMutate, payload)
}

func (c *testClient) expectApplied(t *testing.T) MutationAppliedPayload {
	t.Helper()
	return payloadOf[MutationAppliedPayload](t, c.transport.expect(t, MessageMutationApplied))
}

func (c *testClient) expectError(t *testing.T) ErrorPayload {
	t.Helper()
	return payloadOf[ErrorPayload](t, c.transport.expect(t, MessageError))
}

func (c *testClient) expectPresence(t *testing.T, event string) PresenceEventPayload {
	t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for time.Now().Before(deadline) {
		payload := payloadOf[PresenceEventPayload](t, c.transport.expect(t, MessagePresence))
		if payload.Event == event {
			return payload
		}
	}
	t.Fatalf("no %s presence event", event)
	return PresenceEventPayload{}
}

func (c *testClient) hangUp(t *testing.T) {
	t.Helper()
	require.NoError(t, c.transport.Close(CloseNormal, "client"))
	c.waitServe(t)
}

func (c *testClient) waitServe(t *testing.T) error {
	t.Helper()
	select {
	case err := <-c.done:
		return err
	case <-time.After(waitTimeout):
		t.Fatalf("session for %s did not finish", c.userID)
		return nil
	}
}

func highlightCreate(clientMutationID, entityID string) MutatePayload {
	return MutatePayload{
		ClientMutationID: clientMutationID,
		Entity:           merge.EntityAnnotation,
		Action:           merge.ActionCreate,
		EntityID:         entityID,
		Annotation: &AnnotationPayload{
			Kind:     "highlight",
			Position: &RectPayload{Page: 1, X: 5, Y: 5, Width: 40, Height: 10},
			Color:    stringPointer("#ffee00"),
		},
	}
}

func commentCreate(clientMutationID, entityID, content string) MutatePayload {
	return MutatePayload{
		ClientMutationID: clientMutationID,
		Entity:           merge.EntityComment,
		Action:           merge.ActionCreate,
		EntityID:         entityID,
		Comment:          &CommentPayload{Content: stringPointer(content)},
	}
}

func commentResolve(clientMutationID, entityID string, resolved bool) MutatePayload {
	return MutatePayload{
		ClientMutationID: clientMutationID,
		Entity:           merge.EntityComment,
		Action:           merge.ActionUpdate,
		EntityID:         entityID,
		Comment:          &CommentPayload{Resolved: boolPointer(resolved)},
	}
}

func TestHubJoinDeliversSnapshotAndPresence(t *testing.T) {
	h := newHubHarness(t)
	h.loader.snapshots[testDocumentID] = document.Snapshot{
		DocumentID: testDocumentID,
		Revision:   3,
		Comments: []document.Comment{{
			ID:         "c-1",
			DocumentID: testDocumentID,
			Author:     "alice",
			Content:    "first",
			Revision:   3,
		}},
	}

	alice, aliceSnapshot := h.join(t, "alice", access.LevelView)
	assert.Equal(t, int64(3), aliceSnapshot.Snapshot.Revision)
	require.Len(t, aliceSnapshot.Snapshot.Comments, 1)
	assert.Equal(t, "first", aliceSnapshot.Snapshot.Comments[0].Content)
	require.Len(t, aliceSnapshot.Presence, 1)
	assert.Equal(t, document.UserID("alice"), aliceSnapshot.Presence[0].UserID)

	_, bobSnapshot := h.join(t, "bob", access.LevelComment)
	assert.Len(t, bobSnapshot.Presence, 2)

	event := alice.expectPresence(t, PresenceJoin)
	require.Len(t, event.Entries, 1)
	assert.Equal(t, document.UserID("bob"), event.Entries[0].UserID)
	assert.Len(t, h.hub.Presence(testDocumentID), 2)
}

func TestHubBroadcastsAppliedMutationToEveryMember(t *testing.T) {
	h := newHubHarness(t)
	alice, _ := h.join(t, "alice", access.LevelEdit)
	bob, _ := h.join(t, "bob", access.LevelView)

	alice.mutate(t, highlightCreate("m-1", "a-1"))

	for _, client := range []*testClient{alice, bob} {
		applied := client.expectApplied(t)
		assert.Equal(t, "m-1", applied.ClientMutationID)
		require.NotNil(t, applied.Annotation)
		assert.Equal(t, document.EntityID("a-1"), applied.Annotation.ID)
		assert.Equal(t, int64(1), applied.Annotation.Revision)
	}
	require.Len(t, h.sink.Records(), 1)

	snapshot, live := h.hub.Snapshot(testDocumentID)
	require.True(t, live)
	assert.Len(t, snapshot.Annotations, 1)
}

func TestHubRejectsUnauthorizedMutationToOriginatorOnly(t *testing.T) {
	h := newHubHarness(t)
	alice, _ := h.join(t, "alice", access.LevelEdit)
	bob, _ := h.join(t, "bob", access.LevelView)

	bob.mutate(t, highlightCreate("b-1", "a-1"))
	rejected := bob.expectError(t)
	assert.Equal(t, ReasonInsufficientPermission, rejected.Reason)
	assert.Equal(t, "b-1", rejected.ClientMutationID)

	alice.mutate(t, highlightCreate("a-1", "a-2"))
	assert.Equal(t, "a-1", alice.expectApplied(t).ClientMutationID)
	assert.Equal(t, "a-1", bob.expectApplied(t).ClientMutationID)

	snapshot, _ := h.hub.Snapshot(testDocumentID)
	assert.Equal(t, int64(1), snapshot.Revision)
	assert.Len(t, h.sink.Records(), 1)
}

func TestHubRevocationAppliesToNextMutation(t *testing.T) {
	h := newHubHarness(t)
	alice, _ := h.join(t, "alice", access.LevelEdit)

	alice.mutate(t, highlightCreate("m-1", "a-1"))
	alice.expectApplied(t)

	h.lookup.Set("alice", testDocumentID, access.LevelView)
	alice.mutate(t, highlightCreate("m-2", "a-2"))
	rejected := alice.expectError(t)
	assert.Equal(t, ReasonInsufficientPermission, rejected.Reason)
	assert.Equal(t, "m-2", rejected.ClientMutationID)
}

func TestHubCommentChangesByOthersRequireEdit(t *testing.T) {
	h := newHubHarness(t)
	alice, _ := h.join(t, "alice", access.LevelComment)
	bob, _ := h.join(t, "bob", access.LevelComment)
	carol, _ := h.join(t, "carol", access.LevelEdit)

	alice.mutate(t, commentCreate("m-1", "c-1", "please check the totals"))
	created := alice.expectApplied(t)
	require.NotNil(t, created.Comment)
	assert.Equal(t, document.UserID("alice"), created.Comment.Author)
	bob.expectApplied(t)
	carol.expectApplied(t)

	bob.mutate(t, commentResolve("m-2", "c-1", true))
	assert.Equal(t, ReasonInsufficientPermission, bob.expectError(t).Reason)

	carol.mutate(t, commentResolve("m-3", "c-1", true))
	resolved := carol.expectApplied(t)
	assert.Equal(t, "m-3", resolved.ClientMutationID)
	assert.True(t, resolved.Comment.Resolved)

	alice.mutate(t, commentResolve("m-4", "c-1", false))
	for {
		applied := alice.expectApplied(t)
		if applied.ClientMutationID == "m-4" {
			assert.False(t, applied.Comment.Resolved)
			assert.Equal(t, []merge.Field{merge.FieldResolved}, applied.Fields)
			break
		}
	}
}

func TestHubDuplicateMutationAnsweredToOriginatorOnly(t *testing.T) {
	h := newHubHarness(t)
	alice, _ := h.join(t, "alice", access.LevelEdit)
	bob, _ := h.join(t, "bob", access.LevelView)

	create := highlightCreate("m-1", "a-1")
	create.Timestamp = 1
	alice.mutate(t, create)
	assert.False(t, alice.expectApplied(t).Duplicate)
	assert.Equal(t, "m-1", bob.expectApplied(t).ClientMutationID)

	alice.mutate(t, create)
	assert.True(t, alice.expectApplied(t).Duplicate)

	alice.mutate(t, MutatePayload{
		ClientMutationID: "m-2",
		Entity:           merge.EntityAnnotation,
		Action:           merge.ActionDelete,
		EntityID:         "a-1",
	})
	alice.expectApplied(t)
	deleted := bob.expectApplied(t)
	assert.Equal(t, "m-2", deleted.ClientMutationID)
	assert.True(t, deleted.Annotation.Deleted)
}

func TestHubPresenceListsRemainingConnections(t *testing.T) {
	h := newHubHarness(t)
	users := []document.UserID{"u-1", "u-2", "u-3", "u-4", "u-5"}
	clients := make([]*testClient, 0, len(users))
	for _, userID := range users {
		client, _ := h.join(t, userID, access.LevelView)
		clients = append(clients, client)
	}
	require.Len(t, h.hub.Presence(testDocumentID), 5)

	clients[1].hangUp(t)
	clients[3].hangUp(t)

	entries := h.hub.Presence(testDocumentID)
	require.Len(t, entries, 3)
	remaining := make([]document.UserID, 0, len(entries))
	for _, entry := range entries {
		remaining = append(remaining, entry.UserID)
	}
	assert.ElementsMatch(t, []document.UserID{"u-1", "u-3", "u-5"}, remaining)
	assert.Equal(t, 3, h.hub.Connections())
}

func TestHubPresenceUpdateReachesOthers(t *testing.T) {
	h := newHubHarness(t)
	alice, _ := h.join(t, "alice", access.LevelView)
	bob, _ := h.join(t, "bob", access.LevelView)

	bob.transport.push(t, MessagePresence, PresencePayload{Cursor: &Cursor{Page: 2, X: 0.5, Y: 0.25}})
	event := alice.expectPresence(t, PresenceUpdate)
	require.Len(t, event.Entries, 1)
	require.NotNil(t, event.Entries[0].Cursor)
	assert.Equal(t, 2, event.Entries[0].Cursor.Page)

	require.Eventually(t, func() bool {
		for _, entry := range h.hub.Presence(testDocumentID) {
			if entry.UserID == "bob" && entry.Cursor != nil {
				return true
			}
		}
		return false
	}, waitTimeout, 10*time.Millisecond)
}

func TestHubEvictsConnectionsThatStopHeartbeating(t *testing.T) {
	h := newHubHarness(t)
	alice, _ := h.join(t, "alice", access.LevelView)
	bob, _ := h.join(t, "bob", access.LevelView)

	h.clock.Advance(31 * time.Second)
	bob.transport.push(t, MessagePresence, PresencePayload{Viewport: &Viewport{Page: 1, Top: 0, Bottom: 0.5}})
	alice.expectPresence(t, PresenceUpdate)

	assert.Equal(t, 1, h.hub.Sweep())
	code, reason := alice.transport.waitClosed(t)
	assert.Equal(t, CloseHeartbeatTimeout, code)
	assert.Equal(t, ReasonHeartbeatTimeout, reason)
	assert.NoError(t, alice.waitServe(t))

	entries := h.hub.Presence(testDocumentID)
	require.Len(t, entries, 1)
	assert.Equal(t, document.UserID("bob"), entries[0].UserID)
	left := bob.expectPresence(t, PresenceLeave)
	assert.Equal(t, document.UserID("alice"), left.Entries[0].UserID)
	assert.Equal(t, 0, h.hub.Sweep())
}

func TestHubRejectsMalformedMessages(t *testing.T) {
	h := newHubHarness(t)
	alice, _ := h.join(t, "alice", access.LevelEdit)

	alice.transport.pushRaw(t, []byte("not json"))
	assert.Equal(t, ReasonInvalidPayload, alice.expectError(t).Reason)

	alice.transport.pushRaw(t, []byte(`{"type":"teleport"}`))
	assert.Equal(t, ReasonInvalidPayload, alice.expectError(t).Reason)

	alice.transport.push(t, MessageSnapshot, SnapshotPayload{})
	assert.Equal(t, ReasonUnknownType, alice.expectError(t).Reason)

	alice.transport.pushRaw(t, []byte(`{"type":"join","roomId":"doc-2"}`))
	assert.Equal(t, ReasonRoomMismatch, alice.expectError(t).Reason)

	alice.mutate(t, MutatePayload{ClientMutationID: "m-1", Entity: merge.EntityAnnotation, Action: merge.ActionUpdate})
	rejected := alice.expectError(t)
	assert.Equal(t, ReasonInvalidPayload, rejected.Reason)
	assert.Equal(t, "m-1", rejected.ClientMutationID)

	alice.mutate(t, highlightCreate("m-2", "a-1"))
	assert.Equal(t, "m-2", alice.expectApplied(t).ClientMutationID)
}

func TestHubRejectsMutationBeforeJoin(t *testing.T) {
	h := newHubHarness(t)
	alice := h.connect(t, "alice", access.LevelEdit)

	alice.mutate(t, highlightCreate("m-1", "a-1"))
	rejected := alice.expectError(t)
	assert.Equal(t, ReasonNotJoined, rejected.Reason)
	assert.Equal(t, "m-1", rejected.ClientMutationID)
}

func TestHubServeRejectsUserWithoutAccess(t *testing.T) {
	h := newHubHarness(t)
	mallory := h.connect(t, "mallory", access.LevelNone)

	err := mallory.waitServe(t)
	require.Error(t, err)
	assert.Equal(t, KindUnauthorized, KindOf(err))
	code, reason := mallory.transport.waitClosed(t)
	assert.Equal(t, CloseForbidden, code)
	assert.Equal(t, ReasonInsufficientPermission, reason)
	assert.Equal(t, 0, h.hub.Connections())
}

func TestHubShutdownClosesSessions(t *testing.T) {
	h := newHubHarness(t)
	alice, _ := h.join(t, "alice", access.LevelView)

	h.cancel()
	code, reason := alice.transport.waitClosed(t)
	assert.Equal(t, CloseGoingAway, code)
	assert.Equal(t, ReasonServerShutdown, reason)
	assert.NoError(t, alice.waitServe(t))
	assert.Equal(t, 0, h.hub.Connections())
	_, live := h.hub.Snapshot(testDocumentID)
	assert.False(t, live)
}
