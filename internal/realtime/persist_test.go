package realtime

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Podnation93/Zenith-PDF-sub001/internal/document"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

var errStoreUnavailable = errors.New("store unavailable")

type fakeStore struct {
	mu          sync.Mutex
	annotations map[document.EntityID]document.Annotation
	comments    map[document.EntityID]document.Comment
	failures    int
	attempts    int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		annotations: make(map[document.EntityID]document.Annotation),
		comments:    make(map[document.EntityID]document.Comment),
	}
}

func (s *fakeStore) fail() error {
	s.attempts++
	if s.failures != 0 {
		if s.failures > 0 {
			s.failures--
		}
		return errStoreUnavailable
	}
	return nil
}

func (s *fakeStore) UpsertAnnotation(_ context.Context, annotation document.Annotation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail(); err != nil {
		return err
	}
	if stored, ok := s.annotations[annotation.ID]; !ok || stored.Revision < annotation.Revision {
		s.annotations[annotation.ID] = annotation
	}
	return nil
}

func (s *fakeStore) UpsertComment(_ context.Context, comment document.Comment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail(); err != nil {
		return err
	}
	if stored, ok := s.comments[comment.ID]; !ok || stored.Revision < comment.Revision {
		s.comments[comment.ID] = comment
	}
	return nil
}

func (s *fakeStore) LoadDocumentState(_ context.Context, documentID document.DocumentID) (document.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot := document.Snapshot{DocumentID: documentID}
	for _, annotation := range s.annotations {
		if annotation.DocumentID == documentID {
			snapshot.Annotations = append(snapshot.Annotations, annotation)
			snapshot.Revision = max(snapshot.Revision, annotation.Revision)
		}
	}
	for _, comment := range s.comments {
		if comment.DocumentID == documentID {
			snapshot.Comments = append(snapshot.Comments, comment)
			snapshot.Revision = max(snapshot.Revision, comment.Revision)
		}
	}
	return snapshot, nil
}

func (s *fakeStore) Attempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts
}

func (s *fakeStore) Annotation(id document.EntityID) (document.Annotation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	annotation, ok := s.annotations[id]
	return annotation, ok
}

func annotationRecord(id document.EntityID, color string, revision int64) Record {
	return Record{Annotation: &document.Annotation{
		ID:         id,
		DocumentID: testDocumentID,
		Author:     "alice",
		Kind:       document.AnnotationKindHighlight,
		Color:      color,
		Clocks:     document.AnnotationClocks{Color: document.Stamp{Timestamp: revision, Origin: "conn-a"}},
		Revision:   revision,
	}}
}

func newTestPersister(t *testing.T, store DurableStore, queueSize int, logger *zap.Logger) *Persister {
	t.Helper()
	persister, err := NewPersister(PersisterConfig{
		Store:           store,
		QueueSize:       queueSize,
		MaxElapsed:      50 * time.Millisecond,
		InitialInterval: time.Millisecond,
		Logger:          logger,
	})
	require.NoError(t, err)
	return persister
}

func TestPersisterCoalescesPendingWrites(t *testing.T) {
	store := newFakeStore()
	persister := newTestPersister(t, store, 8, nil)

	require.True(t, persister.Enqueue(annotationRecord("a-1", "#111111", 1)))
	require.True(t, persister.Enqueue(annotationRecord("a-1", "#222222", 2)))
	require.True(t, persister.Enqueue(annotationRecord("a-1", "#000000", 1)))
	require.True(t, persister.Enqueue(annotationRecord("a-1", "#333333", 3)))
	assert.Equal(t, 1, persister.Pending())

	persister.Flush(context.Background())
	assert.Equal(t, 0, persister.Pending())
	assert.Equal(t, 1, store.Attempts())
	stored, ok := store.Annotation("a-1")
	require.True(t, ok)
	assert.Equal(t, "#333333", stored.Color)
	assert.Equal(t, int64(3), stored.Revision)
}

func TestPersisterLoadOverlaysPendingRecords(t *testing.T) {
	store := newFakeStore()
	persister := newTestPersister(t, store, 8, nil)
	require.True(t, persister.Enqueue(annotationRecord("a-1", "#111111", 1)))
	persister.Flush(context.Background())

	require.True(t, persister.Enqueue(annotationRecord("a-1", "#222222", 4)))
	require.True(t, persister.Enqueue(Record{Comment: &document.Comment{
		ID:         "c-1",
		DocumentID: testDocumentID,
		Author:     "bob",
		Content:    "pending reply",
		Clocks:     document.CommentClocks{Content: document.Stamp{Timestamp: 7, Origin: "conn-b"}},
		Revision:   5,
	}}))

	snapshot, err := persister.Load(context.Background(), testDocumentID)
	require.NoError(t, err)
	require.Len(t, snapshot.Annotations, 1)
	assert.Equal(t, "#222222", snapshot.Annotations[0].Color)
	require.Len(t, snapshot.Comments, 1)
	assert.Equal(t, "pending reply", snapshot.Comments[0].Content)
	assert.Equal(t, int64(5), snapshot.Revision)
	assert.Equal(t, int64(7), snapshot.Clock)

	other, err := persister.Load(context.Background(), "doc-other")
	require.NoError(t, err)
	assert.True(t, other.Empty())
}

func TestPersisterRetriesTransientFailures(t *testing.T) {
	store := newFakeStore()
	store.failures = 2
	persister := newTestPersister(t, store, 8, nil)

	require.True(t, persister.Enqueue(annotationRecord("a-1", "#111111", 1)))
	persister.Flush(context.Background())

	assert.Equal(t, 3, store.Attempts())
	_, ok := store.Annotation("a-1")
	assert.True(t, ok)
	assert.Equal(t, 0, persister.Pending())
}

func TestPersisterAbandonsRecordAfterRetryBudget(t *testing.T) {
	store := newFakeStore()
	store.failures = -1
	core, logs := observer.New(zapcore.WarnLevel)
	persister := newTestPersister(t, store, 8, zap.New(core))

	require.True(t, persister.Enqueue(annotationRecord("a-1", "#111111", 1)))
	persister.Flush(context.Background())

	assert.Equal(t, 0, persister.Pending())
	assert.Greater(t, store.Attempts(), 1)
	abandoned := logs.FilterMessage("persistence write abandoned").All()
	require.Len(t, abandoned, 1)
	assert.Equal(t, "a-1", abandoned[0].ContextMap()["entity_id"])
}

func TestPersisterDropsNewEntitiesWhenFull(t *testing.T) {
	store := newFakeStore()
	core, logs := observer.New(zapcore.ErrorLevel)
	persister := newTestPersister(t, store, 1, zap.New(core))

	assert.True(t, persister.Enqueue(annotationRecord("a-1", "#111111", 1)))
	assert.False(t, persister.Enqueue(annotationRecord("a-2", "#111111", 2)))
	assert.True(t, persister.Enqueue(annotationRecord("a-1", "#222222", 3)))
	assert.False(t, persister.Enqueue(Record{}))
	assert.Equal(t, 1, persister.Pending())
	assert.Equal(t, 1, logs.FilterMessage("persistence queue full, record dropped").Len())
}

func TestPersisterRunFlushesOnShutdown(t *testing.T) {
	store := newFakeStore()
	persister := newTestPersister(t, store, 8, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- persister.Run(ctx) }()

	require.True(t, persister.Enqueue(annotationRecord("a-1", "#111111", 1)))
	require.Eventually(t, func() bool {
		_, ok := store.Annotation("a-1")
		return ok
	}, waitTimeout, 5*time.Millisecond)

	require.True(t, persister.Enqueue(annotationRecord("a-2", "#222222", 2)))
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(waitTimeout):
		t.Fatalf("persister did not stop")
	}
	_, ok := store.Annotation("a-2")
	assert.True(t, ok)
	assert.Equal(t, 0, persister.Pending())
}

func TestPersisterRequiresStore(t *testing.T) {
	_, err := NewPersister(PersisterConfig{})
	assert.ErrorIs(t, err, errMissingStore)
}
