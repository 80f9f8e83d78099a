package realtime

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Podnation93/Zenith-PDF-sub001/internal/document"
	"github.com/Podnation93/Zenith-PDF-sub001/internal/merge"
	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

const (
	defaultPersistQueue           = 1024
	defaultPersistMaxElapsed      = 30 * time.Second
	defaultPersistInitialInterval = 200 * time.Millisecond
)

// DurableStore is the system of record for merged room state.
type DurableStore interface {
	UpsertAnnotation(ctx context.Context, annotation document.Annotation) error
	UpsertComment(ctx context.Context, comment document.Comment) error
	LoadDocumentState(ctx context.Context, documentID document.DocumentID) (document.Snapshot, error)
}

// SnapshotLoader seeds a room when it is created.
type SnapshotLoader interface {
	Load(ctx context.Context, documentID document.DocumentID) (document.Snapshot, error)
}

// RecordSink accepts merged records for asynchronous write-through.
type RecordSink interface {
	Enqueue(record Record) bool
}

// Record is one merged entity awaiting a durable write. Exactly one of
// Annotation or Comment is set.
type Record struct {
	Annotation *document.Annotation
	Comment    *document.Comment
}

func (r Record) key() recordKey {
	if r.Annotation != nil {
		return recordKey{documentID: r.Annotation.DocumentID, entity: merge.EntityAnnotation, entityID: r.Annotation.ID}
	}
	return recordKey{documentID: r.Comment.DocumentID, entity: merge.EntityComment, entityID: r.Comment.ID}
}

func (r Record) revision() int64 {
	if r.Annotation != nil {
		return r.Annotation.Revision
	}
	return r.Comment.Revision
}

type recordKey struct {
	documentID document.DocumentID
	entity     merge.EntityKind
	entityID   document.EntityID
}

// PersisterConfig describes the dependencies for a Persister.
type PersisterConfig struct {
	Store           DurableStore
	QueueSize       int
	MaxElapsed      time.Duration
	InitialInterval time.Duration
	Logger          *zap.Logger
}

// Persister writes merged records to the durable store in the background.
// Pending writes for the same entity coalesce to the newest revision, and
// records stay visible to Load until their write completes, so a room that
// is recreated right after being discarded never seeds from stale rows.
type Persister struct {
	store           DurableStore
	limit           int
	maxElapsed      time.Duration
	initialInterval time.Duration
	logger          *zap.Logger

	mu      sync.Mutex
	pending map[recordKey]Record
	queued  map[recordKey]struct{}
	order   []recordKey
	signal  chan struct{}
}

// NewPersister constructs a Persister.
func NewPersister(cfg PersisterConfig) (*Persister, error) {
	if cfg.Store == nil {
		return nil, errMissingStore
	}
	limit := cfg.QueueSize
	if limit <= 0 {
		limit = defaultPersistQueue
	}
	maxElapsed := cfg.MaxElapsed
	if maxElapsed <= 0 {
		maxElapsed = defaultPersistMaxElapsed
	}
	initialInterval := cfg.InitialInterval
	if initialInterval <= 0 {
		initialInterval = defaultPersistInitialInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Persister{
		store:           cfg.Store,
		limit:           limit,
		maxElapsed:      maxElapsed,
		initialInterval: initialInterval,
		logger:          logger,
		pending:         make(map[recordKey]Record),
		queued:          make(map[recordKey]struct{}),
		signal:          make(chan struct{}, 1),
	}, nil
}

// Enqueue schedules a write without blocking. It reports false when the
// record was dropped because too many distinct entities are pending.
func (p *Persister) Enqueue(record Record) bool {
	if record.Annotation == nil && record.Comment == nil {
		return false
	}
	key := record.key()

	p.mu.Lock()
	existing, found := p.pending[key]
	switch {
	case found && existing.revision() >= record.revision():
		p.mu.Unlock()
		return true
	case !found && len(p.pending) >= p.limit:
		p.mu.Unlock()
		persistFailures.WithLabelValues(persistFailureQueueFull).Inc()
		p.logger.Error("persistence queue full, record dropped",
			zap.String("document_id", key.documentID.String()),
			zap.String("entity_id", key.entityID.String()))
		return false
	}
	p.pending[key] = record
	if _, ok := p.queued[key]; !ok {
		p.queued[key] = struct{}{}
		p.order = append(p.order, key)
	}
	persistPending.Set(float64(len(p.pending)))
	p.mu.Unlock()

	select {
	case p.signal <- struct{}{}:
	default:
	}
	return true
}

// Pending returns the number of records not yet written.
func (p *Persister) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}

// Load reads the document from the durable store and overlays any records
// that are still waiting to be written. The overlay is captured before the
// store read so a write that settles in between is seen by one of the two.
func (p *Persister) Load(ctx context.Context, documentID document.DocumentID) (document.Snapshot, error) {
	p.mu.Lock()
	overlay := make([]Record, 0)
	for key, record := range p.pending {
		if key.documentID == documentID {
			overlay = append(overlay, record)
		}
	}
	p.mu.Unlock()

	snapshot, err := p.store.LoadDocumentState(ctx, documentID)
	if err != nil {
		return document.Snapshot{}, err
	}
	snapshot.DocumentID = documentID
	if len(overlay) == 0 {
		return snapshot, nil
	}

	annotations := make(map[document.EntityID]document.Annotation, len(snapshot.Annotations))
	for _, annotation := range snapshot.Annotations {
		annotations[annotation.ID] = annotation
	}
	comments := make(map[document.EntityID]document.Comment, len(snapshot.Comments))
	for _, comment := range snapshot.Comments {
		comments[comment.ID] = comment
	}
	for _, record := range overlay {
		if record.Annotation != nil {
			if stored, ok := annotations[record.Annotation.ID]; !ok || stored.Revision < record.Annotation.Revision {
				annotations[record.Annotation.ID] = *record.Annotation
			}
			continue
		}
		if stored, ok := comments[record.Comment.ID]; !ok || stored.Revision < record.Comment.Revision {
			comments[record.Comment.ID] = *record.Comment
		}
	}

	snapshot.Annotations = snapshot.Annotations[:0]
	for _, annotation := range annotations {
		snapshot.Annotations = append(snapshot.Annotations, annotation)
		snapshot.Revision = max(snapshot.Revision, annotation.Revision)
		snapshot.Clock = max(snapshot.Clock, annotation.Clocks.Max().Timestamp)
	}
	snapshot.Comments = snapshot.Comments[:0]
	for _, comment := range comments {
		snapshot.Comments = append(snapshot.Comments, comment)
		snapshot.Revision = max(snapshot.Revision, comment.Revision)
		snapshot.Clock = max(snapshot.Clock, comment.Clocks.Max().Timestamp)
	}
	sort.Slice(snapshot.Annotations, func(i, j int) bool { return snapshot.Annotations[i].ID < snapshot.Annotations[j].ID })
	sort.Slice(snapshot.Comments, func(i, j int) bool { return snapshot.Comments[i].ID < snapshot.Comments[j].ID })
	return snapshot, nil
}

// Run drains the queue until ctx is done, then makes one final pass bounded
// by the retry budget.
func (p *Persister) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.maxElapsed)
			p.drain(flushCtx)
			cancel()
			if remaining := p.Pending(); remaining > 0 {
				p.logger.Error("persistence stopped with unwritten records", zap.Int("pending", remaining))
			}
			return nil
		case <-p.signal:
			p.drain(ctx)
		}
	}
}

// Flush writes everything pending and returns once the queue is empty or
// ctx is done.
func (p *Persister) Flush(ctx context.Context) {
	p.drain(ctx)
}

func (p *Persister) drain(ctx context.Context) {
	for {
		key, record, ok := p.next()
		if !ok {
			return
		}
		if !p.write(ctx, record) && ctx.Err() != nil {
			p.requeue(key)
			return
		}
		p.settle(key, record)
	}
}

// requeue puts an interrupted write back at the front of the queue.
func (p *Persister) requeue(key recordKey) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.queued[key]; ok {
		return
	}
	p.queued[key] = struct{}{}
	p.order = append([]recordKey{key}, p.order...)
}

func (p *Persister) next() (recordKey, Record, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for len(p.order) > 0 {
		key := p.order[0]
		p.order = p.order[1:]
		delete(p.queued, key)
		if record, ok := p.pending[key]; ok {
			return key, record, true
		}
	}
	return recordKey{}, Record{}, false
}

// settle removes the record unless a newer revision arrived while it was in
// flight; that one is already queued again.
func (p *Persister) settle(key recordKey, written Record) {
	p.mu.Lock()
	if current, ok := p.pending[key]; ok && current.revision() == written.revision() {
		delete(p.pending, key)
	}
	persistPending.Set(float64(len(p.pending)))
	p.mu.Unlock()
}

// write reports whether the record reached the store.
func (p *Persister) write(ctx context.Context, record Record) bool {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = p.initialInterval
	policy.MaxElapsedTime = p.maxElapsed

	operation := func() error {
		if record.Annotation != nil {
			return p.store.UpsertAnnotation(ctx, *record.Annotation)
		}
		return p.store.UpsertComment(ctx, *record.Comment)
	}
	key := record.key()
	notify := func(err error, wait time.Duration) {
		p.logger.Warn("persistence write retrying",
			zap.String("document_id", key.documentID.String()),
			zap.String("entity_id", key.entityID.String()),
			zap.Duration("wait", wait),
			zap.Error(err))
	}
	err := backoff.RetryNotify(operation, backoff.WithContext(policy, ctx), notify)
	if err == nil {
		return true
	}
	if ctx.Err() == nil {
		persistFailures.WithLabelValues(persistFailureExhausted).Inc()
		p.logger.Error("persistence write abandoned",
			zap.String("document_id", key.documentID.String()),
			zap.String("entity", string(key.entity)),
			zap.String("entity_id", key.entityID.String()),
			zap.Int64("revision", record.revision()),
			zap.Error(err))
	}
	return false
}
