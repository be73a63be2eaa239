package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"mcp-chat/internal/logger"
	"mcp-chat/internal/repository/db"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Store is an in-process DocumentStore. Subscribers are notified
// synchronously after the write lock is released, so a handler may call
// back into the store.
type Store struct {
	mu          sync.Mutex
	collections map[string]map[string]map[string]any
	subs        map[string]map[int]*subscription
	nextSubID   int
	version     int64
	clock       func() time.Time
	lastStamp   time.Time
}

type subscription struct {
	mu          sync.Mutex
	query       db.Query
	onSnapshot  func(db.Snapshot)
	lastVersion int64
	closed      bool
}

// Option configures a Store
type Option func(*Store)

// WithClock replaces the clock used to resolve server timestamps
func WithClock(clock func() time.Time) Option {
	return func(s *Store) {
		s.clock = clock
	}
}

// NewStore creates an empty in-memory store
func NewStore(opts ...Option) *Store {
	s := &Store{
		collections: make(map[string]map[string]map[string]any),
		subs:        make(map[string]map[int]*subscription),
		clock:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Create(ctx context.Context, collection string, fields map[string]any) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	id := uuid.New().String()
	if err := s.write(collection, id, func(existing map[string]any, now time.Time) (map[string]any, error) {
		return db.Normalize(db.ResolveServerTimestamps(fields, now))
	}); err != nil {
		return "", err
	}

	logger.Log.WithFields(logrus.Fields{
		"collection": collection,
		"id":         id,
	}).Debug("Document created")
	return id, nil
}

func (s *Store) Get(ctx context.Context, collection, id string) (*db.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	fields, ok := s.collections[collection][id]
	if !ok {
		return nil, db.ErrNotFound
	}
	return &db.Document{ID: id, Fields: db.CloneFields(fields)}, nil
}

func (s *Store) Merge(ctx context.Context, collection, id string, patch map[string]any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return s.write(collection, id, func(existing map[string]any, now time.Time) (map[string]any, error) {
		normalized, err := db.Normalize(db.ResolveServerTimestamps(patch, now))
		if err != nil {
			return nil, err
		}
		if existing == nil {
			return normalized, nil
		}
		return db.MergeFields(existing, normalized), nil
	})
}

func (s *Store) Delete(ctx context.Context, collection, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	docs := s.collections[collection]
	if _, ok := docs[id]; !ok {
		s.mu.Unlock()
		return nil
	}
	delete(docs, id)
	s.version++
	deliveries := s.snapshotsLocked(collection)
	s.mu.Unlock()

	deliver(deliveries)
	return nil
}

func (s *Store) List(ctx context.Context, collection string, q db.Query) ([]db.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.documentsLocked(collection, q), nil
}

func (s *Store) Subscribe(ctx context.Context, collection string, q db.Query, onSnapshot func(db.Snapshot), onError func(error)) (db.Unsubscribe, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if onSnapshot == nil {
		return nil, fmt.Errorf("subscribe to %s: snapshot handler is required", collection)
	}

	sub := &subscription{query: q, onSnapshot: onSnapshot}

	s.mu.Lock()
	if s.subs[collection] == nil {
		s.subs[collection] = make(map[int]*subscription)
	}
	subID := s.nextSubID
	s.nextSubID++
	s.subs[collection][subID] = sub
	initial := db.Snapshot{Version: s.version, Documents: s.documentsLocked(collection, q)}
	s.mu.Unlock()

	sub.deliver(initial)

	var once sync.Once
	return func() {
		once.Do(func() {
			sub.mu.Lock()
			sub.closed = true
			sub.mu.Unlock()

			s.mu.Lock()
			delete(s.subs[collection], subID)
			s.mu.Unlock()
		})
	}, nil
}

// write applies fn to the document under the store lock and notifies subscribers
func (s *Store) write(collection, id string, fn func(existing map[string]any, now time.Time) (map[string]any, error)) error {
	s.mu.Lock()
	if s.collections[collection] == nil {
		s.collections[collection] = make(map[string]map[string]any)
	}
	existing := s.collections[collection][id]
	updated, err := fn(existing, s.nowLocked())
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("error writing %s/%s: %w", collection, id, err)
	}
	s.collections[collection][id] = updated
	s.version++
	deliveries := s.snapshotsLocked(collection)
	s.mu.Unlock()

	deliver(deliveries)
	return nil
}

// nowLocked returns a strictly increasing timestamp so ordering by
// lastUpdated is stable even when writes land within the clock's resolution
func (s *Store) nowLocked() time.Time {
	now := s.clock().UTC()
	if !now.After(s.lastStamp) {
		now = s.lastStamp.Add(time.Microsecond)
	}
	s.lastStamp = now
	return now
}

func (s *Store) documentsLocked(collection string, q db.Query) []db.Document {
	docs := make([]db.Document, 0, len(s.collections[collection]))
	for id, fields := range s.collections[collection] {
		docs = append(docs, db.Document{ID: id, Fields: db.CloneFields(fields)})
	}
	db.SortDocuments(docs, q)
	return docs
}

type delivery struct {
	sub      *subscription
	snapshot db.Snapshot
}

func (s *Store) snapshotsLocked(collection string) []delivery {
	out := make([]delivery, 0, len(s.subs[collection]))
	for _, sub := range s.subs[collection] {
		out = append(out, delivery{
			sub:      sub,
			snapshot: db.Snapshot{Version: s.version, Documents: s.documentsLocked(collection, sub.query)},
		})
	}
	return out
}

func deliver(deliveries []delivery) {
	for _, d := range deliveries {
		d.sub.deliver(d.snapshot)
	}
}

// deliver drops snapshots that are not newer than the last one handed out
func (sub *subscription) deliver(snap db.Snapshot) {
	sub.mu.Lock()
	if sub.closed || (sub.lastVersion > 0 && snap.Version <= sub.lastVersion) {
		sub.mu.Unlock()
		return
	}
	sub.lastVersion = snap.Version
	sub.mu.Unlock()

	sub.onSnapshot(snap)
}
