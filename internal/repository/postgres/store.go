package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"mcp-chat/internal/logger"
	"mcp-chat/internal/repository/db"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/sirupsen/logrus"
)

const notifyChannel = "document_changes"

// Ensure Store implements db.DocumentStore interface
var _ db.DocumentStore = (*Store)(nil)

// Store is a DocumentStore backed by a JSONB table. Changes made by any
// writer reach subscribers through LISTEN/NOTIFY.
type Store struct {
	conn     *sql.DB
	listener *pq.Listener

	version atomic.Int64

	clockMu   sync.Mutex
	lastStamp time.Time

	mu        sync.Mutex
	subs      map[string]map[int]*subscription
	nextSubID int

	done chan struct{}
	wg   sync.WaitGroup
}

type subscription struct {
	mu          sync.Mutex
	query       db.Query
	onSnapshot  func(db.Snapshot)
	onError     func(error)
	lastVersion int64
	closed      bool
}

// Open connects to dsn, applies migrations and starts listening for changes
func Open(dsn string) (*Store, error) {
	conn, err := Connect(dsn)
	if err != nil {
		return nil, err
	}

	if err := RunMigrations(conn); err != nil {
		conn.Close()
		return nil, err
	}

	listener := pq.NewListener(dsn, 10*time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			logger.Log.WithError(err).WithField("event", ev).Warn("Document listener event")
		}
	})
	if err := listener.Listen(notifyChannel); err != nil {
		listener.Close()
		conn.Close()
		return nil, fmt.Errorf("error listening on %s: %w", notifyChannel, err)
	}

	s := &Store{
		conn:     conn,
		listener: listener,
		subs:     make(map[string]map[int]*subscription),
		done:     make(chan struct{}),
	}
	s.wg.Add(1)
	go s.listen()

	return s, nil
}

// Close stops the listener and closes the database connection
func (s *Store) Close() error {
	close(s.done)
	s.wg.Wait()
	if err := s.listener.Close(); err != nil {
		logger.Log.WithError(err).Warn("Error closing document listener")
	}
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

// GetDB returns the underlying database connection
func (s *Store) GetDB() *sql.DB {
	return s.conn
}

func (s *Store) Create(ctx context.Context, collection string, fields map[string]any) (string, error) {
	data, err := s.encode(fields)
	if err != nil {
		return "", err
	}

	id := uuid.New().String()
	_, err = s.conn.ExecContext(ctx,
		`INSERT INTO documents (collection, id, data) VALUES ($1, $2, $3)`,
		collection, id, data)
	if err != nil {
		logger.Log.WithError(err).WithField("collection", collection).Error("Failed to create document")
		return "", fmt.Errorf("error creating document: %w", err)
	}

	logger.Log.WithFields(logrus.Fields{
		"collection": collection,
		"id":         id,
	}).Debug("Document created")
	return id, nil
}

func (s *Store) Get(ctx context.Context, collection, id string) (*db.Document, error) {
	var raw []byte
	err := s.conn.QueryRowContext(ctx,
		`SELECT data FROM documents WHERE collection = $1 AND id = $2`,
		collection, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, db.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("error getting document: %w", err)
	}

	fields, err := decodeFields(raw)
	if err != nil {
		return nil, err
	}
	return &db.Document{ID: id, Fields: fields}, nil
}

func (s *Store) Merge(ctx context.Context, collection, id string, patch map[string]any) error {
	normalized, err := db.Normalize(db.ResolveServerTimestamps(patch, s.now()))
	if err != nil {
		return err
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("error starting transaction: %w", err)
	}
	defer tx.Rollback()

	merged := normalized
	var raw []byte
	err = tx.QueryRowContext(ctx,
		`SELECT data FROM documents WHERE collection = $1 AND id = $2 FOR UPDATE`,
		collection, id).Scan(&raw)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return fmt.Errorf("error reading document: %w", err)
	default:
		existing, err := decodeFields(raw)
		if err != nil {
			return err
		}
		merged = db.MergeFields(existing, normalized)
	}

	data, err := json.Marshal(merged)
	if err != nil {
		return fmt.Errorf("error encoding document: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO documents (collection, id, data) VALUES ($1, $2, $3)
		ON CONFLICT (collection, id) DO UPDATE SET data = EXCLUDED.data, updated_at = NOW()`,
		collection, id, data)
	if err != nil {
		logger.Log.WithError(err).WithFields(logrus.Fields{
			"collection": collection,
			"id":         id,
		}).Error("Failed to merge document")
		return fmt.Errorf("error merging document: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("error committing merge: %w", err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, collection, id string) error {
	_, err := s.conn.ExecContext(ctx,
		`DELETE FROM documents WHERE collection = $1 AND id = $2`,
		collection, id)
	if err != nil {
		return fmt.Errorf("error deleting document: %w", err)
	}
	return nil
}

func (s *Store) List(ctx context.Context, collection string, q db.Query) ([]db.Document, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT id, data FROM documents WHERE collection = $1`, collection)
	if err != nil {
		return nil, fmt.Errorf("error listing documents: %w", err)
	}
	defer rows.Close()

	docs := []db.Document{}
	for rows.Next() {
		var id string
		var raw []byte
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, fmt.Errorf("error scanning document: %w", err)
		}
		fields, err := decodeFields(raw)
		if err != nil {
			return nil, err
		}
		docs = append(docs, db.Document{ID: id, Fields: fields})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating documents: %w", err)
	}

	db.SortDocuments(docs, q)
	return docs, nil
}

func (s *Store) Subscribe(ctx context.Context, collection string, q db.Query, onSnapshot func(db.Snapshot), onError func(error)) (db.Unsubscribe, error) {
	if onSnapshot == nil {
		return nil, fmt.Errorf("subscribe to %s: snapshot handler is required", collection)
	}

	sub := &subscription{query: q, onSnapshot: onSnapshot, onError: onError}

	version := s.version.Add(1)
	docs, err := s.List(ctx, collection, q)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.subs[collection] == nil {
		s.subs[collection] = make(map[int]*subscription)
	}
	subID := s.nextSubID
	s.nextSubID++
	s.subs[collection][subID] = sub
	s.mu.Unlock()

	sub.deliver(db.Snapshot{Version: version, Documents: docs})

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

func (s *Store) listen() {
	defer s.wg.Done()

	for {
		select {
		case <-s.done:
			return
		case n := <-s.listener.Notify:
			if n == nil {
				// connection was re-established, notifications may have been lost
				s.refreshAll()
				continue
			}
			s.refresh(n.Extra)
		case <-time.After(90 * time.Second):
			go func() {
				if err := s.listener.Ping(); err != nil {
					logger.Log.WithError(err).Warn("Document listener ping failed")
				}
			}()
		}
	}
}

func (s *Store) refreshAll() {
	s.mu.Lock()
	collections := make([]string, 0, len(s.subs))
	for collection := range s.subs {
		collections = append(collections, collection)
	}
	s.mu.Unlock()

	for _, collection := range collections {
		s.refresh(collection)
	}
}

func (s *Store) refresh(collection string) {
	s.mu.Lock()
	subs := make([]*subscription, 0, len(s.subs[collection]))
	for _, sub := range s.subs[collection] {
		subs = append(subs, sub)
	}
	s.mu.Unlock()

	if len(subs) == 0 {
		return
	}

	version := s.version.Add(1)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for _, sub := range subs {
		docs, err := s.List(ctx, collection, sub.query)
		if err != nil {
			logger.Log.WithError(err).WithField("collection", collection).Error("Failed to refresh subscription")
			if sub.onError != nil {
				sub.onError(err)
			}
			continue
		}
		sub.deliver(db.Snapshot{Version: version, Documents: docs})
	}
}

func (s *Store) encode(fields map[string]any) ([]byte, error) {
	normalized, err := db.Normalize(db.ResolveServerTimestamps(fields, s.now()))
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(normalized)
	if err != nil {
		return nil, fmt.Errorf("error encoding document: %w", err)
	}
	return data, nil
}

func (s *Store) now() time.Time {
	s.clockMu.Lock()
	defer s.clockMu.Unlock()

	now := time.Now().UTC()
	if !now.After(s.lastStamp) {
		now = s.lastStamp.Add(time.Microsecond)
	}
	s.lastStamp = now
	return now
}

func decodeFields(raw []byte) (map[string]any, error) {
	fields := map[string]any{}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("error decoding document: %w", err)
	}
	return fields, nil
}

func (sub *subscription) deliver(snap db.Snapshot) {
	sub.mu.Lock()
	if sub.closed || snap.Version <= sub.lastVersion {
		sub.mu.Unlock()
		return
	}
	sub.lastVersion = snap.Version
	sub.mu.Unlock()

	sub.onSnapshot(snap)
}
