package db

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when the document does not exist
var ErrNotFound = errors.New("document not found")

// Collection names under a user's namespace
const (
	CollectionConversations = "conversations"
	CollectionProfile       = "profile"
	CollectionTools         = "tools"
	CollectionAgents        = "agents"
	CollectionCustomModels  = "customModels"
	CollectionContextPills  = "contextPills"
	CollectionCustomPrompts = "customPrompts"
	CollectionMCPServers    = "mcpServers"
)

// ProfileDocumentID is the id of the singleton profile document
const ProfileDocumentID = "data"

// Document is a schemaless record in a collection.
// Fields only ever hold JSON-compatible values.
type Document struct {
	ID     string
	Fields map[string]any
}

// Query orders the documents of a subscription or listing
type Query struct {
	OrderBy    string
	Descending bool
}

// Snapshot is the full content of a collection at some point.
// Version grows with every change the store observes; a consumer should
// ignore a snapshot whose version is not newer than the last one it applied.
type Snapshot struct {
	Version   int64
	Documents []Document
}

// Unsubscribe stops a subscription. Calling it more than once is a no-op.
type Unsubscribe func()

// DocumentStore defines the realtime document backend the core talks to.
type DocumentStore interface {
	// Create adds a document with a store-assigned id
	Create(ctx context.Context, collection string, fields map[string]any) (string, error)

	// Get returns ErrNotFound when the document is missing
	Get(ctx context.Context, collection, id string) (*Document, error)

	// Merge deep-merges patch into the document, creating it if needed.
	// ServerTimestamp values are replaced by the store's clock.
	Merge(ctx context.Context, collection, id string, patch map[string]any) error

	// Delete removes the document; deleting a missing document is not an error
	Delete(ctx context.Context, collection, id string) error

	// List returns the documents of a collection in query order
	List(ctx context.Context, collection string, q Query) ([]Document, error)

	// Subscribe delivers the current snapshot and then one snapshot per change.
	// ctx only bounds the initial setup; the subscription lives until the
	// returned Unsubscribe is called.
	Subscribe(ctx context.Context, collection string, q Query, onSnapshot func(Snapshot), onError func(error)) (Unsubscribe, error)
}
