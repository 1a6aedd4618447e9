package repositories

import (
	"context"
	"errors"

	"github.com/anonto42/nano-midea/engagement/internal/models"
)

var (
	// ErrTargetNotFound is returned when the post a relation points at does not exist
	ErrTargetNotFound = errors.New("target not found")
	// ErrTxConflict is returned when a transaction lost a race with a concurrent writer
	ErrTxConflict = errors.New("transaction conflict")
	// ErrUnavailable wraps transport and infrastructure failures of the backing store
	ErrUnavailable = errors.New("store unavailable")
)

// Tx is the view of a store inside one atomic unit.
// Implementations must make every write visible only if the surrounding RunInTx commits.
type Tx interface {
	// GetCounters reads (and where supported locks) the counters of a post
	GetCounters(ctx context.Context, targetID string) (*models.PostCounters, error)
	// GetRelation returns nil, nil when no relation row exists
	GetRelation(ctx context.Context, actorID, targetID string, kind models.RelationKind) (*models.Relation, error)
	// UpsertActive creates the relation row with the given active flag or updates it in place
	UpsertActive(ctx context.Context, actorID, targetID string, kind models.RelationKind, active bool) (*models.Relation, error)
	// SetCounter overwrites a counter field on a post
	SetCounter(ctx context.Context, targetID string, field models.CounterField, value int) error
}

// RelationStore holds relations and the counters they drive
type RelationStore interface {
	// RunInTx runs fn as a single atomic unit. It does not retry; a lost race surfaces as ErrTxConflict.
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	GetRelation(ctx context.Context, actorID, targetID string, kind models.RelationKind) (*models.Relation, error)
}

// PostRepository defines the interface for post (target) data operations
type PostRepository interface {
	CreatePost(ctx context.Context, post *models.Post) error
	GetPostByID(ctx context.Context, id string) (*models.Post, error)
	DeletePost(ctx context.Context, id string) error
}

// Store is a backend that serves both relations and their target posts
type Store interface {
	RelationStore
	PostRepository
	Name() string
	Close(ctx context.Context) error
}
