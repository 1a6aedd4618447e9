package repositories

import (
	"context"
	"sync"
	"time"

	"github.com/anonto42/nano-midea/engagement/internal/models"
	"github.com/google/uuid"
)

// MemoryStore implements Store in process memory.
// Transactions hold a store-wide lock, so they are serializable.
type MemoryStore struct {
	mu        sync.Mutex
	relations map[string]models.Relation
	posts     map[string]models.Post

	// commitFaults are returned, one per commit attempt, before any write is applied
	commitFaults []error
}

// NewMemoryStore creates an empty MemoryStore
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		relations: make(map[string]models.Relation),
		posts:     make(map[string]models.Post),
	}
}

// Name identifies the driver
func (s *MemoryStore) Name() string { return "memory" }

// Close is a no-op
func (s *MemoryStore) Close(context.Context) error { return nil }

// FailCommits makes the next len(errs) commits fail with the given errors, in order
func (s *MemoryStore) FailCommits(errs ...error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commitFaults = append(s.commitFaults, errs...)
}

// RunInTx stages writes and applies them only when fn succeeds and no fault is pending
func (s *MemoryStore) RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memoryTx{
		store:     s,
		relations: make(map[string]models.Relation),
		counters:  make(map[string]models.PostCounters),
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if len(s.commitFaults) > 0 {
		err := s.commitFaults[0]
		s.commitFaults = s.commitFaults[1:]
		return err
	}
	for k, r := range tx.relations {
		s.relations[k] = r
	}
	for id, c := range tx.counters {
		p := s.posts[id]
		p.LikesCount = c.LikesCount
		p.RepostsCount = c.RepostsCount
		s.posts[id] = p
	}
	return nil
}

// GetRelation reads a committed relation
func (s *MemoryStore) GetRelation(ctx context.Context, actorID, targetID string, kind models.RelationKind) (*models.Relation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.relations[models.RelationKey(actorID, targetID, kind)]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

// CountActive returns the number of active relations of a kind on a target
func (s *MemoryStore) CountActive(targetID string, kind models.RelationKind) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, r := range s.relations {
		if r.TargetID == targetID && r.Kind == kind && r.Active {
			n++
		}
	}
	return n
}

// CreatePost stores a new post with zeroed counters
func (s *MemoryStore) CreatePost(ctx context.Context, post *models.Post) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if post.ID == "" {
		post.ID = uuid.NewString()
	}
	now := time.Now()
	post.CreatedAt = now
	post.UpdatedAt = now
	post.LikesCount = 0
	post.RepostsCount = 0
	s.posts[post.ID] = *post
	return nil
}

// GetPostByID returns a copy of a stored post
func (s *MemoryStore) GetPostByID(ctx context.Context, id string) (*models.Post, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.posts[id]
	if !ok {
		return nil, ErrTargetNotFound
	}
	return &p, nil
}

// DeletePost removes a post; its relations are left in place
func (s *MemoryStore) DeletePost(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.posts[id]; !ok {
		return ErrTargetNotFound
	}
	delete(s.posts, id)
	return nil
}

type memoryTx struct {
	store     *MemoryStore
	relations map[string]models.Relation
	counters  map[string]models.PostCounters
}

func (tx *memoryTx) GetCounters(ctx context.Context, targetID string) (*models.PostCounters, error) {
	if c, ok := tx.counters[targetID]; ok {
		return &c, nil
	}
	p, ok := tx.store.posts[targetID]
	if !ok {
		return nil, ErrTargetNotFound
	}
	return &models.PostCounters{PostID: p.ID, LikesCount: p.LikesCount, RepostsCount: p.RepostsCount}, nil
}

func (tx *memoryTx) GetRelation(ctx context.Context, actorID, targetID string, kind models.RelationKind) (*models.Relation, error) {
	key := models.RelationKey(actorID, targetID, kind)
	if r, ok := tx.relations[key]; ok {
		return &r, nil
	}
	if r, ok := tx.store.relations[key]; ok {
		return &r, nil
	}
	return nil, nil
}

func (tx *memoryTx) UpsertActive(ctx context.Context, actorID, targetID string, kind models.RelationKind, active bool) (*models.Relation, error) {
	existing, _ := tx.GetRelation(ctx, actorID, targetID, kind)
	now := time.Now()
	r := models.Relation{
		ID:        models.RelationKey(actorID, targetID, kind),
		ActorID:   actorID,
		TargetID:  targetID,
		Kind:      kind,
		CreatedAt: now,
	}
	if existing != nil {
		r = *existing
	}
	r.Active = active
	r.Version++
	r.UpdatedAt = now
	tx.relations[r.ID] = r
	return &r, nil
}

func (tx *memoryTx) SetCounter(ctx context.Context, targetID string, field models.CounterField, value int) error {
	c, err := tx.GetCounters(ctx, targetID)
	if err != nil {
		return err
	}
	c.Set(field, value)
	tx.counters[targetID] = *c
	return nil
}
