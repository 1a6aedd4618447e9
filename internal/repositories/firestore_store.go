package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/anonto42/nano-midea/engagement/internal/models"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type firestorePost struct {
	UserID       string    `firestore:"user_id"`
	Content      string    `firestore:"content"`
	ImageURLs    []string  `firestore:"image_urls,omitempty"`
	LikesCount   int       `firestore:"likes_count"`
	RepostsCount int       `firestore:"reposts_count"`
	CreatedAt    time.Time `firestore:"created_at"`
	UpdatedAt    time.Time `firestore:"updated_at"`
}

// FirestoreStore implements Store on Cloud Firestore.
// The client's own transaction retry is disabled; callers decide whether to retry.
type FirestoreStore struct {
	client *firestore.Client
}

// NewFirestoreStore creates a new FirestoreStore
func NewFirestoreStore(client *firestore.Client) *FirestoreStore {
	return &FirestoreStore{client: client}
}

// Name identifies the driver
func (s *FirestoreStore) Name() string { return "firestore" }

// Close closes the Firestore client
func (s *FirestoreStore) Close(context.Context) error {
	return s.client.Close()
}

func (s *FirestoreStore) postRef(id string) *firestore.DocumentRef {
	return s.client.Collection("posts").Doc(id)
}

func (s *FirestoreStore) relationRef(actorID, targetID string, kind models.RelationKind) *firestore.DocumentRef {
	return s.client.Collection("relations").Doc(models.RelationKey(actorID, targetID, kind))
}

// RunInTx runs fn in a single-attempt Firestore transaction
func (s *FirestoreStore) RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	err := s.client.RunTransaction(ctx, func(ctx context.Context, t *firestore.Transaction) error {
		return fn(ctx, &firestoreTx{store: s, tx: t, relations: make(map[string]*models.Relation)})
	}, firestore.MaxAttempts(1))
	return classifyFirestoreError(err)
}

// GetRelation reads a relation outside of a transaction
func (s *FirestoreStore) GetRelation(ctx context.Context, actorID, targetID string, kind models.RelationKind) (*models.Relation, error) {
	ref := s.relationRef(actorID, targetID, kind)
	snap, err := ref.Get(ctx)
	r, err := decodeRelation(ref, snap, err)
	return r, classifyFirestoreError(err)
}

// CreatePost creates a post document with an auto-generated id
func (s *FirestoreStore) CreatePost(ctx context.Context, post *models.Post) error {
	ref := s.client.Collection("posts").NewDoc()
	now := time.Now()
	doc := firestorePost{
		UserID:    post.UserID,
		Content:   post.Content,
		ImageURLs: post.ImageURLs,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if _, err := ref.Create(ctx, doc); err != nil {
		return classifyFirestoreError(err)
	}
	post.ID = ref.ID
	post.LikesCount = 0
	post.RepostsCount = 0
	post.CreatedAt = now
	post.UpdatedAt = now
	return nil
}

// GetPostByID retrieves a post document
func (s *FirestoreStore) GetPostByID(ctx context.Context, id string) (*models.Post, error) {
	snap, err := s.postRef(id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, ErrTargetNotFound
		}
		return nil, classifyFirestoreError(err)
	}
	var doc firestorePost
	if err := snap.DataTo(&doc); err != nil {
		return nil, err
	}
	return &models.Post{
		ID:           id,
		UserID:       doc.UserID,
		Content:      doc.Content,
		ImageURLs:    doc.ImageURLs,
		LikesCount:   doc.LikesCount,
		RepostsCount: doc.RepostsCount,
		CreatedAt:    doc.CreatedAt,
		UpdatedAt:    doc.UpdatedAt,
	}, nil
}

// DeletePost deletes a post document that must exist
func (s *FirestoreStore) DeletePost(ctx context.Context, id string) error {
	if _, err := s.postRef(id).Delete(ctx, firestore.Exists); err != nil {
		if status.Code(err) == codes.NotFound {
			return ErrTargetNotFound
		}
		return classifyFirestoreError(err)
	}
	return nil
}

// firestoreTx keeps relation reads so that UpsertActive does not read after a write
type firestoreTx struct {
	store     *FirestoreStore
	tx        *firestore.Transaction
	relations map[string]*models.Relation
}

func (t *firestoreTx) GetCounters(ctx context.Context, targetID string) (*models.PostCounters, error) {
	snap, err := t.tx.Get(t.store.postRef(targetID))
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, ErrTargetNotFound
		}
		return nil, err
	}
	var doc firestorePost
	if err := snap.DataTo(&doc); err != nil {
		return nil, err
	}
	return &models.PostCounters{PostID: targetID, LikesCount: doc.LikesCount, RepostsCount: doc.RepostsCount}, nil
}

func (t *firestoreTx) GetRelation(ctx context.Context, actorID, targetID string, kind models.RelationKind) (*models.Relation, error) {
	key := models.RelationKey(actorID, targetID, kind)
	if r, ok := t.relations[key]; ok {
		return r, nil
	}
	ref := t.store.relationRef(actorID, targetID, kind)
	snap, err := t.tx.Get(ref)
	r, err := decodeRelation(ref, snap, err)
	if err != nil {
		return nil, err
	}
	t.relations[key] = r
	return r, nil
}

func (t *firestoreTx) UpsertActive(ctx context.Context, actorID, targetID string, kind models.RelationKind, active bool) (*models.Relation, error) {
	existing, err := t.GetRelation(ctx, actorID, targetID, kind)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	ref := t.store.relationRef(actorID, targetID, kind)
	if existing == nil {
		r := &models.Relation{
			ID:        ref.ID,
			ActorID:   actorID,
			TargetID:  targetID,
			Kind:      kind,
			Active:    active,
			Version:   1,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := t.tx.Create(ref, r); err != nil {
			return nil, err
		}
		t.relations[ref.ID] = r
		return r, nil
	}
	err = t.tx.Update(ref, []firestore.Update{
		{Path: "active", Value: active},
		{Path: "version", Value: existing.Version + 1},
		{Path: "updated_at", Value: now},
	})
	if err != nil {
		return nil, err
	}
	r := *existing
	r.Active = active
	r.Version++
	r.UpdatedAt = now
	t.relations[ref.ID] = &r
	return &r, nil
}

func (t *firestoreTx) SetCounter(ctx context.Context, targetID string, field models.CounterField, value int) error {
	return t.tx.Update(t.store.postRef(targetID), []firestore.Update{
		{Path: string(field), Value: value},
		{Path: "updated_at", Value: time.Now()},
	})
}

func decodeRelation(ref *firestore.DocumentRef, snap *firestore.DocumentSnapshot, err error) (*models.Relation, error) {
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, nil
		}
		return nil, err
	}
	var r models.Relation
	if err := snap.DataTo(&r); err != nil {
		return nil, err
	}
	r.ID = ref.ID
	return &r, nil
}

// classifyFirestoreError maps gRPC status codes onto the store error set
func classifyFirestoreError(err error) error {
	if err == nil || errors.Is(err, ErrTargetNotFound) || errors.Is(err, ErrTxConflict) || errors.Is(err, ErrUnavailable) {
		return err
	}
	switch status.Code(err) {
	case codes.Aborted, codes.AlreadyExists:
		return fmt.Errorf("%w: %w", ErrTxConflict, err)
	}
	return fmt.Errorf("%w: %w", ErrUnavailable, err)
}
