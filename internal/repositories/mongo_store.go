package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/anonto42/nano-midea/engagement/internal/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readconcern"
	"go.mongodb.org/mongo-driver/mongo/writeconcern"
)

// postDocument is the MongoDB shape of a post
type postDocument struct {
	ID           primitive.ObjectID `bson:"_id,omitempty"`
	UserID       string             `bson:"user_id"`
	Content      string             `bson:"content"`
	ImageURLs    []string           `bson:"image_urls,omitempty"`
	LikesCount   int                `bson:"likes_count"`
	RepostsCount int                `bson:"reposts_count"`
	CreatedAt    time.Time          `bson:"created_at"`
	UpdatedAt    time.Time          `bson:"updated_at"`
}

func (d *postDocument) toModel() *models.Post {
	return &models.Post{
		ID:           d.ID.Hex(),
		UserID:       d.UserID,
		Content:      d.Content,
		ImageURLs:    d.ImageURLs,
		LikesCount:   d.LikesCount,
		RepostsCount: d.RepostsCount,
		CreatedAt:    d.CreatedAt,
		UpdatedAt:    d.UpdatedAt,
	}
}

// MongoStore implements Store for MongoDB. Toggles run in multi-document
// transactions, which requires a replica set.
type MongoStore struct {
	client    *mongo.Client
	posts     *mongo.Collection
	relations *mongo.Collection
}

// NewMongoStore creates a new MongoStore on the given database
func NewMongoStore(client *mongo.Client, db *mongo.Database) *MongoStore {
	return &MongoStore{
		client:    client,
		posts:     db.Collection("posts"),
		relations: db.Collection("relations"),
	}
}

// Name identifies the driver
func (s *MongoStore) Name() string { return "mongo" }

// EnsureIndexes creates the secondary indexes used by the store
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.relations.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "target_id", Value: 1}, {Key: "kind", Value: 1}, {Key: "active", Value: 1}},
	})
	if err != nil {
		return classifyMongoError(err)
	}
	_, err = s.posts.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "user_id", Value: 1}},
	})
	return classifyMongoError(err)
}

// Close disconnects the client
func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// RunInTx runs fn in a snapshot transaction committed with majority write concern
func (s *MongoStore) RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	sess, err := s.client.StartSession()
	if err != nil {
		return classifyMongoError(err)
	}
	defer sess.EndSession(context.Background())

	txnOpts := options.Transaction().
		SetReadConcern(readconcern.Snapshot()).
		SetWriteConcern(writeconcern.Majority())

	err = mongo.WithSession(ctx, sess, func(sc mongo.SessionContext) error {
		if err := sess.StartTransaction(txnOpts); err != nil {
			return err
		}
		if err := fn(sc, &mongoTx{store: s}); err != nil {
			_ = sess.AbortTransaction(context.Background())
			return err
		}
		return sess.CommitTransaction(sc)
	})
	return classifyMongoError(err)
}

// GetRelation reads a relation outside of a transaction
func (s *MongoStore) GetRelation(ctx context.Context, actorID, targetID string, kind models.RelationKind) (*models.Relation, error) {
	r, err := s.findRelation(ctx, actorID, targetID, kind)
	return r, classifyMongoError(err)
}

func (s *MongoStore) findRelation(ctx context.Context, actorID, targetID string, kind models.RelationKind) (*models.Relation, error) {
	var r models.Relation
	err := s.relations.FindOne(ctx, bson.M{"_id": models.RelationKey(actorID, targetID, kind)}).Decode(&r)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, err
	}
	return &r, nil
}

// CreatePost creates a new post in MongoDB
func (s *MongoStore) CreatePost(ctx context.Context, post *models.Post) error {
	now := time.Now()
	doc := postDocument{
		ID:        primitive.NewObjectID(),
		UserID:    post.UserID,
		Content:   post.Content,
		ImageURLs: post.ImageURLs,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if _, err := s.posts.InsertOne(ctx, doc); err != nil {
		return classifyMongoError(err)
	}
	*post = *doc.toModel()
	return nil
}

// GetPostByID retrieves a post by ID from MongoDB
func (s *MongoStore) GetPostByID(ctx context.Context, id string) (*models.Post, error) {
	objID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, ErrTargetNotFound
	}
	var doc postDocument
	if err := s.posts.FindOne(ctx, bson.M{"_id": objID}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrTargetNotFound
		}
		return nil, classifyMongoError(err)
	}
	return doc.toModel(), nil
}

// DeletePost deletes a post by ID from MongoDB
func (s *MongoStore) DeletePost(ctx context.Context, id string) error {
	objID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return ErrTargetNotFound
	}
	res, err := s.posts.DeleteOne(ctx, bson.M{"_id": objID})
	if err != nil {
		return classifyMongoError(err)
	}
	if res.DeletedCount == 0 {
		return ErrTargetNotFound
	}
	return nil
}

type mongoTx struct {
	store *MongoStore
}

func (tx *mongoTx) GetCounters(ctx context.Context, targetID string) (*models.PostCounters, error) {
	objID, err := primitive.ObjectIDFromHex(targetID)
	if err != nil {
		return nil, ErrTargetNotFound
	}
	opts := options.FindOne().SetProjection(bson.M{"likes_count": 1, "reposts_count": 1})
	var doc postDocument
	if err := tx.store.posts.FindOne(ctx, bson.M{"_id": objID}, opts).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrTargetNotFound
		}
		return nil, err
	}
	return &models.PostCounters{PostID: targetID, LikesCount: doc.LikesCount, RepostsCount: doc.RepostsCount}, nil
}

func (tx *mongoTx) GetRelation(ctx context.Context, actorID, targetID string, kind models.RelationKind) (*models.Relation, error) {
	return tx.store.findRelation(ctx, actorID, targetID, kind)
}

func (tx *mongoTx) UpsertActive(ctx context.Context, actorID, targetID string, kind models.RelationKind, active bool) (*models.Relation, error) {
	now := time.Now()
	update := bson.M{
		"$set": bson.M{"active": active, "updated_at": now},
		"$inc": bson.M{"version": 1},
		"$setOnInsert": bson.M{
			"actor_id":   actorID,
			"target_id":  targetID,
			"kind":       kind,
			"created_at": now,
		},
	}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)
	var r models.Relation
	err := tx.store.relations.FindOneAndUpdate(ctx, bson.M{"_id": models.RelationKey(actorID, targetID, kind)}, update, opts).Decode(&r)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (tx *mongoTx) SetCounter(ctx context.Context, targetID string, field models.CounterField, value int) error {
	objID, err := primitive.ObjectIDFromHex(targetID)
	if err != nil {
		return ErrTargetNotFound
	}
	res, err := tx.store.posts.UpdateOne(ctx, bson.M{"_id": objID}, bson.M{"$set": bson.M{string(field): value}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrTargetNotFound
	}
	return nil
}

// classifyMongoError maps driver errors onto the store error set.
// An unknown commit result is not a conflict: the commit may have applied.
func classifyMongoError(err error) error {
	if err == nil || errors.Is(err, ErrTargetNotFound) || errors.Is(err, ErrTxConflict) || errors.Is(err, ErrUnavailable) {
		return err
	}
	if mongo.IsNetworkError(err) || mongo.IsTimeout(err) {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	var labeled mongo.LabeledError
	if errors.As(err, &labeled) && labeled.HasErrorLabel("TransientTransactionError") {
		return fmt.Errorf("%w: %w", ErrTxConflict, err)
	}
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("%w: %w", ErrTxConflict, err)
	}
	return fmt.Errorf("%w: %w", ErrUnavailable, err)
}
