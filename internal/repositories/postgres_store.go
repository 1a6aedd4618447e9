package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/anonto42/nano-midea/engagement/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PostgresStore implements Store for PostgreSQL (and any gorm dialect used in tests).
// Toggles on one post serialize on a row lock of that post.
type PostgresStore struct {
	db *gorm.DB
}

// NewPostgresStore creates a new PostgresStore
func NewPostgresStore(db *gorm.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Name identifies the driver
func (s *PostgresStore) Name() string { return "postgres" }

// AutoMigrate creates the posts and relations tables
func (s *PostgresStore) AutoMigrate() error {
	return s.db.AutoMigrate(&models.Post{}, &models.Relation{})
}

// Close closes the underlying connection pool
func (s *PostgresStore) Close(context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// RunInTx runs fn inside a gorm transaction
func (s *PostgresStore) RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	err := s.db.WithContext(ctx).Transaction(func(gtx *gorm.DB) error {
		return fn(ctx, &postgresTx{db: gtx})
	})
	return classifyPostgresError(err)
}

// GetRelation retrieves a relation outside of any transaction
func (s *PostgresStore) GetRelation(ctx context.Context, actorID, targetID string, kind models.RelationKind) (*models.Relation, error) {
	r, err := findRelation(s.db.WithContext(ctx), actorID, targetID, kind)
	return r, classifyPostgresError(err)
}

// CreatePost creates a new post in PostgreSQL
func (s *PostgresStore) CreatePost(ctx context.Context, post *models.Post) error {
	if post.ID == "" {
		post.ID = uuid.NewString()
	}
	post.LikesCount = 0
	post.RepostsCount = 0
	return classifyPostgresError(s.db.WithContext(ctx).Create(post).Error)
}

// GetPostByID retrieves a post by ID
func (s *PostgresStore) GetPostByID(ctx context.Context, id string) (*models.Post, error) {
	var post models.Post
	if err := s.db.WithContext(ctx).Where("id = ?", id).Take(&post).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTargetNotFound
		}
		return nil, classifyPostgresError(err)
	}
	return &post, nil
}

// DeletePost deletes a post by ID
func (s *PostgresStore) DeletePost(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Where("id = ?", id).Delete(&models.Post{})
	if res.Error != nil {
		return classifyPostgresError(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrTargetNotFound
	}
	return nil
}

type postgresTx struct {
	db *gorm.DB
}

func (tx *postgresTx) GetCounters(ctx context.Context, targetID string) (*models.PostCounters, error) {
	var post models.Post
	err := tx.db.Clauses(clause.Locking{Strength: "UPDATE"}).
		Select("id", "likes_count", "reposts_count").
		Where("id = ?", targetID).
		Take(&post).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTargetNotFound
		}
		return nil, err
	}
	return &models.PostCounters{PostID: post.ID, LikesCount: post.LikesCount, RepostsCount: post.RepostsCount}, nil
}

func (tx *postgresTx) GetRelation(ctx context.Context, actorID, targetID string, kind models.RelationKind) (*models.Relation, error) {
	return findRelation(tx.db, actorID, targetID, kind)
}

func (tx *postgresTx) UpsertActive(ctx context.Context, actorID, targetID string, kind models.RelationKind, active bool) (*models.Relation, error) {
	existing, err := findRelation(tx.db, actorID, targetID, kind)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	if existing == nil {
		r := &models.Relation{
			ID:       uuid.NewString(),
			ActorID:  actorID,
			TargetID: targetID,
			Kind:     kind,
			Active:   active,
			Version:  1,
		}
		if err := tx.db.Create(r).Error; err != nil {
			return nil, err
		}
		return r, nil
	}
	err = tx.db.Model(&models.Relation{}).
		Where("id = ?", existing.ID).
		Updates(map[string]interface{}{"active": active, "version": existing.Version + 1, "updated_at": now}).Error
	if err != nil {
		return nil, err
	}
	existing.Active = active
	existing.Version++
	existing.UpdatedAt = now
	return existing, nil
}

func (tx *postgresTx) SetCounter(ctx context.Context, targetID string, field models.CounterField, value int) error {
	res := tx.db.Model(&models.Post{}).Where("id = ?", targetID).UpdateColumn(string(field), value)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrTargetNotFound
	}
	return nil
}

func findRelation(db *gorm.DB, actorID, targetID string, kind models.RelationKind) (*models.Relation, error) {
	var r models.Relation
	err := db.Where("actor_id = ? AND target_id = ? AND kind = ?", actorID, targetID, kind).Take(&r).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &r, nil
}

// classifyPostgresError maps driver errors onto the store error set
func classifyPostgresError(err error) error {
	if err == nil || errors.Is(err, ErrTargetNotFound) || errors.Is(err, ErrTxConflict) || errors.Is(err, ErrUnavailable) {
		return err
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("%w: %w", ErrTxConflict, err)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01", "23505": // serialization_failure, deadlock_detected, unique_violation
			return fmt.Errorf("%w: %w", ErrTxConflict, err)
		}
	}
	return fmt.Errorf("%w: %w", ErrUnavailable, err)
}
