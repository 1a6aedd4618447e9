package repositories_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/anonto42/nano-midea/engagement/internal/models"
	"github.com/anonto42/nano-midea/engagement/internal/repositories"
	"github.com/anonto42/nano-midea/engagement/internal/toggle"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap/zaptest"
)

// StoreTestSuite exercises the transactional contract every Store backend must honour.
// open returns a fresh, empty store for each test.
type StoreTestSuite struct {
	suite.Suite
	open  func(t *testing.T) repositories.Store
	store repositories.Store
	ctx   context.Context
}

func (s *StoreTestSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = s.open(s.T())
}

func (s *StoreTestSuite) TearDownTest() {
	s.store.Close(s.ctx)
}

func (s *StoreTestSuite) createPost() string {
	post := &models.Post{UserID: "author", Content: "first post", ImageURLs: []string{"https://img.example/1.png"}}
	require.NoError(s.T(), s.store.CreatePost(s.ctx, post))
	require.NotEmpty(s.T(), post.ID)
	return post.ID
}

// missingIDs covers an id no backend can parse and one that parses but names nothing
var missingIDs = []string{"nope", "000000000000000000000000"}

func (s *StoreTestSuite) TestPostLifecycle() {
	t := s.T()
	id := s.createPost()

	post, err := s.store.GetPostByID(s.ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "first post", post.Content)
	assert.Equal(t, []string{"https://img.example/1.png"}, post.ImageURLs)
	assert.Zero(t, post.LikesCount)

	require.NoError(t, s.store.DeletePost(s.ctx, id))
	_, err = s.store.GetPostByID(s.ctx, id)
	assert.ErrorIs(t, err, repositories.ErrTargetNotFound)
	assert.ErrorIs(t, s.store.DeletePost(s.ctx, id), repositories.ErrTargetNotFound)
}

func (s *StoreTestSuite) TestGetCountersMissingPost() {
	for _, id := range missingIDs {
		err := s.store.RunInTx(s.ctx, func(ctx context.Context, tx repositories.Tx) error {
			_, err := tx.GetCounters(ctx, id)
			return err
		})
		assert.ErrorIs(s.T(), err, repositories.ErrTargetNotFound, id)
	}
}

func (s *StoreTestSuite) TestUpsertActiveCreatesThenFlips() {
	t := s.T()
	id := s.createPost()

	var created *models.Relation
	err := s.store.RunInTx(s.ctx, func(ctx context.Context, tx repositories.Tx) error {
		var err error
		created, err = tx.UpsertActive(ctx, "alice", id, models.KindRepost, true)
		return err
	})
	require.NoError(t, err)
	assert.True(t, created.Active)
	assert.Equal(t, int64(1), created.Version)

	var flipped *models.Relation
	err = s.store.RunInTx(s.ctx, func(ctx context.Context, tx repositories.Tx) error {
		var err error
		flipped, err = tx.UpsertActive(ctx, "alice", id, models.KindRepost, false)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), flipped.Version)

	got, err := s.store.GetRelation(s.ctx, "alice", id, models.KindRepost)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, created.ID, got.ID)
	assert.False(t, got.Active)
	assert.Equal(t, int64(2), got.Version)
	assert.WithinDuration(t, created.CreatedAt, got.CreatedAt, time.Second)

	other, err := s.store.GetRelation(s.ctx, "alice", id, models.KindLike)
	require.NoError(t, err)
	assert.Nil(t, other)
}

func (s *StoreTestSuite) TestRollbackOnError() {
	t := s.T()
	id := s.createPost()
	boom := errors.New("boom")

	err := s.store.RunInTx(s.ctx, func(ctx context.Context, tx repositories.Tx) error {
		if _, err := tx.UpsertActive(ctx, "alice", id, models.KindLike, true); err != nil {
			return err
		}
		if err := tx.SetCounter(ctx, id, models.LikesCountField, 1); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	rel, err := s.store.GetRelation(s.ctx, "alice", id, models.KindLike)
	require.NoError(t, err)
	assert.Nil(t, rel)
	post, err := s.store.GetPostByID(s.ctx, id)
	require.NoError(t, err)
	assert.Zero(t, post.LikesCount)
}

func (s *StoreTestSuite) TestToggleService() {
	t := s.T()
	id := s.createPost()
	svc := toggle.NewService(s.store, zaptest.NewLogger(t))

	for _, actor := range []string{"alice", "bob", "carol"} {
		_, err := svc.Toggle(s.ctx, actor, id, models.KindLike)
		require.NoError(t, err)
	}
	res, err := svc.Toggle(s.ctx, "bob", id, models.KindLike)
	require.NoError(t, err)
	assert.Equal(t, toggle.Result{Active: false, Count: 2}, res)

	res, err = svc.Toggle(s.ctx, "bob", id, models.KindRepost)
	require.NoError(t, err)
	assert.Equal(t, toggle.Result{Active: true, Count: 1}, res)

	post, err := s.store.GetPostByID(s.ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 2, post.LikesCount)
	assert.Equal(t, 1, post.RepostsCount)

	active, err := svc.IsActive(s.ctx, "bob", id, models.KindLike)
	require.NoError(t, err)
	assert.False(t, active)

	for _, missing := range missingIDs {
		_, err = svc.Toggle(s.ctx, "alice", missing, models.KindLike)
		assert.ErrorIs(t, err, toggle.ErrTargetNotFound, missing)
		rel, err := s.store.GetRelation(s.ctx, "alice", missing, models.KindLike)
		require.NoError(t, err)
		assert.Nil(t, rel, missing)
	}
}

func TestMemoryStoreSuite(t *testing.T) {
	suite.Run(t, &StoreTestSuite{
		open: func(t *testing.T) repositories.Store { return repositories.NewMemoryStore() },
	})
}
