package toggle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/anonto42/nano-midea/engagement/internal/events"
	"github.com/anonto42/nano-midea/engagement/internal/metrics"
	"github.com/anonto42/nano-midea/engagement/internal/models"
	"github.com/anonto42/nano-midea/engagement/internal/repositories"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestService(t *testing.T, opts ...Option) (*Service, *repositories.MemoryStore, *metrics.Metrics) {
	t.Helper()
	store := repositories.NewMemoryStore()
	m := metrics.New(prometheus.NewRegistry())
	opts = append([]Option{WithMetrics(m)}, opts...)
	return NewService(store, zaptest.NewLogger(t), opts...), store, m
}

func createPost(t *testing.T, store *repositories.MemoryStore) string {
	t.Helper()
	post := &models.Post{UserID: "author", Content: "hello"}
	require.NoError(t, store.CreatePost(context.Background(), post))
	return post.ID
}

func counterOf(t *testing.T, store *repositories.MemoryStore, postID string, kind models.RelationKind) int {
	t.Helper()
	post, err := store.GetPostByID(context.Background(), postID)
	require.NoError(t, err)
	if kind == models.KindRepost {
		return post.RepostsCount
	}
	return post.LikesCount
}

func TestToggleIsItsOwnInverse(t *testing.T) {
	for _, kind := range []models.RelationKind{models.KindLike, models.KindRepost} {
		t.Run(string(kind), func(t *testing.T) {
			svc, store, _ := newTestService(t)
			ctx := context.Background()
			postID := createPost(t, store)

			res, err := svc.Toggle(ctx, "alice", postID, kind)
			require.NoError(t, err)
			assert.Equal(t, Result{Active: true, Count: 1}, res)

			res, err = svc.Toggle(ctx, "alice", postID, kind)
			require.NoError(t, err)
			assert.Equal(t, Result{Active: false, Count: 0}, res)

			active, err := svc.IsActive(ctx, "alice", postID, kind)
			require.NoError(t, err)
			assert.False(t, active)
			assert.Equal(t, 0, counterOf(t, store, postID, kind))
		})
	}
}

func TestToggleFlipsInPlace(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()
	postID := createPost(t, store)

	_, err := svc.Toggle(ctx, "alice", postID, models.KindRepost)
	require.NoError(t, err)
	first, err := store.GetRelation(ctx, "alice", postID, models.KindRepost)
	require.NoError(t, err)
	require.NotNil(t, first)

	_, err = svc.Toggle(ctx, "alice", postID, models.KindRepost)
	require.NoError(t, err)
	second, err := store.GetRelation(ctx, "alice", postID, models.KindRepost)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.CreatedAt, second.CreatedAt)
	assert.False(t, second.Active)
}

func TestKindsAreIndependent(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()
	postID := createPost(t, store)

	_, err := svc.Toggle(ctx, "alice", postID, models.KindLike)
	require.NoError(t, err)

	reposted, err := svc.IsActive(ctx, "alice", postID, models.KindRepost)
	require.NoError(t, err)
	assert.False(t, reposted)
	assert.Equal(t, 1, counterOf(t, store, postID, models.KindLike))
	assert.Equal(t, 0, counterOf(t, store, postID, models.KindRepost))
}

func TestCounterMatchesActiveRelations(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()
	postID := createPost(t, store)

	actors := []string{"a", "b", "c", "d"}
	// deterministic interleaving of toggles across actors
	sequence := []int{0, 1, 2, 0, 3, 1, 1, 2, 3, 0, 2, 1}
	for _, i := range sequence {
		_, err := svc.Toggle(ctx, actors[i], postID, models.KindLike)
		require.NoError(t, err)

		count := counterOf(t, store, postID, models.KindLike)
		assert.GreaterOrEqual(t, count, 0)
		assert.Equal(t, store.CountActive(postID, models.KindLike), count)
	}
}

func TestConcurrentTogglesByDifferentActors(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()
	postID := createPost(t, store)

	var wg sync.WaitGroup
	for _, actor := range []string{"alice", "bob"} {
		wg.Add(1)
		go func(actor string) {
			defer wg.Done()
			_, err := svc.Toggle(ctx, actor, postID, models.KindLike)
			assert.NoError(t, err)
		}(actor)
	}
	wg.Wait()

	for _, actor := range []string{"alice", "bob"} {
		active, err := svc.IsActive(ctx, actor, postID, models.KindLike)
		require.NoError(t, err)
		assert.True(t, active, actor)
	}
	assert.Equal(t, 2, counterOf(t, store, postID, models.KindLike))
}

func TestConcurrentTogglesBySameActorFollowParity(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()
	postID := createPost(t, store)

	const n = 7
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Toggle(ctx, "alice", postID, models.KindLike)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	active, err := svc.IsActive(ctx, "alice", postID, models.KindLike)
	require.NoError(t, err)
	assert.True(t, active)
	assert.Equal(t, 1, counterOf(t, store, postID, models.KindLike))
}

func TestToggleRequiresActor(t *testing.T) {
	svc, store, m := newTestService(t)
	postID := createPost(t, store)

	_, err := svc.Toggle(context.Background(), "", postID, models.KindLike)
	assert.ErrorIs(t, err, ErrUnauthenticated)

	_, err = svc.IsActive(context.Background(), "", postID, models.KindLike)
	assert.ErrorIs(t, err, ErrUnauthenticated)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.TogglesTotal.WithLabelValues("like", "unauthenticated")))
}

func TestToggleRejectsUnknownKind(t *testing.T) {
	svc, store, m := newTestService(t)
	ctx := context.Background()
	postID := createPost(t, store)

	_, err := svc.Toggle(ctx, "alice", postID, models.RelationKind("share"))
	require.ErrorIs(t, err, ErrInvalidKind)
	assert.Equal(t, 0, counterOf(t, store, postID, models.KindLike))
	assert.Equal(t, 0, counterOf(t, store, postID, models.KindRepost))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TogglesTotal.WithLabelValues("unknown", "invalid_kind")))

	rel, err := store.GetRelation(ctx, "alice", postID, models.RelationKind("share"))
	require.NoError(t, err)
	assert.Nil(t, rel)

	_, err = svc.IsActive(ctx, "alice", postID, models.RelationKind("share"))
	assert.ErrorIs(t, err, ErrInvalidKind)
}

func TestToggleRejectsAmbiguousTargetIDs(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()
	createPost(t, store)

	for _, id := range []string{"p:alice", "p/alice", strings.Repeat("x", 65)} {
		_, err := svc.Toggle(ctx, "bob", id, models.KindLike)
		assert.ErrorIs(t, err, ErrTargetNotFound, id)

		active, err := svc.IsActive(ctx, "bob", id, models.KindLike)
		require.NoError(t, err)
		assert.False(t, active, id)
	}
}

func TestToggleMissingTargetLeavesNoRelation(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Toggle(ctx, "alice", "deleted-post", models.KindLike)
	assert.ErrorIs(t, err, ErrTargetNotFound)

	rel, err := store.GetRelation(ctx, "alice", "deleted-post", models.KindLike)
	require.NoError(t, err)
	assert.Nil(t, rel)
}

func TestToggleAfterTargetDeleted(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()
	postID := createPost(t, store)

	_, err := svc.Toggle(ctx, "alice", postID, models.KindLike)
	require.NoError(t, err)
	require.NoError(t, store.DeletePost(ctx, postID))

	_, err = svc.Toggle(ctx, "alice", postID, models.KindLike)
	assert.ErrorIs(t, err, ErrTargetNotFound)

	rel, err := store.GetRelation(ctx, "alice", postID, models.KindLike)
	require.NoError(t, err)
	require.NotNil(t, rel)
	assert.True(t, rel.Active, "relation must not be flipped when the target is gone")
}

func TestToggleRetriesConflicts(t *testing.T) {
	svc, store, m := newTestService(t)
	ctx := context.Background()
	postID := createPost(t, store)

	store.FailCommits(repositories.ErrTxConflict, repositories.ErrTxConflict)

	res, err := svc.Toggle(ctx, "alice", postID, models.KindLike)
	require.NoError(t, err)
	assert.Equal(t, Result{Active: true, Count: 1}, res)
	assert.Equal(t, 1, counterOf(t, store, postID, models.KindLike))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ToggleRetriesTotal.WithLabelValues("like")))
}

func TestToggleGivesUpAfterMaxAttempts(t *testing.T) {
	svc, store, m := newTestService(t)
	ctx := context.Background()
	postID := createPost(t, store)

	store.FailCommits(repositories.ErrTxConflict, repositories.ErrTxConflict, repositories.ErrTxConflict)

	_, err := svc.Toggle(ctx, "alice", postID, models.KindLike)
	assert.ErrorIs(t, err, ErrToggleConflict)

	rel, err := store.GetRelation(ctx, "alice", postID, models.KindLike)
	require.NoError(t, err)
	assert.Nil(t, rel)
	assert.Equal(t, 0, counterOf(t, store, postID, models.KindLike))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TogglesTotal.WithLabelValues("like", "conflict")))
}

func TestToggleDoesNotRetryUnavailableStore(t *testing.T) {
	svc, store, _ := newTestService(t, WithMaxAttempts(5))
	ctx := context.Background()
	postID := createPost(t, store)

	store.FailCommits(fmt.Errorf("%w: connection reset", repositories.ErrUnavailable))

	_, err := svc.Toggle(ctx, "alice", postID, models.KindLike)
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.Equal(t, 0, counterOf(t, store, postID, models.KindLike))

	// a single attempt was consumed, so the next toggle commits
	res, err := svc.Toggle(ctx, "alice", postID, models.KindLike)
	require.NoError(t, err)
	assert.Equal(t, Result{Active: true, Count: 1}, res)
}

func TestToggleClampsDriftedCounter(t *testing.T) {
	svc, store, m := newTestService(t)
	ctx := context.Background()
	postID := createPost(t, store)

	// an active relation whose increment never reached the counter
	err := store.RunInTx(ctx, func(ctx context.Context, tx repositories.Tx) error {
		_, err := tx.UpsertActive(ctx, "alice", postID, models.KindLike, true)
		return err
	})
	require.NoError(t, err)

	res, err := svc.Toggle(ctx, "alice", postID, models.KindLike)
	require.NoError(t, err)
	assert.Equal(t, Result{Active: false, Count: 0}, res)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CounterClampsTotal.WithLabelValues("likes_count")))
}

type cacheEntry struct {
	active  bool
	version int64
}

// fakeCache mirrors the Redis cache: Set never replaces a newer version
type fakeCache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry
	getErr  error
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: make(map[string]cacheEntry)}
}

func (c *fakeCache) Get(ctx context.Context, actorID, targetID string, kind models.RelationKind) (bool, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.getErr != nil {
		return false, false, c.getErr
	}
	e, ok := c.entries[models.RelationKey(actorID, targetID, kind)]
	return e.active, ok, nil
}

func (c *fakeCache) Set(ctx context.Context, actorID, targetID string, kind models.RelationKind, active bool, version int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := models.RelationKey(actorID, targetID, kind)
	if cur, ok := c.entries[key]; ok && cur.version > version {
		return nil
	}
	c.entries[key] = cacheEntry{active: active, version: version}
	return nil
}

func (c *fakeCache) entry(actorID, targetID string, kind models.RelationKind) (cacheEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[models.RelationKey(actorID, targetID, kind)]
	return e, ok
}

func TestIsActiveUsesCache(t *testing.T) {
	c := newFakeCache()
	svc, store, m := newTestService(t, WithCache(c))
	ctx := context.Background()
	postID := createPost(t, store)

	active, err := svc.IsActive(ctx, "alice", postID, models.KindLike)
	require.NoError(t, err)
	assert.False(t, active)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StatusLookupsTotal.WithLabelValues("miss")))

	active, err = svc.IsActive(ctx, "alice", postID, models.KindLike)
	require.NoError(t, err)
	assert.False(t, active)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StatusLookupsTotal.WithLabelValues("hit")))

	_, err = svc.Toggle(ctx, "alice", postID, models.KindLike)
	require.NoError(t, err)
	e, ok := c.entry("alice", postID, models.KindLike)
	require.True(t, ok)
	assert.Equal(t, cacheEntry{active: true, version: 1}, e)

	active, err = svc.IsActive(ctx, "alice", postID, models.KindLike)
	require.NoError(t, err)
	assert.True(t, active)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.StatusLookupsTotal.WithLabelValues("hit")))
}

// pausedReadStore holds the first GetRelation call after its read until release is closed
type pausedReadStore struct {
	*repositories.MemoryStore
	once    sync.Once
	read    chan struct{}
	release chan struct{}
}

func (p *pausedReadStore) GetRelation(ctx context.Context, actorID, targetID string, kind models.RelationKind) (*models.Relation, error) {
	rel, err := p.MemoryStore.GetRelation(ctx, actorID, targetID, kind)
	p.once.Do(func() {
		close(p.read)
		<-p.release
	})
	return rel, err
}

func TestSlowCacheFillDoesNotUndoToggle(t *testing.T) {
	c := newFakeCache()
	mem := repositories.NewMemoryStore()
	store := &pausedReadStore{MemoryStore: mem, read: make(chan struct{}), release: make(chan struct{})}
	svc := NewService(store, zaptest.NewLogger(t), WithCache(c), WithMetrics(metrics.New(prometheus.NewRegistry())))
	ctx := context.Background()
	postID := createPost(t, mem)

	done := make(chan error, 1)
	go func() {
		_, err := svc.IsActive(ctx, "alice", postID, models.KindLike)
		done <- err
	}()

	// the reader has seen "no relation" and has not filled the cache yet
	<-store.read
	res, err := svc.Toggle(ctx, "alice", postID, models.KindLike)
	require.NoError(t, err)
	require.True(t, res.Active)

	close(store.release)
	require.NoError(t, <-done)

	e, ok := c.entry("alice", postID, models.KindLike)
	require.True(t, ok)
	assert.Equal(t, cacheEntry{active: true, version: 1}, e)

	active, err := svc.IsActive(ctx, "alice", postID, models.KindLike)
	require.NoError(t, err)
	assert.True(t, active)
}

func TestToggleBumpsRelationVersion(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()
	postID := createPost(t, store)

	for i := 1; i <= 3; i++ {
		_, err := svc.Toggle(ctx, "alice", postID, models.KindRepost)
		require.NoError(t, err)
		rel, err := store.GetRelation(ctx, "alice", postID, models.KindRepost)
		require.NoError(t, err)
		assert.Equal(t, int64(i), rel.Version)
	}
}

func TestIsActiveFallsBackWhenCacheFails(t *testing.T) {
	c := newFakeCache()
	c.getErr = errors.New("redis down")
	svc, store, _ := newTestService(t, WithCache(c))
	ctx := context.Background()
	postID := createPost(t, store)

	_, err := svc.Toggle(ctx, "alice", postID, models.KindLike)
	require.NoError(t, err)

	active, err := svc.IsActive(ctx, "alice", postID, models.KindLike)
	require.NoError(t, err)
	assert.True(t, active)
}

type fakePublisher struct {
	mu     sync.Mutex
	events []events.RelationToggledEvent
	err    error
}

func (p *fakePublisher) PublishRelationToggled(ctx context.Context, event events.RelationToggledEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, event)
	return nil
}

func TestTogglePublishesEventAfterCommit(t *testing.T) {
	pub := &fakePublisher{}
	svc, store, _ := newTestService(t, WithPublisher(pub))
	ctx := context.Background()
	postID := createPost(t, store)

	_, err := svc.Toggle(ctx, "alice", postID, models.KindRepost)
	require.NoError(t, err)

	require.Len(t, pub.events, 1)
	ev := pub.events[0]
	assert.Equal(t, "alice", ev.ActorID)
	assert.Equal(t, postID, ev.TargetID)
	assert.Equal(t, models.KindRepost, ev.Kind)
	assert.True(t, ev.Active)
	assert.Equal(t, 1, ev.Count)

	// failed commits publish nothing
	_, err = svc.Toggle(ctx, "alice", "missing", models.KindRepost)
	require.Error(t, err)
	assert.Len(t, pub.events, 1)
}

func TestPublisherFailureDoesNotFailToggle(t *testing.T) {
	pub := &fakePublisher{err: errors.New("nats: connection closed")}
	svc, store, m := newTestService(t, WithPublisher(pub))
	postID := createPost(t, store)

	res, err := svc.Toggle(context.Background(), "alice", postID, models.KindLike)
	require.NoError(t, err)
	assert.True(t, res.Active)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EventsPublishedTotal.WithLabelValues("error")))
}
