package app

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haukened/storyline/internal/domain"
	"github.com/haukened/storyline/internal/ffs"
	"github.com/haukened/storyline/internal/follow"
	"github.com/haukened/storyline/internal/kv"
	"github.com/haukened/storyline/internal/kv/kvtest"
	"github.com/haukened/storyline/internal/metrics"
	"github.com/haukened/storyline/internal/post"
)

var t0 = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

type fixedClock struct{ now time.Time }

func (f fixedClock) Now() time.Time { return f.now }

type recorder struct {
	mu       sync.Mutex
	counters map[string]int64
}

func (r *recorder) Inc(name string, delta int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.counters == nil {
		r.counters = make(map[string]int64)
	}
	r.counters[name] += delta
}

func (r *recorder) Observe(string, int64) {}

func (r *recorder) get(name string) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counters[name]
}

type fixture struct {
	t    *testing.T
	ctx  context.Context
	svc  *Service
	ffs  *ffs.Manager
	recs *recorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := kvtest.OpenStore(t, slices.Concat(post.Indexes(), follow.Indexes(), ffs.Indexes())...)
	posts := post.New(store, nil)
	follows := follow.New(store)
	m, err := ffs.New(store, posts, follows, ffs.Config{})
	require.NoError(t, err)
	recs := &recorder{}
	return &fixture{
		t:    t,
		ctx:  context.Background(),
		ffs:  m,
		recs: recs,
		svc: &Service{
			Posts:    posts,
			Follows:  follows,
			Pointers: m,
			Clock:    fixedClock{now: t0},
			Metrics:  recs,
		},
	}
}

// story adds a completed story by owner expiring at expiresAt.
func (f *fixture) story(id, owner string, expiresAt time.Time) *domain.Post {
	f.t.Helper()
	_, err := f.svc.AddPost(f.ctx, post.NewPost{
		ID:             id,
		PostedByUserID: owner,
		PostType:       domain.PostTypeImage,
		PostedAt:       t0.Add(-48 * time.Hour),
	}, "")
	require.NoError(f.t, err)
	_, err = f.svc.SetExpiresAt(f.ctx, id, expiresAt)
	require.NoError(f.t, err)
	p, err := f.svc.SetPostStatus(f.ctx, id, domain.PostStatusCompleted, post.StatusOptions{})
	require.NoError(f.t, err)
	return p
}

// pointer returns the post id the follower's pointer for followed references.
func (f *fixture) pointer(follower, followed string) string {
	f.t.Helper()
	p, err := f.ffs.Get(f.ctx, follower, followed)
	require.NoError(f.t, err)
	if p == nil {
		return ""
	}
	return p.PostID
}

func TestAddPostGeneratesIDAndPostedAt(t *testing.T) {
	f := newFixture(t)
	p, err := f.svc.AddPost(f.ctx, post.NewPost{
		PostedByUserID: "u1",
		PostType:       domain.PostTypeTextOnly,
		Text:           "hello",
	}, `{"w":1}`)
	require.NoError(t, err)

	_, err = uuid.Parse(p.ID)
	assert.NoError(t, err)
	assert.True(t, p.PostedAt.Equal(t0))
	assert.Equal(t, domain.PostStatusPending, p.PostStatus)

	meta, ok, err := f.svc.Posts.GetOriginalMetadata(f.ctx, p.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, `{"w":1}`, meta)
	assert.Equal(t, int64(1), f.recs.get(metrics.CounterPostsCreated))
}

func TestSetPostStatusTransitions(t *testing.T) {
	f := newFixture(t)
	p, err := f.svc.AddPost(f.ctx, post.NewPost{ID: "p1", PostedByUserID: "u1", PostType: domain.PostTypeVideo}, "")
	require.NoError(t, err)

	_, err = f.svc.SetPostStatus(f.ctx, p.ID, domain.PostStatusArchived, post.StatusOptions{})
	assert.ErrorIs(t, err, ErrIllegalTransition)
	assert.ErrorIs(t, err, domain.ErrPreconditionFailed)
	_, err = f.svc.SetPostStatus(f.ctx, p.ID, domain.PostStatusDeleting, post.StatusOptions{})
	assert.ErrorIs(t, err, ErrIllegalTransition)

	for _, st := range []domain.PostStatus{
		domain.PostStatusProcessing, domain.PostStatusCompleted,
		domain.PostStatusArchived, domain.PostStatusCompleted,
	} {
		p, err = f.svc.SetPostStatus(f.ctx, p.ID, st, post.StatusOptions{})
		require.NoError(t, err)
		assert.Equal(t, st, p.PostStatus)
	}
	assert.Equal(t, int64(4), f.recs.get(metrics.CounterStatusChanges))

	_, err = f.svc.SetPostStatus(f.ctx, "missing", domain.PostStatusCompleted, post.StatusOptions{})
	assert.ErrorIs(t, err, domain.ErrPostNotFound)
}

func TestStoryChangesRefreshFollowers(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.svc.Follow(f.ctx, "f1", "u1", domain.FollowStatusFollowing))
	require.NoError(t, f.svc.Follow(f.ctx, "f2", "u1", domain.FollowStatusFollowing))
	assert.Empty(t, f.pointer("f1", "u1"))

	// A pending story is not visible to followers.
	_, err := f.svc.AddPost(f.ctx, post.NewPost{ID: "s1", PostedByUserID: "u1", PostType: domain.PostTypeImage}, "")
	require.NoError(t, err)
	_, err = f.svc.SetExpiresAt(f.ctx, "s1", t0.Add(3*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, f.pointer("f1", "u1"))

	_, err = f.svc.SetPostStatus(f.ctx, "s1", domain.PostStatusCompleted, post.StatusOptions{})
	require.NoError(t, err)
	assert.Equal(t, "s1", f.pointer("f1", "u1"))
	assert.Equal(t, "s1", f.pointer("f2", "u1"))

	f.story("s2", "u1", t0.Add(time.Hour))
	assert.Equal(t, "s2", f.pointer("f1", "u1"))

	// Moving s2 past s1 hands the pointer back.
	_, err = f.svc.SetExpiresAt(f.ctx, "s2", t0.Add(5*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, "s1", f.pointer("f1", "u1"))

	_, err = f.svc.RemoveExpiresAt(f.ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "s2", f.pointer("f2", "u1"))

	_, err = f.svc.SetPostStatus(f.ctx, "s2", domain.PostStatusArchived, post.StatusOptions{})
	require.NoError(t, err)
	assert.Empty(t, f.pointer("f1", "u1"))
	assert.Empty(t, f.pointer("f2", "u1"))
	assert.Zero(t, f.recs.get(metrics.CounterPointerRefreshErr))
}

func TestFollowSeedsPointerAndUnfollowRemovesIt(t *testing.T) {
	f := newFixture(t)
	f.story("s1", "u1", t0.Add(time.Hour))

	require.NoError(t, f.svc.Follow(f.ctx, "f1", "u1", domain.FollowStatusFollowing))
	assert.Equal(t, "s1", f.pointer("f1", "u1"))

	err := f.svc.Follow(f.ctx, "f1", "u1", domain.FollowStatusFollowing)
	assert.ErrorIs(t, err, follow.ErrFollowExists)
	assert.ErrorIs(t, err, kv.ErrTransactionCanceled)

	assert.ErrorIs(t, f.svc.Follow(f.ctx, "u1", "u1", domain.FollowStatusFollowing), domain.ErrInvalidInput)
	assert.ErrorIs(t, f.svc.Follow(f.ctx, "a/b", "u1", domain.FollowStatusFollowing), domain.ErrInvalidInput)

	require.NoError(t, f.svc.Unfollow(f.ctx, "f1", "u1"))
	assert.Empty(t, f.pointer("f1", "u1"))
	rel, err := f.svc.Follows.Get(f.ctx, "f1", "u1")
	require.NoError(t, err)
	assert.Nil(t, rel)

	assert.ErrorIs(t, f.svc.Unfollow(f.ctx, "f1", "u1"), follow.ErrFollowNotFound)
	assert.Equal(t, int64(1), f.recs.get(metrics.CounterFollows))
	assert.Equal(t, int64(1), f.recs.get(metrics.CounterUnfollows))
}

func TestApproveFollow(t *testing.T) {
	f := newFixture(t)
	f.story("s1", "u1", t0.Add(time.Hour))

	assert.ErrorIs(t, f.svc.ApproveFollow(f.ctx, "f1", "u1"), follow.ErrFollowNotFound)

	require.NoError(t, f.svc.Follow(f.ctx, "f1", "u1", domain.FollowStatusRequested))
	assert.Empty(t, f.pointer("f1", "u1"))

	require.NoError(t, f.svc.ApproveFollow(f.ctx, "f1", "u1"))
	assert.Equal(t, "s1", f.pointer("f1", "u1"))

	assert.ErrorIs(t, f.svc.ApproveFollow(f.ctx, "f1", "u1"), domain.ErrPreconditionFailed)
}

func TestSetAlbumAndRank(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.AddPost(f.ctx, post.NewPost{ID: "p1", PostedByUserID: "u1", PostType: domain.PostTypeImage}, "")
	require.NoError(t, err)

	_, err = f.svc.SetAlbum(f.ctx, "p1", "a1", ptr(0.5))
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	p, err := f.svc.SetAlbum(f.ctx, "p1", "a1", nil)
	require.NoError(t, err)
	assert.Equal(t, "a1", p.AlbumID)

	_, err = f.svc.SetAlbumRank(f.ctx, "p1", -1)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	_, err = f.svc.SetAlbumRank(f.ctx, "missing", 2)
	assert.ErrorIs(t, err, domain.ErrPostNotFound)
	_, err = f.svc.SetAlbumRank(f.ctx, "p1", 2)
	require.NoError(t, err)

	p, err = f.svc.SetAlbum(f.ctx, "p1", "", nil)
	require.NoError(t, err)
	assert.Empty(t, p.AlbumID)
}

func ptr[T any](v T) *T { return &v }

func TestDeletePost(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.svc.Follow(f.ctx, "f1", "u1", domain.FollowStatusFollowing))
	f.story("s1", "u1", t0.Add(time.Hour))
	f.story("s2", "u1", t0.Add(2*time.Hour))
	_, err := f.svc.AddPost(f.ctx, post.NewPost{ID: "p3", PostedByUserID: "u1", PostType: domain.PostTypeImage}, "meta")
	require.NoError(t, err)
	assert.Equal(t, "s1", f.pointer("f1", "u1"))

	require.NoError(t, f.svc.DeletePost(f.ctx, "s1"))
	got, err := f.svc.Posts.Get(f.ctx, "s1", kv.Strong)
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.Equal(t, "s2", f.pointer("f1", "u1"))

	require.NoError(t, f.svc.DeletePost(f.ctx, "p3"))
	_, ok, err := f.svc.Posts.GetOriginalMetadata(f.ctx, "p3")
	require.NoError(t, err)
	assert.False(t, ok)

	assert.ErrorIs(t, f.svc.DeletePost(f.ctx, "s1"), domain.ErrPostNotFound)
	assert.Equal(t, int64(2), f.recs.get(metrics.CounterPostsDeleted))
}

func TestExpireStories(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.svc.Follow(f.ctx, "f1", "u1", domain.FollowStatusFollowing))
	f.story("old", "u1", t0.Add(-40*time.Hour))      // 2026-03-12, outside both shards
	f.story("yesterday", "u1", t0.Add(-13*time.Hour)) // 2026-03-13 20:00
	f.story("earlier", "u1", t0.Add(-time.Hour))      // today, before now
	f.story("at-now", "u1", t0)                       // cutoff is exclusive
	f.story("later", "u1", t0.Add(time.Hour))

	n, err := f.svc.ExpireStories(f.ctx, t0)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	for id, want := range map[string]bool{"old": true, "yesterday": false, "earlier": false, "at-now": true, "later": true} {
		p, err := f.svc.Posts.Get(f.ctx, id, kv.Strong)
		require.NoError(t, err)
		assert.Equal(t, want, p != nil, id)
	}

	n, err = f.svc.ExpireStoriesWithScan(f.ctx, t0)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, "at-now", f.pointer("f1", "u1"))
	assert.Equal(t, int64(3), f.recs.get(metrics.CounterStoriesExpired))
}

func TestExpireSkipsStoriesThatMoved(t *testing.T) {
	f := newFixture(t)
	f.story("s1", "u1", t0.Add(-time.Hour))
	// The story is extended after the sweep listed it.
	n, err := f.svc.expire(f.ctx, []string{"s1", "gone"}, t0.Add(-2*time.Hour))
	require.NoError(t, err)
	assert.Zero(t, n)
}

type failingPointers struct {
	StoryPointers
	err error
}

func (p failingPointers) RefreshAfterStoryChange(context.Context, *domain.Post, *domain.Post) error {
	return p.err
}

func TestRefreshFailureKeepsWrite(t *testing.T) {
	f := newFixture(t)
	boom := errors.New("boom")
	f.svc.Pointers = failingPointers{StoryPointers: f.ffs, err: boom}

	_, err := f.svc.AddPost(f.ctx, post.NewPost{ID: "s1", PostedByUserID: "u1", PostType: domain.PostTypeImage}, "")
	require.NoError(t, err)
	_, err = f.svc.SetExpiresAt(f.ctx, "s1", t0.Add(time.Hour))
	require.NoError(t, err, "pending story needs no refresh")

	p, err := f.svc.SetPostStatus(f.ctx, "s1", domain.PostStatusCompleted, post.StatusOptions{})
	assert.ErrorIs(t, err, ErrStoryRefresh)
	assert.ErrorIs(t, err, boom)
	require.NotNil(t, p)
	assert.Equal(t, domain.PostStatusCompleted, p.PostStatus)
	assert.Equal(t, int64(1), f.recs.get(metrics.CounterPointerRefreshErr))

	// The delete stops in DELETING and resumes once refreshes work again.
	assert.ErrorIs(t, f.svc.DeletePost(f.ctx, "s1"), ErrStoryRefresh)
	p, err = f.svc.Posts.MustGet(f.ctx, "s1", kv.Strong)
	require.NoError(t, err)
	assert.Equal(t, domain.PostStatusDeleting, p.PostStatus)

	f.svc.Pointers = f.ffs
	require.NoError(t, f.svc.DeletePost(f.ctx, "s1"))
}

type failingPair struct {
	StoryPointers
	followedID string
}

func (p failingPair) RefreshPair(ctx context.Context, followerID, followedID string) error {
	if followedID == p.followedID {
		return errors.New("boom")
	}
	return p.StoryPointers.RefreshPair(ctx, followerID, followedID)
}

func TestRefreshFollowedRepairsPointers(t *testing.T) {
	f := newFixture(t)
	f.story("s1", "u1", t0.Add(2*time.Hour))
	f.story("s2", "u2", t0.Add(time.Hour))
	f.story("s3", "u3", t0.Add(time.Hour))
	// Relationships written without their refresh, as after a lost one.
	require.NoError(t, f.svc.write(f.ctx, follow.ErrFollowExists,
		f.svc.Follows.TransactAdd("f1", "u1", domain.FollowStatusFollowing, t0),
		f.svc.Follows.TransactAdd("f1", "u2", domain.FollowStatusFollowing, t0),
		f.svc.Follows.TransactAdd("f1", "u3", domain.FollowStatusRequested, t0)))
	assert.Empty(t, f.pointer("f1", "u1"))

	n, err := f.svc.RefreshFollowed(f.ctx, "f1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, "s1", f.pointer("f1", "u1"))
	assert.Equal(t, "s2", f.pointer("f1", "u2"))
	assert.Empty(t, f.pointer("f1", "u3"))

	n, err = f.svc.RefreshFollowed(f.ctx, "nobody")
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = f.svc.RefreshFollowed(f.ctx, "a/b")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestRefreshFollowedContinuesPastFailures(t *testing.T) {
	f := newFixture(t)
	f.story("s1", "u1", t0.Add(time.Hour))
	f.story("s2", "u2", t0.Add(time.Hour))
	require.NoError(t, f.svc.write(f.ctx, follow.ErrFollowExists,
		f.svc.Follows.TransactAdd("f1", "u1", domain.FollowStatusFollowing, t0),
		f.svc.Follows.TransactAdd("f1", "u2", domain.FollowStatusFollowing, t0)))
	f.svc.Pointers = failingPair{StoryPointers: f.ffs, followedID: "u1"}

	n, err := f.svc.RefreshFollowed(f.ctx, "f1")
	assert.Equal(t, 1, n)
	assert.ErrorIs(t, err, ErrStoryRefresh)
	assert.ErrorContains(t, err, "refresh u1")
	assert.Empty(t, f.pointer("f1", "u1"))
	assert.Equal(t, "s2", f.pointer("f1", "u2"))
	assert.Equal(t, int64(1), f.recs.get(metrics.CounterPointerRefreshErr))
}
