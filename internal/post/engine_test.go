package post

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haukened/storyline/internal/domain"
	"github.com/haukened/storyline/internal/kv"
	"github.com/haukened/storyline/internal/kv/kvtest"
)

var t0 = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

func ptr[T any](v T) *T { return &v }

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	return New(kvtest.OpenStore(t, Indexes()...), nil)
}

// addPost creates a pending post, filling in the required attributes the
// caller left empty.
func addPost(t *testing.T, e *Engine, np NewPost) *domain.Post {
	t.Helper()
	if np.PostedByUserID == "" {
		np.PostedByUserID = "u1"
	}
	if np.PostType == "" {
		np.PostType = domain.PostTypeTextOnly
	}
	if np.PostedAt.IsZero() {
		np.PostedAt = t0
	}
	p, err := e.AddPending(context.Background(), np, "")
	require.NoError(t, err)
	return p
}

func setStatus(t *testing.T, e *Engine, p *domain.Post, status domain.PostStatus, opts StatusOptions) *domain.Post {
	t.Helper()
	ctx := context.Background()
	op, err := e.TransactSetStatus(p, status, opts)
	require.NoError(t, err)
	require.NoError(t, e.Store().TransactWriteItems(ctx, []kv.TransactItem{op}))
	out, err := e.MustGet(ctx, p.ID, kv.Strong)
	require.NoError(t, err)
	return out
}

func rawItem(t *testing.T, e *Engine, postID string) kv.Item {
	t.Helper()
	it, err := e.Store().GetItem(context.Background(), Key(postID), kv.Strong)
	require.NoError(t, err)
	require.NotNil(t, it)
	return it
}

func TestAddPendingAndGet(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	expires := t0.Add(24 * time.Hour)

	p, err := e.AddPending(ctx, NewPost{
		ID:               "p1",
		PostedByUserID:   "u1",
		PostType:         domain.PostTypeImage,
		PostedAt:         t0,
		ExpiresAt:        &expires,
		AlbumID:          "aid",
		Text:             "hi @bob",
		TextTags:         []domain.TextTag{{Tag: "@bob", UserID: "bob-id"}},
		CommentsDisabled: ptr(true),
		LikesDisabled:    ptr(false),
	}, "{\"w\":1}")
	require.NoError(t, err)

	want := &domain.Post{
		ID:               "p1",
		PostedByUserID:   "u1",
		PostType:         domain.PostTypeImage,
		PostStatus:       domain.PostStatusPending,
		PostedAt:         t0,
		ExpiresAt:        &expires,
		AlbumID:          "aid",
		AlbumRank:        ptr(domain.UnrankedAlbumRank),
		Text:             "hi @bob",
		TextTags:         []domain.TextTag{{Tag: "@bob", UserID: "bob-id"}},
		CommentsDisabled: ptr(true),
		LikesDisabled:    ptr(false),
	}
	if diff := cmp.Diff(want, p); diff != "" {
		t.Fatalf("post mismatch (-want +got):\n%s", diff)
	}

	it := rawItem(t, e, "p1")
	assert.Equal(t, "post/u1", it["gsiA2PartitionKey"])
	assert.Equal(t, "PENDING/2026-03-14T09:00:00.000000Z", it["gsiA2SortKey"])
	assert.Equal(t, "PENDING/IMAGE/2026-03-14T09:00:00.000000Z", it["gsiA3SortKey"])
	assert.Equal(t, "PENDING/2026-03-15T09:00:00.000000Z", it["gsiA1SortKey"])
	assert.Equal(t, "post/2026-03-15", it["gsiK1PartitionKey"])
	assert.Equal(t, "09:00:00.000000", it["gsiK1SortKey"])
	assert.Equal(t, "post/aid", it["gsiK3PartitionKey"])

	md, ok, err := e.GetOriginalMetadata(ctx, "p1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "{\"w\":1}", md)

	require.NoError(t, e.DeleteOriginalMetadata(ctx, "p1"))
	_, ok, err = e.GetOriginalMetadata(ctx, "p1")
	require.NoError(t, err)
	assert.False(t, ok)

	missing, err := e.Get(ctx, "nope", kv.Eventual)
	require.NoError(t, err)
	assert.Nil(t, missing)
	_, err = e.MustGet(ctx, "nope", kv.Eventual)
	assert.ErrorIs(t, err, domain.ErrPostNotFound)
}

func TestAddPendingSkipsEmptyOptionalAttributes(t *testing.T) {
	e := newTestEngine(t)
	p := addPost(t, e, NewPost{ID: "p1", TextTags: []domain.TextTag{{Tag: "@x", UserID: "x"}}})
	it := rawItem(t, e, p.ID)
	for _, name := range []string{attrText, attrTextTags, attrExpiresAt, attrAlbumID, "gsiA1PartitionKey", "gsiK1PartitionKey", "gsiK3PartitionKey"} {
		assert.NotContains(t, it, name)
	}
}

func TestAddPendingRejectsDuplicatesAndBadInput(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	addPost(t, e, NewPost{ID: "p1"})

	_, err := e.AddPending(ctx, NewPost{ID: "p1", PostedByUserID: "u2", PostType: domain.PostTypeTextOnly, PostedAt: t0}, "md")
	assert.ErrorIs(t, err, domain.ErrPreconditionFailed)
	assert.ErrorIs(t, err, kv.ErrTransactionCanceled)
	_, ok, err := e.GetOriginalMetadata(ctx, "p1")
	require.NoError(t, err)
	assert.False(t, ok, "metadata must not be written when the post insert fails")

	cases := map[string]NewPost{
		"no id":       {PostedByUserID: "u1", PostType: domain.PostTypeTextOnly, PostedAt: t0},
		"slash in id": {ID: "a/b", PostedByUserID: "u1", PostType: domain.PostTypeTextOnly, PostedAt: t0},
		"bad type":    {ID: "p2", PostedByUserID: "u1", PostType: "GIF", PostedAt: t0},
		"no time":     {ID: "p2", PostedByUserID: "u1", PostType: domain.PostTypeTextOnly},
		"bad tag":     {ID: "p2", PostedByUserID: "u1", PostType: domain.PostTypeTextOnly, PostedAt: t0, Text: "x", TextTags: []domain.TextTag{{Tag: "@x"}}},
	}
	for name, np := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := e.TransactAddPending(np)
			assert.ErrorIs(t, err, domain.ErrInvalidInput)
		})
	}
}

func TestSetStatusWithoutAlbum(t *testing.T) {
	e := newTestEngine(t)
	p := addPost(t, e, NewPost{ID: "p1"})

	_, err := e.TransactSetStatus(p, domain.PostStatusCompleted, StatusOptions{AlbumRank: ptr(0.5)})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	_, err = e.TransactSetStatus(p, "BOGUS", StatusOptions{})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	p = setStatus(t, e, p, domain.PostStatusCompleted, StatusOptions{OriginalPostID: "p0"})
	assert.Equal(t, domain.PostStatusCompleted, p.PostStatus)
	assert.Equal(t, "p0", p.OriginalPostID)
	assert.Nil(t, p.AlbumRank)

	it := rawItem(t, e, "p1")
	assert.Equal(t, "COMPLETED/2026-03-14T09:00:00.000000Z", it["gsiA2SortKey"])
	assert.Equal(t, "COMPLETED/TEXT_ONLY/2026-03-14T09:00:00.000000Z", it["gsiA3SortKey"])
	assert.NotContains(t, it, "gsiK3SortKey")
	assert.NotContains(t, it, "gsiA1SortKey")
}

func TestSetStatusAlbumRankLifecycle(t *testing.T) {
	e := newTestEngine(t)
	p := addPost(t, e, NewPost{ID: "p1", AlbumID: "aid", ExpiresAt: ptr(t0.Add(time.Hour))})
	require.NotNil(t, p.AlbumRank)
	assert.Equal(t, domain.UnrankedAlbumRank, *p.AlbumRank)

	_, err := e.TransactSetStatus(p, domain.PostStatusCompleted, StatusOptions{})
	assert.ErrorIs(t, err, domain.ErrInvalidInput, "completing an album post requires a rank")
	_, err = e.TransactSetStatus(p, domain.PostStatusCompleted, StatusOptions{AlbumRank: ptr(domain.UnrankedAlbumRank)})
	assert.ErrorIs(t, err, domain.ErrInvalidInput, "the sentinel is not a rank")

	p = setStatus(t, e, p, domain.PostStatusCompleted, StatusOptions{AlbumRank: ptr(0.5)})
	assert.Equal(t, 0.5, *p.AlbumRank)
	assert.Equal(t, "COMPLETED/2026-03-14T10:00:00.000000Z", rawItem(t, e, "p1")["gsiA1SortKey"])

	_, err = e.TransactSetStatus(p, domain.PostStatusArchived, StatusOptions{AlbumRank: ptr(0.5)})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	p = setStatus(t, e, p, domain.PostStatusArchived, StatusOptions{})
	assert.Equal(t, domain.UnrankedAlbumRank, *p.AlbumRank)
	it := rawItem(t, e, "p1")
	assert.Equal(t, "ARCHIVED/2026-03-14T09:00:00.000000Z", it["gsiA2SortKey"])
	assert.Equal(t, "ARCHIVED/2026-03-14T10:00:00.000000Z", it["gsiA1SortKey"])
}

func TestSetStatusRejectsStaleCopy(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	stale := addPost(t, e, NewPost{ID: "p1"})
	_, err := e.SetExpiresAt(ctx, stale, t0.Add(time.Hour))
	require.NoError(t, err)

	op, err := e.TransactSetStatus(stale, domain.PostStatusCompleted, StatusOptions{})
	require.NoError(t, err)
	err = e.Store().TransactWriteItems(ctx, []kv.TransactItem{op})
	assert.ErrorIs(t, err, kv.ErrTransactionCanceled)
	assert.Equal(t, string(domain.PostStatusPending), rawItem(t, e, "p1")[attrPostStatus])
}

func TestSetStatusRejectsStaleStatus(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	addPost(t, e, NewPost{ID: "p1"})
	submit := func(p *domain.Post, status domain.PostStatus) error {
		op, err := e.TransactSetStatus(p, status, StatusOptions{})
		require.NoError(t, err)
		return e.Store().TransactWriteItems(ctx, []kv.TransactItem{op})
	}

	pending, err := e.MustGet(ctx, "p1", kv.Strong)
	require.NoError(t, err)
	require.NoError(t, submit(pending, domain.PostStatusCompleted))
	completed, err := e.MustGet(ctx, "p1", kv.Strong)
	require.NoError(t, err)
	require.NoError(t, submit(completed, domain.PostStatusDeleting))

	err = submit(completed, domain.PostStatusArchived)
	assert.ErrorIs(t, err, kv.ErrTransactionCanceled)
	assert.Equal(t, string(domain.PostStatusDeleting), rawItem(t, e, "p1")[attrPostStatus])
}

func TestSetAndRemoveExpiresAt(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	p := addPost(t, e, NewPost{ID: "p1"})
	p = setStatus(t, e, p, domain.PostStatusCompleted, StatusOptions{})

	at := t0.Add(26 * time.Hour)
	got, err := e.SetExpiresAt(ctx, p, at)
	require.NoError(t, err)
	assert.True(t, got.ExpiresAt.Equal(at))
	it := rawItem(t, e, "p1")
	assert.Equal(t, "post/u1", it["gsiA1PartitionKey"])
	assert.Equal(t, "COMPLETED/2026-03-15T11:00:00.000000Z", it["gsiA1SortKey"])
	assert.Equal(t, "post/2026-03-15", it["gsiK1PartitionKey"])
	assert.Equal(t, "11:00:00.000000", it["gsiK1SortKey"])

	// a copy whose status is stale is refused
	stale := *p
	stale.PostStatus = domain.PostStatusPending
	_, err = e.SetExpiresAt(ctx, &stale, at)
	assert.ErrorIs(t, err, domain.ErrStatusConflict)
	assert.ErrorIs(t, err, domain.ErrPreconditionFailed)

	got, err = e.RemoveExpiresAt(ctx, "p1")
	require.NoError(t, err)
	assert.Nil(t, got.ExpiresAt)
	it = rawItem(t, e, "p1")
	for _, name := range expiryAttrs {
		assert.NotContains(t, it, name)
	}

	_, err = e.RemoveExpiresAt(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrPostNotFound)
	missing, err := e.Get(ctx, "missing", kv.Strong)
	require.NoError(t, err)
	assert.Nil(t, missing, "a failed update must not create the item")
}

func TestSetAlbum(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	run := func(op kv.TransactItem, err error) error {
		require.NoError(t, err)
		return e.Store().TransactWriteItems(ctx, []kv.TransactItem{op})
	}

	pending := addPost(t, e, NewPost{ID: "p1"})
	_, err := e.TransactSetAlbum(pending, "aid", ptr(1.0))
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	require.NoError(t, run(e.TransactSetAlbum(pending, "aid", nil)))
	got, err := e.MustGet(ctx, "p1", kv.Strong)
	require.NoError(t, err)
	assert.Equal(t, "aid", got.AlbumID)
	assert.Equal(t, domain.UnrankedAlbumRank, *got.AlbumRank)

	done := setStatus(t, e, addPost(t, e, NewPost{ID: "p2"}), domain.PostStatusCompleted, StatusOptions{})
	_, err = e.TransactSetAlbum(done, "aid", nil)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	// status moved underneath the caller
	stale := *done
	stale.PostStatus = domain.PostStatusPending
	assert.ErrorIs(t, run(e.TransactSetAlbum(&stale, "aid", nil)), kv.ErrTransactionCanceled)

	require.NoError(t, run(e.TransactSetAlbum(done, "aid", ptr(2.5))))
	got, err = e.MustGet(ctx, "p2", kv.Strong)
	require.NoError(t, err)
	assert.Equal(t, 2.5, *got.AlbumRank)

	require.NoError(t, run(e.TransactSetAlbum(got, "", nil)))
	got, err = e.MustGet(ctx, "p2", kv.Strong)
	require.NoError(t, err)
	assert.Empty(t, got.AlbumID)
	assert.Nil(t, got.AlbumRank)
	assert.NotContains(t, rawItem(t, e, "p2"), "gsiK3PartitionKey")
}

func TestSetAlbumRankIgnoresStatus(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	addPost(t, e, NewPost{ID: "p1", AlbumID: "aid"})

	require.NoError(t, e.Store().TransactWriteItems(ctx, []kv.TransactItem{e.TransactSetAlbumRank("p1", 0.75)}))
	got, err := e.MustGet(ctx, "p1", kv.Strong)
	require.NoError(t, err)
	assert.Equal(t, domain.PostStatusPending, got.PostStatus)
	assert.Equal(t, 0.75, *got.AlbumRank)

	err = e.Store().TransactWriteItems(ctx, []kv.TransactItem{e.TransactSetAlbumRank("missing", 0.75)})
	assert.ErrorIs(t, err, kv.ErrTransactionCanceled)
}

func TestChecksumEarliestWins(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	later := addPost(t, e, NewPost{ID: "later", PostedAt: t0.Add(time.Minute)})
	earlier := addPost(t, e, NewPost{ID: "earlier", PostedAt: t0})

	// insert the later post's checksum first
	_, err := e.SetChecksum(ctx, later.ID, later.PostedAt, "abc")
	require.NoError(t, err)
	_, err = e.SetChecksum(ctx, earlier.ID, earlier.PostedAt, "abc")
	require.NoError(t, err)

	id, postedAt, err := e.GetFirstWithChecksum(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, "earlier", id)
	assert.True(t, postedAt.Equal(t0))

	id, _, err = e.GetFirstWithChecksum(ctx, "zzz")
	require.NoError(t, err)
	assert.Empty(t, id)

	_, err = e.SetChecksum(ctx, "earlier", t0, "")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	_, err = e.SetChecksum(ctx, "missing", t0, "abc")
	assert.ErrorIs(t, err, domain.ErrPostNotFound)
}

func TestSetTextAndFlags(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	addPost(t, e, NewPost{ID: "p1", Text: "old", TextTags: []domain.TextTag{{Tag: "@a", UserID: "a"}}})

	_, err := e.SetTextAndFlags(ctx, "p1", Edit{})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	_, err = e.SetTextAndFlags(ctx, "p1", Edit{TextTags: domain.SetTo([]domain.TextTag{})})
	assert.ErrorIs(t, err, domain.ErrInvalidInput, "tags alone are not an edit")

	p, err := e.SetTextAndFlags(ctx, "p1", Edit{
		Text:     domain.SetTo("new @b"),
		TextTags: domain.SetTo([]domain.TextTag{{Tag: "@b", UserID: "b"}}),
	})
	require.NoError(t, err)
	assert.Equal(t, "new @b", p.Text)
	assert.Equal(t, []domain.TextTag{{Tag: "@b", UserID: "b"}}, p.TextTags)

	p, err = e.SetTextAndFlags(ctx, "p1", Edit{
		CommentsDisabled: domain.SetTo(true),
		SharingDisabled:  domain.SetTo(false),
		TextTags:         domain.SetTo([]domain.TextTag{{Tag: "@c", UserID: "c"}}),
	})
	require.NoError(t, err)
	assert.Equal(t, ptr(true), p.CommentsDisabled)
	assert.Equal(t, ptr(false), p.SharingDisabled)
	assert.Equal(t, []domain.TextTag{{Tag: "@b", UserID: "b"}}, p.TextTags, "tags without text are ignored")

	p, err = e.SetTextAndFlags(ctx, "p1", Edit{Text: domain.SetTo(""), CommentsDisabled: domain.Remove[bool]()})
	require.NoError(t, err)
	assert.Empty(t, p.Text)
	assert.Nil(t, p.TextTags)
	assert.Nil(t, p.CommentsDisabled)

	_, err = e.SetTextAndFlags(ctx, "missing", Edit{LikesDisabled: domain.SetTo(true)})
	assert.ErrorIs(t, err, domain.ErrPostNotFound)

	p, err = e.SetIsVerified(ctx, "p1", true)
	require.NoError(t, err)
	assert.Equal(t, ptr(true), p.IsVerified)
}

func TestCountersNeverGoBelowZero(t *testing.T) {
	var logs bytes.Buffer
	e := New(kvtest.OpenStore(t, Indexes()...), slog.New(slog.NewTextHandler(&logs, nil)))
	ctx := context.Background()
	addPost(t, e, NewPost{ID: "p1"})

	p, err := e.IncrementLikeCount(ctx, "p1", domain.LikeStatusAnonymous)
	require.NoError(t, err)
	assert.EqualValues(t, 1, p.AnonymousLikeCount)
	assert.EqualValues(t, 0, p.OnymousLikeCount)

	p, err = e.DecrementLikeCount(ctx, "p1", domain.LikeStatusAnonymous, FailHard)
	require.NoError(t, err)
	assert.EqualValues(t, 0, p.AnonymousLikeCount)

	_, err = e.DecrementLikeCount(ctx, "p1", domain.LikeStatusAnonymous, FailHard)
	assert.ErrorIs(t, err, domain.ErrCounterFloor)
	assert.ErrorIs(t, err, domain.ErrPreconditionFailed)

	p, err = e.DecrementLikeCount(ctx, "p1", domain.LikeStatusOnymous, FailSoft)
	assert.NoError(t, err)
	assert.Nil(t, p)
	assert.Contains(t, logs.String(), "counter decrement below zero ignored")
	assert.Contains(t, logs.String(), "counter=onymousLikeCount")

	_, err = e.IncrementLikeCount(ctx, "p1", "SUPER_LIKED")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	for _, dec := range []func(context.Context, string, FailMode) (*domain.Post, error){
		e.DecrementCommentCount, e.DecrementCommentsUnviewedCount, e.DecrementFlagCount,
	} {
		_, err := dec(ctx, "p1", FailHard)
		assert.ErrorIs(t, err, domain.ErrCounterFloor)
	}

	got, err := e.MustGet(ctx, "p1", kv.Strong)
	require.NoError(t, err)
	assert.Zero(t, got.AnonymousLikeCount)
	assert.Zero(t, got.OnymousLikeCount)
	assert.Zero(t, got.CommentCount)
	assert.Zero(t, got.FlagCount)
}

func TestCommentAndViewCounters(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	addPost(t, e, NewPost{ID: "p1"})

	_, err := e.IncrementCommentCount(ctx, "p1", true)
	require.NoError(t, err)
	p, err := e.IncrementCommentCount(ctx, "p1", false)
	require.NoError(t, err)
	assert.EqualValues(t, 2, p.CommentCount)
	assert.EqualValues(t, 1, p.CommentsUnviewedCount)

	_, err = e.IncrementCommentCount(ctx, "p1", false)
	require.NoError(t, err)
	p, err = e.DecrementCommentsUnviewedCount(ctx, "p1", FailHard)
	require.NoError(t, err)
	assert.EqualValues(t, 1, p.CommentsUnviewedCount)

	p, err = e.ClearCommentsUnviewedCount(ctx, "p1")
	require.NoError(t, err)
	assert.Zero(t, p.CommentsUnviewedCount)

	p, err = e.IncrementViewedByCount(ctx, "p1")
	require.NoError(t, err)
	assert.EqualValues(t, 1, p.ViewedByCount)
	p, err = e.IncrementFlagCount(ctx, "p1")
	require.NoError(t, err)
	assert.EqualValues(t, 1, p.FlagCount)

	_, err = e.IncrementViewedByCount(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrPostNotFound)
	_, err = e.IncrementFlagCount(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrPostNotFound)
}

func TestTransactCounters(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	addPost(t, e, NewPost{ID: "p1"})
	submit := func(ops ...kv.TransactItem) error { return e.Store().TransactWriteItems(ctx, ops) }

	assert.ErrorIs(t, submit(e.TransactDecrementFlagCount("p1")), kv.ErrTransactionCanceled)
	require.NoError(t, submit(e.TransactIncrementFlagCount("p1")))
	require.NoError(t, submit(e.TransactDecrementFlagCount("p1")))

	inc, err := e.TransactIncrementLikeCount("p1", domain.LikeStatusOnymous)
	require.NoError(t, err)
	require.NoError(t, submit(inc))
	dec, err := e.TransactDecrementLikeCount("p1", domain.LikeStatusOnymous)
	require.NoError(t, err)
	require.NoError(t, submit(dec))
	assert.ErrorIs(t, submit(dec), kv.ErrTransactionCanceled)
	_, err = e.TransactDecrementLikeCount("p1", "nope")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestCommentActivity(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	p1 := addPost(t, e, NewPost{ID: "p1"})
	p2 := addPost(t, e, NewPost{ID: "p2"})
	addPost(t, e, NewPost{ID: "p3", PostedByUserID: "u2"})
	submit := func(op kv.TransactItem) error { return e.Store().TransactWriteItems(ctx, []kv.TransactItem{op}) }

	assert.ErrorIs(t, submit(e.TransactSetHasNewCommentActivity("p1", false)), kv.ErrTransactionCanceled)
	require.NoError(t, submit(e.TransactSetHasNewCommentActivity("p1", true)))
	assert.ErrorIs(t, submit(e.TransactSetHasNewCommentActivity("p1", true)), kv.ErrTransactionCanceled)
	require.NoError(t, submit(e.TransactSetHasNewCommentActivity("p1", false)))

	_, err := e.SetLastUnviewedCommentAt(ctx, p1, ptr(t0.Add(2*time.Hour)))
	require.NoError(t, err)
	_, err = e.SetLastUnviewedCommentAt(ctx, p2, ptr(t0.Add(time.Hour)))
	require.NoError(t, err)

	posts, err := kv.Collect(e.PostsWithUnviewedComments(ctx, "u1"))
	require.NoError(t, err)
	require.Len(t, posts, 2)
	assert.Equal(t, "p2", posts[0].ID)
	assert.Equal(t, "p1", posts[1].ID)

	for range 2 {
		got, err := e.SetLastUnviewedCommentAt(ctx, p2, nil)
		require.NoError(t, err)
		assert.Nil(t, got.LastUnviewedCommentAt)
	}
	posts, err = kv.Collect(e.PostsWithUnviewedComments(ctx, "u1"))
	require.NoError(t, err)
	require.Len(t, posts, 1)
	assert.Equal(t, "p1", posts[0].ID)
}

func TestDelete(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	addPost(t, e, NewPost{ID: "p1"})

	err := e.Store().TransactWriteItems(ctx, []kv.TransactItem{e.TransactDelete("p1", domain.PostStatusDeleting)})
	assert.ErrorIs(t, err, kv.ErrTransactionCanceled)

	require.NoError(t, e.Store().TransactWriteItems(ctx, []kv.TransactItem{
		e.TransactDelete("p1", domain.PostStatusPending),
		e.TransactDeleteOriginalMetadata("p1"),
	}))
	got, err := e.Get(ctx, "p1", kv.Strong)
	require.NoError(t, err)
	assert.Nil(t, got)
	require.NoError(t, e.Delete(ctx, "p1"))
}
