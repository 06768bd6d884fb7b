// Package ffs maintains the followed-first-story pointers: for every follower
// of a user, a copy of that user's completed story that expires soonest.
//
// Pointers are refreshed after each story change by re-deriving the soonest
// story from the expiry index rather than trusting the change event, so
// refreshes converge whatever order they run in relative to the writes that
// triggered them.
package ffs

import (
	"context"
	"fmt"
	"iter"
	"log/slog"

	"github.com/haukened/storyline/internal/domain"
	"github.com/haukened/storyline/internal/kv"
)

// IndexByFollower orders a follower's pointers by expiresAt. It shares GSI-A1
// with other entities under a different partition prefix.
var IndexByFollower = kv.Index{Name: "GSI-A1", PartitionKey: "gsiA1PartitionKey", SortKey: "gsiA1SortKey"}

// Indexes lists the indexes Manager queries.
func Indexes() []kv.Index { return []kv.Index{IndexByFollower} }

const prefix = "followedFirstStory/"

// Key is the primary key of the pointer for a follower/followed pair.
func Key(followerID, followedID string) kv.Key {
	return kv.Key{PartitionKey: prefix + followerID + "/" + followedID, SortKey: "-"}
}

// Posts is the slice of the post engine the manager reads.
type Posts interface {
	NextCompletedPostToExpire(ctx context.Context, userID, excludePostID string) (*domain.Post, error)
}

// Followers enumerates the active followers of a user.
type Followers interface {
	FollowerUserIDs(ctx context.Context, followedID string) iter.Seq2[string, error]
}

// Config holds Manager tunables.
type Config struct {
	// BatchSize is the number of followers refreshed per transaction, at most
	// kv.MaxTransactItems. Zero means kv.MaxTransactItems.
	BatchSize int
	Logger    *slog.Logger
}

// Manager refreshes and lists followed-first-story pointers.
type Manager struct {
	store     kv.Store
	posts     Posts
	followers Followers
	batchSize int
	log       *slog.Logger
}

// New constructs a Manager.
func New(store kv.Store, posts Posts, followers Followers, cfg Config) (*Manager, error) {
	if cfg.BatchSize == 0 {
		cfg.BatchSize = kv.MaxTransactItems
	}
	if cfg.BatchSize < 1 || cfg.BatchSize > kv.MaxTransactItems {
		return nil, domain.InvalidInput("batch size %d outside 1..%d", cfg.BatchSize, kv.MaxTransactItems)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Manager{
		store:     store,
		posts:     posts,
		followers: followers,
		batchSize: cfg.BatchSize,
		log:       cfg.Logger.With("domain", "ffs"),
	}, nil
}

// BatchedFollowerUserIDs groups the followers of followedID into batches of
// at most the configured batch size. Only one batch is held at a time.
func (m *Manager) BatchedFollowerUserIDs(ctx context.Context, followedID string) iter.Seq2[[]string, error] {
	return func(yield func([]string, error) bool) {
		batch := make([]string, 0, m.batchSize)
		for id, err := range m.followers.FollowerUserIDs(ctx, followedID) {
			if err != nil {
				yield(nil, err)
				return
			}
			batch = append(batch, id)
			if len(batch) == m.batchSize {
				if !yield(batch, nil) {
					return
				}
				batch = make([]string, 0, m.batchSize)
			}
		}
		if len(batch) > 0 {
			yield(batch, nil)
		}
	}
}

// RefreshAfterStoryChange brings the pointers of every follower of the story's
// owner up to date after the story changed from prev to now. Either may be
// nil: a nil prev means the story was added, a nil now that it was removed.
// At least one of them must be a story, else domain.ErrNotStory.
// The call may run before or after the write that produced now.
func (m *Manager) RefreshAfterStoryChange(ctx context.Context, prev, now *domain.Post) error {
	if prev == nil && now == nil {
		return domain.InvalidInput("refresh needs the story before or after the change")
	}
	story := now
	if story == nil {
		story = prev
	}
	if prev != nil && now != nil && (prev.ID != now.ID || prev.PostedByUserID != now.PostedByUserID) {
		return domain.InvalidInput("refresh given two different posts %s and %s", prev.ID, now.ID)
	}
	if !prev.IsStory() && !now.IsStory() {
		return fmt.Errorf("%w: %s has no expiry before or after the change", domain.ErrNotStory, story.ID)
	}
	log := m.log.With("action", "refresh", "user_id", story.PostedByUserID, "post_id", story.ID)

	first, err := m.soonest(ctx, story.PostedByUserID, story.ID, now)
	if err != nil {
		return err
	}
	written := 0
	for batch, err := range m.BatchedFollowerUserIDs(ctx, story.PostedByUserID) {
		if err != nil {
			return err
		}
		n, err := m.refreshBatch(ctx, story.PostedByUserID, batch, first)
		if err != nil {
			return err
		}
		written += n
	}
	log.Debug("pointers refreshed", "written", written)
	return nil
}

// soonest derives the owner's soonest completed story. The changed post is
// taken from now rather than from the index, which may not reflect the change yet.
func (m *Manager) soonest(ctx context.Context, ownerID, changedID string, now *domain.Post) (*domain.Post, error) {
	next, err := m.posts.NextCompletedPostToExpire(ctx, ownerID, changedID)
	if err != nil {
		return nil, err
	}
	if !now.IsActiveStory() {
		now = nil
	}
	return domain.SoonestStory(now, next), nil
}

// RefreshPair recomputes the pointer of one follower, e.g. right after they
// start following.
func (m *Manager) RefreshPair(ctx context.Context, followerID, followedID string) error {
	first, err := m.posts.NextCompletedPostToExpire(ctx, followedID, "")
	if err != nil {
		return err
	}
	_, err = m.refreshBatch(ctx, followedID, []string{followerID}, first)
	return err
}

// refreshBatch rewrites the pointers in batch that do not already reflect
// first, in one transaction, and returns how many it wrote.
func (m *Manager) refreshBatch(ctx context.Context, followedID string, batch []string, first *domain.Post) (int, error) {
	keys := make([]kv.Key, 0, len(batch))
	for _, id := range batch {
		keys = append(keys, Key(id, followedID))
	}
	items, err := m.store.BatchGetItems(ctx, keys, kv.Strong)
	if err != nil {
		return 0, err
	}
	current := make(map[string]*domain.FollowedFirstStory, len(items))
	for _, it := range items {
		p, err := decode(it)
		if err != nil {
			return 0, err
		}
		current[p.FollowerUserID] = p
	}

	var ops []kv.TransactItem
	for _, id := range batch {
		if current[id].SameStory(first) {
			continue
		}
		if first == nil {
			ops = append(ops, kv.DeleteOp(Key(id, followedID), kv.Condition{}))
		} else {
			ops = append(ops, kv.PutOp(pointerItem(id, first), kv.Condition{}))
		}
	}
	if len(ops) == 0 {
		return 0, nil
	}
	if err := m.store.TransactWriteItems(ctx, ops); err != nil {
		return 0, fmt.Errorf("write %d followed-first-story pointers: %w", len(ops), err)
	}
	return len(ops), nil
}

// TransactDelete builds the removal of a pointer, for use when the follow
// relationship ends.
func (m *Manager) TransactDelete(followerID, followedID string) kv.TransactItem {
	return kv.DeleteOp(Key(followerID, followedID), kv.Condition{})
}

// Get returns the pointer for a pair, or nil.
func (m *Manager) Get(ctx context.Context, followerID, followedID string) (*domain.FollowedFirstStory, error) {
	it, err := m.store.GetItem(ctx, Key(followerID, followedID), kv.Strong)
	if err != nil || it == nil {
		return nil, err
	}
	return decode(it)
}

// Stories lists a follower's pointers, soonest to expire first.
func (m *Manager) Stories(ctx context.Context, followerID string) iter.Seq2[*domain.FollowedFirstStory, error] {
	q := kv.Query{Index: IndexByFollower, Partition: prefix + followerID}
	return kv.Map(kv.QueryAll(ctx, m.store, q), decode)
}

func pointerItem(followerID string, p *domain.Post) kv.Item {
	key := Key(followerID, p.PostedByUserID)
	expiresAt := domain.FormatTime(*p.ExpiresAt)
	return kv.Item{
		kv.PartitionKeyAttr:          key.PartitionKey,
		kv.SortKeyAttr:               key.SortKey,
		"schemaVersion":              float64(1),
		"followerUserId":             followerID,
		"postId":                     p.ID,
		"postedByUserId":             p.PostedByUserID,
		"postType":                   string(p.PostType),
		"postedAt":                   domain.FormatTime(p.PostedAt),
		"expiresAt":                  expiresAt,
		IndexByFollower.PartitionKey: prefix + followerID,
		IndexByFollower.SortKey:      expiresAt,
	}
}

func decode(it kv.Item) (*domain.FollowedFirstStory, error) {
	var f domain.FollowedFirstStory
	if err := domain.DecodeRecord(it, &f); err != nil {
		return nil, err
	}
	return &f, nil
}
