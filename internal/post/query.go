package post

import (
	"context"
	"iter"
	"slices"
	"strings"
	"time"

	"github.com/haukened/storyline/internal/domain"
	"github.com/haukened/storyline/internal/kv"
)

// batchGetLimit is the largest key set one BatchGetItems call is given.
const batchGetLimit = 100

var keyProjection = []string{kv.PartitionKeyAttr, kv.SortKeyAttr}

func (e *Engine) posts(ctx context.Context, q kv.Query) iter.Seq2[*domain.Post, error] {
	return kv.Map(kv.QueryAll(ctx, e.store, q), Decode)
}

func keys(seq iter.Seq2[kv.Item, error]) iter.Seq2[kv.Key, error] {
	return kv.Map(seq, func(it kv.Item) (kv.Key, error) { return it.Key(), nil })
}

// PostsByUser lists an owner's posts ordered by status then postedAt. A
// non-nil completed keeps only completed (true) or not completed (false) posts.
func (e *Engine) PostsByUser(ctx context.Context, userID string, completed *bool) iter.Seq2[*domain.Post, error] {
	q := kv.Query{Index: IndexByOwner, Partition: ownerPartition(userID)}
	if completed != nil {
		if *completed {
			q.Filter = kv.Equal(attrPostStatus, string(domain.PostStatusCompleted))
		} else {
			q.Filter = kv.NotEqual(attrPostStatus, string(domain.PostStatusCompleted))
		}
	}
	return e.posts(ctx, q)
}

// PostsByUserOfType lists an owner's posts in status of type typ, oldest first.
func (e *Engine) PostsByUserOfType(ctx context.Context, userID string, status domain.PostStatus, typ domain.PostType) iter.Seq2[*domain.Post, error] {
	return e.posts(ctx, kv.Query{
		Index:     IndexByOwnerType,
		Partition: ownerPartition(userID),
		Sort:      kv.SortBeginsWith(string(status) + "/" + string(typ) + "/"),
	})
}

// NextCompletedPostToExpire returns the owner's completed story with the
// soonest expiry, skipping excludePostID when non-empty, or nil.
func (e *Engine) NextCompletedPostToExpire(ctx context.Context, userID, excludePostID string) (*domain.Post, error) {
	q := kv.Query{
		Index:     IndexExpiryByOwner,
		Partition: ownerPartition(userID),
		Sort:      kv.SortBeginsWith(string(domain.PostStatusCompleted) + "/"),
	}
	if excludePostID != "" {
		q.Filter = kv.NotEqual(attrPostID, excludePostID)
	}
	it, err := kv.QueryHead(ctx, e.store, q)
	if err != nil || it == nil {
		return nil, err
	}
	return Decode(it)
}

// ExpiredPostKeysByDay lists the keys of stories expiring on the UTC day of
// day. With a cutoff, only stories expiring strictly before the cutoff's time
// of day are listed.
func (e *Engine) ExpiredPostKeysByDay(ctx context.Context, day time.Time, cutoff *time.Time) iter.Seq2[kv.Key, error] {
	q := kv.Query{Index: IndexExpiryByDay, Partition: dayPartition(day), Projection: keyProjection}
	if cutoff != nil {
		q.Sort = kv.SortLessThan(domain.FormatTimeOfDay(*cutoff))
	}
	return keys(kv.QueryAll(ctx, e.store, q))
}

// ExpiredPostKeysWithScan scans the whole table for stories expiring before
// the UTC day of cutoffDate. Stories expiring on that day are not included.
func (e *Engine) ExpiredPostKeysWithScan(ctx context.Context, cutoffDate time.Time) iter.Seq2[kv.Key, error] {
	return keys(kv.ScanAll(ctx, e.store, kv.Scan{
		Filter: kv.And(
			kv.BeginsWith(kv.PartitionKeyAttr, postPrefix),
			kv.LessThan(attrExpiresAt, domain.FormatDay(cutoffDate)),
		),
		Projection: keyProjection,
	}))
}

// GetFirstWithChecksum returns the id and postedAt of the earliest post with
// checksum, or an empty id.
func (e *Engine) GetFirstWithChecksum(ctx context.Context, checksum string) (string, time.Time, error) {
	it, err := kv.QueryHead(ctx, e.store, kv.Query{Index: IndexChecksum, Partition: checksumPrefix + checksum})
	if err != nil || it == nil {
		return "", time.Time{}, err
	}
	id, _ := IDFromKey(it.Key())
	postedAt, err := domain.ParseTime(it.String(IndexChecksum.SortKey))
	if err != nil {
		return "", time.Time{}, err
	}
	return id, postedAt, nil
}

// AlbumQuery restricts an album membership listing. Completed and AfterRank
// both restrict the rank and cannot be combined.
type AlbumQuery struct {
	// Completed keeps ranked (true) or unranked (false) members.
	Completed *bool
	// AfterRank keeps members ranked strictly above the cursor.
	AfterRank *float64
}

// PostIDsInAlbum lists album members in ascending rank, unranked members
// first. An invalid query fails before the store is touched.
func (e *Engine) PostIDsInAlbum(ctx context.Context, albumID string, aq AlbumQuery) (iter.Seq2[string, error], error) {
	if aq.Completed != nil && aq.AfterRank != nil {
		return nil, domain.InvalidInput("album query cannot combine completed and after rank")
	}
	q := kv.Query{Index: IndexAlbumRank, Partition: albumPartition(albumID), Projection: keyProjection}
	switch {
	case aq.Completed != nil && *aq.Completed:
		q.Sort = kv.SortGreaterThan(domain.UnrankedAlbumRank)
	case aq.Completed != nil:
		q.Sort = kv.SortEqual(domain.UnrankedAlbumRank)
	case aq.AfterRank != nil:
		q.Sort = kv.SortGreaterThan(*aq.AfterRank)
	}
	return kv.Map(kv.QueryAll(ctx, e.store, q), func(it kv.Item) (string, error) {
		return strings.TrimPrefix(it.String(kv.PartitionKeyAttr), postPrefix), nil
	}), nil
}

// PostedByUserIDs returns the owners of the posts that exist among postIDs,
// in no particular order.
func (e *Engine) PostedByUserIDs(ctx context.Context, postIDs []string) ([]string, error) {
	var out []string
	for chunk := range slices.Chunk(postIDs, batchGetLimit) {
		ks := make([]kv.Key, 0, len(chunk))
		for _, id := range chunk {
			ks = append(ks, Key(id))
		}
		items, err := e.store.BatchGetItems(ctx, ks, kv.Eventual, attrPostedByUserID)
		if err != nil {
			return nil, err
		}
		for _, it := range items {
			out = append(out, it.String(attrPostedByUserID))
		}
	}
	return out, nil
}

// PostsWithUnviewedComments lists an owner's posts that have comments the
// owner has not viewed, oldest activity first.
func (e *Engine) PostsWithUnviewedComments(ctx context.Context, userID string) iter.Seq2[*domain.Post, error] {
	return e.posts(ctx, kv.Query{Index: IndexUnviewedComments, Partition: ownerPartition(userID)})
}
