// Package follow stores follow relationships so the followers of a user can be
// enumerated. Requesting, approving and blocking are decided elsewhere; this
// package only records the outcome.
package follow

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"
	"time"

	"github.com/haukened/storyline/internal/domain"
	"github.com/haukened/storyline/internal/kv"
)

var (
	// IndexByFollower orders the users a follower follows by status then followedAt.
	IndexByFollower = kv.Index{Name: "GSI-A1", PartitionKey: "gsiA1PartitionKey", SortKey: "gsiA1SortKey"}
	// IndexByFollowed orders the followers of a user by status then followedAt.
	IndexByFollowed = kv.Index{Name: "GSI-B1", PartitionKey: "gsiB1PartitionKey", SortKey: "gsiB1SortKey"}
)

// Indexes lists the indexes Store queries.
func Indexes() []kv.Index { return []kv.Index{IndexByFollower, IndexByFollowed} }

// ErrFollowExists is returned when the relationship is already recorded.
var ErrFollowExists = fmt.Errorf("%w: follow already exists", domain.ErrPreconditionFailed)

// ErrFollowNotFound is returned when the relationship is not recorded.
var ErrFollowNotFound = errors.New("follow not found")

// Follow is one directed relationship.
type Follow struct {
	FollowerUserID string              `mapstructure:"followerUserId"`
	FollowedUserID string              `mapstructure:"followedUserId"`
	Status         domain.FollowStatus `mapstructure:"followStatus"`
	FollowedAt     time.Time           `mapstructure:"followedAt"`
}

// Key is the primary key of the follow record.
func Key(followerID, followedID string) kv.Key {
	return kv.Key{PartitionKey: "user/" + followerID, SortKey: "follow/" + followedID}
}

// Store reads and writes follow records.
type Store struct {
	store kv.Store
}

// New returns a Store backed by s.
func New(s kv.Store) *Store { return &Store{store: s} }

func statusSortKey(status domain.FollowStatus, at string) string { return string(status) + "/" + at }

// TransactAdd builds the insert of a new relationship.
func (s *Store) TransactAdd(followerID, followedID string, status domain.FollowStatus, at time.Time) kv.TransactItem {
	key := Key(followerID, followedID)
	ts := domain.FormatTime(at)
	return kv.PutOp(kv.Item{
		kv.PartitionKeyAttr:          key.PartitionKey,
		kv.SortKeyAttr:               key.SortKey,
		"schemaVersion":              float64(1),
		"followerUserId":             followerID,
		"followedUserId":             followedID,
		"followStatus":               string(status),
		"followedAt":                 ts,
		IndexByFollower.PartitionKey: "follower/" + followerID,
		IndexByFollower.SortKey:      statusSortKey(status, ts),
		IndexByFollowed.PartitionKey: "followed/" + followedID,
		IndexByFollowed.SortKey:      statusSortKey(status, ts),
	}, kv.ItemNotExists())
}

// TransactSetStatus builds a status change of f, guarded on the stored status
// still being f.Status.
func (s *Store) TransactSetStatus(f *Follow, status domain.FollowStatus) kv.TransactItem {
	ts := domain.FormatTime(f.FollowedAt)
	upd := kv.NewUpdate().
		Set("followStatus", string(status)).
		Set(IndexByFollower.SortKey, statusSortKey(status, ts)).
		Set(IndexByFollowed.SortKey, statusSortKey(status, ts))
	return kv.UpdateOp(Key(f.FollowerUserID, f.FollowedUserID), upd,
		kv.ItemExists().And(kv.Equal("followStatus", string(f.Status))))
}

// TransactDelete builds the removal of an existing relationship.
func (s *Store) TransactDelete(followerID, followedID string) kv.TransactItem {
	return kv.DeleteOp(Key(followerID, followedID), kv.ItemExists())
}

// Get returns the relationship or nil.
func (s *Store) Get(ctx context.Context, followerID, followedID string) (*Follow, error) {
	it, err := s.store.GetItem(ctx, Key(followerID, followedID), kv.Strong)
	if err != nil || it == nil {
		return nil, err
	}
	var f Follow
	if err := domain.DecodeRecord(it, &f); err != nil {
		return nil, err
	}
	return &f, nil
}

// FollowerUserIDs lists the users following followedID with status FOLLOWING,
// in the order they started following.
func (s *Store) FollowerUserIDs(ctx context.Context, followedID string) iter.Seq2[string, error] {
	return s.ids(ctx, IndexByFollowed, "followed/"+followedID, "followerUserId")
}

// FollowedUserIDs lists the users followerID follows with status FOLLOWING.
func (s *Store) FollowedUserIDs(ctx context.Context, followerID string) iter.Seq2[string, error] {
	return s.ids(ctx, IndexByFollower, "follower/"+followerID, "followedUserId")
}

func (s *Store) ids(ctx context.Context, ix kv.Index, partition, attr string) iter.Seq2[string, error] {
	q := kv.Query{
		Index:      ix,
		Partition:  partition,
		Sort:       kv.SortBeginsWith(string(domain.FollowStatusFollowing) + "/"),
		Projection: []string{attr},
	}
	return kv.Map(kv.QueryAll(ctx, s.store, q), func(it kv.Item) (string, error) {
		id := it.String(attr)
		if strings.TrimSpace(id) == "" {
			return "", fmt.Errorf("follow record in %s has no %s", partition, attr)
		}
		return id, nil
	})
}
