// Package app contains the application orchestration layer for storyline. It
// composes post, follow and followed-first-story operations into store
// transactions and refreshes the followed-first-story pointers after every
// change that can move a user's soonest-expiring story.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/haukened/storyline/internal/domain"
	"github.com/haukened/storyline/internal/follow"
	"github.com/haukened/storyline/internal/kv"
	"github.com/haukened/storyline/internal/metrics"
	"github.com/haukened/storyline/internal/post"
)

// ErrStoryRefresh indicates the post write committed but the follower pointers
// could not be refreshed. Re-issuing the same operation, or the next change to
// any of the owner's stories, brings them back in line.
var ErrStoryRefresh = errors.New("story pointers not refreshed")

// ErrIllegalTransition indicates the requested status change is not allowed
// from the post's current status.
var ErrIllegalTransition = fmt.Errorf("%w: illegal status transition", domain.ErrPreconditionFailed)

// transitions lists the statuses reachable through SetPostStatus. DELETING is
// only entered through DeletePost.
var transitions = map[domain.PostStatus][]domain.PostStatus{
	domain.PostStatusPending:    {domain.PostStatusProcessing, domain.PostStatusCompleted, domain.PostStatusError},
	domain.PostStatusProcessing: {domain.PostStatusCompleted, domain.PostStatusError},
	domain.PostStatusCompleted:  {domain.PostStatusArchived},
	domain.PostStatusArchived:   {domain.PostStatusCompleted},
}

// Service orchestrates post lifecycle changes, follow relationships and the
// followed-first-story pointers that depend on both.
type Service struct {
	Posts    *post.Engine
	Follows  *follow.Store
	Pointers StoryPointers
	Clock    Clock
	Metrics  Recorder
	Logger   *slog.Logger
}

func (s *Service) log() *slog.Logger {
	if s.Logger == nil {
		return slog.Default().With("domain", "app")
	}
	return s.Logger.With("domain", "app")
}

func (s *Service) now() time.Time {
	if s.Clock == nil {
		return SystemClock{}.Now()
	}
	return s.Clock.Now()
}

func (s *Service) inc(name string) {
	if s.Metrics != nil {
		s.Metrics.Inc(name, 1)
	}
}

// AddPost creates a PENDING post, with its original metadata record when
// metadata is non-empty. A missing id is generated and a zero PostedAt is
// taken from the clock.
func (s *Service) AddPost(ctx context.Context, np post.NewPost, metadata string) (*domain.Post, error) {
	if np.ID == "" {
		np.ID = domain.NewID()
	}
	if np.PostedAt.IsZero() {
		np.PostedAt = s.now()
	}
	p, err := s.Posts.AddPending(ctx, np, metadata)
	if err != nil {
		return nil, err
	}
	s.inc(metrics.CounterPostsCreated)
	s.log().Debug("post added", "action", "add", "post_id", p.ID, "user_id", p.PostedByUserID)
	return p, nil
}

// SetPostStatus moves a post to status (complete, archive, restore or error)
// and refreshes the owner's followers when the post is a story.
func (s *Service) SetPostStatus(ctx context.Context, postID string, status domain.PostStatus, opts post.StatusOptions) (*domain.Post, error) {
	prev, err := s.Posts.MustGet(ctx, postID, kv.Strong)
	if err != nil {
		return nil, err
	}
	if !canTransition(prev.PostStatus, status) {
		return nil, fmt.Errorf("%w: %s to %s", ErrIllegalTransition, prev.PostStatus, status)
	}
	if err := s.setStatus(ctx, prev, status, opts); err != nil {
		return nil, err
	}
	now, err := s.Posts.MustGet(ctx, postID, kv.Strong)
	if err != nil {
		return nil, err
	}
	s.inc(metrics.CounterStatusChanges)
	return now, s.refresh(ctx, prev, now)
}

func canTransition(from, to domain.PostStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func (s *Service) setStatus(ctx context.Context, p *domain.Post, status domain.PostStatus, opts post.StatusOptions) error {
	op, err := s.Posts.TransactSetStatus(p, status, opts)
	if err != nil {
		return err
	}
	return s.write(ctx, domain.ErrStatusConflict, op)
}

// write runs ops in one transaction. A canceled transaction is reported as
// canceled, which wraps the store error.
func (s *Service) write(ctx context.Context, canceled error, ops ...kv.TransactItem) error {
	err := s.Posts.Store().TransactWriteItems(ctx, ops)
	if errors.Is(err, kv.ErrTransactionCanceled) {
		return fmt.Errorf("%w: %w", canceled, err)
	}
	return err
}

// SetExpiresAt makes a post a story expiring at expiresAt, or moves its expiry.
func (s *Service) SetExpiresAt(ctx context.Context, postID string, expiresAt time.Time) (*domain.Post, error) {
	prev, err := s.Posts.MustGet(ctx, postID, kv.Strong)
	if err != nil {
		return nil, err
	}
	now, err := s.Posts.SetExpiresAt(ctx, prev, expiresAt)
	if err != nil {
		return nil, err
	}
	return now, s.refresh(ctx, prev, now)
}

// RemoveExpiresAt turns a story back into a regular post.
func (s *Service) RemoveExpiresAt(ctx context.Context, postID string) (*domain.Post, error) {
	prev, err := s.Posts.MustGet(ctx, postID, kv.Strong)
	if err != nil {
		return nil, err
	}
	now, err := s.Posts.RemoveExpiresAt(ctx, postID)
	if err != nil {
		return nil, err
	}
	return now, s.refresh(ctx, prev, now)
}

// SetAlbum moves a post into albumID, or out of its album when albumID is
// empty. rank applies only to completed posts.
func (s *Service) SetAlbum(ctx context.Context, postID, albumID string, rank *float64) (*domain.Post, error) {
	prev, err := s.Posts.MustGet(ctx, postID, kv.Strong)
	if err != nil {
		return nil, err
	}
	op, err := s.Posts.TransactSetAlbum(prev, albumID, rank)
	if err != nil {
		return nil, err
	}
	if err := s.write(ctx, domain.ErrStatusConflict, op); err != nil {
		return nil, err
	}
	return s.Posts.MustGet(ctx, postID, kv.Strong)
}

// SetAlbumRank reorders a post within its album.
func (s *Service) SetAlbumRank(ctx context.Context, postID string, rank float64) (*domain.Post, error) {
	if rank <= domain.UnrankedAlbumRank {
		return nil, domain.InvalidInput("album rank %v is reserved for unranked members", rank)
	}
	if err := s.write(ctx, domain.ErrPostNotFound, s.Posts.TransactSetAlbumRank(postID, rank)); err != nil {
		return nil, err
	}
	return s.Posts.MustGet(ctx, postID, kv.Strong)
}

// DeletePost moves a post to DELETING, refreshes the owner's followers if it
// was a story, then removes the post and its original metadata together. A
// post already in DELETING resumes at the refresh, so a failed delete can be
// retried.
func (s *Service) DeletePost(ctx context.Context, postID string) error {
	p, err := s.Posts.MustGet(ctx, postID, kv.Strong)
	if err != nil {
		return err
	}
	if p.PostStatus != domain.PostStatusDeleting {
		if err := s.setStatus(ctx, p, domain.PostStatusDeleting, post.StatusOptions{}); err != nil {
			return err
		}
	}
	if p.IsStory() {
		if err := s.refresh(ctx, p, nil); err != nil {
			return err
		}
	}
	err = s.write(ctx, domain.ErrStatusConflict,
		s.Posts.TransactDelete(postID, domain.PostStatusDeleting),
		s.Posts.TransactDeleteOriginalMetadata(postID))
	if err != nil {
		return err
	}
	s.inc(metrics.CounterPostsDeleted)
	s.log().Debug("post deleted", "action", "delete", "post_id", postID, "user_id", p.PostedByUserID)
	return nil
}

// refresh updates the owner's followers when p was or has become a completed
// story. now is nil once the post is gone.
func (s *Service) refresh(ctx context.Context, prev, now *domain.Post) error {
	if !prev.IsActiveStory() && !now.IsActiveStory() && now != nil {
		return nil
	}
	if err := s.Pointers.RefreshAfterStoryChange(ctx, prev, now); err != nil {
		s.inc(metrics.CounterPointerRefreshErr)
		s.log().Error("refresh followed-first-story pointers", "action", "refresh", "post_id", prev.ID, "err", err)
		return fmt.Errorf("%w: %w", ErrStoryRefresh, err)
	}
	s.inc(metrics.CounterPointerRefreshes)
	return nil
}

// ExpireStories deletes the stories that expired by now: everything in
// yesterday's day shard and the part of today's shard before now. Stories
// older than yesterday are left to ExpireStoriesWithScan.
func (s *Service) ExpireStories(ctx context.Context, now time.Time) (int, error) {
	yesterday := now.AddDate(0, 0, -1)
	var ids []string
	for _, shard := range []struct {
		day    time.Time
		cutoff *time.Time
	}{{day: yesterday}, {day: now, cutoff: &now}} {
		for k, err := range s.Posts.ExpiredPostKeysByDay(ctx, shard.day, shard.cutoff) {
			if err != nil {
				return 0, err
			}
			if id, ok := post.IDFromKey(k); ok {
				ids = append(ids, id)
			}
		}
	}
	return s.expire(ctx, ids, now)
}

// ExpireStoriesWithScan deletes every story that expired before the start of
// cutoffDate, reading the whole table.
func (s *Service) ExpireStoriesWithScan(ctx context.Context, cutoffDate time.Time) (int, error) {
	var ids []string
	for k, err := range s.Posts.ExpiredPostKeysWithScan(ctx, cutoffDate) {
		if err != nil {
			return 0, err
		}
		if id, ok := post.IDFromKey(k); ok {
			ids = append(ids, id)
		}
	}
	return s.expire(ctx, ids, s.now())
}

// expire deletes each listed post that is still a story expired by now. A
// failure on one post does not stop the others.
func (s *Service) expire(ctx context.Context, ids []string, now time.Time) (int, error) {
	log := s.log().With("action", "expire")
	var errs []error
	n := 0
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		p, err := s.Posts.Get(ctx, id, kv.Strong)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if !p.IsStory() || p.ExpiresAt.After(now) {
			continue
		}
		if err := s.DeletePost(ctx, id); err != nil {
			log.Warn("expire story", "post_id", id, "err", err)
			errs = append(errs, fmt.Errorf("expire %s: %w", id, err))
			continue
		}
		n++
		s.inc(metrics.CounterStoriesExpired)
	}
	return n, errors.Join(errs...)
}

// Follow records that followerID follows followedID. A FOLLOWING relationship
// immediately receives the followed user's soonest story.
func (s *Service) Follow(ctx context.Context, followerID, followedID string, status domain.FollowStatus) error {
	if !domain.ValidID(followerID) || !domain.ValidID(followedID) || followerID == followedID {
		return domain.InvalidInput("cannot record follow of %q by %q", followedID, followerID)
	}
	if err := s.write(ctx, follow.ErrFollowExists, s.Follows.TransactAdd(followerID, followedID, status, s.now())); err != nil {
		return err
	}
	s.inc(metrics.CounterFollows)
	if status != domain.FollowStatusFollowing {
		return nil
	}
	return s.refreshPair(ctx, followerID, followedID)
}

// ApproveFollow moves a REQUESTED relationship to FOLLOWING and seeds the
// follower's pointer.
func (s *Service) ApproveFollow(ctx context.Context, followerID, followedID string) error {
	f, err := s.Follows.Get(ctx, followerID, followedID)
	if err != nil {
		return err
	}
	if f == nil {
		return follow.ErrFollowNotFound
	}
	if f.Status != domain.FollowStatusRequested {
		return fmt.Errorf("%w: follow is %s", domain.ErrPreconditionFailed, f.Status)
	}
	if err := s.write(ctx, domain.ErrPreconditionFailed, s.Follows.TransactSetStatus(f, domain.FollowStatusFollowing)); err != nil {
		return err
	}
	return s.refreshPair(ctx, followerID, followedID)
}

func (s *Service) refreshPair(ctx context.Context, followerID, followedID string) error {
	if err := s.Pointers.RefreshPair(ctx, followerID, followedID); err != nil {
		s.inc(metrics.CounterPointerRefreshErr)
		s.log().Error("seed followed-first-story pointer", "action", "refresh", "follower_id", followerID, "followed_id", followedID, "err", err)
		return fmt.Errorf("%w: %w", ErrStoryRefresh, err)
	}
	s.inc(metrics.CounterPointerRefreshes)
	return nil
}

// RefreshFollowed recomputes the pointer of every user followerID follows,
// repairing a follower whose pointers missed a refresh reported through
// ErrStoryRefresh. A failing pair does not stop the others; the count of
// refreshed pairs is returned with the joined failures.
func (s *Service) RefreshFollowed(ctx context.Context, followerID string) (int, error) {
	if !domain.ValidID(followerID) {
		return 0, domain.InvalidInput("cannot refresh pointers of %q", followerID)
	}
	var errs []error
	n := 0
	for followedID, err := range s.Follows.FollowedUserIDs(ctx, followerID) {
		if err != nil {
			errs = append(errs, err)
			break
		}
		if err := s.refreshPair(ctx, followerID, followedID); err != nil {
			errs = append(errs, fmt.Errorf("refresh %s: %w", followedID, err))
			continue
		}
		n++
	}
	return n, errors.Join(errs...)
}

// Unfollow removes the relationship and the pair's pointer together.
func (s *Service) Unfollow(ctx context.Context, followerID, followedID string) error {
	err := s.write(ctx, follow.ErrFollowNotFound,
		s.Follows.TransactDelete(followerID, followedID),
		s.Pointers.TransactDelete(followerID, followedID))
	if err != nil {
		return err
	}
	s.inc(metrics.CounterUnfollows)
	return nil
}
