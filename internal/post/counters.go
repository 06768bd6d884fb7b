package post

import (
	"context"
	"errors"
	"fmt"

	"github.com/haukened/storyline/internal/domain"
	"github.com/haukened/storyline/internal/kv"
)

// FailMode selects what a decrement does when the counter is already zero.
type FailMode uint8

const (
	// FailHard returns domain.ErrCounterFloor.
	FailHard FailMode = iota
	// FailSoft logs a warning and returns a nil post and nil error.
	FailSoft
)

// likeCounters maps each like visibility to the counter it moves.
var likeCounters = map[domain.LikeStatus]string{
	domain.LikeStatusOnymous:   attrOnymousLikeCount,
	domain.LikeStatusAnonymous: attrAnonymousLikeCount,
}

func likeCounter(ls domain.LikeStatus) (string, error) {
	name, ok := likeCounters[ls]
	if !ok {
		return "", domain.InvalidInput("unrecognized like status %q", ls)
	}
	return name, nil
}

func incrementOp(postID string, counters ...string) kv.TransactItem {
	upd := kv.NewUpdate()
	for _, c := range counters {
		upd.Add(c, 1)
	}
	return kv.UpdateOp(Key(postID), upd, kv.ItemExists())
}

func decrementOp(postID, counter string) kv.TransactItem {
	upd := kv.NewUpdate().Add(counter, -1)
	return kv.UpdateOp(Key(postID), upd, kv.ItemExists().And(kv.GreaterThan(counter, 0)))
}

func (e *Engine) increment(ctx context.Context, postID string, counters ...string) (*domain.Post, error) {
	op := incrementOp(postID, counters...)
	return e.updatePost(ctx, postID, op.Update, kv.Condition{}, domain.ErrPostNotFound)
}

// decrement lowers counter by one. A missing post and a zero counter are
// indistinguishable to the store; both are reported as ErrCounterFloor.
func (e *Engine) decrement(ctx context.Context, postID, counter string, mode FailMode) (*domain.Post, error) {
	op := decrementOp(postID, counter)
	it, err := e.store.UpdateItem(ctx, op.Key, op.Update, op.Condition)
	if errors.Is(err, kv.ErrConditionalCheckFailed) {
		if mode == FailSoft {
			e.log.Warn("counter decrement below zero ignored",
				"action", "decrement", "post_id", postID, "counter", counter)
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %s on post %s: %w", domain.ErrCounterFloor, counter, postID, err)
	}
	if err != nil {
		return nil, err
	}
	return Decode(it)
}

// IncrementLikeCount bumps the counter selected by the like's visibility.
func (e *Engine) IncrementLikeCount(ctx context.Context, postID string, ls domain.LikeStatus) (*domain.Post, error) {
	name, err := likeCounter(ls)
	if err != nil {
		return nil, err
	}
	return e.increment(ctx, postID, name)
}

// DecrementLikeCount lowers the counter selected by the like's visibility.
func (e *Engine) DecrementLikeCount(ctx context.Context, postID string, ls domain.LikeStatus, mode FailMode) (*domain.Post, error) {
	name, err := likeCounter(ls)
	if err != nil {
		return nil, err
	}
	return e.decrement(ctx, postID, name, mode)
}

// IncrementCommentCount counts a new comment. A comment the owner has not
// viewed also counts toward commentsUnviewedCount.
func (e *Engine) IncrementCommentCount(ctx context.Context, postID string, viewed bool) (*domain.Post, error) {
	if viewed {
		return e.increment(ctx, postID, attrCommentCount)
	}
	return e.increment(ctx, postID, attrCommentCount, attrCommentsUnviewedCount)
}

// DecrementCommentCount lowers commentCount.
func (e *Engine) DecrementCommentCount(ctx context.Context, postID string, mode FailMode) (*domain.Post, error) {
	return e.decrement(ctx, postID, attrCommentCount, mode)
}

// DecrementCommentsUnviewedCount lowers commentsUnviewedCount.
func (e *Engine) DecrementCommentsUnviewedCount(ctx context.Context, postID string, mode FailMode) (*domain.Post, error) {
	return e.decrement(ctx, postID, attrCommentsUnviewedCount, mode)
}

// ClearCommentsUnviewedCount resets commentsUnviewedCount to zero.
func (e *Engine) ClearCommentsUnviewedCount(ctx context.Context, postID string) (*domain.Post, error) {
	return e.updatePost(ctx, postID, kv.NewUpdate().Set(attrCommentsUnviewedCount, float64(0)), kv.Condition{}, domain.ErrPostNotFound)
}

// IncrementFlagCount counts a new flag.
func (e *Engine) IncrementFlagCount(ctx context.Context, postID string) (*domain.Post, error) {
	return e.increment(ctx, postID, attrFlagCount)
}

// DecrementFlagCount lowers flagCount.
func (e *Engine) DecrementFlagCount(ctx context.Context, postID string, mode FailMode) (*domain.Post, error) {
	return e.decrement(ctx, postID, attrFlagCount, mode)
}

// IncrementViewedByCount counts a new distinct viewer.
func (e *Engine) IncrementViewedByCount(ctx context.Context, postID string) (*domain.Post, error) {
	return e.increment(ctx, postID, attrViewedByCount)
}

// TransactIncrementFlagCount builds the flag counter bump so it can commit
// together with the flag record itself.
func (e *Engine) TransactIncrementFlagCount(postID string) kv.TransactItem {
	return incrementOp(postID, attrFlagCount)
}

// TransactDecrementFlagCount builds a floor-guarded flag counter decrement.
func (e *Engine) TransactDecrementFlagCount(postID string) kv.TransactItem {
	return decrementOp(postID, attrFlagCount)
}

// TransactIncrementLikeCount builds a like counter bump.
func (e *Engine) TransactIncrementLikeCount(postID string, ls domain.LikeStatus) (kv.TransactItem, error) {
	name, err := likeCounter(ls)
	if err != nil {
		return kv.TransactItem{}, err
	}
	return incrementOp(postID, name), nil
}

// TransactDecrementLikeCount builds a floor-guarded like counter decrement.
func (e *Engine) TransactDecrementLikeCount(postID string, ls domain.LikeStatus) (kv.TransactItem, error) {
	name, err := likeCounter(ls)
	if err != nil {
		return kv.TransactItem{}, err
	}
	return decrementOp(postID, name), nil
}
