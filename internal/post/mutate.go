package post

import (
	"context"
	"fmt"
	"time"

	"github.com/haukened/storyline/internal/domain"
	"github.com/haukened/storyline/internal/kv"
)

// StatusOptions are the optional attributes of a status change.
type StatusOptions struct {
	// OriginalPostID marks the post as a duplicate of an earlier one.
	OriginalPostID string
	// AlbumRank is required exactly when completing a post that is in an album.
	AlbumRank *float64
}

// matchesStoredShape guards the attributes an update derives index keys from,
// status included, so the keys are never computed from a stale copy of the post.
func matchesStoredShape(p *domain.Post) kv.Condition {
	conds := []kv.Condition{kv.ItemExists(), kv.Equal(attrPostStatus, string(p.PostStatus))}
	if p.ExpiresAt != nil {
		conds = append(conds, kv.Equal(attrExpiresAt, domain.FormatTime(*p.ExpiresAt)))
	} else {
		conds = append(conds, kv.AttributeNotExists(attrExpiresAt))
	}
	if p.AlbumID != "" {
		conds = append(conds, kv.Equal(attrAlbumID, p.AlbumID))
	} else {
		conds = append(conds, kv.AttributeNotExists(attrAlbumID))
	}
	return kv.And(conds...)
}

func checkAlbumRank(albumID string, status domain.PostStatus, rank *float64) error {
	if (rank != nil) != domain.NeedsAlbumRank(albumID, status) {
		return domain.InvalidInput("album rank must be given only for a completed post in an album")
	}
	if rank != nil && *rank <= domain.UnrankedAlbumRank {
		return domain.InvalidInput("album rank %v is reserved for unranked members", *rank)
	}
	return nil
}

// TransactSetStatus builds the status change of p and the matching rewrite of
// every status-qualified index key. Leaving COMPLETED puts an album member
// back to the unranked sentinel.
func (e *Engine) TransactSetStatus(p *domain.Post, status domain.PostStatus, opts StatusOptions) (kv.TransactItem, error) {
	if !status.Valid() {
		return kv.TransactItem{}, domain.InvalidInput("unknown post status %q", status)
	}
	if err := checkAlbumRank(p.AlbumID, status, opts.AlbumRank); err != nil {
		return kv.TransactItem{}, err
	}
	postedAt := domain.FormatTime(p.PostedAt)
	upd := kv.NewUpdate().
		Set(attrPostStatus, string(status)).
		Set(IndexByOwner.SortKey, byOwnerSortKey(status, postedAt)).
		Set(IndexByOwnerType.SortKey, byOwnerTypeSortKey(status, p.PostType, postedAt))
	if opts.OriginalPostID != "" {
		upd.Set(attrOriginalPostID, opts.OriginalPostID)
	}
	if p.AlbumID != "" {
		rank := domain.UnrankedAlbumRank
		if opts.AlbumRank != nil {
			rank = *opts.AlbumRank
		}
		upd.Set(IndexAlbumRank.SortKey, rank)
	}
	if p.ExpiresAt != nil {
		upd.Set(IndexExpiryByOwner.SortKey, expiryByOwnerSortKey(status, domain.FormatTime(*p.ExpiresAt)))
	}
	return kv.UpdateOp(Key(p.ID), upd, matchesStoredShape(p)), nil
}

// SetExpiresAt turns p into a story expiring at expiresAt, or moves its
// expiry. It fails with domain.ErrStatusConflict if the stored status no
// longer matches p.
func (e *Engine) SetExpiresAt(ctx context.Context, p *domain.Post, expiresAt time.Time) (*domain.Post, error) {
	upd := setExpiry(kv.NewUpdate(), p.PostedByUserID, p.PostStatus, expiresAt)
	return e.updatePost(ctx, p.ID, upd, kv.Equal(attrPostStatus, string(p.PostStatus)), domain.ErrStatusConflict)
}

// RemoveExpiresAt drops the expiry and both expiry projections.
func (e *Engine) RemoveExpiresAt(ctx context.Context, postID string) (*domain.Post, error) {
	upd := kv.NewUpdate().Remove(expiryAttrs...)
	return e.updatePost(ctx, postID, upd, kv.Condition{}, domain.ErrPostNotFound)
}

// TransactSetAlbum builds the move of p into albumID, or out of its album when
// albumID is empty. Joining an album is guarded on the stored status still
// matching p, since that status decides whether the post is ranked.
func (e *Engine) TransactSetAlbum(p *domain.Post, albumID string, rank *float64) (kv.TransactItem, error) {
	if err := checkAlbumRank(albumID, p.PostStatus, rank); err != nil {
		return kv.TransactItem{}, err
	}
	if albumID == "" {
		upd := kv.NewUpdate().Remove(attrAlbumID, IndexAlbumRank.PartitionKey, IndexAlbumRank.SortKey)
		return kv.UpdateOp(Key(p.ID), upd, kv.ItemExists()), nil
	}
	r := domain.UnrankedAlbumRank
	if rank != nil {
		r = *rank
	}
	upd := kv.NewUpdate().
		Set(attrAlbumID, albumID).
		Set(IndexAlbumRank.PartitionKey, albumPartition(albumID)).
		Set(IndexAlbumRank.SortKey, r)
	cond := kv.ItemExists().And(kv.Equal(attrPostStatus, string(p.PostStatus)))
	return kv.UpdateOp(Key(p.ID), upd, cond), nil
}

// TransactSetAlbumRank overwrites the album rank without looking at status.
func (e *Engine) TransactSetAlbumRank(postID string, rank float64) kv.TransactItem {
	return kv.UpdateOp(Key(postID), kv.NewUpdate().Set(IndexAlbumRank.SortKey, rank), kv.ItemExists())
}

// SetChecksum records the content checksum and its lookup projection. There
// is no way to clear a checksum.
func (e *Engine) SetChecksum(ctx context.Context, postID string, postedAt time.Time, checksum string) (*domain.Post, error) {
	if checksum == "" {
		return nil, domain.InvalidInput("checksum is required")
	}
	upd := kv.NewUpdate().
		Set(attrChecksum, checksum).
		Set(IndexChecksum.PartitionKey, checksumPrefix+checksum).
		Set(IndexChecksum.SortKey, domain.FormatTime(postedAt))
	return e.updatePost(ctx, postID, upd, kv.Condition{}, domain.ErrPostNotFound)
}

// Edit is a partial update of the user-editable attributes of a post.
type Edit struct {
	// Text set to "" or removed also removes TextTags.
	Text domain.Field[string]
	// TextTags apply only together with non-empty Text.
	TextTags           domain.Field[[]domain.TextTag]
	CommentsDisabled   domain.Field[bool]
	LikesDisabled      domain.Field[bool]
	SharingDisabled    domain.Field[bool]
	VerificationHidden domain.Field[bool]
}

func (ed Edit) empty() bool {
	return ed.Text.IsKeep() && ed.CommentsDisabled.IsKeep() && ed.LikesDisabled.IsKeep() &&
		ed.SharingDisabled.IsKeep() && ed.VerificationHidden.IsKeep()
}

func (ed Edit) update() *kv.Update {
	upd := kv.NewUpdate()
	if text, ok := ed.Text.Value(); ok && text != "" {
		upd.Set(attrText, text)
		if tags, ok := ed.TextTags.Value(); ok {
			upd.Set(attrTextTags, encodeTextTags(tags))
		} else if ed.TextTags.IsRemove() {
			upd.Remove(attrTextTags)
		}
	} else if !ed.Text.IsKeep() {
		upd.Remove(attrText, attrTextTags)
	}
	for name, f := range map[string]domain.Field[bool]{
		attrCommentsDisabled:   ed.CommentsDisabled,
		attrLikesDisabled:      ed.LikesDisabled,
		attrSharingDisabled:    ed.SharingDisabled,
		attrVerificationHidden: ed.VerificationHidden,
	} {
		if v, ok := f.Value(); ok {
			upd.Set(name, v)
		} else if f.IsRemove() {
			upd.Remove(name)
		}
	}
	return upd
}

// SetTextAndFlags applies ed to the post. At least one field other than
// TextTags must be given.
func (e *Engine) SetTextAndFlags(ctx context.Context, postID string, ed Edit) (*domain.Post, error) {
	if ed.empty() {
		return nil, domain.InvalidInput("post edit has no fields")
	}
	tags, _ := ed.TextTags.Value()
	for _, tag := range tags {
		if err := e.validate.Struct(tag); err != nil {
			return nil, fmt.Errorf("%w: %w", domain.ErrInvalidInput, err)
		}
	}
	return e.updatePost(ctx, postID, ed.update(), kv.Condition{}, domain.ErrPostNotFound)
}

// SetIsVerified records the outcome of media verification.
func (e *Engine) SetIsVerified(ctx context.Context, postID string, verified bool) (*domain.Post, error) {
	return e.updatePost(ctx, postID, kv.NewUpdate().Set(attrIsVerified, verified), kv.Condition{}, domain.ErrPostNotFound)
}

// SetLastUnviewedCommentAt moves p within the owner's unviewed comment
// ordering, or drops it from that ordering when at is nil. Clearing an
// already clear post succeeds.
func (e *Engine) SetLastUnviewedCommentAt(ctx context.Context, p *domain.Post, at *time.Time) (*domain.Post, error) {
	upd := kv.NewUpdate()
	if at == nil {
		upd.Remove(attrLastUnviewedCommentAt, IndexUnviewedComments.PartitionKey, IndexUnviewedComments.SortKey)
	} else {
		ts := domain.FormatTime(*at)
		upd.Set(attrLastUnviewedCommentAt, ts).
			Set(IndexUnviewedComments.PartitionKey, ownerPartition(p.PostedByUserID)).
			Set(IndexUnviewedComments.SortKey, ts)
	}
	return e.updatePost(ctx, p.ID, upd, kv.Condition{}, domain.ErrPostNotFound)
}

// TransactSetHasNewCommentActivity builds the flip of hasNewCommentActivity to
// v. The transaction is canceled if the flag already holds v.
func (e *Engine) TransactSetHasNewCommentActivity(postID string, v bool) kv.TransactItem {
	var prior kv.Condition
	if v {
		prior = kv.Or(kv.AttributeNotExists(attrHasNewCommentActivity), kv.Equal(attrHasNewCommentActivity, false))
	} else {
		prior = kv.Equal(attrHasNewCommentActivity, true)
	}
	upd := kv.NewUpdate().Set(attrHasNewCommentActivity, v)
	return kv.UpdateOp(Key(postID), upd, kv.ItemExists().And(prior))
}
