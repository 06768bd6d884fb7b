package post

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/haukened/storyline/internal/domain"
	"github.com/haukened/storyline/internal/kv"
)

// NewPost carries the caller-supplied attributes of a post being created.
type NewPost struct {
	ID             string          `validate:"required,excludesall=/"`
	PostedByUserID string          `validate:"required,excludesall=/"`
	PostType       domain.PostType `validate:"required,oneof=TEXT_ONLY IMAGE VIDEO"`
	PostedAt       time.Time       `validate:"required"`
	ExpiresAt      *time.Time
	AlbumID        string `validate:"omitempty,excludesall=/"`
	Text           string
	TextTags       []domain.TextTag `validate:"dive"`

	CommentsDisabled   *bool
	LikesDisabled      *bool
	SharingDisabled    *bool
	VerificationHidden *bool
}

// TransactAddPending builds the insert of a new PENDING post with every
// index projection its attributes call for. It fails if the post exists.
func (e *Engine) TransactAddPending(np NewPost) (kv.TransactItem, error) {
	if err := e.validate.Struct(np); err != nil {
		return kv.TransactItem{}, fmt.Errorf("%w: %w", domain.ErrInvalidInput, err)
	}

	status := domain.PostStatusPending
	postedAt := domain.FormatTime(np.PostedAt)
	owner := ownerPartition(np.PostedByUserID)
	key := Key(np.ID)
	it := kv.Item{
		kv.PartitionKeyAttr: key.PartitionKey,
		kv.SortKeyAttr:      key.SortKey,
		attrSchemaVersion:   float64(postSchemaVersion),

		IndexByOwner.PartitionKey:     owner,
		IndexByOwner.SortKey:          byOwnerSortKey(status, postedAt),
		IndexByOwnerType.PartitionKey: owner,
		IndexByOwnerType.SortKey:      byOwnerTypeSortKey(status, np.PostType, postedAt),

		attrPostID:         np.ID,
		attrPostedAt:       postedAt,
		attrPostedByUserID: np.PostedByUserID,
		attrPostType:       string(np.PostType),
		attrPostStatus:     string(status),
	}
	if np.ExpiresAt != nil {
		// The update builder renders the same attributes setExpiry writes later.
		it = setExpiry(kv.NewUpdate(), np.PostedByUserID, status, *np.ExpiresAt).Apply(key, it)
	}
	if np.AlbumID != "" {
		it[attrAlbumID] = np.AlbumID
		it[IndexAlbumRank.PartitionKey] = albumPartition(np.AlbumID)
		it[IndexAlbumRank.SortKey] = domain.UnrankedAlbumRank
	}
	if np.Text != "" {
		it[attrText] = np.Text
		if np.TextTags != nil {
			it[attrTextTags] = encodeTextTags(np.TextTags)
		}
	}
	setBool(it, attrCommentsDisabled, np.CommentsDisabled)
	setBool(it, attrLikesDisabled, np.LikesDisabled)
	setBool(it, attrSharingDisabled, np.SharingDisabled)
	setBool(it, attrVerificationHidden, np.VerificationHidden)

	return kv.PutOp(it, kv.ItemNotExists()), nil
}

func setBool(it kv.Item, name string, v *bool) {
	if v != nil {
		it[name] = *v
	}
}

func encodeTextTags(tags []domain.TextTag) []any {
	out := make([]any, 0, len(tags))
	for _, t := range tags {
		out = append(out, map[string]any{"tag": t.Tag, "userId": t.UserID})
	}
	return out
}

// TransactAddOriginalMetadata builds the insert of the immutable metadata
// companion record, as supplied by the uploading client.
func (e *Engine) TransactAddOriginalMetadata(postID, metadata string) kv.TransactItem {
	key := originalMetadataItemKey(postID)
	return kv.PutOp(kv.Item{
		kv.PartitionKeyAttr:  key.PartitionKey,
		kv.SortKeyAttr:       key.SortKey,
		attrSchemaVersion:    float64(0),
		attrOriginalMetadata: metadata,
	}, kv.ItemNotExists())
}

// GetOriginalMetadata returns the metadata companion record, or "" and false.
func (e *Engine) GetOriginalMetadata(ctx context.Context, postID string) (string, bool, error) {
	it, err := e.store.GetItem(ctx, originalMetadataItemKey(postID), kv.Eventual)
	if err != nil || it == nil {
		return "", false, err
	}
	return it.String(attrOriginalMetadata), true, nil
}

// DeleteOriginalMetadata removes the metadata companion record.
func (e *Engine) DeleteOriginalMetadata(ctx context.Context, postID string) error {
	return e.store.DeleteItem(ctx, originalMetadataItemKey(postID), kv.Condition{})
}

// TransactDeleteOriginalMetadata builds the delete of the metadata companion record.
func (e *Engine) TransactDeleteOriginalMetadata(postID string) kv.TransactItem {
	return kv.DeleteOp(originalMetadataItemKey(postID), kv.Condition{})
}

// AddPending creates a PENDING post and, when metadata is non-empty, its
// original metadata record in one transaction.
func (e *Engine) AddPending(ctx context.Context, np NewPost, metadata string) (*domain.Post, error) {
	op, err := e.TransactAddPending(np)
	if err != nil {
		return nil, err
	}
	ops := []kv.TransactItem{op}
	if metadata != "" {
		ops = append(ops, e.TransactAddOriginalMetadata(np.ID, metadata))
	}
	if err := e.store.TransactWriteItems(ctx, ops); err != nil {
		if errors.Is(err, kv.ErrTransactionCanceled) {
			return nil, fmt.Errorf("%w: post %s already exists: %w", domain.ErrPreconditionFailed, np.ID, err)
		}
		return nil, err
	}
	return e.MustGet(ctx, np.ID, kv.Strong)
}
