// Package post is the post record engine. It owns the canonical post item and
// every index projection derived from it: owner timelines, the expiry indexes,
// the checksum lookup, album membership ordered by rank and unviewed comment
// activity. Each write keeps the derived keys in step with their source
// attributes in a single conditional item write.
package post

import (
	"fmt"
	"strings"
	"time"

	"github.com/haukened/storyline/internal/domain"
	"github.com/haukened/storyline/internal/kv"
)

// Secondary indexes over post items. GSI-A1 is shared with other entities that
// use a different partition prefix.
var (
	// IndexExpiryByOwner orders an owner's stories by status then expiry.
	IndexExpiryByOwner = kv.Index{Name: "GSI-A1", PartitionKey: "gsiA1PartitionKey", SortKey: "gsiA1SortKey"}
	// IndexByOwner orders an owner's posts by status then postedAt.
	IndexByOwner = kv.Index{Name: "GSI-A2", PartitionKey: "gsiA2PartitionKey", SortKey: "gsiA2SortKey"}
	// IndexByOwnerType orders an owner's posts by status, type, then postedAt.
	IndexByOwnerType = kv.Index{Name: "GSI-A3", PartitionKey: "gsiA3PartitionKey", SortKey: "gsiA3SortKey"}
	// IndexUnviewedComments orders an owner's posts by lastUnviewedCommentAt.
	IndexUnviewedComments = kv.Index{Name: "GSI-A4", PartitionKey: "gsiA4PartitionKey", SortKey: "gsiA4SortKey"}
	// IndexExpiryByDay shards stories by calendar day of expiry, ordered by time of day.
	IndexExpiryByDay = kv.Index{Name: "GSI-K1", PartitionKey: "gsiK1PartitionKey", SortKey: "gsiK1SortKey"}
	// IndexChecksum groups posts by content checksum, ordered by postedAt.
	IndexChecksum = kv.Index{Name: "GSI-K2", PartitionKey: "gsiK2PartitionKey", SortKey: "gsiK2SortKey"}
	// IndexAlbumRank orders album members by numeric rank.
	IndexAlbumRank = kv.Index{Name: "GSI-K3", PartitionKey: "gsiK3PartitionKey", SortKey: "gsiK3SortKey"}
)

// Indexes lists every index the engine queries, for adapters that must
// declare them up front.
func Indexes() []kv.Index {
	return []kv.Index{
		IndexExpiryByOwner, IndexByOwner, IndexByOwnerType, IndexUnviewedComments,
		IndexExpiryByDay, IndexChecksum, IndexAlbumRank,
	}
}

// Item attribute names.
const (
	attrPostID                = "postId"
	attrPostedByUserID        = "postedByUserId"
	attrPostType              = "postType"
	attrPostStatus            = "postStatus"
	attrPostedAt              = "postedAt"
	attrExpiresAt             = "expiresAt"
	attrAlbumID               = "albumId"
	attrText                  = "text"
	attrTextTags              = "textTags"
	attrCommentsDisabled      = "commentsDisabled"
	attrLikesDisabled         = "likesDisabled"
	attrSharingDisabled       = "sharingDisabled"
	attrVerificationHidden    = "verificationHidden"
	attrIsVerified            = "isVerified"
	attrChecksum              = "checksum"
	attrOriginalPostID        = "originalPostId"
	attrOriginalMetadata      = "originalMetadata"
	attrHasNewCommentActivity = "hasNewCommentActivity"
	attrLastUnviewedCommentAt = "lastUnviewedCommentAt"
	attrSchemaVersion         = "schemaVersion"
)

// Counter attribute names.
const (
	attrFlagCount             = "flagCount"
	attrOnymousLikeCount      = "onymousLikeCount"
	attrAnonymousLikeCount    = "anonymousLikeCount"
	attrCommentCount          = "commentCount"
	attrCommentsUnviewedCount = "commentsUnviewedCount"
	attrViewedByCount         = "viewedByCount"
)

const (
	postPrefix          = "post/"
	checksumPrefix      = "postChecksum/"
	postSortKey         = "-"
	originalMetadataKey = "originalMetadata"
	postSchemaVersion   = 3
)

// Key is the primary key of the canonical record for postID.
func Key(postID string) kv.Key {
	return kv.Key{PartitionKey: postPrefix + postID, SortKey: postSortKey}
}

func originalMetadataItemKey(postID string) kv.Key {
	return kv.Key{PartitionKey: postPrefix + postID, SortKey: originalMetadataKey}
}

// IDFromKey recovers the post id from a canonical record key.
func IDFromKey(k kv.Key) (string, bool) {
	id, ok := strings.CutPrefix(k.PartitionKey, postPrefix)
	return id, ok && k.SortKey == postSortKey && id != ""
}

func ownerPartition(userID string) string { return postPrefix + userID }
func dayPartition(t time.Time) string     { return postPrefix + domain.FormatDay(t) }
func albumPartition(albumID string) string {
	return postPrefix + albumID
}

func byOwnerSortKey(status domain.PostStatus, postedAt string) string {
	return fmt.Sprintf("%s/%s", status, postedAt)
}

func byOwnerTypeSortKey(status domain.PostStatus, typ domain.PostType, postedAt string) string {
	return fmt.Sprintf("%s/%s/%s", status, typ, postedAt)
}

func expiryByOwnerSortKey(status domain.PostStatus, expiresAt string) string {
	return fmt.Sprintf("%s/%s", status, expiresAt)
}

// expiryAttrs are the attributes that exist only while a post is a story.
var expiryAttrs = []string{
	attrExpiresAt,
	IndexExpiryByOwner.PartitionKey, IndexExpiryByOwner.SortKey,
	IndexExpiryByDay.PartitionKey, IndexExpiryByDay.SortKey,
}

// setExpiry adds the expiresAt attribute and both expiry index projections.
func setExpiry(u *kv.Update, owner string, status domain.PostStatus, expiresAt time.Time) *kv.Update {
	ea := domain.FormatTime(expiresAt)
	return u.Set(attrExpiresAt, ea).
		Set(IndexExpiryByOwner.PartitionKey, ownerPartition(owner)).
		Set(IndexExpiryByOwner.SortKey, expiryByOwnerSortKey(status, ea)).
		Set(IndexExpiryByDay.PartitionKey, dayPartition(expiresAt)).
		Set(IndexExpiryByDay.SortKey, domain.FormatTimeOfDay(expiresAt))
}
