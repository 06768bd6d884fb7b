// Package domain post.go contains the post entity and its closed enumerations.
package domain

import "time"

// PostStatus is the lifecycle state of a post.
type PostStatus string

const (
	PostStatusPending    PostStatus = "PENDING"
	PostStatusProcessing PostStatus = "PROCESSING"
	PostStatusCompleted  PostStatus = "COMPLETED"
	PostStatusError      PostStatus = "ERROR"
	PostStatusArchived   PostStatus = "ARCHIVED"
	PostStatusDeleting   PostStatus = "DELETING"
)

// Valid reports whether s is a known status.
func (s PostStatus) Valid() bool {
	switch s {
	case PostStatusPending, PostStatusProcessing, PostStatusCompleted,
		PostStatusError, PostStatusArchived, PostStatusDeleting:
		return true
	}
	return false
}

// PostType describes the content carried by a post.
type PostType string

const (
	PostTypeTextOnly PostType = "TEXT_ONLY"
	PostTypeImage    PostType = "IMAGE"
	PostTypeVideo    PostType = "VIDEO"
)

// LikeStatus is the visibility of a like and selects which like counter moves.
type LikeStatus string

const (
	LikeStatusOnymous   LikeStatus = "ONYMOUSLY_LIKED"
	LikeStatusAnonymous LikeStatus = "ANONYMOUSLY_LIKED"
)

// UnrankedAlbumRank marks an album member that is not (or no longer) completed.
const UnrankedAlbumRank = -1.0

// TextTag links a tagged handle in the post text to a user.
type TextTag struct {
	Tag    string `mapstructure:"tag" validate:"required"`
	UserID string `mapstructure:"userId" validate:"required"`
}

// Post is the canonical post record as read back from the store.
type Post struct {
	ID             string     `mapstructure:"postId"`
	PostedByUserID string     `mapstructure:"postedByUserId"`
	PostType       PostType   `mapstructure:"postType"`
	PostStatus     PostStatus `mapstructure:"postStatus"`
	PostedAt       time.Time  `mapstructure:"postedAt"`
	ExpiresAt      *time.Time `mapstructure:"expiresAt"`

	AlbumID string `mapstructure:"albumId"`
	// AlbumRank mirrors the album index sort key; nil when the post is not in an album.
	AlbumRank *float64 `mapstructure:"gsiK3SortKey"`

	Text     string    `mapstructure:"text"`
	TextTags []TextTag `mapstructure:"textTags"`

	CommentsDisabled   *bool `mapstructure:"commentsDisabled"`
	LikesDisabled      *bool `mapstructure:"likesDisabled"`
	SharingDisabled    *bool `mapstructure:"sharingDisabled"`
	VerificationHidden *bool `mapstructure:"verificationHidden"`
	IsVerified         *bool `mapstructure:"isVerified"`

	Checksum       string `mapstructure:"checksum"`
	OriginalPostID string `mapstructure:"originalPostId"`

	FlagCount             int64 `mapstructure:"flagCount"`
	OnymousLikeCount      int64 `mapstructure:"onymousLikeCount"`
	AnonymousLikeCount    int64 `mapstructure:"anonymousLikeCount"`
	CommentCount          int64 `mapstructure:"commentCount"`
	CommentsUnviewedCount int64 `mapstructure:"commentsUnviewedCount"`
	ViewedByCount         int64 `mapstructure:"viewedByCount"`

	HasNewCommentActivity bool       `mapstructure:"hasNewCommentActivity"`
	LastUnviewedCommentAt *time.Time `mapstructure:"lastUnviewedCommentAt"`
}

// IsStory reports whether the post currently carries an expiry.
func (p *Post) IsStory() bool { return p != nil && p.ExpiresAt != nil }

// IsActiveStory reports whether the post is a completed story, i.e. one that
// followers should see.
func (p *Post) IsActiveStory() bool {
	return p.IsStory() && p.PostStatus == PostStatusCompleted
}

// NeedsAlbumRank reports whether a post in albumID with the given status must
// carry a real album rank.
func NeedsAlbumRank(albumID string, status PostStatus) bool {
	return albumID != "" && status == PostStatusCompleted
}
