package domain

import "time"

// FollowedFirstStory is the materialized pointer, per follower/followed pair,
// to the followed user's soonest-expiring completed story.
type FollowedFirstStory struct {
	FollowerUserID string    `mapstructure:"followerUserId"`
	PostID         string    `mapstructure:"postId"`
	PostedByUserID string    `mapstructure:"postedByUserId"`
	PostType       PostType  `mapstructure:"postType"`
	PostedAt       time.Time `mapstructure:"postedAt"`
	ExpiresAt      time.Time `mapstructure:"expiresAt"`
}

// SameStory reports whether a pointer already reflects the given story.
func (f *FollowedFirstStory) SameStory(p *Post) bool {
	if f == nil || p == nil || p.ExpiresAt == nil {
		return f == nil && (p == nil || p.ExpiresAt == nil)
	}
	return f.PostID == p.ID && f.ExpiresAt.Equal(*p.ExpiresAt)
}

// FollowStatus is the state of a follow relationship.
type FollowStatus string

const (
	FollowStatusFollowing FollowStatus = "FOLLOWING"
	FollowStatusRequested FollowStatus = "REQUESTED"
	FollowStatusDenied    FollowStatus = "DENIED"
)

// SoonestStory returns whichever of a and b expires first. Nil and non-story
// arguments are ignored; ties go to a.
func SoonestStory(a, b *Post) *Post {
	if !a.IsStory() {
		a = nil
	}
	if !b.IsStory() {
		b = nil
	}
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	case b.ExpiresAt.Before(*a.ExpiresAt):
		return b
	default:
		return a
	}
}
