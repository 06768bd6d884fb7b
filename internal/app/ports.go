// Package app defines the application layer "ports" (interfaces) that the
// storyline use-cases depend upon. It follows a hexagonal (ports & adapters)
// design: this package declares what the core needs, while adapter packages
// (the kv adapters, the metrics manager, the janitor) provide or drive the
// concrete implementations.
package app

import (
	"context"
	"time"

	"github.com/haukened/storyline/internal/domain"
	"github.com/haukened/storyline/internal/kv"
)

// Clock abstracts time to enable deterministic testing of expiry logic.
type Clock interface {
	// Now returns the current wall-clock time.
	Now() time.Time
}

// SystemClock is the Clock backed by time.Now.
type SystemClock struct{}

// Now returns time.Now in UTC.
func (SystemClock) Now() time.Time { return time.Now().UTC() }

// Recorder receives operational counters and observations. The metrics
// Manager satisfies it; nil disables recording.
type Recorder interface {
	Inc(name string, delta int64)
	Observe(name string, value int64)
}

// StoryPointers is the port to the followed-first-story pointers. Refreshes
// are issued after the write they follow has committed and may be retried
// independently of it.
type StoryPointers interface {
	// RefreshAfterStoryChange updates every follower of the story owner after
	// the story changed from prev to now. Either may be nil but not both.
	RefreshAfterStoryChange(ctx context.Context, prev, now *domain.Post) error
	// RefreshPair recomputes the pointer of one follower/followed pair.
	RefreshPair(ctx context.Context, followerID, followedID string) error
	// TransactDelete builds the removal of a pair's pointer.
	TransactDelete(followerID, followedID string) kv.TransactItem
}
