package post

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/go-playground/validator/v10"

	"github.com/haukened/storyline/internal/domain"
	"github.com/haukened/storyline/internal/kv"
)

// Engine reads and writes post records through an injected kv.Store.
// Operations whose name starts with Transact only build a transaction item;
// the caller composes it with siblings and submits it.
type Engine struct {
	store    kv.Store
	log      *slog.Logger
	validate *validator.Validate
}

// New constructs an Engine. A nil logger falls back to slog.Default().
func New(store kv.Store, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		store:    store,
		log:      log.With("domain", "post"),
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// Store exposes the underlying store so callers can submit composed transactions.
func (e *Engine) Store() kv.Store { return e.store }

// Get returns the post or nil if it does not exist.
func (e *Engine) Get(ctx context.Context, postID string, c kv.Consistency) (*domain.Post, error) {
	it, err := e.store.GetItem(ctx, Key(postID), c)
	if err != nil || it == nil {
		return nil, err
	}
	return Decode(it)
}

// MustGet is Get that reports a missing post as domain.ErrPostNotFound.
func (e *Engine) MustGet(ctx context.Context, postID string, c kv.Consistency) (*domain.Post, error) {
	p, err := e.Get(ctx, postID, c)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrPostNotFound, postID)
	}
	return p, nil
}

// Delete removes the canonical record. Deleting a missing post is not an error.
func (e *Engine) Delete(ctx context.Context, postID string) error {
	return e.store.DeleteItem(ctx, Key(postID), kv.Condition{})
}

// TransactDelete builds the delete of the canonical record, guarded on its
// status still being status.
func (e *Engine) TransactDelete(postID string, status domain.PostStatus) kv.TransactItem {
	return kv.DeleteOp(Key(postID), kv.Equal(attrPostStatus, string(status)))
}

// Decode converts a stored item into a Post.
func Decode(it kv.Item) (*domain.Post, error) {
	var p domain.Post
	if err := domain.DecodeRecord(it, &p); err != nil {
		return nil, fmt.Errorf("post %s: %w", it.Key(), err)
	}
	return &p, nil
}

// updatePost runs a conditional update of an existing post. A failed
// condition is reported as notMet, which wraps the store error.
func (e *Engine) updatePost(ctx context.Context, postID string, upd *kv.Update, cond kv.Condition, notMet error) (*domain.Post, error) {
	it, err := e.store.UpdateItem(ctx, Key(postID), upd, kv.ItemExists().And(cond))
	if errors.Is(err, kv.ErrConditionalCheckFailed) {
		return nil, fmt.Errorf("%w: %w", notMet, err)
	}
	if err != nil {
		return nil, err
	}
	return Decode(it)
}
