package kv

import (
	"context"
	"iter"
)

// QueryAll lazily walks every page of q. Iteration stops at the first error,
// which is yielded with a nil item.
func QueryAll(ctx context.Context, s Store, q Query) iter.Seq2[Item, error] {
	return func(yield func(Item, error) bool) {
		for {
			page, err := s.QueryPage(ctx, q)
			if err != nil {
				yield(nil, err)
				return
			}
			for _, it := range page.Items {
				if !yield(it, nil) {
					return
				}
			}
			if page.LastKey == nil {
				return
			}
			q.StartKey = page.LastKey
		}
	}
}

// ScanAll lazily walks every page of s.
func ScanAll(ctx context.Context, st Store, s Scan) iter.Seq2[Item, error] {
	return func(yield func(Item, error) bool) {
		for {
			page, err := st.ScanPage(ctx, s)
			if err != nil {
				yield(nil, err)
				return
			}
			for _, it := range page.Items {
				if !yield(it, nil) {
					return
				}
			}
			if page.LastKey == nil {
				return
			}
			s.StartKey = page.LastKey
		}
	}
}

// QueryHead returns the first item matched by q, or nil.
func QueryHead(ctx context.Context, s Store, q Query) (Item, error) {
	for it, err := range QueryAll(ctx, s, q) {
		return it, err
	}
	return nil, nil
}

// Collect drains seq into a slice.
func Collect[T any](seq iter.Seq2[T, error]) ([]T, error) {
	var out []T
	for v, err := range seq {
		if err != nil {
			return out, err
		}
		out = append(out, v)
	}
	return out, nil
}

// Map converts each element of seq with fn.
func Map[T, U any](seq iter.Seq2[T, error], fn func(T) (U, error)) iter.Seq2[U, error] {
	return func(yield func(U, error) bool) {
		for v, err := range seq {
			var u U
			if err == nil {
				u, err = fn(v)
			}
			if !yield(u, err) || err != nil {
				return
			}
		}
	}
}
