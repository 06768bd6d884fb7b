// Package kv defines the storage adapter port the post and feed engines are
// written against: a key/value store with conditional single-item writes,
// bounded all-or-nothing transactions, and ordered range queries over the
// primary key and secondary index projections. Concrete adapters live in the
// sqlite and dynamo sub-packages.
package kv

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Attribute names of the primary key.
const (
	PartitionKeyAttr = "partitionKey"
	SortKeyAttr      = "sortKey"
)

// MaxTransactItems is the largest number of items one transaction may touch.
const MaxTransactItems = 25

var (
	// ErrConditionalCheckFailed means a single-item write's condition was not met.
	ErrConditionalCheckFailed = errors.New("conditional check failed")
	// ErrTransactionCanceled means at least one transaction item's condition
	// failed; nothing was written.
	ErrTransactionCanceled = errors.New("transaction canceled")
	// ErrTooManyItems means a transaction exceeded MaxTransactItems.
	ErrTooManyItems = errors.New("too many transaction items")
	// ErrDuplicateItem means a transaction touched the same item twice.
	ErrDuplicateItem = errors.New("transaction touches an item more than once")
)

// CanceledError carries per-item cancellation reasons. It unwraps to
// ErrTransactionCanceled.
type CanceledError struct {
	Reasons []string
}

func (e *CanceledError) Error() string {
	return fmt.Sprintf("%s: [%s]", ErrTransactionCanceled, strings.Join(e.Reasons, ", "))
}

func (e *CanceledError) Unwrap() error { return ErrTransactionCanceled }

// Consistency selects the read mode of GetItem and Query.
type Consistency uint8

const (
	Eventual Consistency = iota
	Strong
)

// Key addresses one item.
type Key struct {
	PartitionKey string
	SortKey      string
}

func (k Key) String() string { return k.PartitionKey + "|" + k.SortKey }

// Item is a stored record. Values are strings, numbers, booleans, lists and
// maps. Numbers read back from an adapter are always float64.
type Item map[string]any

// Key extracts the primary key of the item.
func (it Item) Key() Key {
	return Key{PartitionKey: it.String(PartitionKeyAttr), SortKey: it.String(SortKeyAttr)}
}

// String returns the named attribute if it is a string.
func (it Item) String(name string) string {
	s, _ := it[name].(string)
	return s
}

// Number returns the named attribute as float64 if it is numeric.
func (it Item) Number(name string) (float64, bool) {
	return toFloat(it[name])
}

// Index names a key schema: the primary key (zero Name) or a secondary index
// projection keyed by two item attributes. Secondary indexes are sparse: an
// item appears only while it carries both attributes.
type Index struct {
	Name         string
	PartitionKey string
	SortKey      string
}

// Primary is the table's own key schema.
var Primary = Index{PartitionKey: PartitionKeyAttr, SortKey: SortKeyAttr}

// IsPrimary reports whether the index is the table key.
func (i Index) IsPrimary() bool { return i.Name == "" }

// MergeIndexes combines the index lists of several entities sharing one
// table. An index listed more than once is kept once; two definitions with
// the same name and different key attributes are an error.
func MergeIndexes(sets ...[]Index) ([]Index, error) {
	seen := make(map[string]Index)
	var out []Index
	for _, set := range sets {
		for _, ix := range set {
			prev, ok := seen[ix.Name]
			if !ok {
				seen[ix.Name] = ix
				out = append(out, ix)
				continue
			}
			if prev != ix {
				return nil, fmt.Errorf("index %q defined as both %s/%s and %s/%s",
					ix.Name, prev.PartitionKey, prev.SortKey, ix.PartitionKey, ix.SortKey)
			}
		}
	}
	return out, nil
}

// Store is the storage adapter port.
type Store interface {
	// GetItem returns the item or nil if absent.
	GetItem(ctx context.Context, key Key, c Consistency) (Item, error)
	// PutItem writes the whole item if cond holds against the current item.
	PutItem(ctx context.Context, item Item, cond Condition) error
	// UpdateItem applies upd if cond holds and returns the item as written.
	// A missing item is created from its key, as a plain upsert.
	UpdateItem(ctx context.Context, key Key, upd *Update, cond Condition) (Item, error)
	// DeleteItem removes the item if cond holds. Deleting an absent item is not an error.
	DeleteItem(ctx context.Context, key Key, cond Condition) error
	// TransactWriteItems applies every item or none.
	TransactWriteItems(ctx context.Context, items []TransactItem) error
	// QueryPage returns one page of items in a single partition ordered by sort key.
	QueryPage(ctx context.Context, q Query) (Page, error)
	// ScanPage returns one page of items across all partitions.
	ScanPage(ctx context.Context, s Scan) (Page, error)
	// BatchGetItems returns the items found; missing keys are omitted and
	// result order is unspecified. Strong reads observe every committed write.
	BatchGetItems(ctx context.Context, keys []Key, c Consistency, projection ...string) ([]Item, error)
}

// ValidateTransaction checks the item-count ceiling and rejects transactions
// that touch one item twice.
func ValidateTransaction(items []TransactItem) error {
	if len(items) > MaxTransactItems {
		return fmt.Errorf("%w: %d > %d", ErrTooManyItems, len(items), MaxTransactItems)
	}
	seen := make(map[Key]struct{}, len(items))
	for _, ti := range items {
		k := ti.ItemKey()
		if _, dup := seen[k]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicateItem, k)
		}
		seen[k] = struct{}{}
	}
	return nil
}
