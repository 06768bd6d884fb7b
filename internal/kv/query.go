package kv

// SortCondition restricts the sort key of a query.
type SortCondition struct {
	op    CondOp
	value any
}

func SortEqual(v any) SortCondition       { return SortCondition{op: CondEq, value: v} }
func SortLessThan(v any) SortCondition    { return SortCondition{op: CondLt, value: v} }
func SortGreaterThan(v any) SortCondition { return SortCondition{op: CondGt, value: v} }

func SortBeginsWith(prefix string) SortCondition {
	return SortCondition{op: CondBeginsWith, value: prefix}
}

func (s SortCondition) IsZero() bool { return s.op == CondNone }
func (s SortCondition) Op() CondOp   { return s.op }
func (s SortCondition) Value() any   { return s.value }

// Query selects items of one partition of an index, in ascending sort key order.
type Query struct {
	Index     Index
	Partition string
	Sort      SortCondition
	// Filter is applied after the key condition and after Limit, so a page
	// may hold fewer than Limit items and still have a LastKey.
	Filter      Condition
	Projection  []string
	Limit       int
	StartKey    Item
	Consistency Consistency
}

// Scan reads items across all partitions in unspecified order.
type Scan struct {
	Filter     Condition
	Projection []string
	Limit      int
	StartKey   Item
}

// Page is one page of a query or scan. A nil LastKey means no more pages.
type Page struct {
	Items   []Item
	LastKey Item
}

// OpKind is the kind of a transaction item.
type OpKind uint8

const (
	OpPut OpKind = iota + 1
	OpUpdate
	OpDelete
	OpConditionCheck
)

// TransactItem is one guarded write inside TransactWriteItems.
type TransactItem struct {
	Kind      OpKind
	Key       Key
	Item      Item
	Update    *Update
	Condition Condition
}

// ItemKey returns the key the transaction item touches.
func (t TransactItem) ItemKey() Key {
	if t.Kind == OpPut {
		return t.Item.Key()
	}
	return t.Key
}

// PutOp writes a whole item.
func PutOp(item Item, cond Condition) TransactItem {
	return TransactItem{Kind: OpPut, Item: item, Condition: cond}
}

// UpdateOp applies a partial update.
func UpdateOp(key Key, upd *Update, cond Condition) TransactItem {
	return TransactItem{Kind: OpUpdate, Key: key, Update: upd, Condition: cond}
}

// DeleteOp removes an item.
func DeleteOp(key Key, cond Condition) TransactItem {
	return TransactItem{Kind: OpDelete, Key: key, Condition: cond}
}

// CheckOp only asserts cond against an item.
func CheckOp(key Key, cond Condition) TransactItem {
	return TransactItem{Kind: OpConditionCheck, Key: key, Condition: cond}
}
