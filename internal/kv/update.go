package kv

import "maps"

// ActionKind is the kind of an update action.
type ActionKind uint8

const (
	ActionSet ActionKind = iota + 1
	ActionRemove
	ActionAdd
)

// Action is one (attribute, value, removal) step of an update.
type Action struct {
	Kind  ActionKind
	Name  string
	Value any
}

// Update accumulates attribute edits and renders them as a single partial
// update. Each attribute appears at most once; a later edit of the same
// attribute replaces the earlier one.
type Update struct {
	actions []Action
}

// NewUpdate returns an empty Update.
func NewUpdate() *Update { return &Update{} }

// Set assigns v to name.
func (u *Update) Set(name string, v any) *Update {
	return u.put(Action{Kind: ActionSet, Name: name, Value: v})
}

// Remove deletes the named attributes.
func (u *Update) Remove(names ...string) *Update {
	for _, n := range names {
		u.put(Action{Kind: ActionRemove, Name: n})
	}
	return u
}

// Add adds delta to the numeric attribute name, treating a missing attribute as zero.
func (u *Update) Add(name string, delta int64) *Update {
	return u.put(Action{Kind: ActionAdd, Name: name, Value: delta})
}

func (u *Update) put(a Action) *Update {
	for i := range u.actions {
		if u.actions[i].Name == a.Name {
			u.actions[i] = a
			return u
		}
	}
	u.actions = append(u.actions, a)
	return u
}

// Actions returns the accumulated actions in insertion order.
func (u *Update) Actions() []Action {
	if u == nil {
		return nil
	}
	return u.actions
}

// Empty reports whether the update has no actions.
func (u *Update) Empty() bool { return u == nil || len(u.actions) == 0 }

// Apply returns a copy of item with the update applied. A nil item is treated
// as a new item carrying only key.
func (u *Update) Apply(key Key, item Item) Item {
	out := make(Item, len(item)+len(u.Actions())+2)
	maps.Copy(out, item)
	out[PartitionKeyAttr] = key.PartitionKey
	out[SortKeyAttr] = key.SortKey
	for _, a := range u.Actions() {
		switch a.Kind {
		case ActionSet:
			out[a.Name] = a.Value
		case ActionRemove:
			delete(out, a.Name)
		case ActionAdd:
			cur, _ := toFloat(out[a.Name])
			delta, _ := toFloat(a.Value)
			out[a.Name] = cur + delta
		}
	}
	return out
}
