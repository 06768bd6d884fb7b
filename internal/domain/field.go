package domain

// fieldState distinguishes the three things an edit can do to an attribute.
type fieldState uint8

const (
	fieldKeep fieldState = iota
	fieldSet
	fieldRemove
)

// Field is an optional edit to a single attribute: leave it alone, set it to a
// value, or remove it. The zero value is Keep.
type Field[T any] struct {
	state fieldState
	value T
}

// Keep leaves the attribute untouched.
func Keep[T any]() Field[T] { return Field[T]{} }

// SetTo replaces the attribute with v.
func SetTo[T any](v T) Field[T] { return Field[T]{state: fieldSet, value: v} }

// Remove deletes the attribute.
func Remove[T any]() Field[T] { return Field[T]{state: fieldRemove} }

// IsKeep reports whether the field leaves the attribute untouched.
func (f Field[T]) IsKeep() bool { return f.state == fieldKeep }

// IsSet reports whether the field assigns a value.
func (f Field[T]) IsSet() bool { return f.state == fieldSet }

// IsRemove reports whether the field deletes the attribute.
func (f Field[T]) IsRemove() bool { return f.state == fieldRemove }

// Value returns the assigned value and whether one is present.
func (f Field[T]) Value() (T, bool) { return f.value, f.state == fieldSet }
