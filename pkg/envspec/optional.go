// SPDX-License-Identifier: MPL-2.0

package envspec

// Optional holds a value that may or may not have been set explicitly.
// The zero value is unset. A set Optional may hold an empty value (an empty
// slice, an empty string), which is distinct from unset during Merge.
type Optional[T any] struct {
	value T
	set   bool
}

// Some returns an Optional holding v.
func Some[T any](v T) Optional[T] {
	return Optional[T]{value: v, set: true}
}

// None returns an unset Optional.
func None[T any]() Optional[T] {
	return Optional[T]{}
}

// Get returns the held value and whether it was set.
func (o Optional[T]) Get() (T, bool) {
	return o.value, o.set
}

// IsSet reports whether a value was set explicitly.
func (o Optional[T]) IsSet() bool { return o.set }

// OrElse returns the held value, or def when unset.
func (o Optional[T]) OrElse(def T) T {
	if o.set {
		return o.value
	}
	return def
}
