// Package optional provides the absent/present wrapper generated result and
// request types use for fields the server may leave out.
package optional

import "encoding/json"

// Optional holds a value that may be absent. The zero value is the empty
// sentinel, so a field the decoder never touched is always a valid, empty
// Optional.
type Optional[T any] struct {
	value   T
	present bool
}

// Of wraps a present value.
func Of[T any](v T) Optional[T] {
	return Optional[T]{value: v, present: true}
}

// Empty returns the absent value.
func Empty[T any]() Optional[T] {
	return Optional[T]{}
}

// Get returns the value and whether it is present.
func (o Optional[T]) Get() (T, bool) {
	return o.value, o.present
}

func (o Optional[T]) IsPresent() bool {
	return o.present
}

// IsZero reports absence; it lets `omitzero` drop unset fields when encoding.
func (o Optional[T]) IsZero() bool {
	return !o.present
}

// OrElse returns the value, or def when absent.
func (o Optional[T]) OrElse(def T) T {
	if o.present {
		return o.value
	}
	return def
}

func (o Optional[T]) MarshalJSON() ([]byte, error) {
	if !o.present {
		return []byte("null"), nil
	}
	return json.Marshal(o.value)
}

// UnmarshalJSON treats JSON null as absent.
func (o *Optional[T]) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*o = Optional[T]{}
		return nil
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*o = Optional[T]{value: v, present: true}
	return nil
}

func (o Optional[T]) String() string {
	if !o.present {
		return "Optional.empty"
	}
	b, err := json.Marshal(o.value)
	if err != nil {
		return "Optional[?]"
	}
	return "Optional[" + string(b) + "]"
}
