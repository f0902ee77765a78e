package utils

// Value dereferences v, returning the zero value for nil.
func Value[T any](v *T) T {
	if v == nil {
		return *new(T)
	}
	return *v
}

// ValueOr dereferences v, returning fallback when v is nil or points at the
// zero value. Optional wire fields use it to keep a previously stored value.
func ValueOr[T comparable](v *T, fallback T) T {
	var zero T
	if v == nil || *v == zero {
		return fallback
	}
	return *v
}

func Ptr[T any](v T) *T {
	return &v
}
