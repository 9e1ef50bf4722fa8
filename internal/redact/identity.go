package redact

import "reflect"

// mapIdentity and sliceIdentity expose the underlying data pointer of a map
// or slice value via reflection, giving redactValue a stable identity key
// for its cycle/sharing guard without resorting to unsafe. A nil map, or a
// nil or empty slice, has no meaningful shared identity worth tracking, so
// callers fall back to the allocate-fresh path in that case; an empty
// non-nil map still gets an identity.
func mapIdentity(m map[string]any) (uintptr, bool) {
	if m == nil {
		return 0, false
	}
	return reflect.ValueOf(m).Pointer(), true
}

func sliceIdentity(s []any) (uintptr, bool) {
	if len(s) == 0 {
		return 0, false
	}
	return reflect.ValueOf(s).Pointer(), true
}
