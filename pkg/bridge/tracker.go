package bridge

import "spbridge/pkg/script"

// binding ties a pushed record to the native buffer it is copied back into.
type binding struct {
	ref  *script.Ref
	addr uint32
	size uint32
}

// tracker is the per-attempt list of copy-back bindings, kept in registration
// order. It is owned by exactly one Function and emptied by Cancel.
type tracker struct {
	bindings []binding
}

func (t *tracker) track(ref *script.Ref, addr, size uint32) {
	t.bindings = append(t.bindings, binding{ref: ref, addr: addr, size: size})
}

func (t *tracker) len() int {
	return len(t.bindings)
}

// release drops every held record. The backing array is reused by the next
// attempt.
func (t *tracker) release() {
	for i := range t.bindings {
		t.bindings[i] = binding{}
	}
	t.bindings = t.bindings[:0]
}
