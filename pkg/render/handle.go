package render

import (
	"fmt"
)

// Handle is a generation-checked reference into a resource table.
// Callers outside the engine only ever see the string form produced by
// id(); the generation component makes an id from a disposed or
// reloaded resource fail lookup instead of silently aliasing whatever
// now occupies the same slot.
type Handle struct {
	index      uint32
	generation uint32
}

// id renders a Handle as the opaque public resource id.
func (h Handle) id(prefix string) string {
	return fmt.Sprintf("%s-%d-%d", prefix, h.index, h.generation)
}

// parseHandle reverses id(). Malformed ids and wrong prefixes fail.
func parseHandle(prefix, s string) (Handle, error) {
	var h Handle
	if _, err := fmt.Sscanf(s, prefix+"-%d-%d", &h.index, &h.generation); err != nil {
		return Handle{}, fmt.Errorf("malformed %s resource id %q", prefix, s)
	}
	return h, nil
}

// slot is one arena entry. The generation counter increments on every
// release so stale handles can be detected.
type slot[T any] struct {
	value      T
	generation uint32
	live       bool
}

// table is a small arena of resources addressed by generation-checked
// handles. It replaces the mutable string-keyed maps a naive
// implementation would use for volumes and transfer functions.
type table[T any] struct {
	slots []slot[T]
	free  []uint32
	count int
}

// insert stores a value and returns its Handle.
func (t *table[T]) insert(v T) Handle {
	t.count++
	if n := len(t.free); n > 0 {
		idx := t.free[n-1]
		t.free = t.free[:n-1]
		s := &t.slots[idx]
		s.value = v
		s.live = true
		return Handle{index: idx, generation: s.generation}
	}
	t.slots = append(t.slots, slot[T]{value: v, live: true})
	return Handle{index: uint32(len(t.slots) - 1)}
}

// get returns the value for a Handle if it is still live and the
// generation matches.
func (t *table[T]) get(h Handle) (T, bool) {
	var zero T
	if int(h.index) >= len(t.slots) {
		return zero, false
	}
	s := &t.slots[h.index]
	if !s.live || s.generation != h.generation {
		return zero, false
	}
	return s.value, true
}

// remove releases a slot and bumps its generation, invalidating every
// outstanding Handle to it. Removing an already-dead Handle is a no-op.
func (t *table[T]) remove(h Handle) (T, bool) {
	var zero T
	if int(h.index) >= len(t.slots) {
		return zero, false
	}
	s := &t.slots[h.index]
	if !s.live || s.generation != h.generation {
		return zero, false
	}
	v := s.value
	s.value = zero
	s.live = false
	s.generation++
	t.free = append(t.free, h.index)
	t.count--
	return v, true
}

// each calls fn for every live entry.
func (t *table[T]) each(fn func(Handle, T)) {
	for i := range t.slots {
		s := &t.slots[i]
		if s.live {
			fn(Handle{index: uint32(i), generation: s.generation}, s.value)
		}
	}
}

// clear releases every live entry, calling release (if non-nil) with
// each value first.
func (t *table[T]) clear(release func(T)) {
	for i := range t.slots {
		s := &t.slots[i]
		if s.live {
			if release != nil {
				release(s.value)
			}
			var zero T
			s.value = zero
			s.live = false
			s.generation++
			t.free = append(t.free, uint32(i))
		}
	}
	t.count = 0
}

// len returns the number of live entries.
func (t *table[T]) len() int {
	return t.count
}
