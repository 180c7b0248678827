package marshal

// AllocList records host-side allocations made while building the
// arguments of a single boundary call, so they can be released as a
// group once the call returns. It is not safe for concurrent use; each
// call builds its own list.
type AllocList struct {
	ptrs []uint32
}

// Track remembers ptr for release. Zero pointers are ignored.
func (l *AllocList) Track(ptr uint32) {
	if ptr == 0 {
		return
	}
	l.ptrs = append(l.ptrs, ptr)
}

// Bind wraps alloc so every successful allocation is tracked.
func (l *AllocList) Bind(alloc Alloc) Alloc {
	return func(size uint32) (uint32, error) {
		ptr, err := alloc(size)
		if err == nil {
			l.Track(ptr)
		}
		return ptr, err
	}
}

// Len reports how many allocations are tracked.
func (l *AllocList) Len() int {
	return len(l.ptrs)
}

// ReleaseAll frees every tracked allocation in reverse order and clears
// the list. It keeps going past individual failures and returns the
// first one, so a bad pointer cannot strand the rest of the group.
func (l *AllocList) ReleaseAll(free func(ptr uint32) error) error {
	var first error
	for i := len(l.ptrs) - 1; i >= 0; i-- {
		if err := free(l.ptrs[i]); err != nil && first == nil {
			first = err
		}
	}
	l.ptrs = l.ptrs[:0]
	return first
}
