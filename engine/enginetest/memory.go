package enginetest

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"

	"github.com/voltmesh/gridlink/errors"
	"github.com/voltmesh/gridlink/marshal"
)

// fakeMemory is a growable linear memory. Offsets past the current end
// fail like a real out-of-bounds access; only the allocator grows it.
// The lock covers growth: accessors may run while another goroutine's
// allocation reallocates the backing slice.
type fakeMemory struct {
	mu   sync.RWMutex
	data []byte
}

func (m *fakeMemory) check(offset, length uint32) error {
	if uint64(offset)+uint64(length) > uint64(len(m.data)) {
		return errors.OutOfBounds(offset, length)
	}
	return nil
}

func (m *fakeMemory) Read(offset, length uint32) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.check(offset, length); err != nil {
		return nil, err
	}
	out := make([]byte, length)
	copy(out, m.data[offset:offset+length])
	return out, nil
}

func (m *fakeMemory) Write(offset uint32, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(offset, uint32(len(data))); err != nil {
		return err
	}
	copy(m.data[offset:], data)
	return nil
}

func (m *fakeMemory) ReadU8(offset uint32) (uint8, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.check(offset, 1); err != nil {
		return 0, err
	}
	return m.data[offset], nil
}

func (m *fakeMemory) ReadU32(offset uint32) (uint32, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.check(offset, 4); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(m.data[offset:]), nil
}

func (m *fakeMemory) ReadU64(offset uint32) (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.check(offset, 8); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(m.data[offset:]), nil
}

func (m *fakeMemory) ReadF64(offset uint32) (float64, error) {
	bits, err := m.ReadU64(offset)
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(bits), nil
}

func (m *fakeMemory) WriteU8(offset uint32, value uint8) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(offset, 1); err != nil {
		return err
	}
	m.data[offset] = value
	return nil
}

func (m *fakeMemory) WriteU32(offset uint32, value uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(offset, 4); err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(m.data[offset:], value)
	return nil
}

func (m *fakeMemory) WriteU64(offset uint32, value uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(offset, 8); err != nil {
		return err
	}
	binary.LittleEndian.PutUint64(m.data[offset:], value)
	return nil
}

func (m *fakeMemory) WriteF64(offset uint32, value float64) error {
	return m.WriteU64(offset, math.Float64bits(value))
}

// grow extends the backing slice to cover at least end bytes.
func (m *fakeMemory) grow(end uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for uint64(len(m.data)) < uint64(end) {
		m.data = append(m.data, make([]byte, 4096)...)
	}
}

// alloc reserves size bytes, growing memory as needed. Callers hold f.mu.
func (f *Fake) alloc(size uint32, tag string, group uint32) uint32 {
	if size == 0 {
		size = 1
	}
	ptr := (f.nextAlloc + 7) &^ 7
	end := ptr + size
	f.mem.grow(end)
	f.mem.zero(ptr, end)
	f.nextAlloc = end
	f.allocs[ptr] = allocation{size: size, tag: tag, group: group}
	return ptr
}

func (m *fakeMemory) zero(from, to uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := from; i < to; i++ {
		m.data[i] = 0
	}
}

// rootAlloc opens a new engine-owned result group: the first allocation
// is the group root carrying the kind tag, everything allocated through
// the returned member allocator belongs to it and is freed with it.
func (f *Fake) rootAlloc(size uint32, tag string) (uint32, marshal.Alloc) {
	root := f.alloc(size, tag, 0)
	member := func(memberSize uint32) (uint32, error) {
		return f.alloc(memberSize, tagMember, root), nil
	}
	return root, member
}

// freeGroup releases a root allocation and all its members. The root
// must carry the expected tag; anything else is an invalid free.
func (f *Fake) freeGroup(ptr uint32, tag string) error {
	a, ok := f.allocs[ptr]
	if !ok {
		return fmt.Errorf("free of unknown pointer %#x", ptr)
	}
	if a.tag != tag {
		return fmt.Errorf("pointer %#x is %q, freed as %q", ptr, a.tag, tag)
	}
	delete(f.allocs, ptr)
	for p, m := range f.allocs {
		if m.group == ptr {
			delete(f.allocs, p)
		}
	}
	return nil
}
