package marshal

import (
	gridlink "github.com/voltmesh/gridlink"
	"github.com/voltmesh/gridlink/errors"
)

// Alloc reserves size bytes in engine memory and returns the offset.
// The isolate dispatcher and the test engine both provide one; this package
// never decides who frees what, it only moves bytes.
type Alloc func(size uint32) (uint32, error)

// ABI sizes of the boundary header structs.
const (
	ArrayHeaderSize     = 8  // {ptr u32, len i32}
	StringMapHeaderSize = 12 // {keys u32, values u32, len i32}
)

// maxCString bounds the scan for a NUL terminator so a corrupt pointer
// cannot walk the whole linear memory.
const maxCString = 1 << 20

// ReadCString copies a NUL-terminated string out of engine memory.
// A zero pointer reads as the empty string.
func ReadCString(mem gridlink.Memory, ptr uint32) (string, error) {
	if ptr == 0 {
		return "", nil
	}
	var buf []byte
	for i := uint32(0); i < maxCString; i++ {
		b, err := mem.ReadU8(ptr + i)
		if err != nil {
			return "", err
		}
		if b == 0 {
			return string(buf), nil
		}
		buf = append(buf, b)
	}
	return "", errors.InvalidData(errors.PhaseMarshal, "unterminated string in engine memory")
}

// WriteCString copies s into freshly allocated engine memory with a NUL
// terminator and returns the pointer.
func WriteCString(mem gridlink.Memory, alloc Alloc, s string) (uint32, error) {
	ptr, err := alloc(uint32(len(s)) + 1)
	if err != nil {
		return 0, errors.AllocationFailed(uint32(len(s))+1, err)
	}
	data := make([]byte, len(s)+1)
	copy(data, s)
	if err := mem.Write(ptr, data); err != nil {
		return 0, err
	}
	return ptr, nil
}

// WriteStrings writes a char** block: one NUL-terminated copy per string
// plus the pointer table. Returns the pointer table offset.
func WriteStrings(mem gridlink.Memory, alloc Alloc, values []string) (uint32, error) {
	if len(values) == 0 {
		return 0, nil
	}
	table, err := alloc(uint32(len(values)) * 4)
	if err != nil {
		return 0, errors.AllocationFailed(uint32(len(values))*4, err)
	}
	for i, s := range values {
		ptr, err := WriteCString(mem, alloc, s)
		if err != nil {
			return 0, err
		}
		if err := mem.WriteU32(table+uint32(i)*4, ptr); err != nil {
			return 0, err
		}
	}
	return table, nil
}

// WriteF64s writes a packed f64 buffer and returns its offset.
func WriteF64s(mem gridlink.Memory, alloc Alloc, values []float64) (uint32, error) {
	if len(values) == 0 {
		return 0, nil
	}
	ptr, err := alloc(uint32(len(values)) * 8)
	if err != nil {
		return 0, errors.AllocationFailed(uint32(len(values))*8, err)
	}
	for i, v := range values {
		if err := mem.WriteF64(ptr+uint32(i)*8, v); err != nil {
			return 0, err
		}
	}
	return ptr, nil
}

// WriteI32s writes a packed i32 buffer and returns its offset.
func WriteI32s(mem gridlink.Memory, alloc Alloc, values []int32) (uint32, error) {
	if len(values) == 0 {
		return 0, nil
	}
	ptr, err := alloc(uint32(len(values)) * 4)
	if err != nil {
		return 0, errors.AllocationFailed(uint32(len(values))*4, err)
	}
	for i, v := range values {
		if err := mem.WriteU32(ptr+uint32(i)*4, uint32(v)); err != nil {
			return 0, err
		}
	}
	return ptr, nil
}

// ArrayHeader is the decoded {ptr,len} boundary struct.
type ArrayHeader struct {
	Ptr uint32
	Len int32
}

// ReadArrayHeader decodes the {ptr,len} struct at hdr.
func ReadArrayHeader(mem gridlink.Memory, hdr uint32) (ArrayHeader, error) {
	ptr, err := mem.ReadU32(hdr)
	if err != nil {
		return ArrayHeader{}, err
	}
	n, err := mem.ReadU32(hdr + 4)
	if err != nil {
		return ArrayHeader{}, err
	}
	length := int32(n)
	if length < 0 {
		return ArrayHeader{}, errors.InvalidData(errors.PhaseMarshal, "negative array length")
	}
	return ArrayHeader{Ptr: ptr, Len: length}, nil
}

// WriteArrayHeader encodes the {ptr,len} struct at hdr.
func WriteArrayHeader(mem gridlink.Memory, hdr uint32, h ArrayHeader) error {
	if err := mem.WriteU32(hdr, h.Ptr); err != nil {
		return err
	}
	return mem.WriteU32(hdr+4, uint32(h.Len))
}

// ReadStrings copies a char** sequence of n entries. Null entries are
// normalized to empty strings.
func ReadStrings(mem gridlink.Memory, table uint32, n int32) ([]string, error) {
	out := make([]string, 0, n)
	for i := int32(0); i < n; i++ {
		ptr, err := mem.ReadU32(table + uint32(i)*4)
		if err != nil {
			return nil, err
		}
		s, err := ReadCString(mem, ptr)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// ReadStringArray copies the contents of a string {ptr,len} array struct.
func ReadStringArray(mem gridlink.Memory, hdr uint32) ([]string, error) {
	h, err := ReadArrayHeader(mem, hdr)
	if err != nil {
		return nil, err
	}
	return ReadStrings(mem, h.Ptr, h.Len)
}

// ReadF64Array copies the contents of an f64 {ptr,len} array struct.
func ReadF64Array(mem gridlink.Memory, hdr uint32) ([]float64, error) {
	h, err := ReadArrayHeader(mem, hdr)
	if err != nil {
		return nil, err
	}
	out := make([]float64, 0, h.Len)
	for i := int32(0); i < h.Len; i++ {
		v, err := mem.ReadF64(h.Ptr + uint32(i)*8)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// ReadStringMap copies a {keys,values,len} struct into a host map. Null
// keys or values are normalized to empty strings. Releasing the foreign
// buffer is the caller's job; the copy itself takes no ownership.
func ReadStringMap(mem gridlink.Memory, hdr uint32) (map[string]string, error) {
	keys, err := mem.ReadU32(hdr)
	if err != nil {
		return nil, err
	}
	values, err := mem.ReadU32(hdr + 4)
	if err != nil {
		return nil, err
	}
	n, err := mem.ReadU32(hdr + 8)
	if err != nil {
		return nil, err
	}
	length := int32(n)
	if length < 0 {
		return nil, errors.InvalidData(errors.PhaseMarshal, "negative map length")
	}

	out := make(map[string]string, length)
	for i := int32(0); i < length; i++ {
		kPtr, err := mem.ReadU32(keys + uint32(i)*4)
		if err != nil {
			return nil, err
		}
		vPtr, err := mem.ReadU32(values + uint32(i)*4)
		if err != nil {
			return nil, err
		}
		k, err := ReadCString(mem, kPtr)
		if err != nil {
			return nil, err
		}
		v, err := ReadCString(mem, vPtr)
		if err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, nil
}

// SplitMap flattens a host map into parallel key/value slices with a
// deterministic pairing (iteration order is not stable in Go, but the
// pairing of key i with value i always is).
func SplitMap(m map[string]string) (keys, values []string) {
	keys = make([]string, 0, len(m))
	values = make([]string, 0, len(m))
	for k, v := range m {
		keys = append(keys, k)
		values = append(values, v)
	}
	return keys, values
}
