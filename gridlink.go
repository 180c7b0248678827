package gridlink

// Memory is a bounds-checked view of the engine's linear memory.
// All multi-byte values are little-endian, matching the engine ABI.
type Memory interface {
	Read(offset uint32, length uint32) ([]byte, error)
	Write(offset uint32, data []byte) error
	ReadU8(offset uint32) (uint8, error)
	ReadU32(offset uint32) (uint32, error)
	ReadU64(offset uint32) (uint64, error)
	ReadF64(offset uint32) (float64, error)
	WriteU8(offset uint32, value uint8) error
	WriteU32(offset uint32, value uint32) error
	WriteU64(offset uint32, value uint64) error
	WriteF64(offset uint32, value float64) error
}

// Token identifies an attached call tree to the engine. It is the first
// argument of every entry point and is only meaningful between a matching
// attach_thread/detach_thread pair.
type Token uint64
