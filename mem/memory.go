// Package mem provides the flat RAM backing store and the bus that routes
// every load/store address to exactly one owning region.
package mem

import (
	"encoding/binary"
	"fmt"
)

// Memory is a flat little-endian byte array backing RAM.
type Memory struct {
	data []byte
}

// NewMemory allocates a zeroed RAM of the given size in bytes.
func NewMemory(size uint32) *Memory {
	return &Memory{data: make([]byte, size)}
}

// Size returns the number of bytes the memory covers.
func (m *Memory) Size() uint32 {
	return uint32(len(m.data))
}

// LoadImage copies a flat byte image into memory at the given offset. It is
// used by external loaders to materialize program segments.
func (m *Memory) LoadImage(off uint32, image []byte) error {
	if uint64(off)+uint64(len(image)) > uint64(len(m.data)) {
		return fmt.Errorf("image of %d bytes at offset 0x%X exceeds memory size 0x%X",
			len(image), off, len(m.data))
	}
	copy(m.data[off:], image)
	return nil
}

// readAt reads a little-endian value of the given width at a memory-local
// offset. The bus guarantees bounds.
func (m *Memory) readAt(off, width uint32) uint32 {
	switch width {
	case 1:
		return uint32(m.data[off])
	case 2:
		return uint32(binary.LittleEndian.Uint16(m.data[off:]))
	default:
		return binary.LittleEndian.Uint32(m.data[off:])
	}
}

// writeAt writes a little-endian value of the given width at a memory-local
// offset. The bus guarantees bounds.
func (m *Memory) writeAt(off, width, val uint32) {
	switch width {
	case 1:
		m.data[off] = byte(val)
	case 2:
		binary.LittleEndian.PutUint16(m.data[off:], uint16(val))
	default:
		binary.LittleEndian.PutUint32(m.data[off:], val)
	}
}
