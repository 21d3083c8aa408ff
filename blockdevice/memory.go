package blockdevice

import (
	"github.com/xaionaro-go/bytesextra"
)

// NewMemoryDevice creates a zero-filled device held entirely in memory.
func NewMemoryDevice(bytesPerBlock, totalBlocks uint) *StreamDevice {
	return NewMemoryDeviceFromBytes(make([]byte, bytesPerBlock*totalBlocks), bytesPerBlock)
}

// NewMemoryDeviceFromBytes creates a device backed by `data`. Writes to the
// device modify `data` directly. Trailing bytes that don't fill a whole block
// are ignored.
func NewMemoryDeviceFromBytes(data []byte, bytesPerBlock uint) *StreamDevice {
	stream := bytesextra.NewReadWriteSeeker(data)
	return NewStreamDevice(stream, bytesPerBlock, uint(len(data))/bytesPerBlock, 0)
}
