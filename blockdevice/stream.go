// Package blockdevice provides [blockfs.BlockDevice] implementations on top of
// ordinary byte streams: image files, in-memory buffers, or any other
// [io.ReadWriteSeeker].
package blockdevice

import (
	"fmt"
	"io"

	"github.com/dargueta/blockfs"
)

// Stats counts the I/O operations performed on a device since it was created.
type Stats struct {
	Reads  uint64
	Writes uint64
}

// StreamDevice is an abstraction layer around a stream to make it look like a
// block device, e.g. a file that can only be read from or written to in
// multiples of its fundamental unit, a "block".
type StreamDevice struct {
	bytesPerBlock uint
	totalBlocks   uint
	// startOffset is an offset from the beginning of the stream, in bytes, that
	// will be considered the beginning of block 0 for the device. This is useful
	// for skipping over MBRs or other volumes stored on the same image.
	startOffset int64
	stream      io.ReadWriteSeeker
	stats       Stats
}

// NewStreamDevice creates a block device of `totalBlocks` blocks of
// `bytesPerBlock` bytes each, beginning `startOffset` bytes into `stream`.
func NewStreamDevice(
	stream io.ReadWriteSeeker, bytesPerBlock, totalBlocks uint, startOffset int64,
) *StreamDevice {
	return &StreamDevice{
		bytesPerBlock: bytesPerBlock,
		totalBlocks:   totalBlocks,
		startOffset:   startOffset,
		stream:        stream,
	}
}

// DetermineBlockCount gives the total number of blocks in a stream, rounded down
// to the nearest block.
func DetermineBlockCount(stream io.Seeker, blockSize uint) (uint, error) {
	offset, err := stream.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, err
	}
	return uint(offset / int64(blockSize)), nil
}

// BytesPerBlock implements [blockfs.BlockDevice].
func (device *StreamDevice) BytesPerBlock() uint {
	return device.bytesPerBlock
}

// TotalBlocks implements [blockfs.BlockDevice].
func (device *StreamDevice) TotalBlocks() uint {
	return device.totalBlocks
}

// Stats returns the number of block reads and writes performed so far.
func (device *StreamDevice) Stats() Stats {
	return device.stats
}

// BlockIDToFileOffset converts a block ID into a byte offset into the backing
// I/O stream.
func (device *StreamDevice) BlockIDToFileOffset(block blockfs.PhysicalBlock) (int64, error) {
	if uint(block) >= device.totalBlocks {
		return -1,
			blockfs.ErrInvalidArgument.WithMessage(
				fmt.Sprintf(
					"invalid block ID %d: not in range [0, %d)",
					block,
					device.totalBlocks))
	}
	return device.startOffset + (int64(block) * int64(device.bytesPerBlock)), nil
}

// CheckIOBounds checks to see if a buffer of `dataLength` bytes can be read from
// or written to the device at `block`. Only whole, single blocks are allowed.
func (device *StreamDevice) CheckIOBounds(block blockfs.PhysicalBlock, dataLength uint) error {
	if uint(block) >= device.totalBlocks {
		return blockfs.ErrInvalidArgument.WithMessage(
			fmt.Sprintf(
				"invalid block ID %d: not in range [0, %d)",
				block,
				device.totalBlocks))
	}

	if dataLength != device.bytesPerBlock {
		return blockfs.ErrInvalidArgument.WithMessage(
			fmt.Sprintf(
				"buffer must be exactly one block (%d B), got %d",
				device.bytesPerBlock,
				dataLength))
	}
	return nil
}

// seekToBlock positions the stream pointer at the byte offset where the given
// block starts.
func (device *StreamDevice) seekToBlock(block blockfs.PhysicalBlock) error {
	offset, err := device.BlockIDToFileOffset(block)
	if err != nil {
		return err
	}
	_, err = device.stream.Seek(offset, io.SeekStart)
	if err != nil {
		return blockfs.ErrIOFailed.Wrap(err)
	}
	return nil
}

// ReadBlock implements [blockfs.BlockDevice].
func (device *StreamDevice) ReadBlock(block blockfs.PhysicalBlock, buffer []byte) error {
	err := device.CheckIOBounds(block, uint(len(buffer)))
	if err != nil {
		return err
	}

	err = device.seekToBlock(block)
	if err != nil {
		return err
	}

	_, err = io.ReadFull(device.stream, buffer)
	if err != nil {
		return blockfs.ErrIOFailed.Wrap(
			fmt.Errorf("reading block %d: %w", block, err))
	}
	device.stats.Reads++
	return nil
}

// WriteBlock implements [blockfs.BlockDevice].
func (device *StreamDevice) WriteBlock(block blockfs.PhysicalBlock, buffer []byte) error {
	err := device.CheckIOBounds(block, uint(len(buffer)))
	if err != nil {
		return err
	}

	err = device.seekToBlock(block)
	if err != nil {
		return err
	}

	nWritten, err := device.stream.Write(buffer)
	if err != nil {
		return blockfs.ErrIOFailed.Wrap(
			fmt.Errorf("writing block %d: %w", block, err))
	} else if nWritten != len(buffer) {
		return blockfs.ErrIOFailed.WithMessage(
			fmt.Sprintf("short write to block %d: %d of %d bytes", block, nWritten, len(buffer)))
	}
	device.stats.Writes++
	return nil
}

// Close closes the underlying stream if it supports it.
func (device *StreamDevice) Close() error {
	closer, ok := device.stream.(io.Closer)
	if !ok {
		return nil
	}
	return closer.Close()
}

// WriteTo copies every block on the device to `w`, in order. It implements
// [io.WriterTo].
func (device *StreamDevice) WriteTo(w io.Writer) (int64, error) {
	buffer := make([]byte, device.bytesPerBlock)
	written := int64(0)

	for block := uint(0); block < device.totalBlocks; block++ {
		err := device.ReadBlock(blockfs.PhysicalBlock(block), buffer)
		if err != nil {
			return written, err
		}
		n, err := w.Write(buffer)
		written += int64(n)
		if err != nil {
			return written, blockfs.ErrIOFailed.Wrap(err)
		}
	}
	return written, nil
}
