// Package blockcache provides a write-back cache that sits in front of a block
// device. Blocks are loaded on first access and modified blocks are held in
// memory until [BlockCache.Flush] is called.
//
// All block indices begin at 0.

package blockcache

import (
	"fmt"

	"github.com/boljen/go-bitmap"
	"github.com/dargueta/blockfs"
)

// FetchBlockCallback is a pointer to a function that writes the contents of a
// single block from the backing storage into `buffer`. The following guarantees
// apply:
//
// - `block` is in the range [0, TotalBlocks).
// - `buffer` is always BytesPerBlock bytes.
type FetchBlockCallback func(block blockfs.PhysicalBlock, buffer []byte) error

// FlushBlockCallback is a pointer to a function that writes the contents of the
// given buffer to a block in the backing storage. All restrictions and
// guarantees in [FetchBlockCallback] apply here too.
type FlushBlockCallback func(block blockfs.PhysicalBlock, buffer []byte) error

// BlockCache implements [blockfs.BlockDevice] and [blockfs.Flusher].
type BlockCache struct {
	loadedBlocks  bitmap.Bitmap
	dirtyBlocks   bitmap.Bitmap
	fetch         FetchBlockCallback
	flush         FlushBlockCallback
	afterFlush    func() error
	bytesPerBlock uint
	totalBlocks   uint
	data          []byte
}

// New creates a new BlockCache.
//
// There are two callback functions:
//
//   - `fetchCb` reads a single block from the backing storage.
//   - `flushCb` writes a single block to the backing storage.
func New(
	bytesPerBlock uint,
	totalBlocks uint,
	fetchCb FetchBlockCallback,
	flushCb FlushBlockCallback,
) *BlockCache {
	return &BlockCache{
		loadedBlocks:  bitmap.New(int(totalBlocks)),
		dirtyBlocks:   bitmap.New(int(totalBlocks)),
		data:          make([]byte, int(bytesPerBlock*totalBlocks)),
		fetch:         fetchCb,
		flush:         flushCb,
		bytesPerBlock: bytesPerBlock,
		totalBlocks:   totalBlocks,
	}
}

// WrapDevice creates a [BlockCache] in front of an existing block device. If
// the device itself buffers writes, flushing the cache flushes the device too.
func WrapDevice(device blockfs.BlockDevice) *BlockCache {
	flushCb := func(block blockfs.PhysicalBlock, buffer []byte) error {
		return device.WriteBlock(block, buffer)
	}

	cache := New(device.BytesPerBlock(), device.TotalBlocks(), device.ReadBlock, flushCb)
	if flusher, ok := device.(blockfs.Flusher); ok {
		cache.afterFlush = flusher.Flush
	}
	return cache
}

// BytesPerBlock returns the size of a single block, in bytes.
func (cache *BlockCache) BytesPerBlock() uint {
	return cache.bytesPerBlock
}

// TotalBlocks returns the size of the cache, in blocks.
func (cache *BlockCache) TotalBlocks() uint {
	return cache.totalBlocks
}

// Size gives the size of the cache, in bytes (not blocks!).
func (cache *BlockCache) Size() int64 {
	return int64(cache.bytesPerBlock) * int64(cache.totalBlocks)
}

// DirtyBlocks gives the number of modified blocks not yet written to storage.
func (cache *BlockCache) DirtyBlocks() uint {
	count := uint(0)
	for i := 0; i < int(cache.totalBlocks); i++ {
		if cache.dirtyBlocks.Get(i) {
			count++
		}
	}
	return count
}

// checkBounds verifies that `block` exists and `buffer` is exactly one block.
func (cache *BlockCache) checkBounds(block blockfs.PhysicalBlock, bufferSize uint) error {
	if uint(block) >= cache.totalBlocks {
		return blockfs.ErrInvalidArgument.WithMessage(
			fmt.Sprintf(
				"invalid block number: %d not in range [0, %d)",
				block,
				cache.totalBlocks,
			),
		)
	}
	if bufferSize != cache.bytesPerBlock {
		return blockfs.ErrInvalidArgument.WithMessage(
			fmt.Sprintf(
				"buffer must be exactly one block (%d B), got %d",
				cache.bytesPerBlock,
				bufferSize,
			),
		)
	}
	return nil
}

// getSlice returns the portion of the cache's storage holding `block`.
func (cache *BlockCache) getSlice(block blockfs.PhysicalBlock) []byte {
	startOffset := uint(block) * cache.bytesPerBlock
	return cache.data[startOffset : startOffset+cache.bytesPerBlock]
}

// loadBlock ensures that `block` is present in the cache, fetching it from
// storage if it's missing.
func (cache *BlockCache) loadBlock(block blockfs.PhysicalBlock) error {
	// Dirty blocks are present by definition, so we don't need to check
	// `dirtyBlocks`.
	if cache.loadedBlocks.Get(int(block)) {
		return nil
	}

	err := cache.fetch(block, cache.getSlice(block))
	if err != nil {
		return blockfs.ErrIOFailed.Wrap(
			fmt.Errorf("failed to load block %d from source: %w", block, err))
	}

	// Mark the block as present and clean.
	cache.loadedBlocks.Set(int(block), true)
	cache.dirtyBlocks.Set(int(block), false)
	return nil
}

// ReadBlock fills `buffer` with the contents of `block`, loading it from storage
// first if needed.
func (cache *BlockCache) ReadBlock(block blockfs.PhysicalBlock, buffer []byte) error {
	err := cache.checkBounds(block, uint(len(buffer)))
	if err != nil {
		return err
	}

	err = cache.loadBlock(block)
	if err != nil {
		return err
	}

	copy(buffer, cache.getSlice(block))
	return nil
}

// WriteBlock copies `buffer` into the cache and marks the block as dirty. The
// backing storage isn't touched until the next call to [BlockCache.Flush].
func (cache *BlockCache) WriteBlock(block blockfs.PhysicalBlock, buffer []byte) error {
	err := cache.checkBounds(block, uint(len(buffer)))
	if err != nil {
		return err
	}

	copy(cache.getSlice(block), buffer)

	// Overwriting a whole block means we never need to fetch it.
	cache.loadedBlocks.Set(int(block), true)
	cache.dirtyBlocks.Set(int(block), true)
	return nil
}

// Flush writes out all dirty blocks (and only dirty blocks) to the underlying
// storage and marks them as clean.
func (cache *BlockCache) Flush() error {
	for blockIndex := 0; uint(blockIndex) < cache.totalBlocks; blockIndex++ {
		// Skip if the block is clean. This also skips over blocks that aren't
		// loaded, since missing blocks are considered clean.
		if !cache.dirtyBlocks.Get(blockIndex) {
			continue
		}

		block := blockfs.PhysicalBlock(blockIndex)
		err := cache.flush(block, cache.getSlice(block))
		if err != nil {
			return blockfs.ErrIOFailed.Wrap(
				fmt.Errorf("failed to flush block %d to storage: %w", blockIndex, err))
		}

		// Mark the flushed block as clean.
		cache.dirtyBlocks.Set(blockIndex, false)
	}

	if cache.afterFlush != nil {
		return cache.afterFlush()
	}
	return nil
}
