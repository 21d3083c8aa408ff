package simplefs

import (
	"fmt"

	"github.com/dargueta/blockfs"
	"github.com/sirupsen/logrus"
)

// fileBlocks maps a file's logical blocks to physical blocks. The indirect
// block is only read from disk the first time a logical block past the direct
// pointers is looked up.
type fileBlocks struct {
	volume   *Volume
	inode    *Inode
	pointers []blockfs.PhysicalBlock
}

func (v *Volume) blocksOf(inode *Inode) *fileBlocks {
	return &fileBlocks{volume: v, inode: inode}
}

func (fb *fileBlocks) checkLogical(logical blockfs.LogicalBlock) error {
	if uint(logical) >= fb.volume.geometry.MaxFileBlocks() {
		return blockfs.ErrFileTooLarge.WithMessage(
			fmt.Sprintf(
				"logical block %d is past the maximum of %d blocks per file",
				logical,
				fb.volume.geometry.MaxFileBlocks()))
	}
	return nil
}

func (fb *fileBlocks) checkPointer(logical blockfs.LogicalBlock, block blockfs.PhysicalBlock) error {
	if block != 0 && !fb.volume.isDataBlock(block) {
		return blockfs.ErrFileSystemCorrupted.WithMessage(
			fmt.Sprintf(
				"inode %d: block %d of the file points to block %d, outside the data area",
				fb.inode.Inumber,
				logical,
				block))
	}
	return nil
}

func (fb *fileBlocks) loadPointers() error {
	if fb.pointers != nil {
		return nil
	}
	if fb.inode.Indirect == 0 {
		fb.pointers = make([]blockfs.PhysicalBlock, fb.volume.geometry.PointersPerBlock)
		return nil
	}
	if !fb.volume.isDataBlock(fb.inode.Indirect) {
		return blockfs.ErrFileSystemCorrupted.WithMessage(
			fmt.Sprintf(
				"inode %d: indirect block %d is outside the data area",
				fb.inode.Inumber,
				fb.inode.Indirect))
	}

	pointers, err := fb.volume.readPointerBlock(fb.inode.Indirect)
	if err != nil {
		return err
	}
	fb.pointers = pointers
	return nil
}

// Lookup returns the physical block holding `logical`, or 0 if no block has
// been allocated for it yet.
func (fb *fileBlocks) Lookup(logical blockfs.LogicalBlock) (blockfs.PhysicalBlock, error) {
	if err := fb.checkLogical(logical); err != nil {
		return 0, err
	}

	var block blockfs.PhysicalBlock
	if logical < PointersPerInode {
		block = fb.inode.Direct[logical]
	} else if fb.inode.Indirect != 0 {
		if err := fb.loadPointers(); err != nil {
			return 0, err
		}
		block = fb.pointers[logical-PointersPerInode]
	}

	return block, fb.checkPointer(logical, block)
}

// ensureIndirect allocates the indirect block if the file doesn't have one. The
// new block is zeroed on disk before the inode is updated to point to it.
func (fb *fileBlocks) ensureIndirect() error {
	if fb.inode.Indirect != 0 {
		return fb.loadPointers()
	}

	block, err := fb.volume.allocateBlock()
	if err != nil {
		return err
	}

	pointers := make([]blockfs.PhysicalBlock, fb.volume.geometry.PointersPerBlock)
	err = fb.volume.writePointerBlock(block, pointers)
	if err != nil {
		fb.volume.releaseBlock(block)
		return err
	}

	fb.inode.Indirect = block
	err = fb.volume.inodes.save(*fb.inode)
	if err != nil {
		fb.inode.Indirect = 0
		fb.volume.releaseBlock(block)
		return err
	}

	fb.pointers = pointers
	fb.volume.logger.WithFields(logrus.Fields{
		"inumber": fb.inode.Inumber,
		"block":   block,
	}).Debug("allocated indirect block")
	return nil
}

// Link makes `logical` point to `block` and persists the change immediately,
// either in the inode or in the indirect block.
func (fb *fileBlocks) Link(logical blockfs.LogicalBlock, block blockfs.PhysicalBlock) error {
	if err := fb.checkLogical(logical); err != nil {
		return err
	}

	if logical < PointersPerInode {
		previous := fb.inode.Direct[logical]
		fb.inode.Direct[logical] = block
		err := fb.volume.inodes.save(*fb.inode)
		if err != nil {
			fb.inode.Direct[logical] = previous
		}
		return err
	}

	if err := fb.ensureIndirect(); err != nil {
		return err
	}

	slot := logical - PointersPerInode
	previous := fb.pointers[slot]
	fb.pointers[slot] = block
	err := fb.volume.writePointerBlock(fb.inode.Indirect, fb.pointers)
	if err != nil {
		fb.pointers[slot] = previous
	}
	return err
}

// ReadAt reads from a file starting at byte `offset`. It never reads past the
// end of the file, and returns 0 bytes with no error if `offset` is at or past
// the end. Holes in the file read as zeroes.
func (v *Volume) ReadAt(inumber Inumber, buffer []byte, offset int64) (int, error) {
	if err := v.checkMounted(); err != nil {
		return 0, err
	}
	if offset < 0 {
		return 0, blockfs.ErrInvalidArgument.WithMessage(
			fmt.Sprintf("negative offset: %d", offset))
	}

	inode, err := v.loadValid(inumber)
	if err != nil {
		return 0, err
	}

	size := inode.Size
	if maxSize := v.geometry.MaxFileSize(); size > maxSize {
		size = maxSize
	}
	if offset >= size || len(buffer) == 0 {
		return 0, nil
	}

	end := offset + int64(len(buffer))
	if end > size {
		end = size
	}

	bytesPerBlock := int64(v.geometry.BytesPerBlock)
	blockBuffer := make([]byte, bytesPerBlock)
	blocks := v.blocksOf(&inode)
	position := offset

	for position < end {
		logical := blockfs.LogicalBlock(position / bytesPerBlock)
		blockOffset := position % bytesPerBlock
		chunkSize := bytesPerBlock - blockOffset
		if chunkSize > end-position {
			chunkSize = end - position
		}
		target := buffer[position-offset : position-offset+chunkSize]

		physical, err := blocks.Lookup(logical)
		if err != nil {
			return int(position - offset), err
		}

		if physical == 0 {
			for i := range target {
				target[i] = 0
			}
		} else {
			err = v.device.ReadBlock(physical, blockBuffer)
			if err != nil {
				return int(position - offset), blockfs.CastToDriverError(err)
			}
			copy(target, blockBuffer[blockOffset:])
		}
		position += chunkSize
	}

	return int(end - offset), nil
}

// Read reads up to `length` bytes from a file starting at byte `offset`. The
// returned slice is shorter than `length` if the read hits the end of the file.
func (v *Volume) Read(inumber Inumber, length int, offset int64) ([]byte, error) {
	if err := v.checkMounted(); err != nil {
		return nil, err
	}
	if length < 0 {
		return nil, blockfs.ErrInvalidArgument.WithMessage(
			fmt.Sprintf("negative length: %d", length))
	}

	size, err := v.GetSize(inumber)
	if err != nil {
		return nil, err
	}
	if offset >= size {
		return []byte{}, nil
	}
	if remaining := size - offset; int64(length) > remaining {
		length = int(remaining)
	}

	buffer := make([]byte, length)
	n, err := v.ReadAt(inumber, buffer, offset)
	return buffer[:n], err
}

// Write writes `data` to a file starting at byte `offset`, allocating blocks
// as needed. Writing past the end of the file grows it, and any gap between
// the old end and `offset` reads back as zeroes.
//
// If the volume runs out of blocks or the file reaches its maximum size, Write
// stops early and returns the number of bytes written along with
// [blockfs.ErrOutOfSpace] or [blockfs.ErrFileTooLarge]. The file's size
// includes the bytes that were written.
func (v *Volume) Write(inumber Inumber, data []byte, offset int64) (int, error) {
	if err := v.checkMounted(); err != nil {
		return 0, err
	}
	if offset < 0 {
		return 0, blockfs.ErrInvalidArgument.WithMessage(
			fmt.Sprintf("negative offset: %d", offset))
	}

	inode, err := v.loadValid(inumber)
	if err != nil {
		return 0, err
	}

	maxSize := v.geometry.MaxFileSize()
	if offset > maxSize {
		return 0, blockfs.ErrFileTooLarge.WithMessage(
			fmt.Sprintf("offset %d is past the maximum file size of %d bytes", offset, maxSize))
	}

	bytesPerBlock := int64(v.geometry.BytesPerBlock)
	blockBuffer := make([]byte, bytesPerBlock)
	blocks := v.blocksOf(&inode)
	written := 0

	var writeErr error
	for written < len(data) {
		position := offset + int64(written)
		if position >= maxSize {
			writeErr = blockfs.ErrFileTooLarge.WithMessage(
				fmt.Sprintf("files can be at most %d bytes", maxSize))
			break
		}

		logical := blockfs.LogicalBlock(position / bytesPerBlock)
		blockOffset := position % bytesPerBlock
		chunkSize := int(bytesPerBlock - blockOffset)
		if chunkSize > len(data)-written {
			chunkSize = len(data) - written
		}

		writeErr = v.writeChunk(blocks, logical, blockBuffer, int(blockOffset), data[written:written+chunkSize])
		if writeErr != nil {
			break
		}
		written += chunkSize
	}

	newSize := offset + int64(written)
	if newSize > maxSize {
		newSize = maxSize
	}
	if newSize > inode.Size {
		inode.Size = newSize
		saveErr := v.inodes.save(inode)
		if saveErr != nil {
			if writeErr == nil {
				return written, saveErr
			}
			v.logger.WithError(saveErr).WithField("inumber", inumber).Error(
				"failed to update file size after a partial write")
		}
	}

	return written, writeErr
}

// writeChunk writes `chunk` into one logical block of a file, starting at
// `blockOffset` bytes into the block.
func (v *Volume) writeChunk(
	blocks *fileBlocks,
	logical blockfs.LogicalBlock,
	blockBuffer []byte,
	blockOffset int,
	chunk []byte,
) error {
	physical, err := blocks.Lookup(logical)
	if err != nil {
		return err
	}

	if physical != 0 {
		if len(chunk) < len(blockBuffer) {
			err = v.device.ReadBlock(physical, blockBuffer)
			if err != nil {
				return blockfs.CastToDriverError(err)
			}
		}
		copy(blockBuffer[blockOffset:], chunk)
		return blockfs.CastToDriverError(v.device.WriteBlock(physical, blockBuffer))
	}

	// Make sure the indirect block exists before allocating the data block, so
	// that data blocks always come after their indirect block.
	if uint(logical) >= PointersPerInode {
		err = blocks.ensureIndirect()
		if err != nil {
			return err
		}
	}

	physical, err = v.allocateBlock()
	if err != nil {
		return err
	}

	for i := range blockBuffer {
		blockBuffer[i] = 0
	}
	copy(blockBuffer[blockOffset:], chunk)

	err = v.device.WriteBlock(physical, blockBuffer)
	if err != nil {
		v.releaseBlock(physical)
		return blockfs.CastToDriverError(err)
	}

	err = blocks.Link(logical, physical)
	if err != nil {
		v.releaseBlock(physical)
		return err
	}
	return nil
}
