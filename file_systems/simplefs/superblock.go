package simplefs

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/dargueta/blockfs"
	"github.com/go-restruct/restruct"
	"github.com/google/uuid"
)

// Magic identifies a block device formatted with SimpleFS.
const Magic uint32 = 0xf0f03410

// InodeSize is the size of one on-disk inode, in bytes.
const InodeSize = 32

// PointersPerInode is the number of direct block pointers in an inode.
const PointersPerInode = 5

// PointerSize is the size of one block pointer in an indirect block, in bytes.
const PointerSize = 4

// MinBytesPerBlock is the smallest block size SimpleFS supports.
const MinBytesPerBlock = 64

// Superblock is the on-disk volume header stored in block 0.
type Superblock struct {
	Magic       uint32
	TotalBlocks uint32
	InodeBlocks uint32
	InodeCount  uint32
	VolumeID    [16]byte
}

// Geometry describes the quantities derived from a volume's block size.
type Geometry struct {
	BytesPerBlock    uint
	InodesPerBlock   uint
	PointersPerBlock uint
}

// NewGeometry validates a block size and computes the geometry of a volume
// that uses it.
func NewGeometry(bytesPerBlock uint) (Geometry, error) {
	if bytesPerBlock < MinBytesPerBlock || bytesPerBlock%InodeSize != 0 {
		return Geometry{}, blockfs.ErrInvalidArgument.WithMessage(
			fmt.Sprintf(
				"block size must be a multiple of %d that is at least %d, got %d",
				InodeSize,
				MinBytesPerBlock,
				bytesPerBlock))
	}

	geometry := Geometry{
		BytesPerBlock:    bytesPerBlock,
		InodesPerBlock:   bytesPerBlock / InodeSize,
		PointersPerBlock: bytesPerBlock / PointerSize,
	}

	// The inode stores the file size in 32 bits.
	maxFileSize := (PointersPerInode + uint64(geometry.PointersPerBlock)) * uint64(bytesPerBlock)
	if maxFileSize > math.MaxUint32 {
		return Geometry{}, blockfs.ErrInvalidArgument.WithMessage(
			fmt.Sprintf(
				"block size %d is too large: files could grow to %d bytes, more than"+
					" the %d an inode can record",
				bytesPerBlock,
				maxFileSize,
				uint64(math.MaxUint32)))
	}
	return geometry, nil
}

// MaxFileSize is the largest size a file can have, in bytes: everything the
// direct pointers and a single indirect block can address.
func (geometry Geometry) MaxFileSize() int64 {
	return int64(PointersPerInode+geometry.PointersPerBlock) * int64(geometry.BytesPerBlock)
}

// MaxFileBlocks is the largest number of data blocks one file can hold.
func (geometry Geometry) MaxFileBlocks() uint {
	return PointersPerInode + geometry.PointersPerBlock
}

// InodeBlocksFor gives the number of blocks reserved for the inode table on a
// volume with `totalBlocks` blocks: 10%, but never less than one.
func InodeBlocksFor(totalBlocks uint) uint {
	inodeBlocks := totalBlocks / 10
	if inodeBlocks == 0 {
		return 1
	}
	return inodeBlocks
}

// NewSuperblock creates the superblock for a freshly formatted volume.
func NewSuperblock(geometry Geometry, totalBlocks uint) (Superblock, error) {
	if totalBlocks < 2 {
		return Superblock{}, blockfs.ErrInvalidArgument.WithMessage(
			fmt.Sprintf(
				"a volume needs at least 2 blocks (superblock and inode table), got %d",
				totalBlocks))
	}
	if uint64(totalBlocks) > math.MaxUint32 {
		return Superblock{}, blockfs.ErrFileTooLarge.WithMessage(
			fmt.Sprintf(
				"a volume can have at most %d blocks, got %d",
				uint64(math.MaxUint32),
				totalBlocks))
	}

	inodeBlocks := InodeBlocksFor(totalBlocks)
	return Superblock{
		Magic:       Magic,
		TotalBlocks: uint32(totalBlocks),
		InodeBlocks: uint32(inodeBlocks),
		InodeCount:  uint32(inodeBlocks * geometry.InodesPerBlock),
		VolumeID:    uuid.New(),
	}, nil
}

// DecodeSuperblock deserializes a superblock from the beginning of `data`. It
// doesn't validate anything.
func DecodeSuperblock(data []byte) (Superblock, error) {
	var superblock Superblock
	err := restruct.Unpack(data, binary.LittleEndian, &superblock)
	if err != nil {
		return Superblock{}, blockfs.ErrIOFailed.Wrap(err)
	}
	return superblock, nil
}

// Encode serializes the superblock into a zero-padded buffer of one block.
func (superblock Superblock) Encode(geometry Geometry) ([]byte, error) {
	packed, err := restruct.Pack(binary.LittleEndian, &superblock)
	if err != nil {
		return nil, blockfs.ErrIOFailed.Wrap(err)
	}

	block := make([]byte, geometry.BytesPerBlock)
	copy(block, packed)
	return block, nil
}

// IsFormatted returns true if the magic number is correct.
func (superblock Superblock) IsFormatted() bool {
	return superblock.Magic == Magic
}

// FirstDataBlock gives the number of the first block after the inode table.
func (superblock Superblock) FirstDataBlock() blockfs.PhysicalBlock {
	return blockfs.PhysicalBlock(superblock.InodeBlocks) + 1
}

// ID returns the volume ID as a UUID.
func (superblock Superblock) ID() uuid.UUID {
	return uuid.UUID(superblock.VolumeID)
}

// Validate checks that a superblock describes a usable volume on a device of
// `deviceBlocks` blocks.
func (superblock Superblock) Validate(geometry Geometry, deviceBlocks uint) error {
	if !superblock.IsFormatted() {
		return blockfs.ErrNotFormatted.WithMessage(
			fmt.Sprintf(
				"bad magic number: expected %#08x, got %#08x",
				Magic,
				superblock.Magic))
	}

	if superblock.InodeBlocks == 0 {
		return blockfs.ErrFileSystemCorrupted.WithMessage(
			"corruption detected: inode table has no blocks")
	}

	expectedInodes := uint64(superblock.InodeBlocks) * uint64(geometry.InodesPerBlock)
	if uint64(superblock.InodeCount) != expectedInodes {
		return blockfs.ErrFileSystemCorrupted.WithMessage(
			fmt.Sprintf(
				"corruption detected: %d inode blocks hold %d inodes, but superblock says %d",
				superblock.InodeBlocks,
				expectedInodes,
				superblock.InodeCount))
	}

	if uint64(superblock.InodeBlocks)+1 > uint64(superblock.TotalBlocks) {
		return blockfs.ErrFileSystemCorrupted.WithMessage(
			fmt.Sprintf(
				"corruption detected: inode table (%d blocks) doesn't fit in a %d-block volume",
				superblock.InodeBlocks,
				superblock.TotalBlocks))
	}

	if uint(superblock.TotalBlocks) > deviceBlocks {
		return blockfs.ErrFileSystemCorrupted.WithMessage(
			fmt.Sprintf(
				"volume claims %d blocks but the device only has %d",
				superblock.TotalBlocks,
				deviceBlocks))
	}
	return nil
}
