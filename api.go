package blockfs

// PhysicalBlock is the index of a block on the device, starting from 0.
type PhysicalBlock uint32

// LogicalBlock is the index of a block within a single file, starting from 0.
type LogicalBlock uint32

// BlockDevice is the interface for raw, fixed-size block storage. All I/O is
// done in whole blocks; partial-block reads and writes are never requested.
type BlockDevice interface {
	// ReadBlock fills `buffer` with the contents of `block`. `buffer` must be
	// exactly BytesPerBlock() bytes.
	ReadBlock(block PhysicalBlock, buffer []byte) error
	// WriteBlock overwrites `block` with `buffer`. `buffer` must be exactly
	// BytesPerBlock() bytes.
	WriteBlock(block PhysicalBlock, buffer []byte) error
	// TotalBlocks gives the number of blocks on the device. It never changes.
	TotalBlocks() uint
	// BytesPerBlock gives the size of a single block, in bytes.
	BytesPerBlock() uint
}

// Flusher is implemented by block devices that buffer writes. Unmounting a
// volume calls Flush on its device if the device implements this interface.
type Flusher interface {
	Flush() error
}

// VolumeStat gives usage statistics for a mounted volume, similar to the
// information returned by statvfs(3).
type VolumeStat struct {
	BlockSize   uint
	TotalBlocks uint64
	BlocksFree  uint64
	// BlocksReserved is the number of blocks that can never be allocated to
	// files: the superblock and the inode table.
	BlocksReserved uint64
	// Files is the number of inodes currently in use.
	Files uint64
	// FilesFree is the number of inodes that can still be created.
	FilesFree uint64
	// MaxFileSize is the largest size a single file can grow to, in bytes.
	MaxFileSize int64
}
