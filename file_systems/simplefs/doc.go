/*
Package simplefs implements SimpleFS, a minimal single-volume file system with a
flat namespace of numbered files ("inodes") and no directories.

# On-disk layout

Block 0 holds the superblock. The next N blocks, where N is 10% of the volume
rounded down (minimum 1), hold the inode table. Everything after that is the
data pool, which holds file contents and indirect blocks. There is no free
list on disk: which blocks are free is recomputed every time the volume is
mounted by walking every valid inode's pointers.

All integers are stored little-endian.

	Superblock (block 0)
	  0  uint32    magic number, 0xf0f03410
	  4  uint32    total number of blocks
	  8  uint32    number of inode blocks
	 12  uint32    number of inodes (inode blocks * inodes per block)
	 16  [16]byte  volume ID

	Inode (32 bytes; a 4096-byte block holds 128 of them)
	  0  uint32     1 if the inode is in use, 0 otherwise
	  4  uint32     size of the file, in bytes
	  8  [5]uint32  direct block pointers
	 28  uint32     indirect block pointer

An indirect block is an array of uint32 block pointers filling the whole block.
A pointer of 0 means "not allocated"; block 0 always holds the superblock, so it
can never be a data block.

With 4096-byte blocks, a file can be at most 5 * 4096 + 1024 * 4096 bytes
(4,214,784 bytes) long.

# Usage

	fs := simplefs.New(device)
	err := fs.Format()
	volume, err := fs.Mount()
	inumber, err := volume.Create()
	n, err := volume.Write(inumber, data, 0)
	data, err = volume.Read(inumber, n, 0)
	err = volume.Unmount()

Inode 0 is reserved and never returned by Create.

The package does no locking. A [FileSystem] and its [Volume] must only be used
by one goroutine at a time.
*/
package simplefs
