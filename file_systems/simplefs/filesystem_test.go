package simplefs_test

import (
	"encoding/binary"
	"testing"

	"github.com/dargueta/blockfs"
	"github.com/dargueta/blockfs/file_systems/simplefs"
	dt "github.com/dargueta/blockfs/testing"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormat__Layout(t *testing.T) {
	fs, device, _ := dt.CreateFileSystem(t, 4096, 100)
	require.NoError(t, fs.Format())

	superblock, geometry, err := fs.ReadSuperblock()
	require.NoError(t, err)
	assert.Equal(t, simplefs.Magic, superblock.Magic)
	assert.EqualValues(t, 100, superblock.TotalBlocks)
	assert.EqualValues(t, 10, superblock.InodeBlocks)
	assert.EqualValues(t, 1280, superblock.InodeCount)
	assert.EqualValues(t, 11, superblock.FirstDataBlock())
	assert.NotEqual(t, [16]byte{}, superblock.VolumeID, "volume ID wasn't set")

	assert.EqualValues(t, 128, geometry.InodesPerBlock)
	assert.EqualValues(t, 1024, geometry.PointersPerBlock)
	assert.EqualValues(t, 4214784, geometry.MaxFileSize())

	block := make([]byte, 4096)
	require.NoError(t, device.ReadBlock(0, block))
	assert.Equal(t, []byte{0x10, 0x34, 0xf0, 0xf0}, block[:4], "magic isn't little-endian")
	assert.EqualValues(t, 100, binary.LittleEndian.Uint32(block[4:8]))
}

func TestFormat__InodeBlockCount(t *testing.T) {
	cases := []struct {
		TotalBlocks         uint
		ExpectedInodeBlocks uint32
	}{
		{TotalBlocks: 2, ExpectedInodeBlocks: 1},
		{TotalBlocks: 9, ExpectedInodeBlocks: 1},
		{TotalBlocks: 20, ExpectedInodeBlocks: 2},
		{TotalBlocks: 1000, ExpectedInodeBlocks: 100},
	}

	for _, tc := range cases {
		fs, _, _ := dt.CreateFileSystem(t, 512, tc.TotalBlocks)
		require.NoErrorf(t, fs.Format(), "formatting %d blocks failed", tc.TotalBlocks)

		superblock, _, err := fs.ReadSuperblock()
		require.NoError(t, err)
		assert.Equalf(
			t,
			tc.ExpectedInodeBlocks,
			superblock.InodeBlocks,
			"wrong inode block count for %d blocks",
			tc.TotalBlocks)
		assert.EqualValues(t, superblock.InodeBlocks*16, superblock.InodeCount)
	}
}

func TestFormat__Wipes(t *testing.T) {
	fs, volume := dt.CreateMountedVolume(t, 512, 50)
	inumber, err := volume.Create()
	require.NoError(t, err)
	_, err = volume.Write(inumber, dt.PatternBytes(2000, 1), 0)
	require.NoError(t, err)
	require.NoError(t, volume.Unmount())

	require.NoError(t, fs.Format())
	volume, err = fs.Mount()
	require.NoError(t, err)

	_, err = volume.GetSize(inumber)
	assert.ErrorIs(t, err, blockfs.ErrInvalidInode, "file survived formatting")
	assert.EqualValues(t, 50-6, volume.Stat().BlocksFree)
}

func TestFormat__Errors(t *testing.T) {
	fs, _, _ := dt.CreateFileSystem(t, 512, 1)
	assert.ErrorIs(t, fs.Format(), blockfs.ErrInvalidArgument, "1-block volume was formatted")

	fs, _, _ = dt.CreateFileSystem(t, 100, 10)
	assert.ErrorIs(t, fs.Format(), blockfs.ErrInvalidArgument, "odd block size was accepted")

	fs, _, _ = dt.CreateFileSystem(t, 32, 10)
	assert.ErrorIs(t, fs.Format(), blockfs.ErrInvalidArgument, "tiny block size was accepted")

	// Files on 128 KiB blocks could outgrow the inode's 32-bit size field.
	fs, _, _ = dt.CreateFileSystem(t, 131072, 10)
	assert.ErrorIs(t, fs.Format(), blockfs.ErrInvalidArgument, "oversized block size was accepted")
	_, err := fs.Mount()
	assert.Error(t, err, "volume with oversized blocks was mounted")
}

func TestFormat__RefusedWhileMounted(t *testing.T) {
	fs, volume := dt.CreateMountedVolume(t, 512, 20)
	inumber, err := volume.Create()
	require.NoError(t, err)

	assert.ErrorIs(t, fs.Format(), blockfs.ErrAlreadyMounted)

	size, err := volume.GetSize(inumber)
	require.NoError(t, err, "failed format destroyed the volume")
	assert.EqualValues(t, 0, size)
}

func TestMount__Unformatted(t *testing.T) {
	fs, _, _ := dt.CreateFileSystem(t, 4096, 100)
	volume, err := fs.Mount()
	assert.ErrorIs(t, err, blockfs.ErrNotFormatted)
	assert.Nil(t, volume)
	assert.False(t, fs.IsMounted())
}

func TestMount__CorruptedSuperblock(t *testing.T) {
	fs, device, _ := dt.CreateFileSystem(t, 512, 20)
	require.NoError(t, fs.Format())

	block := make([]byte, 512)
	require.NoError(t, device.ReadBlock(0, block))
	binary.LittleEndian.PutUint32(block[12:16], 7)
	require.NoError(t, device.WriteBlock(0, block))

	_, err := fs.Mount()
	assert.ErrorIs(t, err, blockfs.ErrFileSystemCorrupted, "bad inode count wasn't detected")

	binary.LittleEndian.PutUint32(block[4:8], 500)
	binary.LittleEndian.PutUint32(block[12:16], 32)
	require.NoError(t, device.WriteBlock(0, block))

	_, err = fs.Mount()
	assert.ErrorIs(t, err, blockfs.ErrFileSystemCorrupted, "oversized volume wasn't detected")
}

func TestMount__ReservesMetadataBlocks(t *testing.T) {
	_, volume := dt.CreateMountedVolume(t, 512, 100)

	for block := blockfs.PhysicalBlock(0); block <= 10; block++ {
		assert.Truef(t, volume.IsBlockInUse(block), "block %d is marked free", block)
	}
	assert.False(t, volume.IsBlockInUse(11), "first data block is marked in use")

	stat := volume.Stat()
	assert.EqualValues(t, 512, stat.BlockSize)
	assert.EqualValues(t, 100, stat.TotalBlocks)
	assert.EqualValues(t, 89, stat.BlocksFree)
	assert.EqualValues(t, 11, stat.BlocksReserved)
	assert.EqualValues(t, 0, stat.Files)
	assert.EqualValues(t, 159, stat.FilesFree)
}

func TestMount__RebuildsFreeMap(t *testing.T) {
	fs, volume := dt.CreateMountedVolume(t, 512, 100)

	first, err := volume.Create()
	require.NoError(t, err)
	_, err = volume.Write(first, dt.PatternBytes(512*8, 3), 0)
	require.NoError(t, err)
	freeBefore := volume.Stat().BlocksFree
	require.NoError(t, volume.Unmount())

	volume, err = fs.Mount()
	require.NoError(t, err)
	assert.Equal(t, freeBefore, volume.Stat().BlocksFree, "free map differs after remount")
	assert.EqualValues(t, 1, volume.Stat().Files)

	// A new file must not reuse any of the first file's blocks.
	second, err := volume.Create()
	require.NoError(t, err)
	_, err = volume.Write(second, dt.PatternBytes(512*8, 9), 0)
	require.NoError(t, err)

	data, err := volume.Read(first, 512*8, 0)
	require.NoError(t, err)
	assert.Equal(t, dt.PatternBytes(512*8, 3), data, "first file was overwritten")
}

func TestMount__WhileMountedReturnsSameHandle(t *testing.T) {
	fs, volume := dt.CreateMountedVolume(t, 512, 20)
	again, err := fs.Mount()
	require.NoError(t, err)
	assert.Same(t, volume, again)
	assert.True(t, fs.IsMounted())
}

func TestMount__SkipsBadPointers(t *testing.T) {
	fs, device, hook := dt.CreateFileSystem(t, 512, 100)
	require.NoError(t, fs.Format())

	volume, err := fs.Mount()
	require.NoError(t, err)
	inumber, err := volume.Create()
	require.NoError(t, err)
	_, err = volume.Write(inumber, dt.PatternBytes(100, 0), 0)
	require.NoError(t, err)
	require.NoError(t, volume.Unmount())

	// Point the second direct pointer of inode 1 into the inode table, and the
	// third one past the end of the volume.
	block := make([]byte, 512)
	require.NoError(t, device.ReadBlock(1, block))
	binary.LittleEndian.PutUint32(block[32+12:], 3)
	binary.LittleEndian.PutUint32(block[32+16:], 5000)
	binary.LittleEndian.PutUint32(block[32+4:], 1500)
	require.NoError(t, device.WriteBlock(1, block))

	hook.Reset()
	volume, err = fs.Mount()
	require.NoError(t, err, "bad pointers must not prevent mounting")

	warnings := 0
	for _, entry := range hook.AllEntries() {
		if entry.Level == logrus.WarnLevel {
			warnings++
		}
	}
	assert.Equal(t, 2, warnings, "expected one warning per bad pointer")
	assert.EqualValues(t, 88, volume.Stat().BlocksFree)

	// The good block is still readable, the bad one isn't.
	data, err := volume.Read(inumber, 100, 0)
	require.NoError(t, err)
	assert.Equal(t, dt.PatternBytes(100, 0), data)

	_, err = volume.Read(inumber, 10, 512)
	assert.ErrorIs(t, err, blockfs.ErrFileSystemCorrupted)

	// Deleting the file mustn't free the inode table.
	require.NoError(t, volume.Delete(inumber))
	assert.True(t, volume.IsBlockInUse(3), "inode table block was freed")
	assert.EqualValues(t, 89, volume.Stat().BlocksFree)
}

func TestUnmount(t *testing.T) {
	fs, volume := dt.CreateMountedVolume(t, 512, 20)
	inumber, err := volume.Create()
	require.NoError(t, err)
	require.NoError(t, volume.Unmount())
	assert.False(t, fs.IsMounted())

	_, err = volume.Create()
	assert.ErrorIs(t, err, blockfs.ErrNotMounted)
	assert.ErrorIs(t, volume.Delete(inumber), blockfs.ErrNotMounted)
	size, err := volume.GetSize(inumber)
	assert.ErrorIs(t, err, blockfs.ErrNotMounted)
	assert.EqualValues(t, -1, size)
	_, err = volume.Read(inumber, 1, 0)
	assert.ErrorIs(t, err, blockfs.ErrNotMounted)
	_, err = volume.Write(inumber, []byte("x"), 0)
	assert.ErrorIs(t, err, blockfs.ErrNotMounted)
	assert.ErrorIs(t, volume.Unmount(), blockfs.ErrNotMounted)
}
