package simplefs_test

import (
	"testing"

	"github.com/dargueta/blockfs"
	"github.com/dargueta/blockfs/file_systems/simplefs"
	dt "github.com/dargueta/blockfs/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Format a small volume, write a file that spans two blocks, read it back, and
// delete it.
func TestVolume__Scenario(t *testing.T) {
	_, volume := dt.CreateMountedVolume(t, 4096, 100)

	inumber, err := volume.Create()
	require.NoError(t, err)
	assert.EqualValues(t, 1, inumber, "first inode created must be 1")

	data := dt.PatternBytes(5000, 0)
	written, err := volume.Write(inumber, data, 0)
	require.NoError(t, err)
	assert.Equal(t, 5000, written)

	size, err := volume.GetSize(inumber)
	require.NoError(t, err)
	assert.EqualValues(t, 5000, size)

	readBack, err := volume.Read(inumber, 5000, 0)
	require.NoError(t, err)
	assert.Equal(t, data, readBack)

	require.NoError(t, volume.Delete(inumber))
	size, err = volume.GetSize(inumber)
	assert.ErrorIs(t, err, blockfs.ErrInvalidInode)
	assert.EqualValues(t, -1, size)
}

func TestCreate__DistinctUntilFull(t *testing.T) {
	// 128-byte blocks hold 4 inodes, and a 10-block volume has one inode block.
	_, volume := dt.CreateMountedVolume(t, 128, 10)

	seen := map[simplefs.Inumber]bool{}
	for i := 0; i < 3; i++ {
		inumber, err := volume.Create()
		require.NoErrorf(t, err, "create %d failed", i)
		assert.NotZero(t, inumber, "inode 0 must never be handed out")
		assert.Falsef(t, seen[inumber], "inode %d handed out twice", inumber)
		seen[inumber] = true

		size, err := volume.GetSize(inumber)
		require.NoError(t, err)
		assert.EqualValues(t, 0, size, "new file isn't empty")
	}

	inumber, err := volume.Create()
	assert.ErrorIs(t, err, blockfs.ErrNoFreeInode)
	assert.EqualValues(t, 0, inumber)
	assert.EqualValues(t, 0, volume.Stat().FilesFree)
}

func TestCreate__ReusesLowestFreeInode(t *testing.T) {
	_, volume := dt.CreateMountedVolume(t, 512, 20)
	for i := 1; i <= 4; i++ {
		inumber, err := volume.Create()
		require.NoError(t, err)
		require.EqualValues(t, i, inumber)
	}

	require.NoError(t, volume.Delete(2))
	inumber, err := volume.Create()
	require.NoError(t, err)
	assert.EqualValues(t, 2, inumber)
}

func TestDelete__Idempotent(t *testing.T) {
	fs, volume := dt.CreateMountedVolume(t, 512, 100)
	freeAtStart := volume.Stat().BlocksFree

	inumber, err := volume.Create()
	require.NoError(t, err)
	_, err = volume.Write(inumber, dt.PatternBytes(512*10, 5), 0)
	require.NoError(t, err)
	assert.EqualValues(t, freeAtStart-11, volume.Stat().BlocksFree)

	require.NoError(t, volume.Delete(inumber))
	assert.Equal(t, freeAtStart, volume.Stat().BlocksFree, "blocks weren't released")
	require.NoError(t, volume.Delete(inumber), "second delete must succeed")
	assert.Equal(t, freeAtStart, volume.Stat().BlocksFree)
	require.NoError(t, volume.Delete(57), "deleting an unused inode must succeed")

	report, err := fs.Report()
	require.NoError(t, err)
	assert.Empty(t, report.Inodes, "deleted inode is still valid")

	_, err = volume.Write(inumber, []byte("x"), 0)
	assert.ErrorIs(t, err, blockfs.ErrInvalidInode)
}

func TestInvalidInumbers(t *testing.T) {
	_, volume := dt.CreateMountedVolume(t, 512, 20)

	// 20 blocks gives 2 inode blocks of 16 inodes.
	_, err := volume.GetSize(32)
	assert.ErrorIs(t, err, blockfs.ErrInvalidInode)
	assert.ErrorIs(t, volume.Delete(32), blockfs.ErrInvalidInode)
	_, err = volume.Read(1, 10, 0)
	assert.ErrorIs(t, err, blockfs.ErrInvalidInode)
	_, err = volume.Write(0, []byte("x"), 0)
	assert.ErrorIs(t, err, blockfs.ErrInvalidInode)
}

// Inode 0 is reserved: it's never valid, so deleting it does nothing.
func TestReservedInode(t *testing.T) {
	_, volume := dt.CreateMountedVolume(t, 512, 20)

	size, err := volume.GetSize(0)
	assert.ErrorIs(t, err, blockfs.ErrInvalidInode)
	assert.EqualValues(t, -1, size)

	assert.NoError(t, volume.Delete(0))
	assert.EqualValues(t, 0, volume.Stat().Files)

	inumber, err := volume.Create()
	require.NoError(t, err)
	assert.EqualValues(t, 1, inumber, "inode 0 was handed out")
}

func TestGetSize__GrowsToMax(t *testing.T) {
	_, volume := dt.CreateMountedVolume(t, 512, 100)
	inumber, err := volume.Create()
	require.NoError(t, err)

	writes := []struct {
		Offset       int64
		Length       int
		ExpectedSize int64
	}{
		{Offset: 0, Length: 100, ExpectedSize: 100},
		{Offset: 10, Length: 20, ExpectedSize: 100},
		{Offset: 1000, Length: 24, ExpectedSize: 1024},
		{Offset: 0, Length: 1, ExpectedSize: 1024},
		{Offset: 4000, Length: 0, ExpectedSize: 4000},
	}

	for i, w := range writes {
		_, err := volume.Write(inumber, dt.PatternBytes(w.Length, byte(i)), w.Offset)
		require.NoErrorf(t, err, "write %d failed", i)

		size, err := volume.GetSize(inumber)
		require.NoError(t, err)
		assert.Equalf(t, w.ExpectedSize, size, "wrong size after write %d", i)
	}
}

func TestStat__CountsFiles(t *testing.T) {
	_, volume := dt.CreateMountedVolume(t, 512, 20)
	for i := 0; i < 3; i++ {
		_, err := volume.Create()
		require.NoError(t, err)
	}
	require.NoError(t, volume.Delete(2))

	stat := volume.Stat()
	assert.EqualValues(t, 2, stat.Files)
	assert.EqualValues(t, 29, stat.FilesFree)
	assert.EqualValues(t, (5+128)*512, stat.MaxFileSize)
}
