package simplefs_test

import (
	"bytes"
	"io"
	"os"
	"testing"

	"github.com/dargueta/blockfs"
	"github.com/dargueta/blockfs/file_systems/simplefs"
	dt "github.com/dargueta/blockfs/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrite__RoundTrip(t *testing.T) {
	cases := []struct {
		Name   string
		Offset int64
		Length int
	}{
		{Name: "EmptyWrite", Offset: 0, Length: 0},
		{Name: "SingleByte", Offset: 0, Length: 1},
		{Name: "PartialBlock", Offset: 100, Length: 200},
		{Name: "StraddlesBlocks", Offset: 500, Length: 30},
		{Name: "ExactBlock", Offset: 512, Length: 512},
		{Name: "AllDirectBlocks", Offset: 0, Length: 5 * 512},
		{Name: "StraddlesIndirect", Offset: 5*512 - 10, Length: 20},
		{Name: "IndirectOnly", Offset: 7 * 512, Length: 1500},
		{Name: "LastByte", Offset: 133*512 - 1, Length: 1},
		{Name: "WholeFile", Offset: 0, Length: 133 * 512},
	}

	for _, tc := range cases {
		t.Run(tc.Name, func(t *testing.T) {
			_, volume := dt.CreateMountedVolume(t, 512, 400)
			inumber, err := volume.Create()
			require.NoError(t, err)

			data := dt.PatternBytes(tc.Length, 7)
			written, err := volume.Write(inumber, data, tc.Offset)
			require.NoError(t, err)
			assert.Equal(t, tc.Length, written)

			readBack, err := volume.Read(inumber, tc.Length, tc.Offset)
			require.NoError(t, err)
			assert.True(t, bytes.Equal(data, readBack), "data read back differs from what was written")

			// Everything before the write is a hole and must read as zeroes.
			if tc.Offset > 0 && tc.Length > 0 {
				hole, err := volume.Read(inumber, int(tc.Offset), 0)
				require.NoError(t, err)
				assert.Equal(t, make([]byte, tc.Offset), hole, "hole isn't zeroed")
			}
		})
	}
}

func TestWrite__Overwrite(t *testing.T) {
	_, volume := dt.CreateMountedVolume(t, 512, 100)
	inumber, err := volume.Create()
	require.NoError(t, err)

	original := dt.PatternBytes(3000, 1)
	_, err = volume.Write(inumber, original, 0)
	require.NoError(t, err)
	freeAfterFirst := volume.Stat().BlocksFree

	patch := bytes.Repeat([]byte{0xee}, 700)
	_, err = volume.Write(inumber, patch, 400)
	require.NoError(t, err)
	assert.Equal(t, freeAfterFirst, volume.Stat().BlocksFree, "overwrite allocated new blocks")

	expected := append([]byte{}, original...)
	copy(expected[400:], patch)
	readBack, err := volume.Read(inumber, 3000, 0)
	require.NoError(t, err)
	assert.Equal(t, expected, readBack)
}

func TestWrite__DirectOnlyNeverAllocatesIndirect(t *testing.T) {
	fs, volume := dt.CreateMountedVolume(t, 512, 100)
	inumber, err := volume.Create()
	require.NoError(t, err)
	freeAtStart := volume.Stat().BlocksFree

	_, err = volume.Write(inumber, dt.PatternBytes(5*512, 0), 0)
	require.NoError(t, err)
	assert.Equal(t, freeAtStart-5, volume.Stat().BlocksFree)

	report, err := fs.Report()
	require.NoError(t, err)
	require.Len(t, report.Inodes, 1)
	assert.EqualValues(t, []blockfs.PhysicalBlock{11, 12, 13, 14, 15}, report.Inodes[0].DirectBlocks)
	assert.EqualValues(t, 0, report.Inodes[0].IndirectBlock, "indirect block was allocated")
}

func TestWrite__PastDirectAllocatesOneIndirect(t *testing.T) {
	fs, volume := dt.CreateMountedVolume(t, 512, 100)
	inumber, err := volume.Create()
	require.NoError(t, err)
	freeAtStart := volume.Stat().BlocksFree

	_, err = volume.Write(inumber, dt.PatternBytes(5*512+1, 0), 0)
	require.NoError(t, err)
	assert.Equal(t, freeAtStart-7, volume.Stat().BlocksFree, "expected 6 data blocks and 1 indirect block")

	_, err = volume.Write(inumber, dt.PatternBytes(3*512, 0), 5*512+1)
	require.NoError(t, err)
	assert.Equal(t, freeAtStart-10, volume.Stat().BlocksFree, "a second indirect block was allocated")

	report, err := fs.Report()
	require.NoError(t, err)
	require.Len(t, report.Inodes, 1)
	entry := report.Inodes[0]
	assert.EqualValues(t, 16, entry.IndirectBlock, "indirect block must come before its first data block")
	assert.EqualValues(t, []blockfs.PhysicalBlock{17, 18, 19, 20}, entry.IndirectDataBlocks)
}

func TestWrite__OutOfSpace(t *testing.T) {
	// 20 blocks: superblock, 2 inode blocks, and 17 free blocks.
	_, volume := dt.CreateMountedVolume(t, 512, 20)
	inumber, err := volume.Create()
	require.NoError(t, err)

	data := dt.PatternBytes(20*512, 2)
	written, err := volume.Write(inumber, data, 0)
	assert.ErrorIs(t, err, blockfs.ErrOutOfSpace)
	assert.True(t, simplefs.IsOutOfSpace(err))
	// 16 data blocks fit: one of the 17 free blocks is the indirect block.
	assert.Equal(t, 16*512, written)
	assert.EqualValues(t, 0, volume.Stat().BlocksFree)

	size, err := volume.GetSize(inumber)
	require.NoError(t, err)
	assert.EqualValues(t, 16*512, size, "size doesn't include the partial write")

	readBack, err := volume.Read(inumber, 20*512, 0)
	require.NoError(t, err)
	assert.Equal(t, data[:16*512], readBack)

	// Other files can't get space either, but deleting frees it all.
	other, err := volume.Create()
	require.NoError(t, err)
	written, err = volume.Write(other, []byte("x"), 0)
	assert.ErrorIs(t, err, blockfs.ErrOutOfSpace)
	assert.Equal(t, 0, written)

	require.NoError(t, volume.Delete(inumber))
	assert.EqualValues(t, 17, volume.Stat().BlocksFree)
}

func TestWrite__FileTooLarge(t *testing.T) {
	// 64-byte blocks hold 16 pointers, so a file is at most 21 blocks.
	_, volume := dt.CreateMountedVolume(t, 64, 100)
	inumber, err := volume.Create()
	require.NoError(t, err)

	written, err := volume.Write(inumber, dt.PatternBytes(1400, 0), 0)
	assert.ErrorIs(t, err, blockfs.ErrFileTooLarge)
	assert.Equal(t, 21*64, written)

	size, err := volume.GetSize(inumber)
	require.NoError(t, err)
	assert.EqualValues(t, 21*64, size)

	written, err = volume.Write(inumber, []byte("x"), 21*64)
	assert.ErrorIs(t, err, blockfs.ErrFileTooLarge)
	assert.Equal(t, 0, written)
}

func TestWrite__EmptyWritePastMaxSize(t *testing.T) {
	_, volume := dt.CreateMountedVolume(t, 64, 100)
	inumber, err := volume.Create()
	require.NoError(t, err)
	_, err = volume.Write(inumber, []byte("abc"), 0)
	require.NoError(t, err)

	// An empty write may extend a file up to the maximum size, but no further.
	written, err := volume.Write(inumber, nil, 21*64+1)
	assert.ErrorIs(t, err, blockfs.ErrFileTooLarge)
	assert.Equal(t, 0, written)

	size, err := volume.GetSize(inumber)
	require.NoError(t, err)
	assert.EqualValues(t, 3, size, "rejected write changed the file size")

	written, err = volume.Write(inumber, nil, 21*64)
	require.NoError(t, err)
	assert.Equal(t, 0, written)
	size, err = volume.GetSize(inumber)
	require.NoError(t, err)
	assert.EqualValues(t, 21*64, size)
}

func TestRead__Clamping(t *testing.T) {
	_, volume := dt.CreateMountedVolume(t, 512, 100)
	inumber, err := volume.Create()
	require.NoError(t, err)
	data := dt.PatternBytes(1000, 4)
	_, err = volume.Write(inumber, data, 0)
	require.NoError(t, err)

	readBack, err := volume.Read(inumber, 5000, 900)
	require.NoError(t, err)
	assert.Equal(t, data[900:], readBack, "read past the end wasn't clamped")

	readBack, err = volume.Read(inumber, 10, 1000)
	require.NoError(t, err)
	assert.Empty(t, readBack, "read at the end must return nothing")

	buffer := make([]byte, 64)
	n, err := volume.ReadAt(inumber, buffer, 5000)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	_, err = volume.ReadAt(inumber, buffer, -1)
	assert.ErrorIs(t, err, blockfs.ErrInvalidArgument)
	_, err = volume.Read(inumber, -1, 0)
	assert.ErrorIs(t, err, blockfs.ErrInvalidArgument)
}

func TestWrite__DoesNotDisturbOtherFiles(t *testing.T) {
	_, volume := dt.CreateMountedVolume(t, 512, 200)

	contents := map[simplefs.Inumber][]byte{}
	for i := 0; i < 4; i++ {
		inumber, err := volume.Create()
		require.NoError(t, err)
		contents[inumber] = dt.PatternBytes(512*6+int(i)*100, byte(i*31))
	}

	// Interleave writes so the files' blocks are mixed together on disk.
	for offset := 0; offset < 512*7; offset += 512 {
		for inumber, data := range contents {
			if offset >= len(data) {
				continue
			}
			end := offset + 512
			if end > len(data) {
				end = len(data)
			}
			_, err := volume.Write(inumber, data[offset:end], int64(offset))
			require.NoError(t, err)
		}
	}

	for inumber, data := range contents {
		readBack, err := volume.Read(inumber, len(data), 0)
		require.NoError(t, err)
		assert.Equalf(t, data, readBack, "inode %d was corrupted", inumber)
	}
}

func TestOpen__Stream(t *testing.T) {
	_, volume := dt.CreateMountedVolume(t, 512, 100)
	inumber, err := volume.Create()
	require.NoError(t, err)

	stream, err := volume.Open(inumber, os.O_RDWR)
	require.NoError(t, err)

	data := dt.PatternBytes(4000, 8)
	copied, err := io.Copy(stream, bytes.NewReader(data))
	require.NoError(t, err)
	assert.EqualValues(t, 4000, copied)

	_, err = stream.Seek(0, io.SeekStart)
	require.NoError(t, err)
	readBack, err := io.ReadAll(stream)
	require.NoError(t, err)
	assert.Equal(t, data, readBack)

	_, err = volume.Open(inumber, os.O_RDWR|os.O_TRUNC)
	assert.ErrorIs(t, err, blockfs.ErrNotPermitted)
	_, err = volume.Open(99, os.O_RDONLY)
	assert.ErrorIs(t, err, blockfs.ErrInvalidInode)
}
