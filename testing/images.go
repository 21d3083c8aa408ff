package testing

import (
	"bytes"
	"testing"

	"github.com/dargueta/blockfs/blockdevice"
	"github.com/dargueta/blockfs/utilities/compression"
	"github.com/stretchr/testify/require"
)

// ArchiveImage compresses the entire contents of `device` the same way the
// `export` command does.
func ArchiveImage(t *testing.T, device *blockdevice.StreamDevice) []byte {
	var raw bytes.Buffer
	_, err := device.WriteTo(&raw)
	require.NoError(t, err, "failed to read the image")

	var archive bytes.Buffer
	_, err = compression.CompressImage(&raw, &archive)
	require.NoError(t, err, "failed to compress the image")
	return archive.Bytes()
}

// LoadArchivedImage decompresses an archive into a new memory device. Writes to
// the device do not affect `archive`.
func LoadArchivedImage(
	t *testing.T, archive []byte, bytesPerBlock, totalBlocks uint,
) *blockdevice.StreamDevice {
	require.Greater(t, len(archive), 0, "archive is empty")

	var raw bytes.Buffer
	_, err := compression.DecompressImage(bytes.NewReader(archive), &raw)
	require.NoError(t, err)
	require.EqualValues(
		t,
		bytesPerBlock*totalBlocks,
		raw.Len(),
		"uncompressed image is wrong size")

	return blockdevice.NewMemoryDeviceFromBytes(raw.Bytes(), bytesPerBlock)
}
