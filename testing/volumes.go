package testing

import (
	"testing"

	"github.com/dargueta/blockfs/blockdevice"
	"github.com/dargueta/blockfs/file_systems/simplefs"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
)

// CreateFileSystem creates a SimpleFS driver on top of an unformatted, zeroed
// memory device. Log output is captured by the returned hook instead of being
// written to stderr.
func CreateFileSystem(
	t *testing.T, bytesPerBlock, totalBlocks uint,
) (*simplefs.FileSystem, *blockdevice.StreamDevice, *test.Hook) {
	device := blockdevice.NewMemoryDevice(bytesPerBlock, totalBlocks)
	require.EqualValues(t, totalBlocks, device.TotalBlocks(), "memory device is the wrong size")

	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	return simplefs.New(device, simplefs.WithLogger(logger)), device, hook
}

// CreateMountedVolume formats a fresh memory device and mounts it. Any failure
// aborts the test.
func CreateMountedVolume(
	t *testing.T, bytesPerBlock, totalBlocks uint,
) (*simplefs.FileSystem, *simplefs.Volume) {
	fs, _, _ := CreateFileSystem(t, bytesPerBlock, totalBlocks)
	require.NoError(t, fs.Format(), "formatting failed")

	volume, err := fs.Mount()
	require.NoError(t, err, "mounting failed")
	return fs, volume
}

// PatternBytes returns `length` bytes of a repeating pattern that
// depends on `seed`, so that misplaced blocks are easy to detect.
func PatternBytes(length int, seed byte) []byte {
	data := make([]byte, length)
	for i := range data {
		data[i] = byte(i%251) + 1 + seed
	}
	return data
}
