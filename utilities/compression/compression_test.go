package compression_test

import (
	"bytes"
	"crypto/rand"
	"testing"

	"github.com/dargueta/blockfs/file_systems/simplefs"
	dt "github.com/dargueta/blockfs/testing"
	c "github.com/dargueta/blockfs/utilities/compression"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func roundTripImage(t *testing.T, image []byte) []byte {
	var archive bytes.Buffer
	_, err := c.CompressImage(bytes.NewReader(image), &archive)
	require.NoError(t, err, "compression failed")
	compressed := append([]byte(nil), archive.Bytes()...)

	var restored bytes.Buffer
	n, err := c.DecompressImage(&archive, &restored)
	require.NoError(t, err, "decompression failed")
	assert.EqualValues(t, len(image), n)
	assert.True(t, bytes.Equal(image, restored.Bytes()), "image changed in the round trip")
	return compressed
}

func TestCompressImage__RoundTrip(t *testing.T) {
	random := make([]byte, 4096)
	rand.Read(random)

	roundTripImage(t, []byte{})
	roundTripImage(t, random)
	roundTripImage(t, bytes.Repeat([]byte{100}, 9174))
}

func TestCompressImage__FormattedVolumeIsTiny(t *testing.T) {
	fs, device, _ := dt.CreateFileSystem(t, 512, 2000)
	require.NoError(t, fs.Format())

	volume, err := fs.Mount()
	require.NoError(t, err)
	inumber, err := volume.Create()
	require.NoError(t, err)
	_, err = volume.Write(inumber, dt.PatternBytes(1500, 3), 0)
	require.NoError(t, err)
	require.NoError(t, volume.Unmount())

	var image bytes.Buffer
	_, err = device.WriteTo(&image)
	require.NoError(t, err)

	compressed := roundTripImage(t, image.Bytes())
	assert.Less(t, len(compressed), 4096, "mostly empty image didn't compress")
}

func TestLoadArchivedImage__Mountable(t *testing.T) {
	fs, device, _ := dt.CreateFileSystem(t, 512, 64)
	require.NoError(t, fs.Format())
	volume, err := fs.Mount()
	require.NoError(t, err)
	inumber, err := volume.Create()
	require.NoError(t, err)
	data := dt.PatternBytes(4000, 9)
	_, err = volume.Write(inumber, data, 0)
	require.NoError(t, err)
	require.NoError(t, volume.Unmount())

	restored := dt.LoadArchivedImage(t, dt.ArchiveImage(t, device), 512, 64)
	restoredVolume, err := simplefs.New(restored).Mount()
	require.NoError(t, err, "restored image didn't mount")

	readBack, err := restoredVolume.Read(inumber, len(data), 0)
	require.NoError(t, err)
	assert.Equal(t, data, readBack)
}

func TestDecompressImage__NotAnArchive(t *testing.T) {
	_, err := c.DecompressImage(bytes.NewReader([]byte("plain text")), &bytes.Buffer{})
	assert.Error(t, err)
}
