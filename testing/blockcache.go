package testing

import (
	"crypto/rand"
	"fmt"
	"testing"

	"github.com/dargueta/blockfs"
	"github.com/dargueta/blockfs/blockdevice"
	"github.com/dargueta/blockfs/file_systems/common/blockcache"
	"github.com/stretchr/testify/require"
)

// RandomImage returns `totalBlocks` blocks of random bytes.
func RandomImage(t *testing.T, bytesPerBlock, totalBlocks uint) []byte {
	image := make([]byte, bytesPerBlock*totalBlocks)
	_, err := rand.Read(image)
	require.NoError(t, err, "failed to fill the image with random bytes")
	return image
}

// readOnlyDevice fails the test if a write ever reaches the device.
type readOnlyDevice struct {
	blockfs.BlockDevice
	t *testing.T
}

func (device readOnlyDevice) WriteBlock(block blockfs.PhysicalBlock, buffer []byte) error {
	message := fmt.Sprintf("%d bytes written to block %d of a read-only image", len(buffer), block)
	device.t.Error(message)
	return blockfs.ErrNotPermitted.WithMessage(message)
}

// CreateCachedImage puts a write-back cache in front of a memory device backed
// by `image`. Flushing the cache modifies `image` directly. If `writable` is
// false, any flush that reaches the device fails the test.
//
// The device is returned too, so tests can check how often the cache touched
// it.
func CreateCachedImage(
	t *testing.T, image []byte, bytesPerBlock uint, writable bool,
) (*blockcache.BlockCache, *blockdevice.StreamDevice) {
	require.Zero(t, uint(len(image))%bytesPerBlock, "image isn't a whole number of blocks")

	device := blockdevice.NewMemoryDeviceFromBytes(image, bytesPerBlock)
	var backing blockfs.BlockDevice = device
	if !writable {
		backing = readOnlyDevice{BlockDevice: device, t: t}
	}

	cache := blockcache.WrapDevice(backing)
	require.EqualValues(t, device.TotalBlocks(), cache.TotalBlocks(), "cache is the wrong size")
	return cache, device
}
