package blockdevice

import (
	"fmt"
	"os"

	"github.com/dargueta/blockfs"
	c "github.com/dargueta/blockfs/file_systems/common"
)

// OpenFileDevice opens (creating if necessary) a disk image file at `path`.
//
// If `totalBlocks` is nonzero, the image is resized to exactly that many blocks.
// If it's zero, the size is inferred from the existing file, rounded down to the
// nearest block; an empty or missing file is an error in that case.
func OpenFileDevice(path string, bytesPerBlock, totalBlocks uint) (*StreamDevice, error) {
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, blockfs.ErrIOFailed.Wrap(err)
	}

	if totalBlocks == 0 {
		totalBlocks, err = DetermineBlockCount(file, bytesPerBlock)
		if err != nil {
			file.Close()
			return nil, blockfs.ErrIOFailed.Wrap(err)
		}
		if totalBlocks == 0 {
			file.Close()
			return nil, blockfs.ErrInvalidArgument.WithMessage(
				fmt.Sprintf(
					"image %q holds no complete %d-byte blocks; give a block count to create it",
					path,
					bytesPerBlock))
		}
	} else {
		err = resize(file, bytesPerBlock, totalBlocks)
		if err != nil {
			file.Close()
			return nil, err
		}
	}

	return NewStreamDevice(file, bytesPerBlock, totalBlocks, 0), nil
}

func resize(truncator c.Truncator, bytesPerBlock, totalBlocks uint) error {
	err := truncator.Truncate(int64(totalBlocks) * int64(bytesPerBlock))
	if err != nil {
		return blockfs.ErrIOFailed.Wrap(err)
	}
	return nil
}

// Sync commits the contents of a file-backed device to stable storage. It's a
// no-op for devices that aren't backed by an [os.File].
func (device *StreamDevice) Sync() error {
	file, ok := device.stream.(*os.File)
	if !ok {
		return nil
	}
	return file.Sync()
}

// Flush implements [blockfs.Flusher], so unmounting a volume on a file-backed
// device syncs the image file.
func (device *StreamDevice) Flush() error {
	err := device.Sync()
	if err != nil {
		return blockfs.ErrIOFailed.Wrap(err)
	}
	return nil
}
