package simplefs

import (
	"fmt"

	"github.com/dargueta/blockfs"
	c "github.com/dargueta/blockfs/file_systems/common"
	"github.com/sirupsen/logrus"
)

// FileSystem is a SimpleFS driver for a single block device. It can format the
// device, print a report of what's on it, and mount it.
type FileSystem struct {
	device blockfs.BlockDevice
	logger logrus.FieldLogger
	volume *Volume
}

// Option configures a [FileSystem] created by [New].
type Option func(fs *FileSystem)

// WithLogger sets the logger the driver writes to. The default is logrus's
// standard logger.
func WithLogger(logger logrus.FieldLogger) Option {
	return func(fs *FileSystem) {
		fs.logger = logger
	}
}

// New creates a driver for `device`. Nothing is read from or written to the
// device until one of the driver's methods is called.
func New(device blockfs.BlockDevice, options ...Option) *FileSystem {
	fs := &FileSystem{
		device: device,
		logger: logrus.StandardLogger(),
	}
	for _, option := range options {
		option(fs)
	}
	return fs
}

// Device returns the block device the driver operates on.
func (fs *FileSystem) Device() blockfs.BlockDevice {
	return fs.device
}

// IsMounted returns true if a volume handle returned by [FileSystem.Mount] is
// still active.
func (fs *FileSystem) IsMounted() bool {
	return fs.volume != nil && fs.volume.mounted
}

// Format writes a new, empty file system to the device, destroying everything
// on it. It fails with [blockfs.ErrAlreadyMounted] and changes nothing if the
// device is currently mounted.
func (fs *FileSystem) Format() error {
	if fs.IsMounted() {
		return blockfs.ErrAlreadyMounted.WithMessage("unmount the volume before formatting it")
	}

	geometry, err := NewGeometry(fs.device.BytesPerBlock())
	if err != nil {
		return err
	}

	superblock, err := NewSuperblock(geometry, fs.device.TotalBlocks())
	if err != nil {
		return err
	}

	emptyBlock, err := EmptyInodeBlock(geometry)
	if err != nil {
		return err
	}

	// The superblock goes last so that an interrupted format leaves the device
	// unformatted rather than half-formatted.
	for block := blockfs.PhysicalBlock(1); block <= blockfs.PhysicalBlock(superblock.InodeBlocks); block++ {
		err = fs.device.WriteBlock(block, emptyBlock)
		if err != nil {
			return blockfs.CastToDriverError(err)
		}
	}

	encoded, err := superblock.Encode(geometry)
	if err != nil {
		return err
	}
	err = fs.device.WriteBlock(0, encoded)
	if err != nil {
		return blockfs.CastToDriverError(err)
	}

	fs.logger.WithFields(logrus.Fields{
		"volume_id":    superblock.ID().String(),
		"total_blocks": superblock.TotalBlocks,
		"inode_blocks": superblock.InodeBlocks,
		"inodes":       superblock.InodeCount,
	}).Info("formatted volume")
	return nil
}

// ReadSuperblock reads and validates the superblock of the device.
func (fs *FileSystem) ReadSuperblock() (Superblock, Geometry, error) {
	geometry, err := NewGeometry(fs.device.BytesPerBlock())
	if err != nil {
		return Superblock{}, Geometry{}, err
	}

	buffer := make([]byte, geometry.BytesPerBlock)
	err = fs.device.ReadBlock(0, buffer)
	if err != nil {
		return Superblock{}, Geometry{}, blockfs.CastToDriverError(err)
	}

	superblock, err := DecodeSuperblock(buffer)
	if err != nil {
		return Superblock{}, Geometry{}, err
	}

	err = superblock.Validate(geometry, fs.device.TotalBlocks())
	if err != nil {
		return Superblock{}, Geometry{}, err
	}
	return superblock, geometry, nil
}

// Mount validates the file system on the device and returns a handle for
// operating on its files. The free block map is rebuilt from the inode table.
//
// Mounting an already-mounted device rebuilds the free block map of the
// existing handle and returns that same handle.
func (fs *FileSystem) Mount() (*Volume, error) {
	superblock, geometry, err := fs.ReadSuperblock()
	if err != nil {
		return nil, err
	}

	volume := fs.volume
	if volume == nil {
		volume = &Volume{fs: fs}
	}

	volume.device = fs.device
	volume.geometry = geometry
	volume.superblock = superblock
	volume.inodes = inodeTable{
		device:     fs.device,
		geometry:   geometry,
		inodeCount: uint(superblock.InodeCount),
	}
	volume.logger = fs.logger.WithField("volume_id", superblock.ID().String())

	err = volume.rebuildFreeMap()
	if err != nil {
		volume.mounted = false
		volume.freeMap = c.Allocator{}
		fs.volume = nil
		return nil, err
	}

	volume.mounted = true
	fs.volume = volume

	volume.logger.WithFields(logrus.Fields{
		"blocks_used": volume.freeMap.UnitsInUse(),
		"blocks_free": volume.freeMap.UnitsFree(),
		"inodes_used": volume.inodesInUse,
	}).Debug("mounted volume")
	return volume, nil
}

func (fs *FileSystem) String() string {
	return fmt.Sprintf(
		"SimpleFS(%d blocks of %d bytes)",
		fs.device.TotalBlocks(),
		fs.device.BytesPerBlock())
}
