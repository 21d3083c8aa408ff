package simplefs

import (
	"errors"
	"fmt"
	"os"

	"github.com/dargueta/blockfs"
	c "github.com/dargueta/blockfs/file_systems/common"
	"github.com/dargueta/blockfs/file_systems/common/basicstream"
	"github.com/sirupsen/logrus"
)

// Volume is a handle to a mounted SimpleFS volume. All file operations go
// through it. Once unmounted, every method returns [blockfs.ErrNotMounted].
type Volume struct {
	fs          *FileSystem
	device      blockfs.BlockDevice
	geometry    Geometry
	superblock  Superblock
	inodes      inodeTable
	freeMap     c.Allocator
	inodesInUse uint
	mounted     bool
	logger      logrus.FieldLogger
}

func (v *Volume) checkMounted() error {
	if !v.mounted {
		return blockfs.ErrNotMounted
	}
	return nil
}

// isDataBlock returns true if `block` is in the data pool, i.e. it's neither
// the superblock nor part of the inode table, and it exists.
func (v *Volume) isDataBlock(block blockfs.PhysicalBlock) bool {
	return block >= v.superblock.FirstDataBlock() && uint32(block) < v.superblock.TotalBlocks
}

// rebuildFreeMap recomputes which blocks are in use by walking every valid
// inode. Pointers outside of the data pool are ignored.
func (v *Volume) rebuildFreeMap() error {
	v.freeMap = c.NewAllocator(uint(v.superblock.TotalBlocks))
	v.inodesInUse = 0

	err := v.freeMap.ReserveRange(0, uint(v.superblock.FirstDataBlock()))
	if err != nil {
		return err
	}

	claim := func(inode Inode, block blockfs.PhysicalBlock, what string) bool {
		log := v.logger.WithFields(logrus.Fields{
			"inumber": inode.Inumber,
			"block":   block,
			"kind":    what,
		})
		if !v.isDataBlock(block) {
			log.Warn("ignoring pointer outside of the data area")
			return false
		}
		if v.freeMap.IsAllocated(c.UnitID(block)) {
			log.Warn("block is claimed more than once")
		}
		v.freeMap.MarkAllocated(c.UnitID(block))
		return true
	}

	return v.inodes.forEach(func(inode Inode) (bool, error) {
		if !inode.IsValid {
			return true, nil
		}
		if inode.Inumber != 0 {
			v.inodesInUse++
		}

		for _, block := range inode.Direct {
			if block != 0 {
				claim(inode, block, "direct")
			}
		}

		if inode.Indirect == 0 || !claim(inode, inode.Indirect, "indirect") {
			return true, nil
		}

		pointers, err := v.readPointerBlock(inode.Indirect)
		if err != nil {
			return false, err
		}
		for _, block := range pointers {
			if block != 0 {
				claim(inode, block, "indirect data")
			}
		}
		return true, nil
	})
}

func (v *Volume) readPointerBlock(block blockfs.PhysicalBlock) ([]blockfs.PhysicalBlock, error) {
	buffer := make([]byte, v.geometry.BytesPerBlock)
	err := v.device.ReadBlock(block, buffer)
	if err != nil {
		return nil, blockfs.CastToDriverError(err)
	}
	return DecodePointerBlock(buffer), nil
}

func (v *Volume) writePointerBlock(block blockfs.PhysicalBlock, pointers []blockfs.PhysicalBlock) error {
	buffer, err := EncodePointerBlock(v.geometry, pointers)
	if err != nil {
		return err
	}
	return blockfs.CastToDriverError(v.device.WriteBlock(block, buffer))
}

// allocateBlock reserves the lowest-numbered free block.
func (v *Volume) allocateBlock() (blockfs.PhysicalBlock, error) {
	unit, err := v.freeMap.AllocateSingle()
	if err != nil {
		return 0, err
	}
	v.logger.WithField("block", unit).Debug("allocated block")
	return blockfs.PhysicalBlock(unit), nil
}

// releaseBlock returns a block to the free pool. Blocks outside the data area
// are never freed, and double frees are only logged.
func (v *Volume) releaseBlock(block blockfs.PhysicalBlock) {
	log := v.logger.WithField("block", block)
	if !v.isDataBlock(block) {
		log.Warn("not releasing block outside of the data area")
		return
	}

	err := v.freeMap.FreeSingle(c.UnitID(block))
	if err != nil {
		log.WithError(err).Warn("failed to release block")
		return
	}
	log.Debug("released block")
}

// Superblock returns a copy of the mounted volume's superblock.
func (v *Volume) Superblock() Superblock {
	return v.superblock
}

// Geometry returns the block size-dependent limits of the volume.
func (v *Volume) Geometry() Geometry {
	return v.geometry
}

// IsBlockInUse returns true if the free block map says `block` is allocated.
func (v *Volume) IsBlockInUse(block blockfs.PhysicalBlock) bool {
	return v.freeMap.IsAllocated(c.UnitID(block))
}

// Create allocates the lowest-numbered unused inode and returns its number. The
// new file is empty. If every inode is in use, it returns 0 and
// [blockfs.ErrNoFreeInode].
func (v *Volume) Create() (Inumber, error) {
	if err := v.checkMounted(); err != nil {
		return 0, err
	}

	var found *Inode
	err := v.inodes.forEach(func(inode Inode) (bool, error) {
		if inode.Inumber == 0 || inode.IsValid {
			return true, nil
		}
		found = &inode
		return false, nil
	})
	if err != nil {
		return 0, err
	}
	if found == nil {
		return 0, blockfs.ErrNoFreeInode.WithMessage(
			fmt.Sprintf("all %d inodes are in use", v.superblock.InodeCount-1))
	}

	found.Clear()
	found.IsValid = true
	err = v.inodes.save(*found)
	if err != nil {
		return 0, err
	}

	v.inodesInUse++
	v.logger.WithField("inumber", found.Inumber).Debug("created inode")
	return found.Inumber, nil
}

// loadValid loads an inode and fails with [blockfs.ErrInvalidInode] if it's not
// in use.
func (v *Volume) loadValid(inumber Inumber) (Inode, error) {
	inode, err := v.inodes.load(inumber)
	if err != nil {
		return Inode{}, err
	}
	if !inode.IsValid {
		return Inode{}, blockfs.ErrInvalidInode.WithMessage(
			fmt.Sprintf("inode %d is not in use", inumber))
	}
	return inode, nil
}

// Delete releases every block of a file and marks its inode unused. Deleting an
// unused inode does nothing and succeeds.
func (v *Volume) Delete(inumber Inumber) error {
	if err := v.checkMounted(); err != nil {
		return err
	}

	inode, err := v.inodes.load(inumber)
	if err != nil {
		return err
	}
	if !inode.IsValid {
		return nil
	}

	toRelease := make([]blockfs.PhysicalBlock, 0, PointersPerInode+1)
	for _, block := range inode.Direct {
		if block != 0 {
			toRelease = append(toRelease, block)
		}
	}

	if inode.Indirect != 0 {
		if v.isDataBlock(inode.Indirect) {
			pointers, err := v.readPointerBlock(inode.Indirect)
			if err != nil {
				return err
			}
			for _, block := range pointers {
				if block != 0 {
					toRelease = append(toRelease, block)
				}
			}
		}
		toRelease = append(toRelease, inode.Indirect)
	}

	for _, block := range toRelease {
		v.releaseBlock(block)
	}

	inode.Clear()
	err = v.inodes.save(inode)
	if err != nil {
		return err
	}

	if inumber != 0 {
		v.inodesInUse--
	}
	v.logger.WithFields(logrus.Fields{
		"inumber":         inumber,
		"blocks_released": len(toRelease),
	}).Debug("deleted inode")
	return nil
}

// GetSize returns the size of a file in bytes. If the inode isn't in use it
// returns -1 and [blockfs.ErrInvalidInode].
func (v *Volume) GetSize(inumber Inumber) (int64, error) {
	if err := v.checkMounted(); err != nil {
		return -1, err
	}

	inode, err := v.loadValid(inumber)
	if err != nil {
		return -1, err
	}
	return inode.Size, nil
}

// Stat returns usage statistics for the volume.
func (v *Volume) Stat() blockfs.VolumeStat {
	reserved := uint64(v.superblock.FirstDataBlock())
	return blockfs.VolumeStat{
		BlockSize:      v.geometry.BytesPerBlock,
		TotalBlocks:    uint64(v.superblock.TotalBlocks),
		BlocksFree:     uint64(v.freeMap.UnitsFree()),
		BlocksReserved: reserved,
		Files:          uint64(v.inodesInUse),
		FilesFree:      uint64(v.superblock.InodeCount) - 1 - uint64(v.inodesInUse),
		MaxFileSize:    v.geometry.MaxFileSize(),
	}
}

// Unmount flushes the device if it buffers writes and deactivates the handle.
// The free block map is discarded.
func (v *Volume) Unmount() error {
	if err := v.checkMounted(); err != nil {
		return err
	}

	v.mounted = false
	v.freeMap = c.Allocator{}
	if v.fs.volume == v {
		v.fs.volume = nil
	}

	if flusher, ok := v.device.(blockfs.Flusher); ok {
		err := flusher.Flush()
		if err != nil {
			return blockfs.CastToDriverError(err)
		}
	}

	v.logger.Debug("unmounted volume")
	return nil
}

// inodeStorage adapts one file of a volume to [basicstream.Storage].
type inodeStorage struct {
	volume  *Volume
	inumber Inumber
}

func (s inodeStorage) ReadAt(buffer []byte, offset int64) (int, error) {
	return s.volume.ReadAt(s.inumber, buffer, offset)
}

func (s inodeStorage) WriteAt(buffer []byte, offset int64) (int, error) {
	return s.volume.Write(s.inumber, buffer, offset)
}

func (s inodeStorage) Size() (int64, error) {
	return s.volume.GetSize(s.inumber)
}

// Open returns a file-like stream over an existing file. `flags` takes the same
// access mode flags as [os.OpenFile]. SimpleFS can't shrink files, so O_TRUNC
// is rejected with [blockfs.ErrNotPermitted].
func (v *Volume) Open(inumber Inumber, flags int) (*basicstream.BasicStream, error) {
	if err := v.checkMounted(); err != nil {
		return nil, err
	}
	if flags&os.O_TRUNC != 0 {
		return nil, blockfs.ErrNotPermitted.WithMessage("files can't be truncated")
	}

	_, err := v.loadValid(inumber)
	if err != nil {
		return nil, err
	}
	return basicstream.New(inodeStorage{volume: v, inumber: inumber}, flags), nil
}

// IsOutOfSpace returns true if `err` means a write stopped early because the
// volume or the file is full.
func IsOutOfSpace(err error) bool {
	return errors.Is(err, blockfs.ErrOutOfSpace) || errors.Is(err, blockfs.ErrFileTooLarge)
}

// Device returns the block device the volume is on.
func (v *Volume) Device() blockfs.BlockDevice {
	return v.device
}

// Report describes every valid inode on the volume. See [FileSystem.Report].
func (v *Volume) Report() (Report, error) {
	if err := v.checkMounted(); err != nil {
		return Report{}, err
	}
	return v.fs.Report()
}
