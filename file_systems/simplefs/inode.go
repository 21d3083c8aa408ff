package simplefs

import (
	"encoding/binary"
	"fmt"

	"github.com/dargueta/blockfs"
	"github.com/go-restruct/restruct"
	"github.com/noxer/bytewriter"
)

// Inumber is the index of an inode in the inode table. Inode 0 is reserved.
type Inumber uint32

// RawInode is the on-disk representation of an inode.
type RawInode struct {
	Valid    uint32
	Size     uint32
	Direct   [PointersPerInode]uint32
	Indirect uint32
}

// Inode is the in-memory representation of an inode.
type Inode struct {
	Inumber  Inumber
	IsValid  bool
	Size     int64
	Direct   [PointersPerInode]blockfs.PhysicalBlock
	Indirect blockfs.PhysicalBlock
}

func RawInodeToInode(inumber Inumber, raw RawInode) Inode {
	inode := Inode{
		Inumber:  inumber,
		IsValid:  raw.Valid != 0,
		Size:     int64(raw.Size),
		Indirect: blockfs.PhysicalBlock(raw.Indirect),
	}
	for i, pointer := range raw.Direct {
		inode.Direct[i] = blockfs.PhysicalBlock(pointer)
	}
	return inode
}

func InodeToRawInode(inode Inode) (Inumber, RawInode) {
	raw := RawInode{
		Size:     uint32(inode.Size),
		Indirect: uint32(inode.Indirect),
	}
	if inode.IsValid {
		raw.Valid = 1
	}
	for i, pointer := range inode.Direct {
		raw.Direct[i] = uint32(pointer)
	}
	return inode.Inumber, raw
}

// Clear resets the inode to an unused, empty state.
func (inode *Inode) Clear() {
	inode.IsValid = false
	inode.Size = 0
	inode.Direct = [PointersPerInode]blockfs.PhysicalBlock{}
	inode.Indirect = 0
}

// inodeTable reads and writes inodes in blocks 1 through InodeBlocks.
type inodeTable struct {
	device     blockfs.BlockDevice
	geometry   Geometry
	inodeCount uint
}

func (table *inodeTable) locate(inumber Inumber) (blockfs.PhysicalBlock, uint, error) {
	if uint(inumber) >= table.inodeCount {
		return 0, 0, blockfs.ErrInvalidInode.WithMessage(
			fmt.Sprintf(
				"inode %d not in range [0, %d)", inumber, table.inodeCount))
	}

	block := blockfs.PhysicalBlock(uint(inumber)/table.geometry.InodesPerBlock) + 1
	slot := uint(inumber) % table.geometry.InodesPerBlock
	return block, slot, nil
}

func (table *inodeTable) readBlock(block blockfs.PhysicalBlock) ([]byte, error) {
	buffer := make([]byte, table.geometry.BytesPerBlock)
	err := table.device.ReadBlock(block, buffer)
	if err != nil {
		return nil, blockfs.CastToDriverError(err)
	}
	return buffer, nil
}

func (table *inodeTable) decodeSlot(buffer []byte, slot uint, inumber Inumber) (Inode, error) {
	var raw RawInode
	start := slot * InodeSize
	err := restruct.Unpack(buffer[start:start+InodeSize], binary.LittleEndian, &raw)
	if err != nil {
		return Inode{}, blockfs.ErrIOFailed.Wrap(err)
	}
	return RawInodeToInode(inumber, raw), nil
}

// load reads a single inode from disk.
func (table *inodeTable) load(inumber Inumber) (Inode, error) {
	block, slot, err := table.locate(inumber)
	if err != nil {
		return Inode{}, err
	}

	buffer, err := table.readBlock(block)
	if err != nil {
		return Inode{}, err
	}
	return table.decodeSlot(buffer, slot, inumber)
}

// save writes a single inode back to disk. Only the block holding the inode is
// rewritten, and the other inodes in it are left untouched.
func (table *inodeTable) save(inode Inode) error {
	inumber, raw := InodeToRawInode(inode)
	block, slot, err := table.locate(inumber)
	if err != nil {
		return err
	}

	buffer, err := table.readBlock(block)
	if err != nil {
		return err
	}

	packed, err := restruct.Pack(binary.LittleEndian, &raw)
	if err != nil {
		return blockfs.ErrIOFailed.Wrap(err)
	}
	copy(buffer[slot*InodeSize:], packed)

	return blockfs.CastToDriverError(table.device.WriteBlock(block, buffer))
}

// blockOf returns every inode stored in the `index`th block of the table,
// counting from 0. The last block may be partially used if the inode count in
// the superblock isn't a multiple of the number of inodes per block.
func (table *inodeTable) blockOf(index uint) ([]Inode, error) {
	buffer, err := table.readBlock(blockfs.PhysicalBlock(index + 1))
	if err != nil {
		return nil, err
	}

	firstInumber := index * table.geometry.InodesPerBlock
	inodes := make([]Inode, 0, table.geometry.InodesPerBlock)
	for slot := uint(0); slot < table.geometry.InodesPerBlock; slot++ {
		inumber := firstInumber + slot
		if inumber >= table.inodeCount {
			break
		}

		inode, err := table.decodeSlot(buffer, slot, Inumber(inumber))
		if err != nil {
			return nil, err
		}
		inodes = append(inodes, inode)
	}
	return inodes, nil
}

// numBlocks gives the number of blocks the inode table occupies.
func (table *inodeTable) numBlocks() uint {
	return (table.inodeCount + table.geometry.InodesPerBlock - 1) / table.geometry.InodesPerBlock
}

// forEach calls `callback` with every inode in the table, valid or not, in
// ascending order. Iteration stops early if the callback returns false or an
// error.
func (table *inodeTable) forEach(callback func(inode Inode) (bool, error)) error {
	for index := uint(0); index < table.numBlocks(); index++ {
		inodes, err := table.blockOf(index)
		if err != nil {
			return err
		}

		for _, inode := range inodes {
			keepGoing, err := callback(inode)
			if err != nil || !keepGoing {
				return err
			}
		}
	}
	return nil
}

// EmptyInodeBlock creates the contents of one block of the inode table with
// every slot marked unused.
func EmptyInodeBlock(geometry Geometry) ([]byte, error) {
	block := make([]byte, geometry.BytesPerBlock)
	writer := bytewriter.New(block)

	emptyInode := RawInode{}
	for i := uint(0); i < geometry.InodesPerBlock; i++ {
		err := binary.Write(writer, binary.LittleEndian, &emptyInode)
		if err != nil {
			return nil, blockfs.ErrIOFailed.Wrap(err)
		}
	}
	return block, nil
}

// DecodePointerBlock decodes an indirect block into its list of pointers.
func DecodePointerBlock(block []byte) []blockfs.PhysicalBlock {
	pointers := make([]blockfs.PhysicalBlock, len(block)/PointerSize)
	for i := range pointers {
		pointers[i] = blockfs.PhysicalBlock(
			binary.LittleEndian.Uint32(block[i*PointerSize:]))
	}
	return pointers
}

// EncodePointerBlock serializes a list of pointers into a block-sized buffer.
// Slots past the end of `pointers` are zeroed.
func EncodePointerBlock(geometry Geometry, pointers []blockfs.PhysicalBlock) ([]byte, error) {
	if uint(len(pointers)) > geometry.PointersPerBlock {
		return nil, blockfs.ErrInvalidArgument.WithMessage(
			fmt.Sprintf(
				"an indirect block holds at most %d pointers, got %d",
				geometry.PointersPerBlock,
				len(pointers)))
	}

	block := make([]byte, geometry.BytesPerBlock)
	writer := bytewriter.New(block)
	for _, pointer := range pointers {
		err := binary.Write(writer, binary.LittleEndian, uint32(pointer))
		if err != nil {
			return nil, blockfs.ErrIOFailed.Wrap(err)
		}
	}
	return block, nil
}
