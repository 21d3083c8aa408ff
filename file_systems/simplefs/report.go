package simplefs

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/dargueta/blockfs"
	"github.com/gocarina/gocsv"
	"gopkg.in/yaml.v2"
)

// BlockList is a list of block numbers. In CSV it's rendered as a single
// space-separated field.
type BlockList []blockfs.PhysicalBlock

func (list BlockList) MarshalCSV() (string, error) {
	return list.String(), nil
}

func (list BlockList) String() string {
	parts := make([]string, len(list))
	for i, block := range list {
		parts[i] = strconv.FormatUint(uint64(block), 10)
	}
	return strings.Join(parts, " ")
}

// InodeReport describes one valid inode.
type InodeReport struct {
	Inumber            Inumber               `csv:"inumber" yaml:"inumber"`
	Size               int64                 `csv:"size" yaml:"size"`
	DirectBlocks       BlockList             `csv:"direct_blocks" yaml:"direct_blocks"`
	IndirectBlock      blockfs.PhysicalBlock `csv:"indirect_block" yaml:"indirect_block,omitempty"`
	IndirectDataBlocks BlockList             `csv:"indirect_data_blocks" yaml:"indirect_data_blocks,omitempty"`
}

// Report is a description of everything on a volume: the contents of the
// superblock, and the blocks used by every valid inode.
type Report struct {
	VolumeID    string        `yaml:"volume_id"`
	TotalBlocks uint32        `yaml:"total_blocks"`
	InodeBlocks uint32        `yaml:"inode_blocks"`
	InodeCount  uint32        `yaml:"inodes"`
	Inodes      []InodeReport `yaml:"valid_inodes"`
}

// Report reads the superblock and the inode table and describes what's in use.
// The volume doesn't need to be mounted, and nothing is modified.
func (fs *FileSystem) Report() (Report, error) {
	superblock, geometry, err := fs.ReadSuperblock()
	if err != nil {
		return Report{}, err
	}

	report := Report{
		VolumeID:    superblock.ID().String(),
		TotalBlocks: superblock.TotalBlocks,
		InodeBlocks: superblock.InodeBlocks,
		InodeCount:  superblock.InodeCount,
		Inodes:      []InodeReport{},
	}

	// The report is built from a throwaway volume that's never mounted. It's
	// only used for its pointer helpers.
	volume := &Volume{
		fs:         fs,
		device:     fs.device,
		geometry:   geometry,
		superblock: superblock,
		logger:     fs.logger,
	}
	table := inodeTable{
		device:     fs.device,
		geometry:   geometry,
		inodeCount: uint(superblock.InodeCount),
	}

	err = table.forEach(func(inode Inode) (bool, error) {
		if !inode.IsValid {
			return true, nil
		}

		entry := InodeReport{
			Inumber:      inode.Inumber,
			Size:         inode.Size,
			DirectBlocks: BlockList{},
		}
		for _, block := range inode.Direct {
			if block != 0 {
				entry.DirectBlocks = append(entry.DirectBlocks, block)
			}
		}

		if inode.Indirect != 0 {
			entry.IndirectBlock = inode.Indirect
			entry.IndirectDataBlocks = BlockList{}
			if volume.isDataBlock(inode.Indirect) {
				pointers, err := volume.readPointerBlock(inode.Indirect)
				if err != nil {
					return false, err
				}
				for _, block := range pointers {
					if block != 0 {
						entry.IndirectDataBlocks = append(entry.IndirectDataBlocks, block)
					}
				}
			}
		}

		report.Inodes = append(report.Inodes, entry)
		return true, nil
	})
	if err != nil {
		return Report{}, err
	}
	return report, nil
}

// WriteText writes the report in a human-readable format.
func (report *Report) WriteText(w io.Writer) error {
	var builder strings.Builder

	builder.WriteString("superblock:\n")
	builder.WriteString("    magic number is valid\n")
	fmt.Fprintf(&builder, "    %d blocks\n", report.TotalBlocks)
	fmt.Fprintf(&builder, "    %d inode blocks\n", report.InodeBlocks)
	fmt.Fprintf(&builder, "    %d inodes\n", report.InodeCount)
	fmt.Fprintf(&builder, "    volume id: %s\n", report.VolumeID)

	for _, inode := range report.Inodes {
		fmt.Fprintf(&builder, "inode %d\n", inode.Inumber)
		fmt.Fprintf(&builder, "    size: %d bytes\n", inode.Size)
		builder.WriteString("    direct blocks:")
		for _, block := range inode.DirectBlocks {
			fmt.Fprintf(&builder, " %d", block)
		}
		builder.WriteString("\n")

		if inode.IndirectBlock != 0 {
			fmt.Fprintf(&builder, "    indirect block: %d\n", inode.IndirectBlock)
			builder.WriteString("    indirect data blocks:")
			for _, block := range inode.IndirectDataBlocks {
				fmt.Fprintf(&builder, " %d", block)
			}
			builder.WriteString("\n")
		}
	}

	_, err := io.WriteString(w, builder.String())
	return err
}

// WriteCSV writes one CSV row per valid inode, with a header.
func (report *Report) WriteCSV(w io.Writer) error {
	return gocsv.Marshal(report.Inodes, w)
}

// WriteYAML writes the whole report as a YAML document.
func (report *Report) WriteYAML(w io.Writer) error {
	data, err := yaml.Marshal(report)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

// Debug writes a human-readable report of the volume to `w`. If the device
// isn't formatted, it only says so.
func (fs *FileSystem) Debug(w io.Writer) error {
	report, err := fs.Report()
	if errors.Is(err, blockfs.ErrNotFormatted) {
		_, err = io.WriteString(w, "superblock:\n    magic number is invalid\n")
		return err
	} else if err != nil {
		return err
	}
	return report.WriteText(w)
}
