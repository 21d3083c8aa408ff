// Package mountpoint exposes a mounted SimpleFS volume through FUSE.
//
// The volume appears as a single flat directory. Every file is named after its
// inode number. Files created through the mount get the lowest free inode
// number, whatever name they're created under; the name they were created with
// is remembered until the volume is unmounted.
package mountpoint

import (
	"fmt"
	"sort"
	"strconv"
	"sync"
	"syscall"

	"github.com/dargueta/blockfs"
	"github.com/dargueta/blockfs/file_systems/simplefs"
	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/sirupsen/logrus"
)

// RootNodeID is the FUSE node ID of the volume's (only) directory. Files have
// node ID inumber+1 so they never collide with it.
const RootNodeID = 1

// MountFS implements [fuse.RawFileSystem] on top of a SimpleFS volume. The
// volume isn't safe for concurrent use but the FUSE server is multithreaded,
// so every operation holds `mu`.
type MountFS struct {
	fuse.RawFileSystem
	mu      sync.Mutex
	volume  *simplefs.Volume
	logger  logrus.FieldLogger
	aliases map[string]simplefs.Inumber
}

// New creates a FUSE file system for a mounted volume.
func New(volume *simplefs.Volume, logger logrus.FieldLogger) *MountFS {
	return &MountFS{
		RawFileSystem: fuse.NewDefaultRawFileSystem(),
		volume:        volume,
		logger:        logger,
		aliases:       map[string]simplefs.Inumber{},
	}
}

func nodeIDToInumber(nodeID uint64) simplefs.Inumber {
	return simplefs.Inumber(nodeID - 1)
}

func inumberToNodeID(inumber simplefs.Inumber) uint64 {
	return uint64(inumber) + 1
}

func (mfs *MountFS) String() string {
	return "simplefs"
}

func (mfs *MountFS) Init(server *fuse.Server) {
	mfs.logger.Debug("FUSE server initialized")
}

func (mfs *MountFS) SetDebug(debug bool) {}

// resolve turns a directory entry name into an inode number.
func (mfs *MountFS) resolve(name string) (simplefs.Inumber, bool) {
	if inumber, ok := mfs.aliases[name]; ok {
		return inumber, true
	}
	value, err := strconv.ParseUint(name, 10, 32)
	if err != nil || value == 0 {
		return 0, false
	}
	return simplefs.Inumber(value), true
}

// fillAttr fills in the attributes of a node. It fails with ENOENT if the node
// is a file that doesn't exist.
func (mfs *MountFS) fillAttr(nodeID uint64, out *fuse.Attr) fuse.Status {
	geometry := mfs.volume.Geometry()
	out.Ino = nodeID
	out.Blksize = uint32(geometry.BytesPerBlock)

	if nodeID == RootNodeID {
		out.Mode = blockfs.DefaultDirectoryMode
		out.Nlink = 2
		return fuse.OK
	}

	size, err := mfs.volume.GetSize(nodeIDToInumber(nodeID))
	if err != nil {
		return toStatus(err)
	}
	out.Mode = blockfs.DefaultFileMode
	out.Nlink = 1
	out.Size = uint64(size)
	out.Blocks = (uint64(size) + 511) / 512
	return fuse.OK
}

func (mfs *MountFS) fillEntry(inumber simplefs.Inumber, out *fuse.EntryOut) fuse.Status {
	nodeID := inumberToNodeID(inumber)
	code := mfs.fillAttr(nodeID, &out.Attr)
	if !code.Ok() {
		return code
	}
	out.NodeId = nodeID
	out.Generation = 1
	return fuse.OK
}

func (mfs *MountFS) Lookup(cancel <-chan struct{}, header *fuse.InHeader, name string, out *fuse.EntryOut) fuse.Status {
	mfs.mu.Lock()
	defer mfs.mu.Unlock()

	if header.NodeId != RootNodeID {
		return fuse.ENOTDIR
	}
	inumber, ok := mfs.resolve(name)
	if !ok {
		return fuse.ENOENT
	}
	return mfs.fillEntry(inumber, out)
}

func (mfs *MountFS) Forget(nodeID, nlookup uint64) {}

func (mfs *MountFS) GetAttr(cancel <-chan struct{}, input *fuse.GetAttrIn, out *fuse.AttrOut) fuse.Status {
	mfs.mu.Lock()
	defer mfs.mu.Unlock()
	return mfs.fillAttr(input.NodeId, &out.Attr)
}

// SetAttr only supports changing the size of a file, and only to grow it.
// Everything else SimpleFS doesn't store, so it's silently ignored.
func (mfs *MountFS) SetAttr(cancel <-chan struct{}, input *fuse.SetAttrIn, out *fuse.AttrOut) fuse.Status {
	mfs.mu.Lock()
	defer mfs.mu.Unlock()

	if input.NodeId != RootNodeID && input.Valid&fuse.FATTR_SIZE != 0 {
		inumber := nodeIDToInumber(input.NodeId)
		size, err := mfs.volume.GetSize(inumber)
		if err != nil {
			return toStatus(err)
		}

		if int64(input.Size) < size {
			mfs.logger.WithFields(logrus.Fields{
				"inumber":  inumber,
				"size":     size,
				"new_size": input.Size,
			}).Warn("refusing to shrink file")
			return fuse.Status(syscall.EPERM)
		}
		_, err = mfs.volume.Write(inumber, nil, int64(input.Size))
		if err != nil {
			return toStatus(err)
		}
	}
	return mfs.fillAttr(input.NodeId, &out.Attr)
}

func (mfs *MountFS) Create(cancel <-chan struct{}, input *fuse.CreateIn, name string, out *fuse.CreateOut) fuse.Status {
	mfs.mu.Lock()
	defer mfs.mu.Unlock()

	if input.NodeId != RootNodeID {
		return fuse.ENOTDIR
	}
	if inumber, ok := mfs.resolve(name); ok && mfs.exists(inumber) {
		return fuse.Status(syscall.EEXIST)
	}

	inumber, err := mfs.volume.Create()
	if err != nil {
		return toStatus(err)
	}
	if name != strconv.FormatUint(uint64(inumber), 10) {
		mfs.aliases[name] = inumber
	}

	mfs.logger.WithFields(logrus.Fields{
		"name":    name,
		"inumber": inumber,
	}).Debug("created file")

	code := mfs.fillEntry(inumber, &out.EntryOut)
	if !code.Ok() {
		return code
	}
	out.OpenOut = fuse.OpenOut{Fh: uint64(inumber)}
	return fuse.OK
}

func (mfs *MountFS) exists(inumber simplefs.Inumber) bool {
	_, err := mfs.volume.GetSize(inumber)
	return err == nil
}

func (mfs *MountFS) Unlink(cancel <-chan struct{}, header *fuse.InHeader, name string) fuse.Status {
	mfs.mu.Lock()
	defer mfs.mu.Unlock()

	inumber, ok := mfs.resolve(name)
	if !ok || !mfs.exists(inumber) {
		return fuse.ENOENT
	}

	err := mfs.volume.Delete(inumber)
	if err != nil {
		return toStatus(err)
	}
	for alias, target := range mfs.aliases {
		if target == inumber {
			delete(mfs.aliases, alias)
		}
	}
	return fuse.OK
}

func (mfs *MountFS) Open(cancel <-chan struct{}, input *fuse.OpenIn, out *fuse.OpenOut) fuse.Status {
	mfs.mu.Lock()
	defer mfs.mu.Unlock()

	if input.NodeId == RootNodeID {
		return fuse.Status(syscall.EISDIR)
	}
	inumber := nodeIDToInumber(input.NodeId)
	if !mfs.exists(inumber) {
		return fuse.ENOENT
	}
	out.Fh = uint64(inumber)
	return fuse.OK
}

func (mfs *MountFS) Read(cancel <-chan struct{}, input *fuse.ReadIn, buf []byte) (fuse.ReadResult, fuse.Status) {
	mfs.mu.Lock()
	defer mfs.mu.Unlock()

	n, err := mfs.volume.ReadAt(nodeIDToInumber(input.NodeId), buf, int64(input.Offset))
	if err != nil {
		return nil, toStatus(err)
	}
	return fuse.ReadResultData(buf[:n]), fuse.OK
}

// Write reports a short write without an error if the volume fills up partway
// through, so the kernel retries the rest and gets ENOSPC then.
func (mfs *MountFS) Write(cancel <-chan struct{}, input *fuse.WriteIn, data []byte) (uint32, fuse.Status) {
	mfs.mu.Lock()
	defer mfs.mu.Unlock()

	n, err := mfs.volume.Write(nodeIDToInumber(input.NodeId), data, int64(input.Offset))
	if err != nil && n == 0 {
		return 0, toStatus(err)
	} else if err != nil {
		mfs.logger.WithError(err).Debug("short write")
	}
	return uint32(n), fuse.OK
}

func (mfs *MountFS) Release(cancel <-chan struct{}, input *fuse.ReleaseIn) {}

func (mfs *MountFS) Flush(cancel <-chan struct{}, input *fuse.FlushIn) fuse.Status {
	return fuse.OK
}

func (mfs *MountFS) Fsync(cancel <-chan struct{}, input *fuse.FsyncIn) fuse.Status {
	mfs.mu.Lock()
	defer mfs.mu.Unlock()

	if flusher, ok := mfs.volume.Device().(blockfs.Flusher); ok {
		return toStatus(flusher.Flush())
	}
	return fuse.OK
}

func (mfs *MountFS) OpenDir(cancel <-chan struct{}, input *fuse.OpenIn, out *fuse.OpenOut) fuse.Status {
	if input.NodeId != RootNodeID {
		return fuse.ENOTDIR
	}
	return fuse.OK
}

// entries lists every file on the volume, sorted by inode number.
func (mfs *MountFS) entries() ([]fuse.DirEntry, error) {
	report, err := mfs.volume.Report()
	if err != nil {
		return nil, err
	}

	names := map[simplefs.Inumber]string{}
	for alias, inumber := range mfs.aliases {
		names[inumber] = alias
	}

	entries := make([]fuse.DirEntry, 0, len(report.Inodes))
	for _, inode := range report.Inodes {
		if inode.Inumber == 0 {
			continue
		}
		name, ok := names[inode.Inumber]
		if !ok {
			name = strconv.FormatUint(uint64(inode.Inumber), 10)
		}
		entries = append(entries, fuse.DirEntry{
			Name: name,
			Ino:  inumberToNodeID(inode.Inumber),
			Mode: blockfs.DefaultFileMode,
		})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Ino < entries[j].Ino })
	return entries, nil
}

func (mfs *MountFS) ReadDir(cancel <-chan struct{}, input *fuse.ReadIn, out *fuse.DirEntryList) fuse.Status {
	mfs.mu.Lock()
	defer mfs.mu.Unlock()

	if input.NodeId != RootNodeID {
		return fuse.ENOTDIR
	}

	entries, err := mfs.entries()
	if err != nil {
		return toStatus(err)
	}
	for i := input.Offset; i < uint64(len(entries)); i++ {
		if !out.AddDirEntry(entries[i]) {
			break
		}
	}
	return fuse.OK
}

func (mfs *MountFS) ReleaseDir(input *fuse.ReleaseIn) {}

func (mfs *MountFS) StatFs(cancel <-chan struct{}, header *fuse.InHeader, out *fuse.StatfsOut) fuse.Status {
	mfs.mu.Lock()
	defer mfs.mu.Unlock()

	stat := mfs.volume.Stat()
	out.Blocks = stat.TotalBlocks
	out.Bfree = stat.BlocksFree
	out.Bavail = stat.BlocksFree
	out.Files = stat.Files + stat.FilesFree
	out.Ffree = stat.FilesFree
	out.Bsize = uint32(stat.BlockSize)
	out.Frsize = uint32(stat.BlockSize)
	out.NameLen = 255
	return fuse.OK
}

// Options controls how a volume is mounted.
type Options struct {
	Debug      bool
	AllowOther bool
}

// Mount exposes `volume` at the directory `mountpoint`. The caller must call
// Serve on the returned server, and Unmount on it when done.
func Mount(mountpoint string, volume *simplefs.Volume, logger logrus.FieldLogger, options Options) (*fuse.Server, error) {
	mfs := New(volume, logger)
	server, err := fuse.NewServer(mfs, mountpoint, &fuse.MountOptions{
		FsName:     fmt.Sprintf("simplefs:%s", volume.Superblock().ID()),
		Name:       "simplefs",
		Debug:      options.Debug,
		AllowOther: options.AllowOther,
	})
	if err != nil {
		return nil, blockfs.ErrIOFailed.Wrap(err)
	}
	return server, nil
}
