package mountpoint

import (
	"errors"
	"syscall"

	"github.com/dargueta/blockfs"
	"github.com/hanwen/go-fuse/v2/fuse"
)

var errnoTable = []struct {
	err   error
	errno syscall.Errno
}{
	{blockfs.ErrNotMounted, syscall.ENODEV},
	{blockfs.ErrNotFormatted, syscall.ENODEV},
	{blockfs.ErrAlreadyMounted, syscall.EBUSY},
	{blockfs.ErrInvalidInode, syscall.ENOENT},
	{blockfs.ErrNoFreeInode, syscall.ENOSPC},
	{blockfs.ErrOutOfSpace, syscall.ENOSPC},
	{blockfs.ErrFileTooLarge, syscall.EFBIG},
	{blockfs.ErrFileSystemCorrupted, syscall.EUCLEAN},
	{blockfs.ErrInvalidArgument, syscall.EINVAL},
	{blockfs.ErrNotPermitted, syscall.EPERM},
	{blockfs.ErrIOFailed, syscall.EIO},
}

// ToErrno converts an error returned by the file system into the errno FUSE
// should report to the kernel. nil becomes 0, and anything unrecognized
// becomes EIO.
func ToErrno(err error) syscall.Errno {
	if err == nil {
		return 0
	}
	for _, entry := range errnoTable {
		if errors.Is(err, entry.err) {
			return entry.errno
		}
	}

	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno
	}
	return syscall.EIO
}

func toStatus(err error) fuse.Status {
	return fuse.Status(ToErrno(err))
}
