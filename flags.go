package blockfs

// Unix mode bits, as used in the `st_mode` field of stat(2). SimpleFS volumes
// don't store permissions, so these are only used when presenting a volume to
// the host (e.g. over FUSE).
const (
	S_IXOTH = 0o000001
	S_IWOTH = 0o000002
	S_IROTH = 0o000004
	S_IXGRP = 0o000010
	S_IWGRP = 0o000020
	S_IRGRP = 0o000040
	S_IXUSR = 0o000100
	S_IWUSR = 0o000200
	S_IRUSR = 0o000400

	S_IFDIR = 0o040000
	S_IFREG = 0o100000
	S_IFMT  = 0o170000
)

const S_IRWXO = S_IXOTH | S_IWOTH | S_IROTH
const S_IRWXG = S_IXGRP | S_IWGRP | S_IRGRP
const S_IRWXU = S_IXUSR | S_IWUSR | S_IRUSR

// DefaultFileMode is the mode reported for every file on a volume: a regular
// file, readable by everyone and writable by the owner.
const DefaultFileMode = S_IFREG | S_IRUSR | S_IWUSR | S_IRGRP | S_IROTH

// DefaultDirectoryMode is the mode reported for the (synthetic) root directory
// of a volume.
const DefaultDirectoryMode = S_IFDIR | S_IRWXU | S_IRGRP | S_IXGRP | S_IROTH | S_IXOTH
