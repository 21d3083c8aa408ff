// Package compression packs SimpleFS disk images into small archives and back.
//
// A freshly formatted image is almost entirely null bytes: the inode table is
// zeroed and data blocks are never touched until a file grows into them. The
// archive format run-length encodes the raw image first and then gzips the
// result, which shrinks a mostly-empty image to a few dozen bytes.
//
// The run-length encoding is RLE8, the scheme used by BMP files. A byte that
// occurs N >= 2 times in a row is written twice, followed by one unsigned byte
// giving the number of additional repetitions:
//
//	WXXXXXXXXXXXXXXXYZZ
//	W XX 13 Y ZZ 0
//
// A single run can describe at most 257 bytes, so longer runs are split. A run
// of 300 "X" becomes `XX 255 XX 41`.
package compression
