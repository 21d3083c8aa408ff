// Package basicstream implements a basic file-like abstraction around a single
// randomly-accessible object, such as one file on a volume.

package basicstream

import (
	"fmt"
	"io"
	"os"

	"github.com/dargueta/blockfs"
)

const accessModeMask = os.O_RDONLY | os.O_WRONLY | os.O_RDWR

// Storage is the backing store of a stream.
//
// ReadAt must return fewer bytes than requested, and no error, when the read
// extends past the end of the object. WriteAt grows the object as needed and
// may return a short count together with an error if it runs out of space.
type Storage interface {
	ReadAt(buffer []byte, offset int64) (int, error)
	WriteAt(buffer []byte, offset int64) (int, error)
	Size() (int64, error)
}

// BasicStream is a file-like wrapper around a [Storage] that emulates a subset
// of the functionality provided by an [os.File] instance.
type BasicStream struct {
	// Interfaces
	io.Closer
	io.ReaderAt
	io.ReaderFrom
	io.ReadWriteSeeker
	io.StringWriter
	io.WriterAt
	io.WriterTo

	// Fields
	position int64
	storage  Storage
	flags    int
}

// New creates a BasicStream on top of `storage`. `flags` is a combination of
// the os.O_* constants. Of those, only the access mode (read-only, write-only,
// read-write) and [os.O_APPEND] are used:
//
//   - Read/write permissions are enforced, e.g. attempting to write a stream
//     created with [os.O_RDONLY] fails with [blockfs.ErrNotPermitted].
//   - With [os.O_APPEND], every Write goes to the end of the stream and WriteAt
//     is forbidden.
func New(storage Storage, flags int) *BasicStream {
	return &BasicStream{
		position: 0,
		storage:  storage,
		flags:    flags,
	}
}

func (stream *BasicStream) canRead() bool {
	return stream.flags&accessModeMask != os.O_WRONLY
}

func (stream *BasicStream) canWrite() bool {
	return stream.flags&accessModeMask != os.O_RDONLY
}

func (stream *BasicStream) isAppendOnly() bool {
	return stream.flags&os.O_APPEND != 0
}

// Close is a no-op; all writes go straight to the backing storage. The stream
// should not be used for I/O operations after calling this method.
func (stream *BasicStream) Close() error {
	return nil
}

func (stream *BasicStream) Read(buffer []byte) (int, error) {
	totalRead, err := stream.ReadAt(buffer, stream.position)
	stream.position += int64(totalRead)
	return totalRead, err
}

func (stream *BasicStream) ReadAt(buffer []byte, offset int64) (int, error) {
	if !stream.canRead() {
		return 0, blockfs.ErrNotPermitted.WithMessage("stream is write-only")
	}
	if offset < 0 {
		return 0, blockfs.ErrInvalidArgument.WithMessage(
			fmt.Sprintf("negative read offset %d", offset))
	}

	numBytesRead, err := stream.storage.ReadAt(buffer, offset)
	if err != nil {
		return numBytesRead, err
	}

	// The storage returns short reads at the end of the object without an error
	// but io.ReaderAt requires one.
	if numBytesRead < len(buffer) {
		return numBytesRead, io.EOF
	}
	return numBytesRead, nil
}

func (stream *BasicStream) ReadFrom(r io.Reader) (n int64, err error) {
	if !stream.canWrite() {
		return 0, blockfs.ErrNotPermitted.WithMessage("stream is read-only")
	}

	buffer := make([]byte, 4096)
	totalBytesRead := int64(0)
	for {
		lastReadSize, readErr := r.Read(buffer)

		if lastReadSize > 0 {
			written, writeErr := stream.Write(buffer[:lastReadSize])
			totalBytesRead += int64(written)
			if writeErr != nil {
				return totalBytesRead, writeErr
			}
		}

		if readErr == io.EOF {
			return totalBytesRead, nil
		} else if readErr != nil {
			return totalBytesRead, readErr
		}
	}
}

// Seek resets the stream pointer to `offset` bytes from the origin specified in
// `whence`. It must be one of [io.SeekStart], [io.SeekCurrent], or [io.SeekEnd].
//
// Seeking past the end of the file is possible; the file will automatically be
// resized upon the first write. Attempting to read past the end of the file
// returns no data.
func (stream *BasicStream) Seek(offset int64, whence int) (int64, error) {
	var absoluteOffset int64

	switch whence {
	case io.SeekStart:
		absoluteOffset = offset
	case io.SeekCurrent:
		absoluteOffset = stream.position + offset
	case io.SeekEnd:
		size, err := stream.storage.Size()
		if err != nil {
			return stream.position, err
		}
		absoluteOffset = size + offset
	default:
		return stream.position, blockfs.ErrInvalidArgument.WithMessage(
			fmt.Sprintf("invalid seek origin: %d", whence))
	}

	if absoluteOffset < 0 {
		return stream.position,
			blockfs.ErrInvalidArgument.WithMessage(
				fmt.Sprintf(
					"result of Seek(offset=%d, whence=%d) is negative",
					offset,
					whence,
				),
			)
	}

	stream.position = absoluteOffset
	return absoluteOffset, nil
}

// Size returns the size of the file, in bytes.
func (stream *BasicStream) Size() (int64, error) {
	return stream.storage.Size()
}

// Tell returns the current stream position. It's a more concise way of calling
// `Seek(0, io.SeekCurrent)`.
func (stream *BasicStream) Tell() int64 {
	return stream.position
}

func (stream *BasicStream) Write(buffer []byte) (int, error) {
	if !stream.canWrite() {
		return 0, blockfs.ErrNotPermitted.WithMessage("stream is read-only")
	}

	// Force the stream pointer to the end of the file if O_APPEND was set.
	if stream.isAppendOnly() {
		_, err := stream.Seek(0, io.SeekEnd)
		if err != nil {
			return 0, err
		}
	}

	// NB we must call implWriteAt, not WriteAt, since WriteAt fails if the
	// O_APPEND flag is set.
	totalWritten, err := stream.implWriteAt(buffer, stream.position)
	stream.position += int64(totalWritten)
	return totalWritten, err
}

// implWriteAt implements the bulk of WriteAt with the exception that it doesn't
// check for the O_APPEND flag.
func (stream *BasicStream) implWriteAt(buffer []byte, offset int64) (int, error) {
	if !stream.canWrite() {
		return 0, blockfs.ErrNotPermitted.WithMessage("stream is read-only")
	}
	if offset < 0 {
		return 0, blockfs.ErrInvalidArgument.WithMessage(
			fmt.Sprintf("negative write offset %d", offset))
	}
	return stream.storage.WriteAt(buffer, offset)
}

func (stream *BasicStream) WriteAt(buffer []byte, offset int64) (int, error) {
	if stream.isAppendOnly() {
		return 0, blockfs.ErrNotPermitted.WithMessage(
			"positional writes aren't allowed on an append-only stream")
	}
	return stream.implWriteAt(buffer, offset)
}

// WriteString writes a string to the stream.
func (stream *BasicStream) WriteString(s string) (int, error) {
	return stream.Write([]byte(s))
}

func (stream *BasicStream) WriteTo(w io.Writer) (n int64, err error) {
	buffer := make([]byte, 4096)
	totalWritten := int64(0)

	for {
		chunkSize, err := stream.Read(buffer)

		// Always write the data we've read in regardless of whether an error
		// occurred or not.
		if chunkSize > 0 {
			written, writeErr := w.Write(buffer[:chunkSize])
			totalWritten += int64(written)
			if writeErr != nil {
				return totalWritten, writeErr
			}
		}

		// If we hit EOF, we're done. Any other error is fatal.
		if err == io.EOF {
			return totalWritten, nil
		} else if err != nil {
			return totalWritten, err
		}
	}
}
