package compression

import (
	"compress/gzip"
	"io"
)

// CompressImage writes a gzipped, RLE8-encoded copy of the disk image read from
// `input` to `output`. The returned count is the number of RLE8 bytes fed to
// the gzip stream, not the size of the archive.
func CompressImage(input io.Reader, output io.Writer) (int64, error) {
	// Images are small enough that the slowest level costs nothing noticeable.
	gzWriter, err := gzip.NewWriterLevel(output, gzip.BestCompression)
	if err != nil {
		return 0, err
	}

	written, err := CompressRLE8(input, gzWriter)
	closeErr := gzWriter.Close()
	if err != nil {
		return written, err
	}
	return written, closeErr
}

// DecompressImage expands an archive made by [CompressImage] and writes the raw
// image to `output`. It returns the size of the decompressed image.
func DecompressImage(input io.Reader, output io.Writer) (int64, error) {
	gzReader, err := gzip.NewReader(input)
	if err != nil {
		return 0, err
	}
	defer gzReader.Close()
	return DecompressRLE8(gzReader, output)
}
