package compression

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
)

// maxRunLength is the longest run a single RLE8 group can describe: the byte
// written twice plus up to 255 repetitions.
const maxRunLength = 257

// CompressRLE8 run-length encodes everything in `input` and writes it to
// `output`. It returns the number of encoded bytes written.
func CompressRLE8(input io.Reader, output io.Writer) (int64, error) {
	source := bufio.NewReader(input)
	sink := bufio.NewWriter(output)
	written := int64(0)

	emit := func(value byte, length int) error {
		for length >= 2 {
			chunk := length
			if chunk > maxRunLength {
				chunk = maxRunLength
			}
			n, err := sink.Write([]byte{value, value, byte(chunk - 2)})
			written += int64(n)
			if err != nil {
				return err
			}
			length -= chunk
		}
		if length == 1 {
			if err := sink.WriteByte(value); err != nil {
				return err
			}
			written++
		}
		return nil
	}

	current := -1
	runLength := 0
	for {
		value, err := source.ReadByte()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				return written, fmt.Errorf("error reading input: %w", err)
			}
			break
		}

		if int(value) == current {
			runLength++
			continue
		}
		if runLength > 0 {
			if err := emit(byte(current), runLength); err != nil {
				return written, err
			}
		}
		current = int(value)
		runLength = 1
	}

	if runLength > 0 {
		if err := emit(byte(current), runLength); err != nil {
			return written, err
		}
	}
	return written, sink.Flush()
}

// DecompressRLE8 reverses [CompressRLE8]. It returns the number of decoded
// bytes written to `output`.
func DecompressRLE8(input io.Reader, output io.Writer) (int64, error) {
	source := bufio.NewReader(input)
	sink := bufio.NewWriter(output)
	written := int64(0)

	// -1 means the next byte starts a new group.
	previous := -1
	for {
		value, err := source.ReadByte()
		if errors.Is(err, io.EOF) {
			break
		} else if err != nil {
			return written, fmt.Errorf("error reading input: %w", err)
		}

		if int(value) != previous {
			if err := sink.WriteByte(value); err != nil {
				return written, err
			}
			written++
			previous = int(value)
			continue
		}

		repeat, err := source.ReadByte()
		if errors.Is(err, io.EOF) {
			return written, fmt.Errorf(
				"%w: missing repeat count after two %02x bytes",
				io.ErrUnexpectedEOF,
				value)
		} else if err != nil {
			return written, fmt.Errorf("error reading input: %w", err)
		}

		// The first copy went out on the previous iteration.
		n, err := sink.Write(bytes.Repeat([]byte{value}, int(repeat)+1))
		written += int64(n)
		if err != nil {
			return written, err
		}
		previous = -1
	}
	return written, sink.Flush()
}
