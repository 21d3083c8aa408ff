// Package common contains definitions of fundamental types and functions used
// across multiple file system implementations.
package common

// Truncator is an interface for objects that support a Truncate() method. This
// method must behave just like [os.File.Truncate].
type Truncator interface {
	Truncate(size int64) error
}

// LengthToNumBlocks gives the minimum number of blocks of `bytesPerBlock` bytes
// required to hold `size` bytes.
func LengthToNumBlocks(size, bytesPerBlock uint) uint {
	return (size + bytesPerBlock - 1) / bytesPerBlock
}
