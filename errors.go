package blockfs

import (
	"fmt"

	"github.com/hashicorp/go-multierror"
)

type DriverError interface {
	error
	WithMessage(message string) DriverError
	Wrap(err error) DriverError
}

type baseDriverError string

const rootError = baseDriverError("")

// Volume lifecycle errors.
var ErrNotMounted = rootError.WithMessage("Volume not mounted")
var ErrNotFormatted = rootError.WithMessage("Volume not formatted")
var ErrAlreadyMounted = rootError.WithMessage("Volume already mounted")

// File errors.
var ErrInvalidInode = rootError.WithMessage("Invalid inode")
var ErrNoFreeInode = rootError.WithMessage("No free inodes")
var ErrOutOfSpace = rootError.WithMessage("No space left on device")
var ErrFileTooLarge = rootError.WithMessage("File too large")

// General errors.
var ErrAlreadyFree = rootError.WithMessage("Block already free")
var ErrFileSystemCorrupted = rootError.WithMessage("Structure needs cleaning")
var ErrInvalidArgument = rootError.WithMessage("Invalid argument")
var ErrIOFailed = rootError.WithMessage("Input/output error")
var ErrNotPermitted = rootError.WithMessage("Operation not permitted")

func (e baseDriverError) Error() string {
	return string(e)
}

func (e baseDriverError) WithMessage(message string) DriverError {
	return customDriverError{
		message:       message,
		originalError: e,
	}
}

func (e baseDriverError) Wrap(err error) DriverError {
	return customDriverError{
		message:       fmt.Sprintf("%s: %s", e.Error(), err.Error()),
		originalError: multierror.Append(e, err),
	}
}

// -----------------------------------------------------------------------------

type customDriverError struct {
	message       string
	originalError error
}

// Error implements the `error` object interface. When called, it returns a string
// describing the error.
func (e customDriverError) Error() string {
	return e.message
}

func (e customDriverError) WithMessage(message string) DriverError {
	return customDriverError{
		message:       fmt.Sprintf("%s: %s", e.message, message),
		originalError: e,
	}
}

func (e customDriverError) Wrap(err error) DriverError {
	return customDriverError{
		message:       fmt.Sprintf("%s: %s", e.Error(), err.Error()),
		originalError: multierror.Append(e, err),
	}
}

func (e customDriverError) Unwrap() error {
	return e.originalError
}

// CastToDriverError converts an arbitrary error into a DriverError. Errors that
// already are DriverErrors are returned unmodified, anything else is wrapped
// with ErrIOFailed. nil is passed through.
func CastToDriverError(err error) DriverError {
	if err == nil {
		return nil
	}
	if driverErr, ok := err.(DriverError); ok {
		return driverErr
	}
	return ErrIOFailed.Wrap(err)
}
