//go:build linux

// Package ioctl implements the userspace ioctl request-code encoding
// used by the evdev and uinput character devices.
//
// From [ioctl.h]:
//
// ioctl command encoding: 32 bits total, command in lower 16 bits,
// size of the parameter structure in the lower 14 bits of the
// upper 16 bits. The highest 2 bits indicate the access mode.
//
// [ioctl.h]: https://github.com/torvalds/linux/blob/master/include/uapi/asm-generic/ioctl.h
package ioctl

import (
	"reflect"
	"syscall"
	"unsafe"

	"golang.org/x/sys/unix"
)

const (
	nrBits   = 8
	typeBits = 8
	sizeBits = 14
	dirBits  = 2

	nrMask   = 1<<nrBits - 1
	typeMask = 1<<typeBits - 1
	sizeMask = 1<<sizeBits - 1
	dirMask  = 1<<dirBits - 1

	nrShift   = 0
	typeShift = nrShift + nrBits
	sizeShift = typeShift + typeBits
	dirShift  = sizeShift + sizeBits

	// DirNone specifies no data transfer for the ioctl.
	DirNone = 0

	// DirWrite specifies a write (user to kernel) transfer for the ioctl.
	DirWrite = 1

	// DirRead specifies a read (kernel to user) transfer for the ioctl.
	DirRead = 2
)

// typeSize returns the size in bytes of the provided value's type.
func typeSize(argtype any) uint {
	return uint(reflect.TypeOf(argtype).Size())
}

// IOC packs the four ioctl components into a single request code.
func IOC(dir, typ, nr, size uint) uint {
	return dir<<dirShift |
		typ<<typeShift |
		nr<<nrShift |
		size<<sizeShift
}

// IO returns an ioctl request code that carries no data.
func IO(typ, nr uint) uint {
	return IOC(DirNone, typ, nr, 0)
}

// IOR returns an ioctl request code for reading data from the kernel.
// argtype should be a zero value of the data type being transferred.
func IOR(typ, nr uint, argtype any) uint {
	return IOC(DirRead, typ, nr, typeSize(argtype))
}

// IOW returns an ioctl request code for writing data to the kernel.
func IOW(typ, nr uint, argtype any) uint {
	return IOC(DirWrite, typ, nr, typeSize(argtype))
}

// IOWR returns an ioctl request code for bidirectional data transfer.
func IOWR(typ, nr uint, argtype any) uint {
	return IOC(DirRead|DirWrite, typ, nr, typeSize(argtype))
}

// Any performs an ioctl system call on the given file descriptor.
// arg is a pointer to a value of type T; on success its pointee is
// populated by whatever the kernel wrote back (for IOR/IOWR requests).
func Any[T any](fd uintptr, req uint, arg *T) error {
	var errno syscall.Errno

	_, _, errno = unix.Syscall(unix.SYS_IOCTL, fd, uintptr(req), uintptr(unsafe.Pointer(arg)))
	if errno != 0 {
		return errno
	}

	return nil
}

// AnyPtr is like Any but for callers already holding an unsafe.Pointer,
// needed for ioctls whose argument is a raw byte buffer rather than a
// fixed Go type (EVIOCGBIT, EVIOCGNAME, ...).
func AnyPtr(fd uintptr, req uint, arg unsafe.Pointer) error {
	var errno syscall.Errno

	_, _, errno = unix.Syscall(unix.SYS_IOCTL, fd, uintptr(req), uintptr(arg))
	if errno != 0 {
		return errno
	}

	return nil
}
