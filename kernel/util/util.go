// Package util contains small generic helpers used across the kernel:
// alignment arithmetic and fixed-width reads/writes into byte buffers.
// Adapted from the teacher kernel's util/util.go.
package util

import "unsafe"

// Int is satisfied by every built-in integer type.
type Int interface {
	~int | ~int8 | ~int16 | ~int32 | ~int64 |
		~uint | ~uint8 | ~uint16 | ~uint32 | ~uint64 | ~uintptr
}

// Min returns the smaller of a and b.
func Min[T Int](a, b T) T {
	if a < b {
		return a
	}
	return b
}

// Max returns the larger of a and b.
func Max[T Int](a, b T) T {
	if a > b {
		return a
	}
	return b
}

// Rounddown aligns v down to the nearest multiple of b.
func Rounddown[T Int](v, b T) T {
	return v - (v % b)
}

// Roundup aligns v up to the nearest multiple of b.
func Roundup[T Int](v, b T) T {
	return Rounddown(v+b-1, b)
}

// Readn reads n little-endian bytes from a starting at off.
func Readn(a []uint8, n int, off int) int {
	if off < 0 || off+n > len(a) {
		panic("Readn out of bounds")
	}
	p := unsafe.Pointer(&a[off])
	switch n {
	case 8:
		return *(*int)(p)
	case 4:
		return int(*(*uint32)(p))
	case 2:
		return int(*(*uint16)(p))
	case 1:
		return int(*(*uint8)(p))
	default:
		panic("unsupported size")
	}
}

// Writen writes val as sz little-endian bytes into a starting at off.
func Writen(a []uint8, sz int, off int, val int) {
	if off < 0 || off+sz > len(a) {
		panic("Writen out of bounds")
	}
	p := unsafe.Pointer(&a[off])
	switch sz {
	case 8:
		*(*int)(p) = val
	case 4:
		*(*uint32)(p) = uint32(val)
	case 2:
		*(*uint16)(p) = uint16(val)
	case 1:
		*(*uint8)(p) = uint8(val)
	default:
		panic("unsupported size")
	}
}

// Le32 decodes a little-endian uint32 at off, the on-disk byte order every
// ext4 structure in this kernel uses.
func Le32(a []uint8, off int) uint32 {
	return uint32(a[off]) | uint32(a[off+1])<<8 | uint32(a[off+2])<<16 | uint32(a[off+3])<<24
}

// PutLe32 encodes v as a little-endian uint32 at off.
func PutLe32(a []uint8, off int, v uint32) {
	a[off] = uint8(v)
	a[off+1] = uint8(v >> 8)
	a[off+2] = uint8(v >> 16)
	a[off+3] = uint8(v >> 24)
}

// Le16 decodes a little-endian uint16 at off.
func Le16(a []uint8, off int) uint16 {
	return uint16(a[off]) | uint16(a[off+1])<<8
}

// PutLe16 encodes v as a little-endian uint16 at off.
func PutLe16(a []uint8, off int, v uint16) {
	a[off] = uint8(v)
	a[off+1] = uint8(v >> 8)
}
