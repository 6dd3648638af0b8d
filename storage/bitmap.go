package storage

import (
	"math/bits"

	"mit.edu/dsg/heapdb/common"
)

// Bitmap provides a convenient interface for manipulating bits in a byte slice.
// It does not own the underlying bytes; instead, it provides a structured view over
// an existing buffer (e.g., a heap page header).
//
// Bit i lives in byte i/8 at position i%8, counting from the low-order bit. Scans skip
// whole bytes that are fully set.
type Bitmap struct {
	data    []byte
	numBits int
}

// AsBitmap creates a Bitmap view over the provided byte slice, which must hold at least ceil(numBits/8) bytes.
func AsBitmap(data []byte, numBits int) Bitmap {
	common.Assert(numBits >= 0, "negative bitmap size")
	common.Assert(len(data) >= BitmapBytes(numBits), "bitmap buffer too small")
	return Bitmap{
		data:    data[:BitmapBytes(numBits)],
		numBits: numBits,
	}
}

// BitmapBytes returns the number of bytes needed to hold numBits bits.
func BitmapBytes(numBits int) int {
	return (numBits + 7) / 8
}

// NumBits returns the number of addressable bits.
func (b *Bitmap) NumBits() int {
	return b.numBits
}

// SetBit sets the bit at index i to the given value.
// Returns the previous value of the bit.
func (b *Bitmap) SetBit(i int, on bool) (originalValue bool) {
	common.Assert(i >= 0 && i < b.numBits, "indexing out of bounds")
	mask := byte(1) << uint(i%8)
	ptr := &b.data[i/8]
	originalValue = (*ptr & mask) != 0
	if on {
		*ptr |= mask
	} else {
		*ptr &^= mask
	}
	return originalValue
}

// LoadBit returns the value of the bit at index i.
func (b *Bitmap) LoadBit(i int) bool {
	common.Assert(i >= 0 && i < b.numBits, "indexing out of bounds")
	return (b.data[i/8] & (byte(1) << uint(i%8))) != 0
}

// Count returns the number of set bits.
func (b *Bitmap) Count() int {
	n := 0
	for i := 0; i < len(b.data); i++ {
		v := b.data[i]
		if i == len(b.data)-1 && b.numBits%8 != 0 {
			// ignore padding bits past numBits
			v &= byte(1)<<uint(b.numBits%8) - 1
		}
		n += bits.OnesCount8(v)
	}
	return n
}

// FindFirstZero searches for the first bit set to 0 (false) in the bitmap.
// It begins the search at startHint and scans to the end of the bitmap.
// If no zero bit is found, it wraps around and scans from the beginning (index 0)
// up to startHint.
//
// Returns the index of the first zero bit found, or -1 if the bitmap is entirely full.
func (b *Bitmap) FindFirstZero(startHint int) int {
	if r := b.findFirstZeroInRange(startHint, b.numBits); r != -1 {
		return r
	}
	return b.findFirstZeroInRange(0, startHint)
}

func (b *Bitmap) findFirstZeroInRange(start, end int) int {
	common.Assert(start >= 0 && start <= end && end <= b.numBits, "invalid Bitmap range")
	i := start
	for i < end {
		if i%8 == 0 && i+8 <= end && b.data[i/8] == 0xFF {
			i += 8
			continue
		}
		if !b.LoadBit(i) {
			return i
		}
		i++
	}
	return -1
}
