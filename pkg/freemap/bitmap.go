package freemap

import (
	"github.com/weberc2/sectorfs/pkg/math"
)

const bitsPerByte = 8

// Bitmap tracks a fixed number of bits, most significant bit first within
// each byte.
type Bitmap struct {
	bits  uint64
	bytes []byte
}

func NewBitmap(bits uint64) Bitmap {
	return Bitmap{bits: bits, bytes: make([]byte, BitmapSize(bits))}
}

// BitmapSize returns the number of bytes needed to store `bits` bits.
func BitmapSize(bits uint64) uint64 {
	return math.DivRoundUp(bits, bitsPerByte)
}

func (bm Bitmap) Len() uint64 { return bm.bits }

func (bm Bitmap) Bytes() []byte { return bm.bytes }

func (bm Bitmap) Test(i uint64) bool {
	return !byteIsZero(bm.bytes[i/bitsPerByte], uint8(i%bitsPerByte))
}

func (bm Bitmap) Set(i uint64) {
	b := &bm.bytes[i/bitsPerByte]
	*b = byteSetHigh(*b, uint8(i%bitsPerByte))
}

func (bm Bitmap) Clear(i uint64) {
	b := &bm.bytes[i/bitsPerByte]
	*b = byteSetLow(*b, uint8(i%bitsPerByte))
}

// FindRun returns the start of the first run of `count` clear bits.
func (bm Bitmap) FindRun(count uint64) (uint64, bool) {
	if count == 0 || count > bm.bits {
		return 0, false
	}
	var run uint64
	for i := uint64(0); i < bm.bits; i++ {
		if bm.Test(i) {
			run = 0
			continue
		}
		run++
		if run == count {
			return i + 1 - count, true
		}
	}
	return 0, false
}

// CountSet returns the number of set bits.
func (bm Bitmap) CountSet() uint64 {
	var n uint64
	for i := uint64(0); i < bm.bits; i++ {
		if bm.Test(i) {
			n++
		}
	}
	return n
}

func byteIsZero(byt byte, bit uint8) bool {
	return byt&(0b1000_0000>>bit) == 0
}

func byteSetHigh(byt byte, bit uint8) byte {
	return byt | (0b1000_0000 >> bit)
}

func byteSetLow(byt byte, bit uint8) byte {
	return byt & ^(0b1000_0000 >> bit)
}
