package freemap

import (
	"encoding/binary"

	. "github.com/weberc2/sectorfs/pkg/types"
)

// The free-map record is the volume's sector count followed by the bitmap.
// The count makes the volume's size independent of the device it lives on.
const (
	recordSectorsStart = 0
	recordSectorsSize  = 4
	recordSectorsEnd   = recordSectorsStart + recordSectorsSize

	recordBitmapStart = recordSectorsEnd
)

// RecordSize returns the length of the free-map record for a volume of
// `sectors` sectors.
func RecordSize(sectors Sector) Byte {
	return Byte(recordBitmapStart) + Byte(BitmapSize(uint64(sectors)))
}

func encodeRecord(bm Bitmap) []byte {
	b := make([]byte, recordBitmapStart+len(bm.Bytes()))
	binary.LittleEndian.PutUint32(
		b[recordSectorsStart:recordSectorsEnd],
		uint32(bm.Len()),
	)
	copy(b[recordBitmapStart:], bm.Bytes())
	return b
}

func decodeSectors(b *[recordSectorsSize]byte) Sector {
	return Sector(binary.LittleEndian.Uint32(b[:]))
}
