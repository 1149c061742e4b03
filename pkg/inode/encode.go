package inode

import (
	"encoding/binary"

	. "github.com/weberc2/sectorfs/pkg/types"
)

func putU32(b []byte, start Byte, u uint32) {
	binary.LittleEndian.PutUint32(b[start:start+4], u)
}

func getU32(b []byte, start Byte) uint32 {
	return binary.LittleEndian.Uint32(b[start : start+4])
}

func putBool(b []byte, start Byte, v bool) {
	var u uint32
	if v {
		u = 1
	}
	putU32(b, start, u)
}

func getBool(b []byte, start Byte) bool {
	return getU32(b, start) != 0
}
