package geometry

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// ErrCorruptHeader is returned when the image header cannot be parsed.
var ErrCorruptHeader = errors.New("corrupt volume header")

// EncodeHeader serializes the volume parameters into the fixed 12-byte header:
//
//	[0..2)  block size, uint16 LE
//	[2]     file info size, uint8
//	[3..11) storage size, int64 LE
//	[11]    max name length, uint8
func EncodeHeader(p Params) [HeaderSize]byte {
	var h [HeaderSize]byte
	binary.LittleEndian.PutUint16(h[0:2], uint16(p.BlockSize))
	h[2] = p.FileInfoSize
	binary.LittleEndian.PutUint64(h[3:11], uint64(p.StorageSize))
	h[11] = p.MaxNameLength
	return h
}

// DecodeHeader parses volume parameters back out of header bytes.
func DecodeHeader(h []byte) (Params, error) {
	if int64(len(h)) < HeaderSize {
		return Params{}, errors.Wrapf(ErrCorruptHeader, "header requires %d bytes, got: %d", HeaderSize, len(h))
	}
	return Params{
		BlockSize:     int64(binary.LittleEndian.Uint16(h[0:2])),
		FileInfoSize:  h[2],
		StorageSize:   int64(binary.LittleEndian.Uint64(h[3:11])),
		MaxNameLength: h[11],
	}, nil
}

// ReadPointer decodes a little-endian pointer of the given width.
// Pointer widths other than 1, 2, 4 and 8 do not exist on any volume.
func ReadPointer(src []byte, width int64) int64 {
	switch width {
	case 1:
		return int64(src[0])
	case 2:
		return int64(binary.LittleEndian.Uint16(src))
	case 4:
		return int64(binary.LittleEndian.Uint32(src))
	case 8:
		return int64(binary.LittleEndian.Uint64(src))
	default:
		panic(errors.Errorf("unsupported pointer width: %d", width))
	}
}

// WritePointer encodes a little-endian pointer of the given width into dst.
func WritePointer(dst []byte, width int64, value int64) {
	switch width {
	case 1:
		dst[0] = byte(value)
	case 2:
		binary.LittleEndian.PutUint16(dst, uint16(value))
	case 4:
		binary.LittleEndian.PutUint32(dst, uint32(value))
	case 8:
		binary.LittleEndian.PutUint64(dst, uint64(value))
	default:
		panic(errors.Errorf("unsupported pointer width: %d", width))
	}
}
