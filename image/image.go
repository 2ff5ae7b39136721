package image

import (
	"github.com/pkg/errors"
)

// Buffer owns the contiguous byte region backing a volume. All on-image reads
// and writes go through its bounds-checked accessors. A buffer has exactly one
// owner; sharing it between volumes is not supported.
type Buffer struct {
	data []byte
}

// New allocates a fresh zeroed buffer of the given size.
func New(size int64) *Buffer {
	return &Buffer{
		data: make([]byte, size),
	}
}

// FromBytes builds a buffer over a copy of the provided bytes, so the caller
// keeps ownership of its slice.
func FromBytes(b []byte) *Buffer {
	data := make([]byte, len(b))
	copy(data, b)
	return &Buffer{
		data: data,
	}
}

// Size returns the length of the buffer in bytes.
func (b *Buffer) Size() int64 {
	return int64(len(b.data))
}

// Read copies len(p) bytes starting at offset into p.
func (b *Buffer) Read(offset int64, p []byte) error {
	if err := b.check(offset, int64(len(p))); err != nil {
		return err
	}
	copy(p, b.data[offset:])
	return nil
}

// Write copies p into the buffer starting at offset.
func (b *Buffer) Write(offset int64, p []byte) error {
	if err := b.check(offset, int64(len(p))); err != nil {
		return err
	}
	copy(b.data[offset:], p)
	return nil
}

// Zero clears n bytes starting at offset.
func (b *Buffer) Zero(offset, n int64) error {
	if err := b.check(offset, n); err != nil {
		return err
	}
	region := b.data[offset : offset+n]
	for i := range region {
		region[i] = 0
	}
	return nil
}

// IsZero reports whether all n bytes starting at offset are zero. This is the
// freeness test for blocks, node entries and directory slots: a slot is free
// exactly when it is all zeros.
func (b *Buffer) IsZero(offset, n int64) (bool, error) {
	if err := b.check(offset, n); err != nil {
		return false, err
	}
	for _, v := range b.data[offset : offset+n] {
		if v != 0 {
			return false, nil
		}
	}
	return true, nil
}

// Bytes returns a copy of the whole image.
func (b *Buffer) Bytes() []byte {
	out := make([]byte, len(b.data))
	copy(out, b.data)
	return out
}

// Clone returns an independent deep copy of the buffer.
func (b *Buffer) Clone() *Buffer {
	return FromBytes(b.data)
}

func (b *Buffer) check(offset, n int64) error {
	if offset < 0 || n < 0 || offset+n > int64(len(b.data)) {
		return errors.Errorf("access out of image bounds: offset %d, length %d, image size %d", offset, n, len(b.data))
	}
	return nil
}
