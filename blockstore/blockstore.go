package blockstore

import (
	"github.com/pkg/errors"

	"github.com/outofforest/vdisk/geometry"
	"github.com/outofforest/vdisk/image"
)

// ErrOutOfSpace is returned when no free block is left in the block region.
var ErrOutOfSpace = errors.New("no free block available")

// AnchorMarker reserves an anchor block whose content is otherwise all zeros.
// Freeness is zeroness, so a live but empty anchor would be handed out again
// by the free scan; the marker occupies a byte no reader ever interprets (the
// spare tail of a directory block, or payload beyond the recorded file size).
const AnchorMarker byte = 0xFF

// Store is the block allocator and raw block accessor of a volume. Blocks are
// addressed by the absolute byte offset of their first byte. Block 0 is the
// root directory's anchor and is never handed out by the allocator.
type Store struct {
	geo *geometry.Geometry
	img *image.Buffer
}

// New returns a block store over the given image.
func New(geo *geometry.Geometry, img *image.Buffer) *Store {
	return &Store{
		geo: geo,
		img: img,
	}
}

// FindFreeBlock scans the block region from block index 1 and returns the
// absolute offset of the first all-zero block not listed in exclude. Exclusions
// keep a block picked earlier in the same operation, but not yet written, from
// being handed out twice.
func (s *Store) FindFreeBlock(exclude ...int64) (int64, error) {
	for i := int64(1); i < s.geo.BlockCount; i++ {
		offset := s.geo.BlockOffset(i)
		if contains(exclude, offset) {
			continue
		}
		free, err := s.img.IsZero(offset, s.geo.BlockSize)
		if err != nil {
			return 0, err
		}
		if free {
			return offset, nil
		}
	}
	return 0, errors.WithStack(ErrOutOfSpace)
}

// ReadBlock returns the raw bytes of the block at the given absolute offset.
func (s *Store) ReadBlock(offset int64) ([]byte, error) {
	p := make([]byte, s.geo.BlockSize)
	if err := s.img.Read(offset, p); err != nil {
		return nil, err
	}
	return p, nil
}

// WriteBlock stores raw block bytes at the given absolute offset.
func (s *Store) WriteBlock(offset int64, p []byte) error {
	if int64(len(p)) != s.geo.BlockSize {
		return errors.Errorf("invalid block buffer size: %d, block size is: %d", len(p), s.geo.BlockSize)
	}
	return s.img.Write(offset, p)
}

// NextPointer decodes the next-block pointer prefix of raw block bytes.
func (s *Store) NextPointer(block []byte) int64 {
	return geometry.ReadPointer(block, s.geo.PointerSize)
}

// FreeChain walks the chain starting at head and zeroes every visited block.
// The chain terminates at the first block whose pointer prefix is zero. The
// whole chain is walked before anything is zeroed, and the walk is bounded by
// the block count so a corrupt cyclic chain fails instead of looping forever.
func (s *Store) FreeChain(head int64) error {
	var chain []int64
	for offset := head; offset != 0; {
		if int64(len(chain)) >= s.geo.BlockCount {
			return errors.Errorf("block chain starting at %d does not terminate", head)
		}
		block, err := s.ReadBlock(offset)
		if err != nil {
			return err
		}
		chain = append(chain, offset)
		offset = s.NextPointer(block)
	}
	for _, offset := range chain {
		if err := s.img.Zero(offset, s.geo.BlockSize); err != nil {
			return err
		}
	}
	return nil
}

// FreeBlocks counts the free blocks in the block region. The root anchor is
// not counted even when empty, it is never allocatable.
func (s *Store) FreeBlocks() (int64, error) {
	var n int64
	for i := int64(1); i < s.geo.BlockCount; i++ {
		free, err := s.img.IsZero(s.geo.BlockOffset(i), s.geo.BlockSize)
		if err != nil {
			return 0, err
		}
		if free {
			n++
		}
	}
	return n, nil
}

func contains(offsets []int64, offset int64) bool {
	for _, o := range offsets {
		if o == offset {
			return true
		}
	}
	return false
}
