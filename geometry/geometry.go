package geometry

import (
	"github.com/pkg/errors"
)

// HeaderSize is the size of the volume header stored at offset 0 of the image.
const HeaderSize int64 = 12

// DirEntrySize is the size of a single child slot inside a directory anchor block.
// Slots always store node indices as 8-byte little-endian integers, regardless
// of the volume's pointer width.
const DirEntrySize int64 = 8

// ErrInvalidGeometry is returned when the requested parameters cannot produce
// a usable volume layout.
var ErrInvalidGeometry = errors.New("invalid volume geometry")

// Params are the four user-chosen quantities everything else is derived from.
type Params struct {
	// BlockSize is the size of one block in bytes, including the next-block
	// pointer prefix. Must fit in uint16 because of the header encoding.
	BlockSize int64

	// FileInfoSize is the per-node metadata capacity in bytes.
	FileInfoSize uint8

	// StorageSize is the total image length in bytes.
	StorageSize int64

	// MaxNameLength is the fixed on-disk name slot size in bytes.
	MaxNameLength uint8
}

// Geometry holds the parameters together with every derived quantity of the
// on-image layout. All fields are pure functions of Params; a geometry computed
// from a reloaded header must match the one the image was created with.
type Geometry struct {
	Params

	// PointerSize is the width in bytes of next-block and anchor pointers.
	// One of 1, 2, 4, 8.
	PointerSize int64

	// NodeCount is the number of entries in the node table.
	NodeCount int64

	// NodeEntrySize is the size of one node table entry in bytes.
	NodeEntrySize int64

	// NodeTableSize is the total size of the node table in bytes.
	NodeTableSize int64

	// BlockCount is the number of blocks in the block region.
	BlockCount int64

	// StorageStart is the absolute offset of the block region, which is also
	// the absolute offset of the root directory's anchor block.
	StorageStart int64

	// BlockDataIndex is a legacy read offset kept for image compatibility;
	// nothing consumes it at runtime.
	BlockDataIndex int64

	// ActualSpacePerBlock is the payload capacity of one block.
	ActualSpacePerBlock int64

	// MaxItemsPerDirectory is the number of child slots in a directory block.
	MaxItemsPerDirectory int64

	// TotalSpace is the number of bytes after the node table: the block region
	// plus any tail too short to hold another block.
	TotalSpace int64
}

// New derives the full geometry from the given parameters.
func New(p Params) (*Geometry, error) {
	if p.BlockSize <= 0 || p.BlockSize > 0xFFFF {
		return nil, errors.Wrapf(ErrInvalidGeometry, "block size must be in (0, 65535], got: %d", p.BlockSize)
	}
	if p.StorageSize <= HeaderSize {
		return nil, errors.Wrapf(ErrInvalidGeometry, "storage size is too small: %d", p.StorageSize)
	}
	if p.MaxNameLength == 0 {
		return nil, errors.Wrap(ErrInvalidGeometry, "max name length must be positive")
	}
	// Files store a 4-byte size and an 8-byte modification time in the
	// metadata area, so anything below 12 bytes cannot hold a node record.
	if p.FileInfoSize < 12 {
		return nil, errors.Wrapf(ErrInvalidGeometry, "file info size must be at least 12 bytes, got: %d", p.FileInfoSize)
	}

	// The node table reserves entries for 90% of the storage divided into
	// blocks, sized before the block region is carved out.
	nodeCount := p.StorageSize * 9 / 10 / p.BlockSize
	if nodeCount <= 0 {
		return nil, errors.Wrapf(ErrInvalidGeometry, "storage of %d bytes leaves no room for the node table", p.StorageSize)
	}

	// Pointer width and block count depend on each other: the width is part
	// of the node entry, the entry sizes the table, and the table determines
	// how many blocks remain. Widening the pointer only shrinks the block
	// count, so iterating from the narrowest width converges.
	g := &Geometry{
		Params:    p,
		NodeCount: nodeCount,
	}
	for width := int64(1); ; width *= 2 {
		g.PointerSize = width
		g.NodeEntrySize = 1 + int64(p.MaxNameLength) + int64(p.FileInfoSize) + width
		g.NodeTableSize = g.NodeEntrySize * nodeCount
		g.BlockCount = (p.StorageSize - g.NodeTableSize - HeaderSize) / p.BlockSize
		if width == 8 || pow255(width) >= g.BlockCount {
			break
		}
	}

	if g.BlockCount <= 1 {
		return nil, errors.Wrapf(ErrInvalidGeometry, "geometry leaves %d blocks, at least 2 are required", g.BlockCount)
	}
	if g.BlockSize <= g.PointerSize {
		return nil, errors.Wrapf(ErrInvalidGeometry, "block size %d does not fit a %d-byte pointer", g.BlockSize, g.PointerSize)
	}

	g.StorageStart = HeaderSize + g.NodeTableSize
	g.BlockDataIndex = 1 + int64(p.FileInfoSize) + g.PointerSize
	g.ActualSpacePerBlock = g.BlockSize - g.PointerSize
	g.MaxItemsPerDirectory = (g.BlockSize - g.PointerSize) / DirEntrySize
	g.TotalSpace = p.StorageSize - HeaderSize - g.NodeTableSize

	if g.MaxItemsPerDirectory <= 0 {
		return nil, errors.Wrapf(ErrInvalidGeometry, "block size %d does not fit a single directory slot", g.BlockSize)
	}

	return g, nil
}

// BlockOffset returns the absolute offset of the block with the given index.
func (g *Geometry) BlockOffset(index int64) int64 {
	return g.StorageStart + index*g.BlockSize
}

// NodeOffset returns the absolute offset of the node entry with the given index.
func (g *Geometry) NodeOffset(index int64) int64 {
	return HeaderSize + index*g.NodeEntrySize
}

// pow255 returns 255^w for the widths probed during pointer sizing.
// Width 8 is never probed, so the result always fits in int64.
func pow255(w int64) int64 {
	r := int64(1)
	for i := int64(0); i < w; i++ {
		r *= 255
	}
	return r
}
