package dirstore

import (
	"encoding/binary"
	"time"

	"github.com/pkg/errors"

	"github.com/outofforest/vdisk/blockstore"
	"github.com/outofforest/vdisk/geometry"
	"github.com/outofforest/vdisk/image"
	"github.com/outofforest/vdisk/nodestore"
)

// ErrDirectoryFull is returned when a directory anchor block has no free child
// slot left. Directories occupy a single block, so this is a hard geometry
// limit, never worked around by truncation.
var ErrDirectoryFull = errors.New("directory is full")

// Store interprets directory anchor blocks: a packed array of
// MaxItemsPerDirectory 8-byte little-endian node indices. A slot is free
// exactly when its bytes are all zero, which works because node index 0 is
// reserved and never referenced by a directory.
type Store struct {
	geo    *geometry.Geometry
	img    *image.Buffer
	blocks *blockstore.Store
	nodes  *nodestore.Store
}

// New returns a directory store over the given image.
func New(geo *geometry.Geometry, img *image.Buffer, blocks *blockstore.Store, nodes *nodestore.Store) *Store {
	return &Store{
		geo:    geo,
		img:    img,
		blocks: blocks,
		nodes:  nodes,
	}
}

// Entries returns the node indices stored in the directory's anchor block, in
// slot order. Slots referencing entries freed in the meantime are skipped.
func (s *Store) Entries(dir nodestore.Ref) ([]int64, error) {
	anchor, err := s.anchor(dir)
	if err != nil {
		return nil, err
	}
	block, err := s.blocks.ReadBlock(anchor)
	if err != nil {
		return nil, err
	}

	entries := make([]int64, 0, s.geo.MaxItemsPerDirectory)
	for i := int64(0); i < s.geo.MaxItemsPerDirectory; i++ {
		index := int64(binary.LittleEndian.Uint64(block[i*geometry.DirEntrySize:]))
		if index == 0 {
			continue
		}
		if _, exists, err := s.nodes.Read(nodestore.ByIndex(index)); err != nil {
			return nil, err
		} else if !exists {
			continue
		}
		entries = append(entries, index)
	}
	return entries, nil
}

// Insert writes the child node index into the first free slot of the
// directory's anchor block.
func (s *Store) Insert(dir nodestore.Ref, child int64) error {
	anchor, err := s.anchor(dir)
	if err != nil {
		return err
	}
	block, err := s.blocks.ReadBlock(anchor)
	if err != nil {
		return err
	}

	for i := int64(0); i < s.geo.MaxItemsPerDirectory; i++ {
		slot := block[i*geometry.DirEntrySize : (i+1)*geometry.DirEntrySize]
		if binary.LittleEndian.Uint64(slot) != 0 {
			continue
		}
		binary.LittleEndian.PutUint64(slot, uint64(child))
		return s.blocks.WriteBlock(anchor, block)
	}
	return errors.WithStack(ErrDirectoryFull)
}

// Remove zeroes the slot holding the child node index. Leaving the slot behind
// would alias the index to whatever node is allocated there next.
func (s *Store) Remove(dir nodestore.Ref, child int64) error {
	anchor, err := s.anchor(dir)
	if err != nil {
		return err
	}
	block, err := s.blocks.ReadBlock(anchor)
	if err != nil {
		return err
	}

	for i := int64(0); i < s.geo.MaxItemsPerDirectory; i++ {
		slot := block[i*geometry.DirEntrySize : (i+1)*geometry.DirEntrySize]
		if int64(binary.LittleEndian.Uint64(slot)) != child {
			continue
		}
		binary.LittleEndian.PutUint64(slot, 0)
		return s.blocks.WriteBlock(anchor, block)
	}
	return errors.Errorf("node %d is not a child of the directory", child)
}

// FindChild looks up a child of the directory by exact name match. The booled
// result reports whether the child exists.
func (s *Store) FindChild(dir nodestore.Ref, name string) (int64, nodestore.Node, bool, error) {
	entries, err := s.Entries(dir)
	if err != nil {
		return 0, nodestore.Node{}, false, err
	}
	for _, index := range entries {
		node, exists, err := s.nodes.Read(nodestore.ByIndex(index))
		if err != nil {
			return 0, nodestore.Node{}, false, err
		}
		if exists && node.Name == name {
			return index, node, true, nil
		}
	}
	return 0, nodestore.Node{}, false, nil
}

// Create allocates a new directory under parent: an anchor block for the child
// slots, then the node entry, then the link in the parent. Name uniqueness is
// the caller's responsibility. Returns the new node's table index.
func (s *Store) Create(parent nodestore.Ref, name string, now time.Time) (int64, error) {
	anchor, err := s.blocks.FindFreeBlock()
	if err != nil {
		return 0, err
	}

	// An empty directory holds only zero slots, which would leave the anchor
	// in the free pool. The slot area covers 8*MaxItemsPerDirectory bytes, at
	// least PointerSize tail bytes are spare; a marker there takes the block
	// out of the scan without touching any slot.
	block := make([]byte, s.geo.BlockSize)
	block[s.geo.BlockSize-1] = blockstore.AnchorMarker
	if err := s.blocks.WriteBlock(anchor, block); err != nil {
		return 0, err
	}

	index, err := s.nodes.FindFreeNode()
	if err != nil {
		return 0, err
	}
	if err := s.nodes.Write(index, nodestore.Node{
		Type:    nodestore.TypeDirectory,
		Name:    name,
		Info:    EncodeInfo(s.geo, now),
		Pointer: anchor,
	}); err != nil {
		return 0, err
	}
	if err := s.Insert(parent, index); err != nil {
		_ = s.nodes.Free(index)
		_ = s.img.Zero(anchor, s.geo.BlockSize)
		return 0, err
	}
	return index, nil
}

// EncodeInfo packs directory metadata: the modification time as int64
// little-endian nanoseconds in the first 8 bytes, the rest reserved.
func EncodeInfo(geo *geometry.Geometry, modified time.Time) []byte {
	info := make([]byte, geo.FileInfoSize)
	binary.LittleEndian.PutUint64(info[0:8], uint64(modified.UnixNano()))
	return info
}

// DecodeInfo extracts the modification time from directory metadata.
func DecodeInfo(info []byte) time.Time {
	if len(info) < 8 {
		return time.Time{}
	}
	ticks := int64(binary.LittleEndian.Uint64(info[0:8]))
	if ticks == 0 {
		return time.Time{}
	}
	return time.Unix(0, ticks)
}

func (s *Store) anchor(dir nodestore.Ref) (int64, error) {
	node, exists, err := s.nodes.Read(dir)
	if err != nil {
		return 0, err
	}
	if !exists {
		return 0, errors.Errorf("node %d does not exist", dir.Index())
	}
	if !node.IsDirectory() {
		return 0, errors.Errorf("node %q is not a directory", node.Name)
	}
	return node.Pointer, nil
}
