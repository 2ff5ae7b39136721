package filestore

import (
	"encoding/binary"
	"math"
	"time"

	"github.com/pkg/errors"

	"github.com/outofforest/vdisk/blockstore"
	"github.com/outofforest/vdisk/dirstore"
	"github.com/outofforest/vdisk/geometry"
	"github.com/outofforest/vdisk/image"
	"github.com/outofforest/vdisk/nodestore"
)

// Store writes and reads file content as a singly linked chain of blocks. Each
// block starts with a PointerSize-byte next-block pointer followed by payload;
// the terminal block carries a zero pointer.
type Store struct {
	geo    *geometry.Geometry
	img    *image.Buffer
	blocks *blockstore.Store
	nodes  *nodestore.Store
	dirs   *dirstore.Store
}

// New returns a file store over the given image.
func New(geo *geometry.Geometry, img *image.Buffer, blocks *blockstore.Store, nodes *nodestore.Store, dirs *dirstore.Store) *Store {
	return &Store{
		geo:    geo,
		img:    img,
		blocks: blocks,
		nodes:  nodes,
		dirs:   dirs,
	}
}

// WriteAll stores data as the file called name under the parent directory. An
// existing file of the same name is deleted first, so its blocks are free for
// reuse by the new chain. An existing directory of the same name is an error.
// A zero-length write still reserves the anchor block and records size 0.
func (s *Store) WriteAll(parent nodestore.Ref, name string, data []byte, now time.Time) error {
	if int64(len(data)) > math.MaxUint32 {
		return errors.Errorf("file of %d bytes exceeds the 4 GiB size field", len(data))
	}

	index, node, exists, err := s.dirs.FindChild(parent, name)
	if err != nil {
		return err
	}
	if exists {
		if node.IsDirectory() {
			return errors.Errorf("%q is a directory", name)
		}
		if err := s.Delete(parent, index, node); err != nil {
			return err
		}
	}

	anchor, err := s.blocks.FindFreeBlock()
	if err != nil {
		return err
	}
	nodeIndex, err := s.nodes.FindFreeNode()
	if err != nil {
		return err
	}
	if err := s.nodes.Write(nodeIndex, nodestore.Node{
		Type:    nodestore.TypeFile,
		Name:    name,
		Info:    EncodeInfo(s.geo, uint32(len(data)), now),
		Pointer: anchor,
	}); err != nil {
		return err
	}
	if err := s.dirs.Insert(parent, nodeIndex); err != nil {
		_ = s.nodes.Free(nodeIndex)
		return err
	}

	return s.writeChain(anchor, data)
}

// ReadAll returns the full content of the file described by node. The byte
// count comes from the node's size field; the chain walk stops at the terminal
// block or once the size is exhausted, whichever comes first.
func (s *Store) ReadAll(node nodestore.Node) ([]byte, error) {
	size := DecodeSize(node.Info)
	out := make([]byte, size)

	remaining := size
	offset := node.Pointer
	for remaining > 0 && offset != 0 {
		block, err := s.blocks.ReadBlock(offset)
		if err != nil {
			return nil, err
		}
		n := s.geo.ActualSpacePerBlock
		if remaining < n {
			n = remaining
		}
		copy(out[size-remaining:], block[s.geo.PointerSize:s.geo.PointerSize+n])
		remaining -= n
		offset = s.blocks.NextPointer(block)
	}
	if remaining > 0 {
		return nil, errors.Errorf("file %q is truncated: %d of %d bytes missing", node.Name, remaining, size)
	}
	return out, nil
}

// Delete removes the file: frees its block chain, frees its node entry and
// clears its slot in the parent directory.
func (s *Store) Delete(parent nodestore.Ref, index int64, node nodestore.Node) error {
	if err := s.blocks.FreeChain(node.Pointer); err != nil {
		return err
	}
	if err := s.nodes.Free(index); err != nil {
		return err
	}
	return s.dirs.Remove(parent, index)
}

// writeChain lays data out starting at the anchor block. Every block but the
// last points at a freshly scanned free block; the scan excludes the block
// currently being filled because it is still zero at that point.
func (s *Store) writeChain(anchor int64, data []byte) error {
	nBlocks := (int64(len(data)) + s.geo.ActualSpacePerBlock - 1) / s.geo.ActualSpacePerBlock
	if nBlocks == 0 {
		nBlocks = 1
	}

	current := anchor
	for i := int64(0); i < nBlocks; i++ {
		var next int64
		if i < nBlocks-1 {
			var err error
			next, err = s.blocks.FindFreeBlock(current)
			if err != nil {
				return err
			}
		}

		start := i * s.geo.ActualSpacePerBlock
		n := int64(len(data)) - start
		if n > s.geo.ActualSpacePerBlock {
			n = s.geo.ActualSpacePerBlock
		}

		block := make([]byte, s.geo.BlockSize)
		geometry.WritePointer(block[:s.geo.PointerSize], s.geo.PointerSize, next)
		copy(block[s.geo.PointerSize:], data[start:start+n])

		// A terminal block whose payload is all zeros (an empty file, or zero
		// content shorter than a block) would read as free and be handed out
		// again. Reserve it with a marker beyond the recorded size.
		if n < s.geo.ActualSpacePerBlock && isZero(block) {
			block[s.geo.BlockSize-1] = blockstore.AnchorMarker
		}

		if err := s.blocks.WriteBlock(current, block); err != nil {
			return err
		}
		current = next
	}
	return nil
}

func isZero(p []byte) bool {
	for _, v := range p {
		if v != 0 {
			return false
		}
	}
	return true
}

// EncodeInfo packs file metadata: the content size as uint32 little-endian in
// the first 4 bytes, the modification time as int64 little-endian nanoseconds
// in the following 8, the rest reserved.
func EncodeInfo(geo *geometry.Geometry, size uint32, modified time.Time) []byte {
	info := make([]byte, geo.FileInfoSize)
	binary.LittleEndian.PutUint32(info[0:4], size)
	binary.LittleEndian.PutUint64(info[4:12], uint64(modified.UnixNano()))
	return info
}

// DecodeSize extracts the content size from file metadata.
func DecodeSize(info []byte) int64 {
	if len(info) < 4 {
		return 0
	}
	return int64(binary.LittleEndian.Uint32(info[0:4]))
}

// DecodeModTime extracts the modification time from file metadata.
func DecodeModTime(info []byte) time.Time {
	if len(info) < 12 {
		return time.Time{}
	}
	ticks := int64(binary.LittleEndian.Uint64(info[4:12]))
	if ticks == 0 {
		return time.Time{}
	}
	return time.Unix(0, ticks)
}
