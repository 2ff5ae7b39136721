package nodestore

import (
	"bytes"

	"github.com/pkg/errors"

	"github.com/outofforest/vdisk/geometry"
	"github.com/outofforest/vdisk/image"
)

// Node type tags as stored in the first byte of a node entry. A file entry is
// still distinguishable from a free slot because its anchor pointer is nonzero.
const (
	TypeFile      byte = 0x00
	TypeDirectory byte = 0xFF
)

// RootName is the synthetic name of the root directory. The root has no node
// entry on disk; it only exists as a record returned by Read.
const RootName = "V:"

// ErrOutOfNodes is returned when the node table has no free entry left.
var ErrOutOfNodes = errors.New("no free node entry available")

// Ref addresses a node: either the synthetic root directory or an index into
// the node table. The root is a pure runtime tag, it is never stored on disk.
type Ref struct {
	index int64
	root  bool
}

// Root is the reference to the synthetic root directory.
var Root = Ref{root: true}

// ByIndex returns a reference to the node entry with the given table index.
func ByIndex(index int64) Ref {
	return Ref{index: index}
}

// IsRoot reports whether the reference addresses the synthetic root.
func (r Ref) IsRoot() bool {
	return r.root
}

// Index returns the node table index. It must not be called on the root.
func (r Ref) Index() int64 {
	if r.root {
		panic(errors.New("root directory has no node table index"))
	}
	return r.index
}

// Node is the decoded form of a node table entry.
type Node struct {
	Type byte

	// Name is the entry name, at most MaxNameLength bytes, no zero bytes.
	Name string

	// Info is the raw metadata area of the entry, FileInfoSize bytes.
	Info []byte

	// Pointer is the absolute offset of the entry's anchor block.
	Pointer int64
}

// IsDirectory reports whether the node describes a directory.
func (n Node) IsDirectory() bool {
	return n.Type == TypeDirectory
}

// Store is the node table engine of a volume.
type Store struct {
	geo *geometry.Geometry
	img *image.Buffer
}

// New returns a node store over the given image.
func New(geo *geometry.Geometry, img *image.Buffer) *Store {
	return &Store{
		geo: geo,
		img: img,
	}
}

// FindFreeNode scans the node table from index 1 and returns the index of the
// first free entry. Freeness is detected on the raw entry bytes: an entry is
// free exactly when all of them are zero. Index 0 stays reserved for the root
// directory's anchor.
func (s *Store) FindFreeNode() (int64, error) {
	for i := int64(1); i < s.geo.NodeCount; i++ {
		free, err := s.img.IsZero(s.geo.NodeOffset(i), s.geo.NodeEntrySize)
		if err != nil {
			return 0, err
		}
		if free {
			return i, nil
		}
	}
	return 0, errors.WithStack(ErrOutOfNodes)
}

// Read decodes the node entry addressed by ref. For the root it returns the
// synthetic record: a directory named "V:" anchored at the first block of the
// block region. For table entries the second result reports whether the entry
// is live; a freed entry decodes as exists == false rather than an error so
// directory listings can skip stale slots.
func (s *Store) Read(ref Ref) (Node, bool, error) {
	if ref.IsRoot() {
		return Node{
			Type:    TypeDirectory,
			Name:    RootName,
			Info:    make([]byte, s.geo.FileInfoSize),
			Pointer: s.geo.StorageStart,
		}, true, nil
	}

	index := ref.Index()
	if index < 0 || index >= s.geo.NodeCount {
		return Node{}, false, errors.Errorf("node index out of range: %d, table holds: %d", index, s.geo.NodeCount)
	}

	entry := make([]byte, s.geo.NodeEntrySize)
	if err := s.img.Read(s.geo.NodeOffset(index), entry); err != nil {
		return Node{}, false, err
	}
	if isZero(entry) {
		return Node{}, false, nil
	}

	nameEnd := 1 + int64(s.geo.MaxNameLength)
	infoEnd := nameEnd + int64(s.geo.FileInfoSize)

	name := entry[1:nameEnd]
	if i := bytes.IndexByte(name, 0); i >= 0 {
		name = name[:i]
	}

	return Node{
		Type:    entry[0],
		Name:    string(name),
		Info:    append([]byte(nil), entry[nameEnd:infoEnd]...),
		Pointer: geometry.ReadPointer(entry[infoEnd:], s.geo.PointerSize),
	}, true, nil
}

// Write encodes the node and stores it at the given table index.
func (s *Store) Write(index int64, n Node) error {
	if index <= 0 || index >= s.geo.NodeCount {
		return errors.Errorf("node index out of range: %d, table holds: %d", index, s.geo.NodeCount)
	}
	if int64(len(n.Name)) > int64(s.geo.MaxNameLength) {
		return errors.Errorf("name %q exceeds the %d-byte name slot", n.Name, s.geo.MaxNameLength)
	}
	if int64(len(n.Info)) > int64(s.geo.FileInfoSize) {
		return errors.Errorf("metadata of %d bytes exceeds the %d-byte info area", len(n.Info), s.geo.FileInfoSize)
	}

	entry := make([]byte, s.geo.NodeEntrySize)
	entry[0] = n.Type
	copy(entry[1:1+int64(s.geo.MaxNameLength)], n.Name)
	copy(entry[1+int64(s.geo.MaxNameLength):], n.Info)
	geometry.WritePointer(entry[1+int64(s.geo.MaxNameLength)+int64(s.geo.FileInfoSize):], s.geo.PointerSize, n.Pointer)

	return s.img.Write(s.geo.NodeOffset(index), entry)
}

// Free zeroes the node entry at the given index, returning it to the pool.
func (s *Store) Free(index int64) error {
	if index <= 0 || index >= s.geo.NodeCount {
		return errors.Errorf("node index out of range: %d, table holds: %d", index, s.geo.NodeCount)
	}
	return s.img.Zero(s.geo.NodeOffset(index), s.geo.NodeEntrySize)
}

// FreeNodes counts the free entries in the node table.
func (s *Store) FreeNodes() (int64, error) {
	var n int64
	for i := int64(1); i < s.geo.NodeCount; i++ {
		free, err := s.img.IsZero(s.geo.NodeOffset(i), s.geo.NodeEntrySize)
		if err != nil {
			return 0, err
		}
		if free {
			n++
		}
	}
	return n, nil
}

func isZero(p []byte) bool {
	for _, v := range p {
		if v != 0 {
			return false
		}
	}
	return true
}
