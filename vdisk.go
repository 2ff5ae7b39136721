package vdisk

import (
	"time"

	"github.com/pkg/errors"

	"github.com/outofforest/vdisk/blockstore"
	"github.com/outofforest/vdisk/dirstore"
	"github.com/outofforest/vdisk/filestore"
	"github.com/outofforest/vdisk/geometry"
	"github.com/outofforest/vdisk/image"
	"github.com/outofforest/vdisk/nodestore"
	"github.com/outofforest/vdisk/persistence"
)

// Volume is a hierarchical file system living entirely in one contiguous byte
// image. The image is divided into a 12-byte header, a node table and a block
// region; the root directory V:\ is anchored at the first block of the block
// region and has no node table entry. A volume is not safe for concurrent use.
type Volume struct {
	geo    *geometry.Geometry
	img    *image.Buffer
	blocks *blockstore.Store
	nodes  *nodestore.Store
	dirs   *dirstore.Store
	files  *filestore.Store

	hostPath string
	baseline uint64
	closed   bool
}

// FileInfo describes a file on the volume.
type FileInfo struct {
	Name         string
	Path         string
	Size         int64
	LastModified time.Time
}

// DirectoryInfo describes a directory on the volume.
type DirectoryInfo struct {
	Name         string
	Path         string
	LastModified time.Time
}

// New creates a fresh volume with the given geometry over a zeroed image.
func New(p geometry.Params) (*Volume, error) {
	geo, err := geometry.New(p)
	if err != nil {
		return nil, err
	}
	img := image.New(p.StorageSize)
	header := geometry.EncodeHeader(p)
	if err := img.Write(0, header[:]); err != nil {
		return nil, err
	}
	return assemble(geo, img), nil
}

// FromBuffer loads a volume from existing image bytes. The bytes are copied,
// the caller keeps its slice.
func FromBuffer(b []byte) (*Volume, error) {
	p, err := geometry.DecodeHeader(b)
	if err != nil {
		return nil, errors.Wrap(ErrCorruptImage, err.Error())
	}
	if p.StorageSize != int64(len(b)) {
		return nil, errors.Wrapf(ErrCorruptImage, "header declares %d bytes, buffer holds %d", p.StorageSize, len(b))
	}
	geo, err := geometry.New(p)
	if err != nil {
		return nil, errors.Wrap(ErrCorruptImage, err.Error())
	}
	return assemble(geo, image.FromBytes(b)), nil
}

// OpenFile loads a volume from a host file. The volume remembers the path and
// Close flushes the image back when it changed.
func OpenFile(hostPath string) (*Volume, error) {
	b, err := persistence.ReadImage(hostPath)
	if err != nil {
		return nil, err
	}
	v, err := FromBuffer(b)
	if err != nil {
		return nil, err
	}
	v.hostPath = hostPath
	v.baseline = persistence.Fingerprint(b)
	return v, nil
}

func assemble(geo *geometry.Geometry, img *image.Buffer) *Volume {
	blocks := blockstore.New(geo, img)
	nodes := nodestore.New(geo, img)
	dirs := dirstore.New(geo, img, blocks, nodes)
	return &Volume{
		geo:    geo,
		img:    img,
		blocks: blocks,
		nodes:  nodes,
		dirs:   dirs,
		files:  filestore.New(geo, img, blocks, nodes, dirs),
	}
}

// Geometry returns a copy of the volume's geometry.
func (v *Volume) Geometry() geometry.Geometry {
	return *v.geo
}

// ExistsDirectory reports whether a directory exists at the exact path.
func (v *Volume) ExistsDirectory(path string) (bool, error) {
	segments, err := splitPath(path)
	if err != nil {
		return false, err
	}
	if _, err := v.resolveDir(segments); err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrNotADirectory) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// ExistsFile reports whether a file exists at the path.
func (v *Volume) ExistsFile(path string) (bool, error) {
	segments, err := splitPath(path)
	if err != nil {
		return false, err
	}
	if len(segments) == 0 {
		return false, nil
	}
	parent, leaf, err := v.resolveParent(segments)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	_, node, exists, err := v.dirs.FindChild(parent, leaf)
	if err != nil {
		return false, err
	}
	return exists && !node.IsDirectory(), nil
}

// CreateDirectory creates a directory at the path. It returns false without
// error when the directory already exists. The parent must exist.
func (v *Volume) CreateDirectory(path string) (bool, error) {
	segments, err := splitPath(path)
	if err != nil {
		return false, err
	}
	if len(segments) == 0 {
		// The root always exists.
		return false, nil
	}
	parent, leaf, err := v.resolveParent(segments)
	if err != nil {
		return false, err
	}
	if err := v.validateName(leaf); err != nil {
		return false, err
	}
	_, node, exists, err := v.dirs.FindChild(parent, leaf)
	if err != nil {
		return false, err
	}
	if exists {
		if !node.IsDirectory() {
			return false, errors.Wrapf(ErrNotADirectory, "a file exists at %q", canonicalPath(segments))
		}
		return false, nil
	}
	if _, err := v.dirs.Create(parent, leaf, time.Now()); err != nil {
		return false, err
	}
	return true, nil
}

// ListSubdirectories returns the full paths of the directories inside the
// directory at the path, in on-disk slot order.
func (v *Volume) ListSubdirectories(path string) ([]string, error) {
	return v.listChildren(path, true)
}

// ListFiles returns the full paths of the files inside the directory at the
// path, in on-disk slot order.
func (v *Volume) ListFiles(path string) ([]string, error) {
	return v.listChildren(path, false)
}

func (v *Volume) listChildren(path string, directories bool) ([]string, error) {
	segments, err := splitPath(path)
	if err != nil {
		return nil, err
	}
	dir, err := v.resolveDir(segments)
	if err != nil {
		return nil, err
	}
	entries, err := v.dirs.Entries(dir)
	if err != nil {
		return nil, err
	}

	base := canonicalPath(segments)
	paths := []string{}
	for _, index := range entries {
		node, exists, err := v.nodes.Read(nodestore.ByIndex(index))
		if err != nil {
			return nil, err
		}
		if !exists || node.IsDirectory() != directories {
			continue
		}
		paths = append(paths, base+Separator+node.Name)
	}
	return paths, nil
}

// GetFile returns the descriptor of the file at the path.
func (v *Volume) GetFile(path string) (FileInfo, error) {
	segments, _, node, err := v.lookupFile(path)
	if err != nil {
		return FileInfo{}, err
	}
	return FileInfo{
		Name:         node.Name,
		Path:         canonicalPath(segments),
		Size:         filestore.DecodeSize(node.Info),
		LastModified: filestore.DecodeModTime(node.Info),
	}, nil
}

// GetDirectory returns the descriptor of the directory at the path. For the
// root it returns the synthetic record named "V:".
func (v *Volume) GetDirectory(path string) (DirectoryInfo, error) {
	segments, err := splitPath(path)
	if err != nil {
		return DirectoryInfo{}, err
	}
	dir, err := v.resolveDir(segments)
	if err != nil {
		return DirectoryInfo{}, err
	}
	node, _, err := v.nodes.Read(dir)
	if err != nil {
		return DirectoryInfo{}, err
	}
	info := DirectoryInfo{
		Name: node.Name,
		Path: canonicalPath(segments),
	}
	if !dir.IsRoot() {
		info.LastModified = dirstore.DecodeInfo(node.Info)
	}
	return info, nil
}

// ReadFileBytes returns the full content of the file at the path.
func (v *Volume) ReadFileBytes(path string) ([]byte, error) {
	_, _, node, err := v.lookupFile(path)
	if err != nil {
		return nil, err
	}
	return v.files.ReadAll(node)
}

// WriteFileBytes stores data as the file at the path, replacing any existing
// file there. The parent directory must exist.
func (v *Volume) WriteFileBytes(path string, data []byte) error {
	segments, err := splitPath(path)
	if err != nil {
		return err
	}
	parent, leaf, err := v.resolveParent(segments)
	if err != nil {
		return err
	}
	if err := v.validateName(leaf); err != nil {
		return err
	}
	_, node, exists, err := v.dirs.FindChild(parent, leaf)
	if err != nil {
		return err
	}
	if exists && node.IsDirectory() {
		return errors.Wrapf(ErrNotAFile, "a directory exists at %q", canonicalPath(segments))
	}
	return v.files.WriteAll(parent, leaf, data, time.Now())
}

// DeleteFile removes the file at the path and releases its blocks.
func (v *Volume) DeleteFile(path string) error {
	segments, index, node, err := v.lookupFile(path)
	if err != nil {
		return err
	}
	parent, _, err := v.resolveParent(segments)
	if err != nil {
		return err
	}
	return v.files.Delete(parent, index, node)
}

func (v *Volume) lookupFile(path string) ([]string, int64, nodestore.Node, error) {
	segments, err := splitPath(path)
	if err != nil {
		return nil, 0, nodestore.Node{}, err
	}
	parent, leaf, err := v.resolveParent(segments)
	if err != nil {
		return nil, 0, nodestore.Node{}, err
	}
	index, node, exists, err := v.dirs.FindChild(parent, leaf)
	if err != nil {
		return nil, 0, nodestore.Node{}, err
	}
	if !exists {
		return nil, 0, nodestore.Node{}, errors.Wrapf(ErrNotFound, "file %q", canonicalPath(segments))
	}
	if node.IsDirectory() {
		return nil, 0, nodestore.Node{}, errors.Wrapf(ErrNotAFile, "%q is a directory", canonicalPath(segments))
	}
	return segments, index, node, nil
}

// FreeSpace returns the payload capacity of the free blocks left in the block
// region.
func (v *Volume) FreeSpace() (int64, error) {
	n, err := v.blocks.FreeBlocks()
	if err != nil {
		return 0, err
	}
	return n * v.geo.ActualSpacePerBlock, nil
}

// TotalSpace returns the number of bytes after the node table: the block
// region plus any tail too short to hold another block.
func (v *Volume) TotalSpace() int64 {
	return v.geo.TotalSpace
}

// FreeNodes returns the number of free node table entries.
func (v *Volume) FreeNodes() (int64, error) {
	return v.nodes.FreeNodes()
}

// SaveToBuffer returns a copy of the whole image.
func (v *Volume) SaveToBuffer() []byte {
	return v.img.Bytes()
}

// SaveToFile writes the whole image to a host file.
func (v *Volume) SaveToFile(hostPath string) error {
	return persistence.WriteImage(hostPath, v.img.Bytes())
}

// Close releases a volume opened from a host file by flushing the image back
// when it changed. Closing a volume that was not opened from a file, or
// closing twice, does nothing.
func (v *Volume) Close() error {
	if v.closed || v.hostPath == "" {
		return nil
	}
	v.closed = true
	b := v.img.Bytes()
	if persistence.Fingerprint(b) == v.baseline {
		return nil
	}
	return persistence.WriteImage(v.hostPath, b)
}
