package vdisk

import (
	"github.com/pkg/errors"

	"github.com/outofforest/vdisk/blockstore"
	"github.com/outofforest/vdisk/dirstore"
	"github.com/outofforest/vdisk/nodestore"
)

// Errors surfaced by volume operations. Conditions raised by the underlying
// stores are re-exported here so callers match the whole taxonomy with
// errors.Is against a single package.
var (
	// ErrInvalidPath is returned when a path does not begin with the V:
	// segment, contains a malformed segment, or traverses through a file.
	ErrInvalidPath = errors.New("invalid path")

	// ErrNotFound is returned when the target of a read, delete or stat is
	// missing.
	ErrNotFound = errors.New("not found")

	// ErrNotAFile is returned when a file operation resolves to a directory.
	ErrNotAFile = errors.New("not a file")

	// ErrNotADirectory is returned when a directory operation resolves to a
	// file.
	ErrNotADirectory = errors.New("not a directory")

	// ErrNameTooLong is returned when a name exceeds the volume's name slot.
	ErrNameTooLong = errors.New("name too long")

	// ErrCorruptImage is returned when an image header fails to parse or the
	// derived geometry is impossible.
	ErrCorruptImage = errors.New("corrupt image")

	// ErrOutOfNodes is returned when the node table has no free entry.
	ErrOutOfNodes = nodestore.ErrOutOfNodes

	// ErrOutOfSpace is returned when the block region has no free block.
	ErrOutOfSpace = blockstore.ErrOutOfSpace

	// ErrDirectoryFull is returned when a directory has no free child slot.
	ErrDirectoryFull = dirstore.ErrDirectoryFull
)
