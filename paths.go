package vdisk

import (
	"strings"

	"github.com/pkg/errors"

	"github.com/outofforest/vdisk/nodestore"
)

// Separator is the path separator of the volume.
const Separator = `\`

// rootSegment is the mandatory first segment of every path.
const rootSegment = "V:"

// splitPath validates the path grammar and returns the segments below the
// root. "V:" and "V:\" both address the root and split into no segments.
func splitPath(path string) ([]string, error) {
	segments := strings.Split(path, Separator)
	if segments[0] != rootSegment {
		return nil, errors.Wrapf(ErrInvalidPath, "path %q does not begin with %q", path, rootSegment)
	}
	segments = segments[1:]

	// A single trailing separator is tolerated, "V:\configs\" means "V:\configs".
	if n := len(segments); n > 0 && segments[n-1] == "" {
		segments = segments[:n-1]
	}

	for _, segment := range segments {
		if segment == "" {
			return nil, errors.Wrapf(ErrInvalidPath, "path %q contains an empty segment", path)
		}
		if strings.IndexByte(segment, 0) >= 0 {
			return nil, errors.Wrapf(ErrInvalidPath, "path %q contains a zero byte", path)
		}
	}
	return segments, nil
}

// canonicalPath rebuilds the canonical string form of the path addressed by
// the segments. The root canonicalizes to "V:".
func canonicalPath(segments []string) string {
	var sb strings.Builder
	sb.WriteString(rootSegment)
	for _, segment := range segments {
		sb.WriteString(Separator)
		sb.WriteString(segment)
	}
	return sb.String()
}

// resolveDir walks the segments from the root and returns the directory at the
// exact path. A missing segment resolves to ErrNotFound; a file in the middle
// of the path to ErrInvalidPath; a file at the leaf to ErrNotADirectory.
func (v *Volume) resolveDir(segments []string) (nodestore.Ref, error) {
	current := nodestore.Root
	for i, segment := range segments {
		index, node, exists, err := v.dirs.FindChild(current, segment)
		if err != nil {
			return nodestore.Ref{}, err
		}
		if !exists {
			return nodestore.Ref{}, errors.Wrapf(ErrNotFound, "directory %q", canonicalPath(segments[:i+1]))
		}
		if !node.IsDirectory() {
			if i == len(segments)-1 {
				return nodestore.Ref{}, errors.Wrapf(ErrNotADirectory, "%q is a file", canonicalPath(segments[:i+1]))
			}
			return nodestore.Ref{}, errors.Wrapf(ErrInvalidPath, "path traverses through file %q", canonicalPath(segments[:i+1]))
		}
		current = nodestore.ByIndex(index)
	}
	return current, nil
}

// resolveParent resolves the directory holding the leaf of the path and
// returns it together with the leaf name. The path must have a leaf, the root
// itself has no parent.
func (v *Volume) resolveParent(segments []string) (nodestore.Ref, string, error) {
	if len(segments) == 0 {
		return nodestore.Ref{}, "", errors.Wrap(ErrInvalidPath, "the root directory cannot be a target here")
	}
	parent := nodestore.Root
	for i := 0; i < len(segments)-1; i++ {
		index, node, exists, err := v.dirs.FindChild(parent, segments[i])
		if err != nil {
			return nodestore.Ref{}, "", err
		}
		if !exists {
			return nodestore.Ref{}, "", errors.Wrapf(ErrNotFound, "directory %q", canonicalPath(segments[:i+1]))
		}
		if !node.IsDirectory() {
			return nodestore.Ref{}, "", errors.Wrapf(ErrInvalidPath, "path traverses through file %q", canonicalPath(segments[:i+1]))
		}
		parent = nodestore.ByIndex(index)
	}
	return parent, segments[len(segments)-1], nil
}

// validateName checks a leaf name about to be written to the volume.
func (v *Volume) validateName(name string) error {
	if name == "" {
		return errors.Wrap(ErrInvalidPath, "empty name")
	}
	if int64(len(name)) > int64(v.geo.MaxNameLength) {
		return errors.Wrapf(ErrNameTooLong, "name %q exceeds %d bytes", name, v.geo.MaxNameLength)
	}
	return nil
}
