package persistence

import (
	"os"

	"github.com/cespare/xxhash/v2"
	"github.com/pkg/errors"

	"github.com/outofforest/vdisk/geometry"
)

// ReadImage reads a whole volume image from a host file.
func ReadImage(hostPath string) ([]byte, error) {
	b, err := os.ReadFile(hostPath)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	if int64(len(b)) < geometry.HeaderSize {
		return nil, errors.Errorf("file %q of %d bytes is too short to contain a volume image", hostPath, len(b))
	}
	return b, nil
}

// WriteImage writes a whole volume image to a host file, replacing whatever
// was there.
//
// TODO (wojciech): fsync the containing directory after rewriting the image.
func WriteImage(hostPath string, b []byte) error {
	return errors.WithStack(os.WriteFile(hostPath, b, 0o644))
}

// Fingerprint returns the xxhash64 of the image, used to detect whether an
// image changed since it was loaded.
func Fingerprint(b []byte) uint64 {
	return xxhash.Sum64(b)
}
