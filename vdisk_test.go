package vdisk

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/outofforest/vdisk/geometry"
)

var testParams = geometry.Params{
	BlockSize:     64,
	FileInfoSize:  12,
	StorageSize:   60_000,
	MaxNameLength: 8,
}

func pattern(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i % 251)
	}
	return data
}

func TestFreshVolume(t *testing.T) {
	requireT := require.New(t)

	v, err := New(testParams)
	requireT.NoError(err)

	exists, err := v.ExistsDirectory(`V:\`)
	requireT.NoError(err)
	requireT.True(exists)

	exists, err = v.ExistsFile(`V:\`)
	requireT.NoError(err)
	requireT.False(exists)

	dirs, err := v.ListSubdirectories(`V:\`)
	requireT.NoError(err)
	requireT.Empty(dirs)

	files, err := v.ListFiles(`V:\`)
	requireT.NoError(err)
	requireT.Empty(files)

	root, err := v.GetDirectory(`V:\`)
	requireT.NoError(err)
	requireT.Equal("V:", root.Name)
	requireT.Equal("V:", root.Path)
	requireT.True(root.LastModified.IsZero())
}

func TestCreateDirectory(t *testing.T) {
	requireT := require.New(t)

	v, err := New(testParams)
	requireT.NoError(err)

	created, err := v.CreateDirectory(`V:\configs`)
	requireT.NoError(err)
	requireT.True(created)

	created, err = v.CreateDirectory(`V:\configs`)
	requireT.NoError(err)
	requireT.False(created)

	dirs, err := v.ListSubdirectories(`V:\`)
	requireT.NoError(err)
	requireT.Equal([]string{`V:\configs`}, dirs)

	exists, err := v.ExistsDirectory(`V:\configs`)
	requireT.NoError(err)
	requireT.True(exists)

	exists, err = v.ExistsFile(`V:\configs`)
	requireT.NoError(err)
	requireT.False(exists)

	info, err := v.GetDirectory(`V:\configs`)
	requireT.NoError(err)
	requireT.Equal("configs", info.Name)
	requireT.Equal(`V:\configs`, info.Path)
	requireT.False(info.LastModified.IsZero())

	// The root always exists, creating it reports false.
	created, err = v.CreateDirectory(`V:\`)
	requireT.NoError(err)
	requireT.False(created)
}

func TestWriteReadDeleteFile(t *testing.T) {
	requireT := require.New(t)

	v, err := New(testParams)
	requireT.NoError(err)

	_, err = v.CreateDirectory(`V:\configs`)
	requireT.NoError(err)

	freeBefore, err := v.FreeSpace()
	requireT.NoError(err)

	data := pattern(10_000)
	requireT.NoError(v.WriteFileBytes(`V:\configs\a.bin`, data))

	read, err := v.ReadFileBytes(`V:\configs\a.bin`)
	requireT.NoError(err)
	requireT.Equal(data, read)

	info, err := v.GetFile(`V:\configs\a.bin`)
	requireT.NoError(err)
	requireT.Equal("a.bin", info.Name)
	requireT.Equal(`V:\configs\a.bin`, info.Path)
	requireT.EqualValues(10_000, info.Size)
	requireT.False(info.LastModified.IsZero())

	files, err := v.ListFiles(`V:\configs`)
	requireT.NoError(err)
	requireT.Equal([]string{`V:\configs\a.bin`}, files)

	requireT.NoError(v.DeleteFile(`V:\configs\a.bin`))

	exists, err := v.ExistsFile(`V:\configs\a.bin`)
	requireT.NoError(err)
	requireT.False(exists)

	freeAfter, err := v.FreeSpace()
	requireT.NoError(err)
	requireT.Equal(freeBefore, freeAfter)

	_, err = v.ReadFileBytes(`V:\configs\a.bin`)
	requireT.True(errors.Is(err, ErrNotFound))
}

func TestReplaceReleasesOldChain(t *testing.T) {
	requireT := require.New(t)

	v, err := New(testParams)
	requireT.NoError(err)

	freeBefore, err := v.FreeSpace()
	requireT.NoError(err)

	requireT.NoError(v.WriteFileBytes(`V:\f`, pattern(5000)))
	requireT.NoError(v.WriteFileBytes(`V:\f`, pattern(50)))

	read, err := v.ReadFileBytes(`V:\f`)
	requireT.NoError(err)
	requireT.Equal(pattern(50), read)

	// The old 5000-byte chain is released; only the single new block is used.
	free, err := v.FreeSpace()
	requireT.NoError(err)
	geo := v.Geometry()
	requireT.Equal(freeBefore-geo.ActualSpacePerBlock, free)

	files, err := v.ListFiles(`V:\`)
	requireT.NoError(err)
	requireT.Equal([]string{`V:\f`}, files)
}

func TestImageRoundTrip(t *testing.T) {
	requireT := require.New(t)

	v, err := New(testParams)
	requireT.NoError(err)

	_, err = v.CreateDirectory(`V:\configs`)
	requireT.NoError(err)
	_, err = v.CreateDirectory(`V:\configs\sub`)
	requireT.NoError(err)
	data := pattern(3000)
	requireT.NoError(v.WriteFileBytes(`V:\configs\a.bin`, data))

	v2, err := FromBuffer(v.SaveToBuffer())
	requireT.NoError(err)

	requireT.Equal(v.Geometry(), v2.Geometry())

	dirs, err := v2.ListSubdirectories(`V:\configs`)
	requireT.NoError(err)
	requireT.Equal([]string{`V:\configs\sub`}, dirs)

	read, err := v2.ReadFileBytes(`V:\configs\a.bin`)
	requireT.NoError(err)
	requireT.Equal(data, read)

	free1, err := v.FreeSpace()
	requireT.NoError(err)
	free2, err := v2.FreeSpace()
	requireT.NoError(err)
	requireT.Equal(free1, free2)

	info1, err := v.GetFile(`V:\configs\a.bin`)
	requireT.NoError(err)
	info2, err := v2.GetFile(`V:\configs\a.bin`)
	requireT.NoError(err)
	requireT.Equal(info1, info2)
}

func TestPointerWidthLaws(t *testing.T) {
	for _, tc := range []struct {
		name     string
		params   geometry.Params
		width    int64
		fileName string
		fileSize int
		useDir   bool
	}{
		{
			// The narrowest possible volume: 240 bytes, two blocks, pointers
			// of one byte.
			name:     "width1",
			params:   geometry.Params{BlockSize: 16, FileInfoSize: 12, StorageSize: 240, MaxNameLength: 1},
			width:    1,
			fileName: `V:\f`,
			fileSize: 10,
		},
		{
			name:     "width2",
			params:   geometry.Params{BlockSize: 64, FileInfoSize: 12, StorageSize: 60_000, MaxNameLength: 8},
			width:    2,
			fileName: `V:\d\f.bin`,
			fileSize: 10_000,
			useDir:   true,
		},
		{
			name:     "width4",
			params:   geometry.Params{BlockSize: 128, FileInfoSize: 12, StorageSize: 10 * 1024 * 1024, MaxNameLength: 8},
			width:    4,
			fileName: `V:\d\f.bin`,
			fileSize: 100_000,
			useDir:   true,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			requireT := require.New(t)

			v, err := New(tc.params)
			requireT.NoError(err)
			requireT.Equal(tc.width, v.Geometry().PointerSize)

			if tc.useDir {
				created, err := v.CreateDirectory(`V:\d`)
				requireT.NoError(err)
				requireT.True(created)
			}

			freeBefore, err := v.FreeSpace()
			requireT.NoError(err)

			data := pattern(tc.fileSize)
			requireT.NoError(v.WriteFileBytes(tc.fileName, data))
			read, err := v.ReadFileBytes(tc.fileName)
			requireT.NoError(err)
			requireT.Equal(data, read)

			v2, err := FromBuffer(v.SaveToBuffer())
			requireT.NoError(err)
			read, err = v2.ReadFileBytes(tc.fileName)
			requireT.NoError(err)
			requireT.Equal(data, read)

			requireT.NoError(v.DeleteFile(tc.fileName))
			freeAfter, err := v.FreeSpace()
			requireT.NoError(err)
			requireT.Equal(freeBefore, freeAfter)
		})
	}
}

func TestPathErrors(t *testing.T) {
	requireT := require.New(t)

	v, err := New(testParams)
	requireT.NoError(err)

	requireT.NoError(v.WriteFileBytes(`V:\f`, pattern(10)))
	_, err = v.CreateDirectory(`V:\d`)
	requireT.NoError(err)

	// No V: prefix.
	_, err = v.ExistsFile(`C:\f`)
	requireT.True(errors.Is(err, ErrInvalidPath))

	// Empty segment.
	_, err = v.ExistsFile(`V:\\f`)
	requireT.True(errors.Is(err, ErrInvalidPath))

	// Traversal through a file.
	err = v.WriteFileBytes(`V:\f\g`, pattern(1))
	requireT.True(errors.Is(err, ErrInvalidPath))
	_, err = v.ExistsDirectory(`V:\f\g`)
	requireT.True(errors.Is(err, ErrInvalidPath))

	// Name longer than the 8-byte slot.
	_, err = v.CreateDirectory(`V:\directory`)
	requireT.True(errors.Is(err, ErrNameTooLong))
	err = v.WriteFileBytes(`V:\file-name.bin`, pattern(1))
	requireT.True(errors.Is(err, ErrNameTooLong))

	// Missing targets.
	_, err = v.ReadFileBytes(`V:\missing`)
	requireT.True(errors.Is(err, ErrNotFound))
	err = v.DeleteFile(`V:\missing`)
	requireT.True(errors.Is(err, ErrNotFound))
	_, err = v.GetFile(`V:\missing`)
	requireT.True(errors.Is(err, ErrNotFound))
	_, err = v.CreateDirectory(`V:\missing\sub`)
	requireT.True(errors.Is(err, ErrNotFound))
	_, err = v.ListFiles(`V:\missing`)
	requireT.True(errors.Is(err, ErrNotFound))

	// Wrong kind.
	_, err = v.ReadFileBytes(`V:\d`)
	requireT.True(errors.Is(err, ErrNotAFile))
	err = v.WriteFileBytes(`V:\d`, pattern(1))
	requireT.True(errors.Is(err, ErrNotAFile))
	err = v.DeleteFile(`V:\d`)
	requireT.True(errors.Is(err, ErrNotAFile))
	_, err = v.GetDirectory(`V:\f`)
	requireT.True(errors.Is(err, ErrNotADirectory))
	_, err = v.CreateDirectory(`V:\f`)
	requireT.True(errors.Is(err, ErrNotADirectory))

	// Exists on the wrong kind is false, not an error.
	exists, err := v.ExistsDirectory(`V:\f`)
	requireT.NoError(err)
	requireT.False(exists)
	exists, err = v.ExistsFile(`V:\d`)
	requireT.NoError(err)
	requireT.False(exists)

	// Exists below a missing parent is false, not an error.
	exists, err = v.ExistsDirectory(`V:\missing\sub`)
	requireT.NoError(err)
	requireT.False(exists)
	exists, err = v.ExistsFile(`V:\missing\f`)
	requireT.NoError(err)
	requireT.False(exists)
}

func TestFromBufferRejectsCorruptImages(t *testing.T) {
	requireT := require.New(t)

	_, err := FromBuffer(make([]byte, 4))
	requireT.True(errors.Is(err, ErrCorruptImage))

	v, err := New(testParams)
	requireT.NoError(err)
	b := v.SaveToBuffer()

	// Truncated image no longer matches the size declared in the header.
	_, err = FromBuffer(b[:len(b)-1])
	requireT.True(errors.Is(err, ErrCorruptImage))

	// A zeroed header cannot describe a volume.
	_, err = FromBuffer(make([]byte, len(b)))
	requireT.True(errors.Is(err, ErrCorruptImage))
}

func TestOpenFileClose(t *testing.T) {
	requireT := require.New(t)

	hostPath := filepath.Join(t.TempDir(), "volume.img")

	v, err := New(testParams)
	requireT.NoError(err)
	requireT.NoError(v.SaveToFile(hostPath))

	v2, err := OpenFile(hostPath)
	requireT.NoError(err)
	requireT.NoError(v2.WriteFileBytes(`V:\f`, pattern(100)))
	requireT.NoError(v2.Close())

	v3, err := OpenFile(hostPath)
	requireT.NoError(err)
	read, err := v3.ReadFileBytes(`V:\f`)
	requireT.NoError(err)
	requireT.Equal(pattern(100), read)

	// No modification, closing must not rewrite the host file.
	before, err := os.ReadFile(hostPath)
	requireT.NoError(err)
	requireT.NoError(os.WriteFile(hostPath, append(before, 0xFF), 0o644))
	requireT.NoError(v3.Close())
	after, err := os.ReadFile(hostPath)
	requireT.NoError(err)
	requireT.Len(after, len(before)+1)
}

func TestFreeNodes(t *testing.T) {
	requireT := require.New(t)

	v, err := New(testParams)
	requireT.NoError(err)

	initial, err := v.FreeNodes()
	requireT.NoError(err)

	_, err = v.CreateDirectory(`V:\d`)
	requireT.NoError(err)
	requireT.NoError(v.WriteFileBytes(`V:\d\f`, pattern(10)))

	left, err := v.FreeNodes()
	requireT.NoError(err)
	requireT.Equal(initial-2, left)

	requireT.NoError(v.DeleteFile(`V:\d\f`))
	left, err = v.FreeNodes()
	requireT.NoError(err)
	requireT.Equal(initial-1, left)
}
