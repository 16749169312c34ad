package scanner

import (
	"errors"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaharia-lab/terediX/pkg/resource"
)

var allFileFields = []string{FieldRootDirectory, FieldMachineHost, FieldFileName, FieldExtension, FieldSize, FieldModifiedAt}

func newTestFileSystem(root string, fields []string) *FileSystem {
	s := NewFileSystem("fs", root, fields, zerolog.Nop())
	s.hostname = func() (string, error) { return "test-host", nil }
	s.now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	return s
}

func TestFileSystem_Scan(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("hello"), 0o600))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "sub"), 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(root, "sub", "b.go"), []byte("package b"), 0o600))

	got, err := collect(t, newTestFileSystem(root, allFileFields))
	require.NoError(t, err)
	require.Len(t, got, 3)

	assert.Equal(t, root, got[0].ExternalID)
	assert.Equal(t, root, got[0].Meta(FieldRootDirectory))

	files := got[1:]
	sort.Slice(files, func(i, j int) bool { return files[i].ExternalID < files[j].ExternalID })

	a := files[0]
	assert.Equal(t, resource.KindFilePath, a.Kind)
	assert.Equal(t, "fs", a.ScannerSource)
	assert.Equal(t, "a.txt", a.Name)
	assert.Equal(t, filepath.Join(root, "a.txt"), a.ExternalID)
	assert.Equal(t, root, a.Meta(FieldRootDirectory))
	assert.Equal(t, "test-host", a.Meta(FieldMachineHost))
	assert.Equal(t, ".txt", a.Meta(FieldExtension))
	assert.Equal(t, "5", a.Meta(FieldSize))
	assert.NotEmpty(t, a.Meta(FieldModifiedAt))
	assert.NoError(t, a.Validate())

	assert.Equal(t, filepath.Join(root, "sub", "b.go"), files[1].ExternalID)
}

func TestFileSystem_FieldAllowList(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), nil, 0o600))

	got, err := collect(t, newTestFileSystem(root, []string{FieldRootDirectory}))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, map[string]string{FieldRootDirectory: root}, got[1].MetaData)
}

func TestFileSystem_MissingRoot(t *testing.T) {
	got, err := collect(t, newTestFileSystem(filepath.Join(t.TempDir(), "missing"), allFileFields))
	assert.Empty(t, got)

	var scanErr *ScanError
	require.True(t, errors.As(err, &scanErr))
	assert.Equal(t, "fs", scanErr.Source)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestFileSystem_RootIsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(path, nil, 0o600))

	_, err := collect(t, newTestFileSystem(path, allFileFields))
	var scanErr *ScanError
	assert.True(t, errors.As(err, &scanErr))
}

func TestFileSystem_Identity(t *testing.T) {
	s := newTestFileSystem(t.TempDir(), nil)
	assert.Equal(t, "fs", s.Name())
	assert.Equal(t, resource.KindFilePath, s.Kind())
}
