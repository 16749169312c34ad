package scanner

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/shaharia-lab/terediX/pkg/resource"
)

// File system field names.
const (
	FieldRootDirectory = "rootDirectory"
	FieldMachineHost   = "machineHost"
	FieldFileName      = "fileName"
	FieldExtension     = "extension"
	FieldSize          = "size"
	FieldModifiedAt    = "modifiedAt"
)

// FileSystem discovers the files below a root directory.
type FileSystem struct {
	name     string
	root     string
	fields   []string
	logger   zerolog.Logger
	hostname func() (string, error)
	now      func() time.Time
}

// NewFileSystem creates a file system scanner for root.
func NewFileSystem(name, root string, fields []string, logger zerolog.Logger) *FileSystem {
	return &FileSystem{
		name:     name,
		root:     filepath.Clean(root),
		fields:   fields,
		logger:   logger,
		hostname: os.Hostname,
		now:      time.Now,
	}
}

func (s *FileSystem) Name() string { return s.name }

func (s *FileSystem) Kind() string { return resource.KindFilePath }

// Scan emits the root directory followed by every regular file below it.
func (s *FileSystem) Scan(ctx context.Context, out chan<- resource.Resource) error {
	info, err := os.Stat(s.root)
	if err != nil {
		return s.scanErr(err)
	}
	if !info.IsDir() {
		return s.scanErr(errors.New(s.root + " is not a directory"))
	}

	host, err := s.hostname()
	if err != nil {
		s.logger.Warn().Err(err).Msg("resolve hostname")
	}
	fetchedAt := s.now()

	rootMapper := NewFieldMapper(map[string]func() string{
		FieldRootDirectory: func() string { return s.root },
		FieldMachineHost:   func() string { return host },
		FieldFileName:      func() string { return filepath.Base(s.root) },
		FieldModifiedAt:    func() string { return info.ModTime().UTC().Format(time.RFC3339) },
	}, nil, s.fields)
	root := resource.New(resource.KindFilePath, s.root, s.root, s.name, fetchedAt).WithMetaData(rootMapper.MetaData())
	if err := Emit(ctx, out, root); err != nil {
		return s.scanErr(err)
	}

	walkErr := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == s.root {
				return err
			}
			s.logger.Warn().Err(err).Str("path", path).Msg("skipping unreadable entry")
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !d.Type().IsRegular() {
			return nil
		}

		fi, err := d.Info()
		if err != nil {
			s.logger.Warn().Err(err).Str("path", path).Msg("skipping unreadable file")
			return nil
		}

		mapper := NewFieldMapper(map[string]func() string{
			FieldRootDirectory: func() string { return s.root },
			FieldMachineHost:   func() string { return host },
			FieldFileName:      fi.Name,
			FieldExtension:     func() string { return filepath.Ext(path) },
			FieldSize:          func() string { return strconv.FormatInt(fi.Size(), 10) },
			FieldModifiedAt:    func() string { return fi.ModTime().UTC().Format(time.RFC3339) },
		}, nil, s.fields)

		r := resource.New(resource.KindFilePath, fi.Name(), path, s.name, fetchedAt).WithMetaData(mapper.MetaData())
		return Emit(ctx, out, r)
	})
	if walkErr != nil {
		return s.scanErr(walkErr)
	}
	return nil
}

func (s *FileSystem) scanErr(err error) error {
	return &ScanError{Source: s.name, Kind: resource.KindFilePath, Err: err}
}
