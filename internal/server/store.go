package server

import (
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"syscall"

	"github.com/Pablu23/tftp/internal/common"
)

// Store resolves requested filenames to byte streams. Sessions only ever
// see this interface; tests substitute an in-memory implementation.
type Store interface {
	Open(name string) (io.ReadCloser, error)
	Create(name string) (io.WriteCloser, error)
	Exists(name string) bool
	Remove(name string) error
}

// DirStore serves files below a single root directory.
type DirStore struct {
	root string
}

func NewDirStore(path string) (*DirStore, error) {
	root, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	return &DirStore{root: root}, nil
}

func (s *DirStore) resolve(name string) (string, error) {
	if name == "" {
		return "", common.ErrInvalidFilename
	}
	return filepath.Join(s.root, name), nil
}

func (s *DirStore) Open(name string) (io.ReadCloser, error) {
	path, err := s.resolve(name)
	if err != nil {
		return nil, err
	}
	return os.Open(path)
}

func (s *DirStore) Create(name string) (io.WriteCloser, error) {
	path, err := s.resolve(name)
	if err != nil {
		return nil, err
	}
	return os.Create(path)
}

func (s *DirStore) Exists(name string) bool {
	path, err := s.resolve(name)
	if err != nil {
		return false
	}
	_, err = os.Stat(path)
	return err == nil
}

func (s *DirStore) Remove(name string) error {
	path, err := s.resolve(name)
	if err != nil {
		return err
	}
	return os.Remove(path)
}

// wireError translates a storage failure into the most specific protocol
// error code that applies.
func wireError(err error) *common.Error {
	var werr *common.Error
	if errors.As(err, &werr) {
		return werr
	}
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return common.New(common.ErrCodeFileNotFound, "file not found")
	case errors.Is(err, fs.ErrPermission):
		return common.New(common.ErrCodeAccessViolation, "access violation")
	case errors.Is(err, fs.ErrExist):
		return common.New(common.ErrCodeFileAlreadyExists, "file already exists")
	case errors.Is(err, syscall.ENOSPC):
		return common.New(common.ErrCodeDiskFull, "disk full or allocation exceeded")
	default:
		return common.New(common.ErrCodeNotDefined, err.Error())
	}
}
