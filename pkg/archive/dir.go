package archive

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dietbot/entitlement/pkg/usage"
)

// DirArchiver implements usage.Archiver on the local filesystem.
type DirArchiver struct {
	root string
}

func NewDirArchiver(root string) (*DirArchiver, error) {
	if root == "" {
		return nil, fmt.Errorf("%w: directory is required", ErrInvalidConfig)
	}
	return &DirArchiver{root: root}, nil
}

func (a *DirArchiver) ArchiveCounters(_ context.Context, day string, counters []usage.Counter) error {
	if err := checkDay(day); err != nil {
		return err
	}
	data, err := encode(counters)
	if err != nil {
		return errors.Join(ErrWriteFailed, err)
	}

	target := filepath.Join(a.root, filepath.FromSlash(objectKey("", day)))
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return errors.Join(ErrWriteFailed, err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(target), ".archive-*")
	if err != nil {
		return errors.Join(ErrWriteFailed, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errors.Join(ErrWriteFailed, err)
	}
	if err := tmp.Close(); err != nil {
		return errors.Join(ErrWriteFailed, err)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		return errors.Join(ErrWriteFailed, err)
	}
	return nil
}

func (a *DirArchiver) ReadCounters(_ context.Context, day string) ([]usage.Counter, error) {
	if err := checkDay(day); err != nil {
		return nil, err
	}
	f, err := os.Open(filepath.Join(a.root, filepath.FromSlash(objectKey("", day))))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Join(ErrReadFailed, err)
	}
	defer f.Close()

	counters, err := decode(f)
	if err != nil {
		return nil, errors.Join(ErrReadFailed, err)
	}
	return counters, nil
}
