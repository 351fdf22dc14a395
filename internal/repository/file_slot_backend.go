package repository

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"wwnotes-sync/internal/domain"
)

// FileSlotBackend stores each slot as <dir>/<key>.json. Writes go through a
// temp file and rename so readers in other processes never see a partial
// payload.
type FileSlotBackend struct {
	dir string
	mu  sync.Mutex
}

func NewFileSlotBackend(dir string) (*FileSlotBackend, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("slot directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create slot directory: %w", err)
	}
	return &FileSlotBackend{dir: dir}, nil
}

func (b *FileSlotBackend) Dir() string {
	return b.dir
}

// Path returns the file backing key.
func (b *FileSlotBackend) Path(key string) string {
	return filepath.Join(b.dir, sanitizeSlotKey(key)+".json")
}

func (b *FileSlotBackend) Get(_ context.Context, key string) ([]byte, error) {
	data, err := os.ReadFile(b.Path(key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	return data, nil
}

func (b *FileSlotBackend) Set(_ context.Context, key string, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := writeFileAtomic(b.Path(key), data, 0o644); err != nil {
		if errors.Is(err, syscall.ENOSPC) {
			return domain.ErrQuotaExceeded
		}
		return err
	}
	return nil
}

func sanitizeSlotKey(key string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-', r == '.':
			return r
		}
		return '_'
	}, key)
}

func writeFileAtomic(path string, data []byte, mode os.FileMode) error {
	dir := filepath.Dir(path)
	tmpFile, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmpFile.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()
	if _, err := tmpFile.Write(data); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if err := tmpFile.Chmod(mode); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if err := tmpFile.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}
	committed = true
	return nil
}
