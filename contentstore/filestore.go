package contentstore

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// FileStore implements Store using the local filesystem.
// Blobs are stored at {baseDir}/{address[:2]}/{address} where address is the
// hex SHA-256 of the blob. The first two hex characters shard the directory.
type FileStore struct {
	baseDir string
	mu      sync.RWMutex
}

var _ Store = (*FileStore)(nil)

// NewFileStore creates a file-based content store rooted at baseDir.
// The directory is created if it does not exist.
func NewFileStore(baseDir string) (*FileStore, error) {
	if baseDir == "" {
		return nil, ErrInvalidBaseDir
	}
	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIOFailure, err)
	}
	return &FileStore{baseDir: baseDir}, nil
}

// AddressToPath converts an address to its filesystem path under baseDir.
func AddressToPath(baseDir, address string) string {
	return filepath.Join(baseDir, address[:2], address)
}

// validateAddress checks that address is 64 lowercase hex characters.
func validateAddress(address string) error {
	if len(address) != AddressSize {
		return fmt.Errorf("%w: got %d characters", ErrInvalidAddress, len(address))
	}
	if _, err := hex.DecodeString(address); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	for _, c := range address {
		if c >= 'A' && c <= 'F' {
			return fmt.Errorf("%w: must be lowercase hex", ErrInvalidAddress)
		}
	}
	return nil
}

// Put writes blob under its content address. Storing the same bytes twice is
// a no-op that returns the same address.
func (fs *FileStore) Put(ctx context.Context, blob []byte) (string, error) {
	if len(blob) == 0 {
		return "", ErrEmptyContent
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	address := AddressOf(blob)
	path := AddressToPath(fs.baseDir, address)

	fs.mu.Lock()
	defer fs.mu.Unlock()

	if _, err := os.Stat(path); err == nil {
		return address, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return "", fmt.Errorf("%w: %w", ErrIOFailure, err)
	}

	// Write to a temp file and rename so readers never observe a partial blob.
	tmp, err := os.CreateTemp(filepath.Dir(path), ".put-*")
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrIOFailure, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(blob); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("%w: %w", ErrIOFailure, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("%w: %w", ErrIOFailure, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("%w: %w", ErrIOFailure, err)
	}

	return address, nil
}

// Get reads the blob at address and checks that it still hashes to it.
func (fs *FileStore) Get(ctx context.Context, address string) ([]byte, error) {
	if err := validateAddress(address); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	fs.mu.RLock()
	defer fs.mu.RUnlock()

	data, err := os.ReadFile(AddressToPath(fs.baseDir, address))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, address)
		}
		return nil, fmt.Errorf("%w: %w", ErrIOFailure, err)
	}
	if got := AddressOf(data); got != address {
		return nil, fmt.Errorf("%w: %s hashes to %s", ErrIntegrity, address, got)
	}
	return data, nil
}

// Remove deletes the blob at address.
func (fs *FileStore) Remove(ctx context.Context, address string) error {
	if err := validateAddress(address); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	if err := os.Remove(AddressToPath(fs.baseDir, address)); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrNotFound, address)
		}
		return fmt.Errorf("%w: %w", ErrIOFailure, err)
	}
	return nil
}

// Has reports whether a blob is held at address.
func (fs *FileStore) Has(address string) (bool, error) {
	if err := validateAddress(address); err != nil {
		return false, err
	}

	fs.mu.RLock()
	defer fs.mu.RUnlock()

	_, err := os.Stat(AddressToPath(fs.baseDir, address))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("%w: %w", ErrIOFailure, err)
	}
	return true, nil
}

// List returns every stored address by scanning the shard directories.
func (fs *FileStore) List() ([]string, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	entries, err := os.ReadDir(fs.baseDir)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIOFailure, err)
	}

	var result []string
	for _, entry := range entries {
		if !entry.IsDir() || len(entry.Name()) != 2 {
			continue
		}
		files, err := os.ReadDir(filepath.Join(fs.baseDir, entry.Name()))
		if err != nil {
			continue
		}
		for _, f := range files {
			if f.IsDir() || validateAddress(f.Name()) != nil {
				continue // temp files and strays
			}
			result = append(result, f.Name())
		}
	}
	return result, nil
}
