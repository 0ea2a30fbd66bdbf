package blobstore

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/studiosync/studiosync/internal/utils"
)

// MemoryStore keeps blobs in process memory. Used by tests and the devstack.
type MemoryStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		blobs: make(map[string][]byte),
	}
}

// Put seeds a blob directly, bypassing the filesystem.
func (m *MemoryStore) Put(key string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[key] = append([]byte(nil), data...)
}

// Get returns a seeded blob and whether it exists.
func (m *MemoryStore) Get(key string) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.blobs[key]
	return data, ok
}

func (m *MemoryStore) List(ctx context.Context, prefix string) ([]*Object, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var objects []*Object
	for key, data := range m.blobs {
		if !strings.HasPrefix(NormalizeKey(key), prefix) {
			continue
		}
		sum := md5.Sum(data)
		objects = append(objects, &Object{
			Key:          NormalizeKey(key),
			ETag:         hex.EncodeToString(sum[:]),
			Size:         int64(len(data)),
			LastModified: time.Now().UTC(),
		})
	}
	return objects, nil
}

func (m *MemoryStore) Upload(ctx context.Context, localPath string, key string) (*Object, error) {
	if key == "" || strings.Contains(key, `\`) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}

	data, err := os.ReadFile(localPath)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.blobs[key] = data
	m.mu.Unlock()

	sum := md5.Sum(data)
	return &Object{
		Key:          key,
		ETag:         hex.EncodeToString(sum[:]),
		Size:         int64(len(data)),
		LastModified: time.Now().UTC(),
	}, nil
}

func (m *MemoryStore) Download(ctx context.Context, key string, localPath string) error {
	m.mu.RLock()
	data, ok := m.blobs[key]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %q", ErrKeyNotFound, key)
	}

	if err := utils.EnsureParent(localPath); err != nil {
		return err
	}
	return os.WriteFile(localPath, data, 0o644)
}

func (m *MemoryStore) Copy(ctx context.Context, srcKey string, dstKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, ok := m.blobs[srcKey]
	if !ok {
		return fmt.Errorf("%w: %q", ErrKeyNotFound, srcKey)
	}
	m.blobs[dstKey] = append([]byte(nil), data...)
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.blobs, key)
	return nil
}

var _ Store = (*MemoryStore)(nil)
