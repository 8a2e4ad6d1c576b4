package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// MemoryShardStore hält Shards im Speicher. Wird in Tests und für lokale
// Läufe ohne S3-Anbindung verwendet.
type MemoryShardStore struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

// NewMemoryShardStore erstellt einen leeren In-Memory-Store.
func NewMemoryShardStore() *MemoryShardStore {
	return &MemoryShardStore{objects: make(map[string][]byte)}
}

// Put speichert eine Shard-Datei unter ihrem Key.
func (m *MemoryShardStore) Put(ctx context.Context, key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	buf := make([]byte, len(data))
	copy(buf, data)
	m.objects[key] = buf
	return nil
}

// Get liefert die Shard-Datei zum Key.
func (m *MemoryShardStore) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, fmt.Errorf("storage: shard %s not found", key)
	}
	return data, nil
}

// List liefert alle Keys unter einem Prefix in sortierter Reihenfolge.
func (m *MemoryShardStore) List(ctx context.Context, prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var keys []string
	for key := range m.objects {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}
