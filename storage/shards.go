package storage

import (
	"context"
	"fmt"
)

// ShardStore abstrahiert die Ablage der Crawl-Shards, damit Crawler und
// Loader unabhängig vom konkreten Backend (S3, In-Memory) arbeiten können.
type ShardStore interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	List(ctx context.Context, prefix string) ([]string, error)
}

// ShardKey bildet eine Seitennummer auf den Objekt-Key der Shard-Datei ab.
// Die Seitennummer wird auf 7 Stellen aufgefüllt, die ersten vier Ziffern
// bilden in umgekehrter Reihenfolge das Verzeichnis. So verteilen sich
// fortlaufende Seiten gleichmäßig über die Prefixe.
func ShardKey(prefix string, pageNum int) string {
	padded := fmt.Sprintf("%07d", pageNum)
	hashDir := string([]byte{padded[3], padded[2], padded[1], padded[0]})
	return fmt.Sprintf("%s/%s/results.%s.json", prefix, hashDir, padded)
}
