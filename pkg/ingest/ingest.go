// Package ingest turns a multipart field into a content-addressed blob
// (§4.4): hash while streaming, dedup against existing content, persist,
// and best-effort enrich `.safetensors` uploads with tensor metadata.
package ingest

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"lukechampine.com/blake3"

	"github.com/plectr/core/pkg/blobstore"
)

// BlobInfo is the result of an ingest, mirroring the upload endpoint's
// response shape (§6).
type BlobInfo struct {
	Key      string `json:"hash"`
	Size     int64  `json:"size"`
	Mime     string `json:"mime_type"`
	Existed  bool   `json:"existed"`
	Metadata any    `json:"metadata,omitempty"`
}

type Service struct {
	DB    *sql.DB
	Store blobstore.Store
	Cache *redis.Client // optional: nil disables the dedup cache
}

func NewService(db *sql.DB, store blobstore.Store, cache *redis.Client) *Service {
	return &Service{DB: db, Store: store, Cache: cache}
}

// Ingest streams r, hashing with BLAKE3 as it goes. The field is buffered
// in full (matching the reference implementation: blobs here are build
// artifacts and small files, not multi-gigabyte media) so the hash is
// known before any store or database write is attempted.
func (s *Service) Ingest(ctx context.Context, filename, contentType string, r io.Reader) (*BlobInfo, error) {
	hasher := blake3.New(32, nil)
	var buf bytes.Buffer
	size, err := io.Copy(io.MultiWriter(&buf, hasher), r)
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}

	key := fmt.Sprintf("%x", hasher.Sum(nil))

	existed, err := s.exists(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("check existing blob: %w", err)
	}
	if existed {
		return &BlobInfo{Key: key, Size: size, Mime: contentType, Existed: true}, nil
	}

	var metadata any
	if strings.HasSuffix(strings.ToLower(filename), ".safetensors") {
		meta, err := analyzeSafetensors(buf.Bytes())
		if err != nil {
			// Best-effort enrichment: never fail the ingest over it (§4.4).
			log.Printf("[ingest] safetensors metadata extraction failed for %s: %v", filename, err)
		} else {
			metadata = meta
		}
	}

	if err := s.Store.Put(ctx, key, bytes.NewReader(buf.Bytes())); err != nil {
		return nil, fmt.Errorf("write blob: %w", err)
	}

	var metadataJSON []byte
	if metadata != nil {
		metadataJSON, _ = json.Marshal(metadata)
	}

	_, err = s.DB.ExecContext(ctx, `
		INSERT INTO blobs (hash, size, mime_type, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (hash) DO NOTHING`,
		key, size, contentType, nullableJSON(metadataJSON), time.Now())
	if err != nil {
		return nil, fmt.Errorf("record blob: %w", err)
	}

	s.cacheSet(ctx, key)

	return &BlobInfo{Key: key, Size: size, Mime: contentType, Existed: false, Metadata: metadata}, nil
}

// exists checks the Redis existence cache first (cheap, avoids a database
// round trip on repeat uploads of the same bytes), falling back to the
// database on a cache miss or when the cache is unavailable. The cache is
// an accelerator only; the blobs table is the source of truth.
func (s *Service) exists(ctx context.Context, key string) (bool, error) {
	if s.Cache != nil {
		n, err := s.Cache.Exists(ctx, "blob:"+key).Result()
		if err == nil && n > 0 {
			return true, nil
		}
	}

	var exists bool
	err := s.DB.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM blobs WHERE hash = $1)`, key).Scan(&exists)
	if err != nil {
		return false, err
	}
	if exists {
		s.cacheSet(ctx, key)
	}
	return exists, nil
}

func (s *Service) cacheSet(ctx context.Context, key string) {
	if s.Cache == nil {
		return
	}
	if err := s.Cache.Set(ctx, "blob:"+key, "1", 24*time.Hour).Err(); err != nil {
		log.Printf("[ingest] dedup cache write failed for %s: %v", key, err)
	}
}

func nullableJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}
