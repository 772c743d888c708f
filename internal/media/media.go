// Package media stores processed item images and hands out their URLs.
package media

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/erazemk/rewear/internal/store"
)

// Store persists image bytes and returns the URL they are served from.
type Store interface {
	Put(ctx context.Context, key string, data []byte, mime string) (string, error)
}

// NewKey returns a fresh object key for an item image.
func NewKey(itemID int64) string {
	return fmt.Sprintf("items/%d/%s.jpg", itemID, uuid.NewString())
}

// DBStore keeps images in the database and serves them from the API.
type DBStore struct {
	DB *sql.DB
	// Prefix is prepended to keys to form URLs.
	Prefix string
}

// DefaultPrefix is where the API serves DBStore images.
const DefaultPrefix = "/api/images/"

func (s *DBStore) Put(ctx context.Context, key string, data []byte, mime string) (string, error) {
	if err := store.PutImageBlob(ctx, s.DB, key, data, mime); err != nil {
		return "", err
	}
	prefix := s.Prefix
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return strings.TrimSuffix(prefix, "/") + "/" + key, nil
}
