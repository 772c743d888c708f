package store

import (
	"context"
	"database/sql"
	"fmt"
)

// PutImageBlob stores encoded image bytes under key, replacing any previous
// blob with the same key.
func PutImageBlob(ctx context.Context, q Querier, key string, data []byte, mime string) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO image_blobs (key, data, mime) VALUES (?, ?, ?)
		 ON CONFLICT (key) DO UPDATE SET data = excluded.data, mime = excluded.mime`,
		key, data, mime,
	)
	if err != nil {
		return fmt.Errorf("storing image: %w", err)
	}
	return nil
}

// GetImageBlob returns an image's bytes and MIME type. The data is nil when no
// blob exists for key.
func GetImageBlob(ctx context.Context, q Querier, key string) ([]byte, string, error) {
	var data []byte
	var mime string
	err := q.QueryRowContext(ctx,
		`SELECT data, mime FROM image_blobs WHERE key = ?`, key,
	).Scan(&data, &mime)
	if err == sql.ErrNoRows {
		return nil, "", nil
	}
	if err != nil {
		return nil, "", fmt.Errorf("getting image: %w", err)
	}
	return data, mime, nil
}
