package store

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// GetSetting returns the value stored under key, or "" when unset.
func GetSetting(ctx context.Context, q Querier, key string) (string, error) {
	var value string
	err := q.QueryRowContext(ctx,
		`SELECT COALESCE((SELECT value FROM settings WHERE key = ?), '')`, key,
	).Scan(&value)
	if err != nil {
		return "", fmt.Errorf("getting setting %s: %w", key, err)
	}
	return value, nil
}

// EnsureSetting stores candidate under key unless a value already exists and
// returns whichever value ended up stored. INSERT OR IGNORE followed by a
// re-read keeps concurrent first starts agreeing on one value.
func EnsureSetting(ctx context.Context, q Querier, key, candidate string) (string, error) {
	_, err := q.ExecContext(ctx,
		`INSERT OR IGNORE INTO settings (key, value) VALUES (?, ?)`, key, candidate,
	)
	if err != nil {
		return "", fmt.Errorf("storing setting %s: %w", key, err)
	}
	return GetSetting(ctx, q, key)
}

// GetJWTSecret returns the token signing secret, generating and persisting a
// random one on first use.
func GetJWTSecret(ctx context.Context, q Querier) (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating jwt secret: %w", err)
	}
	return EnsureSetting(ctx, q, "jwt_secret", hex.EncodeToString(buf))
}
