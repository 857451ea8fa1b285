package store

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"fmt"
)

// GetSetting returns a setting value and whether it exists.
func GetSetting(ctx context.Context, q Querier, key string) (string, bool, error) {
	var value string
	err := q.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, dbError("getting setting "+key, err)
	}
	return value, true, nil
}

// SetSetting stores a setting, replacing any previous value.
func SetSetting(ctx context.Context, q Querier, key, value string) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO settings (key, value) VALUES (?, ?)
		 ON CONFLICT (key) DO UPDATE SET value = excluded.value`,
		key, value,
	)
	if err != nil {
		return dbError("storing setting "+key, err)
	}
	return nil
}

// GetJWTSecret retrieves the token signing key, generating and storing one on
// first use. INSERT OR IGNORE followed by a re-read keeps two servers starting
// at once from ending up with different keys.
func GetJWTSecret(ctx context.Context, q Querier) (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating jwt secret: %w", err)
	}

	_, err := q.ExecContext(ctx,
		`INSERT OR IGNORE INTO settings (key, value) VALUES ('jwt_secret', ?)`,
		hex.EncodeToString(buf),
	)
	if err != nil {
		return "", dbError("storing jwt_secret", err)
	}

	secret, ok, err := GetSetting(ctx, q, "jwt_secret")
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("jwt_secret missing after insert")
	}
	return secret, nil
}
