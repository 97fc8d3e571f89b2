package websocket

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Registry records the open connections of each email, one row per channel.
// An email stays connected while any of its channels is open; pushes to
// emails without a row are skipped.
type Registry interface {
	Register(ctx context.Context, email, channelID string) error
	Unregister(ctx context.Context, email, channelID string) error
	IsConnected(ctx context.Context, email string) (bool, error)
}

type pgRegistry struct {
	pool *pgxpool.Pool
}

func NewPGRegistry(pool *pgxpool.Pool) Registry {
	return &pgRegistry{pool: pool}
}

func (r *pgRegistry) Register(ctx context.Context, email, channelID string) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO websocket_connections (email, channel_id, connected_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (email, channel_id) DO UPDATE
		SET connected_at = EXCLUDED.connected_at`,
		strings.ToLower(email), channelID)
	if err != nil {
		return fmt.Errorf("register connection: %w", err)
	}
	return nil
}

// Unregister removes only channelID; other tabs of the same user stay registered.
func (r *pgRegistry) Unregister(ctx context.Context, email, channelID string) error {
	_, err := r.pool.Exec(ctx,
		`DELETE FROM websocket_connections WHERE email = $1 AND channel_id = $2`,
		strings.ToLower(email), channelID)
	if err != nil {
		return fmt.Errorf("unregister connection: %w", err)
	}
	return nil
}

func (r *pgRegistry) IsConnected(ctx context.Context, email string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM websocket_connections WHERE email = $1)`,
		strings.ToLower(email)).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check connection: %w", err)
	}
	return exists, nil
}
