package database

import (
	"context"
	"time"

	"github.com/jackc/pgx/v4"
)

// IsFirstStart reports whether any channel manager blob has ever been
// persisted, grounded on LdkDatabase::is_first_start.
func (d *DurableConnection) IsFirstStart(ctx context.Context) (bool, error) {
	var dummy bool
	err := d.Pool().QueryRow(ctx, "SELECT true FROM channel_manager LIMIT 1").Scan(&dummy)
	if err == pgx.ErrNoRows {
		return true, nil
	}
	return false, err
}

// PersistManager upserts the serialized channel-manager blob, grounded on
// LdkDatabase::persist_manager.
func (d *DurableConnection) PersistManager(ctx context.Context, blob []byte) error {
	_, err := d.Pool().Exec(ctx,
		"UPSERT INTO channel_manager (id, manager, timestamp) VALUES ('manager', $1, $2)",
		blob, time.Now().UTC(),
	)
	return err
}

// FetchManager loads the persisted channel-manager blob, if any.
func (d *DurableConnection) FetchManager(ctx context.Context) ([]byte, bool, error) {
	var blob []byte
	err := d.Pool().QueryRow(ctx, "SELECT manager FROM channel_manager WHERE id = 'manager'").Scan(&blob)
	if err == pgx.ErrNoRows {
		return nil, false, nil
	}
	return blob, err == nil, err
}

// PersistScorer upserts the serialized probabilistic-scorer blob.
func (d *DurableConnection) PersistScorer(ctx context.Context, blob []byte) error {
	_, err := d.Pool().Exec(ctx,
		"UPSERT INTO scorer (id, scorer, timestamp) VALUES ('scorer', $1, $2)",
		blob, time.Now().UTC(),
	)
	return err
}

// FetchScorer loads the persisted scorer blob, if any, grounded on
// DBConnection::fetch_scorer.
func (d *DurableConnection) FetchScorer(ctx context.Context) ([]byte, bool, error) {
	var blob []byte
	err := d.Pool().QueryRow(ctx, "SELECT scorer FROM scorer WHERE id = 'scorer'").Scan(&blob)
	if err == pgx.ErrNoRows {
		return nil, false, nil
	}
	return blob, err == nil, err
}

// FetchScorerUpdateTime returns the timestamp of the last scorer persist,
// grounded on DBConnection::fetch_scorer_update_time.
func (d *DurableConnection) FetchScorerUpdateTime(ctx context.Context) (time.Time, error) {
	var t time.Time
	err := d.Pool().QueryRow(ctx, "SELECT timestamp FROM scorer WHERE id = 'scorer'").Scan(&t)
	return t, err
}
