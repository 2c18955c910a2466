package database

import (
	"context"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/kuutamolabs/kld/ln"
)

// InsertChannel records a new channel row; the event handler calls it from
// its FundingGenerationReady and ChannelPending cases. user_channel_id
// carries a UNIQUE constraint, so a colliding insert fails (the event
// handler logs the error); collisions are avoided up front by
// correlator.InsertFunding, which checks IsUserChannelIdTaken before
// handing out an id.
func (d *DurableConnection) InsertChannel(ctx context.Context, rec ln.ChannelRecord) error {
	detail, err := encodeDetail(rec.Detail)
	if err != nil {
		return err
	}
	_, err = d.Pool().Exec(ctx,
		`INSERT INTO channels (channel_id, user_channel_id, counterparty, open_timestamp, update_timestamp, detail)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		rec.ChannelId[:], int64(rec.UserChannelId), rec.Detail.Counterparty[:], rec.OpenTimestamp.UTC(), rec.UpdateTimestamp.UTC(), detail,
	)
	return err
}

// IsUserChannelIdTaken reports whether a given id already has a row,
// the collision check InsertFunding performs before committing to an id
// (Open Question #2).
func (d *DurableConnection) IsUserChannelIdTaken(ctx context.Context, id ln.UserChannelId) (bool, error) {
	var dummy bool
	err := d.Pool().QueryRow(ctx, "SELECT true FROM channels WHERE user_channel_id = $1", int64(id)).Scan(&dummy)
	if err == pgx.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

// UpdateChannelDetail overwrites a channel's detail blob and bumps its
// update timestamp, used whenever ChannelReady/ChannelPending/forwarding
// config changes arrive (spec §4.4).
func (d *DurableConnection) UpdateChannelDetail(ctx context.Context, id ln.ChannelId, detail ln.ChannelDetail) error {
	blob, err := encodeDetail(detail)
	if err != nil {
		return err
	}
	_, err = d.Pool().Exec(ctx,
		"UPDATE channels SET detail = $1, update_timestamp = $2 WHERE channel_id = $3",
		blob, time.Now().UTC(), id[:],
	)
	return err
}

// RenameChannelId migrates a channel row from its temporary id to the
// real id FundingTransactionGenerated assigns once the funding outpoint
// is known (spec §4.4's ChannelPending handling).
func (d *DurableConnection) RenameChannelId(ctx context.Context, oldId, newId ln.ChannelId) error {
	_, err := d.Pool().Exec(ctx,
		"UPDATE channels SET channel_id = $1 WHERE channel_id = $2", newId[:], oldId[:])
	return err
}

// CloseChannel marks a channel terminal (spec §3's ClosureReason-iff-terminal invariant).
func (d *DurableConnection) CloseChannel(ctx context.Context, id ln.ChannelId, reason string) error {
	now := time.Now().UTC()
	_, err := d.Pool().Exec(ctx,
		"UPDATE channels SET close_timestamp = $1, closure_reason = $2, update_timestamp = $1 WHERE channel_id = $3",
		now, reason, id[:],
	)
	return err
}

// ListChannels returns every channel row, open and closed.
func (d *DurableConnection) ListChannels(ctx context.Context) ([]ln.ChannelRecord, error) {
	rows, err := d.Pool().Query(ctx,
		"SELECT channel_id, user_channel_id, open_timestamp, update_timestamp, closure_reason, detail FROM channels")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ln.ChannelRecord
	for rows.Next() {
		var rec ln.ChannelRecord
		var cid, detail []byte
		var uid int64
		var reason *string
		if err := rows.Scan(&cid, &uid, &rec.OpenTimestamp, &rec.UpdateTimestamp, &reason, &detail); err != nil {
			return nil, err
		}
		copy(rec.ChannelId[:], cid)
		rec.UserChannelId = ln.UserChannelId(uid)
		rec.ClosureReason = reason
		detailVal, err := decodeDetail(detail)
		if err != nil {
			return nil, err
		}
		rec.Detail = detailVal
		out = append(out, rec)
	}
	return out, rows.Err()
}
