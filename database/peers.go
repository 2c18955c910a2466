package database

import (
	"context"

	"github.com/jackc/pgx/v4"
	"github.com/kuutamolabs/kld/ln"
)

// PersistPeer upserts a peer's last-known address, grounded on
// LdkDatabase::persist_peer.
func (d *DurableConnection) PersistPeer(ctx context.Context, peer ln.Peer) error {
	_, err := d.Pool().Exec(ctx,
		"UPSERT INTO peers (public_key, address) VALUES ($1, $2)",
		peer.PublicKey[:], encodeSocketAddress(peer.Address),
	)
	return err
}

// FetchPeer returns a single peer's last-known address, grounded on
// LdkDatabase::fetch_peer.
func (d *DurableConnection) FetchPeer(ctx context.Context, id ln.NodeId) (*ln.Peer, bool, error) {
	var addr []byte
	err := d.Pool().QueryRow(ctx, "SELECT address FROM peers WHERE public_key = $1", id[:]).Scan(&addr)
	if err == pgx.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	sa, err := decodeSocketAddress(addr)
	if err != nil {
		return nil, false, err
	}
	return &ln.Peer{PublicKey: id, Address: sa}, true, nil
}

// FetchPeers loads every known peer address, used to reconnect on
// startup (spec §4.3).
func (d *DurableConnection) FetchPeers(ctx context.Context) ([]ln.Peer, error) {
	rows, err := d.Pool().Query(ctx, "SELECT public_key, address FROM peers")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var peers []ln.Peer
	for rows.Next() {
		var pk, addr []byte
		if err := rows.Scan(&pk, &addr); err != nil {
			return nil, err
		}
		var id ln.NodeId
		copy(id[:], pk)
		sa, err := decodeSocketAddress(addr)
		if err != nil {
			return nil, err
		}
		peers = append(peers, ln.Peer{PublicKey: id, Address: sa})
	}
	return peers, rows.Err()
}

// DeletePeer removes a peer's stored address once disconnected
// permanently, grounded on LdkDatabase::delete_peer.
func (d *DurableConnection) DeletePeer(ctx context.Context, id ln.NodeId) error {
	_, err := d.Pool().Exec(ctx, "DELETE FROM peers WHERE public_key = $1", id[:])
	return err
}
