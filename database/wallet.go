package database

import (
	"context"
	"time"

	"github.com/jackc/pgx/v4"
)

// LocalUTXO mirrors bdk::LocalUtxo's fields: an outpoint, its value and
// claiming script, and whether it's already spent. Grounded on
// wallet_database.rs's insert_utxo/select_utxos.
type LocalUTXO struct {
	Txid      []byte
	Vout      uint32
	ValueSat  uint64
	Script    []byte
	Keychain  string
	Index     uint32
	IsSpent   bool
}

// TransactionDetail mirrors bdk::TransactionDetails: the wallet-level
// accounting view of a transaction (distinct from its raw bytes),
// grounded on insert_transaction_details/select_transaction_details.
type TransactionDetail struct {
	Txid        []byte
	ReceivedSat uint64
	SentSat     uint64
	FeeSat      *uint64
	Height      *int64
	BlockTime   *time.Time
}

// SyncTime records the wallet's last-synced chain tip, grounded on
// bdk::database::SyncTime / update_sync_time.
type SyncTime struct {
	Height    int64
	Timestamp time.Time
}

// WalletBatch groups writes into a single transaction so readers never
// observe a partially-applied sync round, the "commit before exposing
// newly written rows to readers" rule from spec §4.6 (grounded on
// bdk::database::BatchOperations, whose whole point is to buffer and
// apply writes atomically).
type WalletBatch struct {
	tx pgx.Tx
}

// BeginWalletBatch opens a new batch transaction.
func (d *DurableConnection) BeginWalletBatch(ctx context.Context) (*WalletBatch, error) {
	tx, err := d.Pool().Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &WalletBatch{tx: tx}, nil
}

func (b *WalletBatch) Commit(ctx context.Context) error   { return b.tx.Commit(ctx) }
func (b *WalletBatch) Rollback(ctx context.Context) error  { return b.tx.Rollback(ctx) }

func (b *WalletBatch) SetScriptPubkey(ctx context.Context, keychain string, child uint32, script []byte) error {
	_, err := b.tx.Exec(ctx,
		"UPSERT INTO script_pubkeys (keychain, child, script) VALUES ($1, $2, $3)", keychain, int64(child), script)
	return err
}

func (b *WalletBatch) SetUTXO(ctx context.Context, u LocalUTXO) error {
	_, err := b.tx.Exec(ctx,
		"UPSERT INTO utxos (txid, vout, value_sat, script, keychain, is_spent) VALUES ($1, $2, $3, $4, $5, $6)",
		u.Txid, int32(u.Vout), u.ValueSat, u.Script, u.Keychain, u.IsSpent)
	return err
}

func (b *WalletBatch) SetRawTx(ctx context.Context, txid, rawTx []byte) error {
	_, err := b.tx.Exec(ctx, "UPSERT INTO wallet_transactions (txid, raw_tx) VALUES ($1, $2)", txid, rawTx)
	return err
}

func (b *WalletBatch) SetTransactionDetail(ctx context.Context, t TransactionDetail) error {
	_, err := b.tx.Exec(ctx,
		`UPSERT INTO wallet_transaction_details (txid, received_sat, sent_sat, fee_sat, height, block_time)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		t.Txid, t.ReceivedSat, t.SentSat, t.FeeSat, t.Height, t.BlockTime)
	return err
}

func (b *WalletBatch) SetLastDerivationIndex(ctx context.Context, keychain string, value uint32) error {
	_, err := b.tx.Exec(ctx,
		"UPSERT INTO last_derivation_indices (keychain, value) VALUES ($1, $2)", keychain, int64(value))
	return err
}

func (b *WalletBatch) SetSyncTime(ctx context.Context, t SyncTime) error {
	_, err := b.tx.Exec(ctx,
		"UPSERT INTO wallet_sync_time (id, height, timestamp) VALUES ('wallet', $1, $2)", t.Height, t.Timestamp.UTC())
	return err
}

func (b *WalletBatch) DeleteUTXO(ctx context.Context, txid []byte, vout uint32) error {
	_, err := b.tx.Exec(ctx, "DELETE FROM utxos WHERE txid = $1 AND vout = $2", txid, int32(vout))
	return err
}

// SelectScriptPubkeys returns every derived script for a keychain (or all
// keychains if empty), grounded on select_script_pubkeys[_by_keychain].
func (d *DurableConnection) SelectScriptPubkeys(ctx context.Context, keychain string) ([][]byte, error) {
	var rows pgx.Rows
	var err error
	if keychain == "" {
		rows, err = d.Pool().Query(ctx, "SELECT script FROM script_pubkeys")
	} else {
		rows, err = d.Pool().Query(ctx, "SELECT script FROM script_pubkeys WHERE keychain = $1", keychain)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out [][]byte
	for rows.Next() {
		var s []byte
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// SelectUTXOs returns every tracked output, spent or not, grounded on
// select_utxos. The join against script_pubkeys recovers the derivation
// index each output's claiming script was derived at, so callers can
// re-derive the matching private key instead of always signing with
// index 0 (FundTx/selectInputs's consumer).
func (d *DurableConnection) SelectUTXOs(ctx context.Context) ([]LocalUTXO, error) {
	rows, err := d.Pool().Query(ctx,
		`SELECT u.txid, u.vout, u.value_sat, u.script, u.keychain, u.is_spent, s.child
		 FROM utxos u LEFT JOIN script_pubkeys s ON s.keychain = u.keychain AND s.script = u.script`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []LocalUTXO
	for rows.Next() {
		var u LocalUTXO
		var vout int32
		var child *int64
		if err := rows.Scan(&u.Txid, &vout, &u.ValueSat, &u.Script, &u.Keychain, &u.IsSpent, &child); err != nil {
			return nil, err
		}
		u.Vout = uint32(vout)
		if child != nil {
			u.Index = uint32(*child)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// FindScriptPubkey looks up the keychain/child a previously-derived
// script belongs to, used to recover the signing key for an externally
// supplied output (e.g. a channel's to_remote/static sweep output,
// which rust-lightning pays to a shutdown script this wallet itself
// handed out via NewInternalAddress).
func (d *DurableConnection) FindScriptPubkey(ctx context.Context, script []byte) (keychain string, child uint32, found bool, err error) {
	var c int64
	err = d.Pool().QueryRow(ctx,
		"SELECT keychain, child FROM script_pubkeys WHERE script = $1", script).Scan(&keychain, &c)
	if err == pgx.ErrNoRows {
		return "", 0, false, nil
	}
	if err != nil {
		return "", 0, false, err
	}
	return keychain, uint32(c), true, nil
}

// SelectSyncTime returns the wallet's last recorded sync point, if any.
func (d *DurableConnection) SelectSyncTime(ctx context.Context) (*SyncTime, error) {
	var t SyncTime
	err := d.Pool().QueryRow(ctx, "SELECT height, timestamp FROM wallet_sync_time WHERE id = 'wallet'").Scan(&t.Height, &t.Timestamp)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// SelectLastDerivationIndex returns the highest derived child index for a
// keychain, if any have been derived.
func (d *DurableConnection) SelectLastDerivationIndex(ctx context.Context, keychain string) (*uint32, error) {
	var v int64
	err := d.Pool().QueryRow(ctx, "SELECT value FROM last_derivation_indices WHERE keychain = $1", keychain).Scan(&v)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	out := uint32(v)
	return &out, nil
}

// SelectChecksum returns a keychain's stored descriptor checksum, if any,
// grounded on select_checksum_by_keychain / check_descriptor_checksum.
func (d *DurableConnection) SelectChecksum(ctx context.Context, keychain string) ([]byte, error) {
	var checksum []byte
	err := d.Pool().QueryRow(ctx, "SELECT checksum FROM wallet_checksums WHERE keychain = $1", keychain).Scan(&checksum)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return checksum, err
}

// InsertChecksum records a keychain's descriptor checksum the first time
// it's derived from.
func (d *DurableConnection) InsertChecksum(ctx context.Context, keychain string, checksum []byte) error {
	_, err := d.Pool().Exec(ctx,
		"UPSERT INTO wallet_checksums (keychain, checksum) VALUES ($1, $2)", keychain, checksum)
	return err
}
