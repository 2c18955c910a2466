package database

import (
	"context"

	"github.com/kuutamolabs/kld/ln"
)

// InsertSpendableOutput records an output handed over by a
// SpendableOutputs event; it stays unspent until MarkOutputSpent.
func (d *DurableConnection) InsertSpendableOutput(ctx context.Context, o ln.SpendableOutput) error {
	_, err := d.Pool().Exec(ctx,
		"UPSERT INTO spendable_outputs (out_point, descriptor, amount_sat, spent) VALUES ($1, $2, $3, $4)",
		encodeOutpoint(o.Outpoint), o.Descriptor, o.ValueSat, o.Spent,
	)
	return err
}

// MarkOutputSpent flips an output to spent. The event handler calls it
// right after broadcasting the sweep transaction, without waiting for a
// confirmation.
func (d *DurableConnection) MarkOutputSpent(ctx context.Context, outpoint ln.FundingOutPoint) error {
	_, err := d.Pool().Exec(ctx,
		"UPDATE spendable_outputs SET spent = true WHERE out_point = $1", encodeOutpoint(outpoint))
	return err
}

// ListUnspentOutputs returns every output the wallet hasn't swept yet.
func (d *DurableConnection) ListUnspentOutputs(ctx context.Context) ([]ln.SpendableOutput, error) {
	rows, err := d.Pool().Query(ctx,
		"SELECT out_point, descriptor, amount_sat FROM spendable_outputs WHERE spent = false")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ln.SpendableOutput
	for rows.Next() {
		var o ln.SpendableOutput
		var op []byte
		if err := rows.Scan(&op, &o.Descriptor, &o.ValueSat); err != nil {
			return nil, err
		}
		outpoint, err := decodeOutpoint(op)
		if err != nil {
			return nil, err
		}
		o.Outpoint = outpoint
		out = append(out, o)
	}
	return out, rows.Err()
}
