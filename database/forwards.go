package database

import (
	"context"
	"time"

	"github.com/kuutamolabs/kld/ln"
)

// InsertForward records a single HTLC forward accounting row, grounded on
// the PaymentForwarded/HTLCHandlingFailed events from spec §4.4.
func (d *DurableConnection) InsertForward(ctx context.Context, f ln.ForwardRecord) error {
	ts := f.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	var outboundChannel []byte
	if f.OutboundChannelId != nil {
		outboundChannel = f.OutboundChannelId[:]
	}
	var htlcDest []byte
	if f.HTLCDestination != nil {
		htlcDest = f.HTLCDestination[:]
	}
	_, err := d.Pool().Exec(ctx,
		`INSERT INTO forwards (inbound_channel, outbound_channel, amount_msat, fee_msat, status, htlc_destination, timestamp)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		f.InboundChannelId[:], outboundChannel, f.AmountMsat, f.FeeMsat, int16(f.Status), htlcDest, ts.UTC(),
	)
	return err
}

// ListForwards returns every recorded forward in insertion order.
func (d *DurableConnection) ListForwards(ctx context.Context) ([]ln.ForwardRecord, error) {
	rows, err := d.Pool().Query(ctx,
		"SELECT id, inbound_channel, outbound_channel, amount_msat, fee_msat, status, htlc_destination, timestamp FROM forwards ORDER BY id ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ln.ForwardRecord
	for rows.Next() {
		var f ln.ForwardRecord
		var inbound, outbound, htlcDest []byte
		if err := rows.Scan(&f.Id, &inbound, &outbound, &f.AmountMsat, &f.FeeMsat, &f.Status, &htlcDest, &f.Timestamp); err != nil {
			return nil, err
		}
		copy(f.InboundChannelId[:], inbound)
		if outbound != nil {
			var id ln.ChannelId
			copy(id[:], outbound)
			f.OutboundChannelId = &id
		}
		if htlcDest != nil {
			var n ln.NodeId
			copy(n[:], htlcDest)
			f.HTLCDestination = &n
		}
		out = append(out, f)
	}
	return out, rows.Err()
}
