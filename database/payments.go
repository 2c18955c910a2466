package database

import (
	"context"
	"time"

	"github.com/kuutamolabs/kld/ln"
)

// InsertPayment records a new payment attempt, keyed by PaymentId so
// retries at the same PaymentHash get distinct rows (spec §3).
func (d *DurableConnection) InsertPayment(ctx context.Context, p ln.Payment) error {
	_, err := d.Pool().Exec(ctx,
		`INSERT INTO payments (payment_id, payment_hash, preimage, secret, direction, status, amount_msat, fee_msat, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)`,
		p.PaymentId[:], p.Hash[:], preimageOrNil(p.Preimage), secretOrNil(p.Secret),
		int16(p.Direction), int16(p.Status), p.AmountMsat, p.FeeMsat, p.Timestamp.UTC(),
	)
	return err
}

// UpdatePaymentStatus flips a payment's status, optionally attaching its
// preimage once settled.
func (d *DurableConnection) UpdatePaymentStatus(ctx context.Context, id ln.PaymentId, status ln.PaymentStatus, preimage *ln.PaymentPreimage) error {
	_, err := d.Pool().Exec(ctx,
		"UPDATE payments SET status = $1, preimage = $2, updated_at = $3 WHERE payment_id = $4",
		int16(status), preimageOrNil(preimage), time.Now().UTC(), id[:],
	)
	return err
}

// ListPayments returns every stored payment attempt.
func (d *DurableConnection) ListPayments(ctx context.Context) ([]ln.Payment, error) {
	rows, err := d.Pool().Query(ctx,
		"SELECT payment_id, payment_hash, preimage, secret, direction, status, amount_msat, fee_msat, created_at FROM payments")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ln.Payment
	for rows.Next() {
		var p ln.Payment
		var id, hash []byte
		var preimage, secret []byte
		var direction, status int16
		if err := rows.Scan(&id, &hash, &preimage, &secret, &direction, &status, &p.AmountMsat, &p.FeeMsat, &p.Timestamp); err != nil {
			return nil, err
		}
		copy(p.PaymentId[:], id)
		copy(p.Hash[:], hash)
		if preimage != nil {
			var v ln.PaymentPreimage
			copy(v[:], preimage)
			p.Preimage = &v
		}
		if secret != nil {
			var v ln.PaymentSecret
			copy(v[:], secret)
			p.Secret = &v
		}
		p.Direction = ln.PaymentDirection(direction)
		p.Status = ln.PaymentStatus(status)
		out = append(out, p)
	}
	return out, rows.Err()
}

func preimageOrNil(p *ln.PaymentPreimage) []byte {
	if p == nil {
		return nil
	}
	return p[:]
}

func secretOrNil(s *ln.PaymentSecret) []byte {
	if s == nil {
		return nil
	}
	return s[:]
}
