package database

import (
	"context"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/kuutamolabs/kld/ln"
)

// InsertInvoice records a newly generated BOLT-11 invoice.
func (d *DurableConnection) InsertInvoice(ctx context.Context, inv ln.Invoice) error {
	now := time.Now().UTC()
	_, err := d.Pool().Exec(ctx,
		`INSERT INTO invoices (payment_hash, label, bolt11, amount_msat, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $6)`,
		inv.PaymentHash[:], labelOrEmpty(inv.Label), inv.Bolt11, inv.AmountMsat, int16(inv.Status), now,
	)
	return err
}

// MarkInvoicePaid flips an invoice to paid, recording when.
func (d *DurableConnection) MarkInvoicePaid(ctx context.Context, hash ln.PaymentHash, at time.Time) error {
	_, err := d.Pool().Exec(ctx,
		"UPDATE invoices SET status = $1, updated_at = $2 WHERE payment_hash = $3",
		int16(ln.InvoicePaid), at.UTC(), hash[:],
	)
	return err
}

// FetchInvoice loads a single invoice by payment hash.
func (d *DurableConnection) FetchInvoice(ctx context.Context, hash ln.PaymentHash) (*ln.Invoice, bool, error) {
	var inv ln.Invoice
	var label string
	var status int16
	err := d.Pool().QueryRow(ctx,
		"SELECT label, bolt11, amount_msat, status FROM invoices WHERE payment_hash = $1", hash[:],
	).Scan(&label, &inv.Bolt11, &inv.AmountMsat, &status)
	if err == pgx.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	inv.PaymentHash = hash
	inv.Status = ln.InvoiceStatus(status)
	if label != "" {
		inv.Label = &label
	}
	return &inv, true, nil
}

// FetchInvoiceByBolt11 loads a single invoice by its encoded string, used
// by pay_invoice to recover the hash/amount of an invoice this node
// itself generated.
func (d *DurableConnection) FetchInvoiceByBolt11(ctx context.Context, bolt11 string) (*ln.Invoice, bool, error) {
	var inv ln.Invoice
	var hash []byte
	var label string
	var status int16
	err := d.Pool().QueryRow(ctx,
		"SELECT payment_hash, label, amount_msat, status FROM invoices WHERE bolt11 = $1", bolt11,
	).Scan(&hash, &label, &inv.AmountMsat, &status)
	if err == pgx.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	copy(inv.PaymentHash[:], hash)
	inv.Bolt11 = bolt11
	inv.Status = ln.InvoiceStatus(status)
	if label != "" {
		inv.Label = &label
	}
	return &inv, true, nil
}

// ListInvoices returns every stored invoice.
func (d *DurableConnection) ListInvoices(ctx context.Context) ([]ln.Invoice, error) {
	rows, err := d.Pool().Query(ctx, "SELECT payment_hash, label, bolt11, amount_msat, status FROM invoices")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ln.Invoice
	for rows.Next() {
		var inv ln.Invoice
		var hash []byte
		var label string
		var status int16
		if err := rows.Scan(&hash, &label, &inv.Bolt11, &inv.AmountMsat, &status); err != nil {
			return nil, err
		}
		copy(inv.PaymentHash[:], hash)
		inv.Status = ln.InvoiceStatus(status)
		if label != "" {
			inv.Label = &label
		}
		out = append(out, inv)
	}
	return out, rows.Err()
}

func labelOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
