// Package database implements the Postgres/CockroachDB-backed persistence
// layer from spec §4.5/§4.6, plus the bolt-backed network-graph file
// persister. It is grounded on original_source/kld/src/database/mod.rs's
// DurableConnection (reconnect-on-is_closed polling) and on channeldb's
// Open/migration-version pattern for the embedded-migration wiring.
package database

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/kuutamolabs/kld/config"
	"github.com/kuutamolabs/kld/klog"
)

var log = klog.NewLogger("DATB")

// reconnectPoll is how often the keep-connected loop checks for a dropped
// connection pool, matching DurableConnection::keep_connected's 2s cadence.
const reconnectPoll = 2 * time.Second

// DurableConnection holds a reconnecting pgx pool behind a RWMutex so
// readers never observe a half-replaced pool, mirroring the Rust
// Arc<AsyncRwLock<Client>> wrapper it's grounded on.
type DurableConnection struct {
	mu     sync.RWMutex
	pool   *pgxpool.Pool
	cfg    config.DatabaseConfig
	quit   chan struct{}
	closed chan struct{}
}

// Connect blocks until a first connection succeeds, since the daemon
// cannot start without its database (mod.rs: "wait here").
func Connect(ctx context.Context, cfg config.DatabaseConfig) (*DurableConnection, error) {
	dc := &DurableConnection{cfg: cfg, quit: make(chan struct{}), closed: make(chan struct{})}
	for {
		pool, err := dial(ctx, cfg)
		if err == nil {
			dc.pool = pool
			break
		}
		log.Errorf("connecting to database %s: %v", cfg.Name, err)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(reconnectPoll):
		}
	}
	log.Infof("running database migrations for %s", cfg.Name)
	if err := RunMigrations(cfg); err != nil {
		dc.pool.Close()
		return nil, err
	}
	go dc.keepConnected()
	return dc, nil
}

func dial(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s dbname=%s sslmode=verify-full sslrootcert=%s sslcert=%s sslkey=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Name, cfg.CACert, cfg.ClientCert, cfg.ClientKey,
	)
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.ConnectConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("cannot connect to database (host=%s port=%d dbname=%s): %w",
			cfg.Host, cfg.Port, cfg.Name, err)
	}
	return pool, nil
}

// Pool returns the current connection pool no matter what state it is in;
// callers observe errors from individual queries, matching DurableConnection::get.
func (d *DurableConnection) Pool() *pgxpool.Pool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.pool
}

func (d *DurableConnection) keepConnected() {
	ticker := time.NewTicker(reconnectPoll)
	defer ticker.Stop()
	defer close(d.closed)
	for {
		select {
		case <-d.quit:
			return
		case <-ticker.C:
			d.mu.RLock()
			dead := d.pool == nil || d.pool.Stat().TotalConns() == 0 && d.poolIsClosed()
			d.mu.RUnlock()
			if !dead {
				continue
			}
			pool, err := dial(context.Background(), d.cfg)
			if err != nil {
				log.Errorf("reconnecting to database: %v", err)
				continue
			}
			d.mu.Lock()
			old := d.pool
			d.pool = pool
			d.mu.Unlock()
			if old != nil {
				old.Close()
			}
			log.Infof("reconnected to database %s", d.cfg.Name)
		}
	}
}

// poolIsClosed probes the pool with a lightweight ping; pgxpool has no
// direct is_closed() equivalent so a failing Ping stands in for it.
func (d *DurableConnection) poolIsClosed() bool {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	return d.pool.Ping(ctx) != nil
}

// IsConnected reports whether the current pool answers a ping.
func (d *DurableConnection) IsConnected() bool {
	return !d.poolIsClosed()
}

// Disconnect stops the reconnect loop and closes the pool, mirroring
// DurableConnection's Drop impl.
func (d *DurableConnection) Disconnect() {
	close(d.quit)
	<-d.closed
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pool != nil {
		d.pool.Close()
	}
}

// OpenChannelCount returns the number of channels with no recorded close
// timestamp.
func (d *DurableConnection) OpenChannelCount(ctx context.Context) (int64, error) {
	var count int64
	err := d.Pool().QueryRow(ctx, "SELECT COUNT(*) FROM channels WHERE close_timestamp IS NULL").Scan(&count)
	return count, err
}

// IsUniqueViolation reports whether err is a Postgres unique-constraint
// violation (SQLSTATE 23505).
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

var _ = pgx.ErrNoRows
