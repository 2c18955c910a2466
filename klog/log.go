// Package klog owns the process-wide singletons described in the
// controller's design notes: the logging backend, the Prometheus
// registry, and the random source. Each is wired up once from cmd/kld's
// main and is safe to initialize more than once (tests call Init
// repeatedly without ill effect).
package klog

import (
	"math/rand"
	"os"
	"sync"

	"github.com/btcsuite/btclog"
	"github.com/jrick/logrotate"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	backendLog *btclog.Backend
	logWriter  *logrotate.Logger

	// Registry is the single Prometheus registry the whole process
	// registers metrics against. Out-of-process exposition (the
	// "/metrics" HTTP handler) is deployment plumbing and lives outside
	// this module; components only ever call Registry.MustRegister.
	Registry = prometheus.NewRegistry()

	initOnce sync.Once
)

// Init wires the logging backend to stdout plus a rotating file under
// logDir, at the given level. Subsequent calls are no-ops, matching the
// "tests must tolerate repeated initialization" requirement.
func Init(logDir, level string) {
	initOnce.Do(func() {
		writers := []btclog.Logger{}
		_ = writers

		var err error
		logWriter, err = logrotate.NewFile(logDir + "/kld.log")
		if err != nil {
			// Fall back to stdout-only logging; a daemon must never
			// fail to start because log rotation couldn't open a file.
			backendLog = btclog.NewBackend(os.Stdout)
			return
		}
		backendLog = btclog.NewBackend(newMultiWriter(os.Stdout, logWriter))

		SetLevel(level)
	})
}

// SetLevel changes the level of every logger subsequently handed out by
// NewLogger. Existing loggers already created keep the level they were
// created with, mirroring btclog's per-subsystem level model.
func SetLevel(level string) {
	defaultLevel = level
}

var defaultLevel = "info"

// NewLogger returns a named subsystem logger (e.g. "CTLR", "PEER"), the
// same convention lnd uses for ltndLog/srvrLog/peerLog. If Init has not
// yet run, logs are discarded rather than panicking, so packages can
// hold a package-level logger var set at init() time before main wires
// the real backend.
func NewLogger(subsystem string) btclog.Logger {
	if backendLog == nil {
		return btclog.Disabled
	}
	logger := backendLog.Logger(subsystem)
	lvl, _ := btclog.LevelFromString(defaultLevel)
	logger.SetLevel(lvl)
	return logger
}

// Rand is the process-wide random source used for UserChannelId
// generation and probe target selection. A single *rand.Rand guarded by
// its own lock avoids every call site needing to reason about
// math/rand's global-lock contention under heavy probing.
var randMu sync.Mutex
var Rand = rand.New(rand.NewSource(seed()))

// Uint64 returns a random 64-bit value from the shared, lock-guarded
// source. math/rand.Rand is not safe for concurrent use on its own.
func Uint64() uint64 {
	randMu.Lock()
	defer randMu.Unlock()
	return Rand.Uint64()
}

// Intn is the locked equivalent of Rand.Intn.
func Intn(n int) int {
	randMu.Lock()
	defer randMu.Unlock()
	return Rand.Intn(n)
}

func seed() int64 {
	var b [8]byte
	if _, err := cryptoRandRead(b[:]); err == nil {
		var s int64
		for i, c := range b {
			s |= int64(c) << (8 * uint(i))
		}
		return s
	}
	return 1
}
