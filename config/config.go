// Package config parses the daemon's settings, grounded on lnd's
// config.go convention of a single flat option struct decoded by
// go-flags from both the command line and an ini file, with a
// validation pass run once at startup (this is where, e.g., an
// over-length node alias is rejected per spec §4.3/§8).
package config

import (
	"fmt"
	"os"
	"path/filepath"

	flags "github.com/jessevdk/go-flags"
)

// MaxAliasBytes is the wire-format limit on a node's advertised alias.
const MaxAliasBytes = 32

// BitcoinConfig groups the chain-backend RPC settings (spec §6).
type BitcoinConfig struct {
	RPCHost       string `long:"rpc-host" description:"bitcoind RPC host"`
	RPCPort       uint16 `long:"rpc-port" default:"8332" description:"bitcoind RPC port"`
	CookiePath    string `long:"cookie-path" description:"path to bitcoind's .cookie file"`
	Network       string `long:"network" default:"mainnet" description:"mainnet,testnet,regtest,signet"`
}

// DatabaseConfig groups the CockroachDB/Postgres-wire connection
// settings, including the mutual-TLS trio from original_source's
// mgr/src/certs/cockroachdb.rs.
type DatabaseConfig struct {
	Host     string `long:"db-host" description:"database host"`
	Port     uint16 `long:"db-port" default:"26257" description:"database port"`
	Name     string `long:"db-name" default:"kld" description:"database name"`
	User     string `long:"db-user" default:"kld" description:"database user"`
	CACert   string `long:"db-ca-cert" description:"path to ca.crt"`
	ClientCert string `long:"db-client-cert" description:"path to client.crt"`
	ClientKey  string `long:"db-client-key" description:"path to client.key"`
}

// ProbeConfig groups the background-probing parameters (spec §4.9).
type ProbeConfig struct {
	IntervalSeconds uint32   `long:"probe-interval" default:"0" description:"seconds between probes; 0 disables probing"`
	AmountMsat      uint64   `long:"probe-amount-msat" default:"0" description:"probe amount in msat; 0 disables probing"`
	Targets         []string `long:"probe-target" description:"hex pubkey of a probe target; may be repeated"`
}

// TorConfig groups optional Tor-control settings for automatic v2 onion
// service creation; ControlAddr left empty disables Tor entirely.
type TorConfig struct {
	ControlAddr string `long:"tor-control" description:"Tor control port address, e.g. 127.0.0.1:9051"`
	V2KeyPath   string `long:"tor-v2-key-path" description:"path to persist the onion service's v2 private key"`
}

// Settings is the full set of keys recognized by the daemon (spec §6).
type Settings struct {
	DataDir       string `long:"data-dir" description:"directory for the mnemonic, macaroons and network-graph file"`
	CertsDir      string `long:"certs-dir" description:"directory for REST/DB TLS material"`
	MnemonicPath  string `long:"mnemonic-path" description:"path to the wallet seed file (raw 32-byte seed, not a BIP-39 word list); generated if absent; defaults to <data-dir>/wallet_seed"`
	NodeAlias     string `long:"alias" description:"advertised node alias, max 32 bytes"`
	NodeAliasColor string `long:"color" default:"000000" description:"advertised rgb node color"`
	PeerPort      uint16 `long:"peer-port" default:"9735" description:"Lightning peer listen port"`
	Addresses     []string `long:"address" description:"advertised peer address; may be repeated"`
	ExporterAddress string `long:"exporter-address" description:"Prometheus exporter bind address"`
	RestAPIAddress  string `long:"rest-api-address" default:"127.0.0.1:2244" description:"REST management API bind address"`
	ShutdownGraceSeconds uint32 `long:"shutdown-grace-seconds" default:"30" description:"grace period for in-flight probes on shutdown"`
	LogLevel      string `long:"log-level" default:"info" description:"logging level"`

	Bitcoin  BitcoinConfig
	Database DatabaseConfig
	Probe    ProbeConfig
	Tor      TorConfig
}

// Load parses args (typically os.Args[1:]) and applies Validate.
func Load(args []string) (*Settings, error) {
	s := &Settings{}
	parser := flags.NewParser(s, flags.Default)
	if _, err := parser.ParseArgs(args); err != nil {
		return nil, err
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Validate enforces the configuration-time invariants spec §4.3/§8 call
// out explicitly: an alias longer than 32 bytes is a startup error, not
// something silently truncated.
func (s *Settings) Validate() error {
	if len(s.NodeAlias) > MaxAliasBytes {
		return fmt.Errorf("node alias %q exceeds %d bytes", s.NodeAlias, MaxAliasBytes)
	}
	if s.DataDir == "" {
		return fmt.Errorf("data-dir is required")
	}
	if err := os.MkdirAll(s.DataDir, 0700); err != nil {
		return fmt.Errorf("creating data dir: %w", err)
	}
	return nil
}

// PaddedAlias returns the alias zero-padded to 32 bytes, the wire
// representation node announcements use (spec §4.3).
func (s *Settings) PaddedAlias() [32]byte {
	var out [32]byte
	copy(out[:], s.NodeAlias)
	return out
}

func (s *Settings) MacaroonsDir() string {
	return filepath.Join(s.DataDir, "macaroons")
}

func (s *Settings) NetworkGraphPath() string {
	return filepath.Join(s.DataDir, "network_graph.db")
}
