// Package api implements spec §6's REST management surface: a macaroon-
// authenticated HTTPS server under /v1/*, a websocket streaming endpoint,
// and errs-taxonomy error translation to HTTP status codes. Grounded on
// rpcserver.go's request-validation-then-delegate shape, generalized from
// gRPC handlers to net/http handlers since no gRPC/protobuf toolchain is
// available to regenerate lnrpc's generated stubs against this port's
// domain types.
package api

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	macaroon "gopkg.in/macaroon.v2"
)

// Role is a macaroon caveat identifying what an API caller may do.
// Admin subsumes readonly, per spec §6.
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleReadonly Role = "readonly"
)

const roleCaveatPrefix = "role="

// macaroonAuth mints and verifies the two role macaroons this daemon
// recognizes. It deliberately does not use macaroon-bakery's Service/
// Oven/third-party-discharge machinery: nothing in the retrieved
// reference material calls that API, so its constructor signatures can't
// be checked, and the two-role model spec §6 describes needs nothing
// beyond a single first-party caveat. gopkg.in/macaroon.v2's Macaroon
// type alone (New/AddFirstPartyCaveat/Verify/MarshalBinary) is sufficient
// and is confirmed in use elsewhere in the retrieved pack (cmd/lncli's
// Macaroon.UnmarshalBinary call).
type macaroonAuth struct {
	rootKey []byte
}

func newMacaroonAuth(rootKey []byte) *macaroonAuth {
	return &macaroonAuth{rootKey: rootKey}
}

// loadOrCreateRootKey reads dir/macaroons.key, generating a fresh 32-byte
// key on first run (analogous to spec §6's "macaroons sub-directory").
func loadOrCreateRootKey(dir string) ([]byte, error) {
	path := filepath.Join(dir, "macaroons.key")
	if data, err := os.ReadFile(path); err == nil {
		return data, nil
	}

	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generating macaroon root key: %w", err)
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("creating macaroons directory: %w", err)
	}
	if err := os.WriteFile(path, key, 0600); err != nil {
		return nil, fmt.Errorf("persisting macaroon root key: %w", err)
	}
	return key, nil
}

// bake mints a macaroon bound to role, persisting it to dir/<role>.macaroon.
func (a *macaroonAuth) bake(dir string, role Role) error {
	m, err := macaroon.New(a.rootKey, []byte(role), "kld", macaroon.V2)
	if err != nil {
		return fmt.Errorf("minting %s macaroon: %w", role, err)
	}
	if err := m.AddFirstPartyCaveat([]byte(roleCaveatPrefix + string(role))); err != nil {
		return fmt.Errorf("adding role caveat to %s macaroon: %w", role, err)
	}

	data, err := m.MarshalBinary()
	if err != nil {
		return fmt.Errorf("marshaling %s macaroon: %w", role, err)
	}
	path := filepath.Join(dir, string(role)+".macaroon")
	return os.WriteFile(path, data, 0600)
}

// GenerateMacaroons writes admin.macaroon and readonly.macaroon into dir
// if they don't already exist, per spec §6.
func GenerateMacaroons(dir string) error {
	key, err := loadOrCreateRootKey(dir)
	if err != nil {
		return err
	}
	a := newMacaroonAuth(key)

	for _, role := range []Role{RoleAdmin, RoleReadonly} {
		path := filepath.Join(dir, string(role)+".macaroon")
		if _, err := os.Stat(path); err == nil {
			continue
		}
		if err := a.bake(dir, role); err != nil {
			return err
		}
	}
	return nil
}

// authenticate verifies raw (a hex-encoded serialized macaroon) grants at
// least minRole, admin subsuming readonly.
func (a *macaroonAuth) authenticate(raw string, minRole Role) error {
	data, err := hex.DecodeString(raw)
	if err != nil {
		return fmt.Errorf("malformed macaroon encoding")
	}
	m := &macaroon.Macaroon{}
	if err := m.UnmarshalBinary(data); err != nil {
		return fmt.Errorf("malformed macaroon")
	}

	var grantedRole Role
	check := func(caveat string) error {
		if len(caveat) > len(roleCaveatPrefix) && caveat[:len(roleCaveatPrefix)] == roleCaveatPrefix {
			grantedRole = Role(caveat[len(roleCaveatPrefix):])
			return nil
		}
		return fmt.Errorf("unrecognized caveat %q", caveat)
	}
	if err := m.Verify(a.rootKey, check, nil); err != nil {
		return fmt.Errorf("macaroon verification failed: %w", err)
	}

	if minRole == RoleReadonly && (grantedRole == RoleReadonly || grantedRole == RoleAdmin) {
		return nil
	}
	if minRole == RoleAdmin && grantedRole == RoleAdmin {
		return nil
	}
	return fmt.Errorf("macaroon grants %q, need %q", grantedRole, minRole)
}

// macaroonFromRequest extracts the hex-encoded macaroon from the headers
// spec §6 names, or from the "macaroon" websocket sub-protocol token.
func macaroonFromRequest(r *http.Request) string {
	if v := r.Header.Get("macaroon"); v != "" {
		return v
	}
	if v := r.Header.Get("Grpc-Metadata-macaroon"); v != "" {
		return v
	}
	for _, proto := range websocketSubprotocols(r) {
		if len(proto) > len("macaroon.") && proto[:len("macaroon.")] == "macaroon." {
			return proto[len("macaroon."):]
		}
	}
	return ""
}

func websocketSubprotocols(r *http.Request) []string {
	return splitComma(r.Header.Get("Sec-WebSocket-Protocol"))
}

func splitComma(s string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			field := trimSpace(s[start:i])
			if field != "" {
				out = append(out, field)
			}
			start = i + 1
		}
	}
	return out
}

func trimSpace(s string) string {
	for len(s) > 0 && s[0] == ' ' {
		s = s[1:]
	}
	for len(s) > 0 && s[len(s)-1] == ' ' {
		s = s[:len(s)-1]
	}
	return s
}
