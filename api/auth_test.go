package api

import (
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

func TestBakeAndAuthenticateRoundTrip(t *testing.T) {
	dir := t.TempDir()
	key, err := loadOrCreateRootKey(dir)
	if err != nil {
		t.Fatalf("loadOrCreateRootKey: %v", err)
	}
	auth := newMacaroonAuth(key)
	if err := auth.bake(dir, RoleReadonly); err != nil {
		t.Fatalf("bake: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "readonly.macaroon"))
	if err != nil {
		t.Fatalf("reading baked macaroon: %v", err)
	}
	raw := hex.EncodeToString(data)

	if err := auth.authenticate(raw, RoleReadonly); err != nil {
		t.Fatalf("readonly macaroon should satisfy readonly: %v", err)
	}
	if err := auth.authenticate(raw, RoleAdmin); err == nil {
		t.Fatalf("readonly macaroon should not satisfy admin")
	}
}

func TestAdminMacaroonSubsumesReadonly(t *testing.T) {
	dir := t.TempDir()
	key, err := loadOrCreateRootKey(dir)
	if err != nil {
		t.Fatalf("loadOrCreateRootKey: %v", err)
	}
	auth := newMacaroonAuth(key)
	if err := auth.bake(dir, RoleAdmin); err != nil {
		t.Fatalf("bake: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "admin.macaroon"))
	if err != nil {
		t.Fatalf("reading baked macaroon: %v", err)
	}
	raw := hex.EncodeToString(data)

	if err := auth.authenticate(raw, RoleReadonly); err != nil {
		t.Fatalf("admin macaroon should satisfy readonly: %v", err)
	}
	if err := auth.authenticate(raw, RoleAdmin); err != nil {
		t.Fatalf("admin macaroon should satisfy admin: %v", err)
	}
}

func TestAuthenticateRejectsWrongRootKey(t *testing.T) {
	dir := t.TempDir()
	key, err := loadOrCreateRootKey(dir)
	if err != nil {
		t.Fatalf("loadOrCreateRootKey: %v", err)
	}
	auth := newMacaroonAuth(key)
	if err := auth.bake(dir, RoleAdmin); err != nil {
		t.Fatalf("bake: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(dir, "admin.macaroon"))
	if err != nil {
		t.Fatalf("reading baked macaroon: %v", err)
	}
	raw := hex.EncodeToString(data)

	other := newMacaroonAuth([]byte("a-completely-different-root-key"))
	if err := other.authenticate(raw, RoleReadonly); err == nil {
		t.Fatalf("macaroon signed with a different root key must not verify")
	}
}

func TestAuthenticateRejectsMalformedEncoding(t *testing.T) {
	dir := t.TempDir()
	key, err := loadOrCreateRootKey(dir)
	if err != nil {
		t.Fatalf("loadOrCreateRootKey: %v", err)
	}
	auth := newMacaroonAuth(key)
	if err := auth.authenticate("not-hex-!!", RoleReadonly); err == nil {
		t.Fatalf("expected malformed encoding to be rejected")
	}
}

func TestGenerateMacaroonsIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	if err := GenerateMacaroons(dir); err != nil {
		t.Fatalf("GenerateMacaroons: %v", err)
	}
	admin1, err := os.ReadFile(filepath.Join(dir, "admin.macaroon"))
	if err != nil {
		t.Fatalf("reading admin.macaroon: %v", err)
	}
	if err := GenerateMacaroons(dir); err != nil {
		t.Fatalf("GenerateMacaroons (second run): %v", err)
	}
	admin2, err := os.ReadFile(filepath.Join(dir, "admin.macaroon"))
	if err != nil {
		t.Fatalf("reading admin.macaroon after second run: %v", err)
	}
	if string(admin1) != string(admin2) {
		t.Fatalf("GenerateMacaroons should not re-mint an existing macaroon")
	}
}

func TestMacaroonFromRequestChecksHeadersThenSubprotocol(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/v1/stream", nil)
	if got := macaroonFromRequest(r); got != "" {
		t.Fatalf("expected empty macaroon, got %q", got)
	}

	r.Header.Set("Grpc-Metadata-macaroon", "abcd")
	if got := macaroonFromRequest(r); got != "abcd" {
		t.Fatalf("expected abcd from Grpc-Metadata-macaroon, got %q", got)
	}

	r.Header.Set("macaroon", "ffff")
	if got := macaroonFromRequest(r); got != "ffff" {
		t.Fatalf("macaroon header should take priority, got %q", got)
	}

	r2 := httptest.NewRequest(http.MethodGet, "/v1/stream", nil)
	r2.Header.Set("Sec-WebSocket-Protocol", "macaroon.deadbeef, other")
	if got := macaroonFromRequest(r2); got != "deadbeef" {
		t.Fatalf("expected deadbeef from subprotocol, got %q", got)
	}
}
