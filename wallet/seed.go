package wallet

import (
	"crypto/rand"
	"fmt"
	"os"
)

// seedLen matches btcec's private-key/master-seed size (spec §4.7 calls
// this file "the mnemonic"; no BIP-39 wordlist codec is available
// anywhere in the retrieved dependency corpus, so this port stores the
// raw 32-byte seed the wordlist would otherwise encode — see DESIGN.md).
const seedLen = 32

// LoadOrCreateSeed reads the seed file at path, generating one with
// crypto/rand and writing it with owner-only permissions if absent.
func LoadOrCreateSeed(path string) ([]byte, error) {
	seed, err := os.ReadFile(path)
	if err == nil {
		if len(seed) != seedLen {
			return nil, fmt.Errorf("seed file %s has %d bytes, want %d", path, len(seed), seedLen)
		}
		return seed, nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("reading seed file %s: %w", path, err)
	}

	seed = make([]byte, seedLen)
	if _, err := rand.Read(seed); err != nil {
		return nil, fmt.Errorf("generating seed: %w", err)
	}
	if err := os.WriteFile(path, seed, 0o600); err != nil {
		return nil, fmt.Errorf("writing seed file %s: %w", path, err)
	}
	return seed, nil
}
