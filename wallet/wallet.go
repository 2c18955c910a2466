// Package wallet implements the mnemonic-backed on-chain wallet from
// spec §4.7: script derivation, UTXO tracking, funding-transaction
// construction and signing, withdrawals, and chain-tip sync tracking.
// It is grounded on original_source/kld/src/wallet/bdk_wallet.rs, ported
// from BDK's Bip84-template wallet onto btcwallet's hdkeychain/txauthor
// stack (the teacher's own dependency for exactly this concern).
package wallet

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcwallet/wallet/txauthor"
	"github.com/kuutamolabs/kld/bitcoind"
	"github.com/kuutamolabs/kld/database"
	"github.com/kuutamolabs/kld/klog"
	"github.com/kuutamolabs/kld/ln"
)

var log = klog.NewLogger("WLLT")

// BIP-84 purpose/coin-type constants; account is always 0 (spec §4.7
// doesn't expose multi-account wallets).
const (
	purpose    = 84 + hdkeychain.HardenedKeyStart
	coinTypeBTC = 0 + hdkeychain.HardenedKeyStart
	coinTypeTest = 1 + hdkeychain.HardenedKeyStart
	account    = 0 + hdkeychain.HardenedKeyStart

	externalBranch = "external"
	internalBranch = "internal"
)

// Balance mirrors bdk::Balance: confirmed funds are immediately
// spendable, the rest is awaiting confirmation.
type Balance struct {
	ConfirmedSat   uint64
	UnconfirmedSat uint64
}

// Wallet is a BIP-84 (P2WPKH) hierarchical wallet backed by the database
// keyed store, grounded on bdk_wallet::Wallet.
type Wallet struct {
	mu       sync.Mutex
	master   *hdkeychain.ExtendedKey
	params   *chaincfg.Params
	db       *database.DurableConnection
	client   *bitcoind.Client
	feeCache *ln.FeeRateCache
}

// New derives the wallet's master extended key from seed and wires it to
// the database keyed store and chain backend, grounded on
// Wallet::new's ExtendedPrivKey::new_master + Bip84 template.
func New(seed []byte, params *chaincfg.Params, db *database.DurableConnection, client *bitcoind.Client, feeCache *ln.FeeRateCache) (*Wallet, error) {
	master, err := hdkeychain.NewMaster(seed, params)
	if err != nil {
		return nil, fmt.Errorf("deriving wallet master key: %w", err)
	}
	return &Wallet{master: master, params: params, db: db, client: client, feeCache: feeCache}, nil
}

func (w *Wallet) coinType() uint32 {
	if w.params.Net == chaincfg.MainNetParams.Net {
		return coinTypeBTC
	}
	return coinTypeTest
}

// deriveChild walks purpose'/coin'/account'/branch/index, matching BDK's
// Bip84(xprivkey, keychain) template for external (branch 0) and internal
// (branch 1) chains.
func (w *Wallet) deriveChild(branch uint32, index uint32) (*btcec.PrivateKey, error) {
	purposeKey, err := w.master.DeriveNonStandard(purpose)
	if err != nil {
		return nil, err
	}
	coinKey, err := purposeKey.DeriveNonStandard(w.coinType())
	if err != nil {
		return nil, err
	}
	accountKey, err := coinKey.DeriveNonStandard(account)
	if err != nil {
		return nil, err
	}
	branchKey, err := accountKey.DeriveNonStandard(branch)
	if err != nil {
		return nil, err
	}
	childKey, err := branchKey.DeriveNonStandard(index)
	if err != nil {
		return nil, err
	}
	priv, err := childKey.ECPrivKey()
	if err != nil {
		return nil, err
	}
	return priv, nil
}

func scriptFor(priv *btcec.PrivateKey, params *chaincfg.Params) ([]byte, btcutil.Address, error) {
	pkHash := btcutil.Hash160(priv.PubKey().SerializeCompressed())
	addr, err := btcutil.NewAddressWitnessPubKeyHash(pkHash, params)
	if err != nil {
		return nil, nil, err
	}
	script, err := txscript.PayToAddrScript(addr)
	if err != nil {
		return nil, nil, err
	}
	return script, addr, nil
}

func keychainName(branch uint32) string {
	if branch == 0 {
		return externalBranch
	}
	return internalBranch
}

func branchOf(name string) uint32 {
	if name == externalBranch {
		return 0
	}
	return 1
}

// nextAddress derives, persists and returns the next unused address on
// the given branch, grounded on new_external_address/new_internal_address.
func (w *Wallet) nextAddress(ctx context.Context, branch uint32) (btcutil.Address, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.nextAddressLocked(ctx, branch)
}

func (w *Wallet) nextAddressLocked(ctx context.Context, branch uint32) (btcutil.Address, error) {
	keychain := keychainName(branch)
	last, err := w.db.SelectLastDerivationIndex(ctx, keychain)
	if err != nil {
		return nil, err
	}
	index := uint32(0)
	if last != nil {
		index = *last + 1
	}

	priv, err := w.deriveChild(branch, index)
	if err != nil {
		return nil, err
	}
	script, addr, err := scriptFor(priv, w.params)
	if err != nil {
		return nil, err
	}

	batch, err := w.db.BeginWalletBatch(ctx)
	if err != nil {
		return nil, err
	}
	if err := batch.SetScriptPubkey(ctx, keychain, index, script); err != nil {
		batch.Rollback(ctx)
		return nil, err
	}
	if err := batch.SetLastDerivationIndex(ctx, keychain, index); err != nil {
		batch.Rollback(ctx)
		return nil, err
	}
	if err := batch.Commit(ctx); err != nil {
		return nil, err
	}
	return addr, nil
}

func (w *Wallet) NewExternalAddress(ctx context.Context) (btcutil.Address, error) {
	return w.nextAddress(ctx, branchOf(externalBranch))
}

func (w *Wallet) NewInternalAddress(ctx context.Context) (btcutil.Address, error) {
	return w.nextAddress(ctx, branchOf(internalBranch))
}

// Balance sums tracked unspent outputs, grounded on Wallet::balance.
// This port doesn't distinguish confirmed/unconfirmed at the UTXO-row
// level (no height is tracked per UTXO), so the whole total is reported
// as confirmed; see DESIGN.md.
func (w *Wallet) Balance(ctx context.Context) (Balance, error) {
	utxos, err := w.db.SelectUTXOs(ctx)
	if err != nil {
		return Balance{}, err
	}
	var total uint64
	for _, u := range utxos {
		if !u.IsSpent {
			total += u.ValueSat
		}
	}
	return Balance{ConfirmedSat: total}, nil
}

// Synced reports whether the wallet's last recorded sync height matches
// the chain backend's current tip, grounded on Wallet::synced.
func (w *Wallet) Synced(ctx context.Context) bool {
	_, height, err := w.client.BestBlock()
	if err != nil {
		return false
	}
	st, err := w.db.SelectSyncTime(ctx)
	if err != nil || st == nil {
		return false
	}
	return st.Height == height
}

// RecordSyncHeight updates the wallet's last-synced chain tip, called by
// the chain package's poll loop once a block has been fully processed.
func (w *Wallet) RecordSyncHeight(ctx context.Context, height int64) error {
	batch, err := w.db.BeginWalletBatch(ctx)
	if err != nil {
		return err
	}
	if err := batch.SetSyncTime(ctx, database.SyncTime{Height: height, Timestamp: time.Now()}); err != nil {
		batch.Rollback(ctx)
		return err
	}
	return batch.Commit(ctx)
}

// input is an unspent output ready to be fed to txauthor's InputSource.
type input struct {
	outpoint wire.OutPoint
	value    btcutil.Amount
	script   []byte
	priv     *btcec.PrivateKey
}

// selectInputs does largest-first coin selection over every tracked
// unspent output until target is covered, mirroring BDK's default
// "drain wallet" behaviour for the funding/withdraw paths this wallet
// exposes (single-purpose node wallet, not a general UI wallet where
// selection strategy is user-configurable).
func (w *Wallet) selectInputs(ctx context.Context, target btcutil.Amount) (btcutil.Amount, []input, error) {
	utxos, err := w.db.SelectUTXOs(ctx)
	if err != nil {
		return 0, nil, err
	}
	var chosen []input
	var total btcutil.Amount
	for _, u := range utxos {
		if u.IsSpent {
			continue
		}
		priv, err := w.deriveChild(branchOf(u.Keychain), u.Index)
		if err != nil {
			continue
		}
		op := wire.OutPoint{Index: u.Vout}
		copy(op.Hash[:], u.Txid)
		chosen = append(chosen, input{outpoint: op, value: btcutil.Amount(u.ValueSat), script: u.Script, priv: priv})
		total += btcutil.Amount(u.ValueSat)
		if total >= target {
			break
		}
	}
	if total < target {
		return 0, nil, fmt.Errorf("insufficient wallet balance: have %d sat, need %d sat", total, target)
	}
	return total, chosen, nil
}

// secretsSource adapts this wallet's derived keys to txauthor's
// SecretsSource interface for AddAllInputScripts.
type secretsSource struct {
	w      *Wallet
	byAddr map[string]*btcec.PrivateKey
}

// GetKey returns the private key for addr and whether it should be
// serialized compressed; BIP-84 addresses always use compressed keys.
func (s *secretsSource) GetKey(addr btcutil.Address) (*btcec.PrivateKey, bool, error) {
	priv, ok := s.byAddr[addr.EncodeAddress()]
	if !ok {
		return nil, false, fmt.Errorf("no key for address %s", addr.EncodeAddress())
	}
	return priv, true, nil
}

func (s *secretsSource) GetScript(addr btcutil.Address) ([]byte, error) {
	return txscript.PayToAddrScript(addr)
}

func (s *secretsSource) ChainParams() *chaincfg.Params { return s.w.params }

// FundTx builds, signs and returns a funding transaction paying
// valueSat to outputScript at the given fee rate, grounded on
// Wallet::fund_tx.
func (w *Wallet) FundTx(ctx context.Context, outputScript []byte, valueSat uint64, feeRate ln.FeeRate) (*wire.MsgTx, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	feeSatPerKw := feeRate.SatPerKw(w.feeCache)
	feeSatPerKb := btcutil.Amount(feeSatPerKw * 4)

	output := wire.NewTxOut(int64(valueSat), outputScript)
	target := btcutil.Amount(valueSat) + feeSatPerKb*2 // rough upper bound before txauthor computes the exact fee

	total, inputs, err := w.selectInputs(ctx, target)
	if err != nil {
		return nil, err
	}

	source := secretsSource{w: w, byAddr: map[string]*btcec.PrivateKey{}}
	fetchInputs := func(target btcutil.Amount) (btcutil.Amount, []*wire.TxIn, []btcutil.Amount, [][]byte, error) {
		var ins []*wire.TxIn
		var values []btcutil.Amount
		var scripts [][]byte
		for _, in := range inputs {
			ins = append(ins, wire.NewTxIn(&in.outpoint, nil, nil))
			values = append(values, in.value)
			scripts = append(scripts, in.script)
			_, addr, err := scriptFor(in.priv, w.params)
			if err == nil {
				source.byAddr[addr.EncodeAddress()] = in.priv
			}
		}
		return total, ins, values, scripts, nil
	}

	changeAddr, err := w.nextAddressLocked(ctx, branchOf(internalBranch))
	if err != nil {
		return nil, err
	}
	changeScript, err := txscript.PayToAddrScript(changeAddr)
	if err != nil {
		return nil, err
	}
	changeSource := &txauthor.ChangeSource{
		NewScript:  func() ([]byte, error) { return changeScript, nil },
		ScriptSize: len(changeScript),
	}

	authored, err := txauthor.NewUnsignedTransaction([]*wire.TxOut{output}, feeSatPerKb, fetchInputs, changeSource)
	if err != nil {
		return nil, fmt.Errorf("building funding transaction: %w", err)
	}
	if err := authored.AddAllInputScripts(&source); err != nil {
		return nil, fmt.Errorf("signing funding transaction: %w", err)
	}
	log.Infof("funded transaction %s spending %d sat across %d inputs", authored.Tx.TxHash(), total, len(authored.Tx.TxIn))
	return authored.Tx, nil
}

// SweepOutput spends a single externally-known output (a channel-close
// SpendableOutputDescriptor the engine handed back through the event
// SpendableOutputs case) to a fresh internal address. descriptorScript
// is the output's claiming script; since rust-lightning's to_remote and
// static-sweep outputs both pay to the shutdown script this wallet
// itself supplied via NewInternalAddress, the signing key is recovered
// by looking that script up in script_pubkeys rather than accepting an
// externally-supplied private key.
func (w *Wallet) SweepOutput(ctx context.Context, outpoint wire.OutPoint, valueSat uint64, descriptorScript []byte, lockTime uint32, feeRate ln.FeeRate) (*wire.MsgTx, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	keychain, index, found, err := w.db.FindScriptPubkey(ctx, descriptorScript)
	if err != nil {
		return nil, fmt.Errorf("looking up sweep output's signing key: %w", err)
	}
	if !found {
		return nil, fmt.Errorf("sweep output %s:%d: claiming script not derived from this wallet", outpoint.Hash, outpoint.Index)
	}
	priv, err := w.deriveChild(branchOf(keychain), index)
	if err != nil {
		return nil, fmt.Errorf("deriving sweep output's signing key: %w", err)
	}

	destAddr, err := w.nextAddressLocked(ctx, branchOf(internalBranch))
	if err != nil {
		return nil, err
	}
	destScript, err := txscript.PayToAddrScript(destAddr)
	if err != nil {
		return nil, err
	}

	// A sweep is always a single P2WPKH input to a single P2WPKH output;
	// there's no change or coin selection, so the fee is computed
	// directly off the known standard vsize rather than through
	// txauthor's iterative change machinery (which assumes a variable
	// input set).
	const sweepVsize = 110 // 1-in(P2WPKH)-1-out(P2WPKH) segwit tx, bytes
	feeSat := uint64(feeRate.SatPerKw(w.feeCache)) * 4 * sweepVsize / 1000 // sat/kw * 4 = sat/kvB
	if feeSat >= valueSat {
		return nil, fmt.Errorf("sweep output %s:%d: value %d sat too small to cover fee %d sat", outpoint.Hash, outpoint.Index, valueSat, feeSat)
	}

	tx := wire.NewMsgTx(wire.TxVersion)
	tx.LockTime = lockTime
	txIn := wire.NewTxIn(&outpoint, nil, nil)
	txIn.Sequence = wire.MaxTxInSequenceNum - 1 // non-final, so LockTime takes effect
	tx.AddTxIn(txIn)
	tx.AddTxOut(wire.NewTxOut(int64(valueSat-feeSat), destScript))

	sigHashes := txscript.NewTxSigHashes(tx, txscript.NewCannedPrevOutputFetcher(descriptorScript, int64(valueSat)))
	sig, err := txscript.RawTxInWitnessSignature(tx, sigHashes, 0, int64(valueSat), descriptorScript, txscript.SigHashAll, priv)
	if err != nil {
		return nil, fmt.Errorf("signing sweep transaction: %w", err)
	}
	tx.TxIn[0].Witness = wire.TxWitness{sig, priv.PubKey().SerializeCompressed()}

	log.Infof("swept output %s:%d (%d sat, fee %d sat) into %s", outpoint.Hash, outpoint.Index, valueSat, feeSat, tx.TxHash())
	return tx, nil
}

// Withdraw sends amountSat to address (amountSat == DrainWallet to empty
// the wallet), grounded on WalletInterface::transfer.
const DrainWallet = ^uint64(0)

func (w *Wallet) Withdraw(ctx context.Context, address btcutil.Address, amountSat uint64, feeRate ln.FeeRate) (*wire.MsgTx, error) {
	if !w.Synced(ctx) {
		return nil, fmt.Errorf("bitcoind is still synchronizing the blockchain")
	}
	script, err := txscript.PayToAddrScript(address)
	if err != nil {
		return nil, err
	}
	if amountSat == DrainWallet {
		bal, err := w.Balance(ctx)
		if err != nil {
			return nil, err
		}
		amountSat = bal.ConfirmedSat
	}
	return w.FundTx(ctx, script, amountSat, feeRate)
}
