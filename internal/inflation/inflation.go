// Package inflation implements the optional scheduled-reissuance policy of
// spec.md §4.3: a pure schedule predicate plus a reissuance-transaction
// builder that rides on top of internal/rpcclient.
package inflation

import (
	"context"
	"fmt"
	"log"
	"math/big"

	"github.com/opacey/elements-federation/internal/federation"
	"github.com/opacey/elements-federation/internal/rpcclient"
)

var logger = log.New(log.Writer(), "INFLATION: ", log.Ldate|log.Ltime|log.Lshortfile)

// Fires reports whether the inflation policy should mint a reissuance
// output at height h, per spec.md §4.3:
//
//	"If r == 0 or P == 0: no inflation, ever."
//	"At height H, if H > 0 and H mod P == 0: build a reissuance tx."
//
// Fires is a pure function of its arguments: spec invariant 4 requires
// identical (height, cfg) pairs to always agree across every node in the
// federation, independent of wall-clock time or call order.
func Fires(height int64, cfg federation.InflationConfig) bool {
	if !cfg.Enabled() {
		return false
	}
	if height <= 0 {
		return false
	}
	return height%cfg.Period == 0
}

// rateToRat converts cfg.Rate into an exact rational, per spec.md §9's
// strengthening note. float64 values round-trip exactly through
// big.Rat.SetFloat64, so this preserves whatever bits the configured rate
// actually has rather than re-introducing binary rounding error later.
func rateToRat(rate float64) *big.Rat {
	r := new(big.Rat)
	r.SetFloat64(rate)
	return r
}

// BuildReissuanceTx constructs, funds, signs, and returns the hex-encoded
// reissuance transaction minting rate*supply new units to cfg.Address, per
// spec.md §4.3. It does not broadcast the transaction; the caller
// (internal/coordinator) decides when to call rpcclient.SendRawTransaction,
// bundling it with the rest of the round.
//
// Per spec.md §4.3 ("Errors in building the reissuance transaction are
// logged and the round proceeds WITHOUT the inflation output"), callers
// are expected to log a non-nil error and continue the round rather than
// treat it as fatal.
func BuildReissuanceTx(ctx context.Context, height int64, supply Amount, cfg federation.InflationConfig, rpc *rpcclient.Client) (string, error) {
	if !Fires(height, cfg) {
		return "", nil
	}

	amount := supply.MulRate(rateToRat(cfg.Rate))
	if amount.IsZero() {
		return "", nil
	}

	// listunspent's address filter doesn't apply here: the funding input is
	// whichever UTXO carries the reissuance token script S_r, not one
	// controlled by the destination address A (spec.md §4.3). List broadly
	// and match on scriptPubKey ourselves.
	unspent, err := rpc.ListUnspent(ctx, 1, []string{})
	if err != nil {
		return "", fmt.Errorf("inflation: list unspent: %w", err)
	}
	token, ok := findReissuanceUTXO(unspent, cfg.ReissuanceScript)
	if !ok {
		return "", fmt.Errorf("inflation: no UTXO carrying reissuance script %s", cfg.ReissuanceScript)
	}

	inputs := []map[string]interface{}{
		{"txid": token.TxID, "vout": token.Vout},
	}
	// amount.String() is the exact fixed-point decimal; passing Float64()
	// here would reintroduce the binary rounding error spec.md §9 forbids.
	outputs := map[string]interface{}{
		cfg.Address: amount.String(),
	}

	rawHex, err := rpc.CreateRawTransaction(ctx, inputs, outputs)
	if err != nil {
		return "", fmt.Errorf("inflation: create raw transaction: %w", err)
	}

	fundedHex, err := rpc.FundRawTransaction(ctx, rawHex)
	if err != nil {
		return "", fmt.Errorf("inflation: fund raw transaction: %w", err)
	}

	signedHex, err := rpc.SignRawTransactionWithKey(ctx, fundedHex, []string{cfg.ReissuancePrivKey})
	if err != nil {
		return "", fmt.Errorf("inflation: sign raw transaction: %w", err)
	}

	logger.Printf("height %d: built reissuance tx minting %s to %s", height, amount, cfg.Address)
	return signedHex, nil
}

// findReissuanceUTXO returns the first unspent output whose scriptPubKey
// matches the reissuance token script S_r.
func findReissuanceUTXO(unspent []rpcclient.Unspent, reissuanceScript string) (rpcclient.Unspent, bool) {
	for _, u := range unspent {
		if u.ScriptPubKey == reissuanceScript {
			return u, true
		}
	}
	return rpcclient.Unspent{}, false
}
