package coordinator

import (
	"encoding/hex"
	"sort"
	"time"

	"github.com/opacey/elements-federation/internal/inflation"
	"github.com/opacey/elements-federation/internal/redeemscript"
)

// pollInterval is how often an in-progress round re-checks the messenger
// for newly arrived signatures or a candidate block.
const pollInterval = 100 * time.Millisecond

func hexDecodeSig(s string) ([]byte, error) {
	return hex.DecodeString(s)
}

// runProposerRound executes the ROUND(H) state when this node is the
// proposer at height+1 (spec.md §4.1's proposer branch): build a
// candidate, broadcast it, self-sign, collect a quorum of verified
// partial signatures, combine, and submit. The returned error, if any, is
// classified by the caller (runLoop) via errkind to decide whether the
// fault is round-local or process-fatal (spec.md §7).
func (c *Coordinator) runProposerRound(height int64) error {
	nextHeight := height + 1
	c.logger.Printf("ROUND(%d): proposing", nextHeight)

	if err := c.unlockWallet(); err != nil {
		c.logger.Printf("ROUND(%d): %v", nextHeight, err)
		return err
	}

	blockHex, err := c.rpc.GetNewBlockHex(c.ctx)
	if err != nil {
		c.logger.Printf("ROUND(%d): failed to fetch block template: %v", nextHeight, err)
		return err
	}

	if c.cfg.Inflation.Enabled() && c.tryInflation(nextHeight) {
		// The reissuance transaction is now in the daemon's mempool; request
		// a fresh template so the broadcast candidate actually includes it
		// (spec.md §4.5.2.b).
		refreshed, err := c.rpc.GetNewBlockHex(c.ctx)
		if err != nil {
			c.logger.Printf("ROUND(%d): failed to refetch block template after inflation: %v", nextHeight, err)
			return err
		}
		blockHex = refreshed
	}

	if err := c.msgr.ProduceBlock(height, blockHex); err != nil {
		c.logger.Printf("ROUND(%d): failed to broadcast candidate block: %v", nextHeight, err)
		return err
	}

	parsed, err := redeemscript.Parse(c.cfg.RedeemScript)
	if err != nil {
		c.logger.Printf("ROUND(%d): failed to parse redeem script: %v", nextHeight, err)
		return err
	}
	if parsed.M != c.cfg.M {
		c.logger.Printf("ROUND(%d): %v", nextHeight, redeemscript.ErrThresholdMismatch)
	}

	hash, err := blockHash(blockHex)
	if err != nil {
		c.logger.Printf("ROUND(%d): %v", nextHeight, err)
		return err
	}

	selfSig, err := c.localSign(blockHex)
	if err != nil {
		c.logger.Printf("ROUND(%d): self-signing failed: %v", nextHeight, err)
		return err
	}

	sigs := map[int]string{c.cfg.SelfIndex: selfSig}
	deadline := c.roundDeadline()

	for len(sigs) < c.cfg.M {
		if time.Now().After(deadline) {
			c.logger.Printf("ROUND(%d): %v (have %d of %d)", nextHeight, ErrQuorumNotReached, len(sigs), c.cfg.M)
			c.msgr.Reconnect()
			return nil
		}
		select {
		case <-c.ctx.Done():
			return nil
		default:
		}

		for _, raw := range c.msgr.ConsumeSigs(height) {
			sigBytes, err := hexDecodeSig(raw)
			if err != nil {
				c.logger.Printf("ROUND(%d): discarding malformed signature: %v", nextHeight, err)
				continue
			}
			idx, ok := matchSignerIndex(parsed, sigBytes, hash)
			if !ok {
				c.logger.Printf("ROUND(%d): discarding signature that does not verify against any federation key", nextHeight)
				continue
			}
			if _, have := sigs[idx]; !have {
				sigs[idx] = raw
			}
		}
		if len(sigs) < c.cfg.M {
			c.sleepOrDone(pollInterval)
		}
	}

	ordered := orderSigs(sigs)
	if len(ordered) > c.cfg.M {
		ordered = ordered[:c.cfg.M]
	}
	combined, err := c.rpc.CombineBlockSigs(c.ctx, blockHex, ordered, c.cfg.RedeemScript)
	if err != nil {
		c.logger.Printf("ROUND(%d): failed to combine signatures: %v", nextHeight, err)
		return err
	}
	if err := c.rpc.SubmitBlock(c.ctx, combined); err != nil {
		c.logger.Printf("ROUND(%d): failed to submit block: %v", nextHeight, err)
		return err
	}
	c.logger.Printf("ROUND(%d): submitted with %d signatures", nextHeight, len(ordered))
	return nil
}

// tryInflation builds and broadcasts the scheduled reissuance transaction
// for this height, reporting whether it landed in the daemon's mempool. Per
// spec.md §4.3, any failure is logged and the round proceeds without the
// inflation output rather than aborting the block.
func (c *Coordinator) tryInflation(height int64) bool {
	supply, err := c.supply(c.ctx)
	if err != nil {
		c.logger.Printf("ROUND(%d): inflation: failed to read supply: %v", height, err)
		return false
	}
	txHex, err := inflation.BuildReissuanceTx(c.ctx, height, inflation.NewAmountFromWhole(supply), *c.cfg.Inflation, c.rpc)
	if err != nil {
		c.logger.Printf("ROUND(%d): inflation: %v (proceeding without reissuance output)", height, err)
		return false
	}
	if txHex == "" {
		return false
	}
	txid, err := c.rpc.SendRawTransaction(c.ctx, txHex)
	if err != nil {
		c.logger.Printf("ROUND(%d): inflation: failed to broadcast reissuance tx: %v", height, err)
		return false
	}
	c.logger.Printf("ROUND(%d): inflation: broadcast reissuance tx %s", height, txid)
	return true
}

// orderSigs returns the collected signatures sorted by ascending signer
// index, the order CombineBlockSigs requires (spec.md invariant 3).
func orderSigs(sigs map[int]string) []string {
	indices := make([]int, 0, len(sigs))
	for idx := range sigs {
		indices = append(indices, idx)
	}
	sort.Ints(indices)

	ordered := make([]string, 0, len(indices))
	for _, idx := range indices {
		ordered = append(ordered, sigs[idx])
	}
	return ordered
}
