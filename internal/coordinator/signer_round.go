package coordinator

import "time"

// runSignerRound executes the ROUND(H) state when another node is the
// proposer at height+1 (spec.md §4.1's signer branch): wait for the
// candidate, validate it against the daemon, sign, and broadcast the
// partial signature. The returned error, if any, is classified by the
// caller (runLoop) via errkind to decide whether the fault is round-local
// or process-fatal (spec.md §7).
func (c *Coordinator) runSignerRound(height int64) error {
	nextHeight := height + 1
	deadline := c.signerDeadline()

	var blockHex string
	for {
		if time.Now().After(deadline) {
			c.logger.Printf("ROUND(%d): %v", nextHeight, ErrNoCandidateBlock)
			c.msgr.Reconnect()
			return nil
		}
		select {
		case <-c.ctx.Done():
			return nil
		default:
		}

		if candidate, ok := c.msgr.ConsumeBlock(height); ok {
			blockHex = candidate
			break
		}
		c.sleepOrDone(pollInterval)
	}

	if err := c.rpc.TestProposedBlock(c.ctx, blockHex); err != nil {
		c.logger.Printf("ROUND(%d): candidate block failed validation: %v", nextHeight, err)
		return err
	}

	if err := c.unlockWallet(); err != nil {
		c.logger.Printf("ROUND(%d): %v", nextHeight, err)
		return err
	}

	sig, err := c.localSign(blockHex)
	if err != nil {
		c.logger.Printf("ROUND(%d): signing failed: %v", nextHeight, err)
		return err
	}

	if err := c.msgr.ProduceSig(height, sig); err != nil {
		c.logger.Printf("ROUND(%d): failed to broadcast signature: %v", nextHeight, err)
		return err
	}
	c.logger.Printf("ROUND(%d): signed and broadcast", nextHeight)
	return nil
}
