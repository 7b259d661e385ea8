// Package coordinator implements the per-height signing round state
// machine (spec.md §3): IDLE -> WAIT_TIP -> ROUND(H) -> SLEEP_UNTIL_NEXT
// -> IDLE, branching into a proposer path and a signer path depending on
// which node is due at the next height. Its Start/Stop lifecycle follows
// the teacher's ConsensusEngine shape (atomic running flag, context
// cancellation, a single background goroutine, WaitGroup drain).
package coordinator

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opacey/elements-federation/internal/errkind"
	"github.com/opacey/elements-federation/internal/federation"
	"github.com/opacey/elements-federation/internal/messenger"
	"github.com/opacey/elements-federation/internal/redeemscript"
	"github.com/opacey/elements-federation/internal/rpcclient"
	"github.com/opacey/elements-federation/internal/signer"
)

// maxConsecutiveTransportFaults bounds how many consecutive rpc_transport
// failures runLoop tolerates before treating the condition as fatal,
// per spec.md §7: "if persistent for > 5 round intervals, fatal."
const maxConsecutiveTransportFaults = 5

var (
	ErrAlreadyRunning   = errors.New("coordinator: already running")
	ErrNotRunning       = errors.New("coordinator: not running")
	ErrQuorumNotReached = errors.New("coordinator: quorum not reached before round deadline")
	ErrNoCandidateBlock = errors.New("coordinator: no candidate block received before round deadline")
)

// supplySource reports the current asset supply, used to compute the
// inflation amount each round. In production this is backed by the chain
// daemon; tests supply a fixed value.
type supplySource func(ctx context.Context) (int64, error)

// Coordinator runs the signing round loop for one federation node.
type Coordinator struct {
	cfg    *federation.Config
	rpc    *rpcclient.Client
	hsm    signer.Signer // nil on the software-signing path
	msgr   messenger.Messenger
	supply supplySource

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	isRunning atomic.Bool
	startOnce sync.Once
	stopOnce  sync.Once

	// done is closed when runLoop returns, whether from an orderly Stop or
	// a fatal fault; fatalErr is only meaningful once done is closed, and
	// is only ever written by the runLoop goroutine before it closes done.
	done                       chan struct{}
	fatalErr                   error
	consecutiveTransportFaults int

	logger *log.Logger
}

// New constructs a Coordinator. hsm may be nil, in which case signing goes
// through rpc.SignBlock instead (spec.md §4.2's software path).
func New(cfg *federation.Config, rpc *rpcclient.Client, hsm signer.Signer, msgr messenger.Messenger) *Coordinator {
	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		cfg:    cfg,
		rpc:    rpc,
		hsm:    hsm,
		msgr:   msgr,
		supply: defaultSupplySource(rpc),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
		logger: log.New(os.Stdout, "COORDINATOR: ", log.Ldate|log.Ltime|log.Lshortfile),
	}
}

// Done returns a channel that is closed when the round loop exits, whether
// from an orderly Stop or a fatal fault (spec.md §4.6: "If the coordinator
// exits on its own (unhandled fault), the supervisor surfaces a fatal
// error.").
func (c *Coordinator) Done() <-chan struct{} {
	return c.done
}

// FatalErr returns the fault that caused the round loop to exit on its
// own. It is only meaningful after Done() has been closed, and is nil if
// the loop is still running or exited via an orderly Stop.
func (c *Coordinator) FatalErr() error {
	return c.fatalErr
}

func defaultSupplySource(rpc *rpcclient.Client) supplySource {
	return func(ctx context.Context) (int64, error) {
		return rpc.GetBlockCount(ctx)
	}
}

// Start launches the round loop in a background goroutine.
func (c *Coordinator) Start() error {
	var err error
	c.startOnce.Do(func() {
		if c.isRunning.Load() {
			err = ErrAlreadyRunning
			return
		}
		c.isRunning.Store(true)
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.runLoop()
		}()
		c.logger.Println("coordinator started")
	})
	return err
}

// Stop cancels the round loop and waits for it to exit.
func (c *Coordinator) Stop() error {
	var err error
	c.stopOnce.Do(func() {
		if !c.isRunning.Load() {
			err = ErrNotRunning
			return
		}
		c.cancel()
		c.wg.Wait()
		c.isRunning.Store(false)
		c.logger.Println("coordinator stopped")
	})
	return err
}

// runLoop is the IDLE -> WAIT_TIP -> ROUND(H) -> SLEEP_UNTIL_NEXT cycle.
func (c *Coordinator) runLoop() {
	defer close(c.done)

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		height, err := c.rpc.GetBlockCount(c.ctx)
		if err != nil {
			c.logger.Printf("WAIT_TIP: failed to fetch chain height: %v", err)
			if c.handleRoundFault(err) {
				return
			}
			if !c.sleepOrDone(c.cfg.BlockInterval) {
				return
			}
			continue
		}

		roundStart := time.Now()
		var roundErr error
		if c.cfg.IsProposer(height + 1) {
			roundErr = c.runProposerRound(height)
		} else {
			roundErr = c.runSignerRound(height)
		}
		if c.handleRoundFault(roundErr) {
			return
		}

		elapsed := time.Since(roundStart)
		remaining := c.cfg.BlockInterval - elapsed
		if remaining > 0 {
			if !c.sleepOrDone(remaining) {
				return
			}
		}
	}
}

// handleRoundFault classifies a round's error (spec.md §7's propagation
// policy) and reports whether it is process-fatal. A signer_fault is
// fatal immediately (the HSM path has already retried once by the time
// it surfaces here). An rpc_transport fault is tolerated for up to
// maxConsecutiveTransportFaults consecutive rounds before becoming fatal;
// any other outcome, including success, resets that count, since only
// persistent transport failure escalates.
func (c *Coordinator) handleRoundFault(err error) bool {
	if err == nil {
		c.consecutiveTransportFaults = 0
		return false
	}

	switch errkind.Classify(err) {
	case errkind.SignerFault:
		c.logger.Printf("signer fault, exiting: %v", err)
		c.fatalErr = fmt.Errorf("signer_fault: %w", err)
		return true
	case errkind.RPCTransport:
		c.consecutiveTransportFaults++
		c.logger.Printf("rpc_transport fault (%d consecutive): %v", c.consecutiveTransportFaults, err)
		if c.consecutiveTransportFaults > maxConsecutiveTransportFaults {
			c.fatalErr = fmt.Errorf("rpc_transport persisted for %d round intervals: %w", c.consecutiveTransportFaults, err)
			return true
		}
		return false
	default:
		c.consecutiveTransportFaults = 0
		return false
	}
}

func (c *Coordinator) sleepOrDone(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-c.ctx.Done():
		return false
	}
}

func (c *Coordinator) roundDeadline() time.Time {
	return time.Now().Add(c.cfg.BlockInterval)
}

// signerDeadline is the shorter deadline a signer waits for a candidate
// block under, per spec.md §4.5.3.a: "a shorter signer deadline (T_b / 2)".
func (c *Coordinator) signerDeadline() time.Time {
	return time.Now().Add(c.cfg.BlockInterval / 2)
}

// unlockWallet is a no-op for an empty passphrase (rpcclient.WalletPassphrase
// handles that), covering the wallet-unlock step every signing operation
// requires (spec.md §4.1). Failure to unlock is round-fatal (spec.md §4.5):
// callers must abort the round rather than proceed to sign.
func (c *Coordinator) unlockWallet() error {
	seconds := int(c.cfg.WalletUnlockDuration().Seconds())
	if err := c.rpc.WalletPassphrase(c.ctx, c.cfg.WalletPassphrase, seconds); err != nil {
		return fmt.Errorf("wallet unlock failed: %w", err)
	}
	return nil
}

// blockHash derives the digest partial signatures are produced and
// verified over. The daemon's own block hash algorithm is out of scope
// for this client; sha256 over the decoded block bytes is a stand-in that
// keeps every node in the federation hashing identically.
func blockHash(blockHex string) ([]byte, error) {
	raw, err := hex.DecodeString(blockHex)
	if err != nil {
		return nil, fmt.Errorf("coordinator: decode block hex: %w", err)
	}
	sum := sha256.Sum256(raw)
	return sum[:], nil
}

// localSign produces this node's own partial signature, branching on
// whether an HSM signer is configured (spec.md §4.2).
func (c *Coordinator) localSign(blockHex string) (string, error) {
	if c.hsm != nil {
		hash, err := blockHash(blockHex)
		if err != nil {
			return "", err
		}
		sig, err := c.hsm.Sign(hash)
		if err != nil {
			return "", err
		}
		return hex.EncodeToString(sig), nil
	}
	return c.rpc.SignBlock(c.ctx, blockHex)
}

// matchSignerIndex finds which redeem-script position produced sig by
// trying every public key in order, per spec.md's invariant that a
// partial signature is accepted only if it verifies under the redeem
// script's position-i public key. Sig messages carry no signer index, so
// this brute-force match both authenticates and identifies the signer.
func matchSignerIndex(parsed *redeemscript.Parsed, sigBytes, hash []byte) (int, bool) {
	for i := 0; i < parsed.N; i++ {
		pub, err := parsed.PubKeyAt(i)
		if err != nil {
			continue
		}
		if signer.VerifyPartialSig(pub, sigBytes, hash) == nil {
			return i, true
		}
	}
	return 0, false
}
