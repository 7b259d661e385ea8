// Package federation holds the immutable configuration of a block-signing
// federation: node count, threshold, peer endpoints, and the optional
// inflation policy. Nothing in this package touches the network or the
// chain daemon; it is pure data plus the validation rules spec.md §3
// requires before a coordinator may start.
package federation

import (
	"errors"
	"fmt"
	"time"
)

// Errors returned by NewConfig. All are construction-time faults; none
// of them are meaningful to recover from, so the caller (cmd/federationd)
// treats any of these as fatal before the coordinator is ever started.
var (
	ErrInvalidN          = errors.New("federation: n must be at least 1")
	ErrInvalidM          = errors.New("federation: m must be between 1 and n")
	ErrInvalidSelfIndex  = errors.New("federation: self index out of range")
	ErrInvalidPeerCount  = errors.New("federation: peer list length must equal n")
	ErrEmptyRedeemScript = errors.New("federation: redeem script must not be empty")
	ErrInvalidBlockTime  = errors.New("federation: block interval must be positive")
)

// PeerEndpoint is one federation member's messenger address.
type PeerEndpoint struct {
	Host string
	Port int
}

func (p PeerEndpoint) String() string {
	return fmt.Sprintf("%s:%d", p.Host, p.Port)
}

// InflationConfig is the optional scheduled-reissuance policy (spec.md §4.3).
// A zero-value InflationConfig (Rate == 0 or Period == 0) disables inflation.
type InflationConfig struct {
	Rate               float64 // r in [0, 1)
	Period             int64   // P, in blocks
	Address            string  // destination address A
	ReissuanceScript   string  // S_r
	ReissuancePrivKey  string  // K_r
}

// Enabled reports whether the inflation policy can ever fire, per spec.md
// §4.3: "If r == 0 or P == 0: no inflation, ever."
func (c *InflationConfig) Enabled() bool {
	return c != nil && c.Rate > 0 && c.Period > 0
}

// Config is the federation's immutable configuration, constructed once at
// process startup (spec.md §3 "Lifecycle").
type Config struct {
	N                int
	M                int
	SelfIndex        int
	Peers            []PeerEndpoint
	BlockInterval    time.Duration
	RedeemScript     string
	Inflation        *InflationConfig
	WalletPassphrase string

	RPCHost     string
	RPCPort     int
	RPCUser     string
	RPCPassword string
}

// NewConfig validates and returns a Config. It is the single place the
// invariants of spec.md §3 ("Exactly one node per height is proposer",
// boundary case "n=1, m=1") are enforced before a coordinator can run.
func NewConfig(
	n, m, selfIndex int,
	peers []PeerEndpoint,
	blockInterval time.Duration,
	redeemScript string,
	inflation *InflationConfig,
	walletPassphrase string,
	rpcHost string, rpcPort int, rpcUser, rpcPassword string,
) (*Config, error) {
	if n < 1 {
		return nil, ErrInvalidN
	}
	if m < 1 || m > n {
		return nil, ErrInvalidM
	}
	if selfIndex < 0 || selfIndex >= n {
		return nil, ErrInvalidSelfIndex
	}
	// An empty peer list is only legal in the degenerate single-node
	// federation (spec.md §8 boundary case); otherwise every node must
	// have a named endpoint, mirroring federation.py's `nodes = ['']*n`
	// placeholder-list behavior for the legacy messenger.
	if len(peers) != 0 && len(peers) != n {
		return nil, ErrInvalidPeerCount
	}
	if redeemScript == "" {
		return nil, ErrEmptyRedeemScript
	}
	if blockInterval <= 0 {
		return nil, ErrInvalidBlockTime
	}

	peersCopy := make([]PeerEndpoint, len(peers))
	copy(peersCopy, peers)

	return &Config{
		N:                n,
		M:                m,
		SelfIndex:        selfIndex,
		Peers:            peersCopy,
		BlockInterval:    blockInterval,
		RedeemScript:     redeemScript,
		Inflation:        inflation,
		WalletPassphrase: walletPassphrase,
		RPCHost:          rpcHost,
		RPCPort:          rpcPort,
		RPCUser:          rpcUser,
		RPCPassword:      rpcPassword,
	}, nil
}

// ProposerForHeight returns the node index responsible for proposing the
// block at height h, per spec.md §3: "role: derived as height mod n == i".
func (c *Config) ProposerForHeight(height int64) int {
	return int(height % int64(c.N))
}

// IsProposer reports whether this node is the proposer at height h.
func (c *Config) IsProposer(height int64) bool {
	return c.ProposerForHeight(height) == c.SelfIndex
}

// WalletUnlockDuration resolves the Open Question of spec.md §9: the
// unlock must cover at least one full round, so it is the larger of 60s
// and twice the block interval.
func (c *Config) WalletUnlockDuration() time.Duration {
	const minUnlock = 60 * time.Second
	if d := 2 * c.BlockInterval; d > minUnlock {
		return d
	}
	return minUnlock
}
