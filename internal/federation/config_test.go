package federation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPeers(n int) []PeerEndpoint {
	peers := make([]PeerEndpoint, n)
	for i := range peers {
		peers[i] = PeerEndpoint{Host: "node", Port: 1500 + i}
	}
	return peers
}

func TestNewConfig_ValidatesThresholds(t *testing.T) {
	_, err := NewConfig(3, 4, 0, testPeers(3), time.Second, "script", nil, "", "h", 1, "u", "p")
	assert.ErrorIs(t, err, ErrInvalidM)

	_, err = NewConfig(3, 2, 5, testPeers(3), time.Second, "script", nil, "", "h", 1, "u", "p")
	assert.ErrorIs(t, err, ErrInvalidSelfIndex)

	_, err = NewConfig(3, 2, 0, testPeers(2), time.Second, "script", nil, "", "h", 1, "u", "p")
	assert.ErrorIs(t, err, ErrInvalidPeerCount)

	_, err = NewConfig(3, 2, 0, testPeers(3), time.Second, "", nil, "", "h", 1, "u", "p")
	assert.ErrorIs(t, err, ErrEmptyRedeemScript)
}

// TestProposerForHeight_UniqueAcrossFederation verifies property 1 of
// spec.md §8: for all heights H, exactly one node index satisfies
// H mod n == i.
func TestProposerForHeight_UniqueAcrossFederation(t *testing.T) {
	const n = 9
	cfg, err := NewConfig(n, 6, 0, testPeers(n), time.Second, "script", nil, "", "h", 1, "u", "p")
	require.NoError(t, err)

	for h := int64(0); h < 1000; h++ {
		proposerCount := 0
		for i := 0; i < n; i++ {
			cfg.SelfIndex = i
			if cfg.IsProposer(h) {
				proposerCount++
			}
		}
		require.Equal(t, 1, proposerCount, "height %d must have exactly one proposer", h)
	}
}

// TestNewConfig_SingleNodeFederation covers the n=1, m=1 boundary case of
// spec.md §8: a single-node federation with an empty peer list.
func TestNewConfig_SingleNodeFederation(t *testing.T) {
	cfg, err := NewConfig(1, 1, 0, nil, time.Second, "script", nil, "", "h", 1, "u", "p")
	require.NoError(t, err)
	assert.True(t, cfg.IsProposer(0))
	assert.True(t, cfg.IsProposer(1))
	assert.True(t, cfg.IsProposer(2))
}

func TestWalletUnlockDuration(t *testing.T) {
	cfg, err := NewConfig(3, 2, 0, testPeers(3), 10*time.Second, "script", nil, "", "h", 1, "u", "p")
	require.NoError(t, err)
	assert.Equal(t, 60*time.Second, cfg.WalletUnlockDuration())

	cfg, err = NewConfig(3, 2, 0, testPeers(3), 45*time.Second, "script", nil, "", "h", 1, "u", "p")
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, cfg.WalletUnlockDuration())
}

func TestInflationConfig_Enabled(t *testing.T) {
	var nilCfg *InflationConfig
	assert.False(t, nilCfg.Enabled())

	assert.False(t, (&InflationConfig{Rate: 0, Period: 10}).Enabled())
	assert.False(t, (&InflationConfig{Rate: 0.01, Period: 0}).Enabled())
	assert.True(t, (&InflationConfig{Rate: 0.01, Period: 10}).Enabled())
}
