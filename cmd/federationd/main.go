// Command federationd runs one node of a block-signing federation: it
// proposes or countersigns sidechain blocks in round-robin order and,
// optionally, mints scheduled reissuance transactions (spec.md §§3-4).
package main

import (
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/opacey/elements-federation/internal/coordinator"
	"github.com/opacey/elements-federation/internal/federation"
	"github.com/opacey/elements-federation/internal/messenger"
	"github.com/opacey/elements-federation/internal/rpcclient"
	"github.com/opacey/elements-federation/internal/signer"
	"github.com/opacey/elements-federation/internal/supervisor"
)

// flags mirrors federation.py's argparse surface (spec.md §6), with
// msgtype dropped: this daemon has exactly one transport implementation,
// where the original shipped both a ZMQ and a "log bus" test variant.
type flags struct {
	rpcConnect        string
	rpcPort           int
	rpcUser           string
	rpcPassword       string
	id                int
	nodes             []string
	walletPass        string
	nNodes            int
	nSigs             int
	blockTime         int
	redeemScript      string
	inflationRate     float64
	inflationPeriod   int64
	inflationAddr     string
	reissuanceScript  string
	reissuancePrivKey string
	hsm               string
	hsmSlot           uint
	hsmPin            string
}

func main() {
	f := &flags{}

	root := &cobra.Command{
		Use:   "federationd",
		Short: "Run one node of a sidechain block-signing federation.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(f)
		},
	}

	pf := root.Flags()
	pf.StringVar(&f.rpcConnect, "rpcconnect", "127.0.0.1", "chain daemon RPC host")
	pf.IntVar(&f.rpcPort, "rpcport", 7041, "chain daemon RPC port")
	pf.StringVar(&f.rpcUser, "rpcuser", "", "chain daemon RPC username")
	pf.StringVar(&f.rpcPassword, "rpcpassword", "", "chain daemon RPC password")
	pf.IntVar(&f.id, "id", 0, "this node's federation index")
	pf.StringSliceVar(&f.nodes, "nodes", nil, "peer messenger endpoints, host:port, in federation order")
	pf.StringVar(&f.walletPass, "walletpassphrase", "", "wallet passphrase, if the wallet is encrypted")
	pf.IntVar(&f.nNodes, "nnodes", 9, "total number of federation nodes (n)")
	pf.IntVar(&f.nSigs, "nsigs", 6, "signature threshold (m)")
	pf.IntVar(&f.blockTime, "blocktime", 60, "seconds between signing rounds")
	pf.StringVar(&f.redeemScript, "redeemscript", "", "hex-encoded m-of-n block-signing redeem script")
	pf.Float64Var(&f.inflationRate, "inflationrate", 0, "per-period reissuance rate (0 disables inflation)")
	pf.Int64Var(&f.inflationPeriod, "inflationperiod", 0, "reissuance period in blocks (0 disables inflation)")
	pf.StringVar(&f.inflationAddr, "inflationaddress", "", "reissuance destination address")
	pf.StringVar(&f.reissuanceScript, "reissuancescript", "", "reissuance token script")
	pf.StringVar(&f.reissuancePrivKey, "reissuanceprivkey", "", "reissuance token signing key")
	pf.StringVar(&f.hsm, "hsm", "", "path to a PKCS#11 module; enables hardware signing")
	pf.UintVar(&f.hsmSlot, "hsmslot", 0, "PKCS#11 slot ID")
	pf.StringVar(&f.hsmPin, "hsmpin", "", "PKCS#11 user PIN")
	for _, name := range []string{"rpcconnect", "rpcport", "rpcuser", "rpcpassword", "id", "redeemscript"} {
		if err := root.MarkFlagRequired(name); err != nil {
			log.Fatalf("federationd: %v", err)
		}
	}

	if err := root.Execute(); err != nil {
		log.Fatalf("federationd: %v", err)
	}
}

func run(f *flags) error {
	peers, err := parsePeers(f.nodes)
	if err != nil {
		return supervisor.FatalError("nodes", err)
	}

	var inflationCfg *federation.InflationConfig
	if f.inflationRate > 0 && f.inflationPeriod > 0 {
		inflationCfg = &federation.InflationConfig{
			Rate:              f.inflationRate,
			Period:            f.inflationPeriod,
			Address:           f.inflationAddr,
			ReissuanceScript:  f.reissuanceScript,
			ReissuancePrivKey: f.reissuancePrivKey,
		}
	}

	cfg, err := federation.NewConfig(
		f.nNodes, f.nSigs, f.id, peers,
		time.Duration(f.blockTime)*time.Second,
		f.redeemScript, inflationCfg, f.walletPass,
		f.rpcConnect, f.rpcPort, f.rpcUser, f.rpcPassword,
	)
	if err != nil {
		return supervisor.FatalError("config", err)
	}

	rpc := rpcclient.New(cfg.RPCHost, cfg.RPCPort, cfg.RPCUser, cfg.RPCPassword, 30*time.Second)

	var hw signer.Signer
	if f.hsm != "" {
		keyLabel := os.Getenv("KEY_LABEL")
		hw, err = signer.NewHSMSigner(f.hsm, f.hsmSlot, f.hsmPin, keyLabel)
		if err != nil {
			return supervisor.FatalError("hsm", err)
		}
		defer hw.Close()
	}

	var msgr messenger.Messenger
	switch {
	case len(peers) == 0 && cfg.N == 1:
		msgr = messenger.NewNoop()
	case len(peers) != cfg.N:
		return supervisor.FatalError("nodes", fmt.Errorf("expected %d peer endpoints, got %d", cfg.N, len(peers)))
	default:
		pubsub, err := messenger.New(peers, f.id)
		if err != nil {
			return supervisor.FatalError("messenger", err)
		}
		msgr = pubsub
	}

	coord := coordinator.New(cfg, rpc, hw, msgr)
	sup := supervisor.New(coord, msgr)

	code := sup.Run()
	// os.Exit skips deferred calls, so the HSM session is closed here.
	if hw != nil {
		hw.Close()
	}
	os.Exit(int(code))
	return nil
}

// parsePeers parses "host:port" endpoint strings in federation order,
// matching federation.py's nodes list (node.split(':', 1)).
func parsePeers(nodes []string) ([]federation.PeerEndpoint, error) {
	peers := make([]federation.PeerEndpoint, 0, len(nodes))
	for _, n := range nodes {
		n = strings.TrimSpace(n)
		if n == "" {
			continue
		}
		host, port, err := messenger.ParseAddr(n)
		if err != nil {
			return nil, err
		}
		peers = append(peers, federation.PeerEndpoint{Host: host, Port: port})
	}
	return peers, nil
}
