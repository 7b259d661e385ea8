// Package signer implements the two block-signing paths of spec.md §4.2:
// a software path (the daemon itself signs, via rpcclient.SignBlock, and
// no Signer value is ever constructed) and a hardware path (a PKCS#11
// session wrapping a physical or virtual HSM).
package signer

import "errors"

// Signer is the capability set a hardware signer exposes. The software
// path has no Signer implementation at all: the coordinator holds a nil
// Signer and calls rpcclient.Client.SignBlock directly instead, exactly
// as spec.md §4.2 describes ("the signer object is then null and the
// coordinator branches accordingly").
type Signer interface {
	// GetPubKey returns the signer's public key bytes, cached at
	// construction time.
	GetPubKey() []byte
	// Sign returns a DER-encoded ECDSA signature over the block hash.
	Sign(blockHash []byte) ([]byte, error)
	// Close releases the underlying session. Safe to call multiple times.
	Close() error
}

// ErrNotConfigured is returned by constructors when required parameters
// are missing.
var ErrNotConfigured = errors.New("signer: not configured")
